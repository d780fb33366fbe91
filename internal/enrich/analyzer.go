package enrich

import (
	"context"
	"math"
	"sort"

	"github.com/kiranshivaraju/adlens/internal/analysis"
	"github.com/kiranshivaraju/adlens/pkg/models"
)

const (
	// PatternShare is the fraction of rows a trend must cover to be reported.
	PatternShare = 0.25
	// AnomalyZScore flags ranked rows this many standard deviations from the mean.
	AnomalyZScore = 2.0
)

// Pattern names.
const (
	PatternHighCost       = "high_cost_concentration"
	PatternLowCTR         = "low_ctr_prevalence"
	PatternZeroConversion = "zero_conversion_prevalence"
	PatternHighACOS       = "high_acos_prevalence"
	PatternProfitable     = "profitable_overall"
)

// AnalyzerInput carries either a precomputed analysis or raw records.
type AnalyzerInput struct {
	Analysis *models.AnalysisResult
	Records  []models.Record
}

// AnalyzerOutput is the structured view handed to the generative stages.
type AnalyzerOutput struct {
	JobID            string                               `json:"job_id"`
	RowCount         int                                  `json:"row_count"`
	Totals           models.Totals                        `json:"totals"`
	Averages         map[models.Metric]float64            `json:"averages"`
	Patterns         []models.Pattern                     `json:"patterns"`
	Anomalies        []models.Anomaly                     `json:"anomalies"`
	TopPerformers    map[models.Metric][]models.Performer `json:"top_performers"`
	BottomPerformers map[models.Metric][]models.Performer `json:"bottom_performers"`
	Trends           models.Trends                        `json:"trends"`
}

// Analyzer derives patterns and anomalies from an analysis. It is deterministic
// and makes no external calls.
type Analyzer struct{}

func NewAnalyzer() *Analyzer { return &Analyzer{} }

func (a *Analyzer) Name() string { return StageAnalyzer }

func (a *Analyzer) Execute(_ context.Context, in AnalyzerInput) (*AnalyzerOutput, error) {
	res := in.Analysis
	if res == nil {
		if len(in.Records) == 0 {
			return nil, ErrNoData
		}
		res = analysis.Summarize(in.Records[0].JobID, in.Records, analysis.PersistedTopN)
	}

	summary := res.Trim(analysis.SummaryTopN)
	return &AnalyzerOutput{
		JobID:            res.JobID,
		RowCount:         res.RowCount,
		Totals:           res.Totals,
		Averages:         res.Averages,
		Patterns:         patterns(res),
		Anomalies:        anomalies(res),
		TopPerformers:    summary.TopPerformers,
		BottomPerformers: summary.BottomPerformers,
		Trends:           res.Trends,
	}, nil
}

func patterns(res *models.AnalysisResult) []models.Pattern {
	out := []models.Pattern{}
	if res.RowCount == 0 {
		return out
	}
	rows := float64(res.RowCount)

	add := func(name, desc string, count int) {
		share := float64(count) / rows
		if share >= PatternShare {
			out = append(out, models.Pattern{Name: name, Description: desc, Count: count, Share: share})
		}
	}
	add(PatternHighCost, "many keywords spend above the high-cost threshold", res.Trends.HighCostKeywords)
	add(PatternLowCTR, "many keywords have a click-through rate below 1%", res.Trends.LowCTRKeywords)
	add(PatternZeroConversion, "many keywords have no conversions", res.Trends.ZeroConversionKeywords)
	add(PatternHighACOS, "many keywords spend more than half of their sales on ads", res.Trends.HighACOSKeywords)

	if roas, ok := res.Averages[models.MetricROAS]; ok && roas > 1 {
		n := res.Stats[models.MetricROAS].Count
		out = append(out, models.Pattern{
			Name:        PatternProfitable,
			Description: "average return on ad spend is above break-even",
			Count:       n,
			Share:       float64(n) / rows,
		})
	}
	return out
}

// anomalies checks the ranked extremes of each metric against its distribution.
func anomalies(res *models.AnalysisResult) []models.Anomaly {
	out := []models.Anomaly{}
	type key struct {
		metric models.Metric
		row    int
	}
	seen := make(map[key]bool)

	for _, m := range models.Metrics {
		st, ok := res.Stats[m]
		if !ok || st.Count < 3 || st.StdDev == 0 {
			continue
		}
		candidates := append(append([]models.Performer(nil), res.TopPerformers[m]...), res.BottomPerformers[m]...)
		for _, p := range candidates {
			z := (p.Value - st.Mean) / st.StdDev
			if math.Abs(z) <= AnomalyZScore {
				continue
			}
			k := key{m, p.RowIndex}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, models.Anomaly{RowIndex: p.RowIndex, Keyword: p.Keyword, Metric: m, Value: p.Value, ZScore: z})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].ZScore) > math.Abs(out[j].ZScore)
	})
	return out
}
