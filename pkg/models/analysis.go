package models

import "time"

// Totals sums the raw fields of every accepted record.
type Totals struct {
	Impressions float64 `json:"total_impressions"`
	Clicks      float64 `json:"total_clicks"`
	Cost        float64 `json:"total_cost"`
	Sales       float64 `json:"total_sales"`
	Conversions float64 `json:"total_conversions"`
}

// MetricStats summarizes one derived metric over the records where it is defined.
type MetricStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Performer is one entry of a ranked list.
type Performer struct {
	RowIndex int     `json:"row_index"`
	Keyword  string  `json:"keyword"`
	Value    float64 `json:"value"`
}

// Trends counts records crossing fixed thresholds.
type Trends struct {
	HighCostKeywords       int `json:"high_cost_keywords"`
	LowCTRKeywords         int `json:"low_ctr_keywords"`
	HighACOSKeywords       int `json:"high_acos_keywords"`
	ZeroConversionKeywords int `json:"zero_conversion_keywords"`
}

// AnalysisResult is the aggregate view over all records of a job. It is replaced
// wholesale on re-computation.
type AnalysisResult struct {
	JobID            string                 `json:"job_id"`
	RowCount         int                    `json:"row_count"`
	DiscardedCount   int                    `json:"discarded_count"`
	DiscardReasons   map[string]int         `json:"discard_reasons,omitempty"`
	IgnoredColumns   []string               `json:"ignored_columns,omitempty"`
	Totals           Totals                 `json:"totals"`
	Averages         map[Metric]float64     `json:"averages"`
	Stats            map[Metric]MetricStats `json:"stats"`
	TopPerformers    map[Metric][]Performer `json:"top_performers"`
	BottomPerformers map[Metric][]Performer `json:"bottom_performers"`
	Trends           Trends                 `json:"trends"`
	CreatedAt        time.Time              `json:"created_at"`
}

// Trim returns a copy whose ranked lists hold at most n entries.
func (a *AnalysisResult) Trim(n int) *AnalysisResult {
	out := *a
	out.TopPerformers = trimRanks(a.TopPerformers, n)
	out.BottomPerformers = trimRanks(a.BottomPerformers, n)
	return &out
}

func trimRanks(in map[Metric][]Performer, n int) map[Metric][]Performer {
	out := make(map[Metric][]Performer, len(in))
	for m, list := range in {
		if len(list) > n {
			list = list[:n]
		}
		out[m] = append([]Performer(nil), list...)
	}
	return out
}
