package enrich

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kiranshivaraju/adlens/internal/ai"
	"github.com/kiranshivaraju/adlens/internal/telemetry"
	"github.com/kiranshivaraju/adlens/pkg/models"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// MaxInsights caps how many generated insights are kept.
const MaxInsights = 10

// FallbackInsightTitle and FallbackInsightMessage make up the single insight
// returned when generation fails.
const (
	FallbackInsightTitle   = "AI insights unavailable"
	FallbackInsightMessage = "AI-generated insights could not be produced for this dataset. The statistical analysis is complete and can be reviewed directly."
)

const insightInstructions = `You are an advertising performance analyst. Given aggregate keyword metrics,
patterns and anomalies for a sponsored-ads campaign, write concise observations.
Return JSON: {"insights":[{"title":"...","description":"...","category":"efficiency|growth|waste|risk","impact":"high|medium|low"}]}`

// InsightOutput is what the TaskCreator sees: the analysis plus the insights
// derived from it.
type InsightOutput struct {
	Analysis    *AnalyzerOutput  `json:"analysis"`
	Insights    []models.Insight `json:"insights"`
	AIGenerated bool             `json:"-"`
	Err         error            `json:"-"`
}

// InsightGenerator asks the generation capability for observations about an
// analysis. Failures produce a single fallback insight.
type InsightGenerator struct {
	gen    models.GenerationProvider
	logger *zap.Logger
}

func NewInsightGenerator(gen models.GenerationProvider, logger *zap.Logger) *InsightGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InsightGenerator{gen: gen, logger: logger}
}

func (g *InsightGenerator) Name() string { return StageInsights }

// Execute never returns an error.
func (g *InsightGenerator) Execute(ctx context.Context, in *AnalyzerOutput) (*InsightOutput, error) {
	insights, err := g.generate(ctx, in)
	if err != nil {
		g.logger.Warn("insight generation degraded", zap.String("job_id", jobID(in)), zap.Error(err))
		telemetry.IncGenerationCalls(StageInsights, telemetry.OutcomeDegraded)
		return &InsightOutput{
			Analysis: in,
			Insights: []models.Insight{{
				Title:       FallbackInsightTitle,
				Description: FallbackInsightMessage,
				Category:    "system",
			}},
			Err: err,
		}, nil
	}
	telemetry.IncGenerationCalls(StageInsights, telemetry.OutcomeSuccess)
	return &InsightOutput{Analysis: in, Insights: insights, AIGenerated: true}, nil
}

func (g *InsightGenerator) generate(ctx context.Context, in *AnalyzerOutput) ([]models.Insight, error) {
	if g.gen == nil {
		return nil, ai.ErrNotConfigured
	}
	input, err := json.Marshal(in)
	if err != nil {
		return nil, eris.Wrap(err, "encode analysis")
	}

	resp, err := g.gen.Generate(ctx, models.GenerateRequest{
		Purpose:      StageInsights,
		Instructions: insightInstructions,
		Input:        input,
	})
	if err != nil {
		return nil, err
	}
	return parseInsights(resp.Content)
}

func parseInsights(content string) ([]models.Insight, error) {
	doc, err := ai.ExtractJSON(content)
	if err != nil {
		return nil, err
	}
	arr, ok := ai.ExtractArray(doc, "insights", "items", "data")
	if !ok {
		return nil, eris.Wrap(ai.ErrInvalidResponse, "no insights array")
	}

	var out []models.Insight
	arr.ForEach(func(_, v gjson.Result) bool {
		var in models.Insight
		switch {
		case v.Type == gjson.String:
			in.Title = "Observation"
			in.Description = strings.TrimSpace(v.String())
		case v.IsObject():
			in.Title = strings.TrimSpace(v.Get("title").String())
			in.Description = strings.TrimSpace(firstString(v, "description", "insight", "text"))
			in.Category = strings.ToLower(strings.TrimSpace(v.Get("category").String()))
			in.Impact = normalizeLevel(v.Get("impact").String(), "")
		}
		if in.Description == "" {
			return true
		}
		if in.Title == "" {
			in.Title = ai.TruncateString(in.Description, 80)
		}
		out = append(out, in)
		return len(out) < MaxInsights
	})
	if len(out) == 0 {
		return nil, eris.Wrap(ai.ErrInvalidResponse, "insights array is empty")
	}
	return out, nil
}

func firstString(v gjson.Result, keys ...string) string {
	for _, k := range keys {
		if s := v.Get(k).String(); s != "" {
			return s
		}
	}
	return ""
}

func jobID(in *AnalyzerOutput) string {
	if in == nil {
		return ""
	}
	return in.JobID
}
