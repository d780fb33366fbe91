package enrich

import (
	"context"
	"time"

	"github.com/kiranshivaraju/adlens/internal/telemetry"
	"github.com/kiranshivaraju/adlens/pkg/models"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Pipeline chains Analyzer, InsightGenerator and TaskCreator.
type Pipeline struct {
	analyzer Stage[AnalyzerInput, *AnalyzerOutput]
	insights Stage[*AnalyzerOutput, *InsightOutput]
	tasks    Stage[*InsightOutput, *TaskOutput]
	provider string
	initErr  error
	logger   *zap.Logger
}

// NewPipeline builds the standard pipeline around gen. initErr is the error
// from constructing the generation capability; when it is set, or gen is nil,
// Run skips the generative stages and reports the error on the result.
func NewPipeline(gen models.GenerationProvider, initErr error, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		analyzer: NewAnalyzer(),
		insights: NewInsightGenerator(gen, logger),
		tasks:    NewTaskCreator(gen, logger),
		initErr:  initErr,
		logger:   logger,
	}
	if gen != nil {
		p.provider = gen.Name()
	} else if initErr == nil {
		p.initErr = eris.New("generation capability not configured")
	}
	return p
}

// Run executes the stages in order. hook, when non-nil, is called after each
// stage with the stage name. Only an Analyzer failure or context cancellation
// returns an error.
func (p *Pipeline) Run(ctx context.Context, in AnalyzerInput, hook func(stage string)) (*models.EnrichmentResult, error) {
	notify := func(stage string) {
		if hook != nil {
			hook(stage)
		}
	}

	analyzed, err := p.analyzer.Execute(ctx, in)
	if err != nil {
		return nil, eris.Wrap(err, "analyzer stage")
	}
	notify(p.analyzer.Name())

	res := &models.EnrichmentResult{
		JobID:     analyzed.JobID,
		Patterns:  analyzed.Patterns,
		Anomalies: analyzed.Anomalies,
		Insights:  []models.Insight{},
		Tasks:     []models.OptimizationTask{},
		Provider:  p.provider,
		CreatedAt: time.Now().UTC(),
	}

	if p.initErr != nil {
		msg := p.initErr.Error()
		res.Error = &msg
		telemetry.IncGenerationCalls(StageInsights, telemetry.OutcomeSkipped)
		telemetry.IncGenerationCalls(StageTasks, telemetry.OutcomeSkipped)
		p.logger.Warn("generation unavailable, returning analysis only",
			zap.String("job_id", analyzed.JobID), zap.Error(p.initErr))
		return res, nil
	}

	insights, err := p.insights.Execute(ctx, analyzed)
	if err != nil {
		return nil, eris.Wrap(err, "insight stage")
	}
	notify(p.insights.Name())

	tasks, err := p.tasks.Execute(ctx, insights)
	if err != nil {
		return nil, eris.Wrap(err, "task stage")
	}
	notify(p.tasks.Name())

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "pipeline cancelled")
	}

	res.Insights = insights.Insights
	res.Tasks = tasks.Tasks
	res.InsightsAIGenerated = insights.AIGenerated
	res.TasksAIGenerated = tasks.AIGenerated
	res.AIGenerated = insights.AIGenerated && tasks.AIGenerated
	return res, nil
}
