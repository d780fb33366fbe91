// Package enrich turns an analysis into insights and optimization tasks. The
// pipeline runs three stages in a fixed order: Analyzer, InsightGenerator and
// TaskCreator. Only the Analyzer can fail the pipeline; the generative stages
// degrade to fixed fallback content instead.
package enrich

import (
	"context"

	"github.com/rotisserie/eris"
)

// Stage names, also used as progress hook keys and metric labels.
const (
	StageAnalyzer = "analyzer"
	StageInsights = "insights"
	StageTasks    = "tasks"
)

// ErrNoData is returned by the Analyzer when it has nothing to analyze.
var ErrNoData = eris.New("no analysis data")

// Stage is one step of the pipeline.
type Stage[In, Out any] interface {
	Name() string
	Execute(ctx context.Context, in In) (Out, error)
}
