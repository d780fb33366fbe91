package analysis

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/kiranshivaraju/adlens/pkg/models"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RowSource yields raw rows; the first row is the header. Next returns io.EOF
// once the source is exhausted.
type RowSource interface {
	Next() ([]string, error)
}

// Engine streams a RowSource through validation and aggregation.
type Engine struct {
	capacity int
	logger   *zap.Logger
}

// NewEngine returns an Engine keeping capacity entries per ranked list.
func NewEngine(capacity int, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{capacity: capacity, logger: logger}
}

// Run validates every row, hands accepted records to emit in row order and returns
// the aggregate. Bad rows are counted and skipped; only source read errors, emit
// errors and context cancellation abort the run.
func (e *Engine) Run(ctx context.Context, jobID string, src RowSource, emit func(models.Record) error) (*models.AnalysisResult, error) {
	agg := NewAggregator(e.capacity)
	log := e.logger.With(zap.String("job_id", jobID))

	header, err := src.Next()
	if errors.Is(err, io.EOF) {
		return agg.Result(jobID), nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "read header")
	}

	schema := NewSchema(header)
	if ignored := schema.Ignored(); len(ignored) > 0 {
		log.Warn("ignoring unrecognized columns", zap.Strings("columns", ignored))
		agg.Ignore(ignored)
	}

	for rowIndex := 1; ; rowIndex++ {
		if rowIndex%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, eris.Wrap(err, "metrics run cancelled")
			}
		}

		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "read row %d", rowIndex)
		}
		if blank(row) {
			continue
		}

		rec, reason, ok := schema.Clean(row, rowIndex)
		if !ok {
			log.Debug("row discarded", zap.Int("row", rowIndex), zap.String("reason", reason))
			agg.Discard(reason)
			continue
		}
		rec.JobID = jobID
		agg.Add(rec)
		if emit != nil {
			if err := emit(rec); err != nil {
				return nil, eris.Wrapf(err, "emit row %d", rowIndex)
			}
		}
	}

	return agg.Result(jobID), nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
