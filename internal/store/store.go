package store

import (
	"context"

	"github.com/kiranshivaraju/adlens/pkg/models"
	"github.com/rotisserie/eris"
)

var (
	ErrNotFound          = eris.New("resource not found")
	ErrDuplicateKey      = eris.New("duplicate key violation")
	ErrInvalidTransition = eris.New("invalid job status transition")
	ErrStaleAttempt      = eris.New("stale job attempt")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	DeleteJob(ctx context.Context, id string) (bool, error)

	StartAttempt(ctx context.Context, a Attempt) error
	UpdateProgress(ctx context.Context, a Attempt, progress int, message string) error
	RecordAttemptFailure(ctx context.Context, a Attempt, message, errMsg string) error
	FinishJob(ctx context.Context, a Attempt, status string, opts ...JobUpdateOption) error

	DeleteRecords(ctx context.Context, a Attempt) error
	InsertRecords(ctx context.Context, a Attempt, records []models.Record) (int64, error)
	ListRecords(ctx context.Context, jobID string, page, limit int) ([]models.Record, int, error)

	SaveAnalysisResult(ctx context.Context, a Attempt, result *models.AnalysisResult) error
	GetAnalysisResult(ctx context.Context, jobID string) (*models.AnalysisResult, error)

	SaveEnrichment(ctx context.Context, a Attempt, result *models.EnrichmentResult) error
	GetEnrichment(ctx context.Context, jobID string) (*models.EnrichmentResult, error)
}

// Attempt identifies one execution of one submission of a job. Writes made on
// behalf of an attempt apply only while both the token and the number are
// current; anything else fails with ErrStaleAttempt.
type Attempt struct {
	JobID  string
	Token  string
	Number int
}

type JobFilter struct {
	Status string
	Page   int
	Limit  int
}

// JobUpdate carries the optional fields a terminal transition may set.
type JobUpdate struct {
	Message      *string
	ErrorMessage *string
}

type JobUpdateOption func(*JobUpdate)

func WithMessage(msg string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.Message = &msg
	}
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.ErrorMessage = &msg
	}
}

// ApplyOptions folds opts into a JobUpdate.
func ApplyOptions(opts ...JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

// Pagination bounds shared by list queries.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Paginate normalizes page and limit and returns the row offset.
func Paginate(page, limit int) (int, int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if page <= 0 {
		page = 1
	}
	return page, limit, (page - 1) * limit
}
