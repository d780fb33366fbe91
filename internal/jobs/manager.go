// Package jobs owns the job lifecycle: submission, execution attempts, retry
// handling and the reads that serve pollers.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"time"

	"github.com/kiranshivaraju/adlens/internal/analysis"
	"github.com/kiranshivaraju/adlens/internal/blob"
	"github.com/kiranshivaraju/adlens/internal/config"
	"github.com/kiranshivaraju/adlens/internal/enrich"
	"github.com/kiranshivaraju/adlens/internal/ingest"
	"github.com/kiranshivaraju/adlens/internal/queue"
	"github.com/kiranshivaraju/adlens/internal/store"
	"github.com/kiranshivaraju/adlens/internal/telemetry"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/adlens/pkg/models"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Progress milestones reported during an attempt.
const (
	ProgressReadStart = 5
	ProgressReadEnd   = 45
	ProgressMetrics   = 50
	ProgressAnalyzer  = 60
	ProgressInsights  = 75
	ProgressTasks     = 85
	ProgressEnriched  = 90
)

// Completion messages.
const (
	MessageCompleted = "completed"
	MessageDegraded  = "completed; AI enrichment unavailable, showing data-only recommendations"
	MessagePartial   = "completed with partial results: generation capability unavailable"
	MessageNoRows    = "completed: no valid rows found"
)

const maxJobIDLength = 128

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var stageProgress = map[string]int{
	enrich.StageAnalyzer: ProgressAnalyzer,
	enrich.StageInsights: ProgressInsights,
	enrich.StageTasks:    ProgressTasks,
}

// Queue is the subset of the work queue the manager writes to.
type Queue interface {
	Enqueue(ctx context.Context, msg queue.Message) error
	Retry(ctx context.Context, jobID, token string, delay time.Duration) error
	Ack(ctx context.Context, jobID, token string) error
	Remove(ctx context.Context, jobID string) (bool, error)
}

// ResultCache is the fast path for completed results.
type ResultCache interface {
	SetResult(ctx context.Context, result *models.JobResult) error
	GetResult(ctx context.Context, jobID string) (*models.JobResult, bool, error)
	DeleteResult(ctx context.Context, jobID string) error
}

// Enricher runs the enrichment stages over a finished analysis.
type Enricher interface {
	Run(ctx context.Context, in enrich.AnalyzerInput, hook func(stage string)) (*models.EnrichmentResult, error)
}

// Dependencies are the collaborators a Manager is built from.
type Dependencies struct {
	Store    store.Store
	Queue    Queue
	Blobs    blob.Store
	Cache    ResultCache
	Pipeline Enricher
}

// Options tune submission limits and retry behavior.
type Options struct {
	Policy         queue.RetryPolicy
	BatchSize      int
	MaxUploadBytes int64
}

// OptionsFromConfig reads Options from the worker and ingest settings.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Policy: queue.RetryPolicy{
			MaxAttempts:    cfg.Worker.MaxAttempts,
			InitialBackoff: cfg.Worker.InitialBackoff,
			MaxBackoff:     cfg.Worker.MaxBackoff,
		},
		BatchSize:      cfg.Ingest.BatchSize,
		MaxUploadBytes: cfg.Ingest.MaxUploadBytes,
	}
}

// SubmitRequest is one upload to be processed.
type SubmitRequest struct {
	JobID    string
	Filename string
	Size     int64
	Body     io.Reader
}

// Manager drives jobs through pending, processing and a terminal state.
type Manager struct {
	store    store.Store
	queue    Queue
	blobs    blob.Store
	cache    ResultCache
	pipeline Enricher
	engine   *analysis.Engine
	opts     Options
	locks    *keyedMutex
	logger   *zap.Logger
	now      func() time.Time
}

func NewManager(deps Dependencies, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = queue.DefaultRetryPolicy
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	return &Manager{
		store:    deps.Store,
		queue:    deps.Queue,
		blobs:    deps.Blobs,
		cache:    deps.Cache,
		pipeline: deps.Pipeline,
		engine:   analysis.NewEngine(analysis.PersistedTopN, logger),
		opts:     opts,
		locks:    newKeyedMutex(),
		logger:   logger,
		now:      time.Now,
	}
}

// Submit stores the upload, records a pending job and queues it. It returns
// as soon as the work is queued. Each submission gets its own token, and its
// upload is stored under that token, so a rejected duplicate never touches the
// upload of the job it collided with.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	if err := m.validate(req); err != nil {
		return nil, err
	}

	_, err := m.store.GetJob(ctx, req.JobID)
	if err == nil {
		return nil, eris.Wrapf(ErrDuplicateJob, "job %s", req.JobID)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrap(err, "check existing job")
	}

	token := uuid.NewString()
	key := blob.Key(req.JobID, token, req.Filename)
	if err := m.blobs.Put(ctx, key, req.Body, req.Size); err != nil {
		return nil, eris.Wrap(err, "store upload")
	}

	now := m.now().UTC()
	job := &models.Job{
		ID:        req.JobID,
		Token:     token,
		Filename:  filepath.Base(req.Filename),
		SizeBytes: req.Size,
		BlobKey:   key,
		Status:    models.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		m.discardBlob(ctx, key)
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, eris.Wrapf(ErrDuplicateJob, "job %s", req.JobID)
		}
		return nil, eris.Wrap(err, "create job")
	}

	msg := queue.Message{JobID: job.ID, Token: token, Policy: m.opts.Policy, EnqueuedAt: now}
	if err := m.queue.Enqueue(ctx, msg); err != nil {
		if _, derr := m.store.DeleteJob(ctx, job.ID); derr != nil {
			m.logger.Error("failed to roll back job after enqueue error",
				zap.String("job_id", job.ID), zap.Error(derr))
		}
		m.discardBlob(ctx, key)
		if errors.Is(err, queue.ErrDuplicate) {
			return nil, eris.Wrapf(ErrDuplicateJob, "job %s", req.JobID)
		}
		return nil, eris.Wrap(err, "enqueue job")
	}

	telemetry.IncJobsSubmitted()
	m.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("filename", job.Filename),
		zap.Int64("size_bytes", job.SizeBytes))
	return job, nil
}

func (m *Manager) validate(req SubmitRequest) error {
	switch {
	case req.JobID == "":
		return invalid("job_id", "is required")
	case len(req.JobID) > maxJobIDLength:
		return invalid("job_id", "must be at most %d characters", maxJobIDLength)
	case !jobIDPattern.MatchString(req.JobID):
		return invalid("job_id", "may only contain letters, digits, '-' and '_'")
	case req.Filename == "":
		return invalid("file", "filename is required")
	case !ingest.Supported(req.Filename):
		return invalid("file", "must be a .csv or .xlsx file")
	case req.Body == nil:
		return invalid("file", "is required")
	case req.Size <= 0:
		return invalid("file", "is empty")
	case m.opts.MaxUploadBytes > 0 && req.Size > m.opts.MaxUploadBytes:
		return invalid("file", "exceeds the %d byte upload limit", m.opts.MaxUploadBytes)
	}
	return nil
}

// GetStatus returns the poll view of a job.
func (m *Manager) GetStatus(ctx context.Context, jobID string) (*models.JobStatusView, error) {
	job, err := m.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	view := job.StatusView()
	return &view, nil
}

// GetResult returns the analysis and enrichment of a completed job. The store
// decides readiness; the cache only short-cuts loading the result.
func (m *Manager) GetResult(ctx context.Context, jobID string) (*models.JobResult, error) {
	job, err := m.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusCompleted {
		return nil, eris.Wrapf(ErrNotReady, "job %s is %s", jobID, job.Status)
	}

	if m.cache != nil {
		res, ok, err := m.cache.GetResult(ctx, jobID)
		if err != nil {
			m.logger.Warn("result cache read failed", zap.String("job_id", jobID), zap.Error(err))
		} else if ok {
			return res, nil
		}
	}

	res, err := m.loadResult(ctx, jobID)
	if err != nil {
		return nil, err
	}
	m.cacheResult(ctx, res)
	return res, nil
}

func (m *Manager) loadResult(ctx context.Context, jobID string) (*models.JobResult, error) {
	analysisRes, err := m.store.GetAnalysisResult(ctx, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "load analysis")
	}
	res := &models.JobResult{JobID: jobID, Analysis: analysisRes}

	enr, err := m.store.GetEnrichment(ctx, jobID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, eris.Wrap(err, "load enrichment")
	default:
		res.Enrichment = enr
	}
	return res, nil
}

// List returns one page of jobs, newest first.
func (m *Manager) List(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	switch filter.Status {
	case "", models.JobStatusPending, models.JobStatusProcessing, models.JobStatusCompleted, models.JobStatusFailed:
	default:
		return nil, 0, invalid("status", "unknown status %q", filter.Status)
	}
	jobs, total, err := m.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, 0, eris.Wrap(err, "list jobs")
	}
	return jobs, total, nil
}

// Records returns one page of a job's accepted rows in row order.
func (m *Manager) Records(ctx context.Context, jobID string, page, limit int) ([]models.Record, int, error) {
	if _, err := m.getJob(ctx, jobID); err != nil {
		return nil, 0, err
	}
	recs, total, err := m.store.ListRecords(ctx, jobID, page, limit)
	if err != nil {
		return nil, 0, eris.Wrap(err, "list records")
	}
	return recs, total, nil
}

// Remove pulls a queued job and deletes it with everything it produced. An
// attempt already running is not interrupted; its later writes fail against
// the deleted row, and against any later submission under the same id. It
// reports false for unknown jobs.
func (m *Manager) Remove(ctx context.Context, jobID string) (bool, error) {
	unlock := m.locks.Lock(jobID)
	defer unlock()

	job, err := m.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "get job")
	}

	dequeued, err := m.queue.Remove(ctx, jobID)
	if err != nil {
		return false, eris.Wrap(err, "dequeue job")
	}

	deleted, err := m.store.DeleteJob(ctx, jobID)
	if err != nil {
		return false, eris.Wrap(err, "delete job")
	}
	m.discardBlob(ctx, job.BlobKey)
	if m.cache != nil {
		if err := m.cache.DeleteResult(ctx, jobID); err != nil {
			m.logger.Warn("failed to drop cached result", zap.String("job_id", jobID), zap.Error(err))
		}
	}

	m.logger.Info("job removed",
		zap.String("job_id", jobID),
		zap.String("status", job.Status),
		zap.Bool("dequeued", dequeued))
	return deleted, nil
}

func (m *Manager) getJob(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "get job")
	}
	return job, nil
}

func (m *Manager) cacheResult(ctx context.Context, res *models.JobResult) {
	if m.cache == nil {
		return
	}
	if err := m.cache.SetResult(ctx, res); err != nil {
		m.logger.Warn("failed to cache result", zap.String("job_id", res.JobID), zap.Error(err))
	}
}

func (m *Manager) discardBlob(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := m.blobs.Delete(ctx, key); err != nil {
		m.logger.Warn("failed to delete upload", zap.String("key", key), zap.Error(err))
	}
}

func (m *Manager) withLock(jobID string, fn func() error) error {
	unlock := m.locks.Lock(jobID)
	defer unlock()
	return fn()
}

func (m *Manager) report(ctx context.Context, a store.Attempt, progress int, message string) error {
	err := m.withLock(a.JobID, func() error {
		return m.store.UpdateProgress(ctx, a, progress, message)
	})
	if err != nil {
		return eris.Wrapf(err, "report progress %d", progress)
	}
	return nil
}

func completionMessage(enr *models.EnrichmentResult) string {
	switch {
	case enr.Error != nil:
		return MessagePartial
	case !enr.AIGenerated:
		return MessageDegraded
	default:
		return MessageCompleted
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
