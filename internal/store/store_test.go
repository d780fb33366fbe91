package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/adlens/internal/store"
	"github.com/kiranshivaraju/adlens/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("adlens_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	v, dirty, err := store.MigrationVersion(connStr, migrationsDir())
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newJob(id string) *models.Job {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Job{
		ID:        id,
		Token:     "tok-" + id,
		Filename:  "campaign.csv",
		SizeBytes: 1024,
		BlobKey:   "jobs/" + id + "/campaign.csv",
		Status:    models.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func f(v float64) *float64 { return &v }

func attempt(job *models.Job, n int) store.Attempt {
	return store.Attempt{JobID: job.ID, Token: job.Token, Number: n}
}

func TestJobLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := newJob("job-1")
	require.NoError(t, s.CreateJob(ctx, job))
	assert.ErrorIs(t, s.CreateJob(ctx, newJob("job-1")), store.ErrDuplicateKey)

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, "jobs/job-1/campaign.csv", got.BlobKey)
	assert.Equal(t, "tok-job-1", got.Token)

	require.NoError(t, s.StartAttempt(ctx, attempt(job, 1)))
	assert.ErrorIs(t, s.StartAttempt(ctx, attempt(job, 1)), store.ErrStaleAttempt)

	require.NoError(t, s.UpdateProgress(ctx, attempt(job, 1), 50, "metrics persisted"))
	assert.ErrorIs(t, s.UpdateProgress(ctx, attempt(job, 1), 40, "late write"), store.ErrStaleAttempt)
	assert.ErrorIs(t, s.UpdateProgress(ctx, attempt(job, 0), 60, "old attempt"), store.ErrStaleAttempt)

	require.NoError(t, s.RecordAttemptFailure(ctx, attempt(job, 1), "attempt 1 failed", "boom"))
	require.NoError(t, s.StartAttempt(ctx, attempt(job, 2)))

	got, err = s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
	assert.Equal(t, 0, got.Progress, "a new attempt restarts progress")
	assert.Equal(t, 2, got.Attempt)
	assert.Nil(t, got.ErrorMessage)
	require.NotNil(t, got.StartedAt)

	require.NoError(t, s.FinishJob(ctx, attempt(job, 2), models.JobStatusCompleted, store.WithMessage("done")))
	got, err = s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.NotNil(t, got.CompletedAt)

	assert.ErrorIs(t, s.StartAttempt(ctx, attempt(job, 3)), store.ErrInvalidTransition)
	assert.ErrorIs(t, s.FinishJob(ctx, attempt(job, 2), models.JobStatusFailed), store.ErrStaleAttempt)
}

func TestResubmittedJobRejectsEarlierAttempt(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	first := newJob("job-1")
	require.NoError(t, s.CreateJob(ctx, first))
	require.NoError(t, s.StartAttempt(ctx, attempt(first, 1)))

	deleted, err := s.DeleteJob(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, deleted)

	second := newJob("job-1")
	second.Token = "tok-resubmitted"
	require.NoError(t, s.CreateJob(ctx, second))
	assert.ErrorIs(t, s.StartAttempt(ctx, attempt(first, 1)), store.ErrStaleAttempt)
	require.NoError(t, s.StartAttempt(ctx, attempt(second, 1)))

	old := attempt(first, 1)
	assert.ErrorIs(t, s.DeleteRecords(ctx, old), store.ErrStaleAttempt)
	_, err = s.InsertRecords(ctx, old, []models.Record{{JobID: "job-1", RowIndex: 1, Keyword: "stale", Impressions: 1}})
	assert.ErrorIs(t, err, store.ErrStaleAttempt)
	assert.ErrorIs(t, s.SaveAnalysisResult(ctx, old, &models.AnalysisResult{JobID: "job-1", RowCount: 1}), store.ErrStaleAttempt)
	assert.ErrorIs(t, s.SaveEnrichment(ctx, old, &models.EnrichmentResult{JobID: "job-1"}), store.ErrStaleAttempt)
	assert.ErrorIs(t, s.UpdateProgress(ctx, old, 50, "stale"), store.ErrStaleAttempt)
	assert.ErrorIs(t, s.RecordAttemptFailure(ctx, old, "stale", "boom"), store.ErrStaleAttempt)
	assert.ErrorIs(t, s.FinishJob(ctx, old, models.JobStatusCompleted), store.ErrStaleAttempt)
	assert.ErrorIs(t, s.FinishJob(ctx, old, models.JobStatusFailed), store.ErrStaleAttempt)

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
	assert.Equal(t, 0, got.Progress)
	_, total, err := s.ListRecords(ctx, "job-1", 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	_, err = s.GetAnalysisResult(ctx, "job-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFailPendingJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := newJob("job-1")
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.FinishJob(ctx, attempt(job, 3), models.JobStatusFailed, store.WithErrorMessage("source missing")))

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "source missing", *got.ErrorMessage)
}

func TestRecordsAndResults(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	job := newJob("job-1")
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.StartAttempt(ctx, attempt(job, 1)))
	a := attempt(job, 1)

	n, err := s.InsertRecords(ctx, a, []models.Record{
		{JobID: "job-1", RowIndex: 1, Keyword: "a", Impressions: 100, Clicks: 10, Cost: 20, Sales: 60, CTR: f(10), ROAS: f(3)},
		{JobID: "job-1", RowIndex: 2, Keyword: "b", Impressions: 50, Cost: 5, CTR: f(0)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	recs, total, err := s.ListRecords(ctx, "job-1", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].Keyword)
	require.NotNil(t, recs[0].ROAS)
	assert.InDelta(t, 3.0, *recs[0].ROAS, 1e-9)
	assert.Nil(t, recs[0].CPC)

	// retries clear and rewrite rather than duplicate
	require.NoError(t, s.DeleteRecords(ctx, a))
	_, err = s.InsertRecords(ctx, a, []models.Record{{JobID: "job-1", RowIndex: 1, Keyword: "a", Impressions: 1}})
	require.NoError(t, err)
	_, total, err = s.ListRecords(ctx, "job-1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	analysis := &models.AnalysisResult{
		JobID:     "job-1",
		RowCount:  2,
		Totals:    models.Totals{Impressions: 150, Clicks: 10},
		Averages:  map[models.Metric]float64{models.MetricCTR: 5},
		Trends:    models.Trends{ZeroConversionKeywords: 2},
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, s.SaveAnalysisResult(ctx, a, analysis))
	analysis.RowCount = 3
	require.NoError(t, s.SaveAnalysisResult(ctx, a, analysis))

	gotAnalysis, err := s.GetAnalysisResult(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 3, gotAnalysis.RowCount)
	assert.Equal(t, 2, gotAnalysis.Trends.ZeroConversionKeywords)
	assert.InDelta(t, 5.0, gotAnalysis.Averages[models.MetricCTR], 1e-9)

	enrichment := &models.EnrichmentResult{
		JobID:       "job-1",
		Insights:    []models.Insight{{Title: "t", Description: "d"}},
		Tasks:       []models.OptimizationTask{{Position: 1, Type: "bid", Priority: "high", Description: "x", Difficulty: "easy", ActionItems: []string{"a", "b"}}},
		AIGenerated: true,
		Provider:    "mock",
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.SaveEnrichment(ctx, a, enrichment))

	msg := "degraded"
	enrichment.Tasks = []models.OptimizationTask{
		{Position: 1, Type: "manual_review", Priority: "medium", Description: "y", Difficulty: "easy"},
		{Position: 2, Type: "budget", Priority: "low", Description: "z", Difficulty: "hard"},
	}
	enrichment.AIGenerated = false
	enrichment.Error = &msg
	require.NoError(t, s.SaveEnrichment(ctx, a, enrichment))

	gotEnrichment, err := s.GetEnrichment(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, gotEnrichment.AIGenerated)
	require.NotNil(t, gotEnrichment.Error)
	assert.Equal(t, "degraded", *gotEnrichment.Error)
	require.Len(t, gotEnrichment.Tasks, 2)
	assert.Equal(t, "manual_review", gotEnrichment.Tasks[0].Type)
	assert.Equal(t, []string{}, gotEnrichment.Tasks[0].ActionItems)
	assert.Len(t, gotEnrichment.Insights, 1)

	deleted, err := s.DeleteJob(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.GetAnalysisResult(ctx, "job-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetEnrichment(ctx, "job-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, total, err = s.ListRecords(ctx, "job-1", 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)

	deleted, err = s.DeleteJob(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestListJobs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	for i, id := range []string{"job-a", "job-b", "job-c"} {
		j := newJob(id)
		j.CreatedAt = j.CreatedAt.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.CreateJob(ctx, j))
	}
	require.NoError(t, s.StartAttempt(ctx, attempt(newJob("job-b"), 1)))

	jobs, total, err := s.ListJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, jobs, 3)
	assert.Equal(t, "job-c", jobs[0].ID, "newest first")

	jobs, total, err = s.ListJobs(ctx, store.JobFilter{Status: models.JobStatusProcessing})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-b", jobs[0].ID)

	jobs, total, err = s.ListJobs(ctx, store.JobFilter{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-a", jobs[0].ID)
}
