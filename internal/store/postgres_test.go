package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kiranshivaraju/adlens/pkg/models"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var attempt1 = Attempt{JobID: "job-1", Token: "tok-a", Number: 1}

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *PostgresStore) {
	t.Helper()
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool, NewPostgresStore(pool)
}

func TestCreateJob_Duplicate(t *testing.T) {
	pool, s := newMock(t)
	pool.ExpectExec("INSERT INTO jobs").WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.CreateJob(context.Background(), &models.Job{ID: "job-1", Status: models.JobStatusPending})
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestGetJob_NotFound(t *testing.T) {
	pool, s := newMock(t)
	pool.ExpectQuery("SELECT .* FROM jobs WHERE id").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartAttempt(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		token   string
		current int
		attempt int
		wantErr error
	}{
		{"first attempt", models.JobStatusPending, "tok-a", 0, 1, nil},
		{"retry", models.JobStatusProcessing, "tok-a", 1, 2, nil},
		{"already claimed", models.JobStatusProcessing, "tok-a", 2, 2, ErrStaleAttempt},
		{"resubmitted job", models.JobStatusPending, "tok-b", 0, 1, ErrStaleAttempt},
		{"completed", models.JobStatusCompleted, "tok-a", 1, 2, ErrInvalidTransition},
		{"failed", models.JobStatusFailed, "tok-a", 3, 4, ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, s := newMock(t)
			pool.ExpectBegin()
			pool.ExpectQuery("SELECT status, token, attempt FROM jobs").WithArgs("job-1").
				WillReturnRows(pgxmock.NewRows([]string{"status", "token", "attempt"}).AddRow(tt.status, tt.token, tt.current))
			if tt.wantErr == nil {
				pool.ExpectExec("UPDATE jobs SET status").
					WithArgs("job-1", models.JobStatusProcessing, tt.attempt, pgxmock.AnyArg(), pgxmock.AnyArg()).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
				pool.ExpectCommit()
			} else {
				pool.ExpectRollback()
			}

			err := s.StartAttempt(context.Background(), Attempt{JobID: "job-1", Token: "tok-a", Number: tt.attempt})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, pool.ExpectationsWereMet())
		})
	}
}

func TestStartAttempt_NotFound(t *testing.T) {
	pool, s := newMock(t)
	pool.ExpectBegin()
	pool.ExpectQuery("SELECT status, token, attempt FROM jobs").WillReturnError(pgx.ErrNoRows)
	pool.ExpectRollback()

	assert.ErrorIs(t, s.StartAttempt(context.Background(), Attempt{JobID: "gone", Token: "tok-a", Number: 1}), ErrNotFound)
}

func TestUpdateProgress_GuardRejects(t *testing.T) {
	pool, s := newMock(t)
	pool.ExpectExec("UPDATE jobs SET progress").
		WithArgs("job-1", "tok-a", 1, 50, "analysis persisted", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateProgress(context.Background(), attempt1, 50, "analysis persisted")
	assert.ErrorIs(t, err, ErrStaleAttempt)
}

func TestUpdateProgress_Applies(t *testing.T) {
	pool, s := newMock(t)
	pool.ExpectExec(`UPDATE jobs SET progress .* WHERE id = \$1 AND token = \$2 AND attempt = \$3`).
		WithArgs("job-1", "tok-a", 1, 60, "analyzed", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	assert.NoError(t, s.UpdateProgress(context.Background(), attempt1, 60, "analyzed"))
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestRecordAttemptFailure_GuardRejects(t *testing.T) {
	pool, s := newMock(t)
	pool.ExpectExec("UPDATE jobs SET message").
		WithArgs("job-1", "tok-a", 1, "attempt 1 of 3 failed", "boom", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.RecordAttemptFailure(context.Background(), attempt1, "attempt 1 of 3 failed", "boom")
	assert.ErrorIs(t, err, ErrStaleAttempt)
}

func TestFinishJob_RejectsNonTerminal(t *testing.T) {
	_, s := newMock(t)
	err := s.FinishJob(context.Background(), attempt1, models.JobStatusProcessing)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFinishJob_Failed(t *testing.T) {
	pool, s := newMock(t)
	pool.ExpectExec(`UPDATE jobs SET status = \$4, completed_at = \$5, updated_at = \$5, error_message = \$6 WHERE id = \$1 AND token = \$2 AND attempt <= \$3`).
		WithArgs("job-1", "tok-a", 3, models.JobStatusFailed, pgxmock.AnyArg(), "boom").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.FinishJob(context.Background(), Attempt{JobID: "job-1", Token: "tok-a", Number: 3},
		models.JobStatusFailed, WithErrorMessage("boom"))
	assert.NoError(t, err)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestFinishJob_Completed(t *testing.T) {
	pool, s := newMock(t)
	pool.ExpectExec(`progress = 100, error_message = NULL, message = \$6 WHERE id = \$1 AND token = \$2 AND attempt = \$3`).
		WithArgs("job-1", "tok-a", 1, models.JobStatusCompleted, pgxmock.AnyArg(), "done").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.FinishJob(context.Background(), attempt1, models.JobStatusCompleted, WithMessage("done"))
	assert.NoError(t, err)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestFinishJob_EarlierSubmission(t *testing.T) {
	pool, s := newMock(t)
	pool.ExpectExec("UPDATE jobs SET status").
		WithArgs("job-1", "tok-a", 1, models.JobStatusCompleted, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishJob(context.Background(), attempt1, models.JobStatusCompleted)
	assert.ErrorIs(t, err, ErrStaleAttempt)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func expectAttemptLock(pool pgxmock.PgxPoolIface, current bool) {
	pool.ExpectBegin()
	q := pool.ExpectQuery("SELECT 1 FROM jobs .* FOR SHARE").WithArgs("job-1", "tok-a", 1)
	if current {
		q.WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
		return
	}
	q.WillReturnError(pgx.ErrNoRows)
	pool.ExpectRollback()
}

func TestDeleteJob(t *testing.T) {
	pool, s := newMock(t)
	pool.ExpectExec("DELETE FROM jobs").WithArgs("job-1").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	pool.ExpectExec("DELETE FROM jobs").WithArgs("job-2").WillReturnResult(pgxmock.NewResult("DELETE", 0))

	ok, err := s.DeleteJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.DeleteJob(context.Background(), "job-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInsertRecords_Copy(t *testing.T) {
	pool, s := newMock(t)
	expectAttemptLock(pool, true)
	pool.ExpectCopyFrom(pgx.Identifier{"records"}, recordColumns).WillReturnResult(2)
	pool.ExpectCommit()

	ctr := 10.0
	n, err := s.InsertRecords(context.Background(), attempt1, []models.Record{
		{JobID: "job-1", RowIndex: 1, Keyword: "a", Impressions: 100, Clicks: 10, CTR: &ctr},
		{JobID: "job-1", RowIndex: 2, Keyword: "b", Impressions: 50},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestInsertRecords_Empty(t *testing.T) {
	pool, s := newMock(t)
	n, err := s.InsertRecords(context.Background(), attempt1, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestAttemptWrites_RejectedWhenNotCurrent(t *testing.T) {
	ctx := context.Background()
	writes := map[string]func(s *PostgresStore) error{
		"delete records": func(s *PostgresStore) error { return s.DeleteRecords(ctx, attempt1) },
		"insert records": func(s *PostgresStore) error {
			_, err := s.InsertRecords(ctx, attempt1, []models.Record{{JobID: "job-1", RowIndex: 1, Keyword: "a"}})
			return err
		},
		"save analysis": func(s *PostgresStore) error {
			return s.SaveAnalysisResult(ctx, attempt1, &models.AnalysisResult{JobID: "job-1"})
		},
		"save enrichment": func(s *PostgresStore) error {
			return s.SaveEnrichment(ctx, attempt1, &models.EnrichmentResult{JobID: "job-1"})
		},
	}
	for name, write := range writes {
		t.Run(name, func(t *testing.T) {
			pool, s := newMock(t)
			expectAttemptLock(pool, false)

			assert.ErrorIs(t, write(s), ErrStaleAttempt)
			assert.NoError(t, pool.ExpectationsWereMet())
		})
	}
}

func TestSaveAnalysisResult(t *testing.T) {
	pool, s := newMock(t)
	expectAttemptLock(pool, true)
	pool.ExpectExec("INSERT INTO analysis_results").
		WithArgs("job-1", 2, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectCommit()

	require.NoError(t, s.SaveAnalysisResult(context.Background(), attempt1, &models.AnalysisResult{JobID: "job-1", RowCount: 2}))
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestSaveEnrichment_ReplacesTasks(t *testing.T) {
	pool, s := newMock(t)
	expectAttemptLock(pool, true)
	pool.ExpectExec("INSERT INTO enrichment_results").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec("DELETE FROM optimization_tasks").WithArgs("job-1").WillReturnResult(pgxmock.NewResult("DELETE", 3))
	pool.ExpectCopyFrom(pgx.Identifier{"optimization_tasks"}, taskColumns).WillReturnResult(1)
	pool.ExpectCommit()

	err := s.SaveEnrichment(context.Background(), attempt1, &models.EnrichmentResult{
		JobID:     "job-1",
		Tasks:     []models.OptimizationTask{{Position: 1, Type: "general", Priority: "high", Description: "d", Difficulty: "easy"}},
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestSaveEnrichment_NoTasks(t *testing.T) {
	pool, s := newMock(t)
	expectAttemptLock(pool, true)
	pool.ExpectExec("INSERT INTO enrichment_results").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec("DELETE FROM optimization_tasks").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	pool.ExpectCommit()

	require.NoError(t, s.SaveEnrichment(context.Background(), attempt1, &models.EnrichmentResult{JobID: "job-1"}))
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		page, limit                     int
		wantPage, wantLimit, wantOffset int
	}{
		{0, 0, 1, DefaultPageSize, 0},
		{3, 10, 3, 10, 20},
		{1, 500, 1, MaxPageSize, 0},
		{-2, -1, 1, DefaultPageSize, 0},
	}
	for _, tt := range tests {
		page, limit, offset := Paginate(tt.page, tt.limit)
		assert.Equal(t, tt.wantPage, page)
		assert.Equal(t, tt.wantLimit, limit)
		assert.Equal(t, tt.wantOffset, offset)
	}
}
