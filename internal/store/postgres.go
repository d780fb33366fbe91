package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kiranshivaraju/adlens/pkg/models"
	"github.com/rotisserie/eris"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// --- Jobs ---

const jobColumns = `id, token, filename, size_bytes, blob_key, status, progress, attempt, message, error_message,
	started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.Token, &j.Filename, &j.SizeBytes, &j.BlobKey, &j.Status, &j.Progress, &j.Attempt,
		&j.Message, &j.ErrorMessage, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO jobs (id, token, filename, size_bytes, blob_key, status, progress, attempt, message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, job.Token, job.Filename, job.SizeBytes, job.BlobKey, job.Status, job.Progress, job.Attempt,
		job.Message, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return eris.Wrap(err, "create job")
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	j, err := scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "get job")
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	where := "TRUE"
	args := []any{}
	argIdx := 1
	if filter.Status != "" {
		where = fmt.Sprintf("status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	var total int
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "count jobs")
	}

	_, limit, offset := Paginate(filter.Page, filter.Limit)
	dataQuery := fmt.Sprintf(`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.db.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "list jobs")
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "scan job")
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

// DeleteJob removes a job and, by cascade, its records and results.
func (s *PostgresStore) DeleteJob(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return false, eris.Wrap(err, "delete job")
	}
	return tag.RowsAffected() > 0, nil
}

var validTransitions = map[string][]string{
	models.JobStatusPending:    {models.JobStatusProcessing, models.JobStatusFailed},
	models.JobStatusProcessing: {models.JobStatusProcessing, models.JobStatusCompleted, models.JobStatusFailed},
}

func canTransition(from, to string) bool {
	for _, a := range validTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// StartAttempt moves the job into processing for the given attempt and resets
// its progress. An attempt of another submission, or one whose number is not
// greater than the stored one, is stale.
func (s *PostgresStore) StartAttempt(ctx context.Context, a Attempt) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "begin start attempt")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status, token string
	var current int
	err = tx.QueryRow(ctx, `SELECT status, token, attempt FROM jobs WHERE id = $1 FOR UPDATE`, a.JobID).
		Scan(&status, &token, &current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrap(err, "get job status")
	}

	if token != a.Token {
		return eris.Wrapf(ErrStaleAttempt, "attempt %d belongs to an earlier submission", a.Number)
	}
	if !canTransition(status, models.JobStatusProcessing) {
		return eris.Wrapf(ErrInvalidTransition, "%s -> %s", status, models.JobStatusProcessing)
	}
	if a.Number <= current {
		return eris.Wrapf(ErrStaleAttempt, "attempt %d, current %d", a.Number, current)
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE jobs SET status = $2, attempt = $3, progress = 0, message = $4, error_message = NULL,
		   started_at = COALESCE(started_at, $5), updated_at = $5
		 WHERE id = $1`,
		a.JobID, models.JobStatusProcessing, a.Number, fmt.Sprintf("attempt %d started", a.Number), now)
	if err != nil {
		return eris.Wrap(err, "start attempt")
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "commit start attempt")
	}
	return nil
}

// UpdateProgress records a progress milestone. The write only applies to the
// current attempt of a processing job and never lowers progress.
func (s *PostgresStore) UpdateProgress(ctx context.Context, a Attempt, progress int, message string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE jobs SET progress = $4, message = $5, updated_at = $6
		 WHERE id = $1 AND token = $2 AND attempt = $3 AND status = 'processing' AND progress <= $4`,
		a.JobID, a.Token, a.Number, progress, message, time.Now().UTC())
	if err != nil {
		return eris.Wrap(err, "update progress")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrStaleAttempt, "progress %d for attempt %d", progress, a.Number)
	}
	return nil
}

// RecordAttemptFailure notes a failed attempt that will be retried.
func (s *PostgresStore) RecordAttemptFailure(ctx context.Context, a Attempt, message, errMsg string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE jobs SET message = $4, error_message = $5, updated_at = $6
		 WHERE id = $1 AND token = $2 AND attempt = $3 AND status = 'processing'`,
		a.JobID, a.Token, a.Number, message, errMsg, time.Now().UTC())
	if err != nil {
		return eris.Wrap(err, "record attempt failure")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrStaleAttempt, "attempt %d", a.Number)
	}
	return nil
}

// FinishJob moves the job to completed or failed. Completion pins progress at 100.
func (s *PostgresStore) FinishJob(ctx context.Context, a Attempt, status string, opts ...JobUpdateOption) error {
	if status != models.JobStatusCompleted && status != models.JobStatusFailed {
		return eris.Wrapf(ErrInvalidTransition, "-> %s", status)
	}
	params := ApplyOptions(opts...)

	now := time.Now().UTC()
	query := `UPDATE jobs SET status = $4, completed_at = $5, updated_at = $5`
	args := []any{a.JobID, a.Token, a.Number, status, now}
	argIdx := 6

	if status == models.JobStatusCompleted {
		query += `, progress = 100, error_message = NULL`
	}
	if params.Message != nil {
		query += fmt.Sprintf(", message = $%d", argIdx)
		args = append(args, *params.Message)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
	}

	// completed requires a claimed attempt; failed may also close a job that never started
	if status == models.JobStatusCompleted {
		query += ` WHERE id = $1 AND token = $2 AND attempt = $3 AND status = 'processing'`
	} else {
		query += ` WHERE id = $1 AND token = $2 AND attempt <= $3 AND status IN ('pending', 'processing')`
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrap(err, "finish job")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrStaleAttempt, "finish attempt %d as %s", a.Number, status)
	}
	return nil
}

// inAttempt runs fn in a transaction holding a share lock on the job row, and
// only while a is the current attempt. The lock keeps a newer attempt or a
// delete from interleaving with fn.
func (s *PostgresStore) inAttempt(ctx context.Context, a Attempt, op string, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "begin %s", op)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var one int
	err = tx.QueryRow(ctx,
		`SELECT 1 FROM jobs WHERE id = $1 AND token = $2 AND attempt = $3 AND status = 'processing' FOR SHARE`,
		a.JobID, a.Token, a.Number).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrStaleAttempt, "%s for attempt %d", op, a.Number)
	}
	if err != nil {
		return eris.Wrapf(err, "lock job for %s", op)
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrapf(err, "commit %s", op)
	}
	return nil
}

// --- Records ---

var recordColumns = []string{
	"job_id", "row_index", "keyword", "impressions", "clicks", "cost", "sales", "conversions",
	"calculated_ctr", "calculated_cpc", "calculated_cpm", "calculated_roas", "calculated_acos",
	"calculated_conversion_rate",
}

// DeleteRecords clears the rows an earlier attempt of the job wrote.
func (s *PostgresStore) DeleteRecords(ctx context.Context, a Attempt) error {
	return s.inAttempt(ctx, a, "delete records", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM records WHERE job_id = $1`, a.JobID); err != nil {
			return eris.Wrap(err, "delete records")
		}
		return nil
	})
}

// InsertRecords bulk-loads one batch of records with COPY. Every record is
// written under the attempt's job id.
func (s *PostgresStore) InsertRecords(ctx context.Context, a Attempt, records []models.Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{
			a.JobID, r.RowIndex, r.Keyword, r.Impressions, r.Clicks, r.Cost, r.Sales, r.Conversions,
			r.CTR, r.CPC, r.CPM, r.ROAS, r.ACOS, r.ConversionRate,
		}
	}

	var n int64
	err := s.inAttempt(ctx, a, "insert records", func(tx pgx.Tx) error {
		var err error
		n, err = tx.CopyFrom(ctx, pgx.Identifier{"records"}, recordColumns, pgx.CopyFromRows(rows))
		if err != nil {
			if isDuplicateKeyError(err) {
				return ErrDuplicateKey
			}
			return eris.Wrap(err, "copy records")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, jobID string, page, limit int) ([]models.Record, int, error) {
	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM records WHERE job_id = $1`, jobID).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "count records")
	}

	_, limit, offset := Paginate(page, limit)
	rows, err := s.db.Query(ctx,
		`SELECT job_id, row_index, keyword, impressions, clicks, cost, sales, conversions,
		        calculated_ctr, calculated_cpc, calculated_cpm, calculated_roas, calculated_acos,
		        calculated_conversion_rate
		 FROM records WHERE job_id = $1 ORDER BY row_index LIMIT $2 OFFSET $3`,
		jobID, limit, offset)
	if err != nil {
		return nil, 0, eris.Wrap(err, "list records")
	}
	defer rows.Close()

	records := []models.Record{}
	for rows.Next() {
		var r models.Record
		if err := rows.Scan(&r.JobID, &r.RowIndex, &r.Keyword, &r.Impressions, &r.Clicks, &r.Cost,
			&r.Sales, &r.Conversions, &r.CTR, &r.CPC, &r.CPM, &r.ROAS, &r.ACOS, &r.ConversionRate); err != nil {
			return nil, 0, eris.Wrap(err, "scan record")
		}
		records = append(records, r)
	}
	return records, total, rows.Err()
}

// --- Analysis Results ---

// SaveAnalysisResult inserts or replaces the analysis of a job.
func (s *PostgresStore) SaveAnalysisResult(ctx context.Context, a Attempt, result *models.AnalysisResult) error {
	doc, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "encode analysis result")
	}
	return s.inAttempt(ctx, a, "save analysis result", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO analysis_results (job_id, row_count, result, created_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (job_id) DO UPDATE SET
			   row_count = EXCLUDED.row_count,
			   result = EXCLUDED.result,
			   created_at = EXCLUDED.created_at`,
			a.JobID, result.RowCount, doc, result.CreatedAt)
		if err != nil {
			return eris.Wrap(err, "save analysis result")
		}
		return nil
	})
}

func (s *PostgresStore) GetAnalysisResult(ctx context.Context, jobID string) (*models.AnalysisResult, error) {
	var doc []byte
	err := s.db.QueryRow(ctx, `SELECT result FROM analysis_results WHERE job_id = $1`, jobID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "get analysis result")
	}
	var r models.AnalysisResult
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, eris.Wrap(err, "decode analysis result")
	}
	return &r, nil
}

// --- Enrichment ---

var taskColumns = []string{"job_id", "position", "type", "priority", "description", "impact", "difficulty", "action_items"}

// SaveEnrichment replaces the enrichment result and task list of a job in one
// transaction.
func (s *PostgresStore) SaveEnrichment(ctx context.Context, a Attempt, result *models.EnrichmentResult) error {
	patterns, err := json.Marshal(nonNil(result.Patterns))
	if err != nil {
		return eris.Wrap(err, "encode patterns")
	}
	anomalies, err := json.Marshal(nonNil(result.Anomalies))
	if err != nil {
		return eris.Wrap(err, "encode anomalies")
	}
	insights, err := json.Marshal(nonNil(result.Insights))
	if err != nil {
		return eris.Wrap(err, "encode insights")
	}

	return s.inAttempt(ctx, a, "save enrichment", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO enrichment_results (job_id, patterns, anomalies, insights, insights_ai_generated,
			   tasks_ai_generated, ai_generated, provider, error, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (job_id) DO UPDATE SET
			   patterns = EXCLUDED.patterns,
			   anomalies = EXCLUDED.anomalies,
			   insights = EXCLUDED.insights,
			   insights_ai_generated = EXCLUDED.insights_ai_generated,
			   tasks_ai_generated = EXCLUDED.tasks_ai_generated,
			   ai_generated = EXCLUDED.ai_generated,
			   provider = EXCLUDED.provider,
			   error = EXCLUDED.error,
			   created_at = EXCLUDED.created_at`,
			a.JobID, patterns, anomalies, insights, result.InsightsAIGenerated,
			result.TasksAIGenerated, result.AIGenerated, result.Provider, result.Error, result.CreatedAt)
		if err != nil {
			return eris.Wrap(err, "save enrichment result")
		}

		if _, err := tx.Exec(ctx, `DELETE FROM optimization_tasks WHERE job_id = $1`, a.JobID); err != nil {
			return eris.Wrap(err, "clear optimization tasks")
		}
		if len(result.Tasks) == 0 {
			return nil
		}

		rows := make([][]any, len(result.Tasks))
		for i, t := range result.Tasks {
			items := t.ActionItems
			if items == nil {
				items = []string{}
			}
			rows[i] = []any{a.JobID, t.Position, t.Type, t.Priority, t.Description, t.Impact, t.Difficulty, items}
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"optimization_tasks"}, taskColumns, pgx.CopyFromRows(rows)); err != nil {
			return eris.Wrap(err, "copy optimization tasks")
		}
		return nil
	})
}

func (s *PostgresStore) GetEnrichment(ctx context.Context, jobID string) (*models.EnrichmentResult, error) {
	var (
		r                             models.EnrichmentResult
		patterns, anomalies, insights []byte
	)
	err := s.db.QueryRow(ctx,
		`SELECT job_id, patterns, anomalies, insights, insights_ai_generated, tasks_ai_generated,
		        ai_generated, provider, error, created_at
		 FROM enrichment_results WHERE job_id = $1`, jobID,
	).Scan(&r.JobID, &patterns, &anomalies, &insights, &r.InsightsAIGenerated, &r.TasksAIGenerated,
		&r.AIGenerated, &r.Provider, &r.Error, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "get enrichment result")
	}
	for _, f := range []struct {
		src []byte
		dst any
	}{{patterns, &r.Patterns}, {anomalies, &r.Anomalies}, {insights, &r.Insights}} {
		if err := json.Unmarshal(f.src, f.dst); err != nil {
			return nil, eris.Wrap(err, "decode enrichment result")
		}
	}

	rows, err := s.db.Query(ctx,
		`SELECT position, type, priority, description, impact, difficulty, action_items
		 FROM optimization_tasks WHERE job_id = $1 ORDER BY position`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "list optimization tasks")
	}
	defer rows.Close()

	r.Tasks = []models.OptimizationTask{}
	for rows.Next() {
		var t models.OptimizationTask
		if err := rows.Scan(&t.Position, &t.Type, &t.Priority, &t.Description, &t.Impact, &t.Difficulty, &t.ActionItems); err != nil {
			return nil, eris.Wrap(err, "scan optimization task")
		}
		r.Tasks = append(r.Tasks, t)
	}
	return &r, rows.Err()
}

// --- Helpers ---

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
