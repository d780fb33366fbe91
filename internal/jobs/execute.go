package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/kiranshivaraju/adlens/internal/enrich"
	"github.com/kiranshivaraju/adlens/internal/ingest"
	"github.com/kiranshivaraju/adlens/internal/queue"
	"github.com/kiranshivaraju/adlens/internal/store"
	"github.com/kiranshivaraju/adlens/internal/telemetry"
	"github.com/kiranshivaraju/adlens/pkg/models"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Attempt executes the delivery. A delivery past the attempt limit, left
// behind by a worker that lost its lease on the last attempt, is not run.
func (m *Manager) Attempt(ctx context.Context, d *queue.Delivery) error {
	if policy := m.policy(d); d.Attempt > policy.MaxAttempts {
		return eris.Errorf("attempt %d exceeds the limit of %d", d.Attempt, policy.MaxAttempts)
	}
	return m.safeExecute(ctx, attemptOf(d))
}

func attemptOf(d *queue.Delivery) store.Attempt {
	return store.Attempt{JobID: d.JobID, Token: d.Token, Number: d.Attempt}
}

// Settle acknowledges the message once the job is terminal or gone and
// hands real failures to HandleFailure.
func (m *Manager) Settle(ctx context.Context, d *queue.Delivery, err error) {
	log := m.logger.With(zap.String("job_id", d.JobID), zap.Int("attempt", d.Attempt))

	switch {
	case err == nil:
		m.ack(ctx, d)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrInvalidTransition):
		log.Info("job removed or already finished, dropping message", zap.Error(err))
		telemetry.IncAttempts(telemetry.OutcomeSkipped)
		m.ack(ctx, d)
	case errors.Is(err, store.ErrStaleAttempt):
		log.Warn("attempt superseded", zap.Error(err))
		telemetry.IncAttempts(telemetry.OutcomeSkipped)
	case ctx.Err() != nil:
		log.Warn("attempt interrupted by shutdown", zap.Error(err))
	default:
		if herr := m.HandleFailure(ctx, d, err); herr != nil {
			log.Error("failed to record attempt failure", zap.Error(herr))
		}
	}
}

func (m *Manager) safeExecute(ctx context.Context, a store.Attempt) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("panic during job execution",
				zap.String("job_id", a.JobID),
				zap.Any("panic", rec),
				zap.String("stack", string(debug.Stack())))
			err = eris.Errorf("panic: %v", rec)
		}
	}()
	return m.Execute(ctx, a)
}

// Execute runs one full attempt: claim, ingest and aggregate, enrich, finish.
// Every attempt starts over; rows written by earlier attempts are replaced.
func (m *Manager) Execute(ctx context.Context, a store.Attempt) error {
	log := m.logger.With(zap.String("job_id", a.JobID), zap.Int("attempt", a.Number))

	if err := m.withLock(a.JobID, func() error { return m.store.StartAttempt(ctx, a) }); err != nil {
		return eris.Wrap(err, "start attempt")
	}
	job, err := m.store.GetJob(ctx, a.JobID)
	if err != nil {
		return eris.Wrap(err, "load job")
	}
	started := m.now()
	log.Info("attempt started", zap.String("filename", job.Filename))

	if err := m.store.DeleteRecords(ctx, a); err != nil {
		return eris.Wrap(err, "clear previous records")
	}

	res, err := m.ingest(ctx, a, job)
	if err != nil {
		return err
	}
	telemetry.ObserveRows(res.RowCount, res.DiscardReasons)

	if err := m.store.SaveAnalysisResult(ctx, a, res); err != nil {
		return eris.Wrap(err, "save analysis")
	}
	msg := fmt.Sprintf("metrics computed: %s accepted, %s discarded",
		plural(res.RowCount, "row"), plural(res.DiscardedCount, "row"))
	if err := m.report(ctx, a, ProgressMetrics, msg); err != nil {
		return err
	}

	result := &models.JobResult{JobID: a.JobID, Analysis: res}
	message := MessageNoRows
	if res.RowCount > 0 {
		enr, err := m.enrich(ctx, a, res)
		if err != nil {
			return err
		}
		result.Enrichment = enr
		message = completionMessage(enr)
	} else {
		log.Warn("no valid rows, skipping enrichment", zap.Int("discarded", res.DiscardedCount))
	}

	err = m.withLock(a.JobID, func() error {
		return m.store.FinishJob(ctx, a, models.JobStatusCompleted, store.WithMessage(message))
	})
	if err != nil {
		return eris.Wrap(err, "complete job")
	}

	m.cacheResult(ctx, result)
	m.discardBlob(ctx, job.BlobKey)

	elapsed := m.now().Sub(started)
	telemetry.IncAttempts(telemetry.OutcomeSuccess)
	telemetry.IncJobsFinished(models.JobStatusCompleted)
	telemetry.ObserveJobDuration(elapsed)
	log.Info("job completed",
		zap.Int("rows", res.RowCount),
		zap.Int("discarded", res.DiscardedCount),
		zap.String("message", message),
		zap.Duration("elapsed", elapsed))
	return nil
}

// ingest streams the upload through the metrics engine, writing accepted rows
// in batches and reporting read progress by bytes consumed.
func (m *Manager) ingest(ctx context.Context, a store.Attempt, job *models.Job) (*models.AnalysisResult, error) {
	if err := m.report(ctx, a, ProgressReadStart, "reading upload"); err != nil {
		return nil, err
	}

	rc, err := m.blobs.Open(ctx, job.BlobKey)
	if err != nil {
		return nil, eris.Wrap(err, "open upload")
	}
	defer rc.Close()

	counter := ingest.NewCountingReader(rc)
	src, err := ingest.Open(job.Filename, counter)
	if err != nil {
		return nil, eris.Wrap(err, "open source")
	}
	defer src.Close()

	batch := make([]models.Record, 0, m.opts.BatchSize)
	reported := ProgressReadStart
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := m.store.InsertRecords(ctx, a, batch); err != nil {
			return eris.Wrap(err, "insert records")
		}
		batch = batch[:0]

		pct := ProgressReadStart + int(float64(ProgressReadEnd-ProgressReadStart)*counter.Fraction(job.SizeBytes))
		if pct > reported {
			reported = pct
			return m.report(ctx, a, pct, fmt.Sprintf("read %d of %d bytes", counter.BytesRead(), job.SizeBytes))
		}
		return nil
	}

	res, err := m.engine.Run(ctx, job.ID, src, func(r models.Record) error {
		batch = append(batch, r)
		if len(batch) >= m.opts.BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "compute metrics")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	res.CreatedAt = m.now().UTC()
	return res, nil
}

func (m *Manager) enrich(ctx context.Context, a store.Attempt, res *models.AnalysisResult) (*models.EnrichmentResult, error) {
	var hookErr error
	enr, err := m.pipeline.Run(ctx, enrich.AnalyzerInput{Analysis: res}, func(stage string) {
		pct, ok := stageProgress[stage]
		if !ok || hookErr != nil {
			return
		}
		hookErr = m.report(ctx, a, pct, stage+" stage finished")
	})
	if err != nil {
		return nil, eris.Wrap(err, "enrichment")
	}
	if hookErr != nil {
		return nil, hookErr
	}

	enr.JobID = a.JobID
	if err := m.store.SaveEnrichment(ctx, a, enr); err != nil {
		return nil, eris.Wrap(err, "save enrichment")
	}
	msg := fmt.Sprintf("enrichment saved: %s, %s", plural(len(enr.Insights), "insight"), plural(len(enr.Tasks), "task"))
	if err := m.report(ctx, a, ProgressEnriched, msg); err != nil {
		return nil, err
	}
	return enr, nil
}

// HandleFailure applies the retry policy to a failed attempt. Before the last
// attempt the job stays processing and the message is rescheduled after the
// backoff; after it the job fails with cause as its error. A delivery that no
// longer owns the job, because a newer attempt claimed it or the job was
// resubmitted, is dropped without touching the queue.
func (m *Manager) HandleFailure(ctx context.Context, d *queue.Delivery, cause error) error {
	log := m.logger.With(zap.String("job_id", d.JobID), zap.Int("attempt", d.Attempt))
	policy := m.policy(d)
	a := attemptOf(d)

	unlock := m.locks.Lock(d.JobID)
	defer unlock()

	job, err := m.store.GetJob(ctx, d.JobID)
	if errors.Is(err, store.ErrNotFound) {
		log.Info("job removed during attempt, dropping message")
		m.ack(ctx, d)
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "load job")
	}
	switch {
	case job.Token != d.Token:
		log.Info("job resubmitted during attempt, dropping delivery", zap.Error(cause))
		telemetry.IncAttempts(telemetry.OutcomeSkipped)
		return nil
	case job.Terminal():
		log.Info("job already finished, dropping message", zap.String("status", job.Status))
		telemetry.IncAttempts(telemetry.OutcomeSkipped)
		m.ack(ctx, d)
		return nil
	case job.Attempt > d.Attempt:
		log.Warn("attempt superseded, leaving the job to attempt", zap.Int("current", job.Attempt), zap.Error(cause))
		telemetry.IncAttempts(telemetry.OutcomeSkipped)
		return nil
	}

	if policy.Exhausted(d.Attempt) {
		msg := fmt.Sprintf("failed after %s", plural(min(d.Attempt, policy.MaxAttempts), "attempt"))
		err := m.store.FinishJob(ctx, a, models.JobStatusFailed,
			store.WithMessage(msg), store.WithErrorMessage(cause.Error()))
		if errors.Is(err, store.ErrStaleAttempt) {
			log.Warn("attempt superseded before it could fail the job", zap.Error(cause))
			telemetry.IncAttempts(telemetry.OutcomeSkipped)
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "fail job")
		}
		m.ack(ctx, d)
		m.discardBlob(ctx, job.BlobKey)

		telemetry.IncAttempts(telemetry.OutcomeFailed)
		telemetry.IncJobsFinished(models.JobStatusFailed)
		log.Error("job failed", zap.Error(cause))
		return nil
	}

	delay := policy.Backoff(d.Attempt)
	msg := fmt.Sprintf("attempt %d of %d failed, retrying in %s", d.Attempt, policy.MaxAttempts, delay)
	err = m.store.RecordAttemptFailure(ctx, a, msg, cause.Error())
	if errors.Is(err, store.ErrStaleAttempt) {
		log.Warn("attempt superseded, not retrying", zap.Error(cause))
		telemetry.IncAttempts(telemetry.OutcomeSkipped)
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "record attempt failure")
	}
	if err := m.queue.Retry(ctx, d.JobID, d.Token, delay); err != nil {
		if errors.Is(err, queue.ErrNotQueued) {
			log.Info("message no longer queued, not retrying")
			return nil
		}
		return eris.Wrap(err, "schedule retry")
	}

	telemetry.IncAttempts(telemetry.OutcomeRetry)
	log.Warn("attempt failed, will retry", zap.Duration("delay", delay), zap.Error(cause))
	return nil
}

func (m *Manager) policy(d *queue.Delivery) queue.RetryPolicy {
	if d.Policy.MaxAttempts > 0 {
		return d.Policy
	}
	return m.opts.Policy
}

func (m *Manager) ack(ctx context.Context, d *queue.Delivery) {
	if err := m.queue.Ack(ctx, d.JobID, d.Token); err != nil {
		m.logger.Warn("failed to acknowledge message", zap.String("job_id", d.JobID), zap.Error(err))
	}
}
