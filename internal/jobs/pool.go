package jobs

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/kiranshivaraju/adlens/internal/queue"
	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source hands out deliveries and keeps their leases alive.
type Source interface {
	Dequeue(ctx context.Context, lease time.Duration) (*queue.Delivery, error)
	Extend(ctx context.Context, jobID, token string, lease time.Duration) error
}

// Processor runs a delivery and then settles its message. Settle is called
// only after the lease heartbeat has stopped, so a rescheduled message keeps
// its retry delay.
type Processor interface {
	Attempt(ctx context.Context, d *queue.Delivery) error
	Settle(ctx context.Context, d *queue.Delivery, err error)
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Concurrency  int
	Lease        time.Duration
	PollInterval time.Duration
}

// Pool runs a fixed number of workers pulling from a Source. Each delivery is
// handled by exactly one worker, and its lease is extended while it runs.
type Pool struct {
	source    Source
	processor Processor
	cfg       PoolConfig
	logger    *zap.Logger
}

func NewPool(source Source, processor Processor, cfg PoolConfig, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Pool{source: source, processor: processor, cfg: cfg, logger: logger}
}

// Run blocks until ctx is cancelled and every worker has returned.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool starting",
		zap.Int("concurrency", p.cfg.Concurrency),
		zap.Duration("lease", p.cfg.Lease))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		worker := i
		g.Go(func() error {
			p.work(ctx, worker)
			return nil
		})
	}
	err := g.Wait()
	p.logger.Info("worker pool stopped")
	return err
}

func (p *Pool) work(ctx context.Context, worker int) {
	log := p.logger.With(zap.Int("worker", worker))
	ticker := jitterbug.New(p.cfg.PollInterval, &jitterbug.Norm{Stdev: p.cfg.PollInterval / 4})
	defer ticker.Stop()

	for {
		// drain everything visible before sleeping
		for ctx.Err() == nil {
			d, err := p.source.Dequeue(ctx, p.cfg.Lease)
			if err != nil {
				if ctx.Err() == nil {
					log.Error("dequeue failed", zap.Error(err))
				}
				break
			}
			if d == nil {
				break
			}
			p.handle(ctx, log, d)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pool) handle(ctx context.Context, log *zap.Logger, d *queue.Delivery) {
	log = log.With(zap.String("job_id", d.JobID), zap.Int("attempt", d.Attempt))
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("panic while processing delivery",
				zap.Any("panic", rec),
				zap.String("stack", string(debug.Stack())))
		}
	}()

	log.Debug("delivery received")
	err := p.attempt(ctx, log, d)
	p.processor.Settle(ctx, d, err)
}

func (p *Pool) attempt(ctx context.Context, log *zap.Logger, d *queue.Delivery) error {
	hbCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.heartbeat(hbCtx, log, d)
	}()
	defer func() {
		stop()
		<-done
	}()
	return p.processor.Attempt(ctx, d)
}

func (p *Pool) heartbeat(ctx context.Context, log *zap.Logger, d *queue.Delivery) {
	t := time.NewTicker(p.cfg.Lease / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			err := p.source.Extend(ctx, d.JobID, d.Token, p.cfg.Lease)
			if errors.Is(err, queue.ErrNotQueued) {
				return
			}
			if err != nil && ctx.Err() == nil {
				log.Warn("failed to extend lease", zap.Error(err))
			}
		}
	}
}
