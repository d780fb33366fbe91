package main

import (
	"context"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/adlens/internal/ai"
	"github.com/kiranshivaraju/adlens/internal/api"
	"github.com/kiranshivaraju/adlens/internal/api/handler"
	mw "github.com/kiranshivaraju/adlens/internal/api/middleware"
	"github.com/kiranshivaraju/adlens/internal/blob"
	"github.com/kiranshivaraju/adlens/internal/cache"
	"github.com/kiranshivaraju/adlens/internal/config"
	"github.com/kiranshivaraju/adlens/internal/enrich"
	"github.com/kiranshivaraju/adlens/internal/jobs"
	"github.com/kiranshivaraju/adlens/internal/queue"
	"github.com/kiranshivaraju/adlens/internal/store"
	"github.com/kiranshivaraju/adlens/internal/telemetry"
	"github.com/kiranshivaraju/adlens/pkg/models"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const queueName = "jobs"

// app holds the long-lived connections shared by serve and worker.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *pgxpool.Pool
	redis   *cache.RedisCache
	store   *store.PostgresStore
	queue   *queue.RedisQueue
	manager *jobs.Manager
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := zap.L()

	db, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, eris.Wrap(err, "connect database")
	}
	logger.Info("database connected")

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		db.Close()
		return nil, eris.Wrap(err, "create redis cache")
	}
	if err := redisCache.Ping(ctx); err != nil {
		db.Close()
		_ = redisCache.Close()
		return nil, eris.Wrap(err, "ping redis")
	}
	logger.Info("redis connected")

	blobs, err := blob.New(ctx, cfg.Storage)
	if err != nil {
		db.Close()
		_ = redisCache.Close()
		return nil, eris.Wrap(err, "open blob storage")
	}
	logger.Info("blob storage ready", zap.String("driver", cfg.Storage.Driver))

	a := &app{
		cfg:    cfg,
		logger: logger,
		db:     db,
		redis:  redisCache,
		store:  store.NewPostgresStore(db),
		queue:  queue.NewRedisQueue(redisCache.Client(), redisCache.Key(queueName)),
	}

	gen, genErr := generationProvider(ctx, cfg.AI, logger)
	if genErr != nil {
		logger.Warn("generation capability unavailable, enrichment will be data-only",
			zap.String("provider", cfg.AI.Provider), zap.Error(genErr))
	} else {
		logger.Info("AI provider initialized", zap.String("provider", gen.Name()))
	}

	a.manager = jobs.NewManager(jobs.Dependencies{
		Store:    a.store,
		Queue:    a.queue,
		Blobs:    blobs,
		Cache:    cache.NewResultCache(redisCache, cfg.Cache.ResultTTL),
		Pipeline: enrich.NewPipeline(gen, genErr, logger.Named("enrich")),
	}, jobs.OptionsFromConfig(cfg), logger.Named("jobs"))

	return a, nil
}

// generationProvider builds the configured provider behind the inference
// timeout and the per-minute call budget.
func generationProvider(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (models.GenerationProvider, error) {
	p, err := ai.NewProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc := ai.NewService(p, cfg.InferenceTimeout, cfg.MaxTokens, logger.Named("ai"))
	return ai.NewRateLimited(svc, cfg.RequestsPerMinute), nil
}

func (a *app) Close() {
	if err := a.redis.Close(); err != nil {
		a.logger.Warn("close redis", zap.Error(err))
	}
	a.db.Close()
}

func (a *app) workerPool(concurrency int) *jobs.Pool {
	if concurrency <= 0 {
		concurrency = a.cfg.Worker.Concurrency
	}
	return jobs.NewPool(a.queue, a.manager, jobs.PoolConfig{
		Concurrency:  concurrency,
		Lease:        a.cfg.Worker.LeaseTimeout,
		PollInterval: a.cfg.Worker.PollInterval,
	}, a.logger.Named("pool"))
}

func (a *app) router() http.Handler {
	return api.NewRouter(api.Dependencies{
		Logger:         a.logger.Named("http"),
		AllowedOrigins: a.cfg.Server.AllowedOrigins(),
		RateLimit:      mw.NewRateLimit(a.redis, a.cfg.RateLimit.RequestsPerMinute, a.logger),
		Jobs:           handler.NewJobHandler(a.manager, a.cfg.Ingest.MaxUploadBytes, a.logger),
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"database": a.store,
			"cache":    a.redis,
		}),
		Metrics: telemetry.Handler(),
	})
}
