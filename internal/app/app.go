// Package app wires the shared infrastructure used by the API and worker processes.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/bilgisen/contentgen/internal/ai"
	"github.com/bilgisen/contentgen/internal/archive"
	"github.com/bilgisen/contentgen/internal/cache"
	"github.com/bilgisen/contentgen/internal/config"
	"github.com/bilgisen/contentgen/internal/models"
	"github.com/bilgisen/contentgen/internal/queue"
	"github.com/bilgisen/contentgen/internal/realtime"
	"github.com/bilgisen/contentgen/internal/storage"
	"github.com/bilgisen/contentgen/internal/worker"
)

// Infra holds the connections shared by every process.
type Infra struct {
	Store  storage.Store
	Redis  redis.UniversalClient
	Queue  *queue.RedisQueue
	Dedupe *cache.RedisDeduper

	cfg     *config.Config
	log     zerolog.Logger
	closers []func(context.Context) error
}

// Open connects the document store and Redis.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Infra, error) {
	infra := &Infra{cfg: cfg, log: log}

	switch cfg.StoreDriver {
	case config.StoreMemory:
		log.Warn().Msg("using in-memory store; data is lost on restart")
		infra.Store = storage.NewMemoryStore()
	default:
		client, err := storage.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		infra.closers = append(infra.closers, client.Disconnect)

		store, err := storage.NewMongoStore(ctx, client.Database(cfg.MongoDatabase))
		if err != nil {
			infra.Close(ctx)
			return nil, err
		}
		infra.Store = store
		log.Info().Str("database", cfg.MongoDatabase).Msg("connected to MongoDB")
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		infra.Close(ctx)
		return nil, err
	}
	infra.Redis = redisClient
	infra.closers = append(infra.closers, func(context.Context) error { return redisClient.Close() })
	log.Info().Msg("connected to Redis")

	infra.Queue = queue.NewRedisQueue(redisClient, queue.Options{
		Prefix:      cfg.RedisPrefix,
		Lease:       cfg.JobLease,
		MaxAttempts: cfg.JobMaxAttempts,
		Retry:       queue.DefaultRetryPolicy(),
	}, log)
	infra.Dedupe = cache.NewRedisDeduper(redisClient, cfg.RedisPrefix, cfg.DedupeTTL)

	return infra, nil
}

// NewWorkerPool builds the pool consuming both channels. Generation results are
// published to Redis so whichever API process holds the user's socket can deliver them.
func (i *Infra) NewWorkerPool(ctx context.Context) (*worker.Pool, error) {
	client := ai.NewOllamaClient(ai.Config{
		Host:    i.cfg.OllamaHost,
		Model:   i.cfg.AIModel,
		Timeout: i.cfg.AITimeout,
	}, i.log)

	archiver, err := archive.New(ctx, archive.Config{
		Endpoint:  i.cfg.R2Endpoint,
		AccessKey: i.cfg.R2AccessKey,
		SecretKey: i.cfg.R2SecretKey,
		Bucket:    i.cfg.R2Bucket,
		Region:    i.cfg.R2Region,
	}, i.log)
	if err != nil {
		return nil, fmt.Errorf("init archive: %w", err)
	}

	notifier := realtime.NewPublisher(i.Redis, i.cfg.RedisPrefix)

	pool := worker.NewPool(i.Queue, worker.Config{
		Concurrency:     i.cfg.WorkerConcurrency,
		PollInterval:    i.cfg.WorkerPollInterval,
		JobTimeout:      i.cfg.JobTimeout,
		ShutdownTimeout: i.cfg.ShutdownTimeout,
	}, i.log)
	pool.Handle(models.QueueContentGeneration, worker.NewGenerationWorker(i.Store, client, notifier, i.Dedupe, archiver, i.log))
	pool.Handle(models.QueueCommentAnalysis, worker.NewCommentWorker(i.Store, client, i.log))
	return pool, nil
}

// Close releases connections in reverse order of opening.
func (i *Infra) Close(ctx context.Context) {
	for n := len(i.closers) - 1; n >= 0; n-- {
		if err := i.closers[n](ctx); err != nil {
			i.log.Error().Err(err).Msg("error closing connection")
		}
	}
	i.closers = nil
}
