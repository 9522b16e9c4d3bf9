package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bilgisen/contentgen/internal/metrics"
	"github.com/bilgisen/contentgen/internal/observability"
	"github.com/bilgisen/contentgen/internal/queue"
)

// Handler processes one job. Returning an error hands the job back to the queue's
// failure accounting; wrap it with queue.Permanent to skip retries.
type Handler interface {
	Handle(ctx context.Context, job *queue.Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *queue.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *queue.Job) error { return f(ctx, job) }

// Config contains worker pool configuration.
type Config struct {
	Concurrency     int
	PollInterval    time.Duration
	JobTimeout      time.Duration
	ShutdownTimeout time.Duration
}

// ErrInterrupted is the cancellation cause seen by jobs still running when
// Stop gives up waiting for them. Handlers must not record a terminal outcome
// for it; the job stays leased and is redelivered once the lease expires.
var ErrInterrupted = errors.New("worker pool stopped before job finished")

// abortGrace bounds how long Stop waits for interrupted handlers to return.
const abortGrace = 5 * time.Second

// Pool runs Concurrency workers per registered queue plus one promoter per queue.
type Pool struct {
	queue    queue.Queue
	handlers map[string]Handler
	cfg      Config
	log      zerolog.Logger
	wg       sync.WaitGroup
	cancel   context.CancelFunc

	// jobs is the parent of every job context. It ignores Stop and is only
	// cancelled, with ErrInterrupted, when ShutdownTimeout runs out.
	jobs  context.Context
	abort context.CancelCauseFunc
}

func NewPool(q queue.Queue, cfg Config, log zerolog.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 3 * time.Minute
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return &Pool{
		queue:    q,
		handlers: make(map[string]Handler),
		cfg:      cfg,
		log:      log.With().Str("component", "worker-pool").Logger(),
	}
}

// Handle registers h for the named queue. Call before Start.
func (p *Pool) Handle(name string, h Handler) {
	p.handlers[name] = h
}

// Start launches the workers. They run until Stop or until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) error {
	if len(p.handlers) == 0 {
		return errors.New("worker pool has no handlers")
	}
	p.jobs, p.abort = context.WithCancelCause(context.WithoutCancel(ctx))
	ctx, p.cancel = context.WithCancel(ctx)

	for name, h := range p.handlers {
		p.wg.Add(1)
		go func(name string) {
			defer p.wg.Done()
			p.promote(ctx, name)
		}(name)

		for i := 0; i < p.cfg.Concurrency; i++ {
			p.wg.Add(1)
			go func(name string, h Handler, id int) {
				defer p.wg.Done()
				p.run(ctx, name, h, id)
			}(name, h, i+1)
		}
	}

	p.log.Info().Int("worker_count", p.cfg.Concurrency).Int("queues", len(p.handlers)).Msg("worker pool started")
	return nil
}

// Stop stops reserving jobs and lets in-flight jobs run to completion. Jobs still
// running after ShutdownTimeout are interrupted and left leased for redelivery.
func (p *Pool) Stop() {
	p.log.Info().Msg("stopping worker pool")
	if p.cancel == nil {
		return
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.abort(nil)
		p.log.Info().Msg("all workers stopped gracefully")
		return
	case <-time.After(p.cfg.ShutdownTimeout):
	}

	p.log.Warn().Dur("timeout", p.cfg.ShutdownTimeout).Msg("worker pool shutdown timed out, interrupting running jobs")
	p.abort(ErrInterrupted)
	select {
	case <-done:
	case <-time.After(abortGrace):
		p.log.Error().Msg("interrupted jobs did not return")
	}
}

func (p *Pool) promote(ctx context.Context, name string) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := p.queue.Promote(ctx, name); err != nil {
				if ctx.Err() == nil {
					p.log.Error().Err(err).Str("queue", name).Msg("failed to promote jobs")
				}
			} else if n > 0 {
				p.log.Debug().Str("queue", name).Int("count", n).Msg("jobs promoted")
			}
			p.sampleDepth(ctx, name)
		}
	}
}

func (p *Pool) sampleDepth(ctx context.Context, name string) {
	stats, err := p.queue.Stats(ctx, name)
	if err != nil {
		return
	}
	metrics.QueueDepth.WithLabelValues(name, "waiting").Set(float64(stats.Waiting))
	metrics.QueueDepth.WithLabelValues(name, "delayed").Set(float64(stats.Delayed))
	metrics.QueueDepth.WithLabelValues(name, "active").Set(float64(stats.Active))
	metrics.QueueDepth.WithLabelValues(name, "failed").Set(float64(stats.Failed))
}

func (p *Pool) run(ctx context.Context, name string, h Handler, id int) {
	log := p.log.With().Str("queue", name).Int("worker_id", id).Logger()
	log.Debug().Msg("worker started")

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("worker stopped")
			return
		case <-ticker.C:
			p.drain(ctx, name, h, log)
		}
	}
}

// drain processes jobs until the queue is empty or ctx is done.
func (p *Pool) drain(ctx context.Context, name string, h Handler, log zerolog.Logger) {
	for ctx.Err() == nil {
		job, err := p.queue.Reserve(ctx, name)
		if errors.Is(err, queue.ErrNoJob) {
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("failed to reserve job")
			}
			return
		}
		p.process(ctx, h, job, log)
	}
}

func (p *Pool) process(ctx context.Context, h Handler, job *queue.Job, log zerolog.Logger) {
	log = log.With().Str("job_id", job.ID).Int("attempt", job.Attempts).Logger()
	started := time.Now()

	jobCtx, cancel := context.WithTimeout(p.jobs, p.cfg.JobTimeout)
	jobCtx, span := observability.StartJobSpan(jobCtx, job.Queue, job.ID, job.Attempts)
	err := safeHandle(jobCtx, h, job)
	observability.EndSpan(span, err)
	interrupted := err != nil && Interrupted(jobCtx)
	cancel()

	// Bookkeeping must land even while the pool is shutting down.
	bookCtx, bookCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer bookCancel()

	if err == nil {
		if ackErr := p.queue.Ack(bookCtx, job); ackErr != nil {
			log.Error().Err(ackErr).Msg("failed to ack job")
		}
		metrics.ObserveJob(job.Queue, "completed", started)
		log.Info().Dur("duration", time.Since(started)).Msg("job completed")
		return
	}

	if interrupted {
		log.Warn().Err(err).Msg("job interrupted by shutdown, left leased for redelivery")
		metrics.ObserveJob(job.Queue, "interrupted", started)
		return
	}

	log.Error().Err(err).Msg("job failed")
	if failErr := p.queue.Fail(bookCtx, job, err); failErr != nil {
		log.Error().Err(failErr).Msg("failed to record job failure")
	}
	metrics.ObserveJob(job.Queue, "failed", started)
}

// Interrupted reports whether ctx was cancelled because the pool stopped
// before the job finished.
func Interrupted(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrInterrupted)
}

func safeHandle(ctx context.Context, h Handler, job *queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, job)
}
