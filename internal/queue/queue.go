package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrNoJob is returned by Reserve when nothing is ready.
var ErrNoJob = errors.New("no job available")

// Job is one delivery of a task.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	LastError   string          `json:"lastError,omitempty"`
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", j.Queue, err))
	}
	return nil
}

// EnqueueOptions tunes a single Enqueue call.
type EnqueueOptions struct {
	// Delay before the job becomes eligible. Zero means immediately.
	Delay time.Duration
	// MaxAttempts overrides the queue default when positive.
	MaxAttempts int
	// JobID makes the enqueue idempotent: a second call with the same id is a no-op.
	JobID string
}

// Stats are the per-queue counters shown on the admin API.
type Stats struct {
	Queue     string `json:"queue"`
	Waiting   int64  `json:"waiting"`
	Delayed   int64  `json:"delayed"`
	Active    int64  `json:"active"`
	Failed    int64  `json:"failed"`
	Completed int64  `json:"completed"`
	Retried   int64  `json:"retried"`
}

// Queue is an at-least-once task queue with named channels.
type Queue interface {
	Enqueue(ctx context.Context, name string, payload any, opts EnqueueOptions) (string, error)
	// Promote moves due delayed jobs and jobs with an expired lease to the wait list.
	Promote(ctx context.Context, name string) (int, error)
	// Reserve leases the next waiting job. It returns ErrNoJob when the channel is empty.
	Reserve(ctx context.Context, name string) (*Job, error)
	Ack(ctx context.Context, job *Job) error
	// Fail schedules a retry or records the job as failed.
	Fail(ctx context.Context, job *Job, cause error) error
	Stats(ctx context.Context, name string) (Stats, error)
	Failed(ctx context.Context, name string, limit int) ([]Job, error)
}

// Options configures a RedisQueue.
type Options struct {
	Prefix        string
	Lease         time.Duration
	MaxAttempts   int
	Retry         RetryPolicy
	FailedHistory int
}

// RedisQueue keeps each channel in a handful of Redis keys:
// a jobs hash, a delayed zset, a wait list, an active zset scored by lease deadline,
// a capped failed list and a stats hash.
type RedisQueue struct {
	client redis.UniversalClient
	opts   Options
	log    zerolog.Logger
	now    func() time.Time
}

var _ Queue = (*RedisQueue)(nil)

func NewRedisQueue(client redis.UniversalClient, opts Options, log zerolog.Logger) *RedisQueue {
	if opts.Lease <= 0 {
		opts.Lease = 5 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.FailedHistory <= 0 {
		opts.FailedHistory = 1000
	}
	return &RedisQueue{
		client: client,
		opts:   opts,
		log:    log.With().Str("component", "queue").Logger(),
		now:    time.Now,
	}
}

type queueKeys struct {
	jobs, delayed, wait, active, failed, stats string
}

func (q *RedisQueue) keys(name string) queueKeys {
	base := q.opts.Prefix + "queue:" + name + ":"
	return queueKeys{
		jobs:    base + "jobs",
		delayed: base + "delayed",
		wait:    base + "wait",
		active:  base + "active",
		failed:  base + "failed",
		stats:   base + "stats",
	}
}

var enqueueScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
else
  redis.call('LPUSH', KEYS[3], ARGV[1])
end
return 1
`)

var promoteScript = redis.NewScript(`
local moved = 0
for i = 1, 2 do
  local ids = redis.call('ZRANGEBYSCORE', KEYS[i], '-inf', ARGV[1])
  for _, id in ipairs(ids) do
    redis.call('ZREM', KEYS[i], id)
    redis.call('LPUSH', KEYS[3], id)
    moved = moved + 1
  end
end
return moved
`)

var reserveScript = redis.NewScript(`
local id = redis.call('RPOP', KEYS[1])
if not id then
  return false
end
local raw = redis.call('HGET', KEYS[3], id)
if not raw then
  return false
end
redis.call('ZADD', KEYS[2], ARGV[1], id)
return raw
`)

func (q *RedisQueue) Enqueue(ctx context.Context, name string, payload any, opts EnqueueOptions) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", name, err)
	}

	job := Job{
		ID:          opts.JobID,
		Queue:       name,
		Payload:     raw,
		MaxAttempts: opts.MaxAttempts,
		EnqueuedAt:  q.now().UTC(),
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.opts.MaxAttempts
	}

	envelope, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	var eligibleAt int64
	if opts.Delay > 0 {
		eligibleAt = q.now().Add(opts.Delay).UnixMilli()
	}

	k := q.keys(name)
	added, err := enqueueScript.Run(ctx, q.client,
		[]string{k.jobs, k.delayed, k.wait},
		job.ID, string(envelope), eligibleAt,
	).Int()
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", name, err)
	}
	if added == 0 {
		q.log.Debug().Str("queue", name).Str("job_id", job.ID).Msg("job already enqueued")
	}
	return job.ID, nil
}

func (q *RedisQueue) Promote(ctx context.Context, name string) (int, error) {
	k := q.keys(name)
	n, err := promoteScript.Run(ctx, q.client,
		[]string{k.delayed, k.active, k.wait},
		q.now().UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote %s: %w", name, err)
	}
	return n, nil
}

func (q *RedisQueue) Reserve(ctx context.Context, name string) (*Job, error) {
	k := q.keys(name)
	deadline := q.now().Add(q.opts.Lease).UnixMilli()

	raw, err := reserveScript.Run(ctx, q.client,
		[]string{k.wait, k.active, k.jobs},
		deadline,
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("reserve %s: %w", name, err)
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("decode %s job: %w", name, err)
	}
	job.Attempts++

	if err := q.save(ctx, k, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (q *RedisQueue) save(ctx context.Context, k queueKeys, job *Job) error {
	envelope, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.HSet(ctx, k.jobs, job.ID, envelope).Err(); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	k := q.keys(job.Queue)
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, k.active, job.ID)
		pipe.HDel(ctx, k.jobs, job.ID)
		pipe.HIncrBy(ctx, k.stats, "completed", 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack %s job %s: %w", job.Queue, job.ID, err)
	}
	return nil
}

func (q *RedisQueue) Fail(ctx context.Context, job *Job, cause error) error {
	k := q.keys(job.Queue)
	if cause != nil {
		job.LastError = cause.Error()
	}

	envelope, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	if q.opts.Retry.ShouldRetry(job.Attempts, job.MaxAttempts, cause) {
		retryAt := q.now().Add(q.opts.Retry.Delay(job.Attempts))
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, k.active, job.ID)
			pipe.HSet(ctx, k.jobs, job.ID, envelope)
			pipe.ZAdd(ctx, k.delayed, redis.Z{Score: float64(retryAt.UnixMilli()), Member: job.ID})
			pipe.HIncrBy(ctx, k.stats, "retried", 1)
			return nil
		})
		if err != nil {
			return fmt.Errorf("retry %s job %s: %w", job.Queue, job.ID, err)
		}
		q.log.Warn().
			Str("queue", job.Queue).
			Str("job_id", job.ID).
			Int("attempt", job.Attempts).
			Time("retry_at", retryAt).
			Msg("job scheduled for retry")
		return nil
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, k.active, job.ID)
		pipe.HDel(ctx, k.jobs, job.ID)
		pipe.LPush(ctx, k.failed, envelope)
		pipe.LTrim(ctx, k.failed, 0, int64(q.opts.FailedHistory-1))
		pipe.HIncrBy(ctx, k.stats, "failed", 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("fail %s job %s: %w", job.Queue, job.ID, err)
	}
	return nil
}

func (q *RedisQueue) Stats(ctx context.Context, name string) (Stats, error) {
	k := q.keys(name)

	var (
		waiting, failed *redis.IntCmd
		delayed, active *redis.IntCmd
		counters        *redis.MapStringStringCmd
	)
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.LLen(ctx, k.wait)
		delayed = pipe.ZCard(ctx, k.delayed)
		active = pipe.ZCard(ctx, k.active)
		failed = pipe.LLen(ctx, k.failed)
		counters = pipe.HGetAll(ctx, k.stats)
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("stats %s: %w", name, err)
	}

	c := counters.Val()
	return Stats{
		Queue:     name,
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Failed:    failed.Val(),
		Completed: parseCounter(c["completed"]),
		Retried:   parseCounter(c["retried"]),
	}, nil
}

func (q *RedisQueue) Failed(ctx context.Context, name string, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	raws, err := q.client.LRange(ctx, q.keys(name).failed, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list failed %s: %w", name, err)
	}

	jobs := make([]Job, 0, len(raws))
	for _, raw := range raws {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.log.Warn().Err(err).Str("queue", name).Msg("skipping unreadable failed job")
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func parseCounter(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
