package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/bilgisen/contentgen/internal/ai"
	"github.com/bilgisen/contentgen/internal/cache"
	"github.com/bilgisen/contentgen/internal/models"
	"github.com/bilgisen/contentgen/internal/queue"
	"github.com/bilgisen/contentgen/internal/storage"
)

type fakeClient struct {
	text        string
	generateErr error
	sentiment   models.Sentiment
	sentErr     error
	calls       int
	mu          sync.Mutex
}

func (f *fakeClient) Generate(ctx context.Context, prompt string, contentType models.ContentType) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.text, f.generateErr
}

func (f *fakeClient) AnalyzeSentiment(ctx context.Context, text string) (models.Sentiment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.sentiment, f.sentErr
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type sentEvent struct {
	userID string
	event  models.ContentEvent
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (r *recordingNotifier) Notify(ctx context.Context, userID string, event models.ContentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sentEvent{userID: userID, event: event})
	return nil
}

func (r *recordingNotifier) sent() []sentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentEvent(nil), r.events...)
}

type fakeArchiver struct{ archived []string }

func (f *fakeArchiver) Archive(ctx context.Context, item *models.Content) error {
	f.archived = append(f.archived, item.ID.Hex())
	return nil
}

func seedPending(t *testing.T, store *storage.MemoryStore) *models.Content {
	t.Helper()
	item := models.NewPendingContent("u1", "Alpha Launch", models.TypeArticle)
	require.NoError(t, store.Create(context.Background(), item))
	return item
}

func generationTask(item *models.Content) models.GenerateContentJob {
	return models.GenerateContentJob{
		Prompt:    "rocket launch",
		Type:      string(item.Type),
		UserID:    item.UserID,
		ContentID: item.ID.Hex(),
	}
}

func TestGenerationSuccessCompletesAndNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	item := seedPending(t, store)
	notifier := &recordingNotifier{}
	archiver := &fakeArchiver{}
	w := NewGenerationWorker(store, &fakeClient{text: "Generated body"}, notifier, nil, archiver, zerolog.Nop())

	require.NoError(t, w.Process(ctx, generationTask(item)))

	got, err := store.FindByID(ctx, item.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "Generated body", got.Body)

	events := notifier.sent()
	require.Len(t, events, 1)
	assert.Equal(t, "u1", events[0].userID)
	assert.Equal(t, models.ContentEvent{ContentID: item.ID.Hex(), Status: models.StatusCompleted, Body: "Generated body"}, events[0].event)
	assert.Equal(t, []string{item.ID.Hex()}, archiver.archived)
}

func TestGenerationClientErrorMarksFailed(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	item := seedPending(t, store)
	notifier := &recordingNotifier{}
	w := NewGenerationWorker(store, &fakeClient{generateErr: errors.New("model exploded")}, notifier, nil, nil, zerolog.Nop())

	err := w.Process(ctx, generationTask(item))
	require.ErrorContains(t, err, "model exploded")

	got, err := store.FindByID(ctx, item.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, models.PendingBody, got.Body)

	events := notifier.sent()
	require.Len(t, events, 1)
	assert.Equal(t, models.StatusFailed, events[0].event.Status)
	assert.Empty(t, events[0].event.Body)
}

func TestGenerationDeletedItemIsPermanentNotFound(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	item := seedPending(t, store)
	require.NoError(t, store.Delete(ctx, item.ID.Hex(), "u1"))
	notifier := &recordingNotifier{}
	client := &fakeClient{text: "unused"}
	w := NewGenerationWorker(store, client, notifier, nil, nil, zerolog.Nop())

	err := w.Process(ctx, generationTask(item))
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.True(t, queue.IsPermanent(err))
	assert.Zero(t, client.calls)

	events := notifier.sent()
	require.Len(t, events, 1)
	assert.Equal(t, models.StatusFailed, events[0].event.Status)
}

func TestGenerationWithoutListenersStillPersists(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	item := seedPending(t, store)
	w := NewGenerationWorker(store, &fakeClient{text: "quiet"}, noListeners{}, nil, nil, zerolog.Nop())

	require.NoError(t, w.Process(ctx, generationTask(item)))

	got, err := store.FindByID(ctx, item.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "quiet", got.Body)
}

type noListeners struct{}

func (noListeners) Notify(context.Context, string, models.ContentEvent) error { return nil }

func TestGenerationRedeliveryRepeatsStoredOutcome(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	item := seedPending(t, store)
	notifier := &recordingNotifier{}
	client := &fakeClient{text: "first"}
	w := NewGenerationWorker(store, client, notifier, nil, nil, zerolog.Nop())

	require.NoError(t, w.Process(ctx, generationTask(item)))
	client.text = "second"
	require.NoError(t, w.Process(ctx, generationTask(item)))

	got, err := store.FindByID(ctx, item.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, "first", got.Body)
	assert.Equal(t, 1, client.calls)

	events := notifier.sent()
	require.Len(t, events, 2)
	assert.Equal(t, "first", events[1].event.Body)
}

func TestGenerationHandleSkipsProcessedJobs(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	item := seedPending(t, store)
	notifier := &recordingNotifier{}
	client := &fakeClient{text: "body"}
	dedupe := cache.NewMemoryDeduper(time.Hour)
	w := NewGenerationWorker(store, client, notifier, dedupe, nil, zerolog.Nop())

	job := newJob(t, models.QueueContentGeneration, generationTask(item))
	require.NoError(t, w.Handle(ctx, job))
	require.NoError(t, w.Handle(ctx, job))

	assert.Equal(t, 1, client.calls)
	assert.Len(t, notifier.sent(), 1)
}

func TestCommentWorkerWritesSentiment(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	item := seedPending(t, store)
	comment := models.NewComment("ann", "love it")
	sibling := models.NewComment("bob", "hmm")
	require.NoError(t, store.AddComment(ctx, item.ID.Hex(), comment))
	require.NoError(t, store.AddComment(ctx, item.ID.Hex(), sibling))

	w := NewCommentWorker(store, &fakeClient{sentiment: models.Sentiment{Score: 0.7, Label: models.LabelPositive}}, zerolog.Nop())
	task := models.AnalyzeCommentJob{ContentID: item.ID.Hex(), CommentID: comment.ID.Hex(), Body: comment.Body}

	require.NoError(t, w.Process(ctx, task))
	// Redelivery is absorbed.
	require.NoError(t, w.Process(ctx, task))

	got, err := store.FindByID(ctx, item.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.SentimentAnalyzed, got.Comments[0].SentimentStatus)
	assert.Equal(t, models.LabelPositive, got.Comments[0].SentimentLabel)
	assert.Equal(t, 0.7, got.Comments[0].SentimentScore)
	assert.Equal(t, models.LabelAnalyzing, got.Comments[1].SentimentLabel)
}

func TestCommentWorkerFailureWritesError(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	item := seedPending(t, store)
	comment := models.NewComment("ann", "love it")
	require.NoError(t, store.AddComment(ctx, item.ID.Hex(), comment))

	w := NewCommentWorker(store, &fakeClient{sentErr: errors.New("timeout")}, zerolog.Nop())
	err := w.Process(ctx, models.AnalyzeCommentJob{ContentID: item.ID.Hex(), CommentID: comment.ID.Hex(), Body: "love it"})
	require.ErrorContains(t, err, "timeout")

	got, err := store.FindByID(ctx, item.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.SentimentError, got.Comments[0].SentimentStatus)
	assert.Equal(t, models.LabelError, got.Comments[0].SentimentLabel)
	assert.Zero(t, got.Comments[0].SentimentScore)
}

func TestCommentWorkerMissingCommentIsPermanent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	item := seedPending(t, store)

	w := NewCommentWorker(store, &fakeClient{sentiment: models.NeutralSentiment()}, zerolog.Nop())
	err := w.Process(ctx, models.AnalyzeCommentJob{ContentID: item.ID.Hex(), CommentID: primitive.NewObjectID().Hex()})
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.True(t, queue.IsPermanent(err))
}

func newJob(t *testing.T, name string, payload any) *queue.Job {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := queue.NewRedisQueue(client, queue.Options{Prefix: "t:"}, zerolog.Nop())
	_, err := q.Enqueue(context.Background(), name, payload, queue.EnqueueOptions{})
	require.NoError(t, err)
	job, err := q.Reserve(context.Background(), name)
	require.NoError(t, err)
	return job
}

func TestPoolProcessesQueuedJobs(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	q := queue.NewRedisQueue(client, queue.Options{Prefix: "t:"}, zerolog.Nop())

	store := storage.NewMemoryStore()
	item := seedPending(t, store)
	notifier := &recordingNotifier{}

	pool := NewPool(q, Config{Concurrency: 2, PollInterval: 10 * time.Millisecond, JobTimeout: time.Second}, zerolog.Nop())
	pool.Handle(models.QueueContentGeneration, NewGenerationWorker(store, &fakeClient{text: "pooled"}, notifier, nil, nil, zerolog.Nop()))
	pool.Handle(models.QueueCommentAnalysis, HandlerFunc(func(ctx context.Context, job *queue.Job) error {
		return queue.Permanent(errors.New("rejected"))
	}))
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	_, err := q.Enqueue(context.Background(), models.QueueContentGeneration, generationTask(item), queue.EnqueueOptions{})
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), models.QueueCommentAnalysis, models.AnalyzeCommentJob{}, queue.EnqueueOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := store.FindByID(context.Background(), item.ID.Hex())
		return err == nil && got.Status == models.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		gen, err1 := q.Stats(context.Background(), models.QueueContentGeneration)
		com, err2 := q.Stats(context.Background(), models.QueueCommentAnalysis)
		return err1 == nil && err2 == nil && gen.Completed == 1 && com.Failed == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Len(t, notifier.sent(), 1)
}

func TestSafeHandleRecoversPanics(t *testing.T) {
	err := safeHandle(context.Background(), HandlerFunc(func(context.Context, *queue.Job) error {
		panic("boom")
	}), &queue.Job{})
	assert.ErrorContains(t, err, "boom")
}

func TestGenerationNonFinalAttemptLeavesItemProcessing(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	item := seedPending(t, store)
	notifier := &recordingNotifier{}
	w := NewGenerationWorker(store, &fakeClient{generateErr: errors.New("model busy")}, notifier, nil, nil, zerolog.Nop())

	job := newJob(t, models.QueueContentGeneration, generationTask(item))
	job.MaxAttempts = 2
	err := w.Handle(ctx, job)
	require.ErrorContains(t, err, "model busy")
	assert.False(t, queue.IsPermanent(err))

	got, err := store.FindByID(ctx, item.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
	assert.Empty(t, notifier.sent())
}

func TestGenerationRedeliveryOfFailedItemIsPermanent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	item := seedPending(t, store)
	failed := models.StatusFailed
	_, err := store.Update(ctx, item.ID.Hex(), models.ContentUpdate{Status: &failed})
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	client := &fakeClient{text: "unused"}
	w := NewGenerationWorker(store, client, notifier, nil, nil, zerolog.Nop())

	err = w.Process(ctx, generationTask(item))
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.True(t, queue.IsPermanent(err))
	assert.Zero(t, client.calls)

	events := notifier.sent()
	require.Len(t, events, 1)
	assert.Equal(t, models.StatusFailed, events[0].event.Status)
}

func TestGenerationInterruptedRecordsNothing(t *testing.T) {
	store := storage.NewMemoryStore()
	item := seedPending(t, store)
	notifier := &recordingNotifier{}
	w := NewGenerationWorker(store, &fakeClient{text: "unused"}, notifier, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(ErrInterrupted)
	err := w.Process(ctx, generationTask(item))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, queue.IsPermanent(err))

	got, err := store.FindByID(context.Background(), item.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Empty(t, notifier.sent())
}

func TestCommentWorkerNonFinalAttemptKeepsAnalyzing(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	item := seedPending(t, store)
	comment := models.NewComment("ann", "love it")
	require.NoError(t, store.AddComment(ctx, item.ID.Hex(), comment))

	w := NewCommentWorker(store, &fakeClient{sentErr: errors.New("timeout")}, zerolog.Nop())
	job := newJob(t, models.QueueCommentAnalysis, models.AnalyzeCommentJob{ContentID: item.ID.Hex(), CommentID: comment.ID.Hex(), Body: "love it"})
	job.MaxAttempts = 3
	require.ErrorContains(t, w.Handle(ctx, job), "timeout")

	got, err := store.FindByID(ctx, item.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.SentimentAnalyzing, got.Comments[0].SentimentStatus)
	assert.Equal(t, models.LabelAnalyzing, got.Comments[0].SentimentLabel)
}

func TestCommentWorkerRedeliveryAfterErrorIsPermanent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	item := seedPending(t, store)
	comment := models.NewComment("ann", "love it")
	require.NoError(t, store.AddComment(ctx, item.ID.Hex(), comment))
	require.NoError(t, store.UpdateCommentSentiment(ctx, item.ID.Hex(), comment.ID.Hex(), models.FailedSentiment()))

	w := NewCommentWorker(store, &fakeClient{sentiment: models.NeutralSentiment()}, zerolog.Nop())
	err := w.Process(ctx, models.AnalyzeCommentJob{ContentID: item.ID.Hex(), CommentID: comment.ID.Hex(), Body: "love it"})
	assert.ErrorIs(t, err, ErrAnalysisFailed)
	assert.True(t, queue.IsPermanent(err))

	got, err := store.FindByID(ctx, item.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.LabelError, got.Comments[0].SentimentLabel)
}

func newTestQueue(t *testing.T, opts queue.Options) *queue.RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	opts.Prefix = "t:"
	return queue.NewRedisQueue(client, opts, zerolog.Nop())
}

// newSlowOllama serves /api/generate after delay, or gives up when the caller
// disconnects.
func newSlowOllama(t *testing.T, delay time.Duration, started chan<- struct{}) *ai.OllamaClient {
	t.Helper()
	release := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(started) })
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		case <-release:
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "Slow body"})
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	return ai.NewOllamaClient(ai.Config{Host: srv.URL, Model: "llama3", Timeout: time.Minute}, zerolog.Nop())
}

func TestPoolStopDrainsInFlightGeneration(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, queue.Options{})
	store := storage.NewMemoryStore()
	item := seedPending(t, store)
	notifier := &recordingNotifier{}
	started := make(chan struct{})
	client := newSlowOllama(t, 300*time.Millisecond, started)

	pool := NewPool(q, Config{PollInterval: 10 * time.Millisecond, JobTimeout: 10 * time.Second, ShutdownTimeout: 10 * time.Second}, zerolog.Nop())
	pool.Handle(models.QueueContentGeneration, NewGenerationWorker(store, client, notifier, nil, nil, zerolog.Nop()))
	require.NoError(t, pool.Start(ctx))

	_, err := q.Enqueue(ctx, models.QueueContentGeneration, generationTask(item), queue.EnqueueOptions{})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("generation never started")
	}
	pool.Stop()

	got, err := store.FindByID(ctx, item.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Contains(t, got.Body, "Slow body")

	events := notifier.sent()
	require.Len(t, events, 1)
	assert.Equal(t, models.StatusCompleted, events[0].event.Status)

	stats, err := q.Stats(ctx, models.QueueContentGeneration)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Zero(t, stats.Failed)
	assert.Zero(t, stats.Active)
}

func TestPoolStopPastTimeoutLeavesJobForRedelivery(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, queue.Options{Lease: 500 * time.Millisecond})
	store := storage.NewMemoryStore()
	item := seedPending(t, store)
	notifier := &recordingNotifier{}
	started := make(chan struct{})
	client := newSlowOllama(t, time.Minute, started)

	pool := NewPool(q, Config{PollInterval: 10 * time.Millisecond, JobTimeout: time.Minute, ShutdownTimeout: 50 * time.Millisecond}, zerolog.Nop())
	pool.Handle(models.QueueContentGeneration, NewGenerationWorker(store, client, notifier, nil, nil, zerolog.Nop()))
	require.NoError(t, pool.Start(ctx))

	_, err := q.Enqueue(ctx, models.QueueContentGeneration, generationTask(item), queue.EnqueueOptions{})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("generation never started")
	}
	pool.Stop()

	got, err := store.FindByID(ctx, item.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
	assert.Empty(t, notifier.sent())

	stats, err := q.Stats(ctx, models.QueueContentGeneration)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Active)
	assert.Zero(t, stats.Failed)
	assert.Zero(t, stats.Completed)

	// Once the lease runs out a fresh pool picks the job up again.
	next := NewPool(q, Config{PollInterval: 10 * time.Millisecond, JobTimeout: time.Second}, zerolog.Nop())
	next.Handle(models.QueueContentGeneration, NewGenerationWorker(store, &fakeClient{text: "resumed"}, notifier, nil, nil, zerolog.Nop()))
	require.NoError(t, next.Start(ctx))
	defer next.Stop()

	require.Eventually(t, func() bool {
		got, err := store.FindByID(ctx, item.ID.Hex())
		return err == nil && got.Status == models.StatusCompleted && got.Body == "resumed"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPoolRetriesBeforeRecordingFailure(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, queue.Options{
		MaxAttempts: 2,
		Retry:       queue.RetryPolicy{InitialDelay: 10 * time.Millisecond, MaxDelay: 10 * time.Millisecond},
	})
	store := storage.NewMemoryStore()
	item := seedPending(t, store)
	notifier := &recordingNotifier{}
	client := &fakeClient{generateErr: errors.New("model exploded")}

	pool := NewPool(q, Config{PollInterval: 10 * time.Millisecond, JobTimeout: time.Second}, zerolog.Nop())
	pool.Handle(models.QueueContentGeneration, NewGenerationWorker(store, client, notifier, nil, nil, zerolog.Nop()))
	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	_, err := q.Enqueue(ctx, models.QueueContentGeneration, generationTask(item), queue.EnqueueOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stats, err := q.Stats(ctx, models.QueueContentGeneration)
		return err == nil && stats.Failed == 1
	}, 5*time.Second, 10*time.Millisecond)

	stats, err := q.Stats(ctx, models.QueueContentGeneration)
	require.NoError(t, err)
	assert.Zero(t, stats.Completed)
	assert.Equal(t, int64(1), stats.Retried)
	assert.Equal(t, 2, client.callCount())

	got, err := store.FindByID(ctx, item.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)

	events := notifier.sent()
	require.Len(t, events, 1)
	assert.Equal(t, models.StatusFailed, events[0].event.Status)
}
