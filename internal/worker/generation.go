package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bilgisen/contentgen/internal/ai"
	"github.com/bilgisen/contentgen/internal/archive"
	"github.com/bilgisen/contentgen/internal/cache"
	"github.com/bilgisen/contentgen/internal/models"
	"github.com/bilgisen/contentgen/internal/queue"
	"github.com/bilgisen/contentgen/internal/storage"
)

// ErrGenerationFailed reports a redelivered task whose item already failed.
var ErrGenerationFailed = errors.New("generation already failed")

// Notifier pushes a content event to a user's open connections.
type Notifier interface {
	Notify(ctx context.Context, userID string, event models.ContentEvent) error
}

// GenerationWorker handles content-generation jobs.
type GenerationWorker struct {
	store    storage.ContentStore
	client   ai.Client
	notifier Notifier
	dedupe   cache.Deduper
	archiver archive.Archiver
	log      zerolog.Logger
}

var _ Handler = (*GenerationWorker)(nil)

// NewGenerationWorker wires the worker. dedupe and archiver may be nil.
func NewGenerationWorker(
	store storage.ContentStore,
	client ai.Client,
	notifier Notifier,
	dedupe cache.Deduper,
	archiver archive.Archiver,
	log zerolog.Logger,
) *GenerationWorker {
	if archiver == nil {
		archiver = archive.Nop{}
	}
	return &GenerationWorker{
		store:    store,
		client:   client,
		notifier: notifier,
		dedupe:   dedupe,
		archiver: archiver,
		log:      log.With().Str("component", "generation-worker").Logger(),
	}
}

func (w *GenerationWorker) Handle(ctx context.Context, job *queue.Job) error {
	var task models.GenerateContentJob
	if err := job.Decode(&task); err != nil {
		return err
	}

	key := job.Queue + ":" + job.ID
	if w.dedupe != nil {
		done, err := w.dedupe.IsProcessed(ctx, key)
		if err != nil {
			w.log.Warn().Err(err).Str("job_id", job.ID).Msg("dedupe lookup failed")
		} else if done {
			w.log.Info().Str("job_id", job.ID).Str("content_id", task.ContentID).Msg("duplicate delivery skipped")
			return nil
		}
	}

	if err := w.process(ctx, task, finalAttempt(job)); err != nil {
		return err
	}

	if w.dedupe != nil {
		if err := w.dedupe.MarkProcessed(ctx, key); err != nil {
			w.log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to mark job processed")
		}
	}
	return nil
}

// Process runs one generation task as its last attempt: generate, persist, then notify.
func (w *GenerationWorker) Process(ctx context.Context, task models.GenerateContentJob) error {
	return w.process(ctx, task, true)
}

// process runs task. Unless final is set, a retryable failure leaves the item
// processing so the next attempt can still complete it.
func (w *GenerationWorker) process(ctx context.Context, task models.GenerateContentJob, final bool) error {
	log := w.log.With().Str("content_id", task.ContentID).Str("user_id", task.UserID).Logger()

	processing := models.StatusProcessing
	if _, err := w.store.Update(ctx, task.ContentID, models.ContentUpdate{Status: &processing}); err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			return w.renotify(ctx, task, log)
		}
		return w.fail(ctx, task, wrapStoreErr(task.ContentID, err), final, log)
	}

	text, err := w.client.Generate(ctx, task.Prompt, models.ContentType(task.Type))
	if err != nil {
		return w.fail(ctx, task, fmt.Errorf("generate content: %w", err), final, log)
	}

	completed := models.StatusCompleted
	item, err := w.store.Update(ctx, task.ContentID, models.ContentUpdate{Body: &text, Status: &completed})
	if err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			return w.renotify(ctx, task, log)
		}
		return w.fail(ctx, task, wrapStoreErr(task.ContentID, err), final, log)
	}

	w.notify(ctx, task.UserID, models.ContentEvent{
		ContentID: task.ContentID,
		Status:    models.StatusCompleted,
		Body:      text,
	}, log)

	if err := w.archiver.Archive(ctx, item); err != nil {
		log.Warn().Err(err).Msg("failed to archive content")
	}

	log.Info().Msg("content generated")
	return nil
}

// fail persists the failed status, notifies, and returns cause for the queue.
// Interrupted jobs and attempts the queue will retry record nothing.
func (w *GenerationWorker) fail(ctx context.Context, task models.GenerateContentJob, cause error, final bool, log zerolog.Logger) error {
	if Interrupted(ctx) {
		log.Warn().Err(cause).Msg("generation interrupted by shutdown")
		return cause
	}
	if !final && !queue.IsPermanent(cause) {
		log.Warn().Err(cause).Msg("generation attempt failed, will retry")
		return cause
	}

	writeCtx, cancel := detached(ctx)
	defer cancel()

	failed := models.StatusFailed
	_, err := w.store.Update(writeCtx, task.ContentID, models.ContentUpdate{Status: &failed})
	switch {
	case errors.Is(err, storage.ErrInvalidTransition):
		// Another delivery already finished the item; its outcome stands.
		log.Warn().Err(cause).Msg("generation failed after item reached a terminal state")
		return cause
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		log.Error().Err(err).Msg("failed to persist failed status")
	}

	w.notify(writeCtx, task.UserID, models.ContentEvent{
		ContentID: task.ContentID,
		Status:    models.StatusFailed,
	}, log)

	log.Error().Err(cause).Msg("content generation failed")
	return cause
}

// renotify handles a redelivered task whose item is already terminal by
// pushing the stored outcome again. A stored failure is returned as a permanent
// error so the queue counts the job as failed.
func (w *GenerationWorker) renotify(ctx context.Context, task models.GenerateContentJob, log zerolog.Logger) error {
	item, err := w.store.FindByID(ctx, task.ContentID)
	if err != nil {
		return wrapStoreErr(task.ContentID, err)
	}

	event := models.ContentEvent{ContentID: task.ContentID, Status: item.Status}
	if item.Status == models.StatusCompleted {
		event.Body = item.Body
	}
	log.Info().Str("status", string(item.Status)).Msg("item already terminal, repeating notification")
	w.notify(ctx, task.UserID, event, log)
	if item.Status == models.StatusFailed {
		return queue.Permanent(fmt.Errorf("content %s: %w", task.ContentID, ErrGenerationFailed))
	}
	return nil
}

func (w *GenerationWorker) notify(ctx context.Context, userID string, event models.ContentEvent, log zerolog.Logger) {
	if err := w.notifier.Notify(ctx, userID, event); err != nil {
		log.Warn().Err(err).Str("status", string(event.Status)).Msg("failed to send notification")
	}
}

// wrapStoreErr makes a missing record a permanent failure.
func wrapStoreErr(contentID string, err error) error {
	err = fmt.Errorf("content %s: %w", contentID, err)
	if errors.Is(err, storage.ErrNotFound) {
		return queue.Permanent(err)
	}
	return err
}

// finalAttempt reports whether the queue will not redeliver job after a failure.
func finalAttempt(job *queue.Job) bool {
	return job.MaxAttempts <= 0 || job.Attempts >= job.MaxAttempts
}

// detached returns a context that survives cancellation of ctx for a short write.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}
