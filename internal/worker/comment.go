package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/bilgisen/contentgen/internal/ai"
	"github.com/bilgisen/contentgen/internal/models"
	"github.com/bilgisen/contentgen/internal/queue"
	"github.com/bilgisen/contentgen/internal/storage"
)

// CommentWorker handles comment-analysis jobs. It sends no notifications.
type CommentWorker struct {
	store  storage.ContentStore
	client ai.Client
	log    zerolog.Logger
}

var _ Handler = (*CommentWorker)(nil)

func NewCommentWorker(store storage.ContentStore, client ai.Client, log zerolog.Logger) *CommentWorker {
	return &CommentWorker{
		store:  store,
		client: client,
		log:    log.With().Str("component", "comment-worker").Logger(),
	}
}

func (w *CommentWorker) Handle(ctx context.Context, job *queue.Job) error {
	var task models.AnalyzeCommentJob
	if err := job.Decode(&task); err != nil {
		return err
	}
	return w.process(ctx, task, finalAttempt(job))
}

// ErrAnalysisFailed reports a redelivered task whose comment is already labelled Error.
var ErrAnalysisFailed = errors.New("sentiment analysis already failed")

// Process classifies the comment body and writes the result onto that comment only.
// It runs as the task's last attempt.
func (w *CommentWorker) Process(ctx context.Context, task models.AnalyzeCommentJob) error {
	return w.process(ctx, task, true)
}

func (w *CommentWorker) process(ctx context.Context, task models.AnalyzeCommentJob, final bool) error {
	log := w.log.With().Str("content_id", task.ContentID).Str("comment_id", task.CommentID).Logger()

	sentiment, err := w.client.AnalyzeSentiment(ctx, task.Body)
	if err != nil {
		return w.fail(ctx, task, fmt.Errorf("analyze sentiment: %w", err), final, log)
	}

	err = w.store.UpdateCommentSentiment(ctx, task.ContentID, task.CommentID, models.AnalyzedSentiment(sentiment))
	switch {
	case err == nil:
		log.Debug().Str("label", string(sentiment.Label)).Msg("comment analyzed")
		return nil
	case errors.Is(err, storage.ErrInvalidTransition):
		return w.duplicate(ctx, task, log)
	case errors.Is(err, storage.ErrNotFound):
		return queue.Permanent(fmt.Errorf("comment %s on content %s: %w", task.CommentID, task.ContentID, err))
	default:
		return w.fail(ctx, task, fmt.Errorf("store sentiment: %w", err), final, log)
	}
}

// duplicate settles a redelivered task whose comment already holds a result.
// A stored Error label is reported as a permanent failure.
func (w *CommentWorker) duplicate(ctx context.Context, task models.AnalyzeCommentJob, log zerolog.Logger) error {
	item, err := w.store.FindByID(ctx, task.ContentID)
	if err != nil {
		return wrapStoreErr(task.ContentID, err)
	}
	cid, err := primitive.ObjectIDFromHex(task.CommentID)
	if err != nil {
		return queue.Permanent(fmt.Errorf("comment %s: %w", task.CommentID, storage.ErrNotFound))
	}
	comment, ok := item.FindComment(cid)
	if ok && comment.SentimentStatus == models.SentimentError {
		return queue.Permanent(fmt.Errorf("comment %s on content %s: %w", task.CommentID, task.ContentID, ErrAnalysisFailed))
	}
	log.Info().Msg("comment already analyzed, duplicate delivery ignored")
	return nil
}

// fail labels the comment Error and returns cause for the queue. Interrupted
// jobs and attempts the queue will retry leave the comment analyzing.
func (w *CommentWorker) fail(ctx context.Context, task models.AnalyzeCommentJob, cause error, final bool, log zerolog.Logger) error {
	if Interrupted(ctx) {
		log.Warn().Err(cause).Msg("comment analysis interrupted by shutdown")
		return cause
	}
	if !final && !queue.IsPermanent(cause) {
		log.Warn().Err(cause).Msg("comment analysis attempt failed, will retry")
		return cause
	}

	writeCtx, cancel := detached(ctx)
	defer cancel()

	err := w.store.UpdateCommentSentiment(writeCtx, task.ContentID, task.CommentID, models.FailedSentiment())
	if err != nil && !errors.Is(err, storage.ErrInvalidTransition) {
		log.Error().Err(err).Msg("failed to persist sentiment error")
	}

	log.Error().Err(cause).Msg("comment analysis failed")
	return cause
}
