package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bilgisen/contentgen/internal/models"
	"github.com/bilgisen/contentgen/internal/queue"
	"github.com/bilgisen/contentgen/internal/storage"
)

// ErrInvalidType is returned for content types outside the supported set.
var ErrInvalidType = errors.New("unsupported content type")

const (
	anonymousName  = "Anonymous"
	maxTitleLength = 80
)

// Enqueuer is the slice of the job queue the service needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any, opts queue.EnqueueOptions) (string, error)
}

// Service implements the content use cases behind the HTTP API.
type Service struct {
	store storage.ContentStore
	queue Enqueuer
	delay time.Duration
	log   zerolog.Logger
}

func NewService(store storage.ContentStore, q Enqueuer, delay time.Duration, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		queue: q,
		delay: delay,
		log:   log.With().Str("component", "content-service").Logger(),
	}
}

// GenerateInput is a user's content request.
type GenerateInput struct {
	Title  string
	Prompt string
	Type   models.ContentType
}

// GenerateResult describes the accepted request.
type GenerateResult struct {
	Content *models.Content
	JobID   string
	Delay   time.Duration
}

// Generate stores a pending item and schedules its generation after the configured delay.
func (s *Service) Generate(ctx context.Context, userID string, in GenerateInput) (*GenerateResult, error) {
	if !in.Type.Valid() {
		return nil, ErrInvalidType
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = titleFromPrompt(in.Prompt)
	}

	item := models.NewPendingContent(userID, title, in.Type)
	if err := s.store.Create(ctx, item); err != nil {
		return nil, err
	}

	jobID, err := s.queue.Enqueue(ctx, models.QueueContentGeneration, models.GenerateContentJob{
		Prompt:    in.Prompt,
		Type:      string(in.Type),
		UserID:    userID,
		ContentID: item.ID.Hex(),
	}, queue.EnqueueOptions{Delay: s.delay, JobID: item.ID.Hex()})
	if err != nil {
		failed := models.StatusFailed
		if _, uerr := s.store.Update(ctx, item.ID.Hex(), models.ContentUpdate{Status: &failed}); uerr != nil {
			s.log.Error().Err(uerr).Str("content_id", item.ID.Hex()).Msg("failed to mark unqueued content as failed")
		}
		return nil, fmt.Errorf("enqueue generation: %w", err)
	}

	s.log.Info().
		Str("content_id", item.ID.Hex()).
		Str("job_id", jobID).
		Str("user_id", userID).
		Dur("delay", s.delay).
		Msg("content generation scheduled")

	return &GenerateResult{Content: item, JobID: jobID, Delay: s.delay}, nil
}

// List returns the user's items, newest first, optionally filtered by title.
func (s *Service) List(ctx context.Context, userID, search string) ([]*models.Content, error) {
	return s.store.FindAll(ctx, models.ContentFilter{UserID: userID, Search: strings.TrimSpace(search)})
}

// Get returns one of the user's items.
func (s *Service) Get(ctx context.Context, id, userID string) (*models.Content, error) {
	return s.store.FindOwned(ctx, id, userID)
}

// GetPublished returns an item guests may see.
func (s *Service) GetPublished(ctx context.Context, id string) (*models.Content, error) {
	item, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !item.Published() {
		return nil, storage.ErrNotFound
	}
	return item, nil
}

// Update edits title, body or type of the user's item. Status is owned by the workers.
func (s *Service) Update(ctx context.Context, id, userID string, update models.ContentUpdate) (*models.Content, error) {
	if update.Type != nil && !update.Type.Valid() {
		return nil, ErrInvalidType
	}
	update.Status = nil

	item, err := s.store.FindOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if update.Empty() {
		return item, nil
	}
	return s.store.Update(ctx, id, update)
}

// Delete removes the user's item.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	return s.store.Delete(ctx, id, userID)
}

// AddComment appends a guest comment to a published item and queues its analysis.
func (s *Service) AddComment(ctx context.Context, contentID, name, body string) (*models.Comment, error) {
	if _, err := s.GetPublished(ctx, contentID); err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = anonymousName
	}
	comment := models.NewComment(name, strings.TrimSpace(body))
	if err := s.store.AddComment(ctx, contentID, comment); err != nil {
		return nil, err
	}

	_, err := s.queue.Enqueue(ctx, models.QueueCommentAnalysis, models.AnalyzeCommentJob{
		ContentID: contentID,
		CommentID: comment.ID.Hex(),
		Body:      comment.Body,
	}, queue.EnqueueOptions{JobID: comment.ID.Hex()})
	if err != nil {
		if uerr := s.store.UpdateCommentSentiment(ctx, contentID, comment.ID.Hex(), models.FailedSentiment()); uerr != nil {
			s.log.Error().Err(uerr).Str("comment_id", comment.ID.Hex()).Msg("failed to mark unqueued comment as errored")
		}
		return nil, fmt.Errorf("enqueue comment analysis: %w", err)
	}
	return &comment, nil
}

func titleFromPrompt(prompt string) string {
	title := strings.Join(strings.Fields(prompt), " ")
	runes := []rune(title)
	if len(runes) > maxTitleLength {
		title = string(runes[:maxTitleLength-3]) + "..."
	}
	return title
}
