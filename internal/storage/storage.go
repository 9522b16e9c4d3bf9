package storage

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/bilgisen/contentgen/internal/models"
)

var (
	// ErrNotFound is returned when the target record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when an update would move a record out of a terminal state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrDuplicateEmail is returned when registering an email twice.
	ErrDuplicateEmail = errors.New("email already registered")
)

// ContentStore persists content items and their embedded comments.
//
// Every mutation is an overwrite of named fields, so applying the same call twice leaves
// the record as a single application would. Workers rely on this under redelivery.
type ContentStore interface {
	// Create assigns an id to item and stores it.
	Create(ctx context.Context, item *models.Content) error
	// FindAll returns the user's items, newest first.
	FindAll(ctx context.Context, filter models.ContentFilter) ([]*models.Content, error)
	FindByID(ctx context.Context, id string) (*models.Content, error)
	// FindOwned returns the item only when userID owns it.
	FindOwned(ctx context.Context, id, userID string) (*models.Content, error)
	// Update overwrites the non-nil fields. A status change that leaves a terminal
	// state fails with ErrInvalidTransition.
	Update(ctx context.Context, id string, update models.ContentUpdate) (*models.Content, error)
	// Delete removes the item when userID owns it.
	Delete(ctx context.Context, id, userID string) error
	// AddComment appends a comment, preserving insertion order.
	AddComment(ctx context.Context, contentID string, comment models.Comment) error
	// UpdateCommentSentiment writes the terminal sentiment of one comment without touching
	// its siblings. A comment that already has a terminal sentiment yields ErrInvalidTransition.
	UpdateCommentSentiment(ctx context.Context, contentID, commentID string, sentiment models.CommentSentiment) error
}

// UserStore persists registered users.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByID(ctx context.Context, id string) (*models.User, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	ContentStore
	UserStore
}

func parseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, ErrNotFound
	}
	return oid, nil
}

// statusesAllowing lists the statuses from which a write of target is accepted.
func statusesAllowing(target models.ContentStatus) []models.ContentStatus {
	all := []models.ContentStatus{
		models.StatusPending,
		models.StatusProcessing,
		models.StatusCompleted,
		models.StatusFailed,
	}
	var out []models.ContentStatus
	for _, s := range all {
		if s.CanTransitionTo(target) {
			out = append(out, s)
		}
	}
	return out
}
