package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/bilgisen/contentgen/internal/models"
)

// MemoryStore keeps everything in process memory. It backs STORE_DRIVER=memory and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	contents map[primitive.ObjectID]*models.Content
	users    map[primitive.ObjectID]*models.User
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contents: make(map[primitive.ObjectID]*models.Content),
		users:    make(map[primitive.ObjectID]*models.User),
	}
}

func (s *MemoryStore) Create(ctx context.Context, item *models.Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID.IsZero() {
		item.ID = primitive.NewObjectID()
	}
	if item.Comments == nil {
		item.Comments = []models.Comment{}
	}
	s.contents[item.ID] = cloneContent(item)
	return nil
}

func (s *MemoryStore) FindAll(ctx context.Context, filter models.ContentFilter) ([]*models.Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(filter.Search)
	items := make([]*models.Content, 0)
	for _, item := range s.contents {
		if item.UserID != filter.UserID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(item.Title), search) {
			continue
		}
		items = append(items, cloneContent(item))
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (*models.Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.contents[oid]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneContent(item), nil
}

func (s *MemoryStore) FindOwned(ctx context.Context, id, userID string) (*models.Content, error) {
	item, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.UserID != userID {
		return nil, ErrNotFound
	}
	return item, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, update models.ContentUpdate) (*models.Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.contents[oid]
	if !ok {
		return nil, ErrNotFound
	}
	if update.Status != nil && !item.Status.CanTransitionTo(*update.Status) {
		return nil, ErrInvalidTransition
	}

	if update.Title != nil {
		item.Title = *update.Title
	}
	if update.Body != nil {
		item.Body = *update.Body
	}
	if update.Type != nil {
		item.Type = *update.Type
	}
	if update.Status != nil {
		item.Status = *update.Status
	}
	item.UpdatedAt = time.Now().UTC()

	return cloneContent(item), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	oid, err := parseID(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.contents[oid]
	if !ok || item.UserID != userID {
		return ErrNotFound
	}
	delete(s.contents, oid)
	return nil
}

func (s *MemoryStore) AddComment(ctx context.Context, contentID string, comment models.Comment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	oid, err := parseID(contentID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.contents[oid]
	if !ok {
		return ErrNotFound
	}
	item.Comments = append(item.Comments, comment)
	return nil
}

func (s *MemoryStore) UpdateCommentSentiment(ctx context.Context, contentID, commentID string, sentiment models.CommentSentiment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	oid, err := parseID(contentID)
	if err != nil {
		return err
	}
	cid, err := parseID(commentID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.contents[oid]
	if !ok {
		return ErrNotFound
	}
	comment, ok := item.FindComment(cid)
	if !ok {
		return ErrNotFound
	}
	if comment.SentimentStatus.IsTerminal() {
		return ErrInvalidTransition
	}

	comment.SentimentStatus = sentiment.Status
	comment.SentimentScore = sentiment.Score
	comment.SentimentLabel = sentiment.Label
	return nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == user.Email {
			return ErrDuplicateEmail
		}
	}
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	copied := *user
	s.users[user.ID] = &copied
	return nil
}

func (s *MemoryStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[oid]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func cloneContent(item *models.Content) *models.Content {
	copied := *item
	copied.Comments = append([]models.Comment(nil), item.Comments...)
	if copied.Comments == nil {
		copied.Comments = []models.Comment{}
	}
	return &copied
}
