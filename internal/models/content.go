package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PendingBody is the body of a content item until its generation job finishes.
const PendingBody = "Processing..."

// ContentStatus is the lifecycle status of a content item.
type ContentStatus string

const (
	StatusPending    ContentStatus = "pending"
	StatusProcessing ContentStatus = "processing"
	StatusCompleted  ContentStatus = "completed"
	StatusFailed     ContentStatus = "failed"
)

// IsTerminal returns true once the generation outcome is known.
func (s ContentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s ContentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether a record in status s may be written with target.
// Re-writing the same terminal status is allowed so duplicate job deliveries stay harmless.
func (s ContentStatus) CanTransitionTo(target ContentStatus) bool {
	switch s {
	case StatusPending:
		return target == StatusPending || target == StatusProcessing || target.IsTerminal()
	case StatusProcessing:
		return target == StatusProcessing || target.IsTerminal()
	case StatusCompleted, StatusFailed:
		return s == target
	}
	return false
}

// ContentType is one of the fixed content categories a user can request.
type ContentType string

const (
	TypeBlogPostOutline    ContentType = "Blog Post Outline"
	TypeProductDescription ContentType = "Product Description"
	TypeSocialMediaCaption ContentType = "Social Media Caption"
	TypeEmailDraft         ContentType = "Email Draft"
	TypeArticle            ContentType = "Article"
)

// ContentTypes lists the supported categories in display order.
func ContentTypes() []ContentType {
	return []ContentType{
		TypeBlogPostOutline,
		TypeProductDescription,
		TypeSocialMediaCaption,
		TypeEmailDraft,
		TypeArticle,
	}
}

// Valid reports whether t is a supported category.
func (t ContentType) Valid() bool {
	for _, known := range ContentTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Content is a generated piece of content together with its guest comments.
type Content struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title          string             `bson:"title" json:"title"`
	Body           string             `bson:"body" json:"body"`
	Type           ContentType        `bson:"type" json:"type"`
	UserID         string             `bson:"userId" json:"userId"`
	Status         ContentStatus      `bson:"status" json:"status"`
	SentimentScore *float64           `bson:"sentimentScore,omitempty" json:"sentimentScore,omitempty"`
	SentimentLabel *SentimentLabel    `bson:"sentimentLabel,omitempty" json:"sentimentLabel,omitempty"`
	Comments       []Comment          `bson:"comments" json:"comments"`
	CreatedAt      time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// NewPendingContent builds the record written at submission time.
func NewPendingContent(userID, title string, contentType ContentType) *Content {
	now := time.Now().UTC()
	return &Content{
		Title:     title,
		Body:      PendingBody,
		Type:      contentType,
		UserID:    userID,
		Status:    StatusPending,
		Comments:  []Comment{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Published reports whether guests may see the item.
func (c *Content) Published() bool {
	return c.Status == StatusCompleted
}

// FindComment returns the comment with the given id.
func (c *Content) FindComment(id primitive.ObjectID) (*Comment, bool) {
	for i := range c.Comments {
		if c.Comments[i].ID == id {
			return &c.Comments[i], true
		}
	}
	return nil, false
}

// ContentUpdate carries the fields of an overwrite-style update. Nil fields are left alone.
type ContentUpdate struct {
	Title  *string
	Body   *string
	Type   *ContentType
	Status *ContentStatus
}

// Empty reports whether the update changes nothing.
func (u ContentUpdate) Empty() bool {
	return u.Title == nil && u.Body == nil && u.Type == nil && u.Status == nil
}

// ContentFilter selects a user's content items.
type ContentFilter struct {
	UserID string
	// Search is a case-insensitive substring of the title.
	Search string
}
