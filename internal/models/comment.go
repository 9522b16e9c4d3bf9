package models

import (
	"math"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SentimentStatus tracks where a comment is in sentiment analysis.
type SentimentStatus string

const (
	SentimentAnalyzing SentimentStatus = "analyzing"
	SentimentAnalyzed  SentimentStatus = "analyzed"
	SentimentError     SentimentStatus = "error"
)

// IsTerminal returns true once analysis has produced a result or failed.
func (s SentimentStatus) IsTerminal() bool {
	return s == SentimentAnalyzed || s == SentimentError
}

// SentimentLabel is the user-facing sentiment label.
type SentimentLabel string

const (
	LabelAnalyzing SentimentLabel = "Analyzing..."
	LabelPositive  SentimentLabel = "Positive"
	LabelNeutral   SentimentLabel = "Neutral"
	LabelNegative  SentimentLabel = "Negative"
	LabelError     SentimentLabel = "Error"
)

// ParseSentimentLabel maps a model-produced label onto a classification label.
// Unknown labels become Neutral.
func ParseSentimentLabel(raw string) SentimentLabel {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "positive":
		return LabelPositive
	case "negative":
		return LabelNegative
	default:
		return LabelNeutral
	}
}

// Sentiment is a classification result.
type Sentiment struct {
	Score float64        `json:"score"`
	Label SentimentLabel `json:"label"`
}

// NeutralSentiment is used when the model output cannot be parsed.
func NeutralSentiment() Sentiment {
	return Sentiment{Score: 0, Label: LabelNeutral}
}

// Normalize clamps the score to [-1, 1] and canonicalizes the label.
func (s Sentiment) Normalize() Sentiment {
	score := s.Score
	if math.IsNaN(score) {
		score = 0
	}
	return Sentiment{
		Score: math.Max(-1, math.Min(1, score)),
		Label: ParseSentimentLabel(string(s.Label)),
	}
}

// Comment is a guest comment embedded in a content item.
type Comment struct {
	ID              primitive.ObjectID `bson:"_id" json:"id"`
	Name            string             `bson:"name" json:"name"`
	Body            string             `bson:"body" json:"body"`
	SentimentScore  float64            `bson:"sentimentScore" json:"sentimentScore"`
	SentimentLabel  SentimentLabel     `bson:"sentimentLabel" json:"sentimentLabel"`
	SentimentStatus SentimentStatus    `bson:"sentimentStatus" json:"sentimentStatus"`
	CreatedAt       time.Time          `bson:"createdAt" json:"createdAt"`
}

// NewComment builds a comment awaiting analysis.
func NewComment(name, body string) Comment {
	return Comment{
		ID:              primitive.NewObjectID(),
		Name:            name,
		Body:            body,
		SentimentLabel:  LabelAnalyzing,
		SentimentStatus: SentimentAnalyzing,
		CreatedAt:       time.Now().UTC(),
	}
}

// CommentSentiment is the terminal sentiment written onto a comment.
type CommentSentiment struct {
	Status SentimentStatus
	Score  float64
	Label  SentimentLabel
}

// AnalyzedSentiment wraps a successful classification.
func AnalyzedSentiment(s Sentiment) CommentSentiment {
	n := s.Normalize()
	return CommentSentiment{Status: SentimentAnalyzed, Score: n.Score, Label: n.Label}
}

// FailedSentiment marks a comment whose analysis failed.
func FailedSentiment() CommentSentiment {
	return CommentSentiment{Status: SentimentError, Score: 0, Label: LabelError}
}
