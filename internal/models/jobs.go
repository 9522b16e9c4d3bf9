package models

// Queue names
const (
	QueueContentGeneration = "content-generation"
	QueueCommentAnalysis   = "comment-analysis"
)

// EventContentGenerated is the real-time event name for generation results.
const EventContentGenerated = "content-generated"

// GenerateContentJob is the payload of a content-generation task.
type GenerateContentJob struct {
	Prompt    string `json:"prompt"`
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	ContentID string `json:"contentId"`
}

// AnalyzeCommentJob is the payload of a comment-analysis task.
type AnalyzeCommentJob struct {
	ContentID string `json:"contentId"`
	CommentID string `json:"commentId"`
	Body      string `json:"body"`
}

// ContentEvent is pushed to the submitting user when generation finishes.
type ContentEvent struct {
	ContentID string        `json:"contentId"`
	Status    ContentStatus `json:"status"`
	Body      string        `json:"body,omitempty"`
}
