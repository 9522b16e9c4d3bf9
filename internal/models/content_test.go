package models

import (
	"encoding/json"
	"testing"
)

func TestContentStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to ContentStatus
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusCompleted, true},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusFailed, StatusProcessing, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestNewPendingContent(t *testing.T) {
	c := NewPendingContent("user-1", "Alpha Launch", TypeArticle)

	if c.Status != StatusPending {
		t.Errorf("expected pending status, got %s", c.Status)
	}
	if c.Body != "Processing..." {
		t.Errorf("expected placeholder body, got %q", c.Body)
	}
	if c.Published() {
		t.Error("pending content must not be published")
	}
	if c.Comments == nil {
		t.Error("comments should be an empty list, not nil")
	}
}

func TestContentTypeValid(t *testing.T) {
	if !ContentType("Social Media Caption").Valid() {
		t.Error("expected Social Media Caption to be valid")
	}
	if ContentType("Limerick").Valid() {
		t.Error("expected unknown type to be rejected")
	}
}

func TestParseSentimentLabel(t *testing.T) {
	tests := map[string]SentimentLabel{
		"Positive":       LabelPositive,
		" negative ":     LabelNegative,
		"NEUTRAL":        LabelNeutral,
		"mixed feelings": LabelNeutral,
		"":               LabelNeutral,
	}
	for raw, want := range tests {
		if got := ParseSentimentLabel(raw); got != want {
			t.Errorf("ParseSentimentLabel(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestSentimentNormalizeClampsScore(t *testing.T) {
	got := Sentiment{Score: 3.5, Label: "positive"}.Normalize()
	if got.Score != 1 || got.Label != LabelPositive {
		t.Errorf("unexpected normalized sentiment: %+v", got)
	}

	got = Sentiment{Score: -7, Label: "Negative"}.Normalize()
	if got.Score != -1 {
		t.Errorf("expected -1, got %v", got.Score)
	}
}

func TestNewCommentStartsAnalyzing(t *testing.T) {
	c := NewComment("guest", "Nice post")

	if c.SentimentStatus != SentimentAnalyzing || c.SentimentStatus.IsTerminal() {
		t.Errorf("expected analyzing status, got %s", c.SentimentStatus)
	}
	if c.SentimentLabel != "Analyzing..." {
		t.Errorf("expected placeholder label, got %q", c.SentimentLabel)
	}
	if c.ID.IsZero() {
		t.Error("expected comment id to be assigned")
	}

	failed := FailedSentiment()
	if failed.Label != "Error" || failed.Score != 0 || failed.Status != SentimentError {
		t.Errorf("unexpected failure sentiment: %+v", failed)
	}
}

func TestContentEventOmitsBodyOnFailure(t *testing.T) {
	data, err := json.Marshal(ContentEvent{ContentID: "abc", Status: StatusFailed})
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("Failed to unmarshal JSON: %v", err)
	}

	if _, ok := result["body"]; ok {
		t.Errorf("expected no body field, got %v", result["body"])
	}
	if result["contentId"] != "abc" || result["status"] != "failed" {
		t.Errorf("unexpected payload: %v", result)
	}
}
