package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bilgisen/contentgen/internal/models"
)

var (
	scriptTagRe    = regexp.MustCompile(`(?i)<script[^>]*>[\s\S]*?</script>`)
	dangerousTagRe = regexp.MustCompile(`(?i)<(script|iframe|object|embed|link|meta)[^>]*>`)
	fenceRe        = regexp.MustCompile("```(?:json|JSON)?")
)

// ErrMalformedSentiment is returned when the model answer holds no usable JSON object.
var ErrMalformedSentiment = errors.New("malformed sentiment response")

type PostProcessor struct {
	maxBodyLength int
}

func NewPostProcessor() *PostProcessor {
	return &PostProcessor{
		maxBodyLength: 20000,
	}
}

// CleanGenerated strips markup that must never reach a browser and normalizes line endings.
func (p *PostProcessor) CleanGenerated(text string) string {
	text = scriptTagRe.ReplaceAllString(text, "")
	text = dangerousTagRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSpace(text)

	if len(text) > p.maxBodyLength {
		text = truncateRunes(text, p.maxBodyLength)
	}
	return text
}

// StripCodeFence removes markdown code fences the model sometimes wraps JSON in.
func StripCodeFence(s string) string {
	return strings.TrimSpace(fenceRe.ReplaceAllString(s, ""))
}

type sentimentAnswer struct {
	Score json.Number `json:"score"`
	Label string      `json:"label"`
}

// ParseSentiment extracts {score, label} from a model answer. On any problem it
// returns the neutral default together with the reason.
func (p *PostProcessor) ParseSentiment(raw string) (models.Sentiment, error) {
	clean := StripCodeFence(raw)

	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start < 0 || end <= start {
		return models.NeutralSentiment(), ErrMalformedSentiment
	}

	var answer sentimentAnswer
	if err := json.Unmarshal([]byte(clean[start:end+1]), &answer); err != nil {
		return models.NeutralSentiment(), fmt.Errorf("%w: %v", ErrMalformedSentiment, err)
	}

	score, err := answer.Score.Float64()
	if err != nil && answer.Score != "" {
		return models.NeutralSentiment(), fmt.Errorf("%w: score %q", ErrMalformedSentiment, answer.Score)
	}

	return models.Sentiment{
		Score: score,
		Label: models.SentimentLabel(answer.Label),
	}.Normalize(), nil
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
