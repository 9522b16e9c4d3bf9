package ai

import (
	"fmt"
	"strings"
)

// PromptTemplates holds the prompts sent to the model.
var PromptTemplates = struct {
	Generate  string
	Sentiment string
	Fallback  string
}{
	Generate: `Generate a %s based on the following topic: %s. Return only the content text.`,

	Sentiment: `Analyze the sentiment of the following text and return a JSON object with "score" (from -1 to 1) and "label" (Positive, Neutral, Negative). Return ONLY the JSON: "%s"`,

	Fallback: `[OLLAMA FALLBACK] This is a generated %s about: %s. (Error connecting to Ollama: %s)`,
}

// BuildGeneratePrompt creates the prompt for a content request.
func BuildGeneratePrompt(contentType, prompt string) string {
	return fmt.Sprintf(PromptTemplates.Generate, contentType, strings.TrimSpace(prompt))
}

// BuildSentimentPrompt creates the prompt for classifying text.
func BuildSentimentPrompt(text string) string {
	return fmt.Sprintf(PromptTemplates.Sentiment, escapeForPrompt(text))
}

// FallbackText is returned by Generate when the model cannot be reached.
func FallbackText(contentType, prompt string, cause error) string {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	return fmt.Sprintf(PromptTemplates.Fallback, contentType, prompt, reason)
}

// escapeForPrompt keeps quoted user text on one line inside the prompt.
func escapeForPrompt(s string) string {
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	return strings.TrimSpace(s)
}
