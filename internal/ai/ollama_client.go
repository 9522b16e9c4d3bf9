package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/bilgisen/contentgen/internal/metrics"
	"github.com/bilgisen/contentgen/internal/models"
)

// Client is the inference port used by the workers.
type Client interface {
	// Generate returns generated text. When the model is unreachable it returns
	// fallback text and no error; it only fails when ctx is done.
	Generate(ctx context.Context, prompt string, contentType models.ContentType) (string, error)
	// AnalyzeSentiment classifies text. Unparseable answers yield the neutral default.
	AnalyzeSentiment(ctx context.Context, text string) (models.Sentiment, error)
}

// Config configures the Ollama client.
type Config struct {
	Host    string
	Model   string
	Timeout time.Duration
}

type OllamaClient struct {
	client  *resty.Client
	model   string
	breaker *gobreaker.CircuitBreaker
	post    *PostProcessor
	log     zerolog.Logger
}

var _ Client = (*OllamaClient)(nil)

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func NewOllamaClient(cfg Config, log zerolog.Logger) *OllamaClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	log = log.With().Str("component", "ollama").Logger()

	settings := gobreaker.Settings{
		Name:        "ollama",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Cancelled callers do not count against the model.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}

	return &OllamaClient{
		client: resty.New().
			SetBaseURL(strings.TrimRight(cfg.Host, "/")).
			SetTimeout(cfg.Timeout).
			SetHeader("Content-Type", "application/json"),
		model:   cfg.Model,
		breaker: gobreaker.NewCircuitBreaker(settings),
		post:    NewPostProcessor(),
		log:     log,
	}
}

func (o *OllamaClient) Generate(ctx context.Context, prompt string, contentType models.ContentType) (string, error) {
	started := time.Now()

	text, err := o.complete(ctx, BuildGeneratePrompt(string(contentType), prompt))
	if err == nil {
		text = o.post.CleanGenerated(text)
		if text == "" {
			err = errors.New("empty response from model")
		}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			metrics.ObserveInference("generate", "error", started)
			return "", ctxErr
		}
		o.log.Warn().Err(err).Str("type", string(contentType)).Msg("generation failed, using fallback text")
		metrics.ObserveInference("generate", "fallback", started)
		return FallbackText(string(contentType), prompt, err), nil
	}

	metrics.ObserveInference("generate", "ok", started)
	return text, nil
}

func (o *OllamaClient) AnalyzeSentiment(ctx context.Context, text string) (models.Sentiment, error) {
	started := time.Now()

	answer, err := o.complete(ctx, BuildSentimentPrompt(text))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			metrics.ObserveInference("sentiment", "error", started)
			return models.Sentiment{}, ctxErr
		}
		o.log.Warn().Err(err).Msg("sentiment analysis failed, using neutral default")
		metrics.ObserveInference("sentiment", "fallback", started)
		return models.NeutralSentiment(), nil
	}

	sentiment, err := o.post.ParseSentiment(answer)
	if err != nil {
		o.log.Warn().Err(err).Str("answer", answer).Msg("unparseable sentiment answer")
		metrics.ObserveInference("sentiment", "malformed", started)
		return sentiment, nil
	}

	metrics.ObserveInference("sentiment", "ok", started)
	return sentiment, nil
}

// complete sends one non-streaming generate request through the circuit breaker.
func (o *OllamaClient) complete(ctx context.Context, prompt string) (string, error) {
	out, err := o.breaker.Execute(func() (interface{}, error) {
		var result generateResponse
		resp, err := o.client.R().
			SetContext(ctx).
			SetBody(generateRequest{Model: o.model, Prompt: prompt, Stream: false}).
			SetResult(&result).
			SetError(&result).
			Post("/api/generate")
		if err != nil {
			return nil, fmt.Errorf("API request failed: %w", err)
		}
		if resp.IsError() {
			if result.Error != "" {
				return nil, fmt.Errorf("API error %d: %s", resp.StatusCode(), result.Error)
			}
			return nil, fmt.Errorf("API error: status %d", resp.StatusCode())
		}
		return result.Response, nil
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}
