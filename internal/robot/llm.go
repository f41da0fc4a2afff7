package robot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/thinktank-hq/notebook/internal/telemetry"
)

// DefaultModel is the completion model used when none is configured.
// Claim work is cheap classification, so a Haiku-class model is enough.
const DefaultModel = "claude-haiku-4-5-20251001"

const (
	llmMaxRetries     = 3
	llmInitialBackoff = 1 * time.Second
	maxResponseTokens = 2048
)

var errAPIKeyRequired = errors.New("API key required")

// completer is the single LLM call the worker needs. Tests substitute
// a canned implementation.
type completer interface {
	complete(ctx context.Context, prompt string) (string, error)
}

// modelClient wraps the Anthropic API for prompt completions.
type modelClient struct {
	client         anthropic.Client
	model          anthropic.Model
	maxRetries     int
	initialBackoff time.Duration
}

// newModelClient creates an Anthropic-backed completer. Env var
// ANTHROPIC_API_KEY takes precedence over the explicit apiKey.
func newModelClient(apiKey, model string, opts ...option.RequestOption) (*modelClient, error) {
	envKey := os.Getenv("ANTHROPIC_API_KEY")
	if envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set the ANTHROPIC_API_KEY environment variable", errAPIKeyRequired)
	}
	if model == "" {
		model = DefaultModel
	}

	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := anthropic.NewClient(reqOpts...)

	aiMetricsOnce.Do(initAIMetrics)

	return &modelClient{
		client:         client,
		model:          anthropic.Model(model),
		maxRetries:     llmMaxRetries,
		initialBackoff: llmInitialBackoff,
	}, nil
}

// aiMetrics holds lazily-initialized OTel instruments for Anthropic
// API calls.
var aiMetrics struct {
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

var aiMetricsOnce sync.Once

func initAIMetrics() {
	m := telemetry.Meter("github.com/thinktank-hq/notebook/ai")
	aiMetrics.inputTokens, _ = m.Int64Counter("nb.ai.input_tokens",
		metric.WithDescription("Anthropic API input tokens consumed"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.outputTokens, _ = m.Int64Counter("nb.ai.output_tokens",
		metric.WithDescription("Anthropic API output tokens generated"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.duration, _ = m.Float64Histogram("nb.ai.request.duration",
		metric.WithDescription("Anthropic API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}

// complete sends one user prompt and returns the text response,
// retrying rate limits and server errors with exponential backoff.
func (m *modelClient) complete(ctx context.Context, prompt string) (string, error) {
	tracer := telemetry.Tracer("github.com/thinktank-hq/notebook/ai")
	ctx, span := tracer.Start(ctx, "anthropic.messages.new")
	defer span.End()
	span.SetAttributes(attribute.String("nb.ai.model", string(m.model)))

	var lastErr error
	params := anthropic.MessageNewParams{
		Model:     m.model,
		MaxTokens: maxResponseTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if attempt > 0 {
			wait := m.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		t0 := time.Now()
		message, err := m.client.Messages.New(ctx, params)
		ms := float64(time.Since(t0).Milliseconds())

		if err == nil {
			modelAttr := attribute.String("nb.ai.model", string(m.model))
			if aiMetrics.inputTokens != nil {
				aiMetrics.inputTokens.Add(ctx, message.Usage.InputTokens, metric.WithAttributes(modelAttr))
				aiMetrics.outputTokens.Add(ctx, message.Usage.OutputTokens, metric.WithAttributes(modelAttr))
				aiMetrics.duration.Record(ctx, ms, metric.WithAttributes(modelAttr))
			}
			span.SetAttributes(
				attribute.Int64("nb.ai.input_tokens", message.Usage.InputTokens),
				attribute.Int64("nb.ai.output_tokens", message.Usage.OutputTokens),
				attribute.Int("nb.ai.attempts", attempt+1),
			)

			if len(message.Content) == 0 {
				return "", fmt.Errorf("unexpected response format: no content blocks")
			}
			content := message.Content[0]
			if content.Type != "text" {
				return "", fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type)
			}
			return content.Text, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryable(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", fmt.Errorf("non-retryable error: %w", err)
		}
	}

	if lastErr != nil {
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, lastErr.Error())
	}
	return "", fmt.Errorf("failed after %d retries: %w", m.maxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		statusCode := apiErr.StatusCode
		if statusCode == 429 || statusCode >= 500 {
			return true
		}
		return false
	}

	return false
}
