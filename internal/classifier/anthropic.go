package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/spec-kit/problem-service/internal/config"
	"github.com/spec-kit/problem-service/internal/domain"
	"github.com/spec-kit/problem-service/internal/observability"
)

const (
	maxReplyTokens  = 512
	maxPromptRunes  = 4000
	initialInterval = 400 * time.Millisecond
)

const promptTemplate = `You classify IT service desk tickets.
Reply with a single JSON object and nothing else:
{"priority":"low|medium|high|critical","category":"%s","recommendations":["short actionable step", "..."],"confidence":0-100}

Title: %s
Description: %s`

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|passwd|pwd)[=:\s]+\S+`),
	regexp.MustCompile(`(?i)bearer\s+[a-z0-9\-_.]+`),
	regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
	regexp.MustCompile(`(?i)(postgres|mysql|redis|mongodb)://\S+`),
}

// AnthropicClassifier asks a Claude model to classify tickets.
type AnthropicClassifier struct {
	complete   func(ctx context.Context, prompt string) (string, error)
	timeout    time.Duration
	maxRetries int
	interval   time.Duration
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewAnthropicClassifier creates a classifier backed by the Messages API.
func NewAnthropicClassifier(cfg config.AIConfig, logger *zap.Logger, metrics *observability.Metrics) *AnthropicClassifier {
	client := anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey), option.WithMaxRetries(0))
	model := anthropic.Model(cfg.Model)
	return &AnthropicClassifier{
		complete: func(ctx context.Context, prompt string) (string, error) {
			message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
				Model:     model,
				MaxTokens: maxReplyTokens,
				Messages: []anthropic.MessageParam{
					anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
				},
			})
			if err != nil {
				return "", err
			}
			if len(message.Content) == 0 {
				return "", errors.New("unexpected response format: no content blocks")
			}
			content := message.Content[0]
			if content.Type != "text" {
				return "", fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type)
			}
			return content.Text, nil
		},
		timeout:    cfg.Timeout(),
		maxRetries: cfg.MaxRetries,
		interval:   initialInterval,
		logger:     logger,
		metrics:    metrics,
	}
}

func (a *AnthropicClassifier) Name() string { return ProviderAnthropic }

// Classify never returns an error: failures are logged and reported as Unavailable.
func (a *AnthropicClassifier) Classify(ctx context.Context, title, description string) Result {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	reply, err := a.callWithRetry(ctx, buildPrompt(title, description))
	if err != nil {
		a.logger.Warn("classifier unavailable", zap.Error(err))
		a.metrics.RecordClassifierCall("error")
		return Unavailable()
	}
	result, err := parseReply(reply)
	if err != nil {
		a.logger.Warn("classifier reply unusable", zap.Error(err))
		a.metrics.RecordClassifierCall("unparseable")
		return Unavailable()
	}
	a.metrics.RecordClassifierCall("ok")
	return result
}

func (a *AnthropicClassifier) callWithRetry(ctx context.Context, prompt string) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.interval
	bo.MaxElapsedTime = a.timeout

	var reply string
	retries := uint64(max(0, a.maxRetries))
	err := backoff.Retry(func() error {
		out, err := a.complete(ctx, prompt)
		if err == nil {
			reply = out
			return nil
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx))
	return reply, err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

func buildPrompt(title, description string) string {
	categories := make([]string, 0, len(domain.Categories))
	for _, c := range domain.Categories {
		categories = append(categories, string(c))
	}
	desc := []rune(redact(description))
	if len(desc) > maxPromptRunes {
		desc = desc[:maxPromptRunes]
	}
	return fmt.Sprintf(promptTemplate, strings.Join(categories, "|"), redact(title), string(desc))
}

// redact strips credentials and addresses before ticket text leaves the service.
func redact(text string) string {
	for _, p := range sensitivePatterns {
		text = p.ReplaceAllString(text, "[REDACTED]")
	}
	return text
}

type reply struct {
	Priority        string   `json:"priority"`
	Category        string   `json:"category"`
	Recommendations []string `json:"recommendations"`
	Confidence      float64  `json:"confidence"`
}

// parseReply reads the JSON object out of a model reply, tolerating code fences
// and surrounding prose. Unknown enum values are dropped rather than rejected.
func parseReply(text string) (Result, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Unavailable(), fmt.Errorf("no JSON object in reply")
	}
	var r reply
	if err := json.Unmarshal([]byte(text[start:end+1]), &r); err != nil {
		return Unavailable(), fmt.Errorf("decode reply: %w", err)
	}

	result := Result{Available: true, Recommendations: cleanRecommendations(r.Recommendations)}
	if p := domain.TicketPriority(strings.ToLower(strings.TrimSpace(r.Priority))); p.Rank() > 0 {
		result.Priority = p
	}
	if c := domain.Category(strings.ToLower(strings.TrimSpace(r.Category))); c.Valid() {
		result.Category = c
	}
	switch {
	case r.Confidence > 0 && r.Confidence <= 1:
		result.Confidence = int(r.Confidence*100 + 0.5)
	case r.Confidence > 1:
		result.Confidence = min(100, int(r.Confidence+0.5))
	}
	if result.Priority == "" && result.Category == "" && len(result.Recommendations) == 0 {
		return Unavailable(), fmt.Errorf("reply carried no usable fields")
	}
	return result, nil
}
