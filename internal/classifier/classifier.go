// Package classifier wraps the ticket classifier the problem engine consults for
// priority, category and remediation hints. Every implementation degrades to an
// Unavailable result instead of failing, so callers always take the fallback path
// explicitly.
package classifier

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/problem-service/internal/config"
	"github.com/spec-kit/problem-service/internal/domain"
	"github.com/spec-kit/problem-service/internal/observability"
	"github.com/spec-kit/problem-service/internal/persistence"
)

// Provider names accepted in AI_PROVIDER.
const (
	ProviderAnthropic = "anthropic"
	ProviderRules     = "rules"
	ProviderNone      = "none"
)

const maxRecommendations = 5

// Result is the outcome of one classification. When Available is false every
// other field is zero and callers must use their own fallback.
type Result struct {
	Available       bool                  `json:"available"`
	Priority        domain.TicketPriority `json:"priority,omitempty"`
	Category        domain.Category       `json:"category,omitempty"`
	Recommendations []string              `json:"recommendations,omitempty"`
	// Confidence is the classifier's own 0-100 score, 0 when it does not score itself.
	Confidence int `json:"confidence,omitempty"`
}

// Unavailable is the degraded result.
func Unavailable() Result { return Result{} }

// Classifier classifies free ticket text.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, title, description string) Result
}

// None never answers.
type None struct{}

func (None) Name() string { return ProviderNone }

func (None) Classify(context.Context, string, string) Result { return Unavailable() }

// New builds the configured classifier, wrapped in the Redis result cache when
// Redis is available and caching is enabled.
func New(cfg config.AIConfig, rdb *persistence.Redis, logger *zap.Logger, metrics *observability.Metrics) Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	var c Classifier
	switch cfg.Provider {
	case ProviderAnthropic:
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			logger.Warn("ANTHROPIC_API_KEY not set; falling back to rule classifier")
			c = NewRuleClassifier()
			break
		}
		c = NewAnthropicClassifier(cfg, logger, metrics)
	case ProviderNone:
		c = None{}
	case ProviderRules, "":
		c = NewRuleClassifier()
	default:
		logger.Warn("unknown AI_PROVIDER; using rule classifier", zap.String("provider", cfg.Provider))
		c = NewRuleClassifier()
	}

	if ttl := cfg.CacheTTL(); ttl > 0 && rdb != nil && rdb.Client != nil && c.Name() != ProviderNone {
		c = NewCached(c, rdb.Client, ttl, logger, metrics)
	}
	logger.Info("classifier configured", zap.String("provider", c.Name()))
	return c
}

// cleanRecommendations trims, drops empties and case-insensitive duplicates, and caps the list.
func cleanRecommendations(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		key := strings.ToLower(r)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
		if len(out) == maxRecommendations {
			break
		}
	}
	return out
}
