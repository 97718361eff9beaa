package classifier

import (
	"context"
	"sort"

	"github.com/spec-kit/problem-service/internal/domain"
	"github.com/spec-kit/problem-service/internal/similarity"
)

const rulesConfidence = 60

type categoryRule struct {
	category        domain.Category
	keywords        []string
	recommendations []string
}

var categoryRules = []categoryRule{
	{
		category: domain.CategoryNetwork,
		keywords: []string{"vpn", "wifi", "network", "reseau", "dns", "dhcp", "latency", "firewall", "proxy", "switch", "router", "bandwidth"},
		recommendations: []string{
			"Check link and tunnel status on the affected site edge devices",
			"Compare failing clients against recent firewall or routing changes",
		},
	},
	{
		category: domain.CategoryEmail,
		keywords: []string{"email", "mail", "outlook", "mailbox", "messagerie", "smtp", "exchange", "calendar"},
		recommendations: []string{
			"Verify mailbox quota and connector health",
			"Check message trace for the affected senders",
		},
	},
	{
		category: domain.CategorySecurity,
		keywords: []string{"phishing", "malware", "virus", "breach", "mfa", "password", "locked", "suspicious", "ransomware", "certificate"},
		recommendations: []string{
			"Isolate affected accounts or hosts before remediation",
			"Review authentication logs for the reported window",
		},
	},
	{
		category: domain.CategoryHardware,
		keywords: []string{"printer", "laptop", "screen", "monitor", "keyboard", "mouse", "toner", "battery", "dock", "imprimante"},
		recommendations: []string{
			"Swap the device with a loaner and open a repair request",
			"Check firmware and driver versions against the fleet baseline",
		},
	},
	{
		category: domain.CategoryInfrastructure,
		keywords: []string{"server", "disk", "storage", "backup", "cluster", "database", "cpu", "memory", "datacenter", "serveur"},
		recommendations: []string{
			"Check capacity dashboards for the affected hosts",
			"Confirm the latest backup and failover status",
		},
	},
	{
		category: domain.CategoryApplication,
		keywords: []string{"application", "app", "crash", "login", "erp", "crm", "sap", "deploy", "release", "bug"},
		recommendations: []string{
			"Correlate failures with the latest application release",
			"Collect client logs and reproduce on a test account",
		},
	},
	{
		category: domain.CategoryServiceRequest,
		keywords: []string{"install", "access", "license", "onboarding", "account", "request", "permission", "acces"},
		recommendations: []string{
			"Route through the standard request catalogue with manager approval",
		},
	},
}

var priorityKeywords = []struct {
	priority domain.TicketPriority
	keywords []string
}{
	{domain.TicketPriorityCritical, []string{"outage", "down", "breach", "ransomware", "production", "panne"}},
	{domain.TicketPriorityHigh, []string{"urgent", "blocked", "unable", "failure", "bloque"}},
	{domain.TicketPriorityLow, []string{"question", "howto", "cosmetic", "minor"}},
}

// RuleClassifier is a deterministic keyword classifier. It answers only when at
// least one category keyword matches.
type RuleClassifier struct{}

// NewRuleClassifier returns the keyword classifier.
func NewRuleClassifier() *RuleClassifier { return &RuleClassifier{} }

func (*RuleClassifier) Name() string { return ProviderRules }

func (*RuleClassifier) Classify(_ context.Context, title, description string) Result {
	tokens := similarity.TokenSet(title + " " + description)
	if len(tokens) == 0 {
		return Unavailable()
	}

	type hit struct {
		rule  categoryRule
		score int
		order int
	}
	var hits []hit
	for i, rule := range categoryRules {
		score := 0
		for _, kw := range rule.keywords {
			if tokens.Has(kw) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, hit{rule: rule, score: score, order: i})
		}
	}
	if len(hits) == 0 {
		return Unavailable()
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].order < hits[j].order
	})
	best := hits[0].rule

	priority := domain.TicketPriorityMedium
	for _, pk := range priorityKeywords {
		if anyToken(tokens, pk.keywords) {
			priority = pk.priority
			break
		}
	}

	return Result{
		Available:       true,
		Priority:        priority,
		Category:        best.category,
		Recommendations: cleanRecommendations(best.recommendations),
		Confidence:      rulesConfidence,
	}
}

func anyToken(tokens similarity.Set, keywords []string) bool {
	for _, kw := range keywords {
		if tokens.Has(kw) {
			return true
		}
	}
	return false
}
