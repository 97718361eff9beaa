package service

import (
	"context"
	"sort"
	"strings"

	"github.com/spec-kit/problem-service/internal/domain"
	apperrors "github.com/spec-kit/problem-service/pkg/util/errorutil"
)

// Suggestion provenance, strongest first.
const (
	SourceExisting       = "existing"
	SourceResolvedTicket = "resolved_ticket"
	SourceAI             = "ai"
	SourceFallback       = "fallback"
)

var sourceConfidence = map[string]int{
	SourceExisting:       92,
	SourceResolvedTicket: 86,
	SourceAI:             78,
	SourceFallback:       66,
}

const (
	rankDecay             = 2
	maxResolvedComments   = 3
	maxDescriptionTickets = 5
)

// Suggestion is one ranked remediation hint.
type Suggestion struct {
	Text       string `json:"text"`
	Source     string `json:"source"`
	Confidence int    `json:"confidence"`
}

// FieldSuggestion proposes a value for one problem field.
type FieldSuggestion struct {
	Text       string `json:"text"`
	Source     string `json:"source"`
	Confidence int    `json:"confidence"`
}

// SuggestionSet is the read-only output of BuildProblemAISuggestions.
type SuggestionSet struct {
	ProblemID           string           `json:"problem_id"`
	Suggestions         []Suggestion     `json:"suggestions"`
	RootCause           *FieldSuggestion `json:"root_cause_suggestion,omitempty"`
	Workaround          *FieldSuggestion `json:"workaround_suggestion,omitempty"`
	PermanentFix        *FieldSuggestion `json:"permanent_fix_suggestion,omitempty"`
	ClassifierAvailable bool             `json:"classifier_available"`
}

// BuildProblemAISuggestions ranks remediation hints for a problem from its own
// fields, resolved linked tickets, the classifier and the category fallbacks,
// in that order. A classifier failure only drops its contribution. limit <= 0
// uses the configured default.
func (s *ProblemService) BuildProblemAISuggestions(ctx context.Context, problemID string, limit int) (*SuggestionSet, error) {
	if limit <= 0 {
		limit = s.cfg.SuggestionLimit
	}
	p, err := s.GetProblem(ctx, problemID)
	if err != nil {
		return nil, err
	}
	tickets, err := s.linkedTickets(ctx, s.store, problemID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	resolved := resolvedComments(tickets)
	ai, aiConfidence, available := s.classifierHints(ctx, p, tickets)
	policy := PolicyFor(p.Category)

	type candidate struct {
		text   string
		source string
		base   int
	}
	var pool []candidate
	for _, text := range []string{p.PermanentFix, p.Workaround, p.RootCause} {
		pool = append(pool, candidate{text, SourceExisting, sourceConfidence[SourceExisting]})
	}
	for _, text := range resolved {
		pool = append(pool, candidate{text, SourceResolvedTicket, sourceConfidence[SourceResolvedTicket]})
	}
	for _, text := range ai {
		pool = append(pool, candidate{text, SourceAI, aiConfidence})
	}
	for _, text := range []string{policy.PermanentFix, policy.WorkaroundHint, policy.RootCauseHint} {
		pool = append(pool, candidate{text, SourceFallback, sourceConfidence[SourceFallback]})
	}

	set := &SuggestionSet{ProblemID: p.ID, ClassifierAvailable: available}
	seen := map[string]struct{}{}
	for _, c := range pool {
		text := strings.TrimSpace(c.text)
		if text == "" {
			continue
		}
		norm := strings.ToLower(text)
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		set.Suggestions = append(set.Suggestions, Suggestion{
			Text:       text,
			Source:     c.source,
			Confidence: max(0, c.base-rankDecay*len(set.Suggestions)),
		})
		if len(set.Suggestions) == limit {
			break
		}
	}

	var aiFirst string
	if len(ai) > 0 {
		aiFirst = ai[0]
	}
	var resolvedFirst string
	if len(resolved) > 0 {
		resolvedFirst = resolved[0]
	}
	field := func(existing, fallback string) *FieldSuggestion {
		for _, c := range []candidate{
			{existing, SourceExisting, sourceConfidence[SourceExisting]},
			{resolvedFirst, SourceResolvedTicket, sourceConfidence[SourceResolvedTicket]},
			{aiFirst, SourceAI, aiConfidence},
			{fallback, SourceFallback, sourceConfidence[SourceFallback]},
		} {
			if text := strings.TrimSpace(c.text); text != "" {
				return &FieldSuggestion{Text: text, Source: c.source, Confidence: c.base}
			}
		}
		return nil
	}
	set.RootCause = field(p.RootCause, policy.RootCauseHint)
	set.Workaround = field(p.Workaround, policy.WorkaroundHint)
	set.PermanentFix = field(p.PermanentFix, policy.PermanentFix)
	return set, nil
}

// resolvedComments returns resolution comments of resolved or closed linked
// tickets, most recently resolved first.
func resolvedComments(tickets []domain.Ticket) []string {
	done := make([]domain.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if t.Status.IsTerminal() && strings.TrimSpace(t.ResolutionComment) != "" {
			done = append(done, t)
		}
	}
	resolvedAt := func(t domain.Ticket) int64 {
		if t.ResolvedAt != nil {
			return t.ResolvedAt.UnixNano()
		}
		return t.UpdatedAt.UnixNano()
	}
	sort.SliceStable(done, func(i, j int) bool { return resolvedAt(done[i]) > resolvedAt(done[j]) })
	out := make([]string, 0, maxResolvedComments)
	for _, t := range done {
		if len(out) == maxResolvedComments {
			break
		}
		out = append(out, t.ResolutionComment)
	}
	return out
}

// classifierHints asks the classifier about the problem under the AI timeout.
func (s *ProblemService) classifierHints(ctx context.Context, p *domain.Problem, tickets []domain.Ticket) ([]string, int, bool) {
	if s.aiTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.aiTimeout)
		defer cancel()
	}
	res := s.classifier.Classify(ctx, p.Title, synthesizeDescription(p, tickets))
	if !res.Available {
		return nil, 0, false
	}
	confidence := sourceConfidence[SourceAI]
	if res.Confidence > 0 {
		confidence = res.Confidence
	}
	return res.Recommendations, confidence, true
}

func synthesizeDescription(p *domain.Problem, tickets []domain.Ticket) string {
	var b strings.Builder
	b.WriteString("Recurring ")
	b.WriteString(string(p.Category))
	b.WriteString(" problem affecting linked tickets.")
	if p.RootCause != "" {
		b.WriteString(" Suspected root cause: ")
		b.WriteString(p.RootCause)
	}
	for i := range tickets {
		if i == maxDescriptionTickets {
			break
		}
		b.WriteString("\n- ")
		b.WriteString(tickets[i].Title)
		if d := strings.TrimSpace(tickets[i].Description); d != "" {
			b.WriteString(": ")
			b.WriteString(d)
		}
	}
	return b.String()
}
