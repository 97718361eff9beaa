package similarity

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	maxKeyLen        = 255
	maxKeywords      = 3
	genericKeyword   = "generic"
	tagKeyPrefix     = "tag:"
	keywordKeyPrefix = "kw:"
)

// Primary tag ranking weights. Only their ordering matters:
// specific > in title > in description > short.
const (
	weightSpecific      = 8
	weightInTitle       = 6
	weightInDescription = 3
	weightShort         = 1
	shortTagLen         = 8
)

// Words too common in service-desk traffic to identify an incident on their own.
var genericTags = toSet([]string{
	"issue", "issues", "problem", "problems", "incident", "incidents", "error", "errors",
	"bug", "bugs", "request", "ticket", "support", "help", "user", "users", "system",
	"service", "services", "access", "other", "general", "misc", "urgent", "question",
	"infrastructure", "network", "security", "application", "hardware", "email",
	"service_request", "it", "helpdesk", "failure", "panne", "probleme", "demande",
})

// Input is the ticket text a fingerprint is computed from.
type Input struct {
	Title       string
	Category    string
	Description string
	Tags        []string
}

// SimilarityKey derives the stable fingerprint of a ticket:
// "{category}|tag:{primary}" when a meaningful tag exists, otherwise
// "{category}|kw:{k1}-{k2}-{k3}" from title (or description) keywords.
// Tag order, case, accents and embedded ticket references do not affect the result.
func SimilarityKey(title, category, description string, tags []string) string {
	titleTokens := TokenSet(title)
	descTokens := TokenSet(description)

	if tag := PrimaryTag(NormalizeTags(tags), titleTokens, descTokens); tag != "" {
		return truncateKey(category + "|" + tagKeyPrefix + tag)
	}

	keywords := Tokens(title)
	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	if len(keywords) == 0 {
		keywords = TopTokens(maxKeywords, description)
	}
	if len(keywords) == 0 {
		keywords = []string{genericKeyword}
	}
	return truncateKey(category + "|" + keywordKeyPrefix + strings.Join(keywords, "-"))
}

// Key computes SimilarityKey for in.
func (in Input) Key() string {
	return SimilarityKey(in.Title, in.Category, in.Description, in.Tags)
}

// PrimaryTag ranks normalised tags and returns the best one, or "" when there are none.
func PrimaryTag(tags []string, titleTokens, descTokens Set) string {
	if len(tags) == 0 {
		return ""
	}
	type scored struct {
		tag   string
		score int
	}
	ranked := make([]scored, 0, len(tags))
	for _, tag := range tags {
		score := 0
		if _, generic := genericTags[tag]; !generic {
			score += weightSpecific
		}
		if tagMentioned(tag, titleTokens) {
			score += weightInTitle
		}
		if tagMentioned(tag, descTokens) {
			score += weightInDescription
		}
		if len(tag) <= shortTagLen {
			score += weightShort
		}
		ranked = append(ranked, scored{tag: tag, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if len(ranked[i].tag) != len(ranked[j].tag) {
			return len(ranked[i].tag) < len(ranked[j].tag)
		}
		return ranked[i].tag < ranked[j].tag
	})
	return ranked[0].tag
}

// tagMentioned matches a tag against text tokens; compound tags like "wifi_guest"
// match when every part that survives tokenisation is present.
func tagMentioned(tag string, tokens Set) bool {
	if len(tokens) == 0 {
		return false
	}
	if tokens.Has(tag) {
		return true
	}
	parts := Tokens(strings.ReplaceAll(tag, "_", " "))
	if len(parts) == 0 {
		return false
	}
	for _, p := range parts {
		if !tokens.Has(p) {
			return false
		}
	}
	return true
}

// PrimaryTagFromKey extracts the tag of a "{category}|tag:{tag}" key.
func PrimaryTagFromKey(key string) (string, bool) {
	_, rest, ok := strings.Cut(key, "|")
	if !ok || !strings.HasPrefix(rest, tagKeyPrefix) {
		return "", false
	}
	tag := strings.TrimPrefix(rest, tagKeyPrefix)
	return tag, tag != ""
}

// KeyTokens returns the content tokens of a fingerprint, without category and prefix.
func KeyTokens(key string) Set {
	_, rest, ok := strings.Cut(key, "|")
	if !ok {
		rest = key
	}
	rest = strings.TrimPrefix(rest, tagKeyPrefix)
	rest = strings.TrimPrefix(rest, keywordKeyPrefix)
	set := NewSet()
	for _, part := range strings.FieldsFunc(rest, func(r rune) bool { return r == '-' || r == '_' }) {
		if part == genericKeyword {
			continue
		}
		set[part] = struct{}{}
	}
	if tag := strings.TrimSpace(rest); tag != "" && strings.Contains(tag, "_") {
		set[tag] = struct{}{}
	}
	return set
}

// Keys fingerprints inputs concurrently with at most workers goroutines.
// The result is index-aligned with inputs.
func Keys(ctx context.Context, inputs []Input, workers int) ([]string, error) {
	keys := make([]string, len(inputs))
	if workers <= 1 || len(inputs) < 2*workers {
		for i, in := range inputs {
			keys[i] = in.Key()
		}
		return keys, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			keys[i] = inputs[i].Key()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return keys, nil
}

func truncateKey(key string) string {
	if len(key) <= maxKeyLen {
		return key
	}
	cut := maxKeyLen
	for cut > 0 && !utf8RuneStart(key[cut]) {
		cut--
	}
	return key[:cut]
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
