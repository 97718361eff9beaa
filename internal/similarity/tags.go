package similarity

import (
	"regexp"
	"strings"
)

const maxTagLen = 24

var tagSeparatorPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Tags injected by intake, triage and sync jobs. They describe the ticket's
// metadata rather than the incident, so they never drive clustering.
var noiseTagPrefixes = []string{
	"priority_", "prio_", "category_", "cat_", "source_", "src_", "auto_", "jira_", "sla_", "status_",
}

var noiseTags = toSet([]string{
	"priority", "category", "source", "auto", "jira", "sla", "status", "imported", "ai_suggested",
})

// NormalizeTag lowercases tag, strips accents, collapses non-alphanumeric runs to
// "_" and truncates to 24 characters. It returns "" for empty input.
func NormalizeTag(tag string) string {
	tag = strings.ToLower(StripDiacritics(strings.TrimSpace(tag)))
	tag = strings.Trim(tagSeparatorPattern.ReplaceAllString(tag, "_"), "_")
	if len(tag) > maxTagLen {
		tag = strings.TrimRight(tag[:maxTagLen], "_")
	}
	return tag
}

// IsNoiseTag reports whether a normalised tag is a system-injected marker.
func IsNoiseTag(tag string) bool {
	if _, ok := noiseTags[tag]; ok {
		return true
	}
	for _, prefix := range noiseTagPrefixes {
		if strings.HasPrefix(tag, prefix) {
			return true
		}
	}
	return false
}

// NormalizeTags cleans, filters and deduplicates tags, keeping first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, raw := range tags {
		tag := NormalizeTag(raw)
		if tag == "" || IsNoiseTag(tag) {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
