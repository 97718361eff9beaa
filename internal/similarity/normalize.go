// Package similarity holds the lexical machinery behind problem matching: text and
// tag normalisation, ticket fingerprints and the overlap score. Everything here is
// pure and safe for concurrent use.
package similarity

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const minTokenLen = 3

var (
	ticketRefPattern = regexp.MustCompile(`(?i)\b[a-z]{2,10}-\d+\b`)
	nonAlnumPattern  = regexp.MustCompile(`[^a-z0-9]+`)
)

var stopWords = toSet([]string{
	// english
	"the", "and", "for", "with", "from", "this", "that", "these", "those", "are", "was",
	"were", "has", "have", "had", "not", "but", "can", "cannot", "could", "would", "should",
	"will", "all", "any", "our", "your", "their", "its", "into", "onto", "out", "about",
	"after", "before", "when", "while", "where", "what", "which", "who", "why", "how",
	"again", "still", "also", "too", "very", "just", "been", "being", "does", "did", "doing",
	"there", "here", "than", "then", "them", "they", "you", "she", "him", "her", "his",
	"please", "thanks", "thank", "hello", "since", "some", "more", "most", "other",
	// french
	"les", "des", "une", "pour", "dans", "sur", "par", "avec", "sans", "est", "sont", "pas",
	"plus", "que", "qui", "quoi", "mais", "donc", "car", "aux", "ces", "cette", "ses", "leur",
	"leurs", "nous", "vous", "ils", "elle", "elles", "depuis", "encore", "tres", "bonjour",
	"merci", "svp", "etre", "avoir", "fait", "faire",
})

// StripDiacritics removes combining marks, so "Réseau" becomes "Reseau".
func StripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Tokens returns the normalised tokens of text in order of first appearance,
// without duplicates. Ticket references such as "AB-123" and stop words are dropped.
func Tokens(text string) []string {
	words := words(text)
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// TokenSet returns the normalised token set of text.
func TokenSet(text string) Set {
	return NewSet(words(text)...)
}

// TopTokens returns up to n tokens ranked by frequency; ties keep first-appearance order.
func TopTokens(n int, texts ...string) []string {
	counts := map[string]int{}
	first := map[string]int{}
	pos := 0
	for _, text := range texts {
		for _, w := range words(text) {
			if _, ok := first[w]; !ok {
				first[w] = pos
			}
			counts[w]++
			pos++
		}
	}
	ranked := make([]string, 0, len(counts))
	for w := range counts {
		ranked = append(ranked, w)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if counts[ranked[i]] != counts[ranked[j]] {
			return counts[ranked[i]] > counts[ranked[j]]
		}
		return first[ranked[i]] < first[ranked[j]]
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// words is the shared tokenizer; it keeps duplicates so callers can count.
func words(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	text = StripDiacritics(text)
	text = ticketRefPattern.ReplaceAllString(text, " ")
	text = nonAlnumPattern.ReplaceAllString(strings.ToLower(text), " ")
	fields := strings.Fields(text)
	out := fields[:0]
	for _, f := range fields {
		if len(f) < minTokenLen {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
