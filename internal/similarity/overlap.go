package similarity

import "sort"

// Set is a token set.
type Set map[string]struct{}

// NewSet builds a set from tokens.
func NewSet(tokens ...string) Set {
	s := make(Set, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		s[t] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s Set) Has(token string) bool {
	_, ok := s[token]
	return ok
}

// Add merges other into s and returns s.
func (s Set) Add(other Set) Set {
	for t := range other {
		s[t] = struct{}{}
	}
	return s
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Overlap scores |A∩B| / min(|A|,|B|). A small set fully contained in a larger
// one scores 1.0; either side empty scores 0.
func Overlap(a, b Set) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	shared := 0
	for t := range small {
		if large.Has(t) {
			shared++
		}
	}
	return float64(shared) / float64(max(1, len(small)))
}
