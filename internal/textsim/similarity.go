// Package textsim scores how alike two short texts are.
//
// The score blends three signals:
//   - token Jaccard over significant words (weight 0.5)
//   - Jaccard over character trigrams (weight 0.3)
//   - normalized Levenshtein distance on the first 200 runes (weight 0.2)
//
// All functions are pure and safe for concurrent use. Memo adds a
// per-pass cache on top.
package textsim

import (
	"strings"
	"unicode"
)

const (
	tokenWeight   = 0.5
	trigramWeight = 0.3
	editWeight    = 0.2

	// maxEditRunes bounds the quadratic edit-distance computation.
	maxEditRunes = 200
)

// stopWords are French and English function words ignored by token matching.
// Words of two runes or fewer are dropped before this list is consulted.
var stopWords = map[string]bool{
	// French
	"les": true, "des": true, "une": true, "est": true, "pour": true, "dans": true,
	"par": true, "sur": true, "avec": true, "que": true, "qui": true, "aux": true,
	"ces": true, "son": true, "sa": true, "ses": true, "sans": true, "sous": true,
	"entre": true, "mais": true, "ont": true, "été": true, "être": true, "leur": true,
	"leurs": true, "nous": true, "vous": true, "ils": true, "elle": true, "elles": true,
	"tout": true, "tous": true, "cette": true, "cet": true, "plus": true, "comme": true,
	"mes": true, "tes": true, "nos": true, "vos": true, "dont": true, "où": true,
	// English
	"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
	"from": true, "are": true, "was": true, "were": true, "has": true, "have": true,
	"had": true, "into": true, "our": true, "your": true, "its": true, "not": true,
	"but": true, "all": true, "can": true, "will": true, "their": true, "there": true,
	"about": true, "which": true, "when": true, "what": true, "who": true, "than": true,
}

// Similarity returns a score in [0,1]. It is symmetric, returns 1 for two
// identical non-empty texts and 0 when either side is empty after trimming.
func Similarity(a, b string) float64 {
	a = normalize(a)
	b = normalize(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	score := tokenWeight*TokenJaccard(a, b) +
		trigramWeight*TrigramJaccard(a, b) +
		editWeight*EditSimilarity(a, b)
	if score > 1 {
		score = 1
	}
	return score
}

func normalize(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

// Words lower-cases text and splits it on anything that is not a letter or
// digit. Nothing is dropped.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Tokens is Words without short tokens and stop words.
func Tokens(text string) []string {
	fields := Words(text)
	tokens := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) <= 2 || stopWords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// TokenJaccard is |A∩B| / |A∪B| over the significant token sets.
func TokenJaccard(a, b string) float64 {
	return jaccard(toSet(Tokens(a)), toSet(Tokens(b)))
}

// TrigramJaccard is the Jaccard index of the overlapping three-rune
// substrings of both texts with all whitespace removed.
func TrigramJaccard(a, b string) float64 {
	return jaccard(trigrams(a), trigrams(b))
}

func trigrams(s string) map[string]bool {
	runes := []rune(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, strings.ToLower(s)))
	if len(runes) < 3 {
		return nil
	}
	m := make(map[string]bool, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		m[string(runes[i:i+3])] = true
	}
	return m
}

// EditSimilarity is 1 - levenshtein/maxLen over both texts truncated to
// their first 200 runes.
func EditSimilarity(a, b string) float64 {
	ra := truncateRunes(a, maxEditRunes)
	rb := truncateRunes(b, maxEditRunes)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func truncateRunes(s string, n int) []rune {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return r
}

// levenshtein computes the edit distance with two rolling rows.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for k := range a {
		if b[k] {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}
