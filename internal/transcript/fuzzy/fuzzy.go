// Package fuzzy implements the [transcript.TermMatcher] interface on top of
// the matchr string metrics.
//
// Candidates are ranked by a weighted similarity ratio in the range 0–100:
//
//  1. Simple ratio: 200 × LCS(a, b) / (len(a) + len(b)), where LCS is the
//     longest common subsequence. Identical strings score 100.
//
//  2. Partial ratio: when one string is at least 1.5 times longer than the
//     other, the shorter string is compared against every equally long
//     window of the longer one and the best window ratio is scaled by 0.9
//     (0.6 when the length ratio reaches 8). The final score is the larger
//     of the simple and the scaled partial ratio.
//
// Equal scores are broken by Double Metaphone agreement first and by lower
// Levenshtein distance second. Remaining ties keep the earlier vocabulary
// entry.
package fuzzy

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	partialLengthRatio = 1.5
	longLengthRatio    = 8.0
	partialScale       = 0.9
	longPartialScale   = 0.6
)

// Matcher is a fuzzy vocabulary matcher. It implements [transcript.TermMatcher].
// The zero value is ready to use and all methods are safe for concurrent use.
type Matcher struct{}

// New returns a new [Matcher].
func New() *Matcher { return &Matcher{} }

// Distance returns the Levenshtein distance between a and b, counted in
// code points.
func (*Matcher) Distance(a, b string) int {
	return matchr.Levenshtein(a, b)
}

// BestMatch returns the vocabulary entry most similar to word together with
// its similarity score in [0, 100]. ok is false when vocabulary is empty or
// word is blank; match is then empty and score 0.
//
// Comparison is case-insensitive. The returned match keeps the casing of the
// vocabulary entry.
func (m *Matcher) BestMatch(word string, vocabulary []string) (match string, score float64, ok bool) {
	w := strings.ToLower(strings.TrimSpace(word))
	if w == "" || len(vocabulary) == 0 {
		return "", 0, false
	}
	wCodes := codes(w)

	var (
		bestPhonetic bool
		bestDist     int
	)
	for _, entry := range vocabulary {
		e := strings.ToLower(strings.TrimSpace(entry))
		if e == "" {
			continue
		}
		s := Score(w, e)
		if ok && s < score {
			continue
		}
		phonetic := overlaps(wCodes, codes(e))
		dist := matchr.Levenshtein(w, e)
		if ok && s == score {
			if bestPhonetic && !phonetic {
				continue
			}
			if bestPhonetic == phonetic && dist >= bestDist {
				continue
			}
		}
		match, score, ok = entry, s, true
		bestPhonetic, bestDist = phonetic, dist
	}
	return match, score, ok
}

// Score returns the weighted similarity of a and b in [0, 100]. Inputs are
// compared as given; callers normalise case.
func Score(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 || lb == 0 {
		return 0
	}
	base := ratio(a, b, la, lb)

	short, long := a, b
	ls, ll := la, lb
	if ls > ll {
		short, long, ls, ll = b, a, lb, la
	}
	lenRatio := float64(ll) / float64(ls)
	if lenRatio < partialLengthRatio {
		return base
	}
	scale := partialScale
	if lenRatio >= longLengthRatio {
		scale = longPartialScale
	}
	return max(base, partialRatio(short, long, ls)*scale)
}

func ratio(a, b string, la, lb int) float64 {
	return 200 * float64(matchr.LongestCommonSubsequence(a, b)) / float64(la+lb)
}

// partialRatio compares short against each window of long with the same
// length and returns the best ratio.
func partialRatio(short, long string, ls int) float64 {
	lr := []rune(long)
	var best float64
	for i := 0; i+ls <= len(lr); i++ {
		if r := ratio(short, string(lr[i:i+ls]), ls, ls); r > best {
			best = r
			if best == 100 {
				break
			}
		}
	}
	return best
}

// codes returns the set of non-empty Double Metaphone codes of every token
// in s.
func codes(s string) map[string]struct{} {
	tokens := strings.Fields(s)
	out := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, alt := matchr.DoubleMetaphone(t)
		if p != "" {
			out[p] = struct{}{}
		}
		if alt != "" {
			out[alt] = struct{}{}
		}
	}
	return out
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
