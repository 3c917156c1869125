// Package spell implements the [transcript.SpellChecker] interface on top of
// a github.com/sajari/fuzzy symmetric-deletion model.
//
// A word already present in the dictionary is left alone. Otherwise the
// model proposes dictionary words up to two edits away, where swapping two
// adjacent letters counts as one edit. The closest candidates win; among
// those the most frequent, then the alphabetically first, so suggestions are
// deterministic. Extra known words are candidates too and rank below any
// dictionary word at the same distance.
package spell

import (
	"cmp"
	"maps"
	"slices"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"github.com/sajari/fuzzy"
)

// DefaultDepth is the number of edits indexed by the suggestion model.
const DefaultDepth = 2

// Option is a functional option for configuring a [Checker].
type Option func(*Checker)

// WithKnownWords adds words to the dictionary. They are suggested only
// when no dictionary word is as close. Multi-word entries contribute each of
// their words.
func WithKnownWords(words ...string) Option {
	return func(c *Checker) { c.addKnown(words) }
}

// WithMinCount sets the lowest frequency a word needs to be suggested.
// Rarer words are still known. Default: 1.
func WithMinCount(n int) Option {
	return func(c *Checker) { c.minCount = n }
}

// WithDepth sets how many edits the suggestion model indexes. Default:
// [DefaultDepth].
func WithDepth(n int) Option {
	return func(c *Checker) { c.depth = n }
}

// Checker is a dictionary-backed spell corrector. It implements
// [transcript.SpellChecker] and is safe for concurrent use; the dictionary
// and model are read-only after construction.
type Checker struct {
	known    map[string]int
	extra    map[string]struct{}
	model    *fuzzy.Model
	minCount int
	depth    int
}

// New trains a [Checker] on the word frequencies in freq. Keys are
// lower-cased; freq itself is not retained.
func New(freq map[string]int, opts ...Option) *Checker {
	c := &Checker{
		known:    make(map[string]int, len(freq)),
		extra:    map[string]struct{}{},
		minCount: 1,
		depth:    DefaultDepth,
	}
	for w, n := range freq {
		w = strings.ToLower(w)
		c.known[w] = max(c.known[w], n)
	}
	for _, o := range opts {
		o(c)
	}

	c.model = fuzzy.NewModel()
	c.model.SetUseAutocomplete(false)
	c.model.SetDepth(c.depth)
	for _, w := range slices.Sorted(maps.Keys(c.known)) {
		if n := c.known[w]; n >= c.minCount && isAlpha(w) {
			c.model.SetCount(w, n, true)
		}
	}
	return c
}

// Extend returns a Checker sharing c's trained model with words added as
// known words. c is unchanged.
func (c *Checker) Extend(words ...string) *Checker {
	out := *c
	out.extra = maps.Clone(c.extra)
	out.addKnown(words)
	return &out
}

func (c *Checker) addKnown(words []string) {
	for _, w := range words {
		for _, f := range strings.Fields(strings.ToLower(w)) {
			c.extra[f] = struct{}{}
		}
	}
}

// Known reports whether word (case-insensitive) is in the dictionary.
func (c *Checker) Known(word string) bool {
	w := strings.ToLower(word)
	if _, ok := c.known[w]; ok {
		return true
	}
	_, ok := c.extra[w]
	return ok
}

// Correct returns the most likely spelling of word. Only purely alphabetic
// words are considered; anything else, known words and words without a
// candidate are returned unchanged with ok false. Suggestions are
// lower-case.
func (c *Checker) Correct(word string) (string, bool) {
	w := strings.ToLower(word)
	if w == "" || !isAlpha(w) || c.Known(w) {
		return word, false
	}

	type candidate struct {
		term  string
		dist  int
		count int
	}
	var cands []candidate
	for term, p := range c.model.Potentials(w, true) {
		if d := matchr.OSA(w, term); d > 0 && d <= c.depth {
			cands = append(cands, candidate{term, d, p.Score})
		}
	}
	for term := range c.extra {
		if d := matchr.OSA(w, term); d > 0 && d <= c.depth && isAlpha(term) {
			cands = append(cands, candidate{term, d, 0})
		}
	}
	if len(cands) == 0 {
		return word, false
	}
	best := slices.MinFunc(cands, func(a, b candidate) int {
		return cmp.Or(
			cmp.Compare(a.dist, b.dist),
			cmp.Compare(b.count, a.count),
			strings.Compare(a.term, b.term),
		)
	})
	return best.term, true
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
