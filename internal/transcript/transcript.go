// Package transcript cleans raw speech-to-text output before it is scored.
//
// STT output for technical interview answers is noisy in predictable ways:
// filler words, stray punctuation, repeated words and misheard domain terms
// ("tense of flow" for "tensorflow"). The [Normalizer] applies a fixed,
// strictly ordered sequence of stages:
//
//  1. Filler removal (whole word, case-insensitive).
//  2. Punctuation normalisation.
//  3. Whitespace collapse.
//  4. Phrase correction from a fixed, ordered table.
//  5. Per-word spell correction ([SpellChecker]) followed by domain-term
//     correction against a vocabulary ([TermMatcher]).
//  6. Collapse of consecutive duplicate words.
//  7. Sentence capitalisation.
//
// Each [Correction] records which stage produced a substitution so callers
// can audit or display what changed.
//
// Implementations of both capability interfaces must be safe for concurrent
// use.
package transcript

// Correction methods recorded in [Correction.Method].
const (
	MethodPhrase = "phrase"
	MethodSpell  = "spell"
	MethodDomain = "domain"
)

// Correction captures a single substitution made by the normalizer.
type Correction struct {
	// Original is the text before the substitution.
	Original string `json:"original"`

	// Corrected is the replacement.
	Corrected string `json:"corrected"`

	// Method is the stage that produced the substitution: [MethodPhrase],
	// [MethodSpell] or [MethodDomain].
	Method string `json:"method"`
}

// Normalized is the output of [Normalizer.Correct].
type Normalized struct {
	// Raw is the transcript as received from the STT provider.
	Raw string

	// Text is the fully normalised transcript.
	Text string

	// Corrections lists phrase, spell and domain substitutions in the order
	// they were applied. Empty (non-nil) when nothing was substituted.
	Corrections []Correction
}

// SpellChecker suggests a correction for a single word.
type SpellChecker interface {
	// Correct returns the suggested spelling of word. ok is false when the
	// word is already known or no candidate exists; suggestion then equals
	// word.
	Correct(word string) (suggestion string, ok bool)
}

// TermMatcher finds the closest domain term for a word.
type TermMatcher interface {
	// BestMatch returns the vocabulary entry most similar to word with a
	// similarity score in [0, 100]. ok is false when no entry could be
	// compared.
	BestMatch(word string, vocabulary []string) (match string, score float64, ok bool)

	// Distance returns the edit distance between a and b.
	Distance(a, b string) int
}
