// Package scoring grades a cleaned interview answer against a per-question
// rubric and estimates how confident the answer sounds.
//
// Grading is semantic: the answer and each rubric indicator phrase are
// embedded with an [embeddings.Provider] and compared by cosine similarity.
// Levels are tried from 4 down to 1 and the first level with enough
// indicator hits wins. Answers that are empty, very short or explicit
// non-answers ("I don't know") score 0 without touching the embedder.
package scoring

import "strings"

// NonAnswers are phrases that mark an answer as non-relevant wherever they
// appear, compared case-insensitively.
var NonAnswers = []string{
	"i don't know", "i dont know", "no idea",
	"i have no idea", "not sure", "i can't answer",
	"i cannot answer", "i don't understand",
	"i dont understand", "sorry", "i'm not sure",
	"i am not sure",
}

// IsNonRelevant reports whether text is effectively no answer: blank, two
// words or fewer, or containing one of [NonAnswers].
func IsNonRelevant(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return true
	}
	if len(strings.Fields(t)) <= 2 {
		return true
	}
	for _, na := range NonAnswers {
		if strings.Contains(t, na) {
			return true
		}
	}
	return false
}

// Confidence estimates answer confidence from its length. Non-relevant
// answers get 0.1. Otherwise fewer than 10 words give 0.5, fewer than 20 give
// 0.7 and longer answers 0.85, with a further 0.8 factor below 5 words.
func Confidence(transcript string) float64 {
	if IsNonRelevant(transcript) {
		return 0.1
	}
	words := len(strings.Fields(transcript))
	var c float64
	switch {
	case words < 10:
		c = 0.5
	case words < 20:
		c = 0.7
	default:
		c = 0.85
	}
	if words < 5 {
		c *= 0.8
	}
	return c
}
