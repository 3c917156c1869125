package transcript

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	domainMaxDistance = 3
	domainMinScore    = 65.0
)

var (
	multiDotRe  = regexp.MustCompile(`\.{2,}`)
	disallowRe  = regexp.MustCompile(`[^\p{L}\p{N}_\s.,!?]`)
	fillerRe    = wholeWordRe(Fillers...)
	phraseRules = compilePhrases(Phrases)
)

type phraseRule struct {
	re      *regexp.Regexp
	correct string
}

func wholeWordRe(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

func compilePhrases(phrases []PhraseCorrection) []phraseRule {
	rules := make([]phraseRule, len(phrases))
	for i, p := range phrases {
		rules[i] = phraseRule{re: wholeWordRe(p.Wrong), correct: p.Correct}
	}
	return rules
}

// Option is a functional option for configuring a [Normalizer].
type Option func(*Normalizer)

// WithSpellChecker attaches a [SpellChecker]. When nil (the default), the
// spell step of stage 5 is skipped.
func WithSpellChecker(s SpellChecker) Option {
	return func(n *Normalizer) { n.spell = s }
}

// WithTermMatcher attaches a [TermMatcher]. When nil (the default), the
// domain-term step of stage 5 is skipped.
func WithTermMatcher(m TermMatcher) Option {
	return func(n *Normalizer) { n.matcher = m }
}

// WithVocabulary replaces [DefaultVocabulary] as the domain vocabulary.
func WithVocabulary(terms []string) Option {
	return func(n *Normalizer) { n.vocabulary = append([]string(nil), terms...) }
}

// WithWordlist sets the known English words. Words in the list are never
// domain-corrected. Entries are compared lower-cased.
func WithWordlist(words map[string]int) Option {
	return func(n *Normalizer) {
		n.english = make(map[string]struct{}, len(words))
		for w := range words {
			n.english[strings.ToLower(w)] = struct{}{}
		}
	}
}

// Normalizer cleans raw STT transcripts. It is read-only after construction
// and safe for concurrent use.
type Normalizer struct {
	spell      SpellChecker
	matcher    TermMatcher
	vocabulary []string
	english    map[string]struct{}
}

// New constructs a [Normalizer]. Without options both capabilities are nil,
// the vocabulary is [DefaultVocabulary] and the English wordlist is empty.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		vocabulary: DefaultVocabulary,
		english:    map[string]struct{}{},
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Normalize returns the cleaned form of raw.
func (n *Normalizer) Normalize(raw string) string {
	return n.Correct(raw).Text
}

// Correct runs every stage over raw and returns the cleaned text together
// with the substitutions applied.
func (n *Normalizer) Correct(raw string) Normalized {
	out := Normalized{Raw: raw, Corrections: []Correction{}}

	text := fillerRe.ReplaceAllLiteralString(raw, "")
	text = multiDotRe.ReplaceAllLiteralString(text, "")
	text = disallowRe.ReplaceAllLiteralString(text, "")
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return out
	}

	for _, r := range phraseRules {
		for _, m := range r.re.FindAllString(text, -1) {
			if m != r.correct {
				out.Corrections = append(out.Corrections, Correction{Original: m, Corrected: r.correct, Method: MethodPhrase})
			}
		}
		text = r.re.ReplaceAllLiteralString(text, r.correct)
	}

	tokens := strings.Fields(text)
	corrected := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		corrected = append(corrected, n.correctWord(tok, &out.Corrections))
	}

	tokens = dedupe(attachPunctuation(strings.Fields(strings.Join(corrected, " "))))
	out.Text = capitalize(tokens)
	return out
}

// correctWord applies stage 5 to a single token. Trailing sentence
// punctuation is set aside during lookup and re-attached afterwards.
func (n *Normalizer) correctWord(tok string, log *[]Correction) string {
	core := strings.TrimRight(tok, ".,!?")
	trail := tok[len(core):]
	if core == "" {
		return tok
	}

	w := core
	if n.spell != nil {
		if s, ok := n.spell.Correct(w); ok && s != "" && s != w {
			*log = append(*log, Correction{Original: w, Corrected: s, Method: MethodSpell})
			w = s
		}
	}

	if n.matcher != nil && len(n.vocabulary) > 0 {
		lw := strings.ToLower(w)
		if _, known := n.english[lw]; !known {
			m, score, ok := n.matcher.BestMatch(lw, n.vocabulary)
			if ok && m != w && (n.matcher.Distance(lw, strings.ToLower(m)) <= domainMaxDistance || score >= domainMinScore) {
				*log = append(*log, Correction{Original: w, Corrected: m, Method: MethodDomain})
				w = m
			}
		}
	}
	return w + trail
}

// attachPunctuation removes tokens without letters or digits. A removed
// token ending a sentence moves its punctuation onto the preceding word.
func attachPunctuation(tokens []string) []string {
	out := tokens[:0]
	for _, t := range tokens {
		if strings.IndexFunc(t, isWordRune) >= 0 {
			out = append(out, t)
			continue
		}
		if n := len(out); n > 0 && endsSentence(t) && !endsSentence(out[n-1]) {
			out[n-1] = strings.TrimRight(out[n-1], ",") + t[len(t)-1:]
		}
	}
	return out
}

func isWordRune(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }

// dedupe collapses runs of identical adjacent tokens.
func dedupe(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for i, t := range tokens {
		if i > 0 && t == tokens[i-1] {
			continue
		}
		out = append(out, t)
	}
	return out
}

// capitalize upper-cases the first character of every sentence and appends
// a period when the last sentence has no terminal punctuation.
func capitalize(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}
	startOfSentence := true
	for i, t := range tokens {
		if startOfSentence {
			tokens[i] = upperFirst(t)
		}
		startOfSentence = endsSentence(t)
	}
	text := strings.Join(tokens, " ")
	if !endsSentence(text) {
		text += "."
	}
	return text
}

func endsSentence(s string) bool {
	return strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?")
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
