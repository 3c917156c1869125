package transcript

import (
	"bufio"
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"maps"
	"os"
	"strconv"
	"strings"
	"sync"
)

//go:embed data/english.txt
var defaultEnglish []byte

var parseDefault = sync.OnceValue(func() map[string]int {
	words, err := ReadWordlist(bytes.NewReader(defaultEnglish))
	if err != nil {
		panic(fmt.Sprintf("transcript: embedded wordlist is invalid: %v", err))
	}
	return words
})

// DefaultWordlist returns a copy of the embedded English word frequencies:
// SCOWL en_US word forms with counts estimated from a television and film
// frequency ranking. Words without a ranking have count 1.
func DefaultWordlist() map[string]int {
	return maps.Clone(parseDefault())
}

// LoadWordlist reads a wordlist file. See [ReadWordlist] for the format.
func LoadWordlist(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: open wordlist: %w", err)
	}
	defer f.Close()
	words, err := ReadWordlist(f)
	if err != nil {
		return nil, fmt.Errorf("transcript: %s: %w", path, err)
	}
	return words, nil
}

// ReadWordlist parses newline-delimited words, each optionally followed by a
// frequency count ("word" or "word 1234"). Blank lines and lines starting
// with '#' are skipped. Words are lower-cased. Lines without a count are
// ranked by position: the first of n such lines gets n, the last gets 1.
func ReadWordlist(r io.Reader) (map[string]int, error) {
	type entry struct {
		word  string
		count int
	}
	var (
		entries  []entry
		unranked int
	)

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		switch len(fields) {
		case 1:
			entries = append(entries, entry{word: strings.ToLower(fields[0]), count: -1})
			unranked++
		case 2:
			n, err := strconv.Atoi(fields[1])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("line %d: invalid count %q", line, fields[1])
			}
			entries = append(entries, entry{word: strings.ToLower(fields[0]), count: n})
		default:
			return nil, fmt.Errorf("line %d: expected \"word\" or \"word count\"", line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read wordlist: %w", err)
	}

	words := make(map[string]int, len(entries))
	rank := unranked
	for _, e := range entries {
		c := e.count
		if c < 0 {
			c = rank
			rank--
		}
		if prev, ok := words[e.word]; !ok || c > prev {
			words[e.word] = c
		}
	}
	return words, nil
}

// LoadTerms reads a vocabulary file with one term per line. Terms may
// contain spaces. Blank lines and '#' comments are skipped.
func LoadTerms(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: open vocabulary: %w", err)
	}
	defer f.Close()

	var terms []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		t := strings.Join(strings.Fields(sc.Text()), " ")
		if t == "" || strings.HasPrefix(t, "#") {
			continue
		}
		terms = append(terms, strings.ToLower(t))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("transcript: read vocabulary %s: %w", path, err)
	}
	if len(terms) == 0 {
		return nil, fmt.Errorf("transcript: vocabulary %s is empty", path)
	}
	return terms, nil
}
