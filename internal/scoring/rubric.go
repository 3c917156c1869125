package scoring

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry is the rubric for one question: indicator phrases keyed by score
// level "0" to "4". The first phrase of a level doubles as its feedback text.
type Entry struct {
	IdealPoints map[string][]string `json:"ideal_points" yaml:"ideal_points"`
}

// Indicators returns the phrases for level, or nil.
func (e Entry) Indicators(level int) []string {
	return e.IdealPoints[strconv.Itoa(level)]
}

// feedback returns the first phrase of level, or def when the level has none.
func (e Entry) feedback(level int, def string) string {
	if ind := e.Indicators(level); len(ind) > 0 && ind[0] != "" {
		return ind[0]
	}
	return def
}

// Rubric maps question keys to their [Entry].
type Rubric map[string]Entry

// Entry returns the rubric entry for questionID. A missing entry yields the
// zero Entry, which scores every relevant answer 1.
func (r Rubric) Entry(questionID string) Entry {
	return r[questionID]
}

// Validate checks that every level key is an integer 0–4 and no indicator
// phrase is blank. All problems are reported together.
func (r Rubric) Validate() error {
	var errs []error
	for _, id := range sortedKeys(r) {
		points := r[id].IdealPoints
		for _, level := range sortedKeys(points) {
			phrases := points[level]
			n, err := strconv.Atoi(level)
			if err != nil || n < 0 || n > 4 {
				errs = append(errs, fmt.Errorf("question %q: invalid level %q (want 0-4)", id, level))
				continue
			}
			for i, p := range phrases {
				if strings.TrimSpace(p) == "" {
					errs = append(errs, fmt.Errorf("question %q: level %s phrase %d is empty", id, level, i))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// LoadRubric reads a rubric from a JSON or YAML file shaped as
// {"<question key>": {"ideal_points": {"4": [...], ...}}}.
func LoadRubric(path string) (Rubric, error) {
	var r Rubric
	if err := decodeFile(path, &r); err != nil {
		return nil, fmt.Errorf("scoring: load rubric: %w", err)
	}
	if r == nil {
		r = Rubric{}
	}
	return r, nil
}

// Question is one interview question.
type Question struct {
	// Key identifies the question's rubric entry.
	Key string `json:"key" yaml:"key"`

	// Question is the text shown to the candidate.
	Question string `json:"question" yaml:"question"`
}

// Questions maps interview position ("1", "2", ...) to [Question].
type Questions map[string]Question

// ByKey returns the question whose Key is key.
func (q Questions) ByKey(key string) (Question, bool) {
	for _, qu := range q {
		if qu.Key == key {
			return qu, true
		}
	}
	return Question{}, false
}

// Ordered returns the questions sorted by position. Numeric positions sort
// numerically and come before any others.
func (q Questions) Ordered() []Question {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(x, y string) int {
		a, errA := strconv.Atoi(x)
		b, errB := strconv.Atoi(y)
		switch {
		case errA == nil && errB == nil:
			return cmp.Compare(a, b)
		case errA == nil:
			return -1
		case errB == nil:
			return 1
		}
		return strings.Compare(x, y)
	})
	out := make([]Question, len(keys))
	for i, k := range keys {
		out[i] = q[k]
	}
	return out
}

// LoadQuestions reads a question list from a JSON or YAML file shaped as
// {"1": {"key": "...", "question": "..."}, ...}.
func LoadQuestions(path string) (Questions, error) {
	var q Questions
	if err := decodeFile(path, &q); err != nil {
		return nil, fmt.Errorf("scoring: load questions: %w", err)
	}
	var errs []error
	for pos, qu := range q {
		if qu.Key == "" {
			errs = append(errs, fmt.Errorf("question %s: key is required", pos))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("scoring: load questions: %w", err)
	}
	return q, nil
}

// decodeFile decodes path into v, as JSON for a .json extension and as YAML
// otherwise.
func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, v)
	} else {
		err = yaml.Unmarshal(data, v)
	}
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
