package scoring_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/MrWong99/intervox/internal/scoring"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadRubric_JSON(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "rubric_data.json", `{
	"q_overfitting": {
		"ideal_points": {
			"4": ["Explains dropout and regularization", "mentions validation loss"],
			"0": ["No relevant answer given"]
		}
	}
}`)
	r, err := scoring.LoadRubric(path)
	if err != nil {
		t.Fatalf("LoadRubric: %v", err)
	}
	entry := r.Entry("q_overfitting")
	if got := entry.Indicators(4); len(got) != 2 || got[0] != "Explains dropout and regularization" {
		t.Errorf("Indicators(4) = %v", got)
	}
	if got := r.Entry("missing").Indicators(4); got != nil {
		t.Errorf("missing entry Indicators(4) = %v, want nil", got)
	}
	if err := r.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadRubric_YAML(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "rubric.yaml", `
q_cnn:
  ideal_points:
    "3": [convolution extracts local features]
    "1": [mentions images]
`)
	r, err := scoring.LoadRubric(path)
	if err != nil {
		t.Fatalf("LoadRubric: %v", err)
	}
	want := scoring.Entry{IdealPoints: map[string][]string{
		"3": {"convolution extracts local features"},
		"1": {"mentions images"},
	}}
	if got := r.Entry("q_cnn"); !reflect.DeepEqual(got, want) {
		t.Errorf("Entry = %+v, want %+v", got, want)
	}
}

func TestLoadRubric_Errors(t *testing.T) {
	t.Parallel()

	if _, err := scoring.LoadRubric(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := scoring.LoadRubric(writeFile(t, "bad.json", `{"q": [`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestRubric_Validate(t *testing.T) {
	t.Parallel()

	r := scoring.Rubric{
		"q1": {IdealPoints: map[string][]string{"5": {"x"}, "high": {"y"}}},
		"q2": {IdealPoints: map[string][]string{"2": {"ok", "  "}}},
	}
	err := r.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		t.Fatalf("error %T does not wrap multiple errors", err)
	}
	if n := len(joined.Unwrap()); n != 3 {
		t.Errorf("got %d errors, want 3: %v", n, err)
	}
}

func TestLoadQuestions(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "questions.json", `{
	"10": {"key": "q_ten", "question": "Tenth?"},
	"2": {"key": "q_two", "question": "Second?"},
	"1": {"key": "q_one", "question": "First?"}
}`)
	q, err := scoring.LoadQuestions(path)
	if err != nil {
		t.Fatalf("LoadQuestions: %v", err)
	}

	ordered := q.Ordered()
	var keys []string
	for _, qu := range ordered {
		keys = append(keys, qu.Key)
	}
	if want := []string{"q_one", "q_two", "q_ten"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("Ordered keys = %v, want %v", keys, want)
	}

	if qu, ok := q.ByKey("q_two"); !ok || qu.Question != "Second?" {
		t.Errorf("ByKey(q_two) = %+v, %v", qu, ok)
	}
	if _, ok := q.ByKey("nope"); ok {
		t.Error("ByKey(nope) found a question")
	}
}

func TestLoadQuestions_MissingKey(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "questions.yaml", "\"1\":\n  question: Who?\n")
	if _, err := scoring.LoadQuestions(path); err == nil {
		t.Error("expected error for question without key")
	}
}
