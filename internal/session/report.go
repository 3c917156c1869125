// Package session assembles the end-of-interview report for one session.
//
// A [Report] holds one [Answer] per question. When a question was answered
// more than once the latest evaluation wins. Answers are ordered by interview
// position; questions unknown to the question list follow in the order they
// were first answered.
//
// The aggregate score is the sum of content scores over the maximum
// attainable, expressed as a percentage:
//
//	final = sum(score) / (n * MaxScore) * 100
package session

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MrWong99/intervox/internal/scoring"
	"github.com/MrWong99/intervox/internal/store"
)

const (
	// MaxScore is the highest content score a single answer can earn.
	MaxScore = 4

	// StrongThreshold is the final score, in percent, at or above which a
	// candidate is recommended.
	StrongThreshold = 70.0

	RecommendStrong  = "Strong Candidate"
	RecommendImprove = "Needs Improvement"
)

// Answer is the latest evaluation of one question within a session.
type Answer struct {
	RecordID   string    `json:"record_id"`
	QuestionID string    `json:"question_id"`
	Question   string    `json:"question,omitempty"`
	Position   string    `json:"position,omitempty"`
	Score      int       `json:"score"`
	Feedback   string    `json:"feedback"`
	Confidence float64   `json:"confidence"`
	Delivery   string    `json:"delivery"`
	Transcript string    `json:"transcript"`
	AnsweredAt time.Time `json:"answered_at"`
}

// Report summarises a finished interview session.
type Report struct {
	SessionID string   `json:"session_id"`
	Answers   []Answer `json:"answers"`
}

// New builds a report from the records of one session. questions may be nil.
func New(sessionID string, records []store.Record, questions scoring.Questions) *Report {
	sorted := slices.Clone(records)
	store.SortByCreated(sorted)

	latest := make(map[string]int, len(sorted))
	var answers []Answer
	for _, rec := range sorted {
		a := answerFrom(rec)
		if i, ok := latest[rec.QuestionID]; ok {
			answers[i] = a
			continue
		}
		latest[rec.QuestionID] = len(answers)
		answers = append(answers, a)
	}

	order := make(map[string]int, len(questions))
	positions := make(map[string]string, len(questions))
	for pos, q := range questions {
		positions[q.Key] = pos
	}
	for i, q := range questions.Ordered() {
		order[q.Key] = i
	}
	for i := range answers {
		a := &answers[i]
		a.Position = positions[a.QuestionID]
		if a.Question == "" {
			if q, ok := questions.ByKey(a.QuestionID); ok {
				a.Question = q.Question
			}
		}
	}

	slices.SortStableFunc(answers, func(x, y Answer) int {
		ix, okx := order[x.QuestionID]
		iy, oky := order[y.QuestionID]
		switch {
		case okx && oky:
			return cmp.Compare(ix, iy)
		case okx:
			return -1
		case oky:
			return 1
		}
		// Unlisted answers keep their first-answered order.
		return 0
	})

	if answers == nil {
		answers = []Answer{}
	}
	return &Report{SessionID: sessionID, Answers: answers}
}

func answerFrom(rec store.Record) Answer {
	return Answer{
		RecordID:   rec.ID,
		QuestionID: rec.QuestionID,
		Question:   rec.Question,
		Score:      rec.Score.Score,
		Feedback:   rec.Score.Feedback,
		Confidence: rec.Confidence,
		Delivery:   deliverySummary(rec),
		Transcript: rec.Transcript,
		AnsweredAt: rec.CreatedAt,
	}
}

func deliverySummary(rec store.Record) string {
	if rec.Delivery.Failed() {
		return "Delivery analysis unavailable"
	}
	return rec.Delivery.Summary
}

// Build loads every record of sessionID from st and assembles the report.
// Returns [store.ErrNotFound] (wrapped) when the session has no records.
func Build(ctx context.Context, st store.Store, sessionID string, questions scoring.Questions) (*Report, error) {
	records, err := st.ListSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: build report %q: %w", sessionID, err)
	}
	return New(sessionID, records, questions), nil
}

// Completed returns the number of answered questions.
func (r *Report) Completed() int { return len(r.Answers) }

// FinalScore returns the aggregate score in percent, 0 for an empty report.
func (r *Report) FinalScore() float64 {
	if len(r.Answers) == 0 {
		return 0
	}
	return float64(r.total()) * 100 / float64(len(r.Answers)*MaxScore)
}

// AverageScore returns the mean content score on the 0 to [MaxScore] scale.
func (r *Report) AverageScore() float64 {
	if len(r.Answers) == 0 {
		return 0
	}
	return float64(r.total()) / float64(len(r.Answers))
}

// AverageConfidence returns the mean transcript confidence, 0 to 1.
func (r *Report) AverageConfidence() float64 {
	if len(r.Answers) == 0 {
		return 0
	}
	var sum float64
	for _, a := range r.Answers {
		sum += a.Confidence
	}
	return sum / float64(len(r.Answers))
}

// Recommendation returns [RecommendStrong] when the final score reaches
// [StrongThreshold] and [RecommendImprove] otherwise.
func (r *Report) Recommendation() string {
	if r.FinalScore() >= StrongThreshold {
		return RecommendStrong
	}
	return RecommendImprove
}

func (r *Report) total() int {
	var sum int
	for _, a := range r.Answers {
		sum += a.Score
	}
	return sum
}

// Summary is the JSON shape of a report including its aggregates.
type Summary struct {
	SessionID          string   `json:"session_id"`
	FinalScore         float64  `json:"final_score"`
	AverageScore       float64  `json:"average_score"`
	AverageConfidence  float64  `json:"average_confidence"`
	QuestionsCompleted int      `json:"questions_completed"`
	Recommendation     string   `json:"recommendation"`
	Answers            []Answer `json:"answers"`
}

// Summary returns the report together with its computed aggregates.
func (r *Report) Summary() Summary {
	return Summary{
		SessionID:          r.SessionID,
		FinalScore:         r.FinalScore(),
		AverageScore:       r.AverageScore(),
		AverageConfidence:  r.AverageConfidence(),
		QuestionsCompleted: r.Completed(),
		Recommendation:     r.Recommendation(),
		Answers:            r.Answers,
	}
}

// WriteText renders the report for a terminal.
func (r *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Session:\t%s\n", r.SessionID)
	fmt.Fprintf(tw, "Overall Score:\t%.1f%%\n", r.FinalScore())
	fmt.Fprintf(tw, "Average Score:\t%.1f/%d.0\n", r.AverageScore(), MaxScore)
	fmt.Fprintf(tw, "Questions Completed:\t%d\n", r.Completed())
	fmt.Fprintf(tw, "Recommendation:\t%s\n", r.Recommendation())
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("session: write report: %w", err)
	}

	for _, a := range r.Answers {
		title := a.QuestionID
		if a.Question != "" {
			title = a.Question
		}
		if a.Position != "" {
			title = "Q" + a.Position + ": " + title
		}
		var b strings.Builder
		fmt.Fprintf(&b, "\n%s\n", title)
		fmt.Fprintf(&b, "  Content Score: %d/%d\n", a.Score, MaxScore)
		fmt.Fprintf(&b, "  Confidence:    %.0f%%\n", a.Confidence*100)
		fmt.Fprintf(&b, "  Delivery:      %s\n", a.Delivery)
		fmt.Fprintf(&b, "  Feedback:      %s\n", a.Feedback)
		fmt.Fprintf(&b, "  Transcript:    %s\n", a.Transcript)
		if _, err := io.WriteString(w, b.String()); err != nil {
			return fmt.Errorf("session: write report: %w", err)
		}
	}
	return nil
}
