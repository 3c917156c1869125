package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MrWong99/intervox/internal/evaluate"
	"github.com/MrWong99/intervox/internal/store"
)

func newEvaluateCmd(c *cli) *cobra.Command {
	var (
		questionID string
		sessionID  string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate --question <id> <audio>...",
		Short: "Evaluate answer recordings from the command line",
		Long: `Transcribe and score one or more WAV recordings answering the same
question. Files are evaluated concurrently up to evaluation.max_concurrency.
When a store is configured the records are persisted under the session.`,
		Example: `  intervox evaluate --question backprop answer.wav
  intervox evaluate -q dropout -s 5f0c... --json take1.wav take2.wav`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			reqs := make([]evaluate.Request, len(args))
			for i, path := range args {
				reqs[i] = evaluate.Request{SessionID: sessionID, QuestionID: questionID, AudioPath: path}
			}
			return c.evaluate(cmd.Context(), reqs, asJSON)
		},
	}
	cmd.Flags().StringVarP(&questionID, "question", "q", "", "question key the recordings answer (required)")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "interview session ID (default: a new UUID)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}

// errEvaluationFailed is returned when at least one recording failed.
var errEvaluationFailed = errors.New("one or more evaluations failed")

func (c *cli) evaluate(ctx context.Context, reqs []evaluate.Request, asJSON bool) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := c.newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Shutdown(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("shutdown", "err", err)
		}
	}()

	results := application.Evaluator().EvaluateAll(ctx, reqs)

	failed := false
	for _, r := range results {
		if r.Err != nil {
			failed = true
		}
	}

	if asJSON {
		err = writeResultsJSON(c.out, results)
	} else {
		err = writeResultsText(c.out, results)
	}
	if err != nil {
		return err
	}
	if failed {
		return errEvaluationFailed
	}
	return nil
}

type resultJSON struct {
	AudioPath string        `json:"audio_path"`
	Record    *store.Record `json:"record,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func writeResultsJSON(w io.Writer, results []evaluate.Result) error {
	out := make([]resultJSON, len(results))
	for i, r := range results {
		out[i].AudioPath = r.Request.AudioPath
		if r.Record != nil {
			rec := *r.Record
			rec.Embedding = nil
			out[i].Record = &rec
		}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeResultsText(w io.Writer, results []evaluate.Result) error {
	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "File:\t%s\n", r.Request.AudioPath)
		if r.Record == nil {
			fmt.Fprintf(tw, "Error:\t%v\n", r.Err)
			if err := tw.Flush(); err != nil {
				return err
			}
			continue
		}
		rec := r.Record
		fmt.Fprintf(tw, "Record:\t%s\n", rec.ID)
		fmt.Fprintf(tw, "Session:\t%s\n", rec.SessionID)
		fmt.Fprintf(tw, "Score:\t%d/4\n", rec.Score.Score)
		fmt.Fprintf(tw, "Confidence:\t%.0f%%\n", rec.Confidence*100)
		fmt.Fprintf(tw, "Feedback:\t%s\n", rec.Score.Feedback)
		if rec.Delivery.Failed() {
			fmt.Fprintf(tw, "Delivery:\tunavailable (%s)\n", rec.Delivery.Error)
		} else {
			fmt.Fprintf(tw, "Delivery:\t%s\n", rec.Delivery.Summary)
		}
		fmt.Fprintf(tw, "Corrections:\t%d\n", len(rec.Corrections))
		fmt.Fprintf(tw, "Transcript:\t%s\n", rec.Transcript)
		if r.Err != nil {
			fmt.Fprintf(tw, "Warning:\t%v\n", r.Err)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}
