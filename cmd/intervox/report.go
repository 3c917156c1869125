package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/MrWong99/intervox/internal/app"
	"github.com/MrWong99/intervox/internal/scoring"
	"github.com/MrWong99/intervox/internal/session"
)

func newReportCmd(c *cli) *cobra.Command {
	var (
		sessionID string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "report --session <id>",
		Short: "Print the final report for an interview session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cmd.Context(), cfg.Store)
			if err != nil {
				return err
			}
			if st == nil {
				return errors.New("report: no record store configured (store.backend is none)")
			}
			defer st.Close()

			var questions scoring.Questions
			if cfg.Evaluation.QuestionsFile != "" {
				if questions, err = scoring.LoadQuestions(cfg.Evaluation.QuestionsFile); err != nil {
					return err
				}
			}

			rep, err := session.Build(cmd.Context(), st, sessionID, questions)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(c.out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep.Summary())
			}
			return rep.WriteText(c.out)
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "interview session ID (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}
