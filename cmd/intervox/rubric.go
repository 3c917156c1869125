package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/intervox/internal/app"
	"github.com/MrWong99/intervox/internal/scoring"
)

func newRubricCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rubric",
		Short: "Inspect rubric files",
	}

	validate := &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a rubric file and its coverage of the question list",
		Long: `Validate the rubric at [file], or evaluation.rubric_file from the config when
no file is given. With a config, every question in evaluation.questions_file is
checked for a rubric entry.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				path      string
				questions scoring.Questions
			)
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := c.loadConfig()
				if err != nil {
					return err
				}
				path = cfg.Evaluation.RubricFile
				if cfg.Evaluation.QuestionsFile != "" {
					questions, err = scoring.LoadQuestions(cfg.Evaluation.QuestionsFile)
					if err != nil {
						return err
					}
				}
			}

			rubric, err := app.LoadRubric(path)
			if err != nil {
				return err
			}

			missing := 0
			for _, q := range questions.Ordered() {
				if _, ok := rubric[q.Key]; !ok {
					fmt.Fprintf(c.out, "warning: question %q has no rubric entry and will score 0\n", q.Key)
					missing++
				}
			}
			fmt.Fprintf(c.out, "%s: %d rubric entries OK", path, len(rubric))
			if len(questions) > 0 {
				fmt.Fprintf(c.out, ", %d/%d questions covered", len(questions)-missing, len(questions))
			}
			fmt.Fprintln(c.out)
			return nil
		},
	}

	cmd.AddCommand(validate)
	return cmd
}
