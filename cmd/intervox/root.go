package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/intervox/internal/app"
	"github.com/MrWong99/intervox/internal/config"
)

// cli holds the global flags and the process logger shared by subcommands.
type cli struct {
	configPath string
	envFile    string
	logLevel   string

	level slog.LevelVar
	out   io.Writer
}

func newRootCmd() *cobra.Command {
	c := &cli{out: os.Stdout}

	root := &cobra.Command{
		Use:   "intervox",
		Short: "Evaluate recorded technical interview answers",
		Long: `intervox transcribes recorded interview answers, cleans up the transcript,
scores it against a rubric of indicator phrases using sentence embeddings and
reports speaking pace and pauses.

Configuration is read from a YAML file. A .env file, when present, is loaded
first so the YAML can reference secrets as ${VAR}.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c.out = cmd.OutOrStdout()
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: &c.level})))
			if c.logLevel != "" {
				lvl := config.LogLevel(c.logLevel)
				if !lvl.IsValid() {
					return fmt.Errorf("invalid --log-level %q (want debug, info, warn or error)", c.logLevel)
				}
				c.level.Set(app.SlogLevel(lvl))
			}
			return config.LoadDotEnv(c.envFile)
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before the config (ignored when missing)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(c),
		newEvaluateCmd(c),
		newRubricCmd(c),
		newReportCmd(c),
	)
	return root
}

// loadConfig reads the config file and applies its log level unless the
// --log-level flag overrides it.
func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found: copy configs/example.yaml to get started", c.configPath)
		}
		return nil, err
	}
	if c.logLevel == "" {
		c.level.Set(app.SlogLevel(cfg.Server.LogLevel))
	}
	return cfg, nil
}
