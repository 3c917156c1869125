package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/intervox/internal/app"
	"github.com/MrWong99/intervox/internal/config"
	"github.com/MrWong99/intervox/internal/observe"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the evaluation HTTP service",
		Long: `Start the HTTP API. Evaluations are accepted on POST /v1/evaluations and
session reports are served from GET /v1/sessions/{id}/report.

The config file and the data files it references are watched; log level,
rubric, questions and vocabulary changes apply without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context(), !noWatch)
		},
	}
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "disable config hot reload")
	return cmd
}

func (c *cli) serve(ctx context.Context, watch bool) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "intervox",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(flushCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	application, err := c.newApp(ctx, cfg, app.WithMetrics(metrics))
	if err != nil {
		return err
	}

	if watch {
		w, err := config.NewWatcher(c.configPath, application.ApplyConfig)
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	printStartupSummary(c.out, cfg)

	runErr := application.Run(ctx)
	if runErr != nil && ctx.Err() == nil {
		slog.Error("server stopped", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if ctx.Err() != nil {
		return nil
	}
	return runErr
}

// newApp builds the providers named in cfg and the application around them.
func (c *cli) newApp(ctx context.Context, cfg *config.Config, opts ...app.Option) (*app.App, error) {
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)

	providers, err := app.BuildProviders(cfg, reg, observe.DefaultMetrics())
	if err != nil {
		return nil, err
	}
	opts = append(opts, app.WithLogLevel(&c.level))
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		if cerr := providers.Close(); cerr != nil {
			slog.Warn("close providers", "err", cerr)
		}
		return nil, err
	}
	return application, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        intervox  startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	fmt.Fprintf(w, "║  %-12s   : %-19d ║\n", "STT fallback", len(cfg.Providers.STTFallbacks))
	printProvider(w, "Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	fmt.Fprintf(w, "║  %-12s   : %-19d ║\n", "Emb fallback", len(cfg.Providers.EmbeddingsFallbacks))
	printProvider(w, "Store", string(cfg.Store.Backend), "")
	fmt.Fprintf(w, "║  %-12s   : %-19s ║\n", "Language", cfg.Evaluation.Language)
	fmt.Fprintf(w, "║  %-12s   : %-19s ║\n", "Listen addr", cfg.Server.ListenAddr)
	if cfg.Server.TLS != nil {
		fmt.Fprintf(w, "║  %-12s   : %-19s ║\n", "TLS", "enabled")
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s   : %-19s ║\n", kind, value)
}
