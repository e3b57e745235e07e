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

	"github.com/MrWong99/scenecheck/internal/config"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	var watchInterval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the validation API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts, watchInterval)
		},
	}
	cmd.Flags().DurationVar(&watchInterval, "watch-interval", 5*time.Second, "config file polling interval for hot reload (0 disables)")
	return cmd
}

func runServe(cmd *cobra.Command, opts *rootOptions, watchInterval time.Duration) error {
	cfg, path, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	level, closeLog := setupLogging(cfg)
	defer closeLog()

	slog.Info("scenecheck starting",
		"version", version,
		"config", path,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cmd.ErrOrStderr(), cfg)

	application, err := newApp(ctx, cfg, level)
	if err != nil {
		return err
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if path != "" && watchInterval > 0 {
		w, err := config.NewWatcher(path, application.ApplyConfig, config.WithInterval(watchInterval))
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	if runErr != nil {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║       scenecheck startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Semantic LLM", providerLabel(cfg.Semantic.Provider))
	printRow(w, "Fallbacks", fmt.Sprintf("%d", len(cfg.Semantic.Fallbacks)))
	printRow(w, "Strategy", cfg.Validation.CombinationStrategy)
	printRow(w, "Cache", cfg.Cache.Backend)
	scenes := cfg.Scenes.Path
	if scenes == "" {
		scenes = "(none)"
	}
	printRow(w, "Scenes", scenes)
	if cfg.Server.ListenAddr != "" {
		printRow(w, "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(w io.Writer, label, value string) {
	if len(value) > 19 {
		value = value[:18] + "…"
	}
	fmt.Fprintf(w, "║  %-15s : %-19s ║\n", label, value)
}

func providerLabel(p config.ProviderEntry) string {
	switch {
	case p.Name == "":
		return "(disabled)"
	case p.Model == "":
		return p.Name
	}
	return p.Name + "/" + p.Model
}

