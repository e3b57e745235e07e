// Command scenecheck validates that narrative text mentions the entities a
// tabletop scene expects. It serves the validation engine over HTTP or MCP,
// or validates a single request from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/scenecheck/internal/app"
	"github.com/MrWong99/scenecheck/internal/config"
	"github.com/MrWong99/scenecheck/internal/observe"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

// defaultConfigPath is read when --config is not given. A missing default
// file means built-in defaults plus environment overrides.
const defaultConfigPath = "scenecheck.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "scenecheck",
		Short:         "Narrative entity validation for tabletop scenes",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")

	root.AddCommand(serveCmd(opts))
	root.AddCommand(mcpCmd(opts))
	root.AddCommand(validateCmd(opts))
	root.AddCommand(versionCmd())
	return root
}

// loadConfig loads the config named by --config. The default path may be
// absent; an explicitly named file must exist.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	cfg, err := config.Load(o.configPath)
	if err == nil {
		return cfg, o.configPath, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg, err := config.LoadFromReader(strings.NewReader(""))
		return cfg, "", err
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("config file %q not found; see configs/example.yaml to get started", o.configPath)
	}
	return nil, "", err
}

// setupLogging installs the process logger and returns its level and a
// cleanup func.
func setupLogging(cfg *config.Config) (*slog.LevelVar, func() error) {
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	logger, cleanup := config.SetupLogger(cfg.Server.LogFile, level)
	slog.SetDefault(logger)
	return level, cleanup
}

// newApp builds the application with the built-in providers registered and
// process telemetry installed.
func newApp(ctx context.Context, cfg *config.Config, level *slog.LevelVar) (*app.App, error) {
	tel, err := observe.Setup(observe.TelemetryConfig{ServiceVersion: version})
	if err != nil {
		return nil, err
	}
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	a, err := app.New(ctx, cfg,
		app.WithRegistry(reg),
		app.WithLevelVar(level),
		app.WithVersion(version),
		app.WithTelemetry(tel),
	)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, err
	}
	return a, nil
}
