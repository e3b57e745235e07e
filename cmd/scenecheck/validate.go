package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/scenecheck/internal/narrative"
)

func validateCmd(opts *rootOptions) *cobra.Command {
	var failOnMissing bool
	cmd := &cobra.Command{
		Use:   "validate [request.json|-]",
		Short: "Validate one request read from a file or stdin and print the result",
		Long: "Reads a validation request (the same JSON accepted by POST /v1/validate)\n" +
			"from the named file, or from stdin when the argument is \"-\" or omitted,\n" +
			"and prints the validation result as JSON.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, opts, args, failOnMissing)
		},
	}
	cmd.Flags().BoolVar(&failOnMissing, "fail-on-missing", false, "exit non-zero when any expected entity is missing")
	return cmd
}

func runValidate(cmd *cobra.Command, opts *rootOptions, args []string, failOnMissing bool) error {
	cfg, _, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	level, closeLog := setupLogging(cfg)
	defer closeLog()

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open request: %w", err)
		}
		defer f.Close()
		in = f
	}
	req, err := narrative.DecodeRequest(in)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	application, err := newApp(ctx, cfg, level)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutdown error", "err", err)
		}
	}()

	res, err := application.Engine().ValidateRequest(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if failOnMissing && len(res.EntitiesMissing) > 0 {
		return fmt.Errorf("missing entities: %v", res.EntitiesMissing)
	}
	return nil
}
