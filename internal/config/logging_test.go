package config_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/scenecheck/internal/config"
)

func TestSetupLoggerWithWriters_Fanout(t *testing.T) {
	t.Parallel()
	var stderr, file bytes.Buffer
	level := new(slog.LevelVar)

	logger := config.SetupLoggerWithWriters(&stderr, &file, level)
	logger.Info("validated", "entities", 3)

	if !strings.Contains(stderr.String(), "msg=validated") {
		t.Errorf("stderr output = %q", stderr.String())
	}
	var rec map[string]any
	if err := json.Unmarshal(file.Bytes(), &rec); err != nil {
		t.Fatalf("file output is not JSON: %v (%q)", err, file.String())
	}
	if rec["msg"] != "validated" || rec["entities"] != float64(3) {
		t.Errorf("file record = %v", rec)
	}
}

func TestSetupLoggerWithWriters_LevelVar(t *testing.T) {
	t.Parallel()
	var stderr, file bytes.Buffer
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)

	logger := config.SetupLoggerWithWriters(&stderr, &file, level)
	logger.Info("hidden")
	if stderr.Len() != 0 || file.Len() != 0 {
		t.Fatalf("info logged at warn level: %q %q", stderr.String(), file.String())
	}

	level.Set(slog.LevelDebug)
	logger.Debug("shown")
	if !strings.Contains(stderr.String(), "shown") || !strings.Contains(file.String(), "shown") {
		t.Errorf("debug not logged after level change: %q %q", stderr.String(), file.String())
	}
}

func TestSetupLogger_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "scenecheck.log")
	logger, cleanup := config.SetupLogger(path, new(slog.LevelVar))
	if logger == nil {
		t.Fatal("SetupLogger returned nil logger")
	}
	if err := cleanup(); err != nil {
		t.Errorf("cleanup: %v", err)
	}
}
