package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/scenecheck/internal/config"
	"github.com/MrWong99/scenecheck/pkg/scene"
)

const testConfigYAML = `
server:
  log_level: error
cache:
  backend: none
`

const testRequest = `{
  "narrative": "Gideon shoulders his pack while the healer checks the map.",
  "expected_entities": [
    {"id": "gideon", "name": "Gideon", "type": "player_character"},
    {"id": "rowan", "name": "Rowan", "type": "npc", "descriptors": ["the healer"]},
    {"id": "borin", "name": "Borin", "type": "npc"}
  ]
}`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestValidateCommand_File(t *testing.T) {
	cfgPath := writeTemp(t, "scenecheck.yaml", testConfigYAML)
	reqPath := writeTemp(t, "request.json", testRequest)

	out, err := execute(t, "", "validate", "--config", cfgPath, reqPath)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	var res scene.ValidationResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not a validation result: %v\n%s", err, out)
	}
	if !res.Found("gideon") || !res.Found("rowan") || res.Found("borin") {
		t.Errorf("found = %v, missing = %v", res.EntitiesFound, res.EntitiesMissing)
	}
}

func TestValidateCommand_Stdin(t *testing.T) {
	cfgPath := writeTemp(t, "scenecheck.yaml", testConfigYAML)

	out, err := execute(t, testRequest, "validate", "--config", cfgPath, "-")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, `"entities_found"`) {
		t.Errorf("output = %s", out)
	}
}

func TestValidateCommand_FailOnMissing(t *testing.T) {
	cfgPath := writeTemp(t, "scenecheck.yaml", testConfigYAML)

	_, err := execute(t, testRequest, "validate", "--config", cfgPath, "--fail-on-missing")
	if err == nil || !strings.Contains(err.Error(), "borin") {
		t.Fatalf("error = %v, want missing borin", err)
	}
}

func TestValidateCommand_BadRequest(t *testing.T) {
	cfgPath := writeTemp(t, "scenecheck.yaml", testConfigYAML)

	_, err := execute(t, `{"narrative": 42}`, "validate", "--config", cfgPath)
	if err == nil {
		t.Fatal("expected error for malformed request")
	}
}

func TestLoadConfig_ExplicitMissing(t *testing.T) {
	_, err := execute(t, testRequest, "validate", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("error = %v, want not found", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != version {
		t.Errorf("output = %q, want %q", out, version)
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	names := reg.LLMNames()
	for _, want := range config.ValidProviderNames {
		found := false
		for _, n := range names {
			if n == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("provider %q not registered; have %v", want, names)
		}
	}
}

func TestOptString(t *testing.T) {
	opts := map[string]any{"organization": "org-1", "timeout": 30}
	if got := optString(opts, "organization"); got != "org-1" {
		t.Errorf("optString(organization) = %q", got)
	}
	if got := optString(opts, "timeout"); got != "" {
		t.Errorf("optString(non-string) = %q, want empty", got)
	}
	if got := optString(nil, "x"); got != "" {
		t.Errorf("optString(nil) = %q", got)
	}
}
