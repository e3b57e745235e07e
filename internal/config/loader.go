package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/scenecheck/internal/narrative/cache"
)

// EnvPrefix prefixes every environment override, e.g.
// SCENECHECK_SERVER_LOG_LEVEL or SCENECHECK_SEMANTIC_PROVIDER_API_KEY.
const EnvPrefix = "SCENECHECK_"

// ValidProviderNames lists the LLM provider names with a built-in
// constructor. Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = []string{
	"openai", "openai-direct", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default], applies
// environment overrides, and validates the result. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with SCENECHECK_* environment variables. Unset
// variables leave the field unchanged.
func ApplyEnv(cfg *Config) error {
	// Fallback chains are configured in YAML only.
	fallbacks := cfg.Semantic.Fallbacks
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	cfg.Semantic.Fallbacks = fallbacks
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must not be negative"))
	}

	// Validation defaults share the engine's own rules.
	if err := cfg.Validation.Engine().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("validation: %w", err))
	}
	for key, phrases := range cfg.Validation.Roles {
		if len(phrases) == 0 {
			errs = append(errs, fmt.Errorf("validation.roles.%s must list at least one phrase", key))
		}
	}

	// Semantic
	validateProviderName("semantic.provider", cfg.Semantic.Provider.Name)
	for i, fb := range cfg.Semantic.Fallbacks {
		prefix := fmt.Sprintf("semantic.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		validateProviderName(prefix, fb.Name)
	}
	if len(cfg.Semantic.Fallbacks) > 0 && cfg.Semantic.Provider.Name == "" {
		errs = append(errs, errors.New("semantic.fallbacks require semantic.provider"))
	}
	if cfg.Semantic.Temperature < 0 || cfg.Semantic.Temperature > 2 {
		errs = append(errs, fmt.Errorf("semantic.temperature %.2f is out of range [0, 2]", cfg.Semantic.Temperature))
	}
	if cfg.Semantic.MaxTokens < 0 {
		errs = append(errs, errors.New("semantic.max_tokens must not be negative"))
	}
	if cb := cfg.Semantic.CircuitBreaker; cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("semantic.circuit_breaker values must not be negative"))
	}
	if cfg.Semantic.Provider.Name == "" {
		slog.Warn("semantic.provider is not configured; the semantic tier will be skipped")
	}

	// Cache
	switch cfg.Cache.Backend {
	case "", cache.KindNone, cache.KindMemory:
	case cache.KindSQLite, cache.KindPostgres:
		if cfg.Cache.DSN == "" {
			errs = append(errs, fmt.Errorf("cache.dsn is required for backend %q", cfg.Cache.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q is invalid; valid values: memory, sqlite, postgres, none", cfg.Cache.Backend))
	}
	if cfg.Cache.TTL < 0 || cfg.Cache.Bucket < 0 || cfg.Cache.JanitorInterval < 0 {
		errs = append(errs, errors.New("cache durations must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not a
// built-in provider.
func validateProviderName(field, name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", ValidProviderNames,
	)
}
