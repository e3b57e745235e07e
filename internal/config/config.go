// Package config provides the configuration schema, loader, hot-reload
// watcher, and provider registry for the scenecheck server.
package config

import (
	"maps"
	"time"

	"github.com/MrWong99/scenecheck/internal/narrative"
	"github.com/MrWong99/scenecheck/internal/narrative/cache"
	"github.com/MrWong99/scenecheck/internal/narrative/fusion"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server" envPrefix:"SERVER_"`
	Validation ValidationConfig `yaml:"validation" envPrefix:"VALIDATION_"`
	Semantic   SemanticConfig   `yaml:"semantic" envPrefix:"SEMANTIC_"`
	Cache      CacheConfig      `yaml:"cache" envPrefix:"CACHE_"`
	Scenes     ScenesConfig     `yaml:"scenes" envPrefix:"SCENES_"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level" env:"LOG_LEVEL"`

	// LogFile, when set, receives a JSON copy of every log line.
	LogFile string `yaml:"log_file" env:"LOG_FILE"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ValidationConfig holds the engine defaults. Every field is hot-reloadable.
type ValidationConfig struct {
	FuzzyThreshold       float64 `yaml:"fuzzy_threshold" env:"FUZZY_THRESHOLD"`
	MinPrefix            int     `yaml:"min_prefix" env:"MIN_PREFIX"`
	DescriptorConfidence float64 `yaml:"descriptor_confidence" env:"DESCRIPTOR_CONFIDENCE"`

	// CombinationStrategy is one of unanimous, majority, weighted_vote,
	// confidence_based.
	CombinationStrategy string             `yaml:"combination_strategy" env:"COMBINATION_STRATEGY"`
	ValidatorWeights    map[string]float64 `yaml:"validator_weights" env:"VALIDATOR_WEIGHTS"`

	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Budgets    BudgetsConfig    `yaml:"budgets"`

	// TimeoutMS bounds each semantic attempt, in milliseconds.
	TimeoutMS   int           `yaml:"timeout_ms" env:"TIMEOUT_MS"`
	MaxRetries  int           `yaml:"max_retries" env:"MAX_RETRIES"`
	BackoffBase time.Duration `yaml:"backoff_base" env:"BACKOFF_BASE"`

	// Roles replaces the built-in descriptor role table when non-empty. Keys
	// are archetypes ("cleric") or entity types ("creature").
	Roles map[string][]string `yaml:"roles"`
}

// ThresholdsConfig holds the per-tier escalation thresholds.
type ThresholdsConfig struct {
	Exact      float64 `yaml:"exact"`
	Descriptor float64 `yaml:"descriptor"`
	Fuzzy      float64 `yaml:"fuzzy"`
	Semantic   float64 `yaml:"semantic"`
}

// BudgetsConfig holds the per-call budgets of the lexical tiers.
type BudgetsConfig struct {
	Exact      time.Duration `yaml:"exact"`
	Descriptor time.Duration `yaml:"descriptor"`
	Fuzzy      time.Duration `yaml:"fuzzy"`
}

// SemanticConfig configures the LLM-backed tier. An empty Provider.Name
// disables the tier.
type SemanticConfig struct {
	Provider  ProviderEntry   `yaml:"provider" envPrefix:"PROVIDER_"`
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens   int     `yaml:"max_tokens" env:"MAX_TOKENS"`

	CircuitBreaker BreakerConfig `yaml:"circuit_breaker"`
}

// ProviderEntry is the common configuration block shared by all LLM
// providers. The Name field is used to look up the constructor in the
// [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "ollama").
	Name string `yaml:"name" env:"NAME"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key" env:"API_KEY"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url" env:"BASE_URL"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini").
	Model string `yaml:"model" env:"MODEL"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// BreakerConfig tunes the circuit breaker placed in front of each provider.
// Zero values select the breaker's defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// CacheConfig selects the result cache backend.
type CacheConfig struct {
	// Backend is one of memory, sqlite, postgres, none.
	Backend string `yaml:"backend" env:"BACKEND"`

	// DSN is the sqlite file path or postgres connection string.
	DSN string `yaml:"dsn" env:"DSN"`

	TTL             time.Duration `yaml:"ttl" env:"TTL"`
	Bucket          time.Duration `yaml:"bucket" env:"BUCKET"`
	JanitorInterval time.Duration `yaml:"janitor_interval" env:"JANITOR_INTERVAL"`
}

// ScenesConfig points at the scene manifests served by the entity supplier.
type ScenesConfig struct {
	// Path is a scenes YAML file.
	Path string `yaml:"path" env:"PATH"`

	// FoundryWorld is a Foundry VTT world export whose scenes are imported
	// after Path.
	FoundryWorld string `yaml:"foundry_world" env:"FOUNDRY_WORLD"`
}

// Default returns a Config populated with the built-in defaults. Loading
// decodes the file over it, so omitted keys keep these values.
func Default() *Config {
	ec := narrative.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			LogLevel:        LogInfo,
			ShutdownTimeout: 15 * time.Second,
		},
		Validation: ValidationConfig{
			FuzzyThreshold:       ec.FuzzyThreshold,
			MinPrefix:            ec.MinPrefix,
			DescriptorConfidence: ec.DescriptorConfidence,
			CombinationStrategy:  string(ec.Strategy),
			ValidatorWeights:     ec.Weights,
			Thresholds: ThresholdsConfig{
				Exact:      ec.Thresholds.Exact,
				Descriptor: ec.Thresholds.Descriptor,
				Fuzzy:      ec.Thresholds.Fuzzy,
				Semantic:   ec.Thresholds.Semantic,
			},
			Budgets: BudgetsConfig{
				Exact:      ec.Budgets.Exact,
				Descriptor: ec.Budgets.Descriptor,
				Fuzzy:      ec.Budgets.Fuzzy,
			},
			TimeoutMS:   int(ec.Timeout / time.Millisecond),
			MaxRetries:  ec.MaxRetries,
			BackoffBase: ec.BackoffBase,
		},
		Cache: CacheConfig{
			Backend:         cache.KindMemory,
			TTL:             cache.DefaultTTL,
			Bucket:          cache.DefaultBucket,
			JanitorInterval: time.Minute,
		},
	}
}

// Engine converts the validation section into engine defaults.
func (v ValidationConfig) Engine() narrative.Config {
	return narrative.Config{
		FuzzyThreshold:       v.FuzzyThreshold,
		MinPrefix:            v.MinPrefix,
		DescriptorConfidence: v.DescriptorConfidence,
		Strategy:             fusion.Strategy(v.CombinationStrategy),
		Weights:              maps.Clone(v.ValidatorWeights),
		Thresholds: narrative.Thresholds{
			Exact:      v.Thresholds.Exact,
			Descriptor: v.Thresholds.Descriptor,
			Fuzzy:      v.Thresholds.Fuzzy,
			Semantic:   v.Thresholds.Semantic,
		},
		Budgets: narrative.Budgets{
			Exact:      v.Budgets.Exact,
			Descriptor: v.Budgets.Descriptor,
			Fuzzy:      v.Budgets.Fuzzy,
		},
		Timeout:     time.Duration(v.TimeoutMS) * time.Millisecond,
		MaxRetries:  v.MaxRetries,
		BackoffBase: v.BackoffBase,
	}
}
