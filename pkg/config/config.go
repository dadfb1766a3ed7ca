// Package config provides configuration structures and loading logic for the
// document intelligence service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-docintel/internal/dispatch"
	"github.com/polisai/polis-docintel/internal/governance"
	"github.com/polisai/polis-docintel/internal/registry"
)

// Provider ids understood by the configuration.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// KnownProviders lists every provider id in a stable order.
var KnownProviders = []string{ProviderOpenAI, ProviderAnthropic, ProviderGemini}

// Storage drivers.
const (
	StorageNone      = "none"
	StorageMemory    = "memory"
	StorageSQLite    = "sqlite"
	StorageFirestore = "firestore"
)

// Config holds the global configuration.
type Config struct {
	Providers   ProvidersConfig      `yaml:"providers" toml:"providers"`
	Preferences dispatch.Preferences `yaml:"preferences" toml:"preferences"`
	Registry    RegistryConfig       `yaml:"registry" toml:"registry"`
	Pipeline    PipelineConfig       `yaml:"pipeline" toml:"pipeline"`
	Fallback    FallbackConfig       `yaml:"fallback" toml:"fallback"`
	Rules       RulesConfig          `yaml:"rules" toml:"rules"`
	Sources     SourcesConfig        `yaml:"sources" toml:"sources"`
	Storage     StorageConfig        `yaml:"storage" toml:"storage"`
	Telemetry   TelemetryConfig      `yaml:"telemetry" toml:"telemetry"`
	Logging     LoggingConfig        `yaml:"logging" toml:"logging"`
	Server      ServerConfig         `yaml:"server" toml:"server"`
}

// ProvidersConfig holds per-provider credentials and endpoints.
type ProvidersConfig struct {
	OpenAI    APIProviderConfig `yaml:"openai" toml:"openai"`
	Anthropic APIProviderConfig `yaml:"anthropic" toml:"anthropic"`
	Gemini    GeminiConfig      `yaml:"gemini" toml:"gemini"`
}

// APIProviderConfig configures a key-authenticated HTTP provider. The key is
// given inline or as the name of an environment variable holding it.
type APIProviderConfig struct {
	APIKey    string `yaml:"api_key" toml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env" toml:"api_key_env"`
	BaseURL   string `yaml:"base_url" toml:"base_url"`
	Model     string `yaml:"model" toml:"model"`
}

// Key resolves the API key, preferring the inline value.
func (p APIProviderConfig) Key() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	if p.APIKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(p.APIKeyEnv))
	}
	return ""
}

// Configured reports whether a key is available.
func (p APIProviderConfig) Configured() bool { return p.Key() != "" }

// GeminiConfig configures the Vertex AI provider. It authenticates with
// application default credentials.
type GeminiConfig struct {
	ProjectID string `yaml:"project_id" toml:"project_id"`
	Region    string `yaml:"region" toml:"region"`
	Model     string `yaml:"model" toml:"model"`
}

// Configured reports whether project and region are set.
func (g GeminiConfig) Configured() bool { return g.ProjectID != "" && g.Region != "" }

// RegistryConfig tunes availability tracking and probing.
type RegistryConfig struct {
	ProbeInterval    time.Duration `yaml:"probe_interval" toml:"probe_interval"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout" toml:"probe_timeout"`
	QuotaBackoff     time.Duration `yaml:"quota_backoff" toml:"quota_backoff"`
	TimeoutThreshold int           `yaml:"timeout_threshold" toml:"timeout_threshold"`
	TimeoutCooldown  time.Duration `yaml:"timeout_cooldown" toml:"timeout_cooldown"`
}

// ToRegistry converts to the registry's configuration.
func (c RegistryConfig) ToRegistry() registry.Config {
	return registry.Config{
		QuotaBackoff:     c.QuotaBackoff,
		TimeoutThreshold: c.TimeoutThreshold,
		TimeoutCooldown:  c.TimeoutCooldown,
		ProbeTimeout:     c.ProbeTimeout,
	}
}

// PipelineConfig bounds individual runs and batches.
type PipelineConfig struct {
	CallTimeout      time.Duration `yaml:"call_timeout" toml:"call_timeout"`
	MaxDocumentBytes int64         `yaml:"max_document_bytes" toml:"max_document_bytes"`
	Concurrency      int           `yaml:"concurrency" toml:"concurrency"`
	// MinSpacing is the minimum gap between calls to one provider.
	MinSpacing map[string]time.Duration `yaml:"min_spacing" toml:"min_spacing"`
}

// PacerConfigs converts MinSpacing to pacer settings.
func (c PipelineConfig) PacerConfigs() map[string]governance.PacerConfig {
	out := make(map[string]governance.PacerConfig, len(c.MinSpacing))
	for id, d := range c.MinSpacing {
		out[id] = governance.PacerConfig{MinSpacing: d}
	}
	return out
}

// FallbackConfig configures synthesized output.
type FallbackConfig struct {
	// Seed fixes the synthesizer's random source; unset seeds from the clock.
	Seed *int64 `yaml:"seed" toml:"seed"`
}

// RulesConfig locates checklist overrides and extra Rego modules.
type RulesConfig struct {
	// Dir holds rules/{docType}.txt checklist overrides.
	Dir string `yaml:"dir" toml:"dir"`
	// RegoDir holds additional *.rego preflight modules.
	RegoDir      string `yaml:"rego_dir" toml:"rego_dir"`
	CacheEntries int    `yaml:"cache_entries" toml:"cache_entries"`
}

// SourcesConfig controls which document references are resolved.
type SourcesConfig struct {
	GCSEnabled bool `yaml:"gcs_enabled" toml:"gcs_enabled"`
	// LocalRoot is the only directory HTTP callers may reference by path.
	// When empty, the server accepts gs:// and data: references only. The
	// CLI always reads local paths.
	LocalRoot string `yaml:"local_root" toml:"local_root"`
}

// StorageConfig selects where runs are persisted.
type StorageConfig struct {
	Driver     string `yaml:"driver" toml:"driver"`
	Path       string `yaml:"path" toml:"path"`
	ProjectID  string `yaml:"project_id" toml:"project_id"`
	Collection string `yaml:"collection" toml:"collection"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure" toml:"insecure"`
	ServiceName  string `yaml:"service_name" toml:"service_name"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Pretty bool   `yaml:"pretty" toml:"pretty"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Address string `yaml:"address" toml:"address"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	regDefaults := registry.DefaultConfig()
	return &Config{
		Providers: ProvidersConfig{
			OpenAI:    APIProviderConfig{APIKeyEnv: "OPENAI_API_KEY"},
			Anthropic: APIProviderConfig{APIKeyEnv: "ANTHROPIC_API_KEY"},
			Gemini:    GeminiConfig{Region: "us-central1"},
		},
		Preferences: dispatch.Preferences{
			OCR:            []string{ProviderGemini, ProviderOpenAI, ProviderAnthropic},
			Compliance:     []string{ProviderOpenAI, ProviderAnthropic},
			Classification: []string{ProviderOpenAI, ProviderAnthropic, ProviderGemini},
		},
		Registry: RegistryConfig{
			ProbeInterval:    30 * time.Second,
			ProbeTimeout:     regDefaults.ProbeTimeout,
			QuotaBackoff:     regDefaults.QuotaBackoff,
			TimeoutThreshold: regDefaults.TimeoutThreshold,
			TimeoutCooldown:  regDefaults.TimeoutCooldown,
		},
		Pipeline: PipelineConfig{
			CallTimeout:      governance.DefaultTimeoutConfig().CallTimeout,
			MaxDocumentBytes: 20 << 20,
			Concurrency:      4,
		},
		Storage: StorageConfig{Driver: StorageMemory},
		Telemetry: TelemetryConfig{
			ServiceName: "docintel",
		},
		Logging: LoggingConfig{Level: "info"},
		Server:  ServerConfig{Address: ":8080"},
	}
}

// Load reads configuration from a file and applies environment variable
// overrides. Files ending in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(string(data), cfg)
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("DOCINTEL_SERVER_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("DOCINTEL_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("DOCINTEL_LOG_PRETTY"); val == "true" {
		cfg.Logging.Pretty = true
	}

	if val := os.Getenv("DOCINTEL_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("DOCINTEL_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("DOCINTEL_SOURCES_LOCAL_ROOT"); val != "" {
		cfg.Sources.LocalRoot = val
	}

	if val := os.Getenv("DOCINTEL_STORAGE_DRIVER"); val != "" {
		cfg.Storage.Driver = val
	}
	if val := os.Getenv("DOCINTEL_STORAGE_PATH"); val != "" {
		cfg.Storage.Path = val
	}

	if val := os.Getenv("DOCINTEL_CALL_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("DOCINTEL_CALL_TIMEOUT: %w", err)
		}
		cfg.Pipeline.CallTimeout = d
	}
	if val := os.Getenv("DOCINTEL_FALLBACK_SEED"); val != "" {
		seed, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("DOCINTEL_FALLBACK_SEED: %w", err)
		}
		cfg.Fallback.Seed = &seed
	}

	// Google Cloud projects are shared by Vertex and Firestore.
	if val := os.Getenv("GOOGLE_CLOUD_PROJECT"); val != "" {
		if cfg.Providers.Gemini.ProjectID == "" {
			cfg.Providers.Gemini.ProjectID = val
		}
		if cfg.Storage.ProjectID == "" {
			cfg.Storage.ProjectID = val
		}
	}
	if val := os.Getenv("GOOGLE_CLOUD_REGION"); val != "" {
		cfg.Providers.Gemini.Region = val
	}
	return nil
}

// Validate performs validation of the entire configuration.
func (c *Config) Validate() error {
	if err := c.validatePreferences(); err != nil {
		return fmt.Errorf("preferences configuration: %w", err)
	}

	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry configuration: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline configuration: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage configuration: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	if strings.TrimSpace(c.Server.Address) == "" {
		c.Server.Address = ":8080"
	}
	return nil
}

func (c *Config) validatePreferences() error {
	lists := map[string][]string{
		"ocr":            c.Preferences.OCR,
		"compliance":     c.Preferences.Compliance,
		"classification": c.Preferences.Classification,
	}
	for task, ids := range lists {
		for _, id := range ids {
			if !slices.Contains(KnownProviders, id) {
				return fmt.Errorf("%s: unknown provider %q, supported: %s", task, id, strings.Join(KnownProviders, ", "))
			}
		}
	}
	for id := range c.Pipeline.MinSpacing {
		if !slices.Contains(KnownProviders, id) {
			return fmt.Errorf("min_spacing: unknown provider %q", id)
		}
	}
	return nil
}

// Validate performs validation of registry configuration.
func (c *RegistryConfig) Validate() error {
	if c.ProbeInterval < 0 || c.ProbeTimeout < 0 || c.QuotaBackoff < 0 || c.TimeoutCooldown < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.TimeoutThreshold < 0 {
		return fmt.Errorf("timeout_threshold must not be negative")
	}
	return nil
}

// Validate performs validation of pipeline configuration.
func (c *PipelineConfig) Validate() error {
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be positive, got %s", c.CallTimeout)
	}
	if c.MaxDocumentBytes <= 0 {
		return fmt.Errorf("max_document_bytes must be positive, got %d", c.MaxDocumentBytes)
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	for id, d := range c.MinSpacing {
		if d < 0 {
			return fmt.Errorf("min_spacing for %s must not be negative", id)
		}
	}
	return nil
}

// Validate performs validation of storage configuration.
func (c *StorageConfig) Validate() error {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	if driver == "" {
		driver = StorageMemory
	}
	c.Driver = driver

	switch driver {
	case StorageNone, StorageMemory:
		return nil
	case StorageSQLite:
		if c.Path == "" {
			return fmt.Errorf("sqlite storage requires path")
		}
		return nil
	case StorageFirestore:
		if c.ProjectID == "" {
			return fmt.Errorf("firestore storage requires project_id or GOOGLE_CLOUD_PROJECT")
		}
		return nil
	default:
		return fmt.Errorf("invalid storage driver %q, supported: none, memory, sqlite, firestore", c.Driver)
	}
}

// Validate performs validation of logging configuration.
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}
