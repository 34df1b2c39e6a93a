// Package config handles loading and resolving reserve configuration.
// Resolution order (first non-empty value wins):
//  1. CLI flag --api-key
//  2. Environment variable FRED_API_KEY
//  3. config.json in the current working directory
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultConfigFile  = "config.json"
	DefaultFormat      = "table"
	DefaultTimeout     = 30 * time.Second
	DefaultConcurrency = 8
	DefaultRate        = 5.0
	EnvAPIKey          = "FRED_API_KEY"
	EnvDBPath          = "RESERVE_DB_PATH"
	EnvRegistryPath    = "RESERVE_REGISTRY_PATH"
	EnvLLMProvider     = "RESERVE_LLM_PROVIDER"
	EnvLLMAPIKey       = "RESERVE_LLM_API_KEY"
	EnvOpenRouterKey   = "OPENROUTER_API_KEY"
	EnvLLMModel        = "RESERVE_LLM_MODEL"
	EnvLLMBaseURL      = "RESERVE_LLM_BASE_URL"
	EnvServerAddr      = "RESERVE_SERVER_ADDR"

	DefaultHorizon    = "1w"
	DefaultK          = 8
	DefaultServerAddr = ":8080"
)

// File is the on-disk representation of config.json.
type File struct {
	APIKey        string  `json:"api_key"`
	DefaultFormat string  `json:"default_format"`
	Timeout       string  `json:"timeout"`
	Concurrency   int     `json:"concurrency"`
	Rate          float64 `json:"rate"`
	BaseURL       string  `json:"base_url"`
	DBPath        string  `json:"db_path"`
	RegistryPath  string  `json:"registry_path"`

	LLMProvider       string  `json:"llm_provider"`
	LLMAPIKey         string  `json:"llm_api_key"`
	LLMOpenRouterKey  string  `json:"llm_openrouter_key"`
	LLMModel          string  `json:"llm_model"`
	LLMBaseURL        string  `json:"llm_base_url"`
	LLMTimeout        string  `json:"llm_timeout"`
	LLMRatePerSec     float64 `json:"llm_rate_per_sec"`

	DefaultHorizon string `json:"default_horizon"`
	DefaultK       int    `json:"default_k"`

	ServerAddr string `json:"server_addr"`
}

// Config is the fully-resolved runtime configuration.
// All callers use this struct; the File is only read during loading.
type Config struct {
	APIKey      string
	Format      string
	Timeout     time.Duration
	Concurrency int
	Rate        float64
	BaseURL     string
	DBPath      string
	ConfigPath  string // path of the config.json that was loaded (empty if none found)

	// RegistryPath, if set, points at a YAML registry override file
	// (internal/registry.LoadFile); empty means use registry.Default().
	RegistryPath string

	// LLM provider settings, consumed by internal/llmprovider.New.
	LLMProvider      string
	LLMAPIKey        string
	LLMOpenRouterKey string
	LLMModel         string
	LLMBaseURL       string
	LLMTimeout       time.Duration
	LLMRatePerSec    float64

	// Snapshot defaults, used when a CLI command or HTTP route doesn't
	// override horizon/k explicitly.
	DefaultHorizon string
	DefaultK       int

	// ServerAddr is the listen address for `reserve serve`.
	ServerAddr string

	// Runtime overrides set from CLI flags after Load()
	NoCache bool
	Refresh bool
	Quiet   bool
	Verbose bool
	Debug   bool
}

// Load resolves configuration from all sources.
// flagAPIKey is the value of --api-key (empty string if not set).
func Load(flagAPIKey string) (*Config, error) {
	cfg := &Config{
		Format:         DefaultFormat,
		Timeout:        DefaultTimeout,
		Concurrency:    DefaultConcurrency,
		Rate:           DefaultRate,
		BaseURL:        "https://api.stlouisfed.org/fred/",
		LLMProvider:    "mock",
		LLMTimeout:     20 * time.Second,
		LLMRatePerSec:  2,
		DefaultHorizon: DefaultHorizon,
		DefaultK:       DefaultK,
		ServerAddr:     DefaultServerAddr,
	}

	// Layer 1: config.json (lowest priority)
	if f, path, err := loadFile(); err == nil {
		applyFile(cfg, f, path)
	}

	// Layer 2: environment variable
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvRegistryPath); v != "" {
		cfg.RegistryPath = v
	}
	if v := os.Getenv(EnvLLMProvider); v != "" {
		cfg.LLMProvider = v
	}
	if v := os.Getenv(EnvLLMAPIKey); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv(EnvOpenRouterKey); v != "" {
		cfg.LLMOpenRouterKey = v
	}
	if v := os.Getenv(EnvLLMModel); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv(EnvLLMBaseURL); v != "" {
		cfg.LLMBaseURL = v
	}
	if v := os.Getenv(EnvServerAddr); v != "" {
		cfg.ServerAddr = v
	}

	// Layer 3: CLI flag (highest priority)
	if flagAPIKey != "" {
		cfg.APIKey = flagAPIKey
	}

	// Set default DB path if still unset
	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DBPath = filepath.Join(home, ".reserve", "reserve.db")
		}
	}

	return cfg, nil
}

// Validate returns an error if required fields are missing.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return errors.New(
			"API key not found.\n\n" +
				"Set it one of these ways:\n" +
				"  1. CLI flag:        reserve --api-key YOUR_KEY ...\n" +
				"  2. Environment:     export FRED_API_KEY=YOUR_KEY\n" +
				"  3. config.json:     {\"api_key\": \"YOUR_KEY\"}\n\n" +
				"Get a free key at https://fred.stlouisfed.org/docs/api/api_key.html",
		)
	}
	return nil
}

// RedactedAPIKey returns the API key with most characters replaced by asterisks.
// Safe for logging and display.
func (c *Config) RedactedAPIKey() string {
	if len(c.APIKey) <= 4 {
		return "****"
	}
	return c.APIKey[:2] + "****" + c.APIKey[len(c.APIKey)-2:]
}

// loadFile attempts to read config.json from the current working directory.
func loadFile() (*File, string, error) {
	path, err := filepath.Abs(DefaultConfigFile)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("config.json not found at %s", path)
		}
		return nil, "", fmt.Errorf("reading config.json: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, "", fmt.Errorf("parsing config.json: %w", err)
	}
	return &f, path, nil
}

// applyFile copies values from a parsed File into cfg,
// skipping any fields that are zero/empty.
func applyFile(cfg *Config, f *File, path string) {
	cfg.ConfigPath = path
	if f.APIKey != "" {
		cfg.APIKey = f.APIKey
	}
	if f.DefaultFormat != "" {
		cfg.Format = f.DefaultFormat
	}
	if f.Timeout != "" {
		if d, err := time.ParseDuration(f.Timeout); err == nil {
			cfg.Timeout = d
		}
	}
	if f.Concurrency > 0 {
		cfg.Concurrency = f.Concurrency
	}
	if f.Rate > 0 {
		cfg.Rate = f.Rate
	}
	if f.BaseURL != "" {
		cfg.BaseURL = f.BaseURL
	}
	if f.DBPath != "" {
		cfg.DBPath = f.DBPath
	}
	if f.RegistryPath != "" {
		cfg.RegistryPath = f.RegistryPath
	}
	if f.LLMProvider != "" {
		cfg.LLMProvider = f.LLMProvider
	}
	if f.LLMAPIKey != "" {
		cfg.LLMAPIKey = f.LLMAPIKey
	}
	if f.LLMOpenRouterKey != "" {
		cfg.LLMOpenRouterKey = f.LLMOpenRouterKey
	}
	if f.LLMModel != "" {
		cfg.LLMModel = f.LLMModel
	}
	if f.LLMBaseURL != "" {
		cfg.LLMBaseURL = f.LLMBaseURL
	}
	if f.LLMTimeout != "" {
		if d, err := time.ParseDuration(f.LLMTimeout); err == nil {
			cfg.LLMTimeout = d
		}
	}
	if f.LLMRatePerSec > 0 {
		cfg.LLMRatePerSec = f.LLMRatePerSec
	}
	if f.DefaultHorizon != "" {
		cfg.DefaultHorizon = f.DefaultHorizon
	}
	if f.DefaultK > 0 {
		cfg.DefaultK = f.DefaultK
	}
	if f.ServerAddr != "" {
		cfg.ServerAddr = f.ServerAddr
	}
}

// Template returns a File populated with sensible defaults, suitable for
// writing an initial config.json via `reserve config init`.
func Template() File {
	return File{
		APIKey:         "",
		DefaultFormat:  "table",
		Timeout:        "30s",
		Concurrency:    DefaultConcurrency,
		Rate:           DefaultRate,
		BaseURL:        "https://api.stlouisfed.org/fred/",
		LLMProvider:    "mock",
		LLMTimeout:     "20s",
		LLMRatePerSec:  2,
		DefaultHorizon: DefaultHorizon,
		DefaultK:       DefaultK,
		ServerAddr:     DefaultServerAddr,
	}
}

// WriteFile serialises a File to the given path.
func WriteFile(path string, f File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0600)
}
