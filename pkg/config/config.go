// Package config provides configuration loading, validation, and defaults
// for the jobpilot orchestrator. Configuration comes from a YAML file with
// environment variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFilename is the default configuration file name.
const ConfigFilename = "jobpilot.yaml"

// Supported LLM provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// Application platform targets.
const (
	PlatformLinkedIn = "linkedin"
	PlatformIndeed   = "indeed"
)

// LLMConfig configures one LLM backend.
type LLMConfig struct {
	Provider  string  `yaml:"provider"` // anthropic, openai, ollama
	Model     string  `yaml:"model"`
	APIKey    string  `yaml:"api_key,omitempty"` // normally from env
	Host      string  `yaml:"host,omitempty"`    // ollama only
	MaxTokens int     `yaml:"max_tokens"`
	Temp      float32 `yaml:"temperature"`
}

// SessionConfig configures the browser automation session.
type SessionConfig struct {
	ProfileDir       string        `yaml:"profile_dir"`
	Headless         bool          `yaml:"headless"`
	LoginPollTimeout time.Duration `yaml:"login_poll_timeout"`
	LoginPollEvery   time.Duration `yaml:"login_poll_every"`
	ActionTimeout    time.Duration `yaml:"action_timeout"`
}

// PipelineConfig configures pipeline behavior.
type PipelineConfig struct {
	StallThreshold    time.Duration `yaml:"stall_threshold"`
	FitScoreThreshold float64       `yaml:"fit_score_threshold"`
	MaxConcurrent     int           `yaml:"max_concurrent"` // concurrent prepare/fill operations
}

// SearchConfig holds default search criteria.
type SearchConfig struct {
	JobTitles        []string `yaml:"job_titles"`
	Locations        []string `yaml:"locations"`
	RemotePreference string   `yaml:"remote_preference"` // any, remote, onsite
	Platforms        []string `yaml:"platforms"`
	MaxResults       int      `yaml:"max_results"`
}

// ApplicantConfig points at the operator's own materials: a free-text
// profile used for fit scoring and cover letters, and the base resume
// attached to applications.
type ApplicantConfig struct {
	ProfileFile string `yaml:"profile_file"`
	ResumeFile  string `yaml:"resume_file"`
}

// CommandConfig configures the command interpreter.
type CommandConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	MaxHistoryTokens    int     `yaml:"max_history_tokens"`
}

// BusConfig configures the status broadcaster.
type BusConfig struct {
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// WebUIConfig configures the HTTP status server.
type WebUIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// MetricsConfig configures Prometheus integration.
type MetricsConfig struct {
	PrometheusURL string `yaml:"prometheus_url,omitempty"` // enables the query service
}

// Config is the root configuration for jobpilot.
type Config struct {
	DataDir      string         `yaml:"data_dir"`
	DatabaseFile string         `yaml:"database_file"`
	EventLogDir  string         `yaml:"event_log_dir"`
	Interpreter  LLMConfig      `yaml:"interpreter"`
	Scorer       LLMConfig      `yaml:"scorer"`
	Session      SessionConfig  `yaml:"session"`
	Pipeline     PipelineConfig `yaml:"pipeline"`
	Search       SearchConfig   `yaml:"search"`
	Applicant    ApplicantConfig `yaml:"applicant"`
	Command      CommandConfig  `yaml:"command"`
	Bus          BusConfig      `yaml:"bus"`
	WebUI        WebUIConfig    `yaml:"webui"`
	Metrics      MetricsConfig  `yaml:"metrics"`
}

// Default returns a config populated with defaults rooted at dataDir.
func Default(dataDir string) *Config {
	return &Config{
		DataDir:      dataDir,
		DatabaseFile: filepath.Join(dataDir, "jobpilot.db"),
		EventLogDir:  filepath.Join(dataDir, "events"),
		Interpreter: LLMConfig{
			Provider:  ProviderAnthropic,
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 1024,
			Temp:      0.3,
		},
		Scorer: LLMConfig{
			Provider:  ProviderOpenAI,
			Model:     "gpt-4o",
			MaxTokens: 4096,
			Temp:      0.2,
		},
		Session: SessionConfig{
			ProfileDir:       filepath.Join(dataDir, "browser_profile"),
			Headless:         false,
			LoginPollTimeout: 3 * time.Minute,
			LoginPollEvery:   5 * time.Second,
			ActionTimeout:    2 * time.Minute,
		},
		Pipeline: PipelineConfig{
			StallThreshold:    24 * time.Hour,
			FitScoreThreshold: 50.0,
			MaxConcurrent:     3,
		},
		Search: SearchConfig{
			RemotePreference: "any",
			Platforms:        []string{PlatformIndeed, PlatformLinkedIn},
			MaxResults:       25,
		},
		Applicant: ApplicantConfig{
			ProfileFile: filepath.Join(dataDir, "profile.md"),
			ResumeFile:  filepath.Join(dataDir, "resume.pdf"),
		},
		Command: CommandConfig{
			ConfidenceThreshold: 0.7,
			MaxHistoryTokens:    8000,
		},
		Bus: BusConfig{
			SubscriberBuffer: 64,
		},
		WebUI: WebUIConfig{
			Host: "127.0.0.1",
			Port: 8090,
		},
	}
}

// Load reads configuration from dir/jobpilot.yaml, applying defaults for any
// missing values and environment overrides for API keys. A missing file is
// not an error; defaults are used.
func Load(dir string) (*Config, error) {
	cfg := Default(filepath.Join(dir, "data"))

	path := filepath.Join(dir, ConfigFilename)
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides fills API keys from the environment. Env always wins over
// keys committed to the config file.
func applyEnvOverrides(cfg *Config) {
	for _, llm := range []*LLMConfig{&cfg.Interpreter, &cfg.Scorer} {
		switch llm.Provider {
		case ProviderAnthropic:
			if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
				llm.APIKey = key
			}
		case ProviderOpenAI:
			if key := os.Getenv("OPENAI_API_KEY"); key != "" {
				llm.APIKey = key
			}
		case ProviderOllama:
			if host := os.Getenv("OLLAMA_HOST"); host != "" {
				llm.Host = host
			}
		}
	}
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	for name, llm := range map[string]*LLMConfig{"interpreter": &c.Interpreter, "scorer": &c.Scorer} {
		switch llm.Provider {
		case ProviderAnthropic, ProviderOpenAI, ProviderOllama:
		default:
			return fmt.Errorf("%s: unknown LLM provider %q", name, llm.Provider)
		}
		if llm.Model == "" {
			return fmt.Errorf("%s: model cannot be empty", name)
		}
		if llm.MaxTokens <= 0 {
			return fmt.Errorf("%s: max_tokens must be positive", name)
		}
		if llm.Temp < 0 || llm.Temp > 2.0 {
			return fmt.Errorf("%s: temperature must be between 0.0 and 2.0", name)
		}
	}

	if c.Command.ConfidenceThreshold < 0 || c.Command.ConfidenceThreshold > 1 {
		return fmt.Errorf("command: confidence_threshold must be in [0,1]")
	}
	if c.Bus.SubscriberBuffer <= 0 {
		return fmt.Errorf("bus: subscriber_buffer must be positive")
	}
	if c.Pipeline.MaxConcurrent <= 0 {
		return fmt.Errorf("pipeline: max_concurrent must be positive")
	}
	if c.Pipeline.StallThreshold <= 0 {
		return fmt.Errorf("pipeline: stall_threshold must be positive")
	}
	for _, p := range c.Search.Platforms {
		if p != PlatformLinkedIn && p != PlatformIndeed {
			return fmt.Errorf("search: unknown platform %q", p)
		}
	}
	if c.WebUI.Port <= 0 || c.WebUI.Port > 65535 {
		return fmt.Errorf("webui: port out of range: %d", c.WebUI.Port)
	}
	return nil
}

// EnsureDirs creates the data directories the config points at.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.EventLogDir, c.Session.ProfileDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
