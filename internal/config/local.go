package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// LocalConfig holds configuration for the CLI and the local daemon
type LocalConfig struct {
	Daemon   DaemonConfig   `yaml:"daemon"`
	Runner   RunnerConfig   `yaml:"runner"`
	LLM      LLMConfig      `yaml:"llm"`
	Progress ProgressConfig `yaml:"progress"`
	Queue    QueueConfig    `yaml:"queue"`
	Rewards  RewardsConfig  `yaml:"rewards"`
	Lessons  LessonsConfig  `yaml:"lessons"`
}

// DaemonConfig holds daemon server settings
type DaemonConfig struct {
	Port           int    `yaml:"port"`
	Bind           string `yaml:"bind"`
	LogLevel       string `yaml:"log_level"`
	GradingDelayMS int    `yaml:"grading_delay_ms"`

	// Runs, gradings and tutor calls allowed per client per minute; 0 disables the limit
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	// Key the rate limit on X-Forwarded-For; only behind a reverse proxy
	TrustProxy bool `yaml:"trust_proxy"`
	// Browser origins allowed to call the API. Empty rejects every browser page.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// Addr returns the host:port the daemon listens on
func (d DaemonConfig) Addr() string {
	return fmt.Sprintf("%s:%d", d.Bind, d.Port)
}

// GradingDelay returns the cosmetic pause before grading
func (d DaemonConfig) GradingDelay() time.Duration {
	return time.Duration(d.GradingDelayMS) * time.Millisecond
}

// RunnerConfig holds code execution settings
type RunnerConfig struct {
	Backend        string             `yaml:"backend"` // local or docker
	PythonPath     string             `yaml:"python_path"`
	TimeoutSeconds int                `yaml:"timeout_seconds"`
	Docker         DockerRunnerConfig `yaml:"docker"`

	// Run on the host when the docker backend was chosen but is unreachable
	AllowHostFallback bool `yaml:"allow_host_fallback"`
}

// Timeout returns the per-program bound; zero means unbounded
func (r RunnerConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// DockerRunnerConfig holds Docker executor settings
type DockerRunnerConfig struct {
	Image      string  `yaml:"image"`
	MemoryMB   int     `yaml:"memory_mb"`
	CPULimit   float64 `yaml:"cpu_limit"`
	NetworkOff bool    `yaml:"network_off"`
}

// LLMConfig holds text generation provider settings
type LLMConfig struct {
	DefaultProvider string                     `yaml:"default_provider"`
	Providers       map[string]*ProviderConfig `yaml:"providers"`
}

// ProviderConfig holds settings for a single LLM provider
type ProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
	URL     string `yaml:"url,omitempty"`
	APIKey  string `yaml:"-"` // Loaded from secrets.yaml or the environment
}

// ProgressConfig selects where completions are recorded
type ProgressConfig struct {
	Store       string `yaml:"store"` // sqlite, postgres or memory
	SQLitePath  string `yaml:"sqlite_path,omitempty"`
	DatabaseURL string `yaml:"database_url,omitempty"`
	UserID      string `yaml:"user_id"`
	RemoteURL   string `yaml:"remote_url,omitempty"`
	RemoteToken string `yaml:"-"`
}

// QueueConfig holds completion event transport settings. Empty URLs and
// broker lists disable the transport.
type QueueConfig struct {
	RabbitMQURL string      `yaml:"rabbitmq_url,omitempty"`
	Consume     bool        `yaml:"consume"`
	Workers     int         `yaml:"workers"`
	Kafka       KafkaConfig `yaml:"kafka"`
}

// KafkaConfig holds Kafka publisher settings
type KafkaConfig struct {
	Brokers []string `yaml:"brokers,omitempty"`
	Topic   string   `yaml:"topic"`
}

// RewardsConfig holds the reward granted by lessons without their own
type RewardsConfig struct {
	DefaultXP   int `yaml:"default_xp"`
	DefaultGems int `yaml:"default_gems"`
}

// LessonsConfig lists extra lesson directories loaded after the built-ins
type LessonsConfig struct {
	Dirs []string `yaml:"dirs"`
}

// SecretsConfig holds credentials loaded from secrets.yaml
type SecretsConfig struct {
	Providers map[string]SecretEntry `yaml:"providers"`
	Progress  SecretEntry            `yaml:"progress,omitempty"`
}

// SecretEntry is a single credential
type SecretEntry struct {
	APIKey string `yaml:"api_key,omitempty"`
	Token  string `yaml:"token,omitempty"`
}

// Dir returns the path to ~/.pythonquest, or $PYTHONQUEST_HOME when set
func Dir() (string, error) {
	if dir := os.Getenv("PYTHONQUEST_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".pythonquest"), nil
}

// EnsureDir creates the config directory and its subdirectories
func EnsureDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}

	subdirs := []string{
		"",
		"logs",
		"sessions",
		"lessons",
		"data",
	}

	for _, subdir := range subdirs {
		path := filepath.Join(dir, subdir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", fmt.Errorf("create dir %s: %w", path, err)
		}
	}

	return dir, nil
}

// DefaultLocalConfig returns sensible defaults for local mode
func DefaultLocalConfig() *LocalConfig {
	return &LocalConfig{
		Daemon: DaemonConfig{
			Port:               7433,
			Bind:               "127.0.0.1",
			LogLevel:           "info",
			RateLimitPerMinute: 30,
		},
		Runner: RunnerConfig{
			Backend:        "local",
			PythonPath:     "python3",
			TimeoutSeconds: 10,
			Docker: DockerRunnerConfig{
				Image:      "python:3.12-alpine",
				MemoryMB:   128,
				CPULimit:   0.5,
				NetworkOff: true,
			},
		},
		LLM: LLMConfig{
			DefaultProvider: "auto",
			Providers: map[string]*ProviderConfig{
				"gemini": {
					Enabled: true,
					Model:   "gemini-2.5-flash",
				},
				"claude": {
					Enabled: true,
					Model:   "claude-sonnet-4-20250514",
				},
				"ollama": {
					Enabled: false,
					URL:     "http://localhost:11434",
					Model:   "llama3",
				},
			},
		},
		Progress: ProgressConfig{
			Store:  "sqlite",
			UserID: "local",
		},
		Queue: QueueConfig{
			Workers: 2,
			Kafka: KafkaConfig{
				Topic: "pythonquest.completions",
			},
		},
		Rewards: RewardsConfig{
			DefaultXP:   100,
			DefaultGems: 10,
		},
	}
}

// LoadLocalConfig loads configuration from config.yaml and secrets.yaml in
// the config directory. Missing files yield defaults.
func LoadLocalConfig() (*LocalConfig, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}

	cfg := DefaultLocalConfig()
	configPath := filepath.Join(dir, "config.yaml")

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadSecrets(dir, cfg); err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}

	return cfg, nil
}

// loadSecrets loads API keys from secrets.yaml
func loadSecrets(dir string, cfg *LocalConfig) error {
	secretsPath := filepath.Join(dir, "secrets.yaml")

	data, err := os.ReadFile(secretsPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read secrets: %w", err)
	}

	var secrets SecretsConfig
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return fmt.Errorf("parse secrets: %w", err)
	}

	for name, secret := range secrets.Providers {
		if provider, ok := cfg.LLM.Providers[name]; ok {
			provider.APIKey = secret.APIKey
		}
	}
	if secrets.Progress.Token != "" {
		cfg.Progress.RemoteToken = secrets.Progress.Token
	}

	return nil
}

// SaveLocalConfig saves configuration to config.yaml. Credentials are
// never written to this file.
func SaveLocalConfig(cfg *LocalConfig) error {
	dir, err := EnsureDir()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// SaveSecrets saves provider API keys to secrets.yaml. Keys already stored
// for other providers and the progress token are kept.
func SaveSecrets(keys map[string]string) error {
	dir, err := EnsureDir()
	if err != nil {
		return err
	}
	secretsPath := filepath.Join(dir, "secrets.yaml")

	var secrets SecretsConfig
	if data, err := os.ReadFile(secretsPath); err == nil {
		if err := yaml.Unmarshal(data, &secrets); err != nil {
			return fmt.Errorf("parse secrets: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read secrets: %w", err)
	}
	if secrets.Providers == nil {
		secrets.Providers = make(map[string]SecretEntry, len(keys))
	}
	for name, key := range keys {
		secrets.Providers[name] = SecretEntry{APIKey: key}
	}

	data, err := yaml.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}

	// Owner read/write only
	if err := os.WriteFile(secretsPath, data, 0600); err != nil {
		return fmt.Errorf("write secrets: %w", err)
	}

	return nil
}
