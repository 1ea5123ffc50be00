package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Load reads .env from the working directory, then the config files, then
// applies environment overrides. Variables already set in the environment
// win over .env entries.
func Load() (*LocalConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := LoadLocalConfig()
	if err != nil {
		return nil, err
	}

	ApplyEnv(cfg)
	return cfg, cfg.Validate()
}

// ApplyEnv overrides cfg with values from the environment
func ApplyEnv(cfg *LocalConfig) {
	cfg.Daemon.Port = getEnvInt("PYTHONQUEST_PORT", cfg.Daemon.Port)
	cfg.Daemon.Bind = getEnv("PYTHONQUEST_BIND", cfg.Daemon.Bind)
	cfg.Daemon.LogLevel = getEnv("PYTHONQUEST_LOG_LEVEL", cfg.Daemon.LogLevel)
	cfg.Daemon.GradingDelayMS = getEnvInt("PYTHONQUEST_GRADING_DELAY_MS", cfg.Daemon.GradingDelayMS)
	cfg.Daemon.RateLimitPerMinute = getEnvInt("PYTHONQUEST_RATE_LIMIT", cfg.Daemon.RateLimitPerMinute)
	cfg.Daemon.TrustProxy = getEnvBool("PYTHONQUEST_TRUST_PROXY", cfg.Daemon.TrustProxy)
	if origins := os.Getenv("PYTHONQUEST_ALLOWED_ORIGINS"); origins != "" {
		cfg.Daemon.AllowedOrigins = splitList(origins)
	}

	cfg.Runner.Backend = getEnv("PYTHONQUEST_RUNNER", cfg.Runner.Backend)
	cfg.Runner.PythonPath = getEnv("PYTHONQUEST_PYTHON", cfg.Runner.PythonPath)
	cfg.Runner.TimeoutSeconds = getEnvInt("PYTHONQUEST_RUNNER_TIMEOUT", cfg.Runner.TimeoutSeconds)
	cfg.Runner.Docker.Image = getEnv("PYTHONQUEST_RUNNER_IMAGE", cfg.Runner.Docker.Image)
	cfg.Runner.Docker.MemoryMB = getEnvInt("PYTHONQUEST_RUNNER_MEMORY_MB", cfg.Runner.Docker.MemoryMB)
	cfg.Runner.Docker.CPULimit = getEnvFloat("PYTHONQUEST_RUNNER_CPU_LIMIT", cfg.Runner.Docker.CPULimit)
	cfg.Runner.AllowHostFallback = getEnvBool("PYTHONQUEST_RUNNER_HOST_FALLBACK", cfg.Runner.AllowHostFallback)

	cfg.LLM.DefaultProvider = getEnv("PYTHONQUEST_LLM_PROVIDER", cfg.LLM.DefaultProvider)
	// API_KEY is the name the browser app used for the Gemini key
	applyKey(cfg, "gemini", getEnv("GEMINI_API_KEY", os.Getenv("API_KEY")))
	applyKey(cfg, "claude", os.Getenv("ANTHROPIC_API_KEY"))
	if url := os.Getenv("OLLAMA_URL"); url != "" {
		if p, ok := cfg.LLM.Providers["ollama"]; ok {
			p.URL = url
			p.Enabled = true
		}
	}

	cfg.Progress.Store = getEnv("PYTHONQUEST_STORE", cfg.Progress.Store)
	cfg.Progress.DatabaseURL = getEnv("PYTHONQUEST_DATABASE_URL", cfg.Progress.DatabaseURL)
	cfg.Progress.UserID = getEnv("PYTHONQUEST_USER", cfg.Progress.UserID)
	cfg.Progress.RemoteURL = getEnv("PYTHONQUEST_API_URL", cfg.Progress.RemoteURL)
	cfg.Progress.RemoteToken = getEnv("PYTHONQUEST_API_TOKEN", cfg.Progress.RemoteToken)

	cfg.Queue.RabbitMQURL = getEnv("PYTHONQUEST_RABBITMQ_URL", cfg.Queue.RabbitMQURL)
	cfg.Queue.Consume = getEnvBool("PYTHONQUEST_QUEUE_CONSUME", cfg.Queue.Consume)
	if brokers := os.Getenv("PYTHONQUEST_KAFKA_BROKERS"); brokers != "" {
		cfg.Queue.Kafka.Brokers = splitList(brokers)
	}
	cfg.Queue.Kafka.Topic = getEnv("PYTHONQUEST_KAFKA_TOPIC", cfg.Queue.Kafka.Topic)
}

// Validate rejects settings no component can run with
func (c *LocalConfig) Validate() error {
	if c.Daemon.Port <= 0 || c.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port %d out of range", c.Daemon.Port)
	}
	switch c.Runner.Backend {
	case "local", "docker":
	default:
		return fmt.Errorf("unknown runner backend %q", c.Runner.Backend)
	}
	switch c.Progress.Store {
	case "sqlite", "memory":
	case "postgres":
		if c.Progress.DatabaseURL == "" {
			return fmt.Errorf("progress.database_url is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown progress store %q", c.Progress.Store)
	}
	if c.Rewards.DefaultXP < 0 || c.Rewards.DefaultGems < 0 {
		return fmt.Errorf("rewards must not be negative")
	}
	return nil
}

func applyKey(cfg *LocalConfig, provider, key string) {
	if key == "" {
		return
	}
	p, ok := cfg.LLM.Providers[provider]
	if !ok {
		p = &ProviderConfig{Enabled: true}
		if cfg.LLM.Providers == nil {
			cfg.LLM.Providers = make(map[string]*ProviderConfig)
		}
		cfg.LLM.Providers[provider] = p
	}
	p.APIKey = key
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
