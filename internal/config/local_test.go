package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestDir(t *testing.T) {
	t.Setenv("PYTHONQUEST_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir() error = %v", err)
	}
	if want := filepath.Join(home, ".pythonquest"); dir != want {
		t.Errorf("Dir() = %q, want %q", dir, want)
	}

	t.Setenv("PYTHONQUEST_HOME", "/srv/quest")
	if dir, _ := Dir(); dir != "/srv/quest" {
		t.Errorf("Dir() with PYTHONQUEST_HOME = %q", dir)
	}
}

func TestEnsureDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("PYTHONQUEST_HOME", filepath.Join(home, "quest"))

	dir, err := EnsureDir()
	if err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}

	for _, subdir := range []string{"logs", "sessions", "lessons", "data"} {
		if info, err := os.Stat(filepath.Join(dir, subdir)); err != nil || !info.IsDir() {
			t.Errorf("EnsureDir() should create %s", subdir)
		}
	}
}

func TestDefaultLocalConfig(t *testing.T) {
	cfg := DefaultLocalConfig()

	if cfg.Daemon.Addr() != "127.0.0.1:7433" {
		t.Errorf("Daemon.Addr() = %q", cfg.Daemon.Addr())
	}
	if cfg.Daemon.GradingDelay() != 0 {
		t.Errorf("GradingDelay() = %v, want 0", cfg.Daemon.GradingDelay())
	}
	if cfg.Daemon.RateLimitPerMinute != 30 {
		t.Errorf("RateLimitPerMinute = %d, want 30", cfg.Daemon.RateLimitPerMinute)
	}
	if len(cfg.Daemon.AllowedOrigins) != 0 || cfg.Daemon.TrustProxy {
		t.Errorf("Daemon = %+v, want no browser origins and no proxy trust", cfg.Daemon)
	}
	if cfg.Runner.AllowHostFallback {
		t.Error("AllowHostFallback should default to false")
	}
	if cfg.Runner.Backend != "local" || cfg.Runner.Timeout().Seconds() != 10 {
		t.Errorf("Runner = %+v", cfg.Runner)
	}
	if cfg.Runner.Docker.Image != "python:3.12-alpine" || !cfg.Runner.Docker.NetworkOff {
		t.Errorf("Runner.Docker = %+v", cfg.Runner.Docker)
	}
	if p := cfg.LLM.Providers["gemini"]; p == nil || p.Model != "gemini-2.5-flash" {
		t.Errorf("gemini provider = %+v", p)
	}
	if cfg.Rewards.DefaultXP != 100 || cfg.Rewards.DefaultGems != 10 {
		t.Errorf("Rewards = %+v, want 100/10", cfg.Rewards)
	}
	if cfg.Progress.Store != "sqlite" || cfg.Progress.UserID != "local" {
		t.Errorf("Progress = %+v", cfg.Progress)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadLocalConfig_Missing(t *testing.T) {
	t.Setenv("PYTHONQUEST_HOME", t.TempDir())

	cfg, err := LoadLocalConfig()
	if err != nil {
		t.Fatalf("LoadLocalConfig() error = %v", err)
	}
	if cfg.Daemon.Port != DefaultLocalConfig().Daemon.Port {
		t.Errorf("expected defaults, got port %d", cfg.Daemon.Port)
	}
}

func TestLoadLocalConfig_MergesOverDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("PYTHONQUEST_HOME", home)

	content := `
daemon:
  port: 8100
  grading_delay_ms: 1000
lessons:
  dirs: [/opt/lessons]
queue:
  kafka:
    brokers: [localhost:9092]
`
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadLocalConfig()
	if err != nil {
		t.Fatalf("LoadLocalConfig() error = %v", err)
	}
	if cfg.Daemon.Port != 8100 || cfg.Daemon.GradingDelay().Seconds() != 1 {
		t.Errorf("Daemon = %+v", cfg.Daemon)
	}
	if cfg.Daemon.Bind != "127.0.0.1" {
		t.Errorf("unset fields should keep defaults, Bind = %q", cfg.Daemon.Bind)
	}
	if len(cfg.Lessons.Dirs) != 1 || cfg.Lessons.Dirs[0] != "/opt/lessons" {
		t.Errorf("Lessons.Dirs = %v", cfg.Lessons.Dirs)
	}
	if cfg.Queue.Kafka.Topic != "pythonquest.completions" || len(cfg.Queue.Kafka.Brokers) != 1 {
		t.Errorf("Queue.Kafka = %+v", cfg.Queue.Kafka)
	}
}

func TestLoadLocalConfig_InvalidYAML(t *testing.T) {
	home := t.TempDir()
	t.Setenv("PYTHONQUEST_HOME", home)

	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("daemon: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadLocalConfig(); err == nil {
		t.Error("expected parse error")
	}
}

func TestSecrets_RoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("PYTHONQUEST_HOME", home)

	if err := SaveSecrets(map[string]string{"gemini": "g-key", "unknown": "x"}); err != nil {
		t.Fatalf("SaveSecrets() error = %v", err)
	}

	info, err := os.Stat(filepath.Join(home, "secrets.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("secrets.yaml mode = %o, want 600", perm)
	}

	cfg, err := LoadLocalConfig()
	if err != nil {
		t.Fatalf("LoadLocalConfig() error = %v", err)
	}
	if cfg.LLM.Providers["gemini"].APIKey != "g-key" {
		t.Errorf("gemini key = %q", cfg.LLM.Providers["gemini"].APIKey)
	}
	if _, ok := cfg.LLM.Providers["unknown"]; ok {
		t.Error("secrets for unconfigured providers should be ignored")
	}
}

func TestLoadSecrets_ProgressToken(t *testing.T) {
	dir := t.TempDir()
	content := "progress:\n  token: bearer-123\n"
	if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultLocalConfig()
	if err := loadSecrets(dir, cfg); err != nil {
		t.Fatalf("loadSecrets() error = %v", err)
	}
	if cfg.Progress.RemoteToken != "bearer-123" {
		t.Errorf("RemoteToken = %q", cfg.Progress.RemoteToken)
	}
}

func TestSaveLocalConfig_OmitsCredentials(t *testing.T) {
	home := t.TempDir()
	t.Setenv("PYTHONQUEST_HOME", home)

	cfg := DefaultLocalConfig()
	cfg.LLM.Providers["gemini"].APIKey = "must-not-leak"
	cfg.Progress.RemoteToken = "also-secret"
	cfg.Daemon.Port = 9100

	if err := SaveLocalConfig(cfg); err != nil {
		t.Fatalf("SaveLocalConfig() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(home, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("saved config is not YAML: %v", err)
	}
	for _, secret := range []string{"must-not-leak", "also-secret"} {
		if strings.Contains(string(data), secret) {
			t.Errorf("config.yaml contains credential %q", secret)
		}
	}

	loaded, err := LoadLocalConfig()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Daemon.Port != 9100 {
		t.Errorf("Port after round trip = %d", loaded.Daemon.Port)
	}
}

func TestSaveSecrets_KeepsExisting(t *testing.T) {
	home := t.TempDir()
	t.Setenv("PYTHONQUEST_HOME", home)

	content := "providers:\n  claude:\n    api_key: c-key\nprogress:\n  token: bearer-123\n"
	if err := os.WriteFile(filepath.Join(home, "secrets.yaml"), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	if err := SaveSecrets(map[string]string{"gemini": "g-key"}); err != nil {
		t.Fatalf("SaveSecrets() error = %v", err)
	}

	cfg, err := LoadLocalConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Providers["claude"].APIKey != "c-key" || cfg.LLM.Providers["gemini"].APIKey != "g-key" {
		t.Errorf("keys = claude %q, gemini %q", cfg.LLM.Providers["claude"].APIKey, cfg.LLM.Providers["gemini"].APIKey)
	}
	if cfg.Progress.RemoteToken != "bearer-123" {
		t.Errorf("progress token = %q", cfg.Progress.RemoteToken)
	}
}
