package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
server:
  port: 9090
  host: "127.0.0.1"
  auth_token: "secret"
  allowed_origins:
    - "https://watch.example"
agent:
  workdir: /home/user/project
  model: opus
  tmux_session: claude-test
watcher:
  poll_interval: 100ms
  idle_timeout: 2s
chat:
  history_limit: 50
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.AuthToken != "secret" {
		t.Errorf("Server.AuthToken = %q, want %q", cfg.Server.AuthToken, "secret")
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://watch.example" {
		t.Errorf("Server.AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Agent.WorkDir != "/home/user/project" {
		t.Errorf("Agent.WorkDir = %q", cfg.Agent.WorkDir)
	}
	if cfg.Agent.Model != "opus" {
		t.Errorf("Agent.Model = %q, want opus", cfg.Agent.Model)
	}
	if cfg.Agent.TmuxSession != "claude-test" {
		t.Errorf("Agent.TmuxSession = %q, want claude-test", cfg.Agent.TmuxSession)
	}
	if cfg.Watcher.PollInterval != 100*time.Millisecond {
		t.Errorf("Watcher.PollInterval = %v, want 100ms", cfg.Watcher.PollInterval)
	}
	if cfg.Watcher.IdleTimeout != 2*time.Second {
		t.Errorf("Watcher.IdleTimeout = %v, want 2s", cfg.Watcher.IdleTimeout)
	}
	if cfg.Chat.HistoryLimit != 50 {
		t.Errorf("Chat.HistoryLimit = %d, want 50", cfg.Chat.HistoryLimit)
	}

	// Defaults should still be applied for unspecified fields.
	if cfg.Watcher.TurnTimeout != 5*time.Minute {
		t.Errorf("Watcher.TurnTimeout = %v, want default 5m", cfg.Watcher.TurnTimeout)
	}
	if cfg.Agent.ContextWindow != DefaultContextWindow {
		t.Errorf("Agent.ContextWindow = %d, want default %d", cfg.Agent.ContextWindow, DefaultContextWindow)
	}
	if cfg.Agent.PromptBufferFile == "" {
		t.Error("Agent.PromptBufferFile should have a default")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() on missing file should return error")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error: %v", err)
	}

	if cfg.Server.Port != 8090 {
		t.Errorf("Server.Port = %d, want default 8090", cfg.Server.Port)
	}
	if cfg.Agent.TmuxSession != "claude-watch" {
		t.Errorf("Agent.TmuxSession = %q, want default claude-watch", cfg.Agent.TmuxSession)
	}
	if cfg.Watcher.PollInterval != 300*time.Millisecond {
		t.Errorf("Watcher.PollInterval = %v, want default 300ms", cfg.Watcher.PollInterval)
	}
	if cfg.Watcher.IdleTimeout != 3*time.Second {
		t.Errorf("Watcher.IdleTimeout = %v, want default 3s", cfg.Watcher.IdleTimeout)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(cfgPath, []byte(":::not valid yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgPath); err == nil {
		t.Fatal("Load() on invalid yaml should return error")
	}
}

func TestLoadBadDuration(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := "watcher:\n  poll_interval: quickly\n"
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgPath); err == nil {
		t.Fatal("Load() with unparseable duration should return error")
	}
}
