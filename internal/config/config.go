package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultContextWindow is the assumed model context window when the config
// does not specify one.
const DefaultContextWindow = 200000

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Agent   AgentConfig   `yaml:"agent"`
	Watcher WatcherConfig `yaml:"watcher"`
	Chat    ChatConfig    `yaml:"chat"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AgentConfig describes the driven Claude Code process: where it runs, which
// model it uses, and the tmux session it lives in.
type AgentConfig struct {
	WorkDir          string `yaml:"workdir"`
	Model            string `yaml:"model"`
	TmuxSession      string `yaml:"tmux_session"`
	PromptBufferFile string `yaml:"prompt_buffer_file"`
	ContextWindow    int    `yaml:"context_window"`
}

// WatcherConfig holds the transcript watcher timings. Durations are given as
// Go duration strings in YAML ("300ms", "3s").
type WatcherConfig struct {
	PollInterval           time.Duration
	IdleTimeout            time.Duration
	TurnTimeout            time.Duration
	SessionRefreshInterval time.Duration
	StartupWait            time.Duration
	DiscoveryTimeout       time.Duration
}

type ChatConfig struct {
	HistoryLimit int `yaml:"history_limit"`
}

// rawWatcherConfig is the YAML shape of WatcherConfig; duration fields are
// strings parsed with time.ParseDuration.
type rawWatcherConfig struct {
	PollInterval           string `yaml:"poll_interval"`
	IdleTimeout            string `yaml:"idle_timeout"`
	TurnTimeout            string `yaml:"turn_timeout"`
	SessionRefreshInterval string `yaml:"session_refresh_interval"`
	StartupWait            string `yaml:"startup_wait"`
	DiscoveryTimeout       string `yaml:"discovery_timeout"`
}

func (w *WatcherConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw rawWatcherConfig
	if err := value.Decode(&raw); err != nil {
		return err
	}

	fields := []struct {
		src string
		dst *time.Duration
	}{
		{raw.PollInterval, &w.PollInterval},
		{raw.IdleTimeout, &w.IdleTimeout},
		{raw.TurnTimeout, &w.TurnTimeout},
		{raw.SessionRefreshInterval, &w.SessionRefreshInterval},
		{raw.StartupWait, &w.StartupWait},
		{raw.DiscoveryTimeout, &w.DiscoveryTimeout},
	}
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		d, err := time.ParseDuration(f.src)
		if err != nil {
			return fmt.Errorf("parsing watcher duration %q: %w", f.src, err)
		}
		*f.dst = d
	}
	return nil
}

func defaultConfig() *Config {
	cwd, _ := os.Getwd()
	return &Config{
		Server: ServerConfig{
			Port: 8090,
			Host: "0.0.0.0",
		},
		Agent: AgentConfig{
			WorkDir:          cwd,
			TmuxSession:      "claude-watch",
			PromptBufferFile: "/tmp/claude-watch-prompt.txt",
			ContextWindow:    DefaultContextWindow,
		},
		Watcher: WatcherConfig{
			PollInterval:           300 * time.Millisecond,
			IdleTimeout:            3 * time.Second,
			TurnTimeout:            5 * time.Minute,
			SessionRefreshInterval: 5 * time.Second,
			StartupWait:            3 * time.Second,
			DiscoveryTimeout:       13 * time.Second,
		},
		Chat: ChatConfig{
			HistoryLimit: 200,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault loads the config from path, returning defaults when the file
// does not exist. Other errors (unreadable file, bad YAML) still fail.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return cfg, err
}
