package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Widget   WidgetConfig   `json:"widget" toml:"widget" yaml:"widget"`
	Channels ChannelsConfig `json:"channels" toml:"channels" yaml:"channels"`
	Log      LogConfig      `json:"log" toml:"log" yaml:"log"`
	mu       sync.RWMutex
}

// WidgetConfig is the configuration surface of a conversation: where
// queries go and which headers they carry.
type WidgetConfig struct {
	APIURL         string            `json:"apiUrl" toml:"apiUrl" yaml:"apiUrl" env:"PICOCHAT_WIDGET_API_URL"`
	Headers        map[string]string `json:"headers,omitempty" toml:"headers" yaml:"headers" env:"PICOCHAT_WIDGET_HEADERS"`
	UserName       string            `json:"userName" toml:"userName" yaml:"userName" env:"PICOCHAT_WIDGET_USER_NAME"`
	TimeoutSeconds int               `json:"timeoutSeconds" toml:"timeoutSeconds" yaml:"timeoutSeconds" env:"PICOCHAT_WIDGET_TIMEOUT_SECONDS"`
}

type ChannelsConfig struct {
	WebChat  WebChatConfig  `json:"webchat" toml:"webchat" yaml:"webchat"`
	Terminal TerminalConfig `json:"terminal" toml:"terminal" yaml:"terminal"`
}

type WebChatConfig struct {
	Host             string   `json:"host" toml:"host" yaml:"host" env:"PICOCHAT_CHANNELS_WEBCHAT_HOST"`
	Port             int      `json:"port" toml:"port" yaml:"port" env:"PICOCHAT_CHANNELS_WEBCHAT_PORT"`
	Title            string   `json:"title" toml:"title" yaml:"title" env:"PICOCHAT_CHANNELS_WEBCHAT_TITLE"`
	SubmitsPerMinute int      `json:"submits_per_minute" toml:"submits_per_minute" yaml:"submits_per_minute" env:"PICOCHAT_CHANNELS_WEBCHAT_SUBMITS_PER_MINUTE"`
	AllowedOrigins   []string `json:"allowed_origins" toml:"allowed_origins" yaml:"allowed_origins" env:"PICOCHAT_CHANNELS_WEBCHAT_ALLOWED_ORIGINS"`
}

type TerminalConfig struct {
	Color          bool   `json:"color" toml:"color" yaml:"color" env:"PICOCHAT_CHANNELS_TERMINAL_COLOR"`
	HighlightStyle string `json:"highlight_style" toml:"highlight_style" yaml:"highlight_style" env:"PICOCHAT_CHANNELS_TERMINAL_HIGHLIGHT_STYLE"`
}

type LogConfig struct {
	Level string `json:"level" toml:"level" yaml:"level" env:"PICOCHAT_LOG_LEVEL"`
	JSON  bool   `json:"json" toml:"json" yaml:"json" env:"PICOCHAT_LOG_JSON"`
}

func DefaultConfig() *Config {
	return &Config{
		Widget: WidgetConfig{
			APIURL:         "http://localhost:5001/query",
			Headers:        map[string]string{},
			UserName:       "Guest",
			TimeoutSeconds: 30,
		},
		Channels: ChannelsConfig{
			WebChat: WebChatConfig{
				Host:             "0.0.0.0",
				Port:             18800,
				Title:            "PicoChat",
				SubmitsPerMinute: 30,
				AllowedOrigins:   []string{},
			},
			Terminal: TerminalConfig{
				Color:          true,
				HighlightStyle: "monokai",
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	// Support full config from env var (for containers)
	if cfgJSON := os.Getenv("PICOCHAT_CONFIG_JSON"); cfgJSON != "" {
		if err := json.Unmarshal([]byte(cfgJSON), cfg); err != nil {
			return nil, fmt.Errorf("parsing PICOCHAT_CONFIG_JSON: %w", err)
		}
		if err := env.Parse(cfg); err != nil {
			return nil, err
		}
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if isTOML(path) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if isYAML(path) {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	if isTOML(path) {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return toml.NewEncoder(f).Encode(cfg)
	}

	if isYAML(path) {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		return os.WriteFile(path, data, 0644)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if strings.TrimSpace(c.Widget.APIURL) == "" {
		return fmt.Errorf("widget.apiUrl is required")
	}
	if c.Channels.WebChat.Port < 0 || c.Channels.WebChat.Port > 65535 {
		return fmt.Errorf("channels.webchat.port out of range: %d", c.Channels.WebChat.Port)
	}
	return nil
}

// Timeout is the per-query bound. A non-positive setting disables it.
func (c *Config) Timeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Widget.TimeoutSeconds <= 0 {
		return -1
	}
	return time.Duration(c.Widget.TimeoutSeconds) * time.Second
}

func (c *Config) WebChatAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Channels.WebChat.Host, c.Channels.WebChat.Port)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// ExpandHome resolves a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
