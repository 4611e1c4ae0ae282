package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for ChatLink.
type Config struct {
	Chat       ChatConfig       `yaml:"chat"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
	Health     HealthConfig     `yaml:"health"`
	Console    ConsoleConfig    `yaml:"console"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ChatConfig contains the realtime session settings.
type ChatConfig struct {
	ServerURL         string        `yaml:"server_url"`
	RESTBaseURL       string        `yaml:"rest_base_url"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	PongTimeout       time.Duration `yaml:"pong_timeout"`
	RejoinDelay       time.Duration `yaml:"rejoin_delay"`
	MaxMessageSize    int64         `yaml:"max_message_size"`
	JoinRooms         []string      `yaml:"join_rooms"`
	MessagesPerSecond int           `yaml:"messages_per_second"`
	HistoryLimit      int           `yaml:"history_limit"`
}

// AuthConfig contains identity and API credentials.
type AuthConfig struct {
	Identity  string `yaml:"identity"`
	RESTToken string `yaml:"rest_token"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// HealthConfig contains the local health/console listener settings.
type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	ListenAddress string `yaml:"listen_address"`
	Detailed      bool   `yaml:"detailed"`
}

// ConsoleConfig contains the local JSON console API settings.
type ConsoleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	AuthToken string `yaml:"auth_token"`
}

// MonitoringConfig contains metrics settings.
type MonitoringConfig struct {
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	MetricsEndpoint string `yaml:"metrics_endpoint"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Chat: ChatConfig{
			ServerURL:         "ws://localhost:5000/socket",
			RESTBaseURL:       "http://localhost:5000/api/v1",
			HandshakeTimeout:  10 * time.Second,
			WriteTimeout:      10 * time.Second,
			PingInterval:      30 * time.Second,
			PongTimeout:       10 * time.Second,
			RejoinDelay:       2 * time.Second,
			MaxMessageSize:    262144, // 256KB
			MessagesPerSecond: 10,
			HistoryLimit:      500,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Health: HealthConfig{
			Enabled:       true,
			Endpoint:      "/health",
			ListenAddress: "127.0.0.1:8611",
			Detailed:      true,
		},
		Console: ConsoleConfig{
			Enabled: true,
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled:  false,
			MetricsEndpoint: "/metrics",
		},
	}
}

// Load reads a config file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found at %s (run 'chatlink setup' to create one)", path)
			}
			if os.IsPermission(err) {
				return nil, fmt.Errorf("permission denied reading %s", path)
			}
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w (check YAML indentation)", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Chat validation
	if c.Chat.ServerURL == "" {
		return fmt.Errorf("chat.server_url is required")
	}
	if u, err := url.Parse(c.Chat.ServerURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("chat.server_url must use ws:// or wss:// scheme")
	}
	if c.Chat.RESTBaseURL == "" {
		return fmt.Errorf("chat.rest_base_url is required")
	}
	if u, err := url.Parse(c.Chat.RESTBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("chat.rest_base_url must use http:// or https:// scheme")
	}
	if c.Chat.HandshakeTimeout <= 0 {
		return fmt.Errorf("chat.handshake_timeout must be positive")
	}
	if c.Chat.WriteTimeout <= 0 {
		return fmt.Errorf("chat.write_timeout must be positive")
	}
	if c.Chat.RejoinDelay <= 0 {
		return fmt.Errorf("chat.rejoin_delay must be positive")
	}
	if c.Chat.MaxMessageSize <= 0 {
		return fmt.Errorf("chat.max_message_size must be positive")
	}
	if c.Chat.HistoryLimit <= 0 {
		return fmt.Errorf("chat.history_limit must be positive")
	}
	if c.Chat.MessagesPerSecond < 0 {
		return fmt.Errorf("chat.messages_per_second must not be negative")
	}

	// Upper bounds
	if c.Chat.MaxMessageSize > 67108864 {
		return fmt.Errorf("chat.max_message_size must not exceed 67108864 (64MB)")
	}
	if c.Chat.HandshakeTimeout > 5*time.Minute {
		return fmt.Errorf("chat.handshake_timeout must not exceed 5m")
	}
	if c.Chat.WriteTimeout > 5*time.Minute {
		return fmt.Errorf("chat.write_timeout must not exceed 5m")
	}
	if c.Chat.RejoinDelay > time.Minute {
		return fmt.Errorf("chat.rejoin_delay must not exceed 1m")
	}
	if c.Chat.HistoryLimit > 100000 {
		return fmt.Errorf("chat.history_limit must not exceed 100000")
	}

	// Logging validation
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Health validation
	if c.Health.Enabled {
		if c.Health.ListenAddress == "" {
			return fmt.Errorf("health.listen_address is required when health is enabled")
		}
		if _, _, err := net.SplitHostPort(c.Health.ListenAddress); err != nil {
			return fmt.Errorf("health.listen_address is invalid: %w", err)
		}
		host, _, _ := net.SplitHostPort(c.Health.ListenAddress)
		ip := net.ParseIP(host)
		if ip != nil && !ip.IsLoopback() {
			return fmt.Errorf("health.listen_address should bind to a loopback address (e.g. 127.0.0.1) to avoid exposing the console")
		}
	}

	// Console shares the health listener
	if c.Console.Enabled && !c.Health.Enabled {
		return fmt.Errorf("console.enabled requires health.enabled (the console rides on the local listener)")
	}

	return nil
}

// applyEnvOverrides applies CHATLINK_ prefixed environment variables.
// Convention: CHATLINK_ + uppercase + underscores for nesting.
func applyEnvOverrides(cfg *Config) {
	envMap := map[string]func(string){
		"CHATLINK_CHAT_SERVER_URL":          func(v string) { cfg.Chat.ServerURL = v },
		"CHATLINK_CHAT_REST_BASE_URL":       func(v string) { cfg.Chat.RESTBaseURL = v },
		"CHATLINK_CHAT_HANDSHAKE_TIMEOUT":   func(v string) { cfg.Chat.HandshakeTimeout = parseDuration(v, cfg.Chat.HandshakeTimeout) },
		"CHATLINK_CHAT_WRITE_TIMEOUT":       func(v string) { cfg.Chat.WriteTimeout = parseDuration(v, cfg.Chat.WriteTimeout) },
		"CHATLINK_CHAT_PING_INTERVAL":       func(v string) { cfg.Chat.PingInterval = parseDuration(v, cfg.Chat.PingInterval) },
		"CHATLINK_CHAT_PONG_TIMEOUT":        func(v string) { cfg.Chat.PongTimeout = parseDuration(v, cfg.Chat.PongTimeout) },
		"CHATLINK_CHAT_REJOIN_DELAY":        func(v string) { cfg.Chat.RejoinDelay = parseDuration(v, cfg.Chat.RejoinDelay) },
		"CHATLINK_CHAT_MAX_MESSAGE_SIZE":    func(v string) { cfg.Chat.MaxMessageSize = parseInt64(v, cfg.Chat.MaxMessageSize) },
		"CHATLINK_CHAT_JOIN_ROOMS":          func(v string) { cfg.Chat.JoinRooms = splitList(v) },
		"CHATLINK_CHAT_MESSAGES_PER_SECOND": func(v string) { cfg.Chat.MessagesPerSecond = parseInt(v, cfg.Chat.MessagesPerSecond) },
		"CHATLINK_CHAT_HISTORY_LIMIT":       func(v string) { cfg.Chat.HistoryLimit = parseInt(v, cfg.Chat.HistoryLimit) },
		"CHATLINK_AUTH_IDENTITY":            func(v string) { cfg.Auth.Identity = v },
		"CHATLINK_AUTH_REST_TOKEN":          func(v string) { cfg.Auth.RESTToken = v },
		"CHATLINK_LOGGING_LEVEL":            func(v string) { cfg.Logging.Level = v },
		"CHATLINK_LOGGING_FORMAT":           func(v string) { cfg.Logging.Format = v },
		"CHATLINK_LOGGING_FILE":             func(v string) { cfg.Logging.File = v },
		"CHATLINK_HEALTH_ENABLED":           func(v string) { cfg.Health.Enabled = parseBool(v, cfg.Health.Enabled) },
		"CHATLINK_HEALTH_LISTEN_ADDRESS":    func(v string) { cfg.Health.ListenAddress = v },
		"CHATLINK_CONSOLE_ENABLED":          func(v string) { cfg.Console.Enabled = parseBool(v, cfg.Console.Enabled) },
		"CHATLINK_CONSOLE_AUTH_TOKEN":       func(v string) { cfg.Console.AuthToken = v },
		"CHATLINK_MONITORING_METRICS_ENABLED": func(v string) {
			cfg.Monitoring.MetricsEnabled = parseBool(v, cfg.Monitoring.MetricsEnabled)
		},
	}

	for env, setter := range envMap {
		if v := os.Getenv(env); v != "" {
			setter(v)
		}
	}
}

// ApplyReloadableFields returns a copy of c with reloadable fields from newCfg.
// Non-reloadable: server_url, rest_base_url, auth.identity, health.listen_address
func (c *Config) ApplyReloadableFields(newCfg *Config) *Config {
	updated := *c
	updated.Logging.Level = newCfg.Logging.Level
	updated.Chat.MessagesPerSecond = newCfg.Chat.MessagesPerSecond
	updated.Chat.HistoryLimit = newCfg.Chat.HistoryLimit
	updated.Chat.RejoinDelay = newCfg.Chat.RejoinDelay
	updated.Console.AuthToken = newCfg.Console.AuthToken
	updated.Auth.RESTToken = newCfg.Auth.RESTToken
	return &updated
}

// IsReloadSafe checks if only reloadable fields changed between configs.
func IsReloadSafe(old, new *Config) []string {
	var warnings []string
	if old.Chat.ServerURL != new.Chat.ServerURL {
		warnings = append(warnings, "chat.server_url requires restart")
	}
	if old.Chat.RESTBaseURL != new.Chat.RESTBaseURL {
		warnings = append(warnings, "chat.rest_base_url requires restart")
	}
	if old.Auth.Identity != new.Auth.Identity {
		warnings = append(warnings, "auth.identity requires restart")
	}
	if old.Health.ListenAddress != new.Health.ListenAddress {
		warnings = append(warnings, "health.listen_address requires restart")
	}
	return warnings
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt64(s string, fallback int64) int64 {
	var v int64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseInt(s string, fallback int) int {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseBool(s string, fallback bool) bool {
	s = strings.ToLower(s)
	switch s {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
