package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the broker's runtime configuration, resolved in three
// layers (lowest priority first): an optional YAML file, environment
// variables, and CLI flags. Flags always win; callers apply each layer in
// that order and let later layers overwrite earlier ones field by field.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	CertFile        string   `yaml:"certfile"`
	KeyFile         string   `yaml:"keyfile"`
	MetricsInterval int      `yaml:"metrics_interval"`
	MetricsAddr     string   `yaml:"metrics_addr"`
	Tokens          []string `yaml:"tokens"`
	LogLevel        string   `yaml:"log_level"`
	MetricsJSON     bool     `yaml:"metrics_json"`
}

// ClientConfig holds the client transport's runtime configuration, resolved
// from an optional YAML file overlaid by explicit flags; unlike
// ServerConfig it has no environment-variable overlay.
type ClientConfig struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	Name              string `yaml:"name"`
	Room              string `yaml:"room"`
	Token             string `yaml:"token"`
	Renderer          string `yaml:"renderer"`
	BufferSize        int    `yaml:"buffer_size"`
	QuietReconnect    bool   `yaml:"quiet_reconnect"`
	HistoryFile       string `yaml:"history_file"`
	HistoryPassphrase string `yaml:"history_passphrase"`
	TLS               bool   `yaml:"tls"`
	TLSInsecure       bool   `yaml:"tls_insecure"`
	CAFile            string `yaml:"ca_file"`
}

// DefaultServerConfig returns the server's flag defaults per the CLI
// surface: host 127.0.0.1, port 5050, metrics disabled.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "127.0.0.1",
		Port:            5050,
		MetricsInterval: 0,
		LogLevel:        "info",
	}
}

// DefaultClientConfig returns the client's flag defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host:       "127.0.0.1",
		Port:       5050,
		Name:       "",
		Room:       "",
		Renderer:   "rich",
		BufferSize: 200,
	}
}

// LoadServerConfigFile reads and parses an optional YAML config file,
// substituting ${VAR} references against the process environment before
// unmarshaling.
func LoadServerConfigFile(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(SubstituteEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &cfg, nil
}

// LoadClientConfigFile reads and parses an optional client YAML config file.
func LoadClientConfigFile(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(SubstituteEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overlays CMDCHAT_TOKENS, CMDCHAT_LOG_LEVEL, and
// CMDCHAT_METRICS_JSON on top of the values loaded from the config file.
// An empty or unset CMDCHAT_TOKENS disables authentication entirely.
func (c *ServerConfig) ApplyEnv() {
	if tokens := os.Getenv("CMDCHAT_TOKENS"); tokens != "" {
		c.Tokens = splitTokens(tokens)
	}
	if level := os.Getenv("CMDCHAT_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if _, ok := os.LookupEnv("CMDCHAT_METRICS_JSON"); ok {
		c.MetricsJSON = true
	}
}

func splitTokens(raw string) []string {
	parts := strings.Split(raw, ",")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// AuthEnabled reports whether the server should reject connections lacking
// a recognized token.
func (c *ServerConfig) AuthEnabled() bool {
	return len(c.Tokens) > 0
}

// TokenAllowed reports whether token is in the configured allow-list. When
// auth is disabled, every token (including empty) is allowed.
func (c *ServerConfig) TokenAllowed(token string) bool {
	if !c.AuthEnabled() {
		return true
	}
	for _, t := range c.Tokens {
		if t == token {
			return true
		}
	}
	return false
}

// TLSEnabled reports whether both certificate and key paths are set;
// TLS is enabled only when both are present.
func (c *ServerConfig) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}
