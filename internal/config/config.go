// ABOUTME: Configuration loading and parsing for carrel
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Auth modes accepted by auth.mode.
const (
	AuthModeNone  = "none"
	AuthModeToken = "token"
	AuthModeSSH   = "ssh"
)

// Config represents the complete carrel configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Resources  ResourcesConfig  `yaml:"resources"`
	Tailscale  TailscaleConfig  `yaml:"tailscale"`
	Auth       AuthConfig       `yaml:"auth"`
	ServerInfo ServerInfoConfig `yaml:"server_info"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	WSAddr string      `yaml:"ws_addr"`
	Stdio  StdioConfig `yaml:"stdio"`
}

// StdioConfig enables the stdin/stdout transport
type StdioConfig struct {
	Enabled bool `yaml:"enabled"`
}

// CatalogConfig points at the source/tool catalog
type CatalogConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// ResourcesConfig holds resource listing configuration
type ResourcesConfig struct {
	PageSize int `yaml:"page_size"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// AuthConfig holds authentication configuration for the socket upgrade
type AuthConfig struct {
	Mode           string `yaml:"mode"`
	JWTSecret      string `yaml:"jwt_secret"`
	Issuer         string `yaml:"issuer"`
	Audience       string `yaml:"audience"`
	AuthorizedKeys string `yaml:"authorized_keys"`

	TokenTTL time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TokenTTLRaw string `yaml:"token_ttl"`
}

// ServerInfoConfig is the identity advertised during the handshake
type ServerInfoConfig struct {
	Name         string `yaml:"name"`
	Version      string `yaml:"version"`
	Instructions string `yaml:"instructions"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the file leaves a field unset.
const (
	DefaultWSAddr      = "127.0.0.1:8700"
	DefaultCatalogPath = "catalog.toml"
	DefaultPageSize    = 50
	DefaultTokenTTL    = 24 * time.Hour
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset fields so callers never see zero values.
func (c *Config) applyDefaults() {
	if c.Server.WSAddr == "" {
		c.Server.WSAddr = DefaultWSAddr
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = DefaultCatalogPath
	}
	if c.Resources.PageSize == 0 {
		c.Resources.PageSize = DefaultPageSize
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = AuthModeNone
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.ServerInfo.Name == "" {
		c.ServerInfo.Name = "carrel"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// A gateway with neither a socket listener nor stdio serves nobody
	if c.Server.WSAddr == "" && !c.Server.Stdio.Enabled && !c.Tailscale.Enabled {
		return fmt.Errorf("server.ws_addr is required (or enable stdio or tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}

	if c.Resources.PageSize < 1 {
		return fmt.Errorf("resources.page_size must be at least 1, got %d", c.Resources.PageSize)
	}

	switch c.Auth.Mode {
	case AuthModeNone:
	case AuthModeToken:
		if len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("auth.jwt_secret must be at least 32 bytes when auth.mode is %q", AuthModeToken)
		}
	case AuthModeSSH:
		if c.Auth.AuthorizedKeys == "" {
			return fmt.Errorf("auth.authorized_keys is required when auth.mode is %q", AuthModeSSH)
		}
	default:
		return fmt.Errorf("auth.mode must be one of none, token, ssh; got %q", c.Auth.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	return nil
}
