// ABOUTME: Configuration loading and parsing for coven-keyring
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-keyring/internal/auth"
	"github.com/2389/coven-keyring/internal/password"
	"github.com/2389/coven-keyring/internal/secrets"
)

// Environment variables consulted when the config file leaves a secret empty.
const (
	EnvJWTSecret     = "JWT_SECRET"
	EnvEncryptionKey = "ENCRYPTION_KEY"
)

// Defaults applied by Load.
const (
	DefaultTokenTTL          = 24 * time.Hour
	DefaultPasswordAttempts  = 5
	DefaultLockoutWindow     = 15 * time.Minute
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

// Config represents the complete coven-keyring configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// GRPCAddr is optional; the gRPC listener only starts when it is set.
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`

	ReadHeaderTimeout    time.Duration `yaml:"-" toml:"-"`
	ReadHeaderTimeoutRaw string        `yaml:"read_header_timeout" toml:"read_header_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication and secret-protection configuration.
// JWTSecret and EncryptionKey must never be logged.
type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret" toml:"jwt_secret"`
	EncryptionKey string `yaml:"encryption_key" toml:"encryption_key"`
	BcryptCost    int    `yaml:"bcrypt_cost" toml:"bcrypt_cost"`

	TokenTTL    time.Duration `yaml:"-" toml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl" toml:"token_ttl"`

	// MaxPasswordAttempts wrong current passwords within LockoutWindow lock
	// further password changes for that user until the window passes.
	MaxPasswordAttempts int           `yaml:"max_password_attempts" toml:"max_password_attempts"`
	LockoutWindow       time.Duration `yaml:"-" toml:"-"`
	LockoutWindowRaw    string        `yaml:"lockout_window" toml:"lockout_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes configuration content, applies env fallbacks and defaults,
// and validates the result.
func Parse(data []byte, isTOML bool) (*Config, error) {
	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvFallbacks(&cfg)

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

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

// applyEnvFallbacks fills secrets left empty by the file from the environment.
func applyEnvFallbacks(cfg *Config) {
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = os.Getenv(EnvJWTSecret)
	}
	if cfg.Auth.EncryptionKey == "" {
		cfg.Auth.EncryptionKey = os.Getenv(EnvEncryptionKey)
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Auth.BcryptCost == 0 {
		cfg.Auth.BcryptCost = password.DefaultCost
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = DefaultTokenTTL
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if cfg.Auth.MaxPasswordAttempts == 0 {
		cfg.Auth.MaxPasswordAttempts = DefaultPasswordAttempts
	}
	if cfg.Auth.LockoutWindow == 0 {
		cfg.Auth.LockoutWindow = DefaultLockoutWindow
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
// Error messages never include secret values.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (or set %s)", EnvJWTSecret)
	}
	if len(c.Auth.JWTSecret) < auth.MinSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", auth.MinSecretLength)
	}

	if c.Auth.EncryptionKey == "" {
		return fmt.Errorf("auth.encryption_key is required (or set %s)", EnvEncryptionKey)
	}
	if len(c.Auth.EncryptionKey) < secrets.MinKeyLength {
		return fmt.Errorf("auth.encryption_key must be at least %d bytes", secrets.MinKeyLength)
	}

	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("auth.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	if c.Auth.TokenTTL < 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}

	if c.Auth.MaxPasswordAttempts < 0 {
		return fmt.Errorf("auth.max_password_attempts must not be negative")
	}
	if c.Auth.LockoutWindow < 0 {
		return fmt.Errorf("auth.lockout_window must be positive")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
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

	if cfg.Auth.LockoutWindowRaw != "" {
		cfg.Auth.LockoutWindow, err = time.ParseDuration(cfg.Auth.LockoutWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing lockout_window %q: %w", cfg.Auth.LockoutWindowRaw, err)
		}
	}

	if cfg.Server.ReadHeaderTimeoutRaw != "" {
		cfg.Server.ReadHeaderTimeout, err = time.ParseDuration(cfg.Server.ReadHeaderTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing read_header_timeout %q: %w", cfg.Server.ReadHeaderTimeoutRaw, err)
		}
	}

	return nil
}

// DefaultPath returns the path to the keyring config file.
// Priority: COVEN_KEYRING_CONFIG env var > XDG_CONFIG_HOME/coven/keyring.yaml > ~/.config/coven/keyring.yaml
func DefaultPath() string {
	if envPath := os.Getenv("COVEN_KEYRING_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "keyring.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "keyring.yaml")
}
