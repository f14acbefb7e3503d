// Package config provides configuration management for ovpnm.
// It handles loading configuration from YAML files, applying .env and environment
// variable overrides, command line flags, and validating configuration values for
// server, database, JWT, crypto, OpenVPN, logging, and security settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	Auth     AuthConfig     `yaml:"auth"`
	Crypto   CryptoConfig   `yaml:"crypto"`
	OpenVPN  OpenVPNConfig  `yaml:"openvpn"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	Host         string        `yaml:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled"`
	TLSCert      string        `yaml:"tls_cert"`
	TLSKey       string        `yaml:"tls_key"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Type     string         `yaml:"type"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds PostgreSQL-specific configuration
type PostgresConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Database     string `yaml:"database"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// JWTConfig holds JWT authentication configuration
type JWTConfig struct {
	Secret     string        `yaml:"secret"`
	Expiration time.Duration `yaml:"expiration"`
	Issuer     string        `yaml:"issuer"`
}

// AuthConfig holds settings for the login flow of the admin front end
type AuthConfig struct {
	// LoginURL is returned as redirect_url on unauthenticated requests
	LoginURL string `yaml:"login_url"`
}

// CryptoConfig holds the certificate authority used to issue client credentials
type CryptoConfig struct {
	CACertPath      string            `yaml:"ca_cert_path"`
	CAKeyPath       string            `yaml:"ca_key_path"`
	CRLPath         string            `yaml:"crl_path"`
	CRLValidity     time.Duration     `yaml:"crl_validity"`
	CertValidity    time.Duration     `yaml:"cert_validity"`
	RSABits         int               `yaml:"rsa_bits"`
	SubjectDefaults map[string]string `yaml:"subject_defaults"`
	IssueTimeout    time.Duration     `yaml:"issue_timeout"`
}

// OpenVPNConfig holds the daemon collaborator settings
type OpenVPNConfig struct {
	ManagementAddress         string        `yaml:"management_address"`
	DialTimeout               time.Duration `yaml:"dial_timeout"`
	CommandTimeout            time.Duration `yaml:"command_timeout"`
	MinManagementVersion      int           `yaml:"min_management_version"`
	ServerConfigPath          string        `yaml:"server_config_path"`
	ServerBaseConfigPath      string        `yaml:"server_base_config_path"`
	ClientBaseConfigPath      string        `yaml:"client_base_config_path"`
	LinuxClientBaseConfigPath string        `yaml:"linux_client_base_config_path"`
	TLSAuthKeyPath            string        `yaml:"tls_auth_key_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORSEnabled       bool     `yaml:"cors_enabled"`
	CORSOrigins       []string `yaml:"cors_origins"`
	RateLimitEnabled  bool     `yaml:"rate_limit_enabled"`
	RateLimitBackend  string   `yaml:"rate_limit_backend"`
	RateLimitRequests int      `yaml:"rate_limit_requests"`
	RateLimitWindow   string   `yaml:"rate_limit_window"`
	RedisAddress      string   `yaml:"redis_address"`
	RedisPassword     string   `yaml:"redis_password"`
	RedisDB           int      `yaml:"redis_db"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8000,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Type:   "sqlite",
			SQLite: SQLiteConfig{Path: "ovpnm.db"},
			Postgres: PostgresConfig{
				Port:         5432,
				SSLMode:      "disable",
				MaxOpenConns: 25,
				MaxIdleConns: 5,
			},
		},
		JWT: JWTConfig{
			Expiration: 24 * time.Hour,
			Issuer:     "ovpnm",
		},
		Crypto: CryptoConfig{
			CACertPath:   "/etc/openvpn/ca.crt",
			CAKeyPath:    "/etc/openvpn/ca.key",
			CRLPath:      "/etc/openvpn/crl.pem",
			CRLValidity:  30 * 24 * time.Hour,
			CertValidity: 365 * 24 * time.Hour,
			RSABits:      2048,
			IssueTimeout: 30 * time.Second,
		},
		OpenVPN: OpenVPNConfig{
			ManagementAddress:         "localhost:7505",
			DialTimeout:               3 * time.Second,
			CommandTimeout:            3 * time.Second,
			MinManagementVersion:      1,
			ServerConfigPath:          "/etc/openvpn/server.conf",
			ServerBaseConfigPath:      "/etc/openvpn/server_base.conf",
			ClientBaseConfigPath:      "/etc/openvpn/client_base.conf",
			LinuxClientBaseConfigPath: "/etc/openvpn/client_base_linux.conf",
			TLSAuthKeyPath:            "/etc/openvpn/ta.key",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			RateLimitBackend:  "memory",
			RateLimitRequests: 100,
			RateLimitWindow:   "1m",
		},
	}
}

// Load reads and parses the configuration file. A missing file yields the defaults.
// Priority, highest first: flags, environment (OVPNM_*, .env), file, defaults.
func Load(path string, flags *Flags) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// .env is optional and never overrides variables already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	cfg.applyEnvOverrides()

	if flags != nil {
		if err := flags.apply(cfg); err != nil {
			return nil, fmt.Errorf("invalid command line flag: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func (c *Config) applyEnvOverrides() {
	envInt("OVPNM_SERVER_PORT", &c.Server.Port)
	envString("OVPNM_SERVER_HOST", &c.Server.Host)

	envString("OVPNM_DB_TYPE", &c.Database.Type)
	envString("OVPNM_DB_SQLITE_PATH", &c.Database.SQLite.Path)
	envString("OVPNM_DB_POSTGRES_HOST", &c.Database.Postgres.Host)
	envInt("OVPNM_DB_POSTGRES_PORT", &c.Database.Postgres.Port)
	envString("OVPNM_DB_POSTGRES_DATABASE", &c.Database.Postgres.Database)
	envString("OVPNM_DB_POSTGRES_USER", &c.Database.Postgres.User)
	envString("OVPNM_DB_POSTGRES_PASSWORD", &c.Database.Postgres.Password)

	envString("OVPNM_JWT_SECRET", &c.JWT.Secret)
	envString("OVPNM_AUTH_LOGIN_URL", &c.Auth.LoginURL)

	envString("OVPNM_CA_CERT_PATH", &c.Crypto.CACertPath)
	envString("OVPNM_CA_KEY_PATH", &c.Crypto.CAKeyPath)
	envString("OVPNM_CRL_PATH", &c.Crypto.CRLPath)

	envString("OVPNM_MANAGEMENT_ADDRESS", &c.OpenVPN.ManagementAddress)
	envInt("OVPNM_MANAGEMENT_MIN_VERSION", &c.OpenVPN.MinManagementVersion)

	envString("OVPNM_REDIS_ADDRESS", &c.Security.RedisAddress)
	envString("OVPNM_REDIS_PASSWORD", &c.Security.RedisPassword)

	envString("OVPNM_LOG_LEVEL", &c.Logging.Level)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.TLSEnabled {
		if c.Server.TLSCert == "" || c.Server.TLSKey == "" {
			return fmt.Errorf("TLS enabled but cert or key not specified")
		}
	}

	if c.Database.Type != "sqlite" && c.Database.Type != "postgres" {
		return fmt.Errorf("invalid database type: %s (must be 'sqlite' or 'postgres')", c.Database.Type)
	}
	if c.Database.Type == "sqlite" && c.Database.SQLite.Path == "" {
		return fmt.Errorf("SQLite path not specified")
	}
	if c.Database.Type == "postgres" {
		if c.Database.Postgres.Host == "" || c.Database.Postgres.Database == "" {
			return fmt.Errorf("PostgreSQL host and database must be specified")
		}
	}

	if c.Crypto.RSABits < 2048 {
		return fmt.Errorf("RSA key size must be at least 2048 bits")
	}
	if c.Crypto.CertValidity <= 0 {
		return fmt.Errorf("certificate validity must be positive")
	}
	if c.Crypto.IssueTimeout <= 0 {
		return fmt.Errorf("issue timeout must be positive")
	}

	if c.OpenVPN.ManagementAddress == "" {
		return fmt.Errorf("OpenVPN management address not specified")
	}
	if c.OpenVPN.DialTimeout <= 0 || c.OpenVPN.CommandTimeout <= 0 {
		return fmt.Errorf("OpenVPN dial and command timeouts must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Security.RateLimitEnabled {
		if c.Security.RateLimitBackend != "memory" && c.Security.RateLimitBackend != "redis" {
			return fmt.Errorf("invalid rate limit backend: %s (must be 'memory' or 'redis')", c.Security.RateLimitBackend)
		}
		if c.Security.RateLimitBackend == "redis" && c.Security.RedisAddress == "" {
			return fmt.Errorf("redis rate limit backend requires redis_address")
		}
		if c.Security.RateLimitRequests < 1 {
			return fmt.Errorf("rate limit requests must be at least 1")
		}
		if _, err := c.RateLimitWindow(); err != nil {
			return err
		}
	}

	return nil
}

// RateLimitWindow parses the configured rate limit window
func (c *Config) RateLimitWindow() (time.Duration, error) {
	d, err := time.ParseDuration(c.Security.RateLimitWindow)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid rate limit window: %q", c.Security.RateLimitWindow)
	}
	return d, nil
}

// GetDSN returns the database connection string based on the configured type
func (c *Config) GetDSN() string {
	switch c.Database.Type {
	case "sqlite":
		return c.Database.SQLite.Path
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Database.Postgres.Host,
			c.Database.Postgres.Port,
			c.Database.Postgres.User,
			c.Database.Postgres.Password,
			c.Database.Postgres.Database,
			c.Database.Postgres.SSLMode,
		)
	default:
		return ""
	}
}
