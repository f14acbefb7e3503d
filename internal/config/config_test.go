package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Load config from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.yaml")

		configContent := `
server:
  port: 9000
  host: 127.0.0.1
database:
  type: sqlite
  sqlite:
    path: /tmp/test.db
jwt:
  secret: test-secret
  expiration: 48h
  issuer: test-ovpnm
auth:
  login_url: https://sso.example.com/login
crypto:
  ca_cert_path: /srv/pki/ca.crt
  ca_key_path: /srv/pki/ca.key
  rsa_bits: 4096
  subject_defaults:
    O: Example Inc
    C: US
openvpn:
  management_address: 10.0.0.1:7505
  command_timeout: 5s
logging:
  level: debug
  format: console
  output: stdout
`
		err := os.WriteFile(configPath, []byte(configContent), 0644)
		require.NoError(t, err)

		cfg, err := Load(configPath, nil)
		require.NoError(t, err)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "127.0.0.1", cfg.Server.Host)
		assert.Equal(t, "sqlite", cfg.Database.Type)
		assert.Equal(t, "test-secret", cfg.JWT.Secret)
		assert.Equal(t, 48*time.Hour, cfg.JWT.Expiration)
		assert.Equal(t, "https://sso.example.com/login", cfg.Auth.LoginURL)
		assert.Equal(t, "/srv/pki/ca.crt", cfg.Crypto.CACertPath)
		assert.Equal(t, 4096, cfg.Crypto.RSABits)
		assert.Equal(t, "Example Inc", cfg.Crypto.SubjectDefaults["O"])
		assert.Equal(t, "10.0.0.1:7505", cfg.OpenVPN.ManagementAddress)
		assert.Equal(t, 5*time.Second, cfg.OpenVPN.CommandTimeout)
		// untouched keys keep their defaults
		assert.Equal(t, 3*time.Second, cfg.OpenVPN.DialTimeout)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("Load with non-existent file uses defaults", func(t *testing.T) {
		cfg, err := Load("/non/existent/path.yaml", nil)
		require.NoError(t, err)
		assert.Equal(t, 8000, cfg.Server.Port)
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, "localhost:7505", cfg.OpenVPN.ManagementAddress)
	})

	t.Run("Load with invalid YAML fails", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte(`invalid: yaml: content:`), 0644))

		_, err := Load(configPath, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})

	t.Run("Load with invalid config values fails validation", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		configContent := `
server:
  port: 70000
`
		require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

		_, err := Load(configPath, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("Flags override file and environment", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 9000\n"), 0644))
		t.Setenv("OVPNM_SERVER_PORT", "9100")

		flags := NewFlags("test")
		require.NoError(t, flags.Parse([]string{"--server.port", "9200", "--openvpn.command-timeout", "10s"}))

		cfg, err := Load(configPath, flags)
		require.NoError(t, err)
		assert.Equal(t, 9200, cfg.Server.Port)
		assert.Equal(t, 10*time.Second, cfg.OpenVPN.CommandTimeout)
	})

	t.Run("Invalid duration flag fails", func(t *testing.T) {
		flags := NewFlags("test")
		require.NoError(t, flags.Parse([]string{"--jwt.expiration", "soon"}))

		_, err := Load("/non/existent/path.yaml", flags)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "jwt.expiration")
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 24*time.Hour, cfg.JWT.Expiration)
	assert.Equal(t, 2048, cfg.Crypto.RSABits)
	assert.Equal(t, 365*24*time.Hour, cfg.Crypto.CertValidity)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Security.RateLimitBackend)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Run("Override server settings", func(t *testing.T) {
		t.Setenv("OVPNM_SERVER_PORT", "9090")
		t.Setenv("OVPNM_SERVER_HOST", "localhost")

		cfg := Default()
		cfg.applyEnvOverrides()
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "localhost", cfg.Server.Host)
	})

	t.Run("Non-numeric port is ignored", func(t *testing.T) {
		t.Setenv("OVPNM_SERVER_PORT", "abc")

		cfg := Default()
		cfg.applyEnvOverrides()
		assert.Equal(t, 8000, cfg.Server.Port)
	})

	t.Run("Override PostgreSQL settings", func(t *testing.T) {
		t.Setenv("OVPNM_DB_TYPE", "postgres")
		t.Setenv("OVPNM_DB_POSTGRES_HOST", "postgres.example.com")
		t.Setenv("OVPNM_DB_POSTGRES_PORT", "5433")
		t.Setenv("OVPNM_DB_POSTGRES_DATABASE", "ovpnm")
		t.Setenv("OVPNM_DB_POSTGRES_USER", "ovpnm_user")
		t.Setenv("OVPNM_DB_POSTGRES_PASSWORD", "secret_pass")

		cfg := Default()
		cfg.applyEnvOverrides()
		assert.Equal(t, "postgres", cfg.Database.Type)
		assert.Equal(t, "postgres.example.com", cfg.Database.Postgres.Host)
		assert.Equal(t, 5433, cfg.Database.Postgres.Port)
		assert.Equal(t, "ovpnm", cfg.Database.Postgres.Database)
		assert.Equal(t, "ovpnm_user", cfg.Database.Postgres.User)
		assert.Equal(t, "secret_pass", cfg.Database.Postgres.Password)
	})

	t.Run("Override collaborator addresses", func(t *testing.T) {
		t.Setenv("OVPNM_MANAGEMENT_ADDRESS", "vpn.internal:7505")
		t.Setenv("OVPNM_CA_CERT_PATH", "/pki/ca.crt")
		t.Setenv("OVPNM_AUTH_LOGIN_URL", "/login")

		cfg := Default()
		cfg.applyEnvOverrides()
		assert.Equal(t, "vpn.internal:7505", cfg.OpenVPN.ManagementAddress)
		assert.Equal(t, "/pki/ca.crt", cfg.Crypto.CACertPath)
		assert.Equal(t, "/login", cfg.Auth.LoginURL)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"TLS without cert", func(c *Config) { c.Server.TLSEnabled = true }, "TLS enabled"},
		{"Unknown database", func(c *Config) { c.Database.Type = "mysql" }, "invalid database type"},
		{"Postgres without host", func(c *Config) { c.Database.Type = "postgres" }, "PostgreSQL host"},
		{"Weak RSA", func(c *Config) { c.Crypto.RSABits = 1024 }, "at least 2048"},
		{"No issue timeout", func(c *Config) { c.Crypto.IssueTimeout = 0 }, "issue timeout"},
		{"No management address", func(c *Config) { c.OpenVPN.ManagementAddress = "" }, "management address"},
		{"Zero command timeout", func(c *Config) { c.OpenVPN.CommandTimeout = 0 }, "timeouts must be positive"},
		{"Bad log level", func(c *Config) { c.Logging.Level = "trace" }, "invalid log level"},
		{"Redis limiter without address", func(c *Config) {
			c.Security.RateLimitEnabled = true
			c.Security.RateLimitBackend = "redis"
		}, "redis_address"},
		{"Bad rate limit window", func(c *Config) {
			c.Security.RateLimitEnabled = true
			c.Security.RateLimitWindow = "often"
		}, "invalid rate limit window"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetDSN(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "ovpnm.db", cfg.GetDSN())

	cfg.Database.Type = "postgres"
	cfg.Database.Postgres.Host = "db"
	cfg.Database.Postgres.User = "u"
	cfg.Database.Postgres.Password = "p"
	cfg.Database.Postgres.Database = "ovpnm"
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=ovpnm sslmode=disable", cfg.GetDSN())
}
