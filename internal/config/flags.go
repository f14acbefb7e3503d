package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"
)

// Flags holds all command line flag values
type Flags struct {
	set *flag.FlagSet

	configFile *string
	version    *bool

	serverPort       *int
	serverHost       *string
	serverTLSEnabled *bool
	serverTLSCert    *string
	serverTLSKey     *string

	dbType             *string
	dbSQLitePath       *string
	dbPostgresHost     *string
	dbPostgresPort     *int
	dbPostgresDatabase *string
	dbPostgresUser     *string
	dbPostgresPassword *string

	jwtSecret     *string
	jwtExpiration *string
	authLoginURL  *string

	caCertPath   *string
	caKeyPath    *string
	crlPath      *string
	certValidity *string

	managementAddress *string
	commandTimeout    *string
	serverConfigPath  *string
	serverBaseConfig  *string

	logLevel  *string
	logFormat *string
	logOutput *string

	corsEnabled      *bool
	corsOrigins      *[]string
	rateLimitEnabled *bool
	rateLimitBackend *string
	redisAddress     *string
}

// NewFlags defines all command line flags on a fresh flag set
func NewFlags(name string) *Flags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	f := &Flags{set: fs}

	f.configFile = fs.StringP("config", "c", "config.yaml", "Path to configuration file")
	f.version = fs.BoolP("version", "v", false, "Print version and exit")

	f.serverPort = fs.Int("server.port", 0, "HTTP server port")
	f.serverHost = fs.String("server.host", "", "HTTP server bind address")
	f.serverTLSEnabled = fs.Bool("server.tls-enabled", false, "Enable HTTPS")
	f.serverTLSCert = fs.String("server.tls-cert", "", "Path to TLS certificate")
	f.serverTLSKey = fs.String("server.tls-key", "", "Path to TLS key")

	f.dbType = fs.String("db.type", "", "Database type (sqlite or postgres)")
	f.dbSQLitePath = fs.String("db.sqlite.path", "", "SQLite database file path")
	f.dbPostgresHost = fs.String("db.postgres.host", "", "PostgreSQL host")
	f.dbPostgresPort = fs.Int("db.postgres.port", 0, "PostgreSQL port")
	f.dbPostgresDatabase = fs.String("db.postgres.database", "", "PostgreSQL database name")
	f.dbPostgresUser = fs.String("db.postgres.user", "", "PostgreSQL user")
	f.dbPostgresPassword = fs.String("db.postgres.password", "", "PostgreSQL password")

	f.jwtSecret = fs.String("jwt.secret", "", "JWT secret key")
	f.jwtExpiration = fs.String("jwt.expiration", "", "JWT expiration duration (e.g., 24h)")
	f.authLoginURL = fs.String("auth.login-url", "", "Login page returned to unauthenticated callers")

	f.caCertPath = fs.String("crypto.ca-cert", "", "Path to the CA certificate used to issue client credentials")
	f.caKeyPath = fs.String("crypto.ca-key", "", "Path to the CA private key")
	f.crlPath = fs.String("crypto.crl", "", "Path of the CRL file read by OpenVPN")
	f.certValidity = fs.String("crypto.cert-validity", "", "Client certificate validity period (e.g., 8760h)")

	f.managementAddress = fs.String("openvpn.management", "", "OpenVPN management interface address (host:port)")
	f.commandTimeout = fs.String("openvpn.command-timeout", "", "Timeout of a single management command (e.g., 3s)")
	f.serverConfigPath = fs.String("openvpn.server-config", "", "Path of the rendered OpenVPN server config")
	f.serverBaseConfig = fs.String("openvpn.server-base-config", "", "Path of the server config the pushed routes are appended to")

	f.logLevel = fs.StringP("log.level", "l", "", "Log level (debug, info, warn, error)")
	f.logFormat = fs.String("log.format", "", "Log format (json or console)")
	f.logOutput = fs.String("log.output", "", "Log output (stdout or file path)")

	f.corsEnabled = fs.Bool("security.cors-enabled", false, "Enable CORS")
	f.corsOrigins = fs.StringSlice("security.cors-origins", nil, "CORS allowed origins (can be specified multiple times)")
	f.rateLimitEnabled = fs.Bool("security.rate-limit-enabled", false, "Enable rate limiting")
	f.rateLimitBackend = fs.String("security.rate-limit-backend", "", "Rate limit backend (memory or redis)")
	f.redisAddress = fs.String("security.redis-address", "", "Redis address for the redis rate limit backend")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", name)
		fmt.Fprintf(os.Stderr, "ovpnm - OpenVPN client credential and access configuration manager\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nConfiguration priority (highest to lowest):\n")
		fmt.Fprintf(os.Stderr, "  1. Command line flags\n")
		fmt.Fprintf(os.Stderr, "  2. Environment variables (OVPNM_*, .env)\n")
		fmt.Fprintf(os.Stderr, "  3. Configuration file (default: config.yaml)\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  %s --config /etc/ovpnm/config.yaml\n", name)
		fmt.Fprintf(os.Stderr, "  %s --openvpn.management 127.0.0.1:7505 --db.type postgres\n", name)
	}

	return f
}

// Parse parses args (without the program name)
func (f *Flags) Parse(args []string) error {
	return f.set.Parse(args)
}

// FlagSet exposes the underlying flag set, for embedding into other commands
func (f *Flags) FlagSet() *flag.FlagSet {
	return f.set
}

// ConfigFile returns the config file path
func (f *Flags) ConfigFile() string {
	return *f.configFile
}

// ShowVersion reports whether --version was given
func (f *Flags) ShowVersion() bool {
	return *f.version
}

// ParseFlags defines and parses all command line flags from os.Args
func ParseFlags() (*Flags, string, bool) {
	f := NewFlags(os.Args[0])
	if err := f.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	return f, f.ConfigFile(), f.ShowVersion()
}

func (f *Flags) changed(name string) bool {
	fl := f.set.Lookup(name)
	return fl != nil && fl.Changed
}

func (f *Flags) setString(name string, src *string, dst *string) {
	if f.changed(name) {
		*dst = *src
	}
}

func (f *Flags) setDuration(name string, src *string, dst *time.Duration) error {
	if !f.changed(name) {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("--%s: %w", name, err)
	}
	*dst = d
	return nil
}

// apply copies every flag that was explicitly set onto cfg
func (f *Flags) apply(cfg *Config) error {
	if f.changed("server.port") {
		cfg.Server.Port = *f.serverPort
	}
	f.setString("server.host", f.serverHost, &cfg.Server.Host)
	if f.changed("server.tls-enabled") {
		cfg.Server.TLSEnabled = *f.serverTLSEnabled
	}
	f.setString("server.tls-cert", f.serverTLSCert, &cfg.Server.TLSCert)
	f.setString("server.tls-key", f.serverTLSKey, &cfg.Server.TLSKey)

	f.setString("db.type", f.dbType, &cfg.Database.Type)
	f.setString("db.sqlite.path", f.dbSQLitePath, &cfg.Database.SQLite.Path)
	f.setString("db.postgres.host", f.dbPostgresHost, &cfg.Database.Postgres.Host)
	if f.changed("db.postgres.port") {
		cfg.Database.Postgres.Port = *f.dbPostgresPort
	}
	f.setString("db.postgres.database", f.dbPostgresDatabase, &cfg.Database.Postgres.Database)
	f.setString("db.postgres.user", f.dbPostgresUser, &cfg.Database.Postgres.User)
	f.setString("db.postgres.password", f.dbPostgresPassword, &cfg.Database.Postgres.Password)

	f.setString("jwt.secret", f.jwtSecret, &cfg.JWT.Secret)
	if err := f.setDuration("jwt.expiration", f.jwtExpiration, &cfg.JWT.Expiration); err != nil {
		return err
	}
	f.setString("auth.login-url", f.authLoginURL, &cfg.Auth.LoginURL)

	f.setString("crypto.ca-cert", f.caCertPath, &cfg.Crypto.CACertPath)
	f.setString("crypto.ca-key", f.caKeyPath, &cfg.Crypto.CAKeyPath)
	f.setString("crypto.crl", f.crlPath, &cfg.Crypto.CRLPath)
	if err := f.setDuration("crypto.cert-validity", f.certValidity, &cfg.Crypto.CertValidity); err != nil {
		return err
	}

	f.setString("openvpn.management", f.managementAddress, &cfg.OpenVPN.ManagementAddress)
	if err := f.setDuration("openvpn.command-timeout", f.commandTimeout, &cfg.OpenVPN.CommandTimeout); err != nil {
		return err
	}
	f.setString("openvpn.server-config", f.serverConfigPath, &cfg.OpenVPN.ServerConfigPath)
	f.setString("openvpn.server-base-config", f.serverBaseConfig, &cfg.OpenVPN.ServerBaseConfigPath)

	f.setString("log.level", f.logLevel, &cfg.Logging.Level)
	f.setString("log.format", f.logFormat, &cfg.Logging.Format)
	f.setString("log.output", f.logOutput, &cfg.Logging.Output)

	if f.changed("security.cors-enabled") {
		cfg.Security.CORSEnabled = *f.corsEnabled
	}
	if f.changed("security.cors-origins") {
		cfg.Security.CORSOrigins = *f.corsOrigins
	}
	if f.changed("security.rate-limit-enabled") {
		cfg.Security.RateLimitEnabled = *f.rateLimitEnabled
	}
	f.setString("security.rate-limit-backend", f.rateLimitBackend, &cfg.Security.RateLimitBackend)
	f.setString("security.redis-address", f.redisAddress, &cfg.Security.RedisAddress)

	return nil
}
