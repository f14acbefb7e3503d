package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	rdb "github.com/redis/go-redis/v9"
	"github.com/robcowart/ovpnm/internal/api"
	"github.com/robcowart/ovpnm/internal/config"
	"github.com/robcowart/ovpnm/internal/crypto"
	"github.com/robcowart/ovpnm/internal/database"
	"github.com/robcowart/ovpnm/internal/management"
	"github.com/robcowart/ovpnm/internal/metrics"
	"github.com/robcowart/ovpnm/internal/ratelimit"
	"github.com/robcowart/ovpnm/internal/service"
	"go.uber.org/zap"
)

const version = "0.1.0"

func main() {
	flags, configFile, showVersion := config.ParseFlags()

	if showVersion {
		fmt.Printf("ovpnm v%s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting ovpnm",
		zap.String("version", version),
		zap.String("database", cfg.Database.Type),
		zap.String("management", cfg.OpenVPN.ManagementAddress),
	)

	db, err := database.New(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	directory := service.NewDirectoryService(db, cfg)
	if err := directory.LoadJWTSecret(context.Background()); err != nil {
		logger.Fatal("Failed to load JWT secret", zap.Error(err))
	}

	// Without a CA the API still serves reads; issuance reports unavailable
	var ca service.CertificateAuthority
	authority, err := crypto.LoadAuthority(cfg.Crypto.CACertPath, cfg.Crypto.CAKeyPath)
	if err != nil {
		logger.Warn("Certificate authority not loaded",
			zap.String("cert", cfg.Crypto.CACertPath),
			zap.Error(err),
		)
	} else {
		ca = authority
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		logger.Fatal("Failed to register metrics", zap.Error(err))
	}

	daemon := management.NewClient(management.Config{
		Address:        cfg.OpenVPN.ManagementAddress,
		DialTimeout:    cfg.OpenVPN.DialTimeout,
		CommandTimeout: cfg.OpenVPN.CommandTimeout,
		MinVersion:     cfg.OpenVPN.MinManagementVersion,
	}, logger.Named("management"))
	defer daemon.Close()

	limiter, err := newLimiter(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize rate limiter", zap.Error(err))
	}

	router := api.NewRouter(cfg, &api.Dependencies{
		Directory:   directory,
		Clients:     service.NewClientService(db, logger),
		Credentials: service.NewCredentialService(db, cfg, ca, logger),
		Routes:      service.NewRouteService(db, cfg, logger),
		Daemon:      service.NewDaemonService(daemon, m, logger),
		Metrics:     m,
		Limiter:     limiter,
	}, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("Starting HTTP server",
			zap.String("address", srv.Addr),
			zap.Bool("tls", cfg.Server.TLSEnabled),
		)

		var err error
		if cfg.Server.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// newLimiter returns nil when rate limiting is disabled
func newLimiter(cfg *config.Config) (ratelimit.Limiter, error) {
	if !cfg.Security.RateLimitEnabled {
		return nil, nil
	}
	window, err := cfg.RateLimitWindow()
	if err != nil {
		return nil, err
	}

	switch cfg.Security.RateLimitBackend {
	case "redis":
		client := rdb.NewClient(&rdb.Options{
			Addr:     cfg.Security.RedisAddress,
			Password: cfg.Security.RedisPassword,
			DB:       cfg.Security.RedisDB,
		})
		return ratelimit.NewRedisLimiter(client, "", cfg.Security.RateLimitRequests, window), nil
	default:
		return ratelimit.NewMemoryLimiter(cfg.Security.RateLimitRequests, window), nil
	}
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapConfig zap.Config

	if cfg.Logging.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	switch cfg.Logging.Level {
	case "debug":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if cfg.Logging.Output != "" {
		zapConfig.OutputPaths = []string{cfg.Logging.Output}
	}

	return zapConfig.Build()
}
