// Package api provides HTTP routing for the ovpnm API server. It wires the
// handlers and middleware onto the services built by the caller.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/robcowart/ovpnm/internal/api/handlers"
	"github.com/robcowart/ovpnm/internal/api/middleware"
	"github.com/robcowart/ovpnm/internal/config"
	"github.com/robcowart/ovpnm/internal/metrics"
	"github.com/robcowart/ovpnm/internal/ratelimit"
	"github.com/robcowart/ovpnm/internal/service"
	"go.uber.org/zap"
)

// Dependencies are the services and collaborators behind the routes
type Dependencies struct {
	Directory   *service.DirectoryService
	Clients     *service.ClientService
	Credentials *service.CredentialService
	Routes      *service.RouteService
	Daemon      *service.DaemonService

	// Metrics may be nil, which also disables /metrics
	Metrics *metrics.Metrics
	// Limiter guards login and setup; nil disables rate limiting
	Limiter ratelimit.Limiter
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, deps *Dependencies, logger *zap.Logger) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware(deps.Metrics))
	router.Use(middleware.CORSMiddleware(cfg))

	setupHandler := handlers.NewSetupHandler(deps.Directory, logger)
	authHandler := handlers.NewAuthHandler(deps.Directory, logger)
	userHandler := handlers.NewUserHandler(deps.Directory, logger)
	clientHandler := handlers.NewClientHandler(deps.Clients, logger)
	credHandler := handlers.NewCredentialHandler(deps.Credentials, logger)
	routeHandler := handlers.NewRouteHandler(deps.Routes, logger)
	manageHandler := handlers.NewManageHandler(deps.Daemon, logger)

	limited := []gin.HandlerFunc{}
	if deps.Limiter != nil {
		limited = append(limited, middleware.RateLimitMiddleware(deps.Limiter, deps.Metrics, logger))
	}

	public := router.Group("/api/v1")
	{
		public.GET("/setup/status", setupHandler.GetStatus)
		public.POST("/setup", append(limited, setupHandler.PerformSetup)...)
		public.POST("/auth/login", append(limited, authHandler.Login)...)
	}

	protected := router.Group("/api/v1")
	protected.Use(middleware.AuthMiddleware(deps.Directory, cfg.Auth.LoginURL))
	{
		protected.GET("/me", authHandler.Me)
		protected.GET("/my-client", clientHandler.MyClient)

		protected.GET("/credentials/:id", credHandler.GetCredential)
		protected.PUT("/credentials/:id/revoke", credHandler.Revoke)
		protected.DELETE("/credentials/:id/revoke", credHandler.Unrevoke)
		protected.GET("/credentials/:id/config", credHandler.DownloadConfig)
		protected.POST("/credentials/:id/export", credHandler.ExportPKCS12)
	}

	admin := protected.Group("/admin")
	admin.Use(middleware.RequireAdmin())
	{
		admin.GET("/users", userHandler.ListUsers)
		admin.GET("/users/:id", userHandler.GetUser)

		admin.GET("/clients", clientHandler.ListClients)
		admin.GET("/clients/:id", clientHandler.GetClient)
		admin.POST("/clients/import", clientHandler.ImportClient)
		admin.POST("/clients/:id/credentials", credHandler.GenerateCredential)
		admin.POST("/clients/:id/credentials/import", credHandler.ImportCredential)
		admin.POST("/crl", credHandler.UpdateCRL)

		admin.GET("/routes", routeHandler.ListRoutes)
		admin.POST("/routes", routeHandler.CreateRoute)
		admin.GET("/routes/:id", routeHandler.GetRoute)
		admin.PUT("/routes/:id", routeHandler.UpdateRoute)
		admin.DELETE("/routes/:id", routeHandler.DeleteRoute)

		admin.GET("/config/status", routeHandler.ConfigStatus)
		admin.POST("/config/restart-ack", routeHandler.AcknowledgeRestart)

		admin.GET("/manage/info", manageHandler.Info)
		admin.GET("/manage/log", manageHandler.Log)
		admin.POST("/manage/client-kill/:cid", manageHandler.KillClient)
		admin.POST("/manage/soft-restart", manageHandler.SoftRestart)
		admin.POST("/manage/hard-restart", manageHandler.HardRestart)
		admin.POST("/manage/shutdown", manageHandler.Shutdown)
	}

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	return router
}
