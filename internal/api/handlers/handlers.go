// Package handlers provides the HTTP handlers of the ovpnm API. Handlers bind
// and validate requests, call the service layer with the request context
// (which carries the caller identity) and render service errors through
// apperror.
package handlers

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/robcowart/ovpnm/internal/apperror"
	"github.com/robcowart/ovpnm/internal/database/models"
	"github.com/robcowart/ovpnm/internal/management"
	"github.com/robcowart/ovpnm/internal/service"
	"go.uber.org/zap"
)

// SetupService performs first-time setup
type SetupService interface {
	IsSetupComplete(ctx context.Context) (bool, error)
	Setup(ctx context.Context, req *service.SetupRequest) (*service.SetupResponse, error)
}

// DirectoryService authenticates callers and reads directory entries
type DirectoryService interface {
	Login(ctx context.Context, name, password string) (string, *models.User, error)
	Me(ctx context.Context) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
}

// ClientService is the client registry
type ClientService interface {
	GetByUser(ctx context.Context, userID string, detail bool) (*service.ClientView, error)
	Get(ctx context.Context, clientID string) (*service.ClientView, error)
	List(ctx context.Context) ([]*service.ClientView, error)
	ImportFromUser(ctx context.Context, userID string) (*service.ClientView, error)
}

// CredentialService manages client credentials
type CredentialService interface {
	Get(ctx context.Context, id string, detail bool) (*service.CredentialView, error)
	Generate(ctx context.Context, clientID string) (*service.CredentialView, error)
	Import(ctx context.Context, req *service.ImportCredentialRequest) (*service.CredentialView, error)
	Revoke(ctx context.Context, id string) (*service.CredentialView, error)
	Unrevoke(ctx context.Context, id string) (*service.CredentialView, error)
	UpdateCRL(ctx context.Context) error
	ExportConfig(ctx context.Context, id, platform string) (string, error)
	ExportPKCS12(ctx context.Context, id, password string, legacy bool) ([]byte, error)
}

// RouteService stores pushed routes
type RouteService interface {
	List(ctx context.Context) ([]*models.RouteRule, error)
	Get(ctx context.Context, id string) (*models.RouteRule, error)
	Create(ctx context.Context, in *service.RouteInput) (*service.RouteMutation, error)
	Update(ctx context.Context, id string, in *service.RouteInput) (*service.RouteMutation, error)
	Delete(ctx context.Context, id string) (*service.RouteMutation, error)
	RestartRequired(ctx context.Context) (bool, error)
	AcknowledgeRestart(ctx context.Context) error
}

// DaemonService reads daemon state and relays management actions
type DaemonService interface {
	Info(ctx context.Context) (*management.Info, error)
	Log(ctx context.Context) ([]service.LogEntry, error)
	KillClient(ctx context.Context, cid int64) (*service.ActionResult, error)
	SoftRestart(ctx context.Context) (*service.ActionResult, error)
	HardRestart(ctx context.Context) (*service.ActionResult, error)
	Shutdown(ctx context.Context) (*service.ActionResult, error)
}

// respondError renders err with the status of its kind. Server side failures
// are logged with the request path.
func respondError(c *gin.Context, logger *zap.Logger, msg string, err error) {
	status, body := apperror.ToBody(err)
	if status >= 500 {
		logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, body)
}

// bindError turns a binding failure into an InvalidInput response
func bindError(c *gin.Context, err error) {
	status, body := apperror.ToBody(apperror.InvalidInput("invalid request", err.Error()))
	c.JSON(status, body)
}

// detailQuery parses the optional ?detail= flag
func detailQuery(c *gin.Context) (bool, error) {
	raw := c.Query("detail")
	if raw == "" {
		return false, nil
	}
	detail, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperror.InvalidInput("invalid request", "detail must be a boolean")
	}
	return detail, nil
}
