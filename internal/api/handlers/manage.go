package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/robcowart/ovpnm/internal/apperror"
	"github.com/robcowart/ovpnm/internal/service"
	"go.uber.org/zap"
)

// ManageHandler exposes the daemon status and management actions
type ManageHandler struct {
	daemon DaemonService
	logger *zap.Logger
}

// NewManageHandler creates a new manage handler
func NewManageHandler(daemon DaemonService, logger *zap.Logger) *ManageHandler {
	return &ManageHandler{
		daemon: daemon,
		logger: logger,
	}
}

// Info returns load stats, state, status and version in one response
// @Router /api/v1/admin/manage/info [get]
func (h *ManageHandler) Info(c *gin.Context) {
	info, err := h.daemon.Info(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Failed to query daemon", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Log returns the daemon log buffer with severities
// @Router /api/v1/admin/manage/log [get]
func (h *ManageHandler) Log(c *gin.Context) {
	entries, err := h.daemon.Log(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Failed to read daemon log", err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// KillClient disconnects the client with the given management client id
// @Router /api/v1/admin/manage/client-kill/{cid} [post]
func (h *ManageHandler) KillClient(c *gin.Context) {
	cid, err := strconv.ParseInt(c.Param("cid"), 10, 64)
	if err != nil || cid < 0 {
		respondError(c, h.logger, "Invalid client id", apperror.InvalidInput("invalid request", "cid must be a non-negative integer"))
		return
	}

	res, err := h.daemon.KillClient(c.Request.Context(), cid)
	if err != nil {
		respondError(c, h.logger, "Failed to kill client", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SoftRestart sends SIGUSR1 to the daemon
// @Router /api/v1/admin/manage/soft-restart [post]
func (h *ManageHandler) SoftRestart(c *gin.Context) {
	h.action(c, h.daemon.SoftRestart)
}

// HardRestart sends SIGHUP, which also applies route changes
// @Router /api/v1/admin/manage/hard-restart [post]
func (h *ManageHandler) HardRestart(c *gin.Context) {
	h.action(c, h.daemon.HardRestart)
}

// Shutdown stops the daemon
// @Router /api/v1/admin/manage/shutdown [post]
func (h *ManageHandler) Shutdown(c *gin.Context) {
	h.action(c, h.daemon.Shutdown)
}

func (h *ManageHandler) action(c *gin.Context, fn func(ctx context.Context) (*service.ActionResult, error)) {
	res, err := fn(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Management action failed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}
