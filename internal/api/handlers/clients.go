package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/robcowart/ovpnm/internal/apperror"
	"github.com/robcowart/ovpnm/internal/auth"
	"go.uber.org/zap"
)

// ClientHandler handles the client registry
type ClientHandler struct {
	clients ClientService
	logger  *zap.Logger
}

// NewClientHandler creates a new client handler
func NewClientHandler(clients ClientService, logger *zap.Logger) *ClientHandler {
	return &ClientHandler{
		clients: clients,
		logger:  logger,
	}
}

// MyClient returns the caller's own client. With ?detail=true the credentials
// are nested with their certificate and key details.
// @Router /api/v1/my-client [get]
func (h *ClientHandler) MyClient(c *gin.Context) {
	detail, err := detailQuery(c)
	if err != nil {
		respondError(c, h.logger, "Invalid request", err)
		return
	}
	user, ok := auth.IdentityFrom(c.Request.Context())
	if !ok {
		respondError(c, h.logger, "Missing identity", apperror.Unauthenticated("authentication required", ""))
		return
	}

	view, err := h.clients.GetByUser(c.Request.Context(), user.ID, detail)
	if err != nil {
		respondError(c, h.logger, "Failed to get client", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ListClients lists every client with its active credential count
// @Router /api/v1/admin/clients [get]
func (h *ClientHandler) ListClients(c *gin.Context) {
	views, err := h.clients.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Failed to list clients", err)
		return
	}
	c.JSON(http.StatusOK, views)
}

// GetClient returns a client with its credentials
// @Router /api/v1/admin/clients/{id} [get]
func (h *ClientHandler) GetClient(c *gin.Context) {
	view, err := h.clients.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "Failed to get client", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ImportClientRequest names the directory user to register as a client
type ImportClientRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// ImportClient creates the client of a directory user
// @Router /api/v1/admin/clients/import [post]
func (h *ClientHandler) ImportClient(c *gin.Context) {
	var req ImportClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	view, err := h.clients.ImportFromUser(c.Request.Context(), req.UserID)
	if err != nil {
		respondError(c, h.logger, "Failed to import client", err)
		return
	}
	c.JSON(http.StatusCreated, view)
}
