package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UserHandler exposes the directory to admins
type UserHandler struct {
	directory DirectoryService
	logger    *zap.Logger
}

// NewUserHandler creates a new user handler
func NewUserHandler(directory DirectoryService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		directory: directory,
		logger:    logger,
	}
}

// ListUsers lists every directory user with their groups
// @Router /api/v1/admin/users [get]
func (h *UserHandler) ListUsers(c *gin.Context) {
	users, err := h.directory.ListUsers(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Failed to list users", err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// GetUser returns one directory user
// @Router /api/v1/admin/users/{id} [get]
func (h *UserHandler) GetUser(c *gin.Context) {
	user, err := h.directory.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "Failed to get user", err)
		return
	}
	c.JSON(http.StatusOK, user)
}
