package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthHandler handles login and the caller's own directory entry
type AuthHandler struct {
	directory DirectoryService
	logger    *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(directory DirectoryService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		directory: directory,
		logger:    logger,
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login authenticates a user
// @Summary User login
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} map[string]any
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	token, user, err := h.directory.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.logger.Warn("Login failed", zap.String("username", req.Username), zap.Error(err))
		respondError(c, h.logger, "Login failed", err)
		return
	}

	h.logger.Info("User logged in", zap.String("username", user.Name))

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  user,
	})
}

// Me returns the caller with their groups
// @Router /api/v1/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.directory.Me(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Failed to get current user", err)
		return
	}
	c.JSON(http.StatusOK, user)
}
