package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/robcowart/ovpnm/internal/service"
	"go.uber.org/zap"
)

// SetupHandler handles setup operations
type SetupHandler struct {
	setupService SetupService
	logger       *zap.Logger
}

// NewSetupHandler creates a new setup handler
func NewSetupHandler(setupService SetupService, logger *zap.Logger) *SetupHandler {
	return &SetupHandler{
		setupService: setupService,
		logger:       logger,
	}
}

// GetStatus checks if initial setup has been completed.
// @Summary Check setup status
// @Success 200 {object} map[string]bool
// @Router /api/v1/setup/status [get]
func (h *SetupHandler) GetStatus(c *gin.Context) {
	isComplete, err := h.setupService.IsSetupComplete(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Failed to check setup status", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"setup_complete": isComplete,
	})
}

// SetupRequest represents initial setup request
type SetupRequest struct {
	Username string `json:"username" binding:"required,min=3"`
	Email    string `json:"email" binding:"omitempty,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// PerformSetup creates the first admin and the master key. The master key is
// returned once and never again.
// @Summary Perform initial setup
// @Accept json
// @Produce json
// @Param request body SetupRequest true "Setup request"
// @Success 200 {object} map[string]string
// @Router /api/v1/setup [post]
func (h *SetupHandler) PerformSetup(c *gin.Context) {
	var req SetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	result, err := h.setupService.Setup(c.Request.Context(), &service.SetupRequest{
		Name:     req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		respondError(c, h.logger, "Setup failed", err)
		return
	}

	h.logger.Info("Initial setup completed", zap.String("username", req.Username))

	c.JSON(http.StatusOK, gin.H{
		"message":    "Setup completed successfully",
		"master_key": result.MasterKey,
		"token":      result.Token,
		"user":       result.User,
	})
}
