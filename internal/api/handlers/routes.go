package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/robcowart/ovpnm/internal/service"
	"go.uber.org/zap"
)

// RouteHandler handles pushed routes and the restart flag
type RouteHandler struct {
	routes RouteService
	logger *zap.Logger
}

// NewRouteHandler creates a new route handler
func NewRouteHandler(routes RouteService, logger *zap.Logger) *RouteHandler {
	return &RouteHandler{
		routes: routes,
		logger: logger,
	}
}

// RouteRequest is the body of route create and update
type RouteRequest struct {
	IP          string  `json:"ip"`
	Mask        string  `json:"mask"`
	Description *string `json:"description"`
}

func (r *RouteRequest) input() *service.RouteInput {
	return &service.RouteInput{IP: r.IP, Mask: r.Mask, Description: r.Description}
}

// ListRoutes lists routes in creation order
// @Router /api/v1/admin/routes [get]
func (h *RouteHandler) ListRoutes(c *gin.Context) {
	routes, err := h.routes.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Failed to list routes", err)
		return
	}
	c.JSON(http.StatusOK, routes)
}

// GetRoute returns one route
// @Router /api/v1/admin/routes/{id} [get]
func (h *RouteHandler) GetRoute(c *gin.Context) {
	route, err := h.routes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "Failed to get route", err)
		return
	}
	c.JSON(http.StatusOK, route)
}

// CreateRoute adds a route. Field validation happens in the service so that
// every caller gets the same messages.
// @Router /api/v1/admin/routes [post]
func (h *RouteHandler) CreateRoute(c *gin.Context) {
	var req RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	res, err := h.routes.Create(c.Request.Context(), req.input())
	if err != nil {
		respondError(c, h.logger, "Failed to create route", err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// UpdateRoute replaces a route
// @Router /api/v1/admin/routes/{id} [put]
func (h *RouteHandler) UpdateRoute(c *gin.Context) {
	var req RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	res, err := h.routes.Update(c.Request.Context(), c.Param("id"), req.input())
	if err != nil {
		respondError(c, h.logger, "Failed to update route", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// DeleteRoute removes a route and returns it
// @Router /api/v1/admin/routes/{id} [delete]
func (h *RouteHandler) DeleteRoute(c *gin.Context) {
	res, err := h.routes.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "Failed to delete route", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ConfigStatus reports whether the daemon needs a restart to apply the routes
// @Router /api/v1/admin/config/status [get]
func (h *RouteHandler) ConfigStatus(c *gin.Context) {
	required, err := h.routes.RestartRequired(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Failed to get config status", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restart_required": required})
}

// AcknowledgeRestart clears the restart flag
// @Router /api/v1/admin/config/restart-ack [post]
func (h *RouteHandler) AcknowledgeRestart(c *gin.Context) {
	if err := h.routes.AcknowledgeRestart(c.Request.Context()); err != nil {
		respondError(c, h.logger, "Failed to acknowledge restart", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restart_required": false})
}
