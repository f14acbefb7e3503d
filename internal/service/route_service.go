package service

import (
	"context"
	"database/sql"
	"errors"
	"math/bits"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/robcowart/ovpnm/internal/apperror"
	"github.com/robcowart/ovpnm/internal/config"
	"github.com/robcowart/ovpnm/internal/database"
	"github.com/robcowart/ovpnm/internal/database/models"
	"github.com/robcowart/ovpnm/internal/ovpnconf"
	"go.uber.org/zap"
)

const (
	routeAddressMaxLength     = 46
	routeDescriptionMaxLength = 128
)

var ipv4Pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

// RouteInput is the editable part of a route rule
type RouteInput struct {
	IP          string  `json:"ip"`
	Mask        string  `json:"mask"`
	Description *string `json:"description"`
}

// RouteService stores the routes pushed to clients and renders them into the
// server config. The daemon only applies them after a restart.
type RouteService struct {
	db     *database.Database
	cfg    *config.Config
	logger *zap.Logger
	locks  *keyedMutex
}

// NewRouteService creates a new route service
func NewRouteService(db *database.Database, cfg *config.Config, logger *zap.Logger) *RouteService {
	return &RouteService{
		db:     db,
		cfg:    cfg,
		logger: logger,
		locks:  newKeyedMutex(),
	}
}

func parseIPv4(s string) ([4]byte, bool) {
	var out [4]byte
	if !ipv4Pattern.MatchString(s) {
		return out, false
	}
	for i, part := range strings.Split(s, ".") {
		n, err := strconv.Atoi(part)
		if err != nil || n > 255 {
			return out, false
		}
		out[i] = byte(n)
	}
	return out, true
}

func isContiguousMask(mask [4]byte) bool {
	v := uint32(mask[0])<<24 | uint32(mask[1])<<16 | uint32(mask[2])<<8 | uint32(mask[3])
	return bits.LeadingZeros32(^v)+bits.TrailingZeros32(v) >= 32
}

func validateRoute(in *RouteInput) error {
	switch {
	case in.IP == "":
		return apperror.InvalidInput("invalid route", "ip is required")
	case len(in.IP) > routeAddressMaxLength:
		return apperror.InvalidInput("invalid route", "ip too long")
	case in.Mask == "":
		return apperror.InvalidInput("invalid route", "mask is required")
	case len(in.Mask) > routeAddressMaxLength:
		return apperror.InvalidInput("invalid route", "mask too long")
	case in.Description != nil && len(*in.Description) > routeDescriptionMaxLength:
		return apperror.InvalidInput("invalid route", "description too long")
	}

	if _, ok := parseIPv4(in.IP); !ok {
		return apperror.InvalidInput("invalid route", "invalid ip format")
	}
	mask, ok := parseIPv4(in.Mask)
	if !ok {
		return apperror.InvalidInput("invalid route", "invalid mask format")
	}
	if !isContiguousMask(mask) {
		return apperror.InvalidInput("invalid route", "mask is not a contiguous netmask")
	}
	return nil
}

// List returns the routes in creation order
func (s *RouteService) List(ctx context.Context) ([]*models.RouteRule, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	routes, err := s.db.ListRoutes(ctx)
	if err != nil {
		return nil, storeError(err, "route")
	}
	return routes, nil
}

// Get returns a route by id
func (s *RouteService) Get(ctx context.Context, id string) (*models.RouteRule, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	route, err := s.db.GetRoute(ctx, id)
	if err != nil {
		return nil, storeError(err, "route")
	}
	return route, nil
}

// Create adds a route
func (s *RouteService) Create(ctx context.Context, in *RouteInput) (*RouteMutation, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if err := validateRoute(in); err != nil {
		return nil, err
	}

	ts := now()
	route := &models.RouteRule{
		ID:          uuid.New().String(),
		IP:          in.IP,
		Mask:        in.Mask,
		Description: in.Description,
		CreatedAt:   ts,
		ModifiedAt:  ts,
	}

	err := s.mutate(ctx, func(ctx context.Context, tx *database.Tx) error {
		if err := tx.CreateRoute(ctx, route); err != nil {
			if errors.Is(err, database.ErrDuplicate) {
				return apperror.Conflict("duplicate route")
			}
			return storeError(err, "route")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Route created", zap.String("id", route.ID), zap.String("ip", route.IP), zap.String("mask", route.Mask))
	return &RouteMutation{Route: route, RestartRequired: true}, nil
}

// Update replaces the fields of a route, keeping its id and position
func (s *RouteService) Update(ctx context.Context, id string, in *RouteInput) (*RouteMutation, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if err := validateRoute(in); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	var route *models.RouteRule
	err := s.mutate(ctx, func(ctx context.Context, tx *database.Tx) error {
		var err error
		route, err = tx.GetRouteForUpdate(ctx, id)
		if err != nil {
			return storeError(err, "route")
		}

		existing, err := tx.GetRouteByIPMask(ctx, in.IP, in.Mask)
		switch {
		case err == nil && existing.ID != id:
			return apperror.Conflict("duplicate route")
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return storeError(err, "route")
		}

		route.IP = in.IP
		route.Mask = in.Mask
		route.Description = in.Description
		route.ModifiedAt = now()
		if err := tx.UpdateRoute(ctx, route); err != nil {
			if errors.Is(err, database.ErrDuplicate) {
				return apperror.Conflict("duplicate route")
			}
			return storeError(err, "route")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Route updated", zap.String("id", route.ID), zap.String("ip", route.IP), zap.String("mask", route.Mask))
	return &RouteMutation{Route: route, RestartRequired: true}, nil
}

// Delete removes a route and returns it
func (s *RouteService) Delete(ctx context.Context, id string) (*RouteMutation, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	var route *models.RouteRule
	err := s.mutate(ctx, func(ctx context.Context, tx *database.Tx) error {
		var err error
		route, err = tx.GetRouteForUpdate(ctx, id)
		if err != nil {
			return storeError(err, "route")
		}
		if err := tx.DeleteRoute(ctx, id); err != nil {
			return storeError(err, "route")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Route deleted", zap.String("id", route.ID))
	return &RouteMutation{Route: route, RestartRequired: true}, nil
}

// mutate runs fn, raises the restart flag and re-renders the server config in
// one transaction that the caller cannot cancel. The restart flag row lock
// serializes renders, so each one sees every route committed before it.
func (s *RouteService) mutate(ctx context.Context, fn func(ctx context.Context, tx *database.Tx) error) error {
	ctx = context.WithoutCancel(ctx)
	written := false
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		if err := tx.LockSystemConfig(ctx, models.ConfigRestartRequired, "false"); err != nil {
			return storeError(err, "restart flag")
		}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if err := tx.SetSystemConfig(ctx, models.ConfigRestartRequired, "true"); err != nil {
			return storeError(err, "restart flag")
		}
		if err := s.writeServerConfig(ctx, tx); err != nil {
			return err
		}
		written = s.cfg.OpenVPN.ServerConfigPath != ""
		return nil
	})
	if err != nil && written {
		s.logger.Warn("Commit failed after the server config was written, restoring it", zap.Error(err))
		if restoreErr := s.render(ctx); restoreErr != nil {
			s.logger.Error("Failed to restore the server config", zap.Error(restoreErr))
		}
	}
	return err
}

// render rewrites the server config from the committed routes
func (s *RouteService) render(ctx context.Context) error {
	return s.db.WithTx(ctx, func(tx *database.Tx) error {
		if err := tx.LockSystemConfig(ctx, models.ConfigRestartRequired, "false"); err != nil {
			return storeError(err, "restart flag")
		}
		return s.writeServerConfig(ctx, tx)
	})
}

func (s *RouteService) writeServerConfig(ctx context.Context, tx *database.Tx) error {
	path := s.cfg.OpenVPN.ServerConfigPath
	if path == "" {
		return nil
	}

	var base string
	if s.cfg.OpenVPN.ServerBaseConfigPath != "" {
		var err error
		if base, err = ovpnconf.ReadBase(s.cfg.OpenVPN.ServerBaseConfigPath); err != nil {
			return apperror.Internal("failed to read server base config", err)
		}
	}

	rules, err := tx.ListRoutes(ctx)
	if err != nil {
		return storeError(err, "route")
	}
	routes := make([]ovpnconf.Route, len(rules))
	for i, r := range rules {
		routes[i] = ovpnconf.Route{IP: r.IP, Mask: r.Mask}
	}

	if err := ovpnconf.WriteFileAtomic(path, []byte(ovpnconf.RenderServerConfig(base, routes)), 0644); err != nil {
		return apperror.Internal("failed to write server config", err)
	}
	return nil
}

// RenderServerConfig rewrites the server config from the stored routes
func (s *RouteService) RenderServerConfig(ctx context.Context) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	if s.cfg.OpenVPN.ServerConfigPath == "" {
		return apperror.InvalidState("server config path is not configured")
	}
	return s.render(context.WithoutCancel(ctx))
}

// RestartRequired reports whether stored routes differ from what the daemon runs
func (s *RouteService) RestartRequired(ctx context.Context) (bool, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return false, err
	}
	return restartRequired(ctx, s.db)
}

func restartRequired(ctx context.Context, db *database.Database) (bool, error) {
	value, err := db.GetSystemConfig(ctx, models.ConfigRestartRequired)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, storeError(err, "restart flag")
	}
	return value == "true", nil
}

// AcknowledgeRestart clears the restart flag
func (s *RouteService) AcknowledgeRestart(ctx context.Context) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.db.SetSystemConfig(context.WithoutCancel(ctx), models.ConfigRestartRequired, "false"); err != nil {
		return storeError(err, "restart flag")
	}
	return nil
}
