package database

import (
	"context"
	"database/sql"

	"github.com/robcowart/ovpnm/internal/database/models"
)

const routeColumns = `id, ip, mask, description, created_at, modified_at`

func scanRoute(row interface{ Scan(...any) error }) (*models.RouteRule, error) {
	var route models.RouteRule
	var description sql.NullString
	err := row.Scan(&route.ID, &route.IP, &route.Mask, &description, &route.CreatedAt, &route.ModifiedAt)
	if err != nil {
		return nil, err
	}
	if description.Valid {
		route.Description = &description.String
	}
	return &route, nil
}

// CreateRoute inserts a route. Returns ErrDuplicate when (ip, mask) exists.
func (s *queries) CreateRoute(ctx context.Context, route *models.RouteRule) error {
	_, err := s.exec(ctx, `INSERT INTO routes (`+routeColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		route.ID, route.IP, route.Mask, route.Description, route.CreatedAt, route.ModifiedAt)
	return err
}

// GetRoute retrieves a route by ID
func (s *queries) GetRoute(ctx context.Context, id string) (*models.RouteRule, error) {
	return scanRoute(s.q.QueryRowContext(ctx, s.rebind(`SELECT `+routeColumns+` FROM routes WHERE id = ?`), id))
}

// GetRouteForUpdate retrieves a route and locks its row until the surrounding
// transaction ends
func (s *queries) GetRouteForUpdate(ctx context.Context, id string) (*models.RouteRule, error) {
	return scanRoute(s.q.QueryRowContext(ctx,
		s.rebind(`SELECT `+routeColumns+` FROM routes WHERE id = ?`+s.forUpdate()), id))
}

// GetRouteByIPMask retrieves a route by its network
func (s *queries) GetRouteByIPMask(ctx context.Context, ip, mask string) (*models.RouteRule, error) {
	return scanRoute(s.q.QueryRowContext(ctx,
		s.rebind(`SELECT `+routeColumns+` FROM routes WHERE ip = ? AND mask = ?`), ip, mask))
}

// ListRoutes retrieves all routes in creation order. Updates keep created_at so
// an updated route keeps its position.
func (s *queries) ListRoutes(ctx context.Context) ([]*models.RouteRule, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+routeColumns+` FROM routes ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	routes := []*models.RouteRule{}
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}
	return routes, rows.Err()
}

// UpdateRoute rewrites the mutable fields of a route
func (s *queries) UpdateRoute(ctx context.Context, route *models.RouteRule) error {
	return s.execAffected(ctx, `UPDATE routes SET ip = ?, mask = ?, description = ?, modified_at = ? WHERE id = ?`,
		route.IP, route.Mask, route.Description, route.ModifiedAt, route.ID)
}

// DeleteRoute deletes a route by ID
func (s *queries) DeleteRoute(ctx context.Context, id string) error {
	return s.execAffected(ctx, `DELETE FROM routes WHERE id = ?`, id)
}
