package database

import (
	"context"

	"github.com/robcowart/ovpnm/internal/database/models"
)

const clientColumns = `id, user_id, name, email, created_at, modified_at`

func scanClient(row interface{ Scan(...any) error }) (*models.Client, error) {
	var client models.Client
	err := row.Scan(&client.ID, &client.UserID, &client.Name, &client.Email, &client.CreatedAt, &client.ModifiedAt)
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// CreateClient creates a new client. Returns ErrDuplicate when the user already
// has a client or the name is taken.
func (s *queries) CreateClient(ctx context.Context, client *models.Client) error {
	_, err := s.exec(ctx, `INSERT INTO clients (`+clientColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		client.ID, client.UserID, client.Name, client.Email, client.CreatedAt, client.ModifiedAt)
	return err
}

// GetClient retrieves a client by ID
func (s *queries) GetClient(ctx context.Context, id string) (*models.Client, error) {
	return scanClient(s.q.QueryRowContext(ctx, s.rebind(`SELECT `+clientColumns+` FROM clients WHERE id = ?`), id))
}

// GetClientByUser retrieves the client owned by a user
func (s *queries) GetClientByUser(ctx context.Context, userID string) (*models.Client, error) {
	return scanClient(s.q.QueryRowContext(ctx, s.rebind(`SELECT `+clientColumns+` FROM clients WHERE user_id = ?`), userID))
}

// GetClientByName retrieves a client by its certificate common name
func (s *queries) GetClientByName(ctx context.Context, name string) (*models.Client, error) {
	return scanClient(s.q.QueryRowContext(ctx, s.rebind(`SELECT `+clientColumns+` FROM clients WHERE name = ?`), name))
}

// ListClients retrieves all clients in creation order
func (s *queries) ListClients(ctx context.Context) ([]*models.Client, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []*models.Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	return clients, rows.Err()
}
