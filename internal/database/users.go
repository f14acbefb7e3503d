package database

import (
	"context"
	"database/sql"

	"github.com/robcowart/ovpnm/internal/database/models"
)

const userColumns = `id, name, email, avatar, nickname, password_hash, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var user models.User
	var nickname sql.NullString
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.Avatar, &nickname, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	if nickname.Valid {
		user.Nickname = &nickname.String
	}
	return &user, nil
}

// CreateUser creates a new user
func (s *queries) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.exec(ctx, `INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Name, user.Email, user.Avatar, user.Nickname, user.PasswordHash, user.CreatedAt)
	return err
}

// GetUser retrieves a user and its groups by ID
func (s *queries) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := scanUser(s.q.QueryRowContext(ctx, s.rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id))
	if err != nil {
		return nil, err
	}
	if user.Groups, err = s.GetUserGroups(ctx, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByName retrieves a user and its groups by login name
func (s *queries) GetUserByName(ctx context.Context, name string) (*models.User, error) {
	user, err := scanUser(s.q.QueryRowContext(ctx, s.rebind(`SELECT `+userColumns+` FROM users WHERE name = ?`), name))
	if err != nil {
		return nil, err
	}
	if user.Groups, err = s.GetUserGroups(ctx, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

// ListUsers retrieves all users with their groups, oldest first
func (s *queries) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, user := range users {
		if user.Groups, err = s.GetUserGroups(ctx, user.ID); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// CreateGroup creates a new directory group
func (s *queries) CreateGroup(ctx context.Context, group *models.Group) error {
	_, err := s.exec(ctx, `INSERT INTO access_groups (id, name, description) VALUES (?, ?, ?)`,
		group.ID, group.Name, group.Description)
	return err
}

// GetGroupByName retrieves a group by name
func (s *queries) GetGroupByName(ctx context.Context, name string) (*models.Group, error) {
	var group models.Group
	err := s.q.QueryRowContext(ctx, s.rebind(`SELECT id, name, description FROM access_groups WHERE name = ?`), name).
		Scan(&group.ID, &group.Name, &group.Description)
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// AddUserToGroup records a group membership
func (s *queries) AddUserToGroup(ctx context.Context, userID, groupID string) error {
	_, err := s.exec(ctx, `INSERT INTO access_group_members (group_id, user_id) VALUES (?, ?)`, groupID, userID)
	return err
}

// GetUserGroups lists the groups of a user ordered by name
func (s *queries) GetUserGroups(ctx context.Context, userID string) ([]models.Group, error) {
	rows, err := s.q.QueryContext(ctx, s.rebind(`
		SELECT g.id, g.name, g.description
		FROM access_groups g
		JOIN access_group_members m ON m.group_id = g.id
		WHERE m.user_id = ?
		ORDER BY g.name`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := []models.Group{}
	for rows.Next() {
		var group models.Group
		if err := rows.Scan(&group.ID, &group.Name, &group.Description); err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

// IsSetupComplete checks if initial setup has been completed
func (s *queries) IsSetupComplete(ctx context.Context) (bool, error) {
	var count int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
