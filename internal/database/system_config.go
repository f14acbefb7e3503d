package database

import (
	"context"
	"time"
)

// SetSystemConfig sets a system configuration value
func (s *queries) SetSystemConfig(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx, `INSERT INTO system_config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	return err
}

// GetSystemConfig retrieves a system configuration value
func (s *queries) GetSystemConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.q.QueryRowContext(ctx, s.rebind(`SELECT value FROM system_config WHERE key = ?`), key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

// CreateSystemConfig inserts a value that must not exist yet. A second insert of
// the same key fails with ErrDuplicate.
func (s *queries) CreateSystemConfig(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx, `INSERT INTO system_config (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, time.Now().UTC())
	return err
}

// LockSystemConfig creates key with initial when missing and locks its row until
// the surrounding transaction ends. Transactions taking the same key run one
// after another, each seeing what the previous one committed.
func (s *queries) LockSystemConfig(ctx context.Context, key, initial string) error {
	if _, err := s.exec(ctx, `INSERT INTO system_config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO NOTHING`, key, initial, time.Now().UTC()); err != nil {
		return err
	}
	var value string
	return s.q.QueryRowContext(ctx,
		s.rebind(`SELECT value FROM system_config WHERE key = ?`+s.forUpdate()), key).Scan(&value)
}
