package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/robcowart/ovpnm/internal/database/models"
)

const credentialColumns = `id, client_id, serial_number, certificate_pem, private_key_enc,
	is_revoked, revoked_at, is_imported, created_at, modified_at`

func scanCredential(row interface{ Scan(...any) error }) (*models.ClientCredential, error) {
	var cred models.ClientCredential
	var revokedAt sql.NullTime
	err := row.Scan(
		&cred.ID, &cred.ClientID, &cred.SerialNumber, &cred.CertificatePEM, &cred.PrivateKeyEnc,
		&cred.IsRevoked, &revokedAt, &cred.IsImported, &cred.CreatedAt, &cred.ModifiedAt,
	)
	if err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		cred.RevokedAt = &t
	}
	return &cred, nil
}

func (s *queries) listCredentials(ctx context.Context, query string, args ...any) ([]*models.ClientCredential, error) {
	rows, err := s.q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	creds := []*models.ClientCredential{}
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// CreateCredential appends a credential to a client
func (s *queries) CreateCredential(ctx context.Context, cred *models.ClientCredential) error {
	_, err := s.exec(ctx, `INSERT INTO client_credentials (`+credentialColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cred.ID, cred.ClientID, cred.SerialNumber, cred.CertificatePEM, cred.PrivateKeyEnc,
		cred.IsRevoked, cred.RevokedAt, cred.IsImported, cred.CreatedAt, cred.ModifiedAt,
	)
	return err
}

// GetCredential retrieves a credential by ID
func (s *queries) GetCredential(ctx context.Context, id string) (*models.ClientCredential, error) {
	return scanCredential(s.q.QueryRowContext(ctx,
		s.rebind(`SELECT `+credentialColumns+` FROM client_credentials WHERE id = ?`), id))
}

// GetCredentialForUpdate retrieves a credential and locks its row until the
// surrounding transaction ends
func (s *queries) GetCredentialForUpdate(ctx context.Context, id string) (*models.ClientCredential, error) {
	return scanCredential(s.q.QueryRowContext(ctx,
		s.rebind(`SELECT `+credentialColumns+` FROM client_credentials WHERE id = ?`+s.forUpdate()), id))
}

// ListCredentialsByClient retrieves the credentials of a client, oldest first
func (s *queries) ListCredentialsByClient(ctx context.Context, clientID string) ([]*models.ClientCredential, error) {
	return s.listCredentials(ctx,
		`SELECT `+credentialColumns+` FROM client_credentials WHERE client_id = ? ORDER BY created_at, id`, clientID)
}

// ListRevokedCredentials retrieves every revoked credential
func (s *queries) ListRevokedCredentials(ctx context.Context) ([]*models.ClientCredential, error) {
	return s.listCredentials(ctx,
		`SELECT `+credentialColumns+` FROM client_credentials WHERE is_revoked = ? ORDER BY revoked_at, id`, true)
}

// SetCredentialRevocation writes both revocation fields in one statement so they
// can never be observed out of step
func (s *queries) SetCredentialRevocation(ctx context.Context, id string, revoked bool, revokedAt *time.Time, modifiedAt time.Time) error {
	return s.execAffected(ctx,
		`UPDATE client_credentials SET is_revoked = ?, revoked_at = ?, modified_at = ? WHERE id = ?`,
		revoked, revokedAt, modifiedAt, id)
}
