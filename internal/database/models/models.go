// Package models defines the data structures for database entities in ovpnm.
// It includes the directory users and groups, VPN clients and their credentials,
// pushed routes, and system configuration.
package models

import (
	"time"
)

// User is a directory entry. Users are read-only to everything except setup.
type User struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	Avatar       string    `db:"avatar" json:"avatar"`
	Nickname     *string   `db:"nickname" json:"nickname,omitempty"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"-"`
	Groups       []Group   `db:"-" json:"groups"`
}

// Group is a directory group
type Group struct {
	ID          string `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
}

// Client is the VPN side of a user
type Client struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	Name       string    `db:"name" json:"name"`
	Email      string    `db:"email" json:"email"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	ModifiedAt time.Time `db:"modified_at" json:"modified_at"`
}

// ClientCredential is a certificate and sealed private key issued to a client.
// Only the revocation fields change after insert.
type ClientCredential struct {
	ID             string     `db:"id" json:"id"`
	ClientID       string     `db:"client_id" json:"client_id"`
	SerialNumber   string     `db:"serial_number" json:"-"`
	CertificatePEM string     `db:"certificate_pem" json:"-"`
	PrivateKeyEnc  []byte     `db:"private_key_enc" json:"-"`
	IsRevoked      bool       `db:"is_revoked" json:"is_revoked"`
	RevokedAt      *time.Time `db:"revoked_at" json:"revoked_at"`
	IsImported     bool       `db:"is_imported" json:"is_imported"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	ModifiedAt     time.Time  `db:"modified_at" json:"modified_at"`
}

// RouteRule is a route pushed to connecting clients
type RouteRule struct {
	ID          string    `db:"id" json:"id"`
	IP          string    `db:"ip" json:"ip"`
	Mask        string    `db:"mask" json:"mask"`
	Description *string   `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	ModifiedAt  time.Time `db:"modified_at" json:"modified_at"`
}

// SystemConfig represents system-wide configuration stored in the database
type SystemConfig struct {
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// System config keys
const (
	ConfigMasterKey       = "master_key"
	ConfigRestartRequired = "restart_required"
	ConfigCRLNumber       = "crl_number"
)
