package service

import (
	"time"

	"github.com/robcowart/ovpnm/internal/crypto"
	"github.com/robcowart/ovpnm/internal/database/models"
	"github.com/robcowart/ovpnm/internal/management"
)

// CredentialValidity summarizes whether a credential can be used at an instant
type CredentialValidity struct {
	Valid          bool `json:"valid"`
	BeforeValidity bool `json:"before_validity"`
	Expired        bool `json:"expired"`
}

// CredentialView is a credential with its derived state. Cert and PKey are only
// filled on detail requests and never for imported credentials.
type CredentialView struct {
	*models.ClientCredential
	Cert     *crypto.CertInfo   `json:"cert,omitempty"`
	PKey     *crypto.PKeyInfo   `json:"pkey,omitempty"`
	Validity CredentialValidity `json:"validity"`
}

// ClientView is a client with its owner and credentials
type ClientView struct {
	*models.Client
	User              *models.User     `json:"user,omitempty"`
	Credentials       []CredentialView `json:"credentials,omitempty"`
	ActiveCredentials int              `json:"active_credentials"`
}

// LogEntry is a daemon log line with its computed severity
type LogEntry struct {
	management.LogLine
	Severity int `json:"severity"`
}

// RouteMutation is the result of a route change
type RouteMutation struct {
	Route           *models.RouteRule `json:"route"`
	RestartRequired bool              `json:"restart_required"`
}

// ActionResult acknowledges a management action
type ActionResult struct {
	Action   string    `json:"action"`
	ClientID *int64    `json:"client_id,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}
