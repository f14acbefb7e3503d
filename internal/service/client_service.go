package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/robcowart/ovpnm/internal/apperror"
	"github.com/robcowart/ovpnm/internal/auth"
	"github.com/robcowart/ovpnm/internal/database"
	"github.com/robcowart/ovpnm/internal/database/models"
	"go.uber.org/zap"
)

// ClientService is the registry linking directory users to VPN clients
type ClientService struct {
	db     *database.Database
	logger *zap.Logger
}

// NewClientService creates a new client service
func NewClientService(db *database.Database, logger *zap.Logger) *ClientService {
	return &ClientService{
		db:     db,
		logger: logger,
	}
}

// view assembles the derived client view. detail nests the credentials with
// their cert and key info; otherwise only the active count is reported.
func (s *ClientService) view(ctx context.Context, client *models.Client, detail bool, at time.Time) (*ClientView, error) {
	user, err := s.db.GetUser(ctx, client.UserID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, storeError(err, "user")
	}

	creds, err := s.db.ListCredentialsByClient(ctx, client.ID)
	if err != nil {
		return nil, storeError(err, "credential")
	}

	v := &ClientView{Client: client, User: user}
	if detail {
		v.Credentials = make([]CredentialView, 0, len(creds))
	}
	for _, cred := range creds {
		cv := credentialView(cred, detail, at)
		if cv.Validity.Valid {
			v.ActiveCredentials++
		}
		if detail {
			v.Credentials = append(v.Credentials, cv)
		}
	}
	return v, nil
}

// GetByUser returns the client owned by a user. The user themself and admins only.
func (s *ClientService) GetByUser(ctx context.Context, userID string, detail bool) (*ClientView, error) {
	caller, err := requireIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if caller.ID != userID && !auth.IsAdmin(caller) {
		return nil, apperror.Forbidden("not the owner of this client")
	}

	client, err := s.db.GetClientByUser(ctx, userID)
	if err != nil {
		return nil, storeError(err, "client")
	}
	return s.view(ctx, client, detail, now())
}

// Get returns a client with full credential detail
func (s *ClientService) Get(ctx context.Context, clientID string) (*ClientView, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	client, err := s.db.GetClient(ctx, clientID)
	if err != nil {
		return nil, storeError(err, "client")
	}
	return s.view(ctx, client, true, now())
}

// List returns every client in creation order
func (s *ClientService) List(ctx context.Context) ([]*ClientView, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	clients, err := s.db.ListClients(ctx)
	if err != nil {
		return nil, storeError(err, "client")
	}

	at := now()
	views := make([]*ClientView, 0, len(clients))
	for _, client := range clients {
		v, err := s.view(ctx, client, false, at)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// ImportFromUser creates the client for a directory user. The new client has
// no credentials.
func (s *ClientService) ImportFromUser(ctx context.Context, userID string) (*ClientView, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	user, err := s.db.GetUser(ctx, userID)
	if err != nil {
		return nil, storeError(err, "user")
	}

	_, err = s.db.GetClientByUser(ctx, userID)
	switch {
	case err == nil:
		return nil, apperror.Conflict("client already exists for this user")
	case !errors.Is(err, sql.ErrNoRows):
		return nil, storeError(err, "client")
	}

	ts := now()
	client := &models.Client{
		ID:         uuid.New().String(),
		UserID:     user.ID,
		Name:       user.Name,
		Email:      user.Email,
		CreatedAt:  ts,
		ModifiedAt: ts,
	}
	if err := s.db.CreateClient(context.WithoutCancel(ctx), client); err != nil {
		return nil, storeError(err, "client")
	}

	s.logger.Info("Client imported from directory", zap.String("client", client.Name), zap.String("user_id", user.ID))
	return &ClientView{Client: client, User: user, Credentials: []CredentialView{}}, nil
}
