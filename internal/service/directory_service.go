package service

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/robcowart/ovpnm/internal/apperror"
	"github.com/robcowart/ovpnm/internal/auth"
	"github.com/robcowart/ovpnm/internal/config"
	"github.com/robcowart/ovpnm/internal/crypto"
	"github.com/robcowart/ovpnm/internal/database"
	"github.com/robcowart/ovpnm/internal/database/models"
)

const configJWTSecret = "jwt_secret"

// DirectoryService is the identity provider: users, groups and login
type DirectoryService struct {
	db  *database.Database
	cfg *config.Config

	// guards cfg.JWT.Secret, which Setup and LoadJWTSecret fill in
	secretMu sync.RWMutex
}

// NewDirectoryService creates a new directory service
func NewDirectoryService(db *database.Database, cfg *config.Config) *DirectoryService {
	return &DirectoryService{
		db:  db,
		cfg: cfg,
	}
}

// ProvisionUserRequest describes a directory entry to create
type ProvisionUserRequest struct {
	Name     string
	Email    string
	Password string
	Groups   []string
}

// ProvisionUser creates a user and its group memberships, creating missing groups
func (s *DirectoryService) ProvisionUser(ctx context.Context, req *ProvisionUserRequest) (*models.User, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	var user *models.User
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		var err error
		user, err = provisionUser(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func provisionUser(ctx context.Context, tx *database.Tx, req *ProvisionUserRequest) (*models.User, error) {
	if req.Name == "" {
		return nil, apperror.InvalidInput("invalid user", "name is required")
	}
	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		return nil, apperror.InvalidInput("weak password", err.Error())
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, apperror.Internal("failed to hash password", err)
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: passwordHash,
		CreatedAt:    now(),
	}
	if err := tx.CreateUser(ctx, user); err != nil {
		return nil, storeError(err, "user")
	}

	for _, name := range req.Groups {
		group, err := tx.GetGroupByName(ctx, name)
		if errors.Is(err, sql.ErrNoRows) {
			group = &models.Group{ID: uuid.New().String(), Name: name}
			err = tx.CreateGroup(ctx, group)
		}
		if err != nil {
			return nil, storeError(err, "group")
		}
		if err := tx.AddUserToGroup(ctx, user.ID, group.ID); err != nil {
			return nil, storeError(err, "group membership")
		}
	}

	user.Groups, err = tx.GetUserGroups(ctx, user.ID)
	if err != nil {
		return nil, storeError(err, "group")
	}
	return user, nil
}

// SetupRequest represents initial setup request
type SetupRequest struct {
	Name     string
	Email    string
	Password string
}

// SetupResponse contains setup response data
type SetupResponse struct {
	User      *models.User
	MasterKey string
	Token     string
}

// Setup performs first-time setup: master key, JWT secret and the first admin
func (s *DirectoryService) Setup(ctx context.Context, req *SetupRequest) (*SetupResponse, error) {
	isComplete, err := s.db.IsSetupComplete(ctx)
	if err != nil {
		return nil, apperror.Internal("failed to check setup status", err)
	}
	if isComplete {
		return nil, apperror.Conflict("setup already complete")
	}

	masterKey, err := crypto.GenerateMasterKey()
	if err != nil {
		return nil, apperror.Internal("failed to generate master key", err)
	}
	masterKeyHex := hex.EncodeToString(masterKey)

	configured := s.secret()
	jwtSecret := configured
	if jwtSecret == "" {
		secret, err := crypto.GenerateMasterKey()
		if err != nil {
			return nil, apperror.Internal("failed to generate JWT secret", err)
		}
		jwtSecret = hex.EncodeToString(secret)
	}

	ctx = context.WithoutCancel(ctx)
	var user *models.User
	err = s.db.WithTx(ctx, func(tx *database.Tx) error {
		// a concurrent setup fails here on the existing master key
		if err := tx.CreateSystemConfig(ctx, models.ConfigMasterKey, masterKeyHex); err != nil {
			if errors.Is(err, database.ErrDuplicate) {
				return apperror.Conflict("setup already complete")
			}
			return apperror.Internal("failed to store master key", err)
		}
		if configured == "" {
			if err := tx.SetSystemConfig(ctx, configJWTSecret, jwtSecret); err != nil {
				return apperror.Internal("failed to store JWT secret", err)
			}
		}
		user, err = provisionUser(ctx, tx, &ProvisionUserRequest{
			Name:     req.Name,
			Email:    req.Email,
			Password: req.Password,
			Groups:   []string{auth.AdminGroup},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.setSecret(jwtSecret)

	token, err := s.issueToken(user)
	if err != nil {
		return nil, err
	}

	return &SetupResponse{
		User:      user,
		MasterKey: masterKeyHex,
		Token:     token,
	}, nil
}

// IsSetupComplete checks if initial setup has been completed
func (s *DirectoryService) IsSetupComplete(ctx context.Context) (bool, error) {
	complete, err := s.db.IsSetupComplete(ctx)
	if err != nil {
		return false, apperror.Internal("failed to check setup status", err)
	}
	return complete, nil
}

// Login checks a password and returns a JWT for the user
func (s *DirectoryService) Login(ctx context.Context, name, password string) (string, *models.User, error) {
	user, err := s.db.GetUserByName(ctx, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, apperror.Unauthenticated("invalid credentials", "")
		}
		return "", nil, apperror.Internal("failed to get user", err)
	}

	if err := auth.VerifyPassword(password, user.PasswordHash); err != nil {
		return "", nil, apperror.Unauthenticated("invalid credentials", "")
	}

	token, err := s.issueToken(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

func (s *DirectoryService) issueToken(user *models.User) (string, error) {
	token, err := auth.GenerateToken(user.ID, user.Name, s.secret(), s.cfg.JWT.Issuer, s.cfg.JWT.Expiration)
	if err != nil {
		return "", apperror.Internal("failed to generate token", err)
	}
	return token, nil
}

// Authenticate resolves a bearer token to a fresh directory entry
func (s *DirectoryService) Authenticate(ctx context.Context, token string) (*models.User, error) {
	claims, err := auth.ValidateToken(token, s.secret(), s.cfg.JWT.Issuer)
	if err != nil {
		return nil, apperror.Unauthenticated("invalid or expired token", "")
	}

	user, err := s.db.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.Unauthenticated("user no longer exists", "")
		}
		return nil, apperror.Internal("failed to get user", err)
	}
	return user, nil
}

// Me returns the caller
func (s *DirectoryService) Me(ctx context.Context) (*models.User, error) {
	return requireIdentity(ctx)
}

// GetUser returns a user. Non-admins may only read themselves.
func (s *DirectoryService) GetUser(ctx context.Context, id string) (*models.User, error) {
	caller, err := requireIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if caller.ID != id && !auth.IsAdmin(caller) {
		return nil, apperror.Forbidden("admin required")
	}

	user, err := s.db.GetUser(ctx, id)
	if err != nil {
		return nil, storeError(err, "user")
	}
	return user, nil
}

// ListUsers returns every directory entry
func (s *DirectoryService) ListUsers(ctx context.Context) ([]*models.User, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	users, err := s.db.ListUsers(ctx)
	if err != nil {
		return nil, storeError(err, "user")
	}
	if users == nil {
		users = []*models.User{}
	}
	return users, nil
}

// LoadJWTSecret loads the JWT secret persisted at setup when none is configured
func (s *DirectoryService) LoadJWTSecret(ctx context.Context) error {
	if s.secret() != "" {
		return nil
	}
	secret, err := s.db.GetSystemConfig(ctx, configJWTSecret)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("failed to get JWT secret: %w", err)
	}
	s.setSecret(secret)
	return nil
}

func (s *DirectoryService) secret() string {
	s.secretMu.RLock()
	defer s.secretMu.RUnlock()
	return s.cfg.JWT.Secret
}

func (s *DirectoryService) setSecret(secret string) {
	s.secretMu.Lock()
	s.cfg.JWT.Secret = secret
	s.secretMu.Unlock()
}

// MasterKey returns the key sealing credential private keys
func MasterKey(ctx context.Context, db *database.Database) ([]byte, error) {
	masterKeyHex, err := db.GetSystemConfig(ctx, models.ConfigMasterKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.InvalidState("setup has not been completed")
		}
		return nil, apperror.Internal("failed to get master key", err)
	}

	masterKey, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, apperror.Internal("failed to decode master key", err)
	}
	return masterKey, nil
}
