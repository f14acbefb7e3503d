// Package service holds the business operations behind the HTTP API: the user
// directory, the client registry, credential lifecycle, pushed routes and the
// daemon status and actions. Every operation takes the caller identity from the
// request context and returns *apperror.Error on failure.
package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/robcowart/ovpnm/internal/apperror"
	"github.com/robcowart/ovpnm/internal/auth"
	"github.com/robcowart/ovpnm/internal/database"
	"github.com/robcowart/ovpnm/internal/database/models"
)

// now is the single clock for persisted timestamps
var now = func() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func requireIdentity(ctx context.Context) (*models.User, error) {
	user, ok := auth.IdentityFrom(ctx)
	if !ok {
		return nil, apperror.Unauthenticated("authentication required", "")
	}
	return user, nil
}

func requireAdmin(ctx context.Context) (*models.User, error) {
	user, err := requireIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if !auth.IsAdmin(user) {
		return nil, apperror.Forbidden("admin required")
	}
	return user, nil
}

// storeError classifies a database error. what names the entity for NotFound
// and Conflict messages.
func storeError(err error, what string) error {
	var appErr *apperror.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, sql.ErrNoRows):
		return apperror.NotFound(what + " not found")
	case errors.Is(err, database.ErrDuplicate):
		return apperror.Conflict(what + " already exists")
	default:
		return apperror.Internal("failed to access "+what, err)
	}
}

// keyedMutex serializes work per id
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the lock for key and returns its release func
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
