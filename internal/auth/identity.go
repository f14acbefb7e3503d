package auth

import (
	"context"

	"github.com/robcowart/ovpnm/internal/database/models"
)

// AdminGroup is the directory group that grants administrative capability.
// The match is exact and case-sensitive.
const AdminGroup = "admin"

type identityKey struct{}

// IsAdmin reports whether any group of user is named exactly "admin".
// A nil user is never an admin.
func IsAdmin(user *models.User) bool {
	if user == nil {
		return false
	}
	for _, group := range user.Groups {
		if group.Name == AdminGroup {
			return true
		}
	}
	return false
}

// WithIdentity returns a copy of ctx carrying the authenticated caller
func WithIdentity(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, identityKey{}, user)
}

// IdentityFrom returns the caller stored by WithIdentity
func IdentityFrom(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(identityKey{}).(*models.User)
	return user, ok && user != nil
}
