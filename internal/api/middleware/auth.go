// Package middleware provides the gin middleware of the ovpnm API server:
// bearer authentication, the admin gate, CORS, request logging, rate limiting
// and request metrics.
package middleware

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/robcowart/ovpnm/internal/apperror"
	"github.com/robcowart/ovpnm/internal/auth"
	"github.com/robcowart/ovpnm/internal/database/models"
)

// Authenticator resolves a bearer token to the calling user
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

// abortWithError renders err the way handlers do and stops the chain
func abortWithError(c *gin.Context, err error) {
	status, body := apperror.ToBody(err)
	c.AbortWithStatusJSON(status, body)
}

// loginRedirect points the front end at the login page, returning to the
// current request afterwards
func loginRedirect(loginURL string, c *gin.Context) string {
	if loginURL == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(loginURL, "?") {
		sep = "&"
	}
	return loginURL + sep + "next=" + url.QueryEscape(c.Request.URL.RequestURI())
}

// AuthMiddleware validates the bearer token and attaches the caller identity
// to the request context. Unauthenticated responses carry redirect_url when a
// login URL is configured.
func AuthMiddleware(authenticator Authenticator, loginURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithError(c, apperror.Unauthenticated("authorization header required", loginRedirect(loginURL, c)))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			abortWithError(c, apperror.Unauthenticated("invalid authorization header format", loginRedirect(loginURL, c)))
			return
		}

		user, err := authenticator.Authenticate(c.Request.Context(), parts[1])
		if err != nil {
			var appErr *apperror.Error
			if errors.As(err, &appErr) && appErr.Kind == apperror.KindUnauthenticated {
				err = apperror.Unauthenticated(appErr.Msg, loginRedirect(loginURL, c))
			}
			abortWithError(c, err)
			return
		}

		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), user))
		c.Set("user_id", user.ID)
		c.Set("username", user.Name)

		c.Next()
	}
}

// RequireAdmin rejects callers outside the admin group
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := auth.IdentityFrom(c.Request.Context())
		if !ok {
			abortWithError(c, apperror.Unauthenticated("authentication required", ""))
			return
		}
		if !auth.IsAdmin(user) {
			abortWithError(c, apperror.Forbidden("admin required"))
			return
		}
		c.Next()
	}
}
