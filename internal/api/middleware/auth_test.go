package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/robcowart/ovpnm/internal/apperror"
	"github.com/robcowart/ovpnm/internal/auth"
	"github.com/robcowart/ovpnm/internal/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

type mockAuthenticator struct {
	mock.Mock
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, token string) (*models.User, error) {
	args := m.Called(ctx, token)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) apperror.Body {
	var body apperror.Body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func identityEcho(c *gin.Context) {
	user, ok := auth.IdentityFrom(c.Request.Context())
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no identity"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": user.ID, "name": user.Name, "admin": auth.IsAdmin(user)})
}

func TestAuthMiddleware(t *testing.T) {
	alice := &models.User{ID: "u1", Name: "alice", Groups: []models.Group{}}
	loginURL := "https://sso.example.com/login"

	t.Run("Valid token attaches the identity", func(t *testing.T) {
		authn := new(mockAuthenticator)
		authn.On("Authenticate", mock.Anything, "good-token").Return(alice, nil)

		router := setupTestRouter()
		router.Use(AuthMiddleware(authn, loginURL))
		router.GET("/protected", identityEcho)

		req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer good-token")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"id":"u1","name":"alice","admin":false}`, w.Body.String())
		authn.AssertExpectations(t)
	})

	t.Run("Missing header redirects to login", func(t *testing.T) {
		router := setupTestRouter()
		router.Use(AuthMiddleware(new(mockAuthenticator), loginURL))
		router.GET("/protected", identityEcho)

		req, _ := http.NewRequest(http.MethodGet, "/protected?detail=true", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "authorization header required", body.Msg)
		assert.Equal(t, loginURL+"?next=%2Fprotected%3Fdetail%3Dtrue", body.RedirectURL)
	})

	t.Run("Malformed header", func(t *testing.T) {
		for _, header := range []string{"Basic abc", "Bearer", "Bearer ", "token"} {
			router := setupTestRouter()
			router.Use(AuthMiddleware(new(mockAuthenticator), ""))
			router.GET("/protected", identityEcho)

			req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
			req.Header.Set("Authorization", header)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code, header)
			body := decodeBody(t, w)
			assert.Equal(t, "invalid authorization header format", body.Msg)
			assert.Empty(t, body.RedirectURL)
		}
	})

	t.Run("Rejected token", func(t *testing.T) {
		authn := new(mockAuthenticator)
		authn.On("Authenticate", mock.Anything, "expired").Return(nil, apperror.Unauthenticated("invalid or expired token", ""))

		router := setupTestRouter()
		router.Use(AuthMiddleware(authn, loginURL+"?app=vpn"))
		router.GET("/protected", identityEcho)

		req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer expired")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "invalid or expired token", body.Msg)
		assert.Equal(t, loginURL+"?app=vpn&next=%2Fprotected", body.RedirectURL)
	})

	t.Run("Directory failure is not an authentication failure", func(t *testing.T) {
		authn := new(mockAuthenticator)
		authn.On("Authenticate", mock.Anything, "tok").Return(nil, apperror.Internal("failed to get user", errors.New("db down")))

		router := setupTestRouter()
		router.Use(AuthMiddleware(authn, loginURL))
		router.GET("/protected", identityEcho)

		req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer tok")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "db down")
	})
}

func TestRequireAdmin(t *testing.T) {
	admin := &models.User{ID: "a1", Name: "root", Groups: []models.Group{{Name: auth.AdminGroup}}}
	alice := &models.User{ID: "u1", Name: "alice", Groups: []models.Group{{Name: "staff"}}}

	authn := new(mockAuthenticator)
	authn.On("Authenticate", mock.Anything, "admin-token").Return(admin, nil)
	authn.On("Authenticate", mock.Anything, "alice-token").Return(alice, nil)

	router := setupTestRouter()
	router.Use(AuthMiddleware(authn, ""), RequireAdmin())
	router.GET("/admin", identityEcho)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"Admin passes", "admin-token", http.StatusOK},
		{"Member is forbidden", "alice-token", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, "/admin", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}

	t.Run("Without authentication", func(t *testing.T) {
		router := setupTestRouter()
		router.Use(RequireAdmin())
		router.GET("/admin", identityEcho)

		req, _ := http.NewRequest(http.MethodGet, "/admin", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
