package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/glimmerapp/glimmer/internal/ctxkeys"
	"github.com/glimmerapp/glimmer/internal/db"
	"github.com/glimmerapp/glimmer/internal/middleware"
	"github.com/glimmerapp/glimmer/internal/repository"
	"github.com/glimmerapp/glimmer/internal/service"
)

const testSecret = "test-secret-key-for-jwt-signing-must-be-long-enough"

func newUserService(t *testing.T) *service.UserService {
	t.Helper()

	database, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	database.SetMaxOpenConns(1)
	require.NoError(t, db.RunMigrations(database.DB, "sqlite"))
	t.Cleanup(func() { _ = database.Close() })

	return service.NewUserService(repository.NewUserRepository(database), 3)
}

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func authedHandler(t *testing.T) http.Handler {
	t.Helper()

	inner := middleware.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		user := ctxkeys.User(r.Context())
		w.Header().Set("X-User-ID", user.ID)
		w.WriteHeader(http.StatusOK)
	})

	return middleware.AuthMiddleware(testSecret, newUserService(t))(inner)
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	authedHandler(t).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer invalid-token")
	w := httptest.NewRecorder()

	authedHandler(t).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_WrongSecret(t *testing.T) {
	token := signToken(t, jwt.MapClaims{"sub": "user-123"}, "some-other-secret")

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	authedHandler(t).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":   "user-123",
		"email": "user@example.com",
		"name":  "Test User",
	}, testSecret)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	authedHandler(t).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-123", w.Header().Get("X-User-ID"))
}

func TestRequireAdmin(t *testing.T) {
	handler := middleware.AuthMiddleware(testSecret, newUserService(t))(
		middleware.RequireAdmin(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	// Non-admin token is rejected
	token := signToken(t, jwt.MapClaims{"sub": "user-1", "is_admin": false}, testSecret)
	req := httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Admin token passes
	token = signToken(t, jwt.MapClaims{"sub": "admin-1", "is_admin": true}, testSecret)
	req = httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
