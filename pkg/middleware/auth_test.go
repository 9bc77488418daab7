package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buja23/OpiticaPruden/pkg/logger"
)

const testSecret = "test-secret-key-for-jwt-signing"

func generateToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return tokenString
}

// identityHandler echoes the identity the middleware put in context.
func identityHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, UserIDFromContext(r.Context())+"|"+RoleFromContext(r.Context())+"|"+logger.UserIDFromContext(r.Context()))
	}
}

func serveWithToken(h http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestJWTAuth_ValidToken_SubClaim(t *testing.T) {
	token := generateToken(t, testSecret, jwt.MapClaims{
		"sub": "user-456",
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	rr := serveWithToken(Auth(JWTValidator(testSecret))(identityHandler()), "Bearer "+token)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "user-456||user-456", rr.Body.String())
}

func TestJWTAuth_RoleFromAppMetadata(t *testing.T) {
	token := generateToken(t, testSecret, jwt.MapClaims{
		"sub":          "ops-1",
		"role":         "authenticated",
		"app_metadata": map[string]any{"role": "admin"},
		"exp":          jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	rr := serveWithToken(Auth(JWTValidator(testSecret))(identityHandler()), "Bearer "+token)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ops-1|admin|ops-1", rr.Body.String())
}

func TestJWTAuth_RoleClaimFallback(t *testing.T) {
	token := generateToken(t, testSecret, jwt.MapClaims{
		"sub":  "user-1",
		"role": "authenticated",
		"exp":  jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	rr := serveWithToken(Auth(JWTValidator(testSecret))(identityHandler()), "bearer "+token)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "user-1|authenticated|user-1", rr.Body.String())
}

func TestJWTAuth_Rejections(t *testing.T) {
	expired := generateToken(t, testSecret, jwt.MapClaims{
		"sub": "user-1",
		"exp": jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	wrongSecret := generateToken(t, "another-secret", jwt.MapClaims{
		"sub": "user-1",
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	noSubject := generateToken(t, testSecret, jwt.MapClaims{
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"missing header", "", "missing authorization header"},
		{"basic scheme", "Basic dXNlcjpwYXNz", "invalid authorization header format"},
		{"empty token", "Bearer ", "invalid authorization header format"},
		{"expired", "Bearer " + expired, "invalid or expired token"},
		{"wrong secret", "Bearer " + wrongSecret, "invalid or expired token"},
		{"no subject", "Bearer " + noSubject, "invalid or expired token"},
		{"alg none", "Bearer " + none, "invalid or expired token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serveWithToken(Auth(JWTValidator(testSecret))(identityHandler()), tt.header)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Contains(t, rr.Body.String(), "UNAUTHORIZED")
			assert.Contains(t, rr.Body.String(), tt.message)
		})
	}
}

func TestHeaderAuth(t *testing.T) {
	h := HeaderAuth()(identityHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserIDHeader, " user-9 ")
	req.Header.Set(UserRoleHeader, "admin")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "user-9|admin|user-9", rr.Body.String())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "X-User-ID")
}

func TestRequireRole(t *testing.T) {
	h := HeaderAuth()(RequireRole("admin")(okHandler()))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil)
	req.Header.Set(UserIDHeader, "user-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "insufficient permissions")

	req.Header.Set(UserRoleHeader, "admin")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
