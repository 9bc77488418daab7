package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/buja23/OpiticaPruden/pkg/errors"
	"github.com/buja23/OpiticaPruden/pkg/httputil"
	"github.com/buja23/OpiticaPruden/pkg/logger"
)

type contextKeyType string

const (
	userIDKey contextKeyType = "user_id"
	roleKey   contextKeyType = "role"
)

// Identity headers trusted when bearer-token auth is disabled.
const (
	UserIDHeader   = "X-User-ID"
	UserRoleHeader = "X-User-Role"
)

// Claims represents the identity extracted from a bearer token.
type Claims struct {
	UserID string
	Email  string
	Role   string
}

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator func(token string) (*Claims, error)

type providerClaims struct {
	Email       string         `json:"email"`
	Role        string         `json:"role"`
	AppMetadata map[string]any `json:"app_metadata"`
	jwt.RegisteredClaims
}

// JWTValidator verifies HS256 tokens signed by the auth provider. The user id
// is the "sub" claim; the role comes from app_metadata.role, then role.
func JWTValidator(secret string) TokenValidator {
	key := []byte(secret)
	return func(tokenString string) (*Claims, error) {
		var pc providerClaims
		token, err := jwt.ParseWithClaims(tokenString, &pc, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			return nil, fmt.Errorf("parse token: %w", err)
		}
		if !token.Valid {
			return nil, errors.New("token is not valid")
		}
		if pc.Subject == "" {
			return nil, errors.New("token has no subject")
		}

		role := pc.Role
		if r, ok := pc.AppMetadata["role"].(string); ok && r != "" {
			role = r
		}
		return &Claims{UserID: pc.Subject, Email: pc.Email, Role: role}, nil
	}
}

// Auth middleware validates bearer tokens and injects user claims into context.
func Auth(validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, r, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
				writeAuthError(w, r, "invalid authorization header format")
				return
			}

			claims, err := validate(parts[1])
			if err != nil {
				logger.FromContext(r.Context()).DebugContext(r.Context(), "token rejected", "error", err)
				writeAuthError(w, r, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), claims.UserID, claims.Role)))
		})
	}
}

// HeaderAuth trusts the X-User-ID and X-User-Role headers. It is meant for
// local development only, when no token secret is configured.
func HeaderAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
			if userID == "" {
				writeAuthError(w, r, "missing "+UserIDHeader+" header")
				return
			}
			role := strings.TrimSpace(r.Header.Get(UserRoleHeader))
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), userID, role)))
		})
	}
}

// RequireRole middleware checks that the authenticated user has the required role.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	roleSet := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if _, ok := roleSet[role]; !ok {
				httputil.WriteError(w, r, apperrors.Forbidden("insufficient permissions"), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// RoleFromContext extracts the user role from the request context.
func RoleFromContext(ctx context.Context) string {
	if role, ok := ctx.Value(roleKey).(string); ok {
		return role
	}
	return ""
}

// withIdentity stores the caller in ctx and tags the request-scoped logger,
// which RequestLogger built before routing reached the auth group.
func withIdentity(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, roleKey, role)
	ctx = logger.WithUserID(ctx, userID)
	return logger.NewContext(ctx, logger.FromContext(ctx).With(slog.String("user_id", userID)))
}

func writeAuthError(w http.ResponseWriter, r *http.Request, message string) {
	httputil.WriteError(w, r, apperrors.Unauthorized(message), nil)
}
