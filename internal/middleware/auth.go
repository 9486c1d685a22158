// Package middleware provides the HTTP middleware chain: authentication,
// request logging and metrics.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	svcerr "github.com/R3E-Network/credential_layer/internal/errors"
	"github.com/R3E-Network/credential_layer/internal/httputil"
	"github.com/R3E-Network/credential_layer/internal/logging"
)

// Claims are the JWT claims the boundary layer trusts. UserID becomes the
// opaque caller identity the engine receives.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Auth validates bearer tokens and injects the caller identity into the
// request context.
type Auth struct {
	secret    []byte
	logger    *logging.Logger
	skipPaths map[string]bool
}

// NewAuth creates the authentication middleware. skipPaths are served
// unauthenticated (health, metrics).
func NewAuth(secret []byte, logger *logging.Logger, skipPaths []string) *Auth {
	skip := make(map[string]bool, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = true
	}
	if logger == nil {
		logger = logging.NewDefault("auth")
	}
	return &Auth{secret: secret, logger: logger, skipPaths: skip}
}

// Handler returns the middleware handler.
func (m *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondError(w, r, svcerr.Unauthorized("missing Authorization header"))
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || scheme != "Bearer" {
			m.respondError(w, r, svcerr.Unauthorized("Authorization header must be a Bearer token"))
			return
		}

		claims, err := m.validateToken(token)
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("token validation failed")
			m.respondError(w, r, err)
			return
		}

		ctx := logging.WithUserID(r.Context(), claims.UserID)
		if claims.Role != "" {
			ctx = logging.WithRole(ctx, claims.Role)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Auth) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, svcerr.Unauthorized("unexpected token signing method").
				WithDetails("method", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, svcerr.Unauthorized("invalid token")
	}
	if !token.Valid {
		return nil, svcerr.Unauthorized("invalid token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID == "" {
		return nil, svcerr.Unauthorized("token carries no user identity")
	}
	return claims, nil
}

func (m *Auth) respondError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.WriteError(w, err)
	m.logger.WithContext(r.Context()).WithError(err).WithFields(map[string]any{
		"path":   r.URL.Path,
		"method": r.Method,
	}).Warn("authentication failed")
}

// UserID extracts the authenticated user id from the request context.
func UserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}
