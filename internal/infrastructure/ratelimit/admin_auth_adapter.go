// admin_auth_adapter.go: Bearer-token guard for the admin endpoints
package ratelimit

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrNotAdmin     = errors.New("token does not carry an admin role")
)

// AdminClaims are the claims an admin token must carry.
type AdminClaims struct {
	UserID string   `json:"user_id"`
	Role   string   `json:"role"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// AdminAuthenticator validates HS256 admin tokens.
type AdminAuthenticator struct {
	secret []byte
	logger *zap.Logger
}

// NewAdminAuthenticator returns nil for an empty secret, which leaves the
// admin endpoints open.
func NewAdminAuthenticator(secret string, logger *zap.Logger) *AdminAuthenticator {
	if secret == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminAuthenticator{secret: []byte(secret), logger: logger.Named("ratelimit-admin-auth")}
}

// ValidateAdminToken parses tokenString and checks that it carries an admin role.
func (a *AdminAuthenticator) ValidateAdminToken(tokenString string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !hasAdminRole(claims.Role, claims.Roles) {
		a.logger.Warn("Non-admin user attempted admin access",
			zap.String("user_id", claims.UserID),
			zap.String("role", claims.Role))
		return claims, ErrNotAdmin
	}
	return claims, nil
}

// Middleware rejects requests without a valid admin bearer token.
func (a *AdminAuthenticator) Middleware(next http.Handler) http.Handler {
	if a == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			a.writeError(w, http.StatusUnauthorized, ErrMissingToken)
			return
		}
		claims, err := a.ValidateAdminToken(token)
		switch {
		case errors.Is(err, ErrNotAdmin):
			a.writeError(w, http.StatusForbidden, err)
			return
		case err != nil:
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}
		a.logger.Info("Admin access granted",
			zap.String("user_id", claims.UserID),
			zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

func (a *AdminAuthenticator) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="flowlimit-admin"`)
	(&AdminAPI{logger: a.logger}).writeErrorResponse(w, status, err.Error())
}

// hasAdminRole checks if the user has admin privileges
func hasAdminRole(role string, roles []string) bool {
	if isAdminRole(role) {
		return true
	}
	for _, r := range roles {
		if isAdminRole(r) {
			return true
		}
	}
	return false
}

// isAdminRole checks if a single role is an admin role
func isAdminRole(role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	return role == "admin" || role == "super_admin" || role == "administrator" || role == "root"
}
