package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

type contextKey struct{}

var (
	// ErrUnauthenticated is returned when a request carries no valid token
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden is returned when the caller lacks a required role
	ErrForbidden = errors.New("insufficient permissions")
)

// Identity is the caller extracted from a verified bearer token
type Identity struct {
	User  string
	Email string
	Roles []string
	Token string
}

// HasRole reports whether the identity carries role
func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ─── Auth Middleware ─────────────────────────────────────────

// Middleware verifies HMAC signed JWTs
type Middleware struct {
	secret []byte
	logger *logrus.Logger
}

// NewMiddleware creates a middleware accepting tokens signed with secret
func NewMiddleware(secret string, logger *logrus.Logger) *Middleware {
	return &Middleware{
		secret: []byte(secret),
		logger: logger,
	}
}

// ExtractToken verifies the bearer token and stores the caller's Identity in
// the request context. Requests without an Authorization header pass through
// anonymously; resolvers decide what anonymous callers may see.
func (m *Middleware) ExtractToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			m.logger.Warn("Invalid Authorization header format")
			http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
			return
		}

		identity, err := m.verify(token)
		if err != nil {
			m.logger.WithError(err).Warn("JWT validation failed")
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		m.logger.WithFields(logrus.Fields{
			"user":  identity.User,
			"roles": identity.Roles,
		}).Debug("JWT validated")

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// verify checks signature and expiry and maps the claims to an Identity
func (m *Middleware) verify(raw string) (*Identity, error) {
	if len(m.secret) == 0 {
		return nil, fmt.Errorf("JWT secret is not configured")
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	identity := &Identity{Token: raw, Roles: rolesFromClaims(claims)}
	identity.User, _ = claims["preferred_username"].(string)
	if identity.User == "" {
		identity.User, _ = claims["sub"].(string)
	}
	if identity.User == "" {
		return nil, fmt.Errorf("token carries no user identity")
	}
	identity.Email, _ = claims["email"].(string)
	return identity, nil
}

// rolesFromClaims reads a flat "roles" claim and Keycloak style realm roles
func rolesFromClaims(claims jwt.MapClaims) []string {
	var roles []string
	collect := func(list interface{}) {
		items, _ := list.([]interface{})
		for _, item := range items {
			if role, ok := item.(string); ok {
				roles = append(roles, role)
			}
		}
	}

	collect(claims["roles"])
	if realmAccess, ok := claims["realm_access"].(map[string]interface{}); ok {
		collect(realmAccess["roles"])
	}
	return roles
}

// ─── Context Helpers ────────────────────────────────────────

// WithIdentity returns a copy of ctx carrying identity
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// IdentityFromContext returns the verified caller, or nil for anonymous requests
func IdentityFromContext(ctx context.Context) *Identity {
	identity, _ := ctx.Value(contextKey{}).(*Identity)
	return identity
}

// GetUserFromContext returns the caller's user name or ""
func GetUserFromContext(ctx context.Context) string {
	if identity := IdentityFromContext(ctx); identity != nil {
		return identity.User
	}
	return ""
}

// RequireRole returns nil when the authenticated caller has role
func RequireRole(ctx context.Context, role string) error {
	identity := IdentityFromContext(ctx)
	if identity == nil {
		return ErrUnauthenticated
	}
	if !identity.HasRole(role) {
		return ErrForbidden
	}
	return nil
}
