// Package auth issues and verifies the HS256 bearer tokens that identify API
// callers. The subject is the acting user; the role decides which endpoints
// the caller may reach.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"docpipe/internal/config"
	"docpipe/internal/services"
)

// Role is a caller class.
type Role string

const (
	RoleUser   Role = "user"
	RoleAdmin  Role = "admin"
	RoleWorker Role = "worker"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin || r == RoleWorker
}

// Claims are the JWT claims carried by every token.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Role   Role
}

// Admin reports whether the caller bypasses document grants.
func (i Identity) Admin() bool { return i.Role == RoleAdmin }

// Issuer signs and verifies tokens with one shared secret.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer builds an Issuer from the auth config section.
func NewIssuer(cfg *config.Config) (*Issuer, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "auth", "init", "config is required", nil)
	}
	secret := strings.TrimSpace(cfg.Auth.JWTSecret)
	if secret == "" {
		return nil, services.Wrap(services.ErrConfiguration, "auth", "init", "jwt_secret is empty", nil)
	}
	return &Issuer{
		secret: []byte(secret),
		issuer: cfg.Auth.Issuer,
		ttl:    cfg.TokenTTL(),
		now:    time.Now,
	}, nil
}

// Issue signs a token for subject with role. A zero ttl uses the configured
// lifetime.
func (i *Issuer) Issue(subject string, role Role, ttl time.Duration) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, services.Invalid("subject", "required")
	}
	if !role.Valid() {
		return "", time.Time{}, services.Invalid("role", "unknown role %q", role)
	}
	if ttl <= 0 {
		ttl = i.ttl
	}
	now := i.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ErrUnauthenticated marks a missing, malformed, or expired token.
var ErrUnauthenticated = errors.New("unauthenticated")

// Parse verifies a signed token and returns the caller identity.
func (i *Issuer) Parse(tokenString string) (Identity, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return Identity{}, fmt.Errorf("%w: token lacks subject or role", ErrUnauthenticated)
	}
	return Identity{UserID: claims.Subject, Role: claims.Role}, nil
}

// FromHeader extracts the token from an "Authorization: Bearer" value.
func FromHeader(header string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("%w: expected bearer token", ErrUnauthenticated)
	}
	return strings.TrimSpace(parts[1]), nil
}
