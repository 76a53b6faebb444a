// Package middleware provides HTTP middleware for the raffle API.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/R3E-Network/raffle_layer/internal/httputil"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

// Roles carried in the "role" claim.
const (
	RoleOperator = "operator"
	RoleOracle   = "oracle"
)

type contextKey string

const (
	subjectKey contextKey = "auth_subject"
	roleKey    contextKey = "auth_role"
)

// ErrAuthDisabled is returned by Issue when no signing secret is configured.
var ErrAuthDisabled = errors.New("auth secret not configured")

// Claims are the JWT claims accepted by the API.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator validates HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	log    *logger.Logger
}

// NewAuthenticator creates an authenticator. With an empty secret every
// protected route answers 401.
func NewAuthenticator(secret string, log *logger.Logger) *Authenticator {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &Authenticator{secret: []byte(secret), log: log}
}

// Enabled reports whether tokens can be validated.
func (a *Authenticator) Enabled() bool { return len(a.secret) > 0 }

// Issue signs a token for subject with the given role.
func (a *Authenticator) Issue(subject, role string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", ErrAuthDisabled
	}
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Require only admits requests whose token carries one of roles.
func (a *Authenticator) Require(roles ...string) mux.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := a.authenticate(r)
			if err != nil {
				a.log.WithError(err).WithField("path", r.URL.Path).Warn("authentication failed")
				httputil.WriteError(w, http.StatusUnauthorized, "unauthorized", err.Error(), nil)
				return
			}
			if !allowed[claims.Role] {
				a.log.WithField("subject", claims.Subject).WithField("role", claims.Role).
					WithField("path", r.URL.Path).Warn("role not permitted")
				httputil.WriteError(w, http.StatusForbidden, "forbidden", "role not permitted", nil)
				return
			}
			ctx := context.WithValue(r.Context(), subjectKey, claims.Subject)
			ctx = context.WithValue(ctx, roleKey, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) authenticate(r *http.Request) (*Claims, error) {
	if !a.Enabled() {
		return nil, ErrAuthDisabled
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, errors.New("missing Authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, errors.New("invalid Authorization header format")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(parts[1]), claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Subject returns the authenticated subject, if any.
func Subject(ctx context.Context) string {
	v, _ := ctx.Value(subjectKey).(string)
	return v
}

// Role returns the authenticated role, if any.
func Role(ctx context.Context) string {
	v, _ := ctx.Value(roleKey).(string)
	return v
}
