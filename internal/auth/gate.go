// Package auth is the single place where bearer credentials are verified
// and role or ownership requirements are enforced.
package auth

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliyamo/event-booking/internal/apperr"
	"github.com/iliyamo/event-booking/internal/model"
)

// Subject is an authenticated identity.
type Subject struct {
	ID   uint64
	Role model.Role
}

// IsAdmin reports whether the subject holds the admin role.
func (s Subject) IsAdmin() bool { return s.Role == model.RoleAdmin }

// Gate validates tokens signed with a shared HMAC secret.
type Gate struct {
	secret []byte
	parser *jwt.Parser
}

// NewGate returns a Gate for the given signing secret.
func NewGate(secret string) *Gate {
	return &Gate{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Authenticate verifies signature and expiry and extracts the subject.
// Every failure is reported as apperr.ErrUnauthenticated.
func (g *Gate) Authenticate(token string) (Subject, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Subject{}, fmt.Errorf("empty token: %w", apperr.ErrUnauthenticated)
	}
	var claims Claims
	tok, err := g.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return g.secret, nil
	})
	if err != nil || !tok.Valid {
		return Subject{}, fmt.Errorf("parse token: %v: %w", err, apperr.ErrUnauthenticated)
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return Subject{}, fmt.Errorf("bad subject %q: %w", claims.Subject, apperr.ErrUnauthenticated)
	}
	role, ok := model.ParseRole(claims.Role)
	if !ok {
		return Subject{}, fmt.Errorf("bad role %q: %w", claims.Role, apperr.ErrUnauthenticated)
	}
	return Subject{ID: id, Role: role}, nil
}

// AuthenticateHeader accepts an Authorization header value.
func (g *Gate) AuthenticateHeader(header string) (Subject, error) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return Subject{}, fmt.Errorf("missing bearer token: %w", apperr.ErrUnauthenticated)
	}
	return g.Authenticate(header[len(prefix):])
}

// Authorize fails with apperr.ErrForbidden unless the subject's role is in
// roles. An empty roles list admits any authenticated subject.
func (g *Gate) Authorize(s Subject, roles ...model.Role) error {
	if len(roles) == 0 {
		return nil
	}
	for _, r := range roles {
		if s.Role == r {
			return nil
		}
	}
	return fmt.Errorf("role %q not permitted: %w", s.Role, apperr.ErrForbidden)
}

// AuthorizeOwner admits the resource's creator and admins.
func (g *Gate) AuthorizeOwner(s Subject, ownerID uint64) error {
	if s.IsAdmin() || (s.ID != 0 && s.ID == ownerID) {
		return nil
	}
	return fmt.Errorf("subject %d does not own resource: %w", s.ID, apperr.ErrForbidden)
}
