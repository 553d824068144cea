// Package auth carries the caller's session through a context and guards
// procedures by role. Guards fail closed.
package auth

import (
	"context"
	"strings"

	"github.com/bountydotnew/querykit/apperr"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type Session struct {
	UserID string `json:"userId" yaml:"userId"`
	Name   string `json:"name" yaml:"name"`
	Email  string `json:"email" yaml:"email"`
	Role   Role   `json:"role" yaml:"role"`
}

func (s Session) IsAdmin() bool { return s.Role == RoleAdmin }

type ctxKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok && s.UserID != ""
}

// RequireUser returns the session or an Unauthorized error.
func RequireUser(ctx context.Context) (Session, error) {
	s, ok := FromContext(ctx)
	if !ok {
		return Session{}, apperr.Unauthorized("You must be logged in")
	}
	return s, nil
}

// RequireAdmin returns the session of an admin, Unauthorized without a
// session and Forbidden for any other role.
func RequireAdmin(ctx context.Context) (Session, error) {
	s, err := RequireUser(ctx)
	if err != nil {
		return Session{}, err
	}
	if !s.IsAdmin() {
		return Session{}, apperr.Forbidden("Admin access required")
	}
	return s, nil
}

// Resolver maps a bearer token to a session.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Session, error)
}

// StaticResolver is a fixed token table, loaded from configuration.
type StaticResolver map[string]Session

func (r StaticResolver) Resolve(_ context.Context, token string) (Session, error) {
	s, ok := r[token]
	if !ok || token == "" {
		return Session{}, apperr.Unauthorized("invalid session token")
	}
	return s, nil
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(prefix):])
	return tok, tok != ""
}
