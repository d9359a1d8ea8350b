package core

import (
	"context"
	"errors"
	"time"
)

// Session is an authenticated principal. The staff and blocked flags are
// read from the user record every time the session is resolved.
type Session struct {
	UserID    int64     `json:"user_id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	IsStaff   bool      `json:"is_staff"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

var (
	ErrBadCredentials  = errors.New("invalid credentials")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnauthorized    = errors.New("unauthorized")
)

type AuthStore interface {
	NewSession(ctx context.Context, phone, password string) (sesion *Session, err error)

	DestroySession(ctx context.Context, session Session) error

	// Session resolves a token into a session.
	// ErrUnauthenticated is returned for invalid, expired or revoked tokens.
	Session(ctx context.Context, token string) (payload *Session, err error)
}
