package core

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SQLiteAuthStore struct {
	tokenExp  time.Duration
	secret    []byte
	userStore UserStore
	db        *sql.DB
}

type AuthOption func(*SQLiteAuthStore)

func WithTokenExp(exp time.Duration) AuthOption {
	return func(a *SQLiteAuthStore) {
		a.tokenExp = exp
	}
}

func NewSQLiteAuthStore(db *sql.DB, userStore UserStore, secret []byte, opts ...AuthOption) *SQLiteAuthStore {
	auth := &SQLiteAuthStore{
		tokenExp:  time.Hour * 24,
		secret:    secret,
		userStore: userStore,
		db:        db,
	}
	for _, opt := range opts {
		opt(auth)
	}
	return auth
}

func (a *SQLiteAuthStore) NewSession(ctx context.Context, phone, password string) (*Session, error) {
	user, err := a.userStore.GetUserByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("GetUserByPhone: %w", err)
	}
	if user == nil {
		return nil, ErrBadCredentials
	}

	ok, err := a.userStore.ComparePassword(ctx, phone, password)
	if err != nil {
		return nil, fmt.Errorf("ComparePassword: %w", err)
	}
	if !ok {
		return nil, ErrBadCredentials
	}

	token, exp, err := NewToken(*user, a.tokenExp, a.secret)
	if err != nil {
		return nil, fmt.Errorf("NewToken: %w", err)
	}

	return &Session{
		UserID:    user.ID,
		Phone:     user.Phone,
		Name:      user.Name,
		IsStaff:   user.IsStaff,
		Token:     token,
		ExpiresAt: exp,
	}, nil
}

func (a *SQLiteAuthStore) DestroySession(ctx context.Context, session Session) error {
	_, err := a.db.ExecContext(ctx,
		"INSERT INTO blacklists (token) VALUES (@token) ON CONFLICT DO NOTHING",
		sql.Named("token", session.Token))
	if err != nil {
		return fmt.Errorf("ExecContext(blacklist token): %w", err)
	}
	return nil
}

func (a *SQLiteAuthStore) isBlacklisted(ctx context.Context, token string) (bool, error) {
	row := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM blacklists WHERE token = @token", sql.Named("token", token))
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("scanning count: %w", err)
	}
	return count > 0, nil
}

func (a *SQLiteAuthStore) Session(ctx context.Context, token string) (*Session, error) {
	claims, err := VerifyToken(token, a.secret)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	blacklisted, err := a.isBlacklisted(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("isBlacklisted: %w", err)
	}
	if blacklisted {
		return nil, ErrUnauthenticated
	}

	user, err := a.userStore.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("GetUserByID: %w", err)
	}
	if user == nil {
		return nil, ErrUnauthenticated
	}

	session := &Session{
		UserID:  user.ID,
		Phone:   user.Phone,
		Name:    user.Name,
		IsStaff: user.IsStaff,
		Token:   token,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}

	return session, nil
}
