package core

import (
	"context"
	"errors"
	"time"
)

type User struct {
	Name     string `json:"name"`
	Phone    string `json:"phone" validate:"required,min=4,max=32"`
	Password string `json:"password" validate:"required,min=6"`
	IsStaff  bool   `json:"is_staff"`
}

type UserWithoutSecrets struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	IsStaff   bool      `json:"is_staff"`
	IsBlocked bool      `json:"is_blocked"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrConflictedUser = errors.New("user already exists")
)

type GetUsersOptions struct {
	Limit     int
	Offset    int
	Q         string
	StaffOnly bool
}

type UserStore interface {
	// CreateUser creates a new user and returns its id.
	// If the phone number is already taken ErrConflictedUser is returned.
	CreateUser(ctx context.Context, user User) (int64, error)

	// GetUserByPhone returns nil if no user is found.
	GetUserByPhone(ctx context.Context, phone string) (*UserWithoutSecrets, error)

	// GetUserByID returns nil if no user is found.
	GetUserByID(ctx context.Context, id int64) (*UserWithoutSecrets, error)

	ComparePassword(ctx context.Context, phone, password string) (bool, error)

	GetUsers(ctx context.Context, opts *GetUsersOptions) ([]UserWithoutSecrets, error)
}
