package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type SQLiteUserStore struct {
	db *sql.DB
}

func NewSQLiteUserStore(db *sql.DB) *SQLiteUserStore {
	return &SQLiteUserStore{
		db: db,
	}
}

const userColumns = "id, name, phone, is_staff, is_blocked, created_at"

func scanUser(row interface{ Scan(...any) error }) (*UserWithoutSecrets, error) {
	user := new(UserWithoutSecrets)
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Phone,
		&user.IsStaff,
		&user.IsBlocked,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *SQLiteUserStore) CreateUser(ctx context.Context, user User) (int64, error) {
	if err := validate.Struct(user); err != nil {
		return 0, ErrInvalidUser
	}

	eu, err := s.GetUserByPhone(ctx, user.Phone)
	if err != nil {
		return 0, fmt.Errorf("GetUserByPhone: %w", err)
	}

	if eu != nil {
		return 0, ErrConflictedUser
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("bcrypt.GenerateFromPassword: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, phone, password, is_staff, created_at)
		VALUES (@name, @phone, @password, @is_staff, @created_at)`,
		sql.Named("name", user.Name),
		sql.Named("phone", user.Phone),
		sql.Named("password", string(hashed)),
		sql.Named("is_staff", user.IsStaff),
		sql.Named("created_at", time.Now().UTC()),
	)
	if err != nil {
		return 0, fmt.Errorf("ExecContext(insert user): %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("LastInsertId: %w", err)
	}

	return id, nil
}

func (s *SQLiteUserStore) GetUserByPhone(ctx context.Context, phone string) (*UserWithoutSecrets, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE phone = @phone LIMIT 1",
		sql.Named("phone", phone))

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	return user, nil
}

func (s *SQLiteUserStore) GetUserByID(ctx context.Context, id int64) (*UserWithoutSecrets, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = @id LIMIT 1",
		sql.Named("id", id))

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	return user, nil
}

func (s *SQLiteUserStore) ComparePassword(ctx context.Context, phone, password string) (bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT password FROM users WHERE phone = @phone LIMIT 1",
		sql.Named("phone", phone))

	var storedPassword string

	err := row.Scan(&storedPassword)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}

		return false, fmt.Errorf("scanning password: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(storedPassword), []byte(password)); err != nil {
		return false, nil
	}

	return true, nil
}

func (s *SQLiteUserStore) GetUsers(ctx context.Context, options *GetUsersOptions) ([]UserWithoutSecrets, error) {
	if options == nil {
		options = &GetUsersOptions{}
	}

	where := []string{"1 = 1"}
	values := make([]interface{}, 0)

	if options.Q != "" {
		where = append(where, "(phone LIKE @q OR name LIKE @q)")
		values = append(values, sql.Named("q", "%"+options.Q+"%"))
	}
	if options.StaffOnly {
		where = append(where, "is_staff = TRUE")
	}

	limit := options.Limit
	if limit <= 0 {
		limit = 10
	}
	values = append(values, sql.Named("limit", limit), sql.Named("offset", max(options.Offset, 0)))

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE "+strings.Join(where, " AND ")+
			" ORDER BY id LIMIT @limit OFFSET @offset", values...)
	if err != nil {
		return nil, fmt.Errorf("QueryContext(select users): %w", err)
	}
	defer rows.Close()

	users := []UserWithoutSecrets{}

	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *user)
	}

	return users, rows.Err()
}
