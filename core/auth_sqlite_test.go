package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type AuthFixture struct {
	*BaseFixture
	userStore UserStore
	authStore *SQLiteAuthStore
}

func NewAuthFixture(t *testing.T) *AuthFixture {
	base := NewBaseFixture(t)
	userStore := NewSQLiteUserStore(base.db)
	return &AuthFixture{
		BaseFixture: base,
		userStore:   userStore,
		authStore:   NewSQLiteAuthStore(base.db, userStore, secret),
	}
}

var secret = []byte("c2VjcmV0")

func TestNewSession(t *testing.T) {
	t.Run("user does not exist", func(t *testing.T) {
		f := NewAuthFixture(t)
		defer f.tearDown()

		session, err := f.authStore.NewSession(f.ctx, "0000", "random")
		require.Nil(t, session)
		assert.Equal(t, ErrBadCredentials, err)
	})

	t.Run("invalid password", func(t *testing.T) {
		f := NewAuthFixture(t)
		defer f.tearDown()
		seedUser(f.ctx, t, f.userStore, staff)

		session, err := f.authStore.NewSession(f.ctx, staff.Phone, staff.Password+"69")
		require.Nil(t, session)
		assert.Equal(t, ErrBadCredentials, err)
	})

	t.Run("successfully create new session", func(t *testing.T) {
		f := NewAuthFixture(t)
		defer f.tearDown()
		id := seedUser(f.ctx, t, f.userStore, staff)

		session, err := f.authStore.NewSession(f.ctx, staff.Phone, staff.Password)
		require.Nil(t, err)
		require.NotNil(t, session)
		assert.Greater(t, session.ExpiresAt, time.Now())
		assert.Equal(t, id, session.UserID)
		assert.True(t, session.IsStaff)

		claims, err := VerifyToken(session.Token, secret)
		require.Nil(t, err)
		assert.Equal(t, id, claims.UserID)
		assert.Equal(t, staff.Phone, claims.Phone)
	})
}

func TestSession(t *testing.T) {
	t.Run("valid token", func(t *testing.T) {
		f := NewAuthFixture(t)
		defer f.tearDown()
		id := seedUser(f.ctx, t, f.userStore, visitor)
		token, _, err := NewToken(UserWithoutSecrets{ID: id, Phone: visitor.Phone}, time.Hour, secret)
		require.Nil(t, err)

		session, err := f.authStore.Session(f.ctx, token)
		require.Nil(t, err)
		assert.Equal(t, id, session.UserID)
		assert.False(t, session.IsStaff)
		assert.Equal(t, token, session.Token)
	})

	t.Run("expired token", func(t *testing.T) {
		f := NewAuthFixture(t)
		defer f.tearDown()
		id := seedUser(f.ctx, t, f.userStore, visitor)
		token, _, err := NewToken(UserWithoutSecrets{ID: id}, -time.Hour, secret)
		require.Nil(t, err)

		session, err := f.authStore.Session(f.ctx, token)
		require.Nil(t, session)
		assert.Equal(t, ErrUnauthenticated, err)
	})

	t.Run("user was removed", func(t *testing.T) {
		f := NewAuthFixture(t)
		defer f.tearDown()
		token, _, err := NewToken(UserWithoutSecrets{ID: 77}, time.Hour, secret)
		require.Nil(t, err)

		session, err := f.authStore.Session(f.ctx, token)
		require.Nil(t, session)
		assert.Equal(t, ErrUnauthenticated, err)
	})
}

func TestDestroySession(t *testing.T) {
	f := NewAuthFixture(t)
	defer f.tearDown()
	seedUser(f.ctx, t, f.userStore, staff)

	session, err := f.authStore.NewSession(f.ctx, staff.Phone, staff.Password)
	require.Nil(t, err)

	_, err = f.authStore.Session(f.ctx, session.Token)
	require.Nil(t, err)

	require.Nil(t, f.authStore.DestroySession(f.ctx, *session))
	// destroying twice is harmless
	require.Nil(t, f.authStore.DestroySession(f.ctx, *session))

	revoked, err := f.authStore.Session(f.ctx, session.Token)
	require.Nil(t, revoked)
	assert.Equal(t, ErrUnauthenticated, err)
}
