package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken(t *testing.T) {
	secret := []byte("secret")
	user := UserWithoutSecrets{ID: 7, Phone: "09121234567", Name: "User"}

	t.Run("valid token", func(t *testing.T) {
		before := time.Now()
		token, expiresAt, err := NewToken(user, time.Hour, secret)
		require.Nil(t, err)
		require.NotEmpty(t, token)
		require.True(t, expiresAt.After(before.Add(time.Hour-time.Second)))

		claims, err := VerifyToken(token, secret)
		require.Nil(t, err)
		assert.Equal(t, user.ID, claims.UserID)
		assert.Equal(t, user.Phone, claims.Phone)
		assert.Equal(t, "pharmadesk", claims.Issuer)
	})

	t.Run("expired token", func(t *testing.T) {
		token, _, err := NewToken(user, -time.Minute, secret)
		require.Nil(t, err)

		_, err = VerifyToken(token, secret)
		assert.Equal(t, ErrTokenExpired, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, _, err := NewToken(user, time.Hour, secret)
		require.Nil(t, err)

		_, err = VerifyToken(token, []byte("other"))
		assert.Equal(t, ErrTokenInvalid, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := VerifyToken("not-a-token", secret)
		assert.Equal(t, ErrTokenInvalid, err)
	})
}
