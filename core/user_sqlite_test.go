package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser(t *testing.T) {
	t.Run("create and read back", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()

		id := seedUser(f.ctx, t, f.userStore, staff)

		user, err := f.userStore.GetUserByID(f.ctx, id)
		require.Nil(t, err)
		require.NotNil(t, user)
		assert.Equal(t, staff.Phone, user.Phone)
		assert.Equal(t, staff.Name, user.Name)
		assert.True(t, user.IsStaff)
		assert.False(t, user.IsBlocked)

		byPhone, err := f.userStore.GetUserByPhone(f.ctx, staff.Phone)
		require.Nil(t, err)
		assert.Equal(t, id, byPhone.ID)
	})

	t.Run("conflict", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()
		seedUser(f.ctx, t, f.userStore, staff)

		_, err := f.userStore.CreateUser(f.ctx, staff)
		assert.Equal(t, ErrConflictedUser, err)
	})

	t.Run("invalid", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()

		_, err := f.userStore.CreateUser(f.ctx, User{Phone: "0912", Password: "123"})
		assert.Equal(t, ErrInvalidUser, err)
	})

	t.Run("missing user", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()

		user, err := f.userStore.GetUserByPhone(f.ctx, "nobody")
		require.Nil(t, err)
		assert.Nil(t, user)
	})
}

func TestComparePassword(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()
	seedUser(f.ctx, t, f.userStore, visitor)

	ok, err := f.userStore.ComparePassword(f.ctx, visitor.Phone, visitor.Password)
	require.Nil(t, err)
	assert.True(t, ok)

	ok, err = f.userStore.ComparePassword(f.ctx, visitor.Phone, "wrong-password")
	require.Nil(t, err)
	assert.False(t, ok)

	ok, err = f.userStore.ComparePassword(f.ctx, "nobody", visitor.Password)
	require.Nil(t, err)
	assert.False(t, ok)
}

func TestGetUsers(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()
	seedUser(f.ctx, t, f.userStore, visitor)
	seedUser(f.ctx, t, f.userStore, staff)
	seedUser(f.ctx, t, f.userStore, staff2)

	users, err := f.userStore.GetUsers(f.ctx, nil)
	require.Nil(t, err)
	assert.Len(t, users, 3)

	users, err = f.userStore.GetUsers(f.ctx, &GetUsersOptions{StaffOnly: true})
	require.Nil(t, err)
	assert.Len(t, users, 2)

	users, err = f.userStore.GetUsers(f.ctx, &GetUsersOptions{Q: "Other"})
	require.Nil(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, staff2.Phone, users[0].Phone)

	users, err = f.userStore.GetUsers(f.ctx, &GetUsersOptions{Limit: 1, Offset: 1})
	require.Nil(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, staff.Phone, users[0].Phone)
}
