package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomResolver(t *testing.T) {
	t.Run("registered user ignores the session key", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()
		userID := seedUser(f.ctx, t, f.userStore, visitor)
		resolver := NewRoomResolver(f.chatStore)

		anonymous, err := resolver.Resolve(f.ctx, nil, "key")
		require.Nil(t, err)

		room, err := resolver.Resolve(f.ctx, &Session{UserID: userID}, "key")
		require.Nil(t, err)
		require.NotNil(t, room.UserID)
		assert.Equal(t, userID, *room.UserID)
		assert.NotEqual(t, anonymous.ID, room.ID)
	})

	t.Run("anonymous visitor", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()
		resolver := NewRoomResolver(f.chatStore)

		a, err := resolver.Resolve(f.ctx, nil, "key")
		require.Nil(t, err)
		b, err := resolver.Resolve(f.ctx, nil, "key")
		require.Nil(t, err)
		assert.Equal(t, a.ID, b.ID)
	})

	t.Run("no identity", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()
		resolver := NewRoomResolver(f.chatStore)

		_, err := resolver.Resolve(f.ctx, nil, "")
		require.ErrorIs(t, err, ErrNoIdentity)
	})
}
