package core

import (
	"context"
	"fmt"
)

// RoomResolver maps an inbound identity to the one room the visitor sees.
// Registered users and anonymous sessions are resolved along two disjoint
// paths, so an anonymous room is not carried over once the visitor signs in.
type RoomResolver struct {
	chatStore ChatStore
}

func NewRoomResolver(chatStore ChatStore) *RoomResolver {
	return &RoomResolver{chatStore: chatStore}
}

func (r *RoomResolver) Resolve(ctx context.Context, principal *Session, sessionKey string) (*Room, error) {
	if principal != nil && principal.UserID != 0 {
		room, err := r.chatStore.GetOrCreateUserRoom(ctx, principal.UserID)
		if err != nil {
			return nil, fmt.Errorf("GetOrCreateUserRoom(%d): %w", principal.UserID, err)
		}
		return room, nil
	}

	if sessionKey == "" {
		return nil, ErrNoIdentity
	}

	room, err := r.chatStore.GetOrCreateSessionRoom(ctx, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("GetOrCreateSessionRoom: %w", err)
	}
	return room, nil
}
