package core

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Role tags who authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

const (
	maxGuestName    = 120
	maxGuestContact = 255
	maxGuestSubject = 200
	// subject length kept when it is folded into the guest name
	maxNameSubject = 80
)

// Room is one visitor-to-staff conversation.
// A room is owned either by a registered user or by an anonymous session key.
type Room struct {
	ID           int64     `json:"id"`
	UserID       *int64    `json:"user_id"`
	SessionKey   string    `json:"session_key"`
	GuestName    string    `json:"guest_name"`
	GuestContact string    `json:"guest_contact"`
	GuestSubject string    `json:"guest_subject"`
	IsActive     bool      `json:"is_active"`
	IsBlocked    bool      `json:"is_blocked"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// UserPhone and UserBlocked are read from the owning user, if any.
	UserPhone   string `json:"user_phone"`
	UserBlocked bool   `json:"-"`
}

func (r *Room) IsRegistered() bool {
	return r.UserID != nil
}

// Blocked reports whether the visitor may not post, either because the room
// or the owning account is blocked.
func (r *Room) Blocked() bool {
	return r.IsBlocked || r.UserBlocked
}

func (r *Room) DisplayName() string {
	if r.IsRegistered() {
		return r.UserPhone + " (عضو)"
	}
	if r.GuestName != "" {
		if r.GuestSubject != "" && !strings.Contains(r.GuestName, " - ") {
			return r.GuestName + " - " + r.GuestSubject
		}
		return r.GuestName
	}
	return "مهمان (" + r.SessionPrefix() + ")"
}

// SessionPrefix is the short form of the session key shown to staff.
func (r *Room) SessionPrefix() string {
	return truncate(r.SessionKey, sessionPrefixLen)
}

// UserType is "registered" or "guest".
func (r *Room) UserType() string {
	if r.IsRegistered() {
		return "registered"
	}
	return "guest"
}

// Message is a single chat message in a room.
type Message struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"room_id"`
	Role      Role      `json:"role"`
	SenderID  *int64    `json:"sender_id"`
	Sender    *string   `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	IsRead    bool      `json:"is_read"`
}

// RoomSummary is a room annotated with its latest message and counters.
type RoomSummary struct {
	Room
	LastMessage  *string    `json:"last_message"`
	LastAt       *time.Time `json:"last_at"`
	MessageCount int        `json:"message_count"`
	UnreadCount  int        `json:"unread_count"`
}

// GuestInfo holds the visitor supplied profile hints.
type GuestInfo struct {
	Name    string
	Contact string
	Subject string
}

func (g GuestInfo) Empty() bool {
	return g.Name == "" && g.Contact == "" && g.Subject == ""
}

type MessageCreateInput struct {
	RoomID   int64  `validate:"required"`
	Role     Role   `validate:"required,oneof=user agent"`
	SenderID *int64
	Content  string `validate:"required"`
}

func (m MessageCreateInput) Validate() error {
	return validate.Struct(m)
}

var (
	// ErrInvalidUser is returned when a user is not found or is invalid.
	ErrInvalidUser = errors.New("invalid user")
	// ErrInvalidRoom is returned when a room does not exist.
	ErrInvalidRoom = errors.New("invalid room")
	// ErrInvalidMessage is returned when a message fails validation.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrRoomBlocked is returned when a blocked visitor tries to post.
	ErrRoomBlocked = errors.New("room is blocked")
	// ErrNoIdentity is returned when a connection carries neither a user nor a session key.
	ErrNoIdentity = errors.New("no user or session identity")
)

type ChatStore interface {
	// GetOrCreateUserRoom returns the room owned by the user, creating it if it does not exist.
	// Concurrent callers for the same user always observe the same room.
	GetOrCreateUserRoom(ctx context.Context, userID int64) (*Room, error)

	// GetOrCreateSessionRoom returns the room owned by the anonymous session key,
	// creating it if it does not exist.
	GetOrCreateSessionRoom(ctx context.Context, sessionKey string) (*Room, error)

	// GetRoomByID returns nil if the room does not exist.
	GetRoomByID(ctx context.Context, id int64) (*Room, error)

	// UpdateGuestInfo merges the guest hints into the room and reports whether anything changed.
	// If the room does not exist ErrInvalidRoom is returned.
	UpdateGuestInfo(ctx context.Context, roomID int64, info GuestInfo) (bool, error)

	// CreateMessage persists the message and bumps the room's updated_at.
	// If the room does not exist ErrInvalidRoom is returned.
	CreateMessage(ctx context.Context, input MessageCreateInput) (*Message, error)

	// RecentMessages returns the last n messages of the room, oldest first.
	RecentMessages(ctx context.Context, roomID int64, n int) ([]Message, error)

	// RoomMessages returns the first n messages of the room, oldest first.
	RoomMessages(ctx context.Context, roomID int64, n int) ([]Message, error)

	// MarkRoomRead marks every unread visitor message in the room as read
	// and returns how many were flipped.
	MarkRoomRead(ctx context.Context, roomID int64) (int64, error)

	// UnreadCount counts unread visitor messages in the room.
	UnreadCount(ctx context.Context, roomID int64) (int, error)

	// ClearMessages deletes every message in the room and returns how many were deleted.
	ClearMessages(ctx context.Context, roomID int64) (int64, error)

	// DeleteRoom deletes the room together with its messages and returns how
	// many messages went with it. If the room does not exist ErrInvalidRoom is returned.
	DeleteRoom(ctx context.Context, roomID int64) (int64, error)

	// SetBlocked sets the blocked flag on the room and on its registered owner, if any.
	// It returns the updated room or ErrInvalidRoom.
	SetBlocked(ctx context.Context, roomID int64, blocked bool) (*Room, error)

	// ListRooms returns up to n rooms ordered by most recently updated.
	ListRooms(ctx context.Context, n int) ([]RoomSummary, error)

	// DeactivateIdleRooms clears is_active on active rooms not updated since before.
	DeactivateIdleRooms(ctx context.Context, before time.Time) (int64, error)
}

const sessionPrefixLen = 8

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
