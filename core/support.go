package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

const (
	VisitorHistorySize = 30
	AgentHistorySize   = 50
	FeedSnapshotSize   = 50

	blockedText        = "شما توسط پشتیبان مسدود شده‌اید و نمی‌توانید پیام ارسال کنید."
	rateLimitedText    = "تعداد پیام‌ها بیش از حد مجاز است. لطفاً کمی صبر کنید."
	visitorDeletedText = "چت توسط پشتیبانی حذف شد"
	agentDeletedText   = "چت حذف شد"
)

var ErrRateLimited = errors.New("rate limited")

// MessageLimiter throttles visitor messages per key.
type MessageLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// FeedNotifier receives a copy of every staff feed notification,
// e.g. to forward it to an external queue.
type FeedNotifier interface {
	NotifyFeed(ctx context.Context, e *GroupEvent) error
}

// Support implements the support chat: message ingestion for visitors and
// staff, the staff feed and the administrative operations on rooms.
// Database writes always happen before the matching broadcast, and a failed
// broadcast never undoes the write.
type Support struct {
	chatStore ChatStore
	resolver  *RoomResolver
	hub       *Hub
	conns     *ConnManager
	limiter   MessageLimiter
	notifier  FeedNotifier
	logger    *slog.Logger
}

type SupportOption func(*Support)

func WithMessageLimiter(l MessageLimiter) SupportOption {
	return func(s *Support) {
		s.limiter = l
	}
}

func WithFeedNotifier(n FeedNotifier) SupportOption {
	return func(s *Support) {
		s.notifier = n
	}
}

func WithSupportLogger(l *slog.Logger) SupportOption {
	return func(s *Support) {
		s.logger = l
	}
}

func NewSupport(chatStore ChatStore, hub *Hub, conns *ConnManager, opts ...SupportOption) *Support {
	s := &Support{
		chatStore: chatStore,
		resolver:  NewRoomResolver(chatStore),
		hub:       hub,
		conns:     conns,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// broadcast is best effort: failures are logged and swallowed.
func (s *Support) broadcast(ctx context.Context, group string, e *GroupEvent) {
	if err := s.hub.GroupSend(ctx, group, e); err != nil {
		s.logger.Error(fmt.Sprintf("broadcast %s to %s: %v", e.Type, group, err))
	}
}

func (s *Support) notifyFeed(ctx context.Context, e *GroupEvent) {
	s.broadcast(ctx, AgentGroup, e)
	if s.notifier != nil {
		if err := s.notifier.NotifyFeed(ctx, e); err != nil {
			s.logger.Warn(fmt.Sprintf("forward %s: %v", e.Type, err))
		}
	}
}

// PostVisitorMessage stores a visitor message and fans it out to the room and the staff feed.
// ErrRoomBlocked is returned, and nothing is stored or published, when the visitor is blocked.
func (s *Support) PostVisitorMessage(ctx context.Context, roomID int64, principal *Session, content string) (*Message, error) {
	room, err := s.chatStore.GetRoomByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("GetRoomByID: %w", err)
	}
	if room == nil {
		return nil, ErrInvalidRoom
	}
	if room.Blocked() {
		return nil, ErrRoomBlocked
	}

	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, "chat:room:"+strconv.FormatInt(roomID, 10))
		if err != nil {
			s.logger.Warn(fmt.Sprintf("rate limiter: %v", err))
		} else if !ok {
			return nil, ErrRateLimited
		}
	}

	msg, err := s.chatStore.CreateMessage(ctx, MessageCreateInput{
		RoomID:  roomID,
		Role:    RoleUser,
		Content: content,
	})
	if err != nil {
		return nil, err
	}

	var senderID *int64
	if principal != nil && principal.UserID != 0 {
		id := principal.UserID
		senderID = &id
	}

	view := NewMessageView(*msg)
	s.broadcast(ctx, RoomGroup(roomID), &GroupEvent{Type: EventChatMessage, RoomID: roomID, Message: &view})
	s.notifyFeed(ctx, &GroupEvent{Type: EventAgentNotify, RoomID: roomID, Message: &view, SenderID: senderID})
	return msg, nil
}

// PostAgentMessage stores a staff reply. Every unread visitor message in the
// room is marked read as a side effect.
func (s *Support) PostAgentMessage(ctx context.Context, roomID int64, staff Session, content string) (*Message, error) {
	staffID := staff.UserID
	msg, err := s.chatStore.CreateMessage(ctx, MessageCreateInput{
		RoomID:   roomID,
		Role:     RoleAgent,
		SenderID: &staffID,
		Content:  content,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.chatStore.MarkRoomRead(ctx, roomID); err != nil {
		s.logger.Error(fmt.Sprintf("MarkRoomRead(%d): %v", roomID, err))
	}

	view := NewMessageView(*msg)
	s.broadcast(ctx, RoomGroup(roomID), &GroupEvent{Type: EventChatMessage, RoomID: roomID, Message: &view})
	s.notifyFeed(ctx, &GroupEvent{Type: EventAgentNotify, RoomID: roomID, Message: &view, SenderID: &staffID})
	return msg, nil
}

// SendTyping relays an ephemeral typing indicator to the room.
func (s *Support) SendTyping(ctx context.Context, roomID int64, role Role, status, origin string) {
	s.broadcast(ctx, RoomGroup(roomID), &GroupEvent{
		Type:   EventChatTyping,
		RoomID: roomID,
		Role:   role,
		Status: status,
		Origin: origin,
	})
}

func (s *Support) FeedSnapshot(ctx context.Context) ([]FeedRoom, error) {
	summaries, err := s.chatStore.ListRooms(ctx, FeedSnapshotSize)
	if err != nil {
		return nil, fmt.Errorf("ListRooms: %w", err)
	}
	rooms := make([]FeedRoom, 0, len(summaries))
	for _, summary := range summaries {
		rooms = append(rooms, NewFeedRoom(summary))
	}
	return rooms, nil
}

// ClearRoom deletes every message of the room and tells open sockets to wipe their view.
func (s *Support) ClearRoom(ctx context.Context, roomID int64) (int64, error) {
	room, err := s.chatStore.GetRoomByID(ctx, roomID)
	if err != nil {
		return 0, fmt.Errorf("GetRoomByID: %w", err)
	}
	if room == nil {
		return 0, ErrInvalidRoom
	}

	n, err := s.chatStore.ClearMessages(ctx, roomID)
	if err != nil {
		return 0, err
	}

	s.broadcast(ctx, RoomGroup(roomID), &GroupEvent{Type: EventChatClear, RoomID: roomID})
	return n, nil
}

// DeleteRoom deletes the room with its messages and then announces the
// deletion to the room and the staff feed. It returns the deleted room and
// the number of messages removed.
func (s *Support) DeleteRoom(ctx context.Context, roomID int64) (*Room, int64, error) {
	room, err := s.chatStore.GetRoomByID(ctx, roomID)
	if err != nil {
		return nil, 0, fmt.Errorf("GetRoomByID: %w", err)
	}
	if room == nil {
		return nil, 0, ErrInvalidRoom
	}

	info := &RoomInfo{
		ID:         room.ID,
		GuestName:  room.GuestName,
		UserPhone:  room.UserPhone,
		SessionKey: room.SessionKey,
	}
	n, err := s.chatStore.DeleteRoom(ctx, roomID)
	if err != nil {
		return nil, 0, err
	}

	s.broadcast(ctx, RoomGroup(roomID), &GroupEvent{Type: EventChatDeleted, RoomID: roomID, RoomInfo: info})
	s.broadcast(ctx, AgentGroup, &GroupEvent{Type: EventChatDeleted, RoomID: roomID, RoomInfo: info})
	return room, n, nil
}

// SetBlocked blocks or unblocks the visitor of the room.
func (s *Support) SetBlocked(ctx context.Context, roomID int64, blocked bool) (*Room, error) {
	return s.chatStore.SetBlocked(ctx, roomID, blocked)
}

// SweepIdleRooms marks rooms without activity since before as inactive.
func (s *Support) SweepIdleRooms(ctx context.Context, before time.Time) (int64, error) {
	return s.chatStore.DeactivateIdleRooms(ctx, before)
}
