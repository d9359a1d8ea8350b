package core

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Group event types carried through the broker.
const (
	EventChatMessage = "chat.message"
	EventChatTyping  = "chat.typing"
	EventChatClear   = "chat.clear"
	EventChatDeleted = "chat.deleted"
	EventAgentNotify = "agent.notify"
)

// AgentGroup aggregates notifications across every room for staff dashboards.
const AgentGroup = "chat.agents"

func RoomGroup(roomID int64) string {
	return fmt.Sprintf("chat.room.%d", roomID)
}

// RoomInfo identifies a deleted room to the staff feed.
type RoomInfo struct {
	ID         int64  `json:"id"`
	GuestName  string `json:"guest_name"`
	UserPhone  string `json:"user_phone"`
	SessionKey string `json:"session_key"`
}

// GroupEvent is what travels through a broadcast group. Origin is the id of
// the connection that produced the event, if any.
type GroupEvent struct {
	Type     string       `json:"type"`
	RoomID   int64        `json:"room_id,omitempty"`
	Message  *MessageView `json:"message,omitempty"`
	SenderID *int64       `json:"sender_id"`
	Role     Role         `json:"role,omitempty"`
	Status   string       `json:"status,omitempty"`
	Origin   string       `json:"origin,omitempty"`
	RoomInfo *RoomInfo    `json:"room_info,omitempty"`
}

func (e GroupEvent) String() string {
	return fmt.Sprintf("GroupEvent{Type: %s, RoomID: %d, Origin: %s}", e.Type, e.RoomID, e.Origin)
}

// MessageView is the wire rendering of a message.
type MessageView struct {
	ID        int64   `json:"id"`
	Role      Role    `json:"role"`
	Content   string  `json:"content"`
	CreatedAt string  `json:"created_at"`
	Sender    *string `json:"sender"`
}

func NewMessageView(m Message) MessageView {
	return MessageView{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.Format(time.RFC3339Nano),
		Sender:    m.Sender,
	}
}

func NewMessageViews(messages []Message) []MessageView {
	views := make([]MessageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, NewMessageView(m))
	}
	return views
}

// Outbound frame types.
const (
	FrameHistory     = "history"
	FrameMessage     = "message"
	FrameTyping      = "typing"
	FrameError       = "error"
	FrameClear       = "clear"
	FrameChatDeleted = "chat_deleted"
	FrameNotify      = "notify"
	FrameRooms       = "rooms"
)

const (
	TypingStart = "start"
	TypingStop  = "stop"
)

type HistoryFrame struct {
	Type     string        `json:"type"`
	Messages []MessageView `json:"messages"`
	RoomID   int64         `json:"room_id"`
}

type MessageFrame struct {
	Type    string      `json:"type"`
	Message MessageView `json:"message"`
}

type TypingFrame struct {
	Type   string `json:"type"`
	User   Role   `json:"user"`
	Status string `json:"status"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ClearFrame struct {
	Type string `json:"type"`
}

type ChatDeletedFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type FeedDeletedFrame struct {
	Type     string     `json:"type"`
	RoomID   int64      `json:"room_id"`
	RoomInfo *RoomInfo  `json:"room_info"`
	Rooms    []FeedRoom `json:"rooms"`
}

type NotifyFrame struct {
	Type    string      `json:"type"`
	RoomID  int64       `json:"room_id"`
	Message MessageView `json:"message"`
}

type RoomsFrame struct {
	Type  string     `json:"type"`
	Rooms []FeedRoom `json:"rooms"`
}

// FeedRoom is one entry of the staff feed snapshot.
type FeedRoom struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Last            string `json:"last"`
	LastAt          string `json:"last_at"`
	Count           int    `json:"count"`
	Unread          bool   `json:"unread"`
	UnreadCount     int    `json:"unread_count"`
	IsAuthenticated bool   `json:"is_authenticated"`
	Contact         string `json:"contact"`
}

func NewFeedRoom(s RoomSummary) FeedRoom {
	fr := FeedRoom{
		ID:              s.ID,
		Title:           s.DisplayName(),
		LastAt:          s.UpdatedAt.Format(time.RFC3339Nano),
		Count:           s.MessageCount,
		Unread:          s.UnreadCount > 0,
		UnreadCount:     s.UnreadCount,
		IsAuthenticated: s.IsRegistered(),
		Contact:         s.GuestContact,
	}
	if s.LastMessage != nil {
		fr.Last = *s.LastMessage
	}
	if s.LastAt != nil {
		fr.LastAt = s.LastAt.Format(time.RFC3339Nano)
	}
	if fr.Contact == "" {
		fr.Contact = s.UserPhone
	}
	return fr
}

// InboundFrame is what clients send over the socket.
type InboundFrame struct {
	Message string `json:"message"`
	Name    string `json:"name"`
	Contact string `json:"contact"`
	Subject string `json:"subject"`
	Type    string `json:"type"`
	Status  string `json:"status"`
}

func (f *InboundFrame) Trim() {
	f.Message = strings.TrimSpace(f.Message)
	f.Name = strings.TrimSpace(f.Name)
	f.Contact = strings.TrimSpace(f.Contact)
	f.Subject = strings.TrimSpace(f.Subject)
	f.Type = strings.TrimSpace(f.Type)
	f.Status = strings.TrimSpace(f.Status)
}

func (f *InboundFrame) IsTyping() bool {
	return f.Type == "typing"
}

// TypingStatus normalizes the status to start or stop. Anything but an
// explicit start, including a missing status, is a stop.
func (f *InboundFrame) TypingStatus() string {
	if f.Status == TypingStart {
		return TypingStart
	}
	return TypingStop
}

func DecodeEvent(r io.Reader, e any) error {
	if err := json.NewDecoder(r).Decode(e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}
