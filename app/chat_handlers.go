package pharmadesk

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/putto11262002/pharmadesk/core"
	"github.com/putto11262002/pharmadesk/pkg/router"
)

const (
	roomListSize     = 50
	roomMessagesSize = 100
	noMessageText    = "بدون پیام"
)

// ChatHandler serves the staff control plane of the support chat.
type ChatHandler struct {
	chatStore core.ChatStore
	support   *core.Support
}

func NewChatHandler(chatStore core.ChatStore, support *core.Support) *ChatHandler {
	return &ChatHandler{chatStore: chatStore, support: support}
}

func roomIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("roomID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, router.NewJsonError(http.StatusBadRequest, "invalid room id")
	}
	return id, nil
}

func clockTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Local().Format("15:04")
}

type RoomListItem struct {
	ID           int64  `json:"id"`
	UserName     string `json:"user_name"`
	UserType     string `json:"user_type"`
	LastMessage  string `json:"last_message"`
	UnreadCount  int    `json:"unread_count"`
	UpdatedAt    string `json:"updated_at"`
	Online       bool   `json:"online"`
	GuestSubject string `json:"guest_subject"`
	IsBlocked    bool   `json:"is_blocked"`
}

func (h *ChatHandler) ListRoomsHandler(w http.ResponseWriter, r *http.Request) error {
	summaries, err := h.chatStore.ListRooms(r.Context(), roomListSize)
	if err != nil {
		return fmt.Errorf("ListRooms: %w", err)
	}

	rooms := make([]RoomListItem, 0, len(summaries))
	for _, s := range summaries {
		item := RoomListItem{
			ID:           s.ID,
			UserName:     s.DisplayName(),
			UserType:     s.UserType(),
			LastMessage:  noMessageText,
			UnreadCount:  s.UnreadCount,
			UpdatedAt:    clockTime(s.LastAt),
			Online:       s.IsActive,
			GuestSubject: s.GuestSubject,
			IsBlocked:    s.Blocked(),
		}
		if s.LastMessage != nil {
			item.LastMessage = *s.LastMessage
		}
		rooms = append(rooms, item)
	}
	return router.JSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

type MessageItem struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	Content   string    `json:"content"`
	Sender    core.Role `json:"sender"`
	Timestamp string    `json:"timestamp"`
	CreatedAt string    `json:"created_at"`
}

type RoomDetail struct {
	ID           int64  `json:"id"`
	UserName     string `json:"user_name"`
	UserType     string `json:"user_type"`
	IsBlocked    bool   `json:"is_blocked"`
	GuestContact string `json:"guest_contact"`
	GuestSubject string `json:"guest_subject"`
}

func (h *ChatHandler) lookupRoom(r *http.Request) (*core.Room, error) {
	id, err := roomIDParam(r)
	if err != nil {
		return nil, err
	}
	room, err := h.chatStore.GetRoomByID(r.Context(), id)
	if err != nil {
		return nil, fmt.Errorf("GetRoomByID(%d): %w", id, err)
	}
	if room == nil {
		return nil, core.ErrInvalidRoom
	}
	return room, nil
}

func (h *ChatHandler) RoomMessagesHandler(w http.ResponseWriter, r *http.Request) error {
	room, err := h.lookupRoom(r)
	if err != nil {
		return err
	}

	messages, err := h.chatStore.RoomMessages(r.Context(), room.ID, roomMessagesSize)
	if err != nil {
		return fmt.Errorf("RoomMessages(%d): %w", room.ID, err)
	}

	items := make([]MessageItem, 0, len(messages))
	for _, m := range messages {
		items = append(items, MessageItem{
			ID:        m.ID,
			Message:   m.Content,
			Content:   m.Content,
			Sender:    m.Role,
			Timestamp: clockTime(&m.CreatedAt),
			CreatedAt: m.CreatedAt.Format(time.RFC3339Nano),
		})
	}

	return router.JSON(w, http.StatusOK, map[string]any{
		"messages": items,
		"room": RoomDetail{
			ID:           room.ID,
			UserName:     room.DisplayName(),
			UserType:     room.UserType(),
			IsBlocked:    room.Blocked(),
			GuestContact: room.GuestContact,
			GuestSubject: room.GuestSubject,
		},
	})
}

func (h *ChatHandler) ClearRoomHandler(w http.ResponseWriter, r *http.Request) error {
	id, err := roomIDParam(r)
	if err != nil {
		return err
	}

	n, err := h.support.ClearRoom(r.Context(), id)
	if err != nil {
		return err
	}

	return router.JSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       fmt.Sprintf("%d پیام حذف شد", n),
		"deleted_count": n,
	})
}

func (h *ChatHandler) DeleteRoomHandler(w http.ResponseWriter, r *http.Request) error {
	id, err := roomIDParam(r)
	if err != nil {
		return err
	}

	_, n, err := h.support.DeleteRoom(r.Context(), id)
	if err != nil {
		return err
	}

	return router.JSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"message":          fmt.Sprintf("چت با %d پیام حذف شد", n),
		"deleted_messages": n,
		"room_id":          id,
	})
}

// blockedName is how the block endpoints refer to the visitor.
func blockedName(room *core.Room) (userType, name string) {
	if room.IsRegistered() {
		return "registered user", room.UserPhone
	}
	if room.GuestName != "" {
		return "guest", room.GuestName
	}
	return "guest", "Session " + room.SessionPrefix()
}

func (h *ChatHandler) setBlocked(w http.ResponseWriter, r *http.Request, blocked bool) error {
	id, err := roomIDParam(r)
	if err != nil {
		return err
	}

	room, err := h.support.SetBlocked(r.Context(), id, blocked)
	if err != nil {
		return err
	}

	userType, name := blockedName(room)
	verb := "آزاد شد"
	if blocked {
		verb = "مسدود شد"
	}
	return router.JSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   fmt.Sprintf("کاربر %s %s", name, verb),
		"user_type": userType,
		"user_name": name,
	})
}

func (h *ChatHandler) BlockHandler(w http.ResponseWriter, r *http.Request) error {
	return h.setBlocked(w, r, true)
}

func (h *ChatHandler) UnblockHandler(w http.ResponseWriter, r *http.Request) error {
	return h.setBlocked(w, r, false)
}
