package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
)

// ServeVisitor handles the visitor socket. Registered users and anonymous
// visitors alike are resolved to their room, which is created on first contact.
func (s *Support) ServeVisitor(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromRequest(r)
	visitor, _ := VisitorFromRequest(r)

	room, err := s.resolver.Resolve(r.Context(), principal, visitor.Key)
	if err != nil {
		s.logger.Error(fmt.Sprintf("resolve room: %v", err))
		s.conns.Reject(w, r, websocket.CloseInternalServerErr, "room unavailable")
		return
	}

	header := http.Header{}
	if visitor.Fresh {
		header.Add("Set-Cookie", visitor.Cookie().String())
	}

	c, err := s.conns.Upgrade(w, r, principal, header)
	if err != nil {
		s.logger.Debug(err.Error())
		return
	}

	v := &visitorConsumer{support: s, room: room, sessionKey: visitor.Key}
	s.hub.GroupAdd(RoomGroup(room.ID), c)
	v.sendHistory(r.Context(), c, room.ID)
	s.conns.Serve(c, v)
}

// ServeAgent handles the per-room staff socket.
func (s *Support) ServeAgent(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromRequest(r)
	if principal == nil || !principal.IsStaff {
		s.conns.Reject(w, r, websocket.ClosePolicyViolation, ErrUnauthorized.Error())
		return
	}

	roomID, err := strconv.ParseInt(r.PathValue("roomID"), 10, 64)
	if err != nil || roomID <= 0 {
		s.conns.Reject(w, r, websocket.ClosePolicyViolation, "invalid room id")
		return
	}

	room, err := s.chatStore.GetRoomByID(r.Context(), roomID)
	if err != nil {
		s.logger.Error(fmt.Sprintf("GetRoomByID(%d): %v", roomID, err))
		s.conns.Reject(w, r, websocket.CloseInternalServerErr, "room unavailable")
		return
	}
	if room == nil {
		s.conns.Reject(w, r, CloseRoomNotFound, ErrInvalidRoom.Error())
		return
	}

	c, err := s.conns.Upgrade(w, r, principal, nil)
	if err != nil {
		s.logger.Debug(err.Error())
		return
	}

	a := &agentConsumer{support: s, roomID: roomID, staff: *principal}
	s.hub.GroupAdd(RoomGroup(roomID), c)

	messages, err := s.chatStore.RecentMessages(r.Context(), roomID, AgentHistorySize)
	if err != nil {
		s.logger.Error(fmt.Sprintf("RecentMessages(%d): %v", roomID, err))
	} else {
		c.Send(HistoryFrame{Type: FrameHistory, Messages: NewMessageViews(messages), RoomID: roomID})
	}
	s.conns.Serve(c, a)
}

// ServeFeed handles the staff feed socket.
func (s *Support) ServeFeed(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromRequest(r)
	if principal == nil || !principal.IsStaff {
		s.conns.Reject(w, r, websocket.ClosePolicyViolation, ErrUnauthorized.Error())
		return
	}

	c, err := s.conns.Upgrade(w, r, principal, nil)
	if err != nil {
		s.logger.Debug(err.Error())
		return
	}

	f := &feedConsumer{support: s, staff: *principal}
	s.hub.GroupAdd(AgentGroup, c)

	rooms, err := s.FeedSnapshot(r.Context())
	if err != nil {
		s.logger.Error(err.Error())
	} else {
		c.Send(RoomsFrame{Type: FrameRooms, Rooms: rooms})
	}
	s.conns.Serve(c, f)
}

type visitorConsumer struct {
	support *Support
	// room is nil after the room was deleted by staff; the next message
	// resolves a fresh room.
	room       *Room
	sessionKey string
	mu         sync.Mutex
}

func (v *visitorConsumer) currentRoom() *Room {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.room
}

func (v *visitorConsumer) sendHistory(ctx context.Context, c *Conn, roomID int64) {
	messages, err := v.support.chatStore.RecentMessages(ctx, roomID, VisitorHistorySize)
	if err != nil {
		v.support.logger.Error(fmt.Sprintf("RecentMessages(%d): %v", roomID, err))
		return
	}
	c.Send(HistoryFrame{Type: FrameHistory, Messages: NewMessageViews(messages), RoomID: roomID})
}

// ensureRoom re-resolves the room once the previous one was deleted.
func (v *visitorConsumer) ensureRoom(ctx context.Context, c *Conn) (*Room, error) {
	if room := v.currentRoom(); room != nil {
		return room, nil
	}

	room, err := v.support.resolver.Resolve(ctx, c.Principal(), v.sessionKey)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.room = room
	v.mu.Unlock()
	v.support.hub.GroupAdd(RoomGroup(room.ID), c)
	return room, nil
}

func (v *visitorConsumer) OnMessage(ctx context.Context, c *Conn, in *InboundFrame) error {
	room, err := v.ensureRoom(ctx, c)
	if err != nil {
		return fmt.Errorf("ensureRoom: %w", err)
	}

	info := GuestInfo{Name: in.Name, Contact: in.Contact, Subject: in.Subject}
	if !info.Empty() {
		if _, err := v.support.chatStore.UpdateGuestInfo(ctx, room.ID, info); err != nil {
			v.support.logger.Error(fmt.Sprintf("UpdateGuestInfo(%d): %v", room.ID, err))
		}
	}

	if in.IsTyping() {
		v.support.SendTyping(ctx, room.ID, RoleUser, in.TypingStatus(), c.ID())
		return nil
	}

	if in.Message == "" {
		return nil
	}

	_, err = v.support.PostVisitorMessage(ctx, room.ID, c.Principal(), in.Message)
	switch {
	case errors.Is(err, ErrRoomBlocked):
		return c.Send(ErrorFrame{Type: FrameError, Message: blockedText})
	case errors.Is(err, ErrRateLimited):
		return c.Send(ErrorFrame{Type: FrameError, Message: rateLimitedText})
	case errors.Is(err, ErrInvalidRoom):
		// deleted while the event had not reached this process yet
		v.mu.Lock()
		v.room = nil
		v.mu.Unlock()
		v.support.hub.GroupDiscard(RoomGroup(room.ID), c)
		return c.Send(ChatDeletedFrame{Type: FrameChatDeleted, Message: visitorDeletedText})
	case err != nil:
		return fmt.Errorf("PostVisitorMessage(%d): %w", room.ID, err)
	}
	return nil
}

func (v *visitorConsumer) OnEvent(ctx context.Context, c *Conn, e *GroupEvent) error {
	switch e.Type {
	case EventChatMessage:
		if e.Message == nil {
			return nil
		}
		return c.Send(MessageFrame{Type: FrameMessage, Message: *e.Message})
	case EventChatTyping:
		if e.Origin == c.ID() {
			return nil
		}
		return c.Send(TypingFrame{Type: FrameTyping, User: e.Role, Status: e.Status})
	case EventChatClear:
		return c.Send(ClearFrame{Type: FrameClear})
	case EventChatDeleted:
		v.mu.Lock()
		if v.room != nil && v.room.ID == e.RoomID {
			v.room = nil
		}
		v.mu.Unlock()
		v.support.hub.GroupDiscard(RoomGroup(e.RoomID), c)
		return c.Send(ChatDeletedFrame{Type: FrameChatDeleted, Message: visitorDeletedText})
	}
	return nil
}

func (v *visitorConsumer) OnDisconnect(c *Conn) {
	if room := v.currentRoom(); room != nil {
		v.support.hub.GroupDiscard(RoomGroup(room.ID), c)
	}
}

type agentConsumer struct {
	support *Support
	roomID  int64
	staff   Session
}

func (a *agentConsumer) OnMessage(ctx context.Context, c *Conn, in *InboundFrame) error {
	if in.IsTyping() {
		a.support.SendTyping(ctx, a.roomID, RoleAgent, in.TypingStatus(), c.ID())
		return nil
	}

	if in.Message == "" {
		return nil
	}

	if _, err := a.support.PostAgentMessage(ctx, a.roomID, a.staff, in.Message); err != nil {
		if errors.Is(err, ErrInvalidRoom) {
			return c.Send(ErrorFrame{Type: FrameError, Message: agentDeletedText})
		}
		return fmt.Errorf("PostAgentMessage(%d): %w", a.roomID, err)
	}
	return nil
}

func (a *agentConsumer) OnEvent(ctx context.Context, c *Conn, e *GroupEvent) error {
	switch e.Type {
	case EventChatMessage:
		if e.Message == nil {
			return nil
		}
		return c.Send(MessageFrame{Type: FrameMessage, Message: *e.Message})
	case EventChatTyping:
		if e.Origin == c.ID() {
			return nil
		}
		return c.Send(TypingFrame{Type: FrameTyping, User: e.Role, Status: e.Status})
	case EventChatClear:
		return c.Send(ClearFrame{Type: FrameClear})
	case EventChatDeleted:
		return c.Send(ChatDeletedFrame{Type: FrameChatDeleted, Message: agentDeletedText})
	}
	return nil
}

func (a *agentConsumer) OnDisconnect(c *Conn) {
	a.support.hub.GroupDiscard(RoomGroup(a.roomID), c)
}

type feedConsumer struct {
	support *Support
	staff   Session
}

// OnMessage ignores client frames; the feed is push only.
func (f *feedConsumer) OnMessage(ctx context.Context, c *Conn, in *InboundFrame) error {
	return nil
}

func (f *feedConsumer) OnEvent(ctx context.Context, c *Conn, e *GroupEvent) error {
	switch e.Type {
	case EventAgentNotify:
		if e.Message == nil {
			return nil
		}
		if e.SenderID != nil && *e.SenderID == f.staff.UserID {
			return nil
		}
		return c.Send(NotifyFrame{Type: FrameNotify, RoomID: e.RoomID, Message: *e.Message})
	case EventChatDeleted:
		rooms, err := f.support.FeedSnapshot(ctx)
		if err != nil {
			return err
		}
		return c.Send(FeedDeletedFrame{Type: FrameChatDeleted, RoomID: e.RoomID, RoomInfo: e.RoomInfo, Rooms: rooms})
	}
	return nil
}

func (f *feedConsumer) OnDisconnect(c *Conn) {
	f.support.hub.GroupDiscard(AgentGroup, c)
}
