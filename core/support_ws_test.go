package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/putto11262002/pharmadesk/pkg/router"
)

type recordingNotifier struct {
	events []GroupEvent
	mu     sync.Mutex
}

func (n *recordingNotifier) NotifyFeed(ctx context.Context, e *GroupEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, *e)
	return nil
}

func (n *recordingNotifier) Events() []GroupEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]GroupEvent(nil), n.events...)
}

type SupportFixture struct {
	*ChatFixture
	authStore *SQLiteAuthStore
	hub       *Hub
	conns     *ConnManager
	support   *Support
	notifier  *recordingNotifier
	server    *httptest.Server
}

func NewSupportFixture(t *testing.T, opts ...SupportOption) *SupportFixture {
	chat := NewChatFixture(t)
	logger := testLogger()

	authStore := NewSQLiteAuthStore(chat.db, chat.userStore, secret)
	hub := NewHub(NewMemoryBroker(), logger)
	if err := hub.Start(chat.ctx); err != nil {
		t.Fatal(err)
	}
	conns := NewConnManager(chat.ctx, WithLogger(logger))
	notifier := &recordingNotifier{}
	opts = append([]SupportOption{WithFeedNotifier(notifier), WithSupportLogger(logger)}, opts...)
	support := NewSupport(chat.chatStore, hub, conns, opts...)

	r := router.New(router.WithLogger(logger))
	r.Use(OptionalAuthMiddleware(authStore))
	r.Use(VisitorSessionMiddleware())
	support.MountSockets(r)
	server := httptest.NewServer(r)

	base := chat.tearDown
	chat.tearDown = func() {
		ctx, cancel := context.WithTimeout(context.Background(), baseTimeout)
		defer cancel()
		conns.Close(ctx)
		server.Close()
		base()
	}

	return &SupportFixture{
		ChatFixture: chat,
		authStore:   authStore,
		hub:         hub,
		conns:       conns,
		support:     support,
		notifier:    notifier,
		server:      server,
	}
}

func (f *SupportFixture) signIn(user User) string {
	seedUser(f.ctx, f.t, f.userStore, user)
	session, err := f.authStore.NewSession(f.ctx, user.Phone, user.Password)
	if err != nil {
		f.t.Fatal(err)
	}
	return session.Token
}

type dialOptions struct {
	token   string
	session string
}

func (f *SupportFixture) dial(path string, opts dialOptions) (*websocket.Conn, *http.Response) {
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + path
	cookies := []string{}
	if opts.token != "" {
		cookies = append(cookies, AuthCookieName+"="+opts.token)
	}
	if opts.session != "" {
		cookies = append(cookies, VisitorCookieName+"="+opts.session)
	}
	header := http.Header{}
	if len(cookies) > 0 {
		header.Set("Cookie", strings.Join(cookies, "; "))
	}

	conn, res, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		f.t.Fatalf("dial %s: %v", path, err)
	}
	f.t.Cleanup(func() { conn.Close() })
	return conn, res
}

type frame struct {
	Type     string          `json:"type"`
	Message  json.RawMessage `json:"message"`
	Messages []MessageView   `json:"messages"`
	RoomID   int64           `json:"room_id"`
	Rooms    []FeedRoom      `json:"rooms"`
	RoomInfo *RoomInfo       `json:"room_info"`
	User     Role            `json:"user"`
	Status   string          `json:"status"`
}

func (fr frame) MessageView(t *testing.T) MessageView {
	t.Helper()
	var view MessageView
	require.Nil(t, json.Unmarshal(fr.Message, &view))
	return view
}

func (fr frame) Text(t *testing.T) string {
	t.Helper()
	var text string
	require.Nil(t, json.Unmarshal(fr.Message, &text))
	return text
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(baseTimeout))
	var fr frame
	_, data, err := conn.ReadMessage()
	require.Nil(t, err)
	require.Nil(t, json.Unmarshal(data, &fr))
	return fr
}

func assertNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, data, err := conn.ReadMessage()
	require.NotNil(t, err, "unexpected frame: %s", data)
	var netErr interface{ Timeout() bool }
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "unexpected error: %v", err)
}

func writeFrame(t *testing.T, conn *websocket.Conn, in any) {
	t.Helper()
	require.Nil(t, conn.WriteJSON(in))
}

func countRows(f *SupportFixture, query string, args ...any) int {
	var n int
	if err := f.db.QueryRow(query, args...).Scan(&n); err != nil {
		f.t.Fatal(err)
	}
	return n
}

func TestVisitorScenario(t *testing.T) {
	f := NewSupportFixture(t)
	defer f.tearDown()
	staffToken := f.signIn(staff)

	feed, _ := f.dial("/ws/chat/agent-feed/", dialOptions{token: staffToken})
	snapshot := readFrame(t, feed)
	require.Equal(t, FrameRooms, snapshot.Type)
	assert.Empty(t, snapshot.Rooms)

	visitorConn, res := f.dial("/ws/chat/user/", dialOptions{})
	var sessionKey string
	for _, c := range res.Cookies() {
		if c.Name == VisitorCookieName {
			sessionKey = c.Value
		}
	}
	require.NotEmpty(t, sessionKey, "visitor session cookie was not issued")

	history := readFrame(t, visitorConn)
	require.Equal(t, FrameHistory, history.Type)
	assert.Empty(t, history.Messages)
	roomID := history.RoomID
	require.NotZero(t, roomID)

	writeFrame(t, visitorConn, InboundFrame{Message: "  سلام  "})

	echo := readFrame(t, visitorConn)
	require.Equal(t, FrameMessage, echo.Type)
	view := echo.MessageView(t)
	assert.Equal(t, "سلام", view.Content)
	assert.Equal(t, RoleUser, view.Role)
	assert.Nil(t, view.Sender)

	notify := readFrame(t, feed)
	require.Equal(t, FrameNotify, notify.Type)
	assert.Equal(t, roomID, notify.RoomID)
	assert.Equal(t, view.ID, notify.MessageView(t).ID)

	events := f.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventAgentNotify, events[0].Type)
	assert.Nil(t, events[0].SenderID)

	assert.Equal(t, 1, countRows(f, "SELECT COUNT(*) FROM rooms"))
	assert.Equal(t, 1, countRows(f, "SELECT COUNT(*) FROM messages WHERE room_id = ? AND role = 'user'", roomID))
	assertNoFrame(t, visitorConn)

	// the same session comes back to the same room
	again, _ := f.dial("/ws/chat/user/", dialOptions{session: sessionKey})
	history = readFrame(t, again)
	assert.Equal(t, roomID, history.RoomID)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "سلام", history.Messages[0].Content)
}

func TestRegisteredVisitorMessage(t *testing.T) {
	f := NewSupportFixture(t)
	defer f.tearDown()
	visitorToken := f.signIn(visitor)

	conn, _ := f.dial("/ws/chat/user/", dialOptions{token: visitorToken, session: "ignored"})
	history := readFrame(t, conn)

	room, err := f.chatStore.GetRoomByID(f.ctx, history.RoomID)
	require.Nil(t, err)
	require.NotNil(t, room.UserID)

	writeFrame(t, conn, InboundFrame{Message: "hi"})
	readFrame(t, conn)

	events := f.notifier.Events()
	require.Len(t, events, 1)
	require.NotNil(t, events[0].SenderID)
	assert.Equal(t, *room.UserID, *events[0].SenderID)
}

func TestAgentScenario(t *testing.T) {
	f := NewSupportFixture(t)
	defer f.tearDown()
	staffToken := f.signIn(staff)

	room, err := f.chatStore.GetOrCreateSessionRoom(f.ctx, "visitor-key")
	require.Nil(t, err)
	seedMessages(f.ChatFixture, room.ID, RoleUser, nil, "one", "two", "three")

	visitorConn, _ := f.dial("/ws/chat/user/", dialOptions{session: "visitor-key"})
	history := readFrame(t, visitorConn)
	require.Equal(t, room.ID, history.RoomID)
	require.Len(t, history.Messages, 3)

	agent, _ := f.dial(fmt.Sprintf("/ws/chat/agent/%d/", room.ID), dialOptions{token: staffToken})
	history = readFrame(t, agent)
	require.Equal(t, FrameHistory, history.Type)
	require.Len(t, history.Messages, 3)
	assert.Equal(t, "one", history.Messages[0].Content)

	// typing reaches the other side but not the sender
	writeFrame(t, visitorConn, InboundFrame{Type: "typing", Status: TypingStart})
	typing := readFrame(t, agent)
	require.Equal(t, FrameTyping, typing.Type)
	assert.Equal(t, RoleUser, typing.User)
	assert.Equal(t, TypingStart, typing.Status)

	writeFrame(t, agent, InboundFrame{Message: "reply"})

	got := readFrame(t, visitorConn)
	require.Equal(t, FrameMessage, got.Type)
	view := got.MessageView(t)
	assert.Equal(t, "reply", view.Content)
	assert.Equal(t, RoleAgent, view.Role)
	require.NotNil(t, view.Sender)
	assert.Equal(t, staff.Phone, *view.Sender)
	assertNoFrame(t, visitorConn)

	echo := readFrame(t, agent)
	assert.Equal(t, view.ID, echo.MessageView(t).ID)

	unread, err := f.chatStore.UnreadCount(f.ctx, room.ID)
	require.Nil(t, err)
	assert.Equal(t, 0, unread)
	assert.Equal(t, 1, countRows(f, "SELECT COUNT(*) FROM messages WHERE room_id = ? AND role = 'agent'", room.ID))

	events := f.notifier.Events()
	require.Len(t, events, 1)
	require.NotNil(t, events[0].SenderID)
}

func TestTypingStatusDefaultsToStop(t *testing.T) {
	f := NewSupportFixture(t)
	defer f.tearDown()
	staffToken := f.signIn(staff)

	room, err := f.chatStore.GetOrCreateSessionRoom(f.ctx, "typing-key")
	require.Nil(t, err)

	visitorConn, _ := f.dial("/ws/chat/user/", dialOptions{session: "typing-key"})
	readFrame(t, visitorConn)
	agent, _ := f.dial(fmt.Sprintf("/ws/chat/agent/%d/", room.ID), dialOptions{token: staffToken})
	readFrame(t, agent)

	tests := []struct {
		name string
		in   map[string]string
		want string
	}{
		{"no status", map[string]string{"type": "typing"}, TypingStop},
		{"unknown status", map[string]string{"type": "typing", "status": "paused"}, TypingStop},
		{"start", map[string]string{"type": "typing", "status": "start"}, TypingStart},
	}
	for _, tc := range tests {
		writeFrame(t, visitorConn, tc.in)
		typing := readFrame(t, agent)
		require.Equal(t, FrameTyping, typing.Type, tc.name)
		assert.Equal(t, tc.want, typing.Status, tc.name)
	}
}

func TestFeedSkipsOwnNotifications(t *testing.T) {
	f := NewSupportFixture(t)
	defer f.tearDown()
	staffToken := f.signIn(staff)
	otherToken := f.signIn(staff2)

	room, err := f.chatStore.GetOrCreateSessionRoom(f.ctx, "visitor-key")
	require.Nil(t, err)

	own, _ := f.dial("/ws/chat/agent-feed/", dialOptions{token: staffToken})
	readFrame(t, own)
	other, _ := f.dial("/ws/chat/agent-feed/", dialOptions{token: otherToken})
	readFrame(t, other)

	agent, _ := f.dial(fmt.Sprintf("/ws/chat/agent/%d/", room.ID), dialOptions{token: staffToken})
	readFrame(t, agent)
	writeFrame(t, agent, InboundFrame{Message: "reply"})

	notify := readFrame(t, other)
	assert.Equal(t, FrameNotify, notify.Type)
	assert.Equal(t, room.ID, notify.RoomID)
	assertNoFrame(t, own)
}

func TestBlockedVisitor(t *testing.T) {
	f := NewSupportFixture(t)
	defer f.tearDown()

	room, err := f.chatStore.GetOrCreateSessionRoom(f.ctx, "visitor-key")
	require.Nil(t, err)
	_, err = f.support.SetBlocked(f.ctx, room.ID, true)
	require.Nil(t, err)

	conn, _ := f.dial("/ws/chat/user/", dialOptions{session: "visitor-key"})
	readFrame(t, conn)

	writeFrame(t, conn, InboundFrame{Message: "let me in"})
	got := readFrame(t, conn)
	require.Equal(t, FrameError, got.Type)
	assert.Equal(t, blockedText, got.Text(t))

	assert.Equal(t, 0, countRows(f, "SELECT COUNT(*) FROM messages"))
	assert.Empty(t, f.notifier.Events())
}

type denyAll struct{}

func (denyAll) Allow(ctx context.Context, key string) (bool, error) {
	return false, nil
}

func TestRateLimitedVisitor(t *testing.T) {
	f := NewSupportFixture(t, WithMessageLimiter(denyAll{}))
	defer f.tearDown()

	conn, _ := f.dial("/ws/chat/user/", dialOptions{session: "visitor-key"})
	readFrame(t, conn)

	writeFrame(t, conn, InboundFrame{Message: "spam"})
	got := readFrame(t, conn)
	require.Equal(t, FrameError, got.Type)
	assert.Equal(t, rateLimitedText, got.Text(t))
	assert.Equal(t, 0, countRows(f, "SELECT COUNT(*) FROM messages"))
}

func TestGuestInfoFromSocket(t *testing.T) {
	f := NewSupportFixture(t)
	defer f.tearDown()

	conn, _ := f.dial("/ws/chat/user/", dialOptions{session: "visitor-key"})
	history := readFrame(t, conn)

	writeFrame(t, conn, InboundFrame{Name: "Reza", Contact: "09120000009", Subject: "Prescription", Message: "hello"})
	readFrame(t, conn)

	room, err := f.chatStore.GetRoomByID(f.ctx, history.RoomID)
	require.Nil(t, err)
	assert.Equal(t, "Reza - Prescription", room.GuestName)
	assert.Equal(t, "09120000009", room.GuestContact)
	assert.Equal(t, "Prescription", room.GuestSubject)
}

func TestStaffGate(t *testing.T) {
	f := NewSupportFixture(t)
	defer f.tearDown()
	visitorToken := f.signIn(visitor)
	staffToken := f.signIn(staff)

	expectClose := func(t *testing.T, path string, opts dialOptions, code int) {
		conn, _ := f.dial(path, opts)
		conn.SetReadDeadline(time.Now().Add(baseTimeout))
		_, _, err := conn.ReadMessage()
		require.True(t, websocket.IsCloseError(err, code), "expected close %d, got %v", code, err)
	}

	t.Run("anonymous feed", func(t *testing.T) {
		expectClose(t, "/ws/chat/agent-feed/", dialOptions{}, websocket.ClosePolicyViolation)
	})
	t.Run("non staff feed", func(t *testing.T) {
		expectClose(t, "/ws/chat/agent-feed/", dialOptions{token: visitorToken}, websocket.ClosePolicyViolation)
	})
	t.Run("non staff agent", func(t *testing.T) {
		expectClose(t, "/ws/chat/agent/1/", dialOptions{token: visitorToken}, websocket.ClosePolicyViolation)
	})
	t.Run("malformed room id", func(t *testing.T) {
		expectClose(t, "/ws/chat/agent/abc/", dialOptions{token: staffToken}, websocket.ClosePolicyViolation)
	})
	t.Run("missing room", func(t *testing.T) {
		expectClose(t, "/ws/chat/agent/999/", dialOptions{token: staffToken}, CloseRoomNotFound)
	})
}

func TestClearRoom(t *testing.T) {
	f := NewSupportFixture(t)
	defer f.tearDown()

	room, err := f.chatStore.GetOrCreateSessionRoom(f.ctx, "visitor-key")
	require.Nil(t, err)
	seedMessages(f.ChatFixture, room.ID, RoleUser, nil, "a", "b")

	conn, _ := f.dial("/ws/chat/user/", dialOptions{session: "visitor-key"})
	readFrame(t, conn)

	n, err := f.support.ClearRoom(f.ctx, room.ID)
	require.Nil(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, FrameClear, readFrame(t, conn).Type)

	_, err = f.support.ClearRoom(f.ctx, room.ID+1)
	require.ErrorIs(t, err, ErrInvalidRoom)
}

func TestDeleteRoom(t *testing.T) {
	f := NewSupportFixture(t)
	defer f.tearDown()
	staffToken := f.signIn(staff)

	room, err := f.chatStore.GetOrCreateSessionRoom(f.ctx, "visitor-key")
	require.Nil(t, err)
	seedMessages(f.ChatFixture, room.ID, RoleUser, nil, "a")

	feed, _ := f.dial("/ws/chat/agent-feed/", dialOptions{token: staffToken})
	snapshot := readFrame(t, feed)
	require.Len(t, snapshot.Rooms, 1)

	conn, _ := f.dial("/ws/chat/user/", dialOptions{session: "visitor-key"})
	readFrame(t, conn)

	_, n, err := f.support.DeleteRoom(f.ctx, room.ID)
	require.Nil(t, err)
	assert.Equal(t, int64(1), n)

	deleted := readFrame(t, conn)
	require.Equal(t, FrameChatDeleted, deleted.Type)
	assert.Equal(t, visitorDeletedText, deleted.Text(t))

	feedDeleted := readFrame(t, feed)
	require.Equal(t, FrameChatDeleted, feedDeleted.Type)
	assert.Equal(t, room.ID, feedDeleted.RoomID)
	require.NotNil(t, feedDeleted.RoomInfo)
	assert.Equal(t, "visitor-key", feedDeleted.RoomInfo.SessionKey)
	assert.Empty(t, feedDeleted.Rooms)

	// the next message opens a fresh room for the same session
	writeFrame(t, conn, InboundFrame{Message: "still there?"})
	echo := readFrame(t, conn)
	require.Equal(t, FrameMessage, echo.Type)

	fresh, err := f.chatStore.GetOrCreateSessionRoom(f.ctx, "visitor-key")
	require.Nil(t, err)
	assert.NotEqual(t, room.ID, fresh.ID)
	assert.Equal(t, 1, countRows(f, "SELECT COUNT(*) FROM messages WHERE room_id = ?", fresh.ID))

	_, _, err = f.support.DeleteRoom(f.ctx, room.ID)
	require.ErrorIs(t, err, ErrInvalidRoom)
}
