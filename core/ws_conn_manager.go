package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// CloseRoomNotFound is sent when a staff socket names a room that does not exist.
	CloseRoomNotFound = 4404
)

type ConnManager struct {
	conns   *SyncMap[string, *Conn]
	connWg  sync.WaitGroup
	context context.Context
	logger  *slog.Logger

	upgrader        websocket.Upgrader
	WriteStreamSize int
	EventStreamSize int
}

var defaultUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type ManagerOption func(*ConnManager)

func WithCheckOrigin(f func(r *http.Request) bool) ManagerOption {
	return func(m *ConnManager) {
		m.upgrader.CheckOrigin = f
	}
}

func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *ConnManager) {
		m.logger = l
	}
}

func WithStreamSize(write, events int) ManagerOption {
	return func(m *ConnManager) {
		m.WriteStreamSize = write
		m.EventStreamSize = events
	}
}

func NewConnManager(ctx context.Context, opts ...ManagerOption) *ConnManager {
	m := &ConnManager{
		conns:           NewSyncMap[string, *Conn](),
		logger:          slog.Default(),
		context:         ctx,
		upgrader:        defaultUpgrader,
		WriteStreamSize: 256,
		EventStreamSize: 256,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Upgrade upgrades the request and returns a connection that is not yet
// serving. header is sent with the handshake response.
func (m *ConnManager) Upgrade(w http.ResponseWriter, r *http.Request, principal *Session, header http.Header) (*Conn, error) {
	ws, err := m.upgrader.Upgrade(w, r, header)
	if err != nil {
		// the upgrader has already replied with an http error
		return nil, fmt.Errorf("Upgrade: %w", err)
	}

	ctx, cancel := context.WithCancel(m.context)
	id := uuid.NewString()
	c := &Conn{
		conn:        ws,
		context:     ctx,
		cancel:      cancel,
		id:          id,
		principal:   principal,
		writeStream: make(chan []byte, m.WriteStreamSize),
		events:      make(chan *GroupEvent, m.EventStreamSize),
		logger:      m.logger.With(slog.String("connection", id), slog.String("path", r.URL.Path)),
	}
	return c, nil
}

// Serve starts the read, write and event loops of the connection.
func (m *ConnManager) Serve(c *Conn, h ConnHandler) {
	c.handler = h
	m.conns.Store(c.id, c)

	m.connWg.Add(3)
	go func() {
		defer m.connWg.Done()
		c.writeLoop()
	}()
	go func() {
		defer m.connWg.Done()
		c.eventLoop()
	}()
	go func() {
		defer m.connWg.Done()
		defer m.conns.Delete(c.id)
		c.readLoop()
	}()
}

// Reject completes the handshake and immediately closes the socket with code.
func (m *ConnManager) Reject(w http.ResponseWriter, r *http.Request, code int, text string) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Debug(fmt.Sprintf("Upgrade: %v", err))
		return
	}
	ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
	ws.Close()
}

// Count returns the number of serving connections.
func (m *ConnManager) Count() int {
	return m.conns.Len()
}

// Close closes every connection and waits for their loops to stop or ctx to expire.
func (m *ConnManager) Close(ctx context.Context) error {
	m.conns.RRange(func(_ string, c *Conn) bool {
		c.CloseWith(websocket.CloseGoingAway, "server shutting down")
		return true
	})

	done := make(chan struct{})
	go func() {
		m.connWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
