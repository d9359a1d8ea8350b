package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrConnClosed = errors.New("connection closed")
	ErrSlowConn   = errors.New("connection too slow")
)

// ConnHandler reacts to what happens on a connection.
// OnMessage and OnEvent are each called from a single goroutine, so a handler
// sees client frames in order and group events in publish order.
type ConnHandler interface {
	OnMessage(ctx context.Context, c *Conn, in *InboundFrame) error
	OnEvent(ctx context.Context, c *Conn, e *GroupEvent) error
	OnDisconnect(c *Conn)
}

type Conn struct {
	conn        *websocket.Conn
	context     context.Context
	cancel      context.CancelFunc
	id          string
	principal   *Session
	writeStream chan []byte
	events      chan *GroupEvent
	handler     ConnHandler
	logger      *slog.Logger
	closeOnce   sync.Once
	closeCode   int
	closeText   string
	mu          sync.Mutex
}

func (c *Conn) ID() string {
	return c.id
}

// Principal returns the authenticated session, or nil for anonymous visitors.
func (c *Conn) Principal() *Session {
	return c.principal
}

func (c *Conn) Context() context.Context {
	return c.context
}

// Send queues a frame for the write loop. A connection whose queue is full
// is closed instead of blocking the caller.
func (c *Conn) Send(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("json.Marshal: %w", err)
	}
	select {
	case <-c.context.Done():
		return ErrConnClosed
	default:
	}
	select {
	case c.writeStream <- data:
		return nil
	default:
		c.logger.Warn("write stream full, disconnecting")
		c.CloseWith(websocket.CloseTryAgainLater, "too slow")
		return ErrSlowConn
	}
}

func (c *Conn) deliver(e *GroupEvent) {
	select {
	case <-c.context.Done():
		return
	default:
	}
	select {
	case c.events <- e:
	default:
		c.logger.Warn("event stream full, disconnecting")
		c.CloseWith(websocket.CloseTryAgainLater, "too slow")
	}
}

// Close closes the connection with a normal closure.
func (c *Conn) Close() {
	c.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith asks the write loop to send a close frame with the code and stop.
func (c *Conn) CloseWith(code int, text string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.closeText = text
		c.mu.Unlock()
		c.cancel()
	})
}

func (c *Conn) closeMessage() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	code := c.closeCode
	if code == 0 {
		code = websocket.CloseGoingAway
	}
	return websocket.FormatCloseMessage(code, c.closeText)
}

func (c *Conn) readLoop() {
	c.logger.Debug("read loop started")
	defer func() {
		c.Close()
		c.handler.OnDisconnect(c)
		c.logger.Debug("read loop stopped")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		format, r, err := c.conn.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug(fmt.Sprintf("expected close: %v", err))
				return
			}
			if websocket.IsUnexpectedCloseError(err) {
				c.logger.Warn(fmt.Sprintf("unexpected close: %v", err))
				return
			}
			c.logger.Debug(fmt.Sprintf("NextReader: %v", err))
			return
		}

		if format != websocket.TextMessage {
			c.logger.Warn(fmt.Sprintf("unexpected message format: %v", format))
			continue
		}

		var in InboundFrame
		if err := DecodeEvent(r, &in); err != nil {
			c.logger.Warn(err.Error())
			continue
		}
		in.Trim()

		if err := c.handler.OnMessage(c.context, c, &in); err != nil {
			c.logger.Error(fmt.Sprintf("OnMessage: %v", err))
		}
	}
}

func (c *Conn) eventLoop() {
	for {
		select {
		case e := <-c.events:
			if err := c.handler.OnEvent(c.context, c, e); err != nil {
				c.logger.Error(fmt.Sprintf("OnEvent(%s): %v", e.Type, err))
			}
		case <-c.context.Done():
			return
		}
	}
}

func (c *Conn) writeLoop() {
	c.logger.Debug("write loop started")
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Debug("write loop stopped")
	}()

	for {
		select {
		case data := <-c.writeStream:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug(fmt.Sprintf("WriteMessage: %v", err))
				c.Close()
				return
			}
		case <-c.context.Done():
			c.flush()
			c.conn.WriteControl(websocket.CloseMessage, c.closeMessage(), time.Now().Add(writeWait))
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug(fmt.Sprintf("writing ping: %v", err))
				c.Close()
				return
			}
		}
	}
}

// flush writes the frames that were queued before the connection was closed,
// such as an error explaining the closure.
func (c *Conn) flush() {
	for {
		select {
		case data := <-c.writeStream:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}
