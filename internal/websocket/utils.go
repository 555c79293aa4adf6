package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = pongWait * 9 / 10

	// MaxFrameBytes bounds inbound frames. Camera replies carry a JPEG.
	MaxFrameBytes = 4 << 20
)

// ErrClosed is returned for writes to a closed connection.
var ErrClosed = errors.New("websocket closed")

// Conn serializes every write to a gorilla connection through one writer
// goroutine. Snapshots share a single slot so a slow client only ever
// receives the newest one.
type Conn struct {
	ws *websocket.Conn

	out  chan any
	kick chan struct{}

	mu   sync.Mutex
	snap any

	done      chan struct{}
	closeOnce sync.Once
}

// NewConn wraps ws and installs the read limit and pong handler.
func NewConn(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(MaxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &Conn{
		ws:   ws,
		out:  make(chan any, 64),
		kick: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Send queues v without blocking. It reports false when the connection is
// closed or the client is too far behind.
func (c *Conn) Send(v any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- v:
		return true
	default:
		return false
	}
}

// SendLatest replaces any snapshot still waiting to be written.
func (c *Conn) SendLatest(v any) {
	c.mu.Lock()
	c.snap = v
	c.mu.Unlock()
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// WritePump writes queued messages and keepalive pings until ctx is done or
// a write fails. On ctx done it flushes what is queued. It closes the
// connection on return.
func (c *Conn) WritePump(ctx context.Context) error {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			// Queued messages, such as a final error, still go out first.
			c.drain()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return ctx.Err()
		case <-c.done:
			return ErrClosed
		case v := <-c.out:
			if err := c.write(v); err != nil {
				return err
			}
		case <-c.kick:
			c.mu.Lock()
			v := c.snap
			c.snap = nil
			c.mu.Unlock()
			if v == nil {
				continue
			}
			if err := c.write(v); err != nil {
				return err
			}
		case <-ping.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

// ReadFrame reads the next text frame. Each frame, like each pong, extends
// the read deadline.
func (c *Conn) ReadFrame() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if kind == websocket.TextMessage {
			return data, nil
		}
	}
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Conn) drain() {
	for {
		select {
		case v := <-c.out:
			if err := c.write(v); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(v any) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// IsNormalClose reports whether err is an ordinary client disconnect.
func IsNormalClose(err error) bool {
	return err == nil || errors.Is(err, ErrClosed) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
