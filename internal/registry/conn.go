package registry

import (
	"sync"

	"github.com/google/uuid"

	"github.com/hydrabase/realtime/internal/auth"
)

// Conn is one live client connection. The socket itself is owned by the
// gateway session; everything else delivers to the connection through
// the buffered outbox so a slow or dead socket never stalls a fan-out
// loop.
type Conn struct {
	ID       string
	UserID   string
	TenantID string
	Role     string

	outbox chan []byte
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	channels map[string]struct{}
}

func NewConn(claims auth.Claims, sendBuffer int) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Conn{
		ID:       uuid.NewString(),
		UserID:   claims.UserID,
		TenantID: claims.TenantID,
		Role:     claims.Role,
		outbox:   make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}),
	}
}

// Send queues msg for the connection's write pump. Non-blocking: a full
// buffer or a closed connection drops the message and reports false.
// The outbox channel itself is never closed, so late fan-outs racing a
// disconnect are safe.
func (c *Conn) Send(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.outbox <- msg:
		return true
	default:
		return false
	}
}

// Outbox is consumed by the gateway's write pump.
func (c *Conn) Outbox() <-chan []byte {
	return c.outbox
}

// Done signals the write pump to stop. Closed by Close.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close marks the connection finished. Safe to call more than once.
func (c *Conn) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Conn) TrackChannel(channel string) {
	c.mu.Lock()
	c.channels[channel] = struct{}{}
	c.mu.Unlock()
}

func (c *Conn) UntrackChannel(channel string) {
	c.mu.Lock()
	delete(c.channels, channel)
	c.mu.Unlock()
}

// Channels returns a snapshot of the connection's subscriptions.
func (c *Conn) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	return out
}
