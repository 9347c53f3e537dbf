package channel

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// DefaultRetryDelay is the fixed pause between a connection loss and the next
// dial attempt. There is no backoff: every failure retries at this interval
// until Close.
const DefaultRetryDelay = 1000 * time.Millisecond

// Status describes the connection state of a Channel.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusClosing
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	}
	return "unknown"
}

// Handler receives one decoded payload per well-formed inbound frame.
// It is invoked from the channel's reader goroutine; it must not call Close.
type Handler func(payload map[string]any)

// Channel maintains a best-effort persistent logical connection over a
// transport that has no built-in retry. It owns at most one live websocket
// connection at a time; the connection slot is replaced wholesale on each
// reconnect, never shared. Reconnection attempts continue until Close.
type Channel struct {
	endpoint string
	handler  Handler

	dialer     *websocket.Dialer
	retryDelay time.Duration
	origin     func() string

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	status  Status
	conn    *websocket.Conn
	retry   *time.Timer
	closed  bool
	gen     uint64
	readers sync.WaitGroup
}

// Option customizes a Channel before its first connection attempt.
type Option func(*Channel)

// WithRetryDelay overrides the fixed reconnect delay. The default fixed
// 1000ms interval is the reference behavior; this is an extension point only.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// WithOrigin supplies the page origin used to resolve scheme-relative
// endpoints. The function is called once per connection attempt, so a change
// of security context between attempts is respected.
func WithOrigin(origin func() string) Option {
	return func(c *Channel) { c.origin = origin }
}

// WithDialer replaces the websocket dialer, e.g. to set a handshake timeout
// or TLS configuration.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) {
		if d != nil {
			c.dialer = d
		}
	}
}

// Open constructs a Channel and immediately begins an asynchronous connection
// attempt. It never fails synchronously: dial errors surface through the same
// path as a connection loss and feed the retry policy.
func Open(endpoint string, handler Handler, opts ...Option) *Channel {
	c := &Channel{
		endpoint:   endpoint,
		handler:    handler,
		dialer:     websocket.DefaultDialer,
		retryDelay: DefaultRetryDelay,
		status:     StatusDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.mu.Lock()
	c.beginAttemptLocked()
	c.mu.Unlock()
	return c
}

// Status reports the current connection state.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Close marks the channel as intentionally closing, closes the live
// connection if present, and cancels any pending reconnect timer. After Close
// returns, no further connection attempts occur and the handler is never
// invoked again. Close is idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.readers.Wait()
		return
	}
	c.closed = true
	c.status = StatusClosing
	c.stopRetryLocked()
	// bump the generation so an in-flight dial discards its connection
	c.gen++
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.cancel()
	c.readers.Wait()

	c.mu.Lock()
	c.status = StatusClosed
	c.mu.Unlock()
	log.Debug().Str("component", "channel").Str("endpoint", c.endpoint).Msg("channel closed")
}

func (c *Channel) beginAttemptLocked() {
	if c.closed {
		return
	}
	c.status = StatusConnecting
	c.gen++
	gen := c.gen
	c.readers.Add(1)
	go c.attempt(gen)
}

func (c *Channel) attempt(gen uint64) {
	defer c.readers.Done()

	target, err := c.resolveTarget()
	if err != nil {
		log.Warn().Err(err).Str("component", "channel").Str("endpoint", c.endpoint).Msg("endpoint resolution failed")
		c.connectionLost(gen)
		return
	}

	conn, resp, err := c.dialer.DialContext(c.ctx, target, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		log.Debug().Err(err).Str("component", "channel").Str("url", target).Msg("dial failed")
		c.connectionLost(gen)
		return
	}

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.status = StatusConnected
	c.mu.Unlock()
	log.Debug().Str("component", "channel").Str("url", target).Msg("connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.connectionLost(gen)
			return
		}
		c.dispatch(data)
	}
}

// resolveTarget derives the dial URL for this attempt. The origin is
// re-evaluated every time so scheme-relative endpoints track the current
// page security context.
func (c *Channel) resolveTarget() (string, error) {
	origin := ""
	if c.origin != nil {
		origin = c.origin()
	}
	return ResolveEndpoint(origin, c.endpoint)
}

// dispatch decodes one inbound frame. A malformed frame must not tear down
// the channel: it is logged and dropped without invoking the handler.
func (c *Channel) dispatch(data []byte) {
	payload := map[string]any{}
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Warn().Err(err).Str("component", "channel").Str("endpoint", c.endpoint).Msg("dropping malformed frame")
		return
	}
	if c.handler != nil {
		c.handler(payload)
	}
}

// connectionLost records the end of a connection attempt and, unless the
// channel was explicitly closed, arms the single reconnect timer.
func (c *Channel) connectionLost(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.closed {
		return
	}
	c.status = StatusDisconnected
	c.stopRetryLocked()
	c.retry = time.AfterFunc(c.retryDelay, c.retryNow)
	log.Debug().Str("component", "channel").Str("endpoint", c.endpoint).Dur("delay", c.retryDelay).Msg("scheduling reconnect")
}

func (c *Channel) retryNow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retry = nil
	if c.closed {
		return
	}
	c.beginAttemptLocked()
}

func (c *Channel) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}
