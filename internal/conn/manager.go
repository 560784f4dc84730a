// Package conn maintains one WebSocket session to the propagation service,
// reconnecting after a fixed delay whenever it drops.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/daviddao/dnsprop_viewer/internal/logging"
)

const (
	DefaultCloseDelay = 1200 * time.Millisecond
	DefaultDialDelay  = 1500 * time.Millisecond

	writeWait = 10 * time.Second
)

// ErrNotReady is returned by Send while no connection is open.
var ErrNotReady = errors.New("connection not ready")

var errSuperseded = errors.New("endpoint changed during dial")

// State is the transport's lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "?"
}

// EventKind distinguishes state transitions from inbound frames.
type EventKind int

const (
	EventState EventKind = iota
	EventFrame
)

// Event is delivered on the manager's channel in the order it happened.
type Event struct {
	Kind  EventKind
	State State  // EventState
	Data  []byte // EventFrame
}

// StateEvent returns a state transition event.
func StateEvent(s State) Event { return Event{Kind: EventState, State: s} }

// FrameEvent returns an inbound frame event.
func FrameEvent(data []byte) Event { return Event{Kind: EventFrame, Data: data} }

// Options tune the manager. Zero values select the defaults.
type Options struct {
	CloseDelay       time.Duration // wait after an open connection closes
	DialDelay        time.Duration // wait after a failed open
	PingInterval     time.Duration // 0 disables pings
	HandshakeTimeout time.Duration
	Buffer           int
	Logger           *log.Logger
	Metrics          *Metrics
}

// Manager owns the socket. Run drives the connect/reconnect loop; Send and
// Ready may be called from any goroutine.
type Manager struct {
	opts   Options
	dialer *websocket.Dialer
	events chan Event
	log    *log.Logger

	mu         sync.Mutex // guards endpoint, conn, cancelDial and writes
	endpoint   string
	conn       *websocket.Conn
	cancelDial context.CancelFunc // aborts an in-flight dial; nil when idle
	ready      atomic.Bool
}

// NewManager creates a manager for endpoint. Nothing connects until Run.
func NewManager(endpoint string, opts Options) *Manager {
	if opts.CloseDelay <= 0 {
		opts.CloseDelay = DefaultCloseDelay
	}
	if opts.DialDelay <= 0 {
		opts.DialDelay = DefaultDialDelay
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		opts:     opts,
		dialer:   &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		events:   make(chan Event, opts.Buffer),
		log:      logger,
		endpoint: endpoint,
	}
}

// Events returns the ordered event stream. It is closed when Run returns.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Ready reports whether a connection is open.
func (m *Manager) Ready() bool {
	return m.ready.Load()
}

// Endpoint returns the URL used for the next connection attempt.
func (m *Manager) Endpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

// SetEndpoint switches to a new URL. An open connection or in-flight dial
// to the old endpoint is abandoned, and the loop redials the new one.
func (m *Manager) SetEndpoint(endpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if endpoint == m.endpoint {
		return
	}
	m.log.Info("endpoint changed", "from", m.endpoint, "to", endpoint)
	m.endpoint = endpoint
	if m.cancelDial != nil {
		m.cancelDial()
	}
	if m.conn != nil {
		m.conn.Close()
	}
}

// Send writes v as one JSON text frame.
func (m *Manager) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return ErrNotReady
	}
	_ = m.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		// The read loop sees the close and schedules the reconnect.
		m.conn.Close()
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Run connects and keeps reconnecting until ctx is done. Retries are
// unbounded. Transport errors are logged, never returned.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.events)

	for ctx.Err() == nil {
		if !m.emit(ctx, StateEvent(Connecting)) {
			return
		}

		endpoint, c, err := m.dial(ctx)
		if ctx.Err() != nil {
			if c != nil {
				c.Close()
			}
			return
		}
		if err == nil && !m.attach(c, endpoint) {
			// SetEndpoint ran after the handshake finished.
			c.Close()
			err = errSuperseded
		}
		if errors.Is(err, errSuperseded) || (err != nil && m.Endpoint() != endpoint) {
			m.log.Info("dial superseded by endpoint change", "endpoint", endpoint)
			continue
		}
		if err != nil {
			m.opts.Metrics.dialed(false)
			m.log.Warn("connect failed", "endpoint", endpoint, "err", err, "retry", m.opts.DialDelay)
			if !m.emit(ctx, StateEvent(Disconnected)) || !sleep(ctx, m.opts.DialDelay) {
				return
			}
			continue
		}

		m.opts.Metrics.dialed(true)
		m.log.Info("connected", "endpoint", endpoint)

		var readErr error
		if m.emit(ctx, StateEvent(Connected)) {
			readErr = m.readLoop(ctx, c)
		}
		m.detach(c)
		m.opts.Metrics.closed()
		if ctx.Err() != nil {
			return
		}

		m.log.Warn("connection closed", "endpoint", endpoint, "err", readErr, "retry", m.opts.CloseDelay)
		if !m.emit(ctx, StateEvent(Disconnected)) || !sleep(ctx, m.opts.CloseDelay) {
			return
		}
	}
}

// dial opens a connection to the current endpoint. SetEndpoint cancels
// the attempt through the per-dial context.
func (m *Manager) dial(ctx context.Context) (string, *websocket.Conn, error) {
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	endpoint := m.endpoint
	m.cancelDial = cancel
	m.mu.Unlock()

	c, _, err := m.dialer.DialContext(dialCtx, endpoint, nil)

	m.mu.Lock()
	m.cancelDial = nil
	m.mu.Unlock()
	return endpoint, c, err
}

// attach publishes c unless the endpoint changed while it was dialing.
func (m *Manager) attach(c *websocket.Conn, endpoint string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.endpoint != endpoint {
		return false
	}
	m.conn = c
	m.ready.Store(true)
	return true
}

func (m *Manager) detach(c *websocket.Conn) {
	m.ready.Store(false)
	m.mu.Lock()
	if m.conn == c {
		m.conn = nil
	}
	m.mu.Unlock()
	c.Close()
}

// readLoop forwards frames until the connection fails. With pings enabled,
// a silent peer trips the read deadline after two intervals.
func (m *Manager) readLoop(ctx context.Context, c *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	wait := 2 * m.opts.PingInterval
	if m.opts.PingInterval > 0 {
		_ = c.SetReadDeadline(time.Now().Add(wait))
		c.SetPongHandler(func(string) error {
			return c.SetReadDeadline(time.Now().Add(wait))
		})
		done := make(chan struct{})
		defer close(done)
		go m.pingLoop(c, done)
	}

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return err
		}
		if wait > 0 {
			_ = c.SetReadDeadline(time.Now().Add(wait))
		}
		m.opts.Metrics.frame()
		if !m.emit(ctx, FrameEvent(data)) {
			return ctx.Err()
		}
	}
}

func (m *Manager) pingLoop(c *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			// WriteControl is safe alongside Send's writes.
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.opts.PingInterval)); err != nil {
				m.log.Debug("ping failed", "err", err)
				return
			}
		}
	}
}

func (m *Manager) emit(ctx context.Context, ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
