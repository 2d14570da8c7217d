// Package client maintains the transport side of an execution view: starting
// an execution over HTTP and keeping a WebSocket attached to its frame
// stream across disconnects.
package client

import (
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State represents the connection lifecycle
type State string

// Connection states
const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// ResumeMode tells the backend where to start streaming from.
type ResumeMode string

// Resume markers
const (
	// ResumeReplay replays the execution's frames from the beginning,
	// for a fresh view.
	ResumeReplay ResumeMode = "replay"

	// ResumeTail continues from the current tail, for a reconnect.
	ResumeTail ResumeMode = "tail"
)

// FrameSink consumes raw frames read off the wire.
type FrameSink interface {
	Ingest(raw []byte)
}

// clientMessage is the outbound message shape, matching the server's
// expectations for keepalive probes.
type clientMessage struct {
	Type string `json:"type"`
}

// ManagerConfig configures a connection Manager.
type ManagerConfig struct {
	// StreamURL is the WebSocket endpoint for one execution's stream;
	// the resume marker is appended as a query parameter.
	StreamURL string

	// ReconnectDelay is the fixed wait before the single scheduled
	// reconnect after an unclean close.
	ReconnectDelay time.Duration

	// Active reports whether the execution is still considered live.
	// No reconnect is scheduled once it returns false. Nil means
	// always active.
	Active func() bool

	// OnState is invoked on every connection state change. Optional.
	OnState func(State)

	// Clock supplies timers, so tests can substitute a mock clock.
	Clock clock.Clock

	// Dialer performs the WebSocket handshake.
	Dialer *websocket.Dialer
}

// Manager owns the socket lifecycle for one execution stream: dialing with a
// resume marker, filtering frames from superseded connections, scheduling a
// single fixed-delay reconnect on unclean close, and freezing everything on
// a user stop.
type Manager struct {
	cfg  ManagerConfig
	sink FrameSink

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	connID         string
	stopped        bool
	reconnectTimer *clock.Timer
}

// NewManager creates a connection manager feeding frames into sink.
func NewManager(cfg ManagerConfig, sink FrameSink) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	return &Manager{
		cfg:   cfg,
		sink:  sink,
		state: StateDisconnected,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ConnectionID returns the identifier of the current connection attempt,
// empty when disconnected.
func (m *Manager) ConnectionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connID
}

// Connect dials the stream with the given resume marker. Each attempt is
// tagged with a fresh connection id; frames still buffered on an older
// socket are attributed to its stale id and discarded.
func (m *Manager) Connect(mode ResumeMode) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return fmt.Errorf("connection manager stopped")
	}
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	conn, err := m.dial(mode)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return fmt.Errorf("connection manager stopped")
	}
	if err != nil {
		m.setStateLocked(StateError)
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		return err
	}

	// A new socket supersedes any previous one.
	if m.conn != nil {
		m.conn.Close()
	}
	connID := uuid.NewString()
	m.conn = conn
	m.connID = connID
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	// Keepalive probe so the server sees the client immediately.
	if err := conn.WriteJSON(clientMessage{Type: "ping"}); err != nil {
		log.Printf("client: keepalive probe failed: %v", err)
	}

	go m.readLoop(conn, connID)
	return nil
}

func (m *Manager) dial(mode ResumeMode) (*websocket.Conn, error) {
	u, err := url.Parse(m.cfg.StreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid stream URL: %w", err)
	}
	q := u.Query()
	q.Set("resume", string(mode))
	u.RawQuery = q.Encode()

	conn, _, err := m.cfg.Dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	return conn, nil
}

// readLoop pumps frames from one socket until it closes. Frames are dropped
// once the socket's connection id has been superseded, so a stale socket's
// buffered messages cannot corrupt state after a newer socket took over.
func (m *Manager) readLoop(conn *websocket.Conn, connID string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(connID, err)
			return
		}

		m.mu.Lock()
		current := m.connID == connID && !m.stopped
		m.mu.Unlock()
		if !current {
			conn.Close()
			return
		}

		m.sink.Ingest(data)
	}
}

// handleClose reacts to a socket ending. A clean user stop freezes the
// manager; an unclean close while the execution is active schedules exactly
// one reconnect after the fixed delay.
func (m *Manager) handleClose(connID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connID != connID {
		// A superseded socket closing is not an event.
		return
	}
	m.conn = nil
	m.connID = ""

	if m.stopped {
		m.setStateLocked(StateDisconnected)
		return
	}

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Printf("client: connection lost: %v", err)
	}

	if m.cfg.Active != nil && !m.cfg.Active() {
		// Execution is over; nothing left to stream.
		m.setStateLocked(StateDisconnected)
		return
	}

	m.setStateLocked(StateDisconnected)
	m.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the single reconnect timer. Reconnects resume
// from the tail so ingestion continues instead of restarting. Caller must
// hold m.mu.
func (m *Manager) scheduleReconnectLocked() {
	if m.reconnectTimer != nil || m.stopped {
		return
	}
	m.reconnectTimer = m.cfg.Clock.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.mu.Lock()
		m.reconnectTimer = nil
		stopped := m.stopped
		m.mu.Unlock()
		if stopped {
			return
		}
		if err := m.Connect(ResumeTail); err != nil {
			log.Printf("client: reconnect failed: %v", err)
		}
	})
}

// Stop closes the socket, cancels any pending reconnect, and freezes further
// ingestion. The last graph snapshot stays intact for display.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopped = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.conn != nil {
		m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		m.conn.Close()
		m.conn = nil
	}
	m.connID = ""
	m.setStateLocked(StateDisconnected)
}

// setStateLocked updates the state and fires the callback. Caller must hold
// m.mu; the callback must not call back into the manager.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if m.cfg.OnState != nil {
		m.cfg.OnState(s)
	}
}
