package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectSink records ingested frames for assertions.
type collectSink struct {
	mu     sync.Mutex
	frames []string
}

func (c *collectSink) Ingest(raw []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, string(raw))
}

func (c *collectSink) Frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	copy(out, c.frames)
	return out
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestManager_ConnectStreamsFrames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "replay", r.URL.Query().Get("resume"))
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(`{"frame":1}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"frame":2}`))

		// Hold the socket open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	sink := &collectSink{}
	m := NewManager(ManagerConfig{StreamURL: wsURL(server)}, sink)
	defer m.Stop()

	require.NoError(t, m.Connect(ResumeReplay))
	assert.Equal(t, StateConnected, m.State())
	assert.NotEmpty(t, m.ConnectionID())

	assert.Eventually(t, func() bool {
		return len(sink.Frames()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{`{"frame":1}`, `{"frame":2}`}, sink.Frames())
}

func TestManager_ReconnectsWithTailAfterUncleanClose(t *testing.T) {
	var mu sync.Mutex
	var resumes []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resumes = append(resumes, r.URL.Query().Get("resume"))
		attempt := len(resumes)
		mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		if attempt == 1 {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"frame":1}`))
			// Unclean close: no close handshake.
			conn.Close()
			return
		}

		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"frame":2}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	mock := clock.NewMock()
	sink := &collectSink{}
	m := NewManager(ManagerConfig{
		StreamURL:      wsURL(server),
		ReconnectDelay: 2 * time.Second,
		Clock:          mock,
	}, sink)
	defer m.Stop()

	require.NoError(t, m.Connect(ResumeReplay))

	// The unclean close surfaces as a disconnect with a reconnect armed.
	assert.Eventually(t, func() bool {
		return m.State() == StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)

	// Fire the reconnect timer.
	mock.Add(2 * time.Second)

	assert.Eventually(t, func() bool {
		return len(sink.Frames()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"replay", "tail"}, resumes)
}

func TestManager_StopCancelsPendingReconnect(t *testing.T) {
	var mu sync.Mutex
	dials := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		dials++
		mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conn.Close()
	}))
	defer server.Close()

	mock := clock.NewMock()
	sink := &collectSink{}
	m := NewManager(ManagerConfig{
		StreamURL:      wsURL(server),
		ReconnectDelay: 2 * time.Second,
		Clock:          mock,
	}, sink)

	require.NoError(t, m.Connect(ResumeReplay))
	assert.Eventually(t, func() bool {
		return m.State() == StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)

	m.Stop()
	mock.Add(10 * time.Second)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, dials)

	// A stopped manager refuses further connects.
	assert.Error(t, m.Connect(ResumeReplay))
}

func TestManager_NoReconnectWhenExecutionInactive(t *testing.T) {
	var mu sync.Mutex
	dials := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		dials++
		mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conn.Close()
	}))
	defer server.Close()

	mock := clock.NewMock()
	m := NewManager(ManagerConfig{
		StreamURL:      wsURL(server),
		ReconnectDelay: time.Second,
		Clock:          mock,
		Active:         func() bool { return false },
	}, &collectSink{})
	defer m.Stop()

	require.NoError(t, m.Connect(ResumeReplay))
	assert.Eventually(t, func() bool {
		return m.State() == StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)

	mock.Add(10 * time.Second)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, dials)
}

func TestManager_SupersededConnectionFramesDiscarded(t *testing.T) {
	conns := make(chan *websocket.Conn, 2)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conns <- conn
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	sink := &collectSink{}
	m := NewManager(ManagerConfig{StreamURL: wsURL(server)}, sink)
	defer m.Stop()

	require.NoError(t, m.Connect(ResumeReplay))
	first := <-conns
	firstID := m.ConnectionID()

	// A second connect supersedes the first socket and its id.
	require.NoError(t, m.Connect(ResumeReplay))
	second := <-conns
	assert.NotEqual(t, firstID, m.ConnectionID())

	// Anything still flowing on the first socket must not reach the sink.
	first.WriteMessage(websocket.TextMessage, []byte(`{"stale":true}`))
	second.WriteMessage(websocket.TextMessage, []byte(`{"fresh":true}`))

	assert.Eventually(t, func() bool {
		frames := sink.Frames()
		return len(frames) == 1 && frames[0] == `{"fresh":true}`
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{`{"fresh":true}`}, sink.Frames())
}

func TestManager_StateCallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	var mu sync.Mutex
	var states []State
	m := NewManager(ManagerConfig{
		StreamURL: wsURL(server),
		OnState: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	}, &collectSink{})

	require.NoError(t, m.Connect(ResumeReplay))
	m.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, states)
}
