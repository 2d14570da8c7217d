package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Server replays a recorded frame log to WebSocket clients. Every started
// execution gets a fresh id and its own replay cursor; a client reconnecting
// with resume=tail only receives frames not yet delivered to it.
type Server struct {
	router   *mux.Router
	server   *http.Server
	upgrader websocket.Upgrader

	log      *FrameLog
	interval time.Duration

	mu         sync.Mutex
	executions map[string]*execution
}

// execution tracks replay progress for one started execution.
type execution struct {
	frames [][]byte
	// sent is the high-water mark of frames delivered to any client,
	// used as the starting point for resume=tail
	sent int
}

// clientMessage is the inbound message shape (keepalive probes).
type clientMessage struct {
	Type string `json:"type"`
}

// NewServer creates a replay server for one frame log. interval is the pause
// between replayed frames; zero replays as fast as the socket drains.
func NewServer(frameLog *FrameLog, interval time.Duration) *Server {
	s := &Server{
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log:        frameLog,
		interval:   interval,
		executions: make(map[string]*execution),
	}
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler, for mounting on a test server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server on addr.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	log.Printf("Starting replay server on %s", addr)

	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the HTTP server gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/executions", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/executions/{id}/stream", s.handleStream).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleStart registers a new execution backed by the frame log and returns
// its id, mirroring the real backend's start call.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()

	s.mu.Lock()
	s.executions[id] = &execution{frames: s.log.Frames}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"execution_id": id})
}

// handleStream upgrades to WebSocket and replays frames, honoring the
// resume marker: "replay" streams from the beginning, "tail" from the
// execution's current high-water mark.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	exec := s.executions[id]
	s.mu.Unlock()
	if exec == nil {
		http.Error(w, fmt.Sprintf("unknown execution %s", id), http.StatusNotFound)
		return
	}

	resume := r.URL.Query().Get("resume")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Writes come from both the replay loop and the pong responder;
	// gorilla connections allow only one writer at a time.
	var writeMu sync.Mutex
	write := func(data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	// The single reader: drains client messages (keepalive probes) and
	// signals when the client goes away.
	done := make(chan struct{})
	go s.readClient(conn, write, done)

	start := 0
	if resume == "tail" {
		s.mu.Lock()
		start = exec.sent
		s.mu.Unlock()
	}

	for i := start; i < len(exec.frames); i++ {
		select {
		case <-done:
			return
		default:
		}
		if err := write(exec.frames[i]); err != nil {
			return
		}
		s.mu.Lock()
		if i+1 > exec.sent {
			exec.sent = i + 1
		}
		s.mu.Unlock()
		if s.interval > 0 {
			time.Sleep(s.interval)
		}
	}

	// Keep the socket open after the replay so the client decides when
	// the conversation ends.
	<-done
}

// readClient consumes inbound messages until the socket closes, answering
// keepalive probes, then closes done.
func (s *Server) readClient(conn *websocket.Conn, write func([]byte) error, done chan<- struct{}) {
	defer close(done)
	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		if msg.Type == "ping" {
			pong := map[string]interface{}{
				"frame_type": "control",
				"type":       "pong",
				"ts":         time.Now().UnixMilli(),
			}
			data, _ := json.Marshal(pong)
			write(data)
		}
	}
}
