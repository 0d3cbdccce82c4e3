// Package dashboard provides a real-time WebSocket feed of sync activity.
//
// The server broadcasts finished syncs and status snapshots to connected
// WebSocket clients and serves the current status over plain HTTP. A client
// that joins between syncs is told the current status and the outcome of
// the last sync.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	engine "github.com/marksync/marksync/internal/sync"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeSyncFinished is sent once per finished sync
	MessageTypeSyncFinished MessageType = "sync_finished"

	// MessageTypeStatus carries an orchestrator status snapshot
	MessageTypeStatus MessageType = "status"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StatusSource reports the sync state served on /status.
type StatusSource interface {
	Status(ctx context.Context) (engine.Status, error)
}

const (
	writeTimeout = 5 * time.Second
	queueSize    = 100
)

// Server feeds sync activity to WebSocket watchers.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	status   StatusSource
	logger   *log.Logger

	mu       sync.RWMutex
	watchers map[*websocket.Conn]string // remote address
	lastSync []byte                     // encoded sync_finished, replayed on join

	outbox chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	// Port to listen on (default: 8080, 0 picks a free port)
	Port int

	// Status backs /status and the welcome message (optional)
	Status StatusSource

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a dashboard server. It does not listen until Start.
func NewServer(config *Config) *Server {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     fmt.Sprintf(":%d", config.Port),
		status:   config.Status,
		logger:   config.Logger,
		watchers: make(map[*websocket.Conn]string),
		outbox:   make(chan Message, queueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start listens and serves /ws, /status and /health in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go s.deliver()
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every watcher and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard")
	s.cancel()
	s.disconnectAll(websocket.StatusGoingAway, "marksync is stopping")

	var err error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if serr := s.server.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("server shutdown error: %w", serr)
		}
	}
	s.wg.Wait()
	return err
}

// Broadcast queues msg for every watcher. Messages are dropped when the
// queue is full.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.outbox <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Printf("WARNING: dashboard queue full, dropping %s message", msg.Type)
	}
}

// deliver encodes queued messages and writes them to every watcher.
func (s *Server) deliver() {
	defer s.wg.Done()

	for {
		var msg Message
		select {
		case <-s.ctx.Done():
			return
		case msg = <-s.outbox:
		}

		data, err := encode(msg)
		if err != nil {
			s.logger.Printf("Failed to encode %s message: %v", msg.Type, err)
			continue
		}
		if msg.Type == MessageTypeSyncFinished {
			s.mu.Lock()
			s.lastSync = data
			s.mu.Unlock()
		}

		for _, conn := range s.snapshotWatchers() {
			if err := s.send(s.ctx, conn, data); err != nil {
				s.logger.Printf("Dropping watcher %s: %v", s.watcherAddr(conn), err)
				s.disconnect(conn, websocket.StatusPolicyViolation, "write failed")
			}
		}
	}
}

func encode(msg Message) ([]byte, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return json.Marshal(msg)
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) snapshotWatchers() []*websocket.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := make([]*websocket.Conn, 0, len(s.watchers))
	for conn := range s.watchers {
		conns = append(conns, conn)
	}
	return conns
}

func (s *Server) watcherAddr(conn *websocket.Conn) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watchers[conn]
}

// handleWebSocket registers a watcher, sends it the current status and the
// last sync outcome, then waits for it to leave.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.watchers[conn] = r.RemoteAddr
	watching := len(s.watchers)
	lastSync := s.lastSync
	s.mu.Unlock()
	s.logger.Printf("Watcher %s joined (%d watching)", r.RemoteAddr, watching)

	status := Message{Type: MessageTypeStatus}
	if st, ok := s.snapshot(r.Context()); ok {
		status.Data, _ = json.Marshal(st)
	}
	greeting := [][]byte{}
	if data, err := encode(status); err == nil {
		greeting = append(greeting, data)
	}
	if lastSync != nil {
		greeting = append(greeting, lastSync)
	}
	for _, data := range greeting {
		if err := s.send(r.Context(), conn, data); err != nil {
			s.disconnect(conn, websocket.StatusInternalError, "greeting failed")
			return
		}
	}

	go s.waitForLeave(conn)
}

// waitForLeave reads until the watcher disconnects. Watchers never send
// anything meaningful.
func (s *Server) waitForLeave(conn *websocket.Conn) {
	defer s.disconnect(conn, websocket.StatusNormalClosure, "")
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) disconnect(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	s.mu.Lock()
	addr, ok := s.watchers[conn]
	delete(s.watchers, conn)
	watching := len(s.watchers)
	s.mu.Unlock()
	if !ok {
		return
	}

	_ = conn.Close(code, reason)
	s.logger.Printf("Watcher %s left (%d watching)", addr, watching)
}

func (s *Server) disconnectAll(code websocket.StatusCode, reason string) {
	for _, conn := range s.snapshotWatchers() {
		s.disconnect(conn, code, reason)
	}
}

func (s *Server) snapshot(ctx context.Context) (engine.Status, bool) {
	if s.status == nil {
		return engine.Status{}, false
	}
	st, err := s.status.Status(ctx)
	if err != nil {
		s.logger.Printf("WARNING: failed to read status: %v", err)
		return engine.Status{}, false
	}
	return st, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		http.Error(w, "status unavailable", http.StatusServiceUnavailable)
		return
	}
	st, ok := s.snapshot(r.Context())
	if !ok {
		http.Error(w, "failed to read status", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"watchers": s.ClientCount(),
	})
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected watchers.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers)
}
