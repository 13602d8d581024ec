// Package dashboard streams watch mode activity to WebSocket clients.
//
// Every run and every stage of every unit is broadcast as a JSON message.
// A client connecting late receives the last run status as its welcome
// message.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = "127.0.0.1:7878"

const (
	// queued messages per client before it is dropped as too slow
	clientQueue = 64

	writeTimeout = 5 * time.Second
)

// MessageType identifies a dashboard message.
type MessageType string

const (
	MessageTypeHello       MessageType = "hello"
	MessageTypeRunStarted  MessageType = "run_started"
	MessageTypeUnitStage   MessageType = "unit_stage"
	MessageTypeRunFinished MessageType = "run_finished"
	MessageTypeRunFailed   MessageType = "run_failed"
)

// Message is the envelope of everything sent to clients. The hello
// message carries the last run_finished or run_failed message, if any.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Config holds server settings.
type Config struct {
	// Addr to listen on; DefaultAddr when empty
	Addr string

	// Logger for connection activity; discarded when nil
	Logger *log.Logger
}

// client is one connected WebSocket with its own outgoing queue, so a
// slow reader never delays the others.
type client struct {
	conn  *websocket.Conn
	queue chan []byte
}

// Server accepts WebSocket clients on /ws and fans messages out to them.
type Server struct {
	addr   string
	logger *log.Logger

	listener net.Listener
	http     *http.Server

	mu      sync.Mutex
	clients map[*client]struct{}
	last    *Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a server. Nothing listens until Start.
func NewServer(config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	s := &Server{
		addr:    config.Addr,
		logger:  config.Logger,
		clients: make(map[*client]struct{}),
	}
	if s.addr == "" {
		s.addr = DefaultAddr
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard, "", 0)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every client and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	for c := range s.clients {
		s.dropLocked(c, websocket.StatusGoingAway, "server shutting down")
	}
	s.mu.Unlock()

	if s.http == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("dashboard shutdown failed: %w", err)
	}
	s.wg.Wait()
	return nil
}

// Broadcast queues msg for every connected client. A client whose queue
// is full is disconnected.
func (s *Server) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to marshal %s message: %v", msg.Type, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Type == MessageTypeRunFinished || msg.Type == MessageTypeRunFailed {
		s.last = &msg
	}
	for c := range s.clients {
		select {
		case c.queue <- data:
		default:
			s.logger.Println("Warning: client too slow, disconnecting")
			s.dropLocked(c, websocket.StatusPolicyViolation, "too slow")
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn, queue: make(chan []byte, clientQueue)}

	// the hello goes first in the queue and snapshots last under the
	// same lock that registers the client, so no run is missed
	s.mu.Lock()
	hello := Message{Type: MessageTypeHello, Timestamp: time.Now()}
	if s.last != nil {
		hello.Data, _ = json.Marshal(s.last)
	}
	data, _ := json.Marshal(hello)
	c.queue <- data
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()

	s.logger.Printf("Client connected (total: %d)", n)

	go s.writeLoop(c)
	s.readLoop(c)
}

// writeLoop drains the client queue until the client is dropped.
func (s *Server) writeLoop(c *client) {
	for data := range c.queue {
		ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			s.logger.Printf("Failed to send to client: %v", err)
			s.drop(c, websocket.StatusInternalError, "")
			return
		}
	}
}

// readLoop detects disconnects. Client messages are ignored.
func (s *Server) readLoop(c *client) {
	for {
		if _, _, err := c.conn.Read(s.ctx); err != nil {
			s.drop(c, websocket.StatusNormalClosure, "")
			return
		}
	}
}

func (s *Server) drop(c *client, code websocket.StatusCode, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(c, code, reason)
}

func (s *Server) dropLocked(c *client, code websocket.StatusCode, reason string) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.queue)
	go func() { _ = c.conn.Close(code, reason) }()
	s.logger.Printf("Client disconnected (total: %d)", len(s.clients))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{"status": "ok", "clients": s.ClientCount()}

	s.mu.Lock()
	if s.last != nil {
		status["last_run"] = s.last.Type
		status["last_run_at"] = s.last.Timestamp
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
