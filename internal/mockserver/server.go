// Package mockserver implements a development server for the duplex protocol.
// It answers the availability probe, upgrades socket requests and replies to
// requests according to their kind, so the client can be exercised end to end.
package mockserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/universal-console/streamrpc/internal/interfaces"
	"github.com/universal-console/streamrpc/internal/logging"
)

// Request kinds with special handling. Any other kind is echoed.
const (
	KindFail      = "fail"      // replies with an error payload
	KindDuplicate = "duplicate" // replies twice with the same parent id
	KindDrop      = "drop"      // closes the socket without replying
	KindSilent    = "silent"    // never replies
)

// DefaultText is streamed back when a streaming request carries no text
const DefaultText = "Hello from the mock server"

// Server is an http.Handler speaking the duplex protocol
type Server struct {
	upgrader   websocket.Upgrader
	chunkDelay time.Duration
	logger     *logging.Logger

	mu          sync.Mutex
	probeStatus int
	received    []interfaces.Envelope
	conns       map[*websocket.Conn]struct{}
	upgrades    int
}

// Option configures a Server
type Option func(*Server)

// WithChunkDelay spaces streamed chunks by d
func WithChunkDelay(d time.Duration) Option {
	return func(s *Server) { s.chunkDelay = d }
}

// New creates a Server answering probes with 200
func New(opts ...Option) *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:      logging.GetGlobalLogger().WithComponent("mockserver"),
		probeStatus: http.StatusOK,
		conns:       make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP answers HEAD probes and upgrades socket requests
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		s.mu.Lock()
		status := s.probeStatus
		s.mu.Unlock()
		w.WriteHeader(status)
		return
	}

	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("streamrpc mock server\n"))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Upgrade failed", "error", err.Error())
		return
	}
	s.serveConn(conn)
}

// SetProbeStatus changes the status returned to HEAD requests
func (s *Server) SetProbeStatus(status int) {
	s.mu.Lock()
	s.probeStatus = status
	s.mu.Unlock()
}

// Received returns every request envelope decoded so far
func (s *Server) Received() []interfaces.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]interfaces.Envelope, len(s.received))
	copy(out, s.received)
	return out
}

// Upgrades returns how many sockets have been accepted
func (s *Server) Upgrades() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upgrades
}

// DropConnections closes every live socket from the server side
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (s *Server) serveConn(conn *websocket.Conn) {
	writeMu := &sync.Mutex{}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.upgrades++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req interfaces.Envelope
		if err := json.Unmarshal(data, &req); err != nil {
			s.logger.Warn("Dropping undecodable request", "error", err.Error())
			continue
		}

		s.mu.Lock()
		s.received = append(s.received, req)
		s.mu.Unlock()

		if req.Type == KindDrop {
			return
		}
		go s.handle(conn, writeMu, req)
	}
}

func (s *Server) handle(conn *websocket.Conn, writeMu *sync.Mutex, req interfaces.Envelope) {
	write := func(env interfaces.Envelope) bool {
		data, err := json.Marshal(env)
		if err != nil {
			return false
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, data) == nil
	}

	switch {
	case req.Type == KindSilent:
		return

	case req.Type == KindFail:
		payload := &interfaces.ErrorPayload{
			ErrorType: "ValueError",
			Title:     "The request could not be processed",
			Traceback: "Traceback (most recent call last):\n  mock failure",
			Hint:      "Try a different request",
		}
		if req.Stream {
			write(interfaces.Envelope{Type: interfaces.TypeChunk, ParentID: req.MessageID, Done: true, Error: payload})
			return
		}
		write(interfaces.Envelope{Type: interfaces.TypeReply, ParentID: req.MessageID, Error: payload})

	case req.Stream:
		for _, word := range strings.SplitAfter(requestText(req.Metadata), " ") {
			if !write(interfaces.Envelope{
				Type:     interfaces.TypeChunk,
				ParentID: req.MessageID,
				Chunk:    &interfaces.ChunkBody{Content: word},
			}) {
				return
			}
			if s.chunkDelay > 0 {
				time.Sleep(s.chunkDelay)
			}
		}
		write(interfaces.Envelope{
			Type:     interfaces.TypeChunk,
			ParentID: req.MessageID,
			Chunk:    &interfaces.ChunkBody{Content: ""},
			Done:     true,
		})

	default:
		items, _ := json.Marshal([]json.RawMessage{req.Metadata})
		reply := interfaces.Envelope{Type: interfaces.TypeReply, ParentID: req.MessageID, Items: items}
		write(reply)
		if req.Type == KindDuplicate {
			write(reply)
		}
	}
}

// requestText extracts the "text" or "prompt" field of the request metadata
func requestText(metadata json.RawMessage) string {
	var fields struct {
		Text   string `json:"text"`
		Prompt string `json:"prompt"`
	}
	_ = json.Unmarshal(metadata, &fields)
	switch {
	case fields.Text != "":
		return fields.Text
	case fields.Prompt != "":
		return fields.Prompt
	default:
		return DefaultText
	}
}
