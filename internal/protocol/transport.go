package protocol

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/universal-console/streamrpc/internal/logging"
)

// Socket is one physical duplex connection. It is owned by the connection Manager
// and never handed to other components.
type Socket interface {
	// Send writes one text frame
	Send(data []byte) error

	// Close closes the connection; safe to call more than once
	Close() error

	// IsOpen reports whether the socket can still carry frames
	IsOpen() bool
}

// SocketEvents receives inbound frames and the close notification of a Socket.
// Both callbacks run on the socket's read goroutine.
type SocketEvents struct {
	OnMessage func(data []byte)
	OnClose   func(err error)
}

// Dialer opens sockets. Dial returns once the connection is open or has failed.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, header http.Header, events SocketEvents) (Socket, error)
}

// WebsocketDialer opens gorilla/websocket connections
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	logger           *logging.Logger
}

// NewWebsocketDialer creates a dialer with the given handshake timeout
func NewWebsocketDialer(handshakeTimeout time.Duration) *WebsocketDialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	return &WebsocketDialer{
		HandshakeTimeout: handshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		logger:           logging.GetTransportLogger(),
	}
}

// Dial performs the websocket handshake and starts the read pump
func (d *WebsocketDialer) Dial(ctx context.Context, endpoint string, header http.Header, events SocketEvents) (Socket, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		perr := wrapTransportError(fmt.Sprintf("failed to open socket to %s", endpoint), err)
		if resp != nil {
			perr.StatusCode = resp.StatusCode
			perr.Message = fmt.Sprintf("handshake with %s rejected with HTTP %d", endpoint, resp.StatusCode)
		}
		return nil, perr
	}

	sock := &wsSocket{
		conn:         conn,
		events:       events,
		writeTimeout: d.WriteTimeout,
		logger:       d.logger,
	}
	sock.open.Store(true)
	go sock.readPump()

	d.logger.Debug("Socket opened", "endpoint", endpoint)
	return sock, nil
}

// wsSocket adapts a gorilla connection to the Socket interface
type wsSocket struct {
	conn         *websocket.Conn
	events       SocketEvents
	writeTimeout time.Duration
	logger       *logging.Logger

	writeMu   sync.Mutex
	open      atomic.Bool
	local     atomic.Bool
	closeOnce sync.Once
}

// Send writes one text frame; gorilla allows a single concurrent writer
func (s *wsSocket) Send(data []byte) error {
	if !s.open.Load() {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return wrapTransportError("failed to write frame", err)
	}
	return nil
}

// Close sends a close frame and releases the connection
func (s *wsSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.local.Store(true)
		s.open.Store(false)

		s.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		s.writeMu.Unlock()

		err = s.conn.Close()
	})
	return err
}

// IsOpen reports whether the socket can still carry frames
func (s *wsSocket) IsOpen() bool {
	return s.open.Load()
}

func (s *wsSocket) readPump() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.open.Store(false)
			_ = s.conn.Close()

			var closeErr error
			if !s.local.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				closeErr = wrapTransportError("socket closed unexpectedly", err)
			}
			if closeErr != nil {
				s.logger.Warn("Socket read failed", "error", err.Error())
			}
			if s.events.OnClose != nil {
				s.events.OnClose(closeErr)
			}
			return
		}

		if s.events.OnMessage != nil {
			s.events.OnMessage(data)
		}
	}
}
