package protocol

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/universal-console/streamrpc/internal/interfaces"
	"github.com/universal-console/streamrpc/internal/logging"
)

// connectKey collapses concurrent bring-ups and reconnects into one in-flight cycle
const connectKey = "connect"

// ManagerConfig describes where and how the Manager connects
type ManagerConfig struct {
	Endpoint string
	ProbeURL string
	Header   http.Header
	AuthType string
	Policy   ReconnectPolicy
	Dialer   Dialer
	// Prober may be nil to skip the availability check
	Prober Prober
	// Sleep waits out backoff delays; defaults to a context-aware timer
	Sleep func(ctx context.Context, d time.Duration) error
}

// ManagerHooks are invoked by the Manager without holding its lock
type ManagerHooks struct {
	OnMessage      func(data []byte)
	OnState        func(event interfaces.ConnectivityEvent)
	OnProbeFailure func(env *interfaces.Envelope)
}

// Manager owns the single physical socket and turns it into a readiness contract
type Manager struct {
	cfg    ManagerConfig
	hooks  ManagerHooks
	logger *logging.Logger
	group  singleflight.Group

	life   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    interfaces.ConnState
	sock     Socket
	gen      uint64
	attempts int
	disposed bool
	ready    *readiness

	reconnects     int
	connectedSince time.Time
	lastError      string
	messagesSent   int64
	bytesSent      int64
}

// NewManager creates a disconnected Manager
func NewManager(cfg ManagerConfig, hooks ManagerHooks) *Manager {
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy = DefaultReconnectPolicy()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Dialer == nil {
		cfg.Dialer = NewWebsocketDialer(DefaultHandshakeTimeout)
	}

	life, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		hooks:  hooks,
		logger: logging.GetProtocolLogger().WithField("endpoint", cfg.Endpoint),
		life:   life,
		cancel: cancel,
		state:  interfaces.StateDisconnected,
	}
}

// Initialize brings the connection up once. It is a no-op while a socket is held
// or a bring-up is already in progress.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrClientDisposed
	}
	if m.sock != nil || m.state == interfaces.StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	ctx, release := m.bind(ctx)
	defer release()

	_, err, _ := m.group.Do(connectKey, func() (interface{}, error) {
		return nil, m.bringUp(ctx)
	})
	return err
}

// Ready waits until the current bring-up opens the socket or fails
func (m *Manager) Ready(ctx context.Context) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrClientDisposed
	}
	r := m.ready
	m.mu.Unlock()

	if r == nil {
		return ErrNotConnected
	}
	return r.wait(ctx)
}

// Reconnect discards the current socket and retries bring-up with backoff until it
// succeeds or the attempt bound is reached. The attempt counter is reset only when
// forceReset is set; automatic retries keep counting across calls.
func (m *Manager) Reconnect(ctx context.Context, forceReset bool) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrClientDisposed
	}
	if forceReset {
		m.attempts = 0
	}
	m.mu.Unlock()

	ctx, release := m.bind(ctx)
	defer release()

	ch := m.group.DoChan(connectKey, func() (interface{}, error) {
		return nil, m.reconnectLoop(ctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		if m.isDisposed() {
			return ErrClientDisposed
		}
		return ctx.Err()
	}
}

// EnsureReady runs one reconnect cycle when no open socket is held
func (m *Manager) EnsureReady(ctx context.Context) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrClientDisposed
	}
	sock := m.sock
	m.mu.Unlock()

	if sock != nil && sock.IsOpen() {
		return nil
	}
	return m.Reconnect(ctx, false)
}

// Send writes one frame, reconnecting first when needed. A failed reconnect
// returns before anything is written.
func (m *Manager) Send(ctx context.Context, data []byte) error {
	if err := m.EnsureReady(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	sock := m.sock
	m.mu.Unlock()
	if sock == nil {
		return ErrNotConnected
	}

	if err := sock.Send(data); err != nil {
		m.mu.Lock()
		m.lastError = err.Error()
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.messagesSent++
	m.bytesSent += int64(len(data))
	m.mu.Unlock()
	return nil
}

// State returns the current connection state
func (m *Manager) State() interfaces.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the current reconnect attempt counter
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Dispose closes the socket, rejects readiness waiters and interrupts any
// in-flight probe, dial or backoff wait.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.gen++
	sock := m.sock
	m.sock = nil
	ready := m.ready
	ev := m.setStateLocked(interfaces.StateDisconnected, ErrClientDisposed)
	m.mu.Unlock()

	m.cancel()
	if sock != nil {
		_ = sock.Close()
	}
	if ready != nil {
		ready.settle(ErrClientDisposed)
	}
	m.emit(ev)
	m.logger.Debug("Connection manager disposed")
}

func (m *Manager) fillStats(stats *ConnectionStatistics) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats.State = m.state
	stats.MessagesSent = m.messagesSent
	stats.BytesSent = m.bytesSent
	stats.Reconnects = m.reconnects
	stats.Attempts = m.attempts
	stats.LastError = m.lastError
	if m.sock != nil {
		stats.ConnectedSince = m.connectedSince
	}
}

func (m *Manager) isDisposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

// bind derives a context that also ends when the Manager is disposed
func (m *Manager) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.life, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (m *Manager) reconnectLoop(ctx context.Context) error {
	var lastErr error
	for {
		m.mu.Lock()
		if m.disposed {
			m.mu.Unlock()
			return ErrClientDisposed
		}
		if m.attempts >= m.cfg.Policy.MaxAttempts {
			attempts := m.attempts
			m.mu.Unlock()
			if lastErr != nil {
				return fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, attempts, lastErr)
			}
			return fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, attempts)
		}
		attempt := m.attempts + 1
		m.mu.Unlock()

		m.closeSocket()

		delay := m.cfg.Policy.Delay(attempt)
		m.logger.LogReconnectAttempt(attempt, m.cfg.Policy.MaxAttempts, delay)
		if err := m.cfg.Sleep(ctx, delay); err != nil {
			if m.isDisposed() {
				return ErrClientDisposed
			}
			return err
		}

		m.mu.Lock()
		m.attempts = attempt
		m.mu.Unlock()

		err := m.bringUp(ctx)
		if err == nil {
			m.mu.Lock()
			m.attempts = 0
			m.reconnects++
			m.mu.Unlock()
			return nil
		}
		if errors.Is(err, ErrClientDisposed) || ctx.Err() != nil {
			return err
		}
		// 4xx probe answers and other permanent failures will not change on retry.
		var perr *ProtocolError
		if errors.As(err, &perr) && !perr.IsRetryable() {
			m.logger.Warn("Giving up reconnect on a non-retryable failure", "attempt", attempt, "error", err)
			return err
		}
		lastErr = err
	}
}

// bringUp probes the service, opens the socket and settles readiness
func (m *Manager) bringUp(ctx context.Context) error {
	start := time.Now()

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrClientDisposed
	}
	m.gen++
	gen := m.gen
	if m.ready == nil || m.ready.settled() {
		m.ready = newReadiness()
	}
	ready := m.ready
	ev := m.setStateLocked(interfaces.StateConnecting, nil)
	m.mu.Unlock()
	m.emit(ev)

	m.logger.LogConnectionAttempt(m.cfg.AuthType)

	if m.cfg.Prober != nil {
		if err := m.cfg.Prober.Probe(ctx, m.cfg.ProbeURL, m.cfg.Header); err != nil {
			if m.hooks.OnProbeFailure != nil {
				m.hooks.OnProbeFailure(probeFailureEnvelope(err))
			}
			m.fail(gen, ready, err, start)
			return err
		}
	}

	sock, err := m.cfg.Dialer.Dial(ctx, m.cfg.Endpoint, m.cfg.Header, SocketEvents{
		OnMessage: m.deliver,
		OnClose: func(cerr error) {
			m.handleClose(gen, cerr)
		},
	})
	if err != nil {
		m.fail(gen, ready, err, start)
		return err
	}

	m.mu.Lock()
	if m.disposed || m.gen != gen {
		disposed := m.disposed
		m.mu.Unlock()
		_ = sock.Close()
		if disposed {
			return ErrClientDisposed
		}
		return ErrConnectionClosed
	}
	if !sock.IsOpen() {
		m.mu.Unlock()
		m.fail(gen, ready, ErrConnectionClosed, start)
		return ErrConnectionClosed
	}
	m.sock = sock
	m.connectedSince = time.Now()
	ev = m.setStateLocked(interfaces.StateOpen, nil)
	m.mu.Unlock()

	ready.settle(nil)
	m.logger.LogConnectionSuccess(time.Since(start))
	m.emit(ev)
	return nil
}

func (m *Manager) fail(gen uint64, ready *readiness, err error, start time.Time) {
	m.mu.Lock()
	var ev *interfaces.ConnectivityEvent
	if m.gen == gen && !m.disposed {
		m.lastError = err.Error()
		ev = m.setStateLocked(interfaces.StateFailed, err)
	}
	m.mu.Unlock()

	ready.settle(err)
	m.logger.LogConnectionFailure(err, time.Since(start))
	m.emit(ev)
}

// handleClose runs on the read goroutine. Closes of sockets the Manager already
// replaced or discarded carry a stale generation and are ignored.
func (m *Manager) handleClose(gen uint64, err error) {
	m.mu.Lock()
	if m.gen != gen || m.sock == nil {
		m.mu.Unlock()
		return
	}
	m.sock = nil
	if err != nil {
		m.lastError = err.Error()
	}
	ready := m.ready
	ev := m.setStateLocked(interfaces.StateDisconnected, err)
	m.mu.Unlock()

	if ready != nil {
		ready.settle(ErrConnectionClosed)
	}
	m.logger.Info("Connection closed")
	m.emit(ev)
}

// closeSocket discards the held socket before a reconnect attempt
func (m *Manager) closeSocket() {
	m.mu.Lock()
	sock := m.sock
	if sock == nil {
		m.mu.Unlock()
		return
	}
	m.sock = nil
	m.gen++
	ev := m.setStateLocked(interfaces.StateClosing, nil)
	m.mu.Unlock()
	m.emit(ev)

	_ = sock.Close()

	m.mu.Lock()
	var closed *interfaces.ConnectivityEvent
	if m.state == interfaces.StateClosing {
		closed = m.setStateLocked(interfaces.StateDisconnected, nil)
	}
	m.mu.Unlock()
	m.emit(closed)
}

func (m *Manager) deliver(data []byte) {
	if m.hooks.OnMessage != nil {
		m.hooks.OnMessage(data)
	}
}

// setStateLocked records a transition and returns the event to emit, or nil when
// the state did not change. Callers hold m.mu.
func (m *Manager) setStateLocked(state interfaces.ConnState, err error) *interfaces.ConnectivityEvent {
	if m.state == state && err == nil {
		return nil
	}
	m.state = state
	return &interfaces.ConnectivityEvent{State: state, Err: err, At: time.Now()}
}

func (m *Manager) emit(ev *interfaces.ConnectivityEvent) {
	if ev != nil && m.hooks.OnState != nil {
		m.hooks.OnState(*ev)
	}
}

// readiness is a single-settlement future for "the socket is open"
type readiness struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newReadiness() *readiness {
	return &readiness{done: make(chan struct{})}
}

func (r *readiness) settle(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

func (r *readiness) settled() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *readiness) wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
