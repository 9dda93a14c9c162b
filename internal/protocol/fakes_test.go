package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/universal-console/streamrpc/internal/interfaces"
)

var errDialRefused = errors.New("dial refused")

// fakeSocket is an in-memory Socket; onSend plays the server
type fakeSocket struct {
	events SocketEvents
	onSend func(sock *fakeSocket, data []byte)

	mu     sync.Mutex
	open   bool
	closed bool
	sent   [][]byte
}

func (s *fakeSocket) Send(data []byte) error {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.sent = append(s.sent, append([]byte(nil), data...))
	s.mu.Unlock()

	if s.onSend != nil {
		s.onSend(s, data)
	}
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.closed = true
	return nil
}

func (s *fakeSocket) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSocket) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// deliver plays an inbound frame through the read path
func (s *fakeSocket) deliver(t *testing.T, env interfaces.Envelope) {
	t.Helper()
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	s.events.OnMessage(data)
}

// drop simulates the server closing the connection
func (s *fakeSocket) drop(err error) {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
	s.events.OnClose(err)
}

// fakeDialer hands out fakeSockets, failing the first failFor dials or every
// dial while fail is set.
type fakeDialer struct {
	onSend func(sock *fakeSocket, data []byte)

	mu      sync.Mutex
	dials   int
	failFor int
	fail    bool
	sockets []*fakeSocket
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string, header http.Header, events SocketEvents) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.fail || d.dials <= d.failFor {
		return nil, wrapTransportError("failed to open socket", errDialRefused)
	}
	sock := &fakeSocket{events: events, onSend: d.onSend, open: true}
	d.sockets = append(d.sockets, sock)
	return sock, nil
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) socket(t *testing.T, i int) *fakeSocket {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.sockets) {
		t.Fatalf("socket %d not dialed (have %d)", i, len(d.sockets))
	}
	return d.sockets[i]
}

func (d *fakeDialer) last(t *testing.T) *fakeSocket {
	t.Helper()
	d.mu.Lock()
	n := len(d.sockets)
	d.mu.Unlock()
	if n == 0 {
		t.Fatal("no socket dialed")
	}
	return d.socket(t, n-1)
}

type stubProber struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (p *stubProber) Probe(ctx context.Context, target string, header http.Header) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

// sleepRecorder records backoff waits without sleeping
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// updateLog collects stream publications
type updateLog struct {
	mu      sync.Mutex
	updates []interfaces.StreamUpdate
}

func (l *updateLog) add(u interfaces.StreamUpdate) {
	l.mu.Lock()
	l.updates = append(l.updates, u)
	l.mu.Unlock()
}

func (l *updateLog) snapshot() []interfaces.StreamUpdate {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]interfaces.StreamUpdate(nil), l.updates...)
}

// decodeRequest reads the wire request a fake socket was sent
func decodeRequest(t *testing.T, data []byte) interfaces.Envelope {
	t.Helper()
	var env interfaces.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Errorf("request is not json: %v", err)
	}
	return env
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func chunk(parent string, content string) interfaces.Envelope {
	return interfaces.Envelope{
		Type:     interfaces.TypeChunk,
		ParentID: parent,
		Chunk:    &interfaces.ChunkBody{Content: content},
	}
}

func doneChunk(parent string) interfaces.Envelope {
	env := chunk(parent, "")
	env.Done = true
	return env
}
