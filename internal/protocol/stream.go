package protocol

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/universal-console/streamrpc/internal/interfaces"
	"github.com/universal-console/streamrpc/internal/logging"
)

// streamSession accumulates the chunks of one streaming request
type streamSession struct {
	id       string
	kind     string
	metadata interface{}
	handler  func(interfaces.StreamUpdate)

	buf   strings.Builder
	timer *time.Timer
	// gen invalidates timers armed before the latest chunk or teardown
	gen uint64

	done  chan struct{}
	final string
	err   error
}

// Aggregator turns chunk envelopes into coalesced stream publications.
// Each publication carries the full accumulated text, never a delta.
type Aggregator struct {
	delay   time.Duration
	publish func(interfaces.StreamUpdate)
	logger  *logging.Logger

	// deliverMu serializes chunk processing and timer flushes so publications
	// reach handlers in order. mu guards the session table.
	deliverMu sync.Mutex
	mu        sync.Mutex
	sessions  map[string]*streamSession
	disposed  bool
}

// NewAggregator creates an Aggregator coalescing partial updates over delay.
// publish, when set, receives every update after the session's own handler.
func NewAggregator(delay time.Duration, publish func(interfaces.StreamUpdate)) *Aggregator {
	if delay <= 0 {
		delay = DefaultCoalesceDelay
	}
	return &Aggregator{
		delay:    delay,
		publish:  publish,
		logger:   logging.GetStreamLogger(),
		sessions: make(map[string]*streamSession),
	}
}

// Open starts a session for id. Chunks for ids without a session are ignored,
// so callers open the session before sending the request.
func (a *Aggregator) Open(id string, kind string, metadata interface{}, handler func(interfaces.StreamUpdate)) (*Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.disposed {
		return nil, ErrClientDisposed
	}
	if _, exists := a.sessions[id]; exists {
		return nil, ErrDuplicateRequest
	}

	s := &streamSession{
		id:       id,
		kind:     kind,
		metadata: metadata,
		handler:  handler,
		done:     make(chan struct{}),
	}
	a.sessions[id] = s
	return &Stream{session: s, agg: a}, nil
}

// Feed processes one chunk envelope and reports whether a session consumed it
func (a *Aggregator) Feed(env *interfaces.Envelope) bool {
	a.deliverMu.Lock()
	defer a.deliverMu.Unlock()

	a.mu.Lock()
	s, ok := a.sessions[env.ParentID]
	if !ok {
		a.mu.Unlock()
		return false
	}

	if payload := env.ErrorInfo(); payload != nil {
		a.teardownLocked(s)
		s.err = &RemoteError{ParentID: s.id, Payload: *payload}
		a.mu.Unlock()

		a.deliver(s, interfaces.StreamUpdate{ParentID: s.id, Final: true, Err: s.err})
		close(s.done)
		return true
	}

	if env.Chunk != nil {
		s.buf.WriteString(env.Chunk.Content)
	}

	if env.Done {
		a.teardownLocked(s)
		s.final = s.buf.String()
		a.mu.Unlock()

		a.deliver(s, interfaces.StreamUpdate{ParentID: s.id, Text: s.final, Final: true})
		close(s.done)
		return true
	}

	s.gen++
	gen := s.gen
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(a.delay, func() {
		a.flush(s, gen)
	})
	a.mu.Unlock()
	return true
}

// flush publishes the current buffer if no newer chunk or teardown superseded it
func (a *Aggregator) flush(s *streamSession, gen uint64) {
	a.deliverMu.Lock()
	defer a.deliverMu.Unlock()

	a.mu.Lock()
	if a.sessions[s.id] != s || s.gen != gen {
		a.mu.Unlock()
		return
	}
	s.timer = nil
	text := s.buf.String()
	a.mu.Unlock()

	a.deliver(s, interfaces.StreamUpdate{ParentID: s.id, Text: text})
}

// cancel removes s and fails it with err; returns false if s already ended
func (a *Aggregator) cancel(s *streamSession, err error) bool {
	a.mu.Lock()
	if a.sessions[s.id] != s {
		a.mu.Unlock()
		return false
	}
	a.teardownLocked(s)
	s.err = err
	a.mu.Unlock()

	close(s.done)
	return true
}

// Holds reports whether a live session is keyed by id
func (a *Aggregator) Holds(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.sessions[id]
	return ok
}

// Active returns the number of live sessions
func (a *Aggregator) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// Dispose abandons every session: timers are stopped and no handler is called.
// Waiters on abandoned streams receive ErrClientDisposed.
func (a *Aggregator) Dispose() {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return
	}
	a.disposed = true
	abandoned := make([]*streamSession, 0, len(a.sessions))
	for _, s := range a.sessions {
		a.teardownLocked(s)
		s.err = ErrClientDisposed
		abandoned = append(abandoned, s)
	}
	a.mu.Unlock()

	for _, s := range abandoned {
		close(s.done)
	}
	if len(abandoned) > 0 {
		a.logger.Debug("Abandoned streams on dispose", "count", len(abandoned))
	}
}

// teardownLocked removes s from the table and invalidates its timer
func (a *Aggregator) teardownLocked(s *streamSession) {
	delete(a.sessions, s.id)
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (a *Aggregator) deliver(s *streamSession, update interfaces.StreamUpdate) {
	if s.handler != nil {
		s.handler(update)
	}
	if a.publish != nil {
		a.publish(update)
	}
}

// Stream is the caller's handle on one streaming request
type Stream struct {
	session *streamSession
	agg     *Aggregator
}

// ID returns the request id the stream is keyed by
func (st *Stream) ID() string {
	return st.session.id
}

// Kind returns the request kind the stream was opened for
func (st *Stream) Kind() string {
	return st.session.kind
}

// Done is closed once the stream has ended for any reason
func (st *Stream) Done() <-chan struct{} {
	return st.session.done
}

// Wait blocks until the stream ends and returns the final text. When ctx ends
// first the stream is cancelled and later chunks are ignored.
func (st *Stream) Wait(ctx context.Context) (string, error) {
	select {
	case <-st.session.done:
	case <-ctx.Done():
		st.agg.cancel(st.session, ctx.Err())
		<-st.session.done
	}
	return st.session.final, st.session.err
}

// Cancel abandons the stream without waiting for its terminal chunk
func (st *Stream) Cancel() {
	st.agg.cancel(st.session, context.Canceled)
}
