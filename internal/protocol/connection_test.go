package protocol

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/universal-console/streamrpc/internal/interfaces"
)

type managerRecorder struct {
	mu       sync.Mutex
	states   []interfaces.ConnState
	probeEnv []*interfaces.Envelope
	frames   int
}

func (r *managerRecorder) hooks() ManagerHooks {
	return ManagerHooks{
		OnMessage: func(data []byte) {
			r.mu.Lock()
			r.frames++
			r.mu.Unlock()
		},
		OnState: func(ev interfaces.ConnectivityEvent) {
			r.mu.Lock()
			r.states = append(r.states, ev.State)
			r.mu.Unlock()
		},
		OnProbeFailure: func(env *interfaces.Envelope) {
			r.mu.Lock()
			r.probeEnv = append(r.probeEnv, env)
			r.mu.Unlock()
		},
	}
}

func (r *managerRecorder) stateLog() []interfaces.ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]interfaces.ConnState(nil), r.states...)
}

func (r *managerRecorder) lastState() interfaces.ConnState {
	states := r.stateLog()
	if len(states) == 0 {
		return ""
	}
	return states[len(states)-1]
}

type testManager struct {
	*Manager
	dialer   *fakeDialer
	prober   *stubProber
	sleeps   *sleepRecorder
	recorder *managerRecorder
}

func newTestManager(t *testing.T, dialer *fakeDialer) *testManager {
	t.Helper()
	tm := &testManager{
		dialer:   dialer,
		prober:   &stubProber{},
		sleeps:   &sleepRecorder{},
		recorder: &managerRecorder{},
	}
	tm.Manager = NewManager(ManagerConfig{
		Endpoint: "ws://service.test/ws",
		ProbeURL: "http://service.test/",
		Policy:   DefaultReconnectPolicy(),
		Dialer:   dialer,
		Prober:   tm.prober,
		Sleep:    tm.sleeps.sleep,
	}, tm.recorder.hooks())
	t.Cleanup(tm.Dispose)
	return tm
}

func TestManagerInitializeOpens(t *testing.T) {
	tm := newTestManager(t, &fakeDialer{})
	ctx := context.Background()

	if err := tm.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := tm.Ready(ctx); err != nil {
		t.Errorf("Ready: %v", err)
	}
	if tm.State() != interfaces.StateOpen {
		t.Errorf("State = %s, want open", tm.State())
	}

	got := tm.recorder.stateLog()
	if len(got) != 2 || got[0] != interfaces.StateConnecting || got[1] != interfaces.StateOpen {
		t.Errorf("transitions = %v, want [connecting open]", got)
	}
	if tm.prober.calls != 1 {
		t.Errorf("probe calls = %d, want 1", tm.prober.calls)
	}
}

func TestManagerInitializeIsNoOpWhenConnected(t *testing.T) {
	tm := newTestManager(t, &fakeDialer{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := tm.Initialize(ctx); err != nil {
			t.Fatalf("Initialize #%d: %v", i, err)
		}
	}
	if n := tm.dialer.dialCount(); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
}

func TestManagerProbeFailureSkipsDial(t *testing.T) {
	tm := newTestManager(t, &fakeDialer{})
	tm.prober.err = &ProtocolError{
		Type:       ErrorTypeAvailability,
		Message:    "service answered HTTP 503",
		Hint:       "retry shortly",
		StatusCode: 503,
	}

	err := tm.Initialize(context.Background())
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.StatusCode != 503 {
		t.Fatalf("Initialize = %v, want availability ProtocolError", err)
	}
	if n := tm.dialer.dialCount(); n != 0 {
		t.Errorf("dials = %d, want 0", n)
	}
	if tm.State() != interfaces.StateFailed {
		t.Errorf("State = %s, want failed", tm.State())
	}
	if err := tm.Ready(context.Background()); err == nil {
		t.Error("Ready succeeded after probe failure")
	}

	tm.recorder.mu.Lock()
	defer tm.recorder.mu.Unlock()
	if len(tm.recorder.probeEnv) != 1 {
		t.Fatalf("probe failure events = %d, want 1", len(tm.recorder.probeEnv))
	}
	env := tm.recorder.probeEnv[0]
	if env.Type != interfaces.TypeError || env.ErrorType != "HTTPError" || env.Hint != "retry shortly" {
		t.Errorf("probe failure event = %+v", env)
	}
}

func TestManagerReconnectBound(t *testing.T) {
	dialer := &fakeDialer{fail: true}
	tm := newTestManager(t, dialer)
	ctx := context.Background()

	err := tm.Reconnect(ctx, false)
	if !errors.Is(err, ErrReconnectExhausted) {
		t.Fatalf("Reconnect = %v, want ErrReconnectExhausted", err)
	}
	if !errors.Is(err, errDialRefused) {
		t.Errorf("Reconnect error %v does not wrap the last dial failure", err)
	}
	if n := dialer.dialCount(); n != 5 {
		t.Fatalf("dials = %d, want 5", n)
	}

	want := []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	got := tm.sleeps.recorded()
	if len(got) != len(want) {
		t.Fatalf("delays = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay %d = %v, want %v", i+1, got[i], want[i])
		}
	}

	// The sixth attempt is refused without touching the transport.
	if err := tm.Reconnect(ctx, false); !errors.Is(err, ErrReconnectExhausted) {
		t.Fatalf("sixth Reconnect = %v, want ErrReconnectExhausted", err)
	}
	if n := dialer.dialCount(); n != 5 {
		t.Errorf("dials after sixth attempt = %d, want 5", n)
	}
	if n := len(tm.sleeps.recorded()); n != 5 {
		t.Errorf("sixth attempt waited; delays = %d", n)
	}

	// A manual reconnect restarts the budget.
	dialer.setFail(false)
	if err := tm.Reconnect(ctx, true); err != nil {
		t.Fatalf("forced Reconnect: %v", err)
	}
	if n := dialer.dialCount(); n != 6 {
		t.Errorf("dials after forced reconnect = %d, want 6", n)
	}
	if tm.Attempts() != 0 {
		t.Errorf("Attempts = %d, want 0 after success", tm.Attempts())
	}
}

func TestManagerReconnectRecoversWithinBudget(t *testing.T) {
	dialer := &fakeDialer{failFor: 2}
	tm := newTestManager(t, dialer)

	if err := tm.Reconnect(context.Background(), false); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if n := dialer.dialCount(); n != 3 {
		t.Errorf("dials = %d, want 3", n)
	}
	got := tm.sleeps.recorded()
	if len(got) != 3 || got[0] != 0 || got[1] != time.Second || got[2] != 2*time.Second {
		t.Errorf("delays = %v, want [0 1s 2s]", got)
	}
	if tm.Attempts() != 0 {
		t.Errorf("Attempts = %d, want 0", tm.Attempts())
	}
	if tm.State() != interfaces.StateOpen {
		t.Errorf("State = %s, want open", tm.State())
	}
}

func TestManagerReconnectReplacesSocket(t *testing.T) {
	dialer := &fakeDialer{}
	tm := newTestManager(t, dialer)
	ctx := context.Background()

	if err := tm.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	first := dialer.socket(t, 0)

	if err := tm.Reconnect(ctx, true); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if !first.isClosed() {
		t.Error("previous socket was not closed")
	}
	if n := dialer.dialCount(); n != 2 {
		t.Errorf("dials = %d, want 2", n)
	}

	// A late close of the discarded socket must not disturb the new one.
	first.drop(nil)
	if tm.State() != interfaces.StateOpen {
		t.Errorf("State = %s after stale close, want open", tm.State())
	}

	states := tm.recorder.stateLog()
	want := []interfaces.ConnState{
		interfaces.StateConnecting, interfaces.StateOpen,
		interfaces.StateClosing, interfaces.StateDisconnected,
		interfaces.StateConnecting, interfaces.StateOpen,
	}
	if len(states) != len(want) {
		t.Fatalf("transitions = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, states[i], want[i])
		}
	}
}

func TestManagerServerCloseAndSendReconnects(t *testing.T) {
	dialer := &fakeDialer{}
	tm := newTestManager(t, dialer)
	ctx := context.Background()

	if err := tm.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	dialer.socket(t, 0).drop(errors.New("reset by peer"))

	if tm.State() != interfaces.StateDisconnected {
		t.Fatalf("State = %s, want disconnected", tm.State())
	}
	if tm.recorder.lastState() != interfaces.StateDisconnected {
		t.Errorf("last event = %s, want disconnected", tm.recorder.lastState())
	}

	if err := tm.Send(ctx, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n := dialer.dialCount(); n != 2 {
		t.Errorf("dials = %d, want 2", n)
	}
	if n := dialer.socket(t, 1).sentCount(); n != 1 {
		t.Errorf("frames on new socket = %d, want 1", n)
	}
}

func TestManagerSendFailsWithoutTouchingWire(t *testing.T) {
	dialer := &fakeDialer{fail: true}
	tm := newTestManager(t, dialer)

	err := tm.Send(context.Background(), []byte(`{}`))
	if !errors.Is(err, ErrReconnectExhausted) {
		t.Fatalf("Send = %v, want ErrReconnectExhausted", err)
	}
	dialer.mu.Lock()
	defer dialer.mu.Unlock()
	if len(dialer.sockets) != 0 {
		t.Errorf("sockets opened = %d, want 0", len(dialer.sockets))
	}
}

func TestManagerDispose(t *testing.T) {
	dialer := &fakeDialer{}
	tm := newTestManager(t, dialer)
	ctx := context.Background()

	if err := tm.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	sock := dialer.socket(t, 0)

	tm.Dispose()
	tm.Dispose()

	if !sock.isClosed() {
		t.Error("socket left open after Dispose")
	}
	if tm.State() != interfaces.StateDisconnected {
		t.Errorf("State = %s, want disconnected", tm.State())
	}
	if err := tm.Initialize(ctx); !errors.Is(err, ErrClientDisposed) {
		t.Errorf("Initialize after Dispose = %v, want ErrClientDisposed", err)
	}
	if err := tm.Reconnect(ctx, true); !errors.Is(err, ErrClientDisposed) {
		t.Errorf("Reconnect after Dispose = %v, want ErrClientDisposed", err)
	}
	if err := tm.Send(ctx, []byte(`{}`)); !errors.Is(err, ErrClientDisposed) {
		t.Errorf("Send after Dispose = %v, want ErrClientDisposed", err)
	}
}

func TestManagerDisposeInterruptsBackoff(t *testing.T) {
	dialer := &fakeDialer{fail: true}
	m := NewManager(ManagerConfig{
		Endpoint: "ws://service.test/ws",
		Policy:   ReconnectPolicy{MaxAttempts: 5, BaseDelay: time.Hour},
		Dialer:   dialer,
	}, ManagerHooks{})

	result := make(chan error, 1)
	go func() {
		result <- m.Reconnect(context.Background(), false)
	}()

	waitFor(t, "first dial", func() bool { return dialer.dialCount() == 1 })
	m.Dispose()

	select {
	case err := <-result:
		if !errors.Is(err, ErrClientDisposed) {
			t.Errorf("Reconnect = %v, want ErrClientDisposed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Reconnect did not return after Dispose")
	}
}
