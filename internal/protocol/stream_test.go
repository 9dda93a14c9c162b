package protocol

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/universal-console/streamrpc/internal/interfaces"
)

const testCoalesce = 20 * time.Millisecond

// settle is comfortably longer than the coalescing delay
const settle = 80 * time.Millisecond

func newTestAggregator(t *testing.T) (*Aggregator, *updateLog) {
	t.Helper()
	published := &updateLog{}
	a := NewAggregator(testCoalesce, published.add)
	t.Cleanup(a.Dispose)
	return a, published
}

func openStream(t *testing.T, a *Aggregator, id string) (*Stream, *updateLog) {
	t.Helper()
	log := &updateLog{}
	st, err := a.Open(id, "chat", nil, log.add)
	if err != nil {
		t.Fatalf("Open(%s): %v", id, err)
	}
	return st, log
}

func texts(updates []interfaces.StreamUpdate) []string {
	out := make([]string, len(updates))
	for i, u := range updates {
		out[i] = u.Text
	}
	return out
}

func TestAggregatorCoalescesRapidChunks(t *testing.T) {
	a, published := newTestAggregator(t)
	_, log := openStream(t, a, "s1")

	for i := 0; i < 10; i++ {
		env := chunk("s1", "a")
		a.Feed(&env)
	}
	time.Sleep(settle)

	updates := log.snapshot()
	if len(updates) != 1 {
		t.Fatalf("got %d publications %q, want 1", len(updates), texts(updates))
	}
	if updates[0].Text != strings.Repeat("a", 10) || updates[0].Final {
		t.Errorf("publication = %+v, want full buffer, not final", updates[0])
	}
	if len(published.snapshot()) != 1 {
		t.Errorf("publish hook saw %d updates, want 1", len(published.snapshot()))
	}
}

func TestAggregatorPublishesEachSpacedChunk(t *testing.T) {
	a, _ := newTestAggregator(t)
	_, log := openStream(t, a, "s1")

	for _, part := range []string{"a", "b", "c"} {
		env := chunk("s1", part)
		a.Feed(&env)
		time.Sleep(settle)
	}

	got := texts(log.snapshot())
	want := []string{"a", "ab", "abc"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("publications = %q, want %q", got, want)
	}
}

func TestAggregatorHelloScenario(t *testing.T) {
	a, _ := newTestAggregator(t)
	st, log := openStream(t, a, "s1")

	hel := chunk("s1", "Hel")
	a.Feed(&hel)
	time.Sleep(settle)
	lo := chunk("s1", "lo")
	a.Feed(&lo)
	time.Sleep(settle)
	done := doneChunk("s1")
	if !a.Feed(&done) {
		t.Fatal("done chunk was not consumed")
	}

	stray := chunk("s1", "!")
	if a.Feed(&stray) {
		t.Error("chunk after done was consumed")
	}
	time.Sleep(settle)

	updates := log.snapshot()
	if got := texts(updates); strings.Join(got, "|") != "Hel|Hello|Hello" {
		t.Fatalf("publications = %q, want [Hel Hello Hello]", got)
	}
	for i, u := range updates {
		if wantFinal := i == 2; u.Final != wantFinal {
			t.Errorf("update %d Final = %v, want %v", i, u.Final, wantFinal)
		}
	}

	text, err := st.Wait(context.Background())
	if err != nil || text != "Hello" {
		t.Errorf("Wait = (%q, %v), want (Hello, nil)", text, err)
	}
	if a.Active() != 0 {
		t.Errorf("Active = %d, want 0", a.Active())
	}
}

func TestAggregatorDoneBypassesPendingTimer(t *testing.T) {
	a, _ := newTestAggregator(t)
	_, log := openStream(t, a, "s1")

	for _, part := range []string{"a", "b"} {
		env := chunk("s1", part)
		a.Feed(&env)
	}
	done := doneChunk("s1")
	a.Feed(&done)

	updates := log.snapshot()
	if len(updates) != 1 || !updates[0].Final || updates[0].Text != "ab" {
		t.Fatalf("publications right after done = %+v, want one final 'ab'", updates)
	}

	time.Sleep(settle)
	if n := len(log.snapshot()); n != 1 {
		t.Errorf("got %d publications after timer window, want 1", n)
	}
}

func TestAggregatorErrorChunkTerminates(t *testing.T) {
	a, _ := newTestAggregator(t)
	st, log := openStream(t, a, "s1")

	partial := chunk("s1", "partial")
	a.Feed(&partial)
	failure := interfaces.Envelope{
		Type:     interfaces.TypeChunk,
		ParentID: "s1",
		Error:    &interfaces.ErrorPayload{ErrorType: "ValueError", Title: "bad input"},
	}
	a.Feed(&failure)

	late := chunk("s1", "late")
	if a.Feed(&late) {
		t.Error("chunk after error was consumed")
	}
	time.Sleep(settle)

	updates := log.snapshot()
	if len(updates) != 1 {
		t.Fatalf("got %d publications, want 1 terminal error", len(updates))
	}
	var remote *RemoteError
	if !updates[0].Final || !errors.As(updates[0].Err, &remote) {
		t.Fatalf("update = %+v, want final RemoteError", updates[0])
	}
	if remote.Payload.ErrorType != "ValueError" || updates[0].Text != "" {
		t.Errorf("unexpected terminal update %+v", updates[0])
	}

	if _, err := st.Wait(context.Background()); !errors.As(err, &remote) {
		t.Errorf("Wait error = %v, want RemoteError", err)
	}
}

func TestAggregatorIgnoresUnknownSession(t *testing.T) {
	a, published := newTestAggregator(t)
	openStream(t, a, "mine")

	other := chunk("theirs", "x")
	if a.Feed(&other) {
		t.Error("chunk for another session was consumed")
	}
	time.Sleep(settle)
	if n := len(published.snapshot()); n != 0 {
		t.Errorf("got %d publications, want 0", n)
	}
}

func TestAggregatorRejectsDuplicateSession(t *testing.T) {
	a, _ := newTestAggregator(t)
	openStream(t, a, "s1")

	if _, err := a.Open("s1", "chat", nil, nil); !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("Open duplicate = %v, want ErrDuplicateRequest", err)
	}
}

func TestAggregatorDisposeAbandonsSessions(t *testing.T) {
	a := NewAggregator(testCoalesce, nil)
	st, log := openStream(t, a, "s1")

	env := chunk("s1", "pending")
	a.Feed(&env)
	a.Dispose()
	a.Dispose()
	time.Sleep(settle)

	if n := len(log.snapshot()); n != 0 {
		t.Errorf("abandoned session published %d updates", n)
	}
	if _, err := st.Wait(context.Background()); !errors.Is(err, ErrClientDisposed) {
		t.Errorf("Wait = %v, want ErrClientDisposed", err)
	}
	if _, err := a.Open("s2", "chat", nil, nil); !errors.Is(err, ErrClientDisposed) {
		t.Errorf("Open after dispose = %v, want ErrClientDisposed", err)
	}
}

func TestStreamWaitContextCancelsSession(t *testing.T) {
	a, _ := newTestAggregator(t)
	st, log := openStream(t, a, "s1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := st.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want DeadlineExceeded", err)
	}
	if a.Active() != 0 {
		t.Errorf("Active = %d, want 0", a.Active())
	}

	env := chunk("s1", "late")
	if a.Feed(&env) {
		t.Error("chunk after cancellation was consumed")
	}
	if n := len(log.snapshot()); n != 0 {
		t.Errorf("cancelled stream published %d updates", n)
	}
}
