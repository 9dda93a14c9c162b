package protocol

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/universal-console/streamrpc/internal/interfaces"
	"github.com/universal-console/streamrpc/internal/logging"
)

type replyState int

const (
	replyPending replyState = iota
	replyFulfilled
	replyRejected
)

// pendingReply is a single-fulfillment waiter for one request id
type pendingReply struct {
	id    string
	state replyState
	reply *interfaces.Envelope
	err   error
	done  chan struct{}
}

// settle moves the waiter out of pending exactly once. Callers hold the
// correlator lock.
func (p *pendingReply) settle(reply *interfaces.Envelope, err error) bool {
	if p.state != replyPending {
		return false
	}
	if err != nil {
		p.state = replyRejected
		p.err = err
	} else {
		p.state = replyFulfilled
		p.reply = reply
	}
	close(p.done)
	return true
}

// Correlator matches reply envelopes to outstanding requests by id
type Correlator struct {
	logger *logging.Logger

	mu       sync.Mutex
	pending  map[string]*pendingReply
	settled  *ttlcache.Cache[string, struct{}]
	disposed bool
}

// NewCorrelator creates a Correlator remembering settled ids for settledTTL so
// late duplicates can be told apart from replies nobody asked for.
func NewCorrelator(settledTTL time.Duration) *Correlator {
	if settledTTL <= 0 {
		settledTTL = DefaultSettledTTL
	}

	settled := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](settledTTL),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go settled.Start()

	return &Correlator{
		logger:  logging.GetProtocolLogger().WithField("part", "correlator"),
		pending: make(map[string]*pendingReply),
		settled: settled,
	}
}

// Register adds a waiter for id. An id that is still outstanding is refused.
func (c *Correlator) Register(id string) (*pendingReply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return nil, ErrClientDisposed
	}
	if _, exists := c.pending[id]; exists {
		return nil, ErrDuplicateRequest
	}

	p := &pendingReply{id: id, done: make(chan struct{})}
	c.pending[id] = p
	c.settled.Delete(id)
	return p, nil
}

// Resolve fulfills the waiter for reply.ParentID. It reports whether a waiter
// matched and, when none did, whether the id was recently settled.
func (c *Correlator) Resolve(reply *interfaces.Envelope) (matched bool, duplicate bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[reply.ParentID]
	if !ok {
		return false, !c.disposed && c.settled.Has(reply.ParentID)
	}

	delete(c.pending, reply.ParentID)
	p.settle(reply, nil)
	c.settled.Set(reply.ParentID, struct{}{}, ttlcache.DefaultTTL)
	return true, false
}

// Reject removes the waiter for id and fails it with err
func (c *Correlator) Reject(id string, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[id]
	if !ok {
		return false
	}
	delete(c.pending, id)
	if !c.disposed {
		c.settled.Set(id, struct{}{}, ttlcache.DefaultTTL)
	}
	return p.settle(nil, err)
}

// Wait blocks until p settles or ctx ends. On ctx end the waiter is removed, so a
// reply arriving afterwards is treated as a duplicate.
func (c *Correlator) Wait(ctx context.Context, p *pendingReply) (*interfaces.Envelope, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		c.Reject(p.id, ctx.Err())
		<-p.done
	}
	return p.reply, p.err
}

// Holds reports whether a waiter for id is outstanding
func (c *Correlator) Holds(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

// Outstanding returns the number of waiters not yet settled
func (c *Correlator) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// DisposeAll rejects every outstanding waiter with ErrClientDisposed and refuses
// further registrations.
func (c *Correlator) DisposeAll() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	pending := c.pending
	c.pending = make(map[string]*pendingReply)
	for _, p := range pending {
		p.settle(nil, ErrClientDisposed)
	}
	c.mu.Unlock()

	c.settled.Stop()
	c.settled.DeleteAll()
	if len(pending) > 0 {
		c.logger.Debug("Rejected outstanding requests on dispose", "count", len(pending))
	}
}
