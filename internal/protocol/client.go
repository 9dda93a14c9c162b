package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/universal-console/streamrpc/internal/interfaces"
	"github.com/universal-console/streamrpc/internal/logging"
)

// ClientVersion is reported in the User-Agent of the probe and the handshake
const ClientVersion = "1.0.0"

// Client composes the connection Manager, the Correlator and the Aggregator.
// It is the only object callers hold.
type Client struct {
	profile        *interfaces.Profile
	conn           *Manager
	correlator     *Correlator
	streams        *Aggregator
	requestTimeout time.Duration
	logger         *logging.Logger

	messages     subscribers[*interfaces.Envelope]
	chunks       subscribers[interfaces.StreamUpdate]
	connectivity subscribers[interfaces.ConnectivityEvent]

	received      atomic.Int64
	bytesReceived atomic.Int64
	disposeOnce   sync.Once
}

// Option customizes a Client
type Option func(*clientOptions)

type clientOptions struct {
	dialer      Dialer
	prober      Prober
	skipProbe   bool
	sleep       func(ctx context.Context, d time.Duration) error
	authManager interfaces.AuthManager
}

// WithDialer replaces the websocket dialer
func WithDialer(d Dialer) Option {
	return func(o *clientOptions) { o.dialer = d }
}

// WithProber replaces the HTTP availability prober
func WithProber(p Prober) Option {
	return func(o *clientOptions) { o.prober = p }
}

// WithoutProbe skips the availability check before connecting
func WithoutProbe() Option {
	return func(o *clientOptions) { o.skipProbe = true }
}

// WithSleep replaces the backoff wait
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *clientOptions) { o.sleep = fn }
}

// WithAuthManager builds the Authorization header through the given manager
func WithAuthManager(am interfaces.AuthManager) Option {
	return func(o *clientOptions) { o.authManager = am }
}

// NewClient creates a Client for the profile. No connection is made until
// Initialize or the first Send.
func NewClient(profile *interfaces.Profile, opts ...Option) (*Client, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile cannot be nil")
	}
	if strings.TrimSpace(profile.Endpoint) == "" {
		return nil, fmt.Errorf("profile %q has no endpoint", profile.Name)
	}

	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	settings := resolveSettings(profile.Connection)

	probeURL, err := ProbeTarget(profile)
	if err != nil {
		return nil, err
	}

	header, err := BuildHeader(&profile.Auth, o.authManager)
	if err != nil {
		return nil, err
	}

	dialer := o.dialer
	if dialer == nil {
		dialer = NewWebsocketDialer(settings.handshakeTimeout)
	}
	var prober Prober
	if !o.skipProbe {
		prober = o.prober
		if prober == nil {
			prober = NewHTTPProber(settings.probeTimeout)
		}
	}

	c := &Client{
		profile:        profile,
		correlator:     NewCorrelator(settings.settledTTL),
		requestTimeout: settings.requestTimeout,
		logger:         logging.GetProtocolLogger().WithField("profile", profile.Name),
	}
	c.streams = NewAggregator(settings.coalesceDelay, c.chunks.notify)
	c.conn = NewManager(ManagerConfig{
		Endpoint: profile.Endpoint,
		ProbeURL: probeURL,
		Header:   header,
		AuthType: profile.Auth.Type,
		Policy:   settings.policy,
		Dialer:   dialer,
		Prober:   prober,
		Sleep:    o.sleep,
	}, ManagerHooks{
		OnMessage:      c.handleMessage,
		OnState:        c.connectivity.notify,
		OnProbeFailure: c.messages.notify,
	})

	return c, nil
}

// Initialize opens the connection and waits for it to be ready
func (c *Client) Initialize(ctx context.Context) error {
	return c.conn.Initialize(ctx)
}

// Ready waits for the current bring-up to finish
func (c *Client) Ready(ctx context.Context) error {
	return c.conn.Ready(ctx)
}

// Reconnect drops the connection and brings it back up with backoff.
// forceReset restarts the attempt budget.
func (c *Client) Reconnect(ctx context.Context, forceReset bool) error {
	return c.conn.Reconnect(ctx, forceReset)
}

// State returns the current connection state
func (c *Client) State() interfaces.ConnState {
	return c.conn.State()
}

// Profile returns the profile the client was built from
func (c *Client) Profile() *interfaces.Profile {
	return c.profile
}

// Send transmits req and waits for its reply. A reply carrying an error is
// returned together with a *RemoteError. Streaming requests wait for the final
// chunk and return it as a done chunk envelope holding the full text.
func (c *Client) Send(ctx context.Context, req interfaces.Request) (*interfaces.Envelope, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if req.Stream {
		stream, err := c.Stream(ctx, req, nil)
		if err != nil {
			return nil, err
		}
		text, err := stream.Wait(ctx)
		if err != nil {
			return nil, err
		}
		return &interfaces.Envelope{
			Type:     interfaces.TypeChunk,
			ParentID: stream.ID(),
			Chunk:    &interfaces.ChunkBody{Content: text},
			Done:     true,
		}, nil
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	data, err := encodeRequest(req)
	if err != nil {
		return nil, err
	}

	if c.streams.Holds(req.ID) {
		return nil, ErrDuplicateRequest
	}
	p, err := c.correlator.Register(req.ID)
	if err != nil {
		return nil, err
	}
	if err := c.conn.Send(ctx, data); err != nil {
		c.correlator.Reject(req.ID, err)
		return nil, err
	}
	c.logger.LogEnvelope("out", req.Kind, req.ID, len(data))

	reply, err := c.correlator.Wait(ctx, p)
	if err != nil {
		return nil, err
	}
	if payload := reply.ErrorInfo(); payload != nil {
		return reply, &RemoteError{ParentID: req.ID, Payload: *payload}
	}
	return reply, nil
}

// Stream opens a stream session and sends req with streaming enabled. handler,
// when non-nil, receives this stream's publications before chunk subscribers do.
// Handlers run on the socket's read goroutine or the coalescing timer and must
// not block.
func (c *Client) Stream(ctx context.Context, req interfaces.Request, handler func(interfaces.StreamUpdate)) (*Stream, error) {
	req.Stream = true
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	data, err := encodeRequest(req)
	if err != nil {
		return nil, err
	}

	// Replies and chunks share the parent id space.
	if c.correlator.Holds(req.ID) {
		return nil, ErrDuplicateRequest
	}
	stream, err := c.streams.Open(req.ID, req.Kind, req.Metadata, handler)
	if err != nil {
		return nil, err
	}
	if err := c.conn.Send(ctx, data); err != nil {
		c.streams.cancel(stream.session, err)
		return nil, err
	}
	c.logger.LogEnvelope("out", req.Kind, req.ID, len(data))
	return stream, nil
}

// OnMessage subscribes to every decoded envelope, including the synthetic error
// event raised when the availability probe fails. Envelopes must not be modified.
func (c *Client) OnMessage(fn func(*interfaces.Envelope)) func() {
	return c.messages.add(fn)
}

// OnChunk subscribes to the publications of every stream
func (c *Client) OnChunk(fn func(interfaces.StreamUpdate)) func() {
	return c.chunks.add(fn)
}

// OnConnectivity subscribes to connection state transitions
func (c *Client) OnConnectivity(fn func(interfaces.ConnectivityEvent)) func() {
	return c.connectivity.add(fn)
}

// Stats returns a snapshot of connection and traffic counters
func (c *Client) Stats() ConnectionStatistics {
	var stats ConnectionStatistics
	c.conn.fillStats(&stats)
	stats.MessagesReceived = c.received.Load()
	stats.BytesReceived = c.bytesReceived.Load()
	stats.Outstanding = c.correlator.Outstanding()
	stats.ActiveStreams = c.streams.Active()
	return stats
}

// Dispose rejects outstanding requests, abandons streams and closes the socket.
// Calling it again has no further effect.
func (c *Client) Dispose() error {
	c.disposeOnce.Do(func() {
		c.correlator.DisposeAll()
		c.streams.Dispose()
		c.conn.Dispose()

		c.messages.clear()
		c.chunks.clear()
		c.connectivity.clear()
		c.logger.Info("Client disposed")
	})
	return nil
}

// handleMessage decodes one inbound frame and routes it by type
func (c *Client) handleMessage(data []byte) {
	var env interfaces.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("Dropping undecodable frame", "error", err.Error(), "bytes", len(data))
		return
	}
	c.received.Add(1)
	c.bytesReceived.Add(int64(len(data)))
	c.logger.LogEnvelope("in", env.Type, env.ParentID, len(data))

	c.messages.notify(&env)

	switch env.Type {
	case interfaces.TypeReply:
		c.routeReply(&env)
	case interfaces.TypeChunk:
		if !c.streams.Feed(&env) {
			c.logger.Debug("Ignoring chunk for unknown stream", "parent_id", env.ParentID)
		}
	case interfaces.TypeError:
		c.logger.Warn("Service reported an error", "error_type", env.ErrorType, "title", env.Title)
	default:
		c.logger.Debug("Unrouted envelope", "type", env.Type)
	}
}

// routeReply resolves the waiter for env. Error replies nobody waits for are
// handed to a stream with the same id, if one is live.
func (c *Client) routeReply(env *interfaces.Envelope) {
	matched, duplicate := c.correlator.Resolve(env)
	if matched {
		return
	}
	if duplicate {
		c.logger.Debug("Dropping duplicate reply", "parent_id", env.ParentID)
		return
	}

	c.logger.Warn("Reply matched no outstanding request", "parent_id", env.ParentID)

	payload := env.ErrorInfo()
	if payload == nil {
		return
	}
	forwarded := c.streams.Feed(&interfaces.Envelope{
		Type:     interfaces.TypeChunk,
		ParentID: env.ParentID,
		Done:     true,
		Error:    payload,
	})
	if !forwarded {
		c.logger.Warn("Unmatched error reply dropped",
			"parent_id", env.ParentID,
			"error_type", payload.ErrorType,
			"title", payload.Title)
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout > 0 {
		return context.WithTimeout(ctx, c.requestTimeout)
	}
	return context.WithCancel(ctx)
}

func encodeRequest(req interfaces.Request) ([]byte, error) {
	if strings.TrimSpace(req.Kind) == "" {
		return nil, &ProtocolError{
			Type:      ErrorTypeEncoding,
			Message:   "request kind cannot be empty",
			Timestamp: time.Now(),
		}
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	data, err := json.Marshal(wireRequest{
		Type:      req.Kind,
		MessageID: req.ID,
		Metadata:  metadata,
		Stream:    req.Stream,
	})
	if err != nil {
		return nil, wrapEncodingError("failed to encode request", err)
	}
	return data, nil
}

// BuildHeader returns the headers sent with both the probe and the handshake
func BuildHeader(auth *interfaces.AuthConfig, am interfaces.AuthManager) (http.Header, error) {
	header := http.Header{}
	header.Set("User-Agent", "streamrpc-console/"+ClientVersion)

	var value string
	switch {
	case am != nil:
		v, err := am.CreateAuthHeader(auth)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		value = v
	case strings.EqualFold(auth.Type, "bearer") && auth.Token != "":
		value = "Bearer " + auth.Token
	}
	if value != "" {
		header.Set("Authorization", value)
	}
	return header, nil
}

type resolvedSettings struct {
	policy           ReconnectPolicy
	coalesceDelay    time.Duration
	handshakeTimeout time.Duration
	probeTimeout     time.Duration
	requestTimeout   time.Duration
	settledTTL       time.Duration
}

func resolveSettings(cs interfaces.ConnectionSettings) resolvedSettings {
	s := resolvedSettings{
		policy:           DefaultReconnectPolicy(),
		coalesceDelay:    DefaultCoalesceDelay,
		handshakeTimeout: DefaultHandshakeTimeout,
		probeTimeout:     DefaultProbeTimeout,
		requestTimeout:   cs.RequestTimeout.Std(),
		settledTTL:       DefaultSettledTTL,
	}
	if cs.MaxAttempts > 0 {
		s.policy.MaxAttempts = cs.MaxAttempts
	}
	if cs.BaseDelay > 0 {
		s.policy.BaseDelay = cs.BaseDelay.Std()
	}
	if cs.CoalesceDelay > 0 {
		s.coalesceDelay = cs.CoalesceDelay.Std()
	}
	if cs.HandshakeTimeout > 0 {
		s.handshakeTimeout = cs.HandshakeTimeout.Std()
	}
	if cs.ProbeTimeout > 0 {
		s.probeTimeout = cs.ProbeTimeout.Std()
	}
	if cs.SettledTTL > 0 {
		s.settledTTL = cs.SettledTTL.Std()
	}
	return s
}

var _ interfaces.ProtocolClient = (*Client)(nil)
