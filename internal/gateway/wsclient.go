package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/feedsync/internal/feed"
	"github.com/Rajchodisetti/feedsync/internal/observ"
)

// ConnectionState is the websocket session state.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// WSConfig configures a websocket gateway client.
type WSConfig struct {
	URL            string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	Reconnect      ReconnectConfig
	// HistoricalPerMinute paces historical requests; 0 disables pacing.
	HistoricalPerMinute int
	Buffer              int
}

type ReconnectConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int // attempts per Reconnect call
}

type wsSub struct {
	sub *feed.Subscription
	ch  chan feed.Message
}

// WSClient is a Gateway speaking the JSON envelope protocol over a
// websocket. Live channels outlive the connection: a reconnect that
// resubscribes keeps feeding the channels handed out before the outage.
type WSClient struct {
	cfg     WSConfig
	dialer  *websocket.Dialer
	backoff Backoff
	limiter *rate.Limiter

	state atomic.Int32

	reconnectMu sync.Mutex
	writeMu     sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	subs    map[string]*wsSub
	hist    map[string]chan feed.Message
	pending map[string]chan Envelope
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWSClient returns a disconnected client.
func NewWSClient(cfg WSConfig) *WSClient {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.Reconnect.MaxAttempts <= 0 {
		cfg.Reconnect.MaxAttempts = 5
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 4096
	}
	bo := DefaultBackoff()
	if cfg.Reconnect.InitialDelay > 0 {
		bo.Min = cfg.Reconnect.InitialDelay
	}
	if cfg.Reconnect.MaxDelay > 0 {
		bo.Max = cfg.Reconnect.MaxDelay
	}

	c := &WSClient{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		backoff: bo,
		subs:    map[string]*wsSub{},
		hist:    map[string]chan feed.Message{},
		pending: map[string]chan Envelope{},
		done:    make(chan struct{}),
	}
	if cfg.HistoricalPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.HistoricalPerMinute)), 1)
	}
	return c
}

// ConnectionState returns the current session state.
func (c *WSClient) ConnectionState() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *WSClient) IsConnected() bool {
	return c.ConnectionState() == StateConnected
}

func (c *WSClient) Connect(ctx context.Context) error {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()
	if c.IsConnected() {
		return nil
	}
	return c.dial(ctx)
}

// Reconnect dials with backoff until MaxAttempts is exhausted. Concurrent
// callers queue on the same mutex and find the session already restored.
func (c *WSClient) Reconnect(ctx context.Context, resubscribe bool) error {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	if c.IsConnected() {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Reconnect.MaxAttempts; attempt++ {
		if err := c.dial(ctx); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := c.backoff.Next(attempt)
			observ.Log("gateway_reconnect_failed", map[string]any{
				"url":      c.cfg.URL,
				"attempt":  attempt,
				"delay_ms": delay.Milliseconds(),
				"error":    err.Error(),
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			case <-c.done:
				return NewClosedError("reconnect")
			}
			continue
		}
		if resubscribe {
			if err := c.resubscribeAll(); err != nil {
				return err
			}
		}
		return nil
	}
	return NewNetworkError("reconnect", fmt.Sprintf("gave up after %d attempts", c.cfg.Reconnect.MaxAttempts), lastErr)
}

func (c *WSClient) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return NewClosedError("dial")
	}
	c.mu.Unlock()

	c.state.Store(int32(StateConnecting))
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	conn, _, err := c.dialer.DialContext(dctx, c.cfg.URL, nil)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return NewNetworkError("dial", "websocket dial "+c.cfg.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.state.Store(int32(StateConnected))
	observ.Log("gateway_connected", map[string]any{"url": c.cfg.URL})

	c.wg.Add(1)
	go c.readLoop(conn)
	return nil
}

func (c *WSClient) resubscribeAll() error {
	c.mu.Lock()
	reqs := make([]Request, 0, len(c.subs))
	for id, s := range c.subs {
		spec := s.sub.Contract.Spec
		reqs = append(reqs, Request{
			Op:         OpSubscribe,
			ID:         id,
			Contract:   &spec,
			ContractID: s.sub.Contract.ID,
			Kind:       s.sub.Kind.String(),
		})
	}
	c.mu.Unlock()
	for _, r := range reqs {
		if err := c.send(r); err != nil {
			return err
		}
	}
	return nil
}

func (c *WSClient) ResolveContract(ctx context.Context, spec feed.ContractSpec) (feed.Contract, error) {
	id := uuid.NewString()
	reply := make(chan Envelope, 1)
	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(Request{Op: OpResolve, ID: id, Contract: &spec}); err != nil {
		return feed.Contract{}, err
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case env, ok := <-reply:
		if !ok {
			return feed.Contract{}, NewNetworkError("resolve", "connection lost", nil)
		}
		if env.Type == TypeError {
			var p ErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			return feed.Contract{}, NewRejectedError("resolve", fmt.Sprintf("%s: code %d %s", spec.Symbol, p.Code, p.Message))
		}
		var ct feed.Contract
		if err := json.Unmarshal(env.Payload, &ct); err != nil {
			return feed.Contract{}, NewProtocolError("resolve", "bad contract payload", err)
		}
		return ct, nil
	case <-timer.C:
		return feed.Contract{}, NewNetworkError("resolve", "timed out waiting for contract", nil)
	case <-ctx.Done():
		return feed.Contract{}, ctx.Err()
	}
}

func (c *WSClient) SubscribeLive(ctx context.Context, ct feed.Contract, kind feed.LiveKind) (*feed.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan feed.Message, c.cfg.Buffer)
	sub := &feed.Subscription{ID: uuid.NewString(), Contract: ct, Kind: kind, C: ch}
	c.mu.Lock()
	c.subs[sub.ID] = &wsSub{sub: sub, ch: ch}
	c.mu.Unlock()

	spec := ct.Spec
	err := c.send(Request{Op: OpSubscribe, ID: sub.ID, Contract: &spec, ContractID: ct.ID, Kind: kind.String()})
	if err != nil {
		c.mu.Lock()
		delete(c.subs, sub.ID)
		c.mu.Unlock()
		return nil, err
	}
	return sub, nil
}

func (c *WSClient) UnsubscribeLive(sub *feed.Subscription) {
	if sub == nil {
		return
	}
	c.mu.Lock()
	_, ok := c.subs[sub.ID]
	delete(c.subs, sub.ID)
	c.mu.Unlock()
	if ok && c.IsConnected() {
		_ = c.send(Request{Op: OpUnsubscribe, ID: sub.ID})
	}
}

func (c *WSClient) RequestHistorical(ctx context.Context, req feed.HistoricalRequest) (*feed.HistoricalStream, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	id := uuid.NewString()
	ch := make(chan feed.Message, c.cfg.Buffer)
	c.mu.Lock()
	c.hist[id] = ch
	c.mu.Unlock()

	if err := c.send(HistoricalRequestFrame(id, req)); err != nil {
		c.mu.Lock()
		delete(c.hist, id)
		c.mu.Unlock()
		return nil, err
	}
	return &feed.HistoricalStream{ID: id, Request: req, C: ch}, nil
}

func (c *WSClient) CancelHistorical(hs *feed.HistoricalStream) {
	if hs == nil {
		return
	}
	c.mu.Lock()
	_, ok := c.hist[hs.ID]
	delete(c.hist, hs.ID)
	c.mu.Unlock()
	if ok && c.IsConnected() {
		_ = c.send(Request{Op: OpCancel, ID: hs.ID})
	}
}

// Close tears down the session. Pending channels are left open; readers
// see ConnLost.
func (c *WSClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	close(c.done)
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.wg.Wait()
	return err
}

func (c *WSClient) send(r Request) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !c.IsConnected() {
		return NewNotConnectedError(r.Op)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.RequestTimeout))
	if err := conn.WriteJSON(r); err != nil {
		return NewNetworkError(r.Op, "write request", err)
	}
	return nil
}

func (c *WSClient) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.connectionLost(conn, err)
			return
		}
		observ.GatewayMessagesTotal.WithLabelValues("ws", env.Type).Inc()
		c.route(env)
	}
}

func (c *WSClient) route(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if reply, ok := c.pending[env.ID]; ok && env.ID != "" {
		select {
		case reply <- env:
		default:
		}
		return
	}
	if env.Type == TypeContract {
		return
	}

	msg, err := DecodeMessage(env)
	if err != nil {
		observ.Warn("gateway_bad_envelope", map[string]any{"type": env.Type, "id": env.ID, "error": err.Error()})
		return
	}

	if env.ID == "" {
		if msg.Kind != feed.KindError {
			return
		}
		for _, s := range c.subs {
			pushLatest(s.ch, msg)
		}
		return
	}
	if s, ok := c.subs[env.ID]; ok {
		if !trySend(s.ch, msg) {
			observ.Warn("gateway_live_dropped", map[string]any{"id": env.ID, "type": env.Type})
		}
		return
	}
	if ch, ok := c.hist[env.ID]; ok {
		// historical data must not be dropped
		c.mu.Unlock()
		timer := time.NewTimer(c.cfg.RequestTimeout)
		select {
		case ch <- msg:
		case <-c.done:
		case <-timer.C:
			observ.Warn("gateway_historical_stalled", map[string]any{"id": env.ID, "type": env.Type})
		}
		timer.Stop()
		c.mu.Lock()
		if msg.Kind == feed.KindEndOfStream {
			delete(c.hist, env.ID)
		}
	}
}

func (c *WSClient) connectionLost(conn *websocket.Conn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	_ = conn.Close()
	c.conn = nil
	c.state.Store(int32(StateDisconnected))

	if !c.closed {
		observ.Warn("gateway_connection_lost", map[string]any{"url": c.cfg.URL, "error": err.Error()})
	}
	lost := feed.ConnLostMessage()
	for _, s := range c.subs {
		pushLatest(s.ch, lost)
	}
	for id, ch := range c.hist {
		pushLatest(ch, lost)
		delete(c.hist, id)
	}
	for id, reply := range c.pending {
		close(reply)
		delete(c.pending, id)
	}
}

func trySend(ch chan feed.Message, m feed.Message) bool {
	select {
	case ch <- m:
		return true
	default:
		return false
	}
}

// pushLatest delivers m, discarding the oldest buffered message if needed.
func pushLatest(ch chan feed.Message, m feed.Message) {
	for {
		select {
		case ch <- m:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
