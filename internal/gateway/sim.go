package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Rajchodisetti/feedsync/internal/feed"
	"github.com/Rajchodisetti/feedsync/internal/observ"
)

// SimConfig tunes the in-process gateway.
type SimConfig struct {
	// Buffer is the capacity of every live and historical channel.
	Buffer int
	// MaxHistoryBars caps synthesized history for unbounded requests.
	MaxHistoryBars int
	// Seed makes the random walk deterministic; 0 uses the clock.
	Seed int64
}

// Sim is an in-process gateway. Tests script it message by message; the
// CLI drives it with a random walk through Run.
type Sim struct {
	cfg  SimConfig
	walk *Walk

	reconnectMu sync.Mutex

	mu         sync.Mutex
	connected  bool
	connectErr error
	reconnects []error // consumed one per Reconnect while down
	rejected   map[string]error
	nextID     int64
	contracts  map[string]feed.Contract

	live     map[string]chan feed.Message // per symbol, survives resubscription
	subs     map[string]*feed.Subscription
	hist     map[string]chan feed.Message
	scripted [][]feed.Message
	stored   map[string][]feed.Bar

	stats SimStats
}

// SimStats counts gateway calls for assertions.
type SimStats struct {
	Connects       int
	Reconnects     int
	Subscribes     int
	Unsubscribes   int
	Cancels        int
	HistRequests   []feed.HistoricalRequest
	ResubscribeOps int
}

// NewSim returns a disconnected simulator.
func NewSim(cfg SimConfig) *Sim {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.MaxHistoryBars <= 0 {
		cfg.MaxHistoryBars = 500
	}
	return &Sim{
		cfg:       cfg,
		walk:      NewWalk(cfg.Seed),
		rejected:  map[string]error{},
		contracts: map[string]feed.Contract{},
		live:      map[string]chan feed.Message{},
		subs:      map[string]*feed.Subscription{},
		hist:      map[string]chan feed.Message{},
		stored:    map[string][]feed.Bar{},
	}
}

// Walk exposes the price generator.
func (s *Sim) Walk() *Walk { return s.walk }

// FailConnect makes the next Connect calls return err (nil clears it).
func (s *Sim) FailConnect(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectErr = err
}

// ScriptReconnects queues outcomes for the next Reconnect calls that find
// the session down. Unscripted reconnects succeed.
func (s *Sim) ScriptReconnects(results ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects = append(s.reconnects, results...)
}

// RejectSymbol makes ResolveContract fail for symbol.
func (s *Sim) RejectSymbol(symbol string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[strings.ToUpper(symbol)] = err
}

// StoreBars makes bars available to unscripted historical requests.
func (s *Sim) StoreBars(symbol string, bars ...feed.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToUpper(symbol)
	s.stored[key] = append(s.stored[key], bars...)
	sort.Slice(s.stored[key], func(i, j int) bool { return s.stored[key][i].Time.Before(s.stored[key][j].Time) })
}

// ScriptHistory queues the exact answer to the next historical request.
// An EndOfStream is appended unless msgs already ends the stream.
func (s *Sim) ScriptHistory(msgs ...feed.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripted = append(s.scripted, msgs)
}

// Push delivers messages to symbol's live channel, subscribed or not.
func (s *Sim) Push(symbol string, msgs ...feed.Message) {
	s.mu.Lock()
	ch := s.liveChan(symbol)
	s.mu.Unlock()
	for _, m := range msgs {
		observ.GatewayMessagesTotal.WithLabelValues("sim", m.Kind.String()).Inc()
		ch <- m
	}
}

// Drop simulates a lost session: the gateway goes down and every live
// channel and open historical stream receives ConnLost.
func (s *Sim) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	notified := map[string]bool{}
	for _, sub := range s.subs {
		key := strings.ToUpper(sub.Contract.Spec.Symbol)
		if notified[key] {
			continue
		}
		notified[key] = true
		s.trySend(s.live[key], feed.ConnLostMessage())
	}
	for id, ch := range s.hist {
		s.trySend(ch, feed.ConnLostMessage())
		delete(s.hist, id)
	}
}

// Stats returns a copy of the call counters.
func (s *Sim) Stats() SimStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.HistRequests = append([]feed.HistoricalRequest(nil), s.stats.HistRequests...)
	return st
}

func (s *Sim) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Connects++
	if s.connectErr != nil {
		return NewNetworkError("connect", "simulated connect failure", s.connectErr)
	}
	s.connected = true
	return nil
}

func (s *Sim) Reconnect(ctx context.Context, resubscribe bool) error {
	s.reconnectMu.Lock()
	defer s.reconnectMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	s.stats.Reconnects++
	if len(s.reconnects) > 0 {
		err := s.reconnects[0]
		s.reconnects = s.reconnects[1:]
		if err != nil {
			return NewNetworkError("reconnect", "simulated reconnect failure", err)
		}
	}
	s.connected = true
	if resubscribe {
		// channels survive the outage, so resubscribing only counts
		s.stats.ResubscribeOps += len(s.subs)
	}
	return nil
}

func (s *Sim) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Sim) ResolveContract(ctx context.Context, spec feed.ContractSpec) (feed.Contract, error) {
	if err := ctx.Err(); err != nil {
		return feed.Contract{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return feed.Contract{}, NewNotConnectedError("resolve")
	}
	key := strings.ToUpper(spec.Symbol)
	if err, ok := s.rejected[key]; ok {
		return feed.Contract{}, NewRejectedError("resolve", err.Error())
	}
	if c, ok := s.contracts[key]; ok {
		return c, nil
	}
	s.nextID++
	c := feed.Contract{ID: s.nextID, Spec: spec, TimeZone: "America/New_York"}
	s.contracts[key] = c
	return c, nil
}

func (s *Sim) SubscribeLive(ctx context.Context, c feed.Contract, kind feed.LiveKind) (*feed.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, NewNotConnectedError("subscribe")
	}
	s.nextID++
	sub := &feed.Subscription{
		ID:       fmt.Sprintf("live-%d", s.nextID),
		Contract: c,
		Kind:     kind,
		C:        s.liveChan(c.Spec.Symbol),
	}
	s.subs[sub.ID] = sub
	s.stats.Subscribes++
	return sub, nil
}

func (s *Sim) UnsubscribeLive(sub *feed.Subscription) {
	if sub == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.ID]; ok {
		delete(s.subs, sub.ID)
		s.stats.Unsubscribes++
	}
}

func (s *Sim) RequestHistorical(ctx context.Context, req feed.HistoricalRequest) (*feed.HistoricalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, NewNotConnectedError("historical")
	}
	s.stats.HistRequests = append(s.stats.HistRequests, req)

	var msgs []feed.Message
	if len(s.scripted) > 0 {
		msgs = s.scripted[0]
		s.scripted = s.scripted[1:]
	} else {
		for _, b := range s.historyFor(req) {
			msgs = append(msgs, feed.BarMessage(b))
		}
	}
	if len(msgs) == 0 || !endsStream(msgs[len(msgs)-1]) {
		msgs = append(msgs, feed.EndOfStreamMessage())
	}

	// one spare slot so Drop can still signal a lost connection
	ch := make(chan feed.Message, len(msgs)+1)
	for _, m := range msgs {
		observ.GatewayMessagesTotal.WithLabelValues("sim", m.Kind.String()).Inc()
		ch <- m
	}
	s.nextID++
	hs := &feed.HistoricalStream{ID: fmt.Sprintf("hist-%d", s.nextID), Request: req, C: ch}
	s.hist[hs.ID] = ch
	return hs, nil
}

func (s *Sim) CancelHistorical(hs *feed.HistoricalStream) {
	if hs == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hist[hs.ID]; ok {
		delete(s.hist, hs.ID)
		s.stats.Cancels++
	}
}

// Run pushes a random-walk tick (or bar, for bar subscriptions) to every
// subscribed symbol each interval until ctx ends.
func (s *Sim) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for symbol, kind := range s.subscribed() {
				if kind == feed.LiveBars {
					s.Push(symbol, feed.BarMessage(s.walk.Bar(symbol, now.UTC(), interval)))
				} else {
					s.Push(symbol, feed.TickMessage(s.walk.Tick(symbol, now.UTC())))
				}
			}
		}
	}
}

func (s *Sim) subscribed() map[string]feed.LiveKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	out := make(map[string]feed.LiveKind, len(s.subs))
	for _, sub := range s.subs {
		out[strings.ToUpper(sub.Contract.Spec.Symbol)] = sub.Kind
	}
	return out
}

// historyFor serves stored bars in (Begin, End], or synthesizes them.
// Caller holds s.mu.
func (s *Sim) historyFor(req feed.HistoricalRequest) []feed.Bar {
	key := strings.ToUpper(req.Contract.Spec.Symbol)
	end := time.Now().UTC()
	if req.End != nil {
		end = *req.End
	}
	if stored, ok := s.stored[key]; ok {
		var out []feed.Bar
		for _, b := range stored {
			if req.Begin != nil && !b.Time.After(*req.Begin) {
				continue
			}
			if b.Time.After(end) {
				continue
			}
			out = append(out, b)
		}
		return out
	}
	step := BarDuration(req.TimeFrame, req.Compression)
	return s.walk.Bars(key, req.Begin, end.Truncate(step), step, s.cfg.MaxHistoryBars)
}

// liveChan returns the persistent channel for symbol. Caller holds s.mu.
func (s *Sim) liveChan(symbol string) chan feed.Message {
	key := strings.ToUpper(symbol)
	ch, ok := s.live[key]
	if !ok {
		ch = make(chan feed.Message, s.cfg.Buffer)
		s.live[key] = ch
	}
	return ch
}

func (s *Sim) trySend(ch chan feed.Message, m feed.Message) {
	if ch == nil {
		return
	}
	select {
	case ch <- m:
	default:
	}
}

func endsStream(m feed.Message) bool {
	return m.Kind == feed.KindEndOfStream || m.Kind == feed.KindConnLost
}
