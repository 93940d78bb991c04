package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Rajchodisetti/feedsync/internal/observ"
)

// Mode is the reconciler's current activity.
type Mode int32

const (
	ModeSeedReplay Mode = iota
	ModeInitializing
	ModeLive
	ModeBackfill
)

func (m Mode) String() string {
	switch m {
	case ModeSeedReplay:
		return "seed_replay"
	case ModeInitializing:
		return "initializing"
	case ModeLive:
		return "live"
	case ModeBackfill:
		return "backfill"
	default:
		return fmt.Sprintf("mode(%d)", int32(m))
	}
}

// Feed reconciles a live subscription with historical backfills for one
// contract. Load must be called from a single goroutine; Stop, Mode and
// LastStatus are safe from any goroutine.
type Feed struct {
	cfg      Config
	gw       Gateway
	notifier Notifier
	seed     SeedSource
	asm      Assembler
	liveKind LiveKind
	what     string

	contract *Contract
	loc      *time.Location
	series   *Series
	bars     atomic.Int64

	mode       atomic.Int32
	lastStatus atomic.Int32

	// reconnect observed while live; the next data message triggers a backfill
	pendingBackfill bool
	// single message held back while its gap is backfilled
	deferred *Message
	// source label of the bar being returned
	source string

	terminal error

	mu   sync.Mutex
	live *Subscription
	hist *HistoricalStream

	stopOnce sync.Once
	stopped  atomic.Bool
	done     chan struct{}
}

// New builds a feed. notifier and seed may be nil.
func New(cfg Config, gw Gateway, notifier Notifier, seed SeedSource) (*Feed, error) {
	if gw == nil {
		return nil, errors.New("feed: nil gateway")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	f := &Feed{
		cfg:      cfg,
		gw:       gw,
		notifier: notifier,
		seed:     seed,
		asm:      Assembler{LateThrough: cfg.LateThrough},
		liveKind: cfg.LiveKind(),
		what:     cfg.WhatToShow(),
		series:   NewSeries(cfg.MaxBars),
		done:     make(chan struct{}),
	}
	f.mode.Store(int32(ModeInitializing))
	return f, nil
}

// Name is the configured feed name.
func (f *Feed) Name() string { return f.cfg.Name }

// IsLive reports that the feed produces data in real time.
func (f *Feed) IsLive() bool { return true }

// Mode returns the current reconciliation mode.
func (f *Feed) Mode() Mode { return Mode(f.mode.Load()) }

// LastStatus returns the last emitted notification status, zero if none.
func (f *Feed) LastStatus() Status { return Status(f.lastStatus.Load()) }

// Series exposes the output series. Only the Load goroutine may read it
// while the feed runs.
func (f *Feed) Series() *Series { return f.series }

// Contract returns the resolved contract, nil before a successful Start.
func (f *Feed) Contract() *Contract { return f.contract }

// Location is the zone bar times are presented in: the configured TZ, else
// the contract's exchange zone, else UTC. It is resolved by Start.
func (f *Feed) Location() *time.Location {
	if f.loc == nil {
		return time.UTC
	}
	return f.loc
}

func (f *Feed) resolveLocation() *time.Location {
	var names []string
	if f.cfg.TZ != "" {
		names = append(names, f.cfg.TZ)
	}
	if f.contract != nil && f.contract.TimeZone != "" {
		names = append(names, f.contract.TimeZone)
	}
	for _, name := range names {
		loc, err := time.LoadLocation(name)
		if err == nil {
			return loc
		}
		observ.Warn("feed_timezone_unknown", map[string]any{"feed": f.cfg.Name, "tz": name, "error": err.Error()})
	}
	return time.UTC
}

// Start connects the gateway and resolves the contract. Failures are
// terminal: Disconnected is emitted and every Load returns the error.
func (f *Feed) Start(ctx context.Context) error {
	if f.seed != nil {
		f.setMode(ModeSeedReplay)
	} else {
		f.setMode(ModeInitializing)
	}

	if err := f.gw.Connect(ctx); err != nil {
		f.notify(StatusDisconnected, 0)
		return f.fail(ErrDisconnected, err)
	}
	f.notify(StatusConnected, 0)

	c, err := f.gw.ResolveContract(ctx, f.cfg.Contract)
	if err != nil {
		f.notify(StatusDisconnected, 0)
		return f.fail(ErrNoContract, err)
	}
	f.contract = &c
	f.loc = f.resolveLocation()

	observ.Log("feed_started", map[string]any{
		"feed":        f.cfg.Name,
		"symbol":      c.Spec.Symbol,
		"contract_id": c.ID,
		"live_kind":   f.liveKind.String(),
		"what":        f.what,
		"historical":  f.cfg.Historical,
		"tz":          f.Location().String(),
		"mode":        f.Mode().String(),
	})
	return nil
}

// Stop ends the feed. It unsubscribes live data and cancels any in-flight
// historical request. A blocked Load returns ErrStopped and no bar is
// delivered after Stop begins.
func (f *Feed) Stop() {
	f.stopOnce.Do(func() {
		f.stopped.Store(true)
		close(f.done)

		f.mu.Lock()
		live, hist := f.live, f.hist
		f.live, f.hist = nil, nil
		f.mu.Unlock()

		if live != nil {
			f.gw.UnsubscribeLive(live)
		}
		if hist != nil {
			f.gw.CancelHistorical(hist)
		}
		observ.Log("feed_stopped", map[string]any{"feed": f.cfg.Name, "bars": f.bars.Load()})
	})
}

// Load advances the state machine until it has a bar, the live wait times
// out (ErrNoData) or the feed ends (*TerminalError). A cancelled ctx is
// returned as is and leaves the feed usable.
func (f *Feed) Load(ctx context.Context) (Bar, error) {
	if f.terminal != nil {
		return Bar{}, f.terminal
	}
	if f.stopped.Load() {
		return Bar{}, f.fail(ErrStopped, nil)
	}
	if f.contract == nil {
		return Bar{}, f.fail(ErrNoContract, nil)
	}

	start := time.Now()
	b, err := f.load(ctx)
	if f.stopped.Load() && !IsTerminal(err) {
		return Bar{}, f.fail(ErrStopped, nil)
	}
	if err != nil {
		return Bar{}, err
	}

	f.series.Append(b)
	f.bars.Add(1)
	observ.IncFeedBars(f.cfg.Name, f.source)
	observ.RecordDuration(f.cfg.Name, time.Since(start))
	return b, nil
}

func (f *Feed) load(ctx context.Context) (Bar, error) {
	for {
		if f.stopped.Load() {
			return Bar{}, ErrStopped
		}
		switch f.Mode() {
		case ModeSeedReplay:
			b, ok, err := f.seed.Next(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return Bar{}, ctx.Err()
				}
				observ.Warn("seed_source_failed", map[string]any{"feed": f.cfg.Name, "error": err.Error()})
				ok = false
			}
			if !ok {
				f.setMode(ModeInitializing)
				continue
			}
			f.source = "seed"
			return b, nil

		case ModeInitializing:
			if f.cfg.Historical {
				f.notify(StatusDelayed, 0)
				req := f.historicalRequest(copyTime(f.cfg.ToDate), copyTime(f.cfg.FromDate))
				if err := f.requestHistorical(ctx, req); err != nil {
					return Bar{}, f.gatewayFailure(ctx, err)
				}
				f.setMode(ModeBackfill)
				continue
			}

			if err := f.reconnect(ctx); err != nil {
				return Bar{}, f.gatewayFailure(ctx, err)
			}
			f.pendingBackfill = f.cfg.BackfillStart
			if !f.cfg.BackfillStart {
				f.notify(StatusDelayed, 0)
			}
			f.setMode(ModeLive)

		case ModeLive:
			msg, err := f.nextLive(ctx)
			if err != nil {
				return Bar{}, err
			}

			switch msg.Kind {
			case KindConnLost:
				f.notify(StatusConnectionBroken, 0)
				if err := f.reconnect(ctx); err != nil {
					return Bar{}, f.gatewayFailure(ctx, err)
				}
				f.pendingBackfill = f.cfg.Backfill
				continue

			case KindError:
				switch msg.Code {
				case CodeNotSubscribed:
					f.notify(StatusNotSubscribed, 0)
					return Bar{}, f.fail(ErrNotSubscribed, nil)
				case CodeConnBroken:
					f.pendingBackfill = f.cfg.Backfill
				case CodeConnRestoredKept:
					// may arrive more than once for the same outage
					if !f.pendingBackfill {
						f.pendingBackfill = f.cfg.Backfill
					}
				case CodeConnRestoredLost:
					if !f.pendingBackfill {
						f.pendingBackfill = f.cfg.Backfill
						f.resubscribe(ctx)
					}
				default:
					f.notify(StatusUnknown, msg.Code)
				}
				continue

			}
			if !msg.IsData() {
				f.notify(StatusUnknown, 0)
				continue
			}

			if !f.pendingBackfill {
				if f.LastStatus() != StatusLive && f.liveDepth() <= 1 {
					f.notify(StatusLive, 0)
				}
				if b, ok := f.asm.Assemble(msg, f.series.LastTime()); ok {
					f.source = "live"
					return b, nil
				}
				continue
			}

			// Reconnected since the last bar: hold this message back and
			// fill the gap up to it first.
			held := msg
			f.deferred = &held
			if f.LastStatus() != StatusDelayed {
				f.notify(StatusDelayed, 0)
			}
			end := msg.Time()
			if err := f.requestHistorical(ctx, f.historicalRequest(&end, f.backfillBegin())); err != nil {
				return Bar{}, f.gatewayFailure(ctx, err)
			}
			f.pendingBackfill = false
			f.setMode(ModeBackfill)

		case ModeBackfill:
			msg, err := f.nextHistorical(ctx)
			if err != nil {
				return Bar{}, err
			}

			switch msg.Kind {
			case KindConnLost:
				f.closeHistorical()
				f.notify(StatusDisconnected, 0)
				return Bar{}, f.fail(ErrDisconnected, errors.New("connection lost during backfill"))

			case KindError:
				if msg.Code == CodeNotSubscribed || msg.Code == CodeNoPermission {
					f.closeHistorical()
					f.notify(StatusNotSubscribed, 0)
					return Bar{}, f.fail(ErrNotSubscribed, fmt.Errorf("gateway code %d", msg.Code))
				}
				f.notify(StatusUnknown, msg.Code)
				continue

			case KindBar, KindTick:
				// overlaps with already delivered data are expected
				if b, ok := f.asm.Assemble(msg, f.series.LastTime()); ok {
					f.source = "backfill"
					return b, nil
				}
				continue

			case KindEndOfStream:
				f.closeHistorical()
				if f.cfg.Historical {
					f.notify(StatusDisconnected, 0)
					return Bar{}, f.fail(ErrEndOfData, nil)
				}
				f.setMode(ModeLive)
				continue
			}
			f.notify(StatusUnknown, 0)

		default:
			return Bar{}, f.fail(fmt.Errorf("invalid mode %d", f.Mode()), nil)
		}
	}
}

// backfillBegin picks the start of a reconnect backfill: the last bar when
// at least two were delivered, else the configured floor, else unbounded.
func (f *Feed) backfillBegin() *time.Time {
	if f.series.Len() > 1 {
		t := f.series.LastTime()
		return &t
	}
	return copyTime(f.cfg.FromDate)
}

func (f *Feed) historicalRequest(end, begin *time.Time) HistoricalRequest {
	return HistoricalRequest{
		Contract:    *f.contract,
		End:         end,
		Begin:       begin,
		TimeFrame:   f.cfg.TimeFrame,
		Compression: f.cfg.Compression,
		What:        f.what,
		UseRTH:      f.cfg.UseRTH,
	}
}

func (f *Feed) requestHistorical(ctx context.Context, req HistoricalRequest) error {
	s, err := f.gw.RequestHistorical(ctx, req)
	if err != nil {
		return err
	}
	f.mu.Lock()
	if f.stopped.Load() {
		f.mu.Unlock()
		f.gw.CancelHistorical(s)
		return ErrStopped
	}
	f.hist = s
	f.mu.Unlock()

	observ.BackfillsTotal.WithLabelValues(f.cfg.Name).Inc()
	observ.Log("backfill_requested", map[string]any{
		"feed":   f.cfg.Name,
		"begin":  formatTime(req.Begin),
		"end":    formatTime(req.End),
		"bars":   f.series.Len(),
		"stream": s.ID,
	})
	return nil
}

func (f *Feed) closeHistorical() {
	f.mu.Lock()
	s := f.hist
	f.hist = nil
	f.mu.Unlock()
	if s != nil {
		f.gw.CancelHistorical(s)
	}
}

// reconnect restores the gateway session with resubscription and makes
// sure this feed holds a live subscription afterwards.
func (f *Feed) reconnect(ctx context.Context) error {
	if err := f.gw.Reconnect(ctx, true); err != nil {
		observ.ReconnectsTotal.WithLabelValues(f.cfg.Name, "failed").Inc()
		return err
	}
	observ.ReconnectsTotal.WithLabelValues(f.cfg.Name, "ok").Inc()

	if f.liveSub() != nil {
		return nil
	}
	return f.subscribe(ctx)
}

func (f *Feed) subscribe(ctx context.Context) error {
	sub, err := f.gw.SubscribeLive(ctx, *f.contract, f.liveKind)
	if err != nil {
		return err
	}
	f.mu.Lock()
	if f.stopped.Load() {
		f.mu.Unlock()
		f.gw.UnsubscribeLive(sub)
		return ErrStopped
	}
	f.live = sub
	f.mu.Unlock()
	return nil
}

// resubscribe re-issues the live request after the gateway reported the
// subscription as gone. A failed request leaves no subscription; the next
// live read then goes through the reconnect path.
func (f *Feed) resubscribe(ctx context.Context) {
	f.mu.Lock()
	old := f.live
	f.live = nil
	f.mu.Unlock()
	if old != nil {
		f.gw.UnsubscribeLive(old)
	}
	if err := f.subscribe(ctx); err != nil {
		observ.Warn("resubscribe_failed", map[string]any{"feed": f.cfg.Name, "error": err.Error()})
	}
}

func (f *Feed) liveSub() *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

func (f *Feed) histStream() *HistoricalStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hist
}

func (f *Feed) dropLive(sub *Subscription) {
	f.mu.Lock()
	if f.live == sub {
		f.live = nil
	}
	f.mu.Unlock()
}

func (f *Feed) liveDepth() int {
	if sub := f.liveSub(); sub != nil {
		return len(sub.C)
	}
	return 0
}

// nextLive returns the deferred message if one is held, otherwise waits up
// to QCheck for the live channel.
func (f *Feed) nextLive(ctx context.Context) (Message, error) {
	if f.deferred != nil {
		m := *f.deferred
		f.deferred = nil
		return m, nil
	}

	if f.stopped.Load() {
		return Message{}, ErrStopped
	}
	sub := f.liveSub()
	if sub == nil {
		return ConnLostMessage(), nil
	}

	timer := time.NewTimer(f.cfg.QCheck)
	defer timer.Stop()

	select {
	case m, ok := <-sub.C:
		if !ok {
			f.dropLive(sub)
			return ConnLostMessage(), nil
		}
		return m, nil
	case <-timer.C:
		return Message{}, ErrNoData
	case <-f.done:
		return Message{}, ErrStopped
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// nextHistorical blocks until the historical stream yields a message.
func (f *Feed) nextHistorical(ctx context.Context) (Message, error) {
	if f.stopped.Load() {
		return Message{}, ErrStopped
	}
	s := f.histStream()
	if s == nil {
		return ConnLostMessage(), nil
	}
	select {
	case m, ok := <-s.C:
		if !ok {
			return ConnLostMessage(), nil
		}
		return m, nil
	case <-f.done:
		return Message{}, ErrStopped
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// gatewayFailure turns a failed reconnect or request into the terminal
// Disconnected outcome unless the caller's context caused it.
func (f *Feed) gatewayFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, ErrStopped) {
		return err
	}
	f.notify(StatusDisconnected, 0)
	return f.fail(ErrDisconnected, err)
}

func (f *Feed) fail(reason, cause error) error {
	if f.terminal != nil {
		return f.terminal
	}
	f.terminal = &TerminalError{Feed: f.cfg.Name, Reason: reason, Cause: cause}
	kv := map[string]any{
		"feed":   f.cfg.Name,
		"reason": reason.Error(),
		"mode":   f.Mode().String(),
		"bars":   f.series.Len(),
	}
	if cause != nil {
		kv["cause"] = cause.Error()
	}
	observ.Log("feed_terminated", kv)
	return f.terminal
}

// notify is a no-op once Stop has begun.
func (f *Feed) notify(s Status, code int) {
	if f.stopped.Load() {
		return
	}
	f.lastStatus.Store(int32(s))
	terminal := s == StatusDisconnected || s == StatusNotSubscribed
	observ.SetFeedStatus(f.cfg.Name, s.String(), terminal)

	kv := map[string]any{"feed": f.cfg.Name, "status": s.String(), "mode": f.Mode().String()}
	if s == StatusUnknown {
		kv["code"] = code
	}
	observ.Log("feed_notification", kv)

	f.notifier.Notify(Notification{Feed: f.cfg.Name, Status: s, Code: code, Time: time.Now().UTC()})
}

func (f *Feed) setMode(m Mode) {
	old := Mode(f.mode.Swap(int32(m)))
	observ.SetFeedMode(f.cfg.Name, m.String(), float64(m))
	if old != m {
		observ.Log("feed_mode_transition", map[string]any{
			"feed": f.cfg.Name,
			"from": old.String(),
			"to":   m.String(),
		})
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
