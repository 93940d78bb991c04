package feed_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/feedsync/internal/feed"
	"github.com/Rajchodisetti/feedsync/internal/gateway"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return t0.Add(time.Duration(minutes) * time.Minute) }

func tick(minutes int, price float64) feed.Message {
	return feed.TickMessage(feed.Tick{Time: at(minutes), Price: price, Size: 100})
}

func bar(minutes int, px float64) feed.Message {
	return feed.BarMessage(feed.Bar{Time: at(minutes), Open: px, High: px, Low: px, Close: px, Volume: 10})
}

type recorder struct {
	mu    sync.Mutex
	notes []feed.Notification
}

func (r *recorder) Notify(n feed.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) statuses() []feed.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]feed.Status, len(r.notes))
	for i, n := range r.notes {
		out[i] = n.Status
	}
	return out
}

func liveConfig() feed.Config {
	cfg := feed.DefaultConfig("aapl", "AAPL")
	cfg.QCheck = 20 * time.Millisecond
	return cfg
}

func startFeed(t *testing.T, cfg feed.Config, sim *gateway.Sim, seed feed.SeedSource) (*feed.Feed, *recorder) {
	t.Helper()
	rec := &recorder{}
	f, err := feed.New(cfg, sim, rec, seed)
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))
	t.Cleanup(f.Stop)
	return f, rec
}

// loadN loads n bars, skipping ErrNoData polls.
func loadN(t *testing.T, f *feed.Feed, n int) []feed.Bar {
	t.Helper()
	ctx := context.Background()
	var out []feed.Bar
	for polls := 0; len(out) < n; polls++ {
		require.Less(t, polls, 200, "feed produced only %d of %d bars", len(out), n)
		b, err := f.Load(ctx)
		if errors.Is(err, feed.ErrNoData) {
			continue
		}
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

func times(bars []feed.Bar) []time.Time {
	out := make([]time.Time, len(bars))
	for i, b := range bars {
		out[i] = b.Time
	}
	return out
}

func TestHistoricalOnly(t *testing.T) {
	sim := gateway.NewSim(gateway.SimConfig{})
	from, to := at(-10), at(0)
	cfg := liveConfig()
	cfg.Historical = true
	cfg.FromDate, cfg.ToDate = &from, &to
	sim.ScriptHistory(bar(-3, 1), bar(-2, 2), bar(-1, 3))

	f, rec := startFeed(t, cfg, sim, nil)
	bars := loadN(t, f, 3)
	assert.Equal(t, []time.Time{at(-3), at(-2), at(-1)}, times(bars))

	_, err := f.Load(context.Background())
	require.Error(t, err)
	assert.True(t, feed.IsTerminal(err))
	assert.ErrorIs(t, err, feed.ErrEndOfData)

	_, again := f.Load(context.Background())
	assert.Same(t, err, again)

	assert.Equal(t, []feed.Status{feed.StatusConnected, feed.StatusDelayed, feed.StatusDisconnected}, rec.statuses())

	reqs := sim.Stats().HistRequests
	require.Len(t, reqs, 1)
	assert.Equal(t, from, *reqs[0].Begin)
	assert.Equal(t, to, *reqs[0].End)
	assert.Equal(t, "TRADES", reqs[0].What)
	assert.Equal(t, 0, sim.Stats().Subscribes)
}

func TestBackfillAtStartBeforeFirstLiveMessage(t *testing.T) {
	sim := gateway.NewSim(gateway.SimConfig{})
	sim.Push("AAPL", tick(0, 100))
	sim.ScriptHistory(bar(-3, 97), bar(-2, 98), bar(-1, 99))

	f, rec := startFeed(t, liveConfig(), sim, nil)
	bars := loadN(t, f, 4)

	assert.Equal(t, []time.Time{at(-3), at(-2), at(-1), at(0)}, times(bars))
	assert.Equal(t, 100.0, bars[3].Close)
	assert.Equal(t, []feed.Status{feed.StatusConnected, feed.StatusDelayed, feed.StatusLive}, rec.statuses())
	assert.Equal(t, feed.ModeLive, f.Mode())

	reqs := sim.Stats().HistRequests
	require.Len(t, reqs, 1)
	assert.Nil(t, reqs[0].Begin, "no bars and no fromdate: unbounded backfill")
	assert.Equal(t, at(0), *reqs[0].End)
}

func TestDeferredMessageReconsideredAfterShortBackfill(t *testing.T) {
	sim := gateway.NewSim(gateway.SimConfig{})
	sim.Push("AAPL", tick(0, 100), tick(1, 101))
	sim.ScriptHistory(bar(-5, 95))

	f, _ := startFeed(t, liveConfig(), sim, nil)
	bars := loadN(t, f, 3)
	assert.Equal(t, []time.Time{at(-5), at(0), at(1)}, times(bars))
}

func TestDeferredMessageDroppedWhenBackfillCoversIt(t *testing.T) {
	sim := gateway.NewSim(gateway.SimConfig{})
	sim.Push("AAPL", tick(0, 100), tick(1, 101))
	// the gateway answered through the held message's own timestamp
	sim.ScriptHistory(bar(-1, 99), bar(0, 100))

	f, _ := startFeed(t, liveConfig(), sim, nil)
	bars := loadN(t, f, 3)
	assert.Equal(t, []time.Time{at(-1), at(0), at(1)}, times(bars))
	assert.Equal(t, 100.0, bars[1].Close, "backfilled bar wins over the held tick")
}

func TestNoBackfillAtStart(t *testing.T) {
	sim := gateway.NewSim(gateway.SimConfig{})
	cfg := liveConfig()
	cfg.BackfillStart = false

	f, rec := startFeed(t, cfg, sim, nil)

	_, err := f.Load(context.Background())
	assert.ErrorIs(t, err, feed.ErrNoData)
	assert.False(t, feed.IsTerminal(err))

	sim.Push("AAPL", tick(0, 100), tick(-1, 99), tick(1, 101))
	bars := loadN(t, f, 2)
	assert.Equal(t, []time.Time{at(0), at(1)}, times(bars), "out of order tick dropped")
	assert.Equal(t, []feed.Status{feed.StatusConnected, feed.StatusDelayed, feed.StatusLive}, rec.statuses())
	assert.Empty(t, sim.Stats().HistRequests)
}

func TestLateThroughAdmitsOutOfOrderData(t *testing.T) {
	sim := gateway.NewSim(gateway.SimConfig{})
	cfg := liveConfig()
	cfg.BackfillStart = false
	cfg.LateThrough = true
	sim.Push("AAPL", tick(0, 100), tick(-1, 99))

	f, _ := startFeed(t, cfg, sim, nil)
	bars := loadN(t, f, 2)
	assert.Equal(t, []time.Time{at(0), at(-1)}, times(bars))
}

func TestReconnectBackfillBegin(t *testing.T) {
	floor := at(-60)

	tests := []struct {
		name      string
		liveBars  int
		fromDate  *time.Time
		wantBegin *time.Time
	}{
		{name: "after two bars starts at last bar", liveBars: 2, wantBegin: ptr(at(1))},
		{name: "single bar falls back to fromdate", liveBars: 1, fromDate: &floor, wantBegin: &floor},
		{name: "single bar without fromdate is unbounded", liveBars: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := gateway.NewSim(gateway.SimConfig{})
			cfg := liveConfig()
			cfg.BackfillStart = false
			cfg.FromDate = tt.fromDate
			for i := 0; i < tt.liveBars; i++ {
				sim.Push("AAPL", tick(i, 100))
			}

			f, rec := startFeed(t, cfg, sim, nil)
			loadN(t, f, tt.liveBars)

			sim.Drop()
			sim.Push("AAPL", tick(10, 110))
			sim.ScriptHistory(bar(5, 105))

			bars := loadN(t, f, 2)
			assert.Equal(t, []time.Time{at(5), at(10)}, times(bars))

			reqs := sim.Stats().HistRequests
			require.Len(t, reqs, 1)
			assert.Equal(t, tt.wantBegin, reqs[0].Begin)
			assert.Equal(t, at(10), *reqs[0].End)
			assert.Equal(t, 1, sim.Stats().Reconnects)

			assert.Equal(t, []feed.Status{
				feed.StatusConnected, feed.StatusDelayed, feed.StatusLive,
				feed.StatusConnectionBroken, feed.StatusDelayed, feed.StatusLive,
			}, rec.statuses())
		})
	}
}

func TestReconnectWithoutBackfill(t *testing.T) {
	sim := gateway.NewSim(gateway.SimConfig{})
	cfg := liveConfig()
	cfg.BackfillStart = false
	cfg.Backfill = false
	sim.Push("AAPL", tick(0, 100))

	f, _ := startFeed(t, cfg, sim, nil)
	loadN(t, f, 1)

	sim.Drop()
	sim.Push("AAPL", tick(5, 105))
	bars := loadN(t, f, 1)
	assert.Equal(t, at(5), bars[0].Time)
	assert.Empty(t, sim.Stats().HistRequests)
}

func TestReconnectFailureIsTerminal(t *testing.T) {
	sim := gateway.NewSim(gateway.SimConfig{})
	cfg := liveConfig()
	cfg.BackfillStart = false
	sim.Push("AAPL", tick(0, 100))

	f, rec := startFeed(t, cfg, sim, nil)
	loadN(t, f, 1)

	sim.Drop()
	sim.ScriptReconnects(errors.New("gateway unreachable"))

	_, err := f.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, feed.ErrDisconnected)
	assert.True(t, feed.IsTerminal(err))

	reconnects := sim.Stats().Reconnects
	for i := 0; i < 3; i++ {
		_, again := f.Load(context.Background())
		assert.Same(t, err, again)
	}
	assert.Equal(t, reconnects, sim.Stats().Reconnects, "terminal feed must not touch the gateway")

	assert.Equal(t, []feed.Status{
		feed.StatusConnected, feed.StatusDelayed, feed.StatusLive,
		feed.StatusConnectionBroken, feed.StatusDisconnected,
	}, rec.statuses())
}

func TestConnectionStatusCodes(t *testing.T) {
	tests := []struct {
		name         string
		codes        []int
		resubscribes int
	}{
		{name: "repeated 1102 backfills once", codes: []int{feed.CodeConnRestoredKept, feed.CodeConnRestoredKept}},
		{name: "1100 then 1102 backfills once", codes: []int{feed.CodeConnBroken, feed.CodeConnRestoredKept}},
		{name: "1101 resubscribes", codes: []int{feed.CodeConnRestoredLost}, resubscribes: 1},
		{name: "1100 then 1101 keeps subscription", codes: []int{feed.CodeConnBroken, feed.CodeConnRestoredLost}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := gateway.NewSim(gateway.SimConfig{})
			cfg := liveConfig()
			cfg.BackfillStart = false
			sim.Push("AAPL", tick(0, 100), tick(1, 101))

			f, rec := startFeed(t, cfg, sim, nil)
			loadN(t, f, 2)

			for _, c := range tt.codes {
				sim.Push("AAPL", feed.ErrorMessage(c))
			}
			sim.Push("AAPL", tick(10, 110), tick(11, 111))
			sim.ScriptHistory(bar(5, 105))

			bars := loadN(t, f, 3)
			assert.Equal(t, []time.Time{at(5), at(10), at(11)}, times(bars))

			assert.Equal(t, []feed.Status{
				feed.StatusConnected, feed.StatusDelayed, feed.StatusLive,
				feed.StatusDelayed, feed.StatusLive,
			}, rec.statuses(), "one Delayed per outage")

			st := sim.Stats()
			require.Len(t, st.HistRequests, 1)
			assert.Equal(t, at(1), *st.HistRequests[0].Begin)
			assert.Equal(t, 1+tt.resubscribes, st.Subscribes)
			assert.Equal(t, tt.resubscribes, st.Unsubscribes)
		})
	}
}

func TestUnknownCodeIsReported(t *testing.T) {
	sim := gateway.NewSim(gateway.SimConfig{})
	cfg := liveConfig()
	cfg.BackfillStart = false
	sim.Push("AAPL", feed.ErrorMessage(2104), tick(0, 100))

	f, rec := startFeed(t, cfg, sim, nil)
	bars := loadN(t, f, 1)
	assert.Equal(t, at(0), bars[0].Time)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	var unknown []feed.Notification
	for _, n := range rec.notes {
		if n.Status == feed.StatusUnknown {
			unknown = append(unknown, n)
		}
	}
	require.Len(t, unknown, 1)
	assert.Equal(t, 2104, unknown[0].Code)
	assert.Equal(t, "aapl", unknown[0].Feed)
}

func TestLiveNotSubscribedIsTerminal(t *testing.T) {
	sim := gateway.NewSim(gateway.SimConfig{})
	cfg := liveConfig()
	cfg.BackfillStart = false
	sim.Push("AAPL", feed.ErrorMessage(feed.CodeNotSubscribed))

	f, rec := startFeed(t, cfg, sim, nil)
	_, err := f.Load(context.Background())
	assert.ErrorIs(t, err, feed.ErrNotSubscribed)
	assert.True(t, feed.IsTerminal(err))
	assert.Equal(t, feed.StatusNotSubscribed, f.LastStatus())
	assert.Contains(t, rec.statuses(), feed.StatusNotSubscribed)
}

func TestBackfillFailures(t *testing.T) {
	tests := []struct {
		name       string
		history    []feed.Message
		wantErr    error
		wantStatus feed.Status
		wantBars   int
	}{
		{
			name:       "no permission",
			history:    []feed.Message{feed.ErrorMessage(feed.CodeNoPermission)},
			wantErr:    feed.ErrNotSubscribed,
			wantStatus: feed.StatusNotSubscribed,
		},
		{
			name:       "connection lost mid stream",
			history:    []feed.Message{bar(-2, 98), feed.ConnLostMessage()},
			wantErr:    feed.ErrDisconnected,
			wantStatus: feed.StatusDisconnected,
			wantBars:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := gateway.NewSim(gateway.SimConfig{})
			sim.Push("AAPL", tick(0, 100))
			sim.ScriptHistory(tt.history...)

			f, _ := startFeed(t, liveConfig(), sim, nil)
			if tt.wantBars > 0 {
				loadN(t, f, tt.wantBars)
			}
			_, err := f.Load(context.Background())
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, feed.IsTerminal(err))
			assert.Equal(t, tt.wantStatus, f.LastStatus())
			assert.Equal(t, 1, sim.Stats().Cancels)
		})
	}
}

func TestBackfillUnknownCodeContinues(t *testing.T) {
	sim := gateway.NewSim(gateway.SimConfig{})
	sim.Push("AAPL", tick(0, 100))
	sim.ScriptHistory(bar(-2, 98), feed.ErrorMessage(2106), bar(-1, 99))

	f, rec := startFeed(t, liveConfig(), sim, nil)
	bars := loadN(t, f, 3)
	assert.Equal(t, []time.Time{at(-2), at(-1), at(0)}, times(bars))
	assert.Contains(t, rec.statuses(), feed.StatusUnknown)
}

func TestSeedReplay(t *testing.T) {
	sim := gateway.NewSim(gateway.SimConfig{})
	seed := &feed.SliceSeed{Bars: []feed.Bar{
		{Time: at(-20), Close: 80, OpenInterest: 7},
		{Time: at(-30), Close: 70}, // replayed verbatim, no ordering filter
		{Time: at(-10), Close: 90},
	}}
	sim.Push("AAPL", tick(0, 100))
	sim.ScriptHistory(bar(-5, 95))

	rec := &recorder{}
	f, err := feed.New(liveConfig(), sim, rec, seed)
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))
	defer f.Stop()
	assert.Equal(t, feed.ModeSeedReplay, f.Mode())

	bars := loadN(t, f, 5)
	assert.Equal(t, []time.Time{at(-20), at(-30), at(-10), at(-5), at(0)}, times(bars))
	assert.Equal(t, 7.0, bars[0].OpenInterest)

	reqs := sim.Stats().HistRequests
	require.Len(t, reqs, 1)
	assert.Equal(t, at(-10), *reqs[0].Begin, "backfill resumes after the last seeded bar")
	assert.Equal(t, 5, f.Series().Len())
}

func TestStartFailures(t *testing.T) {
	t.Run("connect refused", func(t *testing.T) {
		sim := gateway.NewSim(gateway.SimConfig{})
		sim.FailConnect(errors.New("refused"))
		rec := &recorder{}
		f, err := feed.New(liveConfig(), sim, rec, nil)
		require.NoError(t, err)

		err = f.Start(context.Background())
		assert.ErrorIs(t, err, feed.ErrDisconnected)
		assert.Equal(t, []feed.Status{feed.StatusDisconnected}, rec.statuses())

		_, loadErr := f.Load(context.Background())
		assert.Same(t, err, loadErr)
	})

	t.Run("unknown contract", func(t *testing.T) {
		sim := gateway.NewSim(gateway.SimConfig{})
		sim.RejectSymbol("AAPL", errors.New("no security definition"))
		rec := &recorder{}
		f, err := feed.New(liveConfig(), sim, rec, nil)
		require.NoError(t, err)

		err = f.Start(context.Background())
		assert.ErrorIs(t, err, feed.ErrNoContract)
		assert.Nil(t, f.Contract())
		assert.Equal(t, []feed.Status{feed.StatusConnected, feed.StatusDisconnected}, rec.statuses())
	})

	t.Run("load before start", func(t *testing.T) {
		sim := gateway.NewSim(gateway.SimConfig{})
		f, err := feed.New(liveConfig(), sim, nil, nil)
		require.NoError(t, err)
		_, err = f.Load(context.Background())
		assert.ErrorIs(t, err, feed.ErrNoContract)
	})
}

func TestStop(t *testing.T) {
	t.Run("releases gateway resources", func(t *testing.T) {
		sim := gateway.NewSim(gateway.SimConfig{})
		cfg := liveConfig()
		cfg.BackfillStart = false
		f, _ := startFeed(t, cfg, sim, nil)

		_, err := f.Load(context.Background())
		require.ErrorIs(t, err, feed.ErrNoData)
		require.Equal(t, 1, sim.Stats().Subscribes)

		f.Stop()
		f.Stop()
		assert.Equal(t, 1, sim.Stats().Unsubscribes)

		sim.Push("AAPL", tick(0, 100))
		_, err = f.Load(context.Background())
		assert.ErrorIs(t, err, feed.ErrStopped)
		assert.True(t, feed.IsTerminal(err))
	})

	t.Run("unblocks a waiting load", func(t *testing.T) {
		sim := gateway.NewSim(gateway.SimConfig{})
		cfg := liveConfig()
		cfg.BackfillStart = false
		cfg.QCheck = 10 * time.Second
		f, _ := startFeed(t, cfg, sim, nil)

		errc := make(chan error, 1)
		go func() {
			_, err := f.Load(context.Background())
			errc <- err
		}()
		time.Sleep(20 * time.Millisecond)
		f.Stop()

		select {
		case err := <-errc:
			assert.ErrorIs(t, err, feed.ErrStopped)
		case <-time.After(2 * time.Second):
			t.Fatal("Load did not return after Stop")
		}
	})
}

// stopOnStatus stops its feed when the given status is reported.
type stopOnStatus struct {
	recorder
	on   feed.Status
	feed *feed.Feed
}

func (s *stopOnStatus) Notify(n feed.Notification) {
	s.recorder.Notify(n)
	if n.Status == s.on {
		s.feed.Stop()
	}
}

func TestStopFromNotifierEndsLoad(t *testing.T) {
	sim := gateway.NewSim(gateway.SimConfig{})
	cfg := liveConfig()
	cfg.BackfillStart = false
	sim.Push("AAPL", feed.ErrorMessage(2104), tick(0, 100))

	n := &stopOnStatus{on: feed.StatusUnknown}
	f, err := feed.New(cfg, sim, n, nil)
	require.NoError(t, err)
	n.feed = f
	require.NoError(t, f.Start(context.Background()))

	_, err = f.Load(context.Background())
	assert.ErrorIs(t, err, feed.ErrStopped)
	assert.Equal(t, []feed.Status{feed.StatusConnected, feed.StatusDelayed, feed.StatusUnknown}, n.statuses())

	st := sim.Stats()
	assert.Equal(t, 1, st.Subscribes, "a stopped feed must not subscribe again")
	assert.Equal(t, 1, st.Unsubscribes)
	assert.Equal(t, 0, st.Reconnects)
}

func TestStopDuringBusyLoad(t *testing.T) {
	const n = 5000
	sim := gateway.NewSim(gateway.SimConfig{Buffer: n + 1})
	cfg := liveConfig()
	cfg.BackfillStart = false
	f, _ := startFeed(t, cfg, sim, nil)

	msgs := make([]feed.Message, n)
	for i := range msgs {
		msgs[i] = feed.TickMessage(feed.Tick{Time: t0.Add(time.Duration(i) * time.Millisecond), Price: 100})
	}
	sim.Push("AAPL", msgs...)

	errc := make(chan error, 1)
	go func() {
		for {
			if _, err := f.Load(context.Background()); err != nil && !errors.Is(err, feed.ErrNoData) {
				errc <- err
				return
			}
		}
	}()
	time.Sleep(5 * time.Millisecond)
	f.Stop()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, feed.ErrStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("Load loop did not end after Stop")
	}
}

func TestLocation(t *testing.T) {
	tests := []struct {
		name string
		tz   string
		want string
	}{
		{"contract zone", "", "America/New_York"},
		{"configured zone wins", "Europe/London", "Europe/London"},
		{"unknown zone falls back to contract", "Mars/Olympus_Mons", "America/New_York"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := gateway.NewSim(gateway.SimConfig{})
			cfg := liveConfig()
			cfg.TZ = tt.tz
			f, err := feed.New(cfg, sim, nil, nil)
			require.NoError(t, err)
			assert.Equal(t, time.UTC, f.Location(), "UTC before Start")

			require.NoError(t, f.Start(context.Background()))
			t.Cleanup(f.Stop)
			assert.Equal(t, tt.want, f.Location().String())
			assert.True(t, f.IsLive())
		})
	}
}

func TestContextCancelIsNotTerminal(t *testing.T) {
	sim := gateway.NewSim(gateway.SimConfig{})
	cfg := liveConfig()
	cfg.BackfillStart = false
	cfg.QCheck = 10 * time.Second
	f, _ := startFeed(t, cfg, sim, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Load(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, feed.IsTerminal(err))

	sim.Push("AAPL", tick(0, 100))
	b, err := f.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, at(0), b.Time)
}

func TestRealTimeBars(t *testing.T) {
	sim := gateway.NewSim(gateway.SimConfig{})
	cfg := liveConfig()
	cfg.BackfillStart = false
	cfg.RTBar = true
	cfg.TimeFrame = feed.Seconds
	cfg.Compression = 5
	sim.Push("AAPL", feed.BarMessage(feed.Bar{Time: at(0), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 40, OpenInterest: 3}))

	f, _ := startFeed(t, cfg, sim, nil)
	bars := loadN(t, f, 1)
	assert.Equal(t, feed.Bar{Time: at(0), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 40}, bars[0])
}

func ptr(t time.Time) *time.Time { return &t }
