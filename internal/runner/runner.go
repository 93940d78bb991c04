package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Rajchodisetti/feedsync/internal/feed"
	"github.com/Rajchodisetti/feedsync/internal/observ"
)

// Recorder persists delivered bars.
type Recorder interface {
	Save(ctx context.Context, feedName string, b feed.Bar) error
}

// Event is one item of the fan-in stream: a bar, a notification or the
// error that ended a feed.
type Event struct {
	Feed         string
	Bar          *feed.Bar
	Notification *feed.Notification
	Err          error

	// Location is the feed's presentation zone; set on bar events.
	Location *time.Location
}

// LocalBar returns the event's bar with its time in the feed's zone.
func (e Event) LocalBar() feed.Bar {
	if e.Bar == nil {
		return feed.Bar{}
	}
	b := *e.Bar
	if e.Location != nil {
		b.Time = b.Time.In(e.Location)
	}
	return b
}

// Runner drives a set of feeds, one goroutine each, and fans their output
// into a single event channel.
type Runner struct {
	recorder Recorder
	events   chan Event
	done     chan struct{}
	doneOnce sync.Once

	mu    sync.Mutex
	feeds []*feed.Feed
	errs  []error
}

// New returns a runner. recorder may be nil.
func New(recorder Recorder, buffer int) *Runner {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Runner{
		recorder: recorder,
		events:   make(chan Event, buffer),
		done:     make(chan struct{}),
	}
}

// Notifier forwards feed notifications into the event stream. Pass it to
// feed.New.
func (r *Runner) Notifier() feed.Notifier {
	return feed.NotifierFunc(func(n feed.Notification) {
		note := n
		r.emit(Event{Feed: n.Feed, Notification: &note})
	})
}

// Add registers a feed built with New's Notifier.
func (r *Runner) Add(f *feed.Feed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeds = append(r.feeds, f)
}

// Events is closed once every feed has ended.
func (r *Runner) Events() <-chan Event { return r.events }

// Run starts every feed and blocks until all of them end, either
// terminally or because ctx was cancelled. It returns the terminal errors
// joined, nil when every feed ended through ctx.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	feeds := append([]*feed.Feed(nil), r.feeds...)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, f := range feeds {
		wg.Add(1)
		go func(f *feed.Feed) {
			defer wg.Done()
			if err := r.runFeed(ctx, f); err != nil {
				r.mu.Lock()
				r.errs = append(r.errs, err)
				r.mu.Unlock()
			}
		}(f)
	}
	stop := context.AfterFunc(ctx, r.release)
	wg.Wait()
	stop()
	r.release()
	close(r.events)

	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.errs...)
}

func (r *Runner) runFeed(ctx context.Context, f *feed.Feed) error {
	defer f.Stop()

	if err := f.Start(ctx); err != nil {
		r.emit(Event{Feed: f.Name(), Err: err})
		return err
	}
	observ.Log("feed_runner_started", map[string]any{"feed": f.Name(), "live": f.IsLive(), "tz": f.Location().String()})

	for {
		b, err := f.Load(ctx)
		switch {
		case err == nil:
		case errors.Is(err, feed.ErrNoData):
			continue
		case ctx.Err() != nil:
			observ.Log("feed_runner_cancelled", map[string]any{"feed": f.Name(), "live": f.IsLive(), "bars": f.Series().Len()})
			return nil
		case feed.IsTerminal(err):
			r.emit(Event{Feed: f.Name(), Err: err})
			return err
		default:
			observ.Warn("feed_load_failed", map[string]any{"feed": f.Name(), "error": err.Error()})
			continue
		}

		if r.recorder != nil {
			if err := r.recorder.Save(ctx, f.Name(), b); err != nil && ctx.Err() == nil {
				observ.Warn("bar_record_failed", map[string]any{"feed": f.Name(), "error": err.Error()})
			}
		}
		bar := b
		r.emit(Event{Feed: f.Name(), Location: f.Location(), Bar: &bar})
	}
}

// release unblocks emitters once the run context ends, so a consumer that
// stops draining Events cannot hold Run open.
func (r *Runner) release() {
	r.doneOnce.Do(func() { close(r.done) })
}

// emit blocks while the consumer is behind. Events not taken before the
// run context ends are dropped.
func (r *Runner) emit(e Event) {
	select {
	case r.events <- e:
	case <-r.done:
	}
}
