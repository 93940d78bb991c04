package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every feedsync collector. It is separate from the default
// registry so tests and embedding programs see only our series.
var Registry = prometheus.NewRegistry()

var (
	BarsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_bars_total",
		Help: "Bars delivered to the output series.",
	}, []string{"feed", "source"})

	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_notifications_total",
		Help: "Status notifications emitted by feeds.",
	}, []string{"feed", "status"})

	FeedMode = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "feedsync_feed_mode",
		Help: "Current reconciliation mode (0 seed, 1 initializing, 2 live, 3 backfill).",
	}, []string{"feed"})

	BackfillsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_backfills_total",
		Help: "Historical backfill requests issued.",
	}, []string{"feed"})

	ReconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_reconnects_total",
		Help: "Reconnect attempts by outcome.",
	}, []string{"feed", "result"})

	GatewayMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_gateway_messages_total",
		Help: "Messages received from a gateway by type.",
	}, []string{"gateway", "type"})

	LoadSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedsync_load_seconds",
		Help:    "Wall time spent in a single Load call that produced a bar.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"feed"})
)

func init() {
	Registry.MustRegister(
		BarsTotal,
		NotificationsTotal,
		FeedMode,
		BackfillsTotal,
		ReconnectsTotal,
		GatewayMessagesTotal,
		LoadSeconds,
	)
}

// Handler serves the registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordDuration records a Load duration for feed.
func RecordDuration(feed string, d time.Duration) {
	LoadSeconds.WithLabelValues(feed).Observe(d.Seconds())
}

// FeedHealth is the last known condition of one feed.
type FeedHealth struct {
	Mode       string    `json:"mode"`
	LastStatus string    `json:"last_status"`
	Bars       int64     `json:"bars"`
	Terminal   bool      `json:"terminal"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type healthBook struct {
	mu    sync.Mutex
	feeds map[string]*FeedHealth
}

var health = &healthBook{feeds: map[string]*FeedHealth{}}

func (h *healthBook) entry(feed string) *FeedHealth {
	e, ok := h.feeds[feed]
	if !ok {
		e = &FeedHealth{}
		h.feeds[feed] = e
	}
	return e
}

// SetFeedMode records the mode a feed moved into.
func SetFeedMode(feed, mode string, code float64) {
	FeedMode.WithLabelValues(feed).Set(code)
	health.mu.Lock()
	defer health.mu.Unlock()
	e := health.entry(feed)
	e.Mode = mode
	e.UpdatedAt = time.Now().UTC()
}

// SetFeedStatus records the last notification a feed emitted.
func SetFeedStatus(feed, status string, terminal bool) {
	NotificationsTotal.WithLabelValues(feed, status).Inc()
	health.mu.Lock()
	defer health.mu.Unlock()
	e := health.entry(feed)
	e.LastStatus = status
	if terminal {
		e.Terminal = true
	}
	e.UpdatedAt = time.Now().UTC()
}

// IncFeedBars counts one delivered bar.
func IncFeedBars(feed, source string) {
	BarsTotal.WithLabelValues(feed, source).Inc()
	health.mu.Lock()
	defer health.mu.Unlock()
	health.entry(feed).Bars++
}

// HealthStatus represents overall process health.
type HealthStatus struct {
	Status    string                `json:"status"` // "healthy", "degraded", "failed"
	Timestamp string                `json:"timestamp"`
	Uptime    string                `json:"uptime"`
	Version   string                `json:"version"`
	Feeds     map[string]FeedHealth `json:"feeds"`
}

var (
	startTime = time.Now()
	version   = "dev" // Set via build flags
)

// SetVersion sets the version string for health reports
func SetVersion(v string) {
	version = v
}

// Snapshot returns the current health report.
func Snapshot() HealthStatus {
	health.mu.Lock()
	defer health.mu.Unlock()

	feeds := make(map[string]FeedHealth, len(health.feeds))
	names := make([]string, 0, len(health.feeds))
	for name, e := range health.feeds {
		feeds[name] = *e
		names = append(names, name)
	}
	sort.Strings(names)

	return HealthStatus{
		Status:    overallStatus(feeds, names),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(startTime).String(),
		Version:   version,
		Feeds:     feeds,
	}
}

// overallStatus is failed when every feed is terminal, degraded when any
// feed is terminal or waiting on a backfill/reconnect.
func overallStatus(feeds map[string]FeedHealth, names []string) string {
	if len(names) == 0 {
		return "healthy"
	}
	terminal, degraded := 0, 0
	for _, n := range names {
		f := feeds[n]
		switch {
		case f.Terminal:
			terminal++
		case f.LastStatus == "delayed" || f.LastStatus == "connection_broken":
			degraded++
		}
	}
	switch {
	case terminal == len(names):
		return "failed"
	case terminal > 0 || degraded > 0:
		return "degraded"
	}
	return "healthy"
}

// HealthHandler serves Snapshot as JSON.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := Snapshot()

		statusCode := http.StatusOK
		switch h.Status {
		case "degraded":
			statusCode = http.StatusPartialContent // 206
		case "failed":
			statusCode = http.StatusServiceUnavailable // 503
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(h)
	})
}

// resetHealth clears feed health; used by tests.
func resetHealth() {
	health.mu.Lock()
	defer health.mu.Unlock()
	health.feeds = map[string]*FeedHealth{}
}
