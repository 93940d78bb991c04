package gateway

import (
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/Rajchodisetti/feedsync/internal/feed"
)

// Walk generates random-walk prices per symbol. It backs the simulator and
// the stub server when no recorded bars are available.
type Walk struct {
	mu     sync.Mutex
	bases  map[string]*walkBase
	random *rand.Rand
}

type walkBase struct {
	Price      float64
	Volatility float64 // daily volatility as decimal (0.02 = 2%)
	Volume     float64
}

// NewWalk returns a walk over a few liquid names. seed 0 uses the clock.
func NewWalk(seed int64) *Walk {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Walk{
		bases: map[string]*walkBase{
			"AAPL":  {Price: 206.80, Volatility: 0.025, Volume: 15000000},
			"NVDA":  {Price: 450.00, Volatility: 0.035, Volume: 10000000},
			"MSFT":  {Price: 415.75, Volatility: 0.022, Volume: 12000000},
			"GOOGL": {Price: 172.50, Volatility: 0.028, Volume: 8000000},
			"EUR":   {Price: 1.0850, Volatility: 0.006, Volume: 0},
		},
		random: rand.New(rand.NewSource(seed)),
	}
}

// AddSymbol registers or replaces a symbol's starting point.
func (w *Walk) AddSymbol(symbol string, price, volatility, dailyVolume float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bases[strings.ToUpper(symbol)] = &walkBase{Price: price, Volatility: volatility, Volume: dailyVolume}
}

func (w *Walk) base(symbol string) *walkBase {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	b, ok := w.bases[symbol]
	if !ok {
		b = &walkBase{Price: 100, Volatility: 0.02, Volume: 1000000}
		w.bases[symbol] = b
	}
	return b
}

// Tick advances symbol one step and returns a trade at t.
func (w *Walk) Tick(symbol string, t time.Time) feed.Tick {
	w.mu.Lock()
	defer w.mu.Unlock()
	b := w.base(symbol)
	b.Price = roundToTick(b.Price*(1+w.move(b.Volatility)), getTickSize(b.Price))
	size := math.Max(1, math.Round(b.Volume/390/60*(0.5+w.random.Float64())))
	return feed.Tick{Time: t, Price: b.Price, Size: size}
}

// Bar advances symbol over one bar of length d ending at t.
func (w *Walk) Bar(symbol string, t time.Time, d time.Duration) feed.Bar {
	w.mu.Lock()
	defer w.mu.Unlock()
	b := w.base(symbol)
	open := b.Price
	high, low := open, open
	steps := 4
	for i := 0; i < steps; i++ {
		b.Price = roundToTick(b.Price*(1+w.move(b.Volatility)), getTickSize(b.Price))
		high = math.Max(high, b.Price)
		low = math.Min(low, b.Price)
	}
	minutes := math.Max(d.Minutes(), 1.0/60)
	volume := math.Round(b.Volume / 390 * minutes * (0.7 + w.random.Float64()*0.6))
	return feed.Bar{Time: t, Open: open, High: high, Low: low, Close: b.Price, Volume: volume}
}

// Bars synthesizes bars of length step in (begin, end]. A nil begin
// produces limit bars ending at end.
func (w *Walk) Bars(symbol string, begin *time.Time, end time.Time, step time.Duration, limit int) []feed.Bar {
	if step <= 0 {
		step = time.Minute
	}
	start := end.Add(-time.Duration(limit) * step)
	if begin != nil && begin.After(start) {
		start = *begin
	}
	var out []feed.Bar
	for t := start.Add(step); !t.After(end); t = t.Add(step) {
		out = append(out, w.Bar(symbol, t, step))
	}
	return out
}

// move draws a per-minute return for a daily volatility, assuming a 390
// minute session.
func (w *Walk) move(dailyVol float64) float64 {
	minuteVol := dailyVol / math.Sqrt(390)
	return w.random.NormFloat64() * minuteVol
}

// getTickSize returns appropriate tick size for price level
func getTickSize(price float64) float64 {
	if price >= 1.00 {
		return 0.01
	}
	return 0.0001
}

func roundToTick(price, tickSize float64) float64 {
	return math.Round(price/tickSize) * tickSize
}

// BarDuration converts a bar size into wall time. Months and years use
// calendar approximations; ticks map to one second.
func BarDuration(tf feed.TimeFrame, compression int) time.Duration {
	if compression <= 0 {
		compression = 1
	}
	var unit time.Duration
	switch tf {
	case feed.MicroSeconds:
		unit = time.Microsecond
	case feed.Seconds, feed.Ticks:
		unit = time.Second
	case feed.Minutes:
		unit = time.Minute
	case feed.Days:
		unit = 24 * time.Hour
	case feed.Weeks:
		unit = 7 * 24 * time.Hour
	case feed.Months:
		unit = 30 * 24 * time.Hour
	case feed.Years:
		unit = 365 * 24 * time.Hour
	default:
		unit = time.Minute
	}
	return time.Duration(compression) * unit
}
