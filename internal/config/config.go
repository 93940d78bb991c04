package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Rajchodisetti/feedsync/internal/feed"
)

type Reconnect struct {
	InitialDelayMs int `yaml:"initial_delay_ms"`
	MaxDelayMs     int `yaml:"max_delay_ms"`
	MaxAttempts    int `yaml:"max_attempts"`
}

type Gateway struct {
	Kind                string    `yaml:"kind"` // sim | ws
	URL                 string    `yaml:"url"`
	DialTimeoutMs       int       `yaml:"dial_timeout_ms"`
	Reconnect           Reconnect `yaml:"reconnect"`
	HistoricalPerMinute int       `yaml:"historical_per_minute"`
	SimTickMs           int       `yaml:"sim_tick_ms"`
	SimSeed             int64     `yaml:"sim_seed"`
}

type Store struct {
	Path   string `yaml:"path"`
	Record bool   `yaml:"record"`
	// Journal, when set, appends delivered bars and notifications as JSONL.
	Journal string `yaml:"journal"`
}

type Log struct {
	Prod bool `yaml:"prod"`
}

type Seed struct {
	Kind string `yaml:"kind"` // sqlite | csv
	Path string `yaml:"path"`
}

// Feed is one feed entry. Dates accept RFC3339 or YYYY-MM-DD.
type Feed struct {
	Name       string  `yaml:"name"`
	Symbol     string  `yaml:"symbol"`
	SecType    string  `yaml:"sectype"`
	Exchange   string  `yaml:"exchange"`
	Currency   string  `yaml:"currency"`
	Expiry     string  `yaml:"expiry"`
	Strike     float64 `yaml:"strike"`
	Right      string  `yaml:"right"`
	Multiplier string  `yaml:"multiplier"`

	RTBar         bool   `yaml:"rtbar"`
	Historical    bool   `yaml:"historical"`
	What          string `yaml:"what"`
	UseRTH        bool   `yaml:"use_rth"`
	QCheckMs      int    `yaml:"qcheck_ms"`
	BackfillStart *bool  `yaml:"backfill_start"`
	Backfill      *bool  `yaml:"backfill"`
	LateThrough   bool   `yaml:"latethrough"`
	TimeFrame     string `yaml:"timeframe"`
	Compression   int    `yaml:"compression"`
	FromDate      string `yaml:"fromdate"`
	ToDate        string `yaml:"todate"`
	Seed          *Seed  `yaml:"seed"`
	MaxBars       int    `yaml:"max_bars"`
	TZ            string `yaml:"tz"`
}

type Root struct {
	Gateway     Gateway `yaml:"gateway"`
	Store       Store   `yaml:"store"`
	Log         Log     `yaml:"log"`
	MetricsAddr string  `yaml:"metrics_addr"`
	Feeds       []Feed  `yaml:"feeds"`
}

// LoadDotEnv loads environment files, skipping ones that do not exist.
// Variables already set in the process win.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	ApplyEnv(&c)
	applyDefaults(&c)
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// ApplyEnv overrides file settings from FEEDSYNC_* variables.
func ApplyEnv(c *Root) {
	if v := os.Getenv("FEEDSYNC_GATEWAY"); v != "" {
		c.Gateway.Kind = v
	}
	if v := os.Getenv("FEEDSYNC_GATEWAY_URL"); v != "" {
		c.Gateway.URL = v
	}
	if v := os.Getenv("FEEDSYNC_LOG_PROD"); v != "" {
		if prod, err := strconv.ParseBool(v); err == nil {
			c.Log.Prod = prod
		}
	}
	if v := os.Getenv("FEEDSYNC_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("FEEDSYNC_JOURNAL"); v != "" {
		c.Store.Journal = v
	}
	if v := os.Getenv("FEEDSYNC_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
}

func applyDefaults(c *Root) {
	// Set gateway defaults
	if c.Gateway.Kind == "" {
		c.Gateway.Kind = "sim"
	}
	if c.Gateway.URL == "" {
		c.Gateway.URL = "ws://localhost:8093/ws"
	}
	if c.Gateway.DialTimeoutMs == 0 {
		c.Gateway.DialTimeoutMs = 5000
	}
	if c.Gateway.Reconnect.InitialDelayMs == 0 {
		c.Gateway.Reconnect.InitialDelayMs = 250
	}
	if c.Gateway.Reconnect.MaxDelayMs == 0 {
		c.Gateway.Reconnect.MaxDelayMs = 5000
	}
	if c.Gateway.Reconnect.MaxAttempts == 0 {
		c.Gateway.Reconnect.MaxAttempts = 5
	}
	if c.Gateway.HistoricalPerMinute == 0 {
		c.Gateway.HistoricalPerMinute = 60
	}
	if c.Gateway.SimTickMs == 0 {
		c.Gateway.SimTickMs = 1000
	}

	// Set store defaults
	if c.Store.Path == "" {
		c.Store.Path = "data/feedsync.db"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":8090"
	}

	for i := range c.Feeds {
		f := &c.Feeds[i]
		f.Symbol = strings.ToUpper(strings.TrimSpace(f.Symbol))
		if f.Name == "" {
			f.Name = strings.ToLower(f.Symbol)
		}
		if f.QCheckMs == 0 {
			f.QCheckMs = int(feed.DefaultQCheck / time.Millisecond)
		}
		if f.TimeFrame == "" {
			f.TimeFrame = "days"
		}
		if f.Compression == 0 {
			f.Compression = 1
		}
	}
}

// Validate rejects configurations no feed could start from.
func (c Root) Validate() error {
	switch c.Gateway.Kind {
	case "sim", "ws":
	default:
		return fmt.Errorf("gateway.kind %q: want sim or ws", c.Gateway.Kind)
	}
	if len(c.Feeds) == 0 {
		return errors.New("no feeds configured")
	}
	seen := map[string]bool{}
	for _, f := range c.Feeds {
		if f.Symbol == "" {
			return fmt.Errorf("feed %q: symbol required", f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("feed %q: duplicate name", f.Name)
		}
		seen[f.Name] = true
		if f.Seed != nil {
			switch f.Seed.Kind {
			case "sqlite", "csv":
			default:
				return fmt.Errorf("feed %q: seed.kind %q: want sqlite or csv", f.Name, f.Seed.Kind)
			}
			if f.Seed.Kind == "csv" && f.Seed.Path == "" {
				return fmt.Errorf("feed %q: csv seed needs a path", f.Name)
			}
		}
		if _, err := f.FeedConfig(); err != nil {
			return err
		}
	}
	return nil
}

// FeedConfig converts the entry into a validated feed.Config.
func (f Feed) FeedConfig() (feed.Config, error) {
	cfg := feed.DefaultConfig(f.Name, f.Symbol)
	cfg.Contract = feed.ContractSpec{
		Symbol:     f.Symbol,
		SecType:    f.SecType,
		Exchange:   f.Exchange,
		Currency:   f.Currency,
		Expiry:     f.Expiry,
		Strike:     f.Strike,
		Right:      f.Right,
		Multiplier: f.Multiplier,
	}
	cfg.RTBar = f.RTBar
	cfg.Historical = f.Historical
	cfg.What = f.What
	cfg.UseRTH = f.UseRTH
	cfg.QCheck = time.Duration(f.QCheckMs) * time.Millisecond
	if f.BackfillStart != nil {
		cfg.BackfillStart = *f.BackfillStart
	}
	if f.Backfill != nil {
		cfg.Backfill = *f.Backfill
	}
	cfg.LateThrough = f.LateThrough
	cfg.Compression = f.Compression
	cfg.MaxBars = f.MaxBars
	cfg.TZ = f.TZ

	tf, err := feed.ParseTimeFrame(f.TimeFrame)
	if err != nil {
		return cfg, fmt.Errorf("feed %q: %w", f.Name, err)
	}
	cfg.TimeFrame = tf

	if cfg.FromDate, err = parseDate(f.FromDate); err != nil {
		return cfg, fmt.Errorf("feed %q fromdate: %w", f.Name, err)
	}
	if cfg.ToDate, err = parseDate(f.ToDate); err != nil {
		return cfg, fmt.Errorf("feed %q todate: %w", f.Name, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized date %q", s)
}
