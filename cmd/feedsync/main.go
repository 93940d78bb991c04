package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/Rajchodisetti/feedsync/internal/config"
	"github.com/Rajchodisetti/feedsync/internal/feed"
	"github.com/Rajchodisetti/feedsync/internal/gateway"
	"github.com/Rajchodisetti/feedsync/internal/observ"
	"github.com/Rajchodisetti/feedsync/internal/runner"
	"github.com/Rajchodisetti/feedsync/internal/store"
)

var version = "dev"

type barLine struct {
	Feed   string    `json:"feed"`
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

type statusLine struct {
	Feed   string `json:"feed"`
	Status string `json:"status"`
	Code   int    `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
}

func main() {
	var cfgPath string
	var envPath string
	var maxBars int
	var durationSeconds int
	var quiet bool
	flag.StringVar(&cfgPath, "config", "config/feedsync.yaml", "config path")
	flag.StringVar(&envPath, "env", ".env", "dotenv file with FEEDSYNC_* overrides")
	flag.IntVar(&maxBars, "max-bars", 0, "stop after emitting this many bars in total (for CI)")
	flag.IntVar(&durationSeconds, "duration-seconds", 0, "stop after duration (for CI)")
	flag.BoolVar(&quiet, "quiet", false, "do not print bars to stdout")
	flag.Parse()

	if err := config.LoadDotEnv(envPath); err != nil {
		log.Printf("Warning: failed to load %s: %v", envPath, err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	flush := observ.Init(cfg.Log.Prod)
	defer func() { _ = flush() }()
	observ.SetVersion(version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if durationSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(durationSeconds)*time.Second)
		defer cancel()
	}

	observ.Log("startup", map[string]any{
		"version":      version,
		"gateway":      cfg.Gateway.Kind,
		"gateway_url":  cfg.Gateway.URL,
		"feeds":        len(cfg.Feeds),
		"record":       cfg.Store.Record,
		"journal":      cfg.Store.Journal,
		"metrics_addr": cfg.MetricsAddr,
	})

	gw, closeGateway := buildGateway(ctx, cfg.Gateway)
	defer closeGateway()

	db, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	if db != nil {
		defer db.Close()
	}

	var recorder runner.Recorder
	if db != nil && cfg.Store.Record {
		recorder = db
	}
	r := runner.New(recorder, 0)

	var journal *store.Journal
	if cfg.Store.Journal != "" {
		journal, err = store.OpenJournal(cfg.Store.Journal)
		if err != nil {
			log.Fatalf("open journal: %v", err)
		}
	}

	var closers []func() error
	for _, fc := range cfg.Feeds {
		feedCfg, err := fc.FeedConfig()
		if err != nil {
			log.Fatalf("feed %s: %v", fc.Name, err)
		}
		seed, closeSeed, err := buildSeed(ctx, fc, feedCfg, db)
		if err != nil {
			log.Fatalf("feed %s seed: %v", fc.Name, err)
		}
		if closeSeed != nil {
			closers = append(closers, closeSeed)
		}
		f, err := feed.New(feedCfg, gw, r.Notifier(), seed)
		if err != nil {
			log.Fatalf("feed %s: %v", fc.Name, err)
		}
		r.Add(f)
	}
	defer func() {
		for _, c := range closers {
			_ = c()
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", observ.Handler())
	mux.Handle("/health", observ.HealthHandler())
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	observ.Log("metrics_listen", map[string]any{"addr": cfg.MetricsAddr})
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observ.Warn("metrics_server_failed", map[string]any{"error": err.Error()})
		}
	}()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(runCtx) }()

	enc := json.NewEncoder(os.Stdout)
	emitted := 0
	for e := range r.Events() {
		switch {
		case e.Bar != nil:
			b := e.LocalBar()
			emitted++
			if journal != nil {
				if _, err := journal.WriteBar(e.Feed, b); err != nil {
					observ.Warn("journal_write_failed", map[string]any{"feed": e.Feed, "error": err.Error()})
				}
			}
			if !quiet {
				_ = enc.Encode(barLine{Feed: e.Feed, Time: b.Time, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume})
			}
			if maxBars > 0 && emitted >= maxBars {
				cancelRun()
			}
		case e.Notification != nil:
			if journal != nil {
				if err := journal.WriteNotification(*e.Notification); err != nil {
					observ.Warn("journal_write_failed", map[string]any{"feed": e.Feed, "error": err.Error()})
				}
			}
			if !quiet {
				_ = enc.Encode(statusLine{Feed: e.Feed, Status: e.Notification.Status.String(), Code: e.Notification.Code})
			}
		case e.Err != nil:
			_ = enc.Encode(statusLine{Feed: e.Feed, Status: "ended", Error: e.Err.Error()})
		}
	}
	err = <-runErr

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	observ.Log("shutdown", map[string]any{"bars": emitted, "health": observ.Snapshot().Status})
	if err != nil {
		observ.Warn("feeds_terminated", map[string]any{"error": err.Error()})
		_ = flush()
		os.Exit(1)
	}
}

func buildGateway(ctx context.Context, gc config.Gateway) (feed.Gateway, func()) {
	switch gc.Kind {
	case "ws":
		client := gateway.NewWSClient(gateway.WSConfig{
			URL:         gc.URL,
			DialTimeout: time.Duration(gc.DialTimeoutMs) * time.Millisecond,
			Reconnect: gateway.ReconnectConfig{
				InitialDelay: time.Duration(gc.Reconnect.InitialDelayMs) * time.Millisecond,
				MaxDelay:     time.Duration(gc.Reconnect.MaxDelayMs) * time.Millisecond,
				MaxAttempts:  gc.Reconnect.MaxAttempts,
			},
			HistoricalPerMinute: gc.HistoricalPerMinute,
		})
		return client, func() { _ = client.Close() }
	default:
		sim := gateway.NewSim(gateway.SimConfig{Seed: gc.SimSeed})
		go sim.Run(ctx, time.Duration(gc.SimTickMs)*time.Millisecond)
		return sim, func() {}
	}
}

func openStore(ctx context.Context, cfg config.Root) (*store.SQLite, error) {
	need := cfg.Store.Record
	for _, f := range cfg.Feeds {
		if f.Seed != nil && f.Seed.Kind == "sqlite" && f.Seed.Path == "" {
			need = true
		}
	}
	if !need {
		return nil, nil
	}
	if dir := filepath.Dir(cfg.Store.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return store.Open(ctx, cfg.Store.Path)
}

func buildSeed(ctx context.Context, fc config.Feed, feedCfg feed.Config, db *store.SQLite) (feed.SeedSource, func() error, error) {
	if fc.Seed == nil {
		return nil, nil, nil
	}
	switch fc.Seed.Kind {
	case "csv":
		s, err := store.OpenCSV(fc.Seed.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "sqlite":
		if fc.Seed.Path != "" {
			other, err := store.Open(ctx, fc.Seed.Path)
			if err != nil {
				return nil, nil, err
			}
			return other.Seed(feedCfg.Name, feedCfg.FromDate, feedCfg.ToDate), other.Close, nil
		}
		if db == nil {
			return nil, nil, fmt.Errorf("sqlite seed without a store")
		}
		return db.Seed(feedCfg.Name, feedCfg.FromDate, feedCfg.ToDate), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown seed kind %q", fc.Seed.Kind)
}
