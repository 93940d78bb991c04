package main

import (
	"flag"
	"log"
	"strings"
	"time"

	"github.com/Rajchodisetti/feedsync/internal/feed"
	"github.com/Rajchodisetti/feedsync/internal/observ"
	"github.com/Rajchodisetti/feedsync/internal/stubs"
)

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

func main() {
	var addr string
	var fixturesPath string
	var tickMs int
	var seed int64
	var notSubscribed string
	var unknown string
	var prodLog bool
	flag.StringVar(&addr, "addr", ":8093", "listen address")
	flag.StringVar(&fixturesPath, "fixtures", "", "JSON bars fixture served to historical requests")
	flag.IntVar(&tickMs, "tick-ms", 1000, "live tick interval")
	flag.Int64Var(&seed, "seed", 0, "random walk seed (0 = clock)")
	flag.StringVar(&notSubscribed, "not-subscribed", "", "comma separated symbols answered with 354/420")
	flag.StringVar(&unknown, "unknown", "", "comma separated symbols that fail contract resolution")
	flag.BoolVar(&prodLog, "prod-log", false, "JSON logs")
	flag.Parse()

	flush := observ.Init(prodLog)
	defer func() { _ = flush() }()

	var fixtures map[string][]feed.Bar
	if fixturesPath != "" {
		var err error
		fixtures, err = stubs.LoadBarsFixture(fixturesPath)
		if err != nil {
			log.Fatalf("fixtures: %v", err)
		}
	}

	srv := stubs.NewServer(stubs.Config{
		TickInterval:  time.Duration(tickMs) * time.Millisecond,
		Seed:          seed,
		Fixtures:      fixtures,
		NotSubscribed: splitList(notSubscribed),
		Unknown:       splitList(unknown),
		Release:       prodLog,
	})
	if err := srv.Run(addr); err != nil {
		log.Fatalf("stub gateway %s: %v", addr, err)
	}
}
