package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"sort"

	"github.com/Rajchodisetti/feedsync/internal/feed"
	"github.com/Rajchodisetti/feedsync/internal/store"
)

// replay copies the bars of a feedsync journal into a sqlite store, where a
// feed configured with a sqlite seed can replay them on its next start.
func main() {
	log.SetFlags(0)
	var journalPath string
	var dbPath string
	var only string
	flag.StringVar(&journalPath, "journal", "data/feedsync.jsonl", "journal to read")
	flag.StringVar(&dbPath, "db", "data/feedsync.db", "sqlite store to write")
	flag.StringVar(&only, "feed", "", "copy only this feed")
	flag.Parse()

	byFeed := map[string]map[int64]feed.Bar{}
	statuses := map[string]int{}
	err := store.ReadJournal(journalPath, func(e store.Entry) error {
		if only != "" && e.Feed != only {
			return nil
		}
		if e.Type != "bar" {
			statuses[e.Feed]++
			return nil
		}
		var b feed.Bar
		if err := json.Unmarshal(e.Data, &b); err != nil {
			return nil
		}
		if byFeed[e.Feed] == nil {
			byFeed[e.Feed] = map[int64]feed.Bar{}
		}
		byFeed[e.Feed][b.Time.UnixNano()] = b
		return nil
	})
	if err != nil {
		log.Fatalf("read %s: %v", journalPath, err)
	}

	ctx := context.Background()
	db, err := store.Open(ctx, dbPath)
	if err != nil {
		log.Fatalf("open %s: %v", dbPath, err)
	}
	defer db.Close()

	names := make([]string, 0, len(byFeed))
	for name := range byFeed {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		bars := make([]feed.Bar, 0, len(byFeed[name]))
		for _, b := range byFeed[name] {
			bars = append(bars, b)
		}
		sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
		if err := db.SaveBatch(ctx, name, bars); err != nil {
			log.Fatalf("save %s: %v", name, err)
		}
		total, err := db.Count(ctx, name)
		if err != nil {
			log.Fatalf("count %s: %v", name, err)
		}
		fmt.Printf("{\"feed\":%q,\"copied\":%d,\"stored\":%d,\"statuses\":%d,\"first\":%q,\"last\":%q}\n",
			name, len(bars), total, statuses[name], bars[0].Time.Format("2006-01-02T15:04:05Z07:00"), bars[len(bars)-1].Time.Format("2006-01-02T15:04:05Z07:00"))
	}
}
