package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Rajchodisetti/feedsync/internal/feed"
)

// Entry is one line of the journal.
type Entry struct {
	Type  string          `json:"type"` // "bar" or "status"
	Feed  string          `json:"feed"`
	Data  json.RawMessage `json:"data"`
	Event time.Time       `json:"event"`
}

// StatusRecord is the journaled form of a notification.
type StatusRecord struct {
	Status string    `json:"status"`
	Code   int       `json:"code,omitempty"`
	Time   time.Time `json:"time"`
}

// Journal is an append-only JSONL log of delivered bars and status
// notifications. A bar at or before the last journaled bar of its feed is
// skipped, so seed replays after a restart do not duplicate lines.
type Journal struct {
	path string

	mu   sync.Mutex
	last map[string]time.Time
}

// OpenJournal creates path's directory and loads the last bar time per feed
// from an existing file.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	j := &Journal{path: path, last: map[string]time.Time{}}
	err := ReadJournal(path, func(e Entry) error {
		if e.Type != "bar" {
			return nil
		}
		var b feed.Bar
		if err := json.Unmarshal(e.Data, &b); err != nil {
			return nil
		}
		if b.Time.After(j.last[e.Feed]) {
			j.last[e.Feed] = b.Time
		}
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return j, nil
}

// Save journals bar; it satisfies the runner's recorder contract.
func (j *Journal) Save(_ context.Context, feedName string, bar feed.Bar) error {
	_, err := j.WriteBar(feedName, bar)
	return err
}

// WriteBar appends bar unless it is not newer than the feed's last
// journaled bar. It reports whether a line was written.
func (j *Journal) WriteBar(feedName string, bar feed.Bar) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if last, ok := j.last[feedName]; ok && !bar.Time.After(last) {
		return false, nil
	}
	if err := j.append("bar", feedName, bar); err != nil {
		return false, err
	}
	j.last[feedName] = bar.Time
	return true, nil
}

// WriteNotification appends a status line.
func (j *Journal) WriteNotification(n feed.Notification) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.append("status", n.Feed, StatusRecord{Status: n.Status.String(), Code: n.Code, Time: n.Time})
}

func (j *Journal) append(typ, feedName string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line, err := json.Marshal(Entry{Type: typ, Feed: feedName, Data: data, Event: time.Now().UTC()})
	if err != nil {
		return err
	}

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

// ReadJournal calls fn for every well-formed line of path. Malformed lines
// are skipped.
func ReadJournal(path string, fn func(Entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return readEntries(f, fn)
}

func readEntries(r io.Reader, fn func(Entry) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	return nil
}
