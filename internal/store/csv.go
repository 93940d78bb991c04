package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Rajchodisetti/feedsync/internal/feed"
)

var csvTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// CSVSeed replays bars from a CSV file with a header row naming at least
// datetime (or time), open, high, low, close. volume and openinterest are
// optional.
type CSVSeed struct {
	f    *os.File
	r    *csv.Reader
	cols map[string]int
	line int
}

// OpenCSV opens path and reads its header.
func OpenCSV(path string) (*CSVSeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv %s: %w", path, err)
	}
	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read csv header %s: %w", path, err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["datetime"]; !ok {
		if i, ok := cols["time"]; ok {
			cols["datetime"] = i
		} else {
			f.Close()
			return nil, fmt.Errorf("csv %s: missing datetime column", path)
		}
	}
	for _, c := range []string{"open", "high", "low", "close"} {
		if _, ok := cols[c]; !ok {
			f.Close()
			return nil, fmt.Errorf("csv %s: missing %s column", path, c)
		}
	}
	return &CSVSeed{f: f, r: r, cols: cols, line: 1}, nil
}

func (c *CSVSeed) Next(ctx context.Context) (feed.Bar, bool, error) {
	if err := ctx.Err(); err != nil {
		return feed.Bar{}, false, err
	}
	rec, err := c.r.Read()
	if errors.Is(err, io.EOF) {
		return feed.Bar{}, false, nil
	}
	if err != nil {
		return feed.Bar{}, false, err
	}
	c.line++

	b := feed.Bar{}
	if b.Time, err = parseCSVTime(rec[c.cols["datetime"]]); err != nil {
		return feed.Bar{}, false, fmt.Errorf("csv line %d: %w", c.line, err)
	}
	fields := []struct {
		col string
		dst *float64
	}{
		{"open", &b.Open}, {"high", &b.High}, {"low", &b.Low}, {"close", &b.Close},
		{"volume", &b.Volume}, {"openinterest", &b.OpenInterest},
	}
	for _, fd := range fields {
		i, ok := c.cols[fd.col]
		if !ok || i >= len(rec) || strings.TrimSpace(rec[i]) == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil {
			return feed.Bar{}, false, fmt.Errorf("csv line %d %s: %w", c.line, fd.col, err)
		}
		*fd.dst = v
	}
	return b, true, nil
}

// Close closes the underlying file.
func (c *CSVSeed) Close() error {
	return c.f.Close()
}

func parseCSVTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range csvTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
