package stubs

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/Rajchodisetti/feedsync/internal/feed"
)

// BarsFixture is the on-disk shape of recorded history served to
// historical requests.
type BarsFixture struct {
	Bars map[string][]feed.Bar `json:"bars"`
}

// LoadBarsFixture reads a fixture file. Symbols are upper-cased and bars
// sorted by time.
func LoadBarsFixture(path string) (map[string][]feed.Bar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var fx BarsFixture
	if err := json.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	out := make(map[string][]feed.Bar, len(fx.Bars))
	for symbol, bars := range fx.Bars {
		sorted := append([]feed.Bar(nil), bars...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
		out[strings.ToUpper(symbol)] = sorted
	}
	return out, nil
}

// barsBetween returns bars in (begin, end]; a nil begin keeps the last
// limit bars.
func barsBetween(bars []feed.Bar, begin *time.Time, end time.Time, limit int) []feed.Bar {
	var out []feed.Bar
	for _, b := range bars {
		if begin != nil && !b.Time.After(*begin) {
			continue
		}
		if b.Time.After(end) {
			continue
		}
		out = append(out, b)
	}
	if begin == nil && limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
