package feed

import "time"

// Bar is the canonical OHLCV record delivered to the output series.
type Bar struct {
	Time         time.Time `json:"time"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       float64   `json:"volume"`
	OpenInterest float64   `json:"open_interest"`
}

// Tick is a single trade print.
type Tick struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
	Size  float64   `json:"size"`
}

// Series is the output series of a feed. It always knows how many bars
// were accepted and which one was last; with a positive window it also
// retains that many recent bars.
type Series struct {
	count  int
	last   Bar
	window int
	recent []Bar
}

// NewSeries returns a series retaining up to window recent bars.
func NewSeries(window int) *Series {
	if window < 0 {
		window = 0
	}
	return &Series{window: window}
}

// Append adds b as the newest bar.
func (s *Series) Append(b Bar) {
	s.count++
	s.last = b
	if s.window == 0 {
		return
	}
	if len(s.recent) == s.window {
		copy(s.recent, s.recent[1:])
		s.recent = s.recent[:len(s.recent)-1]
	}
	s.recent = append(s.recent, b)
}

// Len is the number of bars accepted so far.
func (s *Series) Len() int { return s.count }

// Last returns the most recent bar and false when the series is empty.
func (s *Series) Last() (Bar, bool) {
	return s.last, s.count > 0
}

// LastTime is the timestamp of the most recent bar, zero when empty.
func (s *Series) LastTime() time.Time {
	return s.last.Time
}

// Recent returns a copy of the retained bars, oldest first.
func (s *Series) Recent() []Bar {
	out := make([]Bar, len(s.recent))
	copy(out, s.recent)
	return out
}
