package feed

import (
	"fmt"
	"strings"
)

// TimeFrame is the unit of a bar's period. Together with a compression
// factor it describes the requested bar size (e.g. Minutes x 5).
type TimeFrame int

const (
	Ticks TimeFrame = iota + 1
	MicroSeconds
	Seconds
	Minutes
	Days
	Weeks
	Months
	Years
)

var timeFrameNames = map[TimeFrame]string{
	Ticks:        "ticks",
	MicroSeconds: "microseconds",
	Seconds:      "seconds",
	Minutes:      "minutes",
	Days:         "days",
	Weeks:        "weeks",
	Months:       "months",
	Years:        "years",
}

func (tf TimeFrame) String() string {
	if s, ok := timeFrameNames[tf]; ok {
		return s
	}
	return fmt.Sprintf("timeframe(%d)", int(tf))
}

// ParseTimeFrame accepts the names produced by String, case-insensitively.
func ParseTimeFrame(s string) (TimeFrame, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for tf, name := range timeFrameNames {
		if name == s {
			return tf, nil
		}
	}
	return 0, fmt.Errorf("unknown timeframe %q", s)
}

// BarSize is a (timeframe, compression) pair ordered lexicographically.
type BarSize struct {
	TimeFrame   TimeFrame
	Compression int
}

// Less reports whether b is a smaller bar size than o.
func (b BarSize) Less(o BarSize) bool {
	if b.TimeFrame != o.TimeFrame {
		return b.TimeFrame < o.TimeFrame
	}
	return b.Compression < o.Compression
}

// RealTimeBarMinSize is the smallest bar size the gateway serves as
// pre-aggregated real-time bars. Below it only ticks are available.
var RealTimeBarMinSize = BarSize{TimeFrame: Seconds, Compression: 5}
