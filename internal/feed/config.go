package feed

import (
	"fmt"
	"strings"
	"time"
)

// Config drives one feed.
type Config struct {
	Name     string
	Contract ContractSpec

	// RTBar requests pre-aggregated real-time bars instead of ticks. It is
	// ignored for bar sizes below RealTimeBarMinSize.
	RTBar bool
	// Historical stops the feed after the first download of [FromDate, ToDate].
	Historical bool
	// What is the historical data type; empty picks BID for CASH and TRADES otherwise.
	What   string
	UseRTH bool

	// QCheck bounds the live wait before Load reports ErrNoData.
	QCheck time.Duration

	BackfillStart bool
	Backfill      bool
	LateThrough   bool

	TimeFrame   TimeFrame
	Compression int

	FromDate *time.Time
	ToDate   *time.Time

	// MaxBars is how many recent bars the output series retains.
	MaxBars int

	// TZ is an IANA zone name bar times are presented in. Empty uses the
	// contract's exchange zone.
	TZ string
}

const (
	DefaultSecType  = "STK"
	DefaultExchange = "SMART"
	DefaultQCheck   = 500 * time.Millisecond
)

// DefaultConfig returns a live feed with backfilling enabled on start and
// after reconnects, daily bars.
func DefaultConfig(name, symbol string) Config {
	return Config{
		Name: name,
		Contract: ContractSpec{
			Symbol:   symbol,
			SecType:  DefaultSecType,
			Exchange: DefaultExchange,
		},
		QCheck:        DefaultQCheck,
		BackfillStart: true,
		Backfill:      true,
		TimeFrame:     Days,
		Compression:   1,
	}
}

// Validate fills zero values with defaults and rejects unusable settings.
func (c *Config) Validate() error {
	c.Contract.Symbol = strings.TrimSpace(c.Contract.Symbol)
	if c.Contract.Symbol == "" {
		return fmt.Errorf("feed %q: empty symbol", c.Name)
	}
	if c.Name == "" {
		c.Name = c.Contract.Symbol
	}
	if c.Contract.SecType == "" {
		c.Contract.SecType = DefaultSecType
	}
	if c.Contract.Exchange == "" {
		c.Contract.Exchange = DefaultExchange
	}
	if c.QCheck <= 0 {
		c.QCheck = DefaultQCheck
	}
	if c.TimeFrame == 0 {
		c.TimeFrame = Days
	}
	if c.Compression <= 0 {
		c.Compression = 1
	}
	if c.FromDate != nil && c.ToDate != nil && !c.ToDate.After(*c.FromDate) {
		return fmt.Errorf("feed %q: todate %s not after fromdate %s",
			c.Name, c.ToDate.Format(time.RFC3339), c.FromDate.Format(time.RFC3339))
	}
	return nil
}

// LiveKind resolves the live data shape: ticks unless real-time bars were
// requested and the bar size supports them.
func (c Config) LiveKind() LiveKind {
	if !c.RTBar {
		return LiveTicks
	}
	if (BarSize{TimeFrame: c.TimeFrame, Compression: c.Compression}).Less(RealTimeBarMinSize) {
		return LiveTicks
	}
	return LiveBars
}

// WhatToShow resolves the historical data type.
func (c Config) WhatToShow() string {
	if c.What != "" {
		return c.What
	}
	if strings.EqualFold(c.Contract.SecType, "CASH") {
		return "BID"
	}
	return "TRADES"
}
