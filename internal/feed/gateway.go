package feed

import (
	"context"
	"time"
)

// ContractSpec describes an instrument before the gateway resolves it.
type ContractSpec struct {
	Symbol     string  `json:"symbol" yaml:"symbol"`
	SecType    string  `json:"sectype" yaml:"sectype"`
	Exchange   string  `json:"exchange" yaml:"exchange"`
	Currency   string  `json:"currency" yaml:"currency"`
	Expiry     string  `json:"expiry,omitempty" yaml:"expiry"`
	Strike     float64 `json:"strike,omitempty" yaml:"strike"`
	Right      string  `json:"right,omitempty" yaml:"right"`
	Multiplier string  `json:"multiplier,omitempty" yaml:"multiplier"`
}

// Contract is the gateway's handle for a resolved instrument.
type Contract struct {
	ID       int64        `json:"id"`
	Spec     ContractSpec `json:"spec"`
	TimeZone string       `json:"time_zone,omitempty"`
}

// LiveKind selects the shape of live data.
type LiveKind int

const (
	LiveTicks LiveKind = iota + 1
	LiveBars           // pre-aggregated real-time bars
)

func (k LiveKind) String() string {
	if k == LiveBars {
		return "bars"
	}
	return "ticks"
}

// Subscription is an active live data request. C stays the same across
// reconnects that resubscribe.
type Subscription struct {
	ID       string
	Contract Contract
	Kind     LiveKind
	C        <-chan Message
}

// HistoricalRequest asks for bars in (Begin, End]. A nil Begin requests the
// maximum history the gateway serves in one request; a nil End means now.
type HistoricalRequest struct {
	Contract    Contract
	End         *time.Time
	Begin       *time.Time
	TimeFrame   TimeFrame
	Compression int
	What        string
	UseRTH      bool
}

// HistoricalStream delivers the answer to one HistoricalRequest and is
// terminated by an EndOfStream message.
type HistoricalStream struct {
	ID      string
	Request HistoricalRequest
	C       <-chan Message
}

// Gateway is the market data capability the reconciler runs against.
// Implementations serialize Reconnect across all feeds sharing them.
type Gateway interface {
	Connect(ctx context.Context) error
	// Reconnect restores the session when it is down. With resubscribe set,
	// live subscriptions are re-requested onto their existing channels.
	Reconnect(ctx context.Context, resubscribe bool) error
	IsConnected() bool
	ResolveContract(ctx context.Context, spec ContractSpec) (Contract, error)
	SubscribeLive(ctx context.Context, c Contract, kind LiveKind) (*Subscription, error)
	UnsubscribeLive(sub *Subscription)
	RequestHistorical(ctx context.Context, req HistoricalRequest) (*HistoricalStream, error)
	CancelHistorical(s *HistoricalStream)
}

// SeedSource supplies already stored bars replayed before the gateway is
// consulted. Next returns false once exhausted.
type SeedSource interface {
	Next(ctx context.Context) (Bar, bool, error)
}

// SliceSeed replays an in-memory slice.
type SliceSeed struct {
	Bars []Bar
	pos  int
}

func (s *SliceSeed) Next(ctx context.Context) (Bar, bool, error) {
	if err := ctx.Err(); err != nil {
		return Bar{}, false, err
	}
	if s.pos >= len(s.Bars) {
		return Bar{}, false, nil
	}
	b := s.Bars[s.pos]
	s.pos++
	return b, true, nil
}
