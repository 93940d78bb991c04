package feed

import (
	"fmt"
	"time"
)

// Kind tags the variant carried by a Message.
type Kind uint8

const (
	KindBar Kind = iota + 1
	KindTick
	KindError
	KindConnLost
	KindEndOfStream
)

func (k Kind) String() string {
	switch k {
	case KindBar:
		return "bar"
	case KindTick:
		return "tick"
	case KindError:
		return "error"
	case KindConnLost:
		return "conn_lost"
	case KindEndOfStream:
		return "end"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Gateway status codes that carry meaning for the reconciler. Anything
// else arriving as KindError is surfaced as an unknown notification.
const (
	CodeNotSubscribed    = 354  // market data not subscribed
	CodeNoPermission     = 420  // no permission for the requested data
	CodeConnBroken       = 1100 // connectivity lost, gateway retries on its own
	CodeConnRestoredLost = 1101 // connectivity restored, subscriptions dropped
	CodeConnRestoredKept = 1102 // connectivity restored, subscriptions kept
)

// Message is one item read from a live subscription or historical stream.
// Exactly one payload is meaningful, selected by Kind.
type Message struct {
	Kind Kind
	Bar  Bar
	Tick Tick
	Code int
}

func BarMessage(b Bar) Message      { return Message{Kind: KindBar, Bar: b} }
func TickMessage(t Tick) Message    { return Message{Kind: KindTick, Tick: t} }
func ErrorMessage(code int) Message { return Message{Kind: KindError, Code: code} }
func ConnLostMessage() Message      { return Message{Kind: KindConnLost} }
func EndOfStreamMessage() Message   { return Message{Kind: KindEndOfStream} }

// Time is the timestamp carried by data messages; zero for the rest.
func (m Message) Time() time.Time {
	switch m.Kind {
	case KindBar:
		return m.Bar.Time
	case KindTick:
		return m.Tick.Time
	}
	return time.Time{}
}

// IsData reports whether m carries a bar or a tick.
func (m Message) IsData() bool {
	return m.Kind == KindBar || m.Kind == KindTick
}

func (m Message) String() string {
	switch m.Kind {
	case KindBar, KindTick:
		return fmt.Sprintf("%s@%s", m.Kind, m.Time().Format(time.RFC3339Nano))
	case KindError:
		return fmt.Sprintf("error(%d)", m.Code)
	}
	return m.Kind.String()
}
