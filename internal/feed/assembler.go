package feed

import "time"

// Assembler turns a gateway data message into a canonical Bar and enforces
// the monotonic timestamp rule.
type Assembler struct {
	// LateThrough admits bars whose timestamp is not after the last one.
	LateThrough bool
}

// Assemble builds a bar from m. It returns false when m carries no data or
// when its timestamp is not after last and late data is not admitted.
func (a Assembler) Assemble(m Message, last time.Time) (Bar, bool) {
	var b Bar
	switch m.Kind {
	case KindTick:
		p := m.Tick.Price
		b = Bar{
			Time:   m.Tick.Time,
			Open:   p,
			High:   p,
			Low:    p,
			Close:  p,
			Volume: m.Tick.Size,
		}
	case KindBar:
		b = m.Bar
		b.OpenInterest = 0
	default:
		return Bar{}, false
	}

	if !b.Time.After(last) && !a.LateThrough {
		return Bar{}, false
	}
	return b, true
}
