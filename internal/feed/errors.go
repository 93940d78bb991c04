package feed

import (
	"errors"
	"fmt"
)

// ErrNoData is returned by Load when the live poll quantum elapsed without
// a message. It is not a failure; the caller should poll again.
var ErrNoData = errors.New("no data yet")

// Terminal reasons. Load wraps them in a *TerminalError.
var (
	ErrDisconnected  = errors.New("gateway disconnected")
	ErrNotSubscribed = errors.New("market data not subscribed")
	ErrEndOfData     = errors.New("historical data exhausted")
	ErrNoContract    = errors.New("contract could not be resolved")
	ErrStopped       = errors.New("feed stopped")
)

// TerminalError ends a feed permanently. Every Load after it returns the
// same value.
type TerminalError struct {
	Feed   string
	Reason error
	Cause  error
}

func (e *TerminalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("feed %s: %v (%v)", e.Feed, e.Reason, e.Cause)
	}
	return fmt.Sprintf("feed %s: %v", e.Feed, e.Reason)
}

func (e *TerminalError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Reason, e.Cause}
	}
	return []error{e.Reason}
}

// IsTerminal reports whether err ends the feed.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}
