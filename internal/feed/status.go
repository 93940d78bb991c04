package feed

import (
	"fmt"
	"time"
)

// Status is a feed notification kind.
type Status int

const (
	StatusConnected Status = iota + 1
	StatusDisconnected
	StatusConnectionBroken
	StatusLive
	StatusDelayed
	StatusNotSubscribed
	StatusUnknown
)

var statusNames = map[Status]string{
	StatusConnected:        "connected",
	StatusDisconnected:     "disconnected",
	StatusConnectionBroken: "connection_broken",
	StatusLive:             "live",
	StatusDelayed:          "delayed",
	StatusNotSubscribed:    "not_subscribed",
	StatusUnknown:          "unknown",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Notification is delivered to the Notifier in emission order.
type Notification struct {
	Feed   string    `json:"feed"`
	Status Status    `json:"status"`
	Code   int       `json:"code,omitempty"` // gateway code for StatusUnknown
	Time   time.Time `json:"time"`
}

func (n Notification) String() string {
	if n.Status == StatusUnknown {
		return fmt.Sprintf("%s: %s(%d)", n.Feed, n.Status, n.Code)
	}
	return fmt.Sprintf("%s: %s", n.Feed, n.Status)
}

// Notifier receives feed status events. Implementations must not block
// for long; Notify is called from the feed's Load goroutine.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}
