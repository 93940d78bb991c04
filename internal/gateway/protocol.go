package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Rajchodisetti/feedsync/internal/feed"
)

// ProtocolVersion is carried in every Envelope.
const ProtocolVersion = 1

// Request ops sent by the client.
const (
	OpResolve     = "resolve"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpHistorical  = "historical"
	OpCancel      = "cancel"
)

// Envelope types sent by the server.
const (
	TypeContract = "contract"
	TypeBar      = "bar"
	TypeTick     = "tick"
	TypeError    = "error"
	TypeEnd      = "end"
)

// Request is a client frame. ID names the subscription, historical stream
// or resolve call that later envelopes answer.
type Request struct {
	Op          string             `json:"op"`
	ID          string             `json:"id"`
	Contract    *feed.ContractSpec `json:"contract,omitempty"`
	ContractID  int64              `json:"contract_id,omitempty"`
	Kind        string             `json:"kind,omitempty"` // "ticks" | "bars"
	End         *time.Time         `json:"end,omitempty"`
	Begin       *time.Time         `json:"begin,omitempty"`
	TimeFrame   string             `json:"timeframe,omitempty"`
	Compression int                `json:"compression,omitempty"`
	What        string             `json:"what,omitempty"`
	UseRTH      bool               `json:"use_rth,omitempty"`
}

// Envelope is a server frame. An error envelope with an empty ID is a
// session-level status that applies to every live subscription.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts_utc"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload carries a gateway status code.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// NewEnvelope marshals payload into an envelope stamped now.
func NewEnvelope(typ, id string, payload any) (Envelope, error) {
	env := Envelope{V: ProtocolVersion, Type: typ, ID: id, TS: time.Now().UTC()}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		env.Payload = b
	}
	return env, nil
}

// DecodeMessage converts a data, error or end envelope into a feed message.
func DecodeMessage(env Envelope) (feed.Message, error) {
	switch env.Type {
	case TypeBar:
		var b feed.Bar
		if err := json.Unmarshal(env.Payload, &b); err != nil {
			return feed.Message{}, NewProtocolError("decode", "bad bar payload", err)
		}
		return feed.BarMessage(b), nil
	case TypeTick:
		var t feed.Tick
		if err := json.Unmarshal(env.Payload, &t); err != nil {
			return feed.Message{}, NewProtocolError("decode", "bad tick payload", err)
		}
		return feed.TickMessage(t), nil
	case TypeError:
		var p ErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return feed.Message{}, NewProtocolError("decode", "bad error payload", err)
		}
		return feed.ErrorMessage(p.Code), nil
	case TypeEnd:
		return feed.EndOfStreamMessage(), nil
	}
	return feed.Message{}, NewProtocolError("decode", fmt.Sprintf("unexpected envelope type %q", env.Type), nil)
}

// HistoricalRequestFrame builds the wire request for req.
func HistoricalRequestFrame(id string, req feed.HistoricalRequest) Request {
	spec := req.Contract.Spec
	return Request{
		Op:          OpHistorical,
		ID:          id,
		Contract:    &spec,
		ContractID:  req.Contract.ID,
		End:         req.End,
		Begin:       req.Begin,
		TimeFrame:   req.TimeFrame.String(),
		Compression: req.Compression,
		What:        req.What,
		UseRTH:      req.UseRTH,
	}
}
