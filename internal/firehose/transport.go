package firehose

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Kind classifies a firehose message
type Kind int

const (
	// KindData is a post record
	KindData Kind = iota
	// KindLimit is a rate-limit notice (undelivered matches)
	KindLimit
	// KindStatus covers warnings, deletes and withheld notices
	KindStatus
	// KindError is a disconnect notice from the server
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindLimit:
		return "limit"
	case KindStatus:
		return "status"
	case KindError:
		return "error"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Message is one record delivered by a Stream.
type Message struct {
	Kind Kind

	// Data is the raw record exactly as received
	Data []byte

	// Status is a short description for non-data messages
	Status string
}

// Query selects what the firehose delivers.
type Query struct {
	Track     []string
	Languages []string
}

// Stream yields messages from one open connection. Next returns io.EOF when
// the server ends the stream cleanly. Implementations must unblock Next once
// the context passed to Dial is cancelled.
type Stream interface {
	Next() (Message, error)
	Close() error
}

// Dialer opens firehose connections.
type Dialer interface {
	Name() string
	Dial(ctx context.Context, q Query) (Stream, error)
}

// ErrStall is reported when a connection delivers no bytes within the stall timeout.
var ErrStall = errors.New("connection stalled")

// TransportError ends the current session. The supervisor reconnects.
type TransportError struct {
	// Op is the failing step: dial, read, or disconnect
	Op string

	// StatusCode is the HTTP status for a refused dial, else 0
	StatusCode int
	Status     string

	Err error
}

func (e *TransportError) Error() string {
	msg := "firehose " + e.Op
	if e.Status != "" {
		msg += ": " + e.Status
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// Classify inspects the JSON envelope of raw and labels it. Anything that is
// not a recognised notice is data, including malformed records, which the
// session rejects at decode time.
func Classify(raw []byte) Message {
	msg := Message{Kind: KindData, Data: raw}
	if !gjson.ValidBytes(raw) {
		return msg
	}

	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return msg
	}

	switch {
	case root.Get("limit").Exists():
		msg.Kind = KindLimit
		msg.Status = fmt.Sprintf("undelivered=%d", root.Get("limit.track").Int())
	case root.Get("disconnect").Exists():
		msg.Kind = KindError
		msg.Status = fmt.Sprintf("disconnect code=%d reason=%s",
			root.Get("disconnect.code").Int(), root.Get("disconnect.reason").String())
	case root.Get("warning").Exists():
		msg.Kind = KindStatus
		msg.Status = fmt.Sprintf("warning %s: %s",
			root.Get("warning.code").String(), root.Get("warning.message").String())
	case root.Get("delete").Exists():
		msg.Kind = KindStatus
		msg.Status = "delete id=" + root.Get("delete.status.id_str").String()
	case root.Get("scrub_geo").Exists():
		msg.Kind = KindStatus
		msg.Status = "scrub_geo user=" + root.Get("scrub_geo.user_id_str").String()
	case root.Get("status_withheld").Exists():
		msg.Kind = KindStatus
		msg.Status = "status_withheld id=" + root.Get("status_withheld.id").String()
	case root.Get("user_withheld").Exists():
		msg.Kind = KindStatus
		msg.Status = "user_withheld id=" + root.Get("user_withheld.id").String()
	}
	return msg
}
