package settlement

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type EventType string

const (
	EventFill      EventType = "fill"
	EventCancel    EventType = "cancel"
	EventFees      EventType = "fees"
	EventWhitelist EventType = "whitelist"
	EventOwnership EventType = "ownership"
	EventSweep     EventType = "sweep"
)

// Event is published after the state change it reports has been committed.
type Event struct {
	ID      string    `json:"id"`
	Type    EventType `json:"type"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

type FillEvent struct {
	Maker       common.Address `json:"maker"`
	Digest      common.Hash    `json:"digest"`
	Filler      common.Address `json:"filler"`
	Amount      string         `json:"amount"`
	ExpectedOut string         `json:"expected_out"`
	Fee         string         `json:"fee"`
	TokenIn     common.Address `json:"token_in"`
	TokenOut    common.Address `json:"token_out"`
	Recipient   common.Address `json:"recipient"`
	Mode        string         `json:"mode"`
}

type CancelEvent struct {
	Maker  common.Address `json:"maker"`
	Digest common.Hash    `json:"digest"`
	Repeat bool           `json:"repeat"`
}

type FeesEvent struct {
	Recipient common.Address `json:"recipient"`
	Numerator uint64         `json:"numerator"`
	Divisor   uint64         `json:"divisor"`
}

type WhitelistEvent struct {
	Filler  common.Address `json:"filler"`
	Allowed bool           `json:"allowed"`
}

type OwnershipEvent struct {
	Previous common.Address `json:"previous"`
	Owner    common.Address `json:"owner"`
	Pending  bool           `json:"pending"`
}

type SweepEvent struct {
	Kind   string         `json:"kind"` // "fees" or "stray"
	Token  common.Address `json:"token"`
	To     common.Address `json:"to"`
	Amount string         `json:"amount"`
}

func newEvent(typ EventType, at time.Time, payload any) Event {
	return Event{ID: uuid.NewString(), Type: typ, Time: at.UTC(), Payload: payload}
}

// Sink receives committed events. Errors are logged and counted, never returned to the caller
// of the settlement operation.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, ev Event) error
}

func (s SinkFunc) Name() string                                { return s.SinkName }
func (s SinkFunc) Publish(ctx context.Context, ev Event) error { return s.Fn(ctx, ev) }

// Recorder is an in-memory sink, mostly for tests.
type Recorder struct {
	ch chan Event
}

func NewRecorder(size int) *Recorder { return &Recorder{ch: make(chan Event, size)} }

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	select {
	case r.ch <- ev:
	default:
	}
	return nil
}

// Drain returns every event recorded so far.
func (r *Recorder) Drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-r.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}
