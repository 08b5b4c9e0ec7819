package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/stoplimit/pkg/app/core/settlement"
)

type published struct {
	subject string
	data    []byte
	opts    int
}

type fakeStream struct {
	msgs []published
	err  error
}

func (f *fakeStream) Publish(_ context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data, opts: len(opts)})
	return &jetstream.PubAck{Stream: DefaultStream, Sequence: uint64(len(f.msgs))}, nil
}

func TestPublisherSubjectsAndPayload(t *testing.T) {
	fs := &fakeStream{}
	p := NewPublisher(fs, "", nil)

	ev := settlement.Event{ID: "abc", Type: settlement.EventSweep, Payload: settlement.SweepEvent{Kind: "fees", Amount: "999"}}
	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, fs.msgs, 1)
	require.Equal(t, "stoplimit.events.sweep", fs.msgs[0].subject)
	require.Equal(t, 1, fs.msgs[0].opts)

	var got struct {
		ID      string `json:"id"`
		Payload struct {
			Amount string `json:"amount"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(fs.msgs[0].data, &got))
	require.Equal(t, "abc", got.ID)
	require.Equal(t, "999", got.Payload.Amount)

	custom := NewPublisher(fs, "venue.a", nil)
	require.Equal(t, "venue.a.fill", custom.Subject(settlement.Event{Type: settlement.EventFill}))
}

func TestPublisherError(t *testing.T) {
	fs := &fakeStream{err: errors.New("no responders")}
	err := NewPublisher(fs, "", nil).Publish(context.Background(), settlement.Event{ID: "x", Type: settlement.EventFill})
	require.ErrorContains(t, err, "no responders")
}
