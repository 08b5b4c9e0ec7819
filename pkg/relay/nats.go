// Package relay streams committed settlement events to NATS JetStream for downstream
// consumers (indexers, notifiers, relayer bots).
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/uhyunpark/stoplimit/pkg/app/core/settlement"
	"github.com/uhyunpark/stoplimit/pkg/util"
)

const (
	DefaultStream        = "STOPLIMIT_EVENTS"
	DefaultSubjectPrefix = "stoplimit.events"
)

// StreamPublisher is the part of jetstream.JetStream the publisher uses.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher is a settlement sink writing each event to <prefix>.<event type>. The event ID is
// the JetStream message ID, so a redelivered publish is deduplicated by the server.
type Publisher struct {
	js     StreamPublisher
	prefix string
	log    *zap.SugaredLogger
}

func NewPublisher(js StreamPublisher, prefix string, logger *zap.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{js: js, prefix: prefix, log: util.Sugar(logger).Named("relay")}
}

func (p *Publisher) Name() string { return "nats" }

// Subject returns the subject ev is published on.
func (p *Publisher) Subject(ev settlement.Event) string {
	return fmt.Sprintf("%s.%s", p.prefix, ev.Type)
}

func (p *Publisher) Publish(ctx context.Context, ev settlement.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ack, err := p.js.Publish(ctx, p.Subject(ev), data, jetstream.WithMsgID(ev.ID))
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.ID, err)
	}
	if ack != nil && ack.Duplicate {
		p.log.Debugw("duplicate event", "id", ev.ID, "seq", ack.Sequence)
	}
	return nil
}

// Connect dials url and returns the connection with its JetStream context.
func Connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("stoplimit-node"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}

// EnsureStream creates or updates the stream capturing every subject under prefix.
func EnsureStream(ctx context.Context, js jetstream.JetStream, name, prefix string) error {
	if name == "" {
		name = DefaultStream
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       name,
		Subjects:   []string{prefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create event stream: %w", err)
	}
	return nil
}
