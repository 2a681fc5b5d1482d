package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
)

type natsConn interface {
	PublishMsg(m *nats.Msg) error
	Drain() error
}

// NatsPublisher publishes each event on "<prefix>.<event type>".
type NatsPublisher struct {
	conn   natsConn
	prefix string
}

func NewNatsPublisher(url, prefix string) (*NatsPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("listing-bot"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	return &NatsPublisher{conn: nc, prefix: prefix}, nil
}

func (p *NatsPublisher) Subject(t EventType) string {
	return p.prefix + "." + string(t)
}

func (p *NatsPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(p.Subject(e.EventType()))
	msg.Data = body
	msg.Header.Set(eventTypeHeader, string(e.EventType()))
	msg.Header.Set(nats.MsgIdHdr, string(e.EventID()))

	if err := p.conn.PublishMsg(msg); err != nil {
		slog.ErrorContext(ctx, "can not publish the event to nats", "subject", msg.Subject, "err", err)
		return err
	}
	return nil
}

func (p *NatsPublisher) Close() error { return p.conn.Drain() }
