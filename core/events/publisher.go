package events

import (
	"context"
	"errors"
	"fmt"
)

type Conf struct {
	// Broker is "kafka", "nats" or empty for no events.
	Broker      string `env:"EVENTS_BROKER"`
	Kafka       WriterConf
	NatsURL     string `env:"NATS_URL" default:"nats://127.0.0.1:4222"`
	NatsSubject string `env:"NATS_SUBJECT_PREFIX" default:"listings"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

func NewPublisher(conf *Conf) (Publisher, error) {
	switch conf.Broker {
	case "":
		return Noop{}, nil
	case "kafka":
		if conf.Kafka.KafkaHost == "" {
			return nil, errors.New("KAFKA_HOST is required for kafka events")
		}
		p, err := NewKafkaPublisher(NewInsecureWriter(&conf.Kafka))
		if err != nil {
			return nil, err
		}
		return p, nil
	case "nats":
		p, err := NewNatsPublisher(conf.NatsURL, conf.NatsSubject)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown EVENTS_BROKER %q", conf.Broker)
}
