package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	otelkafkakonsumer "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

const eventTypeHeader = "eventType"

type WriterConf struct {
	KafkaHost    string        `env:"KAFKA_HOST"`
	Topic        string        `env:"KAFKA_EVENTS_TOPIC" default:"listing-events"`
	BatchTimeout time.Duration `env:"KAFKA_BATCH_TIMEOUT" default:"50ms"`
}

func NewInsecureWriter(conf *WriterConf) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(conf.KafkaHost),
		Topic:                  conf.Topic,
		AllowAutoTopicCreation: true,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           conf.BatchTimeout,
		Compression:            kafka.Snappy,
	}
}

type kafkaWriter interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by listing id, with the event type in
// the "eventType" header.
type KafkaPublisher struct {
	writer kafkaWriter
	topic  string
}

func NewKafkaPublisher(w *kafka.Writer) (*KafkaPublisher, error) {
	writer, err := otelkafkakonsumer.NewWriter(
		w,
		otelkafkakonsumer.WithAttributes(
			[]attribute.KeyValue{
				semconv.MessagingDestinationKey.String(w.Topic),
				semconv.MessagingKafkaClientIDKey.String(w.Stats().ClientID),
			},
		),
	)
	if err != nil {
		return nil, err
	}

	return &KafkaPublisher{writer: writer, topic: w.Topic}, nil
}

func (k *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}

	err = k.writer.WriteMessage(ctx, kafka.Message{
		Key:     []byte(e.Key()),
		Value:   body,
		Headers: []kafka.Header{{Key: eventTypeHeader, Value: []byte(e.EventType())}},
	})
	if err != nil {
		slog.ErrorContext(ctx, "can not write the event to kafka", "kafkaTopic", k.topic, "eventType", e.EventType(), "err", err)
	}
	return err
}

func (k *KafkaPublisher) Close() error { return k.writer.Close() }
