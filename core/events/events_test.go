package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing-bot/core/listings"
)

type mockKafkaWriter struct {
	write func(context.Context, kafka.Message) error
}

func (m mockKafkaWriter) Close() error { return nil }

func (m mockKafkaWriter) WriteMessage(ctx context.Context, msg kafka.Message) error {
	return m.write(ctx, msg)
}

var _ kafkaWriter = mockKafkaWriter{}

type mockNatsConn struct {
	msgs []*nats.Msg
	err  error
}

func (m *mockNatsConn) PublishMsg(msg *nats.Msg) error {
	m.msgs = append(m.msgs, msg)
	return m.err
}

func (m *mockNatsConn) Drain() error { return nil }

func testListing() listings.Listing {
	return listings.Listing{
		ID:        "65f1c0ffee0000000000abcd",
		Kind:      listings.KindCargo,
		Owner:     listings.Owner{Username: "alice", ChatID: 42},
		CreatedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	ctx := context.Background()
	ev := NewListingPublished(testListing(), true, false)

	var sent kafka.Message
	p := &KafkaPublisher{writer: mockKafkaWriter{func(ctx context.Context, m kafka.Message) error {
		sent = m
		return nil
	}}, topic: "listing-events"}

	require.NoError(t, p.Publish(ctx, ev))

	if !bytes.Equal(sent.Key, []byte(ev.ListingID)) {
		t.Errorf("Publish must set listing id as key, got %s", sent.Key)
	}

	require.Len(t, sent.Headers, 1)
	assert.Equal(t, eventTypeHeader, sent.Headers[0].Key)
	assert.Equal(t, string(EvTypeListingPublished), string(sent.Headers[0].Value))

	var got ListingPublished
	require.NoError(t, json.Unmarshal(sent.Value, &got))
	assert.Equal(t, ev, got)
}

func TestKafkaPublisher_Publish_error(t *testing.T) {
	writeErr := errors.New("broker down")
	p := &KafkaPublisher{writer: mockKafkaWriter{func(context.Context, kafka.Message) error {
		return writeErr
	}}}

	err := p.Publish(context.Background(), NewListingRetracted(testListing()))
	assert.ErrorIs(t, err, writeErr)
}

func TestNatsPublisher_Publish(t *testing.T) {
	conn := &mockNatsConn{}
	p := &NatsPublisher{conn: conn, prefix: "listings"}

	ev := NewListingRetracted(testListing())
	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, conn.msgs, 1)

	msg := conn.msgs[0]
	assert.Equal(t, "listings.listing.retracted.v1", msg.Subject)
	assert.Equal(t, string(ev.EventId), msg.Header.Get(nats.MsgIdHdr))

	var got ListingRetracted
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, ev.ListingID, got.ListingID)
}

func TestNewPublisher(t *testing.T) {
	p, err := NewPublisher(&Conf{})
	require.NoError(t, err)
	assert.IsType(t, Noop{}, p)

	_, err = NewPublisher(&Conf{Broker: "kafka"})
	assert.Error(t, err)

	_, err = NewPublisher(&Conf{Broker: "rabbit"})
	assert.Error(t, err)
}
