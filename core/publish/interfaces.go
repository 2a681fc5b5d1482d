package publish

import (
	"context"
	"strconv"
	"time"

	"listing-bot/core/events"
	"listing-bot/core/format"
)

// Chat addresses a messaging surface: a numeric chat id ("42",
// "-1001234567890") or a channel username ("@listings").
type Chat string

func ChatID(id int64) Chat { return Chat(strconv.FormatInt(id, 10)) }

// Int64 returns the numeric id, false for channel usernames.
func (c Chat) Int64() (int64, bool) {
	id, err := strconv.ParseInt(string(c), 10, 64)
	return id, err == nil
}

type MessageRef struct {
	Chat      Chat
	MessageID int
}

type Outgoing struct {
	Chat     Chat
	Text     string
	Keyboard format.Keyboard
}

// Gateway is the messaging platform. Implementations must honor ctx and
// report failures as *GatewayError.
type Gateway interface {
	Send(ctx context.Context, msg Outgoing) (MessageRef, error)
	// EditText replaces the text of a delivered message and removes its
	// inline keyboard.
	EditText(ctx context.Context, ref MessageRef, text string) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

type State string

const (
	// StatePersisted: stored, public copy not posted yet.
	StatePersisted State = "persisted"
	// StatePublicPosted: public copy posted, owner ack not attempted yet.
	StatePublicPosted State = "public_posted"
	// StatePartial: public copy posted, owner ack failed.
	StatePartial   State = "partial"
	StatePublished State = "published"
	StateRetracted State = "retracted"
)

// Publication tracks where a listing was delivered. Zero message ids mean
// the surface is missing.
type Publication struct {
	ListingID       string    `json:"listingId"`
	OwnerChat       Chat      `json:"ownerChat"`
	OwnerMessageID  int       `json:"ownerMessageId"`
	PublicChat      Chat      `json:"publicChat"`
	PublicMessageID int       `json:"publicMessageId"`
	State           State     `json:"state"`
	Attempts        int       `json:"attempts"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type Publications interface {
	// SavePublication upserts by listing id. A retracted record is never
	// overwritten.
	SavePublication(ctx context.Context, p Publication) error
	// FindPublication returns listings.ErrNotFound when there is no record.
	FindPublication(ctx context.Context, listingID string) (Publication, error)
	// StalePublications lists records in one of states last updated before
	// olderThan with fewer than maxAttempts attempts.
	StalePublications(ctx context.Context, states []State, olderThan time.Time, maxAttempts int) ([]Publication, error)
}

type EventSink interface {
	Publish(ctx context.Context, e events.Event) error
}
