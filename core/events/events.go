// Package events emits listing lifecycle events to a message broker.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"listing-bot/core/listings"
)

type EventType string

const (
	EvTypeListingPublished EventType = "listing.published.v1"
	EvTypeListingRetracted EventType = "listing.retracted.v1"
)

type EventID string

func NewEventID() EventID {
	return EventID(uuid.NewString())
}

type Event interface {
	EventID() EventID
	EventType() EventType
	// Key orders events of one listing on partitioned brokers.
	Key() string
}

type ListingPublished struct {
	EventId        EventID       `json:"event_id"`
	EvType         EventType     `json:"event_type"`
	ListingID      string        `json:"listing_id"`
	Kind           listings.Kind `json:"kind"`
	Owner          string        `json:"owner"`
	PublicPosted   bool          `json:"public_posted"`
	OwnerNotified  bool          `json:"owner_notified"`
	ListingCreated time.Time     `json:"listing_created_at"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

type ListingRetracted struct {
	EventId    EventID       `json:"event_id"`
	EvType     EventType     `json:"event_type"`
	ListingID  string        `json:"listing_id"`
	Kind       listings.Kind `json:"kind,omitempty"`
	Owner      string        `json:"owner,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

func NewListingPublished(l listings.Listing, publicPosted, ownerNotified bool) ListingPublished {
	return ListingPublished{
		EventId:        NewEventID(),
		EvType:         EvTypeListingPublished,
		ListingID:      l.ID,
		Kind:           l.Kind,
		Owner:          l.Owner.Username,
		PublicPosted:   publicPosted,
		OwnerNotified:  ownerNotified,
		ListingCreated: l.CreatedAt,
		OccurredAt:     time.Now().UTC(),
	}
}

func NewListingRetracted(l listings.Listing) ListingRetracted {
	return ListingRetracted{
		EventId:    NewEventID(),
		EvType:     EvTypeListingRetracted,
		ListingID:  l.ID,
		Kind:       l.Kind,
		Owner:      l.Owner.Username,
		OccurredAt: time.Now().UTC(),
	}
}

func (e ListingPublished) EventID() EventID     { return e.EventId }
func (e ListingPublished) EventType() EventType { return e.EvType }
func (e ListingPublished) Key() string          { return e.ListingID }

func (e ListingRetracted) EventID() EventID     { return e.EventId }
func (e ListingRetracted) EventType() EventType { return e.EvType }
func (e ListingRetracted) Key() string          { return e.ListingID }

// Noop drops every event. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

var _ Event = ListingPublished{}
var _ Event = ListingRetracted{}
