package publish

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"listing-bot/core/format"
	"listing-bot/core/listings"
)

var pendingStates = []State{StatePersisted, StatePublicPosted, StatePartial}

// Reconcile retries deliveries left incomplete for longer than one
// reconcile interval and returns how many records it looked at.
func (s *svc) Reconcile(ctx context.Context) (int, error) {
	olderThan := s.now().Add(-s.conf.ReconcileInterval)
	stale, err := s.pubs.StalePublications(ctx, pendingStates, olderThan, s.conf.MaxAttempts)
	if err != nil {
		return 0, err
	}

	for i, pub := range stale {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		s.reconcileOne(ctx, pub)
	}
	return len(stale), nil
}

func (s *svc) reconcileOne(ctx context.Context, pub Publication) {
	l, err := s.store.FindByID(ctx, pub.ListingID)
	if errors.Is(err, listings.ErrNotFound) {
		pub.State = StateRetracted
		s.savePublication(ctx, &pub)
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "reconcile: can not load the listing", "listingId", pub.ListingID, "err", err)
		return
	}

	pub.Attempts++

	if pub.PublicMessageID == 0 {
		ref, err := s.send(ctx, Outgoing{Chat: pub.PublicChat, Text: format.Format(l), Keyboard: format.PublicControls(l)})
		if err != nil {
			slog.WarnContext(ctx, "reconcile: public post failed again", "listingId", pub.ListingID, "attempts", pub.Attempts, "err", err)
			s.savePublication(ctx, &pub)
			return
		}
		pub.PublicMessageID = ref.MessageID
		pub.State = StatePublicPosted
		s.savePublication(ctx, &pub)
		if s.retractedMeanwhile(ctx, l, &pub) {
			return
		}
	}

	if pub.OwnerMessageID == 0 {
		if err := s.notifyOwner(ctx, l, &pub); err != nil {
			slog.WarnContext(ctx, "reconcile: owner notification failed again", "listingId", pub.ListingID, "attempts", pub.Attempts, "err", err)
		}
	} else {
		pub.State = StatePublished
	}

	s.savePublication(ctx, &pub)
	if s.retractedMeanwhile(ctx, l, &pub) {
		return
	}
	slog.InfoContext(ctx, "reconciled publication", "listingId", pub.ListingID, "state", pub.State)
}

// retractedMeanwhile handles a retraction that ran while pub's messages
// were being sent. The record is saved before this check, so a retraction
// either saw the new message ids or deleted the listing before we look.
func (s *svc) retractedMeanwhile(ctx context.Context, l listings.Listing, pub *Publication) bool {
	_, err := s.store.FindByID(ctx, pub.ListingID)
	if !errors.Is(err, listings.ErrNotFound) {
		return false
	}

	var surfaces []MessageRef
	surfaces = appendMissing(surfaces, pub.publicRef())
	surfaces = appendMissing(surfaces, pub.ownerRef())
	s.editAll(ctx, surfaces, format.Retracted(format.Format(l)))

	pub.State = StateRetracted
	s.savePublication(ctx, pub)
	slog.InfoContext(ctx, "reconcile: listing was retracted during delivery", "listingId", pub.ListingID)
	return true
}

// RunReconciler calls Reconcile every interval until ctx is done. A zero
// interval disables it.
func (s *svc) RunReconciler(ctx context.Context) {
	if s.conf.ReconcileInterval <= 0 {
		return
	}

	ticker := time.NewTicker(s.conf.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Reconcile(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "reconcile failed", "err", err)
			} else if n > 0 {
				slog.InfoContext(ctx, "reconcile pass done", "records", n)
			}
		}
	}
}
