// Package publish coordinates delivery of listings to the public surface
// and their owners, and their retraction.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"listing-bot/core/events"
	"listing-bot/core/format"
	"listing-bot/core/listings"
)

// FailureNotice is the toast shown when a retract press could not be
// handled.
const FailureNotice = "Произошла ошибка при удалении записи."

const (
	retractedToast = format.RetractedNotice
	failureToast   = FailureNotice
)

type Conf struct {
	// PublicChat is the group or channel listings are posted to.
	PublicChat        string        `env:"GROUP_ID" required:"true"`
	TokenSecret       string        `env:"TOKEN_SECRET" required:"true"`
	GatewayTimeout    time.Duration `env:"GATEWAY_TIMEOUT" default:"10s"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" default:"2m"`
	MaxAttempts       int           `env:"RECONCILE_MAX_ATTEMPTS" default:"3"`
}

// GatewayError is a failed or timed out call to the messaging platform.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string { return fmt.Sprintf("gateway %s: %v", e.Op, e.Err) }
func (e *GatewayError) Unwrap() error { return e.Err }

// Result of a submission. A zero message id means that surface could not be
// reached; the listing stays stored either way.
type Result struct {
	Text            string
	Listing         listings.Listing
	PublicMessageID int
	OwnerMessageID  int
}

// Callback is a press of the retract button.
type Callback struct {
	ID      string
	Token   string
	Message MessageRef
	// Text is the plain text of Message as delivered.
	Text string
}

type metrics struct {
	submitted       metric.Int64Counter
	retracted       metric.Int64Counter
	gatewayFailures metric.Int64Counter
}

func newMetrics() metrics {
	meter := otel.Meter("listing-bot/publish")
	var m metrics
	var err error
	if m.submitted, err = meter.Int64Counter("listings_submitted_total", metric.WithDescription("listings stored through the coordinator")); err != nil {
		otel.Handle(err)
	}
	if m.retracted, err = meter.Int64Counter("listings_retracted_total", metric.WithDescription("listings removed by their owner or the api")); err != nil {
		otel.Handle(err)
	}
	if m.gatewayFailures, err = meter.Int64Counter("gateway_failures_total", metric.WithDescription("failed messaging platform calls")); err != nil {
		otel.Handle(err)
	}
	return m
}

type svc struct {
	conf    *Conf
	store   listings.Store
	pubs    Publications
	gateway Gateway
	events  EventSink
	tokens  TokenCodec
	metrics metrics
	now     func() time.Time
}

func NewService(conf *Conf, store listings.Store, pubs Publications, gateway Gateway, sink EventSink) *svc {
	if sink == nil {
		sink = events.Noop{}
	}
	return &svc{
		conf:    conf,
		store:   store,
		pubs:    pubs,
		gateway: gateway,
		events:  sink,
		tokens:  NewTokenCodec(conf.TokenSecret),
		metrics: newMetrics(),
		now:     time.Now,
	}
}

// Submit stores the draft and then delivers it, first to the public chat
// and then to the owner. Delivery failures don't undo the stored listing.
func (s *svc) Submit(ctx context.Context, d listings.Draft, owner listings.Owner) (Result, error) {
	l, err := d.Build(owner)
	if err != nil {
		return Result{}, err
	}

	stored, err := s.store.Create(ctx, l)
	if err != nil {
		return Result{}, err
	}
	s.metrics.submitted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(stored.Kind))))

	res := Result{Text: format.Format(stored), Listing: stored}
	pub := Publication{
		ListingID:  stored.ID,
		OwnerChat:  ChatID(stored.Owner.ChatID),
		PublicChat: Chat(s.conf.PublicChat),
		State:      StatePersisted,
	}
	s.savePublication(ctx, &pub)

	if ref, err := s.send(ctx, Outgoing{Chat: pub.PublicChat, Text: res.Text, Keyboard: format.PublicControls(stored)}); err != nil {
		slog.ErrorContext(ctx, "can not post the listing to the public chat", "listingId", stored.ID, "err", err)
	} else {
		pub.PublicMessageID = ref.MessageID
		pub.State = StatePublicPosted
		s.savePublication(ctx, &pub)
	}

	if err := s.notifyOwner(ctx, stored, &pub); err != nil {
		slog.ErrorContext(ctx, "can not send the listing to its owner", "listingId", stored.ID, "err", err)
	}
	s.savePublication(ctx, &pub)

	res.PublicMessageID = pub.PublicMessageID
	res.OwnerMessageID = pub.OwnerMessageID

	s.emit(ctx, events.NewListingPublished(stored, pub.PublicMessageID != 0, pub.OwnerMessageID != 0))
	return res, nil
}

// notifyOwner sends the owner acknowledgement with the retract control and
// advances pub's state.
func (s *svc) notifyOwner(ctx context.Context, l listings.Listing, pub *Publication) error {
	token, err := s.tokens.Encode(Token{ListingID: l.ID, PublicMessageID: pub.PublicMessageID})
	if err != nil {
		return err
	}

	link := format.PublicLink(string(pub.PublicChat), pub.PublicMessageID)
	ref, err := s.send(ctx, Outgoing{
		Chat:     pub.OwnerChat,
		Text:     format.Format(l),
		Keyboard: format.OwnerControls(l, token, link),
	})
	if err != nil {
		if pub.PublicMessageID != 0 {
			pub.State = StatePartial
		}
		return err
	}

	pub.OwnerMessageID = ref.MessageID
	if pub.PublicMessageID != 0 {
		pub.State = StatePublished
	}
	return nil
}

// Retract handles a retract button press. The caller always gets a toast;
// the returned error is for logging only.
func (s *svc) Retract(ctx context.Context, cb Callback) error {
	tok, err := s.tokens.Decode(cb.Token)
	if err != nil {
		s.answer(ctx, cb.ID, failureToast)
		return fmt.Errorf("retract callback %s: %w", cb.ID, err)
	}

	deleted, err := s.store.DeleteByID(ctx, tok.ListingID)
	found := err == nil
	if err != nil && !errors.Is(err, listings.ErrNotFound) {
		s.answer(ctx, cb.ID, failureToast)
		return err
	}

	var text string
	if found {
		text = format.Retracted(format.Format(deleted))
	} else {
		text = format.RetractedPlain(cb.Text)
	}

	surfaces := []MessageRef{cb.Message}
	if tok.PublicMessageID != 0 {
		surfaces = append(surfaces, MessageRef{Chat: Chat(s.conf.PublicChat), MessageID: tok.PublicMessageID})
	}

	pub, pubErr := s.pubs.FindPublication(ctx, tok.ListingID)
	if pubErr == nil {
		surfaces = appendMissing(surfaces, pub.ownerRef())
		surfaces = appendMissing(surfaces, pub.publicRef())
	}

	s.editAll(ctx, surfaces, text)

	if found {
		s.markRetracted(ctx, pub, pubErr)
		s.metrics.retracted.Add(ctx, 1, metric.WithAttributes(attribute.String("via", "callback")))
		s.emit(ctx, events.NewListingRetracted(deleted))
	}

	s.answer(ctx, cb.ID, retractedToast)
	return nil
}

// RetractByID deletes the listing and marks every surface known from its
// publication record as retracted.
func (s *svc) RetractByID(ctx context.Context, id string) (listings.Listing, error) {
	deleted, err := s.store.DeleteByID(ctx, id)
	if err != nil {
		return listings.Listing{}, err
	}

	pub, pubErr := s.pubs.FindPublication(ctx, id)
	if pubErr == nil {
		var surfaces []MessageRef
		surfaces = appendMissing(surfaces, pub.ownerRef())
		surfaces = appendMissing(surfaces, pub.publicRef())
		s.editAll(ctx, surfaces, format.Retracted(format.Format(deleted)))
	}

	s.markRetracted(ctx, pub, pubErr)
	s.metrics.retracted.Add(ctx, 1, metric.WithAttributes(attribute.String("via", "api")))
	s.emit(ctx, events.NewListingRetracted(deleted))

	return deleted, nil
}

func (p Publication) ownerRef() MessageRef  { return MessageRef{Chat: p.OwnerChat, MessageID: p.OwnerMessageID} }
func (p Publication) publicRef() MessageRef { return MessageRef{Chat: p.PublicChat, MessageID: p.PublicMessageID} }

// appendMissing adds ref unless it's empty or already present.
func appendMissing(refs []MessageRef, ref MessageRef) []MessageRef {
	if ref.MessageID == 0 || ref.Chat == "" {
		return refs
	}
	for _, r := range refs {
		if r == ref {
			return refs
		}
	}
	return append(refs, ref)
}

// editAll edits each surface independently, one failure doesn't stop the
// others.
func (s *svc) editAll(ctx context.Context, refs []MessageRef, text string) {
	for _, ref := range refs {
		callCtx, cancel := context.WithTimeout(ctx, s.conf.GatewayTimeout)
		err := s.gateway.EditText(callCtx, ref, text)
		cancel()
		if err != nil {
			s.gatewayFailed(ctx, "edit")
			slog.ErrorContext(ctx, "can not edit the message", "chat", ref.Chat, "messageId", ref.MessageID, "err", err)
		}
	}
}

func (s *svc) send(ctx context.Context, msg Outgoing) (MessageRef, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.conf.GatewayTimeout)
	defer cancel()

	ref, err := s.gateway.Send(callCtx, msg)
	if err != nil {
		s.gatewayFailed(ctx, "send")
		return MessageRef{}, err
	}
	return ref, nil
}

func (s *svc) answer(ctx context.Context, callbackID, text string) {
	callCtx, cancel := context.WithTimeout(ctx, s.conf.GatewayTimeout)
	defer cancel()

	if err := s.gateway.AnswerCallback(callCtx, callbackID, text); err != nil {
		s.gatewayFailed(ctx, "answer")
		slog.ErrorContext(ctx, "can not answer the callback", "callbackId", callbackID, "err", err)
	}
}

func (s *svc) gatewayFailed(ctx context.Context, op string) {
	s.metrics.gatewayFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (s *svc) markRetracted(ctx context.Context, pub Publication, findErr error) {
	if findErr != nil {
		if !errors.Is(findErr, listings.ErrNotFound) {
			slog.ErrorContext(ctx, "can not load the publication record", "err", findErr)
		}
		return
	}
	pub.State = StateRetracted
	s.savePublication(ctx, &pub)
}

// savePublication is best effort, the listing itself is already stored.
func (s *svc) savePublication(ctx context.Context, pub *Publication) {
	pub.UpdatedAt = s.now().UTC()
	if err := s.pubs.SavePublication(ctx, *pub); err != nil {
		slog.ErrorContext(ctx, "can not save the publication record", "listingId", pub.ListingID, "state", pub.State, "err", err)
	}
}

func (s *svc) emit(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		slog.WarnContext(ctx, "can not publish the event", "eventType", e.EventType(), "err", err)
	}
}
