package publish_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"listing-bot/core/events"
	"listing-bot/core/format"
	"listing-bot/core/listings"
	"listing-bot/core/publish"
	"listing-bot/core/repo/memstore"
)

const (
	publicChat = publish.Chat("@listings")
	ownerChat  = publish.Chat("42")
	retracted  = "⭕️ Объявление снято с публикации"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Send(ctx context.Context, msg publish.Outgoing) (publish.MessageRef, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(publish.MessageRef), args.Error(1)
}

func (m *mockGateway) EditText(ctx context.Context, ref publish.MessageRef, text string) error {
	return m.Called(ctx, ref, text).Error(0)
}

func (m *mockGateway) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return m.Called(ctx, callbackID, text).Error(0)
}

var _ publish.Gateway = &mockGateway{}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingSink) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []events.EventType
	for _, e := range r.events {
		res = append(res, e.EventType())
	}
	return res
}

func to(chat publish.Chat) any {
	return mock.MatchedBy(func(o publish.Outgoing) bool { return o.Chat == chat })
}

func retractedText() any {
	return mock.MatchedBy(func(s string) bool { return strings.HasSuffix(s, "<b>"+retracted+"</b>") })
}

type fixture struct {
	store *memstore.Store
	gw    *mockGateway
	sink  *recordingSink
	conf  *publish.Conf
}

func newFixture() *fixture {
	return &fixture{
		store: memstore.New(),
		gw:    &mockGateway{},
		sink:  &recordingSink{},
		conf: &publish.Conf{
			PublicChat:        string(publicChat),
			TokenSecret:       "secret",
			GatewayTimeout:    time.Second,
			ReconcileInterval: time.Nanosecond,
			MaxAttempts:       3,
		},
	}
}

func (f *fixture) svc() interface {
	Submit(context.Context, listings.Draft, listings.Owner) (publish.Result, error)
	Retract(context.Context, publish.Callback) error
	RetractByID(context.Context, string) (listings.Listing, error)
	Reconcile(context.Context) (int, error)
} {
	return publish.NewService(f.conf, f.store, f.store, f.gw, f.sink)
}

func exchangeDraft() listings.Draft {
	amount, rate := listings.Number(500), listings.Number(91)
	return listings.Draft{
		Kind: listings.KindExchange,
		Exchange: &listings.ExchangeDraft{
			Direction:      "sell",
			SellCurrency:   "USD",
			BuyCurrency:    "RUB",
			Amount:         &amount,
			Rate:           &rate,
			City:           "Москва",
			ExchangeMethod: "наличные",
		},
	}
}

var owner = listings.Owner{Username: "alice", ChatID: 42}

// ownerSend returns the last message sent to the owner.
func ownerSend(t *testing.T, gw *mockGateway) publish.Outgoing {
	t.Helper()
	var found *publish.Outgoing
	for _, c := range gw.Calls {
		if c.Method != "Send" {
			continue
		}
		if o := c.Arguments.Get(1).(publish.Outgoing); o.Chat == ownerChat {
			found = &o
		}
	}
	require.NotNil(t, found, "no message sent to the owner")
	return *found
}

func retractToken(t *testing.T, o publish.Outgoing) string {
	t.Helper()
	require.NotEmpty(t, o.Keyboard)
	data := o.Keyboard[0][0].CallbackData
	require.True(t, strings.HasPrefix(data, format.RetractPrefix), data)
	return strings.TrimPrefix(data, format.RetractPrefix)
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.gw.On("Send", mock.Anything, to(publicChat)).Return(publish.MessageRef{Chat: publicChat, MessageID: 7}, nil).Once()
	f.gw.On("Send", mock.Anything, to(ownerChat)).Return(publish.MessageRef{Chat: ownerChat, MessageID: 99}, nil).Once()

	res, err := f.svc().Submit(ctx, exchangeDraft(), owner)
	require.NoError(t, err)
	f.gw.AssertExpectations(t)

	assert.Equal(t, 7, res.PublicMessageID)
	assert.Equal(t, 99, res.OwnerMessageID)
	assert.True(t, strings.HasPrefix(res.Text, "🔴 Продажа USD за RUB"), res.Text)

	stored, err := f.store.FindByID(ctx, res.Listing.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Listing, stored)

	// public copy first, then the owner
	require.Equal(t, publicChat, f.gw.Calls[0].Arguments.Get(1).(publish.Outgoing).Chat)
	public := f.gw.Calls[0].Arguments.Get(1).(publish.Outgoing)
	for _, row := range public.Keyboard {
		for _, b := range row {
			assert.Empty(t, b.CallbackData, "public copy must not carry the retract control")
		}
	}

	o := ownerSend(t, f.gw)
	assert.Equal(t, res.Text, o.Text)
	tok, err := publish.NewTokenCodec("secret").Decode(retractToken(t, o))
	require.NoError(t, err)
	assert.Equal(t, publish.Token{ListingID: res.Listing.ID, PublicMessageID: 7}, tok)
	require.Len(t, o.Keyboard, 2)
	assert.Equal(t, "https://t.me/listings/7", o.Keyboard[1][0].URL)

	pub, err := f.store.FindPublication(ctx, res.Listing.ID)
	require.NoError(t, err)
	assert.Equal(t, publish.StatePublished, pub.State)
	assert.Equal(t, []events.EventType{events.EvTypeListingPublished}, f.sink.types())
}

func TestSubmit_validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	d := exchangeDraft()
	d.Exchange.City = ""

	_, err := f.svc().Submit(ctx, d, owner)

	var ve *listings.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "city", ve.Field)
	f.gw.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)

	page, _ := f.store.Query(ctx, listings.Filter{})
	assert.Zero(t, page.Total)
}

func TestSubmit_publicSendFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.gw.On("Send", mock.Anything, to(publicChat)).Return(publish.MessageRef{}, &publish.GatewayError{Op: "send", Err: errors.New("chat not found")}).Once()
	f.gw.On("Send", mock.Anything, to(ownerChat)).Return(publish.MessageRef{Chat: ownerChat, MessageID: 99}, nil).Once()

	res, err := f.svc().Submit(ctx, exchangeDraft(), owner)
	require.NoError(t, err)

	assert.Zero(t, res.PublicMessageID)
	assert.Equal(t, 99, res.OwnerMessageID)

	o := ownerSend(t, f.gw)
	tok, err := publish.NewTokenCodec("secret").Decode(retractToken(t, o))
	require.NoError(t, err)
	assert.Zero(t, tok.PublicMessageID)
	assert.Len(t, o.Keyboard, 1, "no public link without a public copy")

	_, err = f.store.FindByID(ctx, res.Listing.ID)
	assert.NoError(t, err, "listing must stay stored")

	pub, _ := f.store.FindPublication(ctx, res.Listing.ID)
	assert.Equal(t, publish.StatePersisted, pub.State)
}

func TestSubmit_ownerSendFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.gw.On("Send", mock.Anything, to(publicChat)).Return(publish.MessageRef{Chat: publicChat, MessageID: 7}, nil).Once()
	f.gw.On("Send", mock.Anything, to(ownerChat)).Return(publish.MessageRef{}, context.DeadlineExceeded).Once()

	res, err := f.svc().Submit(ctx, exchangeDraft(), owner)
	require.NoError(t, err)
	assert.Zero(t, res.OwnerMessageID)

	pub, _ := f.store.FindPublication(ctx, res.Listing.ID)
	assert.Equal(t, publish.StatePartial, pub.State)
}

func submitted(t *testing.T, f *fixture) (publish.Result, string) {
	t.Helper()
	f.gw.On("Send", mock.Anything, to(publicChat)).Return(publish.MessageRef{Chat: publicChat, MessageID: 7}, nil).Once()
	f.gw.On("Send", mock.Anything, to(ownerChat)).Return(publish.MessageRef{Chat: ownerChat, MessageID: 99}, nil).Once()

	res, err := f.svc().Submit(context.Background(), exchangeDraft(), owner)
	require.NoError(t, err)
	return res, retractToken(t, ownerSend(t, f.gw))
}

func TestRetract(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	res, token := submitted(t, f)

	ownerMsg := publish.MessageRef{Chat: ownerChat, MessageID: 99}
	publicMsg := publish.MessageRef{Chat: publicChat, MessageID: 7}
	f.gw.On("EditText", mock.Anything, ownerMsg, format.Retracted(res.Text)).Return(nil).Once()
	f.gw.On("EditText", mock.Anything, publicMsg, format.Retracted(res.Text)).Return(nil).Once()
	f.gw.On("AnswerCallback", mock.Anything, "cb1", retracted).Return(nil).Once()

	err := f.svc().Retract(ctx, publish.Callback{ID: "cb1", Token: token, Message: ownerMsg, Text: res.Text})
	require.NoError(t, err)
	f.gw.AssertExpectations(t)

	_, err = f.store.FindByID(ctx, res.Listing.ID)
	assert.ErrorIs(t, err, listings.ErrNotFound)

	pub, _ := f.store.FindPublication(ctx, res.Listing.ID)
	assert.Equal(t, publish.StateRetracted, pub.State)
	assert.Equal(t, []events.EventType{events.EvTypeListingPublished, events.EvTypeListingRetracted}, f.sink.types())

	// a second press finds nothing to delete but still answers
	f.gw.On("EditText", mock.Anything, mock.Anything, retractedText()).Return(errors.New("message is not modified"))
	f.gw.On("AnswerCallback", mock.Anything, "cb2", retracted).Return(nil).Once()

	plain := strings.ReplaceAll(res.Text, "&amp;", "&") + "\n\n" + retracted
	err = f.svc().Retract(ctx, publish.Callback{ID: "cb2", Token: token, Message: ownerMsg, Text: plain})
	require.NoError(t, err)
	f.gw.AssertExpectations(t)
	assert.Len(t, f.sink.types(), 2, "no second retracted event")
}

func TestRetract_badToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.gw.On("AnswerCallback", mock.Anything, "cb1", "Произошла ошибка при удалении записи.").Return(nil).Once()

	err := f.svc().Retract(ctx, publish.Callback{ID: "cb1", Token: "garbage", Message: publish.MessageRef{Chat: ownerChat, MessageID: 1}})
	assert.ErrorIs(t, err, publish.ErrBadToken)
	f.gw.AssertExpectations(t)
	f.gw.AssertNotCalled(t, "EditText", mock.Anything, mock.Anything, mock.Anything)
}

func TestRetract_publicEditFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	res, token := submitted(t, f)

	ownerMsg := publish.MessageRef{Chat: ownerChat, MessageID: 99}
	f.gw.On("EditText", mock.Anything, publish.MessageRef{Chat: publicChat, MessageID: 7}, mock.Anything).Return(errors.New("forbidden")).Once()
	f.gw.On("EditText", mock.Anything, ownerMsg, mock.Anything).Return(nil).Once()
	f.gw.On("AnswerCallback", mock.Anything, "cb1", retracted).Return(nil).Once()

	err := f.svc().Retract(ctx, publish.Callback{ID: "cb1", Token: token, Message: ownerMsg, Text: res.Text})
	require.NoError(t, err)
	f.gw.AssertExpectations(t)
}

func TestRetractByID(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	res, _ := submitted(t, f)

	f.gw.On("EditText", mock.Anything, publish.MessageRef{Chat: ownerChat, MessageID: 99}, retractedText()).Return(nil).Once()
	f.gw.On("EditText", mock.Anything, publish.MessageRef{Chat: publicChat, MessageID: 7}, retractedText()).Return(nil).Once()

	deleted, err := f.svc().RetractByID(ctx, res.Listing.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Listing.ID, deleted.ID)
	f.gw.AssertExpectations(t)

	_, err = f.svc().RetractByID(ctx, res.Listing.ID)
	assert.ErrorIs(t, err, listings.ErrNotFound)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.gw.On("Send", mock.Anything, mock.Anything).Return(publish.MessageRef{}, errors.New("network down")).Twice()
	res, err := f.svc().Submit(ctx, exchangeDraft(), owner)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	f.gw.On("Send", mock.Anything, to(publicChat)).Return(publish.MessageRef{Chat: publicChat, MessageID: 8}, nil).Once()
	f.gw.On("Send", mock.Anything, to(ownerChat)).Return(publish.MessageRef{Chat: ownerChat, MessageID: 100}, nil).Once()

	n, err := f.svc().Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pub, _ := f.store.FindPublication(ctx, res.Listing.ID)
	assert.Equal(t, publish.StatePublished, pub.State)
	assert.Equal(t, 8, pub.PublicMessageID)
	assert.Equal(t, 100, pub.OwnerMessageID)
	assert.Equal(t, 1, pub.Attempts)

	tok, err := publish.NewTokenCodec("secret").Decode(retractToken(t, ownerSend(t, f.gw)))
	require.NoError(t, err)
	assert.Equal(t, 8, tok.PublicMessageID)

	time.Sleep(time.Millisecond)
	n, _ = f.svc().Reconcile(ctx)
	assert.Zero(t, n, "published records are left alone")
}

func TestReconcile_deletedListing(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.gw.On("Send", mock.Anything, mock.Anything).Return(publish.MessageRef{}, errors.New("network down")).Twice()
	res, err := f.svc().Submit(ctx, exchangeDraft(), owner)
	require.NoError(t, err)

	_, err = f.store.DeleteByID(ctx, res.Listing.ID)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	_, err = f.svc().Reconcile(ctx)
	require.NoError(t, err)

	pub, _ := f.store.FindPublication(ctx, res.Listing.ID)
	assert.Equal(t, publish.StateRetracted, pub.State)
}

func TestReconcile_retractedDuringPublicSend(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := f.svc()

	f.gw.On("Send", mock.Anything, mock.Anything).Return(publish.MessageRef{}, errors.New("network down")).Twice()
	res, err := svc.Submit(ctx, exchangeDraft(), owner)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	f.gw.On("Send", mock.Anything, to(publicChat)).
		Run(func(mock.Arguments) {
			_, err := svc.RetractByID(ctx, res.Listing.ID)
			require.NoError(t, err)
		}).
		Return(publish.MessageRef{Chat: publicChat, MessageID: 8}, nil).Once()
	f.gw.On("EditText", mock.Anything, publish.MessageRef{Chat: publicChat, MessageID: 8}, format.Retracted(res.Text)).Return(nil).Once()

	_, err = svc.Reconcile(ctx)
	require.NoError(t, err)
	f.gw.AssertExpectations(t)

	pub, err := f.store.FindPublication(ctx, res.Listing.ID)
	require.NoError(t, err)
	assert.Equal(t, publish.StateRetracted, pub.State)
	assert.Zero(t, pub.OwnerMessageID)

	sends := 0
	for _, c := range f.gw.Calls {
		if c.Method == "Send" && c.Arguments.Get(1).(publish.Outgoing).Chat == ownerChat {
			sends++
		}
	}
	assert.Equal(t, 1, sends, "no owner message after the retraction")

	time.Sleep(time.Millisecond)
	n, _ := svc.Reconcile(ctx)
	assert.Zero(t, n)
}

func TestCargoLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := f.svc()

	aliceChat := publish.Chat("111")
	weight, price := listings.Number(50), listings.Number(3)
	draft := listings.Draft{
		Kind: listings.KindCargo,
		Cargo: &listings.CargoDraft{
			CargoType:    "Electronics",
			Weight:       &weight,
			PricePerUnit: &price,
			Origin:       "A",
			Destination:  "B",
		},
	}

	f.gw.On("Send", mock.Anything, to(publicChat)).Return(publish.MessageRef{Chat: publicChat, MessageID: 10}, nil).Once()
	f.gw.On("Send", mock.Anything, to(aliceChat)).Return(publish.MessageRef{Chat: aliceChat, MessageID: 20}, nil).Once()

	res, err := svc.Submit(ctx, draft, listings.Owner{Username: "alice", ChatID: 111})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "📦 Груз: Electronics")
	assert.Contains(t, res.Text, "A → B")
	assert.Equal(t, listings.Owner{Username: "alice", ChatID: 111}, res.Listing.Owner)

	var ownerMsg publish.Outgoing
	for _, c := range f.gw.Calls {
		if o := c.Arguments.Get(1).(publish.Outgoing); o.Chat == aliceChat {
			ownerMsg = o
		}
	}
	token := retractToken(t, ownerMsg)

	ownerRef := publish.MessageRef{Chat: aliceChat, MessageID: 20}
	f.gw.On("EditText", mock.Anything, ownerRef, format.Retracted(res.Text)).Return(nil).Once()
	f.gw.On("EditText", mock.Anything, publish.MessageRef{Chat: publicChat, MessageID: 10}, format.Retracted(res.Text)).Return(nil).Once()
	f.gw.On("AnswerCallback", mock.Anything, "cb-alice", retracted).Return(nil).Once()

	require.NoError(t, svc.Retract(ctx, publish.Callback{ID: "cb-alice", Token: token, Message: ownerRef, Text: res.Text}))
	f.gw.AssertExpectations(t)

	page, err := f.store.Query(ctx, listings.Filter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	_, err = svc.RetractByID(ctx, res.Listing.ID)
	assert.ErrorIs(t, err, listings.ErrNotFound)
}
