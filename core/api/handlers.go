package api

import (
	"cmp"
	"context"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"listing-bot/authz"
	"listing-bot/core/listings"
	"listing-bot/core/publish"
)

const legacyBuy = "Купить"

type Publisher interface {
	Submit(ctx context.Context, d listings.Draft, owner listings.Owner) (publish.Result, error)
	RetractByID(ctx context.Context, id string) (listings.Listing, error)
}

type Browser interface {
	Browse(ctx context.Context, req listings.BrowseRequest) (listings.PagedResult, error)
}

type Handler struct {
	publisher Publisher
	browser   Browser
}

func NewHandler(publisher Publisher, browser Browser) Handler {
	return Handler{publisher: publisher, browser: browser}
}

// flexNumber accepts a JSON number or a numeric string. The empty schema
// leaves the check to decoding.
type flexNumber struct {
	listings.Number
}

func (flexNumber) Schema(huma.Registry) *huma.Schema {
	return &huma.Schema{Description: "number, or a numeric string such as \"92,5\""}
}

func (f *flexNumber) value() *listings.Number {
	if f == nil {
		return nil
	}
	return &f.Number
}

type listingData struct {
	_    struct{} `json:"-" additionalProperties:"true"`
	Kind string   `json:"kind,omitempty" doc:"cargo or exchange"`

	CargoType    string      `json:"cargoType,omitempty" maxLength:"200"`
	Weight       *flexNumber `json:"weight,omitempty"`
	PricePerUnit *flexNumber `json:"pricePerUnit,omitempty"`
	Origin       string      `json:"origin,omitempty" maxLength:"200"`
	Destination  string      `json:"destination,omitempty" maxLength:"200"`

	Direction      string      `json:"direction,omitempty" maxLength:"20"`
	SellCurrency   string      `json:"sellCurrency,omitempty" maxLength:"20"`
	BuyCurrency    string      `json:"buyCurrency,omitempty" maxLength:"20"`
	Amount         *flexNumber `json:"amount,omitempty"`
	Rate           *flexNumber `json:"rate,omitempty"`
	City           string      `json:"city,omitempty" maxLength:"200"`
	ExchangeMethod string      `json:"exchangeMethod,omitempty" maxLength:"200"`

	// Type and Exchange are the field names of the first web form.
	Type     string `json:"type,omitempty" doc:"legacy direction: Купить or Продать"`
	Exchange string `json:"exchange,omitempty" doc:"legacy exchange method"`

	Comment string `json:"comment,omitempty" maxLength:"1000"`
}

type userData struct {
	_        struct{} `json:"-" additionalProperties:"true"`
	Username string   `json:"username,omitempty"`
	ChatID   int64    `json:"chatId,omitempty"`
	ID       int64    `json:"id,omitempty"`
}

type createInput struct {
	Body struct {
		Data listingData `json:"data"`
		User userData    `json:"user"`
	}
}

type textOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

type browseInput struct {
	Kind string `query:"kind" doc:"cargo or exchange; inferred from the filters when empty"`

	City            string `query:"city"`
	TransactionType string `query:"transactionType"`
	CurrencyFrom    string `query:"currencyFrom"`
	CurrencyTo      string `query:"currencyTo"`
	ExchangeMethod  string `query:"exchangeMethod"`
	From            string `query:"from"`
	To              string `query:"to"`
	CargoType       string `query:"cargoType"`

	MinAmount string `query:"minAmount"`
	MaxAmount string `query:"maxAmount"`
	MinRate   string `query:"minRate"`
	MaxRate   string `query:"maxRate"`
	MinPrice  string `query:"minPrice"`
	MaxPrice  string `query:"maxPrice"`
	MinWeight string `query:"minWeight"`
	MaxWeight string `query:"maxWeight"`

	Sort      string `query:"sort"`
	SortBy    string `query:"sortBy" doc:"alias of sort"`
	Order     string `query:"order" doc:"asc or desc"`
	SortOrder string `query:"sortOrder" doc:"alias of order"`
	Page      string `query:"page"`
	Limit     string `query:"limit"`
}

type deleteInput struct {
	ID string `path:"id" maxLength:"64"`
}

type deleteOutput struct {
	Body struct {
		Message string           `json:"message"`
		Listing listings.Listing `json:"listing"`
	}
}

func (h *Handler) create(kind listings.Kind) func(context.Context, *createInput) (*textOutput, error) {
	return func(ctx context.Context, in *createInput) (*textOutput, error) {
		draft := in.Body.Data.draft(kind)
		owner := listings.Owner{Username: in.Body.User.Username, ChatID: in.Body.User.ChatID}
		if owner.ChatID == 0 {
			owner.ChatID = in.Body.User.ID
		}
		if id, ok := authz.IdentityFromCtx(ctx); ok {
			owner = listings.Owner{Username: id.Username, ChatID: id.ID}
		}

		res, err := h.publisher.Submit(ctx, draft, owner)
		if err != nil {
			return nil, humaErr(ctx, "Ошибка при создании записи", err)
		}
		return &textOutput{ContentType: "text/plain; charset=utf-8", Body: []byte(res.Text)}, nil
	}
}

func (h *Handler) browse(kind listings.Kind) func(context.Context, *browseInput) (*ResBody[listings.PagedResult], error) {
	return func(ctx context.Context, in *browseInput) (*ResBody[listings.PagedResult], error) {
		req := in.request()
		if kind != "" {
			req.Kind = string(kind)
		}

		res, err := h.browser.Browse(ctx, req)
		if err != nil {
			return nil, humaErr(ctx, "Ошибка при получении записей", err)
		}
		return &ResBody[listings.PagedResult]{Body: res}, nil
	}
}

func (h *Handler) delete(ctx context.Context, in *deleteInput) (*deleteOutput, error) {
	l, err := h.publisher.RetractByID(ctx, in.ID)
	if err != nil {
		return nil, humaErr(ctx, "Ошибка при удалении записи", err)
	}

	out := &deleteOutput{}
	out.Body.Message = "Запись удалена"
	out.Body.Listing = l
	return out, nil
}

// draft maps the body to a listings.Draft. A forced kind overrides the one
// in the body.
func (d *listingData) draft(forced listings.Kind) listings.Draft {
	kind := listings.Kind(strings.TrimSpace(d.Kind))
	if forced != "" {
		kind = forced
	}

	draft := listings.Draft{Kind: kind, Comment: d.Comment}
	switch kind {
	case listings.KindCargo:
		draft.Cargo = &listings.CargoDraft{
			CargoType:    d.CargoType,
			Weight:       d.Weight.value(),
			PricePerUnit: d.PricePerUnit.value(),
			Origin:       d.Origin,
			Destination:  d.Destination,
		}
	case listings.KindExchange:
		ex := &listings.ExchangeDraft{
			Direction:      d.Direction,
			SellCurrency:   d.SellCurrency,
			BuyCurrency:    d.BuyCurrency,
			Amount:         d.Amount.value(),
			Rate:           d.Rate.value(),
			City:           d.City,
			ExchangeMethod: d.ExchangeMethod,
		}
		if ex.ExchangeMethod == "" {
			ex.ExchangeMethod = d.Exchange
		}
		// The first form sent currencies as "from"/"to" of the trade and
		// flipped them for buy offers.
		if ex.Direction == "" && d.Type != "" {
			ex.Direction = d.Type
			if strings.EqualFold(strings.TrimSpace(d.Type), legacyBuy) {
				ex.SellCurrency, ex.BuyCurrency = ex.BuyCurrency, ex.SellCurrency
			}
		}
		draft.Exchange = ex
	}
	return draft
}

func (in *browseInput) request() listings.BrowseRequest {
	return listings.BrowseRequest{
		Kind:            in.Kind,
		City:            in.City,
		TransactionType: in.TransactionType,
		CurrencyFrom:    in.CurrencyFrom,
		CurrencyTo:      in.CurrencyTo,
		ExchangeMethod:  in.ExchangeMethod,
		From:            in.From,
		To:              in.To,
		CargoType:       in.CargoType,
		MinAmount:       in.MinAmount,
		MaxAmount:       in.MaxAmount,
		MinRate:         in.MinRate,
		MaxRate:         in.MaxRate,
		MinPrice:        in.MinPrice,
		MaxPrice:        in.MaxPrice,
		MinWeight:       in.MinWeight,
		MaxWeight:       in.MaxWeight,
		Sort:            cmp.Or(in.Sort, in.SortBy),
		Order:           cmp.Or(in.Order, in.SortOrder),
		Page:            in.Page,
		Limit:           in.Limit,
	}
}
