package listings

import (
	"strings"
	"time"
)

type Kind string

const (
	KindCargo    Kind = "cargo"
	KindExchange Kind = "exchange"
)

func (k Kind) Valid() bool { return k == KindCargo || k == KindExchange }

type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// ParseDirection accepts the canonical values and the labels the web form
// historically sent ("Купить", "Продать").
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "купить":
		return Buy, true
	case "sell", "продать":
		return Sell, true
	}
	return "", false
}

type Owner struct {
	Username string `json:"username" validate:"required"`
	ChatID   int64  `json:"chatId" validate:"required"`
}

type Cargo struct {
	CargoType    string  `json:"cargoType" validate:"required"`
	Weight       float64 `json:"weight" validate:"gte=0,finite"`
	PricePerUnit float64 `json:"pricePerUnit" validate:"gte=0,finite"`
	Origin       string  `json:"origin" validate:"required"`
	Destination  string  `json:"destination" validate:"required"`
}

// CurrencyExchange is an offer to give SellCurrency and get BuyCurrency.
// Amount is denominated in the traded currency, see AmountCurrency.
type CurrencyExchange struct {
	Direction      Direction `json:"direction" validate:"required,oneof=buy sell"`
	SellCurrency   string    `json:"sellCurrency" validate:"required"`
	BuyCurrency    string    `json:"buyCurrency" validate:"required"`
	Amount         float64   `json:"amount" validate:"gte=0,finite"`
	Rate           float64   `json:"rate" validate:"gte=0,finite"`
	City           string    `json:"city" validate:"required"`
	ExchangeMethod string    `json:"exchangeMethod" validate:"required"`
}

// AmountCurrency is BuyCurrency for a buy offer and SellCurrency for a sell
// offer.
func (e CurrencyExchange) AmountCurrency() string {
	if e.Direction == Buy {
		return e.BuyCurrency
	}
	return e.SellCurrency
}

// Listing is a stored offer. Exactly one of Cargo and Exchange is set,
// matching Kind.
type Listing struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind" validate:"required,oneof=cargo exchange"`
	Cargo     *Cargo            `json:"cargo,omitempty"`
	Exchange  *CurrencyExchange `json:"exchange,omitempty"`
	Comment   string            `json:"comment"`
	Owner     Owner             `json:"owner"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Logical field names shared by filters, sorting and the storage backends.
const (
	FieldCreatedAt      = "createdAt"
	FieldCargoType      = "cargoType"
	FieldWeight         = "weight"
	FieldPricePerUnit   = "pricePerUnit"
	FieldOrigin         = "origin"
	FieldDestination    = "destination"
	FieldDirection      = "direction"
	FieldSellCurrency   = "sellCurrency"
	FieldBuyCurrency    = "buyCurrency"
	FieldAmount         = "amount"
	FieldRate           = "rate"
	FieldCity           = "city"
	FieldExchangeMethod = "exchangeMethod"
)

// Text returns the value of a string field, false when the listing's kind
// doesn't carry it.
func (l Listing) Text(field string) (string, bool) {
	if c := l.Cargo; c != nil {
		switch field {
		case FieldCargoType:
			return c.CargoType, true
		case FieldOrigin:
			return c.Origin, true
		case FieldDestination:
			return c.Destination, true
		}
	}
	if e := l.Exchange; e != nil {
		switch field {
		case FieldDirection:
			return string(e.Direction), true
		case FieldSellCurrency:
			return e.SellCurrency, true
		case FieldBuyCurrency:
			return e.BuyCurrency, true
		case FieldCity:
			return e.City, true
		case FieldExchangeMethod:
			return e.ExchangeMethod, true
		}
	}
	return "", false
}

// Number is the numeric counterpart of Text.
func (l Listing) Number(field string) (float64, bool) {
	if c := l.Cargo; c != nil {
		switch field {
		case FieldWeight:
			return c.Weight, true
		case FieldPricePerUnit:
			return c.PricePerUnit, true
		}
	}
	if e := l.Exchange; e != nil {
		switch field {
		case FieldAmount:
			return e.Amount, true
		case FieldRate:
			return e.Rate, true
		}
	}
	if field == FieldCreatedAt {
		return float64(l.CreatedAt.UnixNano()), true
	}
	return 0, false
}
