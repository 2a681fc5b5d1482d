package listings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Number is a float that also decodes from a numeric JSON string, as the
// web form sends e.g. "rate": "92,5".
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}

	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}

	f, err := ParseNumber(s)
	if err != nil {
		return fmt.Errorf("invalid number %q", s)
	}
	*n = Number(f)
	return nil
}

// ParseNumber parses a finite decimal that may use a comma separator.
func ParseNumber(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%q is not a finite number", s)
	}
	return f, nil
}

type CargoDraft struct {
	CargoType    string  `json:"cargoType" validate:"required"`
	Weight       *Number `json:"weight" validate:"required,gte=0"`
	PricePerUnit *Number `json:"pricePerUnit" validate:"required,gte=0"`
	Origin       string  `json:"origin" validate:"required"`
	Destination  string  `json:"destination" validate:"required"`
}

type ExchangeDraft struct {
	Direction      string  `json:"direction" validate:"required"`
	SellCurrency   string  `json:"sellCurrency" validate:"required"`
	BuyCurrency    string  `json:"buyCurrency" validate:"required"`
	Amount         *Number `json:"amount" validate:"required,gte=0"`
	Rate           *Number `json:"rate" validate:"required,gte=0"`
	City           string  `json:"city" validate:"required"`
	ExchangeMethod string  `json:"exchangeMethod" validate:"required"`
}

// Draft is a submitted listing before the store assigns its identity.
type Draft struct {
	Kind     Kind
	Cargo    *CargoDraft
	Exchange *ExchangeDraft
	Comment  string
}

// Build validates the draft and returns the listing to be stored. String
// fields are trimmed.
func (d Draft) Build(owner Owner) (Listing, error) {
	l := Listing{
		Kind:    d.Kind,
		Comment: strings.TrimSpace(d.Comment),
		Owner: Owner{
			Username: strings.TrimPrefix(strings.TrimSpace(owner.Username), "@"),
			ChatID:   owner.ChatID,
		},
	}

	switch d.Kind {
	case KindCargo:
		if d.Cargo == nil {
			return Listing{}, &ValidationError{Field: "cargo", Reason: "required"}
		}
		c := *d.Cargo
		trim(&c.CargoType, &c.Origin, &c.Destination)
		if err := validateStruct(c); err != nil {
			return Listing{}, err
		}
		l.Cargo = &Cargo{
			CargoType:    c.CargoType,
			Weight:       float64(*c.Weight),
			PricePerUnit: float64(*c.PricePerUnit),
			Origin:       c.Origin,
			Destination:  c.Destination,
		}

	case KindExchange:
		if d.Exchange == nil {
			return Listing{}, &ValidationError{Field: "exchange", Reason: "required"}
		}
		e := *d.Exchange
		trim(&e.Direction, &e.SellCurrency, &e.BuyCurrency, &e.City, &e.ExchangeMethod)
		if err := validateStruct(e); err != nil {
			return Listing{}, err
		}
		dir, ok := ParseDirection(e.Direction)
		if !ok {
			return Listing{}, &ValidationError{Field: "direction", Reason: "must be buy or sell"}
		}
		l.Exchange = &CurrencyExchange{
			Direction:      dir,
			SellCurrency:   strings.ToUpper(e.SellCurrency),
			BuyCurrency:    strings.ToUpper(e.BuyCurrency),
			Amount:         float64(*e.Amount),
			Rate:           float64(*e.Rate),
			City:           e.City,
			ExchangeMethod: e.ExchangeMethod,
		}

	default:
		return Listing{}, &ValidationError{Field: "kind", Reason: "must be cargo or exchange"}
	}

	return l, Validate(l)
}

func trim(fields ...*string) {
	for _, f := range fields {
		*f = strings.TrimSpace(*f)
	}
}
