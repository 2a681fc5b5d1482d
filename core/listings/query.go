package listings

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// BrowseRequest carries raw query parameters as they arrive from a client.
type BrowseRequest struct {
	Kind string

	City            string
	TransactionType string
	CurrencyFrom    string
	CurrencyTo      string
	ExchangeMethod  string

	From      string
	To        string
	CargoType string

	MinAmount string
	MaxAmount string
	MinRate   string
	MaxRate   string
	MinPrice  string
	MaxPrice  string
	MinWeight string
	MaxWeight string

	Sort  string
	Order string
	Page  string
	Limit string
}

type PagedResult struct {
	Total      int64     `json:"total"`
	Page       int       `json:"page"`
	TotalPages int       `json:"totalPages"`
	Limit      int       `json:"limit"`
	Data       []Listing `json:"data"`
}

type equalsParam struct {
	name  string
	field string
	kind  Kind
	get   func(*BrowseRequest) string
	norm  func(string) string
}

type rangeParam struct {
	min, max string
	field    string
	kind     Kind
	get      func(*BrowseRequest) (string, string)
}

var equalsParams = []equalsParam{
	{"city", FieldCity, KindExchange, func(r *BrowseRequest) string { return r.City }, nil},
	{"transactionType", FieldDirection, KindExchange, func(r *BrowseRequest) string { return r.TransactionType }, normDirection},
	{"currencyFrom", FieldSellCurrency, KindExchange, func(r *BrowseRequest) string { return r.CurrencyFrom }, strings.ToUpper},
	{"currencyTo", FieldBuyCurrency, KindExchange, func(r *BrowseRequest) string { return r.CurrencyTo }, strings.ToUpper},
	{"exchangeMethod", FieldExchangeMethod, KindExchange, func(r *BrowseRequest) string { return r.ExchangeMethod }, nil},
	{"from", FieldOrigin, KindCargo, func(r *BrowseRequest) string { return r.From }, nil},
	{"to", FieldDestination, KindCargo, func(r *BrowseRequest) string { return r.To }, nil},
	{"cargoType", FieldCargoType, KindCargo, func(r *BrowseRequest) string { return r.CargoType }, nil},
}

var rangeParams = []rangeParam{
	{"minAmount", "maxAmount", FieldAmount, KindExchange, func(r *BrowseRequest) (string, string) { return r.MinAmount, r.MaxAmount }},
	{"minRate", "maxRate", FieldRate, KindExchange, func(r *BrowseRequest) (string, string) { return r.MinRate, r.MaxRate }},
	{"minPrice", "maxPrice", FieldPricePerUnit, KindCargo, func(r *BrowseRequest) (string, string) { return r.MinPrice, r.MaxPrice }},
	{"minWeight", "maxWeight", FieldWeight, KindCargo, func(r *BrowseRequest) (string, string) { return r.MinWeight, r.MaxWeight }},
}

// sort parameter names accepted by clients, mapped to logical fields.
var sortAliases = map[string]string{
	"createdAt":    FieldCreatedAt,
	"amount":       FieldAmount,
	"rate":         FieldRate,
	"weight":       FieldWeight,
	"price":        FieldPricePerUnit,
	"pricePerUnit": FieldPricePerUnit,
}

func normDirection(s string) string {
	if d, ok := ParseDirection(s); ok {
		return string(d)
	}
	return s
}

// Browser turns browse requests into store queries.
type Browser struct {
	store    Querier
	required []string
}

// NewBrowser returns a Browser that rejects requests missing any of the
// required parameter names (e.g. "kind", "city").
func NewBrowser(store Querier, required []string) *Browser {
	return &Browser{store: store, required: required}
}

func (b *Browser) Browse(ctx context.Context, req BrowseRequest) (PagedResult, error) {
	f, err := b.Filter(req)
	if err != nil {
		return PagedResult{}, err
	}

	page, err := b.store.Query(ctx, f)
	if err != nil {
		return PagedResult{}, err
	}

	data := page.Items
	if data == nil {
		data = []Listing{}
	}

	return PagedResult{
		Total:      page.Total,
		Page:       f.Page,
		TotalPages: int((page.Total + int64(f.Limit) - 1) / int64(f.Limit)),
		Limit:      f.Limit,
		Data:       data,
	}, nil
}

// Filter builds and normalizes the store filter for req.
func (b *Browser) Filter(req BrowseRequest) (Filter, error) {
	if err := b.checkRequired(&req); err != nil {
		return Filter{}, err
	}

	kind, err := requestKind(&req)
	if err != nil {
		return Filter{}, err
	}

	f := Filter{
		Kind:   kind,
		Equals: map[string]string{},
		Ranges: map[string]Range{},
	}

	for _, p := range equalsParams {
		v := strings.TrimSpace(p.get(&req))
		if v == "" {
			continue
		}
		if p.norm != nil {
			v = p.norm(v)
		}
		f.Equals[p.field] = v
	}

	for _, p := range rangeParams {
		minRaw, maxRaw := p.get(&req)
		var r Range
		if r.Min, err = parseBound(p.min, minRaw); err != nil {
			return Filter{}, err
		}
		if r.Max, err = parseBound(p.max, maxRaw); err != nil {
			return Filter{}, err
		}
		if r.Min != nil || r.Max != nil {
			f.Ranges[p.field] = r
		}
	}

	if field, ok := sortAliases[req.Sort]; ok {
		f.SortBy = field
	}
	f.SortDesc = strings.EqualFold(req.Order, "desc")

	// invalid paging values fall back to defaults
	f.Page, _ = strconv.Atoi(strings.TrimSpace(req.Page))
	f.Limit, _ = strconv.Atoi(strings.TrimSpace(req.Limit))

	return f.Normalize()
}

func (b *Browser) checkRequired(req *BrowseRequest) error {
	for _, name := range b.required {
		if strings.TrimSpace(paramValue(req, name)) == "" {
			return &ValidationError{Field: name, Reason: "required"}
		}
	}
	return nil
}

func paramValue(req *BrowseRequest, name string) string {
	if name == "kind" {
		return req.Kind
	}
	for _, p := range equalsParams {
		if p.name == name {
			return p.get(req)
		}
	}
	for _, p := range rangeParams {
		minRaw, maxRaw := p.get(req)
		if p.min == name {
			return minRaw
		}
		if p.max == name {
			return maxRaw
		}
	}
	return ""
}

// requestKind returns the explicit kind, or infers it from the
// kind-specific parameters present.
func requestKind(req *BrowseRequest) (Kind, error) {
	var used []Kind
	var names []string
	for _, p := range equalsParams {
		if strings.TrimSpace(p.get(req)) != "" {
			used = append(used, p.kind)
			names = append(names, p.name)
		}
	}
	for _, p := range rangeParams {
		minRaw, maxRaw := p.get(req)
		if strings.TrimSpace(minRaw) != "" || strings.TrimSpace(maxRaw) != "" {
			used = append(used, p.kind)
			names = append(names, p.min+"/"+p.max)
		}
	}

	kind := Kind(strings.ToLower(strings.TrimSpace(req.Kind)))
	if kind != "" && !kind.Valid() {
		return "", &ValidationError{Field: "kind", Reason: "must be cargo or exchange"}
	}

	for i, k := range used {
		if kind == "" {
			kind = k
		}
		if k != kind {
			return "", &ValidationError{Field: names[i], Reason: fmt.Sprintf("not a filter for kind %q", kind)}
		}
	}

	return kind, nil
}

func parseBound(name, raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := ParseNumber(raw)
	if err != nil {
		return nil, &ValidationError{Field: name, Reason: fmt.Sprintf("invalid %s value", name)}
	}
	return &v, nil
}
