package listings

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Range is an inclusive numeric bound. A nil side is open.
type Range struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Filter is the storage level query. Field keys are the Field* constants.
type Filter struct {
	Kind     Kind              `json:"kind,omitempty"`
	Equals   map[string]string `json:"equals,omitempty"`
	Ranges   map[string]Range  `json:"ranges,omitempty"`
	SortBy   string            `json:"sortBy"`
	SortDesc bool              `json:"sortDesc"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
}

// Page is one slice of a query result plus the total match count.
type Page struct {
	Items []Listing `json:"items"`
	Total int64     `json:"total"`
}

type kindFields struct {
	equals []string
	ranges []string
	sorts  []string
}

var fieldsByKind = map[Kind]kindFields{
	KindCargo: {
		equals: []string{FieldCargoType, FieldOrigin, FieldDestination},
		ranges: []string{FieldWeight, FieldPricePerUnit},
		sorts:  []string{FieldCreatedAt, FieldWeight, FieldPricePerUnit},
	},
	KindExchange: {
		equals: []string{FieldDirection, FieldSellCurrency, FieldBuyCurrency, FieldCity, FieldExchangeMethod},
		ranges: []string{FieldAmount, FieldRate},
		sorts:  []string{FieldCreatedAt, FieldAmount, FieldRate},
	},
}

// SortableFields lists what a query over kind may be ordered by.
func SortableFields(kind Kind) []string {
	if f, ok := fieldsByKind[kind]; ok {
		return f.sorts
	}
	return []string{FieldCreatedAt}
}

// Normalize clamps paging, falls back to createdAt for an unknown sort
// field and rejects filters that the kind doesn't carry.
func (f Filter) Normalize() (Filter, error) {
	if f.Kind != "" && !f.Kind.Valid() {
		return f, &ValidationError{Field: "kind", Reason: "must be cargo or exchange"}
	}

	allowed := fieldsByKind[f.Kind]
	for field := range f.Equals {
		if !slices.Contains(allowed.equals, field) {
			return f, &ValidationError{Field: field, Reason: fmt.Sprintf("not a filter for kind %q", f.Kind)}
		}
	}
	for field, r := range f.Ranges {
		if !slices.Contains(allowed.ranges, field) {
			return f, &ValidationError{Field: field, Reason: fmt.Sprintf("not a filter for kind %q", f.Kind)}
		}
		if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
			return f, &ValidationError{Field: field, Reason: "min is greater than max"}
		}
	}

	if !slices.Contains(SortableFields(f.Kind), f.SortBy) {
		f.SortBy = FieldCreatedAt
	}

	f.Page = max(f.Page, 1)
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	f.Limit = min(f.Limit, MaxLimit)

	return f, nil
}

func (f Filter) Skip() int64 { return int64(f.Page-1) * int64(f.Limit) }

// Key is a stable textual form of the filter, used as a cache key.
func (f Filter) Key() string {
	var b strings.Builder
	fmt.Fprintf(&b, "k=%s", f.Kind)

	keys := make([]string, 0, len(f.Equals))
	for k := range f.Equals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "&%s=%s", k, f.Equals[k])
	}

	keys = keys[:0]
	for k := range f.Ranges {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r := f.Ranges[k]
		if r.Min != nil {
			fmt.Fprintf(&b, "&%s>=%g", k, *r.Min)
		}
		if r.Max != nil {
			fmt.Fprintf(&b, "&%s<=%g", k, *r.Max)
		}
	}

	fmt.Fprintf(&b, "&sort=%s&desc=%t&page=%d&limit=%d", f.SortBy, f.SortDesc, f.Page, f.Limit)
	return b.String()
}

// Match reports whether l satisfies the filter's predicates. Used by the
// in-memory store.
func (f Filter) Match(l Listing) bool {
	if f.Kind != "" && l.Kind != f.Kind {
		return false
	}
	for field, want := range f.Equals {
		got, ok := l.Text(field)
		if !ok || got != want {
			return false
		}
	}
	for field, r := range f.Ranges {
		got, ok := l.Number(field)
		if !ok {
			return false
		}
		if r.Min != nil && got < *r.Min {
			return false
		}
		if r.Max != nil && got > *r.Max {
			return false
		}
	}
	return true
}

// Less orders a before b by the filter's sort field, breaking ties by id so
// paging is deterministic.
func (f Filter) Less(a, b Listing) bool {
	av, _ := a.Number(f.SortBy)
	bv, _ := b.Number(f.SortBy)
	if av == bv {
		if f.SortDesc {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	}
	if f.SortDesc {
		return av > bv
	}
	return av < bv
}
