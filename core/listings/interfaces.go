package listings

import "context"

// Store persists listings. Implementations return ErrNotFound for unknown
// ids and wrap backend failures in *StoreError.
type Store interface {
	Create(ctx context.Context, l Listing) (Listing, error)
	FindByID(ctx context.Context, id string) (Listing, error)
	// DeleteByID removes the listing atomically and returns it. Of two
	// concurrent calls for the same id, one gets ErrNotFound.
	DeleteByID(ctx context.Context, id string) (Listing, error)
	Query(ctx context.Context, f Filter) (Page, error)
}

type Querier interface {
	Query(ctx context.Context, f Filter) (Page, error)
}
