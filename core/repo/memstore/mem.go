// Package memstore keeps listings and publication records in process
// memory. It backs tests and STORE=memory local runs.
package memstore

import (
	"context"
	"iter"
	"slices"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"listing-bot/core/listings"
	"listing-bot/core/publish"
)

type Store struct {
	listings *sync.Map // map<string, listings.Listing>
	pubs     *sync.Map // map<string, publish.Publication>
	users    *sync.Map // map<int64, string>
}

func New() *Store {
	return &Store{listings: &sync.Map{}, pubs: &sync.Map{}, users: &sync.Map{}}
}

func (s *Store) Create(_ context.Context, l listings.Listing) (listings.Listing, error) {
	if err := listings.Validate(l); err != nil {
		return listings.Listing{}, err
	}

	// ids are object ids so tokens and links look the same as with mongo
	l.ID = primitive.NewObjectID().Hex()
	l.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	s.listings.Store(l.ID, l)

	return l, nil
}

func (s *Store) FindByID(_ context.Context, id string) (listings.Listing, error) {
	v, ok := s.listings.Load(id)
	if !ok {
		return listings.Listing{}, listings.ErrNotFound
	}
	return v.(listings.Listing), nil
}

// DeleteByID removes and returns the listing; of concurrent callers only
// one gets it.
func (s *Store) DeleteByID(_ context.Context, id string) (listings.Listing, error) {
	v, ok := s.listings.LoadAndDelete(id)
	if !ok {
		return listings.Listing{}, listings.ErrNotFound
	}
	return v.(listings.Listing), nil
}

func (s *Store) Query(ctx context.Context, f listings.Filter) (listings.Page, error) {
	f, err := f.Normalize()
	if err != nil {
		return listings.Page{}, err
	}

	var matched []listings.Listing
	for l := range s.all() {
		if f.Match(l) {
			matched = append(matched, l)
		}
	}

	slices.SortFunc(matched, func(a, b listings.Listing) int {
		switch {
		case f.Less(a, b):
			return -1
		case f.Less(b, a):
			return 1
		}
		return 0
	})

	page := listings.Page{Total: int64(len(matched)), Items: []listings.Listing{}}
	start := min(int(f.Skip()), len(matched))
	end := min(start+f.Limit, len(matched))
	page.Items = append(page.Items, matched[start:end]...)

	return page, nil
}

// all returns an iterator over the stored listings.
func (s *Store) all() iter.Seq[listings.Listing] {
	return func(yield func(listings.Listing) bool) {
		s.listings.Range(func(_, value any) bool {
			return yield(value.(listings.Listing))
		})
	}
}

func (s *Store) SavePublication(_ context.Context, p publish.Publication) error {
	for {
		old, loaded := s.pubs.LoadOrStore(p.ListingID, p)
		if !loaded || old.(publish.Publication).State == publish.StateRetracted {
			return nil
		}
		if s.pubs.CompareAndSwap(p.ListingID, old, p) {
			return nil
		}
	}
}

func (s *Store) FindPublication(_ context.Context, listingID string) (publish.Publication, error) {
	v, ok := s.pubs.Load(listingID)
	if !ok {
		return publish.Publication{}, listings.ErrNotFound
	}
	return v.(publish.Publication), nil
}

func (s *Store) StalePublications(_ context.Context, states []publish.State, olderThan time.Time, maxAttempts int) ([]publish.Publication, error) {
	var res []publish.Publication
	s.pubs.Range(func(_, value any) bool {
		p := value.(publish.Publication)
		if slices.Contains(states, p.State) && p.UpdatedAt.Before(olderThan) && p.Attempts < maxAttempts {
			res = append(res, p)
		}
		return true
	})

	slices.SortFunc(res, func(a, b publish.Publication) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	return res, nil
}

// RegisterUser remembers the username of a telegram user. Re-registering
// updates the username.
func (s *Store) RegisterUser(_ context.Context, telegramID int64, username string) error {
	s.users.Store(telegramID, username)
	return nil
}

var (
	_ listings.Store       = (*Store)(nil)
	_ publish.Publications = (*Store)(nil)
)
