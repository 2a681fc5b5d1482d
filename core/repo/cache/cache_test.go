package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing-bot/core/listings"
	"listing-bot/core/repo/memstore"
)

type countingStore struct {
	listings.Store
	queries int
}

func (c *countingStore) Query(ctx context.Context, f listings.Filter) (listings.Page, error) {
	c.queries++
	return c.Store.Query(ctx, f)
}

func cargo() listings.Listing {
	return listings.Listing{
		Kind:  listings.KindCargo,
		Cargo: &listings.Cargo{CargoType: "wood", Weight: 1, Origin: "A", Destination: "B"},
		Owner: listings.Owner{Username: "bob", ChatID: 1},
	}
}

func newCached(t *testing.T) (*Store, *countingStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	inner := &countingStore{Store: memstore.New()}
	return New(inner, rdb, time.Minute), inner, mr
}

func TestStore_Query_cachesPages(t *testing.T) {
	ctx := context.Background()
	s, inner, _ := newCached(t)

	_, err := s.Create(ctx, cargo())
	require.NoError(t, err)

	f := listings.Filter{Kind: listings.KindCargo}
	first, err := s.Query(ctx, f)
	require.NoError(t, err)
	second, err := s.Query(ctx, f)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.queries)
	assert.Equal(t, first.Total, second.Total)
	assert.Equal(t, first.Items[0].ID, second.Items[0].ID)
}

func TestStore_writesInvalidate(t *testing.T) {
	ctx := context.Background()
	s, inner, _ := newCached(t)

	f := listings.Filter{Kind: listings.KindCargo}
	page, _ := s.Query(ctx, f)
	assert.Zero(t, page.Total)

	stored, err := s.Create(ctx, cargo())
	require.NoError(t, err)

	page, _ = s.Query(ctx, f)
	assert.EqualValues(t, 1, page.Total, "a page cached before the write must not be served")

	_, err = s.DeleteByID(ctx, stored.ID)
	require.NoError(t, err)

	page, _ = s.Query(ctx, f)
	assert.Zero(t, page.Total)
	assert.Equal(t, 3, inner.queries)
}

func TestStore_Query_redisDown(t *testing.T) {
	ctx := context.Background()
	s, inner, mr := newCached(t)
	mr.Close()

	_, err := s.Query(ctx, listings.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.queries)
}

func TestStore_Query_ttl(t *testing.T) {
	ctx := context.Background()
	s, inner, mr := newCached(t)

	_, _ = s.Query(ctx, listings.Filter{})
	mr.FastForward(2 * time.Minute)
	_, _ = s.Query(ctx, listings.Filter{})

	assert.Equal(t, 2, inner.queries)
}
