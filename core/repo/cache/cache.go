// Package cache puts a redis read-through cache in front of a listing
// store's queries.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"listing-bot/core/listings"
)

const generationKey = "listings:gen"

type Conf struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB"`
	TTL      time.Duration `env:"CACHE_TTL" default:"30s"`
}

func NewClient(conf *Conf) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})
}

// Store caches Query pages. Writes bump a generation counter that is part
// of every key, so pages cached before a write are never served after it.
type Store struct {
	listings.Store
	rdb *redis.Client
	ttl time.Duration
}

func New(next listings.Store, rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{Store: next, rdb: rdb, ttl: ttl}
}

func (s *Store) Create(ctx context.Context, l listings.Listing) (listings.Listing, error) {
	stored, err := s.Store.Create(ctx, l)
	if err == nil {
		s.invalidate(ctx)
	}
	return stored, err
}

func (s *Store) DeleteByID(ctx context.Context, id string) (listings.Listing, error) {
	deleted, err := s.Store.DeleteByID(ctx, id)
	if err == nil {
		s.invalidate(ctx)
	}
	return deleted, err
}

func (s *Store) Query(ctx context.Context, f listings.Filter) (listings.Page, error) {
	f, err := f.Normalize()
	if err != nil {
		return listings.Page{}, err
	}

	key, err := s.key(ctx, f)
	if err != nil {
		slog.WarnContext(ctx, "listing cache unavailable", "err", err)
		return s.Store.Query(ctx, f)
	}

	if cached, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var page listings.Page
		if err := json.Unmarshal(cached, &page); err == nil {
			return page, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		slog.WarnContext(ctx, "can not read the listing cache", "key", key, "err", err)
	}

	page, err := s.Store.Query(ctx, f)
	if err != nil {
		return page, err
	}

	if body, err := json.Marshal(page); err == nil {
		if err := s.rdb.Set(ctx, key, body, s.ttl).Err(); err != nil {
			slog.WarnContext(ctx, "can not write the listing cache", "key", key, "err", err)
		}
	}
	return page, nil
}

func (s *Store) key(ctx context.Context, f listings.Filter) (string, error) {
	gen, err := s.rdb.Get(ctx, generationKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	return fmt.Sprintf("listings:v%d:%s", gen, f.Key()), nil
}

func (s *Store) invalidate(ctx context.Context) {
	if err := s.rdb.Incr(ctx, generationKey).Err(); err != nil {
		slog.ErrorContext(ctx, "can not invalidate the listing cache", "err", err)
	}
}

var _ listings.Store = (*Store)(nil)
