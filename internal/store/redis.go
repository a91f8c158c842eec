package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wyrmgate/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: listing lookups and per-item price
// history. Balance and order state are never cached — money reads always
// hit the source of truth.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{Store: primary, rdb: rdb, ttl: ttl}
}

func listingKey(id string) string   { return fmt.Sprintf("listing:%s", id) }
func historyKey(item string) string { return fmt.Sprintf("history:%s", item) }

// --- Read-through ---

func (s *CachedStore) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	data, err := s.rdb.Get(ctx, listingKey(id)).Bytes()
	if err == nil {
		var l model.Listing
		if json.Unmarshal(data, &l) == nil {
			return &l, nil
		}
	}

	l, err := s.Store.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheListing(ctx, l)
	return l, nil
}

func (s *CachedStore) ResolutionsByItem(ctx context.Context, itemID string, limit int) ([]model.ResolutionRecord, error) {
	key := fmt.Sprintf("%s:%d", historyKey(itemID), limit)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var records []model.ResolutionRecord
		if json.Unmarshal(data, &records) == nil {
			return records, nil
		}
	}

	records, err := s.Store.ResolutionsByItem(ctx, itemID, limit)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(records); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return records, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateListing(ctx context.Context, l *model.Listing) error {
	if err := s.Store.CreateListing(ctx, l); err != nil {
		return err
	}
	s.cacheListing(ctx, l)
	return nil
}

func (s *CachedStore) TransitionListing(ctx context.Context, id string, from, to model.ListingStatus) error {
	if err := s.Store.TransitionListing(ctx, id, from, to); err != nil {
		return err
	}
	s.rdb.Del(ctx, listingKey(id))
	return nil
}

func (s *CachedStore) SetListingQuantity(ctx context.Context, id string, quantity int64) error {
	if err := s.Store.SetListingQuantity(ctx, id, quantity); err != nil {
		return err
	}
	s.rdb.Del(ctx, listingKey(id))
	return nil
}

func (s *CachedStore) InsertResolution(ctx context.Context, r *model.ResolutionRecord) error {
	if err := s.Store.InsertResolution(ctx, r); err != nil {
		return err
	}
	// Drop every cached history page for this item; next read re-populates.
	iter := s.rdb.Scan(ctx, 0, historyKey(r.ItemID)+":*", 100).Iterator()
	for iter.Next(ctx) {
		s.rdb.Del(ctx, iter.Val())
	}
	return nil
}

// Compile-time interface check.
var _ Store = (*CachedStore)(nil)

// --- Cache helpers ---

func (s *CachedStore) cacheListing(ctx context.Context, l *model.Listing) {
	if data, err := json.Marshal(l); err == nil {
		s.rdb.Set(ctx, listingKey(l.ID), data, s.ttl)
	}
}
