package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/facebookgo/clock"
	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/shopmgr/partsync/pkg/observability"
)

const (
	cacheEntryKeyPrefix = "cache:entry:"
	cacheIndexKey       = "cache:index"
)

// ListOptions filters cache reads for the pricing display path
type ListOptions struct {
	PartIDs      []string
	Limit        int
	IncludeStale bool
}

// CacheStore persists the last-known pricing facts per supplier part.
// Entries are upserted keyed by part ID; concurrent writers race benignly
// because every write carries its own LastSupplierSync timestamp.
type CacheStore struct {
	log            logrus.FieldLogger
	redis          *redis.Client
	clock          clock.Clock
	keyPrefix      string
	staleThreshold time.Duration
}

// NewCacheStore creates a Redis-backed pricing cache store
func NewCacheStore(log logrus.FieldLogger, redisClient *redis.Client, clk clock.Clock, keyPrefix string, staleThreshold time.Duration) *CacheStore {
	return &CacheStore{
		log:            log.WithField("component", "pricing_cache"),
		redis:          redisClient,
		clock:          clk,
		keyPrefix:      keyPrefix + ":",
		staleThreshold: staleThreshold,
	}
}

func (s *CacheStore) entryKey(partID string) string {
	return s.keyPrefix + cacheEntryKeyPrefix + partID
}

func (s *CacheStore) indexKey() string {
	return s.keyPrefix + cacheIndexKey
}

// Get retrieves one cache entry, or nil on a miss
func (s *CacheStore) Get(ctx context.Context, partID string) (*CacheEntry, error) {
	data, err := s.redis.Get(ctx, s.entryKey(partID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}

		return nil, fmt.Errorf("failed to get cache entry for %s: %w", partID, err)
	}

	var entry CacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry for %s: %w", partID, err)
	}

	s.applyStaleness(&entry)

	return &entry, nil
}

// ApplyPricing upserts the entry for a successful supplier fetch: pricing
// facts replaced, sync attempts reset, last error cleared
func (s *CacheStore) ApplyPricing(ctx context.Context, partID string, fact Fact) (*CacheEntry, error) {
	now := s.clock.Now().UTC()

	entry, err := s.Get(ctx, partID)
	if err != nil {
		return nil, err
	}

	if entry == nil {
		entry = &CacheEntry{PartID: partID}
	}

	entry.Price = fact.Price
	entry.Cost = fact.Cost
	entry.ListPrice = fact.ListPrice
	entry.CoreCharge = fact.CoreCharge
	entry.Currency = fact.Currency
	entry.LastUpdated = now
	entry.LastSupplierSync = now
	entry.Stale = false
	entry.SyncAttempts = 0
	entry.LastError = ""

	if err := s.write(ctx, entry); err != nil {
		return nil, err
	}

	return entry, nil
}

// MarkFailure records a failed sync attempt on an existing entry. A part
// that has never been fetched successfully has no entry to mark; that is
// not an error.
func (s *CacheStore) MarkFailure(ctx context.Context, partID, errMsg string) (*CacheEntry, error) {
	entry, err := s.Get(ctx, partID)
	if err != nil {
		return nil, err
	}

	if entry == nil {
		return nil, nil
	}

	entry.SyncAttempts++
	entry.LastError = errMsg
	entry.LastUpdated = s.clock.Now().UTC()

	if err := s.write(ctx, entry); err != nil {
		return nil, err
	}

	return entry, nil
}

func (s *CacheStore) write(ctx context.Context, entry *CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry for %s: %w", entry.PartID, err)
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.entryKey(entry.PartID), data, 0)
	pipe.SAdd(ctx, s.indexKey(), entry.PartID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write cache entry for %s: %w", entry.PartID, err)
	}

	return nil
}

// List returns cache entries for the read path. With PartIDs set only those
// parts are fetched; otherwise the whole index is walked up to Limit.
func (s *CacheStore) List(ctx context.Context, opts ListOptions) ([]*CacheEntry, error) {
	partIDs := opts.PartIDs

	if len(partIDs) == 0 {
		ids, err := s.redis.SMembers(ctx, s.indexKey()).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list cache index: %w", err)
		}
		partIDs = ids
	}

	entries := make([]*CacheEntry, 0, len(partIDs))

	for _, partID := range partIDs {
		entry, err := s.Get(ctx, partID)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			continue
		}
		if !opts.IncludeStale && entry.Stale {
			continue
		}

		entries = append(entries, entry)

		if opts.Limit > 0 && len(entries) >= opts.Limit {
			break
		}
	}

	return entries, nil
}

// StaleEntries returns every entry whose last successful supplier sync is
// older than the store's staleness threshold
func (s *CacheStore) StaleEntries(ctx context.Context) ([]*CacheEntry, error) {
	all, err := s.List(ctx, ListOptions{IncludeStale: true})
	if err != nil {
		return nil, err
	}

	stale := make([]*CacheEntry, 0, len(all))
	for _, entry := range all {
		if entry.Stale {
			stale = append(stale, entry)
		}
	}

	return stale, nil
}

// Count returns the number of cached parts and refreshes the gauge
func (s *CacheStore) Count(ctx context.Context) (int64, error) {
	count, err := s.redis.SCard(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}

	observability.CacheEntries.Set(float64(count))

	return count, nil
}

func (s *CacheStore) applyStaleness(entry *CacheEntry) {
	entry.Stale = s.clock.Now().Sub(entry.LastSupplierSync) > s.staleThreshold
}
