package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/sirupsen/logrus"

	"github.com/shopmgr/partsync/pkg/observability"
	"github.com/shopmgr/partsync/pkg/pricing"
	"github.com/shopmgr/partsync/pkg/supplier"
)

var (
	// ErrSyncAlreadyRunning is returned when a run of the same type is in flight
	ErrSyncAlreadyRunning = errors.New("sync of this type is already running")
	// ErrPartNotFound is returned when the supplier response omits the requested part
	ErrPartNotFound = errors.New("part not found in supplier response")
)

// Service defines the public interface of the pricing sync engine.
// Supplier-side failures are folded into per-entry bookkeeping and sync log
// counts; a returned error means the run itself could not proceed (store
// unreachable, duplicate run).
type Service interface {
	// FullSync refreshes the entire catalog in batches
	FullSync(ctx context.Context) (*pricing.SyncLogRecord, error)

	// IncrementalSync refreshes only entries past the staleness threshold
	IncrementalSync(ctx context.Context) (*pricing.SyncLogRecord, error)

	// SinglePartUpdate refreshes one part on demand and returns the fresh entry
	SinglePartUpdate(ctx context.Context, partID string) (*pricing.CacheEntry, error)

	// ProcessPendingRequests drains queued update requests in priority order
	ProcessPendingRequests(ctx context.Context) (*pricing.SyncLogRecord, error)

	// IsRunning reports whether a run of the given type is in flight
	IsRunning(syncType pricing.SyncType) bool
}

type service struct {
	log     logrus.FieldLogger
	cfg     *Config
	clock   clock.Clock
	client  supplier.Client
	retrier *supplier.Retrier
	tracker *supplier.RateLimitTracker
	cache   *pricing.CacheStore
	syncLog *pricing.SyncLog
	queue   *pricing.RequestQueue

	mu      sync.Mutex
	running map[pricing.SyncType]bool
}

// NewService creates a new pricing sync engine
func NewService(
	log logrus.FieldLogger,
	cfg *Config,
	clk clock.Clock,
	client supplier.Client,
	retrier *supplier.Retrier,
	tracker *supplier.RateLimitTracker,
	cache *pricing.CacheStore,
	syncLog *pricing.SyncLog,
	queue *pricing.RequestQueue,
) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &service{
		log:     log.WithField("service", "engine"),
		cfg:     cfg,
		clock:   clk,
		client:  client,
		retrier: retrier,
		tracker: tracker,
		cache:   cache,
		syncLog: syncLog,
		queue:   queue,
		running: make(map[pricing.SyncType]bool),
	}, nil
}

// IsRunning reports whether a run of the given type is in flight
func (s *service) IsRunning(syncType pricing.SyncType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running[syncType]
}

// tryBegin claims the per-type run slot; runs of different types may overlap
func (s *service) tryBegin(syncType pricing.SyncType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running[syncType] {
		return false
	}

	s.running[syncType] = true

	return true
}

func (s *service) end(syncType pricing.SyncType) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, syncType)
}

// FullSync refreshes the entire catalog. The run is failed only when the
// initial catalog fetch itself fails; batch failures downgrade it to partial.
func (s *service) FullSync(ctx context.Context) (*pricing.SyncLogRecord, error) {
	if !s.tryBegin(pricing.SyncTypeFull) {
		return nil, fmt.Errorf("%w: %s", ErrSyncAlreadyRunning, pricing.SyncTypeFull)
	}
	defer s.end(pricing.SyncTypeFull)

	record, err := s.syncLog.Begin(ctx, pricing.SyncTypeFull)
	if err != nil {
		return nil, err
	}

	started := s.clock.Now()

	var items []supplier.InventoryItem

	fetchErr := s.retrier.Do(ctx, func() error {
		var opErr error
		items, opErr = s.client.GetFullInventory(ctx)
		return opErr
	})
	if fetchErr != nil {
		return s.closeRun(ctx, record, started, pricing.CloseOutcome{
			Status:       pricing.SyncStatusFailed,
			ErrorMessage: fetchErr.Error(),
			RateLimited:  isRateLimited(fetchErr),
			RetryAfter:   retryAfterOf(fetchErr),
		})
	}

	partIDs := make([]string, 0, len(items))
	for _, item := range items {
		partIDs = append(partIDs, item.VCPN)
	}

	return s.syncBatches(ctx, record, started, partIDs)
}

// IncrementalSync refreshes only stale entries; with nothing stale it makes
// zero supplier calls
func (s *service) IncrementalSync(ctx context.Context) (*pricing.SyncLogRecord, error) {
	if !s.tryBegin(pricing.SyncTypeIncremental) {
		return nil, fmt.Errorf("%w: %s", ErrSyncAlreadyRunning, pricing.SyncTypeIncremental)
	}
	defer s.end(pricing.SyncTypeIncremental)

	record, err := s.syncLog.Begin(ctx, pricing.SyncTypeIncremental)
	if err != nil {
		return nil, err
	}

	started := s.clock.Now()

	stale, err := s.cache.StaleEntries(ctx)
	if err != nil {
		if _, closeErr := s.syncLog.Close(ctx, record.ID, pricing.CloseOutcome{
			Status:       pricing.SyncStatusFailed,
			ErrorMessage: err.Error(),
		}); closeErr != nil {
			s.log.WithError(closeErr).Error("Failed to close sync log record")
		}

		return nil, err
	}

	partIDs := make([]string, 0, len(stale))
	for _, entry := range stale {
		partIDs = append(partIDs, entry.PartID)
	}

	return s.syncBatches(ctx, record, started, partIDs)
}

// syncBatches fetches pricing for partIDs in fixed-size batches and applies
// the results, accumulating per-part success and failure counts
func (s *service) syncBatches(ctx context.Context, record *pricing.SyncLogRecord, started time.Time, partIDs []string) (*pricing.SyncLogRecord, error) {
	var (
		successCount int
		failureCount int
		rateLimited  bool
		retryAfter   time.Duration
	)

	for start := 0; start < len(partIDs); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(partIDs) {
			end = len(partIDs)
		}
		batch := partIDs[start:end]

		var priced []supplier.PartPricing

		batchErr := s.retrier.Do(ctx, func() error {
			var opErr error
			priced, opErr = s.client.GetBulkPricing(ctx, batch)
			return opErr
		})
		if batchErr != nil {
			failureCount += len(batch)

			if isRateLimited(batchErr) {
				rateLimited = true
				retryAfter = retryAfterOf(batchErr)
			}

			for _, partID := range batch {
				if _, err := s.cache.MarkFailure(ctx, partID, batchErr.Error()); err != nil {
					return s.abortRun(ctx, record, err)
				}
			}

			continue
		}

		returned := make(map[string]supplier.PartPricing, len(priced))
		for _, p := range priced {
			returned[p.VCPN] = p
		}

		for _, partID := range batch {
			p, ok := returned[partID]
			if !ok {
				failureCount++

				if _, err := s.cache.MarkFailure(ctx, partID, ErrPartNotFound.Error()); err != nil {
					return s.abortRun(ctx, record, err)
				}

				continue
			}

			if _, err := s.cache.ApplyPricing(ctx, partID, pricingFact(p)); err != nil {
				return s.abortRun(ctx, record, err)
			}

			successCount++
		}
	}

	status := pricing.SyncStatusCompleted
	if failureCount > 0 {
		status = pricing.SyncStatusPartial
	}

	observability.RecordPartsSynced(string(record.SyncType), successCount, failureCount)

	return s.closeRun(ctx, record, started, pricing.CloseOutcome{
		Status:       status,
		TotalParts:   len(partIDs),
		SuccessCount: successCount,
		FailureCount: failureCount,
		RateLimited:  rateLimited,
		RetryAfter:   retryAfter,
	})
}

// SinglePartUpdate refreshes one part, logging the operation. If the pricing
// endpoint is rate limited the failure is returned immediately with the
// remaining wait; the caller decides whether to queue a request instead.
func (s *service) SinglePartUpdate(ctx context.Context, partID string) (*pricing.CacheEntry, error) {
	record, err := s.syncLog.Begin(ctx, pricing.SyncTypeSinglePart)
	if err != nil {
		return nil, err
	}

	started := s.clock.Now()

	entry, updateErr := s.updateOnePart(ctx, partID)

	outcome := pricing.CloseOutcome{Status: pricing.SyncStatusCompleted, TotalParts: 1, SuccessCount: 1}
	if updateErr != nil {
		outcome = pricing.CloseOutcome{
			Status:       pricing.SyncStatusFailed,
			TotalParts:   1,
			FailureCount: 1,
			ErrorMessage: updateErr.Error(),
			RateLimited:  isRateLimited(updateErr),
			RetryAfter:   retryAfterOf(updateErr),
		}
	}

	if _, closeErr := s.closeRun(ctx, record, started, outcome); closeErr != nil {
		return nil, closeErr
	}

	return entry, updateErr
}

// updateOnePart is the unlogged single-part refresh shared with queue draining
func (s *service) updateOnePart(ctx context.Context, partID string) (*pricing.CacheEntry, error) {
	if s.tracker.IsLimited(supplier.EndpointPricingBulk) {
		remaining := s.tracker.Remaining(supplier.EndpointPricingBulk)

		return nil, &supplier.CallError{
			Endpoint:   supplier.EndpointPricingBulk,
			Class:      supplier.FailureRateLimit,
			RetryAfter: remaining,
			Message:    fmt.Sprintf("pricing endpoint rate limited, %s remaining", remaining),
		}
	}

	var priced []supplier.PartPricing

	fetchErr := s.retrier.Do(ctx, func() error {
		var opErr error
		priced, opErr = s.client.GetBulkPricing(ctx, []string{partID})
		return opErr
	})
	if fetchErr != nil {
		if _, err := s.cache.MarkFailure(ctx, partID, fetchErr.Error()); err != nil {
			return nil, err
		}

		return nil, fetchErr
	}

	for _, p := range priced {
		if p.VCPN == partID {
			return s.cache.ApplyPricing(ctx, partID, pricingFact(p))
		}
	}

	if _, err := s.cache.MarkFailure(ctx, partID, ErrPartNotFound.Error()); err != nil {
		return nil, err
	}

	return nil, fmt.Errorf("%w: %s", ErrPartNotFound, partID)
}

// ProcessPendingRequests drains queued update requests. An active rate-limit
// window means nothing is dequeued at all, so pending requests keep their
// place and attempt counts for the next drain.
func (s *service) ProcessPendingRequests(ctx context.Context) (*pricing.SyncLogRecord, error) {
	if !s.tryBegin(pricing.SyncTypeProcessRequests) {
		return nil, fmt.Errorf("%w: %s", ErrSyncAlreadyRunning, pricing.SyncTypeProcessRequests)
	}
	defer s.end(pricing.SyncTypeProcessRequests)

	record, err := s.syncLog.Begin(ctx, pricing.SyncTypeProcessRequests)
	if err != nil {
		return nil, err
	}

	started := s.clock.Now()

	if s.tracker.IsLimited(supplier.EndpointPricingBulk) {
		remaining := s.tracker.Remaining(supplier.EndpointPricingBulk)

		s.log.WithField("remaining", remaining).Info("Skipping request drain, pricing endpoint rate limited")

		return s.closeRun(ctx, record, started, pricing.CloseOutcome{
			Status:      pricing.SyncStatusCompleted,
			RateLimited: true,
			RetryAfter:  remaining,
		})
	}

	requests, err := s.queue.DequeuePending(ctx, s.cfg.DrainBatchSize)
	if err != nil {
		return s.abortRun(ctx, record, err)
	}

	var (
		successCount int
		failureCount int
		rateLimited  bool
		retryAfter   time.Duration
	)

	for _, req := range requests {
		_, updateErr := s.updateOnePart(ctx, req.PartID)
		if updateErr == nil {
			if err := s.queue.MarkCompleted(ctx, req.ID); err != nil {
				return s.abortRun(ctx, record, err)
			}

			successCount++

			continue
		}

		var callErr *supplier.CallError
		if !errors.As(updateErr, &callErr) {
			// Not a supplier failure: the store itself is unreachable
			return s.abortRun(ctx, record, updateErr)
		}

		if _, err := s.queue.MarkFailed(ctx, req.ID, callErr.Message, s.cfg.RequestAttemptCeiling); err != nil {
			return s.abortRun(ctx, record, err)
		}

		failureCount++

		if callErr.RateLimited() {
			// The whole endpoint is closed; draining further only burns attempts
			rateLimited = true
			retryAfter = callErr.RetryAfter

			if err := s.repend(ctx, requests, req.ID); err != nil {
				return s.abortRun(ctx, record, err)
			}

			break
		}
	}

	status := pricing.SyncStatusCompleted
	if failureCount > 0 {
		status = pricing.SyncStatusPartial
	}

	return s.closeRun(ctx, record, started, pricing.CloseOutcome{
		Status:       status,
		TotalParts:   len(requests),
		SuccessCount: successCount,
		FailureCount: failureCount,
		RateLimited:  rateLimited,
		RetryAfter:   retryAfter,
	})
}

// repend returns requests dequeued after the rate-limited one to the queue
func (s *service) repend(ctx context.Context, requests []*pricing.UpdateRequest, afterID string) error {
	found := false

	for _, req := range requests {
		if req.ID == afterID {
			found = true
			continue
		}
		if !found {
			continue
		}

		if _, err := s.queue.MarkFailed(ctx, req.ID, "drain interrupted by rate limit", s.cfg.RequestAttemptCeiling); err != nil {
			return err
		}
	}

	return nil
}

// closeRun closes the sync log record and records run metrics
func (s *service) closeRun(ctx context.Context, record *pricing.SyncLogRecord, started time.Time, outcome pricing.CloseOutcome) (*pricing.SyncLogRecord, error) {
	closed, err := s.syncLog.Close(ctx, record.ID, outcome)
	if err != nil {
		return nil, err
	}

	observability.RecordSyncRun(string(record.SyncType), string(outcome.Status), s.clock.Now().Sub(started).Seconds())

	s.log.WithFields(logrus.Fields{
		"sync_type": record.SyncType,
		"status":    outcome.Status,
		"total":     outcome.TotalParts,
		"success":   outcome.SuccessCount,
		"failure":   outcome.FailureCount,
	}).Info("Sync run finished")

	return closed, nil
}

// abortRun handles catastrophic failures: the record is closed as failed and
// the error propagates to the caller
func (s *service) abortRun(ctx context.Context, record *pricing.SyncLogRecord, cause error) (*pricing.SyncLogRecord, error) {
	if _, closeErr := s.syncLog.Close(ctx, record.ID, pricing.CloseOutcome{
		Status:       pricing.SyncStatusFailed,
		ErrorMessage: cause.Error(),
	}); closeErr != nil {
		s.log.WithError(closeErr).Error("Failed to close sync log record after abort")
	}

	return nil, cause
}

func pricingFact(p supplier.PartPricing) pricing.Fact {
	return pricing.Fact{
		Price:      p.Price,
		Cost:       p.Cost,
		ListPrice:  p.ListPrice,
		CoreCharge: p.CoreCharge,
		Currency:   p.Currency,
	}
}

func isRateLimited(err error) bool {
	var callErr *supplier.CallError
	return errors.As(err, &callErr) && callErr.RateLimited()
}

func retryAfterOf(err error) time.Duration {
	var callErr *supplier.CallError
	if errors.As(err, &callErr) {
		return callErr.RetryAfter
	}

	return 0
}

// Ensure service implements the interface
var _ Service = (*service)(nil)
