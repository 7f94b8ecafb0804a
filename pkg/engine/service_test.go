package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmgr/partsync/internal/testutil"
	"github.com/shopmgr/partsync/pkg/pricing"
	"github.com/shopmgr/partsync/pkg/supplier"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// mockSupplier implements supplier.Client with overridable pricing operations
type mockSupplier struct {
	mu sync.Mutex

	fullInventoryFn func() ([]supplier.InventoryItem, error)
	bulkPricingFn   func(vcpns []string) ([]supplier.PartPricing, error)

	fullInventoryCalls int
	bulkPricingCalls   int
	bulkPricingBatches [][]string
}

func (m *mockSupplier) GetFullInventory(_ context.Context) ([]supplier.InventoryItem, error) {
	m.mu.Lock()
	m.fullInventoryCalls++
	fn := m.fullInventoryFn
	m.mu.Unlock()

	if fn == nil {
		return nil, nil
	}

	return fn()
}

func (m *mockSupplier) GetBulkPricing(_ context.Context, vcpns []string) ([]supplier.PartPricing, error) {
	m.mu.Lock()
	m.bulkPricingCalls++
	m.bulkPricingBatches = append(m.bulkPricingBatches, vcpns)
	fn := m.bulkPricingFn
	m.mu.Unlock()

	if fn == nil {
		return nil, nil
	}

	return fn(vcpns)
}

func (m *mockSupplier) calls() (full, bulk int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.fullInventoryCalls, m.bulkPricingCalls
}

func (m *mockSupplier) batches() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]string, len(m.bulkPricingBatches))
	copy(out, m.bulkPricingBatches)

	return out
}

func (m *mockSupplier) CheckInventory(context.Context, []string) ([]supplier.InventoryItem, error) {
	return nil, nil
}

func (m *mockSupplier) GetInventoryUpdates(context.Context, time.Time) ([]supplier.InventoryItem, error) {
	return nil, nil
}

func (m *mockSupplier) GetShippingOptions(context.Context, supplier.ShippingRequest) ([]supplier.ShippingOption, error) {
	return nil, nil
}

func (m *mockSupplier) PlaceOrder(context.Context, supplier.OrderRequest) (*supplier.OrderConfirmation, error) {
	return nil, nil
}

func (m *mockSupplier) PlaceDropshipOrder(context.Context, supplier.DropshipOrderRequest) (*supplier.OrderConfirmation, error) {
	return nil, nil
}

func (m *mockSupplier) SearchParts(context.Context, string) ([]supplier.PartDetail, error) {
	return nil, nil
}

func (m *mockSupplier) GetPartDetails(context.Context, string) (*supplier.PartDetail, error) {
	return nil, nil
}

func (m *mockSupplier) GetKitComponents(context.Context, string) ([]supplier.KitComponent, error) {
	return nil, nil
}

func (m *mockSupplier) RegisterObserver(supplier.ErrorObserver) {}

var _ supplier.Client = (*mockSupplier)(nil)

type testEngine struct {
	svc     Service
	mock    *mockSupplier
	clk     *clock.Mock
	tracker *supplier.RateLimitTracker
	cache   *pricing.CacheStore
	syncLog *pricing.SyncLog
	queue   *pricing.RequestQueue
}

func newTestEngine(t *testing.T, cfg *Config) *testEngine {
	t.Helper()

	_, client := testutil.NewMiniredisClient(t)
	clk := clock.NewMock()
	log := testLogger()

	// Retries sleep on the mock clock; a background driver keeps them moving
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	go func() {
		for {
			select {
			case <-done:
				return
			default:
				clk.Add(time.Second)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	tracker := supplier.NewRateLimitTracker(clk)
	retrier := supplier.NewRetrier(log, clk, 2, time.Second)
	cache := pricing.NewCacheStore(log, client, clk, "partsync", 24*time.Hour)
	syncLog := pricing.NewSyncLog(log, client, clk, "partsync")
	queue := pricing.NewRequestQueue(log, client, clk, "partsync")
	mock := &mockSupplier{}

	svc, err := NewService(log, cfg, clk, mock, retrier, tracker, cache, syncLog, queue)
	require.NoError(t, err)

	return &testEngine{
		svc:     svc,
		mock:    mock,
		clk:     clk,
		tracker: tracker,
		cache:   cache,
		syncLog: syncLog,
		queue:   queue,
	}
}

func defaultConfig() *Config {
	return &Config{
		BatchSize:             2,
		StaleThreshold:        24 * time.Hour,
		RequestAttemptCeiling: 3,
		DrainBatchSize:        25,
	}
}

func catalog(parts ...string) func() ([]supplier.InventoryItem, error) {
	return func() ([]supplier.InventoryItem, error) {
		items := make([]supplier.InventoryItem, 0, len(parts))
		for _, p := range parts {
			items = append(items, supplier.InventoryItem{VCPN: p, Quantity: 10})
		}

		return items, nil
	}
}

func pricedEverything(vcpns []string) ([]supplier.PartPricing, error) {
	priced := make([]supplier.PartPricing, 0, len(vcpns))
	for i, v := range vcpns {
		priced = append(priced, supplier.PartPricing{
			VCPN:     v,
			Price:    float64(10 + i),
			Cost:     float64(6 + i),
			Currency: "USD",
		})
	}

	return priced, nil
}

func TestEngineFullSyncCompleted(t *testing.T) {
	eng := newTestEngine(t, defaultConfig())
	ctx := context.Background()

	eng.mock.fullInventoryFn = catalog("SKU-1", "SKU-2", "SKU-3")
	eng.mock.bulkPricingFn = pricedEverything

	record, err := eng.svc.FullSync(ctx)
	require.NoError(t, err)

	assert.Equal(t, pricing.SyncTypeFull, record.SyncType)
	assert.Equal(t, pricing.SyncStatusCompleted, record.Status)
	assert.Equal(t, 3, record.TotalParts)
	assert.Equal(t, 3, record.SuccessCount)
	assert.Equal(t, 0, record.FailureCount)
	require.NotNil(t, record.CompletedAt)

	// Batch size 2 over 3 parts means two bulk calls
	full, bulk := eng.mock.calls()
	assert.Equal(t, 1, full)
	assert.Equal(t, 2, bulk)

	batches := eng.mock.batches()
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"SKU-1", "SKU-2"}, batches[0])
	assert.Equal(t, []string{"SKU-3"}, batches[1])

	entry, err := eng.cache.Get(ctx, "SKU-2")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.InDelta(t, 11, entry.Price, 0.001)
	assert.Equal(t, "USD", entry.Currency)
}

func TestEngineFullSyncPartialOnBatchFailure(t *testing.T) {
	eng := newTestEngine(t, defaultConfig())
	ctx := context.Background()

	// Seed SKU-3 so its failure bookkeeping is visible in the cache
	_, err := eng.cache.ApplyPricing(ctx, "SKU-3", pricing.Fact{Price: 1, Currency: "USD"})
	require.NoError(t, err)

	eng.mock.fullInventoryFn = catalog("SKU-1", "SKU-2", "SKU-3")
	eng.mock.bulkPricingFn = func(vcpns []string) ([]supplier.PartPricing, error) {
		for _, v := range vcpns {
			if v == "SKU-3" {
				return nil, &supplier.CallError{
					Endpoint: supplier.EndpointPricingBulk,
					Class:    supplier.FailureServer,
					Message:  "supplier exploded",
				}
			}
		}

		return pricedEverything(vcpns)
	}

	record, err := eng.svc.FullSync(ctx)
	require.NoError(t, err)

	assert.Equal(t, pricing.SyncStatusPartial, record.Status)
	assert.Equal(t, 3, record.TotalParts)
	assert.Equal(t, 2, record.SuccessCount)
	assert.Equal(t, 1, record.FailureCount)

	entry, err := eng.cache.Get(ctx, "SKU-3")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.SyncAttempts)
	assert.Equal(t, "supplier exploded", entry.LastError)
}

func TestEngineFullSyncCatalogFailure(t *testing.T) {
	eng := newTestEngine(t, defaultConfig())
	ctx := context.Background()

	eng.mock.fullInventoryFn = func() ([]supplier.InventoryItem, error) {
		return nil, &supplier.CallError{
			Endpoint: supplier.EndpointInventoryFull,
			Class:    supplier.FailureAuth,
			Message:  "token rejected",
		}
	}

	record, err := eng.svc.FullSync(ctx)
	require.NoError(t, err)

	assert.Equal(t, pricing.SyncStatusFailed, record.Status)
	assert.Contains(t, record.ErrorMessage, "token rejected")
	assert.Equal(t, 0, record.TotalParts)

	_, bulk := eng.mock.calls()
	assert.Zero(t, bulk)
}

func TestEngineFullSyncMissingPartIsFailure(t *testing.T) {
	eng := newTestEngine(t, defaultConfig())
	ctx := context.Background()

	eng.mock.fullInventoryFn = catalog("SKU-1", "SKU-2")
	eng.mock.bulkPricingFn = func(vcpns []string) ([]supplier.PartPricing, error) {
		// SKU-2 is silently absent from the response
		return []supplier.PartPricing{{VCPN: "SKU-1", Price: 10, Currency: "USD"}}, nil
	}

	record, err := eng.svc.FullSync(ctx)
	require.NoError(t, err)

	assert.Equal(t, pricing.SyncStatusPartial, record.Status)
	assert.Equal(t, 1, record.SuccessCount)
	assert.Equal(t, 1, record.FailureCount)
}

func TestEngineIncrementalSyncZeroStale(t *testing.T) {
	eng := newTestEngine(t, defaultConfig())
	ctx := context.Background()

	_, err := eng.cache.ApplyPricing(ctx, "SKU-FRESH", pricing.Fact{Price: 5, Currency: "USD"})
	require.NoError(t, err)

	record, err := eng.svc.IncrementalSync(ctx)
	require.NoError(t, err)

	assert.Equal(t, pricing.SyncTypeIncremental, record.SyncType)
	assert.Equal(t, pricing.SyncStatusCompleted, record.Status)
	assert.Equal(t, 0, record.TotalParts)

	// Nothing stale means no supplier traffic at all
	full, bulk := eng.mock.calls()
	assert.Zero(t, full)
	assert.Zero(t, bulk)
}

func TestEngineIncrementalSyncRefreshesStale(t *testing.T) {
	eng := newTestEngine(t, defaultConfig())
	ctx := context.Background()

	_, err := eng.cache.ApplyPricing(ctx, "SKU-OLD", pricing.Fact{Price: 5, Currency: "USD"})
	require.NoError(t, err)

	eng.clk.Add(25 * time.Hour)

	_, err = eng.cache.ApplyPricing(ctx, "SKU-FRESH", pricing.Fact{Price: 7, Currency: "USD"})
	require.NoError(t, err)

	eng.mock.bulkPricingFn = pricedEverything

	record, err := eng.svc.IncrementalSync(ctx)
	require.NoError(t, err)

	assert.Equal(t, pricing.SyncStatusCompleted, record.Status)
	assert.Equal(t, 1, record.TotalParts)
	assert.Equal(t, 1, record.SuccessCount)

	batches := eng.mock.batches()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"SKU-OLD"}, batches[0])

	entry, err := eng.cache.Get(ctx, "SKU-OLD")
	require.NoError(t, err)
	assert.False(t, entry.Stale)
}

func TestEngineSinglePartUpdate(t *testing.T) {
	eng := newTestEngine(t, defaultConfig())
	ctx := context.Background()

	eng.mock.bulkPricingFn = pricedEverything

	entry, err := eng.svc.SinglePartUpdate(ctx, "SKU-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "SKU-1", entry.PartID)
	assert.InDelta(t, 10, entry.Price, 0.001)

	recent, err := eng.syncLog.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, pricing.SyncTypeSinglePart, recent[0].SyncType)
	assert.Equal(t, pricing.SyncStatusCompleted, recent[0].Status)
	assert.Equal(t, 1, recent[0].SuccessCount)

	// Repeating the update is a plain upsert with a fresher sync time
	firstSync := entry.LastSupplierSync
	eng.clk.Add(time.Minute)

	again, err := eng.svc.SinglePartUpdate(ctx, "SKU-1")
	require.NoError(t, err)
	assert.True(t, again.LastSupplierSync.After(firstSync))
	assert.Zero(t, again.SyncAttempts)
}

func TestEngineSinglePartUpdateDuringRateLimitWindow(t *testing.T) {
	eng := newTestEngine(t, defaultConfig())
	ctx := context.Background()

	eng.tracker.RecordLimit(supplier.EndpointPricingBulk, 5*time.Minute)

	_, err := eng.svc.SinglePartUpdate(ctx, "SKU-1")
	require.Error(t, err)

	var callErr *supplier.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, supplier.FailureRateLimit, callErr.Class)
	assert.Greater(t, callErr.RetryAfter, time.Duration(0))

	// The window blocks before any supplier traffic
	_, bulk := eng.mock.calls()
	assert.Zero(t, bulk)

	recent, err := eng.syncLog.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, pricing.SyncStatusFailed, recent[0].Status)
	assert.True(t, recent[0].RateLimited)
}

func TestEngineProcessPendingRequestsDrains(t *testing.T) {
	eng := newTestEngine(t, defaultConfig())
	ctx := context.Background()

	first, err := eng.queue.Enqueue(ctx, "SKU-1", pricing.PriorityHigh, "counter")
	require.NoError(t, err)

	second, err := eng.queue.Enqueue(ctx, "SKU-2", pricing.PriorityLow, "")
	require.NoError(t, err)

	eng.mock.bulkPricingFn = pricedEverything

	record, err := eng.svc.ProcessPendingRequests(ctx)
	require.NoError(t, err)

	assert.Equal(t, pricing.SyncTypeProcessRequests, record.SyncType)
	assert.Equal(t, pricing.SyncStatusCompleted, record.Status)
	assert.Equal(t, 2, record.TotalParts)
	assert.Equal(t, 2, record.SuccessCount)

	for _, id := range []string{first.ID, second.ID} {
		stored, err := eng.queue.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, pricing.RequestStatusCompleted, stored.Status)
	}

	entry, err := eng.cache.Get(ctx, "SKU-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
}

func TestEngineProcessPendingRequestsSkippedDuringWindow(t *testing.T) {
	eng := newTestEngine(t, defaultConfig())
	ctx := context.Background()

	req, err := eng.queue.Enqueue(ctx, "SKU-1", pricing.PriorityHigh, "")
	require.NoError(t, err)

	eng.tracker.RecordLimit(supplier.EndpointPricingBulk, 10*time.Minute)

	record, err := eng.svc.ProcessPendingRequests(ctx)
	require.NoError(t, err)

	assert.Equal(t, pricing.SyncStatusCompleted, record.Status)
	assert.True(t, record.RateLimited)
	assert.Greater(t, record.RetryAfter, time.Duration(0))
	assert.Equal(t, 0, record.TotalParts)

	// The request keeps its place and its remaining attempts
	stored, err := eng.queue.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, pricing.RequestStatusPending, stored.Status)
	assert.Equal(t, 0, stored.Attempts)

	pending, err := eng.queue.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	// Once the window expires the same request drains normally
	eng.clk.Add(11 * time.Minute)
	eng.mock.bulkPricingFn = pricedEverything

	record, err = eng.svc.ProcessPendingRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, pricing.SyncStatusCompleted, record.Status)
	assert.Equal(t, 1, record.SuccessCount)

	stored, err = eng.queue.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, pricing.RequestStatusCompleted, stored.Status)
}

func TestEngineProcessPendingRequestsStopsOnMidDrainRateLimit(t *testing.T) {
	eng := newTestEngine(t, defaultConfig())
	ctx := context.Background()

	_, err := eng.queue.Enqueue(ctx, "SKU-1", pricing.PriorityHigh, "")
	require.NoError(t, err)

	eng.clk.Add(time.Second)

	_, err = eng.queue.Enqueue(ctx, "SKU-2", pricing.PriorityHigh, "")
	require.NoError(t, err)

	eng.mock.bulkPricingFn = func(vcpns []string) ([]supplier.PartPricing, error) {
		return nil, &supplier.CallError{
			Endpoint:   supplier.EndpointPricingBulk,
			Class:      supplier.FailureRateLimit,
			RetryAfter: 5 * time.Second,
			Message:    "rate limit exceeded",
		}
	}

	record, err := eng.svc.ProcessPendingRequests(ctx)
	require.NoError(t, err)

	assert.Equal(t, pricing.SyncStatusPartial, record.Status)
	assert.True(t, record.RateLimited)
	assert.Equal(t, 1, record.FailureCount)

	// Both requests return to pending and wait for the next drain
	pending, err := eng.queue.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)
}

func TestEngineFailedRequestsRespectAttemptCeiling(t *testing.T) {
	cfg := defaultConfig()
	cfg.RequestAttemptCeiling = 2
	eng := newTestEngine(t, cfg)
	ctx := context.Background()

	req, err := eng.queue.Enqueue(ctx, "SKU-1", pricing.PriorityHigh, "")
	require.NoError(t, err)

	eng.mock.bulkPricingFn = func(vcpns []string) ([]supplier.PartPricing, error) {
		return nil, &supplier.CallError{
			Endpoint: supplier.EndpointPricingBulk,
			Class:    supplier.FailureServer,
			Message:  "still broken",
		}
	}

	for i := 0; i < 2; i++ {
		_, err := eng.svc.ProcessPendingRequests(ctx)
		require.NoError(t, err)
	}

	stored, err := eng.queue.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, pricing.RequestStatusFailed, stored.Status)
	assert.Equal(t, 2, stored.Attempts)

	// A further drain finds nothing to do
	record, err := eng.svc.ProcessPendingRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, record.TotalParts)
}

func TestEngineRejectsConcurrentRunsOfSameType(t *testing.T) {
	eng := newTestEngine(t, defaultConfig())
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})

	eng.mock.fullInventoryFn = func() ([]supplier.InventoryItem, error) {
		close(started)
		<-release

		return nil, nil
	}

	errCh := make(chan error, 1)

	go func() {
		_, err := eng.svc.FullSync(ctx)
		errCh <- err
	}()

	<-started
	assert.True(t, eng.svc.IsRunning(pricing.SyncTypeFull))

	_, err := eng.svc.FullSync(ctx)
	assert.ErrorIs(t, err, ErrSyncAlreadyRunning)

	// A different sync type is not blocked
	_, err = eng.svc.IncrementalSync(ctx)
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-errCh)
	assert.False(t, eng.svc.IsRunning(pricing.SyncTypeFull))
}

func TestEngineBatchRetryAccounting(t *testing.T) {
	eng := newTestEngine(t, defaultConfig())
	ctx := context.Background()

	eng.mock.fullInventoryFn = catalog("SKU-1", "SKU-2")

	var attempts int

	eng.mock.bulkPricingFn = func(vcpns []string) ([]supplier.PartPricing, error) {
		attempts++
		if attempts == 1 {
			return nil, &supplier.CallError{
				Endpoint: supplier.EndpointPricingBulk,
				Class:    supplier.FailureNetwork,
				Message:  fmt.Sprintf("transient failure %d", attempts),
			}
		}

		return pricedEverything(vcpns)
	}

	record, err := eng.svc.FullSync(ctx)
	require.NoError(t, err)

	// The retry absorbed the transient failure; the run still completes clean
	assert.Equal(t, pricing.SyncStatusCompleted, record.Status)
	assert.Equal(t, 2, record.SuccessCount)
	assert.Equal(t, 0, record.FailureCount)
	assert.Equal(t, 2, attempts)
}
