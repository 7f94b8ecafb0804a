package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmgr/partsync/internal/testutil"
)

func newTestRequestQueue(t *testing.T) (*RequestQueue, *clock.Mock) {
	t.Helper()

	_, client := testutil.NewMiniredisClient(t)
	clk := clock.NewMock()

	return NewRequestQueue(testLogger(), client, clk, "partsync"), clk
}

func TestRequestQueueEnqueueValidation(t *testing.T) {
	queue, _ := newTestRequestQueue(t)
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, "", PriorityHigh, "")
	assert.ErrorIs(t, err, ErrPartIDRequired)

	_, err = queue.Enqueue(ctx, "SKU-1", Priority("urgent"), "")
	assert.ErrorIs(t, err, ErrInvalidPriority)
}

func TestRequestQueueAckIsImmediate(t *testing.T) {
	queue, _ := newTestRequestQueue(t)
	ctx := context.Background()

	req, err := queue.Enqueue(ctx, "SKU-1", PriorityMedium, "pricing-screen")
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, RequestStatusPending, req.Status)
	assert.Equal(t, 0, req.Attempts)
	assert.Equal(t, "pricing-screen", req.RequestedBy)

	pending, err := queue.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestRequestQueuePriorityOrdering(t *testing.T) {
	queue, clk := newTestRequestQueue(t)
	ctx := context.Background()

	// Insert in an order that disagrees with priority on purpose
	low, err := queue.Enqueue(ctx, "SKU-LOW", PriorityLow, "")
	require.NoError(t, err)

	clk.Add(time.Second)
	medFirst, err := queue.Enqueue(ctx, "SKU-MED-1", PriorityMedium, "")
	require.NoError(t, err)

	clk.Add(time.Second)
	high, err := queue.Enqueue(ctx, "SKU-HIGH", PriorityHigh, "")
	require.NoError(t, err)

	clk.Add(time.Second)
	medSecond, err := queue.Enqueue(ctx, "SKU-MED-2", PriorityMedium, "")
	require.NoError(t, err)

	drained, err := queue.DequeuePending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, drained, 4)

	// Strict priority order, FIFO within a priority
	assert.Equal(t, high.ID, drained[0].ID)
	assert.Equal(t, medFirst.ID, drained[1].ID)
	assert.Equal(t, medSecond.ID, drained[2].ID)
	assert.Equal(t, low.ID, drained[3].ID)

	for _, req := range drained {
		assert.Equal(t, RequestStatusProcessing, req.Status)
		assert.Equal(t, 1, req.Attempts)
		require.NotNil(t, req.LastAttempt)
	}

	pending, err := queue.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)
}

func TestRequestQueueDequeueLimit(t *testing.T) {
	queue, clk := newTestRequestQueue(t)
	ctx := context.Background()

	for _, part := range []string{"SKU-1", "SKU-2", "SKU-3"} {
		_, err := queue.Enqueue(ctx, part, PriorityLow, "")
		require.NoError(t, err)
		clk.Add(time.Second)
	}

	drained, err := queue.DequeuePending(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, drained, 2)

	pending, err := queue.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestRequestQueueFailureRequeuesBelowCeiling(t *testing.T) {
	queue, _ := newTestRequestQueue(t)
	ctx := context.Background()

	req, err := queue.Enqueue(ctx, "SKU-1", PriorityHigh, "")
	require.NoError(t, err)

	const ceiling = 3

	// First two failures return the request to pending
	for i := 1; i <= 2; i++ {
		drained, err := queue.DequeuePending(ctx, 1)
		require.NoError(t, err)
		require.Len(t, drained, 1)
		assert.Equal(t, i, drained[0].Attempts)

		failed, err := queue.MarkFailed(ctx, req.ID, "supplier down", ceiling)
		require.NoError(t, err)
		assert.Equal(t, RequestStatusPending, failed.Status)
	}

	// Third failure hits the ceiling and stays failed
	drained, err := queue.DequeuePending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, drained, 1)
	assert.Equal(t, 3, drained[0].Attempts)

	failed, err := queue.MarkFailed(ctx, req.ID, "supplier down", ceiling)
	require.NoError(t, err)
	assert.Equal(t, RequestStatusFailed, failed.Status)
	assert.Equal(t, "supplier down", failed.ErrorMessage)

	// A later drain must not see it again
	drained, err = queue.DequeuePending(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, drained)
}

func TestRequestQueueMarkCompleted(t *testing.T) {
	queue, _ := newTestRequestQueue(t)
	ctx := context.Background()

	req, err := queue.Enqueue(ctx, "SKU-1", PriorityHigh, "")
	require.NoError(t, err)

	_, err = queue.DequeuePending(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, queue.MarkCompleted(ctx, req.ID))

	stored, err := queue.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestStatusCompleted, stored.Status)
	assert.Empty(t, stored.ErrorMessage)
}
