package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmgr/partsync/internal/testutil"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestScheduleTracker(t *testing.T) {
	_, client := testutil.NewMiniredisClient(t)
	tracker := newScheduleTracker(testLogger(), client, "partsync")
	ctx := context.Background()

	t.Run("missing task returns zero time", func(t *testing.T) {
		lastRun, err := tracker.GetLastRun(ctx, TaskFullSync)
		require.NoError(t, err)
		assert.True(t, lastRun.IsZero())
	})

	t.Run("roundtrip", func(t *testing.T) {
		stamp := time.Date(2026, 9, 1, 2, 0, 0, 0, time.UTC)
		require.NoError(t, tracker.SetLastRun(ctx, TaskFullSync, stamp))

		lastRun, err := tracker.GetLastRun(ctx, TaskFullSync)
		require.NoError(t, err)
		assert.True(t, stamp.Equal(lastRun))
	})

	t.Run("tasks are isolated", func(t *testing.T) {
		lastRun, err := tracker.GetLastRun(ctx, TaskIncrementalSync)
		require.NoError(t, err)
		assert.True(t, lastRun.IsZero())
	})
}

func TestScheduleTrackerDescriptor(t *testing.T) {
	_, client := testutil.NewMiniredisClient(t)
	tracker := newScheduleTracker(testLogger(), client, "partsync")
	ctx := context.Background()

	t.Run("unknown task yields zero descriptor", func(t *testing.T) {
		desc, err := tracker.GetDescriptor(ctx, TaskRequestDrain)
		require.NoError(t, err)
		assert.Equal(t, TaskRequestDrain, desc.TaskID)
		assert.Zero(t, desc.RunCount)
		assert.Zero(t, desc.SuccessCount)
		assert.Zero(t, desc.FailureCount)
		assert.Empty(t, desc.LastError)
		assert.True(t, desc.LastRun.IsZero())
	})

	t.Run("counts fires and outcomes", func(t *testing.T) {
		require.NoError(t, tracker.MarkRunStarted(ctx, TaskFullSync))
		require.NoError(t, tracker.MarkRunFinished(ctx, TaskFullSync, assert.AnError))

		require.NoError(t, tracker.MarkRunStarted(ctx, TaskFullSync))
		require.NoError(t, tracker.MarkRunFinished(ctx, TaskFullSync, nil))

		desc, err := tracker.GetDescriptor(ctx, TaskFullSync)
		require.NoError(t, err)
		assert.Equal(t, int64(2), desc.RunCount)
		assert.Equal(t, int64(1), desc.SuccessCount)
		assert.Equal(t, int64(1), desc.FailureCount)

		// The recorded error survives the later success
		assert.Equal(t, assert.AnError.Error(), desc.LastError)
	})

	t.Run("last run lives in the same descriptor", func(t *testing.T) {
		stamp := time.Date(2026, 9, 1, 2, 0, 0, 0, time.UTC)
		require.NoError(t, tracker.SetLastRun(ctx, TaskFullSync, stamp))

		desc, err := tracker.GetDescriptor(ctx, TaskFullSync)
		require.NoError(t, err)
		assert.True(t, stamp.Equal(desc.LastRun))
		assert.Equal(t, int64(2), desc.RunCount)
	})
}
