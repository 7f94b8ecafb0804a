package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailySchedule(t *testing.T) {
	next, err := dailySchedule(2, 0)
	require.NoError(t, err)

	t.Run("never run, started after the slot", func(t *testing.T) {
		// Scheduler starts at 03:00 with a 02:00 schedule; the first run
		// must be tomorrow, not immediately
		now := time.Date(2026, 9, 1, 3, 0, 0, 0, time.UTC)

		got := next(time.Time{}, now)
		assert.Equal(t, time.Date(2026, 9, 2, 2, 0, 0, 0, time.UTC), got)
	})

	t.Run("never run, started before the slot", func(t *testing.T) {
		now := time.Date(2026, 9, 1, 1, 0, 0, 0, time.UTC)

		got := next(time.Time{}, now)
		assert.Equal(t, time.Date(2026, 9, 1, 2, 0, 0, 0, time.UTC), got)
	})

	t.Run("ran yesterday", func(t *testing.T) {
		lastRun := time.Date(2026, 8, 31, 2, 0, 0, 0, time.UTC)
		now := time.Date(2026, 9, 1, 3, 0, 0, 0, time.UTC)

		got := next(lastRun, now)
		assert.Equal(t, time.Date(2026, 9, 1, 2, 0, 0, 0, time.UTC), got)
	})

	t.Run("ran moments after the slot", func(t *testing.T) {
		lastRun := time.Date(2026, 9, 1, 2, 0, 1, 0, time.UTC)
		now := lastRun

		got := next(lastRun, now)
		assert.Equal(t, time.Date(2026, 9, 2, 2, 0, 0, 0, time.UTC), got)
	})
}

func TestIntervalSchedule(t *testing.T) {
	next := intervalSchedule(6 * time.Hour)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	t.Run("never run fires immediately", func(t *testing.T) {
		assert.Equal(t, now, next(time.Time{}, now))
	})

	t.Run("interval after last run", func(t *testing.T) {
		lastRun := now.Add(-2 * time.Hour)
		assert.Equal(t, lastRun.Add(6*time.Hour), next(lastRun, now))
	})
}
