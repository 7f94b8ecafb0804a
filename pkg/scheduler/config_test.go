package scheduler

import (
	"testing"
	"time"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, defaults.Set(cfg))

	assert.Equal(t, "02:00", cfg.FullSyncTime)
	assert.Equal(t, 6*time.Hour, cfg.IncrementalInterval)
	assert.Equal(t, 5*time.Minute, cfg.RequestDrainInterval)
	assert.True(t, cfg.AutoSyncEnabled())
	assert.True(t, cfg.RequestDrainingEnabled())
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	disabled := false

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{
			name: "valid",
			cfg: Config{
				FullSyncTime:         "23:59",
				IncrementalInterval:  time.Hour,
				RequestDrainInterval: time.Minute,
				Concurrency:          1,
			},
		},
		{
			name: "bad concurrency",
			cfg: Config{
				FullSyncTime:         "02:00",
				IncrementalInterval:  time.Hour,
				RequestDrainInterval: time.Minute,
			},
			wantErr: ErrInvalidConcurrency,
		},
		{
			name: "malformed time",
			cfg: Config{
				FullSyncTime:         "2am",
				IncrementalInterval:  time.Hour,
				RequestDrainInterval: time.Minute,
				Concurrency:          1,
			},
			wantErr: ErrInvalidFullSyncTime,
		},
		{
			name: "hour out of range",
			cfg: Config{
				FullSyncTime:         "24:00",
				IncrementalInterval:  time.Hour,
				RequestDrainInterval: time.Minute,
				Concurrency:          1,
			},
			wantErr: ErrInvalidFullSyncTime,
		},
		{
			name: "minute out of range",
			cfg: Config{
				FullSyncTime:         "02:60",
				IncrementalInterval:  time.Hour,
				RequestDrainInterval: time.Minute,
				Concurrency:          1,
			},
			wantErr: ErrInvalidFullSyncTime,
		},
		{
			name: "zero interval",
			cfg: Config{
				FullSyncTime:         "02:00",
				RequestDrainInterval: time.Minute,
				Concurrency:          1,
			},
			wantErr: ErrInvalidInterval,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	t.Run("disabled flags stick", func(t *testing.T) {
		cfg := Config{EnableAutoSync: &disabled, EnableRequestDraining: &disabled}
		assert.False(t, cfg.AutoSyncEnabled())
		assert.False(t, cfg.RequestDrainingEnabled())
	})
}

func TestBuildScheduledTasks(t *testing.T) {
	disabled := false

	t.Run("all enabled", func(t *testing.T) {
		cfg := &Config{
			FullSyncTime:         "02:00",
			IncrementalInterval:  6 * time.Hour,
			RequestDrainInterval: 5 * time.Minute,
			Concurrency:          1,
		}

		tasks, err := buildScheduledTasks(cfg)
		require.NoError(t, err)
		require.Len(t, tasks, 3)
		assert.Equal(t, TaskFullSync, tasks[0].ID)
		assert.Equal(t, TaskIncrementalSync, tasks[1].ID)
		assert.Equal(t, TaskRequestDrain, tasks[2].ID)
	})

	t.Run("auto sync disabled", func(t *testing.T) {
		cfg := &Config{
			FullSyncTime:         "02:00",
			IncrementalInterval:  6 * time.Hour,
			RequestDrainInterval: 5 * time.Minute,
			Concurrency:          1,
			EnableAutoSync:       &disabled,
		}

		tasks, err := buildScheduledTasks(cfg)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, TaskRequestDrain, tasks[0].ID)
	})
}
