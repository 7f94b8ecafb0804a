// Package scheduler drives automatic pricing syncs and update request draining
package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidConcurrency is returned when concurrency is not positive
	ErrInvalidConcurrency = errors.New("concurrency must be positive")
	// ErrInvalidFullSyncTime is returned when fullSyncTime is not HH:MM
	ErrInvalidFullSyncTime = errors.New("fullSyncTime must be in HH:MM format")
	// ErrInvalidInterval is returned when a sync interval is not positive
	ErrInvalidInterval = errors.New("sync intervals must be positive")
)

// Config defines scheduler configuration
type Config struct {
	// FullSyncTime is the daily wall-clock time (HH:MM, UTC) of the full sync
	FullSyncTime string `yaml:"fullSyncTime" default:"02:00"`

	// IncrementalInterval is how often stale entries are refreshed
	IncrementalInterval time.Duration `yaml:"incrementalInterval" default:"6h"`

	// RequestDrainInterval is how often queued update requests are drained
	RequestDrainInterval time.Duration `yaml:"requestDrainInterval" default:"5m"`

	// EnableAutoSync toggles the scheduled full and incremental syncs
	EnableAutoSync *bool `yaml:"enableAutoSync" default:"true"`

	// EnableRequestDraining toggles the scheduled request queue draining
	EnableRequestDraining *bool `yaml:"enableRequestDraining" default:"true"`

	Concurrency     int           `yaml:"concurrency" default:"5"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"10s"`
	TaskTimeout     time.Duration `yaml:"taskTimeout" default:"30m"`
}

// Validate checks if the scheduler configuration is valid
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	if _, _, err := parseWallClock(c.FullSyncTime); err != nil {
		return err
	}

	if c.IncrementalInterval <= 0 || c.RequestDrainInterval <= 0 {
		return ErrInvalidInterval
	}

	return nil
}

// AutoSyncEnabled reports whether scheduled syncs should run
func (c *Config) AutoSyncEnabled() bool {
	return c.EnableAutoSync == nil || *c.EnableAutoSync
}

// RequestDrainingEnabled reports whether scheduled queue draining should run
func (c *Config) RequestDrainingEnabled() bool {
	return c.EnableRequestDraining == nil || *c.EnableRequestDraining
}

// parseWallClock splits an HH:MM string into hour and minute
func parseWallClock(v string) (hour, minute int, err error) {
	parts := strings.Split(v, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidFullSyncTime, v)
	}

	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidFullSyncTime, v)
	}

	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidFullSyncTime, v)
	}

	return hour, minute, nil
}
