// Package engine orchestrates pricing sync runs against the supplier API
package engine

import (
	"errors"
	"time"
)

var (
	// ErrInvalidBatchSize is returned when the pricing batch size is not positive
	ErrInvalidBatchSize = errors.New("batch size must be positive")
	// ErrInvalidStaleThreshold is returned when the staleness threshold is not positive
	ErrInvalidStaleThreshold = errors.New("stale threshold must be positive")
)

// Config defines sync engine configuration
type Config struct {
	// BatchSize is how many parts each bulk pricing call covers
	BatchSize int `yaml:"batchSize" default:"50"`

	// StaleThreshold is the age past which a cache entry is considered stale
	StaleThreshold time.Duration `yaml:"staleThreshold" default:"24h"`

	// RequestAttemptCeiling is how many drain attempts a queued update
	// request gets before it is left failed
	RequestAttemptCeiling int `yaml:"requestAttemptCeiling" default:"3"`

	// DrainBatchSize is how many queued requests one drain pass picks up
	DrainBatchSize int `yaml:"drainBatchSize" default:"25"`
}

// Validate checks if the engine configuration is valid
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	if c.StaleThreshold <= 0 {
		return ErrInvalidStaleThreshold
	}

	if c.RequestAttemptCeiling <= 0 {
		c.RequestAttemptCeiling = 3
	}

	if c.DrainBatchSize <= 0 {
		c.DrainBatchSize = 25
	}

	return nil
}
