// Package supplier provides the rate-limit-aware client for the dropship supplier API
package supplier

import (
	"errors"
	"time"
)

var (
	// ErrBaseURLRequired is returned when the supplier base URL is not provided
	ErrBaseURLRequired = errors.New("supplier base URL is required")
	// ErrCredentialsRequired is returned when account credentials are missing
	ErrCredentialsRequired = errors.New("supplier account number and security token are required")
)

// Config defines supplier client configuration
type Config struct {
	BaseURL       string `yaml:"baseUrl"`
	AccountNumber string `yaml:"accountNumber"`
	SecurityToken string `yaml:"securityToken"`

	RequestTimeout    time.Duration `yaml:"requestTimeout" default:"30s"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" default:"5"`
	Burst             int           `yaml:"burst" default:"5"`

	MaxRetries     int           `yaml:"maxRetries" default:"3"`
	BaseRetryDelay time.Duration `yaml:"baseRetryDelay" default:"1s"`

	// Circuit breaker trips after this many consecutive transport failures
	BreakerFailureThreshold uint32        `yaml:"breakerFailureThreshold" default:"10"`
	BreakerOpenTimeout      time.Duration `yaml:"breakerOpenTimeout" default:"60s"`
}

// Validate checks if the supplier configuration is valid
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrBaseURLRequired
	}

	if c.AccountNumber == "" || c.SecurityToken == "" {
		return ErrCredentialsRequired
	}

	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}

	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}

	return nil
}
