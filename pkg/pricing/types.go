// Package pricing holds the pricing cache data model and its Redis-backed stores
package pricing

import (
	"time"
)

// SyncType identifies which kind of sync operation produced a log record
type SyncType string

const (
	// SyncTypeFull refreshes the entire catalog
	SyncTypeFull SyncType = "full"
	// SyncTypeIncremental refreshes only stale entries
	SyncTypeIncremental SyncType = "incremental"
	// SyncTypeSinglePart refreshes one part on demand
	SyncTypeSinglePart SyncType = "single_part"
	// SyncTypeProcessRequests drains the queued update requests
	SyncTypeProcessRequests SyncType = "process_requests"
)

// SyncStatus is the lifecycle state of a sync log record
type SyncStatus string

const (
	// SyncStatusRunning marks an operation that has started but not finished
	SyncStatusRunning SyncStatus = "running"
	// SyncStatusCompleted marks a run where every part succeeded
	SyncStatusCompleted SyncStatus = "completed"
	// SyncStatusFailed marks a run that produced no successful batch
	SyncStatusFailed SyncStatus = "failed"
	// SyncStatusPartial marks a run with both successes and failures
	SyncStatusPartial SyncStatus = "partial"
)

// Terminal reports whether the status closes a record
func (s SyncStatus) Terminal() bool {
	return s == SyncStatusCompleted || s == SyncStatusFailed || s == SyncStatusPartial
}

// Priority orders queued update requests
type Priority string

const (
	// PriorityHigh is drained before medium and low
	PriorityHigh Priority = "high"
	// PriorityMedium is drained after high, before low
	PriorityMedium Priority = "medium"
	// PriorityLow is drained last
	PriorityLow Priority = "low"
)

// Valid reports whether p is a known priority
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// RequestStatus is the lifecycle state of an update request
type RequestStatus string

const (
	// RequestStatusPending means the request awaits draining
	RequestStatusPending RequestStatus = "pending"
	// RequestStatusProcessing means a drain has picked the request up
	RequestStatusProcessing RequestStatus = "processing"
	// RequestStatusCompleted means the refresh succeeded
	RequestStatusCompleted RequestStatus = "completed"
	// RequestStatusFailed means the refresh failed at or above the attempt ceiling
	RequestStatusFailed RequestStatus = "failed"
)

// Fact is the set of pricing values synced from the supplier for one part
type Fact struct {
	Price      float64 `json:"price"`
	Cost       float64 `json:"cost"`
	ListPrice  float64 `json:"list_price"`
	CoreCharge float64 `json:"core_charge"`
	Currency   string  `json:"currency"`
}

// CacheEntry is the last-known pricing state for one supplier part.
// Stale is derived from LastSupplierSync on read, never stored as truth.
type CacheEntry struct {
	PartID           string    `json:"part_id"`
	Price            float64   `json:"price"`
	Cost             float64   `json:"cost"`
	ListPrice        float64   `json:"list_price"`
	CoreCharge       float64   `json:"core_charge"`
	Currency         string    `json:"currency"`
	LastUpdated      time.Time `json:"last_updated"`
	LastSupplierSync time.Time `json:"last_supplier_sync"`
	Stale            bool      `json:"stale"`
	SyncAttempts     int       `json:"sync_attempts"`
	LastError        string    `json:"last_error,omitempty"`
}

// SyncLogRecord is one row of the append-only sync operation log
type SyncLogRecord struct {
	ID           string        `json:"id"`
	SyncType     SyncType      `json:"sync_type"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Status       SyncStatus    `json:"status"`
	TotalParts   int           `json:"total_parts"`
	SuccessCount int           `json:"success_count"`
	FailureCount int           `json:"failure_count"`
	RateLimited  bool          `json:"rate_limited"`
	RetryAfter   time.Duration `json:"retry_after,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// UpdateRequest is a queued ask to refresh one part outside the schedule
type UpdateRequest struct {
	ID           string        `json:"id"`
	PartID       string        `json:"part_id"`
	Priority     Priority      `json:"priority"`
	RequestedAt  time.Time     `json:"requested_at"`
	RequestedBy  string        `json:"requested_by,omitempty"`
	Status       RequestStatus `json:"status"`
	Attempts     int           `json:"attempts"`
	LastAttempt  *time.Time    `json:"last_attempt,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}
