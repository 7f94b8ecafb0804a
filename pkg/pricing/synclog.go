package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/facebookgo/clock"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	syncLogRecordKeyPrefix = "synclog:record:"
	syncLogRecentKey       = "synclog:recent"

	// syncLogRetention caps the recent-records list; older ids fall off but
	// their records are left for external retention policy to reap
	syncLogRetention = 500
)

var (
	// ErrSyncLogNotFound is returned when a record id is unknown
	ErrSyncLogNotFound = errors.New("sync log record not found")
	// ErrSyncLogClosed is returned when closing an already-terminal record
	ErrSyncLogClosed = errors.New("sync log record already closed")
	// ErrNotTerminal is returned when Close is called with a non-terminal status
	ErrNotTerminal = errors.New("close requires a terminal status")
)

// CloseOutcome carries the terminal update applied to a running record
type CloseOutcome struct {
	Status       SyncStatus
	TotalParts   int
	SuccessCount int
	FailureCount int
	RateLimited  bool
	RetryAfter   time.Duration
	ErrorMessage string
}

// SyncLog is the append-only record of sync operation attempts. A record is
// opened as running and closed exactly once with a terminal status.
type SyncLog struct {
	log       logrus.FieldLogger
	redis     *redis.Client
	clock     clock.Clock
	keyPrefix string
}

// NewSyncLog creates a Redis-backed sync log
func NewSyncLog(log logrus.FieldLogger, redisClient *redis.Client, clk clock.Clock, keyPrefix string) *SyncLog {
	return &SyncLog{
		log:       log.WithField("component", "sync_log"),
		redis:     redisClient,
		clock:     clk,
		keyPrefix: keyPrefix + ":",
	}
}

func (l *SyncLog) recordKey(id string) string {
	return l.keyPrefix + syncLogRecordKeyPrefix + id
}

func (l *SyncLog) recentKey() string {
	return l.keyPrefix + syncLogRecentKey
}

// Begin opens a new running record for the given sync type
func (l *SyncLog) Begin(ctx context.Context, syncType SyncType) (*SyncLogRecord, error) {
	record := &SyncLogRecord{
		ID:        uuid.NewString(),
		SyncType:  syncType,
		StartedAt: l.clock.Now().UTC(),
		Status:    SyncStatusRunning,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sync log record: %w", err)
	}

	pipe := l.redis.TxPipeline()
	pipe.Set(ctx, l.recordKey(record.ID), data, 0)
	pipe.LPush(ctx, l.recentKey(), record.ID)
	pipe.LTrim(ctx, l.recentKey(), 0, syncLogRetention-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to open sync log record: %w", err)
	}

	l.log.WithFields(logrus.Fields{
		"id":        record.ID,
		"sync_type": syncType,
	}).Debug("Opened sync log record")

	return record, nil
}

// Close applies the single terminal update to a running record
func (l *SyncLog) Close(ctx context.Context, id string, outcome CloseOutcome) (*SyncLogRecord, error) {
	if !outcome.Status.Terminal() {
		return nil, ErrNotTerminal
	}

	record, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if record.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrSyncLogClosed, id)
	}

	now := l.clock.Now().UTC()
	record.CompletedAt = &now
	record.Status = outcome.Status
	record.TotalParts = outcome.TotalParts
	record.SuccessCount = outcome.SuccessCount
	record.FailureCount = outcome.FailureCount
	record.RateLimited = outcome.RateLimited
	record.RetryAfter = outcome.RetryAfter
	record.ErrorMessage = outcome.ErrorMessage

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sync log record: %w", err)
	}

	if err := l.redis.Set(ctx, l.recordKey(id), data, 0).Err(); err != nil {
		return nil, fmt.Errorf("failed to close sync log record %s: %w", id, err)
	}

	l.log.WithFields(logrus.Fields{
		"id":        id,
		"sync_type": record.SyncType,
		"status":    record.Status,
		"success":   record.SuccessCount,
		"failure":   record.FailureCount,
	}).Info("Closed sync log record")

	return record, nil
}

// Get retrieves one record by id
func (l *SyncLog) Get(ctx context.Context, id string) (*SyncLogRecord, error) {
	data, err := l.redis.Get(ctx, l.recordKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrSyncLogNotFound, id)
		}

		return nil, fmt.Errorf("failed to get sync log record %s: %w", id, err)
	}

	var record SyncLogRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to decode sync log record %s: %w", id, err)
	}

	return &record, nil
}

// Recent returns up to n records, newest first
func (l *SyncLog) Recent(ctx context.Context, n int) ([]*SyncLogRecord, error) {
	if n <= 0 {
		n = 10
	}

	ids, err := l.redis.LRange(ctx, l.recentKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list recent sync log ids: %w", err)
	}

	records := make([]*SyncLogRecord, 0, len(ids))

	for _, id := range ids {
		record, err := l.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrSyncLogNotFound) {
				continue
			}

			return nil, err
		}
		records = append(records, record)
	}

	return records, nil
}
