package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/facebookgo/clock"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/shopmgr/partsync/pkg/observability"
)

const (
	requestRecordKeyPrefix  = "requests:record:"
	requestPendingKeyPrefix = "requests:pending:"
)

var (
	// ErrRequestNotFound is returned when a request id is unknown
	ErrRequestNotFound = errors.New("update request not found")
	// ErrInvalidPriority is returned for priorities outside high/medium/low
	ErrInvalidPriority = errors.New("invalid priority")
	// ErrPartIDRequired is returned when enqueueing without a part id
	ErrPartIDRequired = errors.New("part id is required")
)

// drainOrder fixes the strict priority order for queue draining
//
//nolint:gochecknoglobals // Fixed ordering table
var drainOrder = []Priority{PriorityHigh, PriorityMedium, PriorityLow}

// RequestQueue is the durable queue of explicit part-refresh requests.
// Pending ids live in one sorted set per priority, scored by request time,
// so draining is strictly priority-ordered and FIFO within a priority.
// Callers get an immediate acknowledgement; the engine drains later.
type RequestQueue struct {
	log       logrus.FieldLogger
	redis     *redis.Client
	clock     clock.Clock
	keyPrefix string
}

// NewRequestQueue creates a Redis-backed update request queue
func NewRequestQueue(log logrus.FieldLogger, redisClient *redis.Client, clk clock.Clock, keyPrefix string) *RequestQueue {
	return &RequestQueue{
		log:       log.WithField("component", "request_queue"),
		redis:     redisClient,
		clock:     clk,
		keyPrefix: keyPrefix + ":",
	}
}

func (q *RequestQueue) recordKey(id string) string {
	return q.keyPrefix + requestRecordKeyPrefix + id
}

func (q *RequestQueue) pendingKey(p Priority) string {
	return q.keyPrefix + requestPendingKeyPrefix + string(p)
}

// Enqueue records a refresh request and returns immediately
func (q *RequestQueue) Enqueue(ctx context.Context, partID string, priority Priority, requestedBy string) (*UpdateRequest, error) {
	if partID == "" {
		return nil, ErrPartIDRequired
	}

	if !priority.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPriority, priority)
	}

	req := &UpdateRequest{
		ID:          uuid.NewString(),
		PartID:      partID,
		Priority:    priority,
		RequestedAt: q.clock.Now().UTC(),
		RequestedBy: requestedBy,
		Status:      RequestStatusPending,
	}

	if err := q.save(ctx, req); err != nil {
		return nil, err
	}

	score := float64(req.RequestedAt.UnixNano())
	if err := q.redis.ZAdd(ctx, q.pendingKey(priority), redis.Z{Score: score, Member: req.ID}).Err(); err != nil {
		return nil, fmt.Errorf("failed to enqueue update request: %w", err)
	}

	q.log.WithFields(logrus.Fields{
		"id":       req.ID,
		"part_id":  partID,
		"priority": priority,
	}).Info("Queued pricing update request")

	return req, nil
}

// DequeuePending pops up to limit pending requests in strict priority order
// (high before medium before low, FIFO within each), marking them processing
// and counting the attempt
func (q *RequestQueue) DequeuePending(ctx context.Context, limit int) ([]*UpdateRequest, error) {
	if limit <= 0 {
		limit = 25
	}

	dequeued := make([]*UpdateRequest, 0, limit)

	for _, priority := range drainOrder {
		for len(dequeued) < limit {
			popped, err := q.redis.ZPopMin(ctx, q.pendingKey(priority), 1).Result()
			if err != nil {
				return nil, fmt.Errorf("failed to pop pending request: %w", err)
			}
			if len(popped) == 0 {
				break
			}

			id, ok := popped[0].Member.(string)
			if !ok {
				continue
			}

			req, err := q.Get(ctx, id)
			if err != nil {
				if errors.Is(err, ErrRequestNotFound) {
					continue // Stale index entry
				}

				return nil, err
			}

			now := q.clock.Now().UTC()
			req.Status = RequestStatusProcessing
			req.Attempts++
			req.LastAttempt = &now

			if err := q.save(ctx, req); err != nil {
				return nil, err
			}

			dequeued = append(dequeued, req)
		}
	}

	return dequeued, nil
}

// MarkCompleted closes a request successfully
func (q *RequestQueue) MarkCompleted(ctx context.Context, id string) error {
	req, err := q.Get(ctx, id)
	if err != nil {
		return err
	}

	req.Status = RequestStatusCompleted
	req.ErrorMessage = ""

	if err := q.save(ctx, req); err != nil {
		return err
	}

	observability.RecordUpdateRequest("completed")

	return nil
}

// MarkFailed records a failed attempt. Below the ceiling the request is
// returned to pending (keeping its original queue position); at or above it
// the request stays failed for good.
func (q *RequestQueue) MarkFailed(ctx context.Context, id, errMsg string, attemptCeiling int) (*UpdateRequest, error) {
	req, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	req.ErrorMessage = errMsg

	if req.Attempts >= attemptCeiling {
		req.Status = RequestStatusFailed

		if err := q.save(ctx, req); err != nil {
			return nil, err
		}

		observability.RecordUpdateRequest("failed")

		q.log.WithFields(logrus.Fields{
			"id":       id,
			"part_id":  req.PartID,
			"attempts": req.Attempts,
		}).Warn("Update request failed permanently")

		return req, nil
	}

	req.Status = RequestStatusPending

	if err := q.save(ctx, req); err != nil {
		return nil, err
	}

	score := float64(req.RequestedAt.UnixNano())
	if err := q.redis.ZAdd(ctx, q.pendingKey(req.Priority), redis.Z{Score: score, Member: req.ID}).Err(); err != nil {
		return nil, fmt.Errorf("failed to requeue update request: %w", err)
	}

	observability.RecordUpdateRequest("requeued")

	return req, nil
}

// Get retrieves one request by id
func (q *RequestQueue) Get(ctx context.Context, id string) (*UpdateRequest, error) {
	data, err := q.redis.Get(ctx, q.recordKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
		}

		return nil, fmt.Errorf("failed to get update request %s: %w", id, err)
	}

	var req UpdateRequest
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return nil, fmt.Errorf("failed to decode update request %s: %w", id, err)
	}

	return &req, nil
}

// CountPending returns the pending backlog across all priorities and
// refreshes the gauge
func (q *RequestQueue) CountPending(ctx context.Context) (int64, error) {
	var total int64

	for _, priority := range drainOrder {
		count, err := q.redis.ZCard(ctx, q.pendingKey(priority)).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to count pending requests: %w", err)
		}
		total += count
	}

	observability.PendingUpdateRequests.Set(float64(total))

	return total, nil
}

func (q *RequestQueue) save(ctx context.Context, req *UpdateRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode update request %s: %w", req.ID, err)
	}

	if err := q.redis.Set(ctx, q.recordKey(req.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save update request %s: %w", req.ID, err)
	}

	return nil
}
