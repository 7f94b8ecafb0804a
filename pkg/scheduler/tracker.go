package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const scheduleKeySuffix = "scheduler:task"

// Hash fields of a persisted schedule descriptor
const (
	fieldLastRun      = "last_run"
	fieldRunCount     = "run_count"
	fieldSuccessCount = "success_count"
	fieldFailureCount = "failure_count"
	fieldLastError    = "last_error"
)

// ScheduleDescriptor is the persisted bookkeeping for one recurring task.
// LastError holds the most recent failure and stays set across later
// successes, so operators can see what last went wrong per schedule.
type ScheduleDescriptor struct {
	TaskID       string    `json:"task_id"`
	LastRun      time.Time `json:"last_run"`
	RunCount     int64     `json:"run_count"`
	SuccessCount int64     `json:"success_count"`
	FailureCount int64     `json:"failure_count"`
	LastError    string    `json:"last_error,omitempty"`
}

// scheduleTracker persists per-task schedule descriptors so that schedules
// and their run history survive process restarts
type scheduleTracker interface {
	// GetDescriptor retrieves the full descriptor for a task. A task that
	// has never run yields a zero-valued descriptor.
	GetDescriptor(ctx context.Context, taskID string) (*ScheduleDescriptor, error)

	// GetLastRun retrieves the last execution timestamp for a task.
	// Returns zero time if the task has never run.
	GetLastRun(ctx context.Context, taskID string) (time.Time, error)

	// SetLastRun updates the last execution timestamp for a task
	SetLastRun(ctx context.Context, taskID string, timestamp time.Time) error

	// MarkRunStarted counts one fire of the task
	MarkRunStarted(ctx context.Context, taskID string) error

	// MarkRunFinished counts the outcome of a completed run. A nil runErr
	// increments the success counter; otherwise the failure counter is
	// incremented and the error recorded.
	MarkRunFinished(ctx context.Context, taskID string, runErr error) error
}

type redisScheduleTracker struct {
	log       logrus.FieldLogger
	redis     *redis.Client
	keyPrefix string
}

// newScheduleTracker creates a Redis-backed schedule tracker
func newScheduleTracker(log logrus.FieldLogger, redisClient *redis.Client, keyPrefix string) scheduleTracker {
	return &redisScheduleTracker{
		log:       log.WithField("component", "schedule_tracker"),
		redis:     redisClient,
		keyPrefix: keyPrefix,
	}
}

func (r *redisScheduleTracker) key(taskID string) string {
	return fmt.Sprintf("%s:%s:%s", r.keyPrefix, scheduleKeySuffix, taskID)
}

func (r *redisScheduleTracker) GetDescriptor(ctx context.Context, taskID string) (*ScheduleDescriptor, error) {
	vals, err := r.redis.HGetAll(ctx, r.key(taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get descriptor for task %s: %w", taskID, err)
	}

	desc := &ScheduleDescriptor{TaskID: taskID}

	if v := vals[fieldLastRun]; v != "" {
		timestamp, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timestamp for task %s: %w", taskID, err)
		}

		desc.LastRun = timestamp
	}

	desc.RunCount = parseCounter(vals[fieldRunCount])
	desc.SuccessCount = parseCounter(vals[fieldSuccessCount])
	desc.FailureCount = parseCounter(vals[fieldFailureCount])
	desc.LastError = vals[fieldLastError]

	return desc, nil
}

func (r *redisScheduleTracker) GetLastRun(ctx context.Context, taskID string) (time.Time, error) {
	val, err := r.redis.HGet(ctx, r.key(taskID), fieldLastRun).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}

		return time.Time{}, fmt.Errorf("failed to get last run for task %s: %w", taskID, err)
	}

	timestamp, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp for task %s: %w", taskID, err)
	}

	return timestamp, nil
}

func (r *redisScheduleTracker) SetLastRun(ctx context.Context, taskID string, timestamp time.Time) error {
	if err := r.redis.HSet(ctx, r.key(taskID), fieldLastRun, timestamp.Format(time.RFC3339)).Err(); err != nil {
		return fmt.Errorf("failed to set last run for task %s: %w", taskID, err)
	}

	r.log.WithFields(logrus.Fields{
		"task_id":   taskID,
		"timestamp": timestamp,
	}).Debug("Updated last run for task")

	return nil
}

func (r *redisScheduleTracker) MarkRunStarted(ctx context.Context, taskID string) error {
	if err := r.redis.HIncrBy(ctx, r.key(taskID), fieldRunCount, 1).Err(); err != nil {
		return fmt.Errorf("failed to count run start for task %s: %w", taskID, err)
	}

	return nil
}

func (r *redisScheduleTracker) MarkRunFinished(ctx context.Context, taskID string, runErr error) error {
	if runErr == nil {
		if err := r.redis.HIncrBy(ctx, r.key(taskID), fieldSuccessCount, 1).Err(); err != nil {
			return fmt.Errorf("failed to count success for task %s: %w", taskID, err)
		}

		return nil
	}

	pipe := r.redis.TxPipeline()
	pipe.HIncrBy(ctx, r.key(taskID), fieldFailureCount, 1)
	pipe.HSet(ctx, r.key(taskID), fieldLastError, runErr.Error())

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to count failure for task %s: %w", taskID, err)
	}

	return nil
}

func parseCounter(v string) int64 {
	if v == "" {
		return 0
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}

	return n
}

// Verify interface compliance at compile time
var _ scheduleTracker = (*redisScheduleTracker)(nil)
