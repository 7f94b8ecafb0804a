package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// scheduledTask is one recurring sync operation driven by the ticker
type scheduledTask struct {
	ID    string
	Task  *asynq.Task
	Queue string

	// next computes the next due time from the last run. A zero lastRun
	// means the task has never run.
	next func(lastRun, now time.Time) time.Time

	nextRun *time.Time // cached to avoid a Redis lookup per tick
}

// intervalSchedule runs a task every interval, immediately on first start
func intervalSchedule(interval time.Duration) func(lastRun, now time.Time) time.Time {
	return func(lastRun, now time.Time) time.Time {
		if lastRun.IsZero() {
			return now
		}

		return lastRun.Add(interval)
	}
}

// dailySchedule runs a task at a fixed wall-clock time each day. A task that
// has never run waits for the next occurrence rather than firing immediately,
// so a scheduler started at 03:00 with a 02:00 schedule runs tomorrow.
func dailySchedule(hour, minute int) (func(lastRun, now time.Time) time.Time, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	sched, err := parser.Parse(fmt.Sprintf("%d %d * * *", minute, hour))
	if err != nil {
		return nil, fmt.Errorf("failed to parse daily schedule: %w", err)
	}

	return func(lastRun, now time.Time) time.Time {
		base := lastRun
		if base.IsZero() {
			base = now
		}

		return sched.Next(base)
	}, nil
}

// tickerService periodically checks schedules and enqueues due tasks
type tickerService interface {
	// Start begins the ticker loop; blocks until the context is canceled
	Start(ctx context.Context) error

	// Stop gracefully shuts down the ticker
	Stop() error
}

type tickerServiceImpl struct {
	log         logrus.FieldLogger
	clock       clock.Clock
	tracker     scheduleTracker
	queueClient *asynq.Client
	tasks       []scheduledTask
	tasksMu     sync.RWMutex
	done        chan struct{}
}

func newTickerService(
	log logrus.FieldLogger,
	clk clock.Clock,
	tracker scheduleTracker,
	queueClient *asynq.Client,
	tasks []scheduledTask,
) tickerService {
	return &tickerServiceImpl{
		log:         log.WithField("component", "ticker"),
		clock:       clk,
		tracker:     tracker,
		queueClient: queueClient,
		tasks:       tasks,
		done:        make(chan struct{}),
	}
}

func (t *tickerServiceImpl) Start(ctx context.Context) error {
	t.log.WithField("tasks", len(t.tasks)).Info("Starting ticker service")

	ticker := t.clock.Ticker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return nil
		case <-ticker.C:
			t.checkSchedules(ctx)
		}
	}
}

func (t *tickerServiceImpl) checkSchedules(ctx context.Context) {
	now := t.clock.Now().UTC()

	for i := range t.tasks {
		task := &t.tasks[i]

		t.tasksMu.RLock()
		cachedNextRun := task.nextRun
		t.tasksMu.RUnlock()

		if cachedNextRun != nil && now.Before(*cachedNextRun) {
			continue
		}

		lastRun, err := t.tracker.GetLastRun(ctx, task.ID)
		if err != nil {
			t.log.WithError(err).WithField("task_id", task.ID).Warn("Failed to get last run, will retry next tick")

			continue
		}

		nextRun := task.next(lastRun, now)

		t.tasksMu.Lock()
		task.nextRun = &nextRun
		t.tasksMu.Unlock()

		if now.Before(nextRun) {
			continue
		}

		if err := t.enqueueTask(ctx, *task); err != nil {
			t.log.WithError(err).WithField("task_id", task.ID).Error("Failed to enqueue task")

			continue
		}

		if err := t.tracker.SetLastRun(ctx, task.ID, now); err != nil {
			t.log.WithError(err).WithField("task_id", task.ID).Error("Failed to update last run timestamp")
		}

		updatedNextRun := task.next(now, now)

		t.tasksMu.Lock()
		task.nextRun = &updatedNextRun
		t.tasksMu.Unlock()
	}
}

func (t *tickerServiceImpl) enqueueTask(ctx context.Context, task scheduledTask) error {
	opts := []asynq.Option{
		asynq.TaskID(task.ID),
		asynq.Queue(task.Queue),
		asynq.MaxRetry(0),
		asynq.Timeout(5 * time.Minute),
	}

	info, err := t.queueClient.EnqueueContext(ctx, task.Task, opts...)
	if err != nil {
		// Still queued from a previous tick; expected when processing is slow
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			t.log.WithField("task_id", task.ID).Debug("Task already queued, skipping")

			return nil
		}

		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	t.log.WithFields(logrus.Fields{
		"task_id":  task.ID,
		"queue":    task.Queue,
		"asynq_id": info.ID,
	}).Info("Enqueued scheduled task")

	return nil
}

// upcoming reports the next due time per task as currently cached
func (t *tickerServiceImpl) upcoming() map[string]*time.Time {
	t.tasksMu.RLock()
	defer t.tasksMu.RUnlock()

	out := make(map[string]*time.Time, len(t.tasks))
	for i := range t.tasks {
		out[t.tasks[i].ID] = t.tasks[i].nextRun
	}

	return out
}

func (t *tickerServiceImpl) Stop() error {
	t.log.Info("Stopping ticker service")
	close(t.done)

	return nil
}

// Verify interface compliance at compile time
var _ tickerService = (*tickerServiceImpl)(nil)
