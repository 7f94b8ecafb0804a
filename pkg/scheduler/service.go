package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/shopmgr/partsync/pkg/engine"
	"github.com/shopmgr/partsync/pkg/observability"
	"github.com/shopmgr/partsync/pkg/pricing"
	r "github.com/shopmgr/partsync/pkg/redis"
	"github.com/shopmgr/partsync/pkg/supplier"
)

const (
	// TaskFullSync is the task type for the daily full catalog sync
	TaskFullSync = "sync:full"
	// TaskIncrementalSync is the task type for the interval stale-entry sync
	TaskIncrementalSync = "sync:incremental"
	// TaskRequestDrain is the task type for update request queue draining
	TaskRequestDrain = "sync:requests"
	// QueueName is the asynq queue for sync tasks
	QueueName = "sync"
)

// Service defines the public interface for the scheduler
type Service interface {
	// Start initializes and starts the scheduler service
	Start(ctx context.Context) error

	// Stop gracefully shuts down the scheduler service
	Stop() error

	// TriggerFullSync queues a full sync on demand and returns a
	// user-displayable outcome message
	TriggerFullSync(ctx context.Context) (string, error)

	// TriggerIncrementalSync queues an incremental sync on demand
	TriggerIncrementalSync(ctx context.Context) (string, error)

	// TriggerRequestDrain queues an update request drain on demand
	TriggerRequestDrain(ctx context.Context) (string, error)

	// Status reports schedules, rate-limit windows and recent sync history
	Status(ctx context.Context) (*Status, error)
}

// ScheduleStatus describes one recurring task. The counters distinguish
// fires from completions: a run skipped for a rate-limit window or collapsed
// into an already-running duplicate counts as a fire but neither outcome.
type ScheduleStatus struct {
	TaskID       string     `json:"task_id"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	NextRun      *time.Time `json:"next_run,omitempty"`
	RunCount     int64      `json:"run_count"`
	SuccessCount int64      `json:"success_count"`
	FailureCount int64      `json:"failure_count"`
	LastError    string     `json:"last_error,omitempty"`
}

// Status is a point-in-time view of the sync system
type Status struct {
	Schedules       []ScheduleStatus           `json:"schedules"`
	RateLimits      []supplier.RateLimitWindow `json:"rate_limits"`
	RecentSyncs     []*pricing.SyncLogRecord   `json:"recent_syncs"`
	PendingRequests int64                      `json:"pending_requests"`
	SyncedParts     int64                      `json:"synced_parts"`
}

type service struct {
	log logrus.FieldLogger
	cfg *Config

	wg sync.WaitGroup

	clock        clock.Clock
	engine       engine.Service
	rateTracker  *supplier.RateLimitTracker
	schedTracker scheduleTracker
	syncLog      *pricing.SyncLog
	queue        *pricing.RequestQueue
	cache        *pricing.CacheStore

	queueClient *asynq.Client
	server      *asynq.Server
	mux         *asynq.ServeMux
	ticker      tickerService
	tasks       []scheduledTask
}

// NewService creates a new scheduler service
func NewService(
	log logrus.FieldLogger,
	cfg *Config,
	clk clock.Clock,
	redisOpt *redis.Options,
	redisClient *redis.Client,
	keyPrefix string,
	eng engine.Service,
	rateTracker *supplier.RateLimitTracker,
	syncLog *pricing.SyncLog,
	queue *pricing.RequestQueue,
	cache *pricing.CacheStore,
) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	asynqRedis := r.NewAsynqRedisOptions(redisOpt)

	server := asynq.NewServer(asynqRedis, asynq.Config{
		Queues: map[string]int{
			QueueName: 10,
		},
		Concurrency: cfg.Concurrency,
	})

	queueClient := asynq.NewClient(asynqRedis)
	schedTracker := newScheduleTracker(log, redisClient, keyPrefix)

	tasks, err := buildScheduledTasks(cfg)
	if err != nil {
		return nil, err
	}

	svc := &service{
		log: log.WithField("service", "scheduler"),
		cfg: cfg,

		clock:        clk,
		engine:       eng,
		rateTracker:  rateTracker,
		schedTracker: schedTracker,
		syncLog:      syncLog,
		queue:        queue,
		cache:        cache,

		queueClient: queueClient,
		server:      server,
		mux:         asynq.NewServeMux(),
		tasks:       tasks,
	}

	svc.ticker = newTickerService(log, clk, schedTracker, queueClient, tasks)

	return svc, nil
}

// buildScheduledTasks assembles the recurring task list from configuration
func buildScheduledTasks(cfg *Config) ([]scheduledTask, error) {
	var tasks []scheduledTask

	if cfg.AutoSyncEnabled() {
		hour, minute, err := parseWallClock(cfg.FullSyncTime)
		if err != nil {
			return nil, err
		}

		daily, err := dailySchedule(hour, minute)
		if err != nil {
			return nil, err
		}

		tasks = append(tasks,
			scheduledTask{
				ID:    TaskFullSync,
				Task:  asynq.NewTask(TaskFullSync, nil),
				Queue: QueueName,
				next:  daily,
			},
			scheduledTask{
				ID:    TaskIncrementalSync,
				Task:  asynq.NewTask(TaskIncrementalSync, nil),
				Queue: QueueName,
				next:  intervalSchedule(cfg.IncrementalInterval),
			},
		)
	}

	if cfg.RequestDrainingEnabled() {
		tasks = append(tasks, scheduledTask{
			ID:    TaskRequestDrain,
			Task:  asynq.NewTask(TaskRequestDrain, nil),
			Queue: QueueName,
			next:  intervalSchedule(cfg.RequestDrainInterval),
		})
	}

	return tasks, nil
}

// Start initializes and starts the scheduler service
func (s *service) Start(ctx context.Context) error {
	s.mux.HandleFunc(TaskFullSync, s.HandleFullSync)
	s.mux.HandleFunc(TaskIncrementalSync, s.HandleIncrementalSync)
	s.mux.HandleFunc(TaskRequestDrain, s.HandleRequestDrain)

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		if err := s.server.Run(s.mux); err != nil {
			s.log.WithError(err).Error("Sync task server stopped with error")
		}
	}()

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		if err := s.ticker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.WithError(err).Error("Ticker stopped with error")
		}
	}()

	s.log.WithFields(logrus.Fields{
		"full_sync_time":       s.cfg.FullSyncTime,
		"incremental_interval": s.cfg.IncrementalInterval,
		"drain_interval":       s.cfg.RequestDrainInterval,
		"tasks":                len(s.tasks),
	}).Info("Scheduler service started")

	return nil
}

// Stop gracefully shuts down the scheduler service
func (s *service) Stop() error {
	if err := s.ticker.Stop(); err != nil {
		s.log.WithError(err).Warn("Failed to stop ticker")
	}

	s.server.Shutdown()

	if err := s.queueClient.Close(); err != nil {
		s.log.WithError(err).Warn("Failed to close queue client")
	}

	s.wg.Wait()

	s.log.Info("Scheduler service stopped successfully")

	return nil
}

// HandleFullSync processes a queued full sync task.
// Exposed for direct invocation in tests.
func (s *service) HandleFullSync(ctx context.Context, _ *asynq.Task) error {
	return s.runSync(ctx, TaskFullSync, pricing.SyncTypeFull, true, s.engine.FullSync)
}

// HandleIncrementalSync processes a queued incremental sync task
func (s *service) HandleIncrementalSync(ctx context.Context, _ *asynq.Task) error {
	return s.runSync(ctx, TaskIncrementalSync, pricing.SyncTypeIncremental, true, s.engine.IncrementalSync)
}

// HandleRequestDrain processes a queued request drain task. The engine
// handles active rate-limit windows itself, so no skip check happens here.
func (s *service) HandleRequestDrain(ctx context.Context, _ *asynq.Task) error {
	return s.runSync(ctx, TaskRequestDrain, pricing.SyncTypeProcessRequests, false, s.engine.ProcessPendingRequests)
}

// runSync executes one queued sync, counting the fire and its outcome in the
// schedule descriptor. When checkWindow is set and the pricing endpoint is
// inside an active rate-limit window, the run is skipped entirely and counts
// as neither success nor failure.
func (s *service) runSync(ctx context.Context, taskID string, syncType pricing.SyncType, checkWindow bool, op func(context.Context) (*pricing.SyncLogRecord, error)) error {
	if err := s.schedTracker.MarkRunStarted(ctx, taskID); err != nil {
		s.log.WithError(err).WithField("task_id", taskID).Warn("Failed to count run start")
	}

	if checkWindow && s.rateTracker.IsLimited(supplier.EndpointPricingBulk) {
		remaining := s.rateTracker.Remaining(supplier.EndpointPricingBulk)

		s.log.WithFields(logrus.Fields{
			"sync_type": syncType,
			"remaining": remaining,
		}).Warn("Skipping scheduled sync, supplier rate limited")

		observability.RecordSyncRun(string(syncType), "skipped", 0)

		return nil
	}

	record, err := op(ctx)
	if err != nil {
		if errors.Is(err, engine.ErrSyncAlreadyRunning) {
			s.log.WithField("sync_type", syncType).Debug("Sync already running, skipping")

			return nil
		}

		s.markRunFinished(ctx, taskID, err)

		return err
	}

	// Supplier-side failures surface as a failed record rather than an error
	var runErr error
	if record != nil && record.Status == pricing.SyncStatusFailed {
		msg := record.ErrorMessage
		if msg == "" {
			msg = "sync failed"
		}

		runErr = errors.New(msg)
	}

	s.markRunFinished(ctx, taskID, runErr)

	return nil
}

func (s *service) markRunFinished(ctx context.Context, taskID string, runErr error) {
	if err := s.schedTracker.MarkRunFinished(ctx, taskID, runErr); err != nil {
		s.log.WithError(err).WithField("task_id", taskID).Warn("Failed to count run outcome")
	}
}

// TriggerFullSync queues a full sync on demand
func (s *service) TriggerFullSync(ctx context.Context) (string, error) {
	return s.trigger(ctx, "Full sync", TaskFullSync, pricing.SyncTypeFull, true)
}

// TriggerIncrementalSync queues an incremental sync on demand
func (s *service) TriggerIncrementalSync(ctx context.Context) (string, error) {
	return s.trigger(ctx, "Incremental sync", TaskIncrementalSync, pricing.SyncTypeIncremental, true)
}

// TriggerRequestDrain queues an update request drain on demand
func (s *service) TriggerRequestDrain(ctx context.Context) (string, error) {
	return s.trigger(ctx, "Request processing", TaskRequestDrain, pricing.SyncTypeProcessRequests, false)
}

// trigger enqueues a one-off task and returns a message describing what
// happened. Syncs inside a rate-limit window are refused with the wait time.
func (s *service) trigger(ctx context.Context, label, taskType string, syncType pricing.SyncType, checkWindow bool) (string, error) {
	if checkWindow && s.rateTracker.IsLimited(supplier.EndpointPricingBulk) {
		remaining := s.rateTracker.Remaining(supplier.EndpointPricingBulk).Round(time.Second)

		return fmt.Sprintf("Rate limited, retry in %s", remaining), nil
	}

	if s.engine.IsRunning(syncType) {
		return fmt.Sprintf("%s already running", label), nil
	}

	// Manual triggers share the scheduled task ID so duplicates collapse
	_, err := s.queueClient.EnqueueContext(ctx, asynq.NewTask(taskType, nil),
		asynq.TaskID(taskType),
		asynq.Queue(QueueName),
		asynq.MaxRetry(0),
		asynq.Timeout(5*time.Minute),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return fmt.Sprintf("%s already queued", label), nil
		}

		return "", fmt.Errorf("failed to queue %s: %w", taskType, err)
	}

	s.log.WithField("task_type", taskType).Info("Manually triggered sync task")

	return fmt.Sprintf("%s started", label), nil
}

// Status reports schedules, rate-limit windows and recent sync history
func (s *service) Status(ctx context.Context) (*Status, error) {
	schedules := make([]ScheduleStatus, 0, len(s.tasks))

	var upcoming map[string]*time.Time
	if impl, ok := s.ticker.(*tickerServiceImpl); ok {
		upcoming = impl.upcoming()
	}

	for i := range s.tasks {
		task := &s.tasks[i]

		desc, err := s.schedTracker.GetDescriptor(ctx, task.ID)
		if err != nil {
			return nil, err
		}

		entry := ScheduleStatus{
			TaskID:       task.ID,
			NextRun:      upcoming[task.ID],
			RunCount:     desc.RunCount,
			SuccessCount: desc.SuccessCount,
			FailureCount: desc.FailureCount,
			LastError:    desc.LastError,
		}

		if !desc.LastRun.IsZero() {
			entry.LastRun = &desc.LastRun
		}

		if entry.NextRun == nil {
			nextRun := task.next(desc.LastRun, s.clock.Now().UTC())
			entry.NextRun = &nextRun
		}

		schedules = append(schedules, entry)
	}

	recent, err := s.syncLog.Recent(ctx, 10)
	if err != nil {
		return nil, err
	}

	pending, err := s.queue.CountPending(ctx)
	if err != nil {
		return nil, err
	}

	synced, err := s.cache.Count(ctx)
	if err != nil {
		return nil, err
	}

	return &Status{
		Schedules:       schedules,
		RateLimits:      s.rateTracker.AllActive(),
		RecentSyncs:     recent,
		PendingRequests: pending,
		SyncedParts:     synced,
	}, nil
}

// Ensure service implements the interface
var _ Service = (*service)(nil)
