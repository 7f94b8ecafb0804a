package api

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/shopmgr/partsync/pkg/engine"
	"github.com/shopmgr/partsync/pkg/pricing"
	"github.com/shopmgr/partsync/pkg/scheduler"
	"github.com/shopmgr/partsync/pkg/supplier"
)

var (
	// ErrPartNotCached is returned when a part has no pricing cache entry
	ErrPartNotCached = fiber.NewError(fiber.StatusNotFound, "part not found in pricing cache")
	// ErrRequestNotFound is returned when an update request ID is unknown
	ErrRequestNotFound = fiber.NewError(fiber.StatusNotFound, "update request not found")
)

// Handlers implements the REST request handlers
type Handlers struct {
	log       logrus.FieldLogger
	engine    engine.Service
	scheduler scheduler.Service
	cache     *pricing.CacheStore
	syncLog   *pricing.SyncLog
	queue     *pricing.RequestQueue
}

// NewHandlers creates the REST request handlers
func NewHandlers(
	log logrus.FieldLogger,
	eng engine.Service,
	sched scheduler.Service,
	cache *pricing.CacheStore,
	syncLog *pricing.SyncLog,
	queue *pricing.RequestQueue,
) *Handlers {
	return &Handlers{
		log:       log.WithField("component", "api.handlers"),
		engine:    eng,
		scheduler: sched,
		cache:     cache,
		syncLog:   syncLog,
		queue:     queue,
	}
}

// Register mounts all routes on the given router
func (h *Handlers) Register(router fiber.Router) {
	router.Get("/status", h.GetStatus)

	router.Post("/sync/full", h.TriggerFullSync)
	router.Post("/sync/incremental", h.TriggerIncrementalSync)
	router.Post("/sync/requests", h.TriggerRequestDrain)

	router.Get("/pricing", h.ListPricing)
	router.Get("/pricing/:partId", h.GetPricing)
	router.Post("/pricing/:partId/sync", h.SyncPart)

	router.Get("/synclog", h.GetSyncLog)

	router.Post("/requests", h.CreateUpdateRequest)
	router.Get("/requests/:id", h.GetUpdateRequest)
}

// GetStatus reports schedules, rate-limit windows and recent sync history
func (h *Handlers) GetStatus(c fiber.Ctx) error {
	status, err := h.scheduler.Status(c.Context())
	if err != nil {
		h.log.WithError(err).Error("Failed to build status")

		return fiber.ErrInternalServerError
	}

	return c.JSON(status)
}

// TriggerFullSync queues a full catalog sync
func (h *Handlers) TriggerFullSync(c fiber.Ctx) error {
	return h.triggerSync(c, h.scheduler.TriggerFullSync)
}

// TriggerIncrementalSync queues a stale-entry sync
func (h *Handlers) TriggerIncrementalSync(c fiber.Ctx) error {
	return h.triggerSync(c, h.scheduler.TriggerIncrementalSync)
}

// TriggerRequestDrain queues an update request drain
func (h *Handlers) TriggerRequestDrain(c fiber.Ctx) error {
	return h.triggerSync(c, h.scheduler.TriggerRequestDrain)
}

func (h *Handlers) triggerSync(c fiber.Ctx, trigger func(ctx context.Context) (string, error)) error {
	msg, err := trigger(c.Context())
	if err != nil {
		h.log.WithError(err).Error("Failed to trigger sync")

		return fiber.ErrInternalServerError
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": msg})
}

// ListPricing returns cache entries, optionally filtered by part IDs
func (h *Handlers) ListPricing(c fiber.Ctx) error {
	opts := pricing.ListOptions{IncludeStale: true}

	if ids := c.Query("part_ids"); ids != "" {
		opts.PartIDs = strings.Split(ids, ",")
	}

	if v := c.Query("include_stale"); v != "" {
		includeStale, err := strconv.ParseBool(v)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "include_stale must be a boolean")
		}

		opts.IncludeStale = includeStale
	}

	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be a non-negative integer")
		}

		opts.Limit = limit
	}

	entries, err := h.cache.List(c.Context(), opts)
	if err != nil {
		h.log.WithError(err).Error("Failed to list pricing entries")

		return fiber.ErrInternalServerError
	}

	return c.JSON(fiber.Map{"entries": entries, "count": len(entries)})
}

// GetPricing returns the cache entry for one part
func (h *Handlers) GetPricing(c fiber.Ctx) error {
	entry, err := h.cache.Get(c.Context(), c.Params("partId"))
	if err != nil {
		h.log.WithError(err).Error("Failed to get pricing entry")

		return fiber.ErrInternalServerError
	}

	if entry == nil {
		return ErrPartNotCached
	}

	return c.JSON(entry)
}

// SyncPart refreshes one part from the supplier immediately
func (h *Handlers) SyncPart(c fiber.Ctx) error {
	entry, err := h.engine.SinglePartUpdate(c.Context(), c.Params("partId"))
	if err != nil {
		return h.mapSupplierError(c, err)
	}

	return c.JSON(entry)
}

// mapSupplierError translates engine failures onto HTTP responses
func (h *Handlers) mapSupplierError(c fiber.Ctx, err error) error {
	if errors.Is(err, engine.ErrPartNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "part not found at supplier")
	}

	var callErr *supplier.CallError
	if errors.As(err, &callErr) {
		if callErr.RateLimited() {
			c.Set("Retry-After", strconv.Itoa(int(callErr.RetryAfter.Seconds())))

			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":               "supplier rate limited",
				"retry_after_seconds": int(callErr.RetryAfter.Seconds()),
			})
		}

		return fiber.NewError(fiber.StatusBadGateway, callErr.Message)
	}

	h.log.WithError(err).Error("Single part update failed")

	return fiber.ErrInternalServerError
}

// GetSyncLog returns recent sync operations, newest first
func (h *Handlers) GetSyncLog(c fiber.Ctx) error {
	limit := 20

	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be a positive integer")
		}

		limit = parsed
	}

	records, err := h.syncLog.Recent(c.Context(), limit)
	if err != nil {
		h.log.WithError(err).Error("Failed to read sync log")

		return fiber.ErrInternalServerError
	}

	return c.JSON(fiber.Map{"records": records, "count": len(records)})
}

// updateRequestBody is the payload for queuing a pricing refresh
type updateRequestBody struct {
	PartID      string `json:"part_id"`
	Priority    string `json:"priority"`
	RequestedBy string `json:"requested_by"`
}

// CreateUpdateRequest queues a pricing refresh for later processing.
// The request is acknowledged immediately; the refresh happens on the next
// drain cycle.
func (h *Handlers) CreateUpdateRequest(c fiber.Ctx) error {
	var body updateRequestBody
	if err := c.Bind().Body(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	priority := pricing.Priority(body.Priority)
	if body.Priority == "" {
		priority = pricing.PriorityMedium
	}

	req, err := h.queue.Enqueue(c.Context(), body.PartID, priority, body.RequestedBy)
	if err != nil {
		switch {
		case errors.Is(err, pricing.ErrPartIDRequired):
			return fiber.NewError(fiber.StatusBadRequest, "part_id is required")
		case errors.Is(err, pricing.ErrInvalidPriority):
			return fiber.NewError(fiber.StatusBadRequest, "priority must be high, medium or low")
		default:
			h.log.WithError(err).Error("Failed to queue update request")

			return fiber.ErrInternalServerError
		}
	}

	return c.Status(fiber.StatusAccepted).JSON(req)
}

// GetUpdateRequest returns one queued update request by ID
func (h *Handlers) GetUpdateRequest(c fiber.Ctx) error {
	req, err := h.queue.Get(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, pricing.ErrRequestNotFound) {
			return ErrRequestNotFound
		}

		h.log.WithError(err).Error("Failed to get update request")

		return fiber.ErrInternalServerError
	}

	return c.JSON(req)
}
