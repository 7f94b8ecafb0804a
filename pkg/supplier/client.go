package supplier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/shopmgr/partsync/pkg/observability"
)

// defaultRetryAfter is used when a rate-limit response carries no retry hint
const defaultRetryAfter = 60 * time.Second

// maxResponseBytes caps how much of a supplier response body is read
const maxResponseBytes = 10 << 20

// ErrorObserver is notified of every classified failure, fire-and-forget
type ErrorObserver func(endpoint string, callErr *CallError)

// Client defines the typed operations available against the supplier API.
// Every operation runs through the same rate-limit pre-check, throttle and
// failure classification; none bypasses them.
type Client interface {
	CheckInventory(ctx context.Context, vcpns []string) ([]InventoryItem, error)
	GetFullInventory(ctx context.Context) ([]InventoryItem, error)
	GetInventoryUpdates(ctx context.Context, since time.Time) ([]InventoryItem, error)
	GetBulkPricing(ctx context.Context, vcpns []string) ([]PartPricing, error)
	GetShippingOptions(ctx context.Context, req ShippingRequest) ([]ShippingOption, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderConfirmation, error)
	PlaceDropshipOrder(ctx context.Context, req DropshipOrderRequest) (*OrderConfirmation, error)
	SearchParts(ctx context.Context, query string) ([]PartDetail, error)
	GetPartDetails(ctx context.Context, vcpn string) (*PartDetail, error)
	GetKitComponents(ctx context.Context, kitVCPN string) ([]KitComponent, error)

	// RegisterObserver adds a failure observer. Observers must not block.
	RegisterObserver(obs ErrorObserver)
}

type client struct {
	log     logrus.FieldLogger
	cfg     *Config
	http    *http.Client
	clock   clock.Clock
	tracker *RateLimitTracker
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*http.Response]

	obsMu     sync.RWMutex
	observers []ErrorObserver
}

// NewClient creates a supplier client sharing the given rate-limit tracker
func NewClient(log logrus.FieldLogger, cfg *Config, clk clock.Clock, tracker *RateLimitTracker) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	threshold := cfg.BreakerFailureThreshold
	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:    "supplier",
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})

	return &client{
		log:     log.WithField("service", "supplier"),
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		clock:   clk,
		tracker: tracker,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: breaker,
	}, nil
}

// RegisterObserver adds a failure observer
func (c *client) RegisterObserver(obs ErrorObserver) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()

	c.observers = append(c.observers, obs)
}

func (c *client) notifyObservers(endpoint string, callErr *CallError) {
	c.obsMu.RLock()
	observers := make([]ErrorObserver, len(c.observers))
	copy(observers, c.observers)
	c.obsMu.RUnlock()

	for _, obs := range observers {
		go obs(endpoint, callErr)
	}
}

// errorEnvelope is the documented failure shape of supplier responses
type errorEnvelope struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// call issues one POST to the supplier, classifies the outcome, and returns
// the raw response body on success. Every failure path goes through fail so
// that observers, metrics and the rate-limit tracker stay consistent.
func (c *client) call(ctx context.Context, endpoint string, payload map[string]any) (json.RawMessage, error) {
	started := c.clock.Now()

	// Reactive pre-check: an active window means no network call at all
	if c.tracker.IsLimited(endpoint) {
		remaining := c.tracker.Remaining(endpoint)

		return nil, c.fail(endpoint, &CallError{
			Endpoint:   endpoint,
			Class:      FailureRateLimit,
			RetryAfter: remaining,
			Message:    fmt.Sprintf("endpoint rate limited, %s remaining", remaining),
		}, started, false)
	}

	// Proactive client-side throttle
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.fail(endpoint, &CallError{
			Endpoint: endpoint,
			Class:    FailureNetwork,
			Message:  fmt.Sprintf("throttle wait aborted: %v", err),
		}, started, false)
	}

	body := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		body[k] = v
	}
	body["account_number"] = c.cfg.AccountNumber
	body["security_token"] = c.cfg.SecurityToken

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, c.fail(endpoint, &CallError{
			Endpoint: endpoint,
			Class:    FailureUnknown,
			Message:  fmt.Sprintf("failed to encode request: %v", err),
		}, started, false)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + endpoint

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, c.fail(endpoint, &CallError{
			Endpoint: endpoint,
			Class:    FailureUnknown,
			Message:  fmt.Sprintf("failed to build request: %v", err),
		}, started, false)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.http.Do(req)
	})
	if err != nil {
		msg := fmt.Sprintf("transport failure: %v", err)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			msg = "supplier circuit open"
		}

		return nil, c.fail(endpoint, &CallError{
			Endpoint: endpoint,
			Class:    FailureNetwork,
			Message:  msg,
		}, started, false)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.fail(endpoint, &CallError{
			Endpoint:   endpoint,
			Class:      FailureNetwork,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to read response: %v", err),
		}, started, false)
	}

	if callErr := c.classify(endpoint, resp, raw); callErr != nil {
		recordWindow := callErr.Class == FailureRateLimit

		return nil, c.fail(endpoint, callErr, started, recordWindow)
	}

	observability.RecordSupplierRequest(endpoint, "success", c.clock.Now().Sub(started).Seconds())

	return raw, nil
}

// classify maps an HTTP response onto the failure taxonomy; nil means success.
// Rate limiting is detected by status 429 or by the error text mentioning
// rate limiting, since the supplier is not consistent about which it sends.
func (c *client) classify(endpoint string, resp *http.Response, raw []byte) *CallError {
	var env errorEnvelope
	// Malformed bodies are tolerated here; status classification decides below
	_ = json.Unmarshal(raw, &env)

	if resp.StatusCode == http.StatusTooManyRequests || mentionsRateLimit(env.Error) {
		return &CallError{
			Endpoint:   endpoint,
			Class:      FailureRateLimit,
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfterFrom(resp, env),
			Message:    nonEmpty(env.Error, "rate limited"),
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &CallError{
			Endpoint:   endpoint,
			Class:      FailureAuth,
			StatusCode: resp.StatusCode,
			Message:    nonEmpty(env.Error, "authentication rejected"),
		}

	case resp.StatusCode >= http.StatusInternalServerError:
		return &CallError{
			Endpoint:   endpoint,
			Class:      FailureServer,
			StatusCode: resp.StatusCode,
			Message:    nonEmpty(env.Error, "supplier server error"),
		}

	case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
		if env.Error != "" {
			return &CallError{
				Endpoint:   endpoint,
				Class:      FailureUnknown,
				StatusCode: resp.StatusCode,
				Message:    env.Error,
			}
		}

		return nil

	default:
		return &CallError{
			Endpoint:   endpoint,
			Class:      FailureUnknown,
			StatusCode: resp.StatusCode,
			Message:    nonEmpty(env.Error, "unexpected supplier response"),
		}
	}
}

// fail finalizes a classified failure: records the rate-limit window when
// asked, notifies observers, and bumps metrics
func (c *client) fail(endpoint string, callErr *CallError, started time.Time, recordWindow bool) *CallError {
	if recordWindow {
		retryAfter := callErr.RetryAfter
		if retryAfter <= 0 {
			retryAfter = defaultRetryAfter
			callErr.RetryAfter = retryAfter
		}

		c.tracker.RecordLimit(endpoint, retryAfter)
		observability.RecordRateLimitHit(endpoint)
	}

	c.log.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"class":    callErr.Class,
		"status":   callErr.StatusCode,
	}).Warn("Supplier call failed")

	c.notifyObservers(endpoint, callErr)
	observability.RecordSupplierRequest(endpoint, string(callErr.Class), c.clock.Now().Sub(started).Seconds())

	return callErr
}

func mentionsRateLimit(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "rate limit")
}

func retryAfterFrom(resp *http.Response, env errorEnvelope) time.Duration {
	if env.RetryAfterSeconds > 0 {
		return time.Duration(env.RetryAfterSeconds) * time.Second
	}

	if header := resp.Header.Get("Retry-After"); header != "" {
		if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}

	return defaultRetryAfter
}

func nonEmpty(msg, fallback string) string {
	if msg != "" {
		return msg
	}

	return fallback
}

// Ensure client implements the interface
var _ Client = (*client)(nil)
