package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/OpenAds/loader/internal/config"
)

var ErrQueueClosed = errors.New("dispatch queue closed")

// Call is a deferred platform request. It is not started until its limiter admits it.
type Call func(ctx context.Context) error

// Request describes a call for routing and diagnostics.
type Request struct {
	AppID    string
	Method   string
	Endpoint string
	Payload  any
}

// CallError annotates a failed call with the request that triggered it.
// Its message is the underlying error's message.
type CallError struct {
	AppID    string
	Method   string
	Endpoint string
	Err      error
}

func (e *CallError) Error() string { return e.Err.Error() }
func (e *CallError) Unwrap() error { return e.Err }

// Queue gates outbound calls per application and endpoint category.
type Queue struct {
	cfg     config.DispatchConfig
	metrics *metrics

	mu       sync.Mutex
	limiters map[string]map[string]*limiter
	closed   bool
}

// NewQueue creates a queue. Metrics are registered on reg when it is not nil.
func NewQueue(cfg config.DispatchConfig, reg prometheus.Registerer) *Queue {
	return &Queue{
		cfg:      cfg,
		metrics:  newMetrics(reg),
		limiters: make(map[string]map[string]*limiter),
	}
}

// Push schedules call under the limiter for (req.AppID, Category(req.Endpoint))
// and blocks until it has run. Unclassified endpoints run immediately.
func (q *Queue) Push(ctx context.Context, req Request, call Call) error {
	category := Category(req.Endpoint)

	var err error
	if category == Unclassified {
		if q.isClosed() {
			return ErrQueueClosed
		}
		err = run(ctx, category, q.metrics, call)
	} else {
		err = q.enqueue(ctx, req.AppID, category, call)
	}

	if err != nil {
		slog.ErrorContext(ctx, "platform call failed",
			"method", req.Method,
			"endpoint", req.Endpoint,
			"category", category,
			"appID", req.AppID,
			"payload", req.Payload,
			"error", err)
		return &CallError{AppID: req.AppID, Method: req.Method, Endpoint: req.Endpoint, Err: err}
	}
	return nil
}

// Close stops all limiters. Calls still waiting fail with ErrQueueClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	limiters := make([]*limiter, 0)
	for _, byCategory := range q.limiters {
		for _, l := range byCategory {
			limiters = append(limiters, l)
		}
	}
	q.mu.Unlock()

	for _, l := range limiters {
		l.close()
	}
}

func (q *Queue) enqueue(ctx context.Context, appID, category string, call Call) error {
	l, err := q.limiterFor(appID, category)
	if err != nil {
		return err
	}

	j := &job{ctx: ctx, call: call, done: make(chan error, 1)}
	if err := l.enqueue(j); err != nil {
		return err
	}
	return <-j.done
}

func (q *Queue) limiterFor(appID, category string) (*limiter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	byCategory, ok := q.limiters[appID]
	if !ok {
		byCategory = make(map[string]*limiter)
		q.limiters[appID] = byCategory
	}
	if l, ok := byCategory[category]; ok {
		return l, nil
	}

	limit := q.cfg.Default
	if override, ok := q.cfg.Overrides[category]; ok {
		limit = override
	}
	l := newLimiter(category, limit, q.cfg.Interval, q.metrics)
	byCategory[category] = l
	slog.Debug("dispatch limiter created",
		"appID", appID,
		"category", category,
		"concurrency", limit.Concurrency,
		"intervalCap", limit.IntervalCap)
	return l, nil
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
