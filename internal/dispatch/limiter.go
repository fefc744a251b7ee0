package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/OpenAds/loader/internal/config"
)

type job struct {
	ctx  context.Context
	call Call
	done chan error
}

func (j *job) finish(err error) {
	j.done <- err
}

// limiter releases jobs in FIFO order, at most limit.Concurrency at a time
// and with starts paced so no window of interval sees more than
// limit.IntervalCap of them. Starts are spread evenly, one every
// interval/IntervalCap, rather than admitted as a burst at the window start.
type limiter struct {
	category string
	pace     *rate.Limiter
	slots    *semaphore.Weighted
	metrics  *metrics

	mu      sync.Mutex
	pending []*job
	closed  bool
	wake    chan struct{}
	quit    chan struct{}
}

func newLimiter(category string, limit config.Limit, interval time.Duration, m *metrics) *limiter {
	l := &limiter{
		category: category,
		pace:     rate.NewLimiter(rate.Every(interval/time.Duration(limit.IntervalCap)), 1),
		slots:    semaphore.NewWeighted(int64(limit.Concurrency)),
		metrics:  m,
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
	}
	go l.dispatch()
	return l
}

func (l *limiter) enqueue(j *job) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrQueueClosed
	}
	l.pending = append(l.pending, j)
	l.metrics.queued.WithLabelValues(categoryLabel(l.category)).Inc()
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

func (l *limiter) next() (*job, bool) {
	for {
		l.mu.Lock()
		if len(l.pending) > 0 {
			j := l.pending[0]
			l.pending[0] = nil
			l.pending = l.pending[1:]
			l.mu.Unlock()
			return j, true
		}
		l.mu.Unlock()

		select {
		case <-l.wake:
		case <-l.quit:
			return nil, false
		}
	}
}

func (l *limiter) dispatch() {
	for {
		j, ok := l.next()
		if !ok {
			return
		}
		err := l.admit(j)
		l.metrics.queued.WithLabelValues(categoryLabel(l.category)).Dec()
		if err != nil {
			j.finish(err)
			continue
		}

		go func(j *job) {
			defer l.slots.Release(1)
			j.finish(run(j.ctx, l.category, l.metrics, j.call))
		}(j)
	}
}

// admit blocks until j holds a slot and its start fits the interval cap.
func (l *limiter) admit(j *job) error {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	if err := l.slots.Acquire(j.ctx, 1); err != nil {
		return err
	}
	if err := l.pace.Wait(j.ctx); err != nil {
		l.slots.Release(1)
		return err
	}
	return nil
}

func (l *limiter) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	close(l.quit)
	for _, j := range pending {
		l.metrics.queued.WithLabelValues(categoryLabel(l.category)).Dec()
		j.finish(ErrQueueClosed)
	}
}

func run(ctx context.Context, category string, m *metrics, call Call) error {
	label := categoryLabel(category)
	m.inFlight.WithLabelValues(label).Inc()
	defer m.inFlight.WithLabelValues(label).Dec()

	start := time.Now()
	err := call(ctx)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.duration.WithLabelValues(label, outcome).Observe(time.Since(start).Seconds())
	return err
}
