package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenAds/loader/internal/config"
)

func testConfig() config.DispatchConfig {
	return config.DispatchConfig{
		Default:   config.Limit{Concurrency: 10, IntervalCap: 10},
		Interval:  time.Second,
		Overrides: map[string]config.Limit{},
	}
}

func TestCategory(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
	}{
		{"/v1.2/campaign/create/", "campaign"},
		{"/oauth2/advertiser/get/", ""},
		{"/v1.1/creative/copyright/get/", "creative"},
		{"/v1.2/file/video/ad/upload/", "file"},
		{"/v1.2/creative/image/upload/", "creative"},
		{"v1.2/adgroup/create", "adgroup"},
		{"/v1.2/advertiser/info/?advertiser_ids=1", "advertiser"},
		{"/v1.2/create/", ""},
		{"/", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, Category(tt.endpoint))
		})
	}
}

// inFlightTracker records start times and the peak number of concurrent calls.
type inFlightTracker struct {
	mu      sync.Mutex
	current int
	peak    int
	starts  []time.Time
}

func (tr *inFlightTracker) call(hold time.Duration) Call {
	return func(ctx context.Context) error {
		tr.mu.Lock()
		tr.current++
		if tr.current > tr.peak {
			tr.peak = tr.current
		}
		tr.starts = append(tr.starts, time.Now())
		tr.mu.Unlock()

		time.Sleep(hold)

		tr.mu.Lock()
		tr.current--
		tr.mu.Unlock()
		return nil
	}
}

func TestQueueRespectsConcurrencyAndIntervalCap(t *testing.T) {
	q := NewQueue(testConfig(), prometheus.NewRegistry())
	defer q.Close()

	tr := &inFlightTracker{}
	req := Request{AppID: "app", Method: "POST", Endpoint: "/v1.2/campaign/create/"}

	var wg sync.WaitGroup
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, q.Push(context.Background(), req, tr.call(1100*time.Millisecond)))
		}()
	}
	wg.Wait()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Len(t, tr.starts, 15)
	assert.LessOrEqual(t, tr.peak, 10)

	sort.Slice(tr.starts, func(i, j int) bool { return tr.starts[i].Before(tr.starts[j]) })
	for i := 0; i+10 < len(tr.starts); i++ {
		// The 11th start after any start must fall outside that start's window,
		// allowing for timer jitter.
		assert.GreaterOrEqual(t, tr.starts[i+10].Sub(tr.starts[i]), 900*time.Millisecond)
	}
}

func TestQueueAppliesOverrides(t *testing.T) {
	cfg := testConfig()
	cfg.Overrides["creative"] = config.Limit{Concurrency: 2, IntervalCap: 10}
	q := NewQueue(cfg, prometheus.NewRegistry())
	defer q.Close()

	tr := &inFlightTracker{}
	req := Request{AppID: "app", Method: "GET", Endpoint: "/v1.1/creative/copyright/get/"}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, q.Push(context.Background(), req, tr.call(150*time.Millisecond)))
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, tr.peak)
}

func TestQueueSharesCategoryLimiterAcrossEndpoints(t *testing.T) {
	cfg := testConfig()
	cfg.Overrides["creative"] = config.Limit{Concurrency: 1, IntervalCap: 100}
	q := NewQueue(cfg, prometheus.NewRegistry())
	defer q.Close()

	blocking := make(chan struct{})
	holding := make(chan struct{})
	go func() {
		_ = q.Push(context.Background(), Request{AppID: "app", Endpoint: "/v1.1/creative/copyright/get/"}, func(context.Context) error {
			close(holding)
			<-blocking
			return nil
		})
	}()
	<-holding
	defer close(blocking)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	var ran atomic.Bool
	err := q.Push(ctx, Request{AppID: "app", Endpoint: "/v1.2/creative/image/upload/"}, func(context.Context) error {
		ran.Store(true)
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran.Load())
}

func TestQueueSpreadsStartsAcrossInterval(t *testing.T) {
	q := NewQueue(testConfig(), prometheus.NewRegistry())
	defer q.Close()

	tr := &inFlightTracker{}
	req := Request{AppID: "app", Method: "POST", Endpoint: "/v1.2/ad/create/"}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, q.Push(context.Background(), req, tr.call(0)))
		}()
	}
	wg.Wait()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Len(t, tr.starts, 5)
	sort.Slice(tr.starts, func(i, j int) bool { return tr.starts[i].Before(tr.starts[j]) })
	// 10 starts per second are paced one per 100ms.
	for i := 1; i < len(tr.starts); i++ {
		assert.GreaterOrEqual(t, tr.starts[i].Sub(tr.starts[i-1]), 80*time.Millisecond)
	}
}

func TestQueueUnclassifiedIsUnlimited(t *testing.T) {
	q := NewQueue(testConfig(), prometheus.NewRegistry())
	defer q.Close()

	const calls = 30
	var started sync.WaitGroup
	started.Add(calls)
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := q.Push(context.Background(), Request{AppID: "app", Endpoint: "/oauth2/advertiser/get/"}, func(context.Context) error {
				started.Done()
				<-release
				return nil
			})
			assert.NoError(t, err)
		}()
	}

	// Every call must start before any is released.
	started.Wait()
	close(release)
	wg.Wait()
}

func TestQueueIsolatesApplications(t *testing.T) {
	cfg := testConfig()
	cfg.Default = config.Limit{Concurrency: 1, IntervalCap: 10}
	q := NewQueue(cfg, prometheus.NewRegistry())
	defer q.Close()

	endpoint := "/v1.2/campaign/create/"
	blocking := make(chan struct{})
	holding := make(chan struct{})
	go func() {
		_ = q.Push(context.Background(), Request{AppID: "busy", Endpoint: endpoint}, func(context.Context) error {
			close(holding)
			<-blocking
			return nil
		})
	}()
	<-holding
	defer close(blocking)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var ran atomic.Bool
	err := q.Push(ctx, Request{AppID: "other", Endpoint: endpoint}, func(context.Context) error {
		ran.Store(true)
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, ran.Load())
}

func TestQueueReleasesInSubmissionOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Default = config.Limit{Concurrency: 1, IntervalCap: 100}
	q := NewQueue(cfg, prometheus.NewRegistry())
	defer q.Close()

	req := Request{AppID: "app", Endpoint: "/v1.2/ad/create/"}
	gate := make(chan struct{})
	holding := make(chan struct{})

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Push(context.Background(), req, func(context.Context) error {
			close(holding)
			<-gate
			return nil
		})
	}()
	<-holding

	queued := q.metrics.queued.WithLabelValues("ad")
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = q.Push(context.Background(), req, func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}(i)
		want := float64(i + 1)
		require.Eventually(t, func() bool { return testutil.ToFloat64(queued) == want }, time.Second, time.Millisecond)
	}

	close(gate)
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

type platformError struct{ code int }

func (e *platformError) Error() string { return "rate limited" }

func TestQueueAnnotatesErrors(t *testing.T) {
	q := NewQueue(testConfig(), prometheus.NewRegistry())
	defer q.Close()

	req := Request{AppID: "app", Method: "POST", Endpoint: "/v1.2/adgroup/create/", Payload: map[string]any{"a": 1}}
	err := q.Push(context.Background(), req, func(context.Context) error {
		return &platformError{code: 40100}
	})

	require.Error(t, err)
	assert.Equal(t, "rate limited", err.Error())

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, "app", callErr.AppID)
	assert.Equal(t, "/v1.2/adgroup/create/", callErr.Endpoint)

	var pe *platformError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 40100, pe.code)
}

func TestQueueCancelledWhileWaiting(t *testing.T) {
	cfg := testConfig()
	cfg.Default = config.Limit{Concurrency: 1, IntervalCap: 10}
	q := NewQueue(cfg, prometheus.NewRegistry())
	defer q.Close()

	req := Request{AppID: "app", Endpoint: "/v1.2/campaign/create/"}
	gate := make(chan struct{})
	holding := make(chan struct{})
	go func() {
		_ = q.Push(context.Background(), req, func(context.Context) error {
			close(holding)
			<-gate
			return nil
		})
	}()
	<-holding
	defer close(gate)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.Push(ctx, req, func(context.Context) error {
		t.Error("cancelled call must not run")
		return nil
	})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestQueueClose(t *testing.T) {
	q := NewQueue(testConfig(), prometheus.NewRegistry())
	q.Close()

	err := q.Push(context.Background(), Request{Endpoint: "/v1.2/campaign/create/"}, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueClosed)

	err = q.Push(context.Background(), Request{Endpoint: "/oauth2/advertiser/get/"}, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueClosed)
}
