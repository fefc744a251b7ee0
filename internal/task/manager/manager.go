package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/OpenAds/loader/internal/config"
	"github.com/OpenAds/loader/internal/metrics"
	"github.com/OpenAds/loader/internal/task"
	"github.com/OpenAds/loader/internal/task/persistence"
)

var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrTaskAlreadyRunning = errors.New("task already running")
)

// Hooks are callbacks around a task run. Either may be nil.
type Hooks struct {
	// OnRetry runs before a retry cycle starts.
	OnRetry func(ctx context.Context, t *task.Task)
	// OnFinish runs after every run or retry cycle, before the task leaves the registry.
	OnFinish func(ctx context.Context, t *task.Task)
}

// TaskView is the API representation of a live or recently finished task.
type TaskView struct {
	task.Snapshot
	State     task.State          `json:"state"`
	Retryable bool                `json:"retryable"`
	Log       []task.SubtaskEntry `json:"log"`
}

type taskKey struct {
	tenantID string
	name     string
}

type finishedTask struct {
	task  *task.Task
	hooks Hooks
}

// Manager launches tasks in the background, keeping them in the registry
// while they run. Finished tasks that can still be retried are remembered,
// bounded by the configured history size.
type Manager struct {
	registry *Registry
	metrics  *metrics.Tasks
	history  int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	finished map[taskKey]finishedTask
	order    []taskKey
}

func NewManager(registry *Registry, cfg config.WorkflowConfig, taskMetrics *metrics.Tasks) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	history := cfg.FinishedHistory
	if history < 1 {
		history = 1
	}
	return &Manager{
		registry: registry,
		metrics:  taskMetrics,
		history:  history,
		ctx:      ctx,
		cancel:   cancel,
		finished: make(map[taskKey]finishedTask),
	}
}

func (m *Manager) Registry() *Registry { return m.registry }

// Reserve claims the task's name for the tenant.
func (m *Manager) Reserve(tenantID string, t *task.Task) error {
	if tenantID == "" || t == nil {
		return fmt.Errorf("%w: tenant and task are required", task.ErrInvalidArgument)
	}
	if !m.registry.Push(tenantID, t) {
		return fmt.Errorf("%w: %s", ErrTaskAlreadyRunning, t.Name())
	}
	m.forget(taskKey{tenantID: tenantID, name: t.Name()})
	return nil
}

// Release drops a reserved task that will not be launched.
func (m *Manager) Release(tenantID, name string) {
	m.registry.Remove(tenantID, name)
}

// Launch initializes a reserved task and runs it on a background goroutine.
// When the run finishes, hooks.OnFinish is called and the task is removed
// from the registry.
func (m *Manager) Launch(tenantID string, t *task.Task, model, payload any, hooks Hooks) {
	t.Init(model, payload)
	m.metrics.Started(string(t.Type()))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := t.Run(m.ctx); err != nil {
			slog.ErrorContext(m.ctx, "task run rejected", "tenantID", tenantID, "taskName", t.Name(), "error", err)
		}
		m.complete(tenantID, t, hooks)
	}()
}

// Retry starts the retry cycle of a finished task.
func (m *Manager) Retry(tenantID, name string) error {
	key := taskKey{tenantID: tenantID, name: name}

	m.mu.Lock()
	entry, ok := m.finished[key]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}

	if !m.registry.Push(tenantID, entry.task) {
		return fmt.Errorf("%w: %s", ErrTaskAlreadyRunning, name)
	}
	m.forget(key)

	if entry.hooks.OnRetry != nil {
		entry.hooks.OnRetry(m.ctx, entry.task)
	}
	m.metrics.Retried(string(entry.task.Type()))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := entry.task.Retry(m.ctx); err != nil {
			slog.ErrorContext(m.ctx, "task retry rejected", "tenantID", tenantID, "taskName", name, "error", err)
		}
		m.complete(tenantID, entry.task, entry.hooks)
	}()
	return nil
}

// Tasks lists the tenant's live tasks and its retryable finished ones, by name.
func (m *Manager) Tasks(tenantID string) []TaskView {
	views := []TaskView{}
	live := m.registry.Get(tenantID)
	for _, t := range live {
		views = append(views, viewOf(t, false))
	}

	m.mu.Lock()
	for key, entry := range m.finished {
		if key.tenantID != tenantID {
			continue
		}
		if _, running := live[key.name]; running {
			continue
		}
		views = append(views, viewOf(entry.task, true))
	}
	m.mu.Unlock()

	slices.SortFunc(views, func(a, b TaskView) int { return strings.Compare(a.Name, b.Name) })
	return views
}

// Shutdown cancels running tasks and waits for their goroutines to finish.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for tasks: %w", ctx.Err())
	}
}

func (m *Manager) complete(tenantID string, t *task.Task, hooks Hooks) {
	// Outcomes are persisted even when shutdown has cancelled the run.
	ctx := context.WithoutCancel(m.ctx)
	if hooks.OnFinish != nil {
		hooks.OnFinish(ctx, t)
	}

	outcome := persistence.StatusFor(t.Progress())
	m.metrics.Finished(string(t.Type()), strings.ToLower(string(outcome)))
	slog.InfoContext(ctx, "task finished",
		"tenantID", tenantID,
		"taskName", t.Name(),
		"outcome", outcome,
		"retryCount", t.RetryCount())

	if t.Retryable() {
		m.remember(taskKey{tenantID: tenantID, name: t.Name()}, finishedTask{task: t, hooks: hooks})
	}
	m.registry.Remove(tenantID, t.Name())
}

func (m *Manager) remember(key taskKey, entry finishedTask) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.finished[key]; !exists {
		m.order = append(m.order, key)
	}
	m.finished[key] = entry

	for len(m.order) > m.history {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.finished, oldest)
	}
}

func (m *Manager) forget(key taskKey) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.finished[key]; !exists {
		return
	}
	delete(m.finished, key)
	m.order = slices.DeleteFunc(m.order, func(k taskKey) bool { return k == key })
}

func viewOf(t *task.Task, retryable bool) TaskView {
	return TaskView{
		Snapshot:  t.Snapshot(),
		State:     t.State(),
		Retryable: retryable,
		Log:       t.Log(),
	}
}
