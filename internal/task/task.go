package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotInitialized  = errors.New("task not initialized")
	ErrAlreadyRunning  = errors.New("task already running")
	ErrFinished        = errors.New("task already finished")
)

// Runner is the workflow algorithm executed by a Task. Implementations report
// outcomes through the task's progress and subtask log rather than errors.
type Runner interface {
	Run(ctx context.Context, t *Task)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, t *Task)

func (f RunnerFunc) Run(ctx context.Context, t *Task) { f(ctx, t) }

// Progress is the success/failure split of a task, both in percent.
type Progress struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// SubtaskEntry is one audit-trail record in the task log.
type SubtaskEntry struct {
	Description string `json:"description"`
	Done        bool   `json:"done"`
	Succeeded   bool   `json:"succeeded"`
	Error       string `json:"error,omitempty"`
}

// Snapshot is the point-in-time view of a task without its log.
type Snapshot struct {
	Name     string   `json:"name"`
	Type     Type     `json:"type"`
	Progress Progress `json:"progress"`
}

// Task is an observable, progress-tracked unit of background work.
type Task struct {
	name      string
	taskType  Type
	stepCount int
	step      int
	runner    Runner

	mu         sync.Mutex
	state      State
	progress   Progress
	log        []SubtaskEntry
	retryCount int
	model      any
	retryModel any
	payload    any

	observersMu  sync.Mutex
	observers    map[int]Observer
	nextObserver int
}

// New creates a task that will execute runner. stepCount determines the
// progress granularity: every step advances progress by round(100/stepCount).
func New(name string, taskType Type, stepCount int, runner Runner) (*Task, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: task name is required", ErrInvalidArgument)
	}
	if stepCount < 1 {
		return nil, fmt.Errorf("%w: step count must be at least 1, got %d", ErrInvalidArgument, stepCount)
	}
	if runner == nil {
		return nil, fmt.Errorf("%w: runner is required", ErrInvalidArgument)
	}

	step := int(math.Round(100 / float64(stepCount)))
	if step < 1 {
		step = 1
	}

	return &Task{
		name:      name,
		taskType:  taskType,
		stepCount: stepCount,
		step:      step,
		runner:    runner,
		state:     Created,
		log:       []SubtaskEntry{},
		observers: make(map[int]Observer),
	}, nil
}

func (t *Task) Name() string   { return t.name }
func (t *Task) Type() Type     { return t.taskType }
func (t *Task) StepCount() int { return t.stepCount }

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

func (t *Task) RetryCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retryCount
}

func (t *Task) Model() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.model
}

func (t *Task) Payload() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.payload
}

// SetRetryModel stores the model that a later Retry swaps in.
func (t *Task) SetRetryModel(model any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retryModel = model
}

// Retryable reports whether a retry cycle is still available and has a model to run.
func (t *Task) Retryable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retryCount < maxRetries && t.retryModel != nil
}

// Snapshot returns name, type and progress, omitting the log.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{Name: t.name, Type: t.taskType, Progress: t.progress}
}

// Log returns a copy of the subtask log.
func (t *Task) Log() []SubtaskEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SubtaskEntry, len(t.log))
	copy(out, t.log)
	return out
}

// Subscribe registers an observer and returns a function that removes it.
func (t *Task) Subscribe(o Observer) func() {
	t.observersMu.Lock()
	defer t.observersMu.Unlock()
	id := t.nextObserver
	t.nextObserver++
	t.observers[id] = o
	return func() {
		t.observersMu.Lock()
		defer t.observersMu.Unlock()
		delete(t.observers, id)
	}
}

// Init attaches the workflow input. It must be called before Run.
func (t *Task) Init(model, payload any) {
	t.mu.Lock()
	t.model = model
	t.payload = payload
	if t.state == Created {
		t.state = Initialized
	}
	t.mu.Unlock()

	t.emit(Event{Kind: EventInit})
}

// Run executes the runner once. Workflow failures are recorded in the
// progress and log; the returned error only reports lifecycle misuse.
func (t *Task) Run(ctx context.Context) error {
	t.mu.Lock()
	switch t.state {
	case Created:
		t.mu.Unlock()
		return ErrNotInitialized
	case Running, Retrying:
		t.mu.Unlock()
		return ErrAlreadyRunning
	case Done:
		t.mu.Unlock()
		return ErrFinished
	}
	t.state = Running
	t.mu.Unlock()

	t.emit(Event{Kind: EventRun})
	t.execute(ctx)
	t.finish()
	return nil
}

// Retry re-runs the workflow with the retry model. Only the first call
// performs a retry cycle; later calls only emit done.
func (t *Task) Retry(ctx context.Context) error {
	t.mu.Lock()
	switch t.state {
	case Created:
		t.mu.Unlock()
		return ErrNotInitialized
	case Running, Retrying:
		t.mu.Unlock()
		return ErrAlreadyRunning
	}

	t.retryCount++
	if t.retryCount > maxRetries {
		t.mu.Unlock()
		slog.WarnContext(ctx, "retry limit reached, skipping", "taskName", t.name, "retryCount", t.retryCount)
		t.emit(Event{Kind: EventDone})
		return nil
	}

	attempt := t.retryCount
	t.state = Retrying
	t.model = t.retryModel
	t.retryModel = nil
	t.progress.Failure = 0
	t.mu.Unlock()

	t.emit(Event{Kind: EventRetry, Attempt: attempt})
	t.execute(ctx)
	t.finish()
	return nil
}

// LogStartSubtask appends a log entry and returns its index.
func (t *Task) LogStartSubtask(description string, done bool) int {
	entry := SubtaskEntry{Description: description, Done: done, Succeeded: done}

	t.mu.Lock()
	t.log = append(t.log, entry)
	index := len(t.log) - 1
	t.mu.Unlock()

	t.emit(Event{Kind: EventSubtaskNew, Entry: entry, Index: index})
	return index
}

// LogUpdateSubtask resolves the entry at index. Unknown indexes are logged and ignored.
func (t *Task) LogUpdateSubtask(index int, succeeded bool, errText string) {
	t.mu.Lock()
	if index < 0 || index >= len(t.log) {
		size := len(t.log)
		t.mu.Unlock()
		slog.Error("subtask log entry not found", "taskName", t.name, "index", index, "logSize", size)
		return
	}
	t.log[index].Done = true
	t.log[index].Succeeded = succeeded
	t.log[index].Error = errText
	entry := t.log[index]
	t.mu.Unlock()

	t.emit(Event{Kind: EventSubtaskUpdate, Entry: entry, Index: index})
}

// AddSuccessProgress advances the success share by one step and returns it.
func (t *Task) AddSuccessProgress() int {
	t.mu.Lock()
	t.progress.Success = advance(t.progress.Success, t.progress.Failure, t.step)
	value := t.progress.Success
	t.mu.Unlock()

	t.emit(Event{Kind: EventProgressSuccess, Progress: value})
	return value
}

// AddFailureProgress advances the failure share by one step and returns it.
func (t *Task) AddFailureProgress() int {
	t.mu.Lock()
	t.progress.Failure = advance(t.progress.Failure, t.progress.Success, t.step)
	value := t.progress.Failure
	t.mu.Unlock()

	t.emit(Event{Kind: EventProgressFailure, Progress: value})
	return value
}

// advance adds step to own while the total is below 100, keeping own+other <= 100.
func advance(own, other, step int) int {
	if own+other < 100 {
		own += step
	}
	if own+other > 100 {
		own = 100 - other
	}
	return own
}

func (t *Task) execute(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "task runner panicked", "taskName", t.name, "panic", r)
		}
	}()
	t.runner.Run(ctx, t)
}

func (t *Task) finish() {
	t.mu.Lock()
	t.state = Done
	t.mu.Unlock()

	t.emit(Event{Kind: EventDone})
}

func (t *Task) emit(e Event) {
	e.TaskName = t.name

	t.observersMu.Lock()
	ids := make([]int, 0, len(t.observers))
	for id := range t.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	observers := make([]Observer, 0, len(ids))
	for _, id := range ids {
		observers = append(observers, t.observers[id])
	}
	t.observersMu.Unlock()

	for _, o := range observers {
		o(e)
	}
}
