package task

// EventKind identifies a task event.
type EventKind string

const (
	EventInit            EventKind = "init"
	EventRun             EventKind = "run"
	EventRetry           EventKind = "retry"
	EventDone            EventKind = "done"
	EventProgressSuccess EventKind = "progress:success"
	EventProgressFailure EventKind = "progress:failure"
	EventSubtaskNew      EventKind = "subtask:new"
	EventSubtaskUpdate   EventKind = "subtask:update"
)

// Event is a tagged union; which payload fields are meaningful depends on Kind.
//
//	EventRetry                               Attempt
//	EventProgressSuccess/EventProgressFailure Progress
//	EventSubtaskNew                          Entry, Index
//	EventSubtaskUpdate                       Entry, Index
type Event struct {
	Kind     EventKind    `json:"kind"`
	TaskName string       `json:"taskName"`
	Attempt  int          `json:"attempt,omitempty"`
	Progress int          `json:"progress,omitempty"`
	Entry    SubtaskEntry `json:"entry"`
	Index    int          `json:"index"`
}

// Observer receives task events synchronously, in emission order.
// Observers must not block and must not call back into Subscribe.
type Observer func(Event)
