package manager

import (
	"github.com/OpenAds/loader/internal/task"
)

// NotificationKind names a registry change.
type NotificationKind string

const (
	TaskNew       NotificationKind = "task:new"
	TaskDestroyed NotificationKind = "task:destroyed"
)

// Notification reports a task entering or leaving the registry.
type Notification struct {
	Kind     NotificationKind
	TenantID string
	TaskName string
	Task     *task.Task // nil for TaskDestroyed
}
