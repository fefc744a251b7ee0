package manager

import (
	"slices"
	"sync"

	"github.com/OpenAds/loader/internal/task"
)

// Registry holds the live tasks of every tenant, at most one per task name.
// Notifications are delivered synchronously while the registry lock is held,
// so observers see them in mutation order and must not call back into the
// registry.
type Registry struct {
	mu           sync.Mutex
	tasks        map[string]map[string]*task.Task
	observers    map[int]func(Notification)
	nextObserver int
}

func NewRegistry() *Registry {
	return &Registry{
		tasks:     make(map[string]map[string]*task.Task),
		observers: make(map[int]func(Notification)),
	}
}

// Push stores t under (tenantID, t.Name()). It reports false and changes
// nothing when the tenant is empty, t is nil or the name is taken.
func (r *Registry) Push(tenantID string, t *task.Task) bool {
	if tenantID == "" || t == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tenantTasks, ok := r.tasks[tenantID]
	if !ok {
		tenantTasks = make(map[string]*task.Task)
		r.tasks[tenantID] = tenantTasks
	}
	if _, exists := tenantTasks[t.Name()]; exists {
		return false
	}
	tenantTasks[t.Name()] = t

	r.notify(Notification{Kind: TaskNew, TenantID: tenantID, TaskName: t.Name(), Task: t})
	return true
}

// Remove deletes the task named name. It reports false when there is none.
func (r *Registry) Remove(tenantID, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	tenantTasks, ok := r.tasks[tenantID]
	if !ok {
		return false
	}
	if _, exists := tenantTasks[name]; !exists {
		return false
	}
	delete(tenantTasks, name)
	if len(tenantTasks) == 0 {
		delete(r.tasks, tenantID)
	}

	r.notify(Notification{Kind: TaskDestroyed, TenantID: tenantID, TaskName: name})
	return true
}

// Get returns a copy of the tenant's live tasks keyed by name.
func (r *Registry) Get(tenantID string) map[string]*task.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]*task.Task, len(r.tasks[tenantID]))
	for name, t := range r.tasks[tenantID] {
		out[name] = t
	}
	return out
}

// Lookup returns the live task named name.
func (r *Registry) Lookup(tenantID, name string) (*task.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[tenantID][name]
	return t, ok
}

// Len returns the number of live tasks across tenants.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, tenantTasks := range r.tasks {
		n += len(tenantTasks)
	}
	return n
}

// Subscribe registers an observer and returns a function that removes it.
func (r *Registry) Subscribe(o func(Notification)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextObserver
	r.nextObserver++
	r.observers[id] = o
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.observers, id)
	}
}

// notify must be called with r.mu held.
func (r *Registry) notify(n Notification) {
	ids := make([]int, 0, len(r.observers))
	for id := range r.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		r.observers[id](n)
	}
}
