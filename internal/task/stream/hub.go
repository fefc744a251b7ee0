package stream

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/OpenAds/loader/internal/auth"
	"github.com/OpenAds/loader/internal/task"
	"github.com/OpenAds/loader/internal/task/manager"
)

const (
	defaultBuffer = 256
	writeTimeout  = 10 * time.Second
)

type client struct {
	tenantID string
	send     chan Message
}

type liveTask struct {
	task        *task.Task
	unsubscribe func()
}

// Hub forwards registry notifications and task events to the websocket
// clients of the owning tenant.
type Hub struct {
	originPatterns []string
	buffer         int

	mu      sync.Mutex
	clients map[string]map[*client]struct{}
	live    map[string]map[string]liveTask

	stop      func()
	done      chan struct{}
	closeOnce sync.Once
}

// NewHub subscribes to the registry. originPatterns are passed to the
// websocket handshake; empty means same-origin only.
func NewHub(registry *manager.Registry, originPatterns []string) *Hub {
	h := &Hub{
		originPatterns: originPatterns,
		buffer:         defaultBuffer,
		clients:        make(map[string]map[*client]struct{}),
		live:           make(map[string]map[string]liveTask),
		done:           make(chan struct{}),
	}
	h.stop = registry.Subscribe(h.onNotification)
	return h
}

// Close detaches the hub from the registry and from every live task, and
// disconnects every client.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
	h.stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, tasks := range h.live {
		for _, lt := range tasks {
			lt.unsubscribe()
		}
	}
	h.live = make(map[string]map[string]liveTask)
}

func (h *Hub) onNotification(n manager.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch n.Kind {
	case manager.TaskNew:
		tenantID := n.TenantID
		unsubscribe := n.Task.Subscribe(func(e task.Event) {
			h.broadcast(tenantID, messageFor(e))
		})
		if h.live[tenantID] == nil {
			h.live[tenantID] = make(map[string]liveTask)
		}
		h.live[tenantID][n.TaskName] = liveTask{task: n.Task, unsubscribe: unsubscribe}
		h.broadcastLocked(tenantID, Message{Type: TypeTaskNew, TaskName: n.TaskName, Data: n.Task.Snapshot()})

	case manager.TaskDestroyed:
		if lt, ok := h.live[n.TenantID][n.TaskName]; ok {
			lt.unsubscribe()
			delete(h.live[n.TenantID], n.TaskName)
			if len(h.live[n.TenantID]) == 0 {
				delete(h.live, n.TenantID)
			}
		}
		h.broadcastLocked(n.TenantID, Message{Type: TypeTaskDestroyed, TaskName: n.TaskName})
	}
}

// register adds a client whose first message is the list of live tasks.
func (h *Hub) register(tenantID string) *client {
	c := &client{tenantID: tenantID, send: make(chan Message, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()

	snapshots := []task.Snapshot{}
	for _, lt := range h.live[tenantID] {
		snapshots = append(snapshots, lt.task.Snapshot())
	}
	slices.SortFunc(snapshots, func(a, b task.Snapshot) int { return strings.Compare(a.Name, b.Name) })
	c.send <- Message{Type: TypeTaskList, Data: snapshots}

	if h.clients[tenantID] == nil {
		h.clients[tenantID] = make(map[*client]struct{})
	}
	h.clients[tenantID][c] = struct{}{}
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients[c.tenantID], c)
	if len(h.clients[c.tenantID]) == 0 {
		delete(h.clients, c.tenantID)
	}
}

func (h *Hub) broadcast(tenantID string, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(tenantID, msg)
}

func (h *Hub) broadcastLocked(tenantID string, msg Message) {
	for c := range h.clients[tenantID] {
		// Non-blocking send - a slow client loses messages instead of stalling the task
		select {
		case c.send <- msg:
		default:
			slog.Warn("websocket client buffer full, message dropped",
				"tenantID", tenantID,
				"type", msg.Type,
				"taskName", msg.TaskName)
		}
	}
}

// ServeWS upgrades the request and streams the tenant's task messages until
// the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.GetAuthContext(r.Context())
	if authCtx == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	c := h.register(authCtx.TenantID())
	defer h.unregister(c)
	slog.DebugContext(r.Context(), "websocket client connected", "tenantID", c.tenantID)

	// Clients only listen; CloseRead handles control frames and cancels ctx on disconnect.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			slog.DebugContext(r.Context(), "websocket client disconnected", "tenantID", c.tenantID)
			return
		case <-h.done:
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case msg := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, msg)
			cancel()
			if err != nil {
				slog.DebugContext(r.Context(), "websocket write failed", "tenantID", c.tenantID, "error", err)
				return
			}
		}
	}
}
