package stream

import (
	"github.com/OpenAds/loader/internal/task"
)

// Message types sent to clients.
const (
	TypeTaskNew       = "task:new"
	TypeTaskDestroyed = "task:destroyed"
	TypeTaskList      = "task:list"
)

// Message is one websocket frame.
type Message struct {
	Type     string `json:"type"`
	TaskName string `json:"taskName,omitempty"`
	Data     any    `json:"data,omitempty"`
}

// SubtaskData carries a log entry and its index.
type SubtaskData struct {
	Entry task.SubtaskEntry `json:"entry"`
	Index int               `json:"index"`
}

// messageFor maps a task event to its frame, e.g. EventProgressSuccess to
// "task:progress:success".
func messageFor(e task.Event) Message {
	msg := Message{Type: "task:" + string(e.Kind), TaskName: e.TaskName}
	switch e.Kind {
	case task.EventRetry:
		msg.Data = e.Attempt
	case task.EventProgressSuccess, task.EventProgressFailure:
		msg.Data = e.Progress
	case task.EventSubtaskNew, task.EventSubtaskUpdate:
		msg.Data = SubtaskData{Entry: e.Entry, Index: e.Index}
	}
	return msg
}
