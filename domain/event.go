package domain

import "encoding/json"

const (
	TaskCreated = "task-created"
	TaskUpdated = "task-updated"
	TaskDeleted = "task-deleted"
)

// TaskEvent records a durable change to a task.
type TaskEvent struct {
	Type   string          `json:"type"`
	TaskID string          `json:"taskId"`
	Time   int64           `json:"time"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// TaskEventEnvelope wraps an event with the user that caused it.
type TaskEventEnvelope struct {
	UserID string    `json:"userId"`
	Event  TaskEvent `json:"event"`
}
