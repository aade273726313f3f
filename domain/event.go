package domain

import "time"

// EventKind identifies the mutation an event describes.
type EventKind string

const (
	EventTaskCreated       EventKind = "task_created"
	EventTaskUpdated       EventKind = "task_updated"
	EventTaskDeleted       EventKind = "task_deleted"
	EventTaskStatusChanged EventKind = "task_status_changed"
)

// Event is a fire-and-forget notification describing one committed task
// mutation. Events are never persisted; clients that miss one resync by
// re-fetching the task list.
type Event struct {
	Kind EventKind
	// Origin is the connection id of the acting client, when known. The
	// hub suppresses delivery back to this connection and clients use it
	// to discard their own echo.
	Origin    string
	Timestamp time.Time

	// Task is the post-mutation snapshot for created/updated events.
	Task *Task
	// TaskID is set for deleted and status-changed events.
	TaskID    string
	OldStatus Status
	NewStatus Status
}

// NewTaskCreated builds the event emitted after a create commits.
func NewTaskCreated(t Task, origin string) Event {
	return Event{Kind: EventTaskCreated, Origin: origin, Timestamp: time.Now().UTC(), Task: &t}
}

// NewTaskUpdated builds the event emitted after an update commits.
func NewTaskUpdated(t Task, origin string) Event {
	return Event{Kind: EventTaskUpdated, Origin: origin, Timestamp: time.Now().UTC(), Task: &t}
}

// NewTaskDeleted builds the event emitted after a delete commits.
func NewTaskDeleted(taskID, origin string) Event {
	return Event{Kind: EventTaskDeleted, Origin: origin, Timestamp: time.Now().UTC(), TaskID: taskID}
}

// NewTaskStatusChanged builds the event emitted after a column move commits.
func NewTaskStatusChanged(taskID string, old, next Status, origin string) Event {
	return Event{
		Kind:      EventTaskStatusChanged,
		Origin:    origin,
		Timestamp: time.Now().UTC(),
		TaskID:    taskID,
		OldStatus: old,
		NewStatus: next,
	}
}
