package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the kanban column a task lives in.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

const maxTitleLen = 200

// ParseStatus validates a raw status value against the fixed column set.
// Any column may follow any other; membership is the only transition rule.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusTodo, StatusInProgress, StatusDone:
		return Status(raw), nil
	}
	return "", ValidationError{Reason: "invalid status '" + raw + "'"}
}

// Task represents a single board item.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	FilesCount  int       `json:"filesCount"`
}

// TaskInput carries the fields a client may set on creation.
type TaskInput struct {
	Title       string
	Description string
	Status      string
}

// TaskPatch is a partial update; nil fields are left untouched.
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *string
}

// NewTask builds a validated task with a server-assigned id and both
// timestamps set to creation time. Status defaults to todo.
func NewTask(in TaskInput) (Task, error) {
	title, err := validateTitle(in.Title)
	if err != nil {
		return Task{}, err
	}
	status := StatusTodo
	if in.Status != "" {
		status, err = ParseStatus(in.Status)
		if err != nil {
			return Task{}, err
		}
	}
	now := time.Now().UTC()
	return Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: in.Description,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Apply merges a partial update into the task and refreshes UpdatedAt.
func (t *Task) Apply(patch TaskPatch) error {
	if patch.Title != nil {
		title, err := validateTitle(*patch.Title)
		if err != nil {
			return err
		}
		t.Title = title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Status != nil {
		status, err := ParseStatus(*patch.Status)
		if err != nil {
			return err
		}
		t.Status = status
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func validateTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", ValidationError{Reason: "title must not be empty"}
	}
	if len([]rune(title)) > maxTitleLen {
		return "", ValidationError{Reason: "title exceeds 200 characters"}
	}
	return title, nil
}
