package api

import (
	"context"

	"github.com/Andrey79999/kanban/domain"
	"github.com/Andrey79999/kanban/stream"
)

// Board abstracts the mutation coordinator for handlers.
type Board interface {
	CreateTask(ctx context.Context, origin string, in domain.TaskInput) (domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	ListTasks(ctx context.Context, statusFilter string, offset, limit int) ([]domain.Task, int64, error)
	UpdateTask(ctx context.Context, origin, id string, patch domain.TaskPatch) (domain.Task, error)
	ChangeStatus(ctx context.Context, origin, id, status string) (domain.Task, error)
	DeleteTask(ctx context.Context, origin, id string) error
	Attach(ctx context.Context, taskID string, in domain.AttachmentInput, content []byte) (domain.Attachment, error)
	ListAttachments(ctx context.Context, taskID string) ([]domain.Attachment, error)
	GetAttachment(ctx context.Context, id string) (domain.Attachment, error)
	Detach(ctx context.Context, id string) error
	DownloadAttachment(ctx context.Context, id string) ([]byte, domain.Attachment, error)
	AttachmentDownloadURL(ctx context.Context, id string) (string, error)
}

// Streamer is the live-connection registry the event endpoint drives.
type Streamer interface {
	Register(id string) (*stream.Subscription, error)
	Unregister(id string)
	Count() int
}

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

type updateTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
}

type changeStatusRequest struct {
	Status string `json:"status"`
}

type listTasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
	Total int64         `json:"total"`
}

type downloadURLResponse struct {
	URL string `json:"url"`
}

type errorResponse struct {
	Error string `json:"error"`
}
