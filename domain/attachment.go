package domain

import (
	"time"

	"github.com/google/uuid"
)

// Attachment links a stored file to a task. It owns no bytes; StorageKey
// is an opaque locator into the external object store.
type Attachment struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"taskId"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	StorageKey  string    `json:"-"`
	UploadedBy  string    `json:"uploadedBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AttachmentInput carries upload metadata for a new attachment.
type AttachmentInput struct {
	Filename    string
	ContentType string
	SizeBytes   int64
	UploadedBy  string
}

// NewAttachment builds a validated attachment record for the given task.
// StorageKey is assigned later, once the blob has been stored.
func NewAttachment(taskID string, in AttachmentInput) (Attachment, error) {
	if in.Filename == "" {
		return Attachment{}, ValidationError{Reason: "filename must not be empty"}
	}
	if in.SizeBytes < 0 {
		return Attachment{}, ValidationError{Reason: "size must not be negative"}
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return Attachment{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		Filename:    in.Filename,
		ContentType: contentType,
		SizeBytes:   in.SizeBytes,
		UploadedBy:  in.UploadedBy,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
