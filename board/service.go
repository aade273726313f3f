// Package board coordinates task mutations: each operation validates
// input, commits against the store, and only then hands the resulting
// event to the fanout. Notification never races ahead of durability, and
// fanout trouble never surfaces to the mutating caller.
package board

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/Andrey79999/kanban/domain"
	"github.com/Andrey79999/kanban/objectstore"
)

// Store is the persistence the coordinator mutates. A nil error from a
// mutating method means the transaction committed.
type Store interface {
	CreateTask(ctx context.Context, t domain.Task) error
	GetTask(ctx context.Context, id string) (domain.Task, error)
	ListTasks(ctx context.Context, status *domain.Status, offset, limit int) ([]domain.Task, int64, error)
	UpdateTask(ctx context.Context, t domain.Task) error
	DeleteTask(ctx context.Context, id string) ([]domain.Attachment, error)
	CreateAttachment(ctx context.Context, a domain.Attachment) error
	ListAttachments(ctx context.Context, taskID string) ([]domain.Attachment, error)
	GetAttachment(ctx context.Context, id string) (domain.Attachment, error)
	DeleteAttachment(ctx context.Context, id string) (domain.Attachment, error)
}

// Broadcaster fans one committed event out to live connections, excluding
// the originator.
type Broadcaster interface {
	Broadcast(ev domain.Event, excludeID string)
}

// BlobStore owns attachment bytes in external object storage.
type BlobStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	PresignGet(key, filename string) (string, error)
}

// Service is the single choke point for task and attachment mutations.
type Service struct {
	store  Store
	hub    Broadcaster
	blobs  BlobStore
	policy UploadPolicy
	logger *log.Logger
	locks  *keyedMutex
}

// NewService wires the coordinator. hub and blobs may be nil in tests that
// don't exercise fanout or uploads.
func NewService(store Store, hub Broadcaster, blobs BlobStore, policy UploadPolicy, logger *log.Logger) *Service {
	if store == nil {
		panic("board.NewService: store is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{
		store:  store,
		hub:    hub,
		blobs:  blobs,
		policy: policy,
		logger: logger,
		locks:  newKeyedMutex(),
	}
}

// CreateTask validates and persists a new task, then announces it.
func (s *Service) CreateTask(ctx context.Context, origin string, in domain.TaskInput) (domain.Task, error) {
	task, err := domain.NewTask(in)
	if err != nil {
		return domain.Task{}, err
	}

	unlock := s.locks.lock(task.ID)
	defer unlock()

	if err := s.store.CreateTask(ctx, task); err != nil {
		return domain.Task{}, err
	}
	s.publish(domain.NewTaskCreated(task, origin))
	return task, nil
}

// GetTask returns one task.
func (s *Service) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return s.store.GetTask(ctx, id)
}

// ListTasks returns tasks with the total matching count. statusFilter may
// be empty for no filter.
func (s *Service) ListTasks(ctx context.Context, statusFilter string, offset, limit int) ([]domain.Task, int64, error) {
	var status *domain.Status
	if statusFilter != "" {
		parsed, err := domain.ParseStatus(statusFilter)
		if err != nil {
			return nil, 0, err
		}
		status = &parsed
	}
	return s.store.ListTasks(ctx, status, offset, limit)
}

// UpdateTask applies a partial update and announces the new snapshot.
func (s *Service) UpdateTask(ctx context.Context, origin, id string, patch domain.TaskPatch) (domain.Task, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := task.Apply(patch); err != nil {
		return domain.Task{}, err
	}
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return domain.Task{}, err
	}
	s.publish(domain.NewTaskUpdated(task, origin))
	return task, nil
}

// ChangeStatus moves a task to another column. Any valid column may follow
// any other.
func (s *Service) ChangeStatus(ctx context.Context, origin, id, newStatus string) (domain.Task, error) {
	status, err := domain.ParseStatus(newStatus)
	if err != nil {
		return domain.Task{}, err
	}

	unlock := s.locks.lock(id)
	defer unlock()

	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	old := task.Status
	raw := string(status)
	if err := task.Apply(domain.TaskPatch{Status: &raw}); err != nil {
		return domain.Task{}, err
	}
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return domain.Task{}, err
	}
	s.publish(domain.NewTaskStatusChanged(task.ID, old, status, origin))
	return task, nil
}

// DeleteTask removes a task and cascade-deletes its attachments. Blob
// cleanup happens after commit and is best-effort: a failed blob delete is
// logged and never fails the operation.
func (s *Service) DeleteTask(ctx context.Context, origin, id string) error {
	unlock := s.locks.lock(id)
	defer unlock()

	removed, err := s.store.DeleteTask(ctx, id)
	if err != nil {
		return err
	}
	s.publish(domain.NewTaskDeleted(id, origin))
	for _, a := range removed {
		s.deleteBlob(ctx, a)
	}
	return nil
}

// Attach validates the upload, verifies the task exists before any object
// store contact, stores the blob, and records the linkage.
func (s *Service) Attach(ctx context.Context, taskID string, in domain.AttachmentInput, content []byte) (domain.Attachment, error) {
	if err := s.policy.Validate(in.Filename, in.SizeBytes); err != nil {
		return domain.Attachment{}, err
	}
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return domain.Attachment{}, err
	}
	attachment, err := domain.NewAttachment(taskID, in)
	if err != nil {
		return domain.Attachment{}, err
	}
	attachment.StorageKey = objectstore.BuildKey(taskID, in.Filename)

	if err := s.blobs.Put(ctx, attachment.StorageKey, content, attachment.ContentType); err != nil {
		return domain.Attachment{}, err
	}
	if err := s.store.CreateAttachment(ctx, attachment); err != nil {
		// The task vanished (or the insert failed) after the blob was
		// stored; don't leave the blob orphaned.
		s.deleteBlob(ctx, attachment)
		return domain.Attachment{}, err
	}
	return attachment, nil
}

// ListAttachments returns a task's attachments.
func (s *Service) ListAttachments(ctx context.Context, taskID string) ([]domain.Attachment, error) {
	return s.store.ListAttachments(ctx, taskID)
}

// GetAttachment returns one attachment's metadata.
func (s *Service) GetAttachment(ctx context.Context, id string) (domain.Attachment, error) {
	return s.store.GetAttachment(ctx, id)
}

// Detach removes the linkage. Detaching an already-removed attachment is a
// no-op; the stored blob is cleaned up best-effort.
func (s *Service) Detach(ctx context.Context, id string) error {
	removed, err := s.store.DeleteAttachment(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	s.deleteBlob(ctx, removed)
	return nil
}

// DownloadAttachment streams one attachment's bytes from the object store.
func (s *Service) DownloadAttachment(ctx context.Context, id string) ([]byte, domain.Attachment, error) {
	attachment, err := s.store.GetAttachment(ctx, id)
	if err != nil {
		return nil, domain.Attachment{}, err
	}
	data, err := s.blobs.Get(ctx, attachment.StorageKey)
	if err != nil {
		return nil, domain.Attachment{}, err
	}
	return data, attachment, nil
}

// AttachmentDownloadURL returns a time-limited direct download URL.
func (s *Service) AttachmentDownloadURL(ctx context.Context, id string) (string, error) {
	attachment, err := s.store.GetAttachment(ctx, id)
	if err != nil {
		return "", err
	}
	return s.blobs.PresignGet(attachment.StorageKey, attachment.Filename)
}

// publish hands a committed event to the fanout. It never fails the
// mutation: delivery problems are contained inside the hub.
func (s *Service) publish(ev domain.Event) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(ev, ev.Origin)
}

func (s *Service) deleteBlob(ctx context.Context, a domain.Attachment) {
	if s.blobs == nil || a.StorageKey == "" {
		return
	}
	if err := s.blobs.Delete(ctx, a.StorageKey); err != nil {
		s.logger.WithFields(log.Fields{"attachment": a.ID, "key": a.StorageKey}).Warnf("blob cleanup failed: %v", err)
	}
}
