// Package storage persists tasks and attachments in a relational database.
// It is the source of truth; every mutating method returns only after the
// surrounding transaction has committed.
package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Andrey79999/kanban/domain"
)

type taskRecord struct {
	ID          string `gorm:"primaryKey;size:36"`
	Title       string `gorm:"size:200;not null"`
	Description string `gorm:"type:text"`
	Status      string `gorm:"size:20;not null;index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (taskRecord) TableName() string { return "tasks" }

type attachmentRecord struct {
	ID          string `gorm:"primaryKey;size:36"`
	TaskID      string `gorm:"size:36;not null;index"`
	Filename    string `gorm:"size:255;not null"`
	ContentType string `gorm:"size:100;not null"`
	SizeBytes   int64  `gorm:"not null"`
	StorageKey  string `gorm:"size:500;uniqueIndex;not null"`
	UploadedBy  string `gorm:"size:100"`
	CreatedAt   time.Time
}

func (attachmentRecord) TableName() string { return "attachments" }

type taskRow struct {
	taskRecord
	FilesCount int
}

// Store provides transactional access to task and attachment records.
type Store struct {
	db *gorm.DB
}

// New opens a Postgres connection and migrates the schema.
func New(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := db.AutoMigrate(&taskRecord{}, &attachmentRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate schema")
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open gorm handle. Used by tests and callers
// that manage their own connection.
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&taskRecord{}, &attachmentRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate schema")
	}
	return &Store{db: db}, nil
}

// CreateTask inserts a new task.
func (s *Store) CreateTask(ctx context.Context, t domain.Task) error {
	rec := taskToRecord(t)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return errors.Wrap(err, "insert task")
	}
	return nil
}

func (s *Store) filesCountSubquery() *gorm.DB {
	return s.db.Model(&attachmentRecord{}).
		Select("count(*)").
		Where("attachments.task_id = tasks.id")
}

// GetTask returns one task with its attachment count.
func (s *Store) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var row taskRow
	err := s.db.WithContext(ctx).
		Model(&taskRecord{}).
		Select("tasks.*, (?) AS files_count", s.filesCountSubquery()).
		Where("tasks.id = ?", id).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Task{}, domain.ErrNotFound
		}
		return domain.Task{}, errors.Wrap(err, "select task")
	}
	return rowToTask(row), nil
}

// ListTasks returns tasks ordered by creation time, optionally filtered by
// status, along with the total matching count.
func (s *Store) ListTasks(ctx context.Context, status *domain.Status, offset, limit int) ([]domain.Task, int64, error) {
	base := s.db.WithContext(ctx).Model(&taskRecord{})
	if status != nil {
		base = base.Where("tasks.status = ?", string(*status))
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count tasks")
	}

	q := base.Select("tasks.*, (?) AS files_count", s.filesCountSubquery()).
		Order("tasks.created_at ASC")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []taskRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, 0, errors.Wrap(err, "select tasks")
	}

	tasks := make([]domain.Task, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, rowToTask(row))
	}
	return tasks, total, nil
}

// UpdateTask overwrites the mutable columns of an existing task.
func (s *Store) UpdateTask(ctx context.Context, t domain.Task) error {
	res := s.db.WithContext(ctx).
		Model(&taskRecord{}).
		Where("id = ?", t.ID).
		Updates(map[string]any{
			"title":       t.Title,
			"description": t.Description,
			"status":      string(t.Status),
			"updated_at":  t.UpdatedAt,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "update task")
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteTask removes a task and all of its attachment records in one
// transaction, returning the removed attachments so the caller can clean
// up their blobs.
func (s *Store) DeleteTask(ctx context.Context, id string) ([]domain.Attachment, error) {
	var removed []domain.Attachment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var recs []attachmentRecord
		if err := tx.Where("task_id = ?", id).Find(&recs).Error; err != nil {
			return errors.Wrap(err, "select attachments")
		}
		if len(recs) > 0 {
			if err := tx.Where("task_id = ?", id).Delete(&attachmentRecord{}).Error; err != nil {
				return errors.Wrap(err, "delete attachments")
			}
		}
		res := tx.Where("id = ?", id).Delete(&taskRecord{})
		if res.Error != nil {
			return errors.Wrap(res.Error, "delete task")
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		removed = make([]domain.Attachment, 0, len(recs))
		for _, rec := range recs {
			removed = append(removed, attachmentToDomain(rec))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// CreateAttachment inserts an attachment after re-checking, inside the
// transaction, that the owning task still exists.
func (s *Store) CreateAttachment(ctx context.Context, a domain.Attachment) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner taskRecord
		if err := tx.Select("id").Where("id = ?", a.TaskID).Take(&owner).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return errors.Wrap(err, "select owning task")
		}
		rec := attachmentToRecord(a)
		if err := tx.Create(&rec).Error; err != nil {
			return errors.Wrap(err, "insert attachment")
		}
		return nil
	})
}

// ListAttachments returns the attachments of one task, oldest first.
func (s *Store) ListAttachments(ctx context.Context, taskID string) ([]domain.Attachment, error) {
	var owner taskRecord
	if err := s.db.WithContext(ctx).Select("id").Where("id = ?", taskID).Take(&owner).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, errors.Wrap(err, "select owning task")
	}
	var recs []attachmentRecord
	if err := s.db.WithContext(ctx).Where("task_id = ?", taskID).Order("created_at ASC").Find(&recs).Error; err != nil {
		return nil, errors.Wrap(err, "select attachments")
	}
	out := make([]domain.Attachment, 0, len(recs))
	for _, rec := range recs {
		out = append(out, attachmentToDomain(rec))
	}
	return out, nil
}

// GetAttachment returns one attachment record.
func (s *Store) GetAttachment(ctx context.Context, id string) (domain.Attachment, error) {
	var rec attachmentRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Attachment{}, domain.ErrNotFound
		}
		return domain.Attachment{}, errors.Wrap(err, "select attachment")
	}
	return attachmentToDomain(rec), nil
}

// DeleteAttachment removes one attachment record and returns it so the
// caller can clean up the blob.
func (s *Store) DeleteAttachment(ctx context.Context, id string) (domain.Attachment, error) {
	var removed domain.Attachment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec attachmentRecord
		if err := tx.Where("id = ?", id).Take(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return errors.Wrap(err, "select attachment")
		}
		if err := tx.Where("id = ?", id).Delete(&attachmentRecord{}).Error; err != nil {
			return errors.Wrap(err, "delete attachment")
		}
		removed = attachmentToDomain(rec)
		return nil
	})
	if err != nil {
		return domain.Attachment{}, err
	}
	return removed, nil
}

func taskToRecord(t domain.Task) taskRecord {
	return taskRecord{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func rowToTask(row taskRow) domain.Task {
	return domain.Task{
		ID:          row.ID,
		Title:       row.Title,
		Description: row.Description,
		Status:      domain.Status(row.Status),
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
		FilesCount:  row.FilesCount,
	}
}

func attachmentToRecord(a domain.Attachment) attachmentRecord {
	return attachmentRecord{
		ID:          a.ID,
		TaskID:      a.TaskID,
		Filename:    a.Filename,
		ContentType: a.ContentType,
		SizeBytes:   a.SizeBytes,
		StorageKey:  a.StorageKey,
		UploadedBy:  a.UploadedBy,
		CreatedAt:   a.CreatedAt,
	}
}

func attachmentToDomain(rec attachmentRecord) domain.Attachment {
	return domain.Attachment{
		ID:          rec.ID,
		TaskID:      rec.TaskID,
		Filename:    rec.Filename,
		ContentType: rec.ContentType,
		SizeBytes:   rec.SizeBytes,
		StorageKey:  rec.StorageKey,
		UploadedBy:  rec.UploadedBy,
		CreatedAt:   rec.CreatedAt,
	}
}
