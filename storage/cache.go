package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Andrey79999/kanban/domain"
)

type backend interface {
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

// Cache wraps a Store with Redis-backed caching of task listings. Every
// committed mutation bumps a generation counter, which orphans all listing
// keys of the previous generation; orphans age out via the TTL.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

type cachedListing struct {
	Tasks []domain.Task `json:"tasks"`
	Total int64         `json:"total"`
}

const generationKey = "tasks:gen"

// NewCache creates a caching wrapper around base using the provided Redis
// client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListTasks(ctx context.Context, status *domain.Status, offset, limit int) ([]domain.Task, int64, error) {
	key, ok := c.listingKey(ctx, status, offset, limit)
	if ok {
		if listing, hit := c.loadListing(ctx, key); hit {
			return listing.Tasks, listing.Total, nil
		}
	}

	tasks, total, err := c.base.ListTasks(ctx, status, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	if ok {
		c.storeListing(ctx, key, cachedListing{Tasks: tasks, Total: total})
	}
	return tasks, total, nil
}

func (c *Cache) CreateTask(ctx context.Context, t domain.Task) error {
	if err := c.base.CreateTask(ctx, t); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) UpdateTask(ctx context.Context, t domain.Task) error {
	if err := c.base.UpdateTask(ctx, t); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, id string) ([]domain.Attachment, error) {
	removed, err := c.base.DeleteTask(ctx, id)
	if err != nil {
		return nil, err
	}
	c.evict(ctx)
	return removed, nil
}

// Attachment mutations change the listings' file counts, so they evict too.

func (c *Cache) CreateAttachment(ctx context.Context, a domain.Attachment) error {
	if err := c.base.CreateAttachment(ctx, a); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) DeleteAttachment(ctx context.Context, id string) (domain.Attachment, error) {
	removed, err := c.base.DeleteAttachment(ctx, id)
	if err != nil {
		return domain.Attachment{}, err
	}
	c.evict(ctx)
	return removed, nil
}

// Point lookups go straight to the backing store.

func (c *Cache) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return c.base.GetTask(ctx, id)
}

func (c *Cache) ListAttachments(ctx context.Context, taskID string) ([]domain.Attachment, error) {
	return c.base.ListAttachments(ctx, taskID)
}

func (c *Cache) GetAttachment(ctx context.Context, id string) (domain.Attachment, error) {
	return c.base.GetAttachment(ctx, id)
}

func (c *Cache) listingKey(ctx context.Context, status *domain.Status, offset, limit int) (string, bool) {
	if c.redis == nil || c.ttl == 0 {
		return "", false
	}
	gen, err := c.redis.Get(ctx, generationKey).Result()
	if err != nil {
		if err != redis.Nil {
			return "", false
		}
		gen = "0"
	}
	if _, err := strconv.ParseInt(gen, 10, 64); err != nil {
		return "", false
	}
	filter := "all"
	if status != nil {
		filter = string(*status)
	}
	return fmt.Sprintf("tasks:%s:%s:%d:%d", gen, filter, offset, limit), true
}

func (c *Cache) loadListing(ctx context.Context, key string) (cachedListing, bool) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return cachedListing{}, false
	}
	var listing cachedListing
	if err := json.Unmarshal(data, &listing); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return cachedListing{}, false
	}
	return listing, true
}

func (c *Cache) storeListing(ctx context.Context, key string, listing cachedListing) {
	data, err := json.Marshal(listing)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Incr(ctx, generationKey).Err()
}
