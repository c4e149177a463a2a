package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskmate/domain"
)

type backend interface {
	ListTasks(ctx context.Context, userID string) ([]domain.Task, error)
	GetTask(ctx context.Context, userID, id string) (domain.Task, error)
	AddTask(ctx context.Context, userID string, fields domain.TaskFields) (domain.Task, error)
	UpdateTask(ctx context.Context, userID, id string, patch domain.TaskPatch) error
	DeleteTask(ctx context.Context, userID, id string) error
}

// Cache wraps a task backend with a Redis read-through cache of task lists.
// Point lookups always go to the backend.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
	log   *log.Logger
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
// A nil logger falls back to the logrus standard logger.
func NewCache(base backend, client *redis.Client, ttl time.Duration, logger *log.Logger) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Cache{base: base, redis: client, ttl: ttl, log: logger}
}

func (c *Cache) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	if tasks, ok := c.load(ctx, userID); ok {
		return tasks, nil
	}

	tasks, err := c.base.ListTasks(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.store(ctx, userID, tasks)
	return tasks, nil
}

func (c *Cache) GetTask(ctx context.Context, userID, id string) (domain.Task, error) {
	return c.base.GetTask(ctx, userID, id)
}

func (c *Cache) AddTask(ctx context.Context, userID string, fields domain.TaskFields) (domain.Task, error) {
	t, err := c.base.AddTask(ctx, userID, fields)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, userID)
	return t, nil
}

func (c *Cache) UpdateTask(ctx context.Context, userID, id string, patch domain.TaskPatch) error {
	// evict even on failure, the backend may have applied part of it
	defer c.evict(ctx, userID)
	return c.base.UpdateTask(ctx, userID, id, patch)
}

func (c *Cache) DeleteTask(ctx context.Context, userID, id string) error {
	defer c.evict(ctx, userID)
	return c.base.DeleteTask(ctx, userID, id)
}

func (c *Cache) load(ctx context.Context, userID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).WithField("user", userID).Warn("read cached task list")
			c.evict(ctx, userID)
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		c.log.WithError(err).WithField("user", userID).Warn("decode cached task list")
		c.evict(ctx, userID)
		return nil, false
	}
	return tasks, true
}

func (c *Cache) store(ctx context.Context, userID string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, tasksCacheKey(userID), data, c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("user", userID).Warn("store cached task list")
	}
}

func (c *Cache) evict(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	// a failed delete leaves the old list readable until the TTL expires
	if err := c.redis.Del(ctx, tasksCacheKey(userID)).Err(); err != nil {
		c.log.WithError(err).WithField("user", userID).Warn("evict cached task list")
	}
}

func tasksCacheKey(userID string) string {
	return "tasks:" + userID
}
