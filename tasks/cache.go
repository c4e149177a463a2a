package tasks

import (
	"sync"

	"taskmate/domain"
)

// Cache is the in-memory list of the signed-in user's tasks. Every write
// that follows a remote call carries the generation observed before the
// call; the write is dropped if the cache was reset in between.
type Cache struct {
	mu         sync.RWMutex
	tasks      []domain.Task
	index      map[string]int
	generation uint64
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{index: map[string]int{}}
}

// Generation identifies the current cache lifetime.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Reset discards every task and starts a new generation.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.tasks = nil
	c.index = map[string]int{}
}

// Snapshot returns a copy of the cached tasks in insertion order.
func (c *Cache) Snapshot() []domain.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Task, len(c.tasks))
	copy(out, c.tasks)
	return out
}

// Get returns the cached copy of the task with id.
func (c *Cache) Get(id string) (domain.Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[id]
	if !ok {
		return domain.Task{}, false
	}
	return c.tasks[i], true
}

// Replace swaps in a freshly loaded list. The first copy of a repeated id wins.
func (c *Cache) Replace(gen uint64, tasks []domain.Task) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	c.tasks = make([]domain.Task, 0, len(tasks))
	c.index = make(map[string]int, len(tasks))
	for _, t := range tasks {
		if _, dup := c.index[t.ID]; dup {
			continue
		}
		c.index[t.ID] = len(c.tasks)
		c.tasks = append(c.tasks, t)
	}
	return true
}

// ApplyCreate appends t, or replaces the entry with the same id.
func (c *Cache) ApplyCreate(gen uint64, t domain.Task) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	if i, ok := c.index[t.ID]; ok {
		c.tasks[i] = t
		return true
	}
	c.index[t.ID] = len(c.tasks)
	c.tasks = append(c.tasks, t)
	return true
}

// ApplyUpdate merges patch into the cached task and returns the result.
func (c *Cache) ApplyUpdate(gen uint64, id string, patch domain.TaskPatch) (domain.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return domain.Task{}, false
	}
	i, ok := c.index[id]
	if !ok {
		return domain.Task{}, false
	}
	c.tasks[i] = patch.Apply(c.tasks[i])
	return c.tasks[i], true
}

// ApplyRemove drops the task with id.
func (c *Cache) ApplyRemove(gen uint64, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	i, ok := c.index[id]
	if !ok {
		return true
	}
	c.tasks = append(c.tasks[:i], c.tasks[i+1:]...)
	delete(c.index, id)
	for j := i; j < len(c.tasks); j++ {
		c.index[c.tasks[j].ID] = j
	}
	return true
}

// Toggle flips the completion flag of the cached task with id.
func (c *Cache) Toggle(id string) (domain.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[id]
	if !ok {
		return domain.Task{}, false
	}
	c.tasks[i].Completed = !c.tasks[i].Completed
	return c.tasks[i], true
}
