package tasks

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"taskmate/domain"
)

// Store is the remote document store holding each user's tasks.
type Store interface {
	ListTasks(ctx context.Context, userID string) ([]domain.Task, error)
	GetTask(ctx context.Context, userID, id string) (domain.Task, error)
	AddTask(ctx context.Context, userID string, fields domain.TaskFields) (domain.Task, error)
	UpdateTask(ctx context.Context, userID, id string, patch domain.TaskPatch) error
	DeleteTask(ctx context.Context, userID, id string) error
}

// Journal receives an event for every durable task change.
type Journal interface {
	Record(ctx context.Context, userID string, ev domain.TaskEvent) error
}

// Repository scopes task persistence to a user and classifies failures.
type Repository struct {
	store   Store
	journal Journal
	log     *log.Logger
	now     func() time.Time
}

// NewRepository returns a Repository over store. journal may be nil.
func NewRepository(store Store, journal Journal, logger *log.Logger) *Repository {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Repository{store: store, journal: journal, log: logger, now: time.Now}
}

// Load fetches every task in the user's namespace.
func (r *Repository) Load(ctx context.Context, userID string) ([]domain.Task, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	tasks, err := r.store.ListTasks(ctx, userID)
	if err != nil {
		return nil, remoteFailure("load tasks", err)
	}
	return tasks, nil
}

// Get fetches one task directly from the store.
func (r *Repository) Get(ctx context.Context, userID, id string) (domain.Task, error) {
	if userID == "" {
		return domain.Task{}, domain.ErrUnauthenticated
	}
	t, err := r.store.GetTask(ctx, userID, id)
	if err != nil {
		return domain.Task{}, remoteFailure("get task", err)
	}
	return t, nil
}

// Create persists a new task. Callers trim the fields; Create only checks
// that a title is present.
func (r *Repository) Create(ctx context.Context, userID string, fields domain.TaskFields) (domain.Task, error) {
	if userID == "" {
		return domain.Task{}, domain.ErrUnauthenticated
	}
	if strings.TrimSpace(fields.Title) == "" {
		return domain.Task{}, &domain.ValidationError{Field: "title", Message: "please enter a task title"}
	}
	fields.Priority = fields.Priority.OrNormal()
	t, err := r.store.AddTask(ctx, userID, fields)
	if err != nil {
		return domain.Task{}, remoteFailure("create task", err)
	}
	r.record(ctx, userID, domain.TaskCreated, t.ID, t)
	return t, nil
}

// Update applies a partial update to the task at id.
func (r *Repository) Update(ctx context.Context, userID, id string, patch domain.TaskPatch) error {
	if userID == "" {
		return domain.ErrUnauthenticated
	}
	if err := r.store.UpdateTask(ctx, userID, id, patch); err != nil {
		return remoteFailure("update task", err)
	}
	r.record(ctx, userID, domain.TaskUpdated, id, patch)
	return nil
}

// Remove deletes the task at id.
func (r *Repository) Remove(ctx context.Context, userID, id string) error {
	if userID == "" {
		return domain.ErrUnauthenticated
	}
	if err := r.store.DeleteTask(ctx, userID, id); err != nil {
		return remoteFailure("delete task", err)
	}
	r.record(ctx, userID, domain.TaskDeleted, id, nil)
	return nil
}

func (r *Repository) record(ctx context.Context, userID, typ, id string, data any) {
	if r.journal == nil {
		return
	}
	ev := domain.TaskEvent{Type: typ, TaskID: id, Time: r.now().UnixMilli()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			r.log.WithError(err).WithField("task", id).Warn("encode task event")
			return
		}
		ev.Data = raw
	}
	if err := r.journal.Record(ctx, userID, ev); err != nil {
		r.log.WithFields(log.Fields{"task": id, "type": typ}).WithError(err).Warn("record task event")
	}
}

func remoteFailure(op string, err error) error {
	return &domain.RemoteFailure{Op: op, Err: err}
}
