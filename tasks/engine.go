package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"taskmate/domain"
	"taskmate/session"
)

var (
	// ErrSessionChanged is returned when the signed-in user changed while a
	// flow was waiting on the store. The flow's result is discarded.
	ErrSessionChanged = fmt.Errorf("session changed during request: %w", domain.ErrUnauthenticated)

	// ErrNotListed is returned when toggling a task the cache does not hold.
	ErrNotListed = fmt.Errorf("toggle: %w", domain.ErrTaskNotFound)
)

// Session exposes the signed-in user and change notifications.
type Session interface {
	CurrentUserID() (string, bool)
	OnChange(fn session.Listener) func()
}

// Option configures an Engine.
type Option func(*Engine)

// WithToggleWriteThrough persists completion toggles immediately and rolls
// the cached flag back when the write fails.
func WithToggleWriteThrough() Option {
	return func(e *Engine) { e.writeThrough = true }
}

// Engine keeps the signed-in user's task list consistent with the store and
// runs the create, edit, delete and toggle flows. Flows are serialized.
type Engine struct {
	flow sync.Mutex

	session      Session
	repo         *Repository
	cache        *Cache
	log          *log.Logger
	writeThrough bool
	unsubscribe  func()
}

// NewEngine wires an Engine to the session and repository. Call Close to
// stop listening for session changes.
func NewEngine(sess Session, repo *Repository, logger *log.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = log.StandardLogger()
	}
	e := &Engine{
		session: sess,
		repo:    repo,
		cache:   NewCache(),
		log:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.unsubscribe = sess.OnChange(e.sessionChanged)
	return e
}

// Close detaches the engine from the session.
func (e *Engine) Close() {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
}

func (e *Engine) sessionChanged(userID string, ok bool) {
	e.cache.Reset()
	e.log.WithFields(log.Fields{"user": userID, "signed_in": ok}).Debug("session changed, task cache cleared")
}

// begin reads the generation before the user so a concurrent sign-out
// always invalidates the flow.
func (e *Engine) begin() (uint64, string, error) {
	gen := e.cache.Generation()
	userID, ok := e.session.CurrentUserID()
	if !ok {
		return 0, "", domain.ErrUnauthenticated
	}
	return gen, userID, nil
}

// Refresh reloads the user's tasks and replaces the cached list.
func (e *Engine) Refresh(ctx context.Context) ([]domain.Task, error) {
	e.flow.Lock()
	defer e.flow.Unlock()

	gen, userID, err := e.begin()
	if err != nil {
		return nil, err
	}
	tasks, err := e.repo.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !e.cache.Replace(gen, tasks) {
		e.log.WithField("user", userID).Debug("discarding tasks loaded for a previous session")
		return nil, ErrSessionChanged
	}
	return e.cache.Snapshot(), nil
}

// Tasks returns the cached list in insertion order.
func (e *Engine) Tasks() []domain.Task {
	return e.cache.Snapshot()
}

// View filters the cached list by search text and status.
func (e *Engine) View(query string, status domain.StatusFilter) []domain.Task {
	return domain.Filter(e.cache.Snapshot(), query, status)
}

// Stats aggregates over the full cached list.
func (e *Engine) Stats() domain.Stats {
	return domain.ComputeStats(e.cache.Snapshot())
}

// Create validates and persists a new task, then adds it to the cache.
func (e *Engine) Create(ctx context.Context, fields domain.TaskFields) (domain.Task, error) {
	e.flow.Lock()
	defer e.flow.Unlock()

	gen, userID, err := e.begin()
	if err != nil {
		return domain.Task{}, err
	}
	fields, err = fields.Normalize()
	if err != nil {
		return domain.Task{}, err
	}
	t, err := e.repo.Create(ctx, userID, fields)
	if err != nil {
		return domain.Task{}, err
	}
	if !e.cache.ApplyCreate(gen, t) {
		return domain.Task{}, ErrSessionChanged
	}
	e.log.WithFields(log.Fields{"user": userID, "task": t.ID}).Debug("task created")
	return t, nil
}

// Edit loads a fresh copy of the task from the store as an editable draft.
func (e *Engine) Edit(ctx context.Context, id string) (domain.Draft, error) {
	e.flow.Lock()
	defer e.flow.Unlock()

	_, userID, err := e.begin()
	if err != nil {
		return domain.Draft{}, err
	}
	t, err := e.repo.Get(ctx, userID, id)
	if err != nil {
		return domain.Draft{}, err
	}
	return domain.NewDraft(t), nil
}

// Save validates the draft, writes every field including the completion
// flag, and merges the result into the cache.
func (e *Engine) Save(ctx context.Context, d domain.Draft) (domain.Task, error) {
	e.flow.Lock()
	defer e.flow.Unlock()

	gen, userID, err := e.begin()
	if err != nil {
		return domain.Task{}, err
	}
	patch, err := d.Patch()
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.repo.Update(ctx, userID, d.ID, patch); err != nil {
		return domain.Task{}, err
	}
	t, ok := e.cache.ApplyUpdate(gen, d.ID, patch)
	if !ok {
		if e.cache.Generation() != gen {
			return domain.Task{}, ErrSessionChanged
		}
		t = patch.Apply(domain.Task{ID: d.ID})
	}
	e.log.WithFields(log.Fields{"user": userID, "task": d.ID}).Debug("task saved")
	return t, nil
}

// Delete removes the task from the store and the cache. Confirmation is the
// caller's job. A task the store reports missing is dropped from the cache too.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.flow.Lock()
	defer e.flow.Unlock()

	gen, userID, err := e.begin()
	if err != nil {
		return err
	}
	if err := e.repo.Remove(ctx, userID, id); err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			e.cache.ApplyRemove(gen, id)
		}
		return err
	}
	if !e.cache.ApplyRemove(gen, id) {
		return ErrSessionChanged
	}
	e.log.WithFields(log.Fields{"user": userID, "task": id}).Debug("task deleted")
	return nil
}

// ToggleCompletion flips the cached completion flag. Unless the engine was
// built WithToggleWriteThrough the store is not written, so the next
// Refresh restores the stored value.
func (e *Engine) ToggleCompletion(ctx context.Context, id string) (domain.Task, error) {
	e.flow.Lock()
	defer e.flow.Unlock()

	gen, userID, err := e.begin()
	if err != nil {
		return domain.Task{}, err
	}
	t, ok := e.cache.Toggle(id)
	if !ok {
		return domain.Task{}, ErrNotListed
	}
	if !e.writeThrough {
		return t, nil
	}

	done := t.Completed
	if err := e.repo.Update(ctx, userID, id, domain.TaskPatch{Completed: &done}); err != nil {
		prev := !done
		e.cache.ApplyUpdate(gen, id, domain.TaskPatch{Completed: &prev})
		e.log.WithFields(log.Fields{"user": userID, "task": id}).WithError(err).Warn("toggle write failed, reverted")
		return domain.Task{}, err
	}
	return t, nil
}
