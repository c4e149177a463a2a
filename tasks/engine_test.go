package tasks

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"taskmate/domain"
	"taskmate/session"
)

var createdAt = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type memStore struct {
	mu    sync.Mutex
	tasks map[string][]domain.Task
	seq   int
	calls int

	listErr   error
	updateErr error
	deleteErr error

	// when set, ListTasks signals entered and waits for release
	listEntered chan struct{}
	listRelease chan struct{}
}

func newMemStore() *memStore {
	return &memStore{tasks: map[string][]domain.Task{}}
}

func (m *memStore) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	m.mu.Lock()
	m.calls++
	out := append([]domain.Task(nil), m.tasks[userID]...)
	err := m.listErr
	entered, release := m.listEntered, m.listRelease
	m.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *memStore) GetTask(ctx context.Context, userID, id string) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	for _, t := range m.tasks[userID] {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.Task{}, domain.ErrTaskNotFound
}

func (m *memStore) AddTask(ctx context.Context, userID string, fields domain.TaskFields) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.seq++
	t := domain.Task{
		ID:        fmt.Sprintf("t%d", m.seq),
		Title:     fields.Title,
		Note:      fields.Note,
		Priority:  fields.Priority,
		Category:  fields.Category,
		CreatedAt: createdAt,
	}
	m.tasks[userID] = append(m.tasks[userID], t)
	return t, nil
}

func (m *memStore) UpdateTask(ctx context.Context, userID, id string, patch domain.TaskPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.updateErr != nil {
		return m.updateErr
	}
	for i, t := range m.tasks[userID] {
		if t.ID == id {
			m.tasks[userID][i] = patch.Apply(t)
			return nil
		}
	}
	return domain.ErrTaskNotFound
}

func (m *memStore) DeleteTask(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.deleteErr != nil {
		return m.deleteErr
	}
	list := m.tasks[userID]
	for i, t := range list {
		if t.ID == id {
			m.tasks[userID] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memStore) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *memStore) stored(userID, id string) (domain.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks[userID] {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

type fixture struct {
	engine *Engine
	sess   *session.Context
	store  *memStore
	hook   *test.Hook
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	sess := session.New()
	store := newMemStore()
	e := NewEngine(sess, NewRepository(store, nil, logger), logger, opts...)
	t.Cleanup(e.Close)
	return &fixture{engine: e, sess: sess, store: store, hook: hook}
}

func (f *fixture) seed(userID string, tasks ...domain.Task) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.tasks[userID] = append(f.store.tasks[userID], tasks...)
}

func taskIDs(tasks []domain.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func (f *fixture) refresh(t *testing.T) []domain.Task {
	t.Helper()
	tasks, err := f.engine.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return tasks
}

func TestFlowsRequireSignedInUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, refreshErr := f.engine.Refresh(ctx)
	_, createErr := f.engine.Create(ctx, domain.TaskFields{Title: "Buy milk"})
	_, editErr := f.engine.Edit(ctx, "t1")
	_, saveErr := f.engine.Save(ctx, domain.Draft{ID: "t1", Title: "x"})
	deleteErr := f.engine.Delete(ctx, "t1")
	_, toggleErr := f.engine.ToggleCompletion(ctx, "t1")

	for name, err := range map[string]error{
		"refresh": refreshErr,
		"create":  createErr,
		"edit":    editErr,
		"save":    saveErr,
		"delete":  deleteErr,
		"toggle":  toggleErr,
	} {
		if !errors.Is(err, domain.ErrUnauthenticated) {
			t.Fatalf("%s: expected ErrUnauthenticated, got %v", name, err)
		}
	}
	if n := f.store.callCount(); n != 0 {
		t.Fatalf("store should not be called, calls=%d", n)
	}
	if got := f.engine.Tasks(); len(got) != 0 {
		t.Fatalf("expected empty cache, got %#v", got)
	}
}

func TestCreateThenRefreshReturnsTrimmedTask(t *testing.T) {
	f := newFixture(t)
	f.sess.SignIn("u1")

	created, err := f.engine.Create(context.Background(), domain.TaskFields{Title: "  Buy milk  ", Note: " 2L "})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Title != "Buy milk" || created.Note != "2L" || created.Priority != domain.PriorityNormal || created.Completed {
		t.Fatalf("unexpected created task: %#v", created)
	}
	if got := f.engine.Tasks(); !reflect.DeepEqual(got, []domain.Task{created}) {
		t.Fatalf("expected created task in cache, got %#v", got)
	}

	tasks := f.refresh(t)
	if len(tasks) != 1 || tasks[0].ID != created.ID || tasks[0].Title != "Buy milk" {
		t.Fatalf("unexpected tasks after refresh: %#v", tasks)
	}
}

func TestCreateRejectsBlankTitleWithoutStoreCall(t *testing.T) {
	f := newFixture(t)
	f.sess.SignIn("u1")

	_, err := f.engine.Create(context.Background(), domain.TaskFields{Title: "   ", Note: "something"})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "title" {
		t.Fatalf("expected title validation error, got %v", err)
	}
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("unexpected kind: %v", domain.KindOf(err))
	}
	if n := f.store.callCount(); n != 0 {
		t.Fatalf("store should not be called, calls=%d", n)
	}
}

func TestCreateRejectsUnknownPriority(t *testing.T) {
	f := newFixture(t)
	f.sess.SignIn("u1")

	_, err := f.engine.Create(context.Background(), domain.TaskFields{Title: "Buy milk", Priority: "urgent"})
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if n := f.store.callCount(); n != 0 {
		t.Fatalf("store should not be called, calls=%d", n)
	}
}

func TestRefreshDropsDuplicateIDs(t *testing.T) {
	f := newFixture(t)
	f.seed("u1",
		domain.Task{ID: "a", Title: "first"},
		domain.Task{ID: "b", Title: "second"},
		domain.Task{ID: "a", Title: "again"},
	)
	f.sess.SignIn("u1")

	tasks := f.refresh(t)
	if got := taskIDs(tasks); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("unexpected ids: %v", got)
	}
	if tasks[0].Title != "first" {
		t.Fatalf("expected first occurrence to win, got %q", tasks[0].Title)
	}
}

func TestRefreshFailureKeepsLastKnownList(t *testing.T) {
	f := newFixture(t)
	f.seed("u1", domain.Task{ID: "a", Title: "Buy milk"})
	f.sess.SignIn("u1")
	f.refresh(t)

	f.store.listErr = errors.New("connection reset")
	_, err := f.engine.Refresh(context.Background())
	var remote *domain.RemoteFailure
	if !errors.As(err, &remote) || remote.Op != "load tasks" {
		t.Fatalf("expected load tasks remote failure, got %v", err)
	}
	if got := taskIDs(f.engine.Tasks()); !slices.Equal(got, []string{"a"}) {
		t.Fatalf("expected last known list, got %v", got)
	}
}

func TestToggleIsLocalUntilRefresh(t *testing.T) {
	f := newFixture(t)
	f.seed("u1", domain.Task{ID: "a", Title: "Buy milk"})
	f.sess.SignIn("u1")
	f.refresh(t)
	calls := f.store.callCount()

	toggled, err := f.engine.ToggleCompletion(context.Background(), "a")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !toggled.Completed {
		t.Fatalf("expected toggled task to be completed")
	}
	if n := f.store.callCount(); n != calls {
		t.Fatalf("toggle should not reach the store, calls %d -> %d", calls, n)
	}
	if got := f.engine.Stats().Completed; got != 1 {
		t.Fatalf("stats should see the local toggle, completed=%d", got)
	}
	if stored, _ := f.store.stored("u1", "a"); stored.Completed {
		t.Fatalf("stored task should be unchanged")
	}

	if tasks := f.refresh(t); tasks[0].Completed {
		t.Fatalf("refresh should restore the stored state")
	}
}

func TestToggleUnknownTask(t *testing.T) {
	f := newFixture(t)
	f.sess.SignIn("u1")

	_, err := f.engine.ToggleCompletion(context.Background(), "missing")
	if !errors.Is(err, ErrNotListed) || !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrNotListed, got %v", err)
	}
}

func TestToggleWriteThrough(t *testing.T) {
	f := newFixture(t, WithToggleWriteThrough())
	f.seed("u1", domain.Task{ID: "a", Title: "Buy milk"})
	f.sess.SignIn("u1")
	f.refresh(t)

	if _, err := f.engine.ToggleCompletion(context.Background(), "a"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if stored, _ := f.store.stored("u1", "a"); !stored.Completed {
		t.Fatalf("expected toggle to be written through")
	}
	if tasks := f.refresh(t); !tasks[0].Completed {
		t.Fatalf("expected completed task after refresh")
	}
}

func TestToggleWriteThroughRollsBackOnFailure(t *testing.T) {
	f := newFixture(t, WithToggleWriteThrough())
	f.seed("u1", domain.Task{ID: "a", Title: "Buy milk"})
	f.sess.SignIn("u1")
	f.refresh(t)

	f.store.updateErr = errors.New("throttled")
	_, err := f.engine.ToggleCompletion(context.Background(), "a")
	if domain.KindOf(err) != domain.KindRemote {
		t.Fatalf("expected remote failure, got %v", err)
	}
	if f.engine.Tasks()[0].Completed {
		t.Fatalf("expected local toggle to be rolled back")
	}

	var warned bool
	for _, entry := range f.hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected a warning for the failed write")
	}
}

func TestEditAndSave(t *testing.T) {
	f := newFixture(t)
	f.seed("u1", domain.Task{ID: "a", Title: "Buy milk", Priority: domain.PriorityLow, Category: "Home", CreatedAt: createdAt})
	f.sess.SignIn("u1")
	f.refresh(t)
	ctx := context.Background()

	draft, err := f.engine.Edit(ctx, "a")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if want := (domain.Draft{ID: "a", Title: "Buy milk", Priority: domain.PriorityLow, Category: "Home"}); draft != want {
		t.Fatalf("want draft %#v, got %#v", want, draft)
	}

	draft.Title = " Buy oat milk "
	draft.Category = "  "
	draft.Completed = true
	saved, err := f.engine.Save(ctx, draft)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Title != "Buy oat milk" || saved.Category != "" || !saved.Completed || !saved.CreatedAt.Equal(createdAt) {
		t.Fatalf("unexpected saved task: %#v", saved)
	}
	if got := f.engine.Tasks(); !reflect.DeepEqual(got, []domain.Task{saved}) {
		t.Fatalf("cache should hold the saved task, got %#v", got)
	}

	stored, _ := f.store.stored("u1", "a")
	if stored.Title != "Buy oat milk" || !stored.Completed {
		t.Fatalf("unexpected stored task: %#v", stored)
	}
}

func TestSaveRejectsBlankTitle(t *testing.T) {
	f := newFixture(t)
	f.sess.SignIn("u1")

	_, err := f.engine.Save(context.Background(), domain.Draft{ID: "a", Title: " "})
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if n := f.store.callCount(); n != 0 {
		t.Fatalf("store should not be called, calls=%d", n)
	}
}

func TestEditMissingTask(t *testing.T) {
	f := newFixture(t)
	f.sess.SignIn("u1")

	_, err := f.engine.Edit(context.Background(), "gone")
	if domain.KindOf(err) != domain.KindRemote || !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected remote not found, got %v", err)
	}
}

func TestDeletedTaskNeverReappears(t *testing.T) {
	f := newFixture(t)
	f.seed("u1",
		domain.Task{ID: "a", Title: "Buy milk"},
		domain.Task{ID: "b", Title: "Pay rent"},
		domain.Task{ID: "c", Title: "Call mom"},
	)
	f.sess.SignIn("u1")
	f.refresh(t)
	ctx := context.Background()

	if err := f.engine.Delete(ctx, "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	want := []string{"a", "c"}
	if got := taskIDs(f.engine.Tasks()); !slices.Equal(got, want) {
		t.Fatalf("unexpected cache after delete: %v", got)
	}
	if got := taskIDs(f.engine.View("", domain.FilterAll)); !slices.Equal(got, want) {
		t.Fatalf("unexpected view after delete: %v", got)
	}
	if got := taskIDs(f.refresh(t)); slices.Contains(got, "b") {
		t.Fatalf("deleted task came back: %v", got)
	}

	// deleting again is idempotent
	if err := f.engine.Delete(ctx, "b"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestDeleteNotFoundDropsCachedCopy(t *testing.T) {
	f := newFixture(t)
	f.seed("u1", domain.Task{ID: "a", Title: "Buy milk"})
	f.sess.SignIn("u1")
	f.refresh(t)

	f.store.deleteErr = domain.ErrTaskNotFound
	if err := f.engine.Delete(context.Background(), "a"); domain.KindOf(err) != domain.KindRemote {
		t.Fatalf("expected remote failure, got %v", err)
	}
	if got := f.engine.Tasks(); len(got) != 0 {
		t.Fatalf("expected cached copy to be dropped, got %#v", got)
	}
}

func TestDeleteFailureKeepsTask(t *testing.T) {
	f := newFixture(t)
	f.seed("u1", domain.Task{ID: "a", Title: "Buy milk"})
	f.sess.SignIn("u1")
	f.refresh(t)

	f.store.deleteErr = errors.New("service unavailable")
	if err := f.engine.Delete(context.Background(), "a"); err == nil {
		t.Fatalf("expected delete to fail")
	}
	if got := taskIDs(f.engine.Tasks()); !slices.Equal(got, []string{"a"}) {
		t.Fatalf("task should stay cached, got %v", got)
	}
}

func TestViewAndStats(t *testing.T) {
	f := newFixture(t)
	f.seed("u1",
		domain.Task{ID: "a", Title: "Buy milk", Priority: domain.PriorityHigh},
		domain.Task{ID: "b", Title: "Pay rent", Completed: true},
	)
	f.sess.SignIn("u1")
	f.refresh(t)

	if got := taskIDs(f.engine.View("milk", domain.FilterAll)); !slices.Equal(got, []string{"a"}) {
		t.Fatalf("unexpected search view: %v", got)
	}
	if got := taskIDs(f.engine.View("", domain.FilterCompleted)); !slices.Equal(got, []string{"b"}) {
		t.Fatalf("unexpected completed view: %v", got)
	}
	if got := f.engine.View("milk", domain.FilterCompleted); len(got) != 0 {
		t.Fatalf("expected empty intersection, got %#v", got)
	}
	want := domain.Stats{Total: 2, Completed: 1, Pending: 1, HighPriority: 1, CompletionRate: 50}
	if got := f.engine.Stats(); got != want {
		t.Fatalf("want stats %#v, got %#v", want, got)
	}
}

func TestSignOutClearsCache(t *testing.T) {
	f := newFixture(t)
	f.seed("u1", domain.Task{ID: "a", Title: "Buy milk"})
	f.sess.SignIn("u1")
	f.refresh(t)

	f.sess.SignOut()
	if got := f.engine.Tasks(); len(got) != 0 {
		t.Fatalf("expected empty cache after sign-out, got %#v", got)
	}
	if got := f.engine.Stats(); got != (domain.Stats{}) {
		t.Fatalf("expected zero stats after sign-out, got %#v", got)
	}
}

func TestSessionChangeDiscardsInFlightLoad(t *testing.T) {
	f := newFixture(t)
	f.seed("u1", domain.Task{ID: "a", Title: "u1 private task"})
	f.store.listEntered = make(chan struct{})
	f.store.listRelease = make(chan struct{})
	f.sess.SignIn("u1")

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Refresh(context.Background())
		done <- err
	}()

	<-f.store.listEntered
	f.sess.SignIn("u2")
	close(f.store.listRelease)

	err := <-done
	if !errors.Is(err, ErrSessionChanged) || domain.KindOf(err) != domain.KindUnauthenticated {
		t.Fatalf("expected ErrSessionChanged, got %v", err)
	}
	if got := f.engine.Tasks(); len(got) != 0 {
		t.Fatalf("previous user's tasks leaked into the cache: %#v", got)
	}
}

func TestCloseStopsSessionTracking(t *testing.T) {
	f := newFixture(t)
	f.seed("u1", domain.Task{ID: "a", Title: "Buy milk"})
	f.sess.SignIn("u1")
	f.refresh(t)

	f.engine.Close()
	f.sess.SignOut()
	if got := f.engine.Tasks(); len(got) != 1 {
		t.Fatalf("closed engine should ignore session changes, got %#v", got)
	}
}
