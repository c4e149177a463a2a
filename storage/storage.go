package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"

	"taskmate/domain"
)

const (
	edmBoolean  = "Edm.Boolean"
	edmDateTime = "Edm.DateTime"

	// Edm.DateTime carries at most 100ns precision.
	edmDateTimeLayout = "2006-01-02T15:04:05.9999999Z"
)

// Storage keeps each user's tasks in one partition of the tasks table.
type Storage struct {
	taskTable *aztables.Client
	userTable *aztables.Client

	newID func() string
	now   func() time.Time
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, usersTable string) (*Storage, error) {
	opts := aztables.ClientOptions{ClientOptions: clientOptions()}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Storage{
		taskTable: svc.NewClient(tasksTable),
		userTable: svc.NewClient(usersTable),
		newID:     uuid.NewString,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// clientOptions disables the SDK's retry policy so a failed call is reported
// to the caller on the first attempt. No per-try timeout is set.
func clientOptions() azcore.ClientOptions {
	return azcore.ClientOptions{
		Retry: policy.RetryOptions{MaxRetries: -1},
	}
}

func formatEdmDateTime(t time.Time) string {
	return t.UTC().Format(edmDateTimeLayout)
}

type taskEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	Title        string `json:"Title"`
	Note         string `json:"Note"`
	Priority     string `json:"Priority"`
	Category     string `json:"Category"`
	Completed    bool   `json:"Completed"`
	CreatedAt    string `json:"CreatedAt,omitempty"`
}

type taskInsert struct {
	taskEntity
	CompletedType string `json:"Completed@odata.type"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

type taskMerge struct {
	PartitionKey  string  `json:"PartitionKey"`
	RowKey        string  `json:"RowKey"`
	Title         *string `json:"Title,omitempty"`
	Note          *string `json:"Note,omitempty"`
	Priority      *string `json:"Priority,omitempty"`
	Category      *string `json:"Category,omitempty"`
	Completed     *bool   `json:"Completed,omitempty"`
	CompletedType *string `json:"Completed@odata.type,omitempty"`
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:        ent.RowKey,
		Title:     ent.Title,
		Note:      ent.Note,
		Priority:  domain.Priority(ent.Priority).OrNormal(),
		Category:  ent.Category,
		Completed: ent.Completed,
	}
	if ent.CreatedAt != "" {
		created, err := time.Parse(time.RFC3339Nano, ent.CreatedAt)
		if err != nil {
			return domain.Task{}, err
		}
		t.CreatedAt = created.UTC()
	}
	return t, nil
}

func encodeTaskInsert(userID string, t domain.Task) ([]byte, error) {
	return json.Marshal(taskInsert{
		taskEntity: taskEntity{
			PartitionKey: userID,
			RowKey:       t.ID,
			Title:        t.Title,
			Note:         t.Note,
			Priority:     string(t.Priority.OrNormal()),
			Category:     t.Category,
			Completed:    t.Completed,
			CreatedAt:    formatEdmDateTime(t.CreatedAt),
		},
		CompletedType: edmBoolean,
		CreatedAtType: edmDateTime,
	})
}

func encodeTaskMerge(userID, id string, patch domain.TaskPatch) ([]byte, error) {
	m := taskMerge{
		PartitionKey: userID,
		RowKey:       id,
		Title:        patch.Title,
		Note:         patch.Note,
		Category:     patch.Category,
		Completed:    patch.Completed,
	}
	if patch.Priority != nil {
		p := string(patch.Priority.OrNormal())
		m.Priority = &p
	}
	if patch.Completed != nil {
		t := edmBoolean
		m.CompletedType = &t
	}
	return json.Marshal(m)
}

// partitionFilter builds an OData filter selecting one user's partition.
func partitionFilter(userID string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(userID, "'", "''") + "'"
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// ListTasks retrieves all tasks for the provided user in store order.
func (s *Storage) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	filter := partitionFilter(userID)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// GetTask retrieves a single task, or domain.ErrTaskNotFound.
func (s *Storage) GetTask(ctx context.Context, userID, id string) (domain.Task, error) {
	ent, err := s.taskTable.GetEntity(ctx, userID, id, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.Task{}, domain.ErrTaskNotFound
		}
		return domain.Task{}, err
	}
	return decodeTaskEntity(ent.Value)
}

// AddTask inserts a new, not yet completed task and assigns its id and
// creation time.
func (s *Storage) AddTask(ctx context.Context, userID string, fields domain.TaskFields) (domain.Task, error) {
	t := domain.Task{
		ID:        s.newID(),
		Title:     fields.Title,
		Note:      fields.Note,
		Priority:  fields.Priority.OrNormal(),
		Category:  fields.Category,
		CreatedAt: s.now(),
	}
	payload, err := encodeTaskInsert(userID, t)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// UpdateTask merges the patch into an existing task.
func (s *Storage) UpdateTask(ctx context.Context, userID, id string, patch domain.TaskPatch) error {
	payload, err := encodeTaskMerge(userID, id, patch)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if isNotFound(err) {
		return domain.ErrTaskNotFound
	}
	return err
}

// DeleteTask removes a task. Deleting a missing task succeeds.
func (s *Storage) DeleteTask(ctx context.Context, userID, id string) error {
	_, err := s.taskTable.DeleteEntity(ctx, userID, id, nil)
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

type userEntity struct {
	PartitionKey  string `json:"PartitionKey"`
	RowKey        string `json:"RowKey"`
	Name          string `json:"Name"`
	Email         string `json:"Email"`
	CreatedAt     string `json:"CreatedAt,omitempty"`
	CreatedAtType string `json:"CreatedAt@odata.type,omitempty"`
}

func decodeUserEntity(data []byte) (domain.Profile, error) {
	var ent userEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Profile{}, err
	}
	p := domain.Profile{Name: ent.Name, Email: ent.Email}
	if ent.CreatedAt != "" {
		created, err := time.Parse(time.RFC3339Nano, ent.CreatedAt)
		if err != nil {
			return domain.Profile{}, err
		}
		p.CreatedAt = created.UTC()
	}
	return p, nil
}

// GetProfile returns the user's profile, or ok=false when none was written.
func (s *Storage) GetProfile(ctx context.Context, userID string) (domain.Profile, bool, error) {
	ent, err := s.userTable.GetEntity(ctx, userID, userID, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, err
	}
	p, err := decodeUserEntity(ent.Value)
	return p, err == nil, err
}

// UpsertProfile creates or replaces the user's profile. The creation time
// of an existing profile is kept.
func (s *Storage) UpsertProfile(ctx context.Context, userID string, p domain.Profile) (domain.Profile, error) {
	existing, ok, err := s.GetProfile(ctx, userID)
	if err != nil {
		return domain.Profile{}, err
	}
	p.CreatedAt = s.now()
	if ok && !existing.CreatedAt.IsZero() {
		p.CreatedAt = existing.CreatedAt
	}
	payload, err := json.Marshal(userEntity{
		PartitionKey:  userID,
		RowKey:        userID,
		Name:          p.Name,
		Email:         p.Email,
		CreatedAt:     formatEdmDateTime(p.CreatedAt),
		CreatedAtType: edmDateTime,
	})
	if err != nil {
		return domain.Profile{}, err
	}
	if _, err := s.userTable.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}
