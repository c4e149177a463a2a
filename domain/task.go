package domain

import (
	"strings"
	"time"
)

// Priority ranks a task. The zero value reads as PriorityNormal.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
)

// ParsePriority accepts the four known values case-insensitively. An empty
// string yields PriorityNormal.
func ParsePriority(raw string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PriorityNormal, nil
	case PriorityHigh, PriorityMedium, PriorityLow, PriorityNormal:
		return p, nil
	default:
		return "", &ValidationError{Field: "priority", Message: "unknown priority " + raw}
	}
}

// OrNormal returns PriorityNormal for an unset priority.
func (p Priority) OrNormal() Priority {
	if p == "" {
		return PriorityNormal
	}
	return p
}

// Task represents a single to-do item owned by one user.
type Task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Note      string    `json:"note"`
	Priority  Priority  `json:"priority"`
	Category  string    `json:"category,omitempty"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"createdAt"`
}

// TaskFields carries the user supplied values for a new task.
type TaskFields struct {
	Title    string   `json:"title"`
	Note     string   `json:"note"`
	Priority Priority `json:"priority"`
	Category string   `json:"category"`
}

// Normalize trims every text field, defaults the priority and rejects a
// blank title.
func (f TaskFields) Normalize() (TaskFields, error) {
	out := TaskFields{
		Title:    strings.TrimSpace(f.Title),
		Note:     strings.TrimSpace(f.Note),
		Category: strings.TrimSpace(f.Category),
	}
	if out.Title == "" {
		return TaskFields{}, errMissingTitle()
	}
	p, err := ParsePriority(string(f.Priority))
	if err != nil {
		return TaskFields{}, err
	}
	out.Priority = p
	return out, nil
}

// TaskPatch carries partial updates for a task. Nil fields are left untouched.
type TaskPatch struct {
	Title     *string   `json:"title,omitempty"`
	Note      *string   `json:"note,omitempty"`
	Priority  *Priority `json:"priority,omitempty"`
	Category  *string   `json:"category,omitempty"`
	Completed *bool     `json:"completed,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Note == nil && p.Priority == nil && p.Category == nil && p.Completed == nil
}

// Apply returns t with the patch merged in. ID and CreatedAt never change.
func (p TaskPatch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Note != nil {
		t.Note = *p.Note
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	return t
}

// Draft is the editable copy of a task used by the edit flow.
type Draft struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Note      string   `json:"note"`
	Priority  Priority `json:"priority"`
	Category  string   `json:"category"`
	Completed bool     `json:"completed"`
}

// NewDraft pre-populates a draft from a stored task.
func NewDraft(t Task) Draft {
	return Draft{
		ID:        t.ID,
		Title:     t.Title,
		Note:      t.Note,
		Priority:  t.Priority.OrNormal(),
		Category:  t.Category,
		Completed: t.Completed,
	}
}

// Patch validates the draft and converts it into a full field update.
// Text is trimmed and a blank category is stored as absent.
func (d Draft) Patch() (TaskPatch, error) {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return TaskPatch{}, errMissingTitle()
	}
	p, err := ParsePriority(string(d.Priority))
	if err != nil {
		return TaskPatch{}, err
	}
	note := strings.TrimSpace(d.Note)
	category := strings.TrimSpace(d.Category)
	completed := d.Completed
	return TaskPatch{
		Title:     &title,
		Note:      &note,
		Priority:  &p,
		Category:  &category,
		Completed: &completed,
	}, nil
}

// Profile is the account record written at sign-up.
type Profile struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

func errMissingTitle() error {
	return &ValidationError{Field: "title", Message: "please enter a task title"}
}
