package domain

import "strings"

// StatusFilter narrows the task list by completion state or priority.
type StatusFilter string

const (
	FilterAll       StatusFilter = "all"
	FilterCompleted StatusFilter = "completed"
	FilterPending   StatusFilter = "pending"
	FilterPriority  StatusFilter = "priority"
)

// ParseStatusFilter maps a query value onto a StatusFilter. Empty means all.
func ParseStatusFilter(raw string) (StatusFilter, error) {
	switch f := StatusFilter(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterCompleted, FilterPending, FilterPriority:
		return f, nil
	default:
		return "", &ValidationError{Field: "filter", Message: "unknown filter " + raw}
	}
}

// Selection is the search text and status filter currently applied.
type Selection struct {
	Query  string       `json:"query"`
	Status StatusFilter `json:"filter"`
}

// Filter returns the tasks matching query and status, preserving input order.
// A non-empty query keeps tasks whose title or note contains it, ignoring
// case. The status filter is applied to what remains.
func Filter(tasks []Task, query string, status StatusFilter) []Task {
	needle := strings.ToLower(query)
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if needle != "" && !matchesQuery(t, needle) {
			continue
		}
		if !matchesStatus(t, status) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Apply runs Filter with the selection's values.
func (s Selection) Apply(tasks []Task) []Task {
	return Filter(tasks, s.Query, s.Status)
}

func matchesQuery(t Task, needle string) bool {
	if strings.Contains(strings.ToLower(t.Title), needle) {
		return true
	}
	return t.Note != "" && strings.Contains(strings.ToLower(t.Note), needle)
}

func matchesStatus(t Task, status StatusFilter) bool {
	switch status {
	case FilterCompleted:
		return t.Completed
	case FilterPending:
		return !t.Completed
	case FilterPriority:
		return t.Priority == PriorityHigh
	default:
		return true
	}
}
