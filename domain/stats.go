package domain

import (
	"fmt"
	"math"
)

// Stats aggregates counts over a user's full task list.
type Stats struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	Pending        int `json:"pending"`
	HighPriority   int `json:"highPriority"`
	CompletionRate int `json:"completionRate"`
}

// ComputeStats derives Stats from tasks. CompletionRate is a rounded
// percentage and zero for an empty list.
func ComputeStats(tasks []Task) Stats {
	var s Stats
	s.Total = len(tasks)
	for _, t := range tasks {
		if t.Completed {
			s.Completed++
		}
		if t.Priority == PriorityHigh {
			s.HighPriority++
		}
	}
	s.Pending = s.Total - s.Completed
	if s.Total > 0 {
		s.CompletionRate = int(math.Round(100 * float64(s.Completed) / float64(s.Total)))
	}
	return s
}

// Summary renders the header line shown above the list.
func (s Stats) Summary() string {
	if s.Total == 0 {
		return "Ready to be productive?"
	}
	return fmt.Sprintf("%d/%d tasks completed (%d%%)", s.Completed, s.Total, s.CompletionRate)
}
