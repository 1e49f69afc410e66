// Package response implements the security response engine: an action
// registry, a priority-ordered scheduler with a single execution worker, and
// the lifecycle state store for every submitted response.
package response

import (
	"time"
)

// Status is the lifecycle state of a response instance.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Priority is the scheduling class of an action. Higher values are drained
// from the queue first.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return "unknown"
}

// ParsePriority converts a lowercase priority name to a Priority.
func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "low":
		return PriorityLow, true
	case "medium":
		return PriorityMedium, true
	case "high":
		return PriorityHigh, true
	case "critical":
		return PriorityCritical, true
	}
	return 0, false
}

// Instance is one queued or executed invocation of a named action with
// concrete parameters. Instances are mutated only by the scheduler worker;
// cancellation re-verifies the status under the state lock before touching
// anything. Callers always receive snapshots.
type Instance struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params"`
	Context   map[string]any `json:"context,omitempty"`
	Status    Status         `json:"status"`
	Priority  Priority       `json:"priority"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	AlertID   string         `json:"alert_id,omitempty"`
	CreatedBy string         `json:"created_by,omitempty"`
}

// Clone returns a shallow snapshot of the instance with copied param and
// context maps. Result values are shared; handlers must not mutate results
// after returning them.
func (in *Instance) Clone() *Instance {
	if in == nil {
		return nil
	}

	out := *in
	if in.Params != nil {
		out.Params = make(map[string]any, len(in.Params))
		for k, v := range in.Params {
			out.Params[k] = v
		}
	}
	if in.Context != nil {
		out.Context = make(map[string]any, len(in.Context))
		for k, v := range in.Context {
			out.Context[k] = v
		}
	}
	return &out
}

// Duration returns how long the instance has been in flight, or the total
// execution time once terminal.
func (in *Instance) Duration() time.Duration {
	if in.UpdatedAt.IsZero() || in.CreatedAt.IsZero() {
		return 0
	}
	return in.UpdatedAt.Sub(in.CreatedAt)
}
