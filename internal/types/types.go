package types

import (
	"fmt"
	"strings"
	"time"
)

// Issue represents a unit of work tracked in an external task system.
//
// Descriptions are immutable after creation: the lifecycle controller never
// issues description updates, and adapters reject them. Only status and
// labels move, and only along the transitions defined by the lifecycle
// package.
type Issue struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority"`
	ProjectID   string    `json:"project_id,omitempty"`
	Labels      []string  `json:"labels,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks if the issue has valid field values
func (i *Issue) Validate() error {
	if len(strings.TrimSpace(i.Title)) == 0 {
		return fmt.Errorf("title is required")
	}
	if len(i.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(i.Title))
	}
	if !i.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", i.Status)
	}
	if !i.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %d", i.Priority)
	}
	seen := make(map[string]bool, len(i.Labels))
	for _, l := range i.Labels {
		if seen[l] {
			return fmt.Errorf("duplicate label: %s", l)
		}
		seen[l] = true
	}
	return nil
}

// HasLabel reports whether the issue carries the given label.
func (i *Issue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// IsMeta reports whether this is the distinguished META tracking issue.
// The META issue never transitions status and is excluded from ready-work
// and audit queries.
func (i *Issue) IsMeta() bool {
	return i.Title == MetaIssueTitle
}

// Status represents the current state of an issue
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// IsValid checks if the status value is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// ValidTransitions returns the statuses reachable from this one.
//
// State Machine Diagram:
//
//	todo → in_progress → done
//	              ↑         |
//	              └─────────┘  (failed audit only)
//
// A done issue may revert to in_progress when an audit finds a bug; it never
// returns to todo.
func (s Status) ValidTransitions() []Status {
	switch s {
	case StatusTodo:
		return []Status{StatusInProgress}
	case StatusInProgress:
		return []Status{StatusDone}
	case StatusDone:
		return []Status{StatusInProgress}
	default:
		return []Status{}
	}
}

// CanTransitionTo checks if a transition from this status to the target is valid
func (s Status) CanTransitionTo(target Status) bool {
	for _, valid := range s.ValidTransitions() {
		if valid == target {
			return true
		}
	}
	return false
}

// Priority represents issue priority using the Linear numbering convention:
// 1 is most urgent, 4 is least.
type Priority int

const (
	PriorityUrgent Priority = 1
	PriorityHigh   Priority = 2
	PriorityMedium Priority = 3
	PriorityLow    Priority = 4
)

// IsValid checks if the priority value is valid
func (p Priority) IsValid() bool {
	return p >= PriorityUrgent && p <= PriorityLow
}

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Comment represents a single entry in an issue's append-only comment log.
// Comments are immutable once written.
type Comment struct {
	ID        string    `json:"id"`
	IssueID   string    `json:"issue_id"`
	Body      string    `json:"body"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Team represents a team in the external task system.
type Team struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Key         string `json:"key,omitempty"`
	Description string `json:"description,omitempty"`
}

// Project represents a project containing issues.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	TeamIDs     []string  `json:"team_ids,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// IssueFilter is used to filter issue list queries.
// Labels must ALL be present on a matching issue.
type IssueFilter struct {
	ProjectID string
	Status    *Status
	Labels    []string
	Limit     int
}

// IssueUpdate describes a mutation to a single issue. Nil fields are left
// unchanged. Labels (replace-all) is mutually exclusive with
// AddLabels/RemoveLabels.
type IssueUpdate struct {
	IssueID      string
	Title        *string
	Status       *Status
	Priority     *Priority
	Labels       []string
	AddLabels    []string
	RemoveLabels []string
}

// Validate checks the update for internal consistency.
func (u *IssueUpdate) Validate() error {
	if u.IssueID == "" {
		return fmt.Errorf("issue_id is required")
	}
	if u.Labels != nil && (len(u.AddLabels) > 0 || len(u.RemoveLabels) > 0) {
		return fmt.Errorf("labels replace-all cannot be combined with add/remove labels")
	}
	if u.Status != nil && !u.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", *u.Status)
	}
	if u.Priority != nil && !u.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %d", *u.Priority)
	}
	return nil
}
