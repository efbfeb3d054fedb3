package tasks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the layout of Task.DueDate.
const DateLayout = "2006-01-02"

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func ParsePriority(s string) (Priority, bool) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityLow:
		return PriorityLow, true
	case PriorityMedium:
		return PriorityMedium, true
	case PriorityHigh:
		return PriorityHigh, true
	}
	return "", false
}

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Subtask is a child timeable unit of a Task. Duration is in minutes, TimeSpent in seconds.
type Subtask struct {
	ID        int64  `json:"id" yaml:"id"`
	Text      string `json:"text" yaml:"text"`
	Completed bool   `json:"completed" yaml:"completed"`
	Duration  int    `json:"duration,omitempty" yaml:"duration,omitempty"`
	TimeSpent int    `json:"timeSpent,omitempty" yaml:"timeSpent,omitempty"`
}

// Task is a top-level todo entry. Duration is in minutes (0 means none), TimeSpent in seconds.
type Task struct {
	ID          int64      `json:"id" yaml:"id"`
	Text        string     `json:"text" yaml:"text"`
	Completed   bool       `json:"completed" yaml:"completed"`
	CreatedAt   time.Time  `json:"createdAt" yaml:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty" yaml:"completedAt,omitempty"`
	DueDate     string     `json:"dueDate,omitempty" yaml:"dueDate,omitempty"`
	Priority    Priority   `json:"priority,omitempty" yaml:"priority,omitempty"`
	Duration    int        `json:"duration,omitempty" yaml:"duration,omitempty"`
	TimeSpent   int        `json:"timeSpent,omitempty" yaml:"timeSpent,omitempty"`
	Subtasks    []Subtask  `json:"subtasks,omitempty" yaml:"subtasks,omitempty"`
}

// UnmarshalJSON accepts createdAt and completedAt as RFC 3339 strings,
// epoch milliseconds or null.
func (t *Task) UnmarshalJSON(data []byte) error {
	type plain Task
	aux := struct {
		*plain
		CreatedAt   json.RawMessage `json:"createdAt"`
		CompletedAt json.RawMessage `json:"completedAt"`
	}{plain: (*plain)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	created, err := parseTimestamp(aux.CreatedAt)
	if err != nil {
		return fmt.Errorf("createdAt: %w", err)
	}
	t.CreatedAt = created

	done, err := parseTimestamp(aux.CompletedAt)
	if err != nil {
		return fmt.Errorf("completedAt: %w", err)
	}
	t.CompletedAt = nil
	if !done.IsZero() {
		t.CompletedAt = &done
	}
	return nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	if raw[0] != '"' {
		var ms float64
		if err := json.Unmarshal(raw, &ms); err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(int64(ms)).UTC(), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// EffectivePriority reports Priority, defaulting to medium.
func (t Task) EffectivePriority() Priority {
	if t.Priority == "" {
		return PriorityMedium
	}
	return t.Priority
}

// Due parses DueDate as a calendar date in loc.
func (t Task) Due(loc *time.Location) (time.Time, bool) {
	if t.DueDate == "" {
		return time.Time{}, false
	}
	d, err := time.ParseInLocation(DateLayout, t.DueDate, loc)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// HasTimedSubtasks reports whether any subtask carries a duration. Such a task
// is timed through its subtasks and its TimeSpent is their sum.
func (t Task) HasTimedSubtasks() bool {
	for _, st := range t.Subtasks {
		if st.Duration > 0 {
			return true
		}
	}
	return false
}

func (t Task) subtaskMinutes() int {
	total := 0
	for _, st := range t.Subtasks {
		total += st.Duration
	}
	return total
}

func (t Task) clone() Task {
	c := t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	if t.Subtasks != nil {
		c.Subtasks = make([]Subtask, len(t.Subtasks))
		copy(c.Subtasks, t.Subtasks)
	}
	return c
}

// Ref addresses a timeable entity: a whole task when SubtaskID is zero, else one subtask.
type Ref struct {
	TaskID    int64
	SubtaskID int64
}

func (r Ref) IsSubtask() bool {
	return r.SubtaskID != 0
}

// Budget describes how much time a timeable entity has and has used.
type Budget struct {
	TotalSeconds int
	SpentSeconds int
	Label        string
	Completed    bool
}

func (b Budget) RemainingSeconds() int {
	return b.TotalSeconds - b.SpentSeconds
}

// NewTask is the input of Store.AddTask.
type NewTask struct {
	Text     string
	DueDate  string
	Priority Priority
	Duration int
	Subtasks []NewSubtask
}

type NewSubtask struct {
	Text     string
	Duration int
}

// Patch is a partial edit. Nil fields are left unchanged.
type Patch struct {
	Text     *string
	DueDate  *string // "" clears
	Priority *Priority
	Duration *int // <= 0 clears
	Subtasks *[]SubtaskEdit
}

// SubtaskEdit lists one subtask in a replace-style edit. ID zero creates a new subtask.
type SubtaskEdit struct {
	ID       int64
	Text     string
	Duration int
}

type EditResult struct {
	Deleted    bool
	OverBudget bool
}

type SubtaskToggle struct {
	SubtaskCompleted     bool
	ParentCompleted      bool
	ParentNewlyCompleted bool
}
