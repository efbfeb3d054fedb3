package timer

import (
	"time"

	"github.com/stellarlinkco/focusdo/internal/tasks"
)

// SnapshotKey is the kv key holding the persisted session.
const SnapshotKey = "activeTimer"

// Session is the single active countdown.
type Session struct {
	Target           tasks.Ref
	RemainingSeconds int
	IsRunning        bool
}

// Snapshot is the persisted form of a Session, fresh as of Timestamp (unix millis).
type Snapshot struct {
	TodoID           int64 `json:"todoId"`
	SubtaskID        int64 `json:"subtaskId,omitempty"`
	RemainingSeconds int   `json:"remainingSeconds"`
	IsRunning        bool  `json:"isRunning"`
	Timestamp        int64 `json:"timestamp"`
}

func (s Snapshot) Target() tasks.Ref {
	return tasks.Ref{TaskID: s.TodoID, SubtaskID: s.SubtaskID}
}

func snapshotOf(s Session, now time.Time) Snapshot {
	return Snapshot{
		TodoID:           s.Target.TaskID,
		SubtaskID:        s.Target.SubtaskID,
		RemainingSeconds: s.RemainingSeconds,
		IsRunning:        s.IsRunning,
		Timestamp:        now.UnixMilli(),
	}
}

// Commit instructs the task store to record time for Target.
type Commit struct {
	Target           tasks.Ref
	RemainingSeconds int
	Finished         bool
}

// Reconcile rebuilds the session described by snap at time now. A paused
// session comes back unchanged. A running one loses the whole seconds elapsed
// since the snapshot; if that exhausts it, no session is returned and the
// commit credits the full duration.
func Reconcile(snap Snapshot, now time.Time) (*Session, *Commit) {
	s := &Session{
		Target:           snap.Target(),
		RemainingSeconds: snap.RemainingSeconds,
		IsRunning:        snap.IsRunning,
	}
	if !snap.IsRunning {
		return s, nil
	}

	elapsed := max((now.UnixMilli()-snap.Timestamp)/1000, 0)
	remaining := int64(snap.RemainingSeconds) - elapsed
	if remaining <= 0 {
		return nil, &Commit{Target: s.Target, RemainingSeconds: 0, Finished: true}
	}
	s.RemainingSeconds = int(remaining)
	return s, nil
}

// Expiry describes a session that ran out while ticking.
type Expiry struct {
	Target tasks.Ref
	Label  string
	At     time.Time
}

func (e Expiry) Message() string {
	return "Time's up for: " + e.Label
}
