package timer

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/stellarlinkco/focusdo/internal/kv"
	"github.com/stellarlinkco/focusdo/internal/tasks"
)

// Ledger is the task store as seen by the engine.
type Ledger interface {
	Timeable(ref tasks.Ref) (tasks.Budget, bool)
	CommitTimeSpent(ref tasks.Ref, remainingSeconds int, finished bool) bool
}

// Engine owns the single countdown session and its persisted snapshot.
// It is not safe for concurrent use; the tracker serialises access.
type Engine struct {
	ledger  Ledger
	kv      kv.Store
	now     func() time.Time
	session *Session
	// raw is the snapshot value last read or written by this engine.
	raw     string
}

func NewEngine(ledger Ledger, store kv.Store, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{ledger: ledger, kv: store, now: now}
}

// Session returns a copy of the active session.
func (e *Engine) Session() (Session, bool) {
	if e.session == nil {
		return Session{}, false
	}
	return *e.session, true
}

// Targets reports whether the active session times ref exactly.
func (e *Engine) Targets(ref tasks.Ref) bool {
	return e.session != nil && e.session.Target == ref
}

// TargetsTask reports whether the active session times task id or one of its subtasks.
func (e *Engine) TargetsTask(id int64) bool {
	return e.session != nil && e.session.Target.TaskID == id
}

// Restore loads the persisted snapshot and reconciles it against the wall clock.
// A snapshot that is unreadable or points at a missing entity is discarded.
func (e *Engine) Restore() error {
	e.session = nil

	raw, ok, err := e.kv.Get(SnapshotKey)
	if err != nil {
		return fmt.Errorf("read timer snapshot: %w", err)
	}
	return e.restore(raw, ok)
}

// Refresh restores again if another process rewrote or removed the snapshot.
func (e *Engine) Refresh() error {
	raw, ok, err := e.kv.Get(SnapshotKey)
	if err != nil {
		return fmt.Errorf("read timer snapshot: %w", err)
	}
	if raw == e.raw {
		return nil
	}
	log.Printf("[timer] snapshot changed on disk, restoring")
	e.session = nil
	return e.restore(raw, ok)
}

func (e *Engine) restore(raw string, ok bool) error {
	e.raw = raw
	if !ok {
		return nil
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		e.clearSnapshot()
		return fmt.Errorf("parse timer snapshot: %w", err)
	}
	if _, ok := e.ledger.Timeable(snap.Target()); !ok {
		log.Printf("[timer] discarding snapshot for missing target %+v", snap.Target())
		e.clearSnapshot()
		return nil
	}

	session, commit := Reconcile(snap, e.now())
	if commit != nil {
		log.Printf("[timer] session for %+v expired while closed", commit.Target)
		e.ledger.CommitTimeSpent(commit.Target, commit.RemainingSeconds, commit.Finished)
		e.clearSnapshot()
		return nil
	}
	e.session = session
	e.persist()
	return nil
}

// Start begins a session on ref. A paused session on another target is
// stopped and committed first; a running one makes Start a no-op. Starting
// the current target resumes it if paused.
func (e *Engine) Start(ref tasks.Ref) bool {
	if e.session != nil && e.session.Target == ref {
		if !e.session.IsRunning {
			e.session.IsRunning = true
			e.persist()
		}
		return true
	}
	if e.session != nil && e.session.IsRunning {
		return false
	}

	budget, ok := e.ledger.Timeable(ref)
	if !ok || budget.Completed || budget.TotalSeconds <= 0 {
		return false
	}
	remaining := budget.RemainingSeconds()
	if remaining <= 0 {
		return false
	}

	if e.session != nil {
		e.Stop(false)
	}
	e.session = &Session{Target: ref, RemainingSeconds: remaining, IsRunning: true}
	e.persist()
	log.Printf("[timer] started %q with %ds remaining", budget.Label, remaining)
	return true
}

// Pause toggles between running and paused. Remaining time is kept, not committed.
func (e *Engine) Pause() bool {
	if e.session == nil {
		return false
	}
	e.session.IsRunning = !e.session.IsRunning
	e.persist()
	return true
}

// Stop commits the session and clears it. finished credits the full duration.
func (e *Engine) Stop(finished bool) bool {
	if e.session == nil {
		return false
	}
	s := *e.session
	e.session = nil
	e.clearSnapshot()
	e.ledger.CommitTimeSpent(s.Target, s.RemainingSeconds, finished)
	return true
}

// Cancel clears the session without committing.
func (e *Engine) Cancel() bool {
	if e.session == nil {
		return false
	}
	e.session = nil
	e.clearSnapshot()
	return true
}

// Tick advances a running session by one second. When it reaches zero the
// session is finished and the returned Expiry names what ran out.
func (e *Engine) Tick() (Expiry, bool) {
	if e.session == nil || !e.session.IsRunning {
		return Expiry{}, false
	}
	e.session.RemainingSeconds = max(e.session.RemainingSeconds-1, 0)
	if e.session.RemainingSeconds > 0 {
		e.persist()
		return Expiry{}, false
	}

	target := e.session.Target
	label := ""
	if b, ok := e.ledger.Timeable(target); ok {
		label = b.Label
	}
	e.Stop(true)
	return Expiry{Target: target, Label: label, At: e.now()}, true
}

func (e *Engine) persist() {
	if e.session == nil {
		return
	}
	data, err := json.Marshal(snapshotOf(*e.session, e.now()))
	if err != nil {
		log.Printf("[timer] warning: marshal snapshot: %v", err)
		return
	}
	if err := e.kv.Set(SnapshotKey, string(data)); err != nil {
		log.Printf("[timer] warning: save snapshot: %v", err)
		return
	}
	e.raw = string(data)
}

func (e *Engine) clearSnapshot() {
	if err := e.kv.Remove(SnapshotKey); err != nil {
		log.Printf("[timer] warning: clear snapshot: %v", err)
		return
	}
	e.raw = ""
}
