package tracker

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/stellarlinkco/focusdo/internal/kv"
	"github.com/stellarlinkco/focusdo/internal/tasks"
	"github.com/stellarlinkco/focusdo/internal/timer"
)

// Tracker is the single owner of the task list and the timer session.
// Every operation runs under one lock so no tick interleaves with a mutation.
// Each operation first picks up writes made through the same kv store by
// another process, such as a CLI command run while serve is up.
type Tracker struct {
	mu     sync.Mutex
	now    func() time.Time
	store  *tasks.Store
	engine *timer.Engine

	// OnExpire is called after a tick finishes a session, outside the lock.
	OnExpire func(exp timer.Expiry)
}

func New(store kv.Store, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	ts := tasks.NewStore(store, now)
	return &Tracker{
		now:    now,
		store:  ts,
		engine: timer.NewEngine(ts, store, now),
	}
}

// Restore loads persisted tasks and reconciles the persisted timer snapshot.
// Unreadable records leave the tracker empty but usable.
func (t *Tracker) Restore() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	if err := t.store.Load(); err != nil {
		log.Printf("[tracker] warning: %v", err)
		errs = append(errs, fmt.Errorf("load tasks: %w", err))
	}
	if err := t.engine.Restore(); err != nil {
		log.Printf("[tracker] warning: %v", err)
		errs = append(errs, fmt.Errorf("restore timer: %w", err))
	}
	return errors.Join(errs...)
}

// sync reloads state another writer changed. Tasks go first so a restored
// snapshot is checked against the current list.
func (t *Tracker) sync() {
	if err := t.store.Refresh(); err != nil {
		log.Printf("[tracker] warning: %v", err)
	}
	if err := t.engine.Refresh(); err != nil {
		log.Printf("[tracker] warning: %v", err)
	}
}

func (t *Tracker) Tasks() []tasks.Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sync()
	return t.store.Tasks()
}

func (t *Tracker) Task(id int64) (tasks.Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sync()
	return t.store.Task(id)
}

func (t *Tracker) Session() (timer.Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sync()
	return t.engine.Session()
}

func (t *Tracker) AddTask(in tasks.NewTask) (tasks.Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sync()
	return t.store.AddTask(in)
}

// AddSubtask appends a subtask. A session timing the parent as a whole is
// cancelled once the parent is only timeable through its subtasks.
func (t *Tracker) AddSubtask(taskID int64, text string, minutes int) (tasks.Subtask, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sync()

	st, ok := t.store.AddSubtask(taskID, text, minutes)
	if !ok {
		return tasks.Subtask{}, false
	}
	whole := tasks.Ref{TaskID: taskID}
	if t.engine.Targets(whole) {
		if _, timeable := t.store.Timeable(whole); !timeable {
			log.Printf("[tracker] cancelling timer on task %d: now timed through subtasks", taskID)
			t.engine.Cancel()
		}
	}
	return st, true
}

// ToggleTask flips a task without subtasks. Completing the timed task finishes its session.
func (t *Tracker) ToggleTask(id int64) (bool, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sync()

	completed, ok := t.store.ToggleTask(id)
	if !ok {
		return completed, false
	}
	if completed && t.engine.Targets(tasks.Ref{TaskID: id}) {
		t.engine.Stop(true)
	}
	return completed, true
}

func (t *Tracker) ToggleSubtask(taskID, subtaskID int64) (tasks.SubtaskToggle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sync()

	res, ok := t.store.ToggleSubtask(taskID, subtaskID)
	if !ok {
		return res, false
	}
	if res.SubtaskCompleted && t.engine.Targets(tasks.Ref{TaskID: taskID, SubtaskID: subtaskID}) {
		t.engine.Stop(true)
	}
	if res.ParentNewlyCompleted && t.engine.Targets(tasks.Ref{TaskID: taskID}) {
		t.engine.Stop(true)
	}
	return res, true
}

// DeleteTask removes a task. A session on it or any of its subtasks is cancelled uncommitted.
func (t *Tracker) DeleteTask(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sync()

	if t.engine.TargetsTask(id) {
		t.engine.Cancel()
	}
	return t.store.DeleteTask(id)
}

// EditTask cancels any session on the task before applying p.
func (t *Tracker) EditTask(id int64, p tasks.Patch) (tasks.EditResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sync()

	if _, ok := t.store.Task(id); !ok {
		return tasks.EditResult{}, false
	}
	if t.engine.TargetsTask(id) {
		log.Printf("[tracker] cancelling timer on edited task %d", id)
		t.engine.Cancel()
	}
	return t.store.EditTask(id, p)
}

func (t *Tracker) Import(list []tasks.Task) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sync()
	return t.store.Import(list)
}

func (t *Tracker) StartTimer(ref tasks.Ref) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sync()
	return t.engine.Start(ref)
}

// PauseTimer toggles the session between running and paused.
func (t *Tracker) PauseTimer() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sync()
	return t.engine.Pause()
}

func (t *Tracker) StopTimer(finished bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sync()
	return t.engine.Stop(finished)
}

// Tick advances the session by one second and reports an expiry, if any.
func (t *Tracker) Tick() (timer.Expiry, bool) {
	t.mu.Lock()
	t.sync()
	exp, expired := t.engine.Tick()
	t.mu.Unlock()

	if expired {
		log.Printf("[tracker] %s", exp.Message())
		if t.OnExpire != nil {
			t.OnExpire(exp)
		}
	}
	return exp, expired
}

// State is a point-in-time view for renderers.
type State struct {
	Tasks   []tasks.Task `json:"tasks"`
	Active  int          `json:"active"`
	Session *SessionView `json:"session,omitempty"`
	At      time.Time    `json:"at"`
}

type SessionView struct {
	TodoID           int64  `json:"todoId"`
	SubtaskID        int64  `json:"subtaskId,omitempty"`
	Label            string `json:"label"`
	RemainingSeconds int    `json:"remainingSeconds"`
	IsRunning        bool   `json:"isRunning"`
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sync()

	list := t.store.Tasks()
	st := State{Tasks: list, Active: tasks.ActiveCount(list), At: t.now()}
	if s, ok := t.engine.Session(); ok {
		view := &SessionView{
			TodoID:           s.Target.TaskID,
			SubtaskID:        s.Target.SubtaskID,
			RemainingSeconds: s.RemainingSeconds,
			IsRunning:        s.IsRunning,
		}
		if b, ok := t.store.Timeable(s.Target); ok {
			view.Label = b.Label
		}
		st.Session = view
	}
	return st
}
