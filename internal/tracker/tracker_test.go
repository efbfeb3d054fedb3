package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stellarlinkco/focusdo/internal/kv"
	"github.com/stellarlinkco/focusdo/internal/tasks"
	"github.com/stellarlinkco/focusdo/internal/timer"
)

func fixedClock() func() time.Time {
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func newTracker(t *testing.T) (*Tracker, *kv.MemoryStore) {
	t.Helper()
	mem := kv.NewMemoryStore()
	tr := New(mem, fixedClock())
	if err := tr.Restore(); err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	return tr, mem
}

func mustAdd(t *testing.T, tr *Tracker, in tasks.NewTask) tasks.Task {
	t.Helper()
	task, ok := tr.AddTask(in)
	if !ok {
		t.Fatalf("AddTask(%q) failed", in.Text)
	}
	return task
}

func hasSnapshot(mem *kv.MemoryStore) bool {
	_, ok, _ := mem.Get(timer.SnapshotKey)
	return ok
}

func TestTracker_DeleteCancelsSession(t *testing.T) {
	tr, mem := newTracker(t)
	b := mustAdd(t, tr, tasks.NewTask{Text: "B", Duration: 15})

	tr.StartTimer(tasks.Ref{TaskID: b.ID})
	tr.Tick()
	if !tr.DeleteTask(b.ID) {
		t.Fatal("DeleteTask failed")
	}

	if _, ok := tr.Session(); ok {
		t.Error("session should be cleared")
	}
	if _, ok := tr.Task(b.ID); ok {
		t.Error("task should be gone")
	}
	if hasSnapshot(mem) {
		t.Error("snapshot should be removed")
	}
	// A late tick after the delete is harmless
	if _, expired := tr.Tick(); expired {
		t.Error("tick after delete should not expire anything")
	}
}

func TestTracker_DeleteOtherTaskKeepsSession(t *testing.T) {
	tr, _ := newTracker(t)
	a := mustAdd(t, tr, tasks.NewTask{Text: "A", Duration: 15})
	b := mustAdd(t, tr, tasks.NewTask{Text: "B"})

	tr.StartTimer(tasks.Ref{TaskID: a.ID})
	tr.DeleteTask(b.ID)
	if _, ok := tr.Session(); !ok {
		t.Error("unrelated delete should keep the session")
	}
}

func TestTracker_ToggleTaskFinishesSession(t *testing.T) {
	tr, _ := newTracker(t)
	a := mustAdd(t, tr, tasks.NewTask{Text: "A", Duration: 5})
	tr.StartTimer(tasks.Ref{TaskID: a.ID})
	tr.Tick()

	completed, ok := tr.ToggleTask(a.ID)
	if !ok || !completed {
		t.Fatalf("ToggleTask = %v, %v", completed, ok)
	}
	if _, ok := tr.Session(); ok {
		t.Error("completing the timed task should end the session")
	}
	got, _ := tr.Task(a.ID)
	if got.TimeSpent != 300 {
		t.Errorf("timeSpent = %d, want 300", got.TimeSpent)
	}
}

func TestTracker_ToggleSubtaskFinishesSession(t *testing.T) {
	tr, _ := newTracker(t)
	p := mustAdd(t, tr, tasks.NewTask{
		Text:     "P",
		Duration: 20,
		Subtasks: []tasks.NewSubtask{{Text: "one", Duration: 10}, {Text: "two", Duration: 10}},
	})
	one, two := p.Subtasks[0].ID, p.Subtasks[1].ID

	tr.StartTimer(tasks.Ref{TaskID: p.ID, SubtaskID: one})
	res, ok := tr.ToggleSubtask(p.ID, one)
	if !ok || !res.SubtaskCompleted || res.ParentCompleted {
		t.Fatalf("ToggleSubtask = %+v, %v", res, ok)
	}
	if _, ok := tr.Session(); ok {
		t.Error("completing the timed subtask should end the session")
	}

	got, _ := tr.Task(p.ID)
	if got.Subtasks[0].TimeSpent != 600 || got.TimeSpent != 600 {
		t.Errorf("subtask=%d parent=%d, want 600/600", got.Subtasks[0].TimeSpent, got.TimeSpent)
	}

	res, _ = tr.ToggleSubtask(p.ID, two)
	if !res.ParentNewlyCompleted {
		t.Error("parent should be newly completed")
	}
}

func TestTracker_ToggleUntimedSubtaskFinishesParentSession(t *testing.T) {
	tr, _ := newTracker(t)
	p := mustAdd(t, tr, tasks.NewTask{
		Text:     "P",
		Duration: 10,
		Subtasks: []tasks.NewSubtask{{Text: "only"}},
	})

	if !tr.StartTimer(tasks.Ref{TaskID: p.ID}) {
		t.Fatal("parent without timed subtasks should be timeable")
	}
	res, _ := tr.ToggleSubtask(p.ID, p.Subtasks[0].ID)
	if !res.ParentNewlyCompleted {
		t.Fatal("parent should be newly completed")
	}
	if _, ok := tr.Session(); ok {
		t.Error("parent session should be finished")
	}
	got, _ := tr.Task(p.ID)
	if got.TimeSpent != 600 {
		t.Errorf("timeSpent = %d, want 600", got.TimeSpent)
	}
}

func TestTracker_EditCancelsSession(t *testing.T) {
	tr, mem := newTracker(t)
	a := mustAdd(t, tr, tasks.NewTask{Text: "A", Duration: 10})
	tr.StartTimer(tasks.Ref{TaskID: a.ID})
	tr.Tick()

	dur := 20
	if _, ok := tr.EditTask(a.ID, tasks.Patch{Duration: &dur}); !ok {
		t.Fatal("EditTask failed")
	}
	if _, ok := tr.Session(); ok {
		t.Error("edit should cancel the session")
	}
	if hasSnapshot(mem) {
		t.Error("snapshot should be removed")
	}
	got, _ := tr.Task(a.ID)
	if got.TimeSpent != 0 || got.Duration != 20 {
		t.Errorf("task = %+v", got)
	}

	if _, ok := tr.EditTask(404, tasks.Patch{Duration: &dur}); ok {
		t.Error("edit of unknown task should fail")
	}
}

func TestTracker_AddTimedSubtaskCancelsWholeTaskSession(t *testing.T) {
	tr, _ := newTracker(t)
	a := mustAdd(t, tr, tasks.NewTask{Text: "A", Duration: 30})
	tr.StartTimer(tasks.Ref{TaskID: a.ID})

	if _, ok := tr.AddSubtask(a.ID, "untimed", 0); !ok {
		t.Fatal("AddSubtask failed")
	}
	if _, ok := tr.Session(); !ok {
		t.Fatal("untimed subtask should not end the session")
	}

	if _, ok := tr.AddSubtask(a.ID, "timed", 10); !ok {
		t.Fatal("AddSubtask failed")
	}
	if _, ok := tr.Session(); ok {
		t.Error("timed subtask should cancel the whole-task session")
	}
}

func TestTracker_TickExpiryCallback(t *testing.T) {
	tr, _ := newTracker(t)
	a := mustAdd(t, tr, tasks.NewTask{Text: "Stretch", Duration: 1})
	var got []timer.Expiry
	tr.OnExpire = func(exp timer.Expiry) {
		// Calling back into the tracker must not deadlock
		if _, ok := tr.Session(); ok {
			t.Error("session should already be cleared")
		}
		got = append(got, exp)
	}

	tr.StartTimer(tasks.Ref{TaskID: a.ID})
	for i := 0; i < 60; i++ {
		tr.Tick()
	}
	if len(got) != 1 || got[0].Label != "Stretch" {
		t.Fatalf("expiries = %+v", got)
	}
}

func TestTracker_StateAndReopen(t *testing.T) {
	tr, mem := newTracker(t)
	a := mustAdd(t, tr, tasks.NewTask{Text: "A", Duration: 10})
	mustAdd(t, tr, tasks.NewTask{Text: "B"})
	tr.StartTimer(tasks.Ref{TaskID: a.ID})
	tr.Tick()
	tr.PauseTimer()

	st := tr.State()
	if len(st.Tasks) != 2 || st.Active != 2 {
		t.Errorf("state tasks=%d active=%d", len(st.Tasks), st.Active)
	}
	if st.Session == nil || st.Session.Label != "A" || st.Session.RemainingSeconds != 599 || st.Session.IsRunning {
		t.Fatalf("state session = %+v", st.Session)
	}

	reopened := New(mem, fixedClock())
	if err := reopened.Restore(); err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	if s, ok := reopened.Session(); !ok || s.RemainingSeconds != 599 {
		t.Errorf("reopened session = %+v, %v", s, ok)
	}
	if len(reopened.Tasks()) != 2 {
		t.Error("tasks should survive reopen")
	}
}

func TestTracker_RestoreMalformedState(t *testing.T) {
	mem := kv.NewMemoryStore()
	mem.Set(tasks.TodosKey, "{not json")
	mem.Set(timer.SnapshotKey, "[]")

	tr := New(mem, fixedClock())
	if err := tr.Restore(); err == nil {
		t.Error("expected an error describing the unreadable records")
	}
	if len(tr.Tasks()) != 0 {
		t.Error("tasks should be empty")
	}
	if _, ok := tr.AddTask(tasks.NewTask{Text: "still works"}); !ok {
		t.Error("tracker should stay usable")
	}
}

func TestTracker_PicksUpOtherWriter(t *testing.T) {
	serve, mem := newTracker(t)
	a := mustAdd(t, serve, tasks.NewTask{Text: "A", Duration: 1})
	serve.StartTimer(tasks.Ref{TaskID: a.ID})
	for i := 0; i < 30; i++ {
		serve.Tick()
	}

	// A second process on the same store adds a task and stops the timer early
	cli := New(mem, fixedClock())
	if err := cli.Restore(); err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	mustAdd(t, cli, tasks.NewTask{Text: "from cli"})
	if !cli.StopTimer(false) {
		t.Fatal("cli should see the running session")
	}

	for i := 0; i < 30; i++ {
		if _, expired := serve.Tick(); expired {
			t.Fatal("a session stopped elsewhere must not expire")
		}
	}

	if _, ok := serve.Session(); ok {
		t.Error("session stopped elsewhere should be gone")
	}
	if hasSnapshot(mem) {
		t.Error("snapshot should stay removed")
	}
	list := serve.Tasks()
	if len(list) != 2 {
		t.Fatalf("tasks = %d, want 2", len(list))
	}
	if got, _ := serve.Task(a.ID); got.TimeSpent != 30 {
		t.Errorf("timeSpent = %d, want 30", got.TimeSpent)
	}

	// Writes from serve keep the task the cli added
	mustAdd(t, serve, tasks.NewTask{Text: "from serve"})
	reopened := New(mem, fixedClock())
	if err := reopened.Restore(); err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	if n := len(reopened.Tasks()); n != 3 {
		t.Errorf("persisted tasks = %d, want 3", n)
	}
}

func TestTracker_PicksUpSessionStartedElsewhere(t *testing.T) {
	serve, mem := newTracker(t)
	cli := New(mem, fixedClock())
	if err := cli.Restore(); err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	a := mustAdd(t, cli, tasks.NewTask{Text: "A", Duration: 5})
	if !cli.StartTimer(tasks.Ref{TaskID: a.ID}) {
		t.Fatal("StartTimer failed")
	}

	serve.Tick()
	s, ok := serve.Session()
	if !ok || s.Target.TaskID != a.ID || s.RemainingSeconds != 299 {
		t.Errorf("serve session = %+v, %v", s, ok)
	}
}

func TestRunner_DrivesExpiry(t *testing.T) {
	mem := kv.NewMemoryStore()
	tr := New(mem, nil)
	a := mustAdd(t, tr, tasks.NewTask{Text: "quick", Duration: 1})
	tr.mu.Lock()
	tr.store.CommitTimeSpent(tasks.Ref{TaskID: a.ID}, 2, false)
	tr.mu.Unlock()

	expired := make(chan timer.Expiry, 1)
	tr.OnExpire = func(exp timer.Expiry) { expired <- exp }
	tr.StartTimer(tasks.Ref{TaskID: a.ID})

	r := NewRunner(tr, 5*time.Millisecond)
	ticks := make(chan State, 16)
	r.OnTick = func(st State) {
		select {
		case ticks <- st:
		default:
		}
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer r.Stop()

	select {
	case exp := <-expired:
		if exp.Label != "quick" {
			t.Errorf("label = %q", exp.Label)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timer never expired")
	}

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Error("OnTick never called")
	}
	got, _ := tr.Task(a.ID)
	if got.TimeSpent != 60 {
		t.Errorf("timeSpent = %d, want 60", got.TimeSpent)
	}
}

func TestRunner_StopIsIdempotent(t *testing.T) {
	tr, _ := newTracker(t)
	r := NewRunner(tr, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	r.Stop()
	r.Stop()
}
