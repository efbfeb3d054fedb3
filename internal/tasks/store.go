package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/stellarlinkco/focusdo/internal/kv"
)

// TodosKey is the kv key holding the serialized task list.
const TodosKey = "todos"

// CorruptKey keeps the last todos value that could not be read in full.
const CorruptKey = "todos.corrupt"

// Store holds the canonical task list and persists it on every mutation.
// It is not safe for concurrent use; the tracker serialises access.
type Store struct {
	kv     kv.Store
	now    func() time.Time
	tasks  []Task
	lastID int64
	// raw is the persisted value the in-memory list was last synced with.
	raw    string
}

func NewStore(store kv.Store, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{kv: store, now: now}
}

// Load replaces the in-memory list with the persisted one. Records that cannot
// be decoded are skipped and the whole value is copied to CorruptKey.
func (s *Store) Load() error {
	s.tasks = nil

	raw, _, err := s.kv.Get(TodosKey)
	if err != nil {
		return fmt.Errorf("read todos: %w", err)
	}
	return s.load(raw)
}

// Refresh reloads the list if another process rewrote it since the last load or save.
func (s *Store) Refresh() error {
	raw, _, err := s.kv.Get(TodosKey)
	if err != nil {
		return fmt.Errorf("read todos: %w", err)
	}
	if raw == s.raw {
		return nil
	}
	log.Printf("[tasks] todos changed on disk, reloading")
	return s.load(raw)
}

func (s *Store) load(raw string) error {
	s.tasks = nil
	s.raw = raw
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var records []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		s.backup(raw)
		return fmt.Errorf("parse todos: %w", err)
	}

	list := make([]Task, 0, len(records))
	var errs []error
	for i, rec := range records {
		var t Task
		if err := json.Unmarshal(rec, &t); err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		if t.ID == 0 {
			errs = append(errs, fmt.Errorf("record %d: missing id", i))
			continue
		}
		normalize(&t)
		s.trackID(t.ID)
		for _, st := range t.Subtasks {
			s.trackID(st.ID)
		}
		list = append(list, t)
	}
	s.tasks = list

	if len(errs) > 0 {
		s.backup(raw)
		return fmt.Errorf("parse todos: skipped %d of %d records: %w", len(errs), len(records), errors.Join(errs...))
	}
	return nil
}

func (s *Store) backup(raw string) {
	if err := s.kv.Set(CorruptKey, raw); err != nil {
		log.Printf("[tasks] warning: back up unreadable todos: %v", err)
		return
	}
	log.Printf("[tasks] warning: unreadable todos copied to %q", CorruptKey)
}

func (s *Store) save() {
	list := s.tasks
	if list == nil {
		list = []Task{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		log.Printf("[tasks] warning: marshal todos: %v", err)
		return
	}
	if err := s.kv.Set(TodosKey, string(data)); err != nil {
		log.Printf("[tasks] warning: save todos: %v", err)
		return
	}
	s.raw = string(data)
}

func (s *Store) trackID(id int64) {
	if id > s.lastID {
		s.lastID = id
	}
}

// nextID hands out creation-time-derived ids that never repeat within a store.
func (s *Store) nextID() int64 {
	id := s.now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

func (s *Store) index(id int64) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func subtaskIndex(t *Task, id int64) int {
	for i := range t.Subtasks {
		if t.Subtasks[i].ID == id {
			return i
		}
	}
	return -1
}

// Tasks returns a copy of every task in display order.
func (s *Store) Tasks() []Task {
	out := make([]Task, len(s.tasks))
	for i := range s.tasks {
		out[i] = s.tasks[i].clone()
	}
	return out
}

func (s *Store) Task(id int64) (Task, bool) {
	i := s.index(id)
	if i < 0 {
		return Task{}, false
	}
	return s.tasks[i].clone(), true
}

func (s *Store) AddTask(in NewTask) (Task, bool) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return Task{}, false
	}

	t := Task{
		ID:        s.nextID(),
		Text:      text,
		CreatedAt: s.now(),
		Priority:  in.Priority,
		Duration:  max(in.Duration, 0),
	}
	if _, ok := ParsePriority(string(t.Priority)); !ok {
		t.Priority = PriorityMedium
	}
	if due, ok := normalizeDueDate(in.DueDate); ok {
		t.DueDate = due
	} else {
		log.Printf("[tasks] warning: ignoring invalid due date %q", in.DueDate)
	}

	for _, ns := range in.Subtasks {
		if _, ok := s.appendSubtask(&t, ns.Text, ns.Duration); !ok {
			log.Printf("[tasks] warning: subtask %q rejected for task %q", ns.Text, text)
		}
	}
	deriveFromSubtasks(&t, s.now())

	s.tasks = append([]Task{t}, s.tasks...)
	s.save()
	return t.clone(), true
}

// AddSubtask appends a subtask. Its duration must fit in what remains of the parent's duration.
func (s *Store) AddSubtask(taskID int64, text string, duration int) (Subtask, bool) {
	i := s.index(taskID)
	if i < 0 {
		return Subtask{}, false
	}
	t := &s.tasks[i]
	st, ok := s.appendSubtask(t, text, duration)
	if !ok {
		return Subtask{}, false
	}
	deriveFromSubtasks(t, s.now())
	s.save()
	return st, true
}

func (s *Store) appendSubtask(t *Task, text string, duration int) (Subtask, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Subtask{}, false
	}
	duration = max(duration, 0)
	if !fitsBudget(t.Duration, t.subtaskMinutes(), duration) {
		return Subtask{}, false
	}
	st := Subtask{ID: s.nextID(), Text: text, Duration: duration}
	t.Subtasks = append(t.Subtasks, st)
	return st, true
}

func fitsBudget(parentMinutes, siblingMinutes, minutes int) bool {
	if minutes == 0 {
		return true
	}
	if parentMinutes <= 0 {
		return false
	}
	return siblingMinutes+minutes <= parentMinutes
}

// ToggleTask flips completion of a task without subtasks and reports the new state.
func (s *Store) ToggleTask(id int64) (bool, bool) {
	i := s.index(id)
	if i < 0 {
		return false, false
	}
	t := &s.tasks[i]
	if len(t.Subtasks) > 0 {
		return t.Completed, false
	}
	setCompleted(t, !t.Completed, s.now())
	s.save()
	return t.Completed, true
}

func (s *Store) ToggleSubtask(taskID, subtaskID int64) (SubtaskToggle, bool) {
	i := s.index(taskID)
	if i < 0 {
		return SubtaskToggle{}, false
	}
	t := &s.tasks[i]
	j := subtaskIndex(t, subtaskID)
	if j < 0 {
		return SubtaskToggle{}, false
	}

	wasCompleted := t.Completed
	t.Subtasks[j].Completed = !t.Subtasks[j].Completed
	deriveFromSubtasks(t, s.now())
	s.save()

	return SubtaskToggle{
		SubtaskCompleted:     t.Subtasks[j].Completed,
		ParentCompleted:      t.Completed,
		ParentNewlyCompleted: t.Completed && !wasCompleted,
	}, true
}

func (s *Store) DeleteTask(id int64) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
	s.save()
	return true
}

// EditTask applies p. Empty text deletes the task. Subtask durations over the
// task duration are accepted and reported through OverBudget.
func (s *Store) EditTask(id int64, p Patch) (EditResult, bool) {
	i := s.index(id)
	if i < 0 {
		return EditResult{}, false
	}

	if p.Text != nil && strings.TrimSpace(*p.Text) == "" {
		s.DeleteTask(id)
		return EditResult{Deleted: true}, true
	}

	t := &s.tasks[i]
	if p.Text != nil {
		t.Text = strings.TrimSpace(*p.Text)
	}
	if p.DueDate != nil {
		if due, ok := normalizeDueDate(*p.DueDate); ok {
			t.DueDate = due
		} else {
			log.Printf("[tasks] warning: ignoring invalid due date %q", *p.DueDate)
		}
	}
	if p.Priority != nil {
		if pr, ok := ParsePriority(string(*p.Priority)); ok {
			t.Priority = pr
		}
	}
	if p.Duration != nil {
		t.Duration = max(*p.Duration, 0)
	}
	if p.Subtasks != nil {
		t.Subtasks = s.rebuildSubtasks(t.Subtasks, *p.Subtasks)
	}
	deriveFromSubtasks(t, s.now())

	res := EditResult{}
	if sum := t.subtaskMinutes(); sum > 0 && sum > t.Duration {
		res.OverBudget = true
		log.Printf("[tasks] warning: subtasks of %q total %d min, task duration is %d min", t.Text, sum, t.Duration)
	}
	s.save()
	return res, true
}

func (s *Store) rebuildSubtasks(old []Subtask, edits []SubtaskEdit) []Subtask {
	var out []Subtask
	for _, e := range edits {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		st := Subtask{Text: text, Duration: max(e.Duration, 0)}
		if e.ID != 0 {
			for _, prev := range old {
				if prev.ID == e.ID {
					st.ID = prev.ID
					st.Completed = prev.Completed
					st.TimeSpent = prev.TimeSpent
					break
				}
			}
		}
		if st.ID == 0 {
			st.ID = s.nextID()
		}
		out = append(out, st)
	}
	return out
}

// Timeable resolves ref to a timer budget. A task whose subtasks carry
// durations is not timeable as a whole.
func (s *Store) Timeable(ref Ref) (Budget, bool) {
	i := s.index(ref.TaskID)
	if i < 0 {
		return Budget{}, false
	}
	t := &s.tasks[i]
	if !ref.IsSubtask() {
		if t.HasTimedSubtasks() {
			return Budget{}, false
		}
		return Budget{
			TotalSeconds: t.Duration * 60,
			SpentSeconds: t.TimeSpent,
			Label:        t.Text,
			Completed:    t.Completed,
		}, true
	}

	j := subtaskIndex(t, ref.SubtaskID)
	if j < 0 {
		return Budget{}, false
	}
	st := t.Subtasks[j]
	return Budget{
		TotalSeconds: st.Duration * 60,
		SpentSeconds: st.TimeSpent,
		Label:        t.Text + " > " + st.Text,
		Completed:    st.Completed,
	}, true
}

// CommitTimeSpent writes the time used by a timer session into the addressed
// entity: the full duration when finished, else duration minus remainingSeconds,
// clamped to [0, duration].
func (s *Store) CommitTimeSpent(ref Ref, remainingSeconds int, finished bool) bool {
	i := s.index(ref.TaskID)
	if i < 0 {
		return false
	}
	t := &s.tasks[i]

	if !ref.IsSubtask() {
		total := t.Duration * 60
		if total <= 0 {
			return false
		}
		t.TimeSpent = spentAfter(total, remainingSeconds, finished)
		s.save()
		return true
	}

	j := subtaskIndex(t, ref.SubtaskID)
	if j < 0 {
		return false
	}
	st := &t.Subtasks[j]
	total := st.Duration * 60
	if total <= 0 {
		return false
	}
	st.TimeSpent = spentAfter(total, remainingSeconds, finished)
	t.TimeSpent = sumSubtaskSpent(t)
	s.save()
	return true
}

func spentAfter(total, remaining int, finished bool) int {
	spent := total
	if !finished {
		spent = total - remaining
	}
	return min(max(spent, 0), total)
}

// Import appends tasks whose ids are not already present. Tasks without an id get a fresh one.
func (s *Store) Import(list []Task) int {
	added := 0
	for _, t := range list {
		t = t.clone()
		t.Text = strings.TrimSpace(t.Text)
		if t.Text == "" {
			continue
		}
		if t.ID != 0 && s.index(t.ID) >= 0 {
			continue
		}
		if t.ID == 0 {
			t.ID = s.nextID()
		} else {
			s.trackID(t.ID)
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = s.now()
		}
		for k := range t.Subtasks {
			if t.Subtasks[k].ID == 0 {
				t.Subtasks[k].ID = s.nextID()
			} else {
				s.trackID(t.Subtasks[k].ID)
			}
		}
		normalize(&t)
		s.tasks = append(s.tasks, t)
		added++
	}
	if added > 0 {
		s.save()
	}
	return added
}

func setCompleted(t *Task, completed bool, now time.Time) {
	if completed && !t.Completed {
		at := now
		t.CompletedAt = &at
	}
	if !completed {
		t.CompletedAt = nil
	}
	t.Completed = completed
}

// deriveFromSubtasks recomputes completion and time spent for tasks that have subtasks.
func deriveFromSubtasks(t *Task, now time.Time) {
	if len(t.Subtasks) == 0 {
		return
	}
	all := true
	for _, st := range t.Subtasks {
		if !st.Completed {
			all = false
			break
		}
	}
	setCompleted(t, all, now)
	if t.HasTimedSubtasks() {
		t.TimeSpent = sumSubtaskSpent(t)
	}
}

func sumSubtaskSpent(t *Task) int {
	total := 0
	for _, st := range t.Subtasks {
		total += st.TimeSpent
	}
	return total
}

// normalize collapses the encodings of "no duration" and restores derived fields after loading.
func normalize(t *Task) {
	t.Duration = max(t.Duration, 0)
	if t.Priority != "" {
		if p, ok := ParsePriority(string(t.Priority)); ok {
			t.Priority = p
		} else {
			t.Priority = ""
		}
	}
	if due, ok := normalizeDueDate(t.DueDate); ok {
		t.DueDate = due
	} else {
		t.DueDate = ""
	}
	for k := range t.Subtasks {
		t.Subtasks[k].Duration = max(t.Subtasks[k].Duration, 0)
	}
	if len(t.Subtasks) > 0 {
		all := true
		for _, st := range t.Subtasks {
			all = all && st.Completed
		}
		t.Completed = all
		if !all {
			t.CompletedAt = nil
		}
	}
	clampSpent(t)
}

// clampSpent keeps logged time within the planned budget.
func clampSpent(t *Task) {
	for k := range t.Subtasks {
		st := &t.Subtasks[k]
		st.TimeSpent = min(max(st.TimeSpent, 0), st.Duration*60)
	}
	if t.HasTimedSubtasks() {
		t.TimeSpent = sumSubtaskSpent(t)
		return
	}
	t.TimeSpent = min(max(t.TimeSpent, 0), t.Duration*60)
}

// normalizeDueDate accepts "", a date, or an RFC 3339 timestamp and returns the date part.
func normalizeDueDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", true
	}
	if d, err := time.Parse(DateLayout, s); err == nil {
		return d.Format(DateLayout), true
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.Format(DateLayout), true
	}
	return "", false
}
