package tasks

import (
	"sort"
	"strings"
	"time"
)

type Filter string

const (
	FilterAll       Filter = "all"
	FilterActive    Filter = "active"
	FilterCompleted Filter = "completed"
)

func ParseFilter(s string) (Filter, bool) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FilterAll, true
	case FilterAll, FilterActive, FilterCompleted:
		return f, true
	}
	return "", false
}

func (f Filter) Apply(list []Task) []Task {
	out := make([]Task, 0, len(list))
	for _, t := range list {
		switch f {
		case FilterActive:
			if t.Completed {
				continue
			}
		case FilterCompleted:
			if !t.Completed {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

type SortOption string

const (
	SortCreated  SortOption = "created"
	SortDue      SortOption = "due"
	SortPriority SortOption = "priority"
	SortText     SortOption = "text"
)

func ParseSortOption(s string) (SortOption, bool) {
	switch o := SortOption(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return SortCreated, true
	case SortCreated, SortDue, SortPriority, SortText:
		return o, true
	}
	return "", false
}

// Sort returns a sorted copy of list. Ties keep newest first.
func Sort(list []Task, by SortOption) []Task {
	out := make([]Task, len(list))
	copy(out, list)

	newer := func(a, b Task) bool { return a.CreatedAt.After(b.CreatedAt) }
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch by {
		case SortDue:
			ad, bd := a.DueDate, b.DueDate
			if ad != bd {
				if ad == "" {
					return false
				}
				if bd == "" {
					return true
				}
				return ad < bd
			}
		case SortPriority:
			if ar, br := a.EffectivePriority().rank(), b.EffectivePriority().rank(); ar != br {
				return ar > br
			}
		case SortText:
			if at, bt := strings.ToLower(a.Text), strings.ToLower(b.Text); at != bt {
				return at < bt
			}
		}
		return newer(a, b)
	})
	return out
}

type GroupBy string

const (
	GroupNone     GroupBy = "none"
	GroupDue      GroupBy = "due"
	GroupPriority GroupBy = "priority"
)

func ParseGroupBy(s string) (GroupBy, bool) {
	switch g := GroupBy(strings.ToLower(strings.TrimSpace(s))); g {
	case "":
		return GroupNone, true
	case GroupNone, GroupDue, GroupPriority:
		return g, true
	}
	return "", false
}

// OverCapacityMinutes is the group total above which a group holds more than a day of work.
const OverCapacityMinutes = 24 * 60

type Group struct {
	Title         string
	Tasks         []Task
	TotalDuration int // minutes
}

func (g Group) OverCapacity() bool {
	return g.TotalDuration > OverCapacityMinutes
}

const (
	GroupOverdue  = "Overdue"
	GroupToday    = "Today"
	GroupTomorrow = "Tomorrow"
	GroupThisWeek = "This Week"
	GroupLater    = "Later"
	GroupNoDue    = "No Due Date"
)

// GroupTasks partitions list keeping its order inside each group. Empty groups are omitted.
// With GroupNone a single untitled group is returned.
func GroupTasks(list []Task, by GroupBy, now time.Time) []Group {
	var titles []string
	var keyOf func(Task) string

	switch by {
	case GroupDue:
		titles = []string{GroupOverdue, GroupToday, GroupTomorrow, GroupThisWeek, GroupLater, GroupNoDue}
		keyOf = func(t Task) string { return dueBucket(t, now) }
	case GroupPriority:
		titles = []string{"High", "Medium", "Low"}
		keyOf = func(t Task) string {
			p := string(t.EffectivePriority())
			return strings.ToUpper(p[:1]) + p[1:]
		}
	default:
		return []Group{newGroup("", list)}
	}

	buckets := make(map[string][]Task, len(titles))
	for _, t := range list {
		k := keyOf(t)
		buckets[k] = append(buckets[k], t)
	}

	var groups []Group
	for _, title := range titles {
		if len(buckets[title]) == 0 {
			continue
		}
		groups = append(groups, newGroup(title, buckets[title]))
	}
	return groups
}

func newGroup(title string, list []Task) Group {
	g := Group{Title: title, Tasks: list}
	for _, t := range list {
		g.TotalDuration += t.Duration
	}
	return g
}

func dueBucket(t Task, now time.Time) string {
	due, ok := t.Due(now.Location())
	if !ok {
		return GroupNoDue
	}
	today := startOfDay(now)
	switch {
	case due.Before(today):
		return GroupOverdue
	case due.Equal(today):
		return GroupToday
	case due.Equal(today.AddDate(0, 0, 1)):
		return GroupTomorrow
	}
	_, weekEnd := weekRange(today)
	if !due.After(weekEnd) {
		return GroupThisWeek
	}
	return GroupLater
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// weekRange returns the Monday and Sunday of t's week.
func weekRange(t time.Time) (time.Time, time.Time) {
	offset := int(t.Weekday())
	if offset == 0 {
		offset = 7
	}
	start := t.AddDate(0, 0, -offset+1)
	end := start.AddDate(0, 0, 6)
	return start, end
}

// ActiveCount counts incomplete tasks.
func ActiveCount(list []Task) int {
	n := 0
	for _, t := range list {
		if !t.Completed {
			n++
		}
	}
	return n
}

// Digest lists incomplete tasks that need attention today.
type Digest struct {
	Overdue  []Task
	DueToday []Task
}

func (d Digest) Empty() bool {
	return len(d.Overdue) == 0 && len(d.DueToday) == 0
}

func DueDigest(list []Task, now time.Time) Digest {
	var d Digest
	for _, t := range list {
		if t.Completed {
			continue
		}
		switch dueBucket(t, now) {
		case GroupOverdue:
			d.Overdue = append(d.Overdue, t)
		case GroupToday:
			d.DueToday = append(d.DueToday, t)
		}
	}
	return d
}
