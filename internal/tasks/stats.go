package tasks

import (
	"fmt"
	"time"
)

// YearStats aggregates time spent on tasks completed during one calendar year.
type YearStats struct {
	Year         int
	Days         map[string]int // YYYY-MM-DD -> seconds
	TotalSeconds int
	MaxSeconds   int
}

func ComputeYearStats(list []Task, year int, loc *time.Location) YearStats {
	s := YearStats{Year: year, Days: make(map[string]int)}
	for _, t := range list {
		if !t.Completed || t.CompletedAt == nil || t.TimeSpent <= 0 {
			continue
		}
		at := t.CompletedAt.In(loc)
		if at.Year() != year {
			continue
		}
		day := at.Format(DateLayout)
		s.Days[day] += t.TimeSpent
		if s.Days[day] > s.MaxSeconds {
			s.MaxSeconds = s.Days[day]
		}
		s.TotalSeconds += t.TimeSpent
	}
	return s
}

// Level buckets a day's seconds into 0 (nothing logged) through 4 (busiest quarter).
func (s YearStats) Level(day string) int {
	v := s.Days[day]
	if v == 0 || s.MaxSeconds == 0 {
		return 0
	}
	switch pct := float64(v) / float64(s.MaxSeconds); {
	case pct > 0.75:
		return 4
	case pct > 0.5:
		return 3
	case pct > 0.25:
		return 2
	}
	return 1
}

// Months returns per-month totals, index 0 being January.
func (s YearStats) Months() [12]int {
	var out [12]int
	for day, secs := range s.Days {
		d, err := time.Parse(DateLayout, day)
		if err != nil {
			continue
		}
		out[d.Month()-1] += secs
	}
	return out
}

// FormatClock renders seconds as mm:ss for a countdown display.
func FormatClock(seconds int) string {
	seconds = max(seconds, 0)
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// FormatMinutes renders a duration in minutes as "1h 30m". Non-positive values render empty.
func FormatMinutes(minutes int) string {
	if minutes <= 0 {
		return ""
	}
	h, m := minutes/60, minutes%60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dm", m)
}

// FormatSeconds renders logged time: "45s", "5m", "2h", "2h 5m".
func FormatSeconds(seconds int) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	h, m := minutes/60, minutes%60
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}
