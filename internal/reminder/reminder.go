package reminder

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/stellarlinkco/focusdo/internal/notify"
	"github.com/stellarlinkco/focusdo/internal/tasks"
)

// Notifier receives reminder notifications.
type Notifier interface {
	Notify(n notify.Notification)
}

// Service sends a digest of overdue and due-today tasks on a cron schedule.
type Service struct {
	schedule string
	source   func() []tasks.Task
	notifier Notifier
	now      func() time.Time

	mu     sync.Mutex
	cron   *rcron.Cron
	stopCh chan struct{}
}

func NewService(schedule string, source func() []tasks.Task, notifier Notifier) *Service {
	return &Service{
		schedule: schedule,
		source:   source,
		notifier: notifier,
		now:      time.Now,
	}
}

// ParseSchedule validates a cron expression with a leading seconds field.
func ParseSchedule(expr string) (rcron.Schedule, error) {
	parser := rcron.NewParser(rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse reminder schedule %q: %w", expr, err)
	}
	return sched, nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	sched, err := ParseSchedule(s.schedule)
	if err != nil {
		return err
	}
	c := rcron.New(rcron.WithSeconds())
	c.Schedule(sched, rcron.FuncJob(func() { s.RunOnce() }))
	c.Start()
	s.cron = c

	stopCh := make(chan struct{})
	s.stopCh = stopCh
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()

	log.Printf("[reminder] started, next run at %s", sched.Next(s.now()).Format(time.RFC3339))
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	c, stopCh := s.cron, s.stopCh
	s.cron, s.stopCh = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	close(stopCh)

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		log.Printf("[reminder] stop timeout waiting for running digest")
	}
	log.Printf("[reminder] stopped")
}

// RunOnce sends the current digest. It reports false when there is nothing to remind about.
func (s *Service) RunOnce() bool {
	now := s.now()
	d := tasks.DueDigest(s.source(), now)
	if d.Empty() {
		log.Printf("[reminder] nothing due")
		return false
	}
	s.notifier.Notify(DigestNotification(d, now))
	return true
}

// DigestNotification renders d as a reminder notification.
func DigestNotification(d tasks.Digest, now time.Time) notify.Notification {
	n := len(d.Overdue) + len(d.DueToday)
	title := fmt.Sprintf("%d tasks need attention", n)
	if n == 1 {
		title = "1 task needs attention"
	}

	var b strings.Builder
	if len(d.Overdue) > 0 {
		b.WriteString("Overdue:\n")
		for _, t := range d.Overdue {
			fmt.Fprintf(&b, "- %s (due %s)\n", t.Text, t.DueDate)
		}
	}
	if len(d.DueToday) > 0 {
		b.WriteString("Due today:\n")
		for _, t := range d.DueToday {
			line := "- " + t.Text
			if t.Duration > 0 {
				line += " [" + tasks.FormatMinutes(t.Duration) + "]"
			}
			b.WriteString(line + "\n")
		}
	}

	return notify.Notification{
		Kind:  notify.KindReminderDue,
		Title: title,
		Body:  strings.TrimSuffix(b.String(), "\n"),
		At:    now,
	}
}
