package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/focusdo/internal/tasks"
	"github.com/stellarlinkco/focusdo/internal/tracker"
)

func newAddCmd() *cobra.Command {
	var due, priority, duration string
	var subs []string

	cmd := &cobra.Command{
		Use:   "add TEXT...",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := tasks.NewTask{Text: strings.Join(args, " ")}

			var err error
			if in.DueDate, err = parseDue(due, time.Now()); err != nil {
				return err
			}
			if in.Priority, err = parsePriorityFlag(priority); err != nil {
				return err
			}
			if in.Duration, err = parseMinutes(duration); err != nil {
				return err
			}
			for _, s := range subs {
				e, err := parseSubtask(s)
				if err != nil {
					return err
				}
				in.Subtasks = append(in.Subtasks, tasks.NewSubtask{Text: e.Text, Duration: e.Duration})
			}

			return withTracker(func(tr *tracker.Tracker) error {
				t, ok := tr.AddTask(in)
				if !ok {
					return errors.New("task text is empty")
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Added #%d %s\n", t.ID, t.Text)
				if dropped := len(in.Subtasks) - len(t.Subtasks); dropped > 0 {
					fmt.Fprintf(out, "warning: %d subtask(s) did not fit the task duration\n", dropped)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&due, "due", "", "Due date (YYYY-MM-DD, today, tomorrow)")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "Priority: low, medium, high")
	cmd.Flags().StringVarP(&duration, "duration", "d", "", "Planned time, in minutes or as 1h30m")
	cmd.Flags().StringArrayVarP(&subs, "sub", "s", nil, "Subtask as TEXT[:DURATION], repeatable")
	return cmd
}

func newListCmd() *cobra.Command {
	var filter, sortBy, group string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, ok := tasks.ParseFilter(filter)
			if !ok {
				return fmt.Errorf("unknown filter %q", filter)
			}
			by, ok := tasks.ParseSortOption(sortBy)
			if !ok {
				return fmt.Errorf("unknown sort %q", sortBy)
			}
			g, ok := tasks.ParseGroupBy(group)
			if !ok {
				return fmt.Errorf("unknown grouping %q", group)
			}

			return withTracker(func(tr *tracker.Tracker) error {
				st := tr.State()
				writeTaskList(cmd.OutOrStdout(), st, f, by, g, time.Now())
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&filter, "filter", "f", "all", "all, active or completed")
	cmd.Flags().StringVar(&sortBy, "sort", "created", "created, due, priority or text")
	cmd.Flags().StringVarP(&group, "group", "g", "none", "none, due or priority")
	return cmd
}

func writeTaskList(w io.Writer, st tracker.State, f tasks.Filter, by tasks.SortOption, g tasks.GroupBy, now time.Time) {
	list := tasks.Sort(f.Apply(st.Tasks), by)
	if len(list) == 0 {
		fmt.Fprintln(w, "No tasks.")
		return
	}

	for _, grp := range tasks.GroupTasks(list, g, now) {
		if grp.Title != "" {
			header := "== " + grp.Title
			if total := tasks.FormatMinutes(grp.TotalDuration); total != "" {
				header += " (" + total + ")"
			}
			if grp.OverCapacity() {
				header += " over capacity"
			}
			fmt.Fprintln(w, header)
		}
		for _, t := range grp.Tasks {
			writeTask(w, t, st.Session)
		}
	}
	fmt.Fprintf(w, "%d active\n", st.Active)
}

func writeTask(w io.Writer, t tasks.Task, s *tracker.SessionView) {
	timing := func(subtaskID int64) string {
		if s != nil && s.TodoID == t.ID && s.SubtaskID == subtaskID {
			return "  <" + tasks.FormatClock(s.RemainingSeconds) + ">"
		}
		return ""
	}

	var details []string
	if t.DueDate != "" {
		details = append(details, "due "+t.DueDate)
	}
	if t.Priority != "" && t.Priority != tasks.PriorityMedium {
		details = append(details, string(t.Priority))
	}
	if d := tasks.FormatMinutes(t.Duration); d != "" {
		details = append(details, d)
	}
	if t.TimeSpent > 0 {
		details = append(details, "spent "+tasks.FormatSeconds(t.TimeSpent))
	}
	line := fmt.Sprintf("%s #%d %s", checkbox(t.Completed), t.ID, t.Text)
	if len(details) > 0 {
		line += " (" + strings.Join(details, ", ") + ")"
	}
	fmt.Fprintln(w, line+timing(0))

	for _, st := range t.Subtasks {
		sub := fmt.Sprintf("    %s #%d %s", checkbox(st.Completed), st.ID, st.Text)
		if d := tasks.FormatMinutes(st.Duration); d != "" {
			sub += " [" + d + "]"
		}
		if st.TimeSpent > 0 {
			sub += " spent " + tasks.FormatSeconds(st.TimeSpent)
		}
		fmt.Fprintln(w, sub+timing(st.ID))
	}
}

func checkbox(done bool) string {
	if done {
		return "[x]"
	}
	return "[ ]"
}

func newToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle ID",
		Short: "Mark a task done or not done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withTracker(func(tr *tracker.Tracker) error {
				t, ok := tr.Task(id)
				if !ok {
					return fmt.Errorf("task #%d not found", id)
				}
				if len(t.Subtasks) > 0 {
					return fmt.Errorf("task #%d is completed through its subtasks; use 'focusdo sub toggle'", id)
				}
				completed, _ := tr.ToggleTask(id)
				fmt.Fprintf(cmd.OutOrStdout(), "%s #%d %s\n", checkbox(completed), id, t.Text)
				return nil
			})
		},
	}
}

func newSubCmd() *cobra.Command {
	sub := &cobra.Command{
		Use:   "sub",
		Short: "Manage subtasks",
	}

	var duration string
	add := &cobra.Command{
		Use:   "add TASK TEXT...",
		Short: "Add a subtask",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			minutes, err := parseMinutes(duration)
			if err != nil {
				return err
			}
			text := strings.Join(args[1:], " ")
			return withTracker(func(tr *tracker.Tracker) error {
				if _, ok := tr.Task(id); !ok {
					return fmt.Errorf("task #%d not found", id)
				}
				st, ok := tr.AddSubtask(id, text, minutes)
				if !ok {
					return fmt.Errorf("subtask %q does not fit task #%d", text, id)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added #%d/%d %s\n", id, st.ID, st.Text)
				return nil
			})
		},
	}
	add.Flags().StringVarP(&duration, "duration", "d", "", "Planned time, in minutes or as 1h30m")

	toggle := &cobra.Command{
		Use:   "toggle TASK SUB",
		Short: "Mark a subtask done or not done",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseID(args[0])
			if err != nil {
				return err
			}
			subID, err := parseID(args[1])
			if err != nil {
				return err
			}
			return withTracker(func(tr *tracker.Tracker) error {
				res, ok := tr.ToggleSubtask(taskID, subID)
				if !ok {
					return fmt.Errorf("subtask #%d/%d not found", taskID, subID)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s #%d/%d\n", checkbox(res.SubtaskCompleted), taskID, subID)
				if res.ParentNewlyCompleted {
					fmt.Fprintf(out, "Task #%d is complete\n", taskID)
				}
				return nil
			})
		},
	}

	sub.AddCommand(add, toggle)
	return sub
}

func newEditCmd() *cobra.Command {
	var text, due, priority, duration string
	var subs []string
	var clearSubs bool

	cmd := &cobra.Command{
		Use:   "edit ID",
		Short: "Edit a task; only the flags given are changed",
		Long: "Edit a task; only the flags given are changed.\n" +
			"--sub replaces the subtask list: ID=TEXT[:DURATION] keeps an existing subtask,\n" +
			"TEXT[:DURATION] adds one, and subtasks not listed are removed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			var p tasks.Patch
			flags := cmd.Flags()
			if flags.Changed("text") {
				p.Text = &text
			}
			if flags.Changed("due") {
				d, err := parseDue(due, time.Now())
				if err != nil {
					return err
				}
				p.DueDate = &d
			}
			if flags.Changed("priority") {
				pr, err := parsePriorityFlag(priority)
				if err != nil {
					return err
				}
				p.Priority = &pr
			}
			if flags.Changed("duration") {
				m, err := parseMinutes(duration)
				if err != nil {
					return err
				}
				p.Duration = &m
			}
			if flags.Changed("sub") || clearSubs {
				edits := []tasks.SubtaskEdit{}
				for _, s := range subs {
					e, err := parseSubtask(s)
					if err != nil {
						return err
					}
					edits = append(edits, e)
				}
				p.Subtasks = &edits
			}

			return withTracker(func(tr *tracker.Tracker) error {
				res, ok := tr.EditTask(id, p)
				if !ok {
					return fmt.Errorf("task #%d not found", id)
				}
				out := cmd.OutOrStdout()
				if res.Deleted {
					fmt.Fprintf(out, "Deleted #%d\n", id)
					return nil
				}
				fmt.Fprintf(out, "Updated #%d\n", id)
				if res.OverBudget {
					fmt.Fprintln(out, "warning: subtasks add up to more than the task duration")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "New text; empty deletes the task")
	cmd.Flags().StringVar(&due, "due", "", "Due date (YYYY-MM-DD, today, tomorrow, none)")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "Priority: low, medium, high")
	cmd.Flags().StringVarP(&duration, "duration", "d", "", "Planned time, in minutes or as 1h30m; 0 clears")
	cmd.Flags().StringArrayVarP(&subs, "sub", "s", nil, "Subtask as [ID=]TEXT[:DURATION], repeatable")
	cmd.Flags().BoolVar(&clearSubs, "clear-subs", false, "Remove all subtasks")
	return cmd
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm ID",
		Aliases: []string{"delete"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withTracker(func(tr *tracker.Tracker) error {
				if !tr.DeleteTask(id) {
					return fmt.Errorf("task #%d not found", id)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted #%d\n", id)
				return nil
			})
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// parseMinutes accepts whole minutes ("90") or a Go duration ("1h30m"). Empty means zero.
func parseMinutes(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if m, err := strconv.Atoi(s); err == nil {
		if m < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return m, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d < 0 || d%time.Minute != 0 {
		return 0, fmt.Errorf("duration %q is not a whole number of minutes", s)
	}
	return int(d / time.Minute), nil
}

// parseSubtask reads "[ID=]TEXT[:DURATION]". A suffix that is not a duration stays part of the text.
func parseSubtask(s string) (tasks.SubtaskEdit, error) {
	var e tasks.SubtaskEdit
	rest := s
	if i := strings.Index(rest, "="); i > 0 {
		if id, err := strconv.ParseInt(strings.TrimSpace(rest[:i]), 10, 64); err == nil && id > 0 {
			e.ID = id
			rest = rest[i+1:]
		}
	}
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		if m, err := parseMinutes(rest[i+1:]); err == nil && strings.TrimSpace(rest[i+1:]) != "" {
			e.Duration = m
			rest = rest[:i]
		}
	}
	e.Text = strings.TrimSpace(rest)
	if e.Text == "" {
		return e, fmt.Errorf("subtask %q has no text", s)
	}
	return e, nil
}

func parseDue(s string, now time.Time) (string, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "", "none":
		return "", nil
	case "today":
		return now.Format(tasks.DateLayout), nil
	case "tomorrow":
		return now.AddDate(0, 0, 1).Format(tasks.DateLayout), nil
	default:
		if _, err := time.Parse(tasks.DateLayout, v); err != nil {
			return "", fmt.Errorf("invalid due date %q, want YYYY-MM-DD", s)
		}
		return v, nil
	}
}

func parsePriorityFlag(s string) (tasks.Priority, error) {
	if strings.TrimSpace(s) == "" {
		return tasks.PriorityMedium, nil
	}
	p, ok := tasks.ParsePriority(s)
	if !ok {
		return "", fmt.Errorf("invalid priority %q", s)
	}
	return p, nil
}
