package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/focusdo/internal/tasks"
	"github.com/stellarlinkco/focusdo/internal/timer"
	"github.com/stellarlinkco/focusdo/internal/tracker"
)

var errNoTimer = errors.New("no active timer")

func newTimerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timer",
		Short: "Start, pause, stop or inspect the focus timer",
	}

	start := &cobra.Command{
		Use:   "start TASK [SUB]",
		Short: "Time a task, or one of its subtasks",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args)
			if err != nil {
				return err
			}
			return withTracker(func(tr *tracker.Tracker) error {
				if err := startTimer(tr, ref); err != nil {
					return err
				}
				writeSession(cmd.OutOrStdout(), tr.State().Session)
				return nil
			})
		},
	}

	pause := &cobra.Command{
		Use:   "pause",
		Short: "Pause the running timer, or resume a paused one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(func(tr *tracker.Tracker) error {
				if !tr.PauseTimer() {
					return errNoTimer
				}
				writeSession(cmd.OutOrStdout(), tr.State().Session)
				return nil
			})
		},
	}

	var finished bool
	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop the timer and log the time spent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(func(tr *tracker.Tracker) error {
				s, ok := tr.Session()
				if !ok {
					return errNoTimer
				}
				tr.StopTimer(finished)
				out := cmd.OutOrStdout()
				if t, ok := tr.Task(s.Target.TaskID); ok {
					fmt.Fprintf(out, "Stopped. #%d %s: spent %s\n", t.ID, t.Text, tasks.FormatSeconds(t.TimeSpent))
				} else {
					fmt.Fprintln(out, "Stopped.")
				}
				return nil
			})
		},
	}
	stop.Flags().BoolVar(&finished, "finished", false, "Log the full planned time")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the timer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(func(tr *tracker.Tracker) error {
				writeSession(cmd.OutOrStdout(), tr.State().Session)
				return nil
			})
		},
	}

	cmd.AddCommand(start, pause, stop, status)
	return cmd
}

func newFocusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "focus [TASK [SUB]]",
		Short: "Count down in the foreground until the session ends",
		Long: "Count down in the foreground until the session ends.\n" +
			"Interrupting leaves the timer running; the next command catches up on the elapsed time.",
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) > 0 {
				ref, err := parseRef(args)
				if err != nil {
					return err
				}
				if err := startTimer(a.tracker, ref); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			interval := time.Duration(a.cfg.Timer.TickMs) * time.Millisecond
			return runFocus(ctx, a.tracker, cmd.OutOrStdout(), interval)
		},
	}
}

// runFocus drives the tracker until the session expires or ctx is done.
// A paused session is resumed first.
func runFocus(ctx context.Context, tr *tracker.Tracker, w io.Writer, interval time.Duration) error {
	s, ok := tr.Session()
	if !ok {
		return fmt.Errorf("%w; start one with 'focusdo timer start'", errNoTimer)
	}
	if !s.IsRunning {
		tr.PauseTimer()
	}

	expired := make(chan timer.Expiry, 1)
	tr.OnExpire = func(exp timer.Expiry) {
		select {
		case expired <- exp:
		default:
		}
	}

	r := tracker.NewRunner(tr, interval)
	r.OnTick = func(st tracker.State) {
		if st.Session != nil {
			fmt.Fprintf(w, "\r%s  %s ", tasks.FormatClock(st.Session.RemainingSeconds), st.Session.Label)
		}
	}
	if err := r.Start(ctx); err != nil {
		return fmt.Errorf("start timer: %w", err)
	}
	defer r.Stop()

	select {
	case exp := <-expired:
		r.Stop()
		fmt.Fprintf(w, "\n%s\n", exp.Message())
	case <-ctx.Done():
		r.Stop()
		fmt.Fprintln(w, "\nLeft the timer running.")
	}
	return nil
}

func startTimer(tr *tracker.Tracker, ref tasks.Ref) error {
	if tr.StartTimer(ref) {
		return nil
	}
	if s, ok := tr.Session(); ok && s.IsRunning {
		return errors.New("another timer is running; pause or stop it first")
	}
	return fmt.Errorf("%s cannot be timed: it needs a duration, time left and to be incomplete", refString(ref))
}

func parseRef(args []string) (tasks.Ref, error) {
	var ref tasks.Ref
	var err error
	if ref.TaskID, err = parseID(args[0]); err != nil {
		return ref, err
	}
	if len(args) > 1 {
		if ref.SubtaskID, err = parseID(args[1]); err != nil {
			return ref, err
		}
	}
	return ref, nil
}

func refString(ref tasks.Ref) string {
	if ref.IsSubtask() {
		return fmt.Sprintf("#%d/%d", ref.TaskID, ref.SubtaskID)
	}
	return fmt.Sprintf("#%d", ref.TaskID)
}
