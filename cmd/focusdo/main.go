package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/focusdo/internal/config"
	"github.com/stellarlinkco/focusdo/internal/gateway"
	"github.com/stellarlinkco/focusdo/internal/kv"
	"github.com/stellarlinkco/focusdo/internal/tasks"
	"github.com/stellarlinkco/focusdo/internal/tracker"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "focusdo",
		Short:        "focusdo - todo list with a focus timer",
		SilenceUsage: true,
	}

	root.AddCommand(
		newAddCmd(),
		newListCmd(),
		newToggleCmd(),
		newSubCmd(),
		newEditCmd(),
		newRmCmd(),
		newTimerCmd(),
		newFocusCmd(),
		newStatsCmd(),
		newExportCmd(),
		newImportCmd(),
		&cobra.Command{
			Use:   "serve",
			Short: "Run the timer, reminders and notification channels until interrupted",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "onboard",
			Short: "Create the default config",
			Args:  cobra.NoArgs,
			RunE:  runOnboard,
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show focusdo status",
			Args:  cobra.NoArgs,
			RunE:  runStatus,
		},
	)
	return root
}

// app is one cold start: config, store and a tracker whose timer has been reconciled.
type app struct {
	cfg     *config.Config
	store   kv.Store
	tracker *tracker.Tracker
}

func openApp() (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	store := kv.Open(cfg.Store.DBPath)
	tr := tracker.New(store, nil)
	// Restore logs what it could not read and leaves the tracker usable.
	_ = tr.Restore()
	return &app{cfg: cfg, store: store, tracker: tr}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Printf("[focusdo] warning: close store: %v", err)
	}
}

// withTracker runs fn against a freshly opened tracker and closes the store afterwards.
func withTracker(fn func(tr *tracker.Tracker) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a.tracker)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	a.Close()
	fmt.Fprintf(out, "Database: %s\n", a.cfg.Store.DBPath)

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Run 'focusdo add \"Write report\" --duration 25' to add a task")
	fmt.Fprintln(out, "  2. Run 'focusdo focus' after 'focusdo timer start <id>' to count down")
	fmt.Fprintf(out, "  3. Edit %s to enable Telegram, the web UI or reminders\n", cfgPath)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	a, err := openApp()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}
	defer a.Close()
	cfg := a.cfg

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Database: %s\n", cfg.Store.DBPath)

	st := a.tracker.State()
	fmt.Fprintf(out, "Tasks: %d active, %d total\n", st.Active, len(st.Tasks))
	writeSession(out, st.Session)

	if cfg.Reminder.Enabled {
		fmt.Fprintf(out, "Reminders: enabled (%s)\n", cfg.Reminder.Schedule)
	} else {
		fmt.Fprintln(out, "Reminders: disabled")
	}
	fmt.Fprintf(out, "Telegram: enabled=%v\n", cfg.Notify.Telegram.Enabled)
	fmt.Fprintf(out, "Web UI: enabled=%v (%s:%d)\n", cfg.Notify.WebUI.Enabled, cfg.Notify.WebUI.Host, cfg.Notify.WebUI.Port)
	return nil
}

func writeSession(w io.Writer, s *tracker.SessionView) {
	if s == nil {
		fmt.Fprintln(w, "Timer: idle")
		return
	}
	state := "paused"
	if s.IsRunning {
		state = "running"
	}
	fmt.Fprintf(w, "Timer: %s %s (%s)\n", tasks.FormatClock(s.RemainingSeconds), s.Label, state)
}
