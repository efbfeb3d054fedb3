package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stellarlinkco/focusdo/internal/config"
	"github.com/stellarlinkco/focusdo/internal/kv"
	"github.com/stellarlinkco/focusdo/internal/notify"
	"github.com/stellarlinkco/focusdo/internal/reminder"
	"github.com/stellarlinkco/focusdo/internal/timer"
	"github.com/stellarlinkco/focusdo/internal/tracker"
)

// Options for creating a Gateway
type Options struct {
	Store      kv.Store         // defaults to the SQLite store at cfg.Store.DBPath
	Now        func() time.Time // defaults to time.Now
	Channels   []notify.Channel // extra notification channels
	SignalChan chan os.Signal   // for testing signal handling
}

// Gateway runs the long-lived process: timer ticks, reminders and notification channels.
type Gateway struct {
	cfg        *config.Config
	store      kv.Store
	tracker    *tracker.Tracker
	runner     *tracker.Runner
	notify     *notify.Manager
	reminder   *reminder.Service
	signalChan chan os.Signal // for testing
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg, signalChan: opts.SignalChan}

	g.store = opts.Store
	if g.store == nil {
		g.store = kv.Open(cfg.Store.DBPath)
	}

	g.tracker = tracker.New(g.store, opts.Now)
	if err := g.tracker.Restore(); err != nil {
		log.Printf("[gateway] restore warning: %v", err)
	}

	mgr, err := notify.NewManager(cfg.Notify, func() any { return g.tracker.State() }, g.tracker)
	if err != nil {
		_ = g.store.Close()
		return nil, fmt.Errorf("create notify manager: %w", err)
	}
	for _, ch := range opts.Channels {
		mgr.Add(ch)
	}
	g.notify = mgr

	g.tracker.OnExpire = func(exp timer.Expiry) {
		g.notify.Notify(notify.FromExpiry(exp))
	}

	g.runner = tracker.NewRunner(g.tracker, time.Duration(cfg.Timer.TickMs)*time.Millisecond)
	g.runner.OnTick = func(st tracker.State) {
		g.notify.PublishState(st)
	}

	if cfg.Reminder.Enabled {
		g.reminder = reminder.NewService(cfg.Reminder.Schedule, g.tracker.Tasks, g.notify)
	}

	return g, nil
}

// Tracker exposes the tracker driven by this gateway.
func (g *Gateway) Tracker() *tracker.Tracker {
	return g.tracker
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := g.notify.StartAll(ctx); err != nil {
		_ = g.Shutdown()
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.notify.EnabledChannels())

	if err := g.runner.Start(ctx); err != nil {
		_ = g.Shutdown()
		return fmt.Errorf("start runner: %w", err)
	}

	if g.reminder != nil {
		if err := g.reminder.Start(ctx); err != nil {
			log.Printf("[gateway] reminder start warning: %v", err)
		}
	}

	if s, ok := g.tracker.Session(); ok {
		log.Printf("[gateway] resumed timer on %+v (%ds left, running=%v)", s.Target, s.RemainingSeconds, s.IsRunning)
	}
	log.Printf("[gateway] running")

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) Shutdown() error {
	g.runner.Stop()
	if g.reminder != nil {
		g.reminder.Stop()
	}
	_ = g.notify.StopAll()
	if err := g.store.Close(); err != nil && err != kv.ErrClosed {
		log.Printf("[gateway] close store warning: %v", err)
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}
