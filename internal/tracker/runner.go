package tracker

import (
	"context"
	"log"
	"sync"
	"time"
)

// Runner drives Tracker.Tick from a ticker.
type Runner struct {
	tracker  *Tracker
	interval time.Duration

	// OnTick receives the state after every tick that touched a session.
	OnTick func(st State)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRunner(t *Tracker, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = time.Second
	}
	return &Runner{tracker: t, interval: interval}
}

func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.tickLoop(runCtx, r.done)

	log.Printf("[tracker] runner started (every %s)", r.interval)
	return nil
}

func (r *Runner) tickLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s, active := r.tracker.Session()
			if !active || !s.IsRunning {
				continue
			}
			r.tracker.Tick()
			if r.OnTick != nil {
				r.OnTick(r.tracker.State())
			}
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Printf("[tracker] runner stopped")
}
