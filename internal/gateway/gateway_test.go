package gateway

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stellarlinkco/focusdo/internal/config"
	"github.com/stellarlinkco/focusdo/internal/kv"
	"github.com/stellarlinkco/focusdo/internal/notify"
	"github.com/stellarlinkco/focusdo/internal/tasks"
)

// recorder is a thread-safe notify.Channel
type recorder struct {
	mu      sync.Mutex
	sent    []notify.Notification
	states  int
	stopped bool
	got     chan notify.Notification
}

func newRecorder() *recorder {
	return &recorder{got: make(chan notify.Notification, 4)}
}

func (r *recorder) Name() string                    { return "recorder" }
func (r *recorder) Start(ctx context.Context) error { return nil }

func (r *recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	return nil
}

func (r *recorder) Send(n notify.Notification) error {
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()
	select {
	case r.got <- n:
	default:
	}
	return nil
}

func (r *recorder) PublishState(state any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states++
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Store.DBPath = filepath.Join(t.TempDir(), "focusdo.db")
	cfg.Timer.TickMs = 5
	cfg.Reminder.Enabled = false
	return cfg
}

func runGateway(t *testing.T, g *Gateway, sigCh chan os.Signal) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- g.Run(context.Background())
	}()
	t.Cleanup(func() {
		select {
		case sigCh <- os.Interrupt:
		default:
		}
	})
	return done
}

func TestNew_SQLiteStore(t *testing.T) {
	cfg := testConfig(t)
	g, err := New(cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if _, ok := g.store.(*kv.SQLiteStore); !ok {
		t.Errorf("store = %T, want *kv.SQLiteStore", g.store)
	}
	if g.reminder != nil {
		t.Error("reminder should be nil when disabled")
	}
	if err := g.Shutdown(); err != nil {
		t.Errorf("Shutdown error: %v", err)
	}
}

func TestNewWithOptions_ChannelError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notify.Telegram = config.TelegramConfig{Enabled: true}

	mem := kv.NewMemoryStore()
	if _, err := NewWithOptions(cfg, Options{Store: mem}); err == nil {
		t.Fatal("expected error for telegram without token")
	}
	if _, _, err := mem.Get(tasks.TodosKey); err != kv.ErrClosed {
		t.Errorf("store should be closed on error, got %v", err)
	}
}

func TestNewWithOptions_ReminderEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Reminder.Enabled = true

	g, err := NewWithOptions(cfg, Options{Store: kv.NewMemoryStore()})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}
	defer g.Shutdown()
	if g.reminder == nil {
		t.Error("reminder should be created when enabled")
	}
}

func TestGateway_Run_WithSignalChan(t *testing.T) {
	rec := newRecorder()
	sigCh := make(chan os.Signal, 1)
	mem := kv.NewMemoryStore()

	g, err := NewWithOptions(testConfig(t), Options{
		Store:      mem,
		Channels:   []notify.Channel{rec},
		SignalChan: sigCh,
	})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}

	done := runGateway(t, g, sigCh)
	time.Sleep(50 * time.Millisecond)
	sigCh <- os.Interrupt

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after signal")
	}

	rec.mu.Lock()
	stopped := rec.stopped
	rec.mu.Unlock()
	if !stopped {
		t.Error("channels should be stopped after shutdown")
	}
	if _, _, err := mem.Get(tasks.TodosKey); err != kv.ErrClosed {
		t.Errorf("store should be closed after shutdown, got %v", err)
	}
}

func TestGateway_Run_ContextCancel(t *testing.T) {
	g, err := NewWithOptions(testConfig(t), Options{
		Store:      kv.NewMemoryStore(),
		SignalChan: make(chan os.Signal, 1),
	})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after context cancel")
	}
}

func TestGateway_ExpiryReachesChannels(t *testing.T) {
	rec := newRecorder()
	sigCh := make(chan os.Signal, 1)

	g, err := NewWithOptions(testConfig(t), Options{
		Store:      kv.NewMemoryStore(),
		Channels:   []notify.Channel{rec},
		SignalChan: sigCh,
	})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}

	tr := g.Tracker()
	task, ok := tr.AddTask(tasks.NewTask{Text: "Stretch", Duration: 1})
	if !ok {
		t.Fatal("AddTask failed")
	}
	if !tr.StartTimer(tasks.Ref{TaskID: task.ID}) {
		t.Fatal("StartTimer failed")
	}

	done := runGateway(t, g, sigCh)

	select {
	case n := <-rec.got:
		if n.Kind != notify.KindTimerExpired || n.Body != "Time's up for: Stretch" {
			t.Errorf("notification = %+v", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expiry never reached the channel")
	}

	if got, _ := tr.Task(task.ID); got.TimeSpent != 60 {
		t.Errorf("TimeSpent = %d, want 60", got.TimeSpent)
	}
	rec.mu.Lock()
	states := rec.states
	rec.mu.Unlock()
	if states == 0 {
		t.Error("ticks should publish state")
	}

	sigCh <- os.Interrupt
	<-done
}
