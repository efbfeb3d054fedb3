package notify

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/stellarlinkco/focusdo/internal/config"
	"github.com/stellarlinkco/focusdo/internal/timer"
)

const (
	KindTimerExpired = "timer.expired"
	KindReminderDue  = "reminder.due"
)

type Notification struct {
	Kind  string    `json:"kind"`
	Title string    `json:"title"`
	Body  string    `json:"body"`
	At    time.Time `json:"at"`
}

// FromExpiry builds the "time's up" notification for a finished session.
func FromExpiry(exp timer.Expiry) Notification {
	return Notification{
		Kind:  KindTimerExpired,
		Title: "Time's up",
		Body:  exp.Message(),
		At:    exp.At,
	}
}

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(n Notification) error
}

// StatePublisher is implemented by channels that render live state.
type StatePublisher interface {
	PublishState(state any) error
}

// StateFunc returns the current state for renderers.
type StateFunc func() any

type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewManager builds the channels enabled in cfg. The log channel is always present.
// control may be nil, which leaves the web UI read-only.
func NewManager(cfg config.NotifyConfig, state StateFunc, control TimerControl) (*Manager, error) {
	m := &Manager{channels: make(map[string]Channel)}
	m.Add(NewLogChannel())

	if cfg.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Telegram)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.Add(ch)
	}

	if cfg.WebUI.Enabled {
		ch, err := NewWebUIChannel(cfg.WebUI, state)
		if err != nil {
			return nil, fmt.Errorf("init webui channel: %w", err)
		}
		if control != nil {
			ch.SetControl(control)
		}
		m.Add(ch)
	}

	return m, nil
}

// Add registers ch, replacing any channel with the same name.
func (m *Manager) Add(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

func (m *Manager) snapshot() []Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Channel, 0, len(m.channels))
	for _, name := range m.names() {
		out = append(out, m.channels[name])
	}
	return out
}

func (m *Manager) names() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) StartAll(ctx context.Context) error {
	var wg sync.WaitGroup
	chans := m.snapshot()
	errCh := make(chan error, len(chans))

	for _, ch := range chans {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			log.Printf("[notify] starting %s", ch.Name())
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", ch.Name(), err)
			}
		}(ch)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

func (m *Manager) StopAll() error {
	for _, ch := range m.snapshot() {
		log.Printf("[notify] stopping %s", ch.Name())
		if err := ch.Stop(); err != nil {
			log.Printf("[notify] error stopping %s: %v", ch.Name(), err)
		}
	}
	return nil
}

// Notify delivers n to every channel. A failing channel does not stop the others.
func (m *Manager) Notify(n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	for _, ch := range m.snapshot() {
		if err := ch.Send(n); err != nil {
			log.Printf("[notify] send to %s failed: %v", ch.Name(), err)
		}
	}
}

// PublishState forwards state to channels that render it.
func (m *Manager) PublishState(state any) {
	for _, ch := range m.snapshot() {
		p, ok := ch.(StatePublisher)
		if !ok {
			continue
		}
		if err := p.PublishState(state); err != nil {
			log.Printf("[notify] publish state to %s failed: %v", ch.Name(), err)
		}
	}
}

func (m *Manager) EnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.names()
}
