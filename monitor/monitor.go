// Package monitor publishes game state snapshots. A single goroutine polls a
// Source; readers get copies, so a published snapshot is never mutated.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nstehr/autocast/model"
)

// ErrNoState is returned by a Source with nothing to report yet. It is not
// counted as a monitoring error.
var ErrNoState = errors.New("no game state available")

// Source produces one snapshot per call.
type Source interface {
	Capture(ctx context.Context) (model.GameState, error)
}

type SourceFunc func(ctx context.Context) (model.GameState, error)

func (f SourceFunc) Capture(ctx context.Context) (model.GameState, error) { return f(ctx) }

type Config struct {
	Interval             time.Duration `yaml:"interval"`
	HistorySize          int           `yaml:"history_size"`
	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"`
}

func DefaultConfig() Config {
	return Config{Interval: 200 * time.Millisecond, HistorySize: 100, MaxConsecutiveErrors: 10}
}

func (c Config) Validate() error {
	if c.Interval <= 0 || c.HistorySize <= 0 || c.MaxConsecutiveErrors <= 0 {
		return fmt.Errorf("monitor interval, history size and error limit must be positive")
	}
	return nil
}

// Trigger narrows when a change callback fires. The zero value always fires.
type Trigger struct {
	HealthBelow  float64 // fire only when the new health percent is at or below this
	CombatChange bool    // fire only when InCombat flips
	TargetChange bool    // fire only when the target appears, disappears or changes name
}

func (t Trigger) matches(prev, next model.GameState) bool {
	if t.HealthBelow > 0 && next.HealthPercent() > t.HealthBelow {
		return false
	}
	if t.CombatChange && prev.InCombat == next.InCombat {
		return false
	}
	if t.TargetChange && prev.Target.Exists == next.Target.Exists && prev.Target.Name == next.Target.Name {
		return false
	}
	return true
}

type callback struct {
	name    string
	fn      func(prev, next model.GameState)
	trigger Trigger
}

type Stats struct {
	Updates           int       `json:"updates"`
	Errors            int       `json:"errorCount"`
	ConsecutiveErrors int       `json:"consecutiveErrors"`
	LastError         string    `json:"lastError,omitempty"`
	LastUpdate        time.Time `json:"lastUpdateTime"`
	UpdatesPerSecond  float64   `json:"updatesPerSecond"`
}

type Monitor struct {
	mu        sync.Mutex
	src       Source
	cfg       Config
	now       func() time.Time
	current   *model.GameState
	history   []model.GameState
	callbacks []callback
	onError   []func(error)
	stats     Stats
	ready     chan struct{}
	running   bool
}

type Option func(*Monitor)

func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

func New(src Source, cfg Config, opts ...Option) (*Monitor, error) {
	if src == nil {
		return nil, fmt.Errorf("monitor needs a state source")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Monitor{src: src, cfg: cfg, now: time.Now, ready: make(chan struct{}, 1)}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Updated receives a signal after each publish. Signals coalesce: a slow
// reader sees one pending signal, not one per snapshot.
func (m *Monitor) Updated() <-chan struct{} { return m.ready }

// Current returns a copy of the newest snapshot.
func (m *Monitor) Current() (model.GameState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return model.GameState{}, false
	}
	return m.current.Clone(), true
}

// History returns up to n of the newest snapshots, oldest first.
func (m *Monitor) History(n int) []model.GameState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.history) {
		n = len(m.history)
	}
	out := make([]model.GameState, 0, n)
	for _, s := range m.history[len(m.history)-n:] {
		out = append(out, s.Clone())
	}
	return out
}

// OnChange registers fn under name, replacing a callback of the same name.
func (m *Monitor) OnChange(name string, trigger Trigger, fn func(prev, next model.GameState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = slices.DeleteFunc(m.callbacks, func(c callback) bool { return c.name == name })
	m.callbacks = append(m.callbacks, callback{name: name, fn: fn, trigger: trigger})
}

func (m *Monitor) RemoveCallback(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.callbacks)
	m.callbacks = slices.DeleteFunc(m.callbacks, func(c callback) bool { return c.name == name })
	return len(m.callbacks) != n
}

func (m *Monitor) OnError(fn func(error)) {
	m.mu.Lock()
	m.onError = append(m.onError, fn)
	m.mu.Unlock()
}

// Publish reconciles s, stores a private copy and notifies callbacks with
// the previous and new snapshot. The first snapshot has nothing to compare
// against and notifies nobody.
func (m *Monitor) Publish(s model.GameState) {
	s = model.NewGameState(s.Clone())
	if s.Timestamp.IsZero() {
		s.Timestamp = m.now()
	}

	m.mu.Lock()
	prev := m.current
	m.current = &s
	m.history = append(m.history, s)
	if len(m.history) > m.cfg.HistorySize {
		m.history = m.history[len(m.history)-m.cfg.HistorySize:]
	}
	m.stats.Updates++
	m.stats.ConsecutiveErrors = 0
	if !m.stats.LastUpdate.IsZero() {
		if dt := s.Timestamp.Sub(m.stats.LastUpdate).Seconds(); dt > 0 {
			m.stats.UpdatesPerSecond = 1 / dt
		}
	}
	m.stats.LastUpdate = s.Timestamp
	cbs := slices.Clone(m.callbacks)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}

	if prev == nil {
		return
	}
	for _, cb := range cbs {
		if !cb.trigger.matches(*prev, s) {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("state callback panicked", "callback", cb.name, "panic", r)
				}
			}()
			cb.fn(prev.Clone(), s.Clone())
		}()
	}
}

// Poll captures and publishes one snapshot.
func (m *Monitor) Poll(ctx context.Context) error {
	s, err := m.src.Capture(ctx)
	if errors.Is(err, ErrNoState) {
		return nil
	}
	if err != nil {
		m.recordError(err)
		return err
	}
	m.Publish(s)
	return nil
}

func (m *Monitor) recordError(err error) {
	m.mu.Lock()
	m.stats.Errors++
	m.stats.ConsecutiveErrors++
	m.stats.LastError = err.Error()
	n := m.stats.ConsecutiveErrors
	cbs := slices.Clone(m.onError)
	m.mu.Unlock()

	slog.Error("monitoring error", "consecutive", n, "error", err)
	for _, fn := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("monitor error callback panicked", "panic", r)
				}
			}()
			fn(err)
		}()
	}
}

// Run polls until ctx is cancelled. Errors back off by half a second per
// consecutive error, capped at five seconds, and Run gives up after
// MaxConsecutiveErrors.
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor already running")
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	slog.Info("game state monitoring started", "interval", m.cfg.Interval)
	for {
		start := time.Now()
		var wait time.Duration
		if err := m.Poll(ctx); err != nil && ctx.Err() == nil {
			n := m.Stats().ConsecutiveErrors
			if n >= m.cfg.MaxConsecutiveErrors {
				slog.Error("too many consecutive monitoring errors, stopping", "errors", n)
				return fmt.Errorf("monitor stopped after %d consecutive errors: %w", n, err)
			}
			wait = min(time.Duration(n)*500*time.Millisecond, 5*time.Second)
		} else {
			wait = m.cfg.Interval - time.Since(start)
		}

		t := time.NewTimer(max(0, wait))
		select {
		case <-ctx.Done():
			t.Stop()
			slog.Info("game state monitoring stopped")
			return nil
		case <-t.C:
		}
	}
}

func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Reset drops the current snapshot and history, used by recovery.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.current = nil
	m.history = nil
	m.stats.ConsecutiveErrors = 0
	m.mu.Unlock()
}
