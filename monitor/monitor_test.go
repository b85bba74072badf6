package monitor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nstehr/autocast/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func state(at time.Duration, hp int, inCombat bool) model.GameState {
	res := model.FullResources()
	res.HealthCurrent = hp
	return model.GameState{Timestamp: t0.Add(at), InGame: true, Resources: res, InCombat: inCombat}
}

// queue hands out its states in order, then ErrNoState.
type queue struct {
	states []model.GameState
	err    error
}

func (q *queue) Capture(context.Context) (model.GameState, error) {
	if q.err != nil {
		return model.GameState{}, q.err
	}
	if len(q.states) == 0 {
		return model.GameState{}, ErrNoState
	}
	s := q.states[0]
	q.states = q.states[1:]
	return s, nil
}

func newMonitor(t *testing.T, src Source) *Monitor {
	t.Helper()
	m, err := New(src, DefaultConfig(), WithClock(func() time.Time { return t0 }))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestMonitor_PublishReconcilesAndCopies(t *testing.T) {
	m := newMonitor(t, &queue{})
	if _, ok := m.Current(); ok {
		t.Fatal("Current before any publish")
	}

	s := state(0, 80, true)
	s.Buffs = []model.Buff{{Name: "shield"}}
	m.Publish(s)
	s.Buffs[0].Name = "mutated"

	got, ok := m.Current()
	if !ok {
		t.Fatal("no current state")
	}
	if got.CombatState != model.Combat {
		t.Errorf("combat state = %q, want reconciled to combat", got.CombatState)
	}
	if got.Buffs[0].Name != "shield" {
		t.Error("published snapshot shares memory with the caller")
	}
	got.Buffs[0].Name = "reader"
	if again, _ := m.Current(); again.Buffs[0].Name != "shield" {
		t.Error("reader mutation leaked into the monitor")
	}
}

func TestMonitor_PublishStampsMissingTimestamp(t *testing.T) {
	m := newMonitor(t, &queue{})
	m.Publish(model.GameState{InGame: true})
	if got, _ := m.Current(); !got.Timestamp.Equal(t0) {
		t.Errorf("timestamp = %v", got.Timestamp)
	}
}

func TestMonitor_Callbacks(t *testing.T) {
	m := newMonitor(t, &queue{})
	var all, combat, lowHP int
	m.OnChange("all", Trigger{}, func(prev, next model.GameState) { all++ })
	m.OnChange("combat", Trigger{CombatChange: true}, func(prev, next model.GameState) {
		combat++
		if prev.InCombat == next.InCombat {
			t.Error("combat callback without a combat change")
		}
	})
	m.OnChange("low", Trigger{HealthBelow: 30}, func(model.GameState, model.GameState) { lowHP++ })
	m.OnChange("broken", Trigger{}, func(model.GameState, model.GameState) { panic("oops") })

	m.Publish(state(0, 90, false)) // first snapshot notifies nobody
	m.Publish(state(time.Second, 90, true))
	m.Publish(state(2*time.Second, 25, true))

	if all != 2 || combat != 1 || lowHP != 1 {
		t.Errorf("all=%d combat=%d low=%d", all, combat, lowHP)
	}

	if !m.RemoveCallback("all") || m.RemoveCallback("all") {
		t.Error("RemoveCallback")
	}
	m.Publish(state(3*time.Second, 25, true))
	if all != 2 {
		t.Error("removed callback still fired")
	}
}

func TestMonitor_OnChangeReplacesByName(t *testing.T) {
	m := newMonitor(t, &queue{})
	var first, second int
	m.OnChange("x", Trigger{}, func(model.GameState, model.GameState) { first++ })
	m.OnChange("x", Trigger{}, func(model.GameState, model.GameState) { second++ })
	m.Publish(state(0, 50, false))
	m.Publish(state(time.Second, 50, false))
	if first != 0 || second != 1 {
		t.Errorf("first=%d second=%d", first, second)
	}
}

func TestMonitor_TargetTrigger(t *testing.T) {
	m := newMonitor(t, &queue{})
	fired := 0
	m.OnChange("target", Trigger{TargetChange: true}, func(model.GameState, model.GameState) { fired++ })

	a := state(0, 100, false)
	m.Publish(a)
	m.Publish(a)
	b := state(time.Second, 100, false)
	b.Target = model.Target{Exists: true, Name: "Wolf"}
	m.Publish(b)
	if fired != 1 {
		t.Errorf("fired = %d", fired)
	}
}

func TestMonitor_HistoryBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 3
	m, err := New(&queue{}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		m.Publish(state(time.Duration(i)*time.Second, 10*(i+1), false))
	}
	h := m.History(0)
	if len(h) != 3 || h[0].Resources.HealthCurrent != 30 || h[2].Resources.HealthCurrent != 50 {
		t.Errorf("history = %v", h)
	}
	if len(m.History(2)) != 2 {
		t.Error("History(2)")
	}
	if st := m.Stats(); st.Updates != 5 || st.UpdatesPerSecond != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestMonitor_PollErrors(t *testing.T) {
	q := &queue{err: errors.New("capture failed")}
	m := newMonitor(t, q)
	var seen []error
	m.OnError(func(err error) { seen = append(seen, err) })

	if err := m.Poll(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if st := m.Stats(); st.Errors != 1 || st.ConsecutiveErrors != 1 || st.LastError != "capture failed" {
		t.Errorf("stats = %+v", st)
	}
	if len(seen) != 1 {
		t.Errorf("error callbacks = %d", len(seen))
	}

	q.err = nil
	if err := m.Poll(context.Background()); err != nil {
		t.Errorf("ErrNoState counted as error: %v", err)
	}
	q.states = []model.GameState{state(0, 50, false)}
	_ = m.Poll(context.Background())
	if st := m.Stats(); st.ConsecutiveErrors != 0 || st.Updates != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestMonitor_UpdatedCoalesces(t *testing.T) {
	m := newMonitor(t, &queue{})
	m.Publish(state(0, 50, false))
	m.Publish(state(time.Second, 50, false))

	select {
	case <-m.Updated():
	default:
		t.Fatal("no update signal")
	}
	select {
	case <-m.Updated():
		t.Fatal("signals should coalesce")
	default:
	}
}

func TestMonitor_RunGivesUpAfterErrors(t *testing.T) {
	cfg := Config{Interval: time.Millisecond, HistorySize: 10, MaxConsecutiveErrors: 1}
	m, err := New(SourceFunc(func(context.Context) (model.GameState, error) {
		return model.GameState{}, errors.New("window gone")
	}), cfg)
	if err != nil {
		t.Fatal(err)
	}
	err = m.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "window gone") {
		t.Errorf("Run = %v", err)
	}
	if m.Running() {
		t.Error("still marked running")
	}
}

func TestMonitor_RunPollsUntilCancel(t *testing.T) {
	var polls atomic.Int32
	cfg := DefaultConfig()
	cfg.Interval = time.Millisecond
	m, err := New(SourceFunc(func(context.Context) (model.GameState, error) {
		polls.Add(1)
		return state(0, 100, false), nil
	}), cfg)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for polls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatal("monitor did not poll")
		case <-m.Updated():
		}
	}
	if err := m.Run(ctx); err == nil {
		t.Error("second Run should fail while running")
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run = %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, DefaultConfig()); err == nil {
		t.Error("nil source accepted")
	}
	if _, err := New(&queue{}, Config{}); err == nil {
		t.Error("zero config accepted")
	}
}
