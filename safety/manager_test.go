package safety

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/nstehr/autocast/model"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = Relaxed
	return cfg
}

func newTestManager(t *testing.T, cfg Config, opts ...Option) (*Manager, *fakeClock) {
	t.Helper()
	c := newClock()
	m, err := NewManager(cfg, append([]Option{WithClock(c.now)}, opts...)...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, c
}

var (
	ok   = model.ActionResult{Success: true}
	fail = model.ActionResult{Success: false, Error: "boom"}
)

func eventTypes(events []Event) []string {
	var out []string
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestManager_RequiresActiveSession(t *testing.T) {
	m, _ := newTestManager(t, testConfig())
	if allowed, reason := m.CanExecuteAction("attack", KindGeneral); allowed || reason != "Safety session not active" {
		t.Errorf("got (%v, %q)", allowed, reason)
	}
	m.StartSession()
	if allowed, reason := m.CanExecuteAction("attack", KindGeneral); !allowed {
		t.Errorf("refused: %s", reason)
	}
	m.StopSession()
	if m.IsActive() {
		t.Error("still active after StopSession")
	}
}

func TestManager_EmergencyStopAlwaysWins(t *testing.T) {
	m, c := newTestManager(t, testConfig())
	m.StartSession()
	m.BlockAction("attack", "")
	m.EmergencyStop("manual")
	c.advance(3 * time.Hour)

	for _, action := range []string{"attack", "heal"} {
		if allowed, reason := m.CanExecuteAction(action, KindClick); allowed || reason != "Emergency stop activated" {
			t.Errorf("%s: got (%v, %q)", action, allowed, reason)
		}
	}

	if !m.ResetEmergencyStop() {
		t.Error("ResetEmergencyStop returned false while stopped")
	}
	if m.ResetEmergencyStop() {
		t.Error("second ResetEmergencyStop should return false")
	}
}

func TestManager_BlockedAction(t *testing.T) {
	m, _ := newTestManager(t, testConfig())
	m.StartSession()
	m.BlockAction("fireball", "testing")

	if _, reason := m.CanExecuteAction("fireball", KindGeneral); reason != "Action fireball is blocked" {
		t.Errorf("reason = %q", reason)
	}
	if allowed, _ := m.CanExecuteAction("frostbolt", KindGeneral); !allowed {
		t.Error("unrelated action refused")
	}
	m.UnblockAction("fireball")
	if allowed, _ := m.CanExecuteAction("fireball", KindGeneral); !allowed {
		t.Error("action still refused after unblock")
	}
}

func TestManager_SessionLimitTriggersStop(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessionDuration = 10 * time.Minute
	cfg.BreakInterval = 0
	m, c := newTestManager(t, cfg)

	var reasons []string
	m.OnEmergency(func(reason string) {
		reasons = append(reasons, reason)
		_ = m.Status() // callbacks run outside the lock
	})
	m.StartSession()
	c.advance(11 * time.Minute)

	if _, reason := m.CanExecuteAction("attack", KindGeneral); reason != "Session duration limit exceeded" {
		t.Errorf("reason = %q", reason)
	}
	if !m.IsEmergencyStopped() {
		t.Fatal("session limit should latch the emergency stop")
	}
	if !slices.Equal(reasons, []string{"Maximum session duration exceeded"}) {
		t.Errorf("emergency callbacks = %v", reasons)
	}
	if _, reason := m.CanExecuteAction("attack", KindGeneral); reason != "Emergency stop activated" {
		t.Errorf("reason = %q", reason)
	}
}

func TestManager_MandatoryBreak(t *testing.T) {
	m, c := newTestManager(t, testConfig())
	m.StartSession()
	c.advance(61 * time.Minute)

	if _, reason := m.CanExecuteAction("attack", KindGeneral); reason != "Mandatory break required" {
		t.Fatalf("reason = %q", reason)
	}
	if !m.BreakDue() {
		t.Error("BreakDue = false")
	}

	m.TakeMandatoryBreak(5 * time.Minute)
	if _, reason := m.CanExecuteAction("attack", KindGeneral); reason != "On mandatory break for 300s" {
		t.Errorf("reason = %q", reason)
	}
	if !m.Status().OnBreak {
		t.Error("Status.OnBreak = false")
	}

	c.advance(5*time.Minute + time.Second)
	if allowed, reason := m.CanExecuteAction("attack", KindGeneral); !allowed {
		t.Errorf("refused after break: %s", reason)
	}
}

func TestManager_RateLimits(t *testing.T) {
	cfg := testConfig()
	cfg.MaxActionsPerMinute = 3
	m, c := newTestManager(t, cfg)
	m.StartSession()

	for i := 0; i < 3; i++ {
		if i > 0 {
			c.advance(5 * time.Second)
		}
		m.RecordActionExecution("attack", KindGeneral, ok)
	}
	if _, reason := m.CanExecuteAction("attack", KindGeneral); reason != "Action rate limit exceeded. Wait 50.0s" {
		t.Errorf("reason = %q", reason)
	}
	if got := m.Status().RateCounts["actions"]; got != 3 {
		t.Errorf("actions count = %d", got)
	}
}

func TestManager_PerKindLimits(t *testing.T) {
	cfg := testConfig()
	cfg.MaxClicksPerMinute = 2
	cfg.MaxKeystrokesPerMinute = 1
	m, c := newTestManager(t, cfg)
	m.StartSession()

	m.RecordActionExecution("loot", KindClick, ok)
	c.advance(2 * time.Second)
	m.RecordActionExecution("loot", KindClick, ok)
	c.advance(2 * time.Second)

	if _, reason := m.CanExecuteAction("loot", KindClick); reason != "Click rate limit exceeded" {
		t.Errorf("click reason = %q", reason)
	}
	if allowed, reason := m.CanExecuteAction("attack", KindKeystroke); !allowed {
		t.Errorf("keystroke refused: %s", reason)
	}
	m.RecordActionExecution("attack", KindKeystroke, ok)
	c.advance(2 * time.Second)
	if _, reason := m.CanExecuteAction("attack", KindKeystroke); reason != "Keystroke rate limit exceeded" {
		t.Errorf("keystroke reason = %q", reason)
	}
}

func TestManager_HourlyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxActionsPerHour = 2
	m, c := newTestManager(t, cfg)
	m.StartSession()
	m.RecordActionExecution("a", KindGeneral, ok)
	c.advance(2 * time.Minute)
	m.RecordActionExecution("b", KindGeneral, ok)
	c.advance(2 * time.Minute)

	if _, reason := m.CanExecuteAction("c", KindGeneral); reason != "Hourly action limit exceeded" {
		t.Errorf("reason = %q", reason)
	}
}

func TestManager_ConsecutiveFailuresStop(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveFailures = 3
	m, c := newTestManager(t, cfg)
	m.StartSession()

	record := func(r model.ActionResult) {
		m.RecordActionExecution("attack", KindGeneral, r)
		c.advance(3 * time.Second)
	}
	record(fail)
	record(fail)
	record(ok)
	record(fail)
	record(fail)
	if m.IsEmergencyStopped() {
		t.Fatal("a success should reset the consecutive count")
	}
	record(fail)
	if !m.IsEmergencyStopped() {
		t.Fatal("three consecutive failures should stop")
	}

	st := m.Status()
	if st.TotalFailures != 5 || st.ConsecutiveFailures != 3 {
		t.Errorf("failures = %d total, %d consecutive", st.TotalFailures, st.ConsecutiveFailures)
	}
	types := eventTypes(m.RecentEvents(0))
	if !slices.Contains(types, "alert_high_failure_rate") {
		t.Errorf("high failure alert not logged: %v", types)
	}
	if a := m.Alert("high_failure_rate"); a == nil || a.TriggerCount != 1 {
		t.Errorf("alert = %+v", a)
	}

	m.ResetEmergencyStop()
	if got := m.Status().ConsecutiveFailures; got != 0 {
		t.Errorf("reset left %d consecutive failures", got)
	}
}

func TestManager_SystemResources(t *testing.T) {
	stats := SystemStats{CPUPercent: 95, MemoryPercent: 40}
	mon := NewSystemMonitor(time.Second, func(context.Context) (SystemStats, error) { return stats, nil })
	if err := mon.Update(context.Background()); err != nil {
		t.Fatal(err)
	}

	m, _ := newTestManager(t, testConfig(), WithSystemMonitor(mon))
	m.StartSession()
	if _, reason := m.CanExecuteAction("attack", KindGeneral); reason != "CPU usage too high: 95.0%" {
		t.Errorf("reason = %q", reason)
	}

	stats = SystemStats{CPUPercent: 10, MemoryPercent: 85.5}
	_ = mon.Update(context.Background())
	if _, reason := m.CanExecuteAction("attack", KindGeneral); reason != "Memory usage too high: 85.5%" {
		t.Errorf("reason = %q", reason)
	}

	cfg := testConfig()
	cfg.MonitorSystemResources = false
	if err := m.Configure(cfg); err != nil {
		t.Fatal(err)
	}
	if allowed, reason := m.CanExecuteAction("attack", KindGeneral); !allowed {
		t.Errorf("refused with monitoring off: %s", reason)
	}
}

func recordRepetition(m *Manager, c *fakeClock) {
	for _, a := range []string{"a", "b", "a", "b", "a", "b"} {
		c.advance(2 * time.Second)
		m.RecordActionExecution(a, KindGeneral, ok)
		c.advance(700 * time.Millisecond)
	}
}

func TestManager_PatternsRefuseOnlyWhenStrict(t *testing.T) {
	cfg := testConfig()
	cfg.Level = Strict
	m, c := newTestManager(t, cfg)
	m.StartSession()
	recordRepetition(m, c)

	want := "Suspicious pattern detected: " + PatternRepetitive
	if _, reason := m.CanExecuteAction("c", KindGeneral); reason != want {
		t.Errorf("strict reason = %q", reason)
	}

	cfg.Level = Normal
	m, c = newTestManager(t, cfg)
	m.StartSession()
	recordRepetition(m, c)
	if allowed, reason := m.CanExecuteAction("c", KindGeneral); !allowed {
		t.Errorf("normal refused: %s", reason)
	}
	if !slices.Contains(eventTypes(m.RecentEvents(0)), "suspicious_pattern") {
		t.Error("normal level should still log the pattern")
	}
}

func TestManager_ViolationCallbacks(t *testing.T) {
	m, _ := newTestManager(t, testConfig())
	var got []Event
	m.OnViolation(func(e Event) { got = append(got, e) })
	m.OnViolation(func(Event) { panic("listener bug") })

	m.StartSession()
	m.BlockAction("attack", "")
	m.UnblockAction("attack")

	if len(got) != 1 || got[0].Type != "action_blocked" || got[0].Threat != ThreatMedium {
		t.Fatalf("violations = %+v", got)
	}
	if got[0].SessionID != m.SessionID() || got[0].SessionID == "" {
		t.Errorf("session id = %q", got[0].SessionID)
	}
}

func TestManager_SessionIDsDiffer(t *testing.T) {
	m, _ := newTestManager(t, testConfig())
	m.StartSession()
	first := m.SessionID()
	m.StopSession()
	m.StartSession()
	if first == "" || first == m.SessionID() {
		t.Errorf("session ids %q and %q", first, m.SessionID())
	}
}

func TestManager_Status(t *testing.T) {
	m, c := newTestManager(t, testConfig())
	m.StartSession()
	m.BlockAction("b", "")
	m.BlockAction("a", "")
	m.RecordActionExecution("attack", KindClick, ok)
	c.advance(10 * time.Minute)

	st := m.Status()
	if !st.Active || st.EmergencyStop {
		t.Errorf("status = %+v", st)
	}
	if !slices.Equal(st.BlockedActions, []string{"a", "b"}) {
		t.Errorf("blocked = %v", st.BlockedActions)
	}
	if st.SessionDuration != 10*time.Minute {
		t.Errorf("session duration = %v", st.SessionDuration)
	}
	if st.RateCounts["hourly"] != 1 || st.RateCounts["clicks"] != 0 {
		t.Errorf("rate counts = %v", st.RateCounts)
	}
	if st.RecentEvents != 0 {
		t.Errorf("events older than 5m counted: %d", st.RecentEvents)
	}
}

func TestManager_QuietWhenSafetyEventsOff(t *testing.T) {
	cfg := testConfig()
	cfg.LogSafetyEvents = false
	m, _ := newTestManager(t, cfg)
	m.StartSession()
	m.RecordActionExecution("attack", KindGeneral, ok)
	m.BlockAction("attack", "")

	if types := eventTypes(m.RecentEvents(0)); !slices.Equal(types, []string{"action_blocked"}) {
		t.Errorf("events = %v", types)
	}
}

func TestManager_AuditTrailBounded(t *testing.T) {
	cfg := testConfig()
	cfg.AuditTrailSize = 3
	m, _ := newTestManager(t, cfg)
	m.StartSession()
	for i := 0; i < 5; i++ {
		m.RecordActionExecution("attack", KindGeneral, ok)
	}
	if got := len(m.RecentEvents(0)); got != 3 {
		t.Errorf("kept %d events", got)
	}
	if got := len(m.RecentEvents(2)); got != 2 {
		t.Errorf("RecentEvents(2) = %d", got)
	}
}

func TestManager_ExportAuditTrail(t *testing.T) {
	m, _ := newTestManager(t, testConfig())
	m.StartSession()
	m.RecordActionExecution("attack", KindKeystroke, fail)

	var buf bytes.Buffer
	if err := m.ExportAuditTrail(&buf); err != nil {
		t.Fatal(err)
	}
	var records []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &records); err != nil {
		t.Fatalf("not a JSON array: %v\n%s", err, buf.String())
	}
	if len(records) != 2 {
		t.Fatalf("records = %d", len(records))
	}
	for _, key := range []string{"timestamp", "event_type", "threat_level", "message", "details"} {
		if _, ok := records[1][key]; !ok {
			t.Errorf("record missing %q", key)
		}
	}
	if records[1]["event_type"] != "action_executed" {
		t.Errorf("event_type = %v", records[1]["event_type"])
	}
	if ts := records[0]["timestamp"].(float64); int64(ts) != t0.Unix() {
		t.Errorf("timestamp = %v", ts)
	}
	details := records[1]["details"].(map[string]any)
	if details["action_type"] != "keystroke" || details["success"] != false {
		t.Errorf("details = %v", details)
	}

	buf.Reset()
	empty, _ := newTestManager(t, testConfig())
	_ = empty.ExportAuditTrail(&buf)
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("empty export = %q", buf.String())
	}
}

func TestManager_ConfigureRebuildsLimiters(t *testing.T) {
	cfg := testConfig()
	cfg.MaxActionsPerMinute = 1
	m, _ := newTestManager(t, cfg)
	m.StartSession()
	m.RecordActionExecution("attack", KindGeneral, ok)
	if allowed, _ := m.CanExecuteAction("attack", KindGeneral); allowed {
		t.Fatal("limit not enforced")
	}

	bad := cfg
	bad.MaxConsecutiveFailures = 0
	if err := m.Configure(bad); err == nil {
		t.Error("invalid config accepted")
	}

	cfg.MaxActionsPerMinute = 10
	if err := m.Configure(cfg); err != nil {
		t.Fatal(err)
	}
	if allowed, reason := m.CanExecuteAction("attack", KindGeneral); !allowed {
		t.Errorf("refused after reconfigure: %s", reason)
	}
	if m.Config().MaxActionsPerMinute != 10 {
		t.Error("config not replaced")
	}
}

type memorySink struct {
	events []Event
	err    error
}

func (s *memorySink) WriteEvent(e Event) error { s.events = append(s.events, e); return s.err }
func (s *memorySink) Close() error             { return nil }

func TestManager_AuditSink(t *testing.T) {
	sink := &memorySink{err: errors.New("disk full")}
	m, _ := newTestManager(t, testConfig(), WithAuditSink(sink))
	m.StartSession()
	m.EmergencyStop("test")

	if types := eventTypes(sink.events); !slices.Equal(types, []string{"session_started", "emergency_stop"}) {
		t.Errorf("sink events = %v", types)
	}
	if len(m.RecentEvents(0)) != 2 {
		t.Error("sink errors must not drop in-memory events")
	}
}

func TestManager_CustomAlert(t *testing.T) {
	m, _ := newTestManager(t, testConfig())
	fired := 0
	m.AddAlert(&Alert{
		Name:      "any_failure",
		Threat:    ThreatLow,
		Message:   "an action failed",
		Condition: func(c AlertContext) bool { return c.ConsecutiveFailures > 0 },
		Action:    func() { fired++ },
	})
	m.StartSession()
	m.RecordActionExecution("attack", KindGeneral, ok)
	m.RecordActionExecution("attack", KindGeneral, fail)

	if fired != 1 {
		t.Errorf("alert fired %d times", fired)
	}
	if !slices.Contains(eventTypes(m.RecentEvents(0)), "alert_any_failure") {
		t.Error("alert event missing")
	}
}

func TestNewManager_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AuditTrailSize = 0
	if _, err := NewManager(cfg); err == nil {
		t.Error("expected an error")
	}
}
