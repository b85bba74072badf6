package safety

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nstehr/autocast/model"
)

const (
	limitActions    = "actions"
	limitClicks     = "clicks"
	limitKeystrokes = "keystrokes"
	limitHourly     = "hourly"
)

// Status is a point-in-time view of the manager.
type Status struct {
	Active              bool           `json:"active"`
	EmergencyStop       bool           `json:"emergencyStop"`
	Level               Level          `json:"level"`
	SessionID           string         `json:"sessionId"`
	SessionDuration     time.Duration  `json:"sessionDuration"`
	TimeSinceBreak      time.Duration  `json:"timeSinceBreak"`
	OnBreak             bool           `json:"onBreak"`
	ConsecutiveFailures int            `json:"consecutiveFailures"`
	TotalFailures       int            `json:"totalFailures"`
	BlockedActions      []string       `json:"blockedActions"`
	RateCounts          map[string]int `json:"rateCounts"`
	System              SystemStats    `json:"system"`
	SuspiciousPatterns  int            `json:"suspiciousPatterns"`
	RecentEvents        int            `json:"recentEvents"` // last five minutes
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithSystemMonitor supplies resource stats. Without one the resource
// ceilings are not checked.
func WithSystemMonitor(s *SystemMonitor) Option { return func(m *Manager) { m.system = s } }

// WithAuditSink mirrors every logged event into sink.
func WithAuditSink(sink AuditSink) Option { return func(m *Manager) { m.sink = sink } }

// Manager is the gatekeeper consulted before every action. It never picks
// actions, only refuses them.
type Manager struct {
	mu      sync.Mutex
	pending []func() // callbacks run after mu is released

	cfg      Config
	now      func() time.Time
	limiters map[string]*RateLimiter
	patterns *PatternDetector
	system   *SystemMonitor
	sink     AuditSink

	sessionID    string
	active       bool
	stopped      bool
	sessionStart time.Time
	lastBreak    time.Time
	breakUntil   time.Time

	consecutiveFailures int
	totalFailures       int

	events  []Event
	alerts  []*Alert
	blocked map[string]bool

	onEmergency []func(reason string)
	onViolation []func(Event)
}

func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid safety config: %w", err)
	}
	m := &Manager{
		cfg:      cfg,
		now:      time.Now,
		patterns: NewPatternDetector(),
		alerts:   defaultAlerts(),
		blocked:  make(map[string]bool),
	}
	for _, o := range opts {
		o(m)
	}
	m.buildLimiters()
	slog.Info("safety manager initialized", "level", cfg.Level)
	return m, nil
}

func (m *Manager) buildLimiters() {
	m.limiters = map[string]*RateLimiter{
		limitActions:    NewRateLimiter(m.cfg.MaxActionsPerMinute, time.Minute, m.now),
		limitClicks:     NewRateLimiter(m.cfg.MaxClicksPerMinute, time.Minute, m.now),
		limitKeystrokes: NewRateLimiter(m.cfg.MaxKeystrokesPerMinute, time.Minute, m.now),
		limitHourly:     NewRateLimiter(m.cfg.MaxActionsPerHour, time.Hour, m.now),
	}
}

func (m *Manager) lock() { m.mu.Lock() }

// unlock releases mu and then runs queued callbacks, so callbacks may call
// back into the manager.
func (m *Manager) unlock() {
	p := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, f := range p {
		f()
	}
}

// StartSession opens a new session with a fresh ID. It is a no-op while a
// session is active.
func (m *Manager) StartSession() {
	m.lock()
	defer m.unlock()
	if m.active {
		slog.Warn("safety session already active", "session", m.sessionID)
		return
	}
	now := m.now()
	m.active = true
	m.stopped = false
	m.sessionID = uuid.NewString()
	m.sessionStart = now
	m.lastBreak = now
	m.breakUntil = time.Time{}
	m.consecutiveFailures = 0
	m.logEvent("session_started", ThreatNone, "Safety session started", nil)
}

func (m *Manager) StopSession() {
	m.lock()
	defer m.unlock()
	if !m.active {
		return
	}
	m.active = false
	d := m.now().Sub(m.sessionStart)
	m.logEvent("session_ended", ThreatNone,
		fmt.Sprintf("Safety session ended after %.1f seconds", d.Seconds()),
		map[string]any{"duration_seconds": d.Seconds()})
}

func (m *Manager) SessionID() string {
	m.lock()
	defer m.unlock()
	return m.sessionID
}

func (m *Manager) IsActive() bool {
	m.lock()
	defer m.unlock()
	return m.active
}

func (m *Manager) IsEmergencyStopped() bool {
	m.lock()
	defer m.unlock()
	return m.stopped
}

// CanExecuteAction runs the safety checks in order and returns the first
// refusal reason.
func (m *Manager) CanExecuteAction(action string, kind ActionKind) (bool, string) {
	m.lock()
	defer m.unlock()

	if !m.active {
		return false, "Safety session not active"
	}
	if m.stopped {
		return false, "Emergency stop activated"
	}
	if m.blocked[action] {
		return false, fmt.Sprintf("Action %s is blocked", action)
	}

	now := m.now()
	if now.Sub(m.sessionStart) > m.cfg.MaxSessionDuration {
		m.emergencyStop("Maximum session duration exceeded")
		return false, "Session duration limit exceeded"
	}
	if now.Before(m.breakUntil) {
		return false, fmt.Sprintf("On mandatory break for %.0fs", m.breakUntil.Sub(now).Seconds())
	}
	if m.cfg.BreakInterval > 0 && now.Sub(m.lastBreak) > m.cfg.BreakInterval {
		return false, "Mandatory break required"
	}
	if ok, reason := m.checkRateLimits(kind); !ok {
		return false, reason
	}
	if ok, reason := m.checkSystemResources(); !ok {
		return false, reason
	}

	if m.cfg.Level != Disabled {
		if found := m.patterns.Detect(); len(found) > 0 {
			m.logEvent("suspicious_pattern", ThreatMedium,
				fmt.Sprintf("Suspicious patterns detected: %v", found),
				map[string]any{"patterns": found})
			if m.cfg.Level == Strict {
				return false, "Suspicious pattern detected: " + found[0]
			}
		}
	}
	return true, ""
}

func (m *Manager) checkRateLimits(kind ActionKind) (bool, string) {
	if l := m.limiters[limitActions]; !l.Allow() {
		return false, fmt.Sprintf("Action rate limit exceeded. Wait %.1fs", l.TimeUntilNext().Seconds())
	}
	if !m.limiters[limitHourly].Allow() {
		return false, "Hourly action limit exceeded"
	}
	if kind == KindClick && !m.limiters[limitClicks].Allow() {
		return false, "Click rate limit exceeded"
	}
	if kind == KindKeystroke && !m.limiters[limitKeystrokes].Allow() {
		return false, "Keystroke rate limit exceeded"
	}
	return true, ""
}

func (m *Manager) checkSystemResources() (bool, string) {
	if !m.cfg.MonitorSystemResources || m.system == nil {
		return true, ""
	}
	s := m.system.Stats()
	if s.CPUPercent > m.cfg.MaxCPUPercent {
		return false, fmt.Sprintf("CPU usage too high: %.1f%%", s.CPUPercent)
	}
	if s.MemoryPercent > m.cfg.MaxMemoryPercent {
		return false, fmt.Sprintf("Memory usage too high: %.1f%%", s.MemoryPercent)
	}
	return true, ""
}

// RecordActionExecution feeds the rate limiters, the pattern detector and
// the failure counter. Reaching MaxConsecutiveFailures triggers an
// emergency stop.
func (m *Manager) RecordActionExecution(action string, kind ActionKind, result model.ActionResult) {
	m.lock()
	defer m.unlock()

	m.limiters[limitActions].Record()
	switch kind {
	case KindClick:
		m.limiters[limitClicks].Record()
	case KindKeystroke:
		m.limiters[limitKeystrokes].Record()
	}
	m.limiters[limitHourly].Record()
	m.patterns.Record(action, m.now())

	if result.Success {
		m.consecutiveFailures = 0
	} else {
		m.consecutiveFailures++
		m.totalFailures++
		if m.consecutiveFailures >= m.cfg.MaxConsecutiveFailures {
			m.emergencyStop("Too many consecutive failures")
		}
	}

	m.checkAlerts()

	if m.cfg.LogAllActions {
		m.logEvent("action_executed", ThreatNone,
			fmt.Sprintf("Action %s executed with result: %t", action, result.Success),
			map[string]any{"action_name": action, "action_type": string(kind), "success": result.Success})
	}
}

func (m *Manager) checkAlerts() {
	ctx := AlertContext{
		ConsecutiveFailures: m.consecutiveFailures,
		SessionDuration:     m.now().Sub(m.sessionStart),
		MaxSessionDuration:  m.cfg.MaxSessionDuration,
	}
	if m.system != nil {
		ctx.System = m.system.Stats()
	}
	for _, a := range m.alerts {
		if a.check(ctx, m.now()) {
			m.logEvent("alert_"+a.Name, a.Threat, a.Message, nil)
		}
	}
}

// AddAlert registers an additional alert.
func (m *Manager) AddAlert(a *Alert) {
	m.lock()
	defer m.unlock()
	m.alerts = append(m.alerts, a)
}

// Alert returns the named alert, or nil.
func (m *Manager) Alert(name string) *Alert {
	m.lock()
	defer m.unlock()
	for _, a := range m.alerts {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// EmergencyStop latches the manager until ResetEmergencyStop. Repeated
// calls are ignored.
func (m *Manager) EmergencyStop(reason string) {
	m.lock()
	defer m.unlock()
	m.emergencyStop(reason)
}

func (m *Manager) emergencyStop(reason string) {
	if m.stopped {
		return
	}
	m.stopped = true
	m.logEvent("emergency_stop", ThreatCritical, "Emergency stop activated: "+reason,
		map[string]any{"reason": reason})
	for _, cb := range m.onEmergency {
		cb := cb
		m.pending = append(m.pending, func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("emergency callback panicked", "panic", r)
				}
			}()
			cb(reason)
		})
	}
}

// ResetEmergencyStop clears the latch and the consecutive failure count.
// It returns false when no stop was active.
func (m *Manager) ResetEmergencyStop() bool {
	m.lock()
	defer m.unlock()
	if !m.stopped {
		return false
	}
	m.stopped = false
	m.consecutiveFailures = 0
	m.logEvent("emergency_stop_reset", ThreatNone, "Emergency stop has been reset", nil)
	return true
}

// TakeMandatoryBreak refuses every action for d, or the configured break
// duration when d is zero. The break interval restarts when the break ends.
func (m *Manager) TakeMandatoryBreak(d time.Duration) {
	m.lock()
	defer m.unlock()
	if d <= 0 {
		d = m.cfg.BreakDuration
	}
	m.breakUntil = m.now().Add(d)
	m.lastBreak = m.breakUntil
	m.logEvent("mandatory_break", ThreatLow,
		fmt.Sprintf("Taking mandatory break for %.0f seconds", d.Seconds()),
		map[string]any{"duration_seconds": d.Seconds()})
}

// BreakDue reports whether the break interval has elapsed.
func (m *Manager) BreakDue() bool {
	m.lock()
	defer m.unlock()
	return m.active && m.cfg.BreakInterval > 0 && m.now().Sub(m.lastBreak) > m.cfg.BreakInterval
}

func (m *Manager) BlockAction(action, reason string) {
	m.lock()
	defer m.unlock()
	if reason == "" {
		reason = "Blocked by safety manager"
	}
	m.blocked[action] = true
	m.logEvent("action_blocked", ThreatMedium, fmt.Sprintf("Action %s blocked: %s", action, reason),
		map[string]any{"action_name": action})
}

func (m *Manager) UnblockAction(action string) {
	m.lock()
	defer m.unlock()
	if !m.blocked[action] {
		return
	}
	delete(m.blocked, action)
	m.logEvent("action_unblocked", ThreatNone, fmt.Sprintf("Action %s unblocked", action), nil)
}

// OnEmergency registers fn to run after an emergency stop latches.
func (m *Manager) OnEmergency(fn func(reason string)) {
	m.lock()
	defer m.unlock()
	m.onEmergency = append(m.onEmergency, fn)
}

// OnViolation registers fn for every event above ThreatNone.
func (m *Manager) OnViolation(fn func(Event)) {
	m.lock()
	defer m.unlock()
	m.onViolation = append(m.onViolation, fn)
}

func (m *Manager) logEvent(kind string, threat ThreatLevel, msg string, details map[string]any) {
	if !m.cfg.LogSafetyEvents && threat == ThreatNone {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	ev := Event{
		SessionID: m.sessionID,
		Timestamp: m.now(),
		Type:      kind,
		Threat:    threat,
		Message:   msg,
		Details:   details,
	}
	m.events = append(m.events, ev)
	if len(m.events) > m.cfg.AuditTrailSize {
		m.events = m.events[len(m.events)-m.cfg.AuditTrailSize:]
	}

	slog.Log(context.Background(), threat.slogLevel(), "SAFETY: "+msg,
		"event", kind, "threat", threat, "session", m.sessionID)

	if m.sink != nil {
		if err := m.sink.WriteEvent(ev); err != nil {
			slog.Warn("audit sink write failed", "error", err)
		}
	}
	if threat == ThreatNone {
		return
	}
	for _, cb := range m.onViolation {
		cb := cb
		m.pending = append(m.pending, func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("violation callback panicked", "panic", r)
				}
			}()
			cb(ev)
		})
	}
}

func (m *Manager) Status() Status {
	m.lock()
	defer m.unlock()
	now := m.now()
	st := Status{
		Active:              m.active,
		EmergencyStop:       m.stopped,
		Level:               m.cfg.Level,
		SessionID:           m.sessionID,
		OnBreak:             now.Before(m.breakUntil),
		ConsecutiveFailures: m.consecutiveFailures,
		TotalFailures:       m.totalFailures,
		RateCounts:          make(map[string]int, len(m.limiters)),
		SuspiciousPatterns:  m.patterns.SuspiciousCount(),
	}
	if m.active {
		st.SessionDuration = now.Sub(m.sessionStart)
		st.TimeSinceBreak = max(0, now.Sub(m.lastBreak))
	}
	for a := range m.blocked {
		st.BlockedActions = append(st.BlockedActions, a)
	}
	slices.Sort(st.BlockedActions)
	for name, l := range m.limiters {
		st.RateCounts[name] = l.Count()
	}
	if m.system != nil {
		st.System = m.system.Stats()
	}
	for _, e := range m.events {
		if now.Sub(e.Timestamp) < 5*time.Minute {
			st.RecentEvents++
		}
	}
	return st
}

// RecentEvents returns up to n of the newest events, oldest first.
func (m *Manager) RecentEvents(n int) []Event {
	m.lock()
	defer m.unlock()
	if n <= 0 || n > len(m.events) {
		n = len(m.events)
	}
	return slices.Clone(m.events[len(m.events)-n:])
}

// ExportAuditTrail writes the in-memory trail to w as a JSON array.
func (m *Manager) ExportAuditTrail(w io.Writer) error {
	events := m.RecentEvents(0)
	if err := WriteAuditTrail(w, events); err != nil {
		return err
	}
	slog.Info("audit trail exported", "events", len(events))
	return nil
}

// Configure replaces the config and rebuilds the rate limiters, dropping
// their history.
func (m *Manager) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid safety config: %w", err)
	}
	m.lock()
	defer m.unlock()
	m.cfg = cfg
	m.buildLimiters()
	if len(m.events) > cfg.AuditTrailSize {
		m.events = m.events[len(m.events)-cfg.AuditTrailSize:]
	}
	slog.Info("safety config updated", "level", cfg.Level)
	return nil
}

func (m *Manager) Config() Config {
	m.lock()
	defer m.unlock()
	return m.cfg
}
