// Package automation runs the bot: a fixed-rate loop that reads the latest
// game state, asks the decision engine for an action, clears it with the
// safety manager and hands it to the executor.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/nstehr/autocast/decision"
	"github.com/nstehr/autocast/executor"
	"github.com/nstehr/autocast/model"
	"github.com/nstehr/autocast/monitor"
	"github.com/nstehr/autocast/profile"
	"github.com/nstehr/autocast/safety"
)

type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
	StateError    State = "error"
)

// Events passed to callbacks registered with AddCallback.
const (
	EventProfileLoaded  = "profile_loaded"
	EventEngineStarted  = "engine_started"
	EventEngineStopped  = "engine_stopped"
	EventEnginePaused   = "engine_paused"
	EventEngineResumed  = "engine_resumed"
	EventEmergencyStop  = "emergency_stop"
	EventActionExecuted = "action_executed"
	EventActionBlocked  = "action_blocked"
	EventStateChanged   = "state_changed"
	EventGameEvent      = "game_event"
	EventBreakStarted   = "break_started"
	EventRecovery       = "recovery"
)

var ErrNoProfile = errors.New("no profile loaded")

// Handler receives an event name and its payload.
type Handler func(event string, data any)

type callback struct {
	name   string
	fn     Handler
	events map[string]bool // nil means every event
}

// StateChange is the payload of EventStateChanged.
type StateChange struct {
	Prev model.GameState
	Next model.GameState
	Diff model.StateDiff
}

// Blocked is the payload of EventActionBlocked.
type Blocked struct {
	Action string
	Reason string
}

type Stats struct {
	Uptime      time.Duration `json:"uptime"`
	FPS         float64       `json:"actualFps"`
	AvgLoopTime time.Duration `json:"averageLoopTime"`

	TotalLoops        int `json:"totalLoops"`
	TotalDecisions    int `json:"totalDecisions"`
	TotalActions      int `json:"totalActions"`
	SuccessfulActions int `json:"successfulActions"`
	FailedActions     int `json:"failedActions"`
	BlockedActions    int `json:"blockedActions"`

	AvgMonitoringTime time.Duration `json:"monitoringTimeAvg"`
	AvgDecisionTime   time.Duration `json:"decisionTimeAvg"`
	AvgExecutionTime  time.Duration `json:"executionTimeAvg"`

	Errors        int       `json:"errorCount"`
	Recoveries    int       `json:"recoveryCount"`
	LastErrorTime time.Time `json:"lastErrorTime"`
}

func (s Stats) SuccessRate() float64 {
	total := s.SuccessfulActions + s.FailedActions
	if total == 0 {
		return 0
	}
	return float64(s.SuccessfulActions) / float64(total) * 100
}

// Sample is one entry of the performance history.
type Sample struct {
	At       time.Time     `json:"timestamp"`
	LoopTime time.Duration `json:"loopDuration"`
	FPS      float64       `json:"fps"`
}

func ema(avg, sample time.Duration) time.Duration {
	const alpha = 0.1
	return time.Duration(alpha*float64(sample) + (1-alpha)*float64(avg))
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithSleep replaces the pause used for loop pacing and recovery delays.
func WithSleep(s executor.Sleeper) Option { return func(o *Orchestrator) { o.sleep = s } }

// WithEngineOptions is applied to every decision engine built by LoadProfile.
func WithEngineOptions(opts ...decision.Option) Option {
	return func(o *Orchestrator) { o.engineOpts = append(o.engineOpts, opts...) }
}

// Orchestrator owns the automation loop and the state monitor goroutine.
// Nothing else should run the monitor.
type Orchestrator struct {
	mu  sync.Mutex
	wg  sync.WaitGroup
	cfg Config

	now   func() time.Time
	sleep executor.Sleeper

	monitor  *monitor.Monitor
	executor *executor.Executor
	safety   *safety.Manager

	engineOpts []decision.Option
	engine     *decision.Engine
	profile    *profile.Profile
	profiles   map[string]*profile.Profile

	state      State
	started    time.Time
	stats      Stats
	perf       []Sample
	callbacks  []callback
	lastErr    error
	recoveries int
	actedOn    time.Time // timestamp of the last snapshot an action was sent for
	emergency  bool      // an emergency stop is being handled
	failed     bool      // stopped by an unrecoverable error

	cancel     context.CancelFunc
	gate       chan struct{} // closed while not paused
	halted     chan struct{} // closed when a stop completes
	monitoring bool
	monitorErr error
}

func New(mon *monitor.Monitor, ex *executor.Executor, sm *safety.Manager, cfg Config, opts ...Option) (*Orchestrator, error) {
	if mon == nil || ex == nil || sm == nil {
		return nil, fmt.Errorf("orchestrator needs a monitor, an executor and a safety manager")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid automation config: %w", err)
	}
	o := &Orchestrator{
		cfg:      cfg,
		now:      time.Now,
		sleep:    sleepCtx,
		monitor:  mon,
		executor: ex,
		safety:   sm,
		profiles: make(map[string]*profile.Profile),
		state:    StateStopped,
	}
	for _, opt := range opts {
		opt(o)
	}

	mon.OnChange("automation", monitor.Trigger{}, o.onStateChange)
	ex.OnPostExecute(o.onActionExecuted)
	sm.OnEmergency(o.onEmergency)

	slog.Info("automation orchestrator initialized", "fps", cfg.FPS)
	return o, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RegisterProfile makes p loadable under name.
func (o *Orchestrator) RegisterProfile(name string, p *profile.Profile) {
	o.mu.Lock()
	o.profiles[name] = p
	o.mu.Unlock()
	slog.Info("registered profile", "profile", name, "class", p.Class)
}

func (o *Orchestrator) Profiles() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	names := make([]string, 0, len(o.profiles))
	for n := range o.profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LoadProfile builds a fresh decision engine for the named profile and
// swaps the executor's mappings to the profile's. A running loop picks the
// new engine up on its next tick.
func (o *Orchestrator) LoadProfile(name string) error {
	o.mu.Lock()
	p, ok := o.profiles[name]
	opts := slices.Clone(o.engineOpts)
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("profile not found: %s", name)
	}

	e, err := decision.NewEngine(p.Class, opts...)
	if err != nil {
		return err
	}
	if err := p.Apply(e); err != nil {
		return fmt.Errorf("load profile %s: %w", name, err)
	}
	for _, a := range o.executor.Mapped() {
		o.executor.UnregisterAction(a)
	}
	if _, err := p.RegisterMappings(o.executor); err != nil {
		return fmt.Errorf("load profile %s: %w", name, err)
	}

	o.mu.Lock()
	o.engine = e
	o.profile = p
	o.mu.Unlock()

	o.emit(EventProfileLoaded, name)
	slog.Info("profile loaded", "profile", name)
	return nil
}

func (o *Orchestrator) Profile() *profile.Profile {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.profile
}

func (o *Orchestrator) Engine() *decision.Engine {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.engine
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Start opens a safety session and launches the monitor and the loop. The
// loop ends when ctx is cancelled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateStopped && o.state != StateError {
		st := o.state
		o.mu.Unlock()
		return fmt.Errorf("cannot start engine in state %s", st)
	}
	if o.engine == nil {
		o.mu.Unlock()
		return ErrNoProfile
	}
	o.state = StateStarting
	o.mu.Unlock()

	o.safety.StartSession()
	o.executor.ResetEmergencyStop()

	loopCtx, cancel := context.WithCancel(ctx)
	gate := make(chan struct{})
	close(gate)

	o.mu.Lock()
	o.cancel = cancel
	o.gate = gate
	o.halted = make(chan struct{})
	o.started = o.now()
	o.stats = Stats{}
	o.perf = nil
	o.recoveries = 0
	o.lastErr = nil
	o.emergency = false
	o.failed = false
	o.state = StateRunning
	name := o.profile.Name
	o.mu.Unlock()

	o.startMonitor(loopCtx)
	o.wg.Add(1)
	go o.run(loopCtx)

	o.emit(EventEngineStarted, name)
	slog.Info("automation engine started", "profile", name)
	return nil
}

// Run starts the engine and blocks until ctx is done, then stops it.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	o.Stop()
	return nil
}

// startMonitor launches the monitor goroutine unless it is already polling.
func (o *Orchestrator) startMonitor(ctx context.Context) {
	o.mu.Lock()
	if o.monitoring || o.monitor.Running() {
		o.mu.Unlock()
		return
	}
	o.monitoring = true
	o.monitorErr = nil
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		err := o.monitor.Run(ctx)
		o.mu.Lock()
		o.monitoring = false
		o.monitorErr = err
		o.mu.Unlock()
	}()
}

// Stop ends the loop and the session. Concurrent callers all return once
// the stop has completed.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	switch {
	case o.state == StateStopping:
		halted := o.halted
		o.mu.Unlock()
		<-halted
		return
	case o.cancel == nil:
		o.mu.Unlock()
		return
	}
	o.state = StateStopping
	cancel, halted := o.cancel, o.halted
	p, started := o.profile, o.started
	timeout := o.cfg.StopTimeout
	o.mu.Unlock()

	slog.Info("stopping automation engine")
	cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("automation loop did not stop gracefully", "timeout", timeout)
	}

	o.safety.StopSession()
	if p != nil {
		p.RecordSession(o.now().Sub(started))
	}

	o.mu.Lock()
	o.cancel = nil
	o.state = StateStopped
	if o.failed {
		o.state = StateError
	}
	close(halted)
	o.mu.Unlock()

	o.emit(EventEngineStopped, nil)
	slog.Info("automation engine stopped")
}

// Pause holds the loop between ticks. It returns false unless running.
func (o *Orchestrator) Pause() bool {
	o.mu.Lock()
	if o.state != StateRunning {
		o.mu.Unlock()
		return false
	}
	o.gate = make(chan struct{})
	o.state = StatePaused
	o.mu.Unlock()

	o.emit(EventEnginePaused, nil)
	slog.Info("automation engine paused")
	return true
}

func (o *Orchestrator) Resume() bool {
	o.mu.Lock()
	if o.state != StatePaused {
		o.mu.Unlock()
		return false
	}
	close(o.gate)
	o.state = StateRunning
	o.mu.Unlock()

	o.emit(EventEngineResumed, nil)
	slog.Info("automation engine resumed")
	return true
}

// EmergencyStop latches the safety manager and the executor, then stops.
func (o *Orchestrator) EmergencyStop(reason string) {
	if reason == "" {
		reason = "Manual emergency stop"
	}
	o.safety.EmergencyStop(reason)
	// A manager that was already latched runs no callbacks.
	o.onEmergency(reason)
	o.Stop()
}

// ResetEmergencyStop clears the safety and executor latches. It does not
// restart the engine.
func (o *Orchestrator) ResetEmergencyStop() bool {
	reset := o.safety.ResetEmergencyStop()
	o.executor.ResetEmergencyStop()
	o.mu.Lock()
	o.emergency = false
	o.mu.Unlock()
	return reset
}

func (o *Orchestrator) onEmergency(reason string) {
	o.mu.Lock()
	if o.emergency {
		o.mu.Unlock()
		return
	}
	o.emergency = true
	o.mu.Unlock()

	slog.Error("EMERGENCY STOP", "reason", reason)
	o.executor.EmergencyStop()
	o.emit(EventEmergencyStop, reason)
	// May run on the loop goroutine, which Stop waits for.
	go o.Stop()
}

func (o *Orchestrator) run(ctx context.Context) {
	defer o.wg.Done()
	o.mu.Lock()
	interval, fps := o.cfg.Interval(), o.cfg.FPS
	o.mu.Unlock()
	slog.Info("automation loop started", "fps", fps)
	defer slog.Info("automation loop ended")

	for {
		if !o.waitUnpaused(ctx) {
			return
		}
		start := o.now()
		err := o.monitorFailure()
		if err == nil {
			err = o.RunCycle(ctx)
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if !o.handleError(ctx, err) {
				return
			}
			continue
		}
		took := o.now().Sub(start)
		o.recordLoop(took)
		if err := o.sleep(ctx, interval-took); err != nil {
			return
		}
	}
}

func (o *Orchestrator) waitUnpaused(ctx context.Context) bool {
	o.mu.Lock()
	gate := o.gate
	o.mu.Unlock()
	select {
	case <-ctx.Done():
		return false
	case <-gate:
		return true
	}
}

func (o *Orchestrator) monitorFailure() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.monitoring && o.monitorErr != nil {
		return fmt.Errorf("state monitor stopped: %w", o.monitorErr)
	}
	return nil
}

// RunCycle runs one tick: read state, decide, clear with safety, execute.
// Refusals and failed actions are not errors; a panic inside the tick is.
func (o *Orchestrator) RunCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("automation cycle panicked: %v", r)
		}
	}()
	return o.cycle(ctx)
}

func (o *Orchestrator) cycle(ctx context.Context) error {
	o.mu.Lock()
	e, p, cfg := o.engine, o.profile, o.cfg
	o.mu.Unlock()
	if e == nil {
		return ErrNoProfile
	}

	start := o.now()
	s, ok := o.monitor.Current()
	monitoring := o.now().Sub(start)
	if !ok {
		return nil
	}
	if age := start.Sub(s.Timestamp); age > cfg.MaxStateAge {
		slog.Debug("skipping stale game state", "age", age, "max", cfg.MaxStateAge)
		return nil
	}
	o.mu.Lock()
	consumed := s.Timestamp.Equal(o.actedOn)
	o.mu.Unlock()
	if consumed {
		slog.Debug("skipping game state already acted on", "timestamp", s.Timestamp)
		return nil
	}

	if cfg.TakeBreaks && o.safety.BreakDue() {
		o.safety.TakeMandatoryBreak(0)
		o.emit(EventBreakStarted, o.safety.Config().BreakDuration)
	}

	decisionStart := o.now()
	var action string
	var decided bool
	if s.IsSafeToAct() {
		action, decided = e.MakeDecision(s, o.recentResults(5))
	}
	decisionTime := o.now().Sub(decisionStart)

	var res *executor.Result
	var blocked bool
	var executionTime time.Duration
	if decided {
		kind := o.executor.Kind(action)
		if ok, reason := o.safety.CanExecuteAction(action, kind); !ok {
			blocked = true
			if cfg.LogAllDecisions {
				slog.Debug("action blocked", "action", action, "reason", reason)
			}
			o.emit(EventActionBlocked, Blocked{Action: action, Reason: reason})
		} else if inst, ok := e.Action(action); ok {
			execStart := o.now()
			res = o.executor.Execute(ctx, action, s)
			o.safety.RecordActionExecution(action, kind, res.ActionResult)
			inst.RecordUsage(res.ActionResult)
			p.RecordResult(res.ActionResult)
			executionTime = o.now().Sub(execStart)
		}
	}

	o.mu.Lock()
	o.stats.TotalLoops++
	if decided {
		o.stats.TotalDecisions++
	}
	if blocked {
		o.stats.BlockedActions++
	}
	if res != nil {
		o.actedOn = s.Timestamp
		o.stats.TotalActions++
		if res.Success {
			o.stats.SuccessfulActions++
		} else {
			o.stats.FailedActions++
		}
	}
	o.stats.AvgMonitoringTime = ema(o.stats.AvgMonitoringTime, monitoring)
	o.stats.AvgDecisionTime = ema(o.stats.AvgDecisionTime, decisionTime)
	o.stats.AvgExecutionTime = ema(o.stats.AvgExecutionTime, executionTime)
	o.mu.Unlock()

	if total := o.now().Sub(start); total > cfg.SlowCycle {
		slog.Warn("slow automation cycle", "took", total,
			"monitoring", monitoring, "decision", decisionTime, "execution", executionTime)
	} else if cfg.PerformanceLogging {
		slog.Debug("automation cycle", "took", total, "action", action)
	}
	return nil
}

func (o *Orchestrator) recentResults(n int) []model.ActionResult {
	recent := o.executor.RecentExecutions(n)
	out := make([]model.ActionResult, 0, len(recent))
	for _, r := range recent {
		out = append(out, r.ActionResult)
	}
	return out
}

func (o *Orchestrator) recordLoop(took time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	o.stats.Uptime = now.Sub(o.started)
	if took > 0 {
		o.stats.FPS = 1 / took.Seconds()
	}
	o.stats.AvgLoopTime = ema(o.stats.AvgLoopTime, took)
	o.perf = append(o.perf, Sample{At: now, LoopTime: took, FPS: o.stats.FPS})
	if len(o.perf) > o.cfg.HistorySize {
		o.perf = o.perf[len(o.perf)-o.cfg.HistorySize:]
	}
}

// handleError applies bounded recovery. It returns false when the loop
// must end.
func (o *Orchestrator) handleError(ctx context.Context, err error) bool {
	o.mu.Lock()
	o.stats.Errors++
	o.stats.LastErrorTime = o.now()
	o.lastErr = err
	retry := o.cfg.AutoRecovery && o.recoveries < o.cfg.MaxRecoveryAttempts
	if retry {
		o.recoveries++
		o.stats.Recoveries++
	} else {
		o.failed = true
	}
	attempt, delay := o.recoveries, o.cfg.RecoveryDelay
	o.mu.Unlock()

	slog.Error("automation error", "error", err)
	if !retry {
		slog.Error("no auto-recovery left, stopping engine", "attempts", attempt)
		o.safety.EmergencyStop("Unrecoverable error")
		o.onEmergency("Unrecoverable error")
		return false
	}

	slog.Info("attempting recovery", "attempt", attempt)
	if err := o.sleep(ctx, delay); err != nil {
		return false
	}
	o.recoverComponents(ctx)
	o.emit(EventRecovery, attempt)
	slog.Info("recovery finished", "attempt", attempt)
	return true
}

func (o *Orchestrator) recoverComponents(ctx context.Context) {
	o.safety.ResetEmergencyStop()
	o.mu.Lock()
	o.emergency = false
	o.mu.Unlock()
	o.monitor.Reset()
	o.startMonitor(ctx)
	if e := o.Engine(); e != nil {
		e.ClearHistory()
	}
	o.executor.ClearHistory()
}

func (o *Orchestrator) onStateChange(prev, next model.GameState) {
	o.mu.Lock()
	cfg, p := o.cfg, o.profile
	o.mu.Unlock()

	diff := model.Diff(prev, next)
	if cfg.LogStateChanges {
		if diff.CombatChanged {
			slog.Info("combat state changed", "from", diff.CombatFrom, "to", diff.CombatTo)
		}
		if diff.HealthChange > 10 || diff.HealthChange < -10 {
			slog.Info("health changed", "by", fmt.Sprintf("%.1f%%", diff.HealthChange))
		}
	}
	o.emit(EventStateChanged, StateChange{Prev: prev, Next: next, Diff: diff})

	for _, ev := range DetectEvents(prev, next) {
		if ev.Kind == GameEventDied && p != nil {
			p.RecordDeath()
		}
		slog.Debug("game event", "kind", ev.Kind, "detail", ev.Detail)
		o.emit(EventGameEvent, ev)
	}
}

func (o *Orchestrator) onActionExecuted(res *executor.Result) {
	o.mu.Lock()
	verbose := o.cfg.LogAllDecisions
	o.mu.Unlock()
	if verbose {
		slog.Info("action executed", "action", res.ActionName, "success", res.Success, "took", res.ExecutionTime)
	}
	o.emit(EventActionExecuted, res)
}

// AddCallback registers fn for the given events, or for every event when
// none are given. A callback with the same name is replaced.
func (o *Orchestrator) AddCallback(name string, fn Handler, events ...string) {
	cb := callback{name: name, fn: fn}
	if len(events) > 0 {
		cb.events = make(map[string]bool, len(events))
		for _, e := range events {
			cb.events[e] = true
		}
	}
	o.mu.Lock()
	o.callbacks = slices.DeleteFunc(o.callbacks, func(c callback) bool { return c.name == name })
	o.callbacks = append(o.callbacks, cb)
	o.mu.Unlock()
	slog.Debug("added engine callback", "callback", name, "events", events)
}

func (o *Orchestrator) RemoveCallback(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.callbacks)
	o.callbacks = slices.DeleteFunc(o.callbacks, func(c callback) bool { return c.name == name })
	return len(o.callbacks) != n
}

func (o *Orchestrator) emit(event string, data any) {
	o.mu.Lock()
	cbs := slices.Clone(o.callbacks)
	o.mu.Unlock()
	for _, cb := range cbs {
		if cb.events != nil && !cb.events[event] {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("engine callback panicked", "callback", cb.name, "event", event, "panic", r)
				}
			}()
			cb.fn(event, data)
		}()
	}
}

// Status is a snapshot of the orchestrator and its components.
type Status struct {
	State            State          `json:"state"`
	Running          bool           `json:"isRunning"`
	Paused           bool           `json:"isPaused"`
	Profile          string         `json:"currentProfile,omitempty"`
	Profiles         []string       `json:"availableProfiles"`
	Monitoring       bool           `json:"monitoring"`
	LastError        string         `json:"lastError,omitempty"`
	RecoveryAttempts int            `json:"recoveryAttempts"`
	TargetFPS        float64        `json:"targetFps"`
	Stats            Stats          `json:"stats"`
	SuccessRate      float64        `json:"successRate"`
	Decision         decision.Stats `json:"decisionStats"`
	Execution        executor.Stats `json:"executionStats"`
	Safety           safety.Status  `json:"safetyStats"`
	Monitor          monitor.Stats  `json:"monitoringStats"`
}

func (o *Orchestrator) Status() Status {
	profiles := o.Profiles()
	o.mu.Lock()
	st := Status{
		State:            o.state,
		Running:          o.state == StateRunning || o.state == StatePaused,
		Paused:           o.state == StatePaused,
		Profiles:         profiles,
		Monitoring:       o.monitoring,
		RecoveryAttempts: o.recoveries,
		TargetFPS:        o.cfg.FPS,
		Stats:            o.stats,
		SuccessRate:      o.stats.SuccessRate(),
	}
	if o.profile != nil {
		st.Profile = o.profile.Name
	}
	if o.lastErr != nil {
		st.LastError = o.lastErr.Error()
	}
	e := o.engine
	o.mu.Unlock()

	if e != nil {
		st.Decision = e.Stats()
	}
	st.Execution = o.executor.Stats()
	st.Safety = o.safety.Status()
	st.Monitor = o.monitor.Stats()
	return st
}

func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// PerformanceHistory returns up to n of the newest loop samples, oldest
// first.
func (o *Orchestrator) PerformanceHistory(n int) []Sample {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n <= 0 || n > len(o.perf) {
		n = len(o.perf)
	}
	return slices.Clone(o.perf[len(o.perf)-n:])
}

// CurrentState is the monitor's newest snapshot.
func (o *Orchestrator) CurrentState() (model.GameState, bool) { return o.monitor.Current() }

func (o *Orchestrator) ResetStats() {
	o.mu.Lock()
	o.stats = Stats{}
	o.perf = nil
	e := o.engine
	o.mu.Unlock()
	if e != nil {
		e.ResetStats()
	}
	o.executor.ClearHistory()
	slog.Info("engine stats reset")
}

// Configure replaces the config. A new FPS applies from the next loop
// start.
func (o *Orchestrator) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid automation config: %w", err)
	}
	o.mu.Lock()
	old := o.cfg
	o.cfg = cfg
	o.mu.Unlock()
	slog.Info("engine config updated", "fps", cfg.FPS, "was", old.FPS)
	return nil
}
