package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nstehr/autocast/model"
)

// Config holds the engine's pacing and budget settings.
type Config struct {
	MinInterval           time.Duration `yaml:"min_interval"`
	MaxRulesPerEvaluation int           `yaml:"max_rules_per_evaluation"`
	HistorySize           int           `yaml:"history_size"`
}

func DefaultConfig() Config {
	return Config{
		MinInterval:           100 * time.Millisecond,
		MaxRulesPerEvaluation: 20,
		HistorySize:           100,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.MinInterval < 0 {
		errs = append(errs, fmt.Errorf("min interval must not be negative, got %s", c.MinInterval))
	}
	if c.MaxRulesPerEvaluation <= 0 {
		errs = append(errs, fmt.Errorf("max rules per evaluation must be positive, got %d", c.MaxRulesPerEvaluation))
	}
	if c.HistorySize <= 0 {
		errs = append(errs, fmt.Errorf("history size must be positive, got %d", c.HistorySize))
	}
	return errors.Join(errs...)
}

// Stats are the engine's running counters.
type Stats struct {
	TotalDecisions      int           `json:"totalDecisions"`
	SuccessfulDecisions int           `json:"successfulDecisions"`
	FailedDecisions     int           `json:"failedDecisions"`
	AvgDecisionTime     time.Duration `json:"avgDecisionTime"`
	DecisionsPerMinute  float64       `json:"decisionsPerMinute"`
	LastDecision        time.Time     `json:"lastDecision"`

	SuccessRate      float64 `json:"successRate"`
	ActiveRules      int     `json:"activeRules"`
	TotalRules       int     `json:"totalRules"`
	AvailableActions int     `json:"availableActions"`
}

type Option func(*Engine)

func WithConfig(c Config) Option { return func(e *Engine) { e.cfg = c } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithMinInterval(d time.Duration) Option { return func(e *Engine) { e.cfg.MinInterval = d } }

func WithMaxRules(n int) Option { return func(e *Engine) { e.cfg.MaxRulesPerEvaluation = n } }

// Engine owns the rule set and the action catalogue for one character class
// and turns game-state snapshots into a single chosen action.
type Engine struct {
	mu  sync.RWMutex
	cfg Config
	now func() time.Time

	class   model.ClassType
	rules   []Rule
	tiers   map[model.Priority][]Rule
	actions map[string]*ActionInstance
	order   []string // action registration order

	history      []Score
	lastDecision time.Time
	stats        Stats
}

// NewEngine builds an engine for class. Options are validated after they
// are applied.
func NewEngine(class model.ClassType, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:     DefaultConfig(),
		now:     time.Now,
		class:   class,
		tiers:   make(map[model.Priority][]Rule),
		actions: make(map[string]*ActionInstance),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("decision engine config: %w", err)
	}
	slog.Info("decision engine initialized", "class", class)
	return e, nil
}

func (e *Engine) Class() model.ClassType { return e.class }

// AddRule appends r to its priority tier. Within a tier rules are kept in
// descending weight order; equal weights keep registration order. A rule
// outside the known tiers would never be evaluated and is rejected.
func (e *Engine) AddRule(r Rule) error {
	if !slices.Contains(model.Priorities, r.Priority()) {
		slog.Error("rejected decision rule with unknown priority", "rule", r.Name(), "priority", int(r.Priority()))
		return fmt.Errorf("rule %s: unknown priority %d", r.Name(), int(r.Priority()))
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = append(e.rules, r)
	tier := append(e.tiers[r.Priority()], r)
	sort.SliceStable(tier, func(i, j int) bool { return tier[i].Weight() > tier[j].Weight() })
	e.tiers[r.Priority()] = tier
	slog.Info("added decision rule", "rule", r.Name(), "priority", r.Priority())
	return nil
}

func (e *Engine) RemoveRule(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, r := range e.rules {
		if r.Name() != name {
			continue
		}
		e.rules = append(e.rules[:i], e.rules[i+1:]...)
		tier := e.tiers[r.Priority()]
		for j, tr := range tier {
			if tr == r {
				e.tiers[r.Priority()] = append(tier[:j], tier[j+1:]...)
				break
			}
		}
		slog.Info("removed decision rule", "rule", name)
		return true
	}
	slog.Warn("rule not found", "rule", name)
	return false
}

// Rules returns the rules in registration order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// RulesByPriority returns one tier in evaluation order.
func (e *Engine) RulesByPriority(p model.Priority) []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.tiers[p]...)
}

func (e *Engine) AddAction(name string, def model.ActionDefinition) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.actions[name]; !exists {
		e.order = append(e.order, name)
	}
	e.actions[name] = NewActionInstance(def, e.now)
	slog.Info("added action", "action", name)
}

func (e *Engine) RemoveAction(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.actions[name]; !ok {
		return false
	}
	delete(e.actions, name)
	for i, n := range e.order {
		if n == name {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	slog.Info("removed action", "action", name)
	return true
}

func (e *Engine) Action(name string) (*ActionInstance, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.actions[name]
	return a, ok
}

// ActionNames returns registered action names in registration order.
func (e *Engine) ActionNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.order...)
}

// AvailableActions returns the actions that can execute against s.
func (e *Engine) AvailableActions(s model.GameState) map[string]*ActionInstance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.available(s)
}

func (e *Engine) available(s model.GameState) map[string]*ActionInstance {
	out := make(map[string]*ActionInstance)
	for _, name := range e.order {
		a := e.actions[name]
		if ok, _ := a.CanExecute(s, e.class); ok {
			out[name] = a
		}
	}
	return out
}

// ActiveCooldowns returns every action still cooling down.
func (e *Engine) ActiveCooldowns() map[string]model.Cooldown {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cooldowns()
}

func (e *Engine) cooldowns() map[string]model.Cooldown {
	out := make(map[string]model.Cooldown)
	for _, name := range e.order {
		a := e.actions[name]
		if a.CooldownRemaining() > 0 {
			out[name] = model.Cooldown{Name: name, Duration: a.Definition().Cooldown, StartedAt: a.LastUsed()}
		}
	}
	return out
}

// MakeDecision picks the next action for s. It returns false when called
// within the minimum interval, when s is not safe to act on, or when no
// candidate survives filtering.
func (e *Engine) MakeDecision(s model.GameState, recent []model.ActionResult) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.now()
	if !e.lastDecision.IsZero() && start.Sub(e.lastDecision) < e.cfg.MinInterval {
		return "", false
	}
	if !s.IsSafeToAct() {
		return "", false
	}

	ctx := &Context{
		State:              s,
		Class:              e.class,
		Available:          e.available(s),
		Cooldowns:          e.cooldowns(),
		Recent:             recent,
		Timestamp:          start,
		LastDecision:       e.lastDecision,
		DecisionsPerMinute: e.stats.DecisionsPerMinute,
	}

	scores := e.evaluateAll(ctx)
	best, ok := e.selectBest(scores, ctx)

	end := e.now()
	e.recordStats(end.Sub(start), ok, end)
	e.lastDecision = end

	if ok {
		slog.Debug("decision", "action", best.Action, "score", best.Value, "took", end.Sub(start))
	}
	return best.Action, ok
}

// evaluateAll walks the tiers in priority order. An emergency rule that
// produces any score ends the emergency tier.
func (e *Engine) evaluateAll(ctx *Context) []Score {
	var all []Score
	evaluated := 0

tiers:
	for _, p := range model.Priorities {
		for _, r := range e.tiers[p] {
			if evaluated >= e.cfg.MaxRulesPerEvaluation {
				break tiers
			}
			if !r.Enabled() || !r.CanApply(ctx) {
				continue
			}
			evaluated++

			scores, err := evaluateRule(r, ctx)
			if err != nil {
				slog.Warn("rule evaluation error", "rule", r.Name(), "error", err)
				continue
			}
			all = append(all, scores...)

			if p == model.Emergency && len(scores) > 0 {
				break
			}
		}
	}
	return all
}

// evaluateRule contains panics from rule implementations that do not
// recover on their own.
func evaluateRule(r Rule, ctx *Context) (scores []Score, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			scores, err = nil, fmt.Errorf("rule %q panicked: %v", r.Name(), rec)
		}
	}()
	return r.Evaluate(ctx)
}

func (e *Engine) selectBest(scores []Score, ctx *Context) (Score, bool) {
	var executable []Score
	for _, s := range scores {
		a, ok := ctx.Available[s.Action]
		if !ok {
			continue
		}
		if ok, reason := a.CanExecute(ctx.State, ctx.Class); !ok {
			slog.Debug("skipping candidate", "action", s.Action, "reason", reason)
			continue
		}
		executable = append(executable, s)
	}
	if len(executable) == 0 {
		return Score{}, false
	}

	sort.SliceStable(executable, func(i, j int) bool { return executable[i].Value > executable[j].Value })

	if len(executable) > 1 && slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		for i, s := range executable[:min(3, len(executable))] {
			slog.Debug("candidate", "rank", i+1, "action", s.Action, "score", s.Value,
				"reasoning", strings.Join(s.Reasoning[:min(2, len(s.Reasoning))], "; "))
		}
	}

	best := executable[0]
	best.Timestamp = ctx.Timestamp
	e.history = append(e.history, best)
	if len(e.history) > e.cfg.HistorySize {
		e.history = e.history[len(e.history)-e.cfg.HistorySize:]
	}
	return best, true
}

func (e *Engine) recordStats(took time.Duration, success bool, now time.Time) {
	e.stats.TotalDecisions++
	if success {
		e.stats.SuccessfulDecisions++
	} else {
		e.stats.FailedDecisions++
	}
	const alpha = 0.1
	e.stats.AvgDecisionTime = time.Duration(alpha*float64(took) + (1-alpha)*float64(e.stats.AvgDecisionTime))
	e.stats.LastDecision = now

	if n := len(e.history); n >= 2 {
		span := e.history[n-1].Timestamp.Sub(e.history[0].Timestamp)
		if span > 0 {
			e.stats.DecisionsPerMinute = float64(n) / span.Minutes()
		}
	}
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := e.stats
	if s.TotalDecisions > 0 {
		s.SuccessRate = float64(s.SuccessfulDecisions) / float64(s.TotalDecisions) * 100
	}
	for _, r := range e.rules {
		if r.Enabled() {
			s.ActiveRules++
		}
	}
	s.TotalRules = len(e.rules)
	s.AvailableActions = len(e.actions)
	return s
}

func (e *Engine) ActionStats() map[string]ActionStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]ActionStats, len(e.actions))
	for name, a := range e.actions {
		out[name] = a.Stats()
	}
	return out
}

// RecentDecisions returns up to n of the latest winning scores, oldest first.
func (e *Engine) RecentDecisions(n int) []Score {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if n > len(e.history) {
		n = len(e.history)
	}
	return append([]Score(nil), e.history[len(e.history)-n:]...)
}

// ClearHistory drops the decision history.
func (e *Engine) ClearHistory() {
	e.mu.Lock()
	e.history = nil
	e.mu.Unlock()
}

// Configure replaces the engine settings after validating them.
func (e *Engine) Configure(c Config) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("decision engine config: %w", err)
	}
	e.mu.Lock()
	e.cfg = c
	if len(e.history) > c.HistorySize {
		e.history = e.history[len(e.history)-c.HistorySize:]
	}
	e.mu.Unlock()
	slog.Info("decision engine configuration updated",
		"minInterval", c.MinInterval, "maxRules", c.MaxRulesPerEvaluation, "history", c.HistorySize)
	return nil
}

func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

func (e *Engine) EnableRule(name string) bool  { return e.setRuleEnabled(name, true) }
func (e *Engine) DisableRule(name string) bool { return e.setRuleEnabled(name, false) }

func (e *Engine) setRuleEnabled(name string, v bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.rules {
		if r.Name() == name {
			r.SetEnabled(v)
			slog.Info("rule toggled", "rule", name, "enabled", v)
			return true
		}
	}
	return false
}

func (e *Engine) EnableAction(name string) bool  { return e.setActionEnabled(name, true) }
func (e *Engine) DisableAction(name string) bool { return e.setActionEnabled(name, false) }

func (e *Engine) setActionEnabled(name string, v bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.actions[name]
	if !ok {
		return false
	}
	a.SetEnabled(v)
	slog.Info("action toggled", "action", name, "enabled", v)
	return true
}

// ResetStats clears engine and action counters and the decision history.
// Rules keep their own metrics and are reset through their own API.
func (e *Engine) ResetStats() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats = Stats{}
	for _, a := range e.actions {
		a.resetStats()
	}
	e.history = nil
}
