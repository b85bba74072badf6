package rules

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nstehr/autocast/decision"
	"github.com/nstehr/autocast/model"
)

// Category groups rules for play-style tuning and reporting.
type Category string

const (
	CategoryEmergency  Category = "emergency"
	CategorySurvival   Category = "survival"
	CategoryCombat     Category = "combat"
	CategoryEfficiency Category = "efficiency"
	CategoryUtility    Category = "utility"
	CategorySocial     Category = "social"
)

// Logic is the rule-specific part of a Rule. EvaluateConditions is the
// boolean gate; CalculateActionScores returns unweighted votes.
type Logic interface {
	EvaluateConditions(ctx *decision.Context) bool
	CalculateActionScores(ctx *decision.Context) ([]decision.Score, error)
}

// Reasoner is implemented by logic that explains itself. Its lines are
// appended to every score the rule emits.
type Reasoner interface {
	Reasoning(ctx *decision.Context) []string
}

// Options are the static settings of a rule.
type Options struct {
	Name        string
	Category    Category
	Priority    model.Priority
	Weight      float64
	Description string

	Cooldown    time.Duration // after a firing evaluation
	MinInterval time.Duration // between firing evaluations

	SuggestedActions  []string
	RequiredAbilities []string
	ClassRestrictions []model.ClassType
}

// EvalError wraps a fault raised by rule logic or a condition check.
type EvalError struct {
	Rule string
	Err  error
}

func (e *EvalError) Error() string { return fmt.Sprintf("rule %q: %v", e.Rule, e.Err) }
func (e *EvalError) Unwrap() error { return e.Err }

// Rule is the evaluation template shared by every concrete rule: gates,
// required conditions, logic, then weight × priority multiplier.
type Rule struct {
	mu         sync.Mutex
	opts       Options
	logic      Logic
	conditions []Condition
	enabled    bool
	debug      bool

	lastActivation time.Time
	metrics        Metrics
	reasoning      []string
}

// New builds a rule around logic. Negative weights and durations are
// clamped to zero.
func New(opts Options, logic Logic) *Rule {
	opts.Weight = max(0, opts.Weight)
	opts.Cooldown = max(0, opts.Cooldown)
	opts.MinInterval = max(0, opts.MinInterval)
	opts.SuggestedActions = slices.Clone(opts.SuggestedActions)
	opts.RequiredAbilities = slices.Clone(opts.RequiredAbilities)
	opts.ClassRestrictions = slices.Clone(opts.ClassRestrictions)
	r := &Rule{opts: opts, logic: logic, enabled: true}
	slog.Debug("initialized rule", "rule", opts.Name, "category", opts.Category, "priority", opts.Priority)
	return r
}

func (r *Rule) Name() string        { return r.opts.Name }
func (r *Rule) Category() Category  { return r.opts.Category }
func (r *Rule) Description() string { return r.opts.Description }
func (r *Rule) Logic() Logic        { return r.logic }

func (r *Rule) Priority() model.Priority {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts.Priority
}

func (r *Rule) Weight() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts.Weight
}

func (r *Rule) SetWeight(w float64) {
	r.mu.Lock()
	r.opts.Weight = max(0, w)
	r.mu.Unlock()
}

// SetPriority only affects scoring; callers must re-register the rule with
// the engine to move it to another tier.
func (r *Rule) SetPriority(p model.Priority) {
	r.mu.Lock()
	old := r.opts.Priority
	r.opts.Priority = p
	r.mu.Unlock()
	slog.Info("rule priority changed", "rule", r.opts.Name, "from", old, "to", p)
}

func (r *Rule) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

func (r *Rule) SetEnabled(v bool) {
	r.mu.Lock()
	r.enabled = v
	r.mu.Unlock()
}

func (r *Rule) SetDebug(v bool) {
	r.mu.Lock()
	r.debug = v
	r.mu.Unlock()
}

func (r *Rule) Cooldown() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts.Cooldown
}

func (r *Rule) SetCooldown(d time.Duration) {
	r.mu.Lock()
	r.opts.Cooldown = max(0, d)
	r.mu.Unlock()
}

func (r *Rule) MinInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts.MinInterval
}

func (r *Rule) SetMinInterval(d time.Duration) {
	r.mu.Lock()
	r.opts.MinInterval = max(0, d)
	r.mu.Unlock()
}

// CooldownRemaining is measured against now.
func (r *Rule) CooldownRemaining(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sinceLast(now, r.opts.Cooldown)
}

func (r *Rule) sinceLast(now time.Time, window time.Duration) time.Duration {
	if window <= 0 || r.lastActivation.IsZero() {
		return 0
	}
	return max(0, window-now.Sub(r.lastActivation))
}

func (r *Rule) SuggestedActions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.opts.SuggestedActions)
}

func (r *Rule) AddSuggestedAction(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.opts.SuggestedActions, name) {
		r.opts.SuggestedActions = append(r.opts.SuggestedActions, name)
	}
}

func (r *Rule) RemoveSuggestedAction(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.Index(r.opts.SuggestedActions, name)
	if i < 0 {
		return false
	}
	r.opts.SuggestedActions = slices.Delete(r.opts.SuggestedActions, i, i+1)
	return true
}

// AvailableSuggestedActions filters the suggestions to those in ctx.Available.
func (r *Rule) AvailableSuggestedActions(ctx *decision.Context) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, a := range r.opts.SuggestedActions {
		if ctx.CanUse(a) {
			out = append(out, a)
		}
	}
	return out
}

func (r *Rule) AddRequiredAbility(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.opts.RequiredAbilities, name) {
		r.opts.RequiredAbilities = append(r.opts.RequiredAbilities, name)
	}
}

func (r *Rule) ClassRestrictions() []model.ClassType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.opts.ClassRestrictions)
}

func (r *Rule) AddClassRestriction(c model.ClassType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.opts.ClassRestrictions, c) {
		r.opts.ClassRestrictions = append(r.opts.ClassRestrictions, c)
		slog.Debug("added class restriction", "rule", r.opts.Name, "class", c)
	}
}

func (r *Rule) RemoveClassRestriction(c model.ClassType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := slices.Index(r.opts.ClassRestrictions, c); i >= 0 {
		r.opts.ClassRestrictions = slices.Delete(r.opts.ClassRestrictions, i, i+1)
	}
}

// CanApply checks the enabled flag, cooldown, minimum interval, class
// restrictions and required abilities. It never scores.
func (r *Rule) CanApply(ctx *decision.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canApply(ctx)
}

func (r *Rule) canApply(ctx *decision.Context) bool {
	if !r.enabled {
		return false
	}
	if rem := r.sinceLast(ctx.Timestamp, r.opts.Cooldown); rem > 0 {
		r.trace(fmt.Sprintf("Rule on cooldown for %.1fs", rem.Seconds()))
		return false
	}
	if r.sinceLast(ctx.Timestamp, r.opts.MinInterval) > 0 {
		r.trace("Within minimum activation interval")
		return false
	}
	if len(r.opts.ClassRestrictions) > 0 && !slices.Contains(r.opts.ClassRestrictions, ctx.Class) {
		r.trace(fmt.Sprintf("Class restriction: requires %v", r.opts.ClassRestrictions))
		return false
	}
	for _, a := range r.opts.RequiredAbilities {
		if !ctx.CanUse(a) {
			r.trace(fmt.Sprintf("Missing required ability: %s", a))
			return false
		}
	}
	return true
}

// Evaluate runs the template. Errors and panics from the logic are returned
// as *EvalError and counted as a failed activation.
func (r *Rule) Evaluate(ctx *decision.Context) (scores []decision.Score, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reasoning = r.reasoning[:0]
	if !r.canApply(ctx) {
		return nil, nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.record(0, false, ctx.Timestamp)
			scores, err = nil, &EvalError{Rule: r.opts.Name, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	if ok, _ := r.evaluateConditions(ctx.State); !ok {
		r.trace("Required conditions not met")
		return nil, nil
	}
	if !r.logic.EvaluateConditions(ctx) {
		r.trace("Rule conditions not met")
		return nil, nil
	}

	scores, err = r.logic.CalculateActionScores(ctx)
	if err != nil {
		r.metrics.record(0, false, ctx.Timestamp)
		return nil, &EvalError{Rule: r.opts.Name, Err: err}
	}
	if len(scores) == 0 {
		return nil, nil
	}

	var extra []string
	if rs, ok := r.logic.(Reasoner); ok {
		extra = rs.Reasoning(ctx)
	}
	mult := r.opts.Weight * r.opts.Priority.Multiplier()
	best := 0.0
	for i := range scores {
		s := &scores[i]
		s.Value *= mult
		s.Priority = r.opts.Priority
		s.Reasoning = append(s.Reasoning, extra...)
		s.Reasoning = append(s.Reasoning, "Rule: "+r.opts.Name)
		best = max(best, s.Value)
	}

	r.metrics.record(best, true, ctx.Timestamp)
	r.lastActivation = ctx.Timestamp
	r.trace(fmt.Sprintf("Generated %d action suggestions", len(scores)))
	return scores, nil
}

func (r *Rule) trace(reason string) {
	r.reasoning = append(r.reasoning, reason)
	if r.debug {
		slog.Debug("rule trace", "rule", r.opts.Name, "reason", reason)
	}
}

// RecentReasoning returns the trace of the last evaluation.
func (r *Rule) RecentReasoning() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.reasoning)
}

func (r *Rule) Metrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics
}

func (r *Rule) ResetMetrics() {
	r.mu.Lock()
	r.metrics = Metrics{}
	r.reasoning = nil
	r.mu.Unlock()
	slog.Info("reset rule statistics", "rule", r.opts.Name)
}

func (r *Rule) String() string {
	status := "enabled"
	if !r.Enabled() {
		status = "disabled"
	}
	return fmt.Sprintf("%s [%s] %s", r.opts.Name, r.opts.Category, status)
}

// Metrics counts the evaluations that reached scoring.
type Metrics struct {
	Activations    int       `json:"activations"`
	Successes      int       `json:"successes"`
	Failures       int       `json:"failures"`
	TotalScore     float64   `json:"totalScore"`
	AverageScore   float64   `json:"averageScore"`
	LastActivation time.Time `json:"lastActivation"`
	LastSuccess    time.Time `json:"lastSuccess"`
}

func (m *Metrics) record(score float64, success bool, at time.Time) {
	m.Activations++
	m.TotalScore += score
	m.AverageScore = m.TotalScore / float64(m.Activations)
	m.LastActivation = at
	if success {
		m.Successes++
		m.LastSuccess = at
	} else {
		m.Failures++
	}
}

// SuccessRate is a percentage, 0 when the rule never fired.
func (m Metrics) SuccessRate() float64 {
	total := m.Successes + m.Failures
	if total == 0 {
		return 0
	}
	return float64(m.Successes) / float64(total) * 100
}

// EffectivenessRating blends success rate, activity and score quality into
// [0, 1]. Unused rules rate 0.5.
func (m Metrics) EffectivenessRating() float64 {
	if m.Activations == 0 {
		return 0.5
	}
	success := m.SuccessRate() / 100
	activity := min(1, float64(m.Activations)/100)
	quality := 0.0
	if m.AverageScore > 0 {
		quality = min(1, m.AverageScore/10)
	}
	return success*0.5 + activity*0.3 + quality*0.2
}
