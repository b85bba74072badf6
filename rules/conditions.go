package rules

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/nstehr/autocast/model"
)

// Check is a pure predicate over a snapshot.
type Check func(model.GameState) bool

// Condition is a named Check. Required conditions gate evaluation; optional
// ones only contribute to the weighted score of EvaluateAllConditions.
type Condition struct {
	Name        string
	Check       Check
	Weight      float64
	Required    bool
	Description string
}

// Comparison is a numeric operator used by the condition factories.
type Comparison int

const (
	LessThan Comparison = iota
	GreaterThan
	Equal
	LessEqual
	GreaterEqual
)

var comparisonNames = map[Comparison]string{
	LessThan:     "less_than",
	GreaterThan:  "greater_than",
	Equal:        "equal",
	LessEqual:    "less_equal",
	GreaterEqual: "greater_equal",
}

func (c Comparison) String() string { return comparisonNames[c] }

func ParseComparison(s string) (Comparison, error) {
	for c, name := range comparisonNames {
		if strings.EqualFold(name, s) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown comparison %q", s)
}

// Compare applies c to v and threshold. Equal tolerates a difference under
// one percentage point.
func (c Comparison) Compare(v, threshold float64) bool {
	switch c {
	case LessThan:
		return v < threshold
	case GreaterThan:
		return v > threshold
	case Equal:
		return math.Abs(v-threshold) < 1
	case LessEqual:
		return v <= threshold
	case GreaterEqual:
		return v >= threshold
	}
	return false
}

func HealthCondition(op Comparison, threshold float64) Check {
	return func(s model.GameState) bool { return op.Compare(s.HealthPercent(), threshold) }
}

func ManaCondition(op Comparison, threshold float64) Check {
	return func(s model.GameState) bool { return op.Compare(s.ManaPercent(), threshold) }
}

func CombatCondition(inCombat bool) Check {
	return func(s model.GameState) bool { return s.InCombat == inCombat }
}

func CombatStateCondition(state model.CombatState) Check {
	return func(s model.GameState) bool { return s.CombatState == state }
}

func TargetCondition(exists bool) Check {
	return func(s model.GameState) bool { return s.Target.Exists == exists }
}

// TargetHealthCondition is false without a target.
func TargetHealthCondition(op Comparison, threshold float64) Check {
	return func(s model.GameState) bool {
		return s.Target.Exists && op.Compare(s.Target.HPPercent, threshold)
	}
}

func BuffCondition(name string, present bool) Check {
	return func(s model.GameState) bool { return s.HasBuff(name) == present }
}

func (r *Rule) AddCondition(c Condition) {
	if c.Weight == 0 {
		c.Weight = 1
	}
	r.mu.Lock()
	r.conditions = append(r.conditions, c)
	r.mu.Unlock()
}

func (r *Rule) RemoveCondition(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.IndexFunc(r.conditions, func(c Condition) bool { return c.Name == name })
	if i < 0 {
		return false
	}
	r.conditions = slices.Delete(r.conditions, i, i+1)
	return true
}

// ReplaceCondition swaps the check of the named condition, keeping its
// weight and required flag.
func (r *Rule) ReplaceCondition(name string, check Check) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.conditions {
		if r.conditions[i].Name == name {
			r.conditions[i].Check = check
			return true
		}
	}
	return false
}

func (r *Rule) Conditions() []Condition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.conditions)
}

// EvaluateAllConditions reports whether every required condition holds and
// the share of condition weight that is met. A rule without conditions
// returns (true, 1).
func (r *Rule) EvaluateAllConditions(s model.GameState) (bool, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evaluateConditions(s)
}

func (r *Rule) evaluateConditions(s model.GameState) (bool, float64) {
	if len(r.conditions) == 0 {
		return true, 1
	}
	requiredMet := true
	var total, met float64
	for _, c := range r.conditions {
		total += c.Weight
		ok, err := runCheck(c, s)
		if err != nil {
			slog.Error("condition error", "rule", r.opts.Name, "condition", c.Name, "error", err)
		}
		switch {
		case ok:
			met += c.Weight
			r.trace("✓ " + c.Name)
		case c.Required:
			requiredMet = false
			r.trace("✗ " + c.Name + " (required)")
		default:
			r.trace("✗ " + c.Name + " (optional)")
		}
	}
	if total <= 0 {
		return requiredMet, 1
	}
	return requiredMet, met / total
}

func runCheck(c Condition, s model.GameState) (ok bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ok, err = false, fmt.Errorf("panic: %v", rec)
		}
	}()
	if c.Check == nil {
		return false, fmt.Errorf("condition %q has no check", c.Name)
	}
	return c.Check(s), nil
}
