package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type ActionType string

const (
	ActionCombat   ActionType = "combat"
	ActionSurvival ActionType = "survival"
	ActionMovement ActionType = "movement"
	ActionUtility  ActionType = "utility"
	ActionBuff     ActionType = "buff"
	ActionConsume  ActionType = "consume"
)

// Priority orders rule tiers. Lower values are more urgent; the score weight
// of each tier comes from Multiplier, not from the numeric value.
type Priority int

const (
	Emergency Priority = iota + 1
	High
	Medium
	Low
	Idle
)

// Priorities lists the tiers in evaluation order.
var Priorities = []Priority{Emergency, High, Medium, Low, Idle}

var priorityMultipliers = map[Priority]float64{
	Emergency: 10.0,
	High:      5.0,
	Medium:    2.0,
	Low:       1.0,
	Idle:      0.5,
}

// Multiplier returns the score multiplier for the tier, or 1 for an unknown tier.
func (p Priority) Multiplier() float64 {
	if m, ok := priorityMultipliers[p]; ok {
		return m
	}
	return 1.0
}

func (p Priority) String() string {
	switch p {
	case Emergency:
		return "EMERGENCY"
	case High:
		return "HIGH"
	case Medium:
		return "MEDIUM"
	case Low:
		return "LOW"
	case Idle:
		return "IDLE"
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

func ParsePriority(s string) (Priority, error) {
	for _, p := range Priorities {
		if strings.EqualFold(p.String(), s) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(p.String())), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Point is a screen coordinate.
type Point struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// ActionDefinition is the static description of an ability or item use.
type ActionDefinition struct {
	Name     string     `json:"name"`
	Type     ActionType `json:"type"`
	Priority Priority   `json:"priority"`

	KeyBinding    string `json:"keyBinding,omitempty"`
	ClickPosition *Point `json:"clickPosition,omitempty"`

	MinLevel      int       `json:"minLevel,omitempty"`
	RequiredClass ClassType `json:"requiredClass,omitempty"` // empty means any class
	ManaCost      float64   `json:"manaCost,omitempty"`
	RageCost      float64   `json:"rageCost,omitempty"`
	EnergyCost    float64   `json:"energyCost,omitempty"`

	Cooldown       time.Duration `json:"cooldown,omitempty"`
	CastTime       time.Duration `json:"castTime,omitempty"`
	GlobalCooldown bool          `json:"globalCooldown"`

	RequiresTarget bool    `json:"requiresTarget,omitempty"`
	RequiresCombat bool    `json:"requiresCombat,omitempty"`
	MaxRange       float64 `json:"maxRange,omitempty"` // 0 = melee, range unchecked

	Damage        float64 `json:"damage,omitempty"`
	Healing       float64 `json:"healing,omitempty"`
	BuffApplied   string  `json:"buffApplied,omitempty"`
	DebuffApplied string  `json:"debuffApplied,omitempty"`
}

func (d ActionDefinition) UsableBy(class ClassType) bool {
	return d.RequiredClass == "" || d.RequiredClass == class
}

// MeetsRequirements checks class, target, combat, mana and range requirements.
func (d ActionDefinition) MeetsRequirements(s GameState, class ClassType) bool {
	if !d.UsableBy(class) {
		return false
	}
	if d.RequiresTarget && !s.Target.Exists {
		return false
	}
	if d.RequiresCombat && !s.InCombat {
		return false
	}
	if !s.CanAffordMana(d.ManaCost) {
		return false
	}
	if d.MaxRange > 0 && s.Target.Exists && s.Target.Distance > d.MaxRange {
		return false
	}
	return true
}

// ActionResult is the outcome of one dispatched action.
type ActionResult struct {
	Success         bool          `json:"success"`
	ActionName      string        `json:"actionName"`
	Timestamp       time.Time     `json:"timestamp"`
	ExecutionTime   time.Duration `json:"executionTime"`
	Error           string        `json:"error,omitempty"`
	ManaCost        float64       `json:"manaCost,omitempty"`
	CooldownApplied time.Duration `json:"cooldownApplied,omitempty"`
	DamageDealt     float64       `json:"damageDealt,omitempty"`
	HealingDone     float64       `json:"healingDone,omitempty"`
}

func (r ActionResult) WasSuccessful() bool { return r.Success && r.Error == "" }

// Effectiveness is damage plus healing per point of mana. Free actions that
// did something are infinitely effective.
func (r ActionResult) Effectiveness() float64 {
	out := r.DamageDealt + r.HealingDone
	if r.ManaCost <= 0 {
		if out > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return out / r.ManaCost
}

// Cooldown is a running cooldown as seen at decision time.
type Cooldown struct {
	Name      string        `json:"name"`
	Duration  time.Duration `json:"duration"`
	StartedAt time.Time     `json:"startedAt"`
}

func (c Cooldown) Remaining(now time.Time) time.Duration {
	return max(0, c.Duration-now.Sub(c.StartedAt))
}

func (c Cooldown) Ready(now time.Time) bool { return c.Remaining(now) <= 0 }

// Progress reports completion in percent, clamped to [0, 100].
func (c Cooldown) Progress(now time.Time) float64 {
	if c.Duration <= 0 {
		return 100
	}
	p := float64(now.Sub(c.StartedAt)) / float64(c.Duration) * 100
	return math.Min(100, math.Max(0, p))
}
