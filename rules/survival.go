package rules

import (
	"fmt"
	"slices"
	"time"

	"github.com/nstehr/autocast/decision"
	"github.com/nstehr/autocast/model"
)

// Rule names used by presets and profiles.
const (
	NameEmergencyHeal      = "Emergency Heal"
	NameCriticalMana       = "Critical Mana"
	NameRegularHeal        = "Regular Heal"
	NameManaManagement     = "Mana Management"
	NameRunAway            = "Run Away"
	NameDefensiveCooldowns = "Defensive Cooldowns"
)

// HealthThresholder is implemented by logic tuned by a health percentage.
type HealthThresholder interface {
	HealthThreshold() float64
	SetHealthThreshold(float64)
}

// ManaThresholder is implemented by logic tuned by a mana percentage.
type ManaThresholder interface {
	ManaThreshold() float64
	SetManaThreshold(float64)
}

// vote builds an unweighted score.
func vote(action string, value, confidence float64, reasons ...string) decision.Score {
	s := decision.Score{Action: action, Value: value, Confidence: confidence}
	for _, r := range reasons {
		s.AddReasoning(r, 0)
	}
	return s
}

// baseScore looks action up in table, falling back to def.
func baseScore(table map[string]float64, action string, def float64) float64 {
	if v, ok := table[action]; ok {
		return v
	}
	return def
}

func orDefault(actions, def []string) []string {
	if len(actions) == 0 {
		return slices.Clone(def)
	}
	return slices.Clone(actions)
}

// EmergencyHeal fires when health drops below Threshold.
type EmergencyHeal struct {
	Threshold float64
	Actions   []string
}

var emergencyHealScores = map[string]float64{
	"health_potion": 10,
	"flash_heal":    8,
	"light_heal":    6,
	"greater_heal":  4,
	"bandage":       2,
}

// NewEmergencyHeal returns the emergency heal rule. Without actions it
// suggests health_potion, flash_heal, light_heal and bandage.
func NewEmergencyHeal(threshold float64, actions ...string) *Rule {
	l := &EmergencyHeal{
		Threshold: threshold,
		Actions:   orDefault(actions, []string{"health_potion", "flash_heal", "light_heal", "bandage"}),
	}
	r := New(Options{
		Name:             NameEmergencyHeal,
		Category:         CategoryEmergency,
		Priority:         model.Emergency,
		Weight:           10,
		Description:      fmt.Sprintf("Emergency healing when health drops below %.0f%%", threshold),
		MinInterval:      500 * time.Millisecond,
		SuggestedActions: l.Actions,
	}, l)
	r.AddCondition(Condition{
		Name:     "critical_health",
		Check:    func(s model.GameState) bool { return HealthCondition(LessThan, l.Threshold)(s) },
		Weight:   2,
		Required: true,
	})
	return r
}

func (l *EmergencyHeal) HealthThreshold() float64     { return l.Threshold }
func (l *EmergencyHeal) SetHealthThreshold(v float64) { l.Threshold = v }

func (l *EmergencyHeal) EvaluateConditions(ctx *decision.Context) bool {
	hp := ctx.State.HealthPercent()
	return hp < l.Threshold && hp < 95
}

func (l *EmergencyHeal) CalculateActionScores(ctx *decision.Context) ([]decision.Score, error) {
	hp := ctx.State.HealthPercent()
	urgency := min(3, 1+(l.Threshold-hp)/10)

	var scores []decision.Score
	for _, a := range l.Actions {
		if !ctx.CanUse(a) {
			continue
		}
		scores = append(scores, vote(a, baseScore(emergencyHealScores, a, 5)*urgency, 0.95,
			fmt.Sprintf("EMERGENCY: Health at %.1f%%", hp),
			fmt.Sprintf("Urgency multiplier: %.1fx", urgency)))
	}
	return scores, nil
}

func (l *EmergencyHeal) Reasoning(ctx *decision.Context) []string {
	return []string{
		fmt.Sprintf("Health critically low: %.1f%% < %.1f%%", ctx.State.HealthPercent(), l.Threshold),
		"IMMEDIATE ACTION REQUIRED",
	}
}

// CriticalMana restores mana once it is nearly empty. In combat it only
// fires at 5% mana or less.
type CriticalMana struct {
	Threshold float64
	Actions   []string
}

func NewCriticalMana(threshold float64, actions ...string) *Rule {
	l := &CriticalMana{
		Threshold: threshold,
		Actions:   orDefault(actions, []string{"mana_potion", "drink_water"}),
	}
	r := New(Options{
		Name:             NameCriticalMana,
		Category:         CategoryEmergency,
		Priority:         model.High,
		Weight:           5,
		Description:      fmt.Sprintf("Restore mana when below %.0f%%", threshold),
		SuggestedActions: l.Actions,
	}, l)
	r.AddCondition(Condition{
		Name:     "critical_mana",
		Check:    func(s model.GameState) bool { return ManaCondition(LessThan, l.Threshold)(s) },
		Weight:   2,
		Required: true,
	})
	r.AddCondition(Condition{Name: "not_dying", Check: HealthCondition(GreaterEqual, 20), Required: true})
	return r
}

func (l *CriticalMana) ManaThreshold() float64     { return l.Threshold }
func (l *CriticalMana) SetManaThreshold(v float64) { l.Threshold = v }

func (l *CriticalMana) EvaluateConditions(ctx *decision.Context) bool {
	s := ctx.State
	if s.HealthPercent() < 20 {
		return false
	}
	if s.InCombat && s.ManaPercent() > 5 {
		return false
	}
	return s.ManaPercent() < l.Threshold
}

func (l *CriticalMana) CalculateActionScores(ctx *decision.Context) ([]decision.Score, error) {
	mana := ctx.State.ManaPercent()
	urgency := clamp((l.Threshold-mana)/10, 0.1, 2)

	var scores []decision.Score
	for _, a := range l.Actions {
		if !ctx.CanUse(a) {
			continue
		}
		base := baseScore(map[string]float64{"mana_potion": 8, "drink_water": 5}, a, 3)
		if a == "drink_water" && ctx.State.InCombat {
			base *= 0.2
		}
		scores = append(scores, vote(a, base*urgency, 0.8, fmt.Sprintf("Mana critical: %.1f%%", mana)))
	}
	return scores, nil
}

func (l *CriticalMana) Reasoning(ctx *decision.Context) []string {
	return []string{fmt.Sprintf("Mana critically low: %.1f%% < %.1f%%", ctx.State.ManaPercent(), l.Threshold)}
}

// RegularHeal tops health up between 20% and Threshold.
type RegularHeal struct {
	Threshold float64
	Actions   []string
}

var regularHealScores = map[string]float64{
	"light_heal":   6,
	"greater_heal": 4,
	"bandage":      3,
	"eat_food":     2,
}

func NewRegularHeal(threshold float64, actions ...string) *Rule {
	l := &RegularHeal{
		Threshold: threshold,
		Actions:   orDefault(actions, []string{"light_heal", "greater_heal", "bandage", "eat_food"}),
	}
	r := New(Options{
		Name:             NameRegularHeal,
		Category:         CategorySurvival,
		Priority:         model.High,
		Weight:           3,
		Description:      fmt.Sprintf("Regular healing when health below %.0f%%", threshold),
		MinInterval:      2 * time.Second,
		SuggestedActions: l.Actions,
	}, l)
	r.AddCondition(Condition{
		Name:     "moderate_damage",
		Check:    func(s model.GameState) bool { return HealthCondition(LessThan, l.Threshold)(s) },
		Weight:   1.5,
		Required: true,
	})
	r.AddCondition(Condition{Name: "not_emergency", Check: HealthCondition(GreaterThan, 20), Required: true})
	return r
}

func (l *RegularHeal) HealthThreshold() float64     { return l.Threshold }
func (l *RegularHeal) SetHealthThreshold(v float64) { l.Threshold = v }

func (l *RegularHeal) EvaluateConditions(ctx *decision.Context) bool {
	hp := ctx.State.HealthPercent()
	if hp <= 20 || hp >= l.Threshold {
		return false
	}
	return !(ctx.State.ManaPercent() < 15 && hp > 40)
}

func (l *RegularHeal) CalculateActionScores(ctx *decision.Context) ([]decision.Score, error) {
	hp, mana := ctx.State.HealthPercent(), ctx.State.ManaPercent()
	need := clamp((l.Threshold-hp)/l.Threshold, 0.1, 1)

	var scores []decision.Score
	for _, a := range l.Actions {
		if !ctx.CanUse(a) {
			continue
		}
		base := baseScore(regularHealScores, a, 3)
		if a == "bandage" || a == "eat_food" {
			switch {
			case ctx.State.InCombat:
				base *= 0.1
			case mana < 30:
				base *= 2
			}
		}
		if a == "bandage" && mana > 80 {
			base *= 0.5
		}
		scores = append(scores, vote(a, base*need, 0.7, fmt.Sprintf("Health at %.1f%%, healing needed", hp)))
	}
	return scores, nil
}

func (l *RegularHeal) Reasoning(ctx *decision.Context) []string {
	return []string{fmt.Sprintf("Moderate damage: %.1f%% < %.1f%%", ctx.State.HealthPercent(), l.Threshold)}
}

// ManaManagement drinks while safe. In combat it only fires at 20% mana or
// less.
type ManaManagement struct {
	Threshold float64
	Actions   []string
}

func NewManaManagement(threshold float64, actions ...string) *Rule {
	l := &ManaManagement{
		Threshold: threshold,
		Actions:   orDefault(actions, []string{"drink_water", "mana_potion"}),
	}
	r := New(Options{
		Name:             NameManaManagement,
		Category:         CategoryEfficiency,
		Priority:         model.Medium,
		Weight:           2,
		Description:      fmt.Sprintf("Manage mana when below %.0f%% and safe", threshold),
		MinInterval:      3 * time.Second,
		SuggestedActions: l.Actions,
	}, l)
	r.AddCondition(Condition{
		Name:     "low_mana",
		Check:    func(s model.GameState) bool { return ManaCondition(LessThan, l.Threshold)(s) },
		Weight:   1.5,
		Required: true,
	})
	r.AddCondition(Condition{Name: "safe_health", Check: HealthCondition(GreaterEqual, 70), Required: true})
	r.AddCondition(Condition{Name: "out_of_combat", Check: CombatCondition(false), Weight: 2})
	return r
}

func (l *ManaManagement) ManaThreshold() float64     { return l.Threshold }
func (l *ManaManagement) SetManaThreshold(v float64) { l.Threshold = v }

func (l *ManaManagement) EvaluateConditions(ctx *decision.Context) bool {
	s := ctx.State
	if s.HealthPercent() < 70 {
		return false
	}
	if s.InCombat && s.ManaPercent() > 20 {
		return false
	}
	return s.ManaPercent() < l.Threshold
}

func (l *ManaManagement) CalculateActionScores(ctx *decision.Context) ([]decision.Score, error) {
	mana := ctx.State.ManaPercent()
	need := (l.Threshold - mana) / l.Threshold

	var scores []decision.Score
	for _, a := range l.Actions {
		if !ctx.CanUse(a) {
			continue
		}
		base := baseScore(map[string]float64{"drink_water": 5, "mana_potion": 3}, a, 3)
		if !ctx.State.InCombat {
			base *= 1.5
		}
		scores = append(scores, vote(a, base*need, 0.6, fmt.Sprintf("Mana management: %.1f%%", mana)))
	}
	return scores, nil
}

func (l *ManaManagement) Reasoning(ctx *decision.Context) []string {
	status := "safe"
	if ctx.State.InCombat {
		status = "in combat"
	}
	return []string{
		fmt.Sprintf("Mana low: %.1f%% < %.1f%%", ctx.State.ManaPercent(), l.Threshold),
		"Status: " + status,
	}
}

// RunAway escapes a losing fight. It stays quiet while mana is above 50%
// and no health potion is usable, since healing is the better option then.
type RunAway struct {
	Threshold float64
	Actions   []string
}

func NewRunAway(threshold float64, actions ...string) *Rule {
	l := &RunAway{
		Threshold: threshold,
		Actions:   orDefault(actions, []string{"run_away", "psychic_scream", "blink"}),
	}
	r := New(Options{
		Name:             NameRunAway,
		Category:         CategoryEmergency,
		Priority:         model.Emergency,
		Weight:           8,
		Description:      fmt.Sprintf("Escape when health below %.0f%% in combat", threshold),
		Cooldown:         10 * time.Second,
		SuggestedActions: l.Actions,
	}, l)
	r.AddCondition(Condition{
		Name:     "very_low_health",
		Check:    func(s model.GameState) bool { return HealthCondition(LessThan, l.Threshold)(s) },
		Weight:   2,
		Required: true,
	})
	r.AddCondition(Condition{Name: "in_combat", Check: CombatCondition(true), Required: true})
	return r
}

func (l *RunAway) HealthThreshold() float64     { return l.Threshold }
func (l *RunAway) SetHealthThreshold(v float64) { l.Threshold = v }

func (l *RunAway) EvaluateConditions(ctx *decision.Context) bool {
	s := ctx.State
	if !s.InCombat || s.HealthPercent() >= l.Threshold {
		return false
	}
	return !(s.ManaPercent() > 50 && !ctx.CanUse("health_potion"))
}

func (l *RunAway) CalculateActionScores(ctx *decision.Context) ([]decision.Score, error) {
	hp := ctx.State.HealthPercent()
	panicLevel := clamp((l.Threshold-hp)/l.Threshold, 0.5, 2)

	var scores []decision.Score
	for _, a := range l.Actions {
		if !ctx.CanUse(a) {
			continue
		}
		base := baseScore(map[string]float64{"run_away": 8, "psychic_scream": 7, "blink": 6}, a, 5)
		scores = append(scores, vote(a, base*panicLevel, 0.9,
			fmt.Sprintf("DANGER: Health at %.1f%%!", hp),
			fmt.Sprintf("Panic level: %.1fx", panicLevel)))
	}
	return scores, nil
}

func (l *RunAway) Reasoning(ctx *decision.Context) []string {
	return []string{
		fmt.Sprintf("CRITICAL SITUATION: %.1f%% health in combat", ctx.State.HealthPercent()),
		"RETREAT RECOMMENDED",
	}
}

// DefensiveCooldowns uses damage reduction between 15% health and
// Threshold while in combat.
type DefensiveCooldowns struct {
	Threshold float64
	Actions   []string
}

func NewDefensiveCooldowns(threshold float64, actions ...string) *Rule {
	l := &DefensiveCooldowns{
		Threshold: threshold,
		Actions:   orDefault(actions, []string{"shield_wall", "ice_block", "fade"}),
	}
	r := New(Options{
		Name:             NameDefensiveCooldowns,
		Category:         CategorySurvival,
		Priority:         model.High,
		Weight:           4,
		Description:      fmt.Sprintf("Use defensive cooldowns when health below %.0f%%", threshold),
		MinInterval:      5 * time.Second,
		SuggestedActions: l.Actions,
	}, l)
	r.AddCondition(Condition{
		Name:     "moderate_danger",
		Check:    func(s model.GameState) bool { return HealthCondition(LessThan, l.Threshold)(s) },
		Weight:   1.5,
		Required: true,
	})
	r.AddCondition(Condition{Name: "in_combat", Check: CombatCondition(true), Weight: 2, Required: true})
	return r
}

func (l *DefensiveCooldowns) HealthThreshold() float64     { return l.Threshold }
func (l *DefensiveCooldowns) SetHealthThreshold(v float64) { l.Threshold = v }

func (l *DefensiveCooldowns) EvaluateConditions(ctx *decision.Context) bool {
	hp := ctx.State.HealthPercent()
	return ctx.State.InCombat && hp < l.Threshold && hp >= 15
}

func (l *DefensiveCooldowns) CalculateActionScores(ctx *decision.Context) ([]decision.Score, error) {
	hp := ctx.State.HealthPercent()
	danger := clamp((l.Threshold-hp)/l.Threshold, 0.3, 1.5)

	var scores []decision.Score
	for _, a := range l.Actions {
		if !ctx.CanUse(a) {
			continue
		}
		base := baseScore(map[string]float64{"shield_wall": 8, "ice_block": 6, "fade": 4}, a, 5)
		scores = append(scores, vote(a, base*danger, 0.8, fmt.Sprintf("Defensive action needed: %.1f%% health", hp)))
	}
	return scores, nil
}

func (l *DefensiveCooldowns) Reasoning(ctx *decision.Context) []string {
	return []string{
		fmt.Sprintf("Health moderate: %.1f%% < %.1f%%", ctx.State.HealthPercent(), l.Threshold),
		"Defensive cooldown recommended",
	}
}
