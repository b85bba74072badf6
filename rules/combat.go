package rules

import (
	"fmt"
	"time"

	"github.com/nstehr/autocast/decision"
	"github.com/nstehr/autocast/model"
)

const (
	NameTargetAcquisition = "Target Acquisition"
	NameBasicAttack       = "Basic Attack"
	NameExecute           = "Execute"
	NameOpener            = "Combat Opener"
	NameAoE               = "AoE Combat"
	NameInterrupt         = "Interrupt"
)

// TargetAcquisition looks for a new enemy when the character has no target
// and at least MinHealth percent health.
type TargetAcquisition struct {
	MinHealth float64
	Actions   []string
}

func NewTargetAcquisition(minHealth float64, actions ...string) *Rule {
	l := &TargetAcquisition{
		MinHealth: minHealth,
		Actions:   orDefault(actions, []string{"target_nearest_enemy", "charge"}),
	}
	r := New(Options{
		Name:             NameTargetAcquisition,
		Category:         CategoryCombat,
		Priority:         model.High,
		Weight:           3,
		Description:      "Find and engage new targets when safe",
		MinInterval:      2 * time.Second,
		SuggestedActions: l.Actions,
	}, l)
	r.AddCondition(Condition{Name: "no_target", Check: TargetCondition(false), Weight: 2, Required: true})
	r.AddCondition(Condition{
		Name:     "healthy_enough",
		Check:    func(s model.GameState) bool { return HealthCondition(GreaterEqual, l.MinHealth)(s) },
		Required: true,
	})
	r.AddCondition(Condition{Name: "enough_mana", Check: ManaCondition(GreaterThan, 20)})
	return r
}

func (l *TargetAcquisition) EvaluateConditions(ctx *decision.Context) bool {
	s := ctx.State
	return !s.Target.Exists && s.HealthPercent() >= l.MinHealth && s.ManaPercent() >= 10
}

func (l *TargetAcquisition) CalculateActionScores(ctx *decision.Context) ([]decision.Score, error) {
	readiness := clamp(ctx.State.HealthPercent()/100*0.7+ctx.State.ManaPercent()/100*0.3, 0.2, 1)

	var scores []decision.Score
	for _, a := range l.Actions {
		if !ctx.CanUse(a) {
			continue
		}
		base := baseScore(map[string]float64{"target_nearest_enemy": 5, "charge": 6}, a, 4)
		scores = append(scores, vote(a, base*readiness, 0.7, fmt.Sprintf("Ready to engage: %.1f", readiness)))
	}
	return scores, nil
}

func (l *TargetAcquisition) Reasoning(ctx *decision.Context) []string {
	return []string{
		"No target, looking for enemies",
		fmt.Sprintf("Combat readiness: HP %.1f%%, Mana %.1f%%", ctx.State.HealthPercent(), ctx.State.ManaPercent()),
	}
}

// classAttackScores are the per-class base scores of BasicAttack. Actions
// missing from a class table score 3.
var classAttackScores = map[model.ClassType]map[string]float64{
	model.Warrior: {"heroic_strike": 6, "execute": 4, "whirlwind": 3, "auto_attack": 2},
	model.Mage:    {"firebolt": 5, "frostbolt": 4, "fireball": 6, "auto_attack": 1},
	model.Priest:  {"smite": 5, "holy_fire": 4, "auto_attack": 2},
}

var defaultAttackScores = map[string]float64{"auto_attack": 3}

// BasicAttack is the filler rotation against a live target.
type BasicAttack struct {
	MinHealth float64
	Actions   []string
}

func NewBasicAttack(minHealth float64, actions ...string) *Rule {
	l := &BasicAttack{
		MinHealth: minHealth,
		Actions:   orDefault(actions, []string{"heroic_strike", "firebolt", "smite", "auto_attack"}),
	}
	r := New(Options{
		Name:             NameBasicAttack,
		Category:         CategoryCombat,
		Priority:         model.Medium,
		Weight:           2,
		Description:      "Basic combat attacks when target available",
		MinInterval:      500 * time.Millisecond,
		SuggestedActions: l.Actions,
	}, l)
	r.AddCondition(Condition{Name: "has_target", Check: TargetCondition(true), Weight: 2, Required: true})
	r.AddCondition(Condition{Name: "target_alive", Check: TargetHealthCondition(GreaterThan, 0), Weight: 2, Required: true})
	r.AddCondition(Condition{
		Name:     "healthy_enough",
		Check:    func(s model.GameState) bool { return HealthCondition(GreaterEqual, l.MinHealth)(s) },
		Required: true,
	})
	return r
}

func (l *BasicAttack) EvaluateConditions(ctx *decision.Context) bool {
	s := ctx.State
	if !s.Target.Exists || s.Target.HPPercent <= 0 {
		return false
	}
	if s.HealthPercent() < l.MinHealth {
		return false
	}
	if (ctx.Class == model.Mage || ctx.Class == model.Priest) && s.ManaPercent() < 15 {
		return false
	}
	return true
}

func (l *BasicAttack) CalculateActionScores(ctx *decision.Context) ([]decision.Score, error) {
	s := ctx.State
	aggression := clamp(s.HealthPercent()/100*0.8+s.ManaPercent()/100*0.2, 0.3, 1)
	targetPriority := 1 + (1-s.Target.HPPercent/100)*0.5

	prefs, ok := classAttackScores[ctx.Class]
	if !ok {
		prefs = defaultAttackScores
	}

	var scores []decision.Score
	for _, a := range l.Actions {
		if !ctx.CanUse(a) {
			continue
		}
		v := baseScore(prefs, a, 3) * aggression * targetPriority
		scores = append(scores, vote(a, v, 0.6, fmt.Sprintf("Attacking target: %.1f%% HP", s.Target.HPPercent)))
	}
	return scores, nil
}

func (l *BasicAttack) Reasoning(ctx *decision.Context) []string {
	return []string{fmt.Sprintf("Basic combat vs target (%.1f%% HP)", ctx.State.Target.HPPercent)}
}

// Execute boosts finishers once the target drops below Threshold. The bonus
// grows linearly from 1x at the threshold to 3x at 0%.
type Execute struct {
	Threshold float64
	Actions   []string
}

func NewExecute(threshold float64, actions ...string) *Rule {
	l := &Execute{
		Threshold: threshold,
		Actions:   orDefault(actions, []string{"execute", "fireball"}),
	}
	r := New(Options{
		Name:             NameExecute,
		Category:         CategoryCombat,
		Priority:         model.High,
		Weight:           5,
		Description:      fmt.Sprintf("High damage attacks on targets below %.0f%% HP", threshold),
		MinInterval:      200 * time.Millisecond,
		SuggestedActions: l.Actions,
	}, l)
	r.AddCondition(Condition{Name: "has_target", Check: TargetCondition(true), Weight: 2, Required: true})
	r.AddCondition(Condition{
		Name:     "target_low_hp",
		Check:    func(s model.GameState) bool { return TargetHealthCondition(LessThan, l.Threshold)(s) },
		Weight:   3,
		Required: true,
	})
	return r
}

func (l *Execute) EvaluateConditions(ctx *decision.Context) bool {
	s := ctx.State
	return s.Target.Exists && s.Target.HPPercent < l.Threshold && s.HealthPercent() >= 20
}

func (l *Execute) CalculateActionScores(ctx *decision.Context) ([]decision.Score, error) {
	thp := ctx.State.Target.HPPercent
	bonus := 1 + 2*(l.Threshold-thp)/l.Threshold

	var scores []decision.Score
	for _, a := range l.Actions {
		if !ctx.CanUse(a) {
			continue
		}
		base := baseScore(map[string]float64{"execute": 8, "fireball": 6}, a, 5)
		scores = append(scores, vote(a, base*bonus, 0.9,
			fmt.Sprintf("EXECUTE RANGE: Target %.1f%% HP", thp),
			fmt.Sprintf("Execute bonus: %.1fx", bonus)))
	}
	return scores, nil
}

func (l *Execute) Reasoning(ctx *decision.Context) []string {
	return []string{
		fmt.Sprintf("TARGET IN EXECUTE RANGE: %.1f%%", ctx.State.Target.HPPercent),
		"High damage finisher recommended",
	}
}

// Opener starts a fresh fight against a target at 90% health or more.
type Opener struct {
	Actions []string
}

func NewOpener(actions ...string) *Rule {
	l := &Opener{Actions: orDefault(actions, []string{"charge", "fireball", "holy_fire"})}
	r := New(Options{
		Name:             NameOpener,
		Category:         CategoryCombat,
		Priority:         model.High,
		Weight:           4,
		Description:      "Opening moves for fresh combat",
		Cooldown:         10 * time.Second,
		SuggestedActions: l.Actions,
	}, l)
	r.AddCondition(Condition{Name: "has_target", Check: TargetCondition(true), Weight: 2, Required: true})
	r.AddCondition(Condition{Name: "target_full_hp", Check: TargetHealthCondition(GreaterEqual, 90), Weight: 1.5, Required: true})
	r.AddCondition(Condition{Name: "out_of_combat", Check: CombatCondition(false)})
	return r
}

func (l *Opener) EvaluateConditions(ctx *decision.Context) bool {
	s := ctx.State
	return s.Target.Exists && s.Target.HPPercent >= 90 && s.HealthPercent() >= 50
}

func (l *Opener) CalculateActionScores(ctx *decision.Context) ([]decision.Score, error) {
	s := ctx.State
	enthusiasm := s.HealthPercent()/100*0.6 + s.ManaPercent()/100*0.4
	if !s.InCombat {
		enthusiasm *= 1.3
	}

	var scores []decision.Score
	for _, a := range l.Actions {
		if !ctx.CanUse(a) {
			continue
		}
		base := baseScore(map[string]float64{"charge": 7, "fireball": 6, "holy_fire": 5}, a, 5)
		scores = append(scores, vote(a, base*enthusiasm, 0.8, "Combat opener sequence"))
	}
	return scores, nil
}

func (l *Opener) Reasoning(*decision.Context) []string {
	return []string{"Fresh target - opening attack sequence"}
}

// AoE scores area attacks. Without an enemy counter in the snapshot it
// assumes two enemies.
type AoE struct {
	Enemies int
	Actions []string
}

func NewAoE(actions ...string) *Rule {
	l := &AoE{Enemies: 2, Actions: orDefault(actions, []string{"whirlwind", "blizzard", "consecration"})}
	r := New(Options{
		Name:             NameAoE,
		Category:         CategoryCombat,
		Priority:         model.High,
		Weight:           3,
		Description:      "AoE attacks when facing multiple enemies",
		MinInterval:      3 * time.Second,
		SuggestedActions: l.Actions,
	}, l)
	r.AddCondition(Condition{Name: "has_target", Check: TargetCondition(true), Required: true})
	return r
}

func (l *AoE) EvaluateConditions(ctx *decision.Context) bool {
	return ctx.State.Target.Exists
}

func (l *AoE) CalculateActionScores(ctx *decision.Context) ([]decision.Score, error) {
	eff := min(2, float64(l.Enemies)/2)

	var scores []decision.Score
	for _, a := range l.Actions {
		if !ctx.CanUse(a) {
			continue
		}
		base := baseScore(map[string]float64{"whirlwind": 5, "blizzard": 6, "consecration": 4}, a, 4)
		scores = append(scores, vote(a, base*eff, 0.7, fmt.Sprintf("AoE vs %d enemies", l.Enemies)))
	}
	return scores, nil
}

func (l *AoE) Reasoning(*decision.Context) []string {
	return []string{"Multiple enemies detected - AoE recommended"}
}

// Interrupt stops an enemy cast.
type Interrupt struct {
	Actions []string
}

func NewInterrupt(actions ...string) *Rule {
	l := &Interrupt{Actions: orDefault(actions, []string{"kick", "pummel", "counterspell"})}
	r := New(Options{
		Name:             NameInterrupt,
		Category:         CategoryCombat,
		Priority:         model.High,
		Weight:           6,
		Description:      "Interrupt enemy spellcasting",
		MinInterval:      time.Second,
		SuggestedActions: l.Actions,
	}, l)
	r.AddCondition(Condition{Name: "has_target", Check: TargetCondition(true), Weight: 2, Required: true})
	return r
}

func (l *Interrupt) EvaluateConditions(ctx *decision.Context) bool {
	return ctx.State.Target.Exists && ctx.State.Target.Casting
}

func (l *Interrupt) CalculateActionScores(ctx *decision.Context) ([]decision.Score, error) {
	const urgency = 2.0
	var scores []decision.Score
	for _, a := range l.Actions {
		if !ctx.CanUse(a) {
			continue
		}
		scores = append(scores, vote(a, 8*urgency, 0.95, "INTERRUPT TARGET CASTING"))
	}
	return scores, nil
}

func (l *Interrupt) Reasoning(ctx *decision.Context) []string {
	return []string{"Target casting: " + ctx.State.Target.CastName, "INTERRUPT IMMEDIATELY"}
}
