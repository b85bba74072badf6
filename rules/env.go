package rules

import (
	"strings"

	"github.com/nstehr/autocast/decision"
	"github.com/nstehr/autocast/model"
)

// Env wraps a snapshot and exposes helper methods callable from expr
// expressions.
type Env struct {
	State     model.GameState
	Character model.ClassType
	Usable    map[string]bool
}

// NewEnv builds the expression environment for one decision context.
func NewEnv(ctx *decision.Context) Env {
	usable := make(map[string]bool, len(ctx.Available))
	for name := range ctx.Available {
		usable[name] = true
	}
	return Env{State: ctx.State, Character: ctx.Class, Usable: usable}
}

func (e Env) HealthPercent() float64 { return e.State.HealthPercent() }
func (e Env) ManaPercent() float64   { return e.State.ManaPercent() }
func (e Env) RagePercent() float64   { return e.State.Resources.RagePercent() }
func (e Env) EnergyPercent() float64 { return e.State.Resources.EnergyPercent() }

func (e Env) InCombat() bool      { return e.State.InCombat }
func (e Env) CombatState() string { return string(e.State.CombatState) }
func (e Env) Casting() bool       { return e.State.Casting }
func (e Env) Moving() bool        { return e.State.Moving }
func (e Env) Resting() bool       { return e.State.Resting }
func (e Env) Mounted() bool       { return e.State.Mounted }
func (e Env) Zone() string        { return e.State.Zone }

func (e Env) HasTarget() bool         { return e.State.Target.Exists }
func (e Env) TargetCasting() bool     { return e.State.Target.Exists && e.State.Target.Casting }
func (e Env) TargetElite() bool       { return e.State.Target.Exists && e.State.Target.Elite }
func (e Env) TargetDistance() float64 { return e.State.Target.Distance }
func (e Env) TargetLevel() int        { return e.State.Target.Level }
func (e Env) TargetName() string      { return e.State.Target.Name }

// TargetHP is 0 without a target.
func (e Env) TargetHP() float64 {
	if !e.State.Target.Exists {
		return 0
	}
	return e.State.Target.HPPercent
}

func (e Env) HasBuff(name string) bool   { return e.State.HasBuff(name) }
func (e Env) HasDebuff(name string) bool { return e.State.HasDebuff(name) }

// BuffStacks returns the stack count of an active buff, or 0.
func (e Env) BuffStacks(name string) int {
	for _, b := range e.State.ActiveBuffs() {
		if b.Name == name {
			return b.Stacks
		}
	}
	return 0
}

func (e Env) IsClass(c string) bool { return strings.EqualFold(string(e.Character), c) }

// CanUse reports whether an action passed this cycle's executability filter.
func (e Env) CanUse(action string) bool { return e.Usable[action] }

func (e Env) HasFood() bool     { return e.State.HasFood }
func (e Env) HasDrink() bool    { return e.State.HasDrink }
func (e Env) BagSlotsFree() int { return e.State.BagSlotsFree }
