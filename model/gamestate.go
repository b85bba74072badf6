package model

import (
	"math"
	"time"
)

// CombatState is the character's coarse activity state as reported by the
// state monitor.
type CombatState string

const (
	Peaceful   CombatState = "peaceful"
	Combat     CombatState = "combat"
	Casting    CombatState = "casting"
	Channeling CombatState = "channeling"
	Stunned    CombatState = "stunned"
	Dead       CombatState = "dead"
)

type ClassType string

const (
	Warrior ClassType = "warrior"
	Mage    ClassType = "mage"
	Priest  ClassType = "priest"
	Hunter  ClassType = "hunter"
	Warlock ClassType = "warlock"
	Paladin ClassType = "paladin"
	Druid   ClassType = "druid"
	Rogue   ClassType = "rogue"
	Shaman  ClassType = "shaman"
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (p Position) DistanceTo(o Position) float64 {
	dx, dy, dz := p.X-o.X, p.Y-o.Y, p.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Buff is a timed effect on the character. A Duration of zero or less marks
// a permanent effect.
type Buff struct {
	Name      string        `json:"name"`
	Duration  time.Duration `json:"duration"`
	Stacks    int           `json:"stacks"`
	Debuff    bool          `json:"debuff"`
	AppliedAt time.Time     `json:"appliedAt"`
}

func (b Buff) IsExpired(now time.Time) bool {
	if b.Duration <= 0 {
		return false
	}
	return now.Sub(b.AppliedAt) >= b.Duration
}

type Target struct {
	Exists    bool    `json:"exists"`
	Name      string  `json:"name"`
	HPPercent float64 `json:"hpPercent"`
	Level     int     `json:"level"`
	Elite     bool    `json:"elite"`
	Hostile   bool    `json:"hostile"`
	Distance  float64 `json:"distance"`
	Casting   bool    `json:"casting"`
	CastName  string  `json:"castName"`
}

func (t Target) IsLowHP(threshold float64) bool {
	return t.Exists && t.HPPercent <= threshold
}

type Resources struct {
	HealthCurrent int `json:"healthCurrent"`
	HealthMax     int `json:"healthMax"`
	ManaCurrent   int `json:"manaCurrent"`
	ManaMax       int `json:"manaMax"`
	RageCurrent   int `json:"rageCurrent"`
	RageMax       int `json:"rageMax"`
	EnergyCurrent int `json:"energyCurrent"`
	EnergyMax     int `json:"energyMax"`
}

// FullResources returns a character at full health, mana and energy with an
// empty rage bar.
func FullResources() Resources {
	return Resources{
		HealthCurrent: 100, HealthMax: 100,
		ManaCurrent: 100, ManaMax: 100,
		RageMax:       100,
		EnergyCurrent: 100, EnergyMax: 100,
	}
}

func percent(cur, max int) float64 {
	if max == 0 {
		return 0
	}
	return float64(cur) / float64(max) * 100
}

func (r Resources) HealthPercent() float64 { return percent(r.HealthCurrent, r.HealthMax) }
func (r Resources) ManaPercent() float64   { return percent(r.ManaCurrent, r.ManaMax) }
func (r Resources) RagePercent() float64   { return percent(r.RageCurrent, r.RageMax) }
func (r Resources) EnergyPercent() float64 { return percent(r.EnergyCurrent, r.EnergyMax) }

func (r Resources) IsLowHealth(threshold float64) bool { return r.HealthPercent() <= threshold }
func (r Resources) IsLowMana(threshold float64) bool   { return r.ManaPercent() <= threshold }

// GameState is one tick's snapshot of the character, its target and the
// surrounding environment. The decision layer only ever reads it.
type GameState struct {
	Timestamp time.Time `json:"timestamp"`
	InGame    bool      `json:"inGame"`

	Resources   Resources   `json:"resources"`
	CombatState CombatState `json:"combatState"`
	InCombat    bool        `json:"inCombat"`

	Position Position `json:"position"`
	Moving   bool     `json:"moving"`
	Falling  bool     `json:"falling"`

	Casting           bool          `json:"casting"`
	CastName          string        `json:"castName"`
	CastTimeRemaining time.Duration `json:"castTimeRemaining"`

	Target  Target `json:"target"`
	Buffs   []Buff `json:"buffs"`
	Debuffs []Buff `json:"debuffs"`

	Zone    string `json:"zone"`
	Resting bool   `json:"resting"`
	InWater bool   `json:"inWater"`
	Mounted bool   `json:"mounted"`

	BagSlotsFree int  `json:"bagSlotsFree"`
	HasFood      bool `json:"hasFood"`
	HasDrink     bool `json:"hasDrink"`
}

// Reconcile aligns CombatState with the InCombat flag. Producers call it once
// when a snapshot is built.
func (s *GameState) Reconcile() {
	if s.CombatState == "" {
		s.CombatState = Peaceful
	}
	switch {
	case s.InCombat && s.CombatState == Peaceful:
		s.CombatState = Combat
	case !s.InCombat && s.CombatState == Combat:
		s.CombatState = Peaceful
	}
}

// NewGameState returns a reconciled copy of s.
func NewGameState(s GameState) GameState {
	s.Reconcile()
	return s
}

func (s GameState) HealthPercent() float64 { return s.Resources.HealthPercent() }
func (s GameState) ManaPercent() float64   { return s.Resources.ManaPercent() }

// ActiveBuffs filters out buffs that expired as of the snapshot timestamp.
func (s GameState) ActiveBuffs() []Buff   { return active(s.Buffs, s.Timestamp) }
func (s GameState) ActiveDebuffs() []Buff { return active(s.Debuffs, s.Timestamp) }

func active(buffs []Buff, now time.Time) []Buff {
	var out []Buff
	for _, b := range buffs {
		if !b.IsExpired(now) {
			out = append(out, b)
		}
	}
	return out
}

func (s GameState) HasBuff(name string) bool   { return hasActive(s.Buffs, name, s.Timestamp) }
func (s GameState) HasDebuff(name string) bool { return hasActive(s.Debuffs, name, s.Timestamp) }

func hasActive(buffs []Buff, name string, now time.Time) bool {
	for _, b := range buffs {
		if b.Name == name && !b.IsExpired(now) {
			return true
		}
	}
	return false
}

// IsSafeToAct reports whether any action may be attempted at all.
func (s GameState) IsSafeToAct() bool {
	return s.InGame && !s.Casting && s.CombatState != Stunned && s.CombatState != Dead
}

func (s GameState) NeedsEmergencyHeal(threshold float64) bool {
	return s.Resources.HealthPercent() <= threshold
}

func (s GameState) CanAffordMana(cost float64) bool {
	return float64(s.Resources.ManaCurrent) >= cost
}

// Clone deep-copies the buff slices so the copy can be published to another
// goroutine.
func (s GameState) Clone() GameState {
	if s.Buffs != nil {
		s.Buffs = append([]Buff(nil), s.Buffs...)
	}
	if s.Debuffs != nil {
		s.Debuffs = append([]Buff(nil), s.Debuffs...)
	}
	return s
}
