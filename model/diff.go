package model

import (
	"math"
	"sort"
)

// StateDiff summarises the significant changes between two snapshots.
type StateDiff struct {
	HealthChange  float64     `json:"healthChange,omitempty"`
	ManaChange    float64     `json:"manaChange,omitempty"`
	CombatChanged bool        `json:"combatChanged,omitempty"`
	CombatFrom    CombatState `json:"combatFrom,omitempty"`
	CombatTo      CombatState `json:"combatTo,omitempty"`
	BuffsAdded    []string    `json:"buffsAdded,omitempty"`
	BuffsRemoved  []string    `json:"buffsRemoved,omitempty"`
}

func (d StateDiff) Empty() bool {
	return d.HealthChange == 0 && d.ManaChange == 0 && !d.CombatChanged &&
		len(d.BuffsAdded) == 0 && len(d.BuffsRemoved) == 0
}

// Diff ignores resource changes of 0.1 percentage points or less.
func Diff(prev, next GameState) StateDiff {
	var d StateDiff
	if hp := next.HealthPercent() - prev.HealthPercent(); math.Abs(hp) > 0.1 {
		d.HealthChange = hp
	}
	if mp := next.ManaPercent() - prev.ManaPercent(); math.Abs(mp) > 0.1 {
		d.ManaChange = mp
	}
	if prev.CombatState != next.CombatState {
		d.CombatChanged = true
		d.CombatFrom = prev.CombatState
		d.CombatTo = next.CombatState
	}

	before := buffNames(prev.ActiveBuffs())
	after := buffNames(next.ActiveBuffs())
	for n := range after {
		if !before[n] {
			d.BuffsAdded = append(d.BuffsAdded, n)
		}
	}
	for n := range before {
		if !after[n] {
			d.BuffsRemoved = append(d.BuffsRemoved, n)
		}
	}
	sort.Strings(d.BuffsAdded)
	sort.Strings(d.BuffsRemoved)
	return d
}

func buffNames(bs []Buff) map[string]bool {
	m := make(map[string]bool, len(bs))
	for _, b := range bs {
		m[b.Name] = true
	}
	return m
}
