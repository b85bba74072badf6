package automation

import (
	"fmt"
	"strings"
	"time"

	"github.com/nstehr/autocast/model"
)

// GameEventKind identifies a notable change between two snapshots.
type GameEventKind string

const (
	GameEventLowHealth      GameEventKind = "low_health"
	GameEventCombatEntered  GameEventKind = "combat_entered"
	GameEventCombatLeft     GameEventKind = "combat_left"
	GameEventTargetAcquired GameEventKind = "target_acquired"
	GameEventTargetLost     GameEventKind = "target_lost"
	GameEventTargetDied     GameEventKind = "target_died"
	GameEventTargetCasting  GameEventKind = "target_casting"
	GameEventBuffGained     GameEventKind = "buff_gained"
	GameEventBuffLost       GameEventKind = "buff_lost"
	GameEventDied           GameEventKind = "died"
	GameEventResurrected    GameEventKind = "resurrected"
)

// GameEvent is detected by comparing consecutive snapshots.
type GameEvent struct {
	Kind   GameEventKind
	At     time.Time
	Detail string
}

func (e GameEvent) String() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// lowHealthThreshold is the health percent whose downward crossing raises
// GameEventLowHealth.
const lowHealthThreshold = 30

// DetectEvents returns the events between prev and next. Death suppresses
// every other event for the tick.
func DetectEvents(prev, next model.GameState) []GameEvent {
	at := next.Timestamp
	ev := func(kind GameEventKind, format string, args ...any) GameEvent {
		return GameEvent{Kind: kind, At: at, Detail: fmt.Sprintf(format, args...)}
	}

	wasDead := prev.CombatState == model.Dead
	isDead := next.CombatState == model.Dead
	if !wasDead && isDead {
		return []GameEvent{ev(GameEventDied, "Character died in %s", zoneName(next.Zone))}
	}

	var events []GameEvent
	if wasDead && !isDead {
		events = append(events, ev(GameEventResurrected, "Back at %.0f%% health", next.HealthPercent()))
	}

	// 1. low_health: crossing the threshold downwards, not sitting under it
	if hp := next.HealthPercent(); hp <= lowHealthThreshold && prev.HealthPercent() > lowHealthThreshold {
		events = append(events, ev(GameEventLowHealth, "Health dropped to %.0f%%", hp))
	}

	// 2. combat flips
	switch {
	case !prev.InCombat && next.InCombat:
		events = append(events, ev(GameEventCombatEntered, "Entered combat at %.0f%% health", next.HealthPercent()))
	case prev.InCombat && !next.InCombat:
		events = append(events, ev(GameEventCombatLeft, "Left combat at %.0f%% health", next.HealthPercent()))
	}

	// 3. target changes. The same name dropping to zero is a kill; anything
	// else that disappears or changes name is lost or replaced.
	pt, nt := prev.Target, next.Target
	switch {
	case pt.Exists && nt.Exists && pt.Name == nt.Name:
		if pt.HPPercent > 0 && nt.HPPercent <= 0 {
			events = append(events, ev(GameEventTargetDied, "Target %s died", nt.Name))
		}
	case pt.Exists && !nt.Exists:
		events = append(events, ev(GameEventTargetLost, "Lost target %s", pt.Name))
	case nt.Exists:
		events = append(events, ev(GameEventTargetAcquired, "Targeting %s (%.0f%%)", nt.Name, nt.HPPercent))
	}
	if nt.Exists && nt.Casting && !(pt.Casting && pt.Name == nt.Name) {
		events = append(events, ev(GameEventTargetCasting, "%s is casting %s", nt.Name, castName(nt.CastName)))
	}

	// 4. buffs
	diff := model.Diff(prev, next)
	if len(diff.BuffsAdded) > 0 {
		events = append(events, ev(GameEventBuffGained, "Gained %s", strings.Join(diff.BuffsAdded, ", ")))
	}
	if len(diff.BuffsRemoved) > 0 {
		events = append(events, ev(GameEventBuffLost, "Lost %s", strings.Join(diff.BuffsRemoved, ", ")))
	}
	return events
}

func zoneName(z string) string {
	if z == "" {
		return "unknown zone"
	}
	return z
}

func castName(n string) string {
	if n == "" {
		return "a spell"
	}
	return n
}
