package rules

import (
	"fmt"
	"log/slog"
	"strings"
)

// PlayStyle is a high-level posture that retunes rule thresholds and
// weights after a profile has built its rule set.
type PlayStyle string

const (
	Conservative PlayStyle = "conservative"
	Balanced     PlayStyle = "balanced"
	Aggressive   PlayStyle = "aggressive"
	Efficient    PlayStyle = "efficient"
	Leveling     PlayStyle = "leveling"
)

func ParsePlayStyle(s string) (PlayStyle, error) {
	switch p := PlayStyle(strings.ToLower(s)); p {
	case Conservative, Balanced, Aggressive, Efficient, Leveling:
		return p, nil
	case "":
		return Balanced, nil
	}
	return "", fmt.Errorf("unknown play style %q", s)
}

func (p *PlayStyle) UnmarshalText(b []byte) error {
	v, err := ParsePlayStyle(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// survivalRule reports whether a rule is tuned as survival by play styles.
func survivalRule(r *Rule) bool {
	return r.Category() == CategorySurvival || r.Category() == CategoryEmergency
}

// ApplyPlayStyle retunes rs in place. Balanced and Leveling leave the rules
// untouched.
//
// Conservative raises survival health thresholds by 30% (capped at 80) and
// mana thresholds by 20% (capped at 60), weights survival rules 1.2x and
// combat rules 0.8x. Aggressive lowers survival health thresholds by 20%
// (floored at 10) and weights combat rules 1.3x. Efficient weights
// efficiency rules 1.2x.
func ApplyPlayStyle(style PlayStyle, rs []*Rule) {
	for _, r := range rs {
		switch style {
		case Conservative:
			if survivalRule(r) {
				if h, ok := r.Logic().(HealthThresholder); ok {
					h.SetHealthThreshold(min(80, h.HealthThreshold()*1.3))
				}
				if m, ok := r.Logic().(ManaThresholder); ok {
					m.SetManaThreshold(min(60, m.ManaThreshold()*1.2))
				}
				r.SetWeight(r.Weight() * 1.2)
			}
			if r.Category() == CategoryCombat {
				r.SetWeight(r.Weight() * 0.8)
			}
		case Aggressive:
			if survivalRule(r) {
				if h, ok := r.Logic().(HealthThresholder); ok {
					h.SetHealthThreshold(max(10, h.HealthThreshold()*0.8))
				}
			}
			if r.Category() == CategoryCombat {
				r.SetWeight(r.Weight() * 1.3)
			}
		case Efficient:
			if r.Category() == CategoryEfficiency {
				r.SetWeight(r.Weight() * 1.2)
			}
		}
	}
	slog.Info("play style applied", "style", style, "rules", len(rs))
}

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
