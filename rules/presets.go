package rules

import "github.com/nstehr/autocast/model"

// SurvivalThresholds parameterises a survival rule set.
type SurvivalThresholds struct {
	EmergencyHeal  float64 `yaml:"emergency_heal" json:"emergency_heal"`
	CriticalMana   float64 `yaml:"critical_mana" json:"critical_mana"`
	RegularHeal    float64 `yaml:"regular_heal" json:"regular_heal"`
	ManaManagement float64 `yaml:"mana_management" json:"mana_management"`
	RunAway        float64 `yaml:"run_away" json:"run_away"`
	Defensive      float64 `yaml:"defensive" json:"defensive"`
}

var (
	BasicSurvival        = SurvivalThresholds{15, 10, 60, 40, 20, 40}
	ConservativeSurvival = SurvivalThresholds{20, 15, 75, 50, 25, 50}
	AggressiveSurvival   = SurvivalThresholds{10, 5, 45, 30, 15, 30}
)

// SurvivalRules builds the six survival rules from t.
func SurvivalRules(t SurvivalThresholds) []*Rule {
	return []*Rule{
		NewEmergencyHeal(t.EmergencyHeal),
		NewCriticalMana(t.CriticalMana),
		NewRegularHeal(t.RegularHeal),
		NewManaManagement(t.ManaManagement),
		NewRunAway(t.RunAway),
		NewDefensiveCooldowns(t.Defensive),
	}
}

func BasicSurvivalRules() []*Rule        { return SurvivalRules(BasicSurvival) }
func ConservativeSurvivalRules() []*Rule { return SurvivalRules(ConservativeSurvival) }
func AggressiveSurvivalRules() []*Rule   { return SurvivalRules(AggressiveSurvival) }

// ClassSurvivalRules adjusts the basic set for class and restricts every
// rule to it. Warriors heal later, mages heal and flee earlier, priests
// keep more mana.
func ClassSurvivalRules(class model.ClassType) []*Rule {
	t := BasicSurvival
	switch class {
	case model.Warrior:
		t.EmergencyHeal = 10
		t.RegularHeal = 50
	case model.Mage:
		t.EmergencyHeal = 20
		t.RunAway = 30
	case model.Priest:
		t.ManaManagement = 50
	}
	rs := SurvivalRules(t)
	restrict(rs, class)
	return rs
}

// CombatRules builds the six combat rules. attacks overrides BasicAttack's
// action list and openers overrides Opener's.
func CombatRules(executeThreshold float64, attacks, openers []string) []*Rule {
	return []*Rule{
		NewTargetAcquisition(30),
		NewBasicAttack(25, attacks...),
		NewExecute(executeThreshold),
		NewOpener(openers...),
		NewAoE(),
		NewInterrupt(),
	}
}

func BasicCombatRules() []*Rule { return CombatRules(20, nil, nil) }

func WarriorCombatRules() []*Rule {
	rs := CombatRules(20, []string{"heroic_strike", "execute", "whirlwind"}, []string{"charge"})
	restrict(rs, model.Warrior)
	return rs
}

func MageCombatRules() []*Rule {
	rs := CombatRules(20, []string{"firebolt", "frostbolt", "fireball"}, []string{"fireball"})
	restrict(rs, model.Mage)
	return rs
}

func PriestCombatRules() []*Rule {
	rs := CombatRules(20, []string{"smite", "holy_fire"}, []string{"holy_fire"})
	restrict(rs, model.Priest)
	return rs
}

// AggressiveCombatRules engages and attacks at lower health and widens the
// execute window to 25%.
func AggressiveCombatRules() []*Rule {
	return []*Rule{
		NewTargetAcquisition(20),
		NewBasicAttack(15),
		NewExecute(25),
		NewOpener(),
		NewAoE(),
		NewInterrupt(),
	}
}

// DefensiveCombatRules engages only when healthy and weights every rule 0.8x.
func DefensiveCombatRules() []*Rule {
	rs := []*Rule{
		NewTargetAcquisition(50),
		NewBasicAttack(40),
		NewExecute(20),
		NewOpener(),
		NewAoE(),
		NewInterrupt(),
	}
	for _, r := range rs {
		r.SetWeight(r.Weight() * 0.8)
	}
	return rs
}

func restrict(rs []*Rule, class model.ClassType) {
	for _, r := range rs {
		r.AddClassRestriction(class)
	}
}

// Find returns the rule named name, or nil.
func Find(rs []*Rule, name string) *Rule {
	for _, r := range rs {
		if r.Name() == name {
			return r
		}
	}
	return nil
}
