package rules

import (
	"testing"

	"github.com/nstehr/autocast/model"
)

func threshold(t *testing.T, rs []*Rule, name string) float64 {
	t.Helper()
	r := Find(rs, name)
	if r == nil {
		t.Fatalf("rule %q not found", name)
	}
	switch l := r.Logic().(type) {
	case HealthThresholder:
		return l.HealthThreshold()
	case ManaThresholder:
		return l.ManaThreshold()
	}
	t.Fatalf("rule %q has no threshold", name)
	return 0
}

func weight(t *testing.T, rs []*Rule, name string) float64 {
	t.Helper()
	r := Find(rs, name)
	if r == nil {
		t.Fatalf("rule %q not found", name)
	}
	return r.Weight()
}

func TestApplyPlayStyle_Conservative(t *testing.T) {
	rs := append(BasicSurvivalRules(), BasicCombatRules()...)
	ApplyPlayStyle(Conservative, rs)

	tests := []struct {
		rule string
		want float64
	}{
		{NameEmergencyHeal, 19.5},
		{NameRegularHeal, 78},
		{NameRunAway, 26},
		{NameDefensiveCooldowns, 52},
		{NameCriticalMana, 12},
		{NameManaManagement, 40}, // efficiency rule, untouched
	}
	for _, tt := range tests {
		if got := threshold(t, rs, tt.rule); !almostEqual(got, tt.want) {
			t.Errorf("%s threshold = %v, want %v", tt.rule, got, tt.want)
		}
	}

	if got := weight(t, rs, NameEmergencyHeal); !almostEqual(got, 12) {
		t.Errorf("emergency heal weight = %v, want 12", got)
	}
	if got := weight(t, rs, NameExecute); !almostEqual(got, 4) {
		t.Errorf("execute weight = %v, want 4", got)
	}
}

func TestApplyPlayStyle_ConservativeCaps(t *testing.T) {
	rs := ConservativeSurvivalRules()
	ApplyPlayStyle(Conservative, rs)
	ApplyPlayStyle(Conservative, rs)

	if got := threshold(t, rs, NameRegularHeal); got != 80 {
		t.Errorf("regular heal threshold = %v, want capped at 80", got)
	}

	mana := []*Rule{NewCriticalMana(55)}
	ApplyPlayStyle(Conservative, mana)
	if got := threshold(t, mana, NameCriticalMana); got != 60 {
		t.Errorf("critical mana threshold = %v, want capped at 60", got)
	}
}

func TestApplyPlayStyle_Aggressive(t *testing.T) {
	rs := append(BasicSurvivalRules(), BasicCombatRules()...)
	ApplyPlayStyle(Aggressive, rs)

	if got := threshold(t, rs, NameEmergencyHeal); !almostEqual(got, 12) {
		t.Errorf("emergency heal threshold = %v, want 12", got)
	}
	if got := threshold(t, rs, NameRegularHeal); !almostEqual(got, 48) {
		t.Errorf("regular heal threshold = %v, want 48", got)
	}
	if got := weight(t, rs, NameInterrupt); !almostEqual(got, 7.8) {
		t.Errorf("interrupt weight = %v, want 7.8", got)
	}
	if got := weight(t, rs, NameEmergencyHeal); got != 10 {
		t.Errorf("emergency heal weight = %v, want unchanged 10", got)
	}

	low := AggressiveSurvivalRules()
	ApplyPlayStyle(Aggressive, low)
	if got := threshold(t, low, NameEmergencyHeal); got != 10 {
		t.Errorf("emergency heal threshold = %v, want floored at 10", got)
	}
}

func TestApplyPlayStyle_Efficient(t *testing.T) {
	rs := BasicSurvivalRules()
	ApplyPlayStyle(Efficient, rs)
	if got := weight(t, rs, NameManaManagement); !almostEqual(got, 2.4) {
		t.Errorf("mana management weight = %v, want 2.4", got)
	}
	if got := weight(t, rs, NameRegularHeal); got != 3 {
		t.Errorf("regular heal weight = %v, want unchanged 3", got)
	}
}

func TestApplyPlayStyle_BalancedNoop(t *testing.T) {
	rs := BasicSurvivalRules()
	ApplyPlayStyle(Balanced, rs)
	ApplyPlayStyle(Leveling, rs)
	if got := threshold(t, rs, NameEmergencyHeal); got != 15 {
		t.Errorf("emergency heal threshold = %v, want 15", got)
	}
}

func TestApplyPlayStyle_ThresholdReachesConditions(t *testing.T) {
	rs := BasicSurvivalRules()
	ApplyPlayStyle(Conservative, rs)
	r := Find(rs, NameEmergencyHeal)

	// 18% is below the raised 19.5 threshold but above the original 15.
	ctx := newCtx(snapshot(18, 100, true), model.Priest, "health_potion")
	if s, _ := r.Evaluate(ctx); len(s) == 0 {
		t.Error("raised threshold should apply to the required condition")
	}
}

func TestParsePlayStyle(t *testing.T) {
	tests := []struct {
		in      string
		want    PlayStyle
		wantErr bool
	}{
		{"", Balanced, false},
		{"AGGRESSIVE", Aggressive, false},
		{"leveling", Leveling, false},
		{"reckless", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePlayStyle(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePlayStyle(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestClassSurvivalRules(t *testing.T) {
	tests := []struct {
		class model.ClassType
		rule  string
		want  float64
	}{
		{model.Warrior, NameEmergencyHeal, 10},
		{model.Warrior, NameRegularHeal, 50},
		{model.Mage, NameEmergencyHeal, 20},
		{model.Mage, NameRunAway, 30},
		{model.Priest, NameManaManagement, 50},
		{model.Priest, NameEmergencyHeal, 15},
	}
	for _, tt := range tests {
		rs := ClassSurvivalRules(tt.class)
		if got := threshold(t, rs, tt.rule); got != tt.want {
			t.Errorf("%s %s = %v, want %v", tt.class, tt.rule, got, tt.want)
		}
		for _, r := range rs {
			if cr := r.ClassRestrictions(); len(cr) != 1 || cr[0] != tt.class {
				t.Errorf("%s: restrictions = %v", r.Name(), cr)
			}
		}
	}
}

func TestCombatPresets(t *testing.T) {
	if got := len(BasicCombatRules()); got != 6 {
		t.Errorf("basic combat rules = %d, want 6", got)
	}

	warrior := WarriorCombatRules()
	attack := Find(warrior, NameBasicAttack)
	if got := attack.SuggestedActions(); len(got) != 3 || got[0] != "heroic_strike" {
		t.Errorf("warrior attacks = %v", got)
	}
	if got := Find(warrior, NameOpener).SuggestedActions(); len(got) != 1 || got[0] != "charge" {
		t.Errorf("warrior openers = %v", got)
	}

	aggressive := AggressiveCombatRules()
	if got := Find(aggressive, NameExecute).Logic().(*Execute).Threshold; got != 25 {
		t.Errorf("aggressive execute threshold = %v, want 25", got)
	}
	if got := Find(aggressive, NameTargetAcquisition).Logic().(*TargetAcquisition).MinHealth; got != 20 {
		t.Errorf("aggressive engage health = %v, want 20", got)
	}

	defensive := DefensiveCombatRules()
	if got := weight(t, defensive, NameTargetAcquisition); !almostEqual(got, 2.4) {
		t.Errorf("defensive target acquisition weight = %v, want 2.4", got)
	}
	if got := Find(defensive, NameBasicAttack).Logic().(*BasicAttack).MinHealth; got != 40 {
		t.Errorf("defensive attack health = %v, want 40", got)
	}
}

func TestClamp(t *testing.T) {
	if clamp(5, 0, 1) != 1 || clamp(-1, 0, 1) != 0 || clamp(0.5, 0, 1) != 0.5 {
		t.Error("clamp out of bounds")
	}
}
