package profile

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nstehr/autocast/model"
	"github.com/nstehr/autocast/rules"
)

// builders maps a built-in profile name to its constructor.
var builders = map[string]func(rules.PlayStyle) (*Profile, error){
	"warrior":            Warrior,
	"mage":               Mage,
	"priest":             Priest,
	"enhancement_shaman": EnhancementShaman,
}

// BuiltinNames lists the built-in profiles in alphabetical order.
func BuiltinNames() []string {
	out := make([]string, 0, len(builders))
	for n := range builders {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Builtin builds and initializes the named built-in profile.
func Builtin(name string, style rules.PlayStyle) (*Profile, error) {
	b, ok := builders[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q (have %s)", name, strings.Join(BuiltinNames(), ", "))
	}
	p, err := b(style)
	if err != nil {
		return nil, err
	}
	if err := p.Initialize(); err != nil {
		return nil, err
	}
	return p, nil
}

func melee(class model.ClassType, pri model.Priority, damage float64, cd time.Duration) model.ActionDefinition {
	return model.ActionDefinition{
		Type: model.ActionCombat, Priority: pri, RequiredClass: class,
		RequiresTarget: true, RequiresCombat: true, MaxRange: 5,
		Cooldown: cd, GlobalCooldown: true, Damage: damage,
	}
}

func spell(class model.ClassType, pri model.Priority, mana, damage float64, cast time.Duration, rng float64) model.ActionDefinition {
	return model.ActionDefinition{
		Type: model.ActionCombat, Priority: pri, RequiredClass: class,
		RequiresTarget: true, ManaCost: mana, CastTime: cast, MaxRange: rng,
		GlobalCooldown: true, Damage: damage,
	}
}

func heal(class model.ClassType, pri model.Priority, mana, healing float64, cast time.Duration) model.ActionDefinition {
	return model.ActionDefinition{
		Type: model.ActionSurvival, Priority: pri, RequiredClass: class,
		ManaCost: mana, CastTime: cast, GlobalCooldown: true, Healing: healing,
	}
}

// addConsumables adds the class-independent items and utilities on F3-F8.
func addConsumables(p *Profile) {
	p.AddAction("health_potion", model.ActionDefinition{
		Type: model.ActionConsume, Priority: model.Emergency, Cooldown: 30 * time.Second, Healing: 300,
	}, "F3")
	p.AddAction("mana_potion", model.ActionDefinition{
		Type: model.ActionConsume, Priority: model.High, Cooldown: 2 * time.Minute,
	}, "F4")
	p.AddAction("drink_water", model.ActionDefinition{
		Type: model.ActionConsume, Priority: model.Medium, Cooldown: time.Second,
	}, "F5")
	p.AddAction("eat_food", model.ActionDefinition{
		Type: model.ActionConsume, Priority: model.Low, Cooldown: time.Second,
	}, "F6")
	p.AddAction("bandage", model.ActionDefinition{
		Type: model.ActionSurvival, Priority: model.Medium, Cooldown: time.Minute, Healing: 150,
	}, "F7")
	p.AddAction("run_away", model.ActionDefinition{
		Type: model.ActionMovement, Priority: model.Emergency, Cooldown: 5 * time.Second,
	}, "F8")
	p.AddAction("target_nearest_enemy", model.ActionDefinition{
		Type: model.ActionUtility, Priority: model.Medium,
	}, "Tab")
}

func Warrior(style rules.PlayStyle) (*Profile, error) {
	s := DefaultSettings()
	s.PlayStyle = style
	s.EngageDistance = 5
	s.DisengageThreshold = 10
	p := New("Warrior", model.Warrior, s)
	p.Description = "Melee warrior with charge opener and execute finisher"

	w := model.Warrior
	p.AddAction("heroic_strike", melee(w, model.Medium, 120, 0), "1")
	p.AddAction("execute", melee(w, model.High, 250, 0), "2")
	ww := melee(w, model.Medium, 150, 10*time.Second)
	ww.RequiresTarget = false
	p.AddAction("whirlwind", ww, "3")
	charge := melee(w, model.High, 20, 15*time.Second)
	charge.RequiresCombat = false
	charge.MaxRange = 25
	p.AddAction("charge", charge, "4")
	p.AddAction("pummel", melee(w, model.High, 20, 10*time.Second), "5")
	p.AddAction("shield_wall", model.ActionDefinition{
		Type: model.ActionSurvival, Priority: model.High, RequiredClass: w,
		RequiresCombat: true, Cooldown: 30 * time.Minute, GlobalCooldown: true,
	}, "6")
	p.AddAction("auto_attack", melee("", model.Low, 40, 0), "t")
	addConsumables(p)

	for _, r := range rules.ClassSurvivalRules(w) {
		p.AddRule(r)
	}
	for _, r := range rules.WarriorCombatRules() {
		p.AddRule(r)
	}
	return p, nil
}

func Mage(style rules.PlayStyle) (*Profile, error) {
	s := DefaultSettings()
	s.PlayStyle = style
	s.EngageDistance = 30
	s.DisengageThreshold = 25
	p := New("Mage", model.Mage, s)
	p.Description = "Ranged caster that opens with fireball and blinks out of trouble"

	m := model.Mage
	p.AddAction("fireball", spell(m, model.High, 35, 220, 3*time.Second, 35), "1")
	p.AddAction("frostbolt", spell(m, model.Medium, 30, 180, 2500*time.Millisecond, 30), "2")
	p.AddAction("firebolt", spell(m, model.Medium, 20, 110, 1500*time.Millisecond, 30), "3")
	blizzard := spell(m, model.Medium, 60, 300, 0, 30)
	blizzard.RequiresTarget = false
	blizzard.RequiresCombat = true
	p.AddAction("blizzard", blizzard, "4")
	cs := spell(m, model.High, 15, 0, 0, 24)
	cs.Cooldown = 24 * time.Second
	p.AddAction("counterspell", cs, "5")
	p.AddAction("ice_block", model.ActionDefinition{
		Type: model.ActionSurvival, Priority: model.High, RequiredClass: m,
		RequiresCombat: true, Cooldown: 5 * time.Minute, GlobalCooldown: true,
	}, "6")
	p.AddAction("blink", model.ActionDefinition{
		Type: model.ActionMovement, Priority: model.Emergency, RequiredClass: m,
		ManaCost: 10, Cooldown: 15 * time.Second,
	}, "7")
	addConsumables(p)

	for _, r := range rules.ClassSurvivalRules(m) {
		p.AddRule(r)
	}
	for _, r := range rules.MageCombatRules() {
		p.AddRule(r)
	}
	return p, nil
}

func Priest(style rules.PlayStyle) (*Profile, error) {
	s := DefaultSettings()
	s.PlayStyle = style
	s.EngageDistance = 30
	s.RestThreshold = 70
	p := New("Priest", model.Priest, s)
	p.Description = "Healer with holy damage, fade and psychic scream for escapes"

	pr := model.Priest
	p.AddAction("smite", spell(pr, model.Medium, 20, 120, 2*time.Second, 30), "1")
	holy := spell(pr, model.High, 30, 200, 3*time.Second, 30)
	holy.Cooldown = 10 * time.Second
	p.AddAction("holy_fire", holy, "2")
	p.AddAction("flash_heal", heal(pr, model.Emergency, 60, 400, 1500*time.Millisecond), "F1")
	p.AddAction("light_heal", heal(pr, model.High, 30, 250, 2500*time.Millisecond), "F2")
	p.AddAction("greater_heal", heal(pr, model.High, 80, 600, 3*time.Second), "F9")
	p.AddAction("fade", model.ActionDefinition{
		Type: model.ActionSurvival, Priority: model.High, RequiredClass: pr,
		RequiresCombat: true, Cooldown: 30 * time.Second,
	}, "3")
	p.AddAction("psychic_scream", model.ActionDefinition{
		Type: model.ActionSurvival, Priority: model.Emergency, RequiredClass: pr,
		RequiresCombat: true, ManaCost: 25, Cooldown: 30 * time.Second, GlobalCooldown: true,
	}, "4")
	addConsumables(p)

	for _, r := range rules.ClassSurvivalRules(pr) {
		p.AddRule(r)
	}
	for _, r := range rules.PriestCombatRules() {
		p.AddRule(r)
	}
	return p, nil
}

// Shaman-specific rules, written as expressions.
var (
	weaponBuffRule = rules.ExprSpec{
		Name:        "Weapon Buff",
		Category:    rules.CategoryEfficiency,
		Priority:    model.Medium,
		Weight:      3,
		Description: "Keep the weapon enhancement up between pulls",
		MinInterval: 10 * time.Second,
		Classes:     []model.ClassType{model.Shaman},
		When:        []string{`!InCombat()`, `!HasBuff("Windfury Weapon")`, `ManaPercent() >= 20`},
		Scores:      []rules.ActionScore{{Action: "windfury_weapon", Score: "8"}},
		Confidence:  0.9,
	}
	shockPriorityRule = rules.ExprSpec{
		Name:        "Shock Priority",
		Category:    rules.CategoryCombat,
		Priority:    model.High,
		Weight:      4,
		Description: "Earth Shock interrupts casts, Flame Shock goes on healthy targets",
		MinInterval: 500 * time.Millisecond,
		Classes:     []model.ClassType{model.Shaman},
		When:        []string{`HasTarget()`, `ManaPercent() >= 25`},
		Scores: []rules.ActionScore{
			{Action: "earth_shock", Score: "TargetCasting() ? 12 : 6"},
			{Action: "flame_shock", Score: "TargetHP() > 60 ? 7 : (TargetHP() < 25 ? 3 : 5)"},
		},
		Confidence: 0.8,
	}
)

func EnhancementShaman(style rules.PlayStyle) (*Profile, error) {
	s := DefaultSettings()
	s.PlayStyle = style
	s.EngageDistance = 20
	s.DisengageThreshold = 20
	s.RestThreshold = 50
	s.HealthPotionThreshold = 25
	s.ManaPotionThreshold = 20
	p := New("Enhancement Shaman", model.Shaman, s)
	p.Description = "Enhancement Shaman - melee DPS with elemental magic support"
	p.Author = "autocast"

	sh := model.Shaman
	storm := spell(sh, model.High, 30, 180, 0, 5)
	storm.Cooldown = 10 * time.Second
	p.AddAction("stormstrike", storm, "1")
	p.AddAction("lightning_bolt", spell(sh, model.Medium, 45, 200, 2500*time.Millisecond, 30), "2")
	earth := spell(sh, model.High, 60, 160, 0, 20)
	earth.Cooldown = 6 * time.Second
	p.AddAction("earth_shock", earth, "3")
	flame := spell(sh, model.Medium, 50, 120, 0, 20)
	flame.Cooldown = 6 * time.Second
	flame.DebuffApplied = "Flame Shock"
	p.AddAction("flame_shock", flame, "4")
	p.AddAction("windfury_weapon", model.ActionDefinition{
		Type: model.ActionBuff, Priority: model.Medium, RequiredClass: sh,
		ManaCost: 30, GlobalCooldown: true, BuffApplied: "Windfury Weapon",
	}, "5")
	p.AddAction("healing_wave", heal(sh, model.High, 80, 350, 3*time.Second), "F1")
	p.AddAction("lesser_healing_wave", heal(sh, model.High, 50, 200, 1500*time.Millisecond), "F2")
	addConsumables(p)

	p.AddRule(rules.NewEmergencyHeal(18, "health_potion", "lesser_healing_wave", "healing_wave"))
	p.AddRule(rules.NewRegularHeal(55, "lesser_healing_wave", "healing_wave", "eat_food"))
	p.AddRule(rules.NewManaManagement(35))
	p.AddRule(rules.NewTargetAcquisition(30))
	for _, spec := range []rules.ExprSpec{weaponBuffRule, shockPriorityRule} {
		r, err := rules.NewExprRule(spec)
		if err != nil {
			return nil, fmt.Errorf("enhancement shaman: %w", err)
		}
		p.AddRule(r)
	}
	p.AddRule(rules.NewBasicAttack(25, "stormstrike", "earth_shock", "lightning_bolt"))
	return p, nil
}
