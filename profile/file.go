package profile

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/nstehr/autocast/executor"
	"github.com/nstehr/autocast/model"
	"github.com/nstehr/autocast/rules"
)

//go:embed profile.schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("profile.schema.json", schemaJSON)

// File is the YAML form of a profile. Survival and Combat pick a preset rule
// set; Rules adds expression rules on top.
type File struct {
	Name        string          `yaml:"name"`
	Class       model.ClassType `yaml:"class"`
	Description string          `yaml:"description,omitempty"`
	Author      string          `yaml:"author,omitempty"`
	Version     string          `yaml:"version,omitempty"`
	Survival    string          `yaml:"survival,omitempty"`
	Combat      string          `yaml:"combat,omitempty"`
	Settings    Settings        `yaml:"settings"`

	Actions []ActionSpec     `yaml:"actions"`
	Rules   []rules.ExprSpec `yaml:"rules,omitempty"`
}

type ClickSpec struct {
	X      int    `yaml:"x"`
	Y      int    `yaml:"y"`
	Button string `yaml:"button,omitempty"`
}

type ActionSpec struct {
	Name      string           `yaml:"name"`
	Type      model.ActionType `yaml:"type,omitempty"`
	Priority  model.Priority   `yaml:"priority,omitempty"`
	Key       string           `yaml:"key,omitempty"`
	Keys      []string         `yaml:"keys,omitempty"`
	Click     *ClickSpec       `yaml:"click,omitempty"`
	ClassOnly bool             `yaml:"class_only,omitempty"`

	ManaCost       float64       `yaml:"mana_cost,omitempty"`
	Cooldown       time.Duration `yaml:"cooldown,omitempty"`
	CastTime       time.Duration `yaml:"cast_time,omitempty"`
	GlobalCooldown bool          `yaml:"global_cooldown,omitempty"`
	RequiresTarget bool          `yaml:"requires_target,omitempty"`
	RequiresCombat bool          `yaml:"requires_combat,omitempty"`
	MaxRange       float64       `yaml:"max_range,omitempty"`
	Damage         float64       `yaml:"damage,omitempty"`
	Healing        float64       `yaml:"healing,omitempty"`
	BuffApplied    string        `yaml:"buff_applied,omitempty"`
	DebuffApplied  string        `yaml:"debuff_applied,omitempty"`
}

func (a ActionSpec) definition(class model.ClassType) model.ActionDefinition {
	d := model.ActionDefinition{
		Name:           a.Name,
		Type:           a.Type,
		Priority:       a.Priority,
		KeyBinding:     a.Key,
		ManaCost:       a.ManaCost,
		Cooldown:       a.Cooldown,
		CastTime:       a.CastTime,
		GlobalCooldown: a.GlobalCooldown,
		RequiresTarget: a.RequiresTarget,
		RequiresCombat: a.RequiresCombat,
		MaxRange:       a.MaxRange,
		Damage:         a.Damage,
		Healing:        a.Healing,
		BuffApplied:    a.BuffApplied,
		DebuffApplied:  a.DebuffApplied,
	}
	if d.Type == "" {
		d.Type = model.ActionUtility
	}
	if d.Priority == 0 {
		d.Priority = model.Medium
	}
	if a.ClassOnly {
		d.RequiredClass = class
	}
	if a.Click != nil {
		d.ClickPosition = &model.Point{X: a.Click.X, Y: a.Click.Y}
	}
	return d
}

func (a ActionSpec) instruction() executor.Instruction {
	switch {
	case a.Click != nil:
		return executor.Instruction{
			Method:     executor.MethodMouseClick,
			Position:   &model.Point{X: a.Click.X, Y: a.Click.Y},
			Button:     a.Click.Button,
			DelayAfter: keyDelayAfter,
		}
	case len(a.Keys) > 0:
		return executor.Instruction{Method: executor.MethodKeyboard, Keys: a.Keys, DelayAfter: keyDelayAfter}
	}
	return executor.Instruction{Method: executor.MethodKeyboard, Key: a.Key, DelayAfter: keyDelayAfter}
}

// validateSchema checks raw YAML against the embedded JSON schema. The YAML
// tree is round-tripped through JSON so the validator sees JSON types.
func validateSchema(raw []byte) error {
	var tree any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("parse profile: %w", err)
	}
	js, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("profile is not representable as JSON: %w", err)
	}
	var doc any
	if err := json.Unmarshal(js, &doc); err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("profile schema: %w", err)
	}
	return nil
}

// Parse validates raw YAML and builds an initialized profile from it.
func Parse(raw []byte) (*Profile, error) {
	if err := validateSchema(raw); err != nil {
		return nil, err
	}
	f := File{Settings: DefaultSettings()}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	p, err := f.Build()
	if err != nil {
		return nil, err
	}
	if err := p.Initialize(); err != nil {
		return nil, err
	}
	return p, nil
}

// Build turns the file into a profile without initializing it.
func (f File) Build() (*Profile, error) {
	p := New(f.Name, f.Class, f.Settings)
	p.Description = f.Description
	p.Author = f.Author
	if f.Version != "" {
		p.Version = f.Version
	}
	for _, a := range f.Actions {
		p.AddAction(a.Name, a.definition(f.Class), "")
		if err := p.SetMapping(a.Name, a.instruction()); err != nil {
			return nil, err
		}
	}

	survival, err := survivalPreset(f.Survival, f.Class)
	if err != nil {
		return nil, err
	}
	combat, err := combatPreset(f.Combat)
	if err != nil {
		return nil, err
	}
	for _, r := range append(survival, combat...) {
		p.AddRule(r)
	}
	for _, spec := range f.Rules {
		r, err := rules.NewExprRule(spec)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", f.Name, err)
		}
		p.AddRule(r)
	}
	return p, nil
}

func survivalPreset(name string, class model.ClassType) ([]*rules.Rule, error) {
	switch strings.ToLower(name) {
	case "", "class":
		return rules.ClassSurvivalRules(class), nil
	case "basic":
		return rules.BasicSurvivalRules(), nil
	case "conservative":
		return rules.ConservativeSurvivalRules(), nil
	case "aggressive":
		return rules.AggressiveSurvivalRules(), nil
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown survival preset %q", name)
}

func combatPreset(name string) ([]*rules.Rule, error) {
	switch strings.ToLower(name) {
	case "", "basic":
		return rules.BasicCombatRules(), nil
	case "warrior":
		return rules.WarriorCombatRules(), nil
	case "mage":
		return rules.MageCombatRules(), nil
	case "priest":
		return rules.PriestCombatRules(), nil
	case "aggressive":
		return rules.AggressiveCombatRules(), nil
	case "defensive":
		return rules.DefensiveCombatRules(), nil
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown combat preset %q", name)
}

// LoadFile reads and parses one YAML profile.
func LoadFile(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	slog.Info("profile loaded", "profile", p.Name, "path", path)
	return p, nil
}

// LoadDir loads every .yaml and .yml file in dir, sorted by file name. A
// missing directory yields no profiles.
func LoadDir(dir string) ([]*Profile, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if ext := filepath.Ext(e.Name()); !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	out := make([]*Profile, 0, len(names))
	for _, n := range names {
		p, err := LoadFile(filepath.Join(dir, n))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
