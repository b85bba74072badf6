// Package profile bundles everything one character class needs to play: the
// action catalogue, the rule set, the key bindings that turn action names
// into input, and the play-style settings that tune the rules.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/nstehr/autocast/decision"
	"github.com/nstehr/autocast/executor"
	"github.com/nstehr/autocast/model"
	"github.com/nstehr/autocast/rules"
)

type Settings struct {
	PlayStyle     rules.PlayStyle `yaml:"play_style" json:"play_style"`
	AutoTargeting bool            `yaml:"auto_targeting" json:"auto_targeting"`
	AutoLooting   bool            `yaml:"auto_looting" json:"auto_looting"`

	EngageDistance     float64 `yaml:"engage_distance" json:"engage_distance"`
	DisengageThreshold float64 `yaml:"disengage_threshold" json:"disengage_threshold"` // HP% to run away
	RestThreshold      float64 `yaml:"rest_threshold" json:"rest_threshold"`

	ManaConservation      bool    `yaml:"mana_conservation" json:"mana_conservation"`
	HealthPotionThreshold float64 `yaml:"health_potion_threshold" json:"health_potion_threshold"`
	ManaPotionThreshold   float64 `yaml:"mana_potion_threshold" json:"mana_potion_threshold"`

	EmergencyActions bool `yaml:"emergency_actions" json:"emergency_actions"`
	AvoidElites      bool `yaml:"avoid_elites" json:"avoid_elites"`
	MaxEnemies       int  `yaml:"max_enemies" json:"max_enemies"`
}

func DefaultSettings() Settings {
	return Settings{
		PlayStyle:             rules.Balanced,
		AutoTargeting:         true,
		AutoLooting:           true,
		EngageDistance:        25,
		DisengageThreshold:    15,
		RestThreshold:         60,
		ManaConservation:      true,
		HealthPotionThreshold: 20,
		ManaPotionThreshold:   15,
		EmergencyActions:      true,
		AvoidElites:           true,
		MaxEnemies:            2,
	}
}

// Stats accumulate over every session played with the profile.
type Stats struct {
	SessionsPlayed    int           `json:"sessions_played"`
	TotalPlaytime     time.Duration `json:"total_playtime"`
	TotalActions      int           `json:"total_actions"`
	SuccessfulActions int           `json:"successful_actions"`
	DamageDealt       float64       `json:"damage_dealt"`
	HealingDone       float64       `json:"healing_done"`
	Deaths            int           `json:"deaths"`
}

func (s Stats) SuccessRate() float64 {
	return float64(s.SuccessfulActions) / float64(max(1, s.TotalActions)) * 100
}

// keyDelayAfter is the settle time after a profile key press.
const keyDelayAfter = 100 * time.Millisecond

type Profile struct {
	Name        string
	Class       model.ClassType
	Description string
	Author      string
	Version     string
	Settings    Settings

	actions  map[string]model.ActionDefinition
	order    []string
	rules    []*rules.Rule
	mappings map[string]executor.Instruction

	mu     sync.Mutex
	stats  Stats
	loaded bool
}

func New(name string, class model.ClassType, settings Settings) *Profile {
	return &Profile{
		Name:     name,
		Class:    class,
		Version:  "1.0.0",
		Settings: settings,
		actions:  make(map[string]model.ActionDefinition),
		mappings: make(map[string]executor.Instruction),
	}
}

// AddAction registers def under name. A non-empty key also maps the action
// to a key press.
func (p *Profile) AddAction(name string, def model.ActionDefinition, key string) {
	if _, ok := p.actions[name]; !ok {
		p.order = append(p.order, name)
	}
	p.actions[name] = def
	if key != "" {
		p.mappings[name] = executor.Instruction{Method: executor.MethodKeyboard, Key: key, DelayAfter: keyDelayAfter}
	}
}

func (p *Profile) RemoveAction(name string) bool {
	if _, ok := p.actions[name]; !ok {
		return false
	}
	delete(p.actions, name)
	delete(p.mappings, name)
	p.order = slices.DeleteFunc(p.order, func(n string) bool { return n == name })
	return true
}

func (p *Profile) Action(name string) (model.ActionDefinition, bool) {
	d, ok := p.actions[name]
	return d, ok
}

// ActionNames lists actions in the order they were added.
func (p *Profile) ActionNames() []string { return slices.Clone(p.order) }

// ActionsByType filters the catalogue by action type.
func (p *Profile) ActionsByType(t model.ActionType) []string {
	var out []string
	for _, n := range p.order {
		if p.actions[n].Type == t {
			out = append(out, n)
		}
	}
	return out
}

// SetMapping overrides how an action is sent to the game.
func (p *Profile) SetMapping(action string, in executor.Instruction) error {
	if _, ok := p.actions[action]; !ok {
		return fmt.Errorf("profile %s has no action %q", p.Name, action)
	}
	if err := in.Validate(); err != nil {
		return fmt.Errorf("mapping for %s: %w", action, err)
	}
	p.mappings[action] = in
	return nil
}

func (p *Profile) Mapping(action string) (executor.Instruction, bool) {
	in, ok := p.mappings[action]
	return in, ok
}

func (p *Profile) AddRule(r *rules.Rule) { p.rules = append(p.rules, r) }

func (p *Profile) RemoveRule(name string) bool {
	n := len(p.rules)
	p.rules = slices.DeleteFunc(p.rules, func(r *rules.Rule) bool { return r.Name() == name })
	return len(p.rules) != n
}

func (p *Profile) Rule(name string) *rules.Rule { return rules.Find(p.rules, name) }

func (p *Profile) Rules() []*rules.Rule { return slices.Clone(p.rules) }

func (p *Profile) RulesByCategory(c rules.Category) []*rules.Rule {
	var out []*rules.Rule
	for _, r := range p.rules {
		if r.Category() == c {
			out = append(out, r)
		}
	}
	return out
}

// Warnings lists actions without a mapping and actions suggested by rules
// that the profile does not define. Neither stops a profile from loading.
func (p *Profile) Warnings() []string {
	var out []string
	for _, n := range p.order {
		if _, ok := p.mappings[n]; !ok {
			out = append(out, "no key mapping for action: "+n)
		}
	}
	missing := make(map[string]bool)
	for _, r := range p.rules {
		for _, a := range r.SuggestedActions() {
			if _, ok := p.actions[a]; !ok {
				missing[a] = true
			}
		}
	}
	names := make([]string, 0, len(missing))
	for a := range missing {
		names = append(names, a)
	}
	sort.Strings(names)
	for _, a := range names {
		out = append(out, "rules suggest missing action: "+a)
	}
	return out
}

// Validate fails on an empty catalogue or rule set and logs Warnings.
func (p *Profile) Validate() error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, errors.New("profile has no name"))
	}
	if len(p.actions) == 0 {
		errs = append(errs, errors.New("no actions defined"))
	}
	if len(p.rules) == 0 {
		errs = append(errs, errors.New("no rules defined"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("profile %q: %w", p.Name, err)
	}
	for _, w := range p.Warnings() {
		slog.Warn("profile warning", "profile", p.Name, "warning", w)
	}
	return nil
}

// Initialize validates the profile and applies its play style to the rules.
// The style is applied once; later calls are no-ops.
func (p *Profile) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return nil
	}
	if err := p.Validate(); err != nil {
		return err
	}
	rules.ApplyPlayStyle(p.Settings.PlayStyle, p.rules)
	p.loaded = true
	slog.Info("profile initialized", "profile", p.Name, "class", p.Class,
		"actions", len(p.actions), "rules", len(p.rules), "style", p.Settings.PlayStyle)
	return nil
}

func (p *Profile) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

// Apply initializes the profile if needed and loads its actions and rules
// into e. The engine must be built for the profile's class.
func (p *Profile) Apply(e *decision.Engine) error {
	if e.Class() != p.Class {
		return fmt.Errorf("profile %s is for %s, engine is for %s", p.Name, p.Class, e.Class())
	}
	if err := p.Initialize(); err != nil {
		return err
	}
	for _, n := range p.order {
		e.AddAction(n, p.actions[n])
	}
	for _, r := range p.rules {
		if err := e.AddRule(r); err != nil {
			return fmt.Errorf("profile %s: %w", p.Name, err)
		}
	}
	return nil
}

// RegisterMappings installs every mapped action on ex and returns how many
// were registered.
func (p *Profile) RegisterMappings(ex *executor.Executor) (int, error) {
	n := 0
	for _, name := range p.order {
		in, ok := p.mappings[name]
		if !ok {
			continue
		}
		if err := ex.RegisterAction(name, in); err != nil {
			return n, fmt.Errorf("register %s: %w", name, err)
		}
		n++
	}
	slog.Info("registered action mappings", "profile", p.Name, "count", n)
	return n, nil
}

// RecordResult folds one executed action into the profile stats.
func (p *Profile) RecordResult(r model.ActionResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.TotalActions++
	if r.Success {
		p.stats.SuccessfulActions++
		p.stats.DamageDealt += r.DamageDealt
		p.stats.HealingDone += r.HealingDone
	}
}

// RecordSession adds one finished session of length d.
func (p *Profile) RecordSession(d time.Duration) {
	p.mu.Lock()
	p.stats.SessionsPlayed++
	p.stats.TotalPlaytime += d
	p.mu.Unlock()
}

func (p *Profile) RecordDeath() {
	p.mu.Lock()
	p.stats.Deaths++
	p.mu.Unlock()
}

func (p *Profile) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Profile) ResetStats() {
	p.mu.Lock()
	p.stats = Stats{}
	p.mu.Unlock()
}

type exported struct {
	Name        string                          `json:"name"`
	Class       model.ClassType                 `json:"character_class"`
	Version     string                          `json:"version"`
	Description string                          `json:"description,omitempty"`
	Author      string                          `json:"author,omitempty"`
	Settings    Settings                        `json:"settings"`
	Actions     []string                        `json:"actions"`
	Rules       []string                        `json:"rules"`
	Mappings    map[string]executor.Instruction `json:"key_mappings"`
	Stats       Stats                           `json:"stats"`
	SuccessRate float64                         `json:"success_rate"`
}

// ToJSON exports the profile summary with indentation.
func (p *Profile) ToJSON() ([]byte, error) {
	names := make([]string, 0, len(p.rules))
	for _, r := range p.rules {
		names = append(names, r.Name())
	}
	st := p.Stats()
	return json.MarshalIndent(exported{
		Name:        p.Name,
		Class:       p.Class,
		Version:     p.Version,
		Description: p.Description,
		Author:      p.Author,
		Settings:    p.Settings,
		Actions:     p.ActionNames(),
		Rules:       names,
		Mappings:    p.mappings,
		Stats:       st,
		SuccessRate: st.SuccessRate(),
	}, "", "  ")
}

// Save writes ToJSON to path, creating parent directories.
func (p *Profile) Save(path string) error {
	raw, err := p.ToJSON()
	if err != nil {
		return fmt.Errorf("export profile %s: %w", p.Name, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("save profile %s: %w", p.Name, err)
	}
	slog.Info("profile saved", "profile", p.Name, "path", path)
	return nil
}

func (p *Profile) String() string {
	state := "not loaded"
	if p.Loaded() {
		state = "loaded"
	}
	return fmt.Sprintf("%s [%s] (%s) %s", p.Name, p.Class, p.Settings.PlayStyle, state)
}
