package rules

import (
	"errors"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/nstehr/autocast/decision"
	"github.com/nstehr/autocast/model"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// snapshot returns an in-game state with the given health and mana percent.
func snapshot(hp, mana int, inCombat bool) model.GameState {
	res := model.FullResources()
	res.HealthCurrent = hp
	res.ManaCurrent = mana
	return model.NewGameState(model.GameState{
		Timestamp: t0,
		InGame:    true,
		InCombat:  inCombat,
		Resources: res,
	})
}

func withTarget(s model.GameState, hp float64) model.GameState {
	s.Target = model.Target{Exists: true, Name: "Kobold", HPPercent: hp, Hostile: true, Level: 5}
	return s
}

// newCtx builds a decision context in which every named action is usable.
func newCtx(s model.GameState, class model.ClassType, actions ...string) *decision.Context {
	avail := make(map[string]*decision.ActionInstance, len(actions))
	for _, a := range actions {
		avail[a] = decision.NewActionInstance(model.ActionDefinition{Name: a}, func() time.Time { return t0 })
	}
	return &decision.Context{State: s, Class: class, Available: avail, Timestamp: s.Timestamp}
}

func at(ctx *decision.Context, d time.Duration) *decision.Context {
	c := *ctx
	c.Timestamp = t0.Add(d)
	return &c
}

// fixedLogic proposes one action with a fixed base score and counts calls.
type fixedLogic struct {
	action string
	value  float64
	gate   bool
	err    error
	panics bool

	calls int
}

func (l *fixedLogic) EvaluateConditions(*decision.Context) bool { return l.gate }

func (l *fixedLogic) CalculateActionScores(*decision.Context) ([]decision.Score, error) {
	l.calls++
	if l.panics {
		panic("boom")
	}
	if l.err != nil {
		return nil, l.err
	}
	if l.value == 0 {
		return nil, nil
	}
	return []decision.Score{{Action: l.action, Value: l.value, Confidence: 1}}, nil
}

func (l *fixedLogic) Reasoning(*decision.Context) []string { return []string{"fixed"} }

func fixedRule(p model.Priority, weight, value float64) (*Rule, *fixedLogic) {
	l := &fixedLogic{action: "auto_attack", value: value, gate: true}
	return New(Options{Name: "fixed", Category: CategoryCombat, Priority: p, Weight: weight}, l), l
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestEvaluate_WeightAndMultiplierAppliedOnce(t *testing.T) {
	r, _ := fixedRule(model.High, 3, 2)
	scores, err := r.Evaluate(newCtx(snapshot(100, 100, false), model.Warrior))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(scores) != 1 {
		t.Fatalf("got %d scores, want 1", len(scores))
	}
	if !almostEqual(scores[0].Value, 30) {
		t.Errorf("score = %v, want 30 (2 × weight 3 × HIGH 5)", scores[0].Value)
	}
	if scores[0].Priority != model.High {
		t.Errorf("priority = %v, want HIGH", scores[0].Priority)
	}
	want := []string{"fixed", "Rule: fixed"}
	if !slices.Equal(scores[0].Reasoning, want) {
		t.Errorf("reasoning = %v, want %v", scores[0].Reasoning, want)
	}
}

func TestEvaluate_EmergencyOutweighsLow(t *testing.T) {
	ctx := newCtx(snapshot(100, 100, false), model.Warrior)
	emergency, _ := fixedRule(model.Emergency, 1, 1)
	low, _ := fixedRule(model.Low, 1, 1)

	e, _ := emergency.Evaluate(ctx)
	l, _ := low.Evaluate(ctx)
	if !almostEqual(e[0].Value/l[0].Value, 10) {
		t.Errorf("EMERGENCY/LOW = %v, want 10", e[0].Value/l[0].Value)
	}

	idle, _ := fixedRule(model.Idle, 1, 1)
	i, _ := idle.Evaluate(ctx)
	if !almostEqual(e[0].Value/i[0].Value, 20) {
		t.Errorf("EMERGENCY/IDLE = %v, want 20", e[0].Value/i[0].Value)
	}
}

func TestEvaluate_LogicErrorIsEvalError(t *testing.T) {
	r, l := fixedRule(model.Medium, 1, 1)
	l.err = errors.New("no mana data")

	scores, err := r.Evaluate(newCtx(snapshot(100, 100, false), model.Warrior))
	if scores != nil {
		t.Errorf("expected no scores, got %v", scores)
	}
	var evalErr *EvalError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected *EvalError, got %T (%v)", err, err)
	}
	if evalErr.Rule != "fixed" || !errors.Is(err, l.err) {
		t.Errorf("unexpected error %v", err)
	}
	m := r.Metrics()
	if m.Activations != 1 || m.Failures != 1 || m.Successes != 0 || m.TotalScore != 0 {
		t.Errorf("metrics = %+v, want one failed activation", m)
	}
}

func TestEvaluate_PanicIsRecovered(t *testing.T) {
	r, l := fixedRule(model.Medium, 1, 1)
	l.panics = true

	_, err := r.Evaluate(newCtx(snapshot(100, 100, false), model.Warrior))
	var evalErr *EvalError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected *EvalError, got %v", err)
	}
	if r.Metrics().Failures != 1 {
		t.Errorf("failures = %d, want 1", r.Metrics().Failures)
	}
}

func TestEvaluate_NoScoresLeavesMetrics(t *testing.T) {
	r, l := fixedRule(model.Medium, 1, 0)
	scores, err := r.Evaluate(newCtx(snapshot(100, 100, false), model.Warrior))
	if err != nil || len(scores) != 0 {
		t.Fatalf("got %v, %v; want empty, nil", scores, err)
	}
	if l.calls != 1 {
		t.Errorf("logic calls = %d, want 1", l.calls)
	}
	if r.Metrics().Activations != 0 {
		t.Errorf("activations = %d, want 0", r.Metrics().Activations)
	}
}

func TestEvaluate_MinInterval(t *testing.T) {
	r, _ := fixedRule(model.Medium, 1, 1)
	r.SetMinInterval(time.Second)
	ctx := newCtx(snapshot(100, 100, false), model.Warrior)

	if s, _ := r.Evaluate(ctx); len(s) != 1 {
		t.Fatal("first evaluation should fire")
	}
	if r.CanApply(at(ctx, 500*time.Millisecond)) {
		t.Error("CanApply should be false inside the minimum interval")
	}
	if s, _ := r.Evaluate(at(ctx, 500*time.Millisecond)); len(s) != 0 {
		t.Error("evaluation inside the minimum interval should not fire")
	}
	if s, _ := r.Evaluate(at(ctx, time.Second)); len(s) != 1 {
		t.Error("evaluation after the minimum interval should fire")
	}
}

func TestEvaluate_Cooldown(t *testing.T) {
	r, _ := fixedRule(model.Medium, 1, 1)
	r.SetCooldown(10 * time.Second)
	ctx := newCtx(snapshot(100, 100, false), model.Warrior)

	if got := r.CooldownRemaining(t0); got != 0 {
		t.Errorf("unused rule cooldown = %v, want 0", got)
	}
	r.Evaluate(ctx)
	if got := r.CooldownRemaining(t0.Add(4 * time.Second)); got != 6*time.Second {
		t.Errorf("cooldown remaining = %v, want 6s", got)
	}
	if r.CanApply(at(ctx, 4*time.Second)) {
		t.Error("rule should be cooling down")
	}
	if !slices.Contains(r.RecentReasoning(), "Rule on cooldown for 6.0s") {
		t.Errorf("reasoning = %v, want cooldown entry", r.RecentReasoning())
	}
	if !r.CanApply(at(ctx, 10*time.Second)) {
		t.Error("rule should apply once the cooldown elapsed")
	}
}

func TestEvaluate_ClassRestriction(t *testing.T) {
	r, l := fixedRule(model.Medium, 1, 1)
	r.AddClassRestriction(model.Warrior)
	r.AddClassRestriction(model.Warrior)
	if got := r.ClassRestrictions(); len(got) != 1 {
		t.Errorf("restrictions = %v, want [warrior]", got)
	}

	if s, _ := r.Evaluate(newCtx(snapshot(100, 100, false), model.Mage)); len(s) != 0 {
		t.Error("warrior rule should not score for a mage")
	}
	if l.calls != 0 {
		t.Error("logic should not run for a restricted class")
	}
	if s, _ := r.Evaluate(newCtx(snapshot(100, 100, false), model.Warrior)); len(s) != 1 {
		t.Error("warrior rule should score for a warrior")
	}

	r.RemoveClassRestriction(model.Warrior)
	if !r.CanApply(newCtx(snapshot(100, 100, false), model.Mage)) {
		t.Error("unrestricted rule should apply to any class")
	}
}

func TestEvaluate_RequiredAbilities(t *testing.T) {
	r, _ := fixedRule(model.Medium, 1, 1)
	r.AddRequiredAbility("charge")

	if r.CanApply(newCtx(snapshot(100, 100, false), model.Warrior)) {
		t.Error("rule should not apply without its required ability")
	}
	if !r.CanApply(newCtx(snapshot(100, 100, false), model.Warrior, "charge")) {
		t.Error("rule should apply when its required ability is usable")
	}
}

func TestEvaluate_DisabledIsIdempotent(t *testing.T) {
	r, l := fixedRule(model.Medium, 1, 1)
	r.SetEnabled(false)
	r.SetEnabled(false)

	if s, err := r.Evaluate(newCtx(snapshot(100, 100, false), model.Warrior)); len(s) != 0 || err != nil {
		t.Errorf("disabled rule returned %v, %v", s, err)
	}
	if l.calls != 0 {
		t.Error("disabled rule ran its logic")
	}
	r.SetEnabled(true)
	if s, _ := r.Evaluate(newCtx(snapshot(100, 100, false), model.Warrior)); len(s) != 1 {
		t.Error("re-enabled rule should score")
	}
}

func TestEvaluate_RequiredConditionGates(t *testing.T) {
	r, l := fixedRule(model.Medium, 1, 1)
	r.AddCondition(Condition{Name: "low_health", Check: HealthCondition(LessThan, 50), Required: true})

	if s, _ := r.Evaluate(newCtx(snapshot(80, 100, false), model.Warrior)); len(s) != 0 {
		t.Error("failed required condition should gate the rule")
	}
	if l.calls != 0 {
		t.Error("logic ran despite a failed required condition")
	}
	if s, _ := r.Evaluate(newCtx(snapshot(40, 100, false), model.Warrior)); len(s) != 1 {
		t.Error("rule should score once the condition holds")
	}
}

func TestEvaluate_PanickingConditionIsFalse(t *testing.T) {
	r, _ := fixedRule(model.Medium, 1, 1)
	r.AddCondition(Condition{
		Name:     "broken",
		Check:    func(model.GameState) bool { panic("bad sensor") },
		Required: true,
	})

	s, err := r.Evaluate(newCtx(snapshot(100, 100, false), model.Warrior))
	if err != nil {
		t.Fatalf("condition panic should not surface as an error: %v", err)
	}
	if len(s) != 0 {
		t.Error("panicking required condition should count as unmet")
	}
}

func TestEvaluateAllConditions(t *testing.T) {
	r, _ := fixedRule(model.Medium, 1, 1)
	if ok, score := r.EvaluateAllConditions(snapshot(100, 100, false)); !ok || score != 1 {
		t.Errorf("no conditions: got (%v, %v), want (true, 1)", ok, score)
	}

	r.AddCondition(Condition{Name: "healthy", Check: HealthCondition(GreaterThan, 50), Weight: 2, Required: true})
	r.AddCondition(Condition{Name: "in_combat", Check: CombatCondition(true)})

	ok, score := r.EvaluateAllConditions(snapshot(100, 100, false))
	if !ok {
		t.Error("required condition holds, want true")
	}
	if !almostEqual(score, 2.0/3.0) {
		t.Errorf("score = %v, want 2/3", score)
	}

	if !r.RemoveCondition("in_combat") {
		t.Error("RemoveCondition should report removal")
	}
	if r.RemoveCondition("in_combat") {
		t.Error("second RemoveCondition should report nothing removed")
	}
	if len(r.Conditions()) != 1 {
		t.Errorf("conditions = %d, want 1", len(r.Conditions()))
	}
}

func TestSuggestedActions(t *testing.T) {
	r := New(Options{Name: "heal", SuggestedActions: []string{"light_heal"}}, &fixedLogic{})
	r.AddSuggestedAction("bandage")
	r.AddSuggestedAction("bandage")
	if got := r.SuggestedActions(); !slices.Equal(got, []string{"light_heal", "bandage"}) {
		t.Errorf("suggested = %v", got)
	}

	ctx := newCtx(snapshot(50, 100, false), model.Priest, "bandage")
	if got := r.AvailableSuggestedActions(ctx); !slices.Equal(got, []string{"bandage"}) {
		t.Errorf("available = %v, want [bandage]", got)
	}
	if !r.RemoveSuggestedAction("light_heal") || r.RemoveSuggestedAction("light_heal") {
		t.Error("RemoveSuggestedAction should succeed exactly once")
	}
}

func TestNew_ClampsNegatives(t *testing.T) {
	r := New(Options{Name: "neg", Weight: -2, Cooldown: -time.Second}, &fixedLogic{})
	if r.Weight() != 0 || r.Cooldown() != 0 {
		t.Errorf("weight=%v cooldown=%v, want 0, 0", r.Weight(), r.Cooldown())
	}
}

func TestMetrics(t *testing.T) {
	var m Metrics
	if m.SuccessRate() != 0 {
		t.Errorf("unused success rate = %v, want 0", m.SuccessRate())
	}
	if m.EffectivenessRating() != 0.5 {
		t.Errorf("unused effectiveness = %v, want 0.5", m.EffectivenessRating())
	}

	m.record(20, true, t0)
	m.record(0, false, t0.Add(time.Second))
	if m.SuccessRate() != 50 {
		t.Errorf("success rate = %v, want 50", m.SuccessRate())
	}
	if m.AverageScore != 10 {
		t.Errorf("average = %v, want 10", m.AverageScore)
	}
	// 0.5×0.5 + 0.02×0.3 + 1×0.2
	if !almostEqual(m.EffectivenessRating(), 0.456) {
		t.Errorf("effectiveness = %v, want 0.456", m.EffectivenessRating())
	}
	if !m.LastSuccess.Equal(t0) || !m.LastActivation.Equal(t0.Add(time.Second)) {
		t.Errorf("timestamps = %v / %v", m.LastSuccess, m.LastActivation)
	}
}

func TestResetMetrics(t *testing.T) {
	r, _ := fixedRule(model.Medium, 1, 1)
	r.Evaluate(newCtx(snapshot(100, 100, false), model.Warrior))
	r.ResetMetrics()
	if r.Metrics().Activations != 0 || len(r.RecentReasoning()) != 0 {
		t.Error("ResetMetrics should clear counters and trace")
	}
}
