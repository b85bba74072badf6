package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/nstehr/autocast/decision"
	"github.com/nstehr/autocast/model"
)

// CompileCondition compiles a boolean expression over Env.
func CompileCondition(src string) (*vm.Program, error) {
	prog, err := expr.Compile(src, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", src, err)
	}
	return prog, nil
}

// CompileScore compiles a numeric expression over Env.
func CompileScore(src string) (*vm.Program, error) {
	prog, err := expr.Compile(src, expr.Env(Env{}), expr.AsFloat64())
	if err != nil {
		return nil, fmt.Errorf("compile score %q: %w", src, err)
	}
	return prog, nil
}

// ExprCheck turns a compiled condition into a Check. Runtime errors make the
// check false.
func ExprCheck(prog *vm.Program) Check {
	return func(s model.GameState) bool {
		out, err := vm.Run(prog, Env{State: s})
		if err != nil {
			return false
		}
		ok, _ := out.(bool)
		return ok
	}
}

// ActionScore pairs an action with the expression producing its base score.
type ActionScore struct {
	Action string `yaml:"action" json:"action"`
	Score  string `yaml:"score" json:"score"`
}

// ExprSpec declares a rule entirely in expressions, as written in profile
// files. All When clauses must hold for the rule to score.
type ExprSpec struct {
	Name        string            `yaml:"name" json:"name"`
	Category    Category          `yaml:"category" json:"category"`
	Priority    model.Priority    `yaml:"priority" json:"priority"`
	Weight      float64           `yaml:"weight" json:"weight"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Cooldown    time.Duration     `yaml:"cooldown,omitempty" json:"cooldown,omitempty"`
	MinInterval time.Duration     `yaml:"min_interval,omitempty" json:"min_interval,omitempty"`
	Classes     []model.ClassType `yaml:"classes,omitempty" json:"classes,omitempty"`
	When        []string          `yaml:"when" json:"when"`
	Scores      []ActionScore     `yaml:"scores" json:"scores"`
	Confidence  float64           `yaml:"confidence,omitempty" json:"confidence,omitempty"`
}

type compiledScore struct {
	action string
	src    string
	prog   *vm.Program
}

// exprLogic evaluates compiled When clauses and score expressions.
type exprLogic struct {
	when       []*vm.Program
	whenSrc    []string
	scores     []compiledScore
	confidence float64
}

// NewExprRule compiles spec into a Rule. When clauses are also registered
// as optional conditions for reporting; only the logic gate sees the class
// and usable actions, so it alone decides.
func NewExprRule(spec ExprSpec) (*Rule, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("expression rule: missing name")
	}
	if len(spec.Scores) == 0 {
		return nil, fmt.Errorf("expression rule %q: no scores", spec.Name)
	}
	if spec.Priority == 0 {
		spec.Priority = model.Medium
	}
	if spec.Weight == 0 {
		spec.Weight = 1
	}
	if spec.Category == "" {
		spec.Category = CategoryUtility
	}
	if spec.Confidence == 0 {
		spec.Confidence = 0.7
	}

	l := &exprLogic{confidence: spec.Confidence}
	for _, src := range spec.When {
		prog, err := CompileCondition(src)
		if err != nil {
			return nil, fmt.Errorf("expression rule %q: %w", spec.Name, err)
		}
		l.when = append(l.when, prog)
		l.whenSrc = append(l.whenSrc, src)
	}
	actions := make([]string, 0, len(spec.Scores))
	for _, sc := range spec.Scores {
		prog, err := CompileScore(sc.Score)
		if err != nil {
			return nil, fmt.Errorf("expression rule %q: %w", spec.Name, err)
		}
		l.scores = append(l.scores, compiledScore{action: sc.Action, src: sc.Score, prog: prog})
		actions = append(actions, sc.Action)
	}

	r := New(Options{
		Name:              spec.Name,
		Category:          spec.Category,
		Priority:          spec.Priority,
		Weight:            spec.Weight,
		Description:       spec.Description,
		Cooldown:          spec.Cooldown,
		MinInterval:       spec.MinInterval,
		SuggestedActions:  actions,
		ClassRestrictions: spec.Classes,
	}, l)
	for i, prog := range l.when {
		r.AddCondition(Condition{Name: l.whenSrc[i], Check: ExprCheck(prog)})
	}
	return r, nil
}

func (l *exprLogic) EvaluateConditions(ctx *decision.Context) bool {
	env := NewEnv(ctx)
	for _, prog := range l.when {
		out, err := vm.Run(prog, env)
		if err != nil {
			return false
		}
		if ok, _ := out.(bool); !ok {
			return false
		}
	}
	return true
}

func (l *exprLogic) CalculateActionScores(ctx *decision.Context) ([]decision.Score, error) {
	env := NewEnv(ctx)
	var scores []decision.Score
	for _, sc := range l.scores {
		if !ctx.CanUse(sc.action) {
			continue
		}
		out, err := vm.Run(sc.prog, env)
		if err != nil {
			return nil, fmt.Errorf("score %s: %w", sc.action, err)
		}
		v, ok := out.(float64)
		if !ok {
			return nil, fmt.Errorf("score %s: expression returned %T", sc.action, out)
		}
		if v <= 0 {
			continue
		}
		s := decision.Score{Action: sc.action, Value: v, Confidence: l.confidence}
		s.AddReasoning(fmt.Sprintf("%s: %s", sc.action, sc.src), 0)
		scores = append(scores, s)
	}
	return scores, nil
}

func (l *exprLogic) Reasoning(*decision.Context) []string {
	if len(l.whenSrc) == 0 {
		return nil
	}
	return []string{"When " + strings.Join(l.whenSrc, " && ")}
}
