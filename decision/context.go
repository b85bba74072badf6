package decision

import (
	"time"

	"github.com/nstehr/autocast/model"
)

// Context bundles everything a rule may look at during one decision cycle.
type Context struct {
	State     model.GameState
	Class     model.ClassType
	Available map[string]*ActionInstance // executable right now
	Cooldowns map[string]model.Cooldown
	Recent    []model.ActionResult
	Timestamp time.Time

	LastDecision       time.Time
	DecisionsPerMinute float64
}

// CanUse reports whether action passed the executability filter for this cycle.
func (c *Context) CanUse(action string) bool {
	_, ok := c.Available[action]
	return ok
}

// Score is one rule's vote for one action.
type Score struct {
	Action     string         `json:"action"`
	Value      float64        `json:"score"`
	Priority   model.Priority `json:"priority"`
	Reasoning  []string       `json:"reasoning,omitempty"`
	Confidence float64        `json:"confidence"`
	Timestamp  time.Time      `json:"timestamp"`
}

// AddReasoning appends reason and shifts the score by modifier.
func (s *Score) AddReasoning(reason string, modifier float64) {
	s.Reasoning = append(s.Reasoning, reason)
	s.Value += modifier
}

// Rule is the contract the engine evaluates. CanApply is a pure gate;
// Evaluate returns the rule's weighted votes. An empty slice with a nil error
// means the rule had nothing to propose.
type Rule interface {
	Name() string
	Priority() model.Priority
	Weight() float64
	Enabled() bool
	SetEnabled(bool)
	CanApply(ctx *Context) bool
	Evaluate(ctx *Context) ([]Score, error)
}
