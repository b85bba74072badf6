package decision

import (
	"fmt"
	"sync"
	"time"

	"github.com/nstehr/autocast/model"
)

const recentResultsSize = 10

// ActionInstance binds an ActionDefinition to its runtime state: cooldown,
// usage counters and a short execution history.
type ActionInstance struct {
	mu         sync.Mutex
	definition model.ActionDefinition
	now        func() time.Time

	enabled  bool
	lastUsed time.Time

	usageCount   int
	successCount int
	failureCount int
	totalDamage  float64
	totalHealing float64

	avgExecution time.Duration
	recent       []model.ActionResult
}

// NewActionInstance wraps def. A nil clock uses time.Now.
func NewActionInstance(def model.ActionDefinition, now func() time.Time) *ActionInstance {
	if now == nil {
		now = time.Now
	}
	return &ActionInstance{definition: def, now: now, enabled: true}
}

func (a *ActionInstance) Definition() model.ActionDefinition { return a.definition }

func (a *ActionInstance) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

func (a *ActionInstance) SetEnabled(v bool) {
	a.mu.Lock()
	a.enabled = v
	a.mu.Unlock()
}

func (a *ActionInstance) LastUsed() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastUsed
}

// SuccessRate is a percentage; an unused action reports 100.
func (a *ActionInstance) SuccessRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.successRate()
}

func (a *ActionInstance) successRate() float64 {
	total := a.successCount + a.failureCount
	if total == 0 {
		return 100
	}
	return float64(a.successCount) / float64(total) * 100
}

func (a *ActionInstance) CooldownRemaining() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cooldownRemaining()
}

func (a *ActionInstance) cooldownRemaining() time.Duration {
	if a.definition.Cooldown <= 0 || a.lastUsed.IsZero() {
		return 0
	}
	return max(0, a.definition.Cooldown-a.now().Sub(a.lastUsed))
}

func (a *ActionInstance) IsReady() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cooldownRemaining() <= 0 && a.enabled
}

// CanExecute returns false with a display reason when the action cannot run
// against s.
func (a *ActionInstance) CanExecute(s model.GameState, class model.ClassType) (bool, string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.enabled {
		return false, "Action disabled"
	}
	if rem := a.cooldownRemaining(); rem > 0 {
		return false, fmt.Sprintf("Cooldown remaining: %.1fs", rem.Seconds())
	}
	if !a.definition.MeetsRequirements(s, class) {
		return false, "Requirements not met"
	}
	if s.Casting && a.definition.GlobalCooldown {
		return false, "Currently casting"
	}
	if a.definition.RequiresCombat && !s.InCombat {
		return false, "Requires combat"
	}
	if a.definition.RequiresTarget && !s.Target.Exists {
		return false, "Requires target"
	}
	return true, ""
}

// RecordUsage starts the cooldown and folds result into the counters.
func (a *ActionInstance) RecordUsage(result model.ActionResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.lastUsed = a.now()
	a.usageCount++
	if result.Success {
		a.successCount++
		a.totalDamage += result.DamageDealt
		a.totalHealing += result.HealingDone
	} else {
		a.failureCount++
	}

	a.recent = append(a.recent, result)
	if len(a.recent) > recentResultsSize {
		a.recent = a.recent[len(a.recent)-recentResultsSize:]
	}
	if result.ExecutionTime > 0 {
		const alpha = 0.2
		a.avgExecution = time.Duration(alpha*float64(result.ExecutionTime) + (1-alpha)*float64(a.avgExecution))
	}
}

func (a *ActionInstance) resetStats() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usageCount, a.successCount, a.failureCount = 0, 0, 0
	a.totalDamage, a.totalHealing = 0, 0
	a.recent = nil
}

// ActionStats is a point-in-time view of an ActionInstance.
type ActionStats struct {
	UsageCount        int           `json:"usageCount"`
	SuccessRate       float64       `json:"successRate"`
	TotalDamage       float64       `json:"totalDamage"`
	TotalHealing      float64       `json:"totalHealing"`
	CooldownRemaining time.Duration `json:"cooldownRemaining"`
	AvgExecutionTime  time.Duration `json:"avgExecutionTime"`
	Enabled           bool          `json:"enabled"`
	RecentResults     int           `json:"recentResults"`
}

func (a *ActionInstance) Stats() ActionStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ActionStats{
		UsageCount:        a.usageCount,
		SuccessRate:       a.successRate(),
		TotalDamage:       a.totalDamage,
		TotalHealing:      a.totalHealing,
		CooldownRemaining: a.cooldownRemaining(),
		AvgExecutionTime:  a.avgExecution,
		Enabled:           a.enabled,
		RecentResults:     len(a.recent),
	}
}
