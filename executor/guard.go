package executor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nstehr/autocast/safety"
)

// guard is the executor's own safety gate, independent of safety.Manager so
// the executor can run standalone.
type guard struct {
	apm         *safety.RateLimiter
	maxFailures int

	consecutive int
	total       int
	stopped     bool
}

func newGuard(cfg Config, now func() time.Time) *guard {
	return &guard{
		apm:         safety.NewRateLimiter(cfg.MaxActionsPerMinute, time.Minute, now),
		maxFailures: cfg.MaxConsecutiveFailures,
	}
}

func (g *guard) canExecute() (bool, string) {
	if g.stopped {
		return false, "Emergency stop activated"
	}
	if !g.apm.Allow() {
		return false, fmt.Sprintf("APM limit exceeded (%d/min)", g.apm.Count())
	}
	if g.consecutive >= g.maxFailures {
		return false, fmt.Sprintf("Too many consecutive failures (%d)", g.consecutive)
	}
	return true, ""
}

func (g *guard) recordStart() { g.apm.Record() }

func (g *guard) recordResult(success bool) {
	if success {
		g.consecutive = 0
		return
	}
	g.consecutive++
	g.total++
}

func (g *guard) emergencyStop() {
	g.stopped = true
	slog.Warn("execution emergency stop activated")
}

func (g *guard) reset() {
	g.stopped = false
	g.consecutive = 0
	slog.Info("execution emergency stop reset")
}
