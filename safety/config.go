package safety

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Level selects how strictly the manager reacts to suspicious behaviour.
type Level string

const (
	Strict   Level = "strict"
	Normal   Level = "normal"
	Relaxed  Level = "relaxed"
	Disabled Level = "disabled" // tests only
)

func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(s)); l {
	case Strict, Normal, Relaxed, Disabled:
		return l, nil
	}
	return "", fmt.Errorf("unknown safety level %q", s)
}

func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// ThreatLevel grades a safety event.
type ThreatLevel int

const (
	ThreatNone ThreatLevel = iota
	ThreatLow
	ThreatMedium
	ThreatHigh
	ThreatCritical
)

func (t ThreatLevel) String() string {
	switch t {
	case ThreatNone:
		return "NONE"
	case ThreatLow:
		return "LOW"
	case ThreatMedium:
		return "MEDIUM"
	case ThreatHigh:
		return "HIGH"
	case ThreatCritical:
		return "CRITICAL"
	}
	return fmt.Sprintf("ThreatLevel(%d)", int(t))
}

// slogLevel maps a threat to the level it is logged at.
func (t ThreatLevel) slogLevel() slog.Level {
	switch {
	case t >= ThreatHigh:
		return slog.LevelError
	case t == ThreatMedium:
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// ActionKind selects the per-type rate limiter an action counts against.
type ActionKind string

const (
	KindGeneral   ActionKind = "general"
	KindClick     ActionKind = "click"
	KindKeystroke ActionKind = "keystroke"
)

type Config struct {
	Level Level `yaml:"level"`

	MaxActionsPerMinute    int `yaml:"max_actions_per_minute"`
	MaxActionsPerHour      int `yaml:"max_actions_per_hour"`
	MaxClicksPerMinute     int `yaml:"max_clicks_per_minute"`
	MaxKeystrokesPerMinute int `yaml:"max_keystrokes_per_minute"`

	MaxSessionDuration time.Duration `yaml:"max_session_duration"`
	BreakInterval      time.Duration `yaml:"break_interval"` // zero disables mandatory breaks
	BreakDuration      time.Duration `yaml:"break_duration"`

	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`

	MonitorSystemResources bool    `yaml:"monitor_system_resources"`
	MaxCPUPercent          float64 `yaml:"max_cpu_percent"`
	MaxMemoryPercent       float64 `yaml:"max_memory_percent"`

	LogAllActions   bool `yaml:"log_all_actions"`
	LogSafetyEvents bool `yaml:"log_safety_events"`
	AuditTrailSize  int  `yaml:"audit_trail_size"`
}

func DefaultConfig() Config {
	return Config{
		Level:                  Normal,
		MaxActionsPerMinute:    30,
		MaxActionsPerHour:      1200,
		MaxClicksPerMinute:     40,
		MaxKeystrokesPerMinute: 50,
		MaxSessionDuration:     2 * time.Hour,
		BreakInterval:          time.Hour,
		BreakDuration:          5 * time.Minute,
		MaxConsecutiveFailures: 5,
		MonitorSystemResources: true,
		MaxCPUPercent:          80,
		MaxMemoryPercent:       80,
		LogAllActions:          true,
		LogSafetyEvents:        true,
		AuditTrailSize:         10000,
	}
}

func (c Config) Validate() error {
	var errs []error
	if _, err := ParseLevel(string(c.Level)); err != nil {
		errs = append(errs, err)
	}
	if c.MaxActionsPerMinute <= 0 || c.MaxActionsPerHour <= 0 {
		errs = append(errs, fmt.Errorf("action rate limits must be positive"))
	}
	if c.MaxClicksPerMinute <= 0 || c.MaxKeystrokesPerMinute <= 0 {
		errs = append(errs, fmt.Errorf("click and keystroke limits must be positive"))
	}
	if c.MaxSessionDuration <= 0 {
		errs = append(errs, fmt.Errorf("max session duration must be positive"))
	}
	if c.BreakInterval < 0 || c.BreakDuration < 0 {
		errs = append(errs, fmt.Errorf("break interval and duration must not be negative"))
	}
	if c.MaxConsecutiveFailures <= 0 {
		errs = append(errs, fmt.Errorf("max consecutive failures must be positive"))
	}
	if c.MaxCPUPercent <= 0 || c.MaxCPUPercent > 100 || c.MaxMemoryPercent <= 0 || c.MaxMemoryPercent > 100 {
		errs = append(errs, fmt.Errorf("resource ceilings must be in (0, 100]"))
	}
	if c.AuditTrailSize <= 0 {
		errs = append(errs, fmt.Errorf("audit trail size must be positive"))
	}
	return errors.Join(errs...)
}
