package automation

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	FPS float64 `yaml:"fps"` // target loop rate

	// MaxStateAge is the oldest snapshot the loop will act on.
	MaxStateAge time.Duration `yaml:"max_state_age"`

	AutoRecovery        bool          `yaml:"auto_recovery"`
	MaxRecoveryAttempts int           `yaml:"max_recovery_attempts"`
	RecoveryDelay       time.Duration `yaml:"recovery_delay"`
	StopTimeout         time.Duration `yaml:"stop_timeout"`

	// SlowCycle is the cycle time above which a warning is logged.
	// PerformanceLogging adds a debug line for every other cycle.
	SlowCycle          time.Duration `yaml:"slow_cycle"`
	PerformanceLogging bool          `yaml:"performance_logging"`
	LogAllDecisions    bool          `yaml:"log_all_decisions"`
	LogStateChanges    bool          `yaml:"log_state_changes"`

	// TakeBreaks pauses acting for the safety manager's break duration
	// whenever a mandatory break comes due.
	TakeBreaks bool `yaml:"take_breaks"`

	HistorySize int `yaml:"performance_history_size"`
}

func DefaultConfig() Config {
	return Config{
		FPS:                 5,
		MaxStateAge:         2 * time.Second,
		AutoRecovery:        true,
		MaxRecoveryAttempts: 3,
		RecoveryDelay:       5 * time.Second,
		StopTimeout:         5 * time.Second,
		SlowCycle:           500 * time.Millisecond,
		TakeBreaks:          true,
		HistorySize:         100,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.FPS <= 0 || c.FPS > 60 {
		errs = append(errs, fmt.Errorf("fps must be in (0, 60], got %v", c.FPS))
	}
	if c.MaxRecoveryAttempts < 0 || c.RecoveryDelay < 0 {
		errs = append(errs, fmt.Errorf("recovery settings must not be negative"))
	}
	if c.StopTimeout <= 0 || c.SlowCycle <= 0 || c.MaxStateAge <= 0 {
		errs = append(errs, fmt.Errorf("stop timeout, slow cycle and max state age must be positive"))
	}
	if c.HistorySize <= 0 {
		errs = append(errs, fmt.Errorf("performance history size must be positive"))
	}
	return errors.Join(errs...)
}

// Interval is the loop period implied by FPS.
func (c Config) Interval() time.Duration {
	return time.Duration(float64(time.Second) / c.FPS)
}
