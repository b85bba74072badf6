package executor

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	MinActionDelay time.Duration `yaml:"min_action_delay"`
	MaxActionDelay time.Duration `yaml:"max_action_delay"`
	TypingDelay    time.Duration `yaml:"typing_delay_per_char"`
	TimingVariance float64       `yaml:"timing_variance"`         // fraction, 0.1 is ±10%
	ClickJitter    int           `yaml:"click_position_variance"` // pixels

	MaxActionsPerMinute    int `yaml:"max_actions_per_minute"`
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`

	RetryFailed bool          `yaml:"retry_failed_actions"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`

	HistorySize     int  `yaml:"execution_history_size"`
	DetailedLogging bool `yaml:"enable_detailed_logging"`
}

func DefaultConfig() Config {
	return Config{
		MinActionDelay:         100 * time.Millisecond,
		MaxActionDelay:         300 * time.Millisecond,
		TypingDelay:            20 * time.Millisecond,
		TimingVariance:         0.1,
		ClickJitter:            3,
		MaxActionsPerMinute:    30,
		MaxConsecutiveFailures: 5,
		RetryFailed:            true,
		MaxRetries:             2,
		RetryDelay:             time.Second,
		HistorySize:            100,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.MinActionDelay < 0 || c.MaxActionDelay < c.MinActionDelay {
		errs = append(errs, fmt.Errorf("action delay range [%v, %v] is invalid", c.MinActionDelay, c.MaxActionDelay))
	}
	if c.TimingVariance < 0 || c.TimingVariance >= 1 {
		errs = append(errs, fmt.Errorf("timing variance must be in [0, 1)"))
	}
	if c.ClickJitter < 0 {
		errs = append(errs, fmt.Errorf("click jitter must not be negative"))
	}
	if c.MaxActionsPerMinute <= 0 || c.MaxConsecutiveFailures <= 0 {
		errs = append(errs, fmt.Errorf("action and failure limits must be positive"))
	}
	if c.MaxRetries < 0 || c.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("retries must not be negative"))
	}
	if c.HistorySize <= 0 {
		errs = append(errs, fmt.Errorf("history size must be positive"))
	}
	return errors.Join(errs...)
}
