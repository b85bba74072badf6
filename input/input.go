// Package input provides the backends that turn executor instructions into
// keyboard and mouse events.
package input

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nstehr/autocast/executor"
)

// Backend is an executor.Input that holds resources.
type Backend interface {
	executor.Input
	Close() error
}

const (
	KindDryRun  = "dryrun"
	KindNative  = "native"
	KindBrowser = "browser"
)

type Config struct {
	Backend  string        `yaml:"backend"`
	URL      string        `yaml:"url"` // browser backend only
	Headless bool          `yaml:"headless"`
	Timeout  time.Duration `yaml:"timeout"` // per browser call
}

func DefaultConfig() Config {
	return Config{Backend: KindDryRun, Timeout: 2 * time.Second}
}

// Open builds the backend named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", KindDryRun:
		return NewDryRun(), nil
	case KindNative:
		return NewNative(), nil
	case KindBrowser:
		return NewBrowser(ctx, cfg)
	}
	return nil, fmt.Errorf("unknown input backend %q", cfg.Backend)
}

// splitCombination returns the modifiers and the final key of a combination.
func splitCombination(keys []string) (mods []string, key string, err error) {
	if len(keys) == 0 {
		return nil, "", fmt.Errorf("empty key combination")
	}
	return keys[:len(keys)-1], keys[len(keys)-1], nil
}
