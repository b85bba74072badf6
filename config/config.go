// Package config loads the bot's YAML configuration file. Each section is
// the typed config of the package it configures.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nstehr/autocast/automation"
	"github.com/nstehr/autocast/decision"
	"github.com/nstehr/autocast/executor"
	"github.com/nstehr/autocast/input"
	"github.com/nstehr/autocast/monitor"
	"github.com/nstehr/autocast/rules"
	"github.com/nstehr/autocast/safety"
)

type Config struct {
	Engine    automation.Config `yaml:"engine"`
	Decision  decision.Config   `yaml:"decision"`
	Safety    safety.Config     `yaml:"safety"`
	Execution executor.Config   `yaml:"execution"`
	Monitor   monitor.Config    `yaml:"monitor"`
	IPC       IPCConfig         `yaml:"ipc"`
	Input     input.Config      `yaml:"input"`
	Audit     AuditConfig       `yaml:"audit"`
	Profile   ProfileConfig     `yaml:"profile"`
	System    SystemConfig      `yaml:"system"`
}

type IPCConfig struct {
	Socket string `yaml:"socket"`
}

// AuditConfig controls the sqlite copy of the safety audit trail.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type ProfileConfig struct {
	Name  string          `yaml:"name"`
	Style rules.PlayStyle `yaml:"style"`
	Dir   string          `yaml:"dir"` // extra YAML profiles, optional
}

// SystemConfig paces host resource sampling for the safety checks.
type SystemConfig struct {
	Interval time.Duration `yaml:"interval"`
}

func Default() Config {
	return Config{
		Engine:    automation.DefaultConfig(),
		Decision:  decision.DefaultConfig(),
		Safety:    safety.DefaultConfig(),
		Execution: executor.DefaultConfig(),
		Monitor:   monitor.DefaultConfig(),
		IPC:       IPCConfig{Socket: "/tmp/autocast.sock"},
		Input:     input.DefaultConfig(),
		Audit:     AuditConfig{Path: "autocast-audit.db"},
		Profile:   ProfileConfig{Name: "warrior", Style: rules.Balanced},
		System:    SystemConfig{Interval: 5 * time.Second},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Unknown keys are rejected so typos do not silently fall back.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := decode(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func decode(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	section := func(name string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	section("engine", c.Engine.Validate())
	section("decision", c.Decision.Validate())
	section("safety", c.Safety.Validate())
	section("execution", c.Execution.Validate())
	section("monitor", c.Monitor.Validate())

	switch strings.ToLower(c.Input.Backend) {
	case "", input.KindDryRun, input.KindNative:
	case input.KindBrowser:
		if c.Input.URL == "" {
			errs = append(errs, errors.New("input: browser backend needs a url"))
		}
	default:
		errs = append(errs, fmt.Errorf("input: unknown backend %q", c.Input.Backend))
	}
	if c.IPC.Socket == "" {
		errs = append(errs, errors.New("ipc: socket path is required"))
	}
	if c.Audit.Enabled && c.Audit.Path == "" {
		errs = append(errs, errors.New("audit: path is required when enabled"))
	}
	if _, err := rules.ParsePlayStyle(string(c.Profile.Style)); err != nil {
		errs = append(errs, fmt.Errorf("profile: %w", err))
	}
	if c.System.Interval <= 0 {
		errs = append(errs, errors.New("system: interval must be positive"))
	}
	return errors.Join(errs...)
}
