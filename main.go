package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nstehr/autocast/automation"
	"github.com/nstehr/autocast/config"
	"github.com/nstehr/autocast/decision"
	"github.com/nstehr/autocast/executor"
	"github.com/nstehr/autocast/input"
	"github.com/nstehr/autocast/ipc"
	"github.com/nstehr/autocast/monitor"
	"github.com/nstehr/autocast/profile"
	"github.com/nstehr/autocast/rules"
	"github.com/nstehr/autocast/safety"
)

const banner = `
  ___  _   _ _____ ___   ___   _   ___ _____
 / _ \| | | |_   _/ _ \ / __| /_\ / __|_   _|
| (_) | |_| | | || (_) | (__ / _ \\__ \ | |
 \__,_|\___/  |_| \___/ \___/_/ \_\___/ |_|

Priority-Rule Combat Automation`

type flags struct {
	config      string
	profile     string
	profilesDir string
	style       string
	logLevel    string
	socket      string
	backend     string
	auditExport string
	autostart   bool
}

func main() {
	var f flags
	flag.StringVar(&f.config, "config", "", "YAML configuration file")
	flag.StringVar(&f.profile, "profile", "", "profile to load (built-in name or a profile from -profiles-dir)")
	flag.StringVar(&f.profilesDir, "profiles-dir", "", "directory of YAML profiles")
	flag.StringVar(&f.style, "style", "", "play style for built-in profiles")
	flag.StringVar(&f.logLevel, "log-level", "info", "debug, info, warn or error")
	flag.StringVar(&f.socket, "socket", "", "unix socket for game state producers and controllers")
	flag.StringVar(&f.backend, "backend", "", "input backend: dryrun, native or browser")
	flag.StringVar(&f.auditExport, "audit-export", "", "write the safety audit trail as JSON on exit")
	flag.BoolVar(&f.autostart, "autostart", true, "start the engine immediately instead of waiting for a start command")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(f.logLevel)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	fmt.Println(banner)

	if err := run(f); err != nil {
		slog.Error("autocast exited", "error", err)
		os.Exit(1)
	}
}

// loadConfig applies the command line over the config file.
func loadConfig(f flags) (config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return cfg, err
	}
	if f.profile != "" {
		cfg.Profile.Name = f.profile
	}
	if f.profilesDir != "" {
		cfg.Profile.Dir = f.profilesDir
	}
	if f.style != "" {
		cfg.Profile.Style = rules.PlayStyle(f.style)
	}
	if f.socket != "" {
		cfg.IPC.Socket = f.socket
	}
	if f.backend != "" {
		cfg.Input.Backend = f.backend
	}
	return cfg, cfg.Validate()
}

func run(f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	slog.Info("starting autocast", "profile", cfg.Profile.Name, "backend", cfg.Input.Backend,
		"socket", cfg.IPC.Socket, "safety", cfg.Safety.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	in, err := input.Open(ctx, cfg.Input)
	if err != nil {
		return fmt.Errorf("input: %w", err)
	}
	defer in.Close()

	feed := ipc.NewFeed()
	mon, err := monitor.New(feed, cfg.Monitor)
	if err != nil {
		return err
	}
	ex, err := executor.New(in, cfg.Execution)
	if err != nil {
		return err
	}

	sysmon := safety.NewSystemMonitor(cfg.System.Interval, nil)
	safetyOpts := []safety.Option{safety.WithSystemMonitor(sysmon)}
	if cfg.Audit.Enabled {
		store, err := safety.OpenSQLiteAudit(cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("audit store: %w", err)
		}
		defer store.Close()
		safetyOpts = append(safetyOpts, safety.WithAuditSink(store))
		slog.Info("safety audit persisted", "path", cfg.Audit.Path)
	}
	sm, err := safety.NewManager(cfg.Safety, safetyOpts...)
	if err != nil {
		return err
	}

	o, err := automation.New(mon, ex, sm, cfg.Engine,
		automation.WithEngineOptions(decision.WithConfig(cfg.Decision)))
	if err != nil {
		return err
	}
	if err := registerProfiles(o, cfg.Profile); err != nil {
		return err
	}
	if err := o.LoadProfile(cfg.Profile.Name); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	srv := ipc.NewServer(cfg.IPC.Socket, automation.NewBridge(gctx, o, feed).Setup)
	o.AddCallback("ipc-status", func(string, any) {
		if err := srv.Broadcast(ipc.TypeStatus, o.Status()); err != nil {
			slog.Debug("status broadcast incomplete", "error", err)
		}
	}, automation.EventProfileLoaded, automation.EventEngineStarted, automation.EventEngineStopped,
		automation.EventEnginePaused, automation.EventEngineResumed, automation.EventEmergencyStop)

	g.Go(func() error { return srv.ListenAndServe(gctx) })
	if cfg.Safety.MonitorSystemResources {
		g.Go(func() error { return sysmon.Run(gctx) })
	}
	g.Go(func() error {
		if f.autostart {
			return o.Run(gctx)
		}
		slog.Info("waiting for a start command", "socket", cfg.IPC.Socket)
		<-gctx.Done()
		o.Stop()
		return nil
	})

	err = g.Wait()
	slog.Info("shutting down", "stats", o.Stats())

	if f.auditExport != "" {
		if xerr := exportAudit(sm, f.auditExport); xerr != nil {
			err = errors.Join(err, xerr)
		}
	}
	return err
}

// registerProfiles makes the built-ins and any YAML profiles selectable.
// A directory profile shadows a built-in of the same name.
func registerProfiles(o *automation.Orchestrator, pc config.ProfileConfig) error {
	for _, name := range profile.BuiltinNames() {
		p, err := profile.Builtin(name, pc.Style)
		if err != nil {
			return fmt.Errorf("built-in profile %s: %w", name, err)
		}
		o.RegisterProfile(name, p)
	}
	if pc.Dir == "" {
		return nil
	}
	loaded, err := profile.LoadDir(pc.Dir)
	if err != nil {
		return fmt.Errorf("profiles: %w", err)
	}
	for _, p := range loaded {
		o.RegisterProfile(strings.ToLower(p.Name), p)
	}
	return nil
}

func exportAudit(sm *safety.Manager, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := sm.ExportAuditTrail(f); err != nil {
		f.Close()
		return err
	}
	slog.Info("audit trail exported", "path", path)
	return f.Close()
}
