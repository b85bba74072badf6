package safety

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// SystemStats is one host resource sample.
type SystemStats struct {
	CPUPercent    float64   `json:"cpuPercent"`
	MemoryPercent float64   `json:"memoryPercent"`
	DiskPercent   float64   `json:"diskPercent"`
	ProcessCount  int       `json:"processCount"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Sampler takes one resource sample.
type Sampler func(ctx context.Context) (SystemStats, error)

// HostSampler samples the local machine through gopsutil. CPU usage is
// measured over one second.
func HostSampler(ctx context.Context) (SystemStats, error) {
	var s SystemStats
	cpus, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		return s, fmt.Errorf("cpu percent: %w", err)
	}
	if len(cpus) > 0 {
		s.CPUPercent = cpus[0]
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return s, fmt.Errorf("virtual memory: %w", err)
	}
	s.MemoryPercent = vm.UsedPercent
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		s.DiskPercent = du.UsedPercent
	}
	if pids, err := process.PidsWithContext(ctx); err == nil {
		s.ProcessCount = len(pids)
	}
	s.UpdatedAt = time.Now()
	return s, nil
}

// SystemMonitor samples host resources on an interval and keeps the latest
// sample for the safety checks.
type SystemMonitor struct {
	mu        sync.RWMutex
	interval  time.Duration
	sample    Sampler
	stats     SystemStats
	callbacks []func(resource string, value float64)
}

// NewSystemMonitor samples every interval. A nil sampler uses HostSampler.
func NewSystemMonitor(interval time.Duration, sample Sampler) *SystemMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if sample == nil {
		sample = HostSampler
	}
	return &SystemMonitor{interval: interval, sample: sample}
}

// OnSample registers fn to receive "cpu" and "memory" readings after each
// successful sample.
func (m *SystemMonitor) OnSample(fn func(resource string, value float64)) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, fn)
	m.mu.Unlock()
}

// Run samples until ctx is cancelled. Sampling errors are logged and the
// loop keeps going.
func (m *SystemMonitor) Run(ctx context.Context) error {
	slog.Info("system monitoring started", "interval", m.interval)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		if err := m.Update(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("failed to update system stats", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.Info("system monitoring stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Update takes one sample and notifies callbacks.
func (m *SystemMonitor) Update(ctx context.Context) error {
	s, err := m.sample(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.stats = s
	cbs := slices.Clone(m.callbacks)
	m.mu.Unlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("resource callback panicked", "panic", r)
				}
			}()
			cb("cpu", s.CPUPercent)
			cb("memory", s.MemoryPercent)
		}()
	}
	return nil
}

func (m *SystemMonitor) Stats() SystemStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
