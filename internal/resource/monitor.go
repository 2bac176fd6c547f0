// Package resource samples process memory and CPU and turns the readings
// into scale-up/scale-down signals.
package resource

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"
)

const bytesPerMB = 1024 * 1024

// Pressure classifies a sample against the configured ceilings.
type Pressure int

const (
	// PressureNormal sits inside the hysteresis band.
	PressureNormal Pressure = iota
	// PressureLow leaves room to scale up.
	PressureLow
	// PressureHigh calls for scaling down.
	PressureHigh
)

func (p Pressure) String() string {
	switch p {
	case PressureLow:
		return "low"
	case PressureHigh:
		return "high"
	default:
		return "normal"
	}
}

// Config sets the ceilings and hysteresis thresholds.
type Config struct {
	MaxMemoryMB   float64
	MaxCPUPercent float64
	// HighWater is the ratio of either ceiling above which pressure is high.
	HighWater float64
	// LowWater is the ratio of both ceilings below which pressure is low.
	LowWater float64
}

// Snapshot is a point reading.
type Snapshot struct {
	MemoryMB    float64   `json:"memory_mb"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryRatio float64   `json:"memory_ratio"`
	CPURatio    float64   `json:"cpu_ratio"`
	Goroutines  int       `json:"goroutines"`
	At          time.Time `json:"at"`
}

// Usage is a raw reading from a Sampler.
type Usage struct {
	RSSBytes   uint64
	CPUSeconds float64
}

// Sampler reads cumulative process usage.
type Sampler interface {
	Usage() (Usage, error)
}

// Monitor answers scale questions from live samples.
type Monitor struct {
	cfg     Config
	sampler Sampler
	now     func() time.Time
	logger  *zap.Logger

	mu      sync.Mutex
	lastCPU float64
	lastAt  time.Time
}

// New builds a Monitor reading /proc/self, or the Go runtime where procfs
// is unavailable.
func New(cfg Config, logger *zap.Logger) *Monitor {
	var sampler Sampler
	ps, err := newProcSampler()
	if err != nil {
		logger.Warn("procfs unavailable; falling back to runtime memory stats", zap.Error(err))
		sampler = runtimeSampler{}
	} else {
		sampler = ps
	}
	return NewWithSampler(cfg, sampler, time.Now, logger)
}

// NewWithSampler builds a Monitor on an explicit sampler and clock.
func NewWithSampler(cfg Config, sampler Sampler, now func() time.Time, logger *zap.Logger) *Monitor {
	if cfg.HighWater <= 0 {
		cfg.HighWater = 0.85
	}
	if cfg.LowWater <= 0 {
		cfg.LowWater = 0.70
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{cfg: cfg, sampler: sampler, now: now, logger: logger}
}

// Sample takes a reading. CPU percent is measured since the previous call
// and is zero on the first one.
func (m *Monitor) Sample() (Snapshot, error) {
	usage, err := m.sampler.Usage()
	if err != nil {
		return Snapshot{}, fmt.Errorf("sample process usage: %w", err)
	}
	now := m.now()

	m.mu.Lock()
	var cpuPct float64
	if !m.lastAt.IsZero() {
		if wall := now.Sub(m.lastAt).Seconds(); wall > 0 {
			cpuPct = (usage.CPUSeconds - m.lastCPU) / wall * 100
		}
	}
	m.lastCPU = usage.CPUSeconds
	m.lastAt = now
	m.mu.Unlock()

	if cpuPct < 0 {
		cpuPct = 0
	}
	snap := Snapshot{
		MemoryMB:   float64(usage.RSSBytes) / bytesPerMB,
		CPUPercent: cpuPct,
		Goroutines: runtime.NumGoroutine(),
		At:         now,
	}
	if m.cfg.MaxMemoryMB > 0 {
		snap.MemoryRatio = snap.MemoryMB / m.cfg.MaxMemoryMB
	}
	if m.cfg.MaxCPUPercent > 0 {
		snap.CPURatio = snap.CPUPercent / m.cfg.MaxCPUPercent
	}
	return snap, nil
}

// Classify applies the hysteresis band to a snapshot.
func (m *Monitor) Classify(s Snapshot) Pressure {
	switch {
	case s.MemoryRatio > m.cfg.HighWater || s.CPURatio > m.cfg.HighWater:
		return PressureHigh
	case s.MemoryRatio < m.cfg.LowWater && s.CPURatio < m.cfg.LowWater:
		return PressureLow
	default:
		return PressureNormal
	}
}

// Pressure samples and classifies. A failed sample reports PressureNormal
// so the concurrency level stays put.
func (m *Monitor) Pressure() Pressure {
	snap, err := m.Sample()
	if err != nil {
		m.logger.Warn("resource sample failed", zap.Error(err))
		return PressureNormal
	}
	return m.Classify(snap)
}

// ForceCleanup runs a collection and returns freed memory to the OS.
func (m *Monitor) ForceCleanup() {
	runtime.GC()
	debug.FreeOSMemory()
}

type procSampler struct {
	proc procfs.Proc
}

func newProcSampler() (*procSampler, error) {
	proc, err := procfs.Self()
	if err != nil {
		return nil, fmt.Errorf("open /proc/self: %w", err)
	}
	if _, err := proc.Stat(); err != nil {
		return nil, fmt.Errorf("read /proc/self/stat: %w", err)
	}
	return &procSampler{proc: proc}, nil
}

func (p *procSampler) Usage() (Usage, error) {
	stat, err := p.proc.Stat()
	if err != nil {
		return Usage{}, fmt.Errorf("read proc stat: %w", err)
	}
	return Usage{
		RSSBytes:   uint64(stat.ResidentMemory()),
		CPUSeconds: stat.CPUTime(),
	}, nil
}

type runtimeSampler struct{}

func (runtimeSampler) Usage() (Usage, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Usage{RSSBytes: ms.Sys}, nil
}
