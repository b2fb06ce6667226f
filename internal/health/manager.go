// Package health samples host and process resources and closes
// connections that have gone silent.
package health

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hangar-project/hangar/internal/config"
	"github.com/hangar-project/hangar/internal/events"
	"github.com/hangar-project/hangar/internal/util"
)

// Alert thresholds in percent.
const (
	CPUThreshold    = 90
	MemoryThreshold = 90
	DiskThreshold   = 95
)

// Sample is one host health reading.
type Sample struct {
	Taken         time.Time          `json:"taken"`
	CPUPercent    float64            `json:"cpu_percent"`
	MemoryPercent float64            `json:"memory_percent"`
	DiskPercent   float64            `json:"disk_percent"`
	Process       *util.ProcessUsage `json:"process,omitempty"`
	Connections   int                `json:"connections"`
	Healthy       bool               `json:"healthy"`
	Problems      []string           `json:"problems,omitempty"`
}

// Connections is the slice of the connection registry health needs.
type Connections interface {
	CleanStale(timeout time.Duration) int
	Total() int
}

// Manager runs the periodic health checks.
type Manager struct {
	timers   config.TimerConfig
	emitter  events.Emitter
	conns    Connections
	diskPath string

	// read is swapped in tests.
	read   func() Sample
	latest atomic.Pointer[Sample]
}

// NewManager creates a health manager. diskPath selects the filesystem
// whose usage is sampled, usually the database directory.
func NewManager(timers config.TimerConfig, emitter events.Emitter, conns Connections, diskPath string) *Manager {
	m := &Manager{
		timers:   timers,
		emitter:  emitter,
		conns:    conns,
		diskPath: diskPath,
	}
	m.read = m.readHost
	return m
}

// Start launches the checks and blocks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"host", m.timers.HealthCheckInterval, m.CheckHost},
		{"stale_connections", m.timers.HealthCheckInterval, m.CheckStale},
	}

	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		check := check
		go func() {
			ticker := time.NewTicker(time.Duration(check.interval) * time.Second)
			defer ticker.Stop()

			check.fn(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	log.Info().Int("checks", len(checks)).Msg("health check manager started")
	<-ctx.Done()
	log.Info().Msg("health check manager stopped")
}

// Latest returns the most recent sample, or nil before the first check.
func (m *Manager) Latest() *Sample {
	return m.latest.Load()
}

// CheckHost takes a sample, stores it and emits EventHealthSample.
func (m *Manager) CheckHost(ctx context.Context) {
	s := m.read()
	evaluate(&s)
	m.latest.Store(&s)

	ev := log.Debug()
	if !s.Healthy {
		ev = log.Warn().Strs("problems", s.Problems)
	}
	ev.Float64("cpu", s.CPUPercent).
		Float64("memory", s.MemoryPercent).
		Float64("disk", s.DiskPercent).
		Int("connections", s.Connections).
		Msg("health sample")

	if m.emitter != nil {
		m.emitter.Emit(ctx, events.Event{
			Type:   events.EventHealthSample,
			Source: "health",
			Payload: events.HealthPayload{
				CPUPercent:    s.CPUPercent,
				MemoryPercent: s.MemoryPercent,
				Healthy:       s.Healthy,
			},
		})
	}
}

// CheckStale closes connections idle past the configured limit.
func (m *Manager) CheckStale(context.Context) {
	if m.conns == nil || m.timers.StaleConnectionAfter <= 0 {
		return
	}
	if n := m.conns.CleanStale(time.Duration(m.timers.StaleConnectionAfter) * time.Second); n > 0 {
		log.Info().Int("cleaned", n).Msg("cleaned stale connections")
	}
}

func (m *Manager) readHost() Sample {
	s := Sample{Taken: time.Now()}

	if cpu, err := util.GetCPUUsage(0); err == nil {
		s.CPUPercent = cpu
	} else {
		log.Debug().Err(err).Msg("cpu sample failed")
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		s.MemoryPercent = mem.UsedPercent
	} else {
		log.Debug().Err(err).Msg("memory sample failed")
	}
	if m.diskPath != "" {
		if disk, err := util.GetDiskUsage(m.diskPath); err == nil {
			s.DiskPercent = disk.UsedPercent
		}
	}
	if p, err := util.GetProcessUsage(); err == nil {
		s.Process = p
	}
	if m.conns != nil {
		s.Connections = m.conns.Total()
	}
	return s
}

func evaluate(s *Sample) {
	s.Problems = s.Problems[:0]
	if s.CPUPercent >= CPUThreshold {
		s.Problems = append(s.Problems, fmt.Sprintf("cpu at %.1f%%", s.CPUPercent))
	}
	if s.MemoryPercent >= MemoryThreshold {
		s.Problems = append(s.Problems, fmt.Sprintf("memory at %.1f%%", s.MemoryPercent))
	}
	if s.DiskPercent >= DiskThreshold {
		s.Problems = append(s.Problems, fmt.Sprintf("disk at %.1f%%", s.DiskPercent))
	}
	s.Healthy = len(s.Problems) == 0
}
