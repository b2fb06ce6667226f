package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangar-project/hangar/internal/config"
	"github.com/hangar-project/hangar/internal/events"
)

type fakeConns struct {
	cleanedWith time.Duration
}

func (f *fakeConns) CleanStale(timeout time.Duration) int {
	f.cleanedWith = timeout
	return 1
}

func (f *fakeConns) Total() int { return 3 }

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestCheckHostFlagsProblems(t *testing.T) {
	em := &recordingEmitter{}
	m := NewManager(config.TimerConfig{HealthCheckInterval: 60}, em, &fakeConns{}, "")
	m.read = func() Sample {
		return Sample{CPUPercent: 97.5, MemoryPercent: 40, DiskPercent: 96}
	}

	assert.Nil(t, m.Latest())
	m.CheckHost(context.Background())

	s := m.Latest()
	require.NotNil(t, s)
	assert.False(t, s.Healthy)
	assert.Equal(t, []string{"cpu at 97.5%", "disk at 96.0%"}, s.Problems)

	require.Len(t, em.events, 1)
	payload := em.events[0].Payload.(events.HealthPayload)
	assert.False(t, payload.Healthy)
	assert.Equal(t, 97.5, payload.CPUPercent)
}

func TestCheckHostHealthy(t *testing.T) {
	m := NewManager(config.TimerConfig{}, nil, nil, "")
	m.read = func() Sample { return Sample{CPUPercent: 10, MemoryPercent: 20} }
	m.CheckHost(context.Background())
	assert.True(t, m.Latest().Healthy)
	assert.Empty(t, m.Latest().Problems)
}

func TestCheckStaleUsesConfiguredTimeout(t *testing.T) {
	conns := &fakeConns{}
	m := NewManager(config.TimerConfig{StaleConnectionAfter: 600}, nil, conns, "")
	m.CheckStale(context.Background())
	assert.Equal(t, 10*time.Minute, conns.cleanedWith)

	conns = &fakeConns{}
	m = NewManager(config.TimerConfig{}, nil, conns, "")
	m.CheckStale(context.Background())
	assert.Zero(t, conns.cleanedWith)
}
