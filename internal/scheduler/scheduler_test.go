package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangar-project/hangar/internal/config"
	"github.com/hangar-project/hangar/internal/events"
)

func TestNextRun(t *testing.T) {
	base := time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC)
	tests := []struct {
		hhmm string
		want time.Time
	}{
		{"13:00", time.Date(2026, 3, 14, 13, 0, 0, 0, time.UTC)},
		{"04:00", time.Date(2026, 3, 15, 4, 0, 0, 0, time.UTC)},
		{"12:30", time.Date(2026, 3, 15, 12, 30, 0, 0, time.UTC)},
		{"garbage", time.Date(2026, 3, 15, 4, 0, 0, 0, time.UTC)},
		{"25:00", time.Date(2026, 3, 15, 4, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NextRun(base, tt.hhmm), tt.hhmm)
	}
}

type fakePurger struct {
	bansAt    time.Time
	commandsT time.Time
	err       error
}

func (f *fakePurger) PurgeExpiredBans(_ context.Context, now time.Time) (int64, error) {
	f.bansAt = now
	return 2, f.err
}

func (f *fakePurger) PurgeAppliedCommands(_ context.Context, before time.Time) (int64, error) {
	f.commandsT = before
	return 5, nil
}

func TestRunMaintenance(t *testing.T) {
	now := time.Date(2026, 3, 14, 4, 0, 0, 0, time.UTC)
	store := &fakePurger{}
	s := NewScheduler(config.MaintenanceConfig{Enabled: true, PurgeTime: "04:00", AppliedRetentionDays: 7}, store)
	s.now = func() time.Time { return now }

	require.NoError(t, s.RunMaintenance(context.Background()))
	assert.Equal(t, now, store.bansAt)
	assert.Equal(t, now.AddDate(0, 0, -7), store.commandsT)
	assert.Equal(t, 1, s.purges)

	store.err = errors.New("disk full")
	assert.ErrorContains(t, s.RunMaintenance(context.Background()), "purge bans")
	assert.Equal(t, 1, s.purges)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type recordingObserver struct {
	calls atomic.Int32
}

func (o *recordingObserver) ObserveTick(string, time.Duration, time.Duration) {
	o.calls.Add(1)
}

func TestTickLoopRunsAndStops(t *testing.T) {
	var ticks atomic.Int32
	obs := &recordingObserver{}
	loop := &TickLoop{
		Name:     "chat",
		Interval: 5 * time.Millisecond,
		Tick:     func(time.Duration) { ticks.Add(1) },
		Observer: obs,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done
	assert.GreaterOrEqual(t, obs.calls.Load(), int32(3))
}

func TestTickLoopReportsOverrun(t *testing.T) {
	em := &recordingEmitter{}
	loop := &TickLoop{
		Name:     "world",
		Interval: time.Millisecond,
		Tick:     func(time.Duration) { time.Sleep(5 * time.Millisecond) },
		Emitter:  em,
	}
	loop.step(context.Background(), time.Millisecond)

	require.Len(t, em.events, 1)
	assert.Equal(t, events.EventLongTick, em.events[0].Type)
	payload := em.events[0].Payload.(events.LongTickPayload)
	assert.Equal(t, "world", payload.Loop)
	assert.GreaterOrEqual(t, payload.Duration, 5*time.Millisecond)
}

func TestTickMonitorThresholds(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	tm := NewTickMonitor(nil)
	tm.now = func() time.Time { return now }

	for i := 0; i < LongTickWarningThreshold; i++ {
		tm.record("chat", 80*time.Millisecond)
	}
	tm.record("world", 200*time.Millisecond)

	alerts := tm.CheckThresholds()
	require.Len(t, alerts, 1)
	assert.Equal(t, "chat", alerts[0].Loop)
	assert.Equal(t, "warning", alerts[0].Level)

	loops := tm.Loops()
	require.Len(t, loops, 2)
	assert.Equal(t, 200*time.Millisecond, loops[1].MaxDuration)

	// An hour later the overruns age out.
	now = now.Add(61 * time.Minute)
	assert.Empty(t, tm.CheckThresholds())
}

func TestTickMonitorConsumesBusEvents(t *testing.T) {
	bus := events.NewEventBus()
	tm := NewTickMonitor(bus)

	bus.Emit(context.Background(), events.Event{
		Type:    events.EventLongTick,
		Payload: events.LongTickPayload{Loop: "map-1", Duration: 90 * time.Millisecond},
	})
	bus.Wait()

	loops := tm.Loops()
	require.Len(t, loops, 1)
	assert.Equal(t, "map-1", loops[0].Loop)
	assert.Equal(t, 1, loops[0].TotalEvents)
}
