package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hangar-project/hangar/internal/events"
)

// Long tick alert thresholds, in overruns per hour.
const (
	LongTickWarningThreshold  = 10
	LongTickCriticalThreshold = 60
)

const tickHistoryLimit = 1000

// TickMonitor aggregates long tick events per loop.
type TickMonitor struct {
	mu    sync.RWMutex
	loops map[string]*LoopTickData
	now   func() time.Time

	warningThreshold  int
	criticalThreshold int
}

// LoopTickData holds overrun statistics for one tick loop.
type LoopTickData struct {
	Loop          string          `json:"loop"`
	TotalEvents   int             `json:"total_events"`
	LastHour      int             `json:"events_last_hour"`
	LastEventTime time.Time       `json:"last_event_time"`
	MaxDuration   time.Duration   `json:"max_duration"`
	AvgDuration   time.Duration   `json:"avg_duration"`
	History       []LongTickEvent `json:"-"`
}

// LongTickEvent is one recorded overrun.
type LongTickEvent struct {
	Timestamp time.Time
	Duration  time.Duration
}

// TickAlert reports a loop past a threshold.
type TickAlert struct {
	Loop    string `json:"loop"`
	Level   string `json:"level"`
	Events  int    `json:"events"`
	Message string `json:"message"`
}

// NewTickMonitor creates a monitor subscribed to long tick events.
func NewTickMonitor(bus *events.EventBus) *TickMonitor {
	tm := &TickMonitor{
		loops:             make(map[string]*LoopTickData),
		now:               time.Now,
		warningThreshold:  LongTickWarningThreshold,
		criticalThreshold: LongTickCriticalThreshold,
	}
	if bus != nil {
		bus.Subscribe(events.EventLongTick, "tick_monitor", tm.handleLongTick)
	}
	return tm
}

func (tm *TickMonitor) handleLongTick(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.LongTickPayload)
	if !ok {
		return nil
	}
	tm.record(payload.Loop, payload.Duration)
	return nil
}

func (tm *TickMonitor) record(loop string, d time.Duration) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	data, ok := tm.loops[loop]
	if !ok {
		data = &LoopTickData{Loop: loop}
		tm.loops[loop] = data
	}

	now := tm.now()
	data.TotalEvents++
	data.LastEventTime = now
	data.History = append(data.History, LongTickEvent{Timestamp: now, Duration: d})
	if len(data.History) > tickHistoryLimit {
		data.History = data.History[len(data.History)-tickHistoryLimit:]
	}
	if d > data.MaxDuration {
		data.MaxDuration = d
	}

	var total time.Duration
	for _, e := range data.History {
		total += e.Duration
	}
	data.AvgDuration = total / time.Duration(len(data.History))
	data.LastHour = countSince(data.History, now.Add(-time.Hour))
}

func countSince(history []LongTickEvent, since time.Time) int {
	n := 0
	for _, e := range history {
		if e.Timestamp.After(since) {
			n++
		}
	}
	return n
}

// Loops returns a copy of every loop's statistics, sorted by name.
func (tm *TickMonitor) Loops() []LoopTickData {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	out := make([]LoopTickData, 0, len(tm.loops))
	for _, d := range tm.loops {
		c := *d
		c.History = nil
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Loop < out[j].Loop })
	return out
}

// CheckThresholds evaluates every loop's overruns in the last hour.
func (tm *TickMonitor) CheckThresholds() []TickAlert {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	since := tm.now().Add(-time.Hour)
	var alerts []TickAlert
	for name, data := range tm.loops {
		data.LastHour = countSince(data.History, since)

		level := ""
		switch {
		case data.LastHour >= tm.criticalThreshold:
			level = "critical"
		case data.LastHour >= tm.warningThreshold:
			level = "warning"
		default:
			continue
		}
		alerts = append(alerts, TickAlert{
			Loop:    name,
			Level:   level,
			Events:  data.LastHour,
			Message: fmt.Sprintf("%s tick overran %d times in the last hour", name, data.LastHour),
		})
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].Loop < alerts[j].Loop })
	return alerts
}

// Start checks thresholds periodically and logs alerts.
func (tm *TickMonitor) Start(ctx context.Context, checkInterval time.Duration) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, alert := range tm.CheckThresholds() {
				ev := log.Warn()
				if alert.Level == "critical" {
					ev = log.Error()
				}
				ev.Str("loop", alert.Loop).
					Str("level", alert.Level).
					Int("events", alert.Events).
					Msg("tick threshold alert")
			}
		}
	}
}
