package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hangar-project/hangar/internal/events"
)

// TickObserver records tick durations, typically for metrics.
type TickObserver interface {
	ObserveTick(loop string, took, interval time.Duration)
}

// TickLoop drives one simulation tick function at a fixed interval. The
// function receives the wall time elapsed since its previous call. A tick
// that overruns the interval emits EventLongTick; the next tick starts on
// the following ticker beat rather than catching up.
type TickLoop struct {
	Name     string
	Interval time.Duration
	Tick     func(elapsed time.Duration)
	Emitter  events.Emitter
	Observer TickObserver
}

// Run blocks until ctx is cancelled.
func (l *TickLoop) Run(ctx context.Context) {
	logger := log.With().Str("component", "tick").Str("loop", l.Name).Logger()
	logger.Info().Dur("interval", l.Interval).Msg("tick loop started")

	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("tick loop stopped")
			return
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			l.step(ctx, elapsed)
		}
	}
}

func (l *TickLoop) step(ctx context.Context, elapsed time.Duration) {
	start := time.Now()
	l.Tick(elapsed)
	took := time.Since(start)

	if l.Observer != nil {
		l.Observer.ObserveTick(l.Name, took, l.Interval)
	}
	if took <= l.Interval {
		return
	}

	log.Warn().
		Str("loop", l.Name).
		Dur("took", took).
		Dur("interval", l.Interval).
		Msg("tick overran its interval")
	if l.Emitter != nil {
		l.Emitter.Emit(ctx, events.Event{
			Type:   events.EventLongTick,
			Source: l.Name,
			Payload: events.LongTickPayload{
				Loop:     l.Name,
				Duration: took,
				Interval: l.Interval,
			},
		})
	}
}
