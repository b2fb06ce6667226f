package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hangar-project/hangar/internal/db"
	"github.com/hangar-project/hangar/internal/events"
)

// CommandWorker applies pending commands recorded by the chat side. Each
// command is applied inside the global tick, then marked applied.
type CommandWorker struct {
	world  *World
	store  Store
	logger zerolog.Logger
}

// NewCommandWorker creates a worker for w.
func NewCommandWorker(w *World) *CommandWorker {
	return &CommandWorker{
		world:  w,
		store:  w.store,
		logger: log.With().Str("component", "command_worker").Logger(),
	}
}

// Run polls until ctx is cancelled.
func (cw *CommandWorker) Run(ctx context.Context) {
	interval := cw.world.opts.CommandPollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cw.logger.Info().Dur("interval", interval).Msg("command worker started")
	for {
		select {
		case <-ctx.Done():
			cw.logger.Info().Msg("command worker stopped")
			return
		case <-ticker.C:
			if _, err := cw.Poll(ctx); err != nil {
				cw.logger.Warn().Err(err).Msg("pending command poll failed")
			}
		}
	}
}

// Poll applies one batch of pending commands and returns how many were
// marked applied.
func (cw *CommandWorker) Poll(ctx context.Context) (int, error) {
	cmds, err := cw.store.PendingCommands(ctx, cw.world.opts.CommandBatch)
	if err != nil {
		return 0, fmt.Errorf("loading pending commands: %w", err)
	}

	applied := 0
	for _, cmd := range cmds {
		result, err := cw.apply(ctx, cmd)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return applied, err
		}
		if err != nil {
			cw.logger.Warn().Err(err).Str("command_id", cmd.ID).Str("verb", cmd.Verb).Msg("pending command failed")
			result = "failed: " + err.Error()
		}
		if err := cw.store.MarkCommandApplied(ctx, cmd.ID, cw.world.now()); err != nil {
			return applied, fmt.Errorf("marking command %s: %w", cmd.ID, err)
		}
		applied++

		cw.logger.Info().Str("command_id", cmd.ID).Str("verb", cmd.Verb).Int64("user_id", cmd.UserID).Str("result", result).Msg("pending command applied")
		cw.world.emit(events.EventCommandApplied, events.CommandPayload{
			ID: cmd.ID, Verb: cmd.Verb, UserID: cmd.UserID, Result: result,
		})
	}
	return applied, nil
}

func (cw *CommandWorker) apply(ctx context.Context, cmd db.PendingCommand) (string, error) {
	switch cmd.Verb {
	case db.VerbTeleport:
		var tp db.TeleportPayload
		if err := cmd.Decode(&tp); err != nil {
			return "", err
		}
		return cw.teleport(ctx, cmd.UserID, tp)
	case db.VerbSave:
		return cw.save(ctx, cmd.UserID)
	default:
		return "", fmt.Errorf("unknown verb %q", cmd.Verb)
	}
}

func (cw *CommandWorker) teleport(ctx context.Context, userID int64, tp db.TeleportPayload) (string, error) {
	err := cw.world.Call(ctx, func(w *World) error {
		p, ok := w.players[userID]
		if !ok {
			return ErrPlayerOffline
		}
		mapID := tp.MapID
		if mapID == 0 {
			mapID = p.MapID()
		}
		m, ok := w.maps[mapID]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownMap, mapID)
		}
		if !m.Contains(tp.X, tp.Y) {
			return ErrOutOfBounds
		}
		return w.transfer(p, mapID, tp.X, tp.Y)
	})
	if err == nil {
		return "teleported", nil
	}
	if !errors.Is(err, ErrPlayerOffline) {
		return "", err
	}

	// Offline players are moved in storage for their next login.
	mapID := tp.MapID
	if mapID == 0 {
		a, err := cw.store.Account(ctx, userID)
		if err != nil {
			return "", err
		}
		mapID = a.MapID
	}
	// The map table is fixed after NewWorld, so reading it here is safe.
	m := cw.world.Map(mapID)
	if m == nil {
		return "", fmt.Errorf("%w: %d", ErrUnknownMap, mapID)
	}
	if !m.Contains(tp.X, tp.Y) {
		return "", ErrOutOfBounds
	}
	if err := cw.store.SavePosition(ctx, userID, mapID, tp.X, tp.Y); err != nil {
		return "", err
	}
	return "stored", nil
}

func (cw *CommandWorker) save(ctx context.Context, userID int64) (string, error) {
	var pos Position
	err := cw.world.Call(ctx, func(w *World) error {
		p, ok := w.players[userID]
		if !ok {
			return ErrPlayerOffline
		}
		pos = p.Position()
		return nil
	})
	if errors.Is(err, ErrPlayerOffline) {
		return "offline", nil
	}
	if err != nil {
		return "", err
	}
	if err := cw.store.SavePosition(ctx, userID, pos.MapID, pos.X, pos.Y); err != nil {
		return "", err
	}
	return "saved", nil
}
