package main

import (
	"fmt"
	"time"

	"github.com/hangar-project/hangar/internal/chat"
	"github.com/hangar-project/hangar/internal/config"
	"github.com/hangar-project/hangar/internal/game"
)

// chatOptions maps the chat and simulation sections onto manager options.
func chatOptions(cfg *config.Config) (chat.Options, error) {
	opts := chat.DefaultOptions()

	rooms := make([]chat.StandingRoom, 0, len(cfg.Chat.StandingRooms))
	for _, sr := range cfg.Chat.StandingRooms {
		typ, err := chat.ParseRoomType(sr.Type)
		if err != nil {
			return opts, fmt.Errorf("standing room %d: %w", sr.ID, err)
		}
		rooms = append(rooms, chat.StandingRoom{
			ID:       sr.ID,
			Name:     sr.Name,
			Tab:      sr.Tab,
			Type:     typ,
			Faction:  sr.Faction,
			AutoJoin: sr.AutoJoin,
		})
	}
	opts.StandingRooms = rooms

	opts.AdhocRoomBase = cfg.Chat.AdhocRoomBase
	opts.AdhocRoomRange = cfg.Chat.AdhocRoomRange
	opts.MessageRate = cfg.Chat.MessageRate
	opts.MessageBurst = cfg.Chat.MessageBurst
	if cfg.Chat.MaxMessageLength > 0 {
		opts.MaxMessageLength = cfg.Chat.MaxMessageLength
	}
	if cfg.Chat.MaxRoomName > 0 {
		opts.MaxRoomName = cfg.Chat.MaxRoomName
	}
	if cfg.Chat.CommandPrefix != "" {
		opts.CommandPrefix = cfg.Chat.CommandPrefix
	}
	if d := cfg.PingInterval(); d > 0 {
		opts.PingInterval = d
	}
	if d := cfg.StoreTimeout(); d > 0 {
		opts.StoreTimeout = d
	}
	return opts, nil
}

// worldOptions maps the simulation and web channel sections onto world
// options. The side-channel secret is only set when the channel is on.
func worldOptions(cfg *config.Config) game.Options {
	opts := game.DefaultOptions()

	maps := make([]game.MapConfig, 0, len(cfg.Simulation.Maps))
	for _, m := range cfg.Simulation.Maps {
		maps = append(maps, game.MapConfig{ID: m.ID, Name: m.Name, Width: m.Width, Height: m.Height})
	}
	if len(maps) > 0 {
		opts.Maps = maps
	}

	if cfg.WebChannel.Enabled {
		opts.WebSecret = cfg.WebChannel.Secret
	}
	if d := cfg.PingInterval(); d > 0 {
		opts.PingInterval = d
	}
	if d := cfg.StoreTimeout(); d > 0 {
		opts.StoreTimeout = d
	}
	if cfg.Simulation.CommandPollIntervalSec > 0 {
		opts.CommandPollInterval = time.Duration(cfg.Simulation.CommandPollIntervalSec) * time.Second
	}
	if cfg.Simulation.CommandBatch > 0 {
		opts.CommandBatch = cfg.Simulation.CommandBatch
	}
	return opts
}
