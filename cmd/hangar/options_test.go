package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangar-project/hangar/internal/chat"
	"github.com/hangar-project/hangar/internal/config"
	"github.com/hangar-project/hangar/internal/game"
	"github.com/hangar-project/hangar/internal/telemetry"
)

func TestChatOptionsFromDefaults(t *testing.T) {
	cfg := config.DefaultConfig()

	opts, err := chatOptions(cfg)
	require.NoError(t, err)

	require.Len(t, opts.StandingRooms, 5)
	assert.Equal(t, chat.RoomFaction, opts.StandingRooms[1].Type)
	assert.Equal(t, 1, opts.StandingRooms[1].Faction)
	assert.True(t, opts.StandingRooms[0].AutoJoin)
	assert.Equal(t, int64(1000), opts.AdhocRoomBase)
	assert.Equal(t, 30*time.Second, opts.PingInterval)
	assert.Equal(t, "/", opts.CommandPrefix)
}

func TestChatOptionsRejectsUnknownRoomType(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Chat.StandingRooms[0].Type = "lobby"

	_, err := chatOptions(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "standing room 1")
}

func TestWorldOptionsSecretOnlyWhenEnabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.WebChannel.Secret = "hunter22"

	opts := worldOptions(cfg)
	assert.Empty(t, opts.WebSecret)
	assert.Len(t, opts.Maps, len(cfg.Simulation.Maps))

	cfg.WebChannel.Enabled = true
	cfg.Simulation.CommandPollIntervalSec = 7
	opts = worldOptions(cfg)
	assert.Equal(t, "hunter22", opts.WebSecret)
	assert.Equal(t, 7*time.Second, opts.CommandPollInterval)
}

func TestTickLoopsCoverEveryMap(t *testing.T) {
	cfg := config.DefaultConfig()
	world, err := game.NewWorld(worldOptions(cfg), nil, nil, nil)
	require.NoError(t, err)

	loops := newTickLoops(cfg, nil, telemetry.NewMetrics(), chat.NewManager(chat.DefaultOptions(), nil, nil, nil), world)

	names := make([]string, 0, len(loops))
	for _, l := range loops {
		names = append(names, l.Name)
		assert.Equal(t, cfg.TickInterval(), l.Interval)
	}
	assert.Equal(t, []string{"chat", "world", "map_1", "map_2", "map_3"}, names)
}
