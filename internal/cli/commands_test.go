package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangar-project/hangar/internal/chat"
	"github.com/hangar-project/hangar/internal/game"
	"github.com/hangar-project/hangar/internal/network"
)

func newTestCLI(t *testing.T, in string) (*CLI, *bytes.Buffer, *bool) {
	t.Helper()

	m := chat.NewManager(chat.DefaultOptions(), nil, nil, nil)
	m.CreateStandingRooms()
	w, err := game.NewWorld(game.DefaultOptions(), nil, nil, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case <-done:
				return
			default:
			}
			m.Tick(time.Millisecond)
			w.Tick(time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}()
	t.Cleanup(func() {
		close(done)
		<-stopped
	})
	require.Eventually(t, func() bool { return m.Snapshot().Tick > 0 }, time.Second, time.Millisecond)

	var out bytes.Buffer
	quit := false
	c := NewCLI(m, w, network.NewConnectionRegistry(), func() { quit = true }, strings.NewReader(in), &out)
	return c, &out, &quit
}

func TestStatusAndRoomTables(t *testing.T) {
	c, out, _ := newTestCLI(t, "")
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "status"))
	assert.Contains(t, out.String(), "COMPONENT")
	assert.Contains(t, out.String(), "policy")

	out.Reset()
	require.NoError(t, c.Execute(ctx, "rooms"))
	assert.Contains(t, out.String(), "Clan Search")
	assert.Contains(t, out.String(), "Faction 3")
}

func TestRemoveRoomAndAnnounce(t *testing.T) {
	c, out, _ := newTestCLI(t, "")
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "removeroom 5"))
	assert.Contains(t, out.String(), "Room 5 removed")

	assert.Error(t, c.Execute(ctx, "removeroom 999"))
	assert.ErrorContains(t, c.Execute(ctx, "removeroom x"), "invalid room id")

	out.Reset()
	require.NoError(t, c.Execute(ctx, "announce maintenance at noon"))
	assert.Contains(t, out.String(), "Announced to 0 sessions and 0 players")

	assert.ErrorContains(t, c.Execute(ctx, "announce"), "usage")
}

func TestKickOffline(t *testing.T) {
	c, _, _ := newTestCLI(t, "")
	assert.ErrorContains(t, c.Execute(context.Background(), "kick ghost"), "ghost is not online")
}

func TestStartRunsUntilQuitAndEOF(t *testing.T) {
	c, out, quit := newTestCLI(t, "help\nbogus\nquit\n")

	finished := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("console did not stop at EOF")
	}
	assert.True(t, *quit)
	assert.Contains(t, out.String(), "Unknown command: 'bogus'")
	assert.Contains(t, out.String(), "removeroom <id>")
}
