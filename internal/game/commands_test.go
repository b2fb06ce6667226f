package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangar-project/hangar/internal/db"
)

// poll runs one worker poll while ticking the world until it returns.
func (e *testEnv) poll(cw *CommandWorker) int {
	e.t.Helper()
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := cw.Poll(context.Background())
		done <- result{n, err}
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case r := <-done:
			require.NoError(e.t, r.err)
			e.tick()
			return r.n
		case <-deadline:
			e.t.Fatal("poll did not finish")
		default:
			e.tick()
			time.Sleep(time.Millisecond)
		}
	}
}

func TestTeleportOnlinePlayer(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	a := e.login("A", db.Account{MapID: 1, X: 1, Y: 1})

	_, err := e.store.InsertPendingCommand(ctx, db.VerbTeleport, a.id, a.id, db.TeleportPayload{X: 300, Y: 400, MapID: 3})
	require.NoError(t, err)

	cw := NewCommandWorker(e.w)
	assert.Equal(t, 1, e.poll(cw))
	assert.Equal(t, Position{MapID: 3, X: 300, Y: 400}, e.w.Player(a.id).Position())
	assert.Same(t, e.w.Map(3), e.w.Player(a.id).Shard())

	left, err := e.store.PendingCommands(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestTeleportWithinCurrentMap(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	a := e.login("A", db.Account{MapID: 2, X: 1, Y: 1})

	_, err := e.store.InsertPendingCommand(ctx, db.VerbTeleport, a.id, a.id, db.TeleportPayload{X: 9, Y: 9})
	require.NoError(t, err)
	e.poll(NewCommandWorker(e.w))
	assert.Equal(t, Position{MapID: 2, X: 9, Y: 9}, e.w.Player(a.id).Position())
	assert.Equal(t, 1, e.w.Map(2).Players())
}

func TestTeleportOfflinePlayerIsStored(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	id, err := e.store.CreateAccount(ctx, db.Account{Name: "Away", MapID: 2})
	require.NoError(t, err)

	_, err = e.store.InsertPendingCommand(ctx, db.VerbTeleport, id, id, db.TeleportPayload{X: 11, Y: 12})
	require.NoError(t, err)
	assert.Equal(t, 1, e.poll(NewCommandWorker(e.w)))

	acct, err := e.store.Account(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, acct.MapID)
	assert.Equal(t, 11, acct.X)
	assert.Equal(t, 12, acct.Y)
}

func TestTeleportOfflineRejectsUnknownMap(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	id, err := e.store.CreateAccount(ctx, db.Account{Name: "Away", MapID: 2, X: 5, Y: 6})
	require.NoError(t, err)

	_, err = e.store.InsertPendingCommand(ctx, db.VerbTeleport, id, id, db.TeleportPayload{X: 1, Y: 1, MapID: 77})
	require.NoError(t, err)
	assert.Equal(t, 1, e.poll(NewCommandWorker(e.w)))

	acct, err := e.store.Account(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, acct.MapID)
	assert.Equal(t, 5, acct.X)
	assert.Equal(t, 6, acct.Y)
}

func TestSaveCommandPersistsPosition(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	a := e.login("A", db.Account{MapID: 1, X: 1, Y: 1})

	require.NoError(t, e.send(a, "m|33|44"))
	e.tick()
	_, err := e.store.InsertPendingCommand(ctx, db.VerbSave, a.id, a.id, nil)
	require.NoError(t, err)
	e.poll(NewCommandWorker(e.w))

	acct, err := e.store.Account(ctx, a.id)
	require.NoError(t, err)
	assert.Equal(t, 33, acct.X)
	assert.Equal(t, 44, acct.Y)
}

func TestFailedCommandsAreStillMarked(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	a := e.login("A", db.Account{})

	_, err := e.store.InsertPendingCommand(ctx, "dance", a.id, a.id, nil)
	require.NoError(t, err)
	_, err = e.store.InsertPendingCommand(ctx, db.VerbTeleport, a.id, a.id, db.TeleportPayload{X: 1, Y: 1, MapID: 77})
	require.NoError(t, err)

	assert.Equal(t, 2, e.poll(NewCommandWorker(e.w)))
	left, err := e.store.PendingCommands(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, left)
	assert.Equal(t, 1, e.w.Player(a.id).MapID())
}
