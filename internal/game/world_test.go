package game

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangar-project/hangar/internal/db"
	"github.com/hangar-project/hangar/internal/dispatch"
	"github.com/hangar-project/hangar/internal/network"
	"github.com/hangar-project/hangar/internal/protocol"
)

func TestNewWorldRejectsBadMaps(t *testing.T) {
	_, err := NewWorld(Options{}, nil, nil, nil)
	assert.Error(t, err)

	opts := DefaultOptions()
	opts.Maps = append(opts.Maps, opts.Maps[0])
	_, err = NewWorld(opts, nil, nil, nil)
	assert.Error(t, err)
}

func TestLoginPlacesPlayerOnStoredMap(t *testing.T) {
	e := newTestEnv(t)
	p := e.login("Miner", db.Account{MapID: 2, X: 40, Y: 50})

	player := e.w.Player(p.id)
	assert.Equal(t, Position{MapID: 2, X: 40, Y: 50}, player.Position())
	assert.Same(t, e.w.Map(2), player.Shard())
	assert.Equal(t, 1, e.w.Map(2).Players())

	ok := p.conn.received(protocol.GameOutLoginOK)
	require.Len(t, ok, 1)
	assert.Equal(t, []string{fmt.Sprint(p.id), "Miner", "2", "40", "50"}, ok[0])
}

func TestLoginOnUnknownMapFallsBack(t *testing.T) {
	e := newTestEnv(t)
	p := e.login("Lost", db.Account{MapID: 99, X: 5, Y: 5})
	assert.Equal(t, 1, e.w.Player(p.id).MapID())
}

func TestLoginFailures(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	id, err := e.store.CreateAccount(ctx, db.Account{Name: "Known", SessionToken: "good"})
	require.NoError(t, err)

	c := NewClient(&fakeConn{}, e.w)
	assert.ErrorIs(t, c.HandleFrame(ctx, fmt.Appendf(nil, "LOGIN|%d|bad", id)), network.ErrLoginFailure)
	assert.ErrorIs(t, c.HandleFrame(ctx, []byte("LOGIN")), network.ErrLoginFailure)

	_, err = e.store.InsertBan(ctx, db.Ban{UserID: id, ExpiresAt: testClock.Add(time.Hour), CreatedAt: testClock})
	require.NoError(t, err)
	conn := &fakeConn{}
	c = NewClient(conn, e.w)
	assert.ErrorIs(t, c.HandleFrame(ctx, fmt.Appendf(nil, "LOGIN|%d|good", id)), network.ErrLoginFailure)
	assert.Len(t, conn.received(protocol.GameOutNotice), 1)
}

func TestFramingPrecedence(t *testing.T) {
	e := newTestEnv(t)
	c := NewClient(&fakeConn{}, e.w)

	tests := []struct {
		frame   string
		opcode  protocol.Opcode
		trusted bool
	}{
		{"LOGIN|1|tok", protocol.GameLogin, false},
		{"LOGIN", protocol.GameLogin, false},
		{"LOGINX|1", protocol.Opcode('L'), false},
		{"m|1|2", protocol.GameMove, false},
		{testSecret + "K|5", protocol.GameWebKick, true},
		{testSecret + "LOGIN|1|tok", protocol.Opcode('L'), true},
	}
	for _, tt := range tests {
		t.Run(tt.frame, func(t *testing.T) {
			pkt, err := c.decode([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.opcode, pkt.Opcode)
			assert.Equal(t, tt.trusted, pkt.Trusted)
		})
	}

	_, err := c.decode([]byte(testSecret))
	assert.ErrorIs(t, err, protocol.ErrMalformedField)
}

func TestLoginLiteralIgnoredAfterAuthentication(t *testing.T) {
	e := newTestEnv(t)
	p := e.login("Miner", db.Account{})
	err := e.send(p, fmt.Sprintf("LOGIN|%d|tok-Miner", p.id))
	assert.ErrorIs(t, err, dispatch.ErrUnknownOpcode)
	assert.False(t, p.conn.IsClosed())
}

func TestSideChannelIsGated(t *testing.T) {
	e := newTestEnv(t)
	victim := e.login("Victim", db.Account{})

	// Without the secret the web opcodes are refused.
	intruder := e.login("Intruder", db.Account{})
	err := e.send(intruder, fmt.Sprintf("K|%d", victim.id))
	assert.ErrorIs(t, err, dispatch.ErrPreconditionViolation)

	// Trusted frames cannot reach player handlers.
	err = e.send(intruder, testSecret+"q")
	assert.ErrorIs(t, err, dispatch.ErrPreconditionViolation)

	web := NewClient(&fakeConn{}, e.w)
	require.NoError(t, web.HandleFrame(context.Background(), fmt.Appendf(nil, "%sK|%d", testSecret, victim.id)))
	e.tick()
	assert.True(t, victim.conn.IsClosed())
	assert.Nil(t, e.w.Player(victim.id))
	assert.NotNil(t, e.w.Player(intruder.id))
}

func TestWebNoticeReachesEveryone(t *testing.T) {
	e := newTestEnv(t)
	a := e.login("A", db.Account{MapID: 1})
	b := e.login("B", db.Account{MapID: 3})

	web := NewClient(&fakeConn{}, e.w)
	require.NoError(t, web.HandleFrame(context.Background(), []byte(testSecret+"N|server restart|in 5 minutes")))
	e.tick()

	for _, p := range []*testPlayer{a, b} {
		got := p.conn.received(protocol.GameOutNotice)
		require.Len(t, got, 1)
		assert.Equal(t, []string{"server restart", "in 5 minutes"}, got[0])
	}
}

func TestMoveRunsOnMapTick(t *testing.T) {
	e := newTestEnv(t)
	a := e.login("A", db.Account{MapID: 1, X: 10, Y: 10})
	b := e.login("B", db.Account{MapID: 1, X: 20, Y: 20})
	c := e.login("C", db.Account{MapID: 2, X: 20, Y: 20})

	require.NoError(t, e.send(a, "m|100|200"))
	assert.Equal(t, 1, e.w.Player(a.id).entity.Len())
	e.w.Tick(0)
	assert.Equal(t, 1, e.w.Player(a.id).entity.Len(), "world tick must not run entity packets")

	e.w.Map(1).Tick(0)
	assert.Equal(t, Position{MapID: 1, X: 100, Y: 200}, e.w.Player(a.id).Position())
	assert.Contains(t, b.conn.received(protocol.GameOutMove), []string{fmt.Sprint(a.id), "100", "200"})
	assert.NotContains(t, c.conn.received(protocol.GameOutMove), []string{fmt.Sprint(a.id), "100", "200"})

	require.NoError(t, e.send(a, "m|5000|5"))
	e.tick()
	assert.Equal(t, Position{MapID: 1, X: 100, Y: 200}, e.w.Player(a.id).Position())
}

func TestJumpTransfersBetweenShards(t *testing.T) {
	e := newTestEnv(t)
	a := e.login("A", db.Account{MapID: 1})
	b := e.login("B", db.Account{MapID: 1})

	require.NoError(t, e.send(a, "j|2"))
	e.tick()

	player := e.w.Player(a.id)
	assert.Equal(t, 2, player.MapID())
	assert.Same(t, e.w.Map(2), player.Shard())
	assert.Equal(t, Position{MapID: 2, X: 1000, Y: 1000}, player.Position())
	assert.Equal(t, []string{"2", "1000", "1000"}, a.conn.received(protocol.GameOutMapChange)[0])
	assert.Contains(t, b.conn.received(protocol.GameOutDespawn), []string{fmt.Sprint(a.id)})
	assert.Equal(t, 1, e.w.Map(1).Players())
	assert.Equal(t, 1, e.w.Map(2).Players())

	require.NoError(t, e.send(a, "j|42"))
	e.tick()
	assert.Len(t, a.conn.received(protocol.GameOutNotice), 1)
	assert.Equal(t, 2, player.MapID())
}

func TestChainedJumpsLeaveOneShard(t *testing.T) {
	e := newTestEnv(t)
	a := e.login("A", db.Account{MapID: 1})
	b := e.login("B", db.Account{MapID: 2})

	require.NoError(t, e.send(a, "j|2"))
	require.NoError(t, e.send(a, "j|3"))
	e.tick()
	e.tick()

	player := e.w.Player(a.id)
	assert.Equal(t, 3, player.MapID())
	assert.Same(t, e.w.Map(3), player.Shard())
	for _, m := range e.w.Maps() {
		_, held := m.players[a.id]
		assert.Equal(t, m.ID == 3, held, "map %d", m.ID)
	}
	assert.Equal(t, 0, e.w.Map(1).Players())
	assert.Equal(t, 1, e.w.Map(2).Players())
	assert.Equal(t, 1, e.w.Map(3).Players())

	require.NoError(t, e.send(b, "m|50|60"))
	e.tick()
	assert.NotContains(t, a.conn.received(protocol.GameOutMove), []string{fmt.Sprint(b.id), "50", "60"})
}

func TestJumpBackToEarlierMap(t *testing.T) {
	e := newTestEnv(t)
	a := e.login("A", db.Account{MapID: 3})

	require.NoError(t, e.send(a, "j|1"))
	e.tick()

	player := e.w.Player(a.id)
	assert.Same(t, e.w.Map(1), player.Shard())
	assert.Equal(t, 1, e.w.Map(1).Players())
	assert.Equal(t, 0, e.w.Map(3).Players())
}

func TestLogoutPersistsPosition(t *testing.T) {
	e := newTestEnv(t)
	a := e.login("A", db.Account{MapID: 1, X: 1, Y: 1})

	require.NoError(t, e.send(a, "m|7|8"))
	e.tick()
	require.NoError(t, e.send(a, "q"))
	e.tick()

	assert.True(t, a.conn.IsClosed())
	assert.Nil(t, e.w.Player(a.id))
	assert.Equal(t, 0, e.w.Map(1).Players())
	assert.Eventually(t, func() bool {
		acct, err := e.store.Account(context.Background(), a.id)
		return err == nil && acct.X == 7 && acct.Y == 8
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDuplicateLoginReplacesPlayer(t *testing.T) {
	e := newTestEnv(t)
	first := e.login("A", db.Account{})

	second := &testPlayer{conn: &fakeConn{}, id: first.id}
	second.client = NewClient(second.conn, e.w)
	require.NoError(t, e.send(second, fmt.Sprintf("LOGIN|%d|tok-A", first.id)))
	e.tick()

	assert.True(t, first.conn.IsClosed())
	assert.Same(t, second.client.Player(), e.w.Player(first.id))
	assert.Equal(t, 1, e.w.PlayerCount())
	assert.ErrorIs(t, e.send(first, "m|1|1"), dispatch.ErrQueueClosed)
}

func TestDisconnectedPlayerIsSwept(t *testing.T) {
	e := newTestEnv(t)
	a := e.login("A", db.Account{MapID: 3})
	b := e.login("B", db.Account{MapID: 3})

	a.conn.Close()
	e.tick()
	assert.Nil(t, e.w.Player(a.id))
	assert.Equal(t, 1, e.w.Map(3).Players())
	assert.Contains(t, b.conn.received(protocol.GameOutDespawn), []string{fmt.Sprint(a.id)})
}

func TestPingAndSnapshot(t *testing.T) {
	e := newTestEnv(t)
	a := e.login("A", db.Account{MapID: 2, X: 3, Y: 4})

	e.w.Tick(31 * time.Second)
	assert.Len(t, a.conn.received(protocol.GameOutPing), 1)

	snap := e.w.Snapshot()
	require.Len(t, snap.Players, 1)
	assert.Equal(t, Position{MapID: 2, X: 3, Y: 4}, snap.Players[0].Position)
	assert.Equal(t, 1, snap.Maps[2])
}

func TestKeepAliveIsImmediate(t *testing.T) {
	e := newTestEnv(t)
	a := e.login("A", db.Account{})
	require.NoError(t, e.send(a, "p"))
	assert.False(t, a.client.LastPong().IsZero())
}
