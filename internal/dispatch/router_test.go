package dispatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangar-project/hangar/internal/protocol"
)

type fakeClient struct {
	authenticated bool
	closed        bool
	global        *Queue
	entity        *Queue
	calls         []string
}

func newFakeClient(auth bool) *fakeClient {
	return &fakeClient{authenticated: auth, global: NewQueue(), entity: NewQueue()}
}

func (c *fakeClient) Authenticated() bool { return c.authenticated }

func (c *fakeClient) Enqueue(a Affinity, j Job) bool {
	if c.closed {
		return false
	}
	if a == EntityTick {
		return c.entity.Push(j)
	}
	return c.global.Push(j)
}

type countingObserver struct {
	routed  map[Affinity]int
	dropped map[string]int
}

func (o *countingObserver) Routed(_ string, a Affinity)  { o.routed[a]++ }
func (o *countingObserver) Dropped(_ string, why string) { o.dropped[why]++ }

func record(name string) Handler[*fakeClient] {
	return func(c *fakeClient, _ *protocol.Packet) error {
		c.calls = append(c.calls, name)
		return nil
	}
}

func newTestRouter(t *testing.T) (*Router[*fakeClient], *countingObserver) {
	t.Helper()
	reg := NewRegistry[*fakeClient]("test")
	reg.Register(protocol.GameLogin, "login", RequiresUnauthenticated, Immediate, record("login"))
	reg.Register(protocol.GameKeepAlive, "keepalive", RequiresAuthenticated, Immediate, record("keepalive"))
	reg.Register(protocol.GameJump, "jump", RequiresAuthenticated, GlobalTick, record("jump"))
	reg.Register(protocol.GameMove, "move", RequiresAuthenticated, EntityTick, record("move"))
	reg.Register(protocol.GameWebKick, "kick", TrustedSideChannel, GlobalTick, record("kick"))
	reg.Register(protocol.GameLogout, "boom", RequiresAuthenticated, Immediate, func(*fakeClient, *protocol.Packet) error {
		panic("boom")
	})
	reg.Seal()

	obs := &countingObserver{routed: map[Affinity]int{}, dropped: map[string]int{}}
	return NewRouter(reg, obs), obs
}

func packet(op protocol.Opcode, trusted bool) *protocol.Packet {
	p := protocol.NewPacket(op, '|', nil)
	p.Trusted = trusted
	return p
}

func TestRouteImmediateRunsInline(t *testing.T) {
	r, obs := newTestRouter(t)
	c := newFakeClient(true)

	require.NoError(t, r.Route(c, packet(protocol.GameKeepAlive, false)))
	assert.Equal(t, []string{"keepalive"}, c.calls)
	assert.Equal(t, 1, obs.routed[Immediate])
}

func TestRouteTickAffinityNeverRunsInline(t *testing.T) {
	r, obs := newTestRouter(t)
	c := newFakeClient(true)

	require.NoError(t, r.Route(c, packet(protocol.GameJump, false)))
	require.NoError(t, r.Route(c, packet(protocol.GameMove, false)))
	require.NoError(t, r.Route(c, packet(protocol.GameMove, false)))

	assert.Empty(t, c.calls)
	assert.Equal(t, 1, c.global.Len())
	assert.Equal(t, 2, c.entity.Len())
	assert.Equal(t, 1, obs.routed[GlobalTick])
	assert.Equal(t, 2, obs.routed[EntityTick])

	c.entity.Drain(func(j Job) { require.NoError(t, j.Run()) })
	c.global.Drain(func(j Job) { require.NoError(t, j.Run()) })
	assert.Equal(t, []string{"move", "move", "jump"}, c.calls)
}

func TestRoutePreconditions(t *testing.T) {
	cases := []struct {
		name    string
		op      protocol.Opcode
		auth    bool
		trusted bool
		wantErr error
	}{
		{"login while unauthenticated", protocol.GameLogin, false, false, nil},
		{"login twice", protocol.GameLogin, true, false, ErrPreconditionViolation},
		{"keepalive before login", protocol.GameKeepAlive, false, false, ErrPreconditionViolation},
		{"trusted kick", protocol.GameWebKick, false, true, nil},
		{"untrusted kick", protocol.GameWebKick, true, false, ErrPreconditionViolation},
		{"trusted frame to client handler", protocol.GameJump, true, true, ErrPreconditionViolation},
		{"unknown opcode", protocol.Opcode('z'), true, false, ErrUnknownOpcode},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := newTestRouter(t)
			c := newFakeClient(tc.auth)
			err := r.Route(c, packet(tc.op, tc.trusted))
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Empty(t, c.calls)
			assert.Zero(t, c.global.Len()+c.entity.Len())
		})
	}
}

func TestRouteClosedSession(t *testing.T) {
	r, obs := newTestRouter(t)
	c := newFakeClient(true)
	c.closed = true

	err := r.Route(c, packet(protocol.GameJump, false))
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.Equal(t, 1, obs.dropped["queue_closed"])
}

func TestInvokeRecoversPanic(t *testing.T) {
	r, _ := newTestRouter(t)
	c := newFakeClient(true)

	err := r.Route(c, packet(protocol.GameLogout, false))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHandlerPanic))
}

func TestNewRouterRequiresSeal(t *testing.T) {
	reg := NewRegistry[*fakeClient]("test")
	assert.Panics(t, func() { NewRouter(reg, nil) })
}
