package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hangar-project/hangar/internal/db"
	"github.com/hangar-project/hangar/internal/protocol"
)

var testClock = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeConn) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("connection closed")
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}

// received decodes every frame sent with the given two-letter header.
func (f *fakeConn) received(header string) []*protocol.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*protocol.Packet
	for _, frame := range f.frames {
		trimmed := protocol.ChatFormat.Trim(frame)
		if len(trimmed) < 2 || string(trimmed[:2]) != header {
			continue
		}
		pkt, err := protocol.Decode(protocol.ChatFormat, trimmed)
		if err != nil {
			continue
		}
		out = append(out, pkt)
	}
	return out
}

// systemTexts returns the text of every system message received.
func (f *fakeConn) systemTexts() []string {
	var out []string
	for _, pkt := range f.received(protocol.ChatOutSystem) {
		out = append(out, pkt.Fields()[0])
	}
	return out
}

// messageTexts returns the text of every room message received. The
// text is the tail after roomID, senderID and senderName.
func (f *fakeConn) messageTexts() []string {
	var out []string
	for _, pkt := range f.received(protocol.ChatOutRoomMessage) {
		out = append(out, strings.Join(pkt.Fields()[3:], "@"))
	}
	return out
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

type testEnv struct {
	t     *testing.T
	m     *Manager
	store *db.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m := NewManager(DefaultOptions(), store, nil, nil)
	m.now = func() time.Time { return testClock }
	m.CreateStandingRooms()
	return &testEnv{t: t, m: m, store: store}
}

type testUser struct {
	client *Client
	conn   *fakeConn
	id     int64
}

func (u *testUser) session(m *Manager) *Session {
	return m.Session(u.id)
}

// login creates an account, performs the handshake and runs one tick so
// the session is registered.
func (e *testEnv) login(name string, level Level, faction int) *testUser {
	e.t.Helper()
	id, err := e.store.CreateAccount(context.Background(), db.Account{
		Name: name, SessionToken: "tok-" + name, Level: int(level), Faction: faction,
	})
	require.NoError(e.t, err)

	u := &testUser{conn: &fakeConn{}, id: id}
	u.client = NewClient(u.conn, e.m)
	require.NoError(e.t, u.client.HandleFrame(context.Background(), fmt.Appendf(nil, "LI@%d@tok-%s", id, name)))
	e.m.Tick(0)
	require.NotNil(e.t, e.m.Session(id))
	return u
}

// send routes a raw frame from u and ignores the result.
func (e *testEnv) send(u *testUser, frame string) error {
	return u.client.HandleFrame(context.Background(), []byte(frame))
}

// checkMembership asserts both sides of every membership agree.
func checkMembership(t *testing.T, m *Manager) {
	t.Helper()
	for id, r := range m.rooms {
		for sid, s := range r.members {
			require.Contains(t, s.rooms, id, "room %d lists session %d", id, sid)
		}
	}
	for sid, s := range m.sessions {
		for rid, r := range s.rooms {
			require.True(t, r.Has(sid), "session %d lists room %d", sid, rid)
		}
	}
}
