package game

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hangar-project/hangar/internal/db"
	"github.com/hangar-project/hangar/internal/protocol"
)

const testSecret = "s3cret:"

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
	return &net.TCPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 50000}
}

// received returns the fields after the message type of every frame of
// the given type.
func (f *fakeConn) received(kind string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, frame := range f.frames {
		pkt, err := protocol.Decode(protocol.GameFormat, protocol.GameFormat.Trim(frame))
		if err != nil || pkt.Remaining() == 0 {
			continue
		}
		if fields := pkt.Fields(); fields[0] == kind {
			out = append(out, fields[1:])
		}
	}
	return out
}

type testEnv struct {
	t     *testing.T
	w     *World
	store *db.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "game.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	opts := DefaultOptions()
	opts.WebSecret = testSecret
	w, err := NewWorld(opts, store, nil, nil)
	require.NoError(t, err)
	w.now = func() time.Time { return testClock }
	return &testEnv{t: t, w: w, store: store}
}

// tick runs one global tick followed by one tick of every map, twice so
// map transfers chained through two shards settle.
func (e *testEnv) tick() {
	for range 2 {
		e.w.Tick(0)
		for _, m := range e.w.Maps() {
			m.Tick(0)
		}
	}
}

type testPlayer struct {
	client *Client
	conn   *fakeConn
	id     int64
}

func (e *testEnv) login(name string, acct db.Account) *testPlayer {
	e.t.Helper()
	acct.Name = name
	acct.SessionToken = "tok-" + name
	id, err := e.store.CreateAccount(context.Background(), acct)
	require.NoError(e.t, err)

	tp := &testPlayer{conn: &fakeConn{}, id: id}
	tp.client = NewClient(tp.conn, e.w)
	require.NoError(e.t, e.send(tp, fmt.Sprintf("LOGIN|%d|tok-%s", id, name)))
	e.tick()
	require.NotNil(e.t, e.w.Player(id))
	return tp
}

func (e *testEnv) send(tp *testPlayer, frame string) error {
	return tp.client.HandleFrame(context.Background(), []byte(frame))
}
