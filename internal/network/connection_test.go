package network

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangar-project/hangar/internal/protocol"
)

type recorder struct {
	frames chan string
	result func(frame string) error
}

func (r *recorder) HandleFrame(_ context.Context, frame []byte) error {
	r.frames <- string(frame)
	if r.result != nil {
		return r.result(string(frame))
	}
	return nil
}

func serve(t *testing.T, h FrameHandler) (*Connection, net.Conn, <-chan struct{}) {
	t.Helper()
	server, client := net.Pipe()
	conn := NewConnection(server, RoleChat, ConnOptions{
		Format:         protocol.ChatFormat,
		PolicyDocument: "<cross-domain-policy/>",
	})
	done := make(chan struct{})
	go func() {
		conn.Serve(context.Background(), h)
		close(done)
	}()
	t.Cleanup(func() { client.Close() })
	return conn, client, done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serve loop did not exit")
	}
}

func nextFrame(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return ""
	}
}

func TestServeSplitsCoalescedFrames(t *testing.T) {
	rec := &recorder{frames: make(chan string, 8)}
	conn, client, done := serve(t, rec)

	_, err := client.Write([]byte("PO#\x00MS@1@hi#\x00JR@"))
	require.NoError(t, err)
	_, err = client.Write([]byte("2#\x00"))
	require.NoError(t, err)

	assert.Equal(t, "PO", nextFrame(t, rec.frames))
	assert.Equal(t, "MS@1@hi", nextFrame(t, rec.frames))
	assert.Equal(t, "JR@2", nextFrame(t, rec.frames))

	client.Close()
	waitDone(t, done)
	assert.True(t, conn.IsClosed())
}

func TestServeHandlerErrorKeepsConnection(t *testing.T) {
	rec := &recorder{
		frames: make(chan string, 8),
		result: func(frame string) error {
			if frame == "XX" {
				return fmt.Errorf("%w: bad frame", protocol.ErrMalformedField)
			}
			return nil
		},
	}
	conn, client, done := serve(t, rec)

	_, err := client.Write([]byte("XX#\x00PO#\x00"))
	require.NoError(t, err)
	assert.Equal(t, "XX", nextFrame(t, rec.frames))
	assert.Equal(t, "PO", nextFrame(t, rec.frames))
	assert.False(t, conn.IsClosed())

	client.Close()
	waitDone(t, done)
}

func TestServeLoginFailureCloses(t *testing.T) {
	rec := &recorder{
		frames: make(chan string, 8),
		result: func(string) error {
			return fmt.Errorf("session 9: %w", ErrLoginFailure)
		},
	}
	conn, client, done := serve(t, rec)

	_, err := client.Write([]byte("LI@9@token#\x00"))
	require.NoError(t, err)
	assert.Equal(t, "LI@9@token", nextFrame(t, rec.frames))

	waitDone(t, done)
	assert.True(t, conn.IsClosed())
	assert.ErrorIs(t, conn.Send([]byte("late")), ErrConnectionClosed)
}

func TestServePolicyThenIdle(t *testing.T) {
	rec := &recorder{frames: make(chan string, 8)}
	_, client, done := serve(t, rec)

	_, err := client.Write([]byte(protocol.PolicyRequest + "\x00"))
	require.NoError(t, err)

	want := "<cross-domain-policy/>\x00"
	got := make([]byte, len(want))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(client, got)
	require.NoError(t, err)
	assert.Equal(t, want, string(got))

	_, err = client.Write([]byte("PO#\x00"))
	require.NoError(t, err)
	client.Close()
	waitDone(t, done)

	assert.Empty(t, rec.frames)
}

func TestSendNilIsNoop(t *testing.T) {
	rec := &recorder{frames: make(chan string, 1)}
	conn, _, _ := serve(t, rec)
	assert.NoError(t, conn.Send(nil))
	assert.NotEmpty(t, conn.ID())
	assert.Equal(t, RoleChat, conn.Role())
}
