package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitReachesSubscribers(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	var got []string
	record := func(name string) HandlerFunc {
		return func(_ context.Context, e Event) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, name+":"+e.Source)
			return nil
		}
	}
	bus.Subscribe(EventRoomCreated, "a", record("a"))
	bus.Subscribe(EventRoomCreated, "b", record("b"))
	bus.Subscribe(EventRoomClosed, "c", record("c"))

	bus.Emit(context.Background(), Event{Type: EventRoomCreated, Source: "chat"})
	bus.Wait()

	assert.ElementsMatch(t, []string{"a:chat", "b:chat"}, got)
}

func TestHandlerFailuresAreContained(t *testing.T) {
	bus := NewEventBus()
	bus.Subscribe(EventShutdown, "err", func(context.Context, Event) error { return errors.New("nope") })
	bus.Subscribe(EventShutdown, "panic", func(context.Context, Event) error { panic("boom") })

	assert.NotPanics(t, func() {
		bus.Emit(context.Background(), Event{Type: EventShutdown})
		bus.Wait()
	})
}

func TestUnsubscribeAndStop(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	bus.Subscribe(EventAnnouncement, "x", func(context.Context, Event) error { calls++; return nil })
	assert.Equal(t, 1, bus.HandlerCount(EventAnnouncement))

	bus.Unsubscribe(EventAnnouncement, "x")
	assert.Equal(t, 0, bus.HandlerCount(EventAnnouncement))

	bus.Subscribe(EventAnnouncement, "y", func(context.Context, Event) error { calls++; return nil })
	bus.Stop()
	bus.Emit(context.Background(), Event{Type: EventAnnouncement})
	bus.Wait()
	assert.Equal(t, 0, calls)
}

func TestSubscriberSeesEmitOrder(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var got []EventType
	record := func(_ context.Context, e Event) error {
		got = append(got, e.Type)
		return nil
	}
	bus.Subscribe(EventRoomCreated, "mqtt", record)
	bus.Subscribe(EventRoomClosed, "mqtt", record)
	assert.Equal(t, 1, bus.HandlerCount(EventRoomClosed))

	for range 50 {
		bus.Emit(context.Background(), Event{Type: EventRoomCreated})
		bus.Emit(context.Background(), Event{Type: EventRoomClosed})
	}
	bus.Wait()

	require.Len(t, got, 100)
	for i := 0; i < len(got); i += 2 {
		assert.Equal(t, EventRoomCreated, got[i])
		assert.Equal(t, EventRoomClosed, got[i+1])
	}
}

func TestFullMailboxDropsInsteadOfBlocking(t *testing.T) {
	bus := NewEventBus()
	release := make(chan struct{})
	bus.Subscribe(EventLongTick, "slow", func(context.Context, Event) error {
		<-release
		return nil
	})

	for range mailboxSize + 2 {
		bus.Emit(context.Background(), Event{Type: EventLongTick})
	}
	assert.GreaterOrEqual(t, bus.Dropped(), uint64(1))

	close(release)
	bus.Wait()
	bus.Stop()
}
