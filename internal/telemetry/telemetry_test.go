package telemetry

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangar-project/hangar/internal/dispatch"
	"github.com/hangar-project/hangar/internal/events"
)

func TestTopicFor(t *testing.T) {
	tests := []struct {
		prefix string
		event  events.EventType
		want   string
		ok     bool
	}{
		{"hangar", events.EventSessionJoined, "hangar/sessions", true},
		{"hangar", events.EventRoomClosed, "hangar/rooms", true},
		{"hangar", events.EventUserBanned, "hangar/moderation", true},
		{"", events.EventAnnouncement, "moderation", true},
		{"hangar", events.EventShutdown, "", false},
	}
	for _, tt := range tests {
		got, ok := TopicFor(tt.prefix, tt.event)
		assert.Equal(t, tt.ok, ok, tt.event)
		assert.Equal(t, tt.want, got, tt.event)
	}
}

func TestBuildMessage(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	data, err := buildMessage(map[string]any{"hostname": "box"}, "room_created",
		events.RoomPayload{RoomID: 1042, Name: "lounge", Type: "private"}, now)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "box", got["hostname"])
	assert.Equal(t, "room_created", got["event"])
	assert.Equal(t, "2026-03-14T12:00:00Z", got["timestamp"])

	payload := got["payload"].(map[string]any)
	assert.EqualValues(t, 1042, payload["room_id"])
	assert.Equal(t, "lounge", payload["name"])
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.ConnectionOpened("chat")
	m.ConnectionOpened("chat")
	m.ConnectionClosed("chat")
	m.FrameReceived("game")
	m.FrameDropped("game", "oversized")
	m.Routed("chat", dispatch.GlobalTick)
	m.Dropped("chat", "precondition")
	m.ObserveTick("chat", 80*time.Millisecond, 60*time.Millisecond)
	m.ObserveTick("chat", 10*time.Millisecond, 60*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections.WithLabelValues("chat")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionsTotal.WithLabelValues("chat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDropped.WithLabelValues("game", "oversized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.routed.WithLabelValues("chat", dispatch.GlobalTick.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.longTicks.WithLabelValues("chat")))
}

func TestMetricsHandlerServesGauges(t *testing.T) {
	m := NewMetrics()
	m.Gauge("chat_sessions", "Connected chat sessions.", func() float64 { return 7 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "hangar_chat_sessions 7"), body)
}
