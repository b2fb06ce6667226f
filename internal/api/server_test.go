package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangar-project/hangar/internal/chat"
	"github.com/hangar-project/hangar/internal/config"
	"github.com/hangar-project/hangar/internal/game"
	"github.com/hangar-project/hangar/internal/network"
	"github.com/hangar-project/hangar/internal/telemetry"
)

const testKey = "test-api-key"

type testAPI struct {
	srv   *Server
	cfg   *config.Config
	chat  *chat.Manager
	world *game.World
}

// newTestAPI builds a server over real managers and ticks them until the
// test ends.
func newTestAPI(t *testing.T, edit func(*config.Config)) *testAPI {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Security.APIKey = testKey
	cfg.Security.RateLimitRPS = 0
	if edit != nil {
		edit(cfg)
	}

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

	srv := NewServer(Deps{
		Config:  cfg,
		Chat:    m,
		World:   w,
		Conns:   network.NewConnectionRegistry(),
		Metrics: telemetry.NewMetrics(),
	})
	return &testAPI{srv: srv, cfg: cfg, chat: m, world: w}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, auth bool) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	rec := httptest.NewRecorder()
	a.srv.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if rec.Header().Get("Content-Type") != "" && bytes.HasPrefix(rec.Body.Bytes(), []byte("{")) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestPublicPing(t *testing.T) {
	a := newTestAPI(t, nil)
	rec, body := a.do(t, "GET", "/api/public/ping", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "hangar", rec.Header().Get("Server"))
}

func TestAuth(t *testing.T) {
	a := newTestAPI(t, nil)

	rec, _ := a.do(t, "GET", "/api/monitor/status", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest("GET", "/api/monitor/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	a.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = a.do(t, "GET", "/api/monitor/status", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)

	a.cfg.SetSecurity(config.SecurityConfig{})
	rec, _ = a.do(t, "GET", "/api/monitor/status", nil, true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	a.cfg.SetSecurity(config.SecurityConfig{AuthDisabled: true})
	rec, _ = a.do(t, "GET", "/api/monitor/status", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPWhitelist(t *testing.T) {
	a := newTestAPI(t, func(c *config.Config) {
		c.Security.IPWhitelist = []string{"10.0.0.0/8"}
	})
	// httptest requests come from 192.0.2.1.
	rec, _ := a.do(t, "GET", "/api/monitor/status", nil, true)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.True(t, ipAllowed("10.1.2.3", []string{"10.0.0.0/8"}))
	assert.True(t, ipAllowed("127.0.0.1", []string{"127.0.0.1"}))
	assert.False(t, ipAllowed("192.168.1.1", []string{"10.0.0.0/8", "127.0.0.1"}))
}

func TestStatusAndRooms(t *testing.T) {
	a := newTestAPI(t, nil)

	require.Eventually(t, func() bool { return a.chat.Snapshot().Tick > 0 }, time.Second, time.Millisecond)

	rec, body := a.do(t, "GET", "/api/monitor/status", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	chatStatus := body["chat"].(map[string]any)
	assert.EqualValues(t, 0, chatStatus["sessions"])
	assert.EqualValues(t, 5, chatStatus["rooms"])
	assert.Contains(t, body, "connections")

	rec, body = a.do(t, "GET", "/api/monitor/rooms", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["rooms"], 5)

	rec, body = a.do(t, "GET", "/api/monitor/players", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["players"])
}

func TestAnnounce(t *testing.T) {
	a := newTestAPI(t, nil)

	rec, body := a.do(t, "POST", "/api/control/announce", AnnounceRequest{Text: "restart in 5"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	delivered := body["delivered"].(map[string]any)
	assert.EqualValues(t, 0, delivered["chat"])
	assert.EqualValues(t, 0, delivered["game"])

	rec, _ = a.do(t, "POST", "/api/control/announce", AnnounceRequest{Text: "x", Target: "moon"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = a.do(t, "POST", "/api/control/announce", map[string]string{}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKickOfflineUser(t *testing.T) {
	a := newTestAPI(t, nil)

	rec, _ := a.do(t, "POST", "/api/control/kick", KickRequest{Name: "nobody"}, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = a.do(t, "POST", "/api/control/kick", KickRequest{UserID: 42}, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRemoveRoom(t *testing.T) {
	a := newTestAPI(t, nil)

	rec, _ := a.do(t, "DELETE", "/api/control/rooms/5", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool { return len(a.chat.Snapshot().Rooms) == 4 }, time.Second, time.Millisecond)

	rec, _ = a.do(t, "DELETE", "/api/control/rooms/5", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = a.do(t, "DELETE", "/api/control/rooms/abc", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfigRedactsSecrets(t *testing.T) {
	a := newTestAPI(t, func(c *config.Config) {
		c.WebChannel.Secret = "hunter22"
	})

	rec, body := a.do(t, "GET", "/api/configure/config", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter22")
	assert.NotContains(t, rec.Body.String(), testKey)
	assert.Equal(t, redacted, body["web_channel"].(map[string]any)["secret"])
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestAPI(t, nil)
	rec, _ := a.do(t, "GET", "/metrics", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	rl.lastSweep = now

	assert.True(t, rl.allow("1.1.1.1", now))
	assert.True(t, rl.allow("1.1.1.1", now))
	assert.False(t, rl.allow("1.1.1.1", now))
	assert.True(t, rl.allow("2.2.2.2", now))
	assert.True(t, rl.allow("1.1.1.1", now.Add(time.Second)))

	rl.allow("3.3.3.3", now.Add(10*time.Minute))
	assert.NotContains(t, rl.clients, "1.1.1.1")
}
