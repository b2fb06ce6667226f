package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hangar-project/hangar/internal/chat"
	"github.com/hangar-project/hangar/internal/game"
	intnet "github.com/hangar-project/hangar/internal/network"
	"github.com/hangar-project/hangar/internal/util"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "hangar",
		"version": Version,
	})
}

func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": Version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"system":  util.GetSystemInfo(),
	})
}

func (s *Server) chatSnapshot() *chat.Snapshot {
	if s.deps.Chat == nil {
		return &chat.Snapshot{}
	}
	return s.deps.Chat.Snapshot()
}

func (s *Server) worldSnapshot() *game.Snapshot {
	if s.deps.World == nil {
		return &game.Snapshot{}
	}
	return s.deps.World.Snapshot()
}

// handleStatus summarises both simulations, the listeners and host health.
func (s *Server) handleStatus(c *gin.Context) {
	cs := s.chatSnapshot()
	ws := s.worldSnapshot()

	status := gin.H{
		"version": Version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"chat": gin.H{
			"tick":     cs.Tick,
			"taken":    cs.Taken,
			"sessions": len(cs.Sessions),
			"rooms":    len(cs.Rooms),
		},
		"game": gin.H{
			"tick":    ws.Tick,
			"taken":   ws.Taken,
			"players": len(ws.Players),
			"maps":    ws.Maps,
		},
	}
	if s.deps.Conns != nil {
		status["connections"] = gin.H{
			"game":   s.deps.Conns.Count(intnet.RoleGame),
			"chat":   s.deps.Conns.Count(intnet.RoleChat),
			"policy": s.deps.Conns.Count(intnet.RolePolicy),
		}
	}
	if s.deps.Health != nil {
		status["health"] = s.deps.Health.Latest()
	}
	if s.deps.Ticks != nil {
		status["long_ticks"] = s.deps.Ticks.Loops()
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleSessions(c *gin.Context) {
	cs := s.chatSnapshot()
	c.JSON(http.StatusOK, gin.H{"tick": cs.Tick, "sessions": cs.Sessions})
}

func (s *Server) handleRooms(c *gin.Context) {
	cs := s.chatSnapshot()
	c.JSON(http.StatusOK, gin.H{"tick": cs.Tick, "rooms": cs.Rooms})
}

func (s *Server) handlePlayers(c *gin.Context) {
	ws := s.worldSnapshot()
	c.JSON(http.StatusOK, gin.H{"tick": ws.Tick, "players": ws.Players, "maps": ws.Maps})
}

func (s *Server) handleTicks(c *gin.Context) {
	if s.deps.Ticks == nil {
		c.JSON(http.StatusOK, gin.H{"loops": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"loops":  s.deps.Ticks.Loops(),
		"alerts": s.deps.Ticks.CheckThresholds(),
	})
}
