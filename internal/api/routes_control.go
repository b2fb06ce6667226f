package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/hangar-project/hangar/internal/chat"
	"github.com/hangar-project/hangar/internal/events"
	"github.com/hangar-project/hangar/internal/game"
)

// Targets for announce and kick.
const (
	TargetAll  = "all"
	TargetChat = "chat"
	TargetGame = "game"
)

// AnnounceRequest is the body of POST /api/control/announce.
type AnnounceRequest struct {
	Text   string `json:"text" binding:"required"`
	Target string `json:"target"`
}

// KickRequest is the body of POST /api/control/kick. Either UserID or
// Name identifies the user.
type KickRequest struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
	Target string `json:"target"`
}

func validTarget(t string) (string, bool) {
	switch t {
	case "":
		return TargetAll, true
	case TargetAll, TargetChat, TargetGame:
		return t, true
	}
	return "", false
}

func (s *Server) handleAnnounce(c *gin.Context) {
	var req AnnounceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target, ok := validTarget(req.Target)
	if !ok || strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid target or empty text"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	result := gin.H{}
	if target != TargetGame && s.deps.Chat != nil {
		var n int
		err := s.deps.Chat.Call(ctx, func(m *chat.Manager) error {
			n = m.Announce(req.Text)
			return nil
		})
		if err != nil {
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
			return
		}
		result["chat"] = n
	}
	if target != TargetChat && s.deps.World != nil {
		var n int
		err := s.deps.World.Call(ctx, func(w *game.World) error {
			n = w.Broadcast(req.Text)
			return nil
		})
		if err != nil {
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
			return
		}
		result["game"] = n
	}

	s.emit(ctx, events.EventAnnouncement, events.ModerationPayload{
		IssuerName: "api",
		Text:       req.Text,
	})
	log.Info().Str("target", target).Str("text", req.Text).Msg("API: announcement sent")

	c.JSON(http.StatusOK, gin.H{"status": "sent", "delivered": result})
}

// resolveUser turns a name into a user id using the published snapshots.
func (s *Server) resolveUser(req KickRequest) (int64, bool) {
	if req.UserID != 0 {
		return req.UserID, true
	}
	if req.Name == "" {
		return 0, false
	}
	if info, ok := s.chatSnapshot().FindSession(req.Name); ok {
		return info.ID, true
	}
	for _, p := range s.worldSnapshot().Players {
		if strings.EqualFold(p.Name, req.Name) {
			return p.ID, true
		}
	}
	return 0, false
}

func (s *Server) handleKick(c *gin.Context) {
	var req KickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target, ok := validTarget(req.Target)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid target"})
		return
	}
	id, ok := s.resolveUser(req)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "user is not online"})
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "You have been kicked"
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	kicked := gin.H{}
	if target != TargetGame && s.deps.Chat != nil {
		found := false
		err := s.deps.Chat.Call(ctx, func(m *chat.Manager) error {
			if sess := m.Session(id); sess != nil {
				m.Kick(sess, reason)
				found = true
			}
			return nil
		})
		if err != nil {
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
			return
		}
		kicked["chat"] = found
	}
	if target != TargetChat && s.deps.World != nil {
		err := s.deps.World.Call(ctx, func(w *game.World) error {
			return w.Kick(id, reason)
		})
		switch {
		case errors.Is(err, game.ErrPlayerOffline):
			kicked["game"] = false
		case err != nil:
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
			return
		default:
			kicked["game"] = true
		}
	}

	if kicked["chat"] != true && kicked["game"] != true {
		c.JSON(http.StatusNotFound, gin.H{"error": "user is not online", "user_id": id})
		return
	}

	s.emit(ctx, events.EventUserKicked, events.ModerationPayload{
		IssuerName: "api",
		TargetID:   id,
		TargetName: req.Name,
		Text:       reason,
	})
	log.Info().Int64("user_id", id).Str("target", target).Msg("API: user kicked")

	c.JSON(http.StatusOK, gin.H{"status": "kicked", "user_id": id, "kicked": kicked})
}

func (s *Server) handleRemoveRoom(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	if s.deps.Chat == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat is not running"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	err = s.deps.Chat.Call(ctx, func(m *chat.Manager) error {
		return m.RemoveRoom(id)
	})
	switch {
	case errors.Is(err, chat.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found", "room_id": id})
	case err != nil:
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	default:
		log.Info().Int64("room_id", id).Msg("API: room removed")
		c.JSON(http.StatusOK, gin.H{"status": "removed", "room_id": id})
	}
}
