package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/hangar-project/hangar/internal/config"
)

const redacted = "********"

func redact(s string) string {
	if s == "" {
		return ""
	}
	return redacted
}

// handleGetConfig returns the running configuration with secrets masked.
func (s *Server) handleGetConfig(c *gin.Context) {
	cfg := s.deps.Config
	sec := cfg.GetSecurity()
	sec.APIKey = redact(sec.APIKey)

	c.JSON(http.StatusOK, gin.H{
		"path":       cfg.Path(),
		"network":    cfg.Network,
		"simulation": cfg.Simulation,
		"web_channel": gin.H{
			"enabled": cfg.WebChannel.Enabled,
			"secret":  redact(cfg.WebChannel.Secret),
		},
		"chat":        cfg.Chat,
		"database":    cfg.Database,
		"mqtt":        cfg.MQTT,
		"security":    sec,
		"logging":     cfg.Logging,
		"maintenance": cfg.Maintenance,
		"timers":      cfg.Timers,
	})
}

// handleSetSecurity replaces the security section and saves the file. The
// API key and whitelist apply to the next request; origins and rate limit
// apply after a restart.
func (s *Server) handleSetSecurity(c *gin.Context) {
	var sec config.SecurityConfig
	if err := c.ShouldBindJSON(&sec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if sec.APIKey == "" || sec.APIKey == redacted {
		sec.APIKey = s.deps.Config.GetSecurity().APIKey
	}

	s.deps.Config.SetSecurity(sec)
	if err := s.deps.Config.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	log.Info().Msg("API: security settings updated")
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}
