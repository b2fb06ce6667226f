package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateNetwork(&cfg.Network, result)
	validateSimulation(&cfg.Simulation, result)
	validateChat(&cfg.Chat, result)

	if cfg.WebChannel.Enabled && strings.TrimSpace(cfg.WebChannel.Secret) == "" {
		result.AddError("web_channel.secret", "secret is required when the web channel is enabled")
	}
	if cfg.WebChannel.Enabled && len(cfg.WebChannel.Secret) < 8 {
		result.AddWarning("web_channel.secret", "short secrets are easy to guess")
	}

	if strings.TrimSpace(cfg.Database.Path) == "" {
		result.AddError("database.path", "database path is required")
	}

	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
	}

	if !cfg.Security.AuthDisabled && strings.TrimSpace(cfg.Security.APIKey) == "" {
		result.AddWarning("security.api_key", "no API key set, the admin API will refuse every request")
	}
	if cfg.Security.RateLimitRPS < 1 {
		result.AddWarning("security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}

	return result
}

func validateNetwork(n *NetworkConfig, result *ValidationResult) {
	if ip := net.ParseIP(n.BindAddress); n.BindAddress != "" && ip == nil {
		result.AddError("network.bind_address", fmt.Sprintf("not an IP address: %s", n.BindAddress))
	}

	validatePort(n.GamePort, "network.game_port", result)
	validatePort(n.ChatPort, "network.chat_port", result)
	validatePort(n.PolicyPort, "network.policy_port", result)
	validatePort(n.APIPort, "network.api_port", result)

	ports := map[int]string{
		n.GamePort:   "game",
		n.ChatPort:   "chat",
		n.PolicyPort: "policy",
		n.APIPort:    "api",
	}
	if len(ports) < 4 {
		result.AddError("network.ports", "port conflict detected: all ports must be unique")
	}

	if n.MaxPacketSize < 1024 {
		result.AddError("network.max_packet_size", "max packet size must be at least 1024 bytes")
	}
	if n.ReadTimeoutSec < 1 {
		result.AddWarning("network.read_timeout_sec", "read timeout disabled, dead peers are only noticed by the OS")
	}
}

func validateSimulation(s *SimulationConfig, result *ValidationResult) {
	if s.TickIntervalMS < 1 {
		result.AddError("simulation.tick_interval_ms", "tick interval must be positive")
	}
	if s.PingIntervalSec < 1 {
		result.AddWarning("simulation.ping_interval_sec", "keepalive pings are disabled")
	}
	if len(s.Maps) == 0 {
		result.AddError("simulation.maps", "at least one map is required")
	}
	seen := make(map[int]bool)
	for i, m := range s.Maps {
		field := fmt.Sprintf("simulation.maps[%d]", i)
		if seen[m.ID] {
			result.AddError(field, fmt.Sprintf("duplicate map id %d", m.ID))
		}
		seen[m.ID] = true
		if m.Width < 1 || m.Height < 1 {
			result.AddError(field, "map dimensions must be positive")
		}
	}
}

func validateChat(c *ChatConfig, result *ValidationResult) {
	if c.AdhocRoomRange < 1 {
		result.AddError("chat.adhoc_room_range", "ad-hoc room id range must not be empty")
	}
	if c.AdhocRoomBase < 1 {
		result.AddError("chat.adhoc_room_base", "ad-hoc room ids must be positive")
	}

	seen := make(map[int64]bool)
	for i, r := range c.StandingRooms {
		field := fmt.Sprintf("chat.standing_rooms[%d]", i)
		if r.ID < 1 {
			result.AddError(field, "room id must be positive")
		}
		if seen[r.ID] {
			result.AddError(field, fmt.Sprintf("duplicate room id %d", r.ID))
		}
		seen[r.ID] = true
		if r.ID >= c.AdhocRoomBase && r.ID < c.AdhocRoomBase+c.AdhocRoomRange {
			result.AddError(field, fmt.Sprintf("room id %d overlaps the ad-hoc range", r.ID))
		}
		switch r.Type {
		case "normal", "faction", "clan":
		default:
			result.AddError(field, fmt.Sprintf("invalid standing room type %q", r.Type))
		}
	}

	if c.MessageRate <= 0 || c.MessageBurst < 1 {
		result.AddError("chat.message_rate", "message rate and burst must be positive")
	}
	if len(c.CommandPrefix) != 1 {
		result.AddError("chat.command_prefix", "command prefix must be a single character")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
