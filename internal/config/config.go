// Package config handles configuration loading, environment overrides,
// validation and persistence for the hangar server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"

	DefaultGamePort   = 7000
	DefaultChatPort   = 7001
	DefaultPolicyPort = 843
	DefaultAPIPort    = 5000
)

// DefaultPolicyDocument allows socket access from any domain to the game
// and chat ports.
const DefaultPolicyDocument = `<?xml version="1.0"?>
<cross-domain-policy>
<allow-access-from domain="*" to-ports="7000,7001" />
</cross-domain-policy>`

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Network     NetworkConfig     `json:"network"`
	Simulation  SimulationConfig  `json:"simulation"`
	WebChannel  WebChannelConfig  `json:"web_channel"`
	Chat        ChatConfig        `json:"chat"`
	Database    DatabaseConfig    `json:"database"`
	MQTT        MQTTConfig        `json:"mqtt"`
	Security    SecurityConfig    `json:"security"`
	Logging     LoggingConfig     `json:"logging"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Timers      TimerConfig       `json:"timers"`
}

// NetworkConfig holds listener settings.
type NetworkConfig struct {
	BindAddress        string `json:"bind_address"`
	GamePort           int    `json:"game_port"`
	ChatPort           int    `json:"chat_port"`
	PolicyPort         int    `json:"policy_port"`
	APIPort            int    `json:"api_port"`
	ReadTimeoutSec     int    `json:"read_timeout_sec"`
	MaxPacketSize      int    `json:"max_packet_size"`
	GameMaxConnections int    `json:"game_max_connections"`
	ChatMaxConnections int    `json:"chat_max_connections"`
	PolicyDocument     string `json:"policy_document"`
}

// SimulationConfig holds tick and world settings.
type SimulationConfig struct {
	TickIntervalMS         int         `json:"tick_interval_ms"`
	PingIntervalSec        int         `json:"ping_interval_sec"`
	CommandPollIntervalSec int         `json:"command_poll_interval_sec"`
	CommandBatch           int         `json:"command_batch"`
	Maps                   []MapConfig `json:"maps"`
}

// MapConfig describes one world map shard.
type MapConfig struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// WebChannelConfig holds the trusted side-channel settings.
type WebChannelConfig struct {
	Enabled bool   `json:"enabled"`
	Secret  string `json:"secret"`
}

// ChatConfig holds room layout and chat limits.
type ChatConfig struct {
	StandingRooms    []StandingRoomConfig `json:"standing_rooms"`
	AdhocRoomBase    int64                `json:"adhoc_room_base"`
	AdhocRoomRange   int64                `json:"adhoc_room_range"`
	MessageRate      float64              `json:"message_rate"`
	MessageBurst     int                  `json:"message_burst"`
	MaxMessageLength int                  `json:"max_message_length"`
	MaxRoomName      int                  `json:"max_room_name"`
	CommandPrefix    string               `json:"command_prefix"`
}

// StandingRoomConfig describes one always-present chat room.
type StandingRoomConfig struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Tab      int    `json:"tab"`
	Type     string `json:"type"`
	Faction  int    `json:"faction,omitempty"`
	AutoJoin bool   `json:"auto_join"`
}

// DatabaseConfig holds the sqlite settings.
type DatabaseConfig struct {
	Path       string `json:"path"`
	TimeoutSec int    `json:"timeout_sec"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// SecurityConfig holds admin API settings.
type SecurityConfig struct {
	APIKey         string   `json:"api_key"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	IPWhitelist    []string `json:"ip_whitelist"`
	AuthDisabled   bool     `json:"auth_disabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// MaintenanceConfig holds the daily purge settings.
type MaintenanceConfig struct {
	Enabled              bool   `json:"enabled"`
	PurgeTime            string `json:"purge_time"`
	AppliedRetentionDays int    `json:"applied_retention_days"`
}

// TimerConfig holds periodic task intervals.
type TimerConfig struct {
	HealthCheckInterval  int `json:"health_check_interval_sec"`
	TickMonitorInterval  int `json:"tick_monitor_interval_sec"`
	StaleConnectionAfter int `json:"stale_connection_after_sec"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			BindAddress:        "0.0.0.0",
			GamePort:           DefaultGamePort,
			ChatPort:           DefaultChatPort,
			PolicyPort:         DefaultPolicyPort,
			APIPort:            DefaultAPIPort,
			ReadTimeoutSec:     120,
			MaxPacketSize:      10 << 20,
			GameMaxConnections: 2000,
			ChatMaxConnections: 2000,
			PolicyDocument:     DefaultPolicyDocument,
		},
		Simulation: SimulationConfig{
			TickIntervalMS:         60,
			PingIntervalSec:        30,
			CommandPollIntervalSec: 2,
			CommandBatch:           50,
			Maps: []MapConfig{
				{ID: 1, Name: "Hangar", Width: 1000, Height: 1000},
				{ID: 2, Name: "Mine", Width: 2000, Height: 2000},
				{ID: 3, Name: "Outpost", Width: 1500, Height: 1500},
			},
		},
		Chat: ChatConfig{
			StandingRooms: []StandingRoomConfig{
				{ID: 1, Name: "Global", Tab: 0, Type: "normal", AutoJoin: true},
				{ID: 2, Name: "Faction 1", Tab: 1, Type: "faction", Faction: 1, AutoJoin: true},
				{ID: 3, Name: "Faction 2", Tab: 1, Type: "faction", Faction: 2, AutoJoin: true},
				{ID: 4, Name: "Faction 3", Tab: 1, Type: "faction", Faction: 3, AutoJoin: true},
				{ID: 5, Name: "Clan Search", Tab: 2, Type: "normal"},
			},
			AdhocRoomBase:    1000,
			AdhocRoomRange:   10000,
			MessageRate:      2,
			MessageBurst:     5,
			MaxMessageLength: 256,
			MaxRoomName:      32,
			CommandPrefix:    "/",
		},
		Database: DatabaseConfig{
			Path:       filepath.Join("data", "hangar.db"),
			TimeoutSec: 5,
		},
		MQTT: MQTTConfig{
			Port:        1883,
			ClientID:    "hangar",
			TopicPrefix: "hangar",
		},
		Security: SecurityConfig{
			RateLimitRPS: 20,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
		Maintenance: MaintenanceConfig{
			Enabled:              true,
			PurgeTime:            "04:00",
			AppliedRetentionDays: 7,
		},
		Timers: TimerConfig{
			HealthCheckInterval:  60,
			TickMonitorInterval:  120,
			StaleConnectionAfter: 600,
		},
	}
}

// Load reads configuration from a JSON file, creating it with defaults
// when missing, then applies HANGAR_* environment overrides.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	cfg := DefaultConfig()
	cfg.path = configPath

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		log.Info().Str("path", configPath).Msg("config file not found, creating default")
		if saveErr := cfg.Save(); saveErr != nil {
			return nil, fmt.Errorf("failed to save default config: %w", saveErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
		log.Info().Str("path", configPath).Msg("configuration loaded")

		// Re-save to persist fields added since the file was written.
		if saveErr := cfg.Save(); saveErr != nil {
			log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
		}
	}

	// Environment overrides are applied after saving so secrets passed
	// through the environment never land on disk.
	if n := applyEnv(cfg); n > 0 {
		log.Info().Int("overrides", n).Msg("environment overrides applied")
	}
	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// GetSecurity returns a copy of the security settings.
func (c *Config) GetSecurity() SecurityConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Security
}

// SetSecurity replaces the security settings.
func (c *Config) SetSecurity(s SecurityConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Security = s
}

// TickInterval returns the global tick interval.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Simulation.TickIntervalMS) * time.Millisecond
}

// PingInterval returns the keepalive ping interval.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Simulation.PingIntervalSec) * time.Second
}

// ReadTimeout returns the per-connection read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Network.ReadTimeoutSec) * time.Second
}

// StoreTimeout returns the timeout applied to each database call.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.Database.TimeoutSec) * time.Second
}

// Address joins the bind address with a port.
func (c *Config) Address(port int) string {
	return fmt.Sprintf("%s:%d", c.Network.BindAddress, port)
}
