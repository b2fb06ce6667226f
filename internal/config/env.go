package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. HANGAR_NETWORK_CHAT_PORT.
const EnvPrefix = "HANGAR"

type override struct {
	key   string
	apply func(v *viper.Viper, key string)
}

func intVar(key string, p *int) override {
	return override{key, func(v *viper.Viper, k string) { *p = v.GetInt(k) }}
}

func int64Var(key string, p *int64) override {
	return override{key, func(v *viper.Viper, k string) { *p = v.GetInt64(k) }}
}

func stringVar(key string, p *string) override {
	return override{key, func(v *viper.Viper, k string) { *p = v.GetString(k) }}
}

func boolVar(key string, p *bool) override {
	return override{key, func(v *viper.Viper, k string) { *p = v.GetBool(k) }}
}

func float64Var(key string, p *float64) override {
	return override{key, func(v *viper.Viper, k string) { *p = v.GetFloat64(k) }}
}

func stringsVar(key string, p *[]string) override {
	return override{key, func(v *viper.Viper, k string) {
		var out []string
		for _, s := range strings.Split(v.GetString(k), ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*p = out
	}}
}

func (c *Config) overrides() []override {
	return []override{
		stringVar("network.bind_address", &c.Network.BindAddress),
		intVar("network.game_port", &c.Network.GamePort),
		intVar("network.chat_port", &c.Network.ChatPort),
		intVar("network.policy_port", &c.Network.PolicyPort),
		intVar("network.api_port", &c.Network.APIPort),
		intVar("network.read_timeout_sec", &c.Network.ReadTimeoutSec),
		intVar("network.game_max_connections", &c.Network.GameMaxConnections),
		intVar("network.chat_max_connections", &c.Network.ChatMaxConnections),
		intVar("simulation.tick_interval_ms", &c.Simulation.TickIntervalMS),
		intVar("simulation.ping_interval_sec", &c.Simulation.PingIntervalSec),
		boolVar("web_channel.enabled", &c.WebChannel.Enabled),
		stringVar("web_channel.secret", &c.WebChannel.Secret),
		int64Var("chat.adhoc_room_base", &c.Chat.AdhocRoomBase),
		int64Var("chat.adhoc_room_range", &c.Chat.AdhocRoomRange),
		float64Var("chat.message_rate", &c.Chat.MessageRate),
		intVar("chat.message_burst", &c.Chat.MessageBurst),
		stringVar("database.path", &c.Database.Path),
		boolVar("mqtt.enabled", &c.MQTT.Enabled),
		stringVar("mqtt.broker_url", &c.MQTT.BrokerURL),
		intVar("mqtt.port", &c.MQTT.Port),
		stringVar("security.api_key", &c.Security.APIKey),
		stringsVar("security.allowed_origins", &c.Security.AllowedOrigins),
		boolVar("security.auth_disabled", &c.Security.AuthDisabled),
		stringVar("logging.level", &c.Logging.Level),
		stringVar("logging.directory", &c.Logging.Directory),
	}
}

// applyEnv overlays HANGAR_* environment variables and returns how many
// were set.
func applyEnv(c *Config) int {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, o := range c.overrides() {
		_ = v.BindEnv(o.key)
		if !v.IsSet(o.key) {
			continue
		}
		o.apply(v, o.key)
		n++
	}
	return n
}
