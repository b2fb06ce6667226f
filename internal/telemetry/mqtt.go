// Package telemetry publishes lifecycle events to MQTT and exposes
// prometheus metrics for the listeners, dispatch and tick loops.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/hangar-project/hangar/internal/config"
	"github.com/hangar-project/hangar/internal/events"
	"github.com/hangar-project/hangar/internal/util"
)

// Topic suffixes, appended to the configured prefix.
const (
	TopicSessions   = "sessions"
	TopicRooms      = "rooms"
	TopicModeration = "moderation"
	TopicWorld      = "world"
	TopicHealth     = "health"
	TopicAdmin      = "admin"
)

var topicByEvent = map[events.EventType]string{
	events.EventSessionJoined:  TopicSessions,
	events.EventSessionLeft:    TopicSessions,
	events.EventLoginFailed:    TopicSessions,
	events.EventRoomCreated:    TopicRooms,
	events.EventRoomClosed:     TopicRooms,
	events.EventUserBanned:     TopicModeration,
	events.EventUserUnbanned:   TopicModeration,
	events.EventUserKicked:     TopicModeration,
	events.EventAnnouncement:   TopicModeration,
	events.EventPlayerEntered:  TopicWorld,
	events.EventPlayerLeft:     TopicWorld,
	events.EventCommandApplied: TopicWorld,
	events.EventLongTick:       TopicHealth,
	events.EventHealthSample:   TopicHealth,
}

// TopicFor returns the MQTT topic an event type is published on.
func TopicFor(prefix string, t events.EventType) (string, bool) {
	suffix, ok := topicByEvent[t]
	if !ok {
		return "", false
	}
	if prefix == "" {
		return suffix, true
	}
	return prefix + "/" + suffix, true
}

// MQTTHandler forwards bus events to an MQTT broker.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client

	// Included in every message.
	metadata map[string]any
}

// NewMQTTHandler creates a handler; Start connects it.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	h := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		metadata: map[string]any{
			"hostname": sysInfo.Hostname,
			"os":       sysInfo.OS,
		},
	}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID("hangar-" + sysInfo.Hostname)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if cfg.UseTLS {
		tlsConfig, err := buildTLS(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	return h, nil
}

func buildTLS(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// Start connects to the broker, subscribes to the bus and blocks until
// ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	for t := range topicByEvent {
		h.eventBus.Subscribe(t, "mqtt", h.onEvent)
	}

	<-ctx.Done()

	for t := range topicByEvent {
		h.eventBus.Unsubscribe(t, "mqtt")
	}
	h.publish(h.topic(TopicAdmin), "shutdown", nil)
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) topic(suffix string) string {
	if h.cfg.TopicPrefix == "" {
		return suffix
	}
	return h.cfg.TopicPrefix + "/" + suffix
}

func (h *MQTTHandler) onEvent(_ context.Context, e events.Event) error {
	topic, ok := TopicFor(h.cfg.TopicPrefix, e.Type)
	if !ok {
		return nil
	}
	h.publish(topic, string(e.Type), e.Payload)
	return nil
}

func (h *MQTTHandler) publish(topic, event string, payload any) {
	if !h.client.IsConnected() {
		return
	}

	data, err := buildMessage(h.metadata, event, payload, time.Now())
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage wraps an event payload with host metadata.
func buildMessage(metadata map[string]any, event string, payload any, now time.Time) ([]byte, error) {
	msg := make(map[string]any, len(metadata)+3)
	for k, v := range metadata {
		msg[k] = v
	}
	msg["event"] = event
	msg["timestamp"] = now.UTC().Format(time.RFC3339)
	if payload != nil {
		msg["payload"] = payload
	}
	return json.Marshal(msg)
}
