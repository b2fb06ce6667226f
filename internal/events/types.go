// Package events defines the lifecycle events published on the EventBus.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session lifecycle
	EventSessionJoined EventType = "session_joined"
	EventSessionLeft   EventType = "session_left"
	EventLoginFailed   EventType = "login_failed"

	// Rooms
	EventRoomCreated EventType = "room_created"
	EventRoomClosed  EventType = "room_closed"

	// Moderation
	EventUserBanned   EventType = "user_banned"
	EventUserUnbanned EventType = "user_unbanned"
	EventUserKicked   EventType = "user_kicked"
	EventAnnouncement EventType = "announcement"

	// Game world
	EventPlayerEntered  EventType = "player_entered"
	EventPlayerLeft     EventType = "player_left"
	EventCommandApplied EventType = "command_applied"
	EventLongTick       EventType = "long_tick"

	// System
	EventHealthSample EventType = "health_sample"
	EventShutdown     EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// SessionPayload describes a chat or game session joining or leaving.
type SessionPayload struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Level  string `json:"level,omitempty"`
	Remote string `json:"remote,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// LoginFailedPayload describes a rejected login handshake.
type LoginFailedPayload struct {
	UserID int64  `json:"user_id"`
	Remote string `json:"remote"`
	Reason string `json:"reason"`
}

// RoomPayload describes a room being created or closed.
type RoomPayload struct {
	RoomID  int64  `json:"room_id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	OwnerID int64  `json:"owner_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ModerationPayload describes a ban, unban, kick or announcement.
type ModerationPayload struct {
	IssuerID   int64      `json:"issuer_id"`
	IssuerName string     `json:"issuer_name"`
	TargetID   int64      `json:"target_id,omitempty"`
	TargetName string     `json:"target_name,omitempty"`
	Text       string     `json:"text,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// PlayerPayload describes a player entering or leaving a map.
type PlayerPayload struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	MapID  int    `json:"map_id"`
}

// CommandPayload describes a pending command applied by the world.
type CommandPayload struct {
	ID     string `json:"id"`
	Verb   string `json:"verb"`
	UserID int64  `json:"user_id"`
	Result string `json:"result"`
}

// LongTickPayload is emitted when a tick overruns its interval.
type LongTickPayload struct {
	Loop     string        `json:"loop"`
	Duration time.Duration `json:"duration"`
	Interval time.Duration `json:"interval"`
}

// HealthPayload carries one host health sample.
type HealthPayload struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	Healthy       bool    `json:"healthy"`
}
