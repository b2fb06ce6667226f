package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Verbs the game world knows how to apply.
const (
	VerbTeleport = "teleport"
	VerbSave     = "save"
)

// TeleportPayload is the payload of a teleport command. A zero MapID
// keeps the player's current map.
type TeleportPayload struct {
	X     int `json:"x"`
	Y     int `json:"y"`
	MapID int `json:"map_id,omitempty"`
}

// PendingCommand is a command accepted by the chat side that must be
// applied inside the game simulation.
type PendingCommand struct {
	ID        string          `json:"id"`
	Verb      string          `json:"verb"`
	UserID    int64           `json:"user_id"`
	IssuerID  int64           `json:"issuer_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	AppliedAt *time.Time      `json:"applied_at,omitempty"`
}

// Decode unmarshals the payload into v.
func (p *PendingCommand) Decode(v any) error {
	if len(p.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(p.Payload, v); err != nil {
		return fmt.Errorf("pending command %s payload: %w", p.ID, err)
	}
	return nil
}

// InsertPendingCommand stores a command for the game worker. The payload
// is marshalled as JSON and the command gets a fresh UUID.
func (s *Store) InsertPendingCommand(ctx context.Context, verb string, userID, issuerID int64, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s payload: %w", verb, err)
	}
	id := uuid.NewString()
	_, err = s.db.Exec(ctx, `
		INSERT INTO pending_commands (id, verb, user_id, issuer_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, verb, userID, issuerID, string(raw), unix(time.Now()))
	if err != nil {
		return "", fmt.Errorf("failed to insert pending %s: %w", verb, err)
	}
	return id, nil
}

// PendingCommands returns up to limit unapplied commands, oldest first.
func (s *Store) PendingCommands(ctx context.Context, limit int) ([]PendingCommand, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, verb, user_id, issuer_id, payload, created_at
		FROM pending_commands WHERE applied_at IS NULL
		ORDER BY created_at, rowid LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending commands: %w", err)
	}
	defer rows.Close()

	var out []PendingCommand
	for rows.Next() {
		var p PendingCommand
		var payload string
		var created int64
		if err := rows.Scan(&p.ID, &p.Verb, &p.UserID, &p.IssuerID, &payload, &created); err != nil {
			return nil, err
		}
		p.Payload = json.RawMessage(payload)
		p.CreatedAt = fromUnix(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkCommandApplied stamps a command as applied.
func (s *Store) MarkCommandApplied(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.Exec(ctx, `UPDATE pending_commands SET applied_at = ? WHERE id = ?`, unix(at), id)
	if err != nil {
		return fmt.Errorf("failed to mark %s applied: %w", id, err)
	}
	return affected(res, "pending command "+id)
}

// PurgeAppliedCommands removes commands applied before the cutoff.
func (s *Store) PurgeAppliedCommands(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.Exec(ctx, `DELETE FROM pending_commands WHERE applied_at IS NOT NULL AND applied_at < ?`,
		unix(before))
	if err != nil {
		return 0, fmt.Errorf("failed to purge pending commands: %w", err)
	}
	return res.RowsAffected()
}
