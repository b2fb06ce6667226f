package db

import (
	"context"
	"fmt"
	"time"
)

// Ban bars an account from logging in until ExpiresAt.
type Ban struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	IssuerID  int64     `json:"issuer_id"`
	Reason    string    `json:"reason"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// ActiveBan returns the longest-running ban on userID still in effect at
// now, or ErrNotFound.
func (s *Store) ActiveBan(ctx context.Context, userID int64, now time.Time) (*Ban, error) {
	var b Ban
	var expires, created int64
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, issuer_id, reason, expires_at, created_at
		FROM bans WHERE user_id = ? AND expires_at > ?
		ORDER BY expires_at DESC LIMIT 1`, userID, unix(now)).
		Scan(&b.ID, &b.UserID, &b.IssuerID, &b.Reason, &expires, &created)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("ban for %d", userID))
	}
	b.ExpiresAt = fromUnix(expires)
	b.CreatedAt = fromUnix(created)
	return &b, nil
}

// InsertBan records a ban and returns its id.
func (s *Store) InsertBan(ctx context.Context, b Ban) (int64, error) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(ctx, `
		INSERT INTO bans (user_id, issuer_id, reason, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		b.UserID, b.IssuerID, b.Reason, unix(b.ExpiresAt), unix(b.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to insert ban for %d: %w", b.UserID, err)
	}
	return res.LastInsertId()
}

// DeleteBans lifts every ban on userID and returns how many were removed.
func (s *Store) DeleteBans(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.Exec(ctx, `DELETE FROM bans WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete bans for %d: %w", userID, err)
	}
	return res.RowsAffected()
}

// PurgeExpiredBans removes bans that ended before now.
func (s *Store) PurgeExpiredBans(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.Exec(ctx, `DELETE FROM bans WHERE expires_at <= ?`, unix(now))
	if err != nil {
		return 0, fmt.Errorf("failed to purge bans: %w", err)
	}
	return res.RowsAffected()
}
