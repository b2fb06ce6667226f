package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrTokenMismatch is returned when a session token does not match the
// stored one.
var ErrTokenMismatch = errors.New("session token mismatch")

// Store is the game's persistence layer.
type Store struct {
	db *Database
}

// Account is a player row with the state loaded at login.
type Account struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	SessionToken string `json:"-"`
	// Level is the access level: 0 player, 1 moderator, 2 admin,
	// 3 developer.
	Level    int    `json:"level"`
	Faction  int    `json:"faction"`
	ClanID   int64  `json:"clan_id"`
	ClanName string `json:"clan_name,omitempty"`
	MapID    int    `json:"map_id"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
}

// Clan is a player company.
type Clan struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Tag  string `json:"tag"`
}

// Open opens the database at path and migrates the schema.
func Open(path string) (*Store, error) {
	database, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: database}
	if err := s.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS clans (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			tag TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL COLLATE NOCASE,
			session_token TEXT NOT NULL DEFAULT '',
			level INTEGER NOT NULL DEFAULT 0,
			faction INTEGER NOT NULL DEFAULT 0,
			clan_id INTEGER NOT NULL DEFAULT 0,
			map_id INTEGER NOT NULL DEFAULT 1,
			pos_x INTEGER NOT NULL DEFAULT 0,
			pos_y INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
		);

		CREATE TABLE IF NOT EXISTS bans (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			issuer_id INTEGER NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (user_id) REFERENCES accounts(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS pending_commands (
			id TEXT PRIMARY KEY,
			verb TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			issuer_id INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			applied_at INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_bans_user ON bans(user_id, expires_at);
		CREATE INDEX IF NOT EXISTS idx_pending_applied ON pending_commands(applied_at, created_at);
	`

	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("database schema migrated")
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

const accountColumns = `
	a.id, a.name, a.session_token, a.level, a.faction, a.clan_id,
	COALESCE(c.name, ''), a.map_id, a.pos_x, a.pos_y`

const accountFrom = `FROM accounts a LEFT JOIN clans c ON c.id = a.clan_id`

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Name, &a.SessionToken, &a.Level, &a.Faction, &a.ClanID,
		&a.ClanName, &a.MapID, &a.X, &a.Y)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// LoadSession loads the account for userID if token matches its stored
// session token.
func (s *Store) LoadSession(ctx context.Context, userID int64, token string) (*Account, error) {
	a, err := s.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	if token == "" || a.SessionToken != token {
		return nil, fmt.Errorf("account %d: %w", userID, ErrTokenMismatch)
	}
	return a, nil
}

// Account loads an account by id.
func (s *Store) Account(ctx context.Context, id int64) (*Account, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` `+accountFrom+` WHERE a.id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("account %d", id))
	}
	return a, nil
}

// FindAccountByName loads an account by case-insensitive name.
func (s *Store) FindAccountByName(ctx context.Context, name string) (*Account, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` `+accountFrom+` WHERE a.name = ?`,
		strings.TrimSpace(name))
	a, err := scanAccount(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("account %q", name))
	}
	return a, nil
}

// CreateAccount inserts an account and returns its id.
func (s *Store) CreateAccount(ctx context.Context, a Account) (int64, error) {
	res, err := s.db.Exec(ctx, `
		INSERT INTO accounts (name, session_token, level, faction, clan_id, map_id, pos_x, pos_y)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Name, a.SessionToken, a.Level, a.Faction, a.ClanID, max(a.MapID, 1), a.X, a.Y)
	if err != nil {
		return 0, fmt.Errorf("failed to create account %q: %w", a.Name, err)
	}
	return res.LastInsertId()
}

// SetSessionToken replaces an account's session token.
func (s *Store) SetSessionToken(ctx context.Context, userID int64, token string) error {
	res, err := s.db.Exec(ctx, `UPDATE accounts SET session_token = ? WHERE id = ?`, token, userID)
	if err != nil {
		return fmt.Errorf("failed to set session token: %w", err)
	}
	return affected(res, fmt.Sprintf("account %d", userID))
}

// SavePosition persists a player's map and coordinates.
func (s *Store) SavePosition(ctx context.Context, userID int64, mapID, x, y int) error {
	res, err := s.db.Exec(ctx, `UPDATE accounts SET map_id = ?, pos_x = ?, pos_y = ? WHERE id = ?`,
		mapID, x, y, userID)
	if err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	return affected(res, fmt.Sprintf("account %d", userID))
}

// CreateClan inserts a clan and returns its id.
func (s *Store) CreateClan(ctx context.Context, name, tag string) (int64, error) {
	res, err := s.db.Exec(ctx, `INSERT INTO clans (name, tag) VALUES (?, ?)`, name, tag)
	if err != nil {
		return 0, fmt.Errorf("failed to create clan %q: %w", name, err)
	}
	return res.LastInsertId()
}

// Clan loads a clan by id.
func (s *Store) Clan(ctx context.Context, id int64) (*Clan, error) {
	var c Clan
	err := s.db.QueryRow(ctx, `SELECT id, name, tag FROM clans WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Tag)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("clan %d", id))
	}
	return &c, nil
}

// ClanMembers returns the ids of every account in a clan.
func (s *Store) ClanMembers(ctx context.Context, clanID int64) ([]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM accounts WHERE clan_id = ? ORDER BY id`, clanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list clan members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func affected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func unix(t time.Time) int64 {
	return t.UTC().Unix()
}

func fromUnix(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}
