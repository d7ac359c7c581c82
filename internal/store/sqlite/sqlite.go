package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/atrium-space/atrium-server/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	is_guest      BOOLEAN NOT NULL DEFAULT 0,
	session_id    TEXT,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS spaces (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	spawn_x    REAL NOT NULL DEFAULT 0,
	spawn_y    REAL NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS areas (
	id       TEXT NOT NULL,
	space_id TEXT NOT NULL REFERENCES spaces(id) ON DELETE CASCADE,
	name     TEXT NOT NULL,
	outline  TEXT NOT NULL,
	walls    TEXT NOT NULL DEFAULT '[]',
	private  BOOLEAN NOT NULL DEFAULT 0,
	PRIMARY KEY (space_id, id)
);

CREATE TABLE IF NOT EXISTS last_locations (
	user_id        INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	current_map    TEXT NOT NULL,
	last_x         REAL NOT NULL DEFAULT 0,
	last_y         REAL NOT NULL DEFAULT 0,
	last_direction TEXT NOT NULL DEFAULT '',
	updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS channel_messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	space_id   TEXT NOT NULL,
	area_id    TEXT NOT NULL,
	channel    TEXT NOT NULL,
	user_id    INTEGER NOT NULL,
	username   TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_channel_messages_channel
	ON channel_messages (space_id, area_id, channel, id);
`

// New creates a new SQLite store and bootstraps the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a reduced schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash, is_guest)
		VALUES (?, ?, 0)
	`
	result, err := s.db.ExecContext(ctx, query, username, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// CreateGuestUser creates a temporary guest user with session ID.
func (s *SQLiteStore) CreateGuestUser(ctx context.Context, sessionID string) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash, is_guest, session_id)
		VALUES (?, '', 1, ?)
	`
	guestUsername := "guest_" + sessionID[:8]

	result, err := s.db.ExecContext(ctx, query, guestUsername, sessionID)
	if err != nil {
		return nil, fmt.Errorf("insert guest user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, is_guest, COALESCE(session_id, ''), created_at
		FROM users
		WHERE id = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.IsGuest,
		&user.SessionID,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %w", err)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, is_guest, COALESCE(session_id, ''), created_at
		FROM users
		WHERE username = ? AND is_guest = 0
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.IsGuest,
		&user.SessionID,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %w", err)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// DeleteUser removes a user account. Presence and location rows cascade.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// ==== CatalogStore implementation ====

// CreateSpace registers a space in the catalog.
func (s *SQLiteStore) CreateSpace(ctx context.Context, space *store.Space) error {
	query := `
		INSERT INTO spaces (id, name, spawn_x, spawn_y)
		VALUES (?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, space.ID, space.Name, space.SpawnX, space.SpawnY); err != nil {
		return fmt.Errorf("insert space: %w", err)
	}
	return nil
}

// DeleteSpace removes a space and its areas from the catalog.
func (s *SQLiteStore) DeleteSpace(ctx context.Context, spaceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM spaces WHERE id = ?`, spaceID); err != nil {
		return fmt.Errorf("delete space: %w", err)
	}
	return nil
}

// GetSpace retrieves a space by ID.
func (s *SQLiteStore) GetSpace(ctx context.Context, spaceID string) (*store.Space, error) {
	query := `
		SELECT id, name, spawn_x, spawn_y, created_at
		FROM spaces
		WHERE id = ?
	`
	var space store.Space
	err := s.db.QueryRowContext(ctx, query, spaceID).Scan(
		&space.ID,
		&space.Name,
		&space.SpawnX,
		&space.SpawnY,
		&space.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("space not found: %w", err)
		}
		return nil, fmt.Errorf("query space: %w", err)
	}

	return &space, nil
}

// ListSpaces lists all known spaces.
func (s *SQLiteStore) ListSpaces(ctx context.Context) ([]*store.Space, error) {
	query := `
		SELECT id, name, spawn_x, spawn_y, created_at
		FROM spaces
		ORDER BY name
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query spaces: %w", err)
	}
	defer rows.Close()

	var spaces []*store.Space
	for rows.Next() {
		var space store.Space
		if err := rows.Scan(&space.ID, &space.Name, &space.SpawnX, &space.SpawnY, &space.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan space: %w", err)
		}
		spaces = append(spaces, &space)
	}

	return spaces, rows.Err()
}

// CreateArea registers an area with its geometry.
func (s *SQLiteStore) CreateArea(ctx context.Context, area *store.Area) error {
	outline, err := json.Marshal(area.Outline)
	if err != nil {
		return fmt.Errorf("marshal outline: %w", err)
	}
	walls, err := json.Marshal(area.Walls)
	if err != nil {
		return fmt.Errorf("marshal walls: %w", err)
	}

	query := `
		INSERT INTO areas (id, space_id, name, outline, walls, private)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, area.ID, area.SpaceID, area.Name, string(outline), string(walls), area.Private); err != nil {
		return fmt.Errorf("insert area: %w", err)
	}
	return nil
}

// ListAreas lists all areas of a space with decoded geometry.
func (s *SQLiteStore) ListAreas(ctx context.Context, spaceID string) ([]*store.Area, error) {
	query := `
		SELECT id, space_id, name, outline, walls, private
		FROM areas
		WHERE space_id = ?
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, spaceID)
	if err != nil {
		return nil, fmt.Errorf("query areas: %w", err)
	}
	defer rows.Close()

	var areas []*store.Area
	for rows.Next() {
		var area store.Area
		var outline, walls string
		if err := rows.Scan(&area.ID, &area.SpaceID, &area.Name, &outline, &walls, &area.Private); err != nil {
			return nil, fmt.Errorf("scan area: %w", err)
		}
		if err := json.Unmarshal([]byte(outline), &area.Outline); err != nil {
			return nil, fmt.Errorf("decode outline for area %s: %w", area.ID, err)
		}
		if walls != "" {
			if err := json.Unmarshal([]byte(walls), &area.Walls); err != nil {
				return nil, fmt.Errorf("decode walls for area %s: %w", area.ID, err)
			}
		}
		areas = append(areas, &area)
	}

	return areas, rows.Err()
}

// UpsertLastLocation persists a user's last-known location.
func (s *SQLiteStore) UpsertLastLocation(ctx context.Context, loc *store.LastLocation) error {
	query := `
		INSERT INTO last_locations (user_id, current_map, last_x, last_y, last_direction, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id) DO UPDATE SET
			current_map = excluded.current_map,
			last_x = excluded.last_x,
			last_y = excluded.last_y,
			last_direction = excluded.last_direction,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, loc.UserID, loc.CurrentMap, loc.LastX, loc.LastY, loc.LastDirection); err != nil {
		return fmt.Errorf("upsert last location: %w", err)
	}
	return nil
}

// GetLastLocation retrieves a user's last-known location, if any.
func (s *SQLiteStore) GetLastLocation(ctx context.Context, userID int64) (*store.LastLocation, error) {
	query := `
		SELECT user_id, current_map, last_x, last_y, last_direction, updated_at
		FROM last_locations
		WHERE user_id = ?
	`
	var loc store.LastLocation
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&loc.UserID,
		&loc.CurrentMap,
		&loc.LastX,
		&loc.LastY,
		&loc.LastDirection,
		&loc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("last location not found: %w", err)
		}
		return nil, fmt.Errorf("query last location: %w", err)
	}

	return &loc, nil
}

// ==== MessageStore implementation ====

// SaveMessage persists a channel message.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.ChannelMessage) error {
	query := `
		INSERT INTO channel_messages (space_id, area_id, channel, user_id, username, body)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, msg.SpaceID, msg.AreaID, msg.Channel, msg.UserID, msg.Username, msg.Body)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	msg.ID = id
	return nil
}

// ListMessages retrieves messages for a channel, newest last.
func (s *SQLiteStore) ListMessages(ctx context.Context, spaceID, areaID, channel string, limit int, beforeID *int64) ([]*store.ChannelMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, space_id, area_id, channel, user_id, username, body, created_at
		FROM channel_messages
		WHERE space_id = ? AND area_id = ? AND channel = ?
	`
	args := []any{spaceID, areaID, channel}
	if beforeID != nil {
		query += ` AND id < ?`
		args = append(args, *beforeID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.ChannelMessage
	for rows.Next() {
		var msg store.ChannelMessage
		if err := rows.Scan(&msg.ID, &msg.SpaceID, &msg.AreaID, &msg.Channel, &msg.UserID, &msg.Username, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// Ensure SQLiteStore implements store.Store
var _ store.Store = (*SQLiteStore)(nil)
