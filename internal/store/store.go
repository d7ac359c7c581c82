package store

import (
	"context"
	"time"

	"github.com/atrium-space/atrium-server/internal/geo"
)

// User represents a user account.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	IsGuest      bool
	SessionID    string // For guest user session tracking
	CreatedAt    time.Time
}

// Space is a catalog entry for a virtual space (a map).
type Space struct {
	ID        string
	Name      string
	SpawnX    float64
	SpawnY    float64
	CreatedAt time.Time
}

// Area is a named region of a space with a polygon outline and optional
// boundary walls used for proximity classification.
type Area struct {
	ID      string
	SpaceID string
	Name    string
	Outline geo.Polygon
	Walls   []geo.Segment
	Private bool
}

// LastLocation is the persisted last-known position of a user, written
// through on confirmed moves and offline transitions. Best effort: losing a
// row only delays restoration.
type LastLocation struct {
	UserID        int64
	CurrentMap    string
	LastX         float64
	LastY         float64
	LastDirection string
	UpdatedAt     time.Time
}

// ChannelMessage is an archived chat message.
type ChannelMessage struct {
	ID        int64
	SpaceID   string
	AreaID    string
	Channel   string
	UserID    int64
	Username  string
	Body      string
	CreatedAt time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// CreateGuestUser creates a temporary guest user with session ID.
	CreateGuestUser(ctx context.Context, sessionID string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// DeleteUser removes a user account and its presence row.
	DeleteUser(ctx context.Context, id int64) error
}

// CatalogStore provides read access to spatial definitions and write-through
// persistence of last-known locations.
type CatalogStore interface {
	// CreateSpace registers a space in the catalog.
	CreateSpace(ctx context.Context, space *Space) error

	// DeleteSpace removes a space and its areas from the catalog.
	DeleteSpace(ctx context.Context, spaceID string) error

	// GetSpace retrieves a space by ID.
	GetSpace(ctx context.Context, spaceID string) (*Space, error)

	// ListSpaces lists all known spaces.
	ListSpaces(ctx context.Context) ([]*Space, error)

	// CreateArea registers an area with its geometry.
	CreateArea(ctx context.Context, area *Area) error

	// ListAreas lists all areas of a space.
	ListAreas(ctx context.Context, spaceID string) ([]*Area, error)

	// UpsertLastLocation persists a user's last-known location.
	UpsertLastLocation(ctx context.Context, loc *LastLocation) error

	// GetLastLocation retrieves a user's last-known location, if any.
	GetLastLocation(ctx context.Context, userID int64) (*LastLocation, error)
}

// MessageStore archives channel messages beyond the in-memory ring.
type MessageStore interface {
	// SaveMessage persists a channel message.
	SaveMessage(ctx context.Context, msg *ChannelMessage) error

	// ListMessages retrieves messages for a channel, newest last.
	// If beforeID is provided, returns messages older than that ID.
	ListMessages(ctx context.Context, spaceID, areaID, channel string, limit int, beforeID *int64) ([]*ChannelMessage, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	CatalogStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
