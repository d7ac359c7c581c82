package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atrium-space/atrium-server/internal/mediaengine"
)

// ChannelKind classifies what a channel carries.
type ChannelKind string

const (
	ChannelKindVideo ChannelKind = "video"
	ChannelKindChat  ChannelKind = "chat"
	ChannelKindBoth  ChannelKind = "both"
)

// PublicChannelID is the permanent chat channel every area keeps. It is
// never torn down on last-leaver.
const PublicChannelID = "public"

// Channel is a capacity-bounded communication sub-resource of one area.
type Channel struct {
	Space      string
	Area       string
	ID         string
	Kind       ChannelKind
	Ceiling    int
	Persistent bool

	roomID       string // media backend room, empty for pure chat
	members      map[int64]string
	messages     []Message
	createdAt    time.Time
	lastActivity time.Time
}

// Members returns the identities currently in the channel, sorted.
func (c *Channel) Members() []int64 {
	ids := make([]int64, 0, len(c.members))
	for id := range c.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsMember reports whether an identity has joined the channel.
func (c *Channel) IsMember(identity int64) bool {
	_, ok := c.members[identity]
	return ok
}

// Location returns the channel's scope.
func (c *Channel) Location() Location {
	return ChannelLocation(c.Space, c.Area, c.ID)
}

func (c *Channel) hasMedia() bool {
	return c.Kind == ChannelKindVideo || c.Kind == ChannelKindBoth
}

// ChannelSettings tunes ceilings and retention per kind.
type ChannelSettings struct {
	VideoCeiling     int
	ChatCeiling      int
	MessageRetention int
}

// ChannelManager creates, fills, drains, and destroys per-area channels and
// forwards membership to the media backend. The engine serializes access.
type ChannelManager struct {
	backend  mediaengine.Backend
	settings ChannelSettings
	channels map[channelKey]*Channel
	log      *zerolog.Logger
}

// NewChannelManager creates a channel manager on the given media backend.
func NewChannelManager(backend mediaengine.Backend, settings ChannelSettings, logger *zerolog.Logger) *ChannelManager {
	if settings.MessageRetention <= 0 {
		settings.MessageRetention = 200
	}
	return &ChannelManager{
		backend:  backend,
		settings: settings,
		channels: make(map[channelKey]*Channel),
		log:      logger,
	}
}

// Ensure returns the channel, lazily creating it (and its media room) on the
// first entrant. Idempotent: an existing channel is returned unchanged.
func (cm *ChannelManager) Ensure(ctx context.Context, space, area, id string, kind ChannelKind) (*Channel, error) {
	key := channelKey{space, area, id}
	if ch, ok := cm.channels[key]; ok {
		return ch, nil
	}

	now := time.Now()
	ch := &Channel{
		Space:      space,
		Area:       area,
		ID:         id,
		Kind:       kind,
		Ceiling:    cm.ceilingFor(kind),
		Persistent: id == PublicChannelID,
		members:    make(map[int64]string),
		createdAt:  now,
	}

	if ch.hasMedia() {
		roomID := uuid.New().String()
		name, err := cm.createRoomWithRetry(ctx, roomID, ch.Ceiling)
		if err != nil {
			return nil, err
		}
		ch.roomID = roomID
		cm.log.Info().
			Str("channel", ch.Location().String()).
			Str("media_room", name).
			Msg("media room allocated")
	}

	cm.channels[key] = ch
	cm.log.Info().Str("channel", ch.Location().String()).Str("kind", string(kind)).Msg("channel created")
	return ch, nil
}

// Get returns an existing channel.
func (cm *ChannelManager) Get(space, area, id string) (*Channel, bool) {
	ch, ok := cm.channels[channelKey{space, area, id}]
	return ch, ok
}

// Join admits an identity. Idempotent re-joins succeed without side effects.
// Fails with ErrCapacityExceeded at the ceiling.
func (cm *ChannelManager) Join(ctx context.Context, ch *Channel, identity int64, displayName string) (*mediaengine.JoinInfo, error) {
	if ch.IsMember(identity) {
		return cm.joinMedia(ctx, ch, identity, displayName)
	}
	if ch.Ceiling > 0 && len(ch.members) >= ch.Ceiling {
		return nil, fmt.Errorf("%w: %s is at %d", ErrCapacityExceeded, ch.Location(), ch.Ceiling)
	}

	info, err := cm.joinMedia(ctx, ch, identity, displayName)
	if err != nil {
		return nil, err
	}

	ch.members[identity] = displayName
	ch.lastActivity = time.Now()
	cm.appendSystem(ch, fmt.Sprintf("%s joined", displayName))
	return info, nil
}

// Leave removes an identity; unknown members are a no-op. Reaching zero on a
// non-persistent channel tears it down together with its media room.
func (cm *ChannelManager) Leave(ctx context.Context, ch *Channel, identity int64) {
	displayName, ok := ch.members[identity]
	if !ok {
		return
	}
	delete(ch.members, identity)
	ch.lastActivity = time.Now()
	cm.appendSystem(ch, fmt.Sprintf("%s left", displayName))

	if ch.hasMedia() {
		if err := cm.backend.Leave(ctx, ch.roomID, mediaIdentity(identity)); err != nil &&
			!errors.Is(err, mediaengine.ErrRoomNotFound) {
			cm.log.Warn().Err(err).Str("channel", ch.Location().String()).Msg("media leave failed")
		}
	}

	if len(ch.members) == 0 && !ch.Persistent {
		cm.destroy(ctx, ch)
	}
}

// SendMessage appends to the bounded ring buffer. Requires prior Join.
func (cm *ChannelManager) SendMessage(ch *Channel, identity int64, body string) (*Message, error) {
	displayName, ok := ch.members[identity]
	if !ok {
		return nil, fmt.Errorf("%w: identity %d in %s", ErrNotAMember, identity, ch.Location())
	}

	msg := Message{
		Channel:   ch.Location(),
		From:      identity,
		FromName:  displayName,
		Body:      body,
		CreatedAt: time.Now(),
	}
	cm.append(ch, msg)
	ch.lastActivity = msg.CreatedAt
	return &msg, nil
}

// History returns up to limit most recent messages, oldest first.
func (cm *ChannelManager) History(ch *Channel, limit int) []Message {
	msgs := ch.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// RemoveEverywhere drops an identity from every channel of a map. Used when
// a space is deleted.
func (cm *ChannelManager) RemoveEverywhere(ctx context.Context, space string, identity int64) {
	for key, ch := range cm.channels {
		if key.space == space && ch.IsMember(identity) {
			cm.Leave(ctx, ch, identity)
		}
	}
}

// DropSpace destroys all channels of a map regardless of occupancy.
func (cm *ChannelManager) DropSpace(ctx context.Context, space string) {
	for key, ch := range cm.channels {
		if key.space == space {
			cm.destroy(ctx, ch)
		}
	}
}

// Count returns the number of live channels.
func (cm *ChannelManager) Count() int {
	return len(cm.channels)
}

func (cm *ChannelManager) destroy(ctx context.Context, ch *Channel) {
	if ch.hasMedia() && ch.roomID != "" {
		if err := cm.backend.DestroyRoom(ctx, ch.roomID); err != nil &&
			!errors.Is(err, mediaengine.ErrRoomNotFound) {
			cm.log.Warn().Err(err).Str("channel", ch.Location().String()).Msg("media room destroy failed")
		}
	}
	delete(cm.channels, channelKey{ch.Space, ch.Area, ch.ID})
	cm.log.Info().Str("channel", ch.Location().String()).Msg("channel destroyed")
}

func (cm *ChannelManager) joinMedia(ctx context.Context, ch *Channel, identity int64, displayName string) (*mediaengine.JoinInfo, error) {
	if !ch.hasMedia() {
		return nil, nil
	}

	info, err := cm.backend.Join(ctx, ch.roomID, mediaIdentity(identity), displayName)
	if err != nil && retryableMediaErr(err) {
		// One retry only; the next failure surfaces to the caller. The
		// backoff sleeps while the caller holds the engine lock, stalling
		// every other handler for its duration.
		time.Sleep(retryBackoff)
		info, err = cm.backend.Join(ctx, ch.roomID, mediaIdentity(identity), displayName)
	}
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (cm *ChannelManager) createRoomWithRetry(ctx context.Context, roomID string, ceiling int) (string, error) {
	name, err := cm.backend.CreateRoom(ctx, roomID, ceiling)
	if err != nil && retryableMediaErr(err) {
		time.Sleep(retryBackoff)
		name, err = cm.backend.CreateRoom(ctx, roomID, ceiling)
	}
	return name, err
}

func (cm *ChannelManager) append(ch *Channel, msg Message) {
	ch.messages = append(ch.messages, msg)
	if len(ch.messages) > cm.settings.MessageRetention {
		ch.messages = ch.messages[len(ch.messages)-cm.settings.MessageRetention:]
	}
}

func (cm *ChannelManager) appendSystem(ch *Channel, body string) {
	cm.append(ch, Message{
		Channel:   ch.Location(),
		Body:      body,
		System:    true,
		CreatedAt: time.Now(),
	})
}

func (cm *ChannelManager) ceilingFor(kind ChannelKind) int {
	switch kind {
	case ChannelKindVideo, ChannelKindBoth:
		return cm.settings.VideoCeiling
	default:
		return cm.settings.ChatCeiling
	}
}

const retryBackoff = 50 * time.Millisecond

// retryableMediaErr reports whether a media failure is worth one retry.
// Capacity and catalog exhaustion are definitive.
func retryableMediaErr(err error) bool {
	return !errors.Is(err, mediaengine.ErrRoomFull) &&
		!errors.Is(err, mediaengine.ErrMaxRoomsReached)
}

func mediaIdentity(identity int64) string {
	return fmt.Sprintf("user-%d", identity)
}
