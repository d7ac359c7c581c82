package core

import (
	"context"
	"fmt"
	"time"

	"github.com/atrium-space/atrium-server/internal/mediaengine"
	"github.com/atrium-space/atrium-server/internal/store"
)

// StartCall joins (lazily creating) a video channel of the caller's current
// area. When already in a channel, the new one is joined before the old one
// is left, so a transient failure never strands the caller channel-less.
func (e *Engine) StartCall(ctx context.Context, sessionID, channelID string) (*mediaengine.JoinInfo, error) {
	return e.startChannel(ctx, sessionID, channelID, ChannelKindVideo, StageStartingCall, StageInCall)
}

// StartChat joins (lazily creating) a chat channel of the caller's current area.
func (e *Engine) StartChat(ctx context.Context, sessionID, channelID string) (*mediaengine.JoinInfo, error) {
	return e.startChannel(ctx, sessionID, channelID, ChannelKindChat, StageStartingChat, StageInChat)
}

// LeaveChannel returns a session from its channel back to area scope.
func (e *Engine) LeaveChannel(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, pr, err := e.sessionStateLocked(sessionID)
	if err != nil {
		return err
	}
	if pr.Location.Kind != LocationChannel {
		return fmt.Errorf("%w: not in a channel", ErrNotAMember)
	}

	e.leaveChannelLocked(ctx, session, pr, "leave channel")
	return nil
}

// SendMessage appends to the caller's current channel and fans it out to
// the channel's occupants. Requires prior join.
func (e *Engine) SendMessage(ctx context.Context, sessionID, body string) (*Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, pr, err := e.sessionStateLocked(sessionID)
	if err != nil {
		return nil, err
	}
	if pr.Location.Kind != LocationChannel {
		return nil, fmt.Errorf("%w: no current channel", ErrNotAMember)
	}
	ch, ok := e.channels.Get(pr.Location.Space, pr.Location.Area, pr.Location.Channel)
	if !ok {
		return nil, fmt.Errorf("%w: channel %s is gone", ErrNotAMember, pr.Location)
	}

	msg, err := e.channels.SendMessage(ch, session.Identity, body)
	if err != nil {
		return nil, err
	}
	pr.touch(msg.CreatedAt)

	e.notifyScopeLocked(ch.Location(), &Event{
		Kind:    EventChannelMessage,
		Scope:   ch.Location(),
		Message: msg,
		SentAt:  time.Now(),
	})
	e.archiveMessageLocked(ctx, msg)
	return msg, nil
}

// ChannelHistory returns up to limit recent messages, serving the live ring
// buffer when the channel exists and falling back to the archive otherwise.
func (e *Engine) ChannelHistory(ctx context.Context, scope Location, limit int) ([]Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if scope.Kind != LocationChannel {
		return nil, fmt.Errorf("%w: not a channel scope", ErrNotAMember)
	}
	if ch, ok := e.channels.Get(scope.Space, scope.Area, scope.Channel); ok {
		return e.channels.History(ch, limit), nil
	}

	rows, err := e.store.ListMessages(ctx, scope.Space, scope.Area, scope.Channel, limit, nil)
	if err != nil {
		return nil, fmt.Errorf("load archived history: %w", err)
	}
	msgs := make([]Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, Message{
			ID:        row.ID,
			Channel:   scope,
			From:      row.UserID,
			FromName:  row.Username,
			Body:      row.Body,
			CreatedAt: row.CreatedAt,
		})
	}
	return msgs, nil
}

func (e *Engine) startChannel(ctx context.Context, sessionID, channelID string, kind ChannelKind, starting, active Stage) (*mediaengine.JoinInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, pr, err := e.sessionStateLocked(sessionID)
	if err != nil {
		return nil, err
	}
	if pr.Location.Kind != LocationArea && pr.Location.Kind != LocationChannel {
		return nil, fmt.Errorf("%w: must be in an area to start a channel", ErrInvalidTransition)
	}

	space, area := pr.Location.Space, pr.Location.Area
	switching := pr.Location.Kind == LocationChannel
	if switching && pr.Location.Channel == channelID {
		// Idempotent re-join of the current channel.
		ch, ok := e.channels.Get(space, area, channelID)
		if !ok {
			return nil, fmt.Errorf("%w: channel %s is gone", ErrNotAMember, pr.Location)
		}
		return e.channels.Join(ctx, ch, session.Identity, pr.DisplayName)
	}

	ch, err := e.channels.Ensure(ctx, space, area, channelID, kind)
	if err != nil {
		return nil, err
	}

	// Join the new channel before leaving the old one: the transient window
	// has double membership rather than none.
	info, err := e.channels.Join(ctx, ch, session.Identity, pr.DisplayName)
	if err != nil {
		return nil, err
	}
	if switching {
		e.leaveChannelMembershipLocked(ctx, session, pr, "channel switch")
		e.mustStage(session.Identity, StageInArea, "channel switch")
	}

	if _, err := e.flow.ChangeStage(session.Identity, starting, time.Now(), "start channel"); err != nil {
		e.channels.Leave(ctx, ch, session.Identity)
		return nil, err
	}

	target := ch.Location()
	if err := e.index.MoveTo(sessionID, target); err != nil {
		e.channels.Leave(ctx, ch, session.Identity)
		e.mustStage(session.Identity, StageInArea, "channel join rollback")
		return nil, err
	}
	pr.Location = target
	pr.ChannelKind = kind
	pr.touch(time.Now())
	e.mustStage(session.Identity, active, "channel joined")
	pr.Stage = active

	e.notifyScopeLocked(target, &Event{
		Kind:     EventUserJoined,
		Scope:    target,
		Identity: session.Identity,
		Name:     pr.DisplayName,
		SentAt:   time.Now(),
	})
	session.send(&Event{
		Kind:     EventHistory,
		Scope:    target,
		Messages: e.channels.History(ch, 50),
		SentAt:   time.Now(),
	})
	if info != nil {
		session.send(&Event{Kind: EventJoinInfo, Scope: target, JoinInfo: info, SentAt: time.Now()})
	}

	e.log.Info().
		Str("session", sessionID).
		Str("channel", target.String()).
		Str("kind", string(kind)).
		Msg("channel joined")
	return info, nil
}

// leaveChannelLocked removes channel membership and returns the session to
// area scope, stage included.
func (e *Engine) leaveChannelLocked(ctx context.Context, session *Session, pr *PresenceRecord, reason string) {
	e.leaveChannelMembershipLocked(ctx, session, pr, reason)

	target := AreaLocation(pr.Location.Space, pr.Location.Area)
	if err := e.index.MoveTo(session.ID, target); err != nil {
		e.log.Error().Err(err).Str("session", session.ID).Msg("channel leave move failed")
		return
	}
	pr.Location = target
	pr.ChannelKind = ""
	e.mustStage(session.Identity, StageInArea, reason)
	pr.Stage = StageInArea
}

// leaveChannelMembershipLocked drops only the channel-manager membership,
// leaving index location to the caller.
func (e *Engine) leaveChannelMembershipLocked(ctx context.Context, session *Session, pr *PresenceRecord, reason string) {
	if pr.Location.Kind != LocationChannel {
		return
	}
	ch, ok := e.channels.Get(pr.Location.Space, pr.Location.Area, pr.Location.Channel)
	if !ok {
		return
	}
	scope := ch.Location()
	e.channels.Leave(ctx, ch, session.Identity)
	e.notifyScopeLocked(scope, &Event{
		Kind:     EventUserLeft,
		Scope:    scope,
		Identity: session.Identity,
		Name:     pr.DisplayName,
		Reason:   reason,
		SentAt:   time.Now(),
	})
}

// archiveMessageLocked writes a message through to the archive. Best
// effort: a failed write is logged, never surfaced to the sender.
func (e *Engine) archiveMessageLocked(ctx context.Context, msg *Message) {
	row := &store.ChannelMessage{
		SpaceID:  msg.Channel.Space,
		AreaID:   msg.Channel.Area,
		Channel:  msg.Channel.Channel,
		UserID:   msg.From,
		Username: msg.FromName,
		Body:     msg.Body,
	}
	if err := e.store.SaveMessage(ctx, row); err != nil {
		e.log.Warn().Err(err).Str("channel", msg.Channel.String()).Msg("message archive failed")
		return
	}
	msg.ID = row.ID
}
