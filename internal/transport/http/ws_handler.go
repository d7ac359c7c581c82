package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/atrium-space/atrium-server/internal/core"
	"github.com/atrium-space/atrium-server/internal/proto"
)

// WSHandler upgrades HTTP connections and bridges them to the engine. The
// first inbound message must be a hello carrying a credential token; the
// connection is closed without one.
type WSHandler struct {
	engine *core.Engine
	log    *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(engine *core.Engine, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{engine: engine, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	session, err := h.handshake(ctx, conn, clientOrigin(r))
	if err != nil {
		h.log.Debug().Err(err).Msg("ws handshake rejected")
		conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return
	}
	defer h.engine.Disconnect(context.Background(), session.ID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, session)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, session)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("session", session.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// handshake waits for the hello message and authenticates the connection.
func (h *WSHandler) handshake(ctx context.Context, conn *websocket.Conn, origin string) (*core.Session, error) {
	var inbound proto.Inbound
	if err := wsjson.Read(ctx, conn, &inbound); err != nil {
		return nil, err
	}
	if inbound.Type != proto.InboundTypeHello {
		return nil, fmt.Errorf("expected hello, got %q", inbound.Type)
	}

	var hello proto.HelloData
	if err := json.Unmarshal(inbound.Data, &hello); err != nil {
		return nil, err
	}

	session, presence, err := h.engine.Authenticate(ctx, origin, hello.Token)
	if err != nil {
		// Tell the client why before dropping the connection.
		_ = wsjson.Write(ctx, conn, errorOutbound(err))
		return nil, err
	}

	welcome := proto.Outbound{
		Type: proto.OutboundTypeWelcome,
		Data: proto.WelcomeData{
			Session:  session.ID,
			Identity: session.Identity,
			Presence: presence,
			Protocol: proto.ProtocolVersion,
		},
	}
	if err := wsjson.Write(ctx, conn, welcome); err != nil {
		h.engine.Disconnect(context.Background(), session.ID)
		return nil, err
	}
	return session, nil
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, session *core.Session) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		protoErr, err := h.dispatch(ctx, session, inbound)
		if err != nil {
			return err
		}
		if protoErr != nil {
			if writeErr := wsjson.Write(ctx, conn, proto.Outbound{
				Type:  proto.OutboundTypeError,
				Error: protoErr,
			}); writeErr != nil {
				return writeErr
			}
		}
	}
}

// dispatch executes one inbound message against the engine. Domain failures
// become protocol errors on the same connection; only decode and transport
// failures kill the loop.
func (h *WSHandler) dispatch(ctx context.Context, session *core.Session, inbound proto.Inbound) (*proto.Error, error) {
	switch inbound.Type {
	case proto.InboundTypeEnterSpace:
		var data proto.EnterSpaceData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, err
		}
		if data.Space == "" {
			return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "space is required"}, nil
		}
		if _, err := h.engine.EnterSpace(ctx, session.ID, data.Space); err != nil {
			return domainError(err), nil
		}
	case proto.InboundTypeEnterArea:
		var data proto.EnterAreaData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, err
		}
		if data.Area == "" {
			return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "area is required"}, nil
		}
		if _, err := h.engine.EnterArea(ctx, session.ID, data.Area); err != nil {
			return domainError(err), nil
		}
	case proto.InboundTypeLeaveArea:
		if err := h.engine.LeaveArea(ctx, session.ID); err != nil {
			return domainError(err), nil
		}
	case proto.InboundTypeLeaveSpace:
		if err := h.engine.LeaveSpace(ctx, session.ID); err != nil {
			return domainError(err), nil
		}
	case proto.InboundTypeMove:
		var data proto.MoveData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, err
		}
		// Fast path: failures are not reported, only the latest value matters.
		_ = h.engine.Move(session.ID, core.MoveDelta{
			X:         data.X,
			Y:         data.Y,
			Direction: data.Direction,
			Moving:    data.Moving,
		})
	case proto.InboundTypePosition:
		var data proto.PositionData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, err
		}
		final := core.Position{X: data.X, Y: data.Y, Direction: data.Direction}
		if err := h.engine.ConfirmPosition(ctx, session.ID, final, data.Seq); err != nil {
			return domainError(err), nil
		}
	case proto.InboundTypeStartCall, proto.InboundTypeStartChat:
		var data proto.StartChannelData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, err
		}
		if data.Channel == "" {
			return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "channel is required"}, nil
		}
		var err error
		if inbound.Type == proto.InboundTypeStartCall {
			_, err = h.engine.StartCall(ctx, session.ID, data.Channel)
		} else {
			_, err = h.engine.StartChat(ctx, session.ID, data.Channel)
		}
		if err != nil {
			return domainError(err), nil
		}
	case proto.InboundTypeLeaveChannel:
		if err := h.engine.LeaveChannel(ctx, session.ID); err != nil {
			return domainError(err), nil
		}
	case proto.InboundTypeMsg:
		var data proto.MsgData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, err
		}
		if data.Text == "" {
			return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "text is required"}, nil
		}
		if _, err := h.engine.SendMessage(ctx, session.ID, data.Text); err != nil {
			return domainError(err), nil
		}
	case proto.InboundTypePong:
		var data proto.PongData
		if len(inbound.Data) > 0 {
			if err := json.Unmarshal(inbound.Data, &data); err != nil {
				return nil, err
			}
		}
		h.engine.Pong(session.ID, data.SentAt)
	case proto.InboundTypeLogout:
		if err := h.engine.Logout(ctx, session.ID); err != nil {
			return domainError(err), nil
		}
	default:
		return &proto.Error{Code: "invalid_message", Msg: "unknown message type"}, nil
	}
	return nil, nil
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, session *core.Session) error {
	for {
		select {
		case event, ok := <-session.Events:
			if !ok {
				// The engine ended this binding (logout or supersede).
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func domainError(err error) *proto.Error {
	return &proto.Error{Code: core.CodeFor(err), Msg: err.Error()}
}

// clientOrigin derives the duplicate-login origin from the connection. The
// proxy header wins over the socket address.
func clientOrigin(r *stdhttp.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
