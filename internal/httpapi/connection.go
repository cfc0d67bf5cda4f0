package httpapi

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mudforge/driver/internal/app"
	"github.com/mudforge/driver/internal/binder"
	"github.com/mudforge/driver/internal/codec"
	"github.com/mudforge/driver/internal/core/ecs"
	"github.com/mudforge/driver/internal/dispatch"
	"github.com/mudforge/driver/internal/errs"
	"github.com/mudforge/driver/internal/session"
)

// throttleWindow/throttleBurst bound how many input lines a freshly bound
// player may submit per window, before the dispatcher even sees them.
const (
	throttleBurst  = 10
	throttleWindow = time.Second
)

// newBoundSession builds a Session for a freshly upgraded connection. It is
// not yet bound to a world object — binding happens once the client
// authenticates, via the binder.
func newBoundSession(id string, conn *websocket.Conn, a *app.App) *session.Session {
	return session.New(id, conn, a.Watermarks, a.Log)
}

// inboundHandler decodes each inbound WebSocket message and dispatches it:
// AUTH/SESSION frames drive the authenticate/resume half of the Player
// lifecycle (spec §3, §6), a COMMAND frame or plain text line goes to the
// command dispatcher for whatever player the session is currently bound
// to, any other registered frame type is accepted and ignored, and
// anything unrecognized is logged and dropped without closing the
// connection (spec §4.A).
func inboundHandler(a *app.App) session.Handler {
	return func(ctx context.Context, s *session.Session, message []byte) error {
		in, err := codec.DecodeInbound(message)
		if err != nil {
			if a.Log != nil {
				a.Log.Warn("dropping malformed inbound frame", zap.String("session_id", s.ID), zap.Error(err))
			}
			return nil
		}

		switch in.Kind {
		case codec.KindPong:
			return nil
		case codec.KindText:
			return dispatchFromSession(ctx, a, s, string(in.Body))
		case codec.KindFrame:
			switch in.Type {
			case codec.TypeCommand:
				return dispatchFromSession(ctx, a, s, string(in.Body))
			case codec.TypeAuth:
				return handleAuthFrame(ctx, a, s, in.Body)
			case codec.TypeSession:
				return handleSessionFrame(ctx, a, s, in.Body)
			}
			return nil
		}
		return nil
	}
}

// dispatchFromSession resolves the player currently bound to s, applies
// their input throttle, and hands the line to the command dispatcher. A
// session with no current binding (not yet authenticated) is ignored. Any
// dispatch failure is reported back to the player per spec §4.G/§7, not
// merely logged.
func dispatchFromSession(ctx context.Context, a *app.App, s *session.Session, line string) error {
	entityID, ok := s.BoundEntity()
	if !ok {
		return nil
	}

	bind, ok := a.Binder.ByEntity(entityID)
	if ok && bind.Throttle != nil && !bind.Throttle.Allow(time.Now()) {
		a.Binder.SendText(entityID, "You are sending commands too quickly.")
		return nil
	}

	location := entityID
	if loc, ok := a.Graph.Location(entityID); ok && !loc.Parent.IsZero() {
		location = loc.Parent
	}

	actor := dispatch.Actor{EntityID: entityID, Location: location, Permission: actorPermission(a, entityID)}
	if err := a.Dispatcher.Dispatch(ctx, actor, line); err != nil {
		reportDispatchError(a, s, err)
	}
	return nil
}

// actorPermission looks up the dispatch permission level for a bound
// entity via the player name encoded in its object id, since the world
// graph (not the auth package) is what a dispatching command actually
// holds a reference to.
func actorPermission(a *app.App, entityID ecs.EntityID) dispatch.Permission {
	ident, ok := a.Graph.Identity(entityID)
	if !ok {
		return dispatch.PermissionPlayer
	}
	return a.Auth.Permission(strings.TrimPrefix(ident.ObjectID, playerObjectPrefix))
}

// reportDispatchError sends the player-facing failure text for a dispatch
// error (spec §4.G: unknown verb -> "What?", permission denied ->
// "Permission denied", and a protocol error such as an empty line, are
// sent as-is; everything else is prefixed "Error: " so it reads as a
// handler-level failure rather than a scripted response) and logs the
// underlying error for operators.
func reportDispatchError(a *app.App, s *session.Session, err error) {
	msg := errs.MessageOf(err)
	switch errs.KindOf(err) {
	case errs.KindNotFound, errs.KindPermissionDenied, errs.KindProtocol:
		s.Send(codec.EncodeText(msg))
	default:
		s.Send(codec.EncodeText("Error: " + msg))
	}
	if a.Log != nil {
		a.Log.Warn("dispatch error", zap.String("session_id", s.ID), zap.Error(err))
	}
}

const playerObjectPrefix = "player:"

func playerObjectID(name string) string {
	return playerObjectPrefix + strings.ToLower(strings.TrimSpace(name))
}

// handleAuthFrame drives spec §6's AUTH frame: either a name/password login
// or a bare session token presented to resume a prior connection.
func handleAuthFrame(ctx context.Context, a *app.App, s *session.Session, body []byte) error {
	var req codec.AuthRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return sendAuthError(s, "malformed auth frame")
	}

	if req.SessionToken != "" {
		return resumeSession(ctx, a, s, req.SessionToken)
	}

	rec, err := a.Auth.Authenticate(ctx, req.Name, req.Password)
	if err != nil {
		return sendAuthError(s, "invalid credentials")
	}

	objectID := playerObjectID(rec.Name)
	entityID, ok := a.Graph.FindByObjectID(objectID)
	if !ok {
		entityID = a.Graph.Create(rec.Name, objectID)
	}
	if rec.LocationObjectID != "" {
		if loc, ok := a.Graph.FindByObjectID(rec.LocationObjectID); ok {
			_ = a.Graph.MoveTo(entityID, loc)
		}
	}

	a.Auth.MarkBound(rec)
	if ok := a.Sessions.Register(s, entityID); !ok {
		return sendAuthError(s, "server is at capacity")
	}
	a.Binder.Bind(s, entityID, binder.NewThrottle(throttleBurst, throttleWindow))

	token := a.Sessions.IssueToken(entityID)
	return sendAuthSuccess(s, token, a.DefaultSessionTTL())
}

// handleSessionFrame drives spec §6's SESSION frame: resume by bare token,
// the same path AUTH takes when given a session_token instead of
// name/password.
func handleSessionFrame(ctx context.Context, a *app.App, s *session.Session, body []byte) error {
	var req codec.SessionResume
	if err := json.Unmarshal(body, &req); err != nil {
		return sendAuthError(s, "malformed session frame")
	}
	return resumeSession(ctx, a, s, req.Token)
}

// resumeSession validates token against the active-session ledger, binds
// newly-accepted session s to the entity it names, closes whatever prior
// connection still held that binding with reason resumed_elsewhere, and
// issues a fresh token while invalidating the one just presented (spec
// §4.H, §8 scenario 2).
func resumeSession(ctx context.Context, a *app.App, s *session.Session, token string) error {
	entityID, err := a.Sessions.VerifyToken(token)
	if err != nil {
		return sendAuthError(s, "session expired or invalid")
	}

	a.Sessions.Resume(s, entityID)
	a.Binder.Bind(s, entityID, binder.NewThrottle(throttleBurst, throttleWindow))

	fresh := a.Sessions.IssueToken(entityID)
	a.Sessions.InvalidateToken(token)
	return sendAuthSuccess(s, fresh, a.DefaultSessionTTL())
}

func sendAuthSuccess(s *session.Session, token string, ttl time.Duration) error {
	if frame, err := codec.EncodeFrame(codec.TypeAuth, codec.AuthResponse{Status: "ok"}); err == nil {
		s.Send(frame)
	}
	if frame, err := codec.EncodeFrame(codec.TypeSession, codec.SessionIssued{
		Token:     token,
		ExpiresAt: time.Now().Add(ttl).Unix(),
	}); err == nil {
		s.Send(frame)
	}
	return nil
}

func sendAuthError(s *session.Session, reason string) error {
	if frame, err := codec.EncodeFrame(codec.TypeAuth, codec.AuthResponse{Status: "auth_error", Reason: reason}); err == nil {
		s.Send(frame)
	}
	return nil
}
