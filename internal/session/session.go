// Package session implements the connection manager and session tokens from
// spec §4.H: one Session per live WebSocket connection, with buffered
// in/out queues, byte-based backpressure watermarks, and an HMAC-signed
// reconnection token layered under a stateful active-session ledger (see
// manager.go). The queue/readLoop/writeLoop/sync.Once-close shape is
// grounded on the teacher's internal/net session (TCP, binary frames); the
// transport itself is regrounded on gorilla/websocket the way the
// MUD-Engine reference server in the example pack drives it (ping ticker,
// pong deadline reset, NextWriter-batched writes).
package session

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mudforge/driver/internal/core/ecs"
	"github.com/mudforge/driver/internal/errs"
)

// Watermarks govern backpressure on a Session's outbound queue, measured in
// buffered_bytes per spec §4.H: soft logs a warning and keeps sending; hard
// keeps queuing but stops sending pings (so a congested client isn't made
// worse by control-frame traffic); critical terminates the connection with
// reason buffer_backlog rather than let memory grow unbounded.
type Watermarks struct {
	Soft     int
	Hard     int
	Critical int
}

// Session is one live connection: a fixed-capacity outbound queue drained
// by WriteLoop, and a ReadLoop that decodes inbound frames and hands them to
// a Handler. Closing is idempotent via sync.Once so both loops and an
// external caller (the connection manager) can all call Close without
// racing.
type Session struct {
	ID   string
	conn *websocket.Conn
	log  *zap.Logger

	out        chan []byte
	watermarks Watermarks

	mu            sync.Mutex
	bufferedBytes int
	bound         ecs.EntityID
	boundOK       bool

	closeOnce sync.Once
	closed    chan struct{}
	reason    string

	missedPongs int32

	pingTrigger chan struct{}
}

// Handler processes one inbound message. Returning an error does not close
// the session; the caller decides whether the error is fatal.
type Handler func(ctx context.Context, s *Session, message []byte) error

func New(id string, conn *websocket.Conn, watermarks Watermarks, log *zap.Logger) *Session {
	return &Session{
		ID:          id,
		conn:        conn,
		log:         log,
		out:         make(chan []byte, 256),
		watermarks:  watermarks,
		closed:      make(chan struct{}),
		pingTrigger: make(chan struct{}, 1),
	}
}

// Bind associates this session with a world object (spec §4.I), so output
// helpers and presence checks can find one from the other.
func (s *Session) Bind(id ecs.EntityID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bound = id
	s.boundOK = true
}

func (s *Session) Unbind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bound = ecs.EntityID(0)
	s.boundOK = false
}

func (s *Session) BoundEntity() (ecs.EntityID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound, s.boundOK
}

// Send enqueues a message for the write loop, tracking buffered_bytes
// against the configured watermarks. It never drops a message because of
// the watermarks themselves (spec §4.H: hard "queues further messages,
// stops sending pings" — it does not discard them); a message is only
// dropped when the channel's own fixed capacity is exhausted, and the
// connection is only torn down once the critical watermark is crossed.
func (s *Session) Send(message []byte) {
	select {
	case <-s.closed:
		return
	default:
	}

	s.mu.Lock()
	buffered := s.bufferedBytes + len(message)
	switch {
	case buffered > s.watermarks.Critical:
		s.mu.Unlock()
		if s.log != nil {
			s.log.Warn("session exceeded critical backpressure watermark, closing",
				zap.String("session_id", s.ID), zap.Int("buffered_bytes", buffered))
		}
		s.CloseWithReason("buffer_backlog")
		return
	case buffered > s.watermarks.Hard:
		if s.log != nil {
			s.log.Warn("session exceeded hard backpressure watermark, suppressing pings",
				zap.String("session_id", s.ID), zap.Int("buffered_bytes", buffered))
		}
	case buffered > s.watermarks.Soft:
		if s.log != nil {
			s.log.Warn("session approaching backpressure watermark",
				zap.String("session_id", s.ID), zap.Int("buffered_bytes", buffered))
		}
	}
	s.bufferedBytes = buffered
	s.mu.Unlock()

	select {
	case s.out <- message:
	default:
		s.deduct(len(message))
		if s.log != nil {
			s.log.Warn("session outbound queue full, dropping frame", zap.String("session_id", s.ID))
		}
	}
}

func (s *Session) deduct(n int) {
	s.mu.Lock()
	s.bufferedBytes -= n
	if s.bufferedBytes < 0 {
		s.bufferedBytes = 0
	}
	s.mu.Unlock()
}

// BufferedBytes reports the current outbound backlog, for metrics and
// tests.
func (s *Session) BufferedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufferedBytes
}

// ShouldPing reports whether the connection is calm enough to send a ping:
// false once buffered_bytes has crossed the hard watermark, per spec §4.H.
func (s *Session) ShouldPing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufferedBytes <= s.watermarks.Hard
}

// triggerPing asks WriteLoop to send a websocket ping frame. Non-blocking:
// a trigger already pending is enough, a second one is redundant.
func (s *Session) triggerPing() {
	select {
	case s.pingTrigger <- struct{}{}:
	default:
	}
}

// bumpMissedPongs increments the missed-pong counter and returns the new
// value, for the connection manager's heartbeat sweep.
func (s *Session) bumpMissedPongs() int32 {
	return atomic.AddInt32(&s.missedPongs, 1)
}

// recordActivity resets the missed-pong counter: any inbound pong or
// message counts as proof of life, per spec §4.H.
func (s *Session) recordActivity() {
	atomic.StoreInt32(&s.missedPongs, 0)
}

func (s *Session) missedPongCount() int32 {
	return atomic.LoadInt32(&s.missedPongs)
}

// Close closes the session with no specific reason recorded.
func (s *Session) Close() {
	s.CloseWithReason("")
}

// CloseWithReason closes the session, recording reason for whoever inspects
// it afterwards (e.g. a SESSION frame telling the old connection why it was
// dropped). Idempotent: only the first call actually tears the connection
// down.
func (s *Session) CloseWithReason(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.closed)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// Reason returns the reason passed to CloseWithReason, or "" if the session
// isn't closed or was closed with Close.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Closed reports whether Close has already run.
func (s *Session) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Done returns a channel closed once the session has been torn down, for
// callers (e.g. the connection manager) that want to stop tracking it
// without polling Closed.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

const (
	pongWait  = 60 * time.Second
	writeWait = 10 * time.Second
)

// ReadLoop blocks reading frames off the connection and dispatching them to
// handle, until the connection errors or Close is called. Run it in its own
// goroutine.
func (s *Session) ReadLoop(ctx context.Context, handle Handler) {
	defer s.Close()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.recordActivity()
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.recordActivity()
		if err := handle(ctx, s, message); err != nil {
			if s.log != nil {
				s.log.Warn("inbound handler error", zap.String("session_id", s.ID), zap.Error(err))
			}
		}
	}
}

// WriteLoop drains the outbound queue and sends pings whenever the
// connection manager's heartbeat sweep triggers one, until the session is
// closed. Run it in its own goroutine. All writes to the underlying
// connection happen here, since gorilla/websocket forbids concurrent
// writers — the manager never writes directly, it only signals via
// triggerPing and the Send-fed out queue.
func (s *Session) WriteLoop() {
	defer s.Close()

	for {
		select {
		case message, ok := <-s.out:
			if !ok {
				s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			s.deduct(len(message))

			n := len(s.out)
			for i := 0; i < n; i++ {
				extra := <-s.out
				_, _ = w.Write([]byte("\n"))
				_, _ = w.Write(extra)
				s.deduct(len(extra))
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-s.pingTrigger:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.closed:
			return
		}
	}
}

// NewID mints a connection id (spec §4.H), independent of the session token.
func NewID() string {
	return uuid.NewString()
}

// TokenSigner issues and verifies HMAC-signed session tokens. There is no
// precedent for session-token signing in the example pack (every example
// server either doesn't reconnect sessions or authenticates over a
// different channel entirely), so this is built directly on crypto/hmac —
// the standard, minimal-surface way to produce a tamper-evident token in
// Go, justified in the design ledger as a deliberate stdlib choice rather
// than an omission. TokenSigner itself is stateless; Manager layers an
// active-session ledger on top so a signature alone is not sufficient proof
// of validity (spec §8 invariant 6).
type TokenSigner struct {
	secret []byte
}

func NewTokenSigner(secret string) *TokenSigner {
	return &TokenSigner{secret: []byte(secret)}
}

// Issue returns an opaque token binding entityID to an expiry, for a client
// to present on reconnect in place of re-authenticating.
func (t *TokenSigner) Issue(entityID ecs.EntityID, ttl time.Duration) string {
	expiry := time.Now().Add(ttl).Unix()
	nonce := make([]byte, 8)
	_, _ = rand.Read(nonce)

	body := make([]byte, 8+8+8)
	binary.BigEndian.PutUint64(body[0:8], uint64(entityID))
	binary.BigEndian.PutUint64(body[8:16], uint64(expiry))
	copy(body[16:24], nonce)

	mac := hmac.New(sha256.New, t.secret)
	mac.Write(body)
	sig := mac.Sum(nil)

	return base64.RawURLEncoding.EncodeToString(append(body, sig...))
}

// Verify checks a token's signature and expiry, returning the bound entity
// id on success. It does not consult the active-session ledger — callers
// that need single-issuing semantics go through Manager.VerifyToken instead.
func (t *TokenSigner) Verify(token string) (ecs.EntityID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, errs.New(errs.KindAuth, "malformed session token", err)
	}
	if len(raw) != 24+sha256.Size {
		return 0, errs.New(errs.KindAuth, "malformed session token length", nil)
	}
	body, sig := raw[:24], raw[24:]

	mac := hmac.New(sha256.New, t.secret)
	mac.Write(body)
	expected := mac.Sum(nil)
	if !hmac.Equal(sig, expected) {
		return 0, errs.New(errs.KindAuth, "session token signature mismatch", nil)
	}

	expiry := int64(binary.BigEndian.Uint64(body[8:16]))
	if time.Now().Unix() > expiry {
		return 0, errs.New(errs.KindAuth, "session token expired", nil)
	}

	entityID := ecs.EntityID(binary.BigEndian.Uint64(body[0:8]))
	return entityID, nil
}
