package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mudforge/driver/internal/codec"
	"github.com/mudforge/driver/internal/core/ecs"
	"github.com/mudforge/driver/internal/errs"
)

// ManagerConfig bundles the tunables the connection manager needs from
// spec §4.H and the closed set of env-configurable values in spec §6.
type ManagerConfig struct {
	MaxActive         int
	TokenTTL          time.Duration
	HeartbeatInterval time.Duration
	MaxMissedPongs    int32
	Version           string
}

type activeEntry struct {
	session *Session
	entity  ecs.EntityID
}

type tokenEntry struct {
	entityID ecs.EntityID
}

// Manager is the connection manager of spec §4.H: it tracks every live
// Session in a capped active map, drives the missed-pong heartbeat sweep
// (ping + TIME frame, termination on timeout), and layers single-issuing
// invalidation on top of TokenSigner so a resumed session's old token stops
// validating the instant a fresh one is issued (spec §8 invariant 6,
// scenario 2).
type Manager struct {
	cfg    ManagerConfig
	signer *TokenSigner
	log    *zap.Logger

	mu     sync.Mutex
	active map[string]*activeEntry
	tokens map[string]tokenEntry

	stop chan struct{}
	done chan struct{}
}

func NewManager(cfg ManagerConfig, signer *TokenSigner, log *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		signer: signer,
		log:    log,
		active: make(map[string]*activeEntry),
		tokens: make(map[string]tokenEntry),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Register adds s to the active map, bound to entity. At capacity it first
// evicts already-closed sessions, then refuses registration if still full
// (spec §4.H: "at cap the manager first evicts expired sessions, then
// refuses new session creation").
func (m *Manager) Register(s *Session, entity ecs.EntityID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.active) >= m.cfg.MaxActive {
		m.evictClosedLocked()
	}
	if len(m.active) >= m.cfg.MaxActive {
		return false
	}
	m.active[s.ID] = &activeEntry{session: s, entity: entity}
	return true
}

func (m *Manager) evictClosedLocked() {
	for id, e := range m.active {
		if e.session.Closed() {
			delete(m.active, id)
		}
	}
}

// Unregister removes s from the active map, e.g. once its loops exit.
func (m *Manager) Unregister(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, s.ID)
}

// Count reports the number of sessions currently tracked.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// IssueToken mints a fresh resume token for entityID and invalidates any
// token previously issued to that same entity, so at most one token is
// ever valid for a given player at a time.
func (m *Manager) IssueToken(entityID ecs.EntityID) string {
	token := m.signer.Issue(entityID, m.cfg.TokenTTL)
	m.mu.Lock()
	for t, rec := range m.tokens {
		if rec.entityID == entityID {
			delete(m.tokens, t)
		}
	}
	m.tokens[token] = tokenEntry{entityID: entityID}
	m.mu.Unlock()
	return token
}

// InvalidateToken removes token from the active ledger; subsequent
// VerifyToken calls against it fail even if the HMAC signature is intact.
func (m *Manager) InvalidateToken(token string) {
	m.mu.Lock()
	delete(m.tokens, token)
	m.mu.Unlock()
}

// VerifyToken checks token's signature and expiry via the underlying
// TokenSigner, then additionally requires it still be present in the
// active-session ledger — a signature alone is not sufficient proof of
// validity once a token has been invalidated (spec §8 invariant 6).
func (m *Manager) VerifyToken(token string) (ecs.EntityID, error) {
	entityID, err := m.signer.Verify(token)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	rec, ok := m.tokens[token]
	m.mu.Unlock()
	if !ok || rec.entityID != entityID {
		return 0, errs.New(errs.KindAuth, "session token not recognized or already invalidated", nil)
	}
	return entityID, nil
}

// Resume registers newSession as bound to entityID and, if an existing
// session is already bound to that entity, closes it with reason
// resumed_elsewhere and returns it (spec §4.H, §8 scenario 2).
func (m *Manager) Resume(newSession *Session, entityID ecs.EntityID) *Session {
	m.mu.Lock()
	var old *Session
	for id, e := range m.active {
		if e.entity == entityID && e.session != newSession {
			old = e.session
			delete(m.active, id)
			break
		}
	}
	m.active[newSession.ID] = &activeEntry{session: newSession, entity: entityID}
	m.mu.Unlock()

	if old != nil {
		old.CloseWithReason("resumed_elsewhere")
	}
	return old
}

// Run drives the heartbeat sweep until Stop is called. Run it in its own
// goroutine.
func (m *Manager) Run() {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			close(m.done)
			return
		}
	}
}

// Stop halts the heartbeat sweep and waits for Run to return.
func (m *Manager) Stop() {
	close(m.stop)
	<-m.done
}

// sweep implements spec §4.H's periodic pass over every active connection:
// increment missed_pongs; past the threshold, terminate with
// heartbeat_timeout; otherwise send one ping (suppressed once the session
// is past its hard backpressure watermark) and one TIME frame, for
// intermediaries that drop WebSocket control frames but pass data frames
// through untouched.
func (m *Manager) sweep() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.active))
	for _, e := range m.active {
		sessions = append(sessions, e.session)
	}
	m.mu.Unlock()

	now := time.Now().UnixMilli()
	frame, frameErr := codec.EncodeFrame(codec.TypeTime, codec.TimeFrame{EpochMS: now, Version: m.cfg.Version})

	for _, s := range sessions {
		if s.Closed() {
			continue
		}
		missed := s.bumpMissedPongs()
		if missed > m.cfg.MaxMissedPongs {
			if m.log != nil {
				m.log.Warn("session missed too many pongs, terminating heartbeat",
					zap.String("session_id", s.ID), zap.Int32("missed_pongs", missed))
			}
			s.CloseWithReason("heartbeat_timeout")
			continue
		}
		if s.ShouldPing() {
			s.triggerPing()
		}
		if frameErr == nil {
			s.Send(frame)
		}
	}
}
