// Package binder implements the player session binder from spec §4.I: the
// glue between a transport Session and a world object entity, including
// input throttling (so a flooding client can't starve the dispatcher) and
// structured-frame output helpers built on the protocol codec.
package binder

import (
	"sync"
	"time"

	"github.com/mudforge/driver/internal/codec"
	"github.com/mudforge/driver/internal/core/ecs"
	"github.com/mudforge/driver/internal/session"
)

// Throttle is a simple token bucket limiting how many input lines a bound
// player may submit per window.
type Throttle struct {
	mu       sync.Mutex
	tokens   int
	max      int
	window   time.Duration
	lastFill time.Time
}

func NewThrottle(max int, window time.Duration) *Throttle {
	return &Throttle{tokens: max, max: max, window: window, lastFill: time.Now()}
}

// Allow reports whether one more input line may be accepted right now,
// consuming a token if so.
func (t *Throttle) Allow(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.Sub(t.lastFill) >= t.window {
		t.tokens = t.max
		t.lastFill = now
	}
	if t.tokens <= 0 {
		return false
	}
	t.tokens--
	return true
}

// Binding is one player's session-to-object binding plus its throttle.
type Binding struct {
	Session  *session.Session
	EntityID ecs.EntityID
	Throttle *Throttle
}

// Binder tracks every currently-bound player, keyed by entity and by
// session id, so either side can find the other.
type Binder struct {
	mu        sync.RWMutex
	byEntity  map[ecs.EntityID]*Binding
	bySession map[string]*Binding
}

func New() *Binder {
	return &Binder{
		byEntity:  make(map[ecs.EntityID]*Binding),
		bySession: make(map[string]*Binding),
	}
}

// Bind associates sess with entityID. A prior binding for either side is
// replaced, not merged — exactly one session may drive a given object.
func (b *Binder) Bind(sess *session.Session, entityID ecs.EntityID, throttle *Throttle) *Binding {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.byEntity[entityID]; ok {
		delete(b.bySession, old.Session.ID)
	}
	if old, ok := b.bySession[sess.ID]; ok {
		delete(b.byEntity, old.EntityID)
	}

	bind := &Binding{Session: sess, EntityID: entityID, Throttle: throttle}
	b.byEntity[entityID] = bind
	b.bySession[sess.ID] = bind
	sess.Bind(entityID)
	return bind
}

// Unbind removes the binding for entityID, if any.
func (b *Binder) Unbind(entityID ecs.EntityID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bind, ok := b.byEntity[entityID]
	if !ok {
		return
	}
	delete(b.byEntity, entityID)
	delete(b.bySession, bind.Session.ID)
	bind.Session.Unbind()
}

// UnbindSession removes whatever binding currently owns sessionID, used when
// a connection drops.
func (b *Binder) UnbindSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bind, ok := b.bySession[sessionID]
	if !ok {
		return
	}
	delete(b.byEntity, bind.EntityID)
	delete(b.bySession, sessionID)
	bind.Session.Unbind()
}

func (b *Binder) ByEntity(id ecs.EntityID) (*Binding, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bind, ok := b.byEntity[id]
	return bind, ok
}

func (b *Binder) BySession(sessionID string) (*Binding, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bind, ok := b.bySession[sessionID]
	return bind, ok
}

// SendFrame encodes and sends a structured frame to whichever session is
// currently bound to entityID. It is a no-op if the entity isn't bound,
// since an unbound object has nowhere to receive output.
func (b *Binder) SendFrame(entityID ecs.EntityID, t codec.Type, payload any) error {
	bind, ok := b.ByEntity(entityID)
	if !ok {
		return nil
	}
	frame, err := codec.EncodeFrame(t, payload)
	if err != nil {
		return err
	}
	bind.Session.Send(frame)
	return nil
}

// SendText sends an unframed narrative line to entityID's bound session.
func (b *Binder) SendText(entityID ecs.EntityID, line string) {
	bind, ok := b.ByEntity(entityID)
	if !ok {
		return
	}
	bind.Session.Send(codec.EncodeText(line))
}
