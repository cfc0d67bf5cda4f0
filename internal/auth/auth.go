// Package auth implements the credential and play-time half of the Player
// lifecycle from spec §3: authenticate → restore → bind_connection →
// enter_world, and unbind's "accumulates play_time += now - session_start".
// Password hashing follows the teacher's internal/persist/account_repo.go,
// which reaches for bcrypt rather than a hand-rolled scheme — there is no
// precedent for credential hashing anywhere else in the example pack.
package auth

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mudforge/driver/internal/dispatch"
	"github.com/mudforge/driver/internal/errs"
	"github.com/mudforge/driver/internal/store"
)

// Record is one player's persisted account: the spec §3 Player attributes
// that survive a disconnect (hashed credential, permission level, the
// play-time accumulator) plus the stable object id of its last-known world
// location, so a restored player can be reattached to the graph after a
// restart (runtime EntityIDs are not stable across process restarts).
type Record struct {
	Name             string              `json:"name"`
	PasswordHash     string              `json:"password_hash"`
	Permission       dispatch.Permission `json:"permission"`
	LocationObjectID string              `json:"location_object_id,omitempty"`
	PlayTime         time.Duration       `json:"play_time"`

	sessionStart time.Time
}

// Authenticator validates credentials, tracks each bound player's
// play-time accumulator, and persists Records through the store.
type Authenticator struct {
	store store.Store

	mu   sync.Mutex
	live map[string]*Record // player name -> record, while bound this process
}

func New(s store.Store) *Authenticator {
	return &Authenticator{store: s, live: make(map[string]*Record)}
}

// HashPassword bcrypt-hashes a plaintext password for storage, for the
// Player "hashed credential" attribute of spec §3.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errs.New(errs.KindRuntime, "hash password", err)
	}
	return string(hash), nil
}

// Register creates a brand new account, persisting it immediately so a
// concurrent login attempt can't race past PlayerExists.
func (a *Authenticator) Register(ctx context.Context, name, password string) (*Record, error) {
	name = normalizeName(name)
	if name == "" {
		return nil, errs.New(errs.KindAuth, "empty player name", nil)
	}
	exists, err := a.store.PlayerExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errs.New(errs.KindAuth, "account already exists", nil)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	rec := &Record{Name: name, PasswordHash: hash, Permission: dispatch.PermissionPlayer}
	if err := a.save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Authenticate validates name/password against the persisted store and
// returns the player's Record (spec §3 lifecycle: authenticate -> restore
// -> bind_connection -> enter_world).
func (a *Authenticator) Authenticate(ctx context.Context, name, password string) (*Record, error) {
	name = normalizeName(name)
	payload, ok, err := a.store.LoadPlayer(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.KindAuth, "unknown player", nil)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, errs.New(errs.KindAuth, "corrupt player record", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)); err != nil {
		return nil, errs.New(errs.KindAuth, "invalid credentials", err)
	}
	return &rec, nil
}

// MarkBound records session_start for a just-bound player and makes it the
// live record SaveAll/Unbind/Permission operate against.
func (a *Authenticator) MarkBound(rec *Record) {
	a.mu.Lock()
	rec.sessionStart = time.Now()
	a.live[rec.Name] = rec
	a.mu.Unlock()
}

// Unbind accumulates play_time += now - session_start, persists the
// updated record, and drops the in-memory live entry. Non-destructive: the
// player record itself survives and may be rebound later (spec §3).
func (a *Authenticator) Unbind(ctx context.Context, name string) error {
	name = normalizeName(name)
	a.mu.Lock()
	rec, ok := a.live[name]
	if ok {
		if !rec.sessionStart.IsZero() {
			rec.PlayTime += time.Since(rec.sessionStart)
			rec.sessionStart = time.Time{}
		}
		delete(a.live, name)
	}
	a.mu.Unlock()
	if !ok {
		return nil
	}
	return a.save(ctx, rec)
}

// Permission returns the permission level of whichever record is currently
// live for name, or PermissionPlayer if none is bound.
func (a *Authenticator) Permission(name string) dispatch.Permission {
	a.mu.Lock()
	defer a.mu.Unlock()
	if rec, ok := a.live[normalizeName(name)]; ok {
		return rec.Permission
	}
	return dispatch.PermissionPlayer
}

// SetLocation records rec's last-known world position by stable object id,
// so a restart can re-resolve it via Graph.FindByObjectID after Restore.
func (a *Authenticator) SetLocation(rec *Record, objectID string) {
	a.mu.Lock()
	rec.LocationObjectID = objectID
	a.mu.Unlock()
}

func (a *Authenticator) save(ctx context.Context, rec *Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return errs.New(errs.KindRuntime, "marshal player record", err)
	}
	return a.store.SavePlayer(ctx, rec.Name, payload)
}

// SaveAll persists every currently-bound player's live record — called by
// autosave and shutdown (spec §4.L: "world snapshot + all connected
// players").
func (a *Authenticator) SaveAll(ctx context.Context) error {
	a.mu.Lock()
	records := make([]*Record, 0, len(a.live))
	for _, rec := range a.live {
		records = append(records, rec)
	}
	a.mu.Unlock()

	for _, rec := range records {
		if err := a.save(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
