// Package store implements the persistence adapter from spec §4.B: a
// uniform interface over an embedded (filesystem) or remote (Postgres)
// backing store, selected at boot. Both modes satisfy the same Store
// interface and the same durability/consistency guarantees.
package store

import (
	"context"
	"time"
)

// Store is the persistence adapter contract. Every method either succeeds
// durably or returns a typed failure (errs.KindStorageUnavailable or
// errs.KindStorageConflict) — partial writes are never observable.
type Store interface {
	SavePlayer(ctx context.Context, name string, payload []byte) error
	LoadPlayer(ctx context.Context, name string) ([]byte, bool, error)
	PlayerExists(ctx context.Context, name string) (bool, error)
	ListPlayers(ctx context.Context) ([]string, error)
	DeletePlayer(ctx context.Context, name string) (bool, error)

	SaveWorld(ctx context.Context, state []byte) error
	LoadWorld(ctx context.Context) ([]byte, bool, error)

	SavePermissions(ctx context.Context, data []byte) error
	LoadPermissions(ctx context.Context) ([]byte, bool, error)

	SaveData(ctx context.Context, namespace, key string, value []byte) error
	LoadData(ctx context.Context, namespace, key string) ([]byte, bool, error)
	DataExists(ctx context.Context, namespace, key string) (bool, error)
	DeleteData(ctx context.Context, namespace, key string) (bool, error)
	ListKeys(ctx context.Context, namespace string) ([]string, error)

	Close() error
}

// Record is the keyed-entity shape from spec §3 (player save, world
// snapshot, permissions): entity_kind/key/payload/saved_at.
type Record struct {
	EntityKind string
	Key        string
	Payload    []byte
	SavedAt    time.Time
}

// Blob is the namespaced-blob shape from spec §3, used for daemon state.
type Blob struct {
	Namespace string
	Key       string
	Payload   []byte
}
