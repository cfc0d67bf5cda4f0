package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mudforge/driver/internal/errs"
	_ "modernc.org/sqlite"
)

// Embedded is the filesystem-backed Store: one JSON document per record,
// atomic-rename writes, layout exactly as spec §6 "Persistence layout
// (embedded mode)". A small sqlite catalog alongside the tree gives
// ListPlayers/ListKeys an index to query instead of a directory scan —
// the canonical data lives in the JSON files; sqlite here is a derived
// index, never the source of truth, so a missing/corrupt catalog can
// always be rebuilt from the tree.
type Embedded struct {
	root string

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	cat    *sql.DB
}

func NewEmbedded(root string) (*Embedded, error) {
	for _, dir := range []string{"players", "world", "permissions"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, errs.New(errs.KindStorageUnavailable, "create data directory", err)
		}
	}
	cat, err := sql.Open("sqlite", filepath.Join(root, "catalog.sqlite"))
	if err != nil {
		return nil, errs.New(errs.KindStorageUnavailable, "open catalog db", err)
	}
	if _, err := cat.Exec(`CREATE TABLE IF NOT EXISTS catalog (
		kind TEXT NOT NULL,
		key  TEXT NOT NULL,
		saved_at INTEGER NOT NULL,
		PRIMARY KEY (kind, key)
	)`); err != nil {
		cat.Close()
		return nil, errs.New(errs.KindStorageUnavailable, "init catalog schema", err)
	}

	return &Embedded{
		root:  root,
		locks: make(map[string]*sync.Mutex),
		cat:   cat,
	}, nil
}

func (e *Embedded) Close() error {
	return e.cat.Close()
}

// lockFor returns (creating if needed) the per-key mutex that serializes
// concurrent writers to the same record, per spec §4.B concurrency note.
func (e *Embedded) lockFor(key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.locks[key]
	if !ok {
		m = &sync.Mutex{}
		e.locks[key] = m
	}
	return m
}

// writeAtomic writes data to path via a temp file + rename, which is the
// only way a reader can never observe a partial write.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp := path + ".tmp"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (e *Embedded) touchCatalog(kind, key string) {
	_, _ = e.cat.Exec(
		`INSERT INTO catalog(kind, key, saved_at) VALUES (?, ?, ?)
		 ON CONFLICT(kind, key) DO UPDATE SET saved_at = excluded.saved_at`,
		kind, key, time.Now().UnixMilli(),
	)
}

func (e *Embedded) dropCatalog(kind, key string) {
	_, _ = e.cat.Exec(`DELETE FROM catalog WHERE kind = ? AND key = ?`, kind, key)
}

func (e *Embedded) listCatalog(ctx context.Context, kind string) ([]string, error) {
	rows, err := e.cat.QueryContext(ctx, `SELECT key FROM catalog WHERE kind = ? ORDER BY key`, kind)
	if err != nil {
		return nil, errs.New(errs.KindStorageUnavailable, "query catalog", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errs.New(errs.KindStorageUnavailable, "scan catalog row", err)
		}
		out = append(out, k)
	}
	return out, nil
}

func readFile(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errs.New(errs.KindStorageUnavailable, "read "+path, err)
	}
	return data, true, nil
}

// --- players ---

func (e *Embedded) playerPath(name string) string {
	return filepath.Join(e.root, "players", name+".json")
}

func (e *Embedded) SavePlayer(ctx context.Context, name string, payload []byte) error {
	lock := e.lockFor("player:" + name)
	lock.Lock()
	defer lock.Unlock()
	if err := writeAtomic(e.playerPath(name), payload); err != nil {
		return errs.New(errs.KindStorageUnavailable, "save player "+name, err)
	}
	e.touchCatalog("player", name)
	return nil
}

func (e *Embedded) LoadPlayer(ctx context.Context, name string) ([]byte, bool, error) {
	return readFile(e.playerPath(name))
}

func (e *Embedded) PlayerExists(ctx context.Context, name string) (bool, error) {
	_, ok, err := e.LoadPlayer(ctx, name)
	return ok, err
}

func (e *Embedded) ListPlayers(ctx context.Context) ([]string, error) {
	return e.listCatalog(ctx, "player")
}

func (e *Embedded) DeletePlayer(ctx context.Context, name string) (bool, error) {
	lock := e.lockFor("player:" + name)
	lock.Lock()
	defer lock.Unlock()
	path := e.playerPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, errs.New(errs.KindStorageUnavailable, "delete player "+name, err)
	}
	e.dropCatalog("player", name)
	return true, nil
}

// --- world ---

func (e *Embedded) worldPath() string {
	return filepath.Join(e.root, "world", "state.json")
}

func (e *Embedded) SaveWorld(ctx context.Context, state []byte) error {
	lock := e.lockFor("world")
	lock.Lock()
	defer lock.Unlock()
	if err := writeAtomic(e.worldPath(), state); err != nil {
		return errs.New(errs.KindStorageUnavailable, "save world snapshot", err)
	}
	return nil
}

func (e *Embedded) LoadWorld(ctx context.Context) ([]byte, bool, error) {
	return readFile(e.worldPath())
}

// --- permissions ---

func (e *Embedded) permissionsPath() string {
	return filepath.Join(e.root, "permissions", "permissions.json")
}

func (e *Embedded) SavePermissions(ctx context.Context, data []byte) error {
	lock := e.lockFor("permissions")
	lock.Lock()
	defer lock.Unlock()
	if err := writeAtomic(e.permissionsPath(), data); err != nil {
		return errs.New(errs.KindStorageUnavailable, "save permissions", err)
	}
	return nil
}

func (e *Embedded) LoadPermissions(ctx context.Context) ([]byte, bool, error) {
	return readFile(e.permissionsPath())
}

// --- namespaced blobs ---

func (e *Embedded) blobPath(namespace, key string) string {
	return filepath.Join(e.root, namespace, key+".json")
}

func (e *Embedded) SaveData(ctx context.Context, namespace, key string, value []byte) error {
	lock := e.lockFor(fmt.Sprintf("data:%s:%s", namespace, key))
	lock.Lock()
	defer lock.Unlock()
	if err := writeAtomic(e.blobPath(namespace, key), value); err != nil {
		return errs.New(errs.KindStorageUnavailable, "save data "+namespace+"/"+key, err)
	}
	e.touchCatalog("data:"+namespace, key)
	return nil
}

func (e *Embedded) LoadData(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	return readFile(e.blobPath(namespace, key))
}

func (e *Embedded) DataExists(ctx context.Context, namespace, key string) (bool, error) {
	_, ok, err := e.LoadData(ctx, namespace, key)
	return ok, err
}

func (e *Embedded) DeleteData(ctx context.Context, namespace, key string) (bool, error) {
	lock := e.lockFor(fmt.Sprintf("data:%s:%s", namespace, key))
	lock.Lock()
	defer lock.Unlock()
	path := e.blobPath(namespace, key)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, errs.New(errs.KindStorageUnavailable, "delete data "+namespace+"/"+key, err)
	}
	e.dropCatalog("data:"+namespace, key)
	return true, nil
}

func (e *Embedded) ListKeys(ctx context.Context, namespace string) ([]string, error) {
	return e.listCatalog(ctx, "data:"+namespace)
}

var _ Store = (*Embedded)(nil)
