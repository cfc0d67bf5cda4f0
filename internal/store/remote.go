package store

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mudforge/driver/internal/errs"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Remote is the Postgres-backed Store, grounded on the teacher's
// internal/persist DB/migration pattern (pgxpool + goose), generalized from
// character/clan/item tables to the driver's four persistence shapes.
type Remote struct {
	pool *pgxpool.Pool
}

func NewRemote(ctx context.Context, dsn string) (*Remote, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errs.New(errs.KindStorageUnavailable, "parse remote store url", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errs.New(errs.KindStorageUnavailable, "connect to remote store", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errs.New(errs.KindStorageUnavailable, "ping remote store", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Remote{pool: pool}, nil
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return errs.New(errs.KindStorageUnavailable, "set migration dialect", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return errs.New(errs.KindStorageUnavailable, "run migrations", err)
	}
	return nil
}

func (r *Remote) Close() error {
	r.pool.Close()
	return nil
}

func (r *Remote) SavePlayer(ctx context.Context, name string, payload []byte) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO players (name, payload, saved_at) VALUES ($1, $2, now())
		 ON CONFLICT (name) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		name, payload,
	)
	if err != nil {
		return errs.New(errs.KindStorageUnavailable, "save player "+name, err)
	}
	return nil
}

func (r *Remote) LoadPlayer(ctx context.Context, name string) ([]byte, bool, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx, `SELECT payload FROM players WHERE name = $1`, name).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.New(errs.KindStorageUnavailable, "load player "+name, err)
	}
	return payload, true, nil
}

func (r *Remote) PlayerExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM players WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, errs.New(errs.KindStorageUnavailable, "check player exists "+name, err)
	}
	return exists, nil
}

func (r *Remote) ListPlayers(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT name FROM players ORDER BY name`)
	if err != nil {
		return nil, errs.New(errs.KindStorageUnavailable, "list players", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.New(errs.KindStorageUnavailable, "scan player row", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (r *Remote) DeletePlayer(ctx context.Context, name string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM players WHERE name = $1`, name)
	if err != nil {
		return false, errs.New(errs.KindStorageUnavailable, "delete player "+name, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Remote) SaveWorld(ctx context.Context, state []byte) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO world_state (id, payload, saved_at) VALUES (1, $1, now())
		 ON CONFLICT (id) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		state,
	)
	if err != nil {
		return errs.New(errs.KindStorageUnavailable, "save world snapshot", err)
	}
	return nil
}

func (r *Remote) LoadWorld(ctx context.Context) ([]byte, bool, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx, `SELECT payload FROM world_state WHERE id = 1`).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.New(errs.KindStorageUnavailable, "load world snapshot", err)
	}
	return payload, true, nil
}

func (r *Remote) SavePermissions(ctx context.Context, data []byte) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO permissions (id, payload, saved_at) VALUES (1, $1, now())
		 ON CONFLICT (id) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		data,
	)
	if err != nil {
		return errs.New(errs.KindStorageUnavailable, "save permissions", err)
	}
	return nil
}

func (r *Remote) LoadPermissions(ctx context.Context) ([]byte, bool, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx, `SELECT payload FROM permissions WHERE id = 1`).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.New(errs.KindStorageUnavailable, "load permissions", err)
	}
	return payload, true, nil
}

func (r *Remote) SaveData(ctx context.Context, namespace, key string, value []byte) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO game_data (namespace, key, payload, saved_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (namespace, key) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		namespace, key, value,
	)
	if err != nil {
		return errs.New(errs.KindStorageUnavailable, fmt.Sprintf("save data %s/%s", namespace, key), err)
	}
	return nil
}

func (r *Remote) LoadData(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx,
		`SELECT payload FROM game_data WHERE namespace = $1 AND key = $2`, namespace, key,
	).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.New(errs.KindStorageUnavailable, fmt.Sprintf("load data %s/%s", namespace, key), err)
	}
	return payload, true, nil
}

func (r *Remote) DataExists(ctx context.Context, namespace, key string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM game_data WHERE namespace = $1 AND key = $2)`, namespace, key,
	).Scan(&exists)
	if err != nil {
		return false, errs.New(errs.KindStorageUnavailable, fmt.Sprintf("check data exists %s/%s", namespace, key), err)
	}
	return exists, nil
}

func (r *Remote) DeleteData(ctx context.Context, namespace, key string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM game_data WHERE namespace = $1 AND key = $2`, namespace, key)
	if err != nil {
		return false, errs.New(errs.KindStorageUnavailable, fmt.Sprintf("delete data %s/%s", namespace, key), err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Remote) ListKeys(ctx context.Context, namespace string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT key FROM game_data WHERE namespace = $1 ORDER BY key`, namespace)
	if err != nil {
		return nil, errs.New(errs.KindStorageUnavailable, "list data keys for "+namespace, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errs.New(errs.KindStorageUnavailable, "scan data key row", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

var _ Store = (*Remote)(nil)
