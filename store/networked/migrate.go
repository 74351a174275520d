package networked

import (
	"context"

	"relay.dev/internal/chk"
	"relay.dev/internal/lol"
	"relay.dev/internal/relayerr"
)

// migrations run in order; each is idempotent via IF NOT EXISTS so MigrateUp
// is safe to call on every startup (spec §10.2).
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS schema_migration (
		version    integer PRIMARY KEY,
		applied_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS "event" (
		serial       bigserial UNIQUE,
		id           bytea PRIMARY KEY,
		pub_key      bytea NOT NULL,
		created_at   timestamptz NOT NULL,
		kind         bigint NOT NULL,
		content      bytea NOT NULL,
		delegated_by bytea,
		hidden       boolean NOT NULL DEFAULT false
	)`,
	`CREATE INDEX IF NOT EXISTS event_pub_key_idx ON "event" (pub_key, created_at)`,
	`CREATE INDEX IF NOT EXISTS event_delegated_by_idx ON "event" (delegated_by, created_at)`,
	`CREATE INDEX IF NOT EXISTS event_kind_idx ON "event" (kind, created_at)`,
	`CREATE INDEX IF NOT EXISTS event_created_at_idx ON "event" (created_at)`,
	`CREATE TABLE IF NOT EXISTS tag (
		event_id bytea NOT NULL REFERENCES "event"(id) ON DELETE CASCADE,
		name     text NOT NULL,
		value    bytea NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS tag_name_value_idx ON tag (name, value)`,
	`CREATE TABLE IF NOT EXISTS user_verification (
		id          bigserial PRIMARY KEY,
		pub_key     bytea NOT NULL,
		name        text NOT NULL,
		verified_at timestamptz,
		failed_at   timestamptz
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS user_verification_pub_key_idx ON user_verification (pub_key)`,
}

// MigrateUp applies every migration not yet recorded in schema_migration,
// in order, each in its own transaction (spec §4.6).
func (d *D) MigrateUp(ctx context.Context) (applied int, err error) {
	if _, err = d.writePool.Exec(ctx, migrations[0]); chk.E(err) {
		return 0, relayerr.Wrap(relayerr.StorageFatal, err, "creating schema_migration table")
	}
	for version, stmt := range migrations {
		var exists bool
		err = d.writePool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migration WHERE version = $1)`, version).Scan(&exists)
		if chk.E(err) {
			return applied, relayerr.Wrap(relayerr.StorageFatal, err, "checking migration state")
		}
		if exists {
			continue
		}
		tx, err := d.writePool.Begin(ctx)
		if chk.E(err) {
			return applied, relayerr.Wrap(relayerr.StorageFatal, err, "beginning migration txn")
		}
		if _, err = tx.Exec(ctx, stmt); chk.E(err) {
			_ = tx.Rollback(ctx)
			return applied, relayerr.Wrap(relayerr.StorageFatal, err, "applying migration")
		}
		if _, err = tx.Exec(ctx, `INSERT INTO schema_migration (version) VALUES ($1)`, version); chk.E(err) {
			_ = tx.Rollback(ctx)
			return applied, relayerr.Wrap(relayerr.StorageFatal, err, "recording migration")
		}
		if err = tx.Commit(ctx); chk.E(err) {
			return applied, relayerr.Wrap(relayerr.StorageFatal, err, "committing migration")
		}
		lol.I.F("applied schema migration %d", version)
		applied++
	}
	return applied, nil
}
