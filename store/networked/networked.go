// Package networked is the networked repository backend (spec §4.6,
// §10.2), grounded on original_source/src/repo/postgres.rs and the
// pgxpool usage shown in the platform-internal Postgres event bus example:
// separate read and write pools so a burst of subscription queries never
// starves the single-writer funnel of a connection.
package networked

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"relay.dev/internal/chk"
	"relay.dev/internal/lol"
	"relay.dev/internal/relayerr"
)

// D is the networked repository, backed by postgres via two pgx pools.
type D struct {
	writePool *pgxpool.Pool
	readPool  *pgxpool.Pool
}

// Open establishes both pools. writeDsn may differ from dsn (spec.md's
// `connection_write` setting), e.g. pointing a write-pool at a primary
// while reads fan out to a replica; if writeDsn is empty, dsn is reused for
// both. The write pool is capped small since only the Writer ever uses it;
// the read pool sizes to the configured max connections for concurrent
// subscription queries.
func Open(ctx context.Context, dsn, writeDsn string, readPoolMax, writePoolMax int32) (d *D, err error) {
	if writeDsn == "" {
		writeDsn = dsn
	}
	d = &D{}
	wc, err := pgxpool.ParseConfig(writeDsn)
	if chk.E(err) {
		return nil, relayerr.Wrap(relayerr.StorageFatal, err, "parsing write pool dsn")
	}
	wc.MaxConns = writePoolMax
	if d.writePool, err = pgxpool.NewWithConfig(ctx, wc); chk.E(err) {
		return nil, relayerr.Wrap(relayerr.StorageFatal, err, "opening write pool")
	}
	rc, err := pgxpool.ParseConfig(dsn)
	if chk.E(err) {
		d.writePool.Close()
		return nil, relayerr.Wrap(relayerr.StorageFatal, err, "parsing read pool dsn")
	}
	rc.MaxConns = readPoolMax
	if d.readPool, err = pgxpool.NewWithConfig(ctx, rc); chk.E(err) {
		d.writePool.Close()
		return nil, relayerr.Wrap(relayerr.StorageFatal, err, "opening read pool")
	}
	lol.I.F("networked store connected, read_pool=%d write_pool=%d", readPoolMax, writePoolMax)
	return d, nil
}

// Close releases both pools.
func (d *D) Close() error {
	d.readPool.Close()
	d.writePool.Close()
	return nil
}

// Optimize runs a manual VACUUM ANALYZE on the event and tag tables
// (spec §4.3 step 9); postgres autovacuum otherwise handles this, so this
// is just a more eager nudge after a burst of hide rewrites.
func (d *D) Optimize(ctx context.Context) error {
	_, err := d.writePool.Exec(ctx, `VACUUM ANALYZE "event", tag`)
	if chk.E(err) {
		return relayerr.Wrap(relayerr.StorageTransient, err, "vacuuming")
	}
	return nil
}
