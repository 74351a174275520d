package embedded

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/dgraph-io/badger/v4"

	"relay.dev/internal/chk"
	"relay.dev/internal/lol"
	"relay.dev/internal/relayerr"
)

// schemaVersion is the current key-layout version. Badger has no DDL, so
// "migration" here just means checking and advancing a marker key under
// the "mt:" prefix; a version bump is a signal to a future reindex tool,
// not something this store rewrites in place.
const schemaVersion = 1

var schemaVersionKey = append([]byte(prefixMeta), []byte("schema-version")...)

// MigrateUp checks the stored schema marker against schemaVersion and
// writes it if absent, reporting 1 applied migration on a fresh store and
// 0 on every later open (spec §4.6).
func (d *D) MigrateUp(ctx context.Context) (applied int, err error) {
	err = d.db.Update(func(txn *badger.Txn) error {
		item, gerr := txn.Get(schemaVersionKey)
		if errors.Is(gerr, badger.ErrKeyNotFound) {
			applied = 1
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, schemaVersion)
			return txn.Set(schemaVersionKey, b)
		}
		if gerr != nil {
			return gerr
		}
		v, gerr := item.ValueCopy(nil)
		if gerr != nil {
			return gerr
		}
		stored := binary.BigEndian.Uint32(v)
		if stored != schemaVersion {
			lol.W.F("embedded store schema version %d does not match expected %d; no automatic reindex is implemented", stored, schemaVersion)
		}
		return nil
	})
	if chk.E(err) {
		return 0, relayerr.Wrap(relayerr.StorageFatal, err, "checking schema version")
	}
	return applied, nil
}

// Optimize runs badger's value-log garbage collection, reclaiming space
// freed by in-place hide rewrites (spec §4.3 step 9). GC is best-effort:
// ErrNoRewrite just means there was nothing worth compacting.
func (d *D) Optimize(ctx context.Context) error {
	err := d.db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return relayerr.Wrap(relayerr.StorageTransient, err, "running value log gc")
	}
	return nil
}
