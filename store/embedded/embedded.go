// Package embedded is the embedded, single-process repository backend
// (spec §4.6), grounded on the teacher's database/database.go: badger WAL
// storage, a leased monotone sequence for per-event serials, and a
// background goroutine that releases resources on context cancellation.
package embedded

import (
	"context"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"

	"relay.dev/internal/apputil"
	"relay.dev/internal/chk"
	"relay.dev/internal/lol"
	"relay.dev/internal/units"
)

// D is the embedded repository, backed by a single badger.DB.
type D struct {
	db      *badger.DB
	seq     *badger.Sequence
	dataDir string
}

// Open creates or opens the embedded store at dataDir. ctx's cancellation
// releases the sequence lease and closes the database.
func Open(ctx context.Context, dataDir string) (d *D, err error) {
	d = &D{dataDir: dataDir}
	if err = os.MkdirAll(dataDir, 0o755); chk.E(err) {
		return nil, err
	}
	if err = apputil.EnsureDir(filepath.Join(dataDir, "dummy.sst")); chk.E(err) {
		return nil, err
	}
	opts := badger.DefaultOptions(dataDir)
	opts.BlockCacheSize = int64(units.Gb)
	opts.BlockSize = units.Mb
	opts.CompactL0OnClose = true
	opts.Logger = nil
	if d.db, err = badger.Open(opts); chk.E(err) {
		return nil, err
	}
	lol.T.F("getting event sequence lease for %s", dataDir)
	if d.seq, err = d.db.GetSequence([]byte("EVENTS"), 1000); chk.E(err) {
		_ = d.db.Close()
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = d.Close()
	}()
	return d, nil
}

// Close releases the sequence lease and closes the underlying database.
func (d *D) Close() (err error) {
	if d.seq != nil {
		if err = d.seq.Release(); chk.E(err) {
			return err
		}
	}
	if d.db != nil {
		if err = d.db.Close(); chk.E(err) {
			return err
		}
	}
	return nil
}

func (d *D) nextSerial() (uint64, error) {
	return d.seq.Next()
}
