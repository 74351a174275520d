package embedded

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"relay.dev/internal/chk"
	"relay.dev/internal/relayerr"
	"relay.dev/store"
)

// verificationRow is the msgpack-encoded value behind a "uv:" key (spec
// §4.6, §11): one row per pubkey, keyed by pubkey since a relay only needs
// the author's most recent NIP-05 verification outcome.
type verificationRow struct {
	ID         int64
	Pubkey     string
	Name       string
	VerifiedAt int64
	FailedAt   *int64
}

func (r *verificationRow) toRecord() *store.VerificationRecord {
	rec := &store.VerificationRecord{
		ID: r.ID, Pubkey: r.Pubkey, Name: r.Name,
		VerifiedAt: time.Unix(r.VerifiedAt, 0).UTC(),
	}
	if r.FailedAt != nil {
		t := time.Unix(*r.FailedAt, 0).UTC()
		rec.FailedAt = &t
	}
	return rec
}

// CreateVerification inserts or replaces the NIP-05 record for pubkey,
// stamping VerifiedAt to now and clearing any prior failure.
func (d *D) CreateVerification(ctx context.Context, pubkey, name string) error {
	idBytes, err := decodeHex(pubkey)
	if err != nil {
		return relayerr.New(relayerr.EventMalformed, "bad pubkey hex")
	}
	serial, err := d.nextSerial()
	if chk.E(err) {
		return relayerr.Wrap(relayerr.StorageTransient, err, "allocating verification id")
	}
	row := &verificationRow{ID: int64(serial), Pubkey: pubkey, Name: name, VerifiedAt: time.Now().Unix()}
	return d.putVerification(idBytes, row)
}

// UpdateVerificationTimestamp refreshes VerifiedAt on an existing record
// without touching Name or clearing a recorded failure.
func (d *D) UpdateVerificationTimestamp(ctx context.Context, pubkey string, at time.Time) error {
	idBytes, err := decodeHex(pubkey)
	if err != nil {
		return relayerr.New(relayerr.EventMalformed, "bad pubkey hex")
	}
	row, err := d.getVerificationRow(idBytes)
	if chk.E(err) {
		return relayerr.Wrap(relayerr.StorageTransient, err, "loading verification row")
	}
	if row == nil {
		return relayerr.New(relayerr.StorageTransient, "no verification record for pubkey")
	}
	row.VerifiedAt = at.Unix()
	return d.putVerification(idBytes, row)
}

// FailVerification records a lookup failure at the given time, leaving the
// last successful VerifiedAt in place so staleness can still be judged.
func (d *D) FailVerification(ctx context.Context, pubkey string, at time.Time) error {
	idBytes, err := decodeHex(pubkey)
	if err != nil {
		return relayerr.New(relayerr.EventMalformed, "bad pubkey hex")
	}
	row, err := d.getVerificationRow(idBytes)
	if chk.E(err) {
		return relayerr.Wrap(relayerr.StorageTransient, err, "loading verification row")
	}
	if row == nil {
		serial, serr := d.nextSerial()
		if chk.E(serr) {
			return relayerr.Wrap(relayerr.StorageTransient, serr, "allocating verification id")
		}
		row = &verificationRow{ID: int64(serial), Pubkey: pubkey}
	}
	unix := at.Unix()
	row.FailedAt = &unix
	return d.putVerification(idBytes, row)
}

// DeleteVerification removes the NIP-05 record for pubkey, if any.
func (d *D) DeleteVerification(ctx context.Context, pubkey string) error {
	idBytes, err := decodeHex(pubkey)
	if err != nil {
		return relayerr.New(relayerr.EventMalformed, "bad pubkey hex")
	}
	err = d.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(verifyKey(idBytes))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if chk.E(err) {
		return relayerr.Wrap(relayerr.StorageTransient, err, "deleting verification row")
	}
	return nil
}

// GetLatestVerificationByPubkey returns the record for pubkey, or nil if
// none has ever been created.
func (d *D) GetLatestVerificationByPubkey(ctx context.Context, pubkey string) (*store.VerificationRecord, error) {
	idBytes, err := decodeHex(pubkey)
	if err != nil {
		return nil, relayerr.New(relayerr.EventMalformed, "bad pubkey hex")
	}
	row, err := d.getVerificationRow(idBytes)
	if chk.E(err) {
		return nil, relayerr.Wrap(relayerr.StorageTransient, err, "loading verification row")
	}
	if row == nil {
		return nil, nil
	}
	return row.toRecord(), nil
}

// GetOldestVerificationsBefore lists up to limit records last verified
// before cutoff, oldest first, for the NIP-05 re-verification sweep (spec
// §11). The embedded backend's verification set is small enough that a
// full scan with an in-memory sort is simpler than a secondary time index.
func (d *D) GetOldestVerificationsBefore(ctx context.Context, cutoff time.Time, limit int) ([]*store.VerificationRecord, error) {
	var rows []*verificationRow
	err := d.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixVerify)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			v, verr := it.Item().ValueCopy(nil)
			if verr != nil {
				continue
			}
			var row verificationRow
			if merr := msgpack.Unmarshal(v, &row); merr != nil {
				continue
			}
			if row.VerifiedAt < cutoff.Unix() {
				rows = append(rows, &row)
			}
		}
		return nil
	})
	if chk.E(err) {
		return nil, relayerr.Wrap(relayerr.StorageTransient, err, "scanning verification rows")
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].VerifiedAt < rows[j].VerifiedAt })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]*store.VerificationRecord, len(rows))
	for i, r := range rows {
		out[i] = r.toRecord()
	}
	return out, nil
}

func (d *D) putVerification(pubkeyBytes []byte, row *verificationRow) error {
	blob, err := msgpack.Marshal(row)
	if err != nil {
		return relayerr.Wrap(relayerr.StorageTransient, err, "encoding verification row")
	}
	err = d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(verifyKey(pubkeyBytes), blob)
	})
	if chk.E(err) {
		return relayerr.Wrap(relayerr.StorageTransient, err, "writing verification row")
	}
	return nil
}

func (d *D) getVerificationRow(pubkeyBytes []byte) (*verificationRow, error) {
	var row *verificationRow
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(verifyKey(pubkeyBytes))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		var r verificationRow
		if err := msgpack.Unmarshal(v, &r); err != nil {
			return err
		}
		row = &r
		return nil
	})
	return row, err
}
