package networked

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"relay.dev/internal/chk"
	"relay.dev/internal/lol"
	"relay.dev/internal/relayerr"
	"relay.dev/nostr"
)

// WriteEvent mirrors the embedded backend's spec §4.3 steps 4-7 using SQL
// instead of key-range scans, grounded on
// original_source/src/repo/postgres.rs write_event: the whole event is
// stored as serialized JSON in the content column, tags get their own
// rows for filter lookups, and replacement/deletion are UPDATE statements
// rather than in-process pointer rewrites.
func (d *D) WriteEvent(ctx context.Context, e *nostr.Event) (added int, serial uint64, err error) {
	idBlob, err := hex.DecodeString(e.ID)
	if err != nil {
		return 0, 0, relayerr.New(relayerr.EventMalformed, "bad event id hex")
	}
	pkBlob, err := hex.DecodeString(e.Pubkey)
	if err != nil {
		return 0, 0, relayerr.New(relayerr.EventMalformed, "bad pubkey hex")
	}
	var delegBlob []byte
	if e.DelegatedBy != "" {
		delegBlob, _ = hex.DecodeString(e.DelegatedBy)
	}
	body, err := json.Marshal(e)
	if err != nil {
		return 0, 0, relayerr.Wrap(relayerr.EventMalformed, err, "serializing event")
	}

	tx, err := d.writePool.Begin(ctx)
	if chk.E(err) {
		return 0, 0, relayerr.Wrap(relayerr.StorageTransient, err, "beginning write txn")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	createdAt := time.Unix(e.CreatedAt, 0).UTC()
	var serialID int64
	row := tx.QueryRow(ctx, `INSERT INTO "event" (id, pub_key, created_at, kind, content, delegated_by)
		VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING RETURNING serial`,
		idBlob, pkBlob, createdAt, int64(e.Kind), body, nullableBytes(delegBlob))
	if scanErr := row.Scan(&serialID); scanErr != nil {
		return 0, 0, nil // duplicate id: ON CONFLICT DO NOTHING returns no row
	}

	for _, t := range e.Tags {
		if !t.Indexable() {
			continue
		}
		val := t.Value()
		var valBlob []byte
		if b, herr := hex.DecodeString(val); herr == nil && len(val)%2 == 0 {
			valBlob = b
		} else {
			valBlob = []byte(val)
		}
		if _, err = tx.Exec(ctx, `INSERT INTO tag (event_id, "name", value) VALUES ($1, $2, $3)`,
			idBlob, t.Name(), valBlob); chk.E(err) {
			return 0, 0, relayerr.Wrap(relayerr.StorageTransient, err, "inserting tag row")
		}
	}

	hidden := false
	if e.Kind.IsReplaceable() {
		cmd, herr := tx.Exec(ctx, `UPDATE "event" SET hidden = true
			WHERE id != $1 AND kind = $2 AND pub_key = $3 AND created_at <= $4 AND hidden = false`,
			idBlob, int64(e.Kind), pkBlob, createdAt)
		if chk.E(herr) {
			return 0, 0, relayerr.Wrap(relayerr.StorageTransient, herr, "hiding superseded replaceable events")
		}
		if cmd.RowsAffected() > 0 {
			lol.T.F("hid %d older replaceable kind %d events for author %s", cmd.RowsAffected(), e.Kind, e.Pubkey[:8])
		}
		// A replaceable event older than an existing winner must itself be
		// hidden; detect that by checking whether any newer row survived.
		var newerExists bool
		if err = tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM "event"
			WHERE id != $1 AND kind = $2 AND pub_key = $3 AND created_at > $4 AND hidden = false)`,
			idBlob, int64(e.Kind), pkBlob, createdAt).Scan(&newerExists); chk.E(err) {
			return 0, 0, relayerr.Wrap(relayerr.StorageTransient, err, "checking replaceable winner")
		}
		if newerExists {
			hidden = true
			if _, err = tx.Exec(ctx, `UPDATE "event" SET hidden = true WHERE id = $1`, idBlob); chk.E(err) {
				return 0, 0, relayerr.Wrap(relayerr.StorageTransient, err, "hiding superseded incoming event")
			}
		}
	}

	if e.Kind.IsDeletion() {
		var targets [][]byte
		for _, v := range e.Tags.ValuesByName("e") {
			if b, herr := hex.DecodeString(v); herr == nil && len(b) == 32 {
				targets = append(targets, b)
			}
		}
		if len(targets) > 0 {
			cmd, herr := tx.Exec(ctx, `UPDATE "event" SET hidden = true
				WHERE kind != 5 AND pub_key = $1 AND id = ANY($2)`, pkBlob, targets)
			if chk.E(herr) {
				return 0, 0, relayerr.Wrap(relayerr.StorageTransient, herr, "hiding deleted events")
			}
			lol.T.F("hid %d deleted events for author %s", cmd.RowsAffected(), e.Pubkey[:8])
		}
	} else {
		var alreadyDeleted bool
		err = tx.QueryRow(ctx, `SELECT EXISTS(
			SELECT 1 FROM "event" de JOIN tag t ON t.event_id = de.id
			WHERE de.pub_key = $1 AND de.kind = 5 AND t."name" = 'e' AND t.value = $2)`,
			pkBlob, idBlob).Scan(&alreadyDeleted)
		if chk.E(err) {
			return 0, 0, relayerr.Wrap(relayerr.StorageTransient, err, "checking existing deletion")
		}
		if alreadyDeleted {
			hidden = true
			if _, err = tx.Exec(ctx, `UPDATE "event" SET hidden = true WHERE id = $1`, idBlob); chk.E(err) {
				return 0, 0, relayerr.Wrap(relayerr.StorageTransient, err, "hiding event with prior deletion")
			}
		}
	}

	if err = tx.Commit(ctx); chk.E(err) {
		return 0, 0, relayerr.Wrap(relayerr.StorageTransient, err, "committing write txn")
	}
	if hidden {
		return 0, uint64(serialID), nil
	}
	return 1, uint64(serialID), nil
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
