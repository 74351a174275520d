package networked

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"relay.dev/internal/chk"
	"relay.dev/internal/relayerr"
	"relay.dev/store"
)

// CreateVerification, UpdateVerificationTimestamp, FailVerification,
// DeleteVerification, GetLatestVerificationByPubkey, and
// GetOldestVerificationsBefore give the networked backend the NIP-05 CRUD
// surface that original_source/src/repo/postgres.rs left as todo!() (spec
// §10.2, §11).
func (d *D) CreateVerification(ctx context.Context, pubkey, name string) error {
	pk, err := hex.DecodeString(pubkey)
	if err != nil {
		return relayerr.New(relayerr.EventMalformed, "bad pubkey hex")
	}
	_, err = d.writePool.Exec(ctx, `INSERT INTO user_verification (pub_key, name, verified_at)
		VALUES ($1, $2, now())
		ON CONFLICT (pub_key) DO UPDATE SET name = EXCLUDED.name, verified_at = now(), failed_at = NULL`,
		pk, name)
	if chk.E(err) {
		return relayerr.Wrap(relayerr.StorageTransient, err, "inserting verification row")
	}
	return nil
}

func (d *D) UpdateVerificationTimestamp(ctx context.Context, pubkey string, at time.Time) error {
	pk, err := hex.DecodeString(pubkey)
	if err != nil {
		return relayerr.New(relayerr.EventMalformed, "bad pubkey hex")
	}
	cmd, err := d.writePool.Exec(ctx, `UPDATE user_verification SET verified_at = $1 WHERE pub_key = $2`, at, pk)
	if chk.E(err) {
		return relayerr.Wrap(relayerr.StorageTransient, err, "updating verification timestamp")
	}
	if cmd.RowsAffected() == 0 {
		return relayerr.New(relayerr.StorageTransient, "no verification record for pubkey")
	}
	return nil
}

func (d *D) FailVerification(ctx context.Context, pubkey string, at time.Time) error {
	pk, err := hex.DecodeString(pubkey)
	if err != nil {
		return relayerr.New(relayerr.EventMalformed, "bad pubkey hex")
	}
	_, err = d.writePool.Exec(ctx, `INSERT INTO user_verification (pub_key, name, failed_at)
		VALUES ($1, '', $2)
		ON CONFLICT (pub_key) DO UPDATE SET failed_at = $2`, pk, at)
	if chk.E(err) {
		return relayerr.Wrap(relayerr.StorageTransient, err, "recording verification failure")
	}
	return nil
}

func (d *D) DeleteVerification(ctx context.Context, pubkey string) error {
	pk, err := hex.DecodeString(pubkey)
	if err != nil {
		return relayerr.New(relayerr.EventMalformed, "bad pubkey hex")
	}
	_, err = d.writePool.Exec(ctx, `DELETE FROM user_verification WHERE pub_key = $1`, pk)
	if chk.E(err) {
		return relayerr.Wrap(relayerr.StorageTransient, err, "deleting verification row")
	}
	return nil
}

func (d *D) GetLatestVerificationByPubkey(ctx context.Context, pubkey string) (*store.VerificationRecord, error) {
	pk, err := hex.DecodeString(pubkey)
	if err != nil {
		return nil, relayerr.New(relayerr.EventMalformed, "bad pubkey hex")
	}
	rec := &store.VerificationRecord{}
	var pkOut []byte
	var failedAt *time.Time
	err = d.readPool.QueryRow(ctx, `SELECT id, pub_key, name, verified_at, failed_at FROM user_verification WHERE pub_key = $1`, pk).
		Scan(&rec.ID, &pkOut, &rec.Name, &rec.VerifiedAt, &failedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if chk.E(err) {
		return nil, relayerr.Wrap(relayerr.StorageTransient, err, "loading verification row")
	}
	rec.Pubkey = hex.EncodeToString(pkOut)
	rec.FailedAt = failedAt
	return rec, nil
}

func (d *D) GetOldestVerificationsBefore(ctx context.Context, cutoff time.Time, limit int) ([]*store.VerificationRecord, error) {
	rows, err := d.readPool.Query(ctx, `SELECT id, pub_key, name, verified_at, failed_at FROM user_verification
		WHERE verified_at < $1 OR verified_at IS NULL
		ORDER BY verified_at ASC NULLS FIRST LIMIT $2`, cutoff, limit)
	if chk.E(err) {
		return nil, relayerr.Wrap(relayerr.StorageTransient, err, "scanning verification rows")
	}
	defer rows.Close()
	var out []*store.VerificationRecord
	for rows.Next() {
		rec := &store.VerificationRecord{}
		var pkOut []byte
		var failedAt *time.Time
		if err := rows.Scan(&rec.ID, &pkOut, &rec.Name, &rec.VerifiedAt, &failedAt); err != nil {
			continue
		}
		rec.Pubkey = hex.EncodeToString(pkOut)
		rec.FailedAt = failedAt
		out = append(out, rec)
	}
	return out, nil
}
