// Package store defines the repository contract (spec §4.6) shared by the
// Writer and connection handlers. Two backends implement it: store/embedded
// (badger, single-process) and store/networked (postgres via pgx).
package store

import (
	"context"
	"time"

	"relay.dev/nostr"
)

// VerificationRecord is one row of the user_verification table (NIP-05).
type VerificationRecord struct {
	ID         int64
	Pubkey     string
	Name       string
	VerifiedAt time.Time
	FailedAt   *time.Time
}

// IsValid reports whether the record is fresh enough under the given
// freshness window to admit further publications from its author.
func (v *VerificationRecord) IsValid(freshness time.Duration) bool {
	if v == nil {
		return false
	}
	if v.FailedAt != nil && !v.FailedAt.Before(v.VerifiedAt) {
		return false
	}
	return time.Since(v.VerifiedAt) <= freshness
}

// I is the repository contract (spec §4.6). Every write is serialized
// through the Writer; queries may run concurrently and observe only
// committed state.
type I interface {
	// MigrateUp applies any pending schema migrations and returns how many
	// were applied.
	MigrateUp(ctx context.Context) (applied int, err error)

	// WriteEvent persists e under the replacement/deletion semantics of
	// spec §4.3 steps 4-7, returning the number of rows effectively added
	// (0 or 1) and the backend's own serial for the row. Broadcast ordering
	// does not use this serial; the Writer numbers envelopes itself.
	WriteEvent(ctx context.Context, e *nostr.Event) (added int, serial uint64, err error)

	// QueryEvents streams every stored, non-hidden event matching sub's
	// filters to out, honoring cancellation, then closes out.
	QueryEvents(ctx context.Context, sub *nostr.Subscription, out chan<- *nostr.Event) error

	// Optimize runs a best-effort storage maintenance hook (spec §4.3 step 9).
	Optimize(ctx context.Context) error

	// Close releases backend resources.
	Close() error

	VerificationStore
}

// VerificationStore is the NIP-05 record CRUD surface (spec §4.6).
type VerificationStore interface {
	CreateVerification(ctx context.Context, pubkey, name string) error
	UpdateVerificationTimestamp(ctx context.Context, pubkey string, at time.Time) error
	FailVerification(ctx context.Context, pubkey string, at time.Time) error
	DeleteVerification(ctx context.Context, pubkey string) error
	GetLatestVerificationByPubkey(ctx context.Context, pubkey string) (*VerificationRecord, error)
	GetOldestVerificationsBefore(ctx context.Context, cutoff time.Time, limit int) ([]*VerificationRecord, error)
}

// EventCountOptimizeTrigger is how many successful writes elapse between
// Optimize calls (spec §4.3 step 9).
const EventCountOptimizeTrigger = 500
