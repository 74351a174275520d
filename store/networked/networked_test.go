package networked

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay.dev/nostr"
)

// These exercise the real postgres wire protocol through pgx, so they only
// run against a database named by RELAY_TEST_DATABASE_DSN; CI that has no
// postgres available skips them rather than faking the driver.
func openTestStore(t *testing.T) *D {
	t.Helper()
	dsn := os.Getenv("RELAY_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("RELAY_TEST_DATABASE_DSN not set, skipping networked store test")
	}
	ctx := context.Background()
	d, err := Open(ctx, dsn, "", 4, 2)
	require.NoError(t, err)
	_, err = d.MigrateUp(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func hexOf(seed byte, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed
	}
	return fmt.Sprintf("%x", b)
}

func makeEvent(idSeed, pkSeed byte, kind nostr.Kind, createdAt int64, tags nostr.Tags) *nostr.Event {
	return &nostr.Event{
		ID:        hexOf(idSeed, 32),
		Pubkey:    hexOf(pkSeed, 32),
		CreatedAt: createdAt,
		Kind:      kind,
		Tags:      tags,
		Content:   "hello",
		Sig:       hexOf(0xaa, 64),
	}
}

func TestWriteEventDedupReturnsZeroAdded(t *testing.T) {
	d := openTestStore(t)
	ctx := context.Background()
	e := makeEvent(0x31, 0x32, nostr.TextNote, 1000, nil)

	added, _, err := d.WriteEvent(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	added, _, err = d.WriteEvent(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
}

func TestQueryEventsByAuthor(t *testing.T) {
	d := openTestStore(t)
	ctx := context.Background()

	e1 := makeEvent(0x33, 0x39, nostr.TextNote, 1000, nil)
	e2 := makeEvent(0x34, 0x39, nostr.TextNote, 1001, nil)
	other := makeEvent(0x35, 0x3a, nostr.TextNote, 1002, nil)
	for _, e := range []*nostr.Event{e1, e2, other} {
		_, _, err := d.WriteEvent(ctx, e)
		require.NoError(t, err)
	}

	sub := &nostr.Subscription{ID: "sub1", Filters: []*nostr.ReqFilter{{Authors: []string{hexOf(0x39, 32)}}}}
	out := make(chan *nostr.Event, 8)
	err := d.QueryEvents(ctx, sub, out)
	require.NoError(t, err)

	var got []*nostr.Event
	for e := range out {
		got = append(got, e)
	}
	assert.GreaterOrEqual(t, len(got), 2)
	for _, e := range got {
		assert.Equal(t, hexOf(0x39, 32), e.Pubkey)
	}
}

func TestReplaceableEventOnlyNewestVisible(t *testing.T) {
	d := openTestStore(t)
	ctx := context.Background()

	older := makeEvent(0x41, 0x45, nostr.Metadata, 1000, nil)
	newer := makeEvent(0x42, 0x45, nostr.Metadata, 2000, nil)

	_, _, err := d.WriteEvent(ctx, older)
	require.NoError(t, err)
	_, _, err = d.WriteEvent(ctx, newer)
	require.NoError(t, err)

	sub := &nostr.Subscription{ID: "sub1", Filters: []*nostr.ReqFilter{{Authors: []string{hexOf(0x45, 32)}}}}
	out := make(chan *nostr.Event, 8)
	err = d.QueryEvents(ctx, sub, out)
	require.NoError(t, err)

	var got []*nostr.Event
	for e := range out {
		got = append(got, e)
	}
	require.Len(t, got, 1)
	assert.Equal(t, newer.ID, got[0].ID)
}

func TestDeletionHidesReferencedEvent(t *testing.T) {
	d := openTestStore(t)
	ctx := context.Background()

	target := makeEvent(0x51, 0x57, nostr.TextNote, 1000, nil)
	_, _, err := d.WriteEvent(ctx, target)
	require.NoError(t, err)

	del := makeEvent(0x52, 0x57, nostr.Deletion, 1001, nostr.Tags{{"e", target.ID}})
	_, _, err = d.WriteEvent(ctx, del)
	require.NoError(t, err)

	sub := &nostr.Subscription{ID: "sub1", Filters: []*nostr.ReqFilter{{IDs: []string{target.ID}}}}
	out := make(chan *nostr.Event, 8)
	err = d.QueryEvents(ctx, sub, out)
	require.NoError(t, err)
	var got []*nostr.Event
	for e := range out {
		got = append(got, e)
	}
	assert.Empty(t, got)
}

func TestVerificationLifecycle(t *testing.T) {
	d := openTestStore(t)
	ctx := context.Background()
	pubkey := hexOf(0x61, 32)

	require.NoError(t, d.CreateVerification(ctx, pubkey, "alice@example.com"))
	rec, err := d.GetLatestVerificationByPubkey(ctx, pubkey)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "alice@example.com", rec.Name)

	failedAt := time.Now()
	require.NoError(t, d.FailVerification(ctx, pubkey, failedAt))
	rec, err = d.GetLatestVerificationByPubkey(ctx, pubkey)
	require.NoError(t, err)
	require.NotNil(t, rec.FailedAt)

	require.NoError(t, d.DeleteVerification(ctx, pubkey))
	rec, err = d.GetLatestVerificationByPubkey(ctx, pubkey)
	require.NoError(t, err)
	assert.Nil(t, rec)
}
