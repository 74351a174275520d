package embedded

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay.dev/nostr"
)

func openTestStore(t *testing.T) *D {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	d, err := Open(ctx, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		_ = d.Close()
	})
	return d
}

// hexOf repeats seed across n bytes and renders it as lowercase hex, giving
// a distinct, valid-length id/pubkey per seed without any real signing.
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

func TestMigrateUpAppliesOnceThenReportsZero(t *testing.T) {
	d := openTestStore(t)
	ctx := context.Background()
	applied, err := d.MigrateUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	applied, err = d.MigrateUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)
}

func TestWriteEventDedupReturnsZeroAdded(t *testing.T) {
	d := openTestStore(t)
	ctx := context.Background()
	e := makeEvent(1, 2, nostr.TextNote, 1000, nil)

	added, _, err := d.WriteEvent(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	added, _, err = d.WriteEvent(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, 0, added, "resubmitting the same id must not add a second row")
}

func TestQueryEventsByAuthor(t *testing.T) {
	d := openTestStore(t)
	ctx := context.Background()

	e1 := makeEvent(1, 9, nostr.TextNote, 1000, nil)
	e2 := makeEvent(2, 9, nostr.TextNote, 1001, nil)
	other := makeEvent(3, 10, nostr.TextNote, 1002, nil)
	for _, e := range []*nostr.Event{e1, e2, other} {
		_, _, err := d.WriteEvent(ctx, e)
		require.NoError(t, err)
	}

	sub := &nostr.Subscription{ID: "sub1", Filters: []*nostr.ReqFilter{{Authors: []string{hexOf(9, 32)}}}}
	out := make(chan *nostr.Event, 8)
	err := d.QueryEvents(ctx, sub, out)
	require.NoError(t, err)

	var got []*nostr.Event
	for e := range out {
		got = append(got, e)
	}
	require.Len(t, got, 2)
	for _, e := range got {
		assert.Equal(t, hexOf(9, 32), e.Pubkey)
	}
}

func TestQueryEventsByTag(t *testing.T) {
	d := openTestStore(t)
	ctx := context.Background()

	tagged := makeEvent(1, 1, nostr.TextNote, 1000, nostr.Tags{{"e", hexOf(0xee, 32)}})
	untagged := makeEvent(2, 1, nostr.TextNote, 1001, nil)
	for _, e := range []*nostr.Event{tagged, untagged} {
		_, _, err := d.WriteEvent(ctx, e)
		require.NoError(t, err)
	}

	sub := &nostr.Subscription{ID: "sub1", Filters: []*nostr.ReqFilter{{Tags: map[string][]string{"e": {hexOf(0xee, 32)}}}}}
	out := make(chan *nostr.Event, 8)
	err := d.QueryEvents(ctx, sub, out)
	require.NoError(t, err)

	var got []*nostr.Event
	for e := range out {
		got = append(got, e)
	}
	require.Len(t, got, 1)
	assert.Equal(t, tagged.ID, got[0].ID)
}

func TestReplaceableEventOnlyNewestVisible(t *testing.T) {
	d := openTestStore(t)
	ctx := context.Background()

	older := makeEvent(1, 5, nostr.Metadata, 1000, nil)
	newer := makeEvent(2, 5, nostr.Metadata, 2000, nil)

	_, _, err := d.WriteEvent(ctx, older)
	require.NoError(t, err)
	_, _, err = d.WriteEvent(ctx, newer)
	require.NoError(t, err)

	sub := &nostr.Subscription{ID: "sub1", Filters: []*nostr.ReqFilter{{Kinds: []nostr.Kind{nostr.Metadata}}}}
	out := make(chan *nostr.Event, 8)
	err = d.QueryEvents(ctx, sub, out)
	require.NoError(t, err)

	var got []*nostr.Event
	for e := range out {
		got = append(got, e)
	}
	require.Len(t, got, 1, "only the newest replaceable event should be visible")
	assert.Equal(t, newer.ID, got[0].ID)
}

func TestReplaceableEventOutOfOrderArrivalKeepsNewest(t *testing.T) {
	d := openTestStore(t)
	ctx := context.Background()

	newer := makeEvent(1, 6, nostr.Metadata, 2000, nil)
	older := makeEvent(2, 6, nostr.Metadata, 1000, nil)

	_, _, err := d.WriteEvent(ctx, newer)
	require.NoError(t, err)
	// older arrives second, after the winner is already set.
	added, _, err := d.WriteEvent(ctx, older)
	require.NoError(t, err)
	assert.Equal(t, 0, added, "an out-of-order older replaceable event is hidden on arrival")

	sub := &nostr.Subscription{ID: "sub1", Filters: []*nostr.ReqFilter{{Kinds: []nostr.Kind{nostr.Metadata}}}}
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

	target := makeEvent(1, 7, nostr.TextNote, 1000, nil)
	_, _, err := d.WriteEvent(ctx, target)
	require.NoError(t, err)

	del := makeEvent(2, 7, nostr.Deletion, 1001, nostr.Tags{{"e", target.ID}})
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
	assert.Empty(t, got, "a deleted event must not be returned by queries")
}

func TestDeletionByNonAuthorDoesNotHide(t *testing.T) {
	d := openTestStore(t)
	ctx := context.Background()

	target := makeEvent(1, 7, nostr.TextNote, 1000, nil)
	_, _, err := d.WriteEvent(ctx, target)
	require.NoError(t, err)

	// deletion claims the same referenced id but comes from a different author.
	del := makeEvent(2, 8, nostr.Deletion, 1001, nostr.Tags{{"e", target.ID}})
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
	require.Len(t, got, 1, "a deletion from a different author must not hide the target")
}

func TestVerificationLifecycle(t *testing.T) {
	d := openTestStore(t)
	ctx := context.Background()
	pubkey := hexOf(0x11, 32)

	rec, err := d.GetLatestVerificationByPubkey(ctx, pubkey)
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, d.CreateVerification(ctx, pubkey, "alice@example.com"))
	rec, err = d.GetLatestVerificationByPubkey(ctx, pubkey)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "alice@example.com", rec.Name)
	assert.Nil(t, rec.FailedAt)

	failedAt := time.Now()
	require.NoError(t, d.FailVerification(ctx, pubkey, failedAt))
	rec, err = d.GetLatestVerificationByPubkey(ctx, pubkey)
	require.NoError(t, err)
	require.NotNil(t, rec.FailedAt)
	assert.False(t, rec.IsValid(time.Hour), "a record with a failure after its last success must be invalid")

	require.NoError(t, d.DeleteVerification(ctx, pubkey))
	rec, err = d.GetLatestVerificationByPubkey(ctx, pubkey)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGetOldestVerificationsBeforeOrdersByAge(t *testing.T) {
	d := openTestStore(t)
	ctx := context.Background()

	old := hexOf(0x21, 32)
	mid := hexOf(0x22, 32)
	recent := hexOf(0x23, 32)
	require.NoError(t, d.CreateVerification(ctx, recent, "c"))
	require.NoError(t, d.CreateVerification(ctx, old, "a"))
	require.NoError(t, d.CreateVerification(ctx, mid, "b"))
	// CreateVerification always stamps "now"; force distinct ages directly,
	// pushing recent into the future so it can never be mistaken for stale.
	require.NoError(t, d.UpdateVerificationTimestamp(ctx, old, time.Now().Add(-2*time.Hour)))
	require.NoError(t, d.UpdateVerificationTimestamp(ctx, mid, time.Now().Add(-time.Hour)))
	require.NoError(t, d.UpdateVerificationTimestamp(ctx, recent, time.Now().Add(time.Hour)))

	stale, err := d.GetOldestVerificationsBefore(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, old, stale[0].Pubkey)
	assert.Equal(t, mid, stale[1].Pubkey)
}
