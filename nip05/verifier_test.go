package nip05

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay.dev/nostr"
	"relay.dev/store"
)

type fakeStore struct {
	mu      sync.Mutex
	created map[string]string
	failed  map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{created: map[string]string{}, failed: map[string]time.Time{}}
}

func (f *fakeStore) CreateVerification(_ context.Context, pubkey, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[pubkey] = name
	return nil
}
func (f *fakeStore) UpdateVerificationTimestamp(context.Context, string, time.Time) error { return nil }
func (f *fakeStore) FailVerification(_ context.Context, pubkey string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[pubkey] = at
	return nil
}
func (f *fakeStore) DeleteVerification(context.Context, string) error { return nil }
func (f *fakeStore) GetLatestVerificationByPubkey(context.Context, string) (*store.VerificationRecord, error) {
	return nil, nil
}
func (f *fakeStore) GetOldestVerificationsBefore(context.Context, time.Time, int) ([]*store.VerificationRecord, error) {
	return nil, nil
}

var _ store.VerificationStore = (*fakeStore)(nil)

const testPubkey = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

func metadataEvent(content string) *nostr.Event {
	return &nostr.Event{Pubkey: testPubkey, Kind: nostr.Metadata, Content: content}
}

func TestWorkerVerifiesMatchingIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"names":{"alice":%q}}`, testPubkey)
	}))
	defer srv.Close()

	fs := newFakeStore()
	in := make(chan *nostr.Event, 1)
	w := New(fs, in)
	w.resolveOverrideHost = srv.Listener.Addr().String()

	in <- metadataEvent(`{"nip05":"alice@example.com"}`)
	close(in)
	w.Run(context.Background())

	assert.Equal(t, "alice@example.com", fs.created[testPubkey])
}

func TestWorkerFailsOnMismatchedPubkey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"names":{"alice":"%s"}}`, "c"+testPubkey[1:])
	}))
	defer srv.Close()

	fs := newFakeStore()
	in := make(chan *nostr.Event, 1)
	w := New(fs, in)
	w.resolveOverrideHost = srv.Listener.Addr().String()

	in <- metadataEvent(`{"nip05":"alice@example.com"}`)
	close(in)
	w.Run(context.Background())

	_, ok := fs.failed[testPubkey]
	assert.True(t, ok)
	assert.Empty(t, fs.created)
}

func TestWorkerIgnoresEventsWithoutNIP05(t *testing.T) {
	fs := newFakeStore()
	in := make(chan *nostr.Event, 1)
	w := New(fs, in)

	in <- metadataEvent(`{}`)
	close(in)
	w.Run(context.Background())

	assert.Empty(t, fs.created)
	assert.Empty(t, fs.failed)
}

func TestSplitIdentifierDefaultsRootName(t *testing.T) {
	name, domain, err := splitIdentifier("@example.com")
	require.NoError(t, err)
	assert.Equal(t, "_", name)
	assert.Equal(t, "example.com", domain)
}

func TestSplitIdentifierRejectsMalformed(t *testing.T) {
	_, _, err := splitIdentifier("not-an-identifier")
	require.Error(t, err)
}
