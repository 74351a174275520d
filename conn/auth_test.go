package conn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay.dev/nostr"
)

const relayURL = "wss://relay.example/"

// newAuthEvent builds and signs a complete AUTH event so Authenticate's
// Validate() call (canonical hash + schnorr signature) passes; every field
// that participates in the canonical hash must be set before signing.
func newAuthEvent(t *testing.T, kind nostr.Kind, nonce, relay string, createdAt int64) *nostr.Event {
	t.Helper()
	signer, err := nostr.NewSigner()
	require.NoError(t, err)
	e := &nostr.Event{
		Kind:      kind,
		CreatedAt: createdAt,
		Tags: nostr.Tags{
			{"challenge", nonce},
			{"relay", relay},
		},
	}
	require.NoError(t, signer.Sign(e))
	return e
}

func validAuthEvent(t *testing.T, nonce string, createdAt int64) *nostr.Event {
	t.Helper()
	return newAuthEvent(t, nostr.ClientAuth, nonce, relayURL, createdAt)
}

func TestNoAuthCannotJumpToAuthPubkey(t *testing.T) {
	var a Authenticator
	now := time.Unix(1_700_000_000, 0)
	e := validAuthEvent(t, "n1", now.Unix())
	err := a.Authenticate(e, relayURL, now)
	require.Error(t, err)
	assert.Equal(t, NoAuth, a.State())
}

func TestAuthSuccessTransitionsState(t *testing.T) {
	var a Authenticator
	nonce := a.GenerateChallenge()
	require.Equal(t, Challenge, a.State())

	now := time.Unix(1_700_000_000, 0)
	e := validAuthEvent(t, nonce, now.Unix())
	require.NoError(t, a.Authenticate(e, relayURL, now))
	assert.Equal(t, AuthPubkey, a.State())
}

func TestRepeatedAuthAfterSuccessIsNoop(t *testing.T) {
	var a Authenticator
	nonce := a.GenerateChallenge()
	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, a.Authenticate(validAuthEvent(t, nonce, now.Unix()), relayURL, now))

	err := a.Authenticate(&nostr.Event{Kind: 1}, relayURL, now)
	assert.NoError(t, err)
	assert.Equal(t, AuthPubkey, a.State())
}

func TestAuthWindowBoundary(t *testing.T) {
	var a Authenticator
	nonce := a.GenerateChallenge()
	now := time.Unix(1_700_000_000, 0)

	okEvent := validAuthEvent(t, nonce, now.Unix()+600)
	require.NoError(t, a.Authenticate(okEvent, relayURL, now))

	var b Authenticator
	nonce2 := b.GenerateChallenge()
	tooFar := validAuthEvent(t, nonce2, now.Unix()+601)
	err := b.Authenticate(tooFar, relayURL, now)
	require.Error(t, err)
}

func TestAuthWrongKindRejected(t *testing.T) {
	var a Authenticator
	nonce := a.GenerateChallenge()
	now := time.Unix(1_700_000_000, 0)
	e := newAuthEvent(t, nostr.Kind(1), nonce, relayURL, now.Unix())
	err := a.Authenticate(e, relayURL, now)
	require.Error(t, err)
}

func TestAuthWrongChallengeRejected(t *testing.T) {
	var a Authenticator
	a.GenerateChallenge()
	now := time.Unix(1_700_000_000, 0)
	e := validAuthEvent(t, "wrong-nonce", now.Unix())
	err := a.Authenticate(e, relayURL, now)
	require.Error(t, err)
}

func TestAuthWrongRelayHostRejected(t *testing.T) {
	var a Authenticator
	nonce := a.GenerateChallenge()
	now := time.Unix(1_700_000_000, 0)
	e := newAuthEvent(t, nostr.ClientAuth, nonce, "wss://evil.example/", now.Unix())
	err := a.Authenticate(e, relayURL, now)
	require.Error(t, err)
}

func TestGenerateChallengeReplacesNonce(t *testing.T) {
	var a Authenticator
	n1 := a.GenerateChallenge()
	n2 := a.GenerateChallenge()
	assert.NotEqual(t, n1, n2)
}

func TestAuthenticateRejectsUnsignedEvent(t *testing.T) {
	var a Authenticator
	nonce := a.GenerateChallenge()
	now := time.Unix(1_700_000_000, 0)
	e := &nostr.Event{
		Pubkey:    "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Kind:      nostr.ClientAuth,
		CreatedAt: now.Unix(),
		Tags: nostr.Tags{
			{"challenge", nonce},
			{"relay", relayURL},
		},
		// ID and Sig left empty: a client could otherwise claim any pubkey.
	}
	err := a.Authenticate(e, relayURL, now)
	require.Error(t, err)
	assert.Equal(t, Challenge, a.State(), "a failed AUTH must not advance the state machine")
}

func TestAuthenticateRejectsTamperedSignature(t *testing.T) {
	var a Authenticator
	nonce := a.GenerateChallenge()
	now := time.Unix(1_700_000_000, 0)
	e := validAuthEvent(t, nonce, now.Unix())
	e.Pubkey = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	err := a.Authenticate(e, relayURL, now)
	require.Error(t, err)
	assert.Equal(t, Challenge, a.State())
}
