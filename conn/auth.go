// Package conn holds per-connection state never shared across connections
// (spec §3/§4.1): the NIP-42 authentication state machine, the bounded
// subscription map, and the per-connection publisher rate limiter.
package conn

import (
	"encoding/base64"
	"net/url"
	"strings"
	"time"

	"lukechampine.com/frand"

	"relay.dev/internal/relayerr"
	"relay.dev/nostr"
)

// AuthState identifies where a connection sits in the NIP-42 state machine
// (spec §4.2): NoAuth -> Challenge(nonce) -> AuthPubkey(pubkey).
type AuthState int

const (
	NoAuth AuthState = iota
	Challenge
	AuthPubkey
)

func (s AuthState) String() string {
	switch s {
	case NoAuth:
		return "no-auth"
	case Challenge:
		return "challenge"
	case AuthPubkey:
		return "auth-pubkey"
	default:
		return "unknown"
	}
}

// authWindow bounds how far an AUTH event's created_at may drift from now.
const authWindow = 600 * time.Second

// Authenticator tracks one connection's authentication state. It is not
// safe for concurrent use; the connection handler owns it single-threaded.
type Authenticator struct {
	state  AuthState
	nonce  string
	pubkey string
}

// GenerateChallenge assigns a fresh random nonce and advances NoAuth or
// Challenge to Challenge (spec §4.2: "re-issuing a challenge replaces the
// nonce"). It is a no-op once AuthPubkey has been reached.
func (a *Authenticator) GenerateChallenge() string {
	if a.state == AuthPubkey {
		return a.nonce
	}
	a.nonce = newNonce()
	a.state = Challenge
	return a.nonce
}

func newNonce() string {
	return base64.URLEncoding.EncodeToString(frand.Bytes(18))
}

// State reports the current state.
func (a *Authenticator) State() AuthState { return a.state }

// Pubkey returns the authenticated pubkey, or "" if not yet authenticated.
func (a *Authenticator) Pubkey() string { return a.pubkey }

// Authenticate validates an AUTH event against the stored nonce and the
// relay's advertised URL (spec §4.2). Repeated AUTH once authenticated is a
// no-op success, matching a replayed client AUTH after reconnect races.
func (a *Authenticator) Authenticate(e *nostr.Event, relayURL string, now time.Time) error {
	if a.state == AuthPubkey {
		return nil
	}
	if a.state != Challenge {
		return relayerr.New(relayerr.AuthFailure, "no challenge has been issued")
	}
	if err := e.Validate(); err != nil {
		return relayerr.Wrap(relayerr.AuthFailure, err, "AUTH event failed hash/signature check")
	}
	if e.Kind != nostr.ClientAuth {
		return relayerr.New(relayerr.AuthFailure, "wrong event kind for AUTH: %d", e.Kind)
	}
	if diff := e.CreatedAt - now.Unix(); diff > int64(authWindow.Seconds()) || diff < -int64(authWindow.Seconds()) {
		return relayerr.New(relayerr.AuthFailure, "created_at outside the auth window")
	}
	if e.Tags.CountByName("challenge") != 1 {
		return relayerr.New(relayerr.AuthFailure, "must have exactly one challenge tag")
	}
	if e.Tags.First("challenge").Value() != a.nonce {
		return relayerr.New(relayerr.AuthFailure, "challenge does not match")
	}
	if e.Tags.CountByName("relay") != 1 {
		return relayerr.New(relayerr.AuthFailure, "must have exactly one relay tag")
	}
	if err := hostsMatch(e.Tags.First("relay").Value(), relayURL); err != nil {
		return err
	}
	a.state = AuthPubkey
	a.pubkey = e.Pubkey
	return nil
}

func hostsMatch(claimed, advertised string) error {
	claimedURL, err := url.Parse(strings.ToLower(claimed))
	if err != nil {
		return relayerr.Wrap(relayerr.AuthFailure, err, "parsing relay tag")
	}
	advertisedURL, err := url.Parse(strings.ToLower(advertised))
	if err != nil {
		return relayerr.Wrap(relayerr.AuthFailure, err, "parsing advertised relay URL")
	}
	if claimedURL.Host != advertisedURL.Host {
		return relayerr.New(relayerr.AuthFailure, "relay tag host %q does not match %q", claimedURL.Host, advertisedURL.Host)
	}
	return nil
}
