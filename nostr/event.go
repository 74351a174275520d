// Package nostr holds the wire data model shared by every subsystem of the
// relay: events, tags, kind classification, filters and subscriptions.
package nostr

import (
	"encoding/hex"
	"encoding/json"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/minio/sha256-simd"
	"github.com/templexxx/xhex"

	"relay.dev/internal/relayerr"
)

// Event is the immutable unit of content (spec §3).
type Event struct {
	ID          string `json:"id"`
	Pubkey      string `json:"pubkey"`
	CreatedAt   int64  `json:"created_at"`
	Kind        Kind   `json:"kind"`
	Tags        Tags   `json:"tags"`
	Content     string `json:"content"`
	Sig         string `json:"sig"`
	DelegatedBy string `json:"-"`
}

// canonical is the [0, pubkey, created_at, kind, tags, content] array that
// gets hashed to produce Event.ID (spec §6).
type canonical struct {
	zero      int
	pubkey    string
	createdAt int64
	kind      Kind
	tags      Tags
	content   string
}

func (c canonical) MarshalJSON() ([]byte, error) {
	tags := c.tags
	if tags == nil {
		tags = Tags{}
	}
	return json.Marshal([]any{c.zero, c.pubkey, c.createdAt, c.kind, tags, c.content})
}

// CanonicalBytes renders the array form used for id hashing.
func (e *Event) CanonicalBytes() ([]byte, error) {
	c := canonical{0, e.Pubkey, e.CreatedAt, e.Kind, e.Tags, e.Content}
	return json.Marshal(c)
}

// ComputeID returns the lowercase-hex sha256 of the canonical serialization.
func (e *Event) ComputeID() (string, error) {
	b, err := e.CanonicalBytes()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hexEncode(sum[:]), nil
}

func hexEncode(b []byte) string {
	out := make([]byte, hex.EncodedLen(len(b)))
	xhex.Encode(out, b)
	return string(out)
}

func hexDecode(s string) ([]byte, error) {
	out := make([]byte, hex.DecodedLen(len(s)))
	if err := xhex.Decode(out, []byte(s)); err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyHash checks that Event.ID equals the hash of the canonical form
// (spec §3 invariant).
func (e *Event) VerifyHash() error {
	id, err := e.ComputeID()
	if err != nil {
		return relayerr.Wrap(relayerr.EventMalformed, err, "computing canonical id")
	}
	if id != e.ID {
		return relayerr.New(relayerr.EventMalformed, "event id does not match canonical hash")
	}
	return nil
}

// VerifySignature checks Sig against Pubkey over ID, using BIP-340 schnorr
// verification (spec §6: "hash+signature check on a canonical
// serialization"; the curve math itself is treated as an external
// cryptographic primitive per spec §1).
func (e *Event) VerifySignature() error {
	idBytes, err := hexDecode(e.ID)
	if err != nil || len(idBytes) != 32 {
		return relayerr.New(relayerr.EventMalformed, "malformed event id")
	}
	pkBytes, err := hexDecode(e.Pubkey)
	if err != nil || len(pkBytes) != 32 {
		return relayerr.New(relayerr.EventMalformed, "malformed pubkey")
	}
	sigBytes, err := hexDecode(e.Sig)
	if err != nil || len(sigBytes) != 64 {
		return relayerr.New(relayerr.EventMalformed, "malformed signature")
	}
	pk, err := schnorr.ParsePubKey(pkBytes)
	if err != nil {
		return relayerr.Wrap(relayerr.SignatureInvalid, err, "parsing pubkey")
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return relayerr.Wrap(relayerr.SignatureInvalid, err, "parsing signature")
	}
	if !sig.Verify(idBytes, pk) {
		return relayerr.New(relayerr.SignatureInvalid, "signature does not verify")
	}
	return nil
}

// Validate runs both invariants required before an event may be admitted.
func (e *Event) Validate() error {
	if err := e.VerifyHash(); err != nil {
		return err
	}
	return e.VerifySignature()
}

// AuthorMatches reports whether pk equals this event's author, counting a
// NIP-26 delegation as a match too (spec §3: authors filters "applies to
// pubkey OR delegated_by").
func (e *Event) AuthorMatches(pk string) bool {
	return e.Pubkey == pk || (e.DelegatedBy != "" && e.DelegatedBy == pk)
}

// SizeBytes approximates the wire size of the event, used for the
// max_event_bytes limit.
func (e *Event) SizeBytes() int {
	b, _ := json.Marshal(e)
	return len(b)
}
