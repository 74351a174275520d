package nostr

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"relay.dev/internal/relayerr"
)

// Signer wraps a secp256k1 key pair for the BIP-340 schnorr scheme nostr
// uses, grounded on the teacher's crypto/p256k/btcec.Signer wrapper but
// built directly on the real btcsuite/btcd packages rather than a vendored
// fork (spec §1 treats signature primitives as an external collaborator).
type Signer struct {
	priv *btcec.PrivateKey
}

// NewSigner generates a fresh key pair, for tests and key generation tools.
func NewSigner() (*Signer, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &Signer{priv: priv}, nil
}

// Pubkey returns the lowercase-hex BIP-340 x-only public key.
func (s *Signer) Pubkey() string {
	return hexEncode(schnorr.SerializePubKey(s.priv.PubKey()))
}

// Sign fills in ID and Sig on e, computing the canonical hash first.
func (s *Signer) Sign(e *Event) error {
	e.Pubkey = s.Pubkey()
	id, err := e.ComputeID()
	if err != nil {
		return err
	}
	e.ID = id
	idBytes, err := hexDecode(id)
	if err != nil {
		return err
	}
	sig, err := schnorr.Sign(s.priv, idBytes)
	if err != nil {
		return relayerr.Wrap(relayerr.SignatureInvalid, err, "signing event")
	}
	e.Sig = hexEncode(sig.Serialize())
	return nil
}
