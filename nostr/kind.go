package nostr

// Kind is the nostr event kind number. Its numeric range determines
// retention semantics (spec §3).
type Kind uint16

const (
	Metadata    Kind = 0
	TextNote    Kind = 1
	ContactList Kind = 3
	Deletion    Kind = 5
	ClientAuth  Kind = 22242
)

// IsReplaceable reports whether only the newest event for a (pubkey, kind)
// pair is visible.
func (k Kind) IsReplaceable() bool {
	return k == Metadata || k == ContactList || (k >= 10000 && k < 20000)
}

// IsEphemeral reports whether events of this kind are fanned out but never
// persisted.
func (k Kind) IsEphemeral() bool {
	return k >= 20000 && k < 30000
}

// IsDeletion reports whether this is a kind-5 deletion event.
func (k Kind) IsDeletion() bool { return k == Deletion }

// IsRegular reports whether this kind is retained with no special
// replace/delete/ephemeral handling.
func (k Kind) IsRegular() bool {
	return !k.IsReplaceable() && !k.IsEphemeral() && !k.IsDeletion()
}
