package nostr

// DeriveDelegation populates DelegatedBy from a NIP-26 "delegation" tag
// (`["delegation", delegator_pubkey, conditions, sig]`) if one is present.
// Per spec.md §9 this core does not enforce the delegation conditions or
// verify the delegation signature — only that the relay's author filters
// can match against the named delegator. Only the first delegation tag is
// consulted: if its delegator is not 64 lowercase hex characters,
// DelegatedBy stays empty. Condition parsing is left to policy.
func (e *Event) DeriveDelegation() {
	t := e.Tags.First("delegation")
	if len(t) < 2 || !isLowerHex64(t[1]) {
		return
	}
	e.DelegatedBy = t[1]
}

func isLowerHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
