package nostr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveDelegationSetsDelegatedByFromWellFormedTag(t *testing.T) {
	delegator := strings.Repeat("ab", 32)
	e := &Event{Tags: Tags{{"delegation", delegator, "kind=1", "deadbeef"}}}
	e.DeriveDelegation()
	assert.Equal(t, delegator, e.DelegatedBy)
}

func TestDeriveDelegationIgnoresMalformedDelegator(t *testing.T) {
	e := &Event{Tags: Tags{{"delegation", "not-hex"}}}
	e.DeriveDelegation()
	assert.Empty(t, e.DelegatedBy)
}

func TestDeriveDelegationNoopWithoutTag(t *testing.T) {
	e := &Event{Tags: Tags{{"e", "abc"}}}
	e.DeriveDelegation()
	assert.Empty(t, e.DelegatedBy)
}
