package nostr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReqFilterRoundTripsTagConstraints(t *testing.T) {
	raw := []byte(`{"kinds":[1,7],"#e":["aa","bb"],"#p":["cc"],"limit":10}`)
	var f ReqFilter
	require.NoError(t, json.Unmarshal(raw, &f))

	assert.Equal(t, []Kind{1, 7}, f.Kinds)
	assert.Equal(t, []string{"aa", "bb"}, f.Tags["e"])
	assert.Equal(t, []string{"cc"}, f.Tags["p"])
	require.NotNil(t, f.Limit)
	assert.Equal(t, 10, *f.Limit)

	encoded, err := json.Marshal(&f)
	require.NoError(t, err)

	var roundTripped ReqFilter
	require.NoError(t, json.Unmarshal(encoded, &roundTripped))
	assert.Equal(t, f.Tags, roundTripped.Tags)
	assert.Equal(t, f.Kinds, roundTripped.Kinds)
}

func TestReqFilterIgnoresMalformedTagKeys(t *testing.T) {
	raw := []byte(`{"#":["x"],"#ee":["y"],"#e":["z"]}`)
	var f ReqFilter
	require.NoError(t, json.Unmarshal(raw, &f))
	assert.Equal(t, map[string][]string{"e": {"z"}}, f.Tags)
}

func TestReqFilterMarshalOmitsUnsetFields(t *testing.T) {
	f := &ReqFilter{Kinds: []Kind{1}}
	encoded, err := json.Marshal(f)
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(encoded, &raw))
	_, hasIDs := raw["ids"]
	assert.False(t, hasIDs)
	_, hasKinds := raw["kinds"]
	assert.True(t, hasKinds)
}
