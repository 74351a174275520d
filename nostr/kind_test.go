package nostr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindClassification(t *testing.T) {
	assert.True(t, Metadata.IsReplaceable())
	assert.True(t, ContactList.IsReplaceable())
	assert.True(t, Kind(10002).IsReplaceable())
	assert.False(t, Kind(20000).IsReplaceable())

	assert.True(t, Kind(20000).IsEphemeral())
	assert.True(t, Kind(29999).IsEphemeral())
	assert.False(t, Kind(30000).IsEphemeral())
	assert.False(t, TextNote.IsEphemeral())

	assert.True(t, Deletion.IsDeletion())
	assert.False(t, TextNote.IsDeletion())

	assert.True(t, TextNote.IsRegular())
	assert.False(t, Metadata.IsRegular())
	assert.False(t, Kind(20000).IsRegular())
	assert.False(t, Deletion.IsRegular())
}
