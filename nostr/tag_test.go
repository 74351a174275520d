package nostr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagNameAndValueHandleShortRows(t *testing.T) {
	assert.Equal(t, "", Tag{}.Name())
	assert.Equal(t, "", Tag{"e"}.Value())
	assert.Equal(t, "e", Tag{"e", "abc"}.Name())
	assert.Equal(t, "abc", Tag{"e", "abc"}.Value())
}

func TestTagIndexableRequiresSingleLetterName(t *testing.T) {
	assert.True(t, Tag{"e", "abc"}.Indexable())
	assert.True(t, Tag{"P", "abc"}.Indexable())
	assert.False(t, Tag{"ee", "abc"}.Indexable())
	assert.False(t, Tag{"e"}.Indexable())
	assert.False(t, Tag{"1", "abc"}.Indexable())
}

func TestTagsValuesByNameCollectsAllMatches(t *testing.T) {
	tags := Tags{{"e", "a"}, {"p", "b"}, {"e", "c"}}
	assert.Equal(t, []string{"a", "c"}, tags.ValuesByName("e"))
	assert.Nil(t, tags.ValuesByName("missing"))
}

func TestTagsFirstReturnsFirstMatchOnly(t *testing.T) {
	tags := Tags{{"e", "a"}, {"e", "b"}}
	assert.Equal(t, Tag{"e", "a"}, tags.First("e"))
	assert.Nil(t, tags.First("missing"))
}

func TestTagsCountByName(t *testing.T) {
	tags := Tags{{"e", "a"}, {"p", "b"}, {"e", "c"}}
	assert.Equal(t, 2, tags.CountByName("e"))
	assert.Equal(t, 0, tags.CountByName("z"))
}
