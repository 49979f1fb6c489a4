package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNFTID(t *testing.T) {
	cases := []struct {
		name string
		want string
		ok   bool
	}{
		{"Big Pulp #1234", "1234", true},
		{"Big Pulp #7", "7", true},
		{"Big Pulp #42 ", "42", true},
		{"Big Pulp", "", false},
		{"#abc", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := ParseNFTID(c.name)
		assert.Equal(t, c.ok, ok, c.name)
		assert.Equal(t, c.want, got, c.name)
	}
}

func TestNewTraitKey_Normalization(t *testing.T) {
	assert.Equal(t, TraitKey("head::Bandana"), NewTraitKey("Head", "Bandana"))
	assert.Equal(t, TraitKey("background::Teal"), NewTraitKey(" BACKGROUND ", " Teal "))
	// Unknown categories pass through lower-cased rather than erroring.
	assert.Equal(t, TraitKey("aura::Golden"), NewTraitKey("Aura", "Golden"))
	assert.Equal(t, "head", NewTraitKey("Head", "Bandana").Category())
}

func TestBuildTraitIndex(t *testing.T) {
	records := []MetadataRecord{
		{Name: "Big Pulp #1", Attributes: []Attribute{
			{TraitType: "Head", Value: "Bandana"},
			{TraitType: "Background", Value: "Teal"},
		}},
		{Name: "Big Pulp #2", Attributes: []Attribute{
			{TraitType: "Head", Value: "Bandana"},
		}},
		{Name: "no id here", Attributes: []Attribute{
			{TraitType: "Head", Value: "Crown"},
		}},
	}

	idx, err := BuildTraitIndex(records)
	require.NoError(t, err)

	assert.Equal(t, 2, idx.TotalNFTs())
	assert.Equal(t, 2, idx.Count(NewTraitKey("head", "Bandana")))
	assert.Equal(t, 1, idx.Count(NewTraitKey("background", "Teal")))
	assert.Equal(t, 0, idx.Count(NewTraitKey("head", "Crown")))
	assert.Equal(t, 2, idx.DistinctTraits())

	keys, ok := idx.Traits("1")
	require.True(t, ok)
	assert.Len(t, keys, 2)

	_, ok = idx.Traits("999")
	assert.False(t, ok)
}

func TestBuildTraitIndex_NoValidIDs(t *testing.T) {
	_, err := BuildTraitIndex([]MetadataRecord{{Name: "nameless"}})
	assert.Error(t, err)
}
