package market

import (
	"fmt"
	"regexp"
	"strings"
)

// Categories is the closed category set of the collection. Categories outside
// this set pass through lower-cased rather than being rejected.
var Categories = []string{"base", "head", "facewear", "face", "mouth", "clothes", "background"}

var nftIDPattern = regexp.MustCompile(`#(\d+)\s*$`)

// TraitKey is the composite "category::value" identifier of one trait.
type TraitKey string

// Category returns the category half of the key.
func (k TraitKey) Category() string {
	if i := strings.Index(string(k), "::"); i >= 0 {
		return string(k)[:i]
	}
	return string(k)
}

// NewTraitKey builds a composite key with a normalized category.
func NewTraitKey(category, value string) TraitKey {
	return TraitKey(NormalizeCategory(category) + "::" + strings.TrimSpace(value))
}

// NormalizeCategory lower-cases and trims a raw trait_type.
func NormalizeCategory(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ParseNFTID extracts the numeric collection ID from an NFT name suffix such
// as "Big Pulp #1234". The second return is false when no suffix is present.
func ParseNFTID(name string) (string, bool) {
	m := nftIDPattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// TraitIndex joins NFT ids to their trait keys and carries collection-wide
// trait frequencies. Built once from metadata and read-only afterwards.
type TraitIndex struct {
	traitsByID map[string][]TraitKey
	traitCount map[TraitKey]int
	totalNFTs  int
}

// BuildTraitIndex constructs the trait lookup from metadata records. Records
// whose name lacks a parseable "#<digits>" suffix are dropped silently, per
// the recoverable-skip error policy.
func BuildTraitIndex(records []MetadataRecord) (*TraitIndex, error) {
	idx := &TraitIndex{
		traitsByID: make(map[string][]TraitKey, len(records)),
		traitCount: make(map[TraitKey]int),
	}
	for _, rec := range records {
		id, ok := ParseNFTID(rec.Name)
		if !ok {
			continue
		}
		keys := make([]TraitKey, 0, len(rec.Attributes))
		for _, attr := range rec.Attributes {
			if attr.TraitType == "" || attr.Value == "" {
				continue
			}
			key := NewTraitKey(attr.TraitType, attr.Value)
			keys = append(keys, key)
			idx.traitCount[key]++
		}
		idx.traitsByID[id] = keys
		idx.totalNFTs++
	}
	if idx.totalNFTs == 0 {
		return nil, fmt.Errorf("no metadata records carried a parseable NFT id")
	}
	return idx, nil
}

// Traits returns the trait keys of one NFT; ok is false for unknown ids.
func (ti *TraitIndex) Traits(id string) ([]TraitKey, bool) {
	keys, ok := ti.traitsByID[id]
	return keys, ok
}

// IDs returns every known NFT id. Order is unspecified.
func (ti *TraitIndex) IDs() []string {
	ids := make([]string, 0, len(ti.traitsByID))
	for id := range ti.traitsByID {
		ids = append(ids, id)
	}
	return ids
}

// Count returns how many NFTs in the collection carry the trait.
func (ti *TraitIndex) Count(key TraitKey) int {
	return ti.traitCount[key]
}

// Frequencies returns the full trait occurrence table.
func (ti *TraitIndex) Frequencies() map[TraitKey]int {
	return ti.traitCount
}

// TotalNFTs returns the number of NFTs with valid metadata.
func (ti *TraitIndex) TotalNFTs() int {
	return ti.totalNFTs
}

// DistinctTraits returns the number of distinct trait keys in the collection.
func (ti *TraitIndex) DistinctTraits() int {
	return len(ti.traitCount)
}
