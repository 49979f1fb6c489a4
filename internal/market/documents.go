// Package market defines the three input documents of the value-model build
// and normalizes their records into uniform observations. Parsing is the only
// place raw JSON shapes are interpreted; everything downstream works on
// validated types.
package market

import (
	"encoding/json"
	"fmt"
)

// MetadataRecord is one NFT in the collection metadata document.
type MetadataRecord struct {
	Name       string      `json:"name"`
	Attributes []Attribute `json:"attributes"`
}

// Attribute is one trait of an NFT.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// OffersIndex is the active-listings document.
type OffersIndex struct {
	ListingsByID map[string]ListingEntry `json:"listings_by_id"`
	MarketStats  MarketStats             `json:"market_stats"`
}

// ListingEntry wraps the best active listing for one NFT.
type ListingEntry struct {
	BestListing *BestListing `json:"best_listing"`
}

// BestListing is the lowest active ask for an NFT.
type BestListing struct {
	PriceXCH  float64 `json:"price_xch"`
	UpdatedAt string  `json:"updated_at"`
}

// MarketStats carries collection-level summary prices from the offers index.
type MarketStats struct {
	FloorXCH  float64 `json:"floor_xch"`
	MedianXCH float64 `json:"median_xch"`
}

// SalesIndex is the cleared-sales document.
type SalesIndex struct {
	Events []SaleEvent `json:"events"`
}

// SaleEvent is one completed transaction. Flags are upstream-assigned boolean
// markers; only same_owner and extreme are meaningful here.
type SaleEvent struct {
	InternalID   string          `json:"internal_id"`
	PriceXCH     float64         `json:"price_xch"`
	IsValidPrice bool            `json:"is_valid_price"`
	Timestamp    string          `json:"timestamp"`
	Flags        map[string]bool `json:"flags"`
}

// ParseMetadata decodes the collection metadata document.
func ParseMetadata(data []byte) ([]MetadataRecord, error) {
	var records []MetadataRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse metadata document: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("metadata document contains no records")
	}
	return records, nil
}

// ParseOffersIndex decodes the offers index. A missing listings_by_id section
// is unrecoverable: there is nothing to fit an ask model against.
func ParseOffersIndex(data []byte) (*OffersIndex, error) {
	var idx OffersIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse offers index: %w", err)
	}
	if idx.ListingsByID == nil {
		return nil, fmt.Errorf("offers index has no listings_by_id section")
	}
	return &idx, nil
}

// ParseSalesIndex decodes the sales index. An empty events list is legal;
// the integrity gate decides whether the surviving sample is sufficient.
func ParseSalesIndex(data []byte) (*SalesIndex, error) {
	var idx SalesIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse sales index: %w", err)
	}
	return &idx, nil
}
