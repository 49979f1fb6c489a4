package market

import (
	"sort"
	"time"
)

// Observation is one priced event for one NFT, normalized across sources.
// Immutable after loading; weights are computed downstream in a parallel
// slice, never stored on the observation.
type Observation struct {
	ID             string
	Price          float64
	Timestamp      time.Time
	HasTimestamp   bool
	SameOwner      bool    // sales only
	Extreme        bool    // sales only
	ReferenceFloor float64 // asks only; 0 means unknown
}

// timestampLayouts are tried in order when parsing temporal anchors.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func parseTimestamp(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// LoadAsks normalizes the offers index into ask observations. Listings
// without a positive price are skipped. When a collection floor is known,
// prices are hard-capped at floor × capMult before anything downstream sees
// them; the cap boundary itself is preserved exactly.
func LoadAsks(idx *OffersIndex, capMult float64) []Observation {
	obs := make([]Observation, 0, len(idx.ListingsByID))
	floor := idx.MarketStats.FloorXCH
	for id, entry := range idx.ListingsByID {
		if entry.BestListing == nil || entry.BestListing.PriceXCH <= 0 {
			continue
		}
		price := entry.BestListing.PriceXCH
		if floor > 0 && price > floor*capMult {
			price = floor * capMult
		}
		ts, hasTS := parseTimestamp(entry.BestListing.UpdatedAt)
		obs = append(obs, Observation{
			ID:             id,
			Price:          price,
			Timestamp:      ts,
			HasTimestamp:   hasTS,
			ReferenceFloor: floor,
		})
	}
	sortObservations(obs)
	return obs
}

// sortObservations imposes a stable order so downstream bounded samples and
// cumulative-weight walks see identical input across runs.
func sortObservations(obs []Observation) {
	sort.Slice(obs, func(i, j int) bool {
		if obs[i].ID != obs[j].ID {
			return obs[i].ID < obs[j].ID
		}
		if !obs[i].Timestamp.Equal(obs[j].Timestamp) {
			return obs[i].Timestamp.Before(obs[j].Timestamp)
		}
		return obs[i].Price < obs[j].Price
	})
}

// LoadSales normalizes the sales index into sale observations. Only events
// that passed upstream price validation are kept; their prices are taken
// as-is since the upstream cleaning is authoritative.
func LoadSales(idx *SalesIndex) []Observation {
	obs := make([]Observation, 0, len(idx.Events))
	for _, ev := range idx.Events {
		if !ev.IsValidPrice || ev.PriceXCH <= 0 || ev.InternalID == "" {
			continue
		}
		ts, hasTS := parseTimestamp(ev.Timestamp)
		obs = append(obs, Observation{
			ID:           ev.InternalID,
			Price:        ev.PriceXCH,
			Timestamp:    ts,
			HasTimestamp: hasTS,
			SameOwner:    ev.Flags["same_owner"],
			Extreme:      ev.Flags["extreme"],
		})
	}
	sortObservations(obs)
	return obs
}
