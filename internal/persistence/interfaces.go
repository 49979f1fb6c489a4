// Package persistence defines the optional build-ledger storage contract.
// The ledger records what each build produced; it is bookkeeping only and
// never participates in the deterministic model computation.
package persistence

import (
	"context"
	"time"
)

// BuildRecord is one completed build as stored in the ledger.
type BuildRecord struct {
	BuildID          string    `db:"build_id"`
	GeneratedAt      time.Time `db:"generated_at"`
	SchemaVersion    int       `db:"schema_version"`
	MetadataHash     string    `db:"metadata_hash"`
	OffersHash       string    `db:"offers_hash"`
	SalesHash        string    `db:"sales_hash"`
	ArtifactHash     string    `db:"artifact_hash"`
	AskCount         int       `db:"ask_count"`
	SaleCount        int       `db:"sale_count"`
	SalesMappingRate float64   `db:"sales_mapping_rate"`
	IsHealthy        bool      `db:"is_healthy"`
}

// BuildRepo stores completed build records.
type BuildRepo interface {
	// Record inserts a build; duplicate artifact hashes are legal since
	// replayed builds legitimately reproduce the same artifact.
	Record(ctx context.Context, rec BuildRecord) error
}
