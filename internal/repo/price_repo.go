// Package repo implements the data persistence layer for the auction
// ledger, backed by GORM. This file provides repository functions for the
// append-only price observation table and the nearest-preceding-value
// lookup the price resolver is built on.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
)

// InsertPriceObservation appends one source's price report. Re-submitting
// an identical (chain, token, block, source) observation is ignored and
// reported as inserted=false; the table is append-only and never updated.
func InsertPriceObservation(ctx context.Context, db *gorm.DB, obs *domain.PriceObservation) (inserted bool, err error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(obs)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ResolvePrice returns the best historical observation for a token at or
// before atBlock: greatest block_number first, ties broken by most recent
// observed_at, then by source name ascending so the result is fully
// deterministic regardless of insertion order. Returns ErrNotFound when no
// observation exists at or before atBlock; callers must surface that as
// "price unavailable", never as zero.
func ResolvePrice(ctx context.Context, db *gorm.DB, chainID int64, token string, atBlock uint64) (*domain.PriceObservation, error) {
	var obs domain.PriceObservation
	err := db.WithContext(ctx).
		Where("chain_id = ? AND token_address = ? AND block_number <= ?", chainID, token, atBlock).
		Order("block_number desc, observed_at desc, source asc").
		First(&obs).Error
	if err != nil {
		return nil, err
	}
	return &obs, nil
}

// SourceFreshness describes the most recent observation per price source,
// used by the operational status endpoint to spot stalled adapters.
type SourceFreshness struct {
	Source     string    `json:"source"`
	ObservedAt time.Time `json:"observed_at"`
}

// ListSourceFreshness returns, for every source that has ever reported, the
// timestamp of its latest observation. Sources are resolved one by one
// rather than with MAX(observed_at), which SQLite would hand back as
// untyped text.
func ListSourceFreshness(ctx context.Context, db *gorm.DB) ([]SourceFreshness, error) {
	var sources []string
	err := db.WithContext(ctx).
		Model(&domain.PriceObservation{}).
		Distinct("source").
		Order("source asc").
		Pluck("source", &sources).Error
	if err != nil {
		return nil, err
	}
	out := make([]SourceFreshness, 0, len(sources))
	for _, src := range sources {
		var obs domain.PriceObservation
		err := db.WithContext(ctx).
			Where("source = ?", src).
			Order("observed_at desc").
			First(&obs).Error
		if err != nil {
			return nil, err
		}
		out = append(out, SourceFreshness{Source: src, ObservedAt: obs.ObservedAt})
	}
	return out, nil
}
