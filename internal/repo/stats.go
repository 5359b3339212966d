// Package repo implements the data persistence layer for the auction
// ledger, backed by GORM. This file provides small aggregate/statistics
// queries used by the operational status endpoint. Each function is
// context-aware and safe to call from services or handlers.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
)

// SystemStats aggregates the headline ledger counts shown on the status
// endpoint.
type SystemStats struct {
	TotalAuctions int64 `json:"total_auctions"`
	TotalRounds   int64 `json:"total_rounds"`
	TotalTakes    int64 `json:"total_takes"`
	TotalTakers   int64 `json:"total_takers"`
	UniqueTokens  int64 `json:"unique_tokens"`
}

// GetSystemStats counts auctions, rounds, takes, distinct takers, and
// distinct tokens, optionally scoped to one chain (chainID of zero covers
// all chains; taker and token counts are always global).
func GetSystemStats(ctx context.Context, db *gorm.DB, chainID int64) (*SystemStats, error) {
	var s SystemStats
	var err error

	if s.TotalAuctions, err = CountAuctions(ctx, db, chainID); err != nil {
		return nil, err
	}

	rq := db.WithContext(ctx).Model(&domain.Round{})
	if chainID != 0 {
		rq = rq.Where("chain_id = ?", chainID)
	}
	if err = rq.Count(&s.TotalRounds).Error; err != nil {
		return nil, err
	}

	if s.TotalTakes, err = CountTakes(ctx, db, chainID); err != nil {
		return nil, err
	}
	if s.TotalTakers, err = CountDistinctTakers(ctx, db); err != nil {
		return nil, err
	}
	if s.UniqueTokens, err = CountDistinctTokens(ctx, db); err != nil {
		return nil, err
	}
	return &s, nil
}
