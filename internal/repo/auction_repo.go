// Package repo implements the data persistence layer for the auction
// ledger, backed by GORM. This file provides repository functions for the
// Auction model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
)

// CreateAuctionIfAbsent inserts an auction row unless one already exists
// for (address, chain_id). It reports created=false when the row was
// already present, which callers treat as an idempotent redelivery rather
// than an error.
func CreateAuctionIfAbsent(ctx context.Context, db *gorm.DB, a *domain.Auction) (created bool, err error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(a)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetAuction fetches a single auction by its lowercase address and chain id.
// Returns ErrNotFound if the record does not exist.
func GetAuction(ctx context.Context, db *gorm.DB, address string, chainID int64) (*domain.Auction, error) {
	var a domain.Auction
	err := db.WithContext(ctx).
		Where("address = ? AND chain_id = ?", address, chainID).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAuctionsPage returns a paginated slice of auctions ordered by
// deployment time descending (most recently deployed first). A chainID of
// zero disables chain filtering.
func ListAuctionsPage(ctx context.Context, db *gorm.DB, chainID int64, offset, limit int) ([]domain.Auction, error) {
	q := db.WithContext(ctx).Model(&domain.Auction{})
	if chainID != 0 {
		q = q.Where("chain_id = ?", chainID)
	}
	var out []domain.Auction
	err := q.Order("deployed_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountAuctions returns the total number of auctions, optionally scoped to
// one chain (chainID of zero counts all chains).
func CountAuctions(ctx context.Context, db *gorm.DB, chainID int64) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.Auction{})
	if chainID != 0 {
		q = q.Where("chain_id = ?", chainID)
	}
	var total int64
	err := q.Count(&total).Error
	return total, err
}
