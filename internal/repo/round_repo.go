// Package repo implements the data persistence layer for the auction
// ledger, backed by GORM. This file provides repository functions for the
// Round model.
//
// Rounds carry the only mutable aggregate state in the ledger
// (total_volume_sold / available_amount). Those columns are written
// exclusively through UpdateRoundAggregates, which the ingest service calls
// inside the same transaction as the take insert that changed them.
package repo

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
)

// CreateRound inserts a new round row. Returns ErrDuplicate when a round
// with the same (auction, chain, round_id) key already exists; the caller
// decides whether that is a redelivery or an inconsistency by comparing
// natural keys.
func CreateRound(ctx context.Context, db *gorm.DB, r *domain.Round) error {
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetRound fetches a round by its composite key. Returns ErrNotFound if the
// record does not exist.
func GetRound(ctx context.Context, db *gorm.DB, auction string, chainID, roundID int64) (*domain.Round, error) {
	var r domain.Round
	err := db.WithContext(ctx).
		Where("auction_address = ? AND chain_id = ? AND round_id = ?", auction, chainID, roundID).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRoundForUpdate fetches a round with a row-level write lock. Take
// ingestion locks the round before touching take sequence numbers so that
// two concurrent takes for the same round serialize; takes for different
// rounds proceed in parallel.
func GetRoundForUpdate(ctx context.Context, db *gorm.DB, auction string, chainID, roundID int64) (*domain.Round, error) {
	var r domain.Round
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("auction_address = ? AND chain_id = ? AND round_id = ?", auction, chainID, roundID).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRoundsPage returns rounds for one auction ordered by round id
// descending (most recent round first).
func ListRoundsPage(ctx context.Context, db *gorm.DB, auction string, chainID int64, offset, limit int) ([]domain.Round, error) {
	var out []domain.Round
	err := db.WithContext(ctx).
		Where("auction_address = ? AND chain_id = ?", auction, chainID).
		Order("round_id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountRounds returns the number of rounds recorded for one auction.
func CountRounds(ctx context.Context, db *gorm.DB, auction string, chainID int64) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Round{}).
		Where("auction_address = ? AND chain_id = ?", auction, chainID).
		Count(&total).Error
	return total, err
}

// UpdateRoundAggregates persists the aggregate columns owned by the round
// aggregator. If no rows are affected the round is missing, which is a
// caller bug (the round is loaded and locked earlier in the same
// transaction), so ErrNotFound is returned.
func UpdateRoundAggregates(ctx context.Context, db *gorm.DB, auction string, chainID, roundID int64, totalSold, available decimal.Decimal) error {
	res := db.WithContext(ctx).
		Model(&domain.Round{}).
		Where("auction_address = ? AND chain_id = ? AND round_id = ?", auction, chainID, roundID).
		Updates(map[string]any{
			"total_volume_sold": totalSold,
			"available_amount":  available,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
