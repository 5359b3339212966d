// Package repo implements the data persistence layer for the auction
// ledger, backed by GORM. This file provides repository functions for the
// Take model, including the sequence-shift helper used when a backfilled
// take has to be inserted before already-recorded ones.
package repo

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
)

// GetTakeByNaturalKey looks up a take by its globally unique on-chain
// origin (chain_id, tx_hash, log_index). Returns ErrNotFound when no such
// event has been ingested.
func GetTakeByNaturalKey(ctx context.Context, db *gorm.DB, chainID int64, txHash string, logIndex uint) (*domain.Take, error) {
	var t domain.Take
	err := db.WithContext(ctx).
		Where("chain_id = ? AND tx_hash = ? AND log_index = ?", chainID, txHash, logIndex).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertTake inserts a take row. Returns ErrDuplicate when either the
// sequence key or the natural key collides; the storage-level unique
// indexes are the authoritative dedup mechanism even when two writers race.
func InsertTake(ctx context.Context, db *gorm.DB, t *domain.Take) error {
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// ListRoundTakes returns every take of one round ordered by take_seq
// ascending. Under the ledger's sequencing invariant this is identical to
// chronological (block_number, log_index) order.
func ListRoundTakes(ctx context.Context, db *gorm.DB, auction string, chainID, roundID int64) ([]domain.Take, error) {
	var out []domain.Take
	err := db.WithContext(ctx).
		Where("auction_address = ? AND chain_id = ? AND round_id = ?", auction, chainID, roundID).
		Order("take_seq asc").
		Find(&out).Error
	return out, err
}

// ShiftTakeSeqsFrom renumbers every take of a round with take_seq >= fromSeq
// up by one, opening a hole at fromSeq for a chronologically earlier take.
//
// Rows are updated one at a time in descending take_seq order: the sequence
// column is part of a unique primary key, and a single bulk "+1" update
// would transiently collide under SQLite's immediate constraint checking.
// The caller must hold the round's row lock and run inside the same
// transaction as the subsequent insert.
func ShiftTakeSeqsFrom(ctx context.Context, db *gorm.DB, auction string, chainID, roundID, fromSeq int64) error {
	var seqs []int64
	err := db.WithContext(ctx).
		Model(&domain.Take{}).
		Where("auction_address = ? AND chain_id = ? AND round_id = ? AND take_seq >= ?", auction, chainID, roundID, fromSeq).
		Order("take_seq desc").
		Pluck("take_seq", &seqs).Error
	if err != nil {
		return err
	}
	for _, seq := range seqs {
		res := db.WithContext(ctx).
			Model(&domain.Take{}).
			Where("auction_address = ? AND chain_id = ? AND round_id = ? AND take_seq = ?", auction, chainID, roundID, seq).
			Update("take_seq", seq+1)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
	}
	return nil
}

// SumRoundTakeAmounts returns the exact sum of amount_taken over all takes
// of a round. Amounts are summed in Go with decimal arithmetic rather than
// SQL SUM, which would round-trip through floating point on SQLite.
func SumRoundTakeAmounts(ctx context.Context, db *gorm.DB, auction string, chainID, roundID int64) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := db.WithContext(ctx).
		Model(&domain.Take{}).
		Where("auction_address = ? AND chain_id = ? AND round_id = ?", auction, chainID, roundID).
		Pluck("amount_taken", &amounts).Error
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total, nil
}

// ListAuctionTakesSince returns one auction's takes with timestamps at or
// after since, in chronological order. A roundID of zero disables round
// filtering. Feeds the price-history reconstruction.
func ListAuctionTakesSince(ctx context.Context, db *gorm.DB, auction string, chainID, roundID int64, since time.Time) ([]domain.Take, error) {
	q := db.WithContext(ctx).
		Where("auction_address = ? AND chain_id = ?", auction, chainID).
		Where("timestamp >= ?", since)
	if roundID != 0 {
		q = q.Where("round_id = ?", roundID)
	}
	var out []domain.Take
	err := q.Order("timestamp asc, block_number asc, log_index asc").
		Find(&out).Error
	return out, err
}

// ListRecentTakesPage returns takes across all auctions ordered by recency
// (timestamp, then block position, descending). A chainID of zero disables
// chain filtering.
func ListRecentTakesPage(ctx context.Context, db *gorm.DB, chainID int64, offset, limit int) ([]domain.Take, error) {
	q := db.WithContext(ctx).Model(&domain.Take{})
	if chainID != 0 {
		q = q.Where("chain_id = ?", chainID)
	}
	var out []domain.Take
	err := q.Order("timestamp desc, block_number desc, log_index desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListTakerTakesPage returns one taker's takes ordered by recency.
func ListTakerTakesPage(ctx context.Context, db *gorm.DB, taker string, offset, limit int) ([]domain.Take, error) {
	var out []domain.Take
	err := db.WithContext(ctx).
		Where("taker = ?", taker).
		Order("timestamp desc, block_number desc, log_index desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountTakerTakes returns the total number of takes executed by one taker.
func CountTakerTakes(ctx context.Context, db *gorm.DB, taker string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Take{}).
		Where("taker = ?", taker).
		Count(&total).Error
	return total, err
}

// CountTakes returns the total number of takes, optionally scoped to one
// chain (chainID of zero counts all chains).
func CountTakes(ctx context.Context, db *gorm.DB, chainID int64) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.Take{})
	if chainID != 0 {
		q = q.Where("chain_id = ?", chainID)
	}
	var total int64
	err := q.Count(&total).Error
	return total, err
}

// ListAllTakes returns every take in the ledger ordered by chain position.
// Used by the rollup recompute, which aggregates the full history.
func ListAllTakes(ctx context.Context, db *gorm.DB) ([]domain.Take, error) {
	var out []domain.Take
	err := db.WithContext(ctx).
		Order("chain_id asc, block_number asc, log_index asc").
		Find(&out).Error
	return out, err
}

// ListTakerTakesAll returns every take executed by one taker, ordered by
// chain position. Used for on-demand rollup computation.
func ListTakerTakesAll(ctx context.Context, db *gorm.DB, taker string) ([]domain.Take, error) {
	var out []domain.Take
	err := db.WithContext(ctx).
		Where("taker = ?", taker).
		Order("chain_id asc, block_number asc, log_index asc").
		Find(&out).Error
	return out, err
}

// CountDistinctTakers returns the number of distinct taker addresses.
func CountDistinctTakers(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Take{}).
		Distinct("taker").
		Count(&total).Error
	return total, err
}
