package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
)

// ReplaceTakerSummaries overwrites the rollup cache with a freshly computed
// set inside one transaction. Stale rows for takers absent from the new set
// are removed so the cache never serves a taker the ledger no longer knows.
func ReplaceTakerSummaries(ctx context.Context, db *gorm.DB, summaries []domain.TakerSummary) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&domain.TakerSummary{}).Error; err != nil {
			return err
		}
		if len(summaries) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "taker"}},
			UpdateAll: true,
		}).Create(&summaries).Error
	})
}

// GetTakerSummary returns the cached rollup for one taker, or ErrNotFound
// when the cache holds no row for it.
func GetTakerSummary(ctx context.Context, db *gorm.DB, taker string) (*domain.TakerSummary, error) {
	var s domain.TakerSummary
	err := db.WithContext(ctx).
		Where("taker = ?", taker).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListTakerSummariesPage returns one page of cached rollups ordered by the
// requested rank column. orderBy must be one of the fixed rank columns;
// anything else falls back to rank_by_volume.
func ListTakerSummariesPage(ctx context.Context, db *gorm.DB, orderBy string, limit, offset int) ([]domain.TakerSummary, error) {
	switch orderBy {
	case "rank_by_takes", "rank_by_volume", "rank_by_profit":
	default:
		orderBy = "rank_by_volume"
	}
	var out []domain.TakerSummary
	err := db.WithContext(ctx).
		Order(orderBy + " asc, taker asc").
		Limit(limit).
		Offset(offset).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountTakerSummaries returns the number of cached rollup rows.
func CountTakerSummaries(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.TakerSummary{}).
		Count(&n).Error
	return n, err
}

// LatestSummaryComputedAt reports when the cache was last refreshed, or a
// zero time when the cache is empty.
func LatestSummaryComputedAt(ctx context.Context, db *gorm.DB) (time.Time, error) {
	var n int64
	if err := db.WithContext(ctx).Model(&domain.TakerSummary{}).Count(&n).Error; err != nil {
		return time.Time{}, err
	}
	if n == 0 {
		return time.Time{}, nil
	}
	var ts time.Time
	err := db.WithContext(ctx).
		Model(&domain.TakerSummary{}).
		Select("computed_at").
		Order("computed_at desc").
		Limit(1).
		Scan(&ts).Error
	return ts, err
}
