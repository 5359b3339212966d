// Package repo implements the data persistence layer for the auction
// ledger, backed by GORM. This file provides repository functions for
// per-(chain, source) scan-progress state persisted on behalf of the chain
// scanner.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
)

// GetIndexerState fetches scan progress for one (chain, source). Returns
// ErrNotFound when the scanner has never checkpointed this pair.
func GetIndexerState(ctx context.Context, db *gorm.DB, chainID int64, sourceID string) (*domain.IndexerState, error) {
	var s domain.IndexerState
	err := db.WithContext(ctx).
		Where("chain_id = ? AND source_id = ?", chainID, sourceID).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertIndexerState creates or replaces the checkpoint for one
// (chain, source) pair.
func UpsertIndexerState(ctx context.Context, db *gorm.DB, s *domain.IndexerState) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chain_id"}, {Name: "source_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"start_block", "last_indexed_block", "updated_at"}),
		}).
		Create(s).Error
}

// ListIndexerStates returns every checkpoint, ordered by chain then source.
func ListIndexerStates(ctx context.Context, db *gorm.DB) ([]domain.IndexerState, error) {
	var out []domain.IndexerState
	err := db.WithContext(ctx).
		Order("chain_id asc, source_id asc").
		Find(&out).Error
	return out, err
}

// LatestIndexerUpdate returns the most recent checkpoint update across all
// (chain, source) pairs, or nil when no checkpoints exist. The status
// endpoint uses it to judge scanner freshness.
func LatestIndexerUpdate(ctx context.Context, db *gorm.DB) (*time.Time, error) {
	var count int64
	if err := db.WithContext(ctx).Model(&domain.IndexerState{}).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	err := db.WithContext(ctx).
		Model(&domain.IndexerState{}).
		Select("updated_at").
		Order("updated_at DESC").
		Limit(1).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &row.UpdatedAt, nil
}
