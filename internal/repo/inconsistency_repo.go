// Package repo implements the data persistence layer for the auction
// ledger, backed by GORM. This file provides repository functions for the
// inconsistency operator queue.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
)

// CreateInconsistency appends a conflicting-delivery record to the operator
// queue. Records are append-only; the ledger never resolves them itself.
func CreateInconsistency(ctx context.Context, db *gorm.DB, rec *domain.Inconsistency) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(rec).Error
}

// ListInconsistencies returns queue entries, newest first.
func ListInconsistencies(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Inconsistency, error) {
	var out []domain.Inconsistency
	err := db.WithContext(ctx).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountInconsistencies returns the operator queue depth.
func CountInconsistencies(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Inconsistency{}).
		Count(&total).Error
	return total, err
}
