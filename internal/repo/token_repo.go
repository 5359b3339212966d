// Package repo implements the data persistence layer for the auction
// ledger, backed by GORM. This file provides repository functions for token
// display metadata.
package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
)

// UpsertToken creates or refreshes metadata for one token.
func UpsertToken(ctx context.Context, db *gorm.DB, t *domain.Token) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}, {Name: "chain_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"symbol", "name", "decimals", "updated_at"}),
		}).
		Create(t).Error
}

// GetToken fetches token metadata by lowercase address and chain id.
// Returns ErrNotFound when the token is unknown.
func GetToken(ctx context.Context, db *gorm.DB, address string, chainID int64) (*domain.Token, error) {
	var t domain.Token
	err := db.WithContext(ctx).
		Where("address = ? AND chain_id = ?", address, chainID).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTokens returns all known tokens, optionally scoped to one chain
// (chainID of zero lists all chains), ordered by chain then symbol.
func ListTokens(ctx context.Context, db *gorm.DB, chainID int64) ([]domain.Token, error) {
	q := db.WithContext(ctx).Model(&domain.Token{})
	if chainID != 0 {
		q = q.Where("chain_id = ?", chainID)
	}
	var out []domain.Token
	err := q.Order("chain_id asc, symbol asc").Find(&out).Error
	return out, err
}

// CountDistinctTokens returns the number of distinct token addresses known.
func CountDistinctTokens(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Token{}).
		Distinct("address").
		Count(&total).Error
	return total, err
}
