// Package services – PriceService
//
// This file implements the price observation intake and the historical
// price resolver. Observations are append-only pushes from independent,
// untrusted sources; resolution selects among whatever has already been
// written using nearest-preceding-value semantics. A missing price is an
// explicit "unavailable" state, never zero and never an error.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
	"github.com/auctionlabs/go-auction-ledger/internal/repo"
)

// PriceService records price-source observations and resolves historical
// USD prices for ledger rows. Resolution is read-only and side-effect-free;
// it may run with arbitrary parallelism.
type PriceService struct {
	// DB is the database handle used for all price operations.
	DB *gorm.DB
}

// Record appends one source's price observation. Re-submitting an identical
// (chain, token, block, source) observation is an accepted no-op; inserted
// reports whether a new row was written.
func (s *PriceService) Record(ctx context.Context, obs domain.PriceObservation) (inserted bool, err error) {
	obs.TokenAddress = domain.NormalizeAddress(obs.TokenAddress)
	if obs.TokenAddress == "" || obs.Source == "" || !obs.PriceUSD.IsPositive() {
		return false, ErrInvalidObservation
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = time.Now().UTC()
	}
	obs.CreatedAt = time.Now().UTC()
	return repo.InsertPriceObservation(ctx, s.DB, &obs)
}

// Resolve returns the best available USD price for a token at or before
// atBlock: the observation with the greatest block_number not exceeding
// atBlock, ties broken by most recent observed_at, then source name for
// determinism. ok is false when no observation qualifies; the caller must
// propagate that as "unavailable", never default to zero.
func (s *PriceService) Resolve(ctx context.Context, chainID int64, token string, atBlock uint64) (price decimal.Decimal, ok bool, err error) {
	obs, err := repo.ResolvePrice(ctx, s.DB, chainID, domain.NormalizeAddress(token), atBlock)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	return obs.PriceUSD, true, nil
}
