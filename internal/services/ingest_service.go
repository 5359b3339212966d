// Package services – IngestService
//
// This file implements the ledger writer and the round aggregator: the
// single entry point through which scanner-sourced lifecycle events become
// ledger rows. Every accepted event commits its ledger write, its round
// aggregate update, and exactly one outbox entry in one transaction, so a
// partially applied event is never observable. Redelivered events are
// reported as duplicates (idempotent no-op); conflicting deliveries are
// recorded on an operator queue and reported as inconsistent.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
	"github.com/auctionlabs/go-auction-ledger/internal/repo"
)

// IngestResult classifies the outcome of ingesting one event.
type IngestResult string

// Ingestion outcomes. Duplicate and inconsistent are expected operating
// conditions, not errors: the scanner may redeliver at will, and a
// conflicting delivery is surfaced to operators rather than guessed at.
const (
	ResultAccepted     IngestResult = "accepted"
	ResultDuplicate    IngestResult = "duplicate"
	ResultInconsistent IngestResult = "inconsistent"
)

// IngestService implements the ledger writer. It owns the ordering and
// dedup invariants of the ledger and is the only component that mutates
// round aggregates (via the aggregation step of take ingestion).
type IngestService struct {
	// DB is the database handle used for all ledger writes. Each Ingest
	// call opens its own transaction on it.
	DB *gorm.DB
}

// Ingest validates and applies one lifecycle event.
//
// Semantics:
//   - AuctionCreated: insert-if-absent by (address, chain); an existing row
//     yields ResultDuplicate, never an error.
//   - RoundKicked: insert by (auction, chain, round_id). An existing round
//     with the same natural key yields ResultDuplicate; an existing round
//     with a different natural key records an inconsistency and yields
//     ResultInconsistent.
//   - TakeExecuted: dedup by the global natural key (chain, tx, log) first;
//     otherwise the take is ranked into its round chronologically by
//     (block_number, log_index), shifting later sequence numbers when it
//     lands before already-recorded takes, and the round's aggregates are
//     brought up to date in the same transaction.
//
// Every accepted write appends exactly one outbox entry keyed by the
// event's idempotency key inside the same transaction.
func (s *IngestService) Ingest(ctx context.Context, ev domain.Event) (IngestResult, error) {
	if ev.TxHash == "" {
		return "", ErrMissingTxHash
	}
	ev.TxHash = domain.NormalizeAddress(ev.TxHash)

	switch ev.Type {
	case domain.EventAuctionCreated:
		if ev.AuctionCreated == nil {
			return "", ErrMissingPayload
		}
		return s.ingestAuctionCreated(ctx, ev)
	case domain.EventRoundKicked:
		if ev.RoundKicked == nil {
			return "", ErrMissingPayload
		}
		return s.ingestRoundKicked(ctx, ev)
	case domain.EventTakeExecuted:
		if ev.TakeExecuted == nil {
			return "", ErrMissingPayload
		}
		return s.ingestTakeExecuted(ctx, ev)
	default:
		return "", ErrUnknownEventType
	}
}

func (s *IngestService) ingestAuctionCreated(ctx context.Context, ev domain.Event) (IngestResult, error) {
	p := ev.AuctionCreated
	a := &domain.Auction{
		Address:        domain.NormalizeAddress(p.Address),
		ChainID:        ev.ChainID,
		Deployer:       domain.NormalizeAddress(p.Deployer),
		WantToken:      domain.NormalizeAddress(p.WantToken),
		DecayRate:      p.DecayRate,
		UpdateInterval: p.UpdateInterval,
		AuctionLength:  p.AuctionLength,
		BlockNumber:    ev.BlockNumber,
		TxHash:         ev.TxHash,
		LogIndex:       ev.LogIndex,
		DeployedAt:     ev.Timestamp,
		CreatedAt:      time.Now().UTC(),
	}

	result := ResultAccepted
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := repo.CreateAuctionIfAbsent(ctx, tx, a)
		if err != nil {
			return err
		}
		if !created {
			result = ResultDuplicate
			return nil
		}
		return s.appendOutbox(ctx, tx, ev)
	})
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return ResultDuplicate, nil
		}
		return "", err
	}
	return result, nil
}

func (s *IngestService) ingestRoundKicked(ctx context.Context, ev domain.Event) (IngestResult, error) {
	p := ev.RoundKicked
	auction := domain.NormalizeAddress(p.AuctionAddress)

	result := ResultAccepted
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := repo.GetRound(ctx, tx, auction, ev.ChainID, p.RoundID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if existing != nil {
			if existing.TxHash == ev.TxHash && existing.LogIndex == ev.LogIndex {
				result = ResultDuplicate
				return nil
			}
			// Same logical round id, different on-chain event: the scanner
			// is confused. Record it and leave the stored round untouched.
			result = ResultInconsistent
			return repo.CreateInconsistency(ctx, tx, &domain.Inconsistency{
				ChainID:        ev.ChainID,
				AuctionAddress: auction,
				RoundID:        p.RoundID,
				Kind:           "round_natural_key_conflict",
				Detail: fmt.Sprintf("round %d already recorded from tx %s log %d; conflicting kick from tx %s log %d",
					p.RoundID, existing.TxHash, existing.LogIndex, ev.TxHash, ev.LogIndex),
			})
		}

		r := &domain.Round{
			AuctionAddress:   auction,
			ChainID:          ev.ChainID,
			RoundID:          p.RoundID,
			FromToken:        domain.NormalizeAddress(p.FromToken),
			InitialAvailable: p.InitialAvailable,
			AvailableAmount:  p.InitialAvailable,
			TotalVolumeSold:  decimal.Zero,
			KickedAt:         ev.Timestamp,
			BlockNumber:      ev.BlockNumber,
			TxHash:           ev.TxHash,
			LogIndex:         ev.LogIndex,
			CreatedAt:        time.Now().UTC(),
		}
		if err := repo.CreateRound(ctx, tx, r); err != nil {
			return err
		}
		return s.appendOutbox(ctx, tx, ev)
	})
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return ResultDuplicate, nil
		}
		return "", err
	}
	return result, nil
}

func (s *IngestService) ingestTakeExecuted(ctx context.Context, ev domain.Event) (IngestResult, error) {
	p := ev.TakeExecuted
	auction := domain.NormalizeAddress(p.AuctionAddress)

	result := ResultAccepted
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Natural key first: a redelivered take is a no-op no matter what
		// sequence position it would claim today.
		if _, err := repo.GetTakeByNaturalKey(ctx, tx, ev.ChainID, ev.TxHash, ev.LogIndex); err == nil {
			result = ResultDuplicate
			return nil
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}

		// Lock the round row: concurrent takes for the same round must
		// serialize for the renumbering and aggregation below to be correct.
		round, err := repo.GetRoundForUpdate(ctx, tx, auction, ev.ChainID, p.RoundID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				result = ResultInconsistent
				return repo.CreateInconsistency(ctx, tx, &domain.Inconsistency{
					ChainID:        ev.ChainID,
					AuctionAddress: auction,
					RoundID:        p.RoundID,
					Kind:           "take_without_round",
					Detail: fmt.Sprintf("take from tx %s log %d references round %d, which was never kicked",
						ev.TxHash, ev.LogIndex, p.RoundID),
				})
			}
			return err
		}

		takes, err := repo.ListRoundTakes(ctx, tx, auction, ev.ChainID, p.RoundID)
		if err != nil {
			return err
		}

		// Chronological rank of the new take among the round's existing
		// takes; equal (block, log) cannot occur for distinct events.
		seq := int64(1)
		for _, t := range takes {
			if t.BlockNumber < ev.BlockNumber ||
				(t.BlockNumber == ev.BlockNumber && t.LogIndex <= ev.LogIndex) {
				seq++
			}
		}
		shifted := seq <= int64(len(takes))
		if shifted {
			if err := repo.ShiftTakeSeqsFrom(ctx, tx, auction, ev.ChainID, p.RoundID, seq); err != nil {
				return err
			}
		}

		take := &domain.Take{
			AuctionAddress: auction,
			ChainID:        ev.ChainID,
			RoundID:        p.RoundID,
			TakeSeq:        seq,
			Taker:          domain.NormalizeAddress(p.Taker),
			FromToken:      domain.NormalizeAddress(p.FromToken),
			ToToken:        domain.NormalizeAddress(p.ToToken),
			AmountTaken:    p.AmountTaken,
			AmountPaid:     p.AmountPaid,
			Price:          p.Price,
			Timestamp:      ev.Timestamp,
			BlockNumber:    ev.BlockNumber,
			TxHash:         ev.TxHash,
			LogIndex:       ev.LogIndex,
			CreatedAt:      time.Now().UTC(),
		}
		if err := repo.InsertTake(ctx, tx, take); err != nil {
			return err
		}

		// Round aggregation. The fast path adds the new amount to the
		// stored total; after a renumbering the total is recomputed from
		// scratch instead. Both must agree: renumbering only reorders
		// takes, it never changes the set being summed.
		var total decimal.Decimal
		if shifted {
			if total, err = repo.SumRoundTakeAmounts(ctx, tx, auction, ev.ChainID, p.RoundID); err != nil {
				return err
			}
		} else {
			total = round.TotalVolumeSold.Add(p.AmountTaken)
		}
		available := round.InitialAvailable.Sub(total)
		if available.IsNegative() {
			available = decimal.Zero
		}
		if err := repo.UpdateRoundAggregates(ctx, tx, auction, ev.ChainID, p.RoundID, total, available); err != nil {
			return err
		}

		return s.appendOutbox(ctx, tx, ev)
	})
	if err != nil {
		// A storage-level unique violation means another writer committed
		// the same event between our check and insert; that is a duplicate,
		// and the transaction (including any shifts) has been rolled back.
		if errors.Is(err, repo.ErrDuplicate) {
			return ResultDuplicate, nil
		}
		return "", err
	}
	return result, nil
}

// appendOutbox serializes the event and appends its change-log entry. Must
// run inside the same transaction as the ledger write it records.
func (s *IngestService) appendOutbox(ctx context.Context, tx *gorm.DB, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return repo.AppendOutbox(ctx, tx, &domain.OutboxEntry{
		Type:           string(ev.Type),
		IdempotencyKey: ev.IdempotencyKey(),
		Payload:        string(payload),
		Version:        1,
		CreatedAt:      time.Now().UTC(),
	})
}
