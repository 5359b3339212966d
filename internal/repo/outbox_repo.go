// Package repo implements the data persistence layer for the auction
// ledger, backed by GORM. This file provides repository functions for the
// transactional outbox: atomic append alongside ledger writes, lease-based
// claiming for relay workers, and publication bookkeeping.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
)

// AppendOutbox inserts one change-log entry. The ingest service calls this
// inside the same transaction as the ledger write it describes, so entry
// and row commit or roll back together. Returns ErrDuplicate when the
// idempotency key already exists.
func AppendOutbox(ctx context.Context, db *gorm.DB, e *domain.OutboxEntry) error {
	if err := db.WithContext(ctx).Create(e).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetOutboxByIdempotencyKey fetches an entry by its dedup key. Returns
// ErrNotFound when no entry exists.
func GetOutboxByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*domain.OutboxEntry, error) {
	var e domain.OutboxEntry
	err := db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ClaimOutboxPage atomically leases the next page of deliverable entries
// for one relay worker: unpublished, unflagged, due for (re)attempt, and
// not currently claimed by another worker. Entries are returned in id
// order, which matches ledger write order. The lease expires on its own,
// so a worker that crashes mid-delivery only delays its page until the
// claim runs out (at-least-once, never lost).
func ClaimOutboxPage(ctx context.Context, db *gorm.DB, workerID string, limit int, lease time.Duration, now time.Time) ([]domain.OutboxEntry, error) {
	var claimed []domain.OutboxEntry
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint64
		err := tx.Model(&domain.OutboxEntry{}).
			Where("published_at IS NULL AND flagged = ?", false).
			Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
			Where("claimed_until IS NULL OR claimed_until < ?", now).
			Order("id asc").
			Limit(limit).
			Pluck("id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		until := now.Add(lease)
		// The claim-freshness predicate repeats here so a concurrent worker
		// claiming the same ids between the two statements wins only once.
		err = tx.Model(&domain.OutboxEntry{}).
			Where("id IN ?", ids).
			Where("claimed_until IS NULL OR claimed_until < ?", now).
			Updates(map[string]any{"claimed_by": workerID, "claimed_until": until}).Error
		if err != nil {
			return err
		}
		return tx.
			Where("id IN ? AND claimed_by = ?", ids, workerID).
			Where("claimed_until = ?", until).
			Order("id asc").
			Find(&claimed).Error
	})
	return claimed, err
}

// MarkOutboxPublished records a successful delivery attempt and releases
// the claim. Entries already published are left untouched.
func MarkOutboxPublished(ctx context.Context, db *gorm.DB, id uint64, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.OutboxEntry{}).
		Where("id = ? AND published_at IS NULL", id).
		Updates(map[string]any{
			"published_at":  now,
			"last_error":    "",
			"claimed_by":    "",
			"claimed_until": nil,
		}).Error
}

// RecordOutboxFailure stores the outcome of a failed delivery attempt:
// bumped retry count, last error text, the next-attempt backoff stamp, and
// optionally the flag that parks the entry for operator inspection. The
// claim is released so another worker can retry once the backoff elapses.
func RecordOutboxFailure(ctx context.Context, db *gorm.DB, id uint64, lastError string, nextAttempt time.Time, flag bool) error {
	return db.WithContext(ctx).
		Model(&domain.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count":     gorm.Expr("retry_count + 1"),
			"last_error":      lastError,
			"next_attempt_at": nextAttempt,
			"flagged":         flag,
			"claimed_by":      "",
			"claimed_until":   nil,
		}).Error
}

// FlagOutboxEntry parks an entry for operator inspection without counting a
// delivery attempt (used for malformed payloads, which retrying cannot fix).
func FlagOutboxEntry(ctx context.Context, db *gorm.DB, id uint64, reason string) error {
	return db.WithContext(ctx).
		Model(&domain.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"flagged":       true,
			"last_error":    reason,
			"claimed_by":    "",
			"claimed_until": nil,
		}).Error
}

// CountPendingOutbox returns the number of entries not yet published and
// not flagged, which is the relay's live backlog.
func CountPendingOutbox(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.OutboxEntry{}).
		Where("published_at IS NULL AND flagged = ?", false).
		Count(&total).Error
	return total, err
}

// CountFlaggedOutbox returns the number of entries parked for operator
// inspection.
func CountFlaggedOutbox(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.OutboxEntry{}).
		Where("flagged = ?", true).
		Count(&total).Error
	return total, err
}

// ListFlaggedOutbox returns flagged entries in id order for the operator
// queue.
func ListFlaggedOutbox(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.OutboxEntry, error) {
	var out []domain.OutboxEntry
	err := db.WithContext(ctx).
		Where("flagged = ?", true).
		Order("id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
