// Package repo implements the data persistence layer for the auction
// ledger, backed by GORM. This file centralizes repository-level sentinel
// errors and driver-agnostic error classification helpers.
//
// Error semantics:
//   - When a record is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - When an insert collides with a uniqueness constraint (take natural
//     key, outbox idempotency key, price observation identity), functions
//     return ErrDuplicate so callers can treat redelivery as a no-op.
//   - On other DB errors (connectivity, constraint violations we do not
//     expect), the raw gorm error is propagated.
package repo

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates that an insert collided with an existing row on a
// uniqueness constraint. For this ledger that is the expected signal for a
// redelivered event, never an error condition.
var ErrDuplicate = errors.New("duplicate")

// isUniqueViolation detects unique-constraint violations across drivers.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations,
// so gorm.ErrDuplicatedKey alone is not sufficient.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}
