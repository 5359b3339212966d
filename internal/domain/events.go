// Package domain: lifecycle event types pushed by the chain scanner.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EventType discriminates the lifecycle events the ledger ingests.
type EventType string

// Lifecycle event types.
const (
	EventAuctionCreated EventType = "auction_created"
	EventRoundKicked    EventType = "round_kicked"
	EventTakeExecuted   EventType = "take_executed"
)

// Event is the envelope for a single on-chain lifecycle event. Exactly one
// of the payload pointers matching Type must be set. The envelope fields
// (chain id, block number, log index, tx hash, timestamp) identify the
// on-chain origin and drive dedup and ordering; the payloads carry the
// event-specific attributes.
type Event struct {
	Type        EventType `json:"type"`
	ChainID     int64     `json:"chain_id"`
	BlockNumber uint64    `json:"block_number"`
	LogIndex    uint      `json:"log_index"`
	TxHash      string    `json:"transaction_hash"`
	Timestamp   time.Time `json:"timestamp"`

	AuctionCreated *AuctionCreatedPayload `json:"auction_created,omitempty"`
	RoundKicked    *RoundKickedPayload    `json:"round_kicked,omitempty"`
	TakeExecuted   *TakeExecutedPayload   `json:"take_executed,omitempty"`
}

// AuctionCreatedPayload carries the immutable parameters of a newly
// deployed auction contract.
type AuctionCreatedPayload struct {
	Address        string          `json:"address"`
	Deployer       string          `json:"deployer"`
	WantToken      string          `json:"want_token"`
	DecayRate      decimal.Decimal `json:"decay_rate"`
	UpdateInterval int64           `json:"update_interval"`
	AuctionLength  int64           `json:"auction_length"`
}

// RoundKickedPayload announces the start of a sale round.
type RoundKickedPayload struct {
	AuctionAddress   string          `json:"auction_address"`
	RoundID          int64           `json:"round_id"`
	FromToken        string          `json:"from_token"`
	InitialAvailable decimal.Decimal `json:"initial_available"`
}

// TakeExecutedPayload describes a single purchase against a round.
type TakeExecutedPayload struct {
	AuctionAddress string          `json:"auction_address"`
	RoundID        int64           `json:"round_id"`
	Taker          string          `json:"taker"`
	FromToken      string          `json:"from_token"`
	ToToken        string          `json:"to_token"`
	AmountTaken    decimal.Decimal `json:"amount_taken"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	Price          decimal.Decimal `json:"price"`
}

// IdempotencyKey derives the stable dedup key for an event from its
// on-chain origin. The same event redelivered by any scanner instance
// always maps to the same key, so the outbox unique index rejects the
// second append.
func (e Event) IdempotencyKey() string {
	return IdempotencyKey(e.ChainID, e.TxHash, e.LogIndex, e.Type)
}

// IdempotencyKey builds the canonical "<chain>:<tx>:<log>:<type>" key.
func IdempotencyKey(chainID int64, txHash string, logIndex uint, typ EventType) string {
	return fmt.Sprintf("%d:%s:%d:%s", chainID, NormalizeAddress(txHash), logIndex, typ)
}

// NormalizeAddress lowercases and trims an address or hash so that keys,
// lookups, and stored rows agree regardless of the checksum casing the
// scanner happened to emit.
func NormalizeAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
