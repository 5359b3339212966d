// Package domain defines the persistence models for the auction ledger:
// auctions, rounds, takes, token metadata, price observations, the
// transactional outbox, and scan-progress state. These types are mapped
// with GORM and form the core data layer shared by the repository and
// service layers.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Auction represents a deployed auction contract on one chain. An auction
// is identified by (address, chain_id) and is immutable once created: the
// scanner may redeliver the creation event, but the row is never updated
// or deleted afterwards.
//
// Fields:
//   - Address / ChainID: composite primary key; Address is stored lowercase.
//   - Deployer: address that deployed the contract.
//   - WantToken: token the auction accumulates (lowercase address).
//   - DecayRate / UpdateInterval / AuctionLength: pricing parameters fixed
//     at deployment.
//   - BlockNumber / TxHash / LogIndex: on-chain origin of the creation event.
//   - DeployedAt: chain timestamp of the creation event.
type Auction struct {
	Address        string          `json:"address"         gorm:"type:varchar(64);primaryKey"`
	ChainID        int64           `json:"chain_id"        gorm:"primaryKey;autoIncrement:false"`
	Deployer       string          `json:"deployer"        gorm:"type:varchar(64);not null"`
	WantToken      string          `json:"want_token"      gorm:"type:varchar(64);not null;index"`
	DecayRate      decimal.Decimal `json:"decay_rate"      gorm:"type:decimal(38,18)"`
	UpdateInterval int64           `json:"update_interval"`
	AuctionLength  int64           `json:"auction_length"`
	BlockNumber    uint64          `json:"block_number"    gorm:"not null"`
	TxHash         string          `json:"transaction_hash" gorm:"type:varchar(80);not null"`
	LogIndex       uint            `json:"log_index"`
	DeployedAt     time.Time       `json:"deployed_at"     gorm:"index"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TableName returns the database table name for Auction.
func (Auction) TableName() string { return "auctions" }

// Round represents one sale cycle of an auction. Rounds are identified by
// (auction_address, chain_id, round_id) with round_id strictly increasing
// per auction starting at 1. A round is created by a round-kicked event and
// mutated only by the round aggregator as takes arrive.
//
// Invariant: AvailableAmount = max(0, InitialAvailable - TotalVolumeSold).
//
// Fields:
//   - AuctionAddress / ChainID / RoundID: composite primary key.
//   - FromToken: token being sold this round (lowercase address).
//   - InitialAvailable: starting inventory at kick time.
//   - AvailableAmount / TotalVolumeSold: derived aggregates owned by the
//     round aggregator; read-only for everyone else.
//   - KickedAt: chain timestamp of the kick event.
//   - BlockNumber / TxHash / LogIndex: natural key of the kick event, used
//     to distinguish redelivery (duplicate) from conflicting kicks
//     (inconsistency).
type Round struct {
	AuctionAddress   string          `json:"auction_address"   gorm:"type:varchar(64);primaryKey"`
	ChainID          int64           `json:"chain_id"          gorm:"primaryKey;autoIncrement:false"`
	RoundID          int64           `json:"round_id"          gorm:"primaryKey;autoIncrement:false"`
	FromToken        string          `json:"from_token"        gorm:"type:varchar(64);not null;index"`
	InitialAvailable decimal.Decimal `json:"initial_available" gorm:"type:decimal(38,18);not null"`
	AvailableAmount  decimal.Decimal `json:"available_amount"  gorm:"type:decimal(38,18);not null"`
	TotalVolumeSold  decimal.Decimal `json:"total_volume_sold" gorm:"type:decimal(38,18);not null"`
	KickedAt         time.Time       `json:"kicked_at"         gorm:"index"`
	BlockNumber      uint64          `json:"block_number"      gorm:"not null"`
	TxHash           string          `json:"transaction_hash"  gorm:"type:varchar(80);not null"`
	LogIndex         uint            `json:"log_index"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// TableName returns the database table name for Round.
func (Round) TableName() string { return "rounds" }

// Take represents a single purchase against an active round. Takes are
// identified by (auction_address, chain_id, round_id, take_seq); take_seq
// is assigned in chronological (block_number, log_index) order, not
// insertion order, and may be renumbered when a backfilled take lands
// before already-recorded ones.
//
// The natural key (chain_id, tx_hash, log_index) is globally unique and is
// the dedup anchor: re-ingesting the same on-chain event is a no-op no
// matter what sequence position it would otherwise claim.
type Take struct {
	AuctionAddress string          `json:"auction_address" gorm:"type:varchar(64);primaryKey"`
	ChainID        int64           `json:"chain_id"        gorm:"primaryKey;autoIncrement:false;uniqueIndex:ux_take_event,priority:1"`
	RoundID        int64           `json:"round_id"        gorm:"primaryKey;autoIncrement:false"`
	TakeSeq        int64           `json:"take_seq"        gorm:"primaryKey;autoIncrement:false"`
	Taker          string          `json:"taker"           gorm:"type:varchar(64);not null;index"`
	FromToken      string          `json:"from_token"      gorm:"type:varchar(64);not null"`
	ToToken        string          `json:"to_token"        gorm:"type:varchar(64);not null"`
	AmountTaken    decimal.Decimal `json:"amount_taken"    gorm:"type:decimal(38,18);not null"`
	AmountPaid     decimal.Decimal `json:"amount_paid"     gorm:"type:decimal(38,18);not null"`
	Price          decimal.Decimal `json:"price"           gorm:"type:decimal(38,18)"`
	Timestamp      time.Time       `json:"timestamp"       gorm:"index"`
	BlockNumber    uint64          `json:"block_number"    gorm:"not null"`
	TxHash         string          `json:"transaction_hash" gorm:"type:varchar(80);not null;uniqueIndex:ux_take_event,priority:2"`
	LogIndex       uint            `json:"log_index"       gorm:"uniqueIndex:ux_take_event,priority:3"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TableName returns the database table name for Take.
func (Take) TableName() string { return "takes" }

// Token carries display metadata for a token on one chain. Rows are
// upserted by the scanner as it discovers tokens; the ledger itself never
// requires them, they only enrich read-side payloads.
type Token struct {
	Address   string    `json:"address"  gorm:"type:varchar(64);primaryKey"`
	ChainID   int64     `json:"chain_id" gorm:"primaryKey;autoIncrement:false"`
	Symbol    string    `json:"symbol"   gorm:"type:varchar(32)"`
	Name      string    `json:"name"     gorm:"type:varchar(128)"`
	Decimals  int       `json:"decimals" gorm:"default:18"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Token.
func (Token) TableName() string { return "tokens" }

// PriceObservation is one historical USD price reported by one source for a
// token at a block height. Multiple sources reporting the same token/block
// is expected; rows are append-only and deduplicated only by the natural
// uniqueness of (chain_id, token_address, block_number, source).
type PriceObservation struct {
	ID           uint64          `json:"id"            gorm:"primaryKey;autoIncrement"`
	ChainID      int64           `json:"chain_id"      gorm:"not null;uniqueIndex:ux_price_obs,priority:1;index:idx_price_lookup,priority:1"`
	TokenAddress string          `json:"token_address" gorm:"type:varchar(64);not null;uniqueIndex:ux_price_obs,priority:2;index:idx_price_lookup,priority:2"`
	BlockNumber  uint64          `json:"block_number"  gorm:"not null;uniqueIndex:ux_price_obs,priority:3;index:idx_price_lookup,priority:3"`
	Source       string          `json:"source"        gorm:"type:varchar(64);not null;uniqueIndex:ux_price_obs,priority:4"`
	PriceUSD     decimal.Decimal `json:"price_usd"     gorm:"type:decimal(38,18);not null"`
	ObservedAt   time.Time       `json:"observed_at"   gorm:"not null"`
	CreatedAt    time.Time       `json:"created_at"`
}

// TableName returns the database table name for PriceObservation.
func (PriceObservation) TableName() string { return "price_observations" }

// OutboxEntry is one row of the transactional change log. An entry is
// appended in the same transaction as the ledger write it describes; the
// relay drains entries in id order and marks them published after an
// attempted delivery. Entries are never deleted: exhausted or malformed
// ones are flagged for operator inspection instead.
//
// IdempotencyKey is derived deterministically from the originating on-chain
// event, so re-running ingestion can never produce a second row for the
// same event, and the downstream consumer can deduplicate redeliveries.
type OutboxEntry struct {
	ID             uint64     `json:"id"              gorm:"primaryKey;autoIncrement"`
	Type           string     `json:"type"            gorm:"type:varchar(32);not null"`
	IdempotencyKey string     `json:"idempotency_key" gorm:"type:varchar(160);not null;uniqueIndex:ux_outbox_idem"`
	Payload        string     `json:"payload"         gorm:"type:text;not null"`
	Version        int        `json:"version"         gorm:"not null;default:1"`
	PublishedAt    *time.Time `json:"published_at"    gorm:"index"`
	RetryCount     int        `json:"retry_count"     gorm:"not null;default:0"`
	LastError      string     `json:"last_error"      gorm:"type:text"`
	NextAttemptAt  *time.Time `json:"next_attempt_at" gorm:"index"`
	Flagged        bool       `json:"flagged"         gorm:"not null;default:false"`
	ClaimedBy      string     `json:"claimed_by"      gorm:"type:varchar(64)"`
	ClaimedUntil   *time.Time `json:"claimed_until"`
	CreatedAt      time.Time  `json:"created_at"`
}

// TableName returns the database table name for OutboxEntry.
func (OutboxEntry) TableName() string { return "outbox_entries" }

// IndexerState persists per-(chain, source) scan progress on behalf of the
// chain scanner so it can resume after a restart. The ledger core exposes
// read/write access to this state but has no opinion on how it is produced.
type IndexerState struct {
	ChainID          int64     `json:"chain_id"           gorm:"primaryKey;autoIncrement:false"`
	SourceID         string    `json:"source_id"          gorm:"type:varchar(64);primaryKey"`
	StartBlock       uint64    `json:"start_block"        gorm:"not null"`
	LastIndexedBlock uint64    `json:"last_indexed_block" gorm:"not null"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the database table name for IndexerState.
func (IndexerState) TableName() string { return "indexer_state" }

// TakerSummary is a cached rollup row for one taker. It is a pure cache:
// every value is re-derivable from takes plus price observations, and the
// refresh job overwrites the whole table idempotently. Readers must treat
// an empty cache as "compute on demand", never as "no takers".
type TakerSummary struct {
	Taker             string           `json:"taker"                gorm:"type:varchar(64);primaryKey"`
	TotalTakes        int64            `json:"total_takes"`
	UniqueAuctions    int64            `json:"unique_auctions"`
	UniqueChains      int64            `json:"unique_chains"`
	ActiveChains      string           `json:"active_chains"        gorm:"type:varchar(256)"`
	TotalVolumeUSD    decimal.Decimal  `json:"total_volume_usd"     gorm:"type:decimal(38,18)"`
	AvgTakeSizeUSD    *decimal.Decimal `json:"avg_take_size_usd"    gorm:"type:decimal(38,18)"`
	TotalProfitUSD    decimal.Decimal  `json:"total_profit_usd"     gorm:"type:decimal(38,18)"`
	ProfitableTakes   int64            `json:"profitable_takes"`
	UnprofitableTakes int64            `json:"unprofitable_takes"`
	SuccessRate       *decimal.Decimal `json:"success_rate_percent" gorm:"type:decimal(10,4)"`
	TakesLast7D       int64            `json:"takes_last_7d"`
	TakesLast30D      int64            `json:"takes_last_30d"`
	VolumeLast7D      decimal.Decimal  `json:"volume_last_7d"       gorm:"type:decimal(38,18)"`
	VolumeLast30D     decimal.Decimal  `json:"volume_last_30d"      gorm:"type:decimal(38,18)"`
	FirstTake         *time.Time       `json:"first_take"`
	LastTake          *time.Time       `json:"last_take"`
	RankByTakes       int              `json:"rank_by_takes"`
	RankByVolume      int              `json:"rank_by_volume"`
	RankByProfit      int              `json:"rank_by_profit"`
	ComputedAt        time.Time        `json:"computed_at"`
}

// TableName returns the database table name for TakerSummary.
func (TakerSummary) TableName() string { return "taker_summaries" }

// Inconsistency records a conflicting delivery from the scanner: the same
// logical key (for example one round id) arriving with a different on-chain
// natural key. These rows form an operator queue; the ledger never
// auto-resolves them because they indicate upstream confusion, not a state
// the core can repair.
type Inconsistency struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	ChainID        int64     `json:"chain_id"        gorm:"not null;index"`
	AuctionAddress string    `json:"auction_address" gorm:"type:varchar(64);not null"`
	RoundID        int64     `json:"round_id"`
	Kind           string    `json:"kind"            gorm:"type:varchar(64);not null"`
	Detail         string    `json:"detail"          gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for Inconsistency.
func (Inconsistency) TableName() string { return "inconsistencies" }
