// Handler wiring for the ledger API.
//
// Handlers are transport-thin: they validate input, call application services
// or repository queries, and translate results into HTTP responses. Business
// invariants (sequencing, dedup, outbox atomicity) live entirely in the
// services layer.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
	"github.com/auctionlabs/go-auction-ledger/internal/services"
	"github.com/auctionlabs/go-auction-ledger/internal/utils"
)

//
// Service contracts (context-aware)
//

// Ingestor accepts lifecycle events from the chain scanner.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type Ingestor interface {
	// Ingest applies one event transactionally and reports the outcome.
	Ingest(ctx context.Context, ev domain.Event) (services.IngestResult, error)
}

// PriceStore records observations and resolves historical prices.
type PriceStore interface {
	// Record appends one observation; inserted=false means it already existed.
	Record(ctx context.Context, obs domain.PriceObservation) (inserted bool, err error)
	// Resolve returns the nearest-preceding USD price; ok=false when no
	// observation at or before atBlock exists.
	Resolve(ctx context.Context, chainID int64, token string, atBlock uint64) (price decimal.Decimal, ok bool, err error)
}

// Enricher joins takes with round context, token metadata, and USD figures,
// and reconstructs per-auction price curves.
type Enricher interface {
	EnrichTakes(ctx context.Context, takes []domain.Take) ([]services.EnrichedTake, error)
	PriceHistory(ctx context.Context, auction string, chainID, roundID int64, since time.Time) ([]services.PricePoint, error)
}

// TakerReader serves taker rollups, cached or computed on demand.
type TakerReader interface {
	GetTaker(ctx context.Context, taker string) (*services.TakerRollup, error)
	ListTakers(ctx context.Context, orderBy string, limit, offset int) ([]services.TakerRollup, int64, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints of the ledger API. Read endpoints use
// the repo layer directly through DB; write and compute paths go through the
// abstract service contracts above.
type Handlers struct {
	db      *gorm.DB
	ingest  Ingestor
	prices  PriceStore
	enrich  Enricher
	rollups TakerReader
}

// New constructs a Handlers instance bound to the given database handle and
// services.
func New(db *gorm.DB, ingest Ingestor, prices PriceStore, enrich Enricher, rollups TakerReader) *Handlers {
	return &Handlers{db: db, ingest: ingest, prices: prices, enrich: enrich, rollups: rollups}
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// paginationFor derives the metadata block for a page of total items.
func paginationFor(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}
