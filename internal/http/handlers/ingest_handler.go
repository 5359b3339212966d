// Ingestion HTTP handlers.
//
// This file exposes the write-side endpoints used by the chain scanner and
// the price adapters:
//   - POST /events  (lifecycle event ingestion)
//   - POST /prices  (price observation append)
//   - GET  /prices/resolve (nearest-preceding price lookup)
//   - POST /tokens  (token metadata upsert)
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
	"github.com/auctionlabs/go-auction-ledger/internal/http/middleware"
	"github.com/auctionlabs/go-auction-ledger/internal/repo"
	"github.com/auctionlabs/go-auction-ledger/internal/services"
)

// IngestResponse reports the outcome of one event submission. Status is one
// of "accepted", "duplicate", or "inconsistent"; all three are successful
// HTTP exchanges, so the scanner can advance its cursor on any 200.
type IngestResponse struct {
	Status string `json:"status"`
}

// PostEvent ingests one lifecycle event.
//
// Duplicates return 200 with status "duplicate" rather than an error:
// redelivery is normal scanner behavior, not a client mistake. Conflicting
// deliveries (same logical key, different on-chain origin) return status
// "inconsistent" and are recorded for operator review.
func (h *Handlers) PostEvent(c *gin.Context) {
	var ev domain.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	result, err := h.ingest.Ingest(c.Request.Context(), ev)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUnknownEventType),
			errors.Is(err, services.ErrMissingPayload),
			errors.Is(err, services.ErrMissingTxHash):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeIngestFailed, err.Error())
		}
		return
	}

	lg := middleware.LoggerFrom(c)
	lg.Info().
		Str("event_type", string(ev.Type)).
		Int64("chain_id", ev.ChainID).
		Str("result", string(result)).
		Msg("event ingested")

	ok(c, http.StatusOK, IngestResponse{Status: string(result)})
}

// PostPriceRequest is the JSON payload for recording a price observation.
type PostPriceRequest struct {
	ChainID      int64           `json:"chain_id" binding:"required"`
	TokenAddress string          `json:"token_address" binding:"required"`
	BlockNumber  uint64          `json:"block_number"`
	Source       string          `json:"source" binding:"required"`
	PriceUSD     decimal.Decimal `json:"price_usd"`
	ObservedAt   time.Time       `json:"observed_at"`
}

// PostPrice records one USD price observation from an adapter. Re-submitting
// the same (chain, token, block, source) tuple is a no-op and returns 200;
// a fresh insert returns 201.
func (h *Handlers) PostPrice(c *gin.Context) {
	var req PostPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	inserted, err := h.prices.Record(c.Request.Context(), domain.PriceObservation{
		ChainID:      req.ChainID,
		TokenAddress: req.TokenAddress,
		BlockNumber:  req.BlockNumber,
		Source:       req.Source,
		PriceUSD:     req.PriceUSD,
		ObservedAt:   req.ObservedAt,
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidObservation) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeRecordFailed, err.Error())
		return
	}
	if inserted {
		ok(c, http.StatusCreated, gin.H{"status": "recorded"})
		return
	}
	ok(c, http.StatusOK, gin.H{"status": "duplicate"})
}

// ResolvePriceResponse is the result of a historical price lookup.
// Available=false means no source had reported a price at or before the
// requested block; PriceUSD is omitted in that case, never zero-filled.
type ResolvePriceResponse struct {
	ChainID      int64            `json:"chain_id"`
	TokenAddress string           `json:"token_address"`
	AtBlock      uint64           `json:"at_block"`
	Available    bool             `json:"available"`
	PriceUSD     *decimal.Decimal `json:"price_usd,omitempty"`
}

// ResolvePrice resolves the nearest-preceding USD price for
// (chain_id, token, block). An unavailable price is a 200 with
// available=false, not a 404: absence of data is a valid answer.
func (h *Handlers) ResolvePrice(c *gin.Context) {
	chainID, err := strconv.ParseInt(c.Query("chain_id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chain_id must be an integer")
		return
	}
	token := domain.NormalizeAddress(c.Query("token"))
	if token == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "token is required")
		return
	}
	block, err := strconv.ParseUint(c.Query("block"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "block must be a non-negative integer")
		return
	}

	price, available, err := h.prices.Resolve(c.Request.Context(), chainID, token, block)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	resp := ResolvePriceResponse{
		ChainID:      chainID,
		TokenAddress: token,
		AtBlock:      block,
		Available:    available,
	}
	if available {
		resp.PriceUSD = &price
	}
	ok(c, http.StatusOK, resp)
}

// PostTokenRequest is the JSON payload for upserting token metadata.
type PostTokenRequest struct {
	Address  string `json:"address" binding:"required"`
	ChainID  int64  `json:"chain_id" binding:"required"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
}

// PostToken upserts display metadata for a token the scanner discovered.
func (h *Handlers) PostToken(c *gin.Context) {
	var req PostTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	decimals := req.Decimals
	if decimals <= 0 {
		decimals = 18
	}
	tok := domain.Token{
		Address:  domain.NormalizeAddress(req.Address),
		ChainID:  req.ChainID,
		Symbol:   req.Symbol,
		Name:     req.Name,
		Decimals: decimals,
	}
	if err := repo.UpsertToken(c.Request.Context(), h.db, &tok); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeRecordFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, tok)
}
