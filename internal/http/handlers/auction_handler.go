// Auction read handlers.
//
// This file exposes REST endpoints for auction resources:
//   - GET /auctions                         (list, recency-ordered, paginated)
//   - GET /auctions/:address                (point lookup, by chain)
//   - GET /auctions/:address/rounds         (round listing, newest first)
//   - GET /auctions/:address/rounds/:round_id/takes (takes in take_seq order, enriched)
//   - GET /auctions/:address/price-history  (price curve over a time window)
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
	"github.com/auctionlabs/go-auction-ledger/internal/repo"
	"github.com/auctionlabs/go-auction-ledger/internal/services"
	"github.com/auctionlabs/go-auction-ledger/internal/utils"
)

// RoundView is a round plus its derived completion ratio. ProgressPercent
// is nil when the round was kicked with zero inventory (the ratio is
// undefined, not 100%).
type RoundView struct {
	domain.Round
	ProgressPercent *decimal.Decimal `json:"progress_percent"`
}

// ListAuctionsResponse wraps a page of auctions and pagination information.
type ListAuctionsResponse struct {
	Auctions   []domain.Auction `json:"auctions"`
	Pagination Pagination       `json:"pagination"`
}

// ListRoundsResponse wraps a page of rounds and pagination information.
type ListRoundsResponse struct {
	Rounds     []RoundView `json:"rounds"`
	Pagination Pagination  `json:"pagination"`
}

// chainIDQuery parses the optional chain_id query param; 0 means all chains.
func chainIDQuery(c *gin.Context) (int64, bool) {
	raw := c.Query("chain_id")
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// roundView attaches progress_percent to a round.
func roundView(r domain.Round) RoundView {
	v := RoundView{Round: r}
	if r.InitialAvailable.IsPositive() {
		pct := r.TotalVolumeSold.Div(r.InitialAvailable).Mul(decimal.NewFromInt(100))
		v.ProgressPercent = &pct
	}
	return v
}

// ListAuctions returns a page of auctions ordered by deployment recency.
// An optional chain_id query narrows the listing to one chain.
func (h *Handlers) ListAuctions(c *gin.Context) {
	ctx := c.Request.Context()
	chainID, okc := chainIDQuery(c)
	if !okc {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chain_id must be a non-negative integer")
		return
	}
	page, pageSize := clampPagination(c)

	total, err := repo.CountAuctions(ctx, h.db, chainID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	items, err := repo.ListAuctionsPage(ctx, h.db, chainID, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListAuctionsResponse{
		Auctions:   items,
		Pagination: paginationFor(page, pageSize, total),
	})
}

// GetAuction returns one auction by address and chain_id.
func (h *Handlers) GetAuction(c *gin.Context) {
	address := domain.NormalizeAddress(c.Param("address"))
	chainID, err := strconv.ParseInt(c.Query("chain_id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chain_id must be an integer")
		return
	}

	a, err := repo.GetAuction(c.Request.Context(), h.db, address, chainID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "auction not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, a)
}

// ListRounds returns a page of an auction's rounds, newest round first,
// each annotated with progress_percent.
func (h *Handlers) ListRounds(c *gin.Context) {
	ctx := c.Request.Context()
	address := domain.NormalizeAddress(c.Param("address"))
	chainID, err := strconv.ParseInt(c.Query("chain_id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chain_id must be an integer")
		return
	}
	page, pageSize := clampPagination(c)

	total, err := repo.CountRounds(ctx, h.db, address, chainID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	rounds, err := repo.ListRoundsPage(ctx, h.db, address, chainID, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	views := make([]RoundView, 0, len(rounds))
	for _, r := range rounds {
		views = append(views, roundView(r))
	}
	ok(c, http.StatusOK, ListRoundsResponse{
		Rounds:     views,
		Pagination: paginationFor(page, pageSize, total),
	})
}

// PriceHistoryResponse wraps an auction's reconstructed price curve.
type PriceHistoryResponse struct {
	Auction       string                `json:"auction"`
	ChainID       int64                 `json:"chain_id"`
	RoundID       int64                 `json:"round_id,omitempty"`
	DurationHours int                   `json:"duration_hours"`
	Points        []services.PricePoint `json:"points"`
}

// GetPriceHistory returns an auction's price curve over a trailing time
// window, reconstructed from its take stream. Query params: chain_id
// (required), round_id (optional, narrows to one round), hours (1..168,
// default 24).
func (h *Handlers) GetPriceHistory(c *gin.Context) {
	ctx := c.Request.Context()
	address := domain.NormalizeAddress(c.Param("address"))
	chainID, err := strconv.ParseInt(c.Query("chain_id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chain_id must be an integer")
		return
	}
	var roundID int64
	if raw := c.Query("round_id"); raw != "" {
		roundID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || roundID < 1 {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "round_id must be a positive integer")
			return
		}
	}
	hours := utils.AtoiDefault(c.Query("hours"), 24)
	if hours < 1 || hours > 168 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "hours must be between 1 and 168")
		return
	}

	if _, err := repo.GetAuction(ctx, h.db, address, chainID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "auction not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	points, err := h.enrich.PriceHistory(ctx, address, chainID, roundID, since)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, PriceHistoryResponse{
		Auction:       address,
		ChainID:       chainID,
		RoundID:       roundID,
		DurationHours: hours,
		Points:        points,
	})
}

// ListRoundTakes returns every take of one round in take_seq order, enriched
// with USD figures and token metadata.
func (h *Handlers) ListRoundTakes(c *gin.Context) {
	ctx := c.Request.Context()
	address := domain.NormalizeAddress(c.Param("address"))
	chainID, err := strconv.ParseInt(c.Query("chain_id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chain_id must be an integer")
		return
	}
	roundID, err := strconv.ParseInt(c.Param("round_id"), 10, 64)
	if err != nil || roundID < 1 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "round_id must be a positive integer")
		return
	}

	if _, err := repo.GetRound(ctx, h.db, address, chainID, roundID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "round not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	takes, err := repo.ListRoundTakes(ctx, h.db, address, chainID, roundID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	enriched, err := h.enrich.EnrichTakes(ctx, takes)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"takes": enriched})
}
