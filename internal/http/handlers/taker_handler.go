// Take and taker read handlers.
//
// This file exposes REST endpoints for cross-auction views:
//   - GET /takes            (recent takes, paginated, enriched)
//   - GET /takers           (rollups, sorted by a rank dimension, paginated)
//   - GET /takers/:address  (one taker's rollup)
//   - GET /takers/:address/takes (one taker's takes, paginated, enriched)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
	"github.com/auctionlabs/go-auction-ledger/internal/repo"
	"github.com/auctionlabs/go-auction-ledger/internal/services"
)

// ListTakesResponse wraps a page of enriched takes and pagination info.
type ListTakesResponse struct {
	Takes      []services.EnrichedTake `json:"takes"`
	Pagination Pagination              `json:"pagination"`
}

// ListTakersResponse wraps a page of taker rollups and pagination info.
type ListTakersResponse struct {
	Takers     []services.TakerRollup `json:"takers"`
	Pagination Pagination             `json:"pagination"`
}

// sortParamColumn maps the public sort query values to rank columns.
// Unknown values fall back to volume, the most common dashboard ordering.
func sortParamColumn(sort string) string {
	switch sort {
	case "takes":
		return "rank_by_takes"
	case "profit":
		return "rank_by_profit"
	default:
		return "rank_by_volume"
	}
}

// ListTakes returns recent takes across all auctions, newest first,
// enriched. An optional chain_id query narrows to one chain.
func (h *Handlers) ListTakes(c *gin.Context) {
	ctx := c.Request.Context()
	chainID, okc := chainIDQuery(c)
	if !okc {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chain_id must be a non-negative integer")
		return
	}
	page, pageSize := clampPagination(c)

	total, err := repo.CountTakes(ctx, h.db, chainID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	takes, err := repo.ListRecentTakesPage(ctx, h.db, chainID, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	enriched, err := h.enrich.EnrichTakes(ctx, takes)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListTakesResponse{
		Takes:      enriched,
		Pagination: paginationFor(page, pageSize, total),
	})
}

// ListTakers returns a page of taker rollups ordered by the requested rank
// dimension (sort=volume|takes|profit, default volume).
func (h *Handlers) ListTakers(c *gin.Context) {
	page, pageSize := clampPagination(c)
	orderBy := sortParamColumn(c.Query("sort"))

	takers, total, err := h.rollups.ListTakers(c.Request.Context(), orderBy, pageSize, (page-1)*pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListTakersResponse{
		Takers:     takers,
		Pagination: paginationFor(page, pageSize, total),
	})
}

// GetTaker returns the rollup for one taker address.
func (h *Handlers) GetTaker(c *gin.Context) {
	taker := domain.NormalizeAddress(c.Param("address"))
	if taker == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "taker address required")
		return
	}

	rollup, err := h.rollups.GetTaker(c.Request.Context(), taker)
	if err != nil {
		if errors.Is(err, services.ErrTakerNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "taker not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, rollup)
}

// ListTakerTakes returns one taker's takes, newest first, enriched.
func (h *Handlers) ListTakerTakes(c *gin.Context) {
	ctx := c.Request.Context()
	taker := domain.NormalizeAddress(c.Param("address"))
	if taker == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "taker address required")
		return
	}
	page, pageSize := clampPagination(c)

	total, err := repo.CountTakerTakes(ctx, h.db, taker)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	takes, err := repo.ListTakerTakesPage(ctx, h.db, taker, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	enriched, err := h.enrich.EnrichTakes(ctx, takes)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListTakesResponse{
		Takes:      enriched,
		Pagination: paginationFor(page, pageSize, total),
	})
}
