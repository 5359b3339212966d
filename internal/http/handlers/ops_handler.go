// Operational handlers.
//
// This file exposes the endpoints serving the chain scanner's progress
// bookkeeping and the operator-facing system status:
//   - GET /progress/:chain_id/:source_id
//   - PUT /progress/:chain_id/:source_id
//   - GET /status
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
	"github.com/auctionlabs/go-auction-ledger/internal/repo"
)

// progressParams parses the chain_id and source_id path params.
func progressParams(c *gin.Context) (int64, string, bool) {
	chainID, err := strconv.ParseInt(c.Param("chain_id"), 10, 64)
	if err != nil || chainID < 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chain_id must be a non-negative integer")
		return 0, "", false
	}
	sourceID := c.Param("source_id")
	if sourceID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "source_id required")
		return 0, "", false
	}
	return chainID, sourceID, true
}

// GetProgress returns the persisted scan cursor for one (chain, source).
func (h *Handlers) GetProgress(c *gin.Context) {
	chainID, sourceID, okp := progressParams(c)
	if !okp {
		return
	}

	s, err := repo.GetIndexerState(c.Request.Context(), h.db, chainID, sourceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "no progress recorded for this source")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, s)
}

// PutProgressRequest is the JSON payload for advancing a scan cursor.
type PutProgressRequest struct {
	StartBlock       uint64 `json:"start_block"`
	LastIndexedBlock uint64 `json:"last_indexed_block"`
}

// PutProgress upserts the scan cursor for one (chain, source). The ledger
// stores the cursor verbatim on behalf of the scanner; it does not second-
// guess block ranges.
func (h *Handlers) PutProgress(c *gin.Context) {
	chainID, sourceID, okp := progressParams(c)
	if !okp {
		return
	}
	var req PutProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.LastIndexedBlock < req.StartBlock {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "last_indexed_block must be >= start_block")
		return
	}

	state := domain.IndexerState{
		ChainID:          chainID,
		SourceID:         sourceID,
		StartBlock:       req.StartBlock,
		LastIndexedBlock: req.LastIndexedBlock,
	}
	if err := repo.UpsertIndexerState(c.Request.Context(), h.db, &state); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeRecordFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, state)
}

// StatusResponse is the operator-facing system snapshot: ledger totals,
// outbox depth, scanner freshness, and per-source price adapter freshness.
type StatusResponse struct {
	Stats             repo.SystemStats       `json:"stats"`
	OutboxPending     int64                  `json:"outbox_pending"`
	OutboxFlagged     int64                  `json:"outbox_flagged"`
	Inconsistencies   int64                  `json:"inconsistencies"`
	LastIndexerUpdate *time.Time             `json:"last_indexer_update"`
	PriceSources      []repo.SourceFreshness `json:"price_sources"`
	IndexerStates     []domain.IndexerState  `json:"indexer_states"`
}

// Status returns the system snapshot. Optional chain_id narrows ledger
// totals to one chain; operational depths stay global.
func (h *Handlers) Status(c *gin.Context) {
	ctx := c.Request.Context()
	chainID, okc := chainIDQuery(c)
	if !okc {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chain_id must be a non-negative integer")
		return
	}

	stats, err := repo.GetSystemStats(ctx, h.db, chainID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	pending, err := repo.CountPendingOutbox(ctx, h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	flagged, err := repo.CountFlaggedOutbox(ctx, h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	inconsistencies, err := repo.CountInconsistencies(ctx, h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	lastUpdate, err := repo.LatestIndexerUpdate(ctx, h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	sources, err := repo.ListSourceFreshness(ctx, h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	states, err := repo.ListIndexerStates(ctx, h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	ok(c, http.StatusOK, StatusResponse{
		Stats:             *stats,
		OutboxPending:     pending,
		OutboxFlagged:     flagged,
		Inconsistencies:   inconsistencies,
		LastIndexerUpdate: lastUpdate,
		PriceSources:      sources,
		IndexerStates:     states,
	})
}
