package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
	"github.com/auctionlabs/go-auction-ledger/internal/repo"
	"github.com/auctionlabs/go-auction-ledger/internal/services"
)

// ---------- test DB + handler wiring ----------

func newLedgerDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique DSN per call to avoid cross-test contamination
	dsn := fmt.Sprintf("file:ledger_handlers_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// newTestHandlers wires Handlers over real services, the same shape router.go
// uses in production.
func newTestHandlers(t *testing.T) (*Handlers, *gorm.DB) {
	t.Helper()
	db := newLedgerDB(t)
	ingest := &services.IngestService{DB: db}
	prices := &services.PriceService{DB: db}
	enrich := &services.EnrichService{DB: db, Prices: prices}
	rollups := &services.RollupService{DB: db, Enrich: enrich}
	return New(db, ingest, prices, enrich, rollups), db
}

func newTestRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/events", h.PostEvent)
	r.POST("/prices", h.PostPrice)
	r.GET("/prices/resolve", h.ResolvePrice)
	r.POST("/tokens", h.PostToken)
	r.GET("/auctions", h.ListAuctions)
	r.GET("/auctions/:address", h.GetAuction)
	r.GET("/auctions/:address/rounds", h.ListRounds)
	r.GET("/auctions/:address/rounds/:round_id/takes", h.ListRoundTakes)
	r.GET("/auctions/:address/price-history", h.GetPriceHistory)
	r.GET("/takes", h.ListTakes)
	r.GET("/takers", h.ListTakers)
	r.GET("/takers/:address", h.GetTaker)
	r.GET("/takers/:address/takes", h.ListTakerTakes)
	r.GET("/progress/:chain_id/:source_id", h.GetProgress)
	r.PUT("/progress/:chain_id/:source_id", h.PutProgress)
	r.GET("/status", h.Status)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, newBody(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func newBody(s string) io.Reader { return bytes.NewBufferString(s) }

func testCtx() context.Context { return context.Background() }

// ---------- event builders ----------

var testT0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func auctionCreatedEvent(chainID int64, block uint64, logIdx uint, tx, address string) domain.Event {
	return domain.Event{
		Type:        domain.EventAuctionCreated,
		ChainID:     chainID,
		BlockNumber: block,
		LogIndex:    logIdx,
		TxHash:      tx,
		Timestamp:   testT0,
		AuctionCreated: &domain.AuctionCreatedPayload{
			Address:        address,
			Deployer:       "0xdeploy",
			WantToken:      "0xwant",
			DecayRate:      decimal.RequireFromString("0.005"),
			UpdateInterval: 60,
			AuctionLength:  86400,
		},
	}
}

func roundKickedEvent(chainID int64, block uint64, logIdx uint, tx, auction string, roundID int64, initial string) domain.Event {
	return domain.Event{
		Type:        domain.EventRoundKicked,
		ChainID:     chainID,
		BlockNumber: block,
		LogIndex:    logIdx,
		TxHash:      tx,
		Timestamp:   testT0.Add(time.Duration(block) * time.Second),
		RoundKicked: &domain.RoundKickedPayload{
			AuctionAddress:   auction,
			RoundID:          roundID,
			FromToken:        "0xfrom",
			InitialAvailable: decimal.RequireFromString(initial),
		},
	}
}

func takeExecutedEvent(chainID int64, block uint64, logIdx uint, tx, auction string, roundID int64, taker, taken, paid string) domain.Event {
	return domain.Event{
		Type:        domain.EventTakeExecuted,
		ChainID:     chainID,
		BlockNumber: block,
		LogIndex:    logIdx,
		TxHash:      tx,
		Timestamp:   testT0.Add(time.Duration(block) * time.Second),
		TakeExecuted: &domain.TakeExecutedPayload{
			AuctionAddress: auction,
			RoundID:        roundID,
			Taker:          taker,
			FromToken:      "0xfrom",
			ToToken:        "0xwant",
			AmountTaken:    decimal.RequireFromString(taken),
			AmountPaid:     decimal.RequireFromString(paid),
			Price:          decimal.RequireFromString("1"),
		},
	}
}

// mustIngest pushes an event through the real service and fails the test on
// anything but the expected result.
func mustIngest(t *testing.T, svc Ingestor, ev domain.Event, want services.IngestResult) {
	t.Helper()
	got, err := svc.Ingest(testCtx(), ev)
	if err != nil {
		t.Fatalf("ingest %s: %v", ev.Type, err)
	}
	if got != want {
		t.Fatalf("ingest %s: result=%s want=%s", ev.Type, got, want)
	}
}
