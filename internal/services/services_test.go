package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
	"github.com/auctionlabs/go-auction-ledger/internal/repo"
)

// ---------- test DB helper ----------

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique DSN per call to avoid cross-test contamination
	dsn := fmt.Sprintf("file:services_%s?mode=memory&cache=shared", uuid.NewString())

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

// ---------- event builders ----------

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func evAuctionCreated(chainID int64, block uint64, logIdx uint, tx, address string) domain.Event {
	return domain.Event{
		Type:        domain.EventAuctionCreated,
		ChainID:     chainID,
		BlockNumber: block,
		LogIndex:    logIdx,
		TxHash:      tx,
		Timestamp:   baseTime,
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

func evRoundKicked(chainID int64, block uint64, logIdx uint, tx, auction string, roundID int64, initial string) domain.Event {
	return domain.Event{
		Type:        domain.EventRoundKicked,
		ChainID:     chainID,
		BlockNumber: block,
		LogIndex:    logIdx,
		TxHash:      tx,
		Timestamp:   baseTime.Add(time.Duration(block) * time.Second),
		RoundKicked: &domain.RoundKickedPayload{
			AuctionAddress:   auction,
			RoundID:          roundID,
			FromToken:        "0xfrom",
			InitialAvailable: decimal.RequireFromString(initial),
		},
	}
}

func evTakeExecuted(chainID int64, block uint64, logIdx uint, tx, auction string, roundID int64, taker, taken, paid string) domain.Event {
	return domain.Event{
		Type:        domain.EventTakeExecuted,
		ChainID:     chainID,
		BlockNumber: block,
		LogIndex:    logIdx,
		TxHash:      tx,
		Timestamp:   baseTime.Add(time.Duration(block) * time.Second),
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

func ingestOK(t *testing.T, svc *IngestService, ev domain.Event, want IngestResult) {
	t.Helper()
	got, err := svc.Ingest(context.Background(), ev)
	if err != nil {
		t.Fatalf("ingest %s tx=%s: %v", ev.Type, ev.TxHash, err)
	}
	if got != want {
		t.Fatalf("ingest %s tx=%s: result=%s want=%s", ev.Type, ev.TxHash, got, want)
	}
}

// seedRound provisions an auction with one kicked round holding the given
// inventory.
func seedRound(t *testing.T, svc *IngestService, initial string) {
	t.Helper()
	ingestOK(t, svc, evAuctionCreated(1, 100, 0, "0xcreate", "0xa1"), ResultAccepted)
	ingestOK(t, svc, evRoundKicked(1, 110, 0, "0xkick", "0xa1", 1, initial), ResultAccepted)
}

func recordPrice(t *testing.T, svc *PriceService, chainID int64, token string, block uint64, source, price string, observedAt time.Time) {
	t.Helper()
	if _, err := svc.Record(context.Background(), domain.PriceObservation{
		ChainID:      chainID,
		TokenAddress: token,
		BlockNumber:  block,
		Source:       source,
		PriceUSD:     decimal.RequireFromString(price),
		ObservedAt:   observedAt,
	}); err != nil {
		t.Fatalf("record price %s@%d: %v", token, block, err)
	}
}
