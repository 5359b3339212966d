package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
	"github.com/auctionlabs/go-auction-ledger/internal/repo"
)

func TestIngest_Validation(t *testing.T) {
	svc := &IngestService{DB: newServiceDB(t)}
	ctx := context.Background()

	t.Run("missing tx hash", func(t *testing.T) {
		ev := evAuctionCreated(1, 100, 0, "", "0xa1")
		if _, err := svc.Ingest(ctx, ev); err != ErrMissingTxHash {
			t.Fatalf("err=%v want ErrMissingTxHash", err)
		}
	})

	t.Run("missing payload", func(t *testing.T) {
		ev := evAuctionCreated(1, 100, 0, "0xaaa", "0xa1")
		ev.AuctionCreated = nil
		if _, err := svc.Ingest(ctx, ev); err != ErrMissingPayload {
			t.Fatalf("err=%v want ErrMissingPayload", err)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		ev := evAuctionCreated(1, 100, 0, "0xaaa", "0xa1")
		ev.Type = "auction_settled"
		if _, err := svc.Ingest(ctx, ev); err != ErrUnknownEventType {
			t.Fatalf("err=%v want ErrUnknownEventType", err)
		}
	})
}

func TestIngest_AuctionCreated_Idempotent(t *testing.T) {
	db := newServiceDB(t)
	svc := &IngestService{DB: db}
	ctx := context.Background()

	ingestOK(t, svc, evAuctionCreated(1, 100, 0, "0xcreate", "0xA1"), ResultAccepted)
	// Redelivery of the same auction address on the same chain is a no-op.
	ingestOK(t, svc, evAuctionCreated(1, 100, 0, "0xcreate", "0xA1"), ResultDuplicate)

	// The address was normalized on write.
	if _, err := repo.GetAuction(ctx, db, "0xa1", 1); err != nil {
		t.Fatalf("get auction: %v", err)
	}

	// Exactly one outbox entry for the one accepted write.
	pending, err := repo.CountPendingOutbox(ctx, db)
	if err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if pending != 1 {
		t.Fatalf("outbox pending=%d want 1", pending)
	}

	// Same address on another chain is distinct.
	ingestOK(t, svc, evAuctionCreated(137, 100, 0, "0xcreate137", "0xa1"), ResultAccepted)
}

func TestIngest_RoundKicked_DuplicateAndConflict(t *testing.T) {
	db := newServiceDB(t)
	svc := &IngestService{DB: db}
	ctx := context.Background()

	ingestOK(t, svc, evAuctionCreated(1, 100, 0, "0xcreate", "0xa1"), ResultAccepted)
	ingestOK(t, svc, evRoundKicked(1, 110, 0, "0xkick", "0xa1", 1, "100"), ResultAccepted)

	// Same round id, same on-chain origin: duplicate.
	ingestOK(t, svc, evRoundKicked(1, 110, 0, "0xkick", "0xa1", 1, "100"), ResultDuplicate)

	// Same round id from a different tx: conflict. Stored round untouched.
	ingestOK(t, svc, evRoundKicked(1, 115, 0, "0xother", "0xa1", 1, "999"), ResultInconsistent)

	round, err := repo.GetRound(ctx, db, "0xa1", 1, 1)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if round.TxHash != "0xkick" {
		t.Fatalf("stored round overwritten by conflicting kick: tx=%s", round.TxHash)
	}
	if !round.InitialAvailable.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("initial_available mutated: %s", round.InitialAvailable)
	}

	n, err := repo.CountInconsistencies(ctx, db)
	if err != nil {
		t.Fatalf("count inconsistencies: %v", err)
	}
	if n != 1 {
		t.Fatalf("inconsistencies=%d want 1", n)
	}

	// Two accepted writes (auction + round); neither the dup nor the
	// conflict appended outbox entries.
	pending, err := repo.CountPendingOutbox(ctx, db)
	if err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if pending != 2 {
		t.Fatalf("outbox pending=%d want 2", pending)
	}
}

func TestIngest_TakeSeq_InOrderDelivery(t *testing.T) {
	db := newServiceDB(t)
	svc := &IngestService{DB: db}
	ctx := context.Background()
	seedRound(t, svc, "100")

	ingestOK(t, svc, evTakeExecuted(1, 120, 0, "0xt1", "0xa1", 1, "0xq", "10", "11"), ResultAccepted)
	ingestOK(t, svc, evTakeExecuted(1, 130, 0, "0xt2", "0xa1", 1, "0xq", "20", "22"), ResultAccepted)
	ingestOK(t, svc, evTakeExecuted(1, 140, 0, "0xt3", "0xa1", 1, "0xq", "30", "33"), ResultAccepted)

	takes, err := repo.ListRoundTakes(ctx, db, "0xa1", 1, 1)
	if err != nil {
		t.Fatalf("list takes: %v", err)
	}
	assertSeqOrder(t, takes, []string{"0xt1", "0xt2", "0xt3"})
}

func TestIngest_TakeSeq_OutOfOrderDeliveryShifts(t *testing.T) {
	db := newServiceDB(t)
	svc := &IngestService{DB: db}
	ctx := context.Background()
	seedRound(t, svc, "100")

	// Blocks 130 and 140 land first; the block-120 take arrives late and
	// must claim seq 1, shifting the other two.
	ingestOK(t, svc, evTakeExecuted(1, 130, 0, "0xt2", "0xa1", 1, "0xq", "20", "22"), ResultAccepted)
	ingestOK(t, svc, evTakeExecuted(1, 140, 0, "0xt3", "0xa1", 1, "0xq", "30", "33"), ResultAccepted)
	ingestOK(t, svc, evTakeExecuted(1, 120, 0, "0xt1", "0xa1", 1, "0xq", "10", "11"), ResultAccepted)

	takes, err := repo.ListRoundTakes(ctx, db, "0xa1", 1, 1)
	if err != nil {
		t.Fatalf("list takes: %v", err)
	}
	assertSeqOrder(t, takes, []string{"0xt1", "0xt2", "0xt3"})
}

func TestIngest_TakeSeq_SameBlockOrderedByLogIndex(t *testing.T) {
	db := newServiceDB(t)
	svc := &IngestService{DB: db}
	ctx := context.Background()
	seedRound(t, svc, "100")

	// Both takes in block 120; log index 5 delivered first, log index 2
	// second. Chronology is (block, log), so log 2 ends up first.
	ingestOK(t, svc, evTakeExecuted(1, 120, 5, "0xlate", "0xa1", 1, "0xq", "20", "22"), ResultAccepted)
	ingestOK(t, svc, evTakeExecuted(1, 120, 2, "0xearly", "0xa1", 1, "0xq", "10", "11"), ResultAccepted)

	takes, err := repo.ListRoundTakes(ctx, db, "0xa1", 1, 1)
	if err != nil {
		t.Fatalf("list takes: %v", err)
	}
	assertSeqOrder(t, takes, []string{"0xearly", "0xlate"})
}

func TestIngest_Take_NaturalKeyDedup(t *testing.T) {
	db := newServiceDB(t)
	svc := &IngestService{DB: db}
	ctx := context.Background()
	seedRound(t, svc, "100")

	take := evTakeExecuted(1, 120, 0, "0xtake", "0xa1", 1, "0xq", "10", "11")
	ingestOK(t, svc, take, ResultAccepted)
	ingestOK(t, svc, take, ResultDuplicate)

	// A redelivery with a different claimed round still dedups on the
	// global natural key (chain, tx, log).
	relocated := evTakeExecuted(1, 120, 0, "0xtake", "0xa1", 2, "0xq", "10", "11")
	ingestOK(t, svc, relocated, ResultDuplicate)

	round, err := repo.GetRound(ctx, db, "0xa1", 1, 1)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if !round.TotalVolumeSold.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("duplicate mutated aggregates: sold=%s", round.TotalVolumeSold)
	}
}

func TestIngest_Take_WithoutRoundIsInconsistent(t *testing.T) {
	db := newServiceDB(t)
	svc := &IngestService{DB: db}
	ctx := context.Background()

	ingestOK(t, svc, evAuctionCreated(1, 100, 0, "0xcreate", "0xa1"), ResultAccepted)
	ingestOK(t, svc, evTakeExecuted(1, 120, 0, "0xorphan", "0xa1", 9, "0xq", "10", "11"), ResultInconsistent)

	// The take was not recorded.
	if n, err := repo.CountTakes(ctx, db, 1); err != nil || n != 0 {
		t.Fatalf("takes=%d err=%v, want 0 takes", n, err)
	}
	// An inconsistency row was.
	if n, err := repo.CountInconsistencies(ctx, db); err != nil || n != 1 {
		t.Fatalf("inconsistencies=%d err=%v, want 1", n, err)
	}
	// No outbox entry beyond the auction's.
	if n, err := repo.CountPendingOutbox(ctx, db); err != nil || n != 1 {
		t.Fatalf("outbox=%d err=%v, want 1", n, err)
	}
}

func TestIngest_Aggregates_SameAcrossDeliveryOrders(t *testing.T) {
	ctx := context.Background()

	takes := []domain.Event{
		evTakeExecuted(1, 120, 0, "0xt1", "0xa1", 1, "0xq", "10", "11"),
		evTakeExecuted(1, 130, 0, "0xt2", "0xa1", 1, "0xq", "20", "22"),
		evTakeExecuted(1, 140, 0, "0xt3", "0xa1", 1, "0xq", "30", "33"),
	}
	orders := [][]int{
		{0, 1, 2},
		{2, 1, 0},
		{1, 2, 0},
	}

	var sold, available []decimal.Decimal
	for _, order := range orders {
		db := newServiceDB(t)
		svc := &IngestService{DB: db}
		seedRound(t, svc, "100")
		for _, i := range order {
			ingestOK(t, svc, takes[i], ResultAccepted)
		}
		round, err := repo.GetRound(ctx, db, "0xa1", 1, 1)
		if err != nil {
			t.Fatalf("get round: %v", err)
		}
		sold = append(sold, round.TotalVolumeSold)
		available = append(available, round.AvailableAmount)
	}

	for i := 1; i < len(sold); i++ {
		if !sold[i].Equal(sold[0]) {
			t.Fatalf("total_volume_sold diverged across orders: %s vs %s", sold[i], sold[0])
		}
		if !available[i].Equal(available[0]) {
			t.Fatalf("available_amount diverged across orders: %s vs %s", available[i], available[0])
		}
	}
	if !sold[0].Equal(decimal.RequireFromString("60")) {
		t.Fatalf("total_volume_sold=%s want 60", sold[0])
	}
	if !available[0].Equal(decimal.RequireFromString("40")) {
		t.Fatalf("available_amount=%s want 40", available[0])
	}
}

func TestIngest_Aggregates_AvailableClampsAtZero(t *testing.T) {
	db := newServiceDB(t)
	svc := &IngestService{DB: db}
	ctx := context.Background()
	seedRound(t, svc, "15")

	ingestOK(t, svc, evTakeExecuted(1, 120, 0, "0xt1", "0xa1", 1, "0xq", "10", "11"), ResultAccepted)
	ingestOK(t, svc, evTakeExecuted(1, 130, 0, "0xt2", "0xa1", 1, "0xq", "10", "11"), ResultAccepted)

	round, err := repo.GetRound(ctx, db, "0xa1", 1, 1)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if !round.TotalVolumeSold.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("sold=%s want 20", round.TotalVolumeSold)
	}
	if !round.AvailableAmount.IsZero() {
		t.Fatalf("available=%s want 0", round.AvailableAmount)
	}
}

func TestIngest_OutboxEntryShape(t *testing.T) {
	db := newServiceDB(t)
	svc := &IngestService{DB: db}
	ctx := context.Background()

	ev := evAuctionCreated(1, 100, 0, "0xCReate", "0xa1")
	ingestOK(t, svc, ev, ResultAccepted)

	// The key is derived from the normalized on-chain origin.
	wantKey := domain.IdempotencyKey(1, "0xcreate", 0, domain.EventAuctionCreated)
	entry, err := repo.GetOutboxByIdempotencyKey(ctx, db, wantKey)
	if err != nil {
		t.Fatalf("get outbox by key %q: %v", wantKey, err)
	}
	if entry.Type != string(domain.EventAuctionCreated) {
		t.Fatalf("entry type=%q", entry.Type)
	}
	if entry.PublishedAt != nil || entry.Flagged {
		t.Fatalf("fresh entry must be unpublished and unflagged: %+v", entry)
	}
	if entry.Payload == "" {
		t.Fatalf("entry payload empty")
	}
}

func assertSeqOrder(t *testing.T, takes []domain.Take, wantTx []string) {
	t.Helper()
	if len(takes) != len(wantTx) {
		t.Fatalf("got %d takes, want %d", len(takes), len(wantTx))
	}
	for i, take := range takes {
		if take.TakeSeq != int64(i+1) {
			t.Fatalf("takes[%d].TakeSeq=%d want %d", i, take.TakeSeq, i+1)
		}
		if take.TxHash != wantTx[i] {
			t.Fatalf("takes[%d].TxHash=%s want %s", i, take.TxHash, wantTx[i])
		}
	}
}
