package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
)

func TestUpsertIndexerState_CreateThenAdvance(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := UpsertIndexerState(ctx, db, &domain.IndexerState{
		ChainID:          1,
		SourceID:         "scanner-a",
		StartBlock:       100,
		LastIndexedBlock: 250,
		UpdatedAt:        t0,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := GetIndexerState(ctx, db, 1, "scanner-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.StartBlock != 100 || got.LastIndexedBlock != 250 {
		t.Fatalf("checkpoint: %+v", got)
	}

	// A later checkpoint for the same pair replaces in place.
	if err := UpsertIndexerState(ctx, db, &domain.IndexerState{
		ChainID:          1,
		SourceID:         "scanner-a",
		StartBlock:       100,
		LastIndexedBlock: 400,
		UpdatedAt:        t0.Add(time.Minute),
	}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	got, err = GetIndexerState(ctx, db, 1, "scanner-a")
	if err != nil {
		t.Fatalf("reget: %v", err)
	}
	if got.LastIndexedBlock != 400 {
		t.Fatalf("last_indexed_block=%d want 400", got.LastIndexedBlock)
	}

	var count int64
	if err := db.Model(&domain.IndexerState{}).Count(&count).Error; err != nil || count != 1 {
		t.Fatalf("rows=%d err=%v", count, err)
	}

	if _, err := GetIndexerState(ctx, db, 1, "scanner-z"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestListIndexerStates_OrderAndLatestUpdate(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	// Empty table: no checkpoints, no freshness.
	latest, err := LatestIndexerUpdate(ctx, db)
	if err != nil {
		t.Fatalf("empty latest: %v", err)
	}
	if latest != nil {
		t.Fatalf("empty latest=%v want nil", latest)
	}

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seed := []domain.IndexerState{
		{ChainID: 137, SourceID: "scanner-a", StartBlock: 1, LastIndexedBlock: 10, UpdatedAt: t0.Add(2 * time.Hour)},
		{ChainID: 1, SourceID: "scanner-b", StartBlock: 1, LastIndexedBlock: 20, UpdatedAt: t0},
		{ChainID: 1, SourceID: "scanner-a", StartBlock: 1, LastIndexedBlock: 30, UpdatedAt: t0.Add(time.Hour)},
	}
	for i := range seed {
		if err := UpsertIndexerState(ctx, db, &seed[i]); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	states, err := ListIndexerStates(ctx, db)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(states) != 3 {
		t.Fatalf("states=%d want 3", len(states))
	}
	wantOrder := []struct {
		chain  int64
		source string
	}{
		{1, "scanner-a"},
		{1, "scanner-b"},
		{137, "scanner-a"},
	}
	for i, w := range wantOrder {
		if states[i].ChainID != w.chain || states[i].SourceID != w.source {
			t.Fatalf("states[%d] = (%d, %s), want (%d, %s)",
				i, states[i].ChainID, states[i].SourceID, w.chain, w.source)
		}
	}

	latest, err = LatestIndexerUpdate(ctx, db)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || !latest.Equal(t0.Add(2*time.Hour)) {
		t.Fatalf("latest=%v want %v", latest, t0.Add(2*time.Hour))
	}
}
