package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
	"github.com/auctionlabs/go-auction-ledger/internal/repo"
)

func newEnrichFixture(t *testing.T) (*EnrichService, *IngestService, *PriceService) {
	t.Helper()
	db := newServiceDB(t)
	ingest := &IngestService{DB: db}
	prices := &PriceService{DB: db}
	return &EnrichService{DB: db, Prices: prices}, ingest, prices
}

func TestEnrichTakes_USDFiguresAndDifferential(t *testing.T) {
	enrich, ingest, prices := newEnrichFixture(t)
	ctx := context.Background()

	seedRound(t, ingest, "100")
	ingestOK(t, ingest, evTakeExecuted(1, 120, 0, "0xtake", "0xa1", 1, "0xq", "10", "12"), ResultAccepted)

	// from token worth 2 USD, want token worth 1 USD at the take's block.
	recordPrice(t, prices, 1, "0xfrom", 100, "chainlink", "2", baseTime)
	recordPrice(t, prices, 1, "0xwant", 100, "chainlink", "1", baseTime)

	takes, err := repo.ListRoundTakes(ctx, enrich.DB, "0xa1", 1, 1)
	if err != nil {
		t.Fatalf("list takes: %v", err)
	}
	enriched, err := enrich.EnrichTakes(ctx, takes)
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if len(enriched) != 1 {
		t.Fatalf("enriched=%d want 1", len(enriched))
	}
	et := enriched[0]

	// taken: 10 * 2 = 20 USD; paid: 12 * 1 = 12 USD; differential = -8 USD.
	if et.AmountTakenUSD == nil || !et.AmountTakenUSD.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("amount_taken_usd=%v want 20", et.AmountTakenUSD)
	}
	if et.AmountPaidUSD == nil || !et.AmountPaidUSD.Equal(decimal.RequireFromString("12")) {
		t.Fatalf("amount_paid_usd=%v want 12", et.AmountPaidUSD)
	}
	if et.PriceDifferentialUSD == nil || !et.PriceDifferentialUSD.Equal(decimal.RequireFromString("-8")) {
		t.Fatalf("price_differential_usd=%v want -8", et.PriceDifferentialUSD)
	}
	if et.PriceDifferentialPercent == nil || !et.PriceDifferentialPercent.Equal(decimal.RequireFromString("-40")) {
		t.Fatalf("price_differential_percent=%v want -40", et.PriceDifferentialPercent)
	}

	// Round context: the take happened 10 blocks = 10s after the kick.
	if et.RoundKickedAt == nil {
		t.Fatalf("round_kicked_at missing")
	}
	if et.SecondsFromRoundStart == nil || *et.SecondsFromRoundStart != 10 {
		t.Fatalf("seconds_from_round_start=%v want 10", et.SecondsFromRoundStart)
	}
}

func TestEnrichTakes_UnavailablePriceStaysNil(t *testing.T) {
	enrich, ingest, prices := newEnrichFixture(t)
	ctx := context.Background()

	seedRound(t, ingest, "100")
	ingestOK(t, ingest, evTakeExecuted(1, 120, 0, "0xtake", "0xa1", 1, "0xq", "10", "12"), ResultAccepted)

	// Only the from token has a price; the want side must stay nil, and so
	// must every figure that depends on it. Nothing is zero-filled.
	recordPrice(t, prices, 1, "0xfrom", 100, "chainlink", "2", baseTime)

	takes, err := repo.ListRoundTakes(ctx, enrich.DB, "0xa1", 1, 1)
	if err != nil {
		t.Fatalf("list takes: %v", err)
	}
	enriched, err := enrich.EnrichTakes(ctx, takes)
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	et := enriched[0]

	if et.AmountTakenUSD == nil {
		t.Fatalf("amount_taken_usd should resolve")
	}
	if et.WantTokenPriceUSD != nil || et.AmountPaidUSD != nil {
		t.Fatalf("want-side USD must stay nil: price=%v paid=%v", et.WantTokenPriceUSD, et.AmountPaidUSD)
	}
	if et.PriceDifferentialUSD != nil || et.PriceDifferentialPercent != nil {
		t.Fatalf("differential requires both sides: usd=%v pct=%v", et.PriceDifferentialUSD, et.PriceDifferentialPercent)
	}
}

func TestEnrichTakes_TokenMetadata(t *testing.T) {
	enrich, ingest, _ := newEnrichFixture(t)
	ctx := context.Background()

	seedRound(t, ingest, "100")
	ingestOK(t, ingest, evTakeExecuted(1, 120, 0, "0xtake", "0xa1", 1, "0xq", "10", "12"), ResultAccepted)

	if err := repo.UpsertToken(ctx, enrich.DB, &domain.Token{
		Address: "0xfrom", ChainID: 1, Symbol: "FROM", Name: "From Token", Decimals: 6,
	}); err != nil {
		t.Fatalf("upsert token: %v", err)
	}

	takes, err := repo.ListRoundTakes(ctx, enrich.DB, "0xa1", 1, 1)
	if err != nil {
		t.Fatalf("list takes: %v", err)
	}
	enriched, err := enrich.EnrichTakes(ctx, takes)
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	et := enriched[0]

	if et.FromTokenSymbol != "FROM" || et.FromTokenDecimals != 6 {
		t.Fatalf("from token metadata: %q/%d", et.FromTokenSymbol, et.FromTokenDecimals)
	}
	// Unknown want token leaves the fields zero-valued.
	if et.ToTokenSymbol != "" {
		t.Fatalf("unexpected to token symbol %q", et.ToTokenSymbol)
	}
}

func TestComputeTakerRollups_DenseRanksAndWindows(t *testing.T) {
	enrich, ingest, prices := newEnrichFixture(t)
	ctx := context.Background()

	seedRound(t, ingest, "1000")
	recordPrice(t, prices, 1, "0xfrom", 1, "chainlink", "1", baseTime)
	recordPrice(t, prices, 1, "0xwant", 1, "chainlink", "1", baseTime)

	// taker a: two takes, 30 USD volume, profit +3.
	ingestOK(t, ingest, evTakeExecuted(1, 120, 0, "0xa1t", "0xa1", 1, "0xaaa", "10", "11"), ResultAccepted)
	ingestOK(t, ingest, evTakeExecuted(1, 130, 0, "0xa2t", "0xa1", 1, "0xaaa", "20", "22"), ResultAccepted)
	// taker b: one take, 30 USD volume, loss -5.
	ingestOK(t, ingest, evTakeExecuted(1, 140, 0, "0xb1t", "0xa1", 1, "0xbbb", "30", "25"), ResultAccepted)

	// Evaluate shortly after the takes so they land in both windows.
	now := baseTime.Add(time.Hour)
	rollups, err := enrich.ComputeTakerRollups(ctx, now)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(rollups) != 2 {
		t.Fatalf("rollups=%d want 2", len(rollups))
	}

	// Output is sorted by taker address.
	a, b := rollups[0], rollups[1]
	if a.Taker != "0xaaa" || b.Taker != "0xbbb" {
		t.Fatalf("order: %s, %s", a.Taker, b.Taker)
	}

	if a.TotalTakes != 2 || b.TotalTakes != 1 {
		t.Fatalf("takes: a=%d b=%d", a.TotalTakes, b.TotalTakes)
	}
	if a.RankByTakes != 1 || b.RankByTakes != 2 {
		t.Fatalf("rank_by_takes: a=%d b=%d", a.RankByTakes, b.RankByTakes)
	}

	// Equal 30 USD volume: dense rank shared, tie broken only in ordering.
	if !a.TotalVolumeUSD.Equal(b.TotalVolumeUSD) {
		t.Fatalf("volumes differ: %s vs %s", a.TotalVolumeUSD, b.TotalVolumeUSD)
	}
	if a.RankByVolume != 1 || b.RankByVolume != 1 {
		t.Fatalf("equal volume must share rank: a=%d b=%d", a.RankByVolume, b.RankByVolume)
	}

	// Profit: a (+3) ranks above b (-5).
	if a.RankByProfit != 1 || b.RankByProfit != 2 {
		t.Fatalf("rank_by_profit: a=%d b=%d", a.RankByProfit, b.RankByProfit)
	}
	if a.ProfitableTakes != 2 || b.UnprofitableTakes != 1 {
		t.Fatalf("profitability counts: a=%+v b=%+v", a, b)
	}
	if a.SuccessRate == nil || !a.SuccessRate.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("a success rate=%v want 100", a.SuccessRate)
	}
	if b.SuccessRate == nil || !b.SuccessRate.IsZero() {
		t.Fatalf("b success rate=%v want 0", b.SuccessRate)
	}

	// Windows: everything is recent at the chosen evaluation time.
	if a.TakesLast7D != 2 || a.TakesLast30D != 2 {
		t.Fatalf("windows: %d/%d", a.TakesLast7D, a.TakesLast30D)
	}

	// The same ledger evaluated far in the future has empty windows but
	// identical lifetime figures.
	later, err := enrich.ComputeTakerRollups(ctx, now.Add(90*24*time.Hour))
	if err != nil {
		t.Fatalf("compute later: %v", err)
	}
	if later[0].TakesLast7D != 0 || later[0].TakesLast30D != 0 {
		t.Fatalf("stale windows: %d/%d", later[0].TakesLast7D, later[0].TakesLast30D)
	}
	if later[0].TotalTakes != a.TotalTakes || !later[0].TotalVolumeUSD.Equal(a.TotalVolumeUSD) {
		t.Fatalf("lifetime figures changed with evaluation time")
	}
}

func TestComputeTakerRollup_SingleTaker(t *testing.T) {
	enrich, ingest, _ := newEnrichFixture(t)
	ctx := context.Background()

	seedRound(t, ingest, "100")
	ingestOK(t, ingest, evTakeExecuted(1, 120, 0, "0xtake", "0xa1", 1, "0xQQ", "10", "11"), ResultAccepted)

	r, err := enrich.ComputeTakerRollup(ctx, "0xQQ", baseTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if r.Taker != "0xqq" || r.TotalTakes != 1 {
		t.Fatalf("rollup=%+v", r)
	}
	if len(r.ActiveChains) != 1 || r.ActiveChains[0] != 1 {
		t.Fatalf("active chains=%v", r.ActiveChains)
	}

	if _, err := enrich.ComputeTakerRollup(ctx, "0xnobody", baseTime); err != ErrTakerNotFound {
		t.Fatalf("err=%v want ErrTakerNotFound", err)
	}
}

func TestPriceHistory_WindowAndInventoryReplay(t *testing.T) {
	enrich, ingest, _ := newEnrichFixture(t)
	ctx := context.Background()

	seedRound(t, ingest, "100")
	// Three takes at blocks 120/130/140 (one second of chain time per block).
	early := evTakeExecuted(1, 120, 0, "0xt1", "0xa1", 1, "0xq", "10", "10")
	early.TakeExecuted.Price = decimal.RequireFromString("1.5")
	mid := evTakeExecuted(1, 130, 0, "0xt2", "0xa1", 1, "0xq", "20", "20")
	mid.TakeExecuted.Price = decimal.RequireFromString("1.2")
	late := evTakeExecuted(1, 140, 0, "0xt3", "0xa1", 1, "0xq", "30", "30")
	late.TakeExecuted.Price = decimal.RequireFromString("1.1")
	ingestOK(t, ingest, early, ResultAccepted)
	ingestOK(t, ingest, mid, ResultAccepted)
	ingestOK(t, ingest, late, ResultAccepted)

	// Window starts between the first and second take: two points, but the
	// inventory replay still charges the out-of-window first take.
	since := baseTime.Add(125 * time.Second)
	points, err := enrich.PriceHistory(ctx, "0xa1", 1, 0, since)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("points=%d want 2", len(points))
	}
	if !points[0].Price.Equal(decimal.RequireFromString("1.2")) ||
		!points[1].Price.Equal(decimal.RequireFromString("1.1")) {
		t.Fatalf("prices: %s, %s", points[0].Price, points[1].Price)
	}
	if !points[0].AvailableAmount.Equal(decimal.RequireFromString("70")) {
		t.Fatalf("available after second take=%s want 70", points[0].AvailableAmount)
	}
	if !points[1].AvailableAmount.Equal(decimal.RequireFromString("40")) {
		t.Fatalf("available after third take=%s want 40", points[1].AvailableAmount)
	}
	// Round kicked at block 110, second take at block 130: 20 chain seconds.
	if points[0].SecondsFromRoundStart == nil || *points[0].SecondsFromRoundStart != 20 {
		t.Fatalf("seconds from round start: %v", points[0].SecondsFromRoundStart)
	}
	if points[0].RoundID != 1 || points[0].FromToken != "0xfrom" {
		t.Fatalf("point round context: %+v", points[0])
	}

	// A window before every take yields the full curve in order.
	points, err = enrich.PriceHistory(ctx, "0xa1", 1, 0, baseTime)
	if err != nil {
		t.Fatalf("full history: %v", err)
	}
	if len(points) != 3 || !points[0].Price.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("full curve: %+v", points)
	}

	// Round filter: a round with no takes yields an empty curve.
	points, err = enrich.PriceHistory(ctx, "0xa1", 1, 9, baseTime)
	if err != nil {
		t.Fatalf("round filter: %v", err)
	}
	if len(points) != 0 {
		t.Fatalf("round 9 points=%d want 0", len(points))
	}
}

func TestPriceHistory_ClampsReplayedInventoryAtZero(t *testing.T) {
	enrich, ingest, _ := newEnrichFixture(t)
	ctx := context.Background()

	seedRound(t, ingest, "15")
	ingestOK(t, ingest, evTakeExecuted(1, 120, 0, "0xt1", "0xa1", 1, "0xq", "10", "10"), ResultAccepted)
	ingestOK(t, ingest, evTakeExecuted(1, 130, 0, "0xt2", "0xa1", 1, "0xq", "10", "10"), ResultAccepted)

	points, err := enrich.PriceHistory(ctx, "0xa1", 1, 1, baseTime)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("points=%d want 2", len(points))
	}
	if !points[0].AvailableAmount.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("available after first take=%s want 5", points[0].AvailableAmount)
	}
	if !points[1].AvailableAmount.IsZero() {
		t.Fatalf("oversold inventory not clamped: %s", points[1].AvailableAmount)
	}
}
