// Package services – EnrichService
//
// This file implements the read-side enrichment layer: combining ledger
// rows with resolved historical prices to produce per-take USD figures and
// per-taker rollups. Enrichment is a pure function of the ledger and the
// price table: it holds no state of its own and is safe to recompute at
// any time, which is exactly what makes the cached-rollup strategy in
// rollup_service.go interchangeable with on-demand computation.
package services

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
	"github.com/auctionlabs/go-auction-ledger/internal/repo"
)

// hundred is the percent scale factor for price differentials.
var hundred = decimal.NewFromInt(100)

// EnrichedTake is a take joined with round context, token metadata, and
// USD valuations. All USD fields are nil when the underlying price is
// unavailable; PriceDifferentialPercent is additionally nil when the taken
// side values to zero (the ratio is undefined).
type EnrichedTake struct {
	domain.Take

	RoundKickedAt         *time.Time `json:"round_kicked_at,omitempty"`
	SecondsFromRoundStart *int64     `json:"seconds_from_round_start,omitempty"`

	FromTokenSymbol   string `json:"from_token_symbol,omitempty"`
	FromTokenDecimals int    `json:"from_token_decimals,omitempty"`
	ToTokenSymbol     string `json:"to_token_symbol,omitempty"`
	ToTokenDecimals   int    `json:"to_token_decimals,omitempty"`

	FromTokenPriceUSD        *decimal.Decimal `json:"from_token_price_usd,omitempty"`
	WantTokenPriceUSD        *decimal.Decimal `json:"want_token_price_usd,omitempty"`
	AmountTakenUSD           *decimal.Decimal `json:"amount_taken_usd,omitempty"`
	AmountPaidUSD            *decimal.Decimal `json:"amount_paid_usd,omitempty"`
	PriceDifferentialUSD     *decimal.Decimal `json:"price_differential_usd,omitempty"`
	PriceDifferentialPercent *decimal.Decimal `json:"price_differential_percent,omitempty"`
}

// TakerRollup is the aggregate view of one taker's activity: lifetime
// totals, recency windows relative to the evaluation time, and dense rank
// positions along three independent dimensions.
type TakerRollup struct {
	Taker             string           `json:"taker"`
	TotalTakes        int64            `json:"total_takes"`
	UniqueAuctions    int64            `json:"unique_auctions"`
	UniqueChains      int64            `json:"unique_chains"`
	ActiveChains      []int64          `json:"active_chains"`
	TotalVolumeUSD    decimal.Decimal  `json:"total_volume_usd"`
	AvgTakeSizeUSD    *decimal.Decimal `json:"avg_take_size_usd"`
	TotalProfitUSD    decimal.Decimal  `json:"total_profit_usd"`
	ProfitableTakes   int64            `json:"profitable_takes"`
	UnprofitableTakes int64            `json:"unprofitable_takes"`
	SuccessRate       *decimal.Decimal `json:"success_rate_percent"`
	TakesLast7D       int64            `json:"takes_last_7d"`
	TakesLast30D      int64            `json:"takes_last_30d"`
	VolumeLast7D      decimal.Decimal  `json:"volume_last_7d"`
	VolumeLast30D     decimal.Decimal  `json:"volume_last_30d"`
	FirstTake         *time.Time       `json:"first_take"`
	LastTake          *time.Time       `json:"last_take"`
	RankByTakes       int              `json:"rank_by_takes"`
	RankByVolume      int              `json:"rank_by_volume"`
	RankByProfit      int              `json:"rank_by_profit"`
}

// EnrichService computes USD enrichment over the ledger. It reads takes,
// rounds, and token metadata through the repo layer and prices through the
// resolver; it never writes.
type EnrichService struct {
	DB     *gorm.DB
	Prices *PriceService
}

// EnrichTakes enriches a batch of takes. Round context, token metadata,
// and resolved prices are memoized per batch so listings do not repeat
// identical lookups.
func (s *EnrichService) EnrichTakes(ctx context.Context, takes []domain.Take) ([]EnrichedTake, error) {
	rounds := map[string]*domain.Round{}
	tokens := map[string]*domain.Token{}
	prices := map[string]*decimal.Decimal{}

	out := make([]EnrichedTake, 0, len(takes))
	for _, t := range takes {
		et := EnrichedTake{Take: t}

		roundKey := t.AuctionAddress + "|" + strconv.FormatInt(t.ChainID, 10) + "|" + strconv.FormatInt(t.RoundID, 10)
		round, seen := rounds[roundKey]
		if !seen {
			r, err := repo.GetRound(ctx, s.DB, t.AuctionAddress, t.ChainID, t.RoundID)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return nil, err
			}
			round = r
			rounds[roundKey] = round
		}
		if round != nil {
			kicked := round.KickedAt
			et.RoundKickedAt = &kicked
			secs := int64(t.Timestamp.Sub(kicked).Seconds())
			et.SecondsFromRoundStart = &secs
		}

		if tok, err := s.lookupToken(ctx, tokens, t.FromToken, t.ChainID); err != nil {
			return nil, err
		} else if tok != nil {
			et.FromTokenSymbol = tok.Symbol
			et.FromTokenDecimals = tok.Decimals
		}
		if tok, err := s.lookupToken(ctx, tokens, t.ToToken, t.ChainID); err != nil {
			return nil, err
		} else if tok != nil {
			et.ToTokenSymbol = tok.Symbol
			et.ToTokenDecimals = tok.Decimals
		}

		fromPrice, err := s.lookupPrice(ctx, prices, t.ChainID, t.FromToken, t.BlockNumber)
		if err != nil {
			return nil, err
		}
		wantPrice, err := s.lookupPrice(ctx, prices, t.ChainID, t.ToToken, t.BlockNumber)
		if err != nil {
			return nil, err
		}
		et.FromTokenPriceUSD = fromPrice
		et.WantTokenPriceUSD = wantPrice

		if fromPrice != nil {
			taken := t.AmountTaken.Mul(*fromPrice)
			et.AmountTakenUSD = &taken
		}
		if wantPrice != nil {
			paid := t.AmountPaid.Mul(*wantPrice)
			et.AmountPaidUSD = &paid
		}
		if et.AmountTakenUSD != nil && et.AmountPaidUSD != nil {
			diff := et.AmountPaidUSD.Sub(*et.AmountTakenUSD)
			et.PriceDifferentialUSD = &diff
			if !et.AmountTakenUSD.IsZero() {
				pct := diff.Div(*et.AmountTakenUSD).Mul(hundred)
				et.PriceDifferentialPercent = &pct
			}
		}

		out = append(out, et)
	}
	return out, nil
}

func (s *EnrichService) lookupToken(ctx context.Context, memo map[string]*domain.Token, address string, chainID int64) (*domain.Token, error) {
	key := address + "|" + strconv.FormatInt(chainID, 10)
	if tok, seen := memo[key]; seen {
		return tok, nil
	}
	tok, err := repo.GetToken(ctx, s.DB, address, chainID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		tok = nil
	}
	memo[key] = tok
	return tok, nil
}

func (s *EnrichService) lookupPrice(ctx context.Context, memo map[string]*decimal.Decimal, chainID int64, token string, block uint64) (*decimal.Decimal, error) {
	key := strconv.FormatInt(chainID, 10) + "|" + token + "|" + strconv.FormatUint(block, 10)
	if p, seen := memo[key]; seen {
		return p, nil
	}
	price, ok, err := s.Prices.Resolve(ctx, chainID, token, block)
	if err != nil {
		return nil, err
	}
	var p *decimal.Decimal
	if ok {
		p = &price
	}
	memo[key] = p
	return p, nil
}

// PricePoint is one sample of an auction's price curve: the price a take
// cleared at, the round inventory remaining after it, and its position
// within the round.
type PricePoint struct {
	Timestamp             time.Time       `json:"timestamp"`
	Price                 decimal.Decimal `json:"price"`
	AvailableAmount       decimal.Decimal `json:"available_amount"`
	SecondsFromRoundStart *int64          `json:"seconds_from_round_start"`
	RoundID               int64           `json:"round_id"`
	FromToken             string          `json:"from_token"`
}

// PriceHistory reconstructs an auction's observed price curve from its take
// stream: every take clears at the round's decayed price for its block, so
// the takes inside the window are the curve's samples. AvailableAmount is
// replayed over each round's full take sequence, so takes before the window
// still count against the inventory shown for takes inside it. A roundID of
// zero covers all rounds.
func (s *EnrichService) PriceHistory(ctx context.Context, auction string, chainID, roundID int64, since time.Time) ([]PricePoint, error) {
	takes, err := repo.ListAuctionTakesSince(ctx, s.DB, auction, chainID, roundID, since)
	if err != nil {
		return nil, err
	}

	rounds := map[int64]*domain.Round{}
	remaining := map[string]decimal.Decimal{}
	for _, t := range takes {
		if _, seen := rounds[t.RoundID]; seen {
			continue
		}
		round, err := repo.GetRound(ctx, s.DB, auction, chainID, t.RoundID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				rounds[t.RoundID] = nil
				continue
			}
			return nil, err
		}
		rounds[t.RoundID] = round

		all, err := repo.ListRoundTakes(ctx, s.DB, auction, chainID, t.RoundID)
		if err != nil {
			return nil, err
		}
		avail := round.InitialAvailable
		for _, rt := range all {
			avail = avail.Sub(rt.AmountTaken)
			if avail.IsNegative() {
				avail = decimal.Zero
			}
			remaining[seqKey(rt.RoundID, rt.TakeSeq)] = avail
		}
	}

	points := make([]PricePoint, 0, len(takes))
	for _, t := range takes {
		p := PricePoint{
			Timestamp: t.Timestamp,
			Price:     t.Price,
			RoundID:   t.RoundID,
			FromToken: t.FromToken,
		}
		if avail, ok := remaining[seqKey(t.RoundID, t.TakeSeq)]; ok {
			p.AvailableAmount = avail
		}
		if round := rounds[t.RoundID]; round != nil {
			secs := int64(t.Timestamp.Sub(round.KickedAt).Seconds())
			p.SecondsFromRoundStart = &secs
		}
		points = append(points, p)
	}
	return points, nil
}

func seqKey(roundID, seq int64) string {
	return strconv.FormatInt(roundID, 10) + "|" + strconv.FormatInt(seq, 10)
}

// ComputeTakerRollups derives the rollup for every taker in the ledger at
// evaluation time now: lifetime aggregates, 7-day/30-day windows, and
// dense ranks by take count, USD volume, and USD profit (ties share a
// rank; ordering ties break by ascending taker address so repeated runs
// are byte-identical).
func (s *EnrichService) ComputeTakerRollups(ctx context.Context, now time.Time) ([]TakerRollup, error) {
	takes, err := repo.ListAllTakes(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	enriched, err := s.EnrichTakes(ctx, takes)
	if err != nil {
		return nil, err
	}

	byTaker := map[string]*TakerRollup{}
	auctions := map[string]map[string]struct{}{}
	chains := map[string]map[int64]struct{}{}
	usdCounts := map[string]int64{}

	cutoff7 := now.Add(-7 * 24 * time.Hour)
	cutoff30 := now.Add(-30 * 24 * time.Hour)

	for _, et := range enriched {
		r := byTaker[et.Taker]
		if r == nil {
			r = &TakerRollup{
				Taker:          et.Taker,
				TotalVolumeUSD: decimal.Zero,
				TotalProfitUSD: decimal.Zero,
				VolumeLast7D:   decimal.Zero,
				VolumeLast30D:  decimal.Zero,
			}
			byTaker[et.Taker] = r
			auctions[et.Taker] = map[string]struct{}{}
			chains[et.Taker] = map[int64]struct{}{}
		}

		r.TotalTakes++
		auctions[et.Taker][et.AuctionAddress+"|"+strconv.FormatInt(et.ChainID, 10)] = struct{}{}
		chains[et.Taker][et.ChainID] = struct{}{}

		ts := et.Timestamp
		if r.FirstTake == nil || ts.Before(*r.FirstTake) {
			first := ts
			r.FirstTake = &first
		}
		if r.LastTake == nil || ts.After(*r.LastTake) {
			last := ts
			r.LastTake = &last
		}
		if !ts.Before(cutoff7) {
			r.TakesLast7D++
		}
		if !ts.Before(cutoff30) {
			r.TakesLast30D++
		}

		if et.AmountTakenUSD != nil {
			r.TotalVolumeUSD = r.TotalVolumeUSD.Add(*et.AmountTakenUSD)
			usdCounts[et.Taker]++
			if !ts.Before(cutoff7) {
				r.VolumeLast7D = r.VolumeLast7D.Add(*et.AmountTakenUSD)
			}
			if !ts.Before(cutoff30) {
				r.VolumeLast30D = r.VolumeLast30D.Add(*et.AmountTakenUSD)
			}
		}
		if et.PriceDifferentialUSD != nil {
			r.TotalProfitUSD = r.TotalProfitUSD.Add(*et.PriceDifferentialUSD)
			switch et.PriceDifferentialUSD.Sign() {
			case 1:
				r.ProfitableTakes++
			case -1:
				r.UnprofitableTakes++
			}
		}
	}

	rollups := make([]TakerRollup, 0, len(byTaker))
	for taker, r := range byTaker {
		r.UniqueAuctions = int64(len(auctions[taker]))
		r.UniqueChains = int64(len(chains[taker]))
		r.ActiveChains = sortedChains(chains[taker])
		if n := usdCounts[taker]; n > 0 {
			avg := r.TotalVolumeUSD.Div(decimal.NewFromInt(n))
			r.AvgTakeSizeUSD = &avg
		}
		if denom := r.ProfitableTakes + r.UnprofitableTakes; denom > 0 {
			rate := decimal.NewFromInt(r.ProfitableTakes).
				Div(decimal.NewFromInt(denom)).
				Mul(hundred)
			r.SuccessRate = &rate
		}
		rollups = append(rollups, *r)
	}

	assignDenseRanks(rollups, func(r *TakerRollup) decimal.Decimal {
		return decimal.NewFromInt(r.TotalTakes)
	}, func(r *TakerRollup, rank int) { r.RankByTakes = rank })
	assignDenseRanks(rollups, func(r *TakerRollup) decimal.Decimal {
		return r.TotalVolumeUSD
	}, func(r *TakerRollup, rank int) { r.RankByVolume = rank })
	assignDenseRanks(rollups, func(r *TakerRollup) decimal.Decimal {
		return r.TotalProfitUSD
	}, func(r *TakerRollup, rank int) { r.RankByProfit = rank })

	sort.Slice(rollups, func(i, j int) bool { return rollups[i].Taker < rollups[j].Taker })
	return rollups, nil
}

// ComputeTakerRollup derives a single taker's rollup. Ranks are positions
// within the full population, so the computation spans all takers; callers
// wanting many rollups should use ComputeTakerRollups directly.
func (s *EnrichService) ComputeTakerRollup(ctx context.Context, taker string, now time.Time) (*TakerRollup, error) {
	taker = domain.NormalizeAddress(taker)
	rollups, err := s.ComputeTakerRollups(ctx, now)
	if err != nil {
		return nil, err
	}
	for i := range rollups {
		if rollups[i].Taker == taker {
			return &rollups[i], nil
		}
	}
	return nil, ErrTakerNotFound
}

// assignDenseRanks sorts rollups by metric descending (ties by ascending
// taker) and assigns dense ranks: equal metric values share one rank and
// the next distinct value gets the next consecutive rank.
func assignDenseRanks(rollups []TakerRollup, metric func(*TakerRollup) decimal.Decimal, assign func(*TakerRollup, int)) {
	order := make([]int, len(rollups))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		ma, mb := metric(&rollups[order[a]]), metric(&rollups[order[b]])
		if !ma.Equal(mb) {
			return ma.GreaterThan(mb)
		}
		return rollups[order[a]].Taker < rollups[order[b]].Taker
	})
	rank := 0
	var prev *decimal.Decimal
	for _, idx := range order {
		m := metric(&rollups[idx])
		if prev == nil || !m.Equal(*prev) {
			rank++
			prev = &m
		}
		assign(&rollups[idx], rank)
	}
}

func sortedChains(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ChainsCSV renders an active-chains slice in the canonical comma-joined
// form used by the rollup cache table.
func ChainsCSV(chains []int64) string {
	parts := make([]string, len(chains))
	for i, c := range chains {
		parts[i] = strconv.FormatInt(c, 10)
	}
	return strings.Join(parts, ",")
}

// ParseChainsCSV parses the canonical comma-joined chain list.
func ParseChainsCSV(s string) []int64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		if v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}
