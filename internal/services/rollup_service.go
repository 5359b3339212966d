// Package services – RollupService
//
// This file implements the cached side of the taker rollup contract: a
// scheduled full recompute into the taker_summaries table, plus read paths
// that serve the cache when populated and compute on demand otherwise.
package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
	"github.com/auctionlabs/go-auction-ledger/internal/repo"
)

// RollupService maintains the taker rollup cache. Refresh recomputes every
// summary through the exact same code path the on-demand reads use
// (EnrichService.ComputeTakerRollups), so a cached answer and a live answer
// can never disagree on anything but staleness.
//
// The cache is advisory: GetTaker and ListTakers fall back to on-demand
// computation when the cache is empty, so a freshly migrated database
// serves correct answers before the first scheduled refresh has run.
type RollupService struct {
	DB     *gorm.DB
	Enrich *EnrichService

	cron *cron.Cron
}

// Refresh recomputes the rollup for every taker and replaces the cache in
// one transaction. The operation is idempotent: running it twice against an
// unchanged ledger writes byte-identical rows.
func (s *RollupService) Refresh(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	rollups, err := s.Enrich.ComputeTakerRollups(ctx, now)
	if err != nil {
		return 0, err
	}
	summaries := make([]domain.TakerSummary, 0, len(rollups))
	for i := range rollups {
		summaries = append(summaries, toSummary(&rollups[i], now))
	}
	if err := repo.ReplaceTakerSummaries(ctx, s.DB, summaries); err != nil {
		return 0, err
	}
	return len(summaries), nil
}

// GetTaker returns the rollup for one taker, preferring the cache and
// computing on demand when the cache has no row. A taker with no takes at
// all yields ErrTakerNotFound either way.
func (s *RollupService) GetTaker(ctx context.Context, taker string) (*TakerRollup, error) {
	taker = domain.NormalizeAddress(taker)
	cached, err := repo.GetTakerSummary(ctx, s.DB, taker)
	if err == nil {
		r := fromSummary(cached)
		return &r, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	return s.Enrich.ComputeTakerRollup(ctx, taker, time.Now().UTC())
}

// ListTakers returns one page of rollups ordered by the requested rank
// dimension. When the cache is empty the full set is computed on demand and
// paged in memory; the cache is not written as a side effect of a read.
func (s *RollupService) ListTakers(ctx context.Context, orderBy string, limit, offset int) ([]TakerRollup, int64, error) {
	total, err := repo.CountTakerSummaries(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total > 0 {
		summaries, err := repo.ListTakerSummariesPage(ctx, s.DB, orderBy, limit, offset)
		if err != nil {
			return nil, 0, err
		}
		out := make([]TakerRollup, 0, len(summaries))
		for i := range summaries {
			out = append(out, fromSummary(&summaries[i]))
		}
		return out, total, nil
	}

	rollups, err := s.Enrich.ComputeTakerRollups(ctx, time.Now().UTC())
	if err != nil {
		return nil, 0, err
	}
	sortRollups(rollups, orderBy)
	total = int64(len(rollups))
	if offset >= len(rollups) {
		return []TakerRollup{}, total, nil
	}
	end := offset + limit
	if end > len(rollups) {
		end = len(rollups)
	}
	return rollups[offset:end], total, nil
}

// StartScheduler begins periodic cache refreshes on the given cron spec.
// A refresh is kicked off immediately so the cache warms at boot instead of
// waiting out the first interval. Stop the scheduler with StopScheduler.
func (s *RollupService) StartScheduler(spec string) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		start := time.Now()
		n, err := s.Refresh(context.Background())
		if err != nil {
			log.Error().Err(err).Msg("taker rollup refresh failed")
			return
		}
		log.Info().
			Int("takers", n).
			Dur("elapsed", time.Since(start)).
			Msg("taker rollup cache refreshed")
	})
	if err != nil {
		return err
	}
	s.cron = c
	c.Start()

	go func() {
		if n, err := s.Refresh(context.Background()); err != nil {
			log.Error().Err(err).Msg("initial taker rollup refresh failed")
		} else {
			log.Info().Int("takers", n).Msg("taker rollup cache warmed")
		}
	}()
	return nil
}

// StopScheduler stops the refresh schedule and waits for an in-flight
// refresh to finish.
func (s *RollupService) StopScheduler() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func sortRollups(rollups []TakerRollup, orderBy string) {
	rank := func(r *TakerRollup) int {
		switch orderBy {
		case "rank_by_takes":
			return r.RankByTakes
		case "rank_by_profit":
			return r.RankByProfit
		default:
			return r.RankByVolume
		}
	}
	sort.SliceStable(rollups, func(i, j int) bool {
		a, b := &rollups[i], &rollups[j]
		if rank(a) != rank(b) {
			return rank(a) < rank(b)
		}
		return a.Taker < b.Taker
	})
}

func toSummary(r *TakerRollup, computedAt time.Time) domain.TakerSummary {
	return domain.TakerSummary{
		Taker:             r.Taker,
		TotalTakes:        r.TotalTakes,
		UniqueAuctions:    r.UniqueAuctions,
		UniqueChains:      r.UniqueChains,
		ActiveChains:      ChainsCSV(r.ActiveChains),
		TotalVolumeUSD:    r.TotalVolumeUSD,
		AvgTakeSizeUSD:    r.AvgTakeSizeUSD,
		TotalProfitUSD:    r.TotalProfitUSD,
		ProfitableTakes:   r.ProfitableTakes,
		UnprofitableTakes: r.UnprofitableTakes,
		SuccessRate:       r.SuccessRate,
		TakesLast7D:       r.TakesLast7D,
		TakesLast30D:      r.TakesLast30D,
		VolumeLast7D:      r.VolumeLast7D,
		VolumeLast30D:     r.VolumeLast30D,
		FirstTake:         r.FirstTake,
		LastTake:          r.LastTake,
		RankByTakes:       r.RankByTakes,
		RankByVolume:      r.RankByVolume,
		RankByProfit:      r.RankByProfit,
		ComputedAt:        computedAt,
	}
}

func fromSummary(s *domain.TakerSummary) TakerRollup {
	return TakerRollup{
		Taker:             s.Taker,
		TotalTakes:        s.TotalTakes,
		UniqueAuctions:    s.UniqueAuctions,
		UniqueChains:      s.UniqueChains,
		ActiveChains:      ParseChainsCSV(s.ActiveChains),
		TotalVolumeUSD:    s.TotalVolumeUSD,
		AvgTakeSizeUSD:    s.AvgTakeSizeUSD,
		TotalProfitUSD:    s.TotalProfitUSD,
		ProfitableTakes:   s.ProfitableTakes,
		UnprofitableTakes: s.UnprofitableTakes,
		SuccessRate:       s.SuccessRate,
		TakesLast7D:       s.TakesLast7D,
		TakesLast30D:      s.TakesLast30D,
		VolumeLast7D:      s.VolumeLast7D,
		VolumeLast30D:     s.VolumeLast30D,
		FirstTake:         s.FirstTake,
		LastTake:          s.LastTake,
		RankByTakes:       s.RankByTakes,
		RankByVolume:      s.RankByVolume,
		RankByProfit:      s.RankByProfit,
	}
}
