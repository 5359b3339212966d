// Command server runs the auction ledger API together with its background
// workers: the outbox relay (when a broker is configured) and the taker
// rollup refresh job.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/auctionlabs/go-auction-ledger/internal/config"
	httpapi "github.com/auctionlabs/go-auction-ledger/internal/http"
	"github.com/auctionlabs/go-auction-ledger/internal/observability"
	"github.com/auctionlabs/go-auction-ledger/internal/relay"
	"github.com/auctionlabs/go-auction-ledger/internal/repo"
	"github.com/auctionlabs/go-auction-ledger/internal/services"
	"github.com/auctionlabs/go-auction-ledger/internal/sysutil"
)

// version is stamped by the build (-ldflags "-X main.version=...").
var version = "dev"

func main() {
	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("setup opentelemetry")
	}

	// Outbox relay workers. Without a broker the ledger still accepts
	// writes; entries accumulate until a relay drains them.
	var (
		publisher *relay.KafkaPublisher
		relays    []*relay.Relay
	)
	if cfg.Kafka.Enabled {
		publisher = relay.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		for i := 0; i < cfg.Relay.Workers; i++ {
			r := &relay.Relay{
				DB:           db,
				Publisher:    publisher,
				WorkerID:     fmt.Sprintf("relay-%d", i),
				PollInterval: cfg.Relay.PollInterval,
				PageSize:     cfg.Relay.PageSize,
				Lease:        cfg.Relay.Lease,
				MaxRetries:   cfg.Relay.MaxRetries,
				BaseBackoff:  cfg.Relay.BaseBackoff,
				MaxBackoff:   cfg.Relay.MaxBackoff,
			}
			r.Start(ctx)
			relays = append(relays, r)
		}
		log.Info().
			Int("workers", cfg.Relay.Workers).
			Strs("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.Topic).
			Msg("outbox relay started")
	} else {
		log.Warn().Msg("kafka disabled; outbox entries will accumulate unpublished")
	}

	// Taker rollup cache refresh.
	priceSvc := &services.PriceService{DB: db}
	enrichSvc := &services.EnrichService{DB: db, Prices: priceSvc}
	rollupSvc := &services.RollupService{DB: db, Enrich: enrichSvc}
	if cfg.Rollup.Enabled {
		if err := rollupSvc.StartScheduler(cfg.Rollup.CronSpec); err != nil {
			log.Fatal().Err(err).Str("spec", cfg.Rollup.CronSpec).Msg("start rollup scheduler")
		}
		log.Info().Str("spec", cfg.Rollup.CronSpec).Msg("rollup refresh scheduled")
	}

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	// Relay loops observe ctx cancellation; wait for in-flight pages.
	for _, r := range relays {
		r.Wait()
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("close kafka publisher")
		}
	}
	if cfg.Rollup.Enabled {
		rollupSvc.StopScheduler()
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}

	log.Info().Msg("stopped")
}
