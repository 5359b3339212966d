package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/auctionlabs/go-auction-ledger/internal/domain"
	"github.com/auctionlabs/go-auction-ledger/internal/repo"
)

var (
	// relayPublished counts outbox entries acknowledged by the broker.
	relayPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_relay_published_total",
			Help: "Total number of outbox entries successfully published.",
		},
	)

	// relayFailures counts failed delivery attempts (entry stays pending).
	relayFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_relay_failures_total",
			Help: "Total number of failed outbox delivery attempts.",
		},
	)

	// relayFlagged counts entries parked for operator inspection, by reason.
	relayFlagged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_relay_flagged_total",
			Help: "Total number of outbox entries flagged for operator inspection.",
		},
		[]string{"reason"},
	)

	// relayBacklog gauges unpublished, unflagged entries after each poll.
	relayBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_relay_backlog",
			Help: "Current number of unpublished outbox entries.",
		},
	)

	// relayPublishLat records broker round-trip time per publish attempt.
	relayPublishLat = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outbox_relay_publish_duration_seconds",
			Help:    "Duration of outbox publish attempts in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(relayPublished, relayFailures, relayFlagged, relayBacklog, relayPublishLat)
}

// Relay is one outbox drain worker. It polls for deliverable entries,
// claims a page under a lease, and publishes in id order so downstream
// sees ledger write order. Multiple workers can run against the same
// database; the lease keeps them off each other's pages.
type Relay struct {
	DB        *gorm.DB
	Publisher Publisher

	// WorkerID identifies this worker in outbox claims.
	WorkerID string
	// PollInterval is the sleep between drain passes when the backlog is empty.
	PollInterval time.Duration
	// PageSize caps how many entries one drain pass claims.
	PageSize int
	// Lease bounds how long a claimed page stays invisible to other workers.
	Lease time.Duration
	// MaxRetries flags an entry after this many failed delivery attempts.
	MaxRetries int
	// BaseBackoff seeds the exponential retry delay (base * 2^retry_count).
	BaseBackoff time.Duration
	// MaxBackoff caps the exponential retry delay.
	MaxBackoff time.Duration

	done chan struct{}
}

// Start launches the drain loop in its own goroutine. The loop exits when
// ctx is cancelled; Wait blocks until it has fully stopped.
func (r *Relay) Start(ctx context.Context) {
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		r.run(ctx)
	}()
}

// Wait blocks until the drain loop started by Start has exited.
func (r *Relay) Wait() {
	if r.done != nil {
		<-r.done
	}
}

func (r *Relay) run(ctx context.Context) {
	log.Info().
		Str("worker_id", r.WorkerID).
		Dur("poll_interval", r.PollInterval).
		Int("page_size", r.PageSize).
		Msg("outbox relay started")
	ticker := time.NewTicker(r.PollInterval)
	defer ticker.Stop()
	for {
		n, err := r.DrainOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Str("worker_id", r.WorkerID).Msg("outbox relay stopped")
				return
			}
			log.Error().Err(err).Str("worker_id", r.WorkerID).Msg("outbox drain pass failed")
		}
		if n > 0 {
			// Backlog remains; keep draining without sleeping.
			continue
		}
		select {
		case <-ctx.Done():
			log.Info().Str("worker_id", r.WorkerID).Msg("outbox relay stopped")
			return
		case <-ticker.C:
		}
	}
}

// DrainOnce claims and processes one page of deliverable entries. It
// returns the number of entries it attempted, published or not, so the
// caller can tell an empty backlog from a page of failures.
func (r *Relay) DrainOnce(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	entries, err := repo.ClaimOutboxPage(ctx, r.DB, r.WorkerID, r.PageSize, r.Lease, now)
	if err != nil {
		return 0, err
	}
	for i := range entries {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		r.process(ctx, &entries[i])
	}
	if backlog, err := repo.CountPendingOutbox(ctx, r.DB); err == nil {
		relayBacklog.Set(float64(backlog))
	}
	return len(entries), nil
}

func (r *Relay) process(ctx context.Context, e *domain.OutboxEntry) {
	if e.IdempotencyKey == "" || !json.Valid([]byte(e.Payload)) {
		// Retrying cannot fix a malformed entry; park it immediately and
		// make noise so an operator looks at it.
		log.Error().
			Uint64("outbox_id", e.ID).
			Str("type", e.Type).
			Msg("malformed outbox entry, flagging for operator inspection")
		relayFlagged.WithLabelValues("malformed").Inc()
		if err := repo.FlagOutboxEntry(ctx, r.DB, e.ID, "malformed payload"); err != nil {
			log.Error().Err(err).Uint64("outbox_id", e.ID).Msg("failed to flag outbox entry")
		}
		return
	}

	start := time.Now()
	pubErr := r.Publisher.Publish(ctx, Message{
		Key:   e.IdempotencyKey,
		Type:  e.Type,
		Value: []byte(e.Payload),
	})
	relayPublishLat.Observe(time.Since(start).Seconds())

	if pubErr == nil {
		relayPublished.Inc()
		if err := repo.MarkOutboxPublished(ctx, r.DB, e.ID, time.Now().UTC()); err != nil {
			// The message is already out; the entry stays pending and will be
			// re-delivered, which at-least-once permits.
			log.Error().Err(err).Uint64("outbox_id", e.ID).Msg("failed to mark outbox entry published")
		}
		return
	}

	relayFailures.Inc()
	attempts := e.RetryCount + 1
	exhausted := attempts >= r.MaxRetries
	next := time.Now().UTC().Add(r.backoff(attempts))
	if exhausted {
		relayFlagged.WithLabelValues("retries_exhausted").Inc()
		log.Error().
			Err(pubErr).
			Uint64("outbox_id", e.ID).
			Int("attempts", attempts).
			Msg("outbox entry exhausted retries, flagging for operator inspection")
	} else {
		log.Warn().
			Err(pubErr).
			Uint64("outbox_id", e.ID).
			Int("attempts", attempts).
			Time("next_attempt_at", next).
			Msg("outbox publish failed, will retry")
	}
	if err := repo.RecordOutboxFailure(ctx, r.DB, e.ID, pubErr.Error(), next, exhausted); err != nil {
		log.Error().Err(err).Uint64("outbox_id", e.ID).Msg("failed to record outbox failure")
	}
}

// backoff computes the delay before attempt n+1: BaseBackoff doubled per
// prior attempt, capped at MaxBackoff.
func (r *Relay) backoff(attempts int) time.Duration {
	d := r.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= r.MaxBackoff {
			return r.MaxBackoff
		}
	}
	if d > r.MaxBackoff {
		return r.MaxBackoff
	}
	return d
}
