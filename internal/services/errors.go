// Package services defines the business logic of the auction ledger:
// event ingestion with ordering and dedup invariants, price resolution,
// USD enrichment, and taker rollups. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

// Ingestion-related errors.
var (
	// ErrUnknownEventType is returned when an event envelope carries a type
	// the ledger does not ingest.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrMissingPayload is returned when an event envelope lacks the payload
	// matching its declared type.
	ErrMissingPayload = errors.New("event payload missing")

	// ErrMissingTxHash is returned when an event envelope has no transaction
	// hash; without it no idempotency key can be derived.
	ErrMissingTxHash = errors.New("transaction hash missing")
)

// Read-side errors.
var (
	// ErrAuctionNotFound indicates that the requested auction does not exist.
	ErrAuctionNotFound = errors.New("auction not found")

	// ErrRoundNotFound indicates that the requested round does not exist.
	ErrRoundNotFound = errors.New("round not found")

	// ErrTakerNotFound indicates that the requested taker has no recorded
	// takes.
	ErrTakerNotFound = errors.New("taker not found")

	// ErrStateNotFound indicates that no scan checkpoint exists for the
	// requested (chain, source) pair.
	ErrStateNotFound = errors.New("indexer state not found")
)

// Price-related errors.
var (
	// ErrInvalidObservation is returned when a price observation is missing
	// its token address, source, or carries a non-positive price.
	ErrInvalidObservation = errors.New("invalid price observation")
)
