package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers
// return these (optionally wrapped) so services can translate them into
// domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: subject, score, or challenge does not exist in the store
// - ErrConflict: unique constraint hit (duplicate enrollment or challenge number)
// - ErrExpired: challenge answer window elapsed
// - ErrInvalidState: entity in wrong lifecycle state for requested operation
// - ErrUnavailable: backing service (Postgres, Redis, geocell resolver) down
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
