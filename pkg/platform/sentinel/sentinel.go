package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Session stores, order stores and the
// gateway adapters return these (optionally wrapped) so services can translate
// them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: key or record does not exist in the store
// - ErrExpired: a stored record outlived its retention window
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: store or upstream temporarily unavailable
// - ErrSuperseded: a newer operation replaced this one before it finished
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrSuperseded   = errors.New("superseded")
)
