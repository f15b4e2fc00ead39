package models

import (
	"errors"
	"fmt"
)

// Terminal domain failures. None of these are retriable: re-delivering the
// same request cannot change the outcome.
var (
	ErrValidation          = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("operation not applicable in current state")
	ErrAlreadyRedeemed     = errors.New("claim already redeemed")
	ErrAlreadyVoted        = errors.New("ballot already cast for this vote")
	ErrMissingWallet       = errors.New("user has no registered wallet address")
	ErrPerkInactive        = errors.New("perk is not active")
	ErrInsufficientBalance = errors.New("token balance below perk cost")
	ErrOptionNotInVote     = errors.New("option does not belong to vote")
)

// ErrAmbiguous marks a chain call whose outcome is unknown (timeout with
// unknown broadcast status). It must never be auto-retried: the transaction
// may already be on chain, and a retry risks a duplicate mint.
var ErrAmbiguous = errors.New("chain call outcome unknown, manual reconciliation required")

// PersistenceError wraps a transient store failure. All core writes are
// idempotent or transactional, so callers may safely retry the whole
// operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ExternalServiceError wraps a failure talking to a collaborator (payment
// gateway, chain RPC). Retriable by the outer layer.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }
