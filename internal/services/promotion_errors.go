package services

import "errors"

var (
	// ErrPromotionRepositoryMissing indicates the promotion repository dependency is absent.
	ErrPromotionRepositoryMissing = errors.New("promotion service: repository is not configured")
	// ErrPromotionLedgerMissing indicates no coupon ledger was wired.
	ErrPromotionLedgerMissing = errors.New("promotion service: coupon ledger is not configured")
	// ErrPromotionInvalidInput reports a malformed command.
	ErrPromotionInvalidInput = errors.New("promotion service: invalid input")
	// ErrPromotionInvalidDefinition wraps authoring-time validation failures.
	ErrPromotionInvalidDefinition = errors.New("promotion service: invalid promotion definition")
	// ErrPromotionRepositoryUnavailable signals the promotion store could not be reached.
	ErrPromotionRepositoryUnavailable = errors.New("promotion service: repository unavailable")
)
