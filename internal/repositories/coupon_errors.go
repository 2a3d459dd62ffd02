package repositories

import (
	"errors"
	"fmt"
)

// CouponLedgerErrorCode enumerates failure reasons for coupon redemption.
type CouponLedgerErrorCode string

const (
	// CouponLedgerUnknown represents an unspecified failure.
	CouponLedgerUnknown CouponLedgerErrorCode = "coupon_unknown"
	// CouponLedgerInvalidInput indicates the caller supplied invalid arguments.
	CouponLedgerInvalidInput CouponLedgerErrorCode = "coupon_invalid_input"
	// CouponLedgerNotFound indicates the coupon does not exist in the ledger.
	CouponLedgerNotFound CouponLedgerErrorCode = "coupon_not_found"
	// CouponLedgerExhausted indicates the coupon reached its global usage cap.
	CouponLedgerExhausted CouponLedgerErrorCode = "coupon_exhausted"
	// CouponLedgerCustomerLimit indicates the customer reached the per-customer cap.
	CouponLedgerCustomerLimit CouponLedgerErrorCode = "coupon_customer_limit"
)

// CouponLedgerError wraps coupon ledger failures with machine readable codes.
type CouponLedgerError struct {
	Op      string
	Code    CouponLedgerErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CouponLedgerError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CouponLedgerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCouponLedgerError constructs a typed coupon ledger error.
func NewCouponLedgerError(op string, code CouponLedgerErrorCode, message string, err error) *CouponLedgerError {
	if message == "" {
		message = string(code)
	}
	return &CouponLedgerError{Op: op, Code: code, Message: message, Err: err}
}

// CouponLedgerCode extracts the ledger code from err, or the empty code when err is not a ledger error.
func CouponLedgerCode(err error) CouponLedgerErrorCode {
	var ledgerErr *CouponLedgerError
	if errors.As(err, &ledgerErr) {
		return ledgerErr.Code
	}
	return ""
}
