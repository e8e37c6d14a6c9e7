package engine

import (
	"errors"
	"fmt"

	"github.com/voltclear/voltclear/internal/checked"
	"github.com/voltclear/voltclear/internal/custody"
	"github.com/voltclear/voltclear/internal/oracle"
	"github.com/voltclear/voltclear/internal/store"
)

// Code categorizes an engine failure. Every operation surfaces exactly one
// code per failure mode; callers branch on codes, not message text.
type Code string

const (
	// CodeInvalidAuthority: caller is not the protocol authority.
	CodeInvalidAuthority Code = "INVALID_AUTHORITY"

	// CodeUnauthorized: caller is not the owning/claiming party.
	CodeUnauthorized Code = "UNAUTHORIZED"

	// CodeInvalidStatus: entity is not in a state this operation accepts.
	CodeInvalidStatus Code = "INVALID_STATUS"

	// CodeConstraintViolation: bad input such as zero quantity, price off the
	// tick, page out of sequence, capacity exceeded.
	CodeConstraintViolation Code = "CONSTRAINT_VIOLATION"

	// CodeAlreadyExists: create-once record already present.
	CodeAlreadyExists Code = "ALREADY_EXISTS"

	// CodeNotFound: a referenced record is absent.
	CodeNotFound Code = "NOT_FOUND"

	// CodeAlreadyClaimed: a single-use latch was already consumed.
	CodeAlreadyClaimed Code = "ALREADY_CLAIMED"

	// CodeMathError: checked arithmetic overflowed; the call is aborted
	// with no effect.
	CodeMathError Code = "MATH_ERROR"

	// CodeInsufficientBalance: custody reported the source cannot cover a
	// transfer, or a buyer's derived escrow cannot cover their winnings.
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"

	// CodeNoMarketClearing: no reserve price at or below the highest bid.
	CodeNoMarketClearing Code = "NO_MARKET_CLEARING"

	// CodeVerificationFailed: re-derived clearing revenue disagrees with
	// the recorded value.
	CodeVerificationFailed Code = "SETTLEMENT_VERIFICATION_FAILED"

	// CodeAllocationExhausted: no cleared quantity remains to allocate.
	CodeAllocationExhausted Code = "ALLOCATION_EXHAUSTED"

	// CodeReservePriceNotMet: commitment's reserve price exceeds the
	// clearing price.
	CodeReservePriceNotMet Code = "RESERVE_PRICE_NOT_MET"

	// CodeInvalidMeritOrder: allocation submitted below the tracker's
	// reserve-price high-water mark.
	CodeInvalidMeritOrder Code = "INVALID_MERIT_ORDER"

	// CodeBatchTooLarge: batch exceeds the configured per-call bound.
	CodeBatchTooLarge Code = "BATCH_TOO_LARGE"

	// CodeAppealWindowClosed: appeal submitted after the deadline.
	CodeAppealWindowClosed Code = "APPEAL_WINDOW_CLOSED"

	// CodeAppealWindowOpen: execution attempted before the deadline
	// lapsed on an unresolved case.
	CodeAppealWindowOpen Code = "APPEAL_WINDOW_OPEN"

	// CodeInvalidSlashingStatus: slashing case is not in a state this
	// operation accepts.
	CodeInvalidSlashingStatus Code = "INVALID_SLASHING_STATUS"

	// CodeUntrustedOracle: delivery report from a feed off the allow-list.
	CodeUntrustedOracle Code = "UNTRUSTED_ORACLE"

	// CodePaused: the emergency-pause flag is set.
	CodePaused Code = "PAUSED"
)

// Error is a structured engine failure: the failing operation, its
// category code, and the underlying cause if any.
type Error struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// errf builds an engine Error with a formatted message.
func errf(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the engine code from err, or "" if err is not an engine
// error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given engine code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// wrap classifies an underlying store/custody/arithmetic error under the
// right engine code. Unrecognized errors pass through as internal faults
// with an empty classification preserved via %w.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, store.ErrAlreadyExists):
		return &Error{Code: CodeAlreadyExists, Op: op, Err: err}
	case errors.Is(err, store.ErrNotFound):
		return &Error{Code: CodeNotFound, Op: op, Err: err}
	case errors.Is(err, checked.ErrOverflow):
		return &Error{Code: CodeMathError, Op: op, Err: err}
	case errors.Is(err, custody.ErrInsufficientBalance):
		return &Error{Code: CodeInsufficientBalance, Op: op, Err: err}
	case errors.Is(err, custody.ErrUnauthorized):
		return &Error{Code: CodeUnauthorized, Op: op, Err: err}
	case errors.Is(err, oracle.ErrUntrusted):
		return &Error{Code: CodeUntrustedOracle, Op: op, Err: err}
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
