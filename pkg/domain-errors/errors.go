// Package domainerrors provides coded errors shared by all services.
// Services attach a Code so transports and callers can branch on the
// class of failure without string matching.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain failure. Codes map 1:1 onto the failure
// taxonomy: validation failures are rejected before any state change,
// everything else aborts the operation atomically.
type Code string

const (
	// CodeValidation covers malformed or unsupported input: unknown
	// action types, undecodable payloads, zero identifiers.
	CodeValidation Code = "validation"

	// CodePolicyDenied means the transfer policy engine said no.
	CodePolicyDenied Code = "policy_denied"

	// CodePreconditionFailed covers state-dependent rejections: paused
	// ledger, frozen account, insufficient spendable balance, a round
	// that is not open, or a purchase in the wrong status family.
	CodePreconditionFailed Code = "precondition_failed"

	// CodePermissionDenied means the acting party lacks the
	// administrator, agent, or oracle capability the operation needs.
	CodePermissionDenied Code = "permission_denied"

	// CodeActionDisabled marks action types that are intentionally
	// closed off at the dispatcher.
	CodeActionDisabled Code = "action_disabled"

	// CodeNotRegistered is returned when an identity mutator targets an
	// account with no directory record.
	CodeNotRegistered Code = "not_registered"

	CodeNotFound              Code = "not_found"
	CodeInvestorCapExceeded   Code = "investor_cap_exceeded"
	CodeRoundCapExceeded      Code = "round_cap_exceeded"
	CodeInvalidPurchaseStatus Code = "invalid_purchase_status"
	CodeRefundNotAvailableYet Code = "refund_not_available_yet"
	CodeConflict              Code = "conflict"
	CodeUnauthorized          Code = "unauthorized"
	CodeInternal              Code = "internal"
)

// Error is the concrete coded error. Wrapping is supported so stores can
// attach infrastructure causes without losing the code.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf extracts the code from err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}
