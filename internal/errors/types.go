package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind categorizes payment failures. The orchestration core branches on
// kinds, never on message strings.
type Kind string

const (
	// KindValidation covers failures before any transaction is built:
	// bad amounts, missing recipients, malformed run files. No side
	// effect has occurred.
	KindValidation Kind = "validation"

	// KindUserRejected means the holder of signing authority declined.
	// Recoverable, no side effect. Distinct from transport failure so a
	// batch can skip-and-continue instead of retrying.
	KindUserRejected Kind = "user_rejected"

	// KindSubmissionTransient is a transport-level failure submitting to
	// the ledger. Retried a bounded number of times.
	KindSubmissionTransient Kind = "submission_transient"

	// KindSubmissionFailed is a transient submission failure that
	// exhausted its retry budget.
	KindSubmissionFailed Kind = "submission_failed"

	// KindLedgerExecution means the ledger accepted the transaction but
	// it errored on-chain. Never retried.
	KindLedgerExecution Kind = "ledger_execution"

	// KindConfirmationTimeout means the transaction's checkpoint expired
	// before confirmation was observed. The outcome is indeterminate,
	// not a loss.
	KindConfirmationTimeout Kind = "confirmation_timeout"

	// KindProtocol covers x402 negotiation failures before funds move:
	// absent or malformed challenge, missing provider metadata.
	KindProtocol Kind = "protocol"

	// KindServerVerification means the resource server rejected a
	// payment proof. The server's message is carried verbatim.
	KindServerVerification Kind = "server_verification"

	// KindConfiguration covers bad or missing local configuration.
	KindConfiguration Kind = "configuration"

	// KindHistory covers history-recorder failures. Best effort: logged,
	// never allowed to mask a payment outcome.
	KindHistory Kind = "history"

	// KindInternal is the catch-all for bugs and unclassified failures.
	KindInternal Kind = "internal"
)

// PaymentError is the base error type for the orchestration core.
type PaymentError struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]any
}

func (e *PaymentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair for logging.
func (e *PaymentError) WithContext(key string, value any) *PaymentError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates a PaymentError of the given kind.
func New(kind Kind, message string) *PaymentError {
	return &PaymentError{Kind: kind, Message: message}
}

// Newf creates a PaymentError with a formatted message.
func Newf(kind Kind, format string, args ...any) *PaymentError {
	return &PaymentError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error, preserving it as the cause.
func Wrap(err error, kind Kind, message string) *PaymentError {
	return &PaymentError{Kind: kind, Message: message, Cause: err}
}

// KindOf extracts the kind from an error chain, or KindInternal for
// errors that did not originate here.
func KindOf(err error) Kind {
	var pe *PaymentError
	if stderrors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// Is reports whether any error in the chain carries the given kind.
func Is(err error, kind Kind) bool {
	var pe *PaymentError
	if stderrors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// IsUserRejected reports a signing decline.
func IsUserRejected(err error) bool { return Is(err, KindUserRejected) }

// IsValidation reports a pre-build validation failure.
func IsValidation(err error) bool { return Is(err, KindValidation) }

// IsIndeterminate reports an outcome the ledger may still settle either
// way; callers should re-query before assuming loss.
func IsIndeterminate(err error) bool { return Is(err, KindConfirmationTimeout) }

// Validation creates a validation error.
func Validation(message string) *PaymentError {
	return New(KindValidation, message)
}

// UserRejected creates a signing-declined error.
func UserRejected(message string) *PaymentError {
	return New(KindUserRejected, message)
}

// Protocol creates an x402 protocol error.
func Protocol(message string) *PaymentError {
	return New(KindProtocol, message)
}

// Configuration creates a configuration error.
func Configuration(message string) *PaymentError {
	return New(KindConfiguration, message)
}
