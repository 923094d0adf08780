package n54

import (
	"errors"
	"fmt"
)

// Kind is a stable error taxonomy identifier, per spec.md §6.
type Kind string

const (
	KindBusOpenError       Kind = "BusOpenError"
	KindBusIoError         Kind = "BusIoError"
	KindIsoTpTimeout       Kind = "IsoTpTimeout"
	KindIsoTpOverflow      Kind = "IsoTpOverflow"
	KindUdsTimeout         Kind = "UdsTimeout"
	KindNegativeResponse   Kind = "NegativeResponse"
	KindSessionLost        Kind = "SessionLost"
	KindSecurityAccessDeny Kind = "SecurityAccessDenied"
	KindInvalidKey         Kind = "InvalidKey"
	KindChecksumMismatch   Kind = "ChecksumMismatch"
	KindForbiddenRegion    Kind = "ForbiddenRegion"
	KindBinaryValidation   Kind = "BinaryValidation"
	KindPreconditionFailed Kind = "PreconditionFailed"
	KindBatteryTooLow      Kind = "BatteryTooLow"
	KindCancelled          Kind = "Cancelled"
	KindWriteFailure       Kind = "WriteFailure"
	KindPartialWrite       Kind = "PartialWrite"
	KindIllegalArgument    Kind = "IllegalArgument"
)

// remediation holds the default remediation text keyed by Kind. Individual
// errors may override it (e.g. a NegativeResponse carries NRC-specific text).
var remediation = map[Kind]string{
	KindBusOpenError:       "verify the CAN interface name and that the adapter is plugged in",
	KindBusIoError:         "check bus wiring and termination, then retry",
	KindIsoTpTimeout:       "ECU did not respond in time, check bus load and wiring",
	KindIsoTpOverflow:      "ECU flow control reported overflow, abort and retry with a smaller block size",
	KindUdsTimeout:         "no response received, verify session is still active",
	KindNegativeResponse:   "ECU rejected the request, see NRC for detail",
	KindSessionLost:        "diagnostic session could not be recovered, re-key the ignition and retry",
	KindSecurityAccessDeny: "all seed/key combinations failed, verify algorithm set matches this ECU",
	KindInvalidKey:         "computed key was rejected, do not brute force further attempts",
	KindChecksumMismatch:   "do not power cycle the ECU, checksum did not verify",
	KindForbiddenRegion:    "requested address range overlaps a forbidden region, write refused",
	KindBinaryValidation:   "image failed size/ROM-ID validation for the declared ECU",
	KindPreconditionFailed: "ECU reported preconditions not met, check session/voltage state",
	KindBatteryTooLow:      "connect a battery charger and retry, do not flash below 12.0V",
	KindCancelled:          "operation cancelled by caller",
	KindWriteFailure:       "write could not be completed or verified",
	KindPartialWrite:       "STOP, do not retry, consider bench recovery",
	KindIllegalArgument:    "invalid argument passed to core API",
}

// Error is the single structured error type used across the core. It always
// carries a Kind from the stable taxonomy, optional free-form Detail, a
// Remediation string, and an optional wrapped cause.
type Error struct {
	Kind        Kind
	Detail      string
	Remediation string
	Cause       error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an Error with the default remediation text for kind.
func NewError(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Remediation: remediation[kind], Cause: cause}
}

// NewErrorWithRemediation builds an Error overriding the default remediation
// text, used for NRC-specific guidance (spec.md §7).
func NewErrorWithRemediation(kind Kind, detail, remediationText string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Remediation: remediationText, Cause: cause}
}

// Is reports whether err, or any error it wraps, is an *Error of the given
// kind. It is a shorthand for errors.As followed by a .Kind comparison.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
