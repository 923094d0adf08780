package uds

// NRC is a UDS negative response code (ISO 14229-1 Table A.1).
type NRC uint8

const (
	NRCGeneralReject              NRC = 0x10
	NRCServiceNotSupported        NRC = 0x11
	NRCSubfunctionNotSupported    NRC = 0x12
	NRCIncorrectMessageLength     NRC = 0x13
	NRCConditionsNotCorrect       NRC = 0x22
	NRCRequestSequenceError       NRC = 0x24
	NRCRequestOutOfRange          NRC = 0x31
	NRCSecurityAccessDenied       NRC = 0x33
	NRCInvalidKey                 NRC = 0x35
	NRCExceedNumberOfAttempts     NRC = 0x36
	NRCRequiredTimeDelayNotExpired NRC = 0x37
	NRCUploadDownloadNotAccepted  NRC = 0x70
	NRCTransferDataSuspended      NRC = 0x71
	NRCGeneralProgrammingFailure  NRC = 0x72
	NRCWrongBlockSequenceCounter  NRC = 0x73
	NRCResponsePending            NRC = 0x78
	NRCSubfunctionNotSupportedInActiveSession NRC = 0x7E
	NRCServiceNotSupportedInActiveSession     NRC = 0x7F
	NRCVoltageTooHigh              NRC = 0x92
	NRCVoltageTooLow                NRC = 0x93
)

// descriptions mirrors the teacher's abort-code description table, keyed by
// NRC instead of SDO abort code.
var descriptions = map[NRC]string{
	NRCGeneralReject:              "general reject",
	NRCServiceNotSupported:        "service not supported",
	NRCSubfunctionNotSupported:    "subfunction not supported",
	NRCIncorrectMessageLength:     "incorrect message length or invalid format",
	NRCConditionsNotCorrect:       "conditions not correct",
	NRCRequestSequenceError:       "request sequence error",
	NRCRequestOutOfRange:          "request out of range",
	NRCSecurityAccessDenied:       "security access denied, wait required delay before retrying",
	NRCInvalidKey:                 "invalid key",
	NRCExceedNumberOfAttempts:     "exceeded number of attempts",
	NRCRequiredTimeDelayNotExpired: "required time delay not expired",
	NRCUploadDownloadNotAccepted:  "upload/download not accepted",
	NRCTransferDataSuspended:      "transfer data suspended",
	NRCGeneralProgrammingFailure:  "general programming failure, STOP, do not retry, consider bench recovery",
	NRCWrongBlockSequenceCounter:  "wrong block sequence counter",
	NRCResponsePending:            "request correctly received, response pending",
	NRCSubfunctionNotSupportedInActiveSession: "subfunction not supported in active session",
	NRCServiceNotSupportedInActiveSession:     "service not supported in active session",
	NRCVoltageTooHigh: "voltage too high",
	NRCVoltageTooLow:  "voltage too low, wait 10s, do not brute force",
}

// Describe returns a human-readable description for nrc, or a generic
// fallback for codes outside the known table.
func Describe(nrc NRC) string {
	if d, ok := descriptions[nrc]; ok {
		return d
	}
	return "unrecognized negative response code"
}

// recoverable reports whether nrc should trigger session recovery rather
// than an immediate failure (spec.md §4.3 step 5).
func recoverable(nrc NRC) bool {
	switch nrc {
	case NRCConditionsNotCorrect, NRCSubfunctionNotSupportedInActiveSession, NRCServiceNotSupportedInActiveSession:
		return true
	default:
		return false
	}
}
