package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the stable machine-readable classification of a failure.
// Kinds are part of the client contract and never change meaning.
type ErrorKind string

const (
	// Transport-level failures: DNS, timeouts, malformed bodies.
	ErrKindTransport ErrorKind = "TRANSPORT_ERROR"

	// ErrKindUnknown covers authority error codes this client does not
	// recognize. Unknown codes are surfaced, never swallowed.
	ErrKindUnknown ErrorKind = "UNKNOWN_ERROR"

	// HTTP status derived kinds.
	ErrKindBadRequest     ErrorKind = "BAD_REQUEST"
	ErrKindUnauthorized   ErrorKind = "UNAUTHORIZED"
	ErrKindForbidden      ErrorKind = "FORBIDDEN"
	ErrKindNotFound       ErrorKind = "NOT_FOUND"
	ErrKindConflict       ErrorKind = "CONFLICT"
	ErrKindRateLimited    ErrorKind = "RATE_LIMITED"
	ErrKindServerError    ErrorKind = "SERVER_ERROR"
	ErrKindBadGateway     ErrorKind = "BAD_GATEWAY"
	ErrKindUnavailable    ErrorKind = "UNAVAILABLE"
	ErrKindGatewayTimeout ErrorKind = "GATEWAY_TIMEOUT"

	// ErrKindStatement covers statement-construction failures (SIWE_ERROR).
	ErrKindStatement ErrorKind = "SIWE_ERROR"

	// ErrKindBadData means the authority's reply did not match the
	// expected shape, or stored state violates a protocol invariant.
	// Malformed responses are never partially trusted.
	ErrKindBadData ErrorKind = "BAD_DATA"

	// Domain failures surfaced verbatim from the authority.
	ErrKindInvalidSignature       ErrorKind = "INVALID_SIGNATURE"
	ErrKindInsufficientSignatures ErrorKind = "INSUFFICIENT_SIGNATURES"
	ErrKindNotYetReady            ErrorKind = "NOT_YET_READY"
	ErrKindChallengeNotFound      ErrorKind = "CHALLENGE_NOT_FOUND"
	ErrKindInvalidChallenge       ErrorKind = "INVALID_CHALLENGE"
	ErrKindUnknownAccount         ErrorKind = "UNKNOWN_ACCOUNT"
	ErrKindGuardianNotOnboarded   ErrorKind = "GUARDIAN_NOT_ONBOARDED"
)

// Authority RPC error codes. The JSON-RPC reserved range -32768..-32000
// keeps its standard meanings; domain codes live right above it.
const (
	CodeParse          = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603

	CodeInvalidSignature       = -31001
	CodeInsufficientSignatures = -31002
	CodeNotYetReady            = -31003
	CodeChallengeNotFound      = -31004
	CodeInvalidChallenge       = -31005
	CodeUnknownAccount         = -31006
	CodeGuardianNotOnboarded   = -31007
	CodeBadData                = -31008
	CodeStatement              = -31009
	CodeConflict               = -31010
)

var rpcCodeKinds = map[int]ErrorKind{
	CodeParse:          ErrKindBadRequest,
	CodeInvalidRequest: ErrKindBadRequest,
	CodeMethodNotFound: ErrKindNotFound,
	CodeInvalidParams:  ErrKindBadRequest,
	CodeInternal:       ErrKindServerError,

	CodeInvalidSignature:       ErrKindInvalidSignature,
	CodeInsufficientSignatures: ErrKindInsufficientSignatures,
	CodeNotYetReady:            ErrKindNotYetReady,
	CodeChallengeNotFound:      ErrKindChallengeNotFound,
	CodeInvalidChallenge:       ErrKindInvalidChallenge,
	CodeUnknownAccount:         ErrKindUnknownAccount,
	CodeGuardianNotOnboarded:   ErrKindGuardianNotOnboarded,
	CodeBadData:                ErrKindBadData,
	CodeStatement:              ErrKindStatement,
	CodeConflict:               ErrKindConflict,
}

// Error carries a stable kind plus the human-readable message from the
// authority. Code is zero for failures that never reached the authority.
type Error struct {
	Kind    ErrorKind
	Code    int
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError creates an Error carrying no authority code.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindFromRPCCode maps an authority error code onto its kind. Codes
// outside the taxonomy map to ErrKindUnknown.
func KindFromRPCCode(code int) ErrorKind {
	if kind, ok := rpcCodeKinds[code]; ok {
		return kind
	}
	return ErrKindUnknown
}

// CodeForKind is the inverse mapping, used when the authority emits an
// error. Kinds without a wire code map to CodeInternal.
func CodeForKind(kind ErrorKind) int {
	for code, k := range rpcCodeKinds {
		if k == kind && code <= CodeInvalidSignature && code >= CodeConflict {
			return code
		}
	}
	switch kind {
	case ErrKindBadRequest:
		return CodeInvalidRequest
	case ErrKindNotFound:
		return CodeMethodNotFound
	}
	return CodeInternal
}

// KindFromHTTPStatus maps a non-200 transport status onto its kind.
func KindFromHTTPStatus(status int) ErrorKind {
	switch status {
	case http.StatusBadRequest:
		return ErrKindBadRequest
	case http.StatusUnauthorized:
		return ErrKindUnauthorized
	case http.StatusForbidden:
		return ErrKindForbidden
	case http.StatusNotFound:
		return ErrKindNotFound
	case http.StatusConflict:
		return ErrKindConflict
	case http.StatusTooManyRequests:
		return ErrKindRateLimited
	case http.StatusInternalServerError:
		return ErrKindServerError
	case http.StatusBadGateway:
		return ErrKindBadGateway
	case http.StatusServiceUnavailable:
		return ErrKindUnavailable
	case http.StatusGatewayTimeout:
		return ErrKindGatewayTimeout
	}
	return ErrKindUnknown
}

// KindOf extracts the kind from any error in err's chain.
// Errors outside the taxonomy report ErrKindUnknown.
func KindOf(err error) ErrorKind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ErrKindUnknown
}

// IsRetryable reports whether the failure is transient and a caller-side
// retry with backoff is reasonable. All other kinds are permanent.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case ErrKindTransport, ErrKindRateLimited, ErrKindServerError,
		ErrKindBadGateway, ErrKindUnavailable, ErrKindGatewayTimeout:
		return true
	}
	return false
}
