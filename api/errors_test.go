package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindFromRPCCode(t *testing.T) {
	assert.Equal(t, ErrKindInvalidSignature, KindFromRPCCode(CodeInvalidSignature))
	assert.Equal(t, ErrKindInsufficientSignatures, KindFromRPCCode(CodeInsufficientSignatures))
	assert.Equal(t, ErrKindNotYetReady, KindFromRPCCode(CodeNotYetReady))
	assert.Equal(t, ErrKindChallengeNotFound, KindFromRPCCode(CodeChallengeNotFound))
	assert.Equal(t, ErrKindInvalidChallenge, KindFromRPCCode(CodeInvalidChallenge))
	assert.Equal(t, ErrKindUnknownAccount, KindFromRPCCode(CodeUnknownAccount))
	assert.Equal(t, ErrKindGuardianNotOnboarded, KindFromRPCCode(CodeGuardianNotOnboarded))
	assert.Equal(t, ErrKindBadData, KindFromRPCCode(CodeBadData))
	assert.Equal(t, ErrKindStatement, KindFromRPCCode(CodeStatement))
	assert.Equal(t, ErrKindConflict, KindFromRPCCode(CodeConflict))
	assert.Equal(t, ErrKindBadRequest, KindFromRPCCode(CodeParse))
	assert.Equal(t, ErrKindServerError, KindFromRPCCode(CodeInternal))

	// Unrecognized codes surface as UNKNOWN rather than being swallowed.
	assert.Equal(t, ErrKindUnknown, KindFromRPCCode(-99999))
	assert.Equal(t, ErrKindUnknown, KindFromRPCCode(0))
}

func TestCodeForKindRoundTrip(t *testing.T) {
	domainKinds := []ErrorKind{
		ErrKindInvalidSignature,
		ErrKindInsufficientSignatures,
		ErrKindNotYetReady,
		ErrKindChallengeNotFound,
		ErrKindInvalidChallenge,
		ErrKindUnknownAccount,
		ErrKindGuardianNotOnboarded,
		ErrKindBadData,
		ErrKindStatement,
		ErrKindConflict,
	}
	for _, kind := range domainKinds {
		code := CodeForKind(kind)
		assert.Equal(t, kind, KindFromRPCCode(code), "kind %s did not survive the wire", kind)
	}

	assert.Equal(t, CodeInvalidRequest, CodeForKind(ErrKindBadRequest))
	assert.Equal(t, CodeMethodNotFound, CodeForKind(ErrKindNotFound))
	assert.Equal(t, CodeInternal, CodeForKind(ErrKindServerError))
	assert.Equal(t, CodeInternal, CodeForKind(ErrKindUnavailable))
}

func TestKindFromHTTPStatus(t *testing.T) {
	assert.Equal(t, ErrKindBadRequest, KindFromHTTPStatus(http.StatusBadRequest))
	assert.Equal(t, ErrKindUnauthorized, KindFromHTTPStatus(http.StatusUnauthorized))
	assert.Equal(t, ErrKindRateLimited, KindFromHTTPStatus(http.StatusTooManyRequests))
	assert.Equal(t, ErrKindGatewayTimeout, KindFromHTTPStatus(http.StatusGatewayTimeout))
	assert.Equal(t, ErrKindUnknown, KindFromHTTPStatus(http.StatusTeapot))
}

func TestKindOfUnwrapsChains(t *testing.T) {
	inner := NewError(ErrKindNotYetReady, "grace period not elapsed")
	wrapped := fmt.Errorf("finalize failed: %w", inner)

	assert.Equal(t, ErrKindNotYetReady, KindOf(wrapped))
	assert.Equal(t, ErrKindUnknown, KindOf(fmt.Errorf("plain failure")))
	assert.Equal(t, ErrKindUnknown, KindOf(nil))
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(NewError(ErrKindTransport, "connection refused")))
	require.True(t, IsRetryable(NewError(ErrKindRateLimited, "slow down")))
	require.True(t, IsRetryable(NewError(ErrKindUnavailable, "draining")))

	require.False(t, IsRetryable(NewError(ErrKindInvalidSignature, "bad signature")))
	require.False(t, IsRetryable(NewError(ErrKindNotYetReady, "too early")))
	require.False(t, IsRetryable(fmt.Errorf("unclassified")))
}

func TestErrorFormatting(t *testing.T) {
	withCode := &Error{Kind: ErrKindConflict, Code: CodeConflict, Message: "duplicate"}
	assert.Equal(t, "CONFLICT (-31010): duplicate", withCode.Error())

	withoutCode := NewError(ErrKindTransport, "dial tcp: %s", "refused")
	assert.Equal(t, "TRANSPORT_ERROR: dial tcp: refused", withoutCode.Error())
}
