package relayerr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind_Fatal_ProtocolViolationAlwaysFatal(t *testing.T) {
	assert.True(t, ProtocolViolation.Fatal(true))
	assert.True(t, ProtocolViolation.Fatal(false))
}

func TestKind_Fatal_RateExceededOnlyPreAuth(t *testing.T) {
	assert.True(t, RateExceeded.Fatal(true))
	assert.False(t, RateExceeded.Fatal(false))
}

func TestKind_Fatal_OtherKindsNeverFatal(t *testing.T) {
	for _, k := range []Kind{Malformed, AuthFailure, AuthorizationFailure, NotFound, StateConflict, InvariantViolation, ResourceExhausted} {
		assert.False(t, k.Fatal(true), k.String())
		assert.False(t, k.Fatal(false), k.String())
	}
}

func TestKind_String_CoversEveryKind(t *testing.T) {
	kinds := []Kind{ProtocolViolation, RateExceeded, Malformed, AuthFailure, AuthorizationFailure, NotFound, StateConflict, InvariantViolation, ResourceExhausted}
	for _, k := range kinds {
		assert.NotEqual(t, "Unknown", k.String())
	}
	assert.Equal(t, "Unknown", Kind(999).String())
}

func TestInvalidMsg_CarriesFieldList(t *testing.T) {
	err := InvalidMsg("missing required fields", "to", "task")
	assert.Equal(t, Malformed, err.Kind)
	assert.Equal(t, CodeInvalidMsg, err.Code)
	assert.Contains(t, err.Error(), "to")
	assert.Contains(t, err.Error(), "task")
}

func TestError_WithoutFieldsOmitsFieldSuffix(t *testing.T) {
	err := New(NotFound, CodeAgentNotFound, "no such agent")
	assert.NotContains(t, err.Error(), "fields:")
}

func TestFrameViolation_IsProtocolViolation(t *testing.T) {
	err := FrameViolation("frame too large")
	assert.Equal(t, ProtocolViolation, err.Kind)
	assert.True(t, err.Kind.Fatal(true))
	assert.True(t, err.Kind.Fatal(false))
}

func TestRateLimited_IsRateExceeded(t *testing.T) {
	err := RateLimited("too many messages")
	assert.Equal(t, RateExceeded, err.Kind)
	assert.Equal(t, CodeRateLimited, err.Code)
}

func TestInvalidSignature_FixedShape(t *testing.T) {
	err := InvalidSignature()
	assert.Equal(t, InvariantViolation, err.Kind)
	assert.Equal(t, CodeInvalidSignature, err.Code)
}
