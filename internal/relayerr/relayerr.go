// Package relayerr taxonomises every failure the relay can produce into a
// small set of kinds, matching the non-exceptional failure policy shared by
// the connection, channel, proposal, and court subsystems.
package relayerr

import "fmt"

// Kind categorises an error by how the relay must respond to it.
type Kind int

const (
	// ProtocolViolation is always connection-fatal: oversize frame,
	// undecodable envelope, or post-admission identity displacement. Per-
	// message malformation (missing fields, oversize content, unknown
	// type) is Malformed, not ProtocolViolation — it is surfaced as an
	// ERROR frame on the same connection, not fatal.
	ProtocolViolation Kind = iota
	// RateExceeded is fatal pre-auth (flood guard), surfaced post-auth.
	RateExceeded
	// Malformed covers INVALID_MSG: bad field content on an otherwise
	// well-framed message. Never fatal.
	Malformed
	AuthFailure
	AuthorizationFailure
	NotFound
	// StateConflict covers wrong-phase and terminal-state transitions.
	StateConflict
	// InvariantViolation covers signature and commitment mismatches.
	InvariantViolation
	// ResourceExhausted covers insufficient rating for a stake.
	ResourceExhausted
)

func (k Kind) String() string {
	switch k {
	case ProtocolViolation:
		return "ProtocolViolation"
	case RateExceeded:
		return "RateExceeded"
	case Malformed:
		return "Malformed"
	case AuthFailure:
		return "AuthFailure"
	case AuthorizationFailure:
		return "AuthorizationFailure"
	case NotFound:
		return "NotFound"
	case StateConflict:
		return "StateConflict"
	case InvariantViolation:
		return "InvariantViolation"
	case ResourceExhausted:
		return "ResourceExhausted"
	default:
		return "Unknown"
	}
}

// Fatal reports whether a connection carrying this error kind must be closed
// rather than sent an ERROR frame. RateExceeded is only fatal pre-auth; the
// caller passes the connection's auth state to resolve that case.
func (k Kind) Fatal(preAuth bool) bool {
	switch k {
	case ProtocolViolation:
		return true
	case RateExceeded:
		return preAuth
	default:
		return false
	}
}

// Error codes surfaced on ERROR frames and admin responses.
const (
	CodeInvalidMsg                = "INVALID_MSG"
	CodeRateLimited               = "RATE_LIMITED"
	CodeChannelNotFound           = "CHANNEL_NOT_FOUND"
	CodeNotInvited                = "NOT_INVITED"
	CodeAgentNotFound             = "AGENT_NOT_FOUND"
	CodeInvalidSignature          = "INVALID_SIGNATURE"
	CodeNotProposalParty          = "NOT_PROPOSAL_PARTY"
	CodeProposalExpired           = "PROPOSAL_EXPIRED"
	CodeInsufficientReputation    = "INSUFFICIENT_REPUTATION"
	CodeVerificationRequired      = "VERIFICATION_REQUIRED"
	CodeDisputeAlreadyExists      = "DISPUTE_ALREADY_EXISTS"
	CodeDisputeCommitmentMismatch = "DISPUTE_COMMITMENT_MISMATCH"
	CodeDisputeNotParty           = "DISPUTE_NOT_PARTY"
	CodeDisputeNotArbiter         = "DISPUTE_NOT_ARBITER"
	CodeDisputeInvalidPhase       = "DISPUTE_INVALID_PHASE"
	CodeDisputeNotFound           = "DISPUTE_NOT_FOUND"
	CodeDisputeDeadlinePassed     = "DISPUTE_DEADLINE_PASSED"
)

// Error is a categorised relay failure. It never wraps a panic or a runtime
// exception — handlers construct it directly as a return value.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  []string // populated for INVALID_MSG's missing-field list
}

func (e *Error) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("%s: %s (fields: %v)", e.Code, e.Message, e.Fields)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an Error of the given kind/code/message.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// InvalidMsg builds an INVALID_MSG error listing the offending fields. This
// is surfaced on the connection, not fatal — see Malformed.
func InvalidMsg(message string, fields ...string) *Error {
	return &Error{Kind: Malformed, Code: CodeInvalidMsg, Message: message, Fields: fields}
}

// FrameViolation builds the fatal oversize-frame / undecodable-envelope
// error.
func FrameViolation(message string) *Error {
	return &Error{Kind: ProtocolViolation, Code: CodeInvalidMsg, Message: message}
}

// RateLimited builds a post-auth RATE_LIMITED error (non-fatal).
func RateLimited(message string) *Error {
	return &Error{Kind: RateExceeded, Code: CodeRateLimited, Message: message}
}

// NotFoundf builds a NotFound error with the given code.
func NotFoundf(code, format string, args ...interface{}) *Error {
	return &Error{Kind: NotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvalidSignature builds the standard signature-verification failure.
func InvalidSignature() *Error {
	return &Error{Kind: InvariantViolation, Code: CodeInvalidSignature, Message: "signature verification failed"}
}
