// Package identity implements Ed25519 agent identity: keypair handling,
// canonical signing strings, signature verification, and the stable-id
// derivation that lets a pubkey agent be recognised across sessions.
package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"golang.org/x/crypto/ed25519"

	"github.com/ocx/agentchat-relay/internal/relayerr"
)

// StableID returns the first 8 hex chars of SHA-256(pubkey).
func StableID(pubkey ed25519.PublicKey) string {
	sum := sha256.Sum256(pubkey)
	return hex.EncodeToString(sum[:])[:8]
}

const ephemeralAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandomEphemeralID returns a random 8-character alphanumeric id for an
// agent that did not present a pubkey.
func RandomEphemeralID() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(ephemeralAlphabet)))
	for i := 0; i < 8; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(ephemeralAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// GenerateKeypair creates a new Ed25519 keypair for an operator identity file.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// Verify checks sig over the canonical signing string for the given pubkey,
// returning a relayerr.Error so callers can write it straight to the wire.
func Verify(pubkey ed25519.PublicKey, canonical string, sig []byte) error {
	if len(pubkey) != ed25519.PublicKeySize {
		return relayerr.InvalidSignature()
	}
	if !ed25519.Verify(pubkey, []byte(canonical), sig) {
		return relayerr.InvalidSignature()
	}
	return nil
}

// The following builders produce the canonical, pipe-joined ASCII signing
// string for each signed operation. Empty optional fields are represented as
// empty strings, never omitted, so field position is stable.

func ProposalString(to, task, amount, currency, paymentCode, expires string) string {
	return join(to, task, amount, currency, paymentCode, expires)
}

func AcceptString(proposalID, paymentCode string) string {
	return join("ACCEPT", proposalID, paymentCode)
}

// RejectString follows the ACCEPT/COMPLETE shape (verb|proposal_id) since
// REJECT is also a signed proposer-facing transition.
func RejectString(proposalID string) string {
	return join("REJECT", proposalID)
}

func CompleteString(proposalID, proof string) string {
	return join("COMPLETE", proposalID, proof)
}

// DisputeString is the bilateral DISPUTE signing string, distinct from the
// court's DISPUTE_INTENT; it follows the same verb|id pattern.
func DisputeString(proposalID, reason string) string {
	return join("DISPUTE", proposalID, reason)
}

func DisputeIntentString(proposalID, reason, commitment string) string {
	return join("DISPUTE_INTENT", proposalID, reason, commitment)
}

func DisputeRevealString(proposalID, nonce string) string {
	return join("DISPUTE_REVEAL", proposalID, nonce)
}

func EvidenceString(disputeID, itemsHash string) string {
	return join("EVIDENCE", disputeID, itemsHash)
}

func ArbiterAcceptString(disputeID string) string {
	return join("ARBITER_ACCEPT", disputeID)
}

func ArbiterDeclineString(disputeID, reason string) string {
	return join("ARBITER_DECLINE", disputeID, reason)
}

func VoteString(disputeID, verdict string) string {
	return join("VOTE", disputeID, verdict)
}

func AuthChallengeString(nonce, challengeID string, timestampMs int64) string {
	return join("AGENTCHAT_AUTH", nonce, challengeID, strconv.FormatInt(timestampMs, 10))
}

func join(fields ...string) string {
	return strings.Join(fields, "|")
}

// ParsePubkeyHex decodes a hex-encoded Ed25519 public key.
func ParsePubkeyHex(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid pubkey encoding: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid pubkey length: %d", len(b))
	}
	return ed25519.PublicKey(b), nil
}
