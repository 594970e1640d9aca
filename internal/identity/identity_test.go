package identity

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStableID_DeterministicAndShort(t *testing.T) {
	pub, _, err := GenerateKeypair()
	require.NoError(t, err)

	id1 := StableID(pub)
	id2 := StableID(pub)
	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 8)
}

func TestStableID_DifferentKeysDiffer(t *testing.T) {
	pubA, _, err := GenerateKeypair()
	require.NoError(t, err)
	pubB, _, err := GenerateKeypair()
	require.NoError(t, err)

	assert.NotEqual(t, StableID(pubA), StableID(pubB))
}

func TestRandomEphemeralID_ShapeAndEntropy(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := RandomEphemeralID()
		require.NoError(t, err)
		assert.Len(t, id, 8)
		for _, r := range id {
			assert.Contains(t, ephemeralAlphabet, string(r))
		}
		seen[id] = true
	}
	assert.Greater(t, len(seen), 40, "expected mostly-unique ids across 50 draws")
}

func TestVerify_RoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeypair()
	require.NoError(t, err)

	canonical := ProposalString("agent-b", "write tests", "10", "USD", "", "")
	sig := ed25519.Sign(priv, []byte(canonical))

	assert.NoError(t, Verify(pub, canonical, sig))
}

func TestVerify_RejectsTamperedMessage(t *testing.T) {
	pub, priv, err := GenerateKeypair()
	require.NoError(t, err)

	sig := ed25519.Sign(priv, []byte(AcceptString("p-1", "")))
	err = Verify(pub, AcceptString("p-2", ""), sig)
	assert.Error(t, err)
}

func TestVerify_RejectsWrongKeySize(t *testing.T) {
	err := Verify(ed25519.PublicKey([]byte("too-short")), "anything", []byte("sig"))
	assert.Error(t, err)
}

func TestSigningStrings_EmptyFieldsStayPositional(t *testing.T) {
	withAmount := ProposalString("to", "task", "10", "USD", "", "")
	withoutAmount := ProposalString("to", "task", "", "USD", "", "")
	assert.NotEqual(t, withAmount, withoutAmount)
	assert.Equal(t, "to|task|10|USD||", withAmount)
	assert.Equal(t, "to|task||USD||", withoutAmount)
}

func TestSigningStrings_VerbPrefixedFormsDistinctByVerb(t *testing.T) {
	assert.NotEqual(t, RejectString("p-1"), ArbiterAcceptString("p-1"))
	assert.Equal(t, "REJECT|p-1", RejectString("p-1"))
	assert.Equal(t, "DISPUTE|p-1|reason", DisputeString("p-1", "reason"))
}

func TestParsePubkeyHex_RoundTrip(t *testing.T) {
	pub, _, err := GenerateKeypair()
	require.NoError(t, err)

	parsed, err := ParsePubkeyHex(hexEncode(pub))
	require.NoError(t, err)
	assert.Equal(t, pub, parsed)
}

func TestParsePubkeyHex_RejectsBadLength(t *testing.T) {
	_, err := ParsePubkeyHex("abcd")
	assert.Error(t, err)
}

func TestParsePubkeyHex_RejectsNonHex(t *testing.T) {
	_, err := ParsePubkeyHex("not-hex-zzzz-not-hex-zzzz-not-hex-zzzz-not-hex-zzzz-not-hex-zzzz")
	assert.Error(t, err)
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}
