package session

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/agentchat-relay/internal/identity"
)

func TestAdmitEphemeral_AssignsRandomIDAndAdmits(t *testing.T) {
	r := NewRegistry(time.Minute)
	conn := NewConnection("c1", "127.0.0.1:1")

	agent, err := r.AdmitEphemeral(conn, "nick")
	require.NoError(t, err)
	assert.NotEmpty(t, agent.ID)
	assert.False(t, agent.Verified)
	assert.Equal(t, StateAdmitted, conn.GetState())
	assert.Same(t, agent, conn.Agent)
}

func verifiedLogin(t *testing.T, r *Registry, nick string) (*Connection, *Agent, ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := identity.GenerateKeypair()
	require.NoError(t, err)

	conn := NewConnection("c-"+nick, "127.0.0.1:1")
	pc, err := r.BeginChallenge(conn, pub, nick)
	require.NoError(t, err)

	ts := int64(1000)
	canonical := identity.AuthChallengeString(pc.Nonce, pc.ChallengeID, ts)
	sig := ed25519.Sign(priv, []byte(canonical))

	result, err := r.VerifyIdentity(conn, pc.ChallengeID, sig, ts)
	require.NoError(t, err)
	return conn, result.Agent, pub, priv
}

func TestBeginChallenge_MovesConnectionToChallenged(t *testing.T) {
	r := NewRegistry(time.Minute)
	pub, _, err := identity.GenerateKeypair()
	require.NoError(t, err)
	conn := NewConnection("c1", "127.0.0.1:1")

	pc, err := r.BeginChallenge(conn, pub, "nick")
	require.NoError(t, err)
	assert.NotEmpty(t, pc.ChallengeID)
	assert.NotEmpty(t, pc.Nonce)
	assert.Equal(t, StateChallenged, conn.GetState())
}

func TestVerifyIdentity_SucceedsWithValidSignature(t *testing.T) {
	r := NewRegistry(time.Minute)
	conn, agent, pub, _ := verifiedLogin(t, r, "alice")

	assert.Equal(t, identity.StableID(pub), agent.ID)
	assert.True(t, agent.Verified)
	assert.Equal(t, StateVerified, conn.GetState())
}

func TestVerifyIdentity_RejectsBadSignature(t *testing.T) {
	r := NewRegistry(time.Minute)
	pub, _, err := identity.GenerateKeypair()
	require.NoError(t, err)
	conn := NewConnection("c1", "127.0.0.1:1")
	pc, err := r.BeginChallenge(conn, pub, "alice")
	require.NoError(t, err)

	_, err = r.VerifyIdentity(conn, pc.ChallengeID, []byte("not-a-signature-of-the-right-length-000000000000000000000000000"), 1000)
	assert.Error(t, err)
}

func TestVerifyIdentity_RejectsUnknownChallenge(t *testing.T) {
	r := NewRegistry(time.Minute)
	conn := NewConnection("c1", "127.0.0.1:1")
	_, err := r.VerifyIdentity(conn, "no-such-challenge", []byte("sig"), 1000)
	assert.Error(t, err)
}

func TestVerifyIdentity_RejectsExpiredChallenge(t *testing.T) {
	r := NewRegistry(time.Minute)
	pub, priv, err := identity.GenerateKeypair()
	require.NoError(t, err)
	conn := NewConnection("c1", "127.0.0.1:1")
	pc, err := r.BeginChallenge(conn, pub, "alice")
	require.NoError(t, err)

	r.mu.Lock()
	r.pendingByChallenge[pc.ChallengeID].ExpiresAt = time.Now().Add(-time.Second)
	r.mu.Unlock()

	ts := int64(1000)
	canonical := identity.AuthChallengeString(pc.Nonce, pc.ChallengeID, ts)
	sig := ed25519.Sign(priv, []byte(canonical))

	_, err = r.VerifyIdentity(conn, pc.ChallengeID, sig, ts)
	assert.Error(t, err)
}

func TestVerifyIdentity_DisplacesPriorConnectionOfSameIdentity(t *testing.T) {
	r := NewRegistry(time.Minute)
	firstConn, agent, pub, priv := verifiedLogin(t, r, "alice")

	secondConn := NewConnection("c2", "127.0.0.1:2")
	pc, err := r.BeginChallenge(secondConn, pub, "alice")
	require.NoError(t, err)

	ts := int64(2000)
	canonical := identity.AuthChallengeString(pc.Nonce, pc.ChallengeID, ts)
	sig := ed25519.Sign(priv, []byte(canonical))

	result, err := r.VerifyIdentity(secondConn, pc.ChallengeID, sig, ts)
	require.NoError(t, err)
	assert.Same(t, firstConn, result.Displaced, "a second verified login for the same identity must displace the first")
	assert.Same(t, agent, result.Agent, "the stable identity must reuse the existing agent record")
	assert.Same(t, secondConn, agent.LiveConnection())
}

func TestExpireChallenge_RemovesOnlyExisting(t *testing.T) {
	r := NewRegistry(time.Minute)
	pub, _, err := identity.GenerateKeypair()
	require.NoError(t, err)
	conn := NewConnection("c1", "127.0.0.1:1")
	pc, err := r.BeginChallenge(conn, pub, "alice")
	require.NoError(t, err)

	assert.True(t, r.ExpireChallenge(pc.ChallengeID))
	assert.False(t, r.ExpireChallenge(pc.ChallengeID), "an already-removed challenge cannot be expired twice")
}

func TestClose_DetachesAgentFromConnection(t *testing.T) {
	r := NewRegistry(time.Minute)
	conn, agent, _, _ := verifiedLogin(t, r, "alice")

	r.Close(conn)
	assert.Nil(t, agent.LiveConnection())
	assert.Equal(t, StateClosed, conn.GetState())
}

func TestListOnline_OnlyIncludesLiveConnections(t *testing.T) {
	r := NewRegistry(time.Minute)
	conn, agent, _, _ := verifiedLogin(t, r, "alice")

	assert.Contains(t, r.ListOnline(), agent.ID)
	r.Close(conn)
	assert.NotContains(t, r.ListOnline(), agent.ID)
}

func TestCandidates_ExcludesPartiesAwayAndUnverified(t *testing.T) {
	r := NewRegistry(time.Minute)
	_, alice, _, _ := verifiedLogin(t, r, "alice")
	_, bob, _, _ := verifiedLogin(t, r, "bob")
	_, carol, _, _ := verifiedLogin(t, r, "carol")
	carol.SetPresence(PresenceAway)

	ephConn := NewConnection("c-eph", "127.0.0.1:9")
	eph, err := r.AdmitEphemeral(ephConn, "guest")
	require.NoError(t, err)

	candidates := r.Candidates(alice.ID, bob.ID)
	assert.NotContains(t, candidates, alice.ID)
	assert.NotContains(t, candidates, bob.ID)
	assert.NotContains(t, candidates, carol.ID, "an away agent is not a candidate")
	assert.NotContains(t, candidates, eph.ID, "an unverified ephemeral agent is not a candidate")
}

func TestCleanupExpiredChallenges_RemovesOnlyPastDeadline(t *testing.T) {
	r := NewRegistry(time.Minute)
	pubA, _, err := identity.GenerateKeypair()
	require.NoError(t, err)
	pubB, _, err := identity.GenerateKeypair()
	require.NoError(t, err)

	connA := NewConnection("ca", "127.0.0.1:1")
	pcA, err := r.BeginChallenge(connA, pubA, "a")
	require.NoError(t, err)
	connB := NewConnection("cb", "127.0.0.1:2")
	_, err = r.BeginChallenge(connB, pubB, "b")
	require.NoError(t, err)

	r.mu.Lock()
	r.pendingByChallenge[pcA.ChallengeID].ExpiresAt = time.Now().Add(-time.Second)
	r.mu.Unlock()

	removed := r.CleanupExpiredChallenges()
	assert.Equal(t, 1, removed)
}
