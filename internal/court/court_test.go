package court

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/agentchat-relay/internal/escrow"
	"github.com/ocx/agentchat-relay/internal/events"
	"github.com/ocx/agentchat-relay/internal/proposal"
	"github.com/ocx/agentchat-relay/internal/reputation"
)

type memStore struct {
	records map[string]*reputation.Record
}

func (m *memStore) LoadAll() (map[string]*reputation.Record, error) { return m.records, nil }
func (m *memStore) Save(agentID string, rec reputation.Record) error {
	cp := rec
	m.records[agentID] = &cp
	return nil
}

type fakeElig struct {
	pool []string
}

func (f *fakeElig) Candidates(excludeA, excludeB string) []string {
	out := make([]string, 0, len(f.pool))
	for _, a := range f.pool {
		if a != excludeA && a != excludeB {
			out = append(out, a)
		}
	}
	return out
}

func eligibleRecords(agents []string) map[string]*reputation.Record {
	out := map[string]*reputation.Record{}
	for _, a := range agents {
		out[a] = &reputation.Record{AgentID: a, Rating: 1400, Transactions: 20}
	}
	return out
}

func newTestCourt(t *testing.T, pool []string) (*Manager, *reputation.Manager) {
	t.Helper()
	rep, err := reputation.NewManager(&memStore{records: eligibleRecords(pool)})
	require.NoError(t, err)
	propRep, err := reputation.NewManager(&memStore{records: map[string]*reputation.Record{}})
	require.NoError(t, err)
	propMgr := proposal.NewManager(propRep, escrow.NewGate(), events.NewEventBus())
	return NewManager(rep, propMgr, &fakeElig{pool: pool}), rep
}

func commitNonce(nonce string) string {
	sum := sha256.Sum256([]byte(nonce))
	return hex.EncodeToString(sum[:])
}

func openAndReveal(t *testing.T, cm *Manager, id, propID, disputant, respondent string) *Dispute {
	t.Helper()
	nonce := "nonce-" + id
	_, err := cm.OpenIntent(id, propID, disputant, respondent, "reason", commitNonce(nonce), "server-"+id)
	require.NoError(t, err)
	d, err := cm.Reveal(id, nonce)
	require.NoError(t, err)
	return d
}

func acceptAllArbiters(t *testing.T, cm *Manager, id string, arbiters []string) {
	t.Helper()
	for i, a := range arbiters {
		_, allAccepted, err := cm.ArbiterAccept(id, a)
		require.NoError(t, err)
		if i == len(arbiters)-1 {
			assert.True(t, allAccepted, "the last acceptance should advance the dispute to evidence")
		}
	}
}

func TestOpenIntent_RejectsDuplicateForSameProposal(t *testing.T) {
	cm, _ := newTestCourt(t, []string{"a1", "a2", "a3", "a4"})
	_, err := cm.OpenIntent("d1", "p1", "alice", "bob", "slow delivery", "commit-1", "srv-1")
	require.NoError(t, err)

	_, err = cm.OpenIntent("d2", "p1", "alice", "bob", "slow delivery again", "commit-2", "srv-2")
	assert.Error(t, err, "a second dispute cannot be opened against a proposal already in dispute")
}

func TestReveal_RejectsMismatchedCommitment(t *testing.T) {
	cm, _ := newTestCourt(t, []string{"a1", "a2", "a3", "a4"})
	_, err := cm.OpenIntent("d1", "p1", "alice", "bob", "reason", "deadbeef", "srv-1")
	require.NoError(t, err)

	_, err = cm.Reveal("d1", "some-nonce")
	assert.Error(t, err)
}

func TestReveal_RejectsAfterDeadline(t *testing.T) {
	cm, _ := newTestCourt(t, []string{"a1", "a2", "a3", "a4"})
	nonce := "n1"
	_, err := cm.OpenIntent("d1", "p1", "alice", "bob", "reason", commitNonce(nonce), "srv-1")
	require.NoError(t, err)

	d, err := cm.Get("d1")
	require.NoError(t, err)
	d.RevealDeadline = time.Now().Add(-time.Second)

	_, err = cm.Reveal("d1", nonce)
	assert.Error(t, err)
}

func TestReveal_FormsThreeMemberPanelAndStakesEach(t *testing.T) {
	pool := []string{"a1", "a2", "a3", "a4"}
	cm, rep := newTestCourt(t, pool)
	d := openAndReveal(t, cm, "d1", "p1", "alice", "bob")

	assert.Equal(t, PhaseArbiterResponse, d.Phase)
	require.Len(t, d.Arbiters, 3)
	for _, a := range d.Arbiters {
		assert.Equal(t, 1400-ArbiterStake, rep.Get(a).Rating, "each panel member is staked on selection")
	}
}

func TestReveal_FallsBackWhenFewerThanThreeEligible(t *testing.T) {
	cm, _ := newTestCourt(t, []string{"a1", "a2"})
	d := openAndReveal(t, cm, "d1", "p1", "alice", "bob")
	assert.Equal(t, PhaseFallback, d.Phase)
	assert.Empty(t, d.Arbiters)
}

func TestArbiterAccept_RejectsNonPanelMember(t *testing.T) {
	cm, _ := newTestCourt(t, []string{"a1", "a2", "a3", "a4"})
	openAndReveal(t, cm, "d1", "p1", "alice", "bob")

	_, _, err := cm.ArbiterAccept("d1", "mallory")
	assert.Error(t, err)
}

func TestArbiterAccept_AllThreeAdvancesToEvidence(t *testing.T) {
	cm, _ := newTestCourt(t, []string{"a1", "a2", "a3", "a4"})
	d := openAndReveal(t, cm, "d1", "p1", "alice", "bob")

	acceptAllArbiters(t, cm, "d1", d.Arbiters)

	d, err := cm.Get("d1")
	require.NoError(t, err)
	assert.Equal(t, PhaseEvidence, d.Phase)
}

func TestArbiterDecline_DrawsReplacementFromRemainingPool(t *testing.T) {
	pool := []string{"a1", "a2", "a3", "a4", "a5"}
	cm, rep := newTestCourt(t, pool)
	d := openAndReveal(t, cm, "d1", "p1", "alice", "bob")
	declining := d.Arbiters[0]

	_, replacement, err := cm.ArbiterDecline("d1", declining, "too busy", pool)
	require.NoError(t, err)
	assert.NotEmpty(t, replacement, "two unused candidates remain in the pool")
	assert.NotEqual(t, declining, replacement)

	d, err = cm.Get("d1")
	require.NoError(t, err)
	assert.Contains(t, d.Arbiters, replacement)
	assert.NotContains(t, d.Arbiters, declining)
	assert.Equal(t, 1400, rep.Get(declining).Rating, "a decliner's stake is returned in full")
}

func TestArbiterDecline_NoReplacementWhenPoolExhausted(t *testing.T) {
	pool := []string{"a1", "a2", "a3"}
	cm, _ := newTestCourt(t, pool)
	d := openAndReveal(t, cm, "d1", "p1", "alice", "bob")

	_, replacement, err := cm.ArbiterDecline("d1", d.Arbiters[0], "too busy", pool)
	require.NoError(t, err)
	assert.Empty(t, replacement, "the panel already used the entire eligible pool")
}

func TestArbiterDecline_RejectsNonPanelMember(t *testing.T) {
	pool := []string{"a1", "a2", "a3", "a4"}
	cm, _ := newTestCourt(t, pool)
	openAndReveal(t, cm, "d1", "p1", "alice", "bob")

	_, _, err := cm.ArbiterDecline("d1", "mallory", "n/a", pool)
	assert.Error(t, err)
}

func TestExpireArbiterResponse_FallsBackWhenTooFewAccepted(t *testing.T) {
	pool := []string{"a1", "a2", "a3", "a4"}
	cm, _ := newTestCourt(t, pool)
	d := openAndReveal(t, cm, "d1", "p1", "alice", "bob")

	cm.ArbiterAccept("d1", d.Arbiters[0])

	d, err := cm.Get("d1")
	require.NoError(t, err)
	d.ArbiterDeadline = time.Now().Add(-time.Second)

	d, changed := cm.ExpireArbiterResponse("d1")
	assert.True(t, changed)
	assert.Equal(t, PhaseFallback, d.Phase)
}

func TestExpireArbiterResponse_NoopBeforeDeadline(t *testing.T) {
	pool := []string{"a1", "a2", "a3", "a4"}
	cm, _ := newTestCourt(t, pool)
	openAndReveal(t, cm, "d1", "p1", "alice", "bob")

	_, changed := cm.ExpireArbiterResponse("d1")
	assert.False(t, changed)
}

func advanceToEvidence(t *testing.T, pool []string) (*Manager, *reputation.Manager, *Dispute) {
	t.Helper()
	cm, rep := newTestCourt(t, pool)
	d := openAndReveal(t, cm, "d1", "p1", "alice", "bob")
	acceptAllArbiters(t, cm, "d1", d.Arbiters)
	d, err := cm.Get("d1")
	require.NoError(t, err)
	return cm, rep, d
}

func TestSubmitEvidence_RejectsTooManyItems(t *testing.T) {
	cm, _, _ := advanceToEvidence(t, []string{"a1", "a2", "a3", "a4"})
	items := make([]EvidenceItem, MaxEvidenceItems+1)
	for i := range items {
		items[i] = EvidenceItem{Kind: "commit", Statement: "ok"}
	}
	_, _, err := cm.SubmitEvidence("d1", "alice", items)
	assert.Error(t, err)
}

func TestSubmitEvidence_RejectsUnknownKind(t *testing.T) {
	cm, _, _ := advanceToEvidence(t, []string{"a1", "a2", "a3", "a4"})
	_, _, err := cm.SubmitEvidence("d1", "alice", []EvidenceItem{{Kind: "smoke_signal", Statement: "ok"}})
	assert.Error(t, err)
}

func TestSubmitEvidence_RejectsOversizeStatement(t *testing.T) {
	cm, _, _ := advanceToEvidence(t, []string{"a1", "a2", "a3", "a4"})
	huge := make([]byte, MaxEvidenceStatement+1)
	_, _, err := cm.SubmitEvidence("d1", "alice", []EvidenceItem{{Kind: "commit", Statement: string(huge)}})
	assert.Error(t, err)
}

func TestSubmitEvidence_RejectsNonParty(t *testing.T) {
	cm, _, _ := advanceToEvidence(t, []string{"a1", "a2", "a3", "a4"})
	_, _, err := cm.SubmitEvidence("d1", "mallory", []EvidenceItem{{Kind: "commit", Statement: "ok"}})
	assert.Error(t, err)
}

func TestSubmitEvidence_BothPartiesInTriggersDeliberation(t *testing.T) {
	cm, _, _ := advanceToEvidence(t, []string{"a1", "a2", "a3", "a4"})

	_, advanced, err := cm.SubmitEvidence("d1", "alice", []EvidenceItem{{Kind: "commit", Statement: "alice's side"}})
	require.NoError(t, err)
	assert.False(t, advanced, "only one party has submitted so far")

	d, advanced, err := cm.SubmitEvidence("d1", "bob", []EvidenceItem{{Kind: "message_log", Statement: "bob's side"}})
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.Equal(t, PhaseDeliberation, d.Phase)
}

func TestExpireEvidence_ForcesDeliberationWithOneSidedEvidence(t *testing.T) {
	cm, _, _ := advanceToEvidence(t, []string{"a1", "a2", "a3", "a4"})
	cm.SubmitEvidence("d1", "alice", []EvidenceItem{{Kind: "commit", Statement: "alice's side"}})

	d, err := cm.Get("d1")
	require.NoError(t, err)
	d.EvidenceDeadline = time.Now().Add(-time.Second)

	d, changed := cm.ExpireEvidence("d1")
	assert.True(t, changed)
	assert.Equal(t, PhaseDeliberation, d.Phase)
}

func advanceToDeliberation(t *testing.T, pool []string) (*Manager, *reputation.Manager, *Dispute) {
	t.Helper()
	cm, rep, d := advanceToEvidence(t, pool)
	cm.SubmitEvidence("d1", "alice", []EvidenceItem{{Kind: "commit", Statement: "alice's side"}})
	cm.SubmitEvidence("d1", "bob", []EvidenceItem{{Kind: "message_log", Statement: "bob's side"}})
	d, err := cm.Get("d1")
	require.NoError(t, err)
	return cm, rep, d
}

func TestVote_RejectsNonPanelMember(t *testing.T) {
	cm, _, _ := advanceToDeliberation(t, []string{"a1", "a2", "a3", "a4"})
	_, _, err := cm.Vote("d1", "mallory", VerdictDisputant)
	assert.Error(t, err)
}

func TestVote_RejectsUnknownVerdict(t *testing.T) {
	cm, _, d := advanceToDeliberation(t, []string{"a1", "a2", "a3", "a4"})
	_, _, err := cm.Vote("d1", d.Arbiters[0], Verdict("unknown"))
	assert.Error(t, err)
}

func TestVote_SignalsWhenAllThreeHaveVoted(t *testing.T) {
	cm, _, d := advanceToDeliberation(t, []string{"a1", "a2", "a3", "a4"})

	_, allVoted, err := cm.Vote("d1", d.Arbiters[0], VerdictDisputant)
	require.NoError(t, err)
	assert.False(t, allVoted)

	_, allVoted, err = cm.Vote("d1", d.Arbiters[1], VerdictDisputant)
	require.NoError(t, err)
	assert.False(t, allVoted)

	_, allVoted, err = cm.Vote("d1", d.Arbiters[2], VerdictRespondent)
	require.NoError(t, err)
	assert.True(t, allVoted)
}

func TestResolve_MajorityVerdictPaysBonusToMajorityOnly(t *testing.T) {
	cm, rep, d := advanceToDeliberation(t, []string{"a1", "a2", "a3", "a4"})
	cm.Vote("d1", d.Arbiters[0], VerdictDisputant)
	cm.Vote("d1", d.Arbiters[1], VerdictDisputant)
	cm.Vote("d1", d.Arbiters[2], VerdictRespondent)

	resolved, verdict, fresh, err := cm.Resolve("d1")
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, VerdictDisputant, verdict)
	assert.Equal(t, PhaseResolved, resolved.Phase)

	stakedRating := 1400 - ArbiterStake
	assert.Equal(t, stakedRating+ArbiterStake+MajorityBonus, rep.Get(d.Arbiters[0]).Rating)
	assert.Equal(t, stakedRating+ArbiterStake+MajorityBonus, rep.Get(d.Arbiters[1]).Rating)
	assert.Equal(t, stakedRating+ArbiterStake, rep.Get(d.Arbiters[2]).Rating, "minority voter gets their stake back with no bonus")
}

func TestResolve_ThreeWayTieYieldsMutual(t *testing.T) {
	cm, _, d := advanceToDeliberation(t, []string{"a1", "a2", "a3", "a4"})
	cm.Vote("d1", d.Arbiters[0], VerdictDisputant)
	cm.Vote("d1", d.Arbiters[1], VerdictRespondent)
	cm.Vote("d1", d.Arbiters[2], VerdictMutual)

	_, verdict, fresh, err := cm.Resolve("d1")
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, VerdictMutual, verdict)
}

func TestResolve_ForfeitsNonVoters(t *testing.T) {
	cm, rep, d := advanceToDeliberation(t, []string{"a1", "a2", "a3", "a4"})
	cm.Vote("d1", d.Arbiters[0], VerdictDisputant)
	cm.Vote("d1", d.Arbiters[1], VerdictDisputant)

	d.VoteDeadline = time.Now().Add(-time.Second)
	_, _, fresh, err := cm.Resolve("d1")
	require.NoError(t, err)
	assert.True(t, fresh)

	stakedRating := 1400 - ArbiterStake
	assert.Equal(t, stakedRating, rep.Get(d.Arbiters[2]).Rating, "a non-voter's withheld stake is forfeited outright")
}

func TestResolve_SecondCallReturnsStaleFalseAndDoesNotReSettle(t *testing.T) {
	cm, rep, d := advanceToDeliberation(t, []string{"a1", "a2", "a3", "a4"})
	cm.Vote("d1", d.Arbiters[0], VerdictDisputant)
	cm.Vote("d1", d.Arbiters[1], VerdictDisputant)
	cm.Vote("d1", d.Arbiters[2], VerdictRespondent)

	_, firstVerdict, firstFresh, err := cm.Resolve("d1")
	require.NoError(t, err)
	require.True(t, firstFresh)

	ratingAfterFirst := rep.Get(d.Arbiters[0]).Rating

	_, secondVerdict, secondFresh, err := cm.Resolve("d1")
	require.NoError(t, err)
	assert.False(t, secondFresh, "a dispute already resolved must not be settled twice")
	assert.Equal(t, firstVerdict, secondVerdict)
	assert.Equal(t, ratingAfterFirst, rep.Get(d.Arbiters[0]).Rating)
}

func TestResolve_RejectsBeforeDeliberation(t *testing.T) {
	cm, _, _ := advanceToEvidence(t, []string{"a1", "a2", "a3", "a4"})
	_, _, _, err := cm.Resolve("d1")
	assert.Error(t, err)
}

func TestActiveIDs_ExcludesResolvedDisputes(t *testing.T) {
	cm, _, d := advanceToDeliberation(t, []string{"a1", "a2", "a3", "a4"})
	cm.Vote("d1", d.Arbiters[0], VerdictDisputant)
	cm.Vote("d1", d.Arbiters[1], VerdictDisputant)
	cm.Vote("d1", d.Arbiters[2], VerdictDisputant)
	cm.Resolve("d1")

	openAndReveal(t, cm, "d2", "p2", "carol", "dave")

	ids := cm.ActiveIDs()
	assert.NotContains(t, ids, "d1")
	assert.Contains(t, ids, "d2")
}
