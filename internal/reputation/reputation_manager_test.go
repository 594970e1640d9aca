package reputation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	records map[string]*Record
}

func newMemStore() *memStore { return &memStore{records: map[string]*Record{}} }

func (m *memStore) LoadAll() (map[string]*Record, error) { return m.records, nil }

func (m *memStore) Save(agentID string, rec Record) error {
	cp := rec
	m.records[agentID] = &cp
	return nil
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(newMemStore())
	require.NoError(t, err)
	return mgr
}

func TestGet_UnknownAgentGetsDefaultRating(t *testing.T) {
	mgr := newTestManager(t)
	rec := mgr.Get("nobody")
	assert.Equal(t, DefaultRating, rec.Rating)
	assert.Equal(t, 0, rec.Transactions)
}

func TestSettleComplete_BothPartiesGainAndTransactionCountsIncrement(t *testing.T) {
	mgr := newTestManager(t)
	deltaA, deltaB := mgr.SettleComplete("alice", "bob", 100)

	assert.Positive(t, deltaA)
	assert.Positive(t, deltaB)
	assert.Equal(t, 1, mgr.Get("alice").Transactions)
	assert.Equal(t, 1, mgr.Get("bob").Transactions)
}

func TestSettleComplete_HigherRatedPartyGainsLess(t *testing.T) {
	mgr := newTestManager(t)
	// give alice a head start by settling several completes against a third party
	for i := 0; i < 5; i++ {
		mgr.SettleComplete("alice", "carol", 50)
	}
	deltaAlice, deltaBob := mgr.SettleComplete("alice", "bob", 50)
	assert.Less(t, deltaAlice, deltaBob, "the higher-rated party should gain less from a fresh opponent")
}

func TestSettleUnilateralDispute_FaultLosesDisputerGainsHalf(t *testing.T) {
	mgr := newTestManager(t)
	faultDelta, disputerDelta := mgr.SettleUnilateralDispute("faulty", "disputer", 50)

	assert.Negative(t, faultDelta)
	assert.Positive(t, disputerDelta)
	assert.InDelta(t, -faultDelta, disputerDelta*2, 1, "disputer gain should be roughly half the fault party's loss")
}

func TestSettleMutualDispute_BothPartiesLose(t *testing.T) {
	mgr := newTestManager(t)
	deltaA, deltaB := mgr.SettleMutualDispute("alice", "bob", 50)
	assert.Negative(t, deltaA)
	assert.Negative(t, deltaB)
}

func TestRating_NeverFallsBelowFloor(t *testing.T) {
	mgr := newTestManager(t)
	for i := 0; i < 200; i++ {
		mgr.SettleMutualDispute("chronic-loser", "opponent", 1000)
	}
	assert.GreaterOrEqual(t, mgr.Get("chronic-loser").Rating, Floor)
}

func TestAdjustArbiterStake_AppliesSignedDelta(t *testing.T) {
	mgr := newTestManager(t)
	r1 := mgr.AdjustArbiterStake("arbiter-1", -25)
	assert.Equal(t, DefaultRating-25, r1)

	r2 := mgr.AdjustArbiterStake("arbiter-1", 5)
	assert.Equal(t, DefaultRating-25+5, r2)
}

func TestEligible_RequiresBothRatingAndTransactionThresholds(t *testing.T) {
	mgr := newTestManager(t)
	assert.False(t, mgr.Eligible("fresh-agent", 1200, 10), "a brand new agent has zero transactions")

	for i := 0; i < 10; i++ {
		mgr.SettleComplete("veteran", "counterparty", 10)
	}
	assert.True(t, mgr.Eligible("veteran", 1200, 10))
	assert.False(t, mgr.Eligible("veteran", 5000, 10), "rating threshold above actual rating should fail")
}
