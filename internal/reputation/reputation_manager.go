// Package reputation implements the relay's ELO rating engine: the rating
// update formula, experience-scaled K-factor, and the in-memory record
// cache backed by a pluggable RatingsStore.
package reputation

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Floor is the minimum rating any agent can fall to.
const Floor = 100

// DefaultRating is assigned to an agent with no prior record.
const DefaultRating = 1200

// Record is a single agent's rating state.
type Record struct {
	AgentID      string `json:"-"`
	Rating       int    `json:"rating"`
	Transactions int    `json:"transactions"`
	UpdatedMs    int64  `json:"updated"`
}

// Manager caches rating records in memory, guarded by one mutex, keyed by a
// flat agent id (no tenancy), with standard ELO expected/k-factor update
// math.
type Manager struct {
	mu      sync.RWMutex
	records map[string]*Record
	store   Store
}

// NewManager loads the full rating table from store at startup.
func NewManager(store Store) (*Manager, error) {
	records, err := store.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("load ratings: %w", err)
	}
	return &Manager{records: records, store: store}, nil
}

// Get returns an agent's record, creating a default one if absent. It does
// not persist the default until the agent's rating actually changes.
func (m *Manager) Get(agentID string) Record {
	m.mu.RLock()
	r, ok := m.records[agentID]
	m.mu.RUnlock()
	if !ok {
		return Record{AgentID: agentID, Rating: DefaultRating, Transactions: 0}
	}
	cp := *r
	return cp
}

// kFactor returns the base K-factor for an agent by completed-transaction
// count.
func kFactor(transactions int) float64 {
	switch {
	case transactions < 30:
		return 32
	case transactions < 100:
		return 24
	default:
		return 16
	}
}

// effectiveK applies the amount-weighted scaling; amount=0 (unpriced)
// yields K_eff = K.
func effectiveK(k float64, amount int) float64 {
	if amount <= 0 {
		return k
	}
	scale := math.Min(1+math.Log10(float64(amount)+1), 3)
	return k * scale
}

// expected returns the ELO expectation of self beating opponent.
func expected(selfRating, opponentRating int) float64 {
	return 1 / (1 + math.Pow(10, float64(opponentRating-selfRating)/400))
}

// clampFloor applies the rating floor.
func clampFloor(rating int) int {
	if rating < Floor {
		return Floor
	}
	return rating
}

// SettleComplete applies the positive-sum COMPLETE settlement to both
// parties and returns their rating deltas. Gains are halved to resist
// inflation.
func (m *Manager) SettleComplete(partyA, partyB string, amount int) (deltaA, deltaB int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recA := m.getOrCreateLocked(partyA)
	recB := m.getOrCreateLocked(partyB)

	kA := effectiveK(kFactor(recA.Transactions), amount)
	kB := effectiveK(kFactor(recB.Transactions), amount)

	eA := expected(recA.Rating, recB.Rating)
	eB := expected(recB.Rating, recA.Rating)

	gainA := int(math.Max(1, math.Round(kA*(1-eA)/2)))
	gainB := int(math.Max(1, math.Round(kB*(1-eB)/2)))

	recA.Rating = clampFloor(recA.Rating + gainA)
	recB.Rating = clampFloor(recB.Rating + gainB)
	recA.Transactions++
	recB.Transactions++
	m.touchLocked(recA)
	m.touchLocked(recB)

	return gainA, gainB
}

// SettleUnilateralDispute applies the at-fault/disputer settlement: the
// at-fault party loses a K-scaled amount, the disputer gains half that loss
// (the canonical rule resolution of the open question).
// Returns (faultDelta, disputerDelta) as signed rating changes.
func (m *Manager) SettleUnilateralDispute(atFault, disputer string, amount int) (faultDelta, disputerDelta int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fault := m.getOrCreateLocked(atFault)
	disp := m.getOrCreateLocked(disputer)

	k := effectiveK(kFactor(fault.Transactions), amount)
	e := expected(fault.Rating, disp.Rating)

	loss := int(math.Max(1, math.Round(k*e)))
	gain := int(math.Round(float64(loss) / 2))

	fault.Rating = clampFloor(fault.Rating - loss)
	disp.Rating = clampFloor(disp.Rating + gain)
	fault.Transactions++
	disp.Transactions++
	m.touchLocked(fault)
	m.touchLocked(disp)

	return -loss, gain
}

// SettleMutualDispute applies the mutual-fault settlement: both parties
// lose their computed amounts (escrow is burned separately by the escrow
// subsystem).
func (m *Manager) SettleMutualDispute(partyA, partyB string, amount int) (deltaA, deltaB int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recA := m.getOrCreateLocked(partyA)
	recB := m.getOrCreateLocked(partyB)

	kA := effectiveK(kFactor(recA.Transactions), amount)
	kB := effectiveK(kFactor(recB.Transactions), amount)

	eA := expected(recA.Rating, recB.Rating)
	eB := expected(recB.Rating, recA.Rating)

	lossA := int(math.Max(1, math.Round(kA*eA)))
	lossB := int(math.Max(1, math.Round(kB*eB)))

	recA.Rating = clampFloor(recA.Rating - lossA)
	recB.Rating = clampFloor(recB.Rating - lossB)
	recA.Transactions++
	recB.Transactions++
	m.touchLocked(recA)
	m.touchLocked(recB)

	return -lossA, -lossB
}

// AdjustArbiterStake applies an arbiter's +5 majority-vote bonus or a
// forfeited-stake loss; amount is signed.
func (m *Manager) AdjustArbiterStake(agentID string, delta int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.getOrCreateLocked(agentID)
	rec.Rating = clampFloor(rec.Rating + delta)
	m.touchLocked(rec)
	return rec.Rating
}

func (m *Manager) getOrCreateLocked(agentID string) *Record {
	rec, ok := m.records[agentID]
	if !ok {
		rec = &Record{AgentID: agentID, Rating: DefaultRating}
		m.records[agentID] = rec
	}
	return rec
}

func (m *Manager) touchLocked(rec *Record) {
	rec.UpdatedMs = time.Now().UnixMilli()
	if m.store != nil {
		_ = m.store.Save(rec.AgentID, *rec)
	}
}

// Eligible reports whether agentID meets the court's arbiter eligibility bar
// (rating + transaction-count thresholds only; presence/party checks are
// the court subsystem's concern).
func (m *Manager) Eligible(agentID string, minRating, minTx int) bool {
	rec := m.Get(agentID)
	return rec.Rating >= minRating && rec.Transactions >= minTx
}
