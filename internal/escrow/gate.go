// Package escrow holds ELO-rating stakes for the lifetime of an accepted
// proposal or an arbiter's panel seat, and redistributes them on settlement.
package escrow

import (
	"fmt"
	"sync"
	"time"
)

// Status is the lifecycle of a single stake hold.
type Status string

const (
	StatusHeld     Status = "HELD"
	StatusReleased Status = "RELEASED"
	StatusTransferred Status = "TRANSFERRED"
	StatusBurned   Status = "BURNED"
	StatusExpired  Status = "EXPIRED"
)

// Hold is a stake escrowed against a proposal or dispute. Party2/Amount2 are
// zero when only one side staked (proposals allow either or both parties to
// include elo_stake).
type Hold struct {
	ID      string // proposal_id or dispute_id, scoped by Kind
	Kind    string // "proposal" or "arbiter"
	Party1  string
	Amount1 int
	Party2  string
	Amount2 int
	HeldAt  time.Time
	Status  Status
}

// Gate is the stake ledger: a map of holds guarded by one mutex, with a
// synchronous hold/settle/refund call path since proposal and court
// settlement are computed entirely in-process.
type Gate struct {
	mu     sync.Mutex
	ledger map[string]*Hold
}

func NewGate() *Gate {
	return &Gate{ledger: make(map[string]*Hold)}
}

// Hold escrows a dual-party stake under id. amount2/party2 may be zero/empty
// for a single-sided stake.
func (g *Gate) Hold(id, kind, party1 string, amount1 int, party2 string, amount2 int) (*Hold, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.ledger[id]; exists {
		return nil, fmt.Errorf("stake already held for %s", id)
	}

	h := &Hold{
		ID: id, Kind: kind,
		Party1: party1, Amount1: amount1,
		Party2: party2, Amount2: amount2,
		HeldAt: time.Now(),
		Status: StatusHeld,
	}
	g.ledger[id] = h
	return h, nil
}

// Release returns both stakes to their original owners unchanged (proposal
// COMPLETE after rating gains are applied separately, or expiry).
func (g *Gate) Release(id string) (*Hold, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	h, ok := g.ledger[id]
	if !ok {
		return nil, fmt.Errorf("no stake held for %s", id)
	}
	if h.Status != StatusHeld {
		return nil, fmt.Errorf("stake for %s already %s", id, h.Status)
	}
	h.Status = StatusReleased
	delete(g.ledger, id)
	return h, nil
}

// Transfer marks the stake as moved loser->winner (unilateral DISPUTE
// settlement); the rating-record mutation itself happens in the reputation
// subsystem, this only retires the ledger entry.
func (g *Gate) Transfer(id string) (*Hold, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	h, ok := g.ledger[id]
	if !ok {
		return nil, fmt.Errorf("no stake held for %s", id)
	}
	if h.Status != StatusHeld {
		return nil, fmt.Errorf("stake for %s already %s", id, h.Status)
	}
	h.Status = StatusTransferred
	delete(g.ledger, id)
	return h, nil
}

// Burn marks both stakes as destroyed (mutual-fault DISPUTE settlement, or
// an arbiter forfeiting by not voting).
func (g *Gate) Burn(id string) (*Hold, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	h, ok := g.ledger[id]
	if !ok {
		return nil, fmt.Errorf("no stake held for %s", id)
	}
	if h.Status != StatusHeld {
		return nil, fmt.Errorf("stake for %s already %s", id, h.Status)
	}
	h.Status = StatusBurned
	delete(g.ledger, id)
	return h, nil
}

// Peek returns the current hold without mutating it, for validating
// sufficient-stake checks before a second party commits.
func (g *Gate) Peek(id string) (*Hold, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.ledger[id]
	return h, ok
}

// ExpireStale force-releases any hold older than maxAge, for deadline-driven
// proposal/dispute expiry cleanup.
func (g *Gate) ExpireStale(maxAge time.Duration) []*Hold {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	var expired []*Hold
	for id, h := range g.ledger {
		if h.Status == StatusHeld && h.HeldAt.Before(cutoff) {
			h.Status = StatusExpired
			expired = append(expired, h)
			delete(g.ledger, id)
		}
	}
	return expired
}
