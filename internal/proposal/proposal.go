// Package proposal implements the signed proposal lifecycle:
// PROPOSAL/ACCEPT/REJECT/COMPLETE/DISPUTE, with expiry timers and wiring
// into identity verification, ELO settlement, and stake escrow. A map of
// records under one mutex, with timer-driven expiry per proposal.
package proposal

import (
	"sync"
	"time"

	"github.com/ocx/agentchat-relay/internal/escrow"
	"github.com/ocx/agentchat-relay/internal/events"
	"github.com/ocx/agentchat-relay/internal/reputation"
	"github.com/ocx/agentchat-relay/internal/relayerr"
)

type State string

const (
	StatePending  State = "PENDING"
	StateAccepted State = "ACCEPTED"
	StateRejected State = "REJECTED"
	StateComplete State = "COMPLETED"
	StateDisputed State = "DISPUTED"
	StateExpired  State = "EXPIRED"
)

// Proposal is one signed offer between two agents.
type Proposal struct {
	ID          string
	From        string
	To          string
	Task        string
	Amount      int
	Currency    string
	PaymentCode string
	ExpiresAt   *time.Time
	EloStake    int

	State     State
	CreatedMs int64

	timer *time.Timer
}

// Manager owns the live proposal table.
type Manager struct {
	mu        sync.Mutex
	proposals map[string]*Proposal
	rep       *reputation.Manager
	gate      *escrow.Gate
	bus       *events.EventBus
}

// NewManager wires the proposal engine to reputation, escrow, and the event
// bus, the same dependency triple every settlement path needs.
func NewManager(rep *reputation.Manager, gate *escrow.Gate, bus *events.EventBus) *Manager {
	return &Manager{
		proposals: make(map[string]*Proposal),
		rep:       rep,
		gate:      gate,
		bus:       bus,
	}
}

// Create records a new PROPOSAL in PENDING and arms its expiry timer if one
// was requested. onExpire is invoked from the timer goroutine with the
// proposal id once it fires and the proposal was still live.
func (m *Manager) Create(id, from, to, task string, amount int, currency, paymentCode string, eloStake int, expiresAt *time.Time, onExpire func(id string)) *Proposal {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := &Proposal{
		ID:          id,
		From:        from,
		To:          to,
		Task:        task,
		Amount:      amount,
		Currency:    currency,
		PaymentCode: paymentCode,
		EloStake:    eloStake,
		ExpiresAt:   expiresAt,
		State:       StatePending,
		CreatedMs:   time.Now().UnixMilli(),
	}
	m.proposals[id] = p

	if expiresAt != nil {
		d := time.Until(*expiresAt)
		if d < 0 {
			d = 0
		}
		p.timer = time.AfterFunc(d, func() { onExpire(id) })
	}

	m.bus.Emit(events.EventProposalCreated, "proposal", id, map[string]interface{}{
		"from": from, "to": to, "amount": amount,
	})
	return p
}

func (m *Manager) get(id string) (*Proposal, error) {
	p, ok := m.proposals[id]
	if !ok {
		return nil, relayerr.NotFoundf(relayerr.CodeAgentNotFound, "proposal %s not found", id)
	}
	return p, nil
}

// Get returns a copy of the proposal's current state.
func (m *Manager) Get(id string) (Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.get(id)
	if err != nil {
		return Proposal{}, err
	}
	return *p, nil
}

// Accept transitions PENDING -> ACCEPTED, only by the recipient. Escrows
// both stakes if elo_stake was requested by either side.
func (m *Manager) Accept(id, by string) (Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.get(id)
	if err != nil {
		return Proposal{}, err
	}
	if by != p.To {
		return Proposal{}, relayerr.New(relayerr.AuthorizationFailure, relayerr.CodeNotProposalParty, "only the recipient may accept")
	}
	if p.State != StatePending {
		return Proposal{}, relayerr.New(relayerr.StateConflict, relayerr.CodeProposalExpired, "proposal is not pending")
	}

	if p.EloStake > 0 {
		fromRec := m.rep.Get(p.From)
		toRec := m.rep.Get(p.To)
		if fromRec.Rating-reputation.Floor < p.EloStake || toRec.Rating-reputation.Floor < p.EloStake {
			return Proposal{}, relayerr.New(relayerr.ResourceExhausted, relayerr.CodeInsufficientReputation, "insufficient rating available to stake")
		}
		if _, err := m.gate.Hold(id, "proposal", p.From, p.EloStake, p.To, p.EloStake); err != nil {
			return Proposal{}, err
		}
		m.bus.Emit(events.EventEscrowCreated, "proposal", id, map[string]interface{}{"stake": p.EloStake})
	}

	p.State = StateAccepted
	return *p, nil
}

// Reject transitions PENDING -> REJECTED, only by the recipient.
func (m *Manager) Reject(id, by string) (Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.get(id)
	if err != nil {
		return Proposal{}, err
	}
	if by != p.To {
		return Proposal{}, relayerr.New(relayerr.AuthorizationFailure, relayerr.CodeNotProposalParty, "only the recipient may reject")
	}
	if p.State != StatePending {
		return Proposal{}, relayerr.New(relayerr.StateConflict, relayerr.CodeProposalExpired, "proposal is not pending")
	}
	m.cancelTimer(p)
	p.State = StateRejected
	return *p, nil
}

// SettlementResult carries the information the caller needs to build a
// COMPLETE/DISPUTE notification.
type SettlementResult struct {
	Proposal   Proposal
	DeltaFrom  int
	DeltaTo    int
}

// Complete transitions ACCEPTED -> COMPLETED by either party, settles
// positive-sum, and releases escrow.
func (m *Manager) Complete(id, by string) (SettlementResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.get(id)
	if err != nil {
		return SettlementResult{}, err
	}
	if by != p.From && by != p.To {
		return SettlementResult{}, relayerr.New(relayerr.AuthorizationFailure, relayerr.CodeNotProposalParty, "not a party to this proposal")
	}
	if p.State != StateAccepted {
		return SettlementResult{}, relayerr.New(relayerr.StateConflict, relayerr.CodeProposalExpired, "proposal is not accepted")
	}

	deltaFrom, deltaTo := m.rep.SettleComplete(p.From, p.To, p.Amount)

	if p.EloStake > 0 {
		if _, err := m.gate.Release(id); err != nil {
			return SettlementResult{}, err
		}
		m.bus.Emit(events.EventEscrowReleased, "proposal", id, nil)
	}

	p.State = StateComplete
	m.bus.Emit(events.EventSettlementCompletion, "proposal", id, map[string]interface{}{
		"delta_from": deltaFrom, "delta_to": deltaTo,
	})

	return SettlementResult{Proposal: *p, DeltaFrom: deltaFrom, DeltaTo: deltaTo}, nil
}

// Dispute transitions ACCEPTED -> DISPUTED by either party, settling
// punitively against the other party (unilateral rule — the caller is
// treated as the disputer, the counterparty as at fault). The court
// protocol supersedes this path when it is engaged first via DISPUTE_INTENT.
func (m *Manager) Dispute(id, by string) (SettlementResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.get(id)
	if err != nil {
		return SettlementResult{}, err
	}
	if by != p.From && by != p.To {
		return SettlementResult{}, relayerr.New(relayerr.AuthorizationFailure, relayerr.CodeNotProposalParty, "not a party to this proposal")
	}
	if p.State != StateAccepted {
		return SettlementResult{}, relayerr.New(relayerr.StateConflict, relayerr.CodeProposalExpired, "proposal is not accepted")
	}

	atFault := p.From
	disputer := p.To
	if by == p.From {
		atFault, disputer = p.To, p.From
	}

	faultDelta, disputerDelta := m.rep.SettleUnilateralDispute(atFault, disputer, p.Amount)

	if p.EloStake > 0 {
		if _, err := m.gate.Transfer(id); err != nil {
			return SettlementResult{}, err
		}
	}

	p.State = StateDisputed
	m.bus.Emit(events.EventSettlementDispute, "proposal", id, map[string]interface{}{
		"at_fault": atFault, "disputer": disputer,
	})

	deltaFrom, deltaTo := faultDelta, disputerDelta
	if atFault != p.From {
		deltaFrom, deltaTo = disputerDelta, faultDelta
	}
	return SettlementResult{Proposal: *p, DeltaFrom: deltaFrom, DeltaTo: deltaTo}, nil
}

// MutualDispute applies the court's "mutual" verdict: both parties lose,
// escrow burned. Used by the court package, not reachable from the plain
// DISPUTE wire message.
func (m *Manager) MutualDispute(id string) (SettlementResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.get(id)
	if err != nil {
		return SettlementResult{}, err
	}

	deltaFrom, deltaTo := m.rep.SettleMutualDispute(p.From, p.To, p.Amount)
	if p.EloStake > 0 {
		if _, err := m.gate.Burn(id); err != nil {
			return SettlementResult{}, err
		}
	}
	p.State = StateDisputed
	return SettlementResult{Proposal: *p, DeltaFrom: deltaFrom, DeltaTo: deltaTo}, nil
}

// Expire transitions a still-pending/accepted proposal to EXPIRED, returning
// escrow unchanged, only when called after the timer fires.
func (m *Manager) Expire(id string) (Proposal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.proposals[id]
	if !ok {
		return Proposal{}, false
	}
	if p.State != StatePending && p.State != StateAccepted {
		return Proposal{}, false
	}
	if p.EloStake > 0 && p.State == StateAccepted {
		_, _ = m.gate.Release(id)
	}
	p.State = StateExpired
	return *p, true
}

func (m *Manager) cancelTimer(p *Proposal) {
	if p.timer != nil {
		p.timer.Stop()
	}
}
