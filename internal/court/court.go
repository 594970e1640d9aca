// Package court implements the commit-reveal dispute protocol: the phase
// state machine, seeded Fisher-Yates panel selection, evidence limits, and
// majority verdict.
package court

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ocx/agentchat-relay/internal/proposal"
	"github.com/ocx/agentchat-relay/internal/relayerr"
	"github.com/ocx/agentchat-relay/internal/reputation"
)

type Phase string

const (
	PhaseRevealPending   Phase = "reveal_pending"
	PhaseArbiterResponse Phase = "arbiter_response"
	PhaseEvidence        Phase = "evidence"
	PhaseDeliberation    Phase = "deliberation"
	PhaseResolved        Phase = "resolved"
	PhaseFallback        Phase = "fallback"
)

const (
	RevealTTL          = 5 * time.Minute
	ArbiterResponseTTL = 30 * time.Minute
	EvidenceTTL        = 1 * time.Hour
	VoteTTL            = 1 * time.Hour

	ArbiterStake       = 25
	MajorityBonus      = 5
	MinEligibleRating  = 1200
	MinEligibleTxCount = 10

	MaxEvidenceItems     = 10
	MaxEvidenceStatement = 2000
)

var evidenceKinds = map[string]bool{
	"commit": true, "message_log": true, "file": true, "screenshot": true,
	"attestation": true, "test_result": true, "receipt": true, "other": true,
}

// ValidEvidenceKind reports whether kind is one of the accepted item kinds.
func ValidEvidenceKind(kind string) bool { return evidenceKinds[kind] }

type Verdict string

const (
	VerdictDisputant Verdict = "disputant"
	VerdictRespondent Verdict = "respondent"
	VerdictMutual     Verdict = "mutual"
)

// EvidenceItem is one item of a party's submitted evidence bundle.
type EvidenceItem struct {
	Kind      string
	Statement string
}

// Dispute is one live court case.
type Dispute struct {
	ID         string
	ProposalID string
	Disputant  string
	Respondent string
	Reason     string
	Commitment string // hex SHA-256(nonce)

	Phase Phase

	DisputantNonce string
	ServerNonce    string
	Seed           string

	Arbiters       []string // up to 3, in panel order
	Accepted       map[string]bool
	Declined       map[string]bool
	replacementIdx int // next candidate index in the shuffled pool to draw on decline

	Evidence map[string][]EvidenceItem // party -> items

	Votes map[string]Verdict

	RevealDeadline   time.Time
	ArbiterDeadline  time.Time
	EvidenceDeadline time.Time
	VoteDeadline     time.Time

	FinalVerdict Verdict

	mu sync.Mutex
}

// EligibilityChecker filters the candidate arbiter pool beyond rating/tx
// thresholds (presence != away, not a party, is verified). The court package
// depends on this interface rather than on session.Registry directly, to
// avoid import cycles between session and court.
type EligibilityChecker interface {
	// Candidates returns every currently verified, non-away agent id except
	// excludeA and excludeB.
	Candidates(excludeA, excludeB string) []string
}

// Manager owns the live dispute table.
type Manager struct {
	mu        sync.Mutex
	disputes  map[string]*Dispute
	byProp    map[string]string // proposal id -> dispute id, for DISPUTE_ALREADY_EXISTS
	rep       *reputation.Manager
	propMgr   *proposal.Manager
	elig      EligibilityChecker
}

// NewManager wires the court to reputation (arbiter eligibility/staking),
// the proposal engine (fallback + mutual settlement), and an eligibility
// source for candidate arbiters.
func NewManager(rep *reputation.Manager, propMgr *proposal.Manager, elig EligibilityChecker) *Manager {
	return &Manager{
		disputes: make(map[string]*Dispute),
		byProp:   make(map[string]string),
		rep:      rep,
		propMgr:  propMgr,
		elig:     elig,
	}
}

// OpenIntent handles DISPUTE_INTENT: validates no existing case for the
// proposal, records the commitment, and arms the reveal deadline.
func (m *Manager) OpenIntent(id, proposalID, disputant, respondent, reason, commitment string, serverNonce string) (*Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byProp[proposalID]; ok {
		return nil, relayerr.New(relayerr.StateConflict, relayerr.CodeDisputeAlreadyExists, "a dispute already exists for this proposal")
	}

	d := &Dispute{
		ID:             id,
		ProposalID:     proposalID,
		Disputant:      disputant,
		Respondent:     respondent,
		Reason:         reason,
		Commitment:     commitment,
		Phase:          PhaseRevealPending,
		ServerNonce:    serverNonce,
		Accepted:       make(map[string]bool),
		Declined:       make(map[string]bool),
		Evidence:       make(map[string][]EvidenceItem),
		Votes:          make(map[string]Verdict),
		RevealDeadline: time.Now().Add(RevealTTL),
	}
	m.disputes[id] = d
	m.byProp[proposalID] = id
	return d, nil
}

func (m *Manager) Get(id string) (*Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok {
		return nil, relayerr.New(relayerr.NotFound, relayerr.CodeDisputeNotFound, "dispute not found")
	}
	return d, nil
}

// ActiveIDs returns the ids of disputes not yet in PhaseResolved, for the
// relay's periodic deadline sweep.
func (m *Manager) ActiveIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.disputes))
	for id, d := range m.disputes {
		d.mu.Lock()
		resolved := d.Phase == PhaseResolved
		d.mu.Unlock()
		if !resolved {
			ids = append(ids, id)
		}
	}
	return ids
}

// Reveal handles DISPUTE_REVEAL: checks the commitment, forms the panel, and
// advances to arbiter_response (or fallback if too few arbiters exist).
func (m *Manager) Reveal(id, nonce string) (*Dispute, error) {
	d, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.Phase != PhaseRevealPending {
		return nil, relayerr.New(relayerr.StateConflict, relayerr.CodeDisputeInvalidPhase, "dispute is not awaiting reveal")
	}
	if time.Now().After(d.RevealDeadline) {
		return nil, relayerr.New(relayerr.StateConflict, relayerr.CodeDisputeDeadlinePassed, "reveal deadline has passed")
	}

	sum := sha256.Sum256([]byte(nonce))
	if hex.EncodeToString(sum[:]) != d.Commitment {
		return nil, relayerr.New(relayerr.InvariantViolation, relayerr.CodeDisputeCommitmentMismatch, "revealed nonce does not match commitment")
	}
	d.DisputantNonce = nonce

	pool := m.elig.Candidates(d.Disputant, d.Respondent)
	eligible := make([]string, 0, len(pool))
	for _, a := range pool {
		if m.rep.Eligible(a, MinEligibleRating, MinEligibleTxCount) {
			eligible = append(eligible, a)
		}
	}

	d.Seed = seedHex(d.ProposalID, d.DisputantNonce, d.ServerNonce)

	if len(eligible) < 3 {
		d.Phase = PhaseFallback
		return d, nil
	}

	shuffled := fisherYates(eligible, d.Seed)
	d.Arbiters = shuffled[:3]
	d.replacementIdx = 3
	d.Phase = PhaseArbiterResponse
	d.ArbiterDeadline = time.Now().Add(ArbiterResponseTTL)

	for _, a := range d.Arbiters {
		m.rep.AdjustArbiterStake(a, -ArbiterStake)
	}

	return d, nil
}

// seedHex computes SHA-256(proposal_id || disputant_nonce || server_nonce)
// as a hex string, the panel-selection seed.
func seedHex(proposalID, disputantNonce, serverNonce string) string {
	h := sha256.New()
	h.Write([]byte(proposalID))
	h.Write([]byte(disputantNonce))
	h.Write([]byte(serverNonce))
	return hex.EncodeToString(h.Sum(nil))
}

// fisherYates deterministically shuffles pool using seed as the PRNG source:
// each swap index is derived from successive 8-byte windows of
// SHA-256(seed || counter), so independent recomputation with the same seed
// and pool always yields the same order.
func fisherYates(pool []string, seed string) []string {
	items := make([]string, len(pool))
	copy(items, pool)
	// Sort first so the shuffle is a deterministic function of (seed, set),
	// not of map/slice enumeration order upstream.
	sort.Strings(items)

	counter := uint64(0)
	nextRand := func(n int) int {
		h := sha256.New()
		h.Write([]byte(seed))
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], counter)
		h.Write(buf[:])
		counter++
		sum := h.Sum(nil)
		v := binary.BigEndian.Uint64(sum[:8])
		return int(v % uint64(n))
	}

	for i := len(items) - 1; i > 0; i-- {
		j := nextRand(i + 1)
		items[i], items[j] = items[j], items[i]
	}
	return items
}

// ArbiterAccept records an arbiter's acceptance; once all three panel
// members have accepted, advances to evidence.
func (m *Manager) ArbiterAccept(id, arbiter string) (*Dispute, bool, error) {
	d, err := m.Get(id)
	if err != nil {
		return nil, false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.Phase != PhaseArbiterResponse {
		return nil, false, relayerr.New(relayerr.StateConflict, relayerr.CodeDisputeInvalidPhase, "dispute is not awaiting arbiter response")
	}
	if !d.isArbiterLocked(arbiter) {
		return nil, false, relayerr.New(relayerr.AuthorizationFailure, relayerr.CodeDisputeNotArbiter, "not a panel member")
	}

	d.Accepted[arbiter] = true
	allAccepted := len(d.Accepted) == 3
	if allAccepted {
		d.Phase = PhaseEvidence
		d.EvidenceDeadline = time.Now().Add(EvidenceTTL)
	}
	return d, allAccepted, nil
}

// ArbiterDecline handles a decline: returns the declining arbiter's stake
// and tries to draw a replacement from the remaining shuffled pool.
// replacement is the new arbiter id, or "" if none was available.
func (m *Manager) ArbiterDecline(id, arbiter, reason string, fullPool []string) (d *Dispute, replacement string, err error) {
	d, err = m.Get(id)
	if err != nil {
		return nil, "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.Phase != PhaseArbiterResponse {
		return nil, "", relayerr.New(relayerr.StateConflict, relayerr.CodeDisputeInvalidPhase, "dispute is not awaiting arbiter response")
	}
	if !d.isArbiterLocked(arbiter) {
		return nil, "", relayerr.New(relayerr.AuthorizationFailure, relayerr.CodeDisputeNotArbiter, "not a panel member")
	}

	d.Declined[arbiter] = true
	m.rep.AdjustArbiterStake(arbiter, ArbiterStake) // no stake was ever at risk past decline; return it

	shuffled := fisherYates(fullPool, d.Seed)
	for d.replacementIdx < len(shuffled) {
		candidate := shuffled[d.replacementIdx]
		d.replacementIdx++
		if !d.isArbiterLocked(candidate) {
			for i, a := range d.Arbiters {
				if a == arbiter {
					d.Arbiters[i] = candidate
					break
				}
			}
			m.rep.AdjustArbiterStake(candidate, -ArbiterStake)
			replacement = candidate
			break
		}
	}

	return d, replacement, nil
}

func (d *Dispute) isArbiterLocked(agentID string) bool {
	for _, a := range d.Arbiters {
		if a == agentID {
			return true
		}
	}
	return false
}

// ExpireArbiterResponse applies the deadline rule: forfeit non-responders
// and proceed if >= 3 accepted (impossible with a 3-seat panel unless
// replacements filled every seat), else fallback.
func (m *Manager) ExpireArbiterResponse(id string) (*Dispute, bool) {
	d, err := m.Get(id)
	if err != nil {
		return nil, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.Phase != PhaseArbiterResponse || time.Now().Before(d.ArbiterDeadline) {
		return d, false
	}
	// Forfeit: non-responders' stakes were withdrawn when they were drawn
	// onto the panel and are not returned.
	if len(d.Accepted) >= 3 {
		d.Phase = PhaseEvidence
		d.EvidenceDeadline = time.Now().Add(EvidenceTTL)
	} else {
		d.Phase = PhaseFallback
	}
	return d, true
}

// SubmitEvidence records one party's evidence bundle; advances to
// deliberation once both parties have submitted.
func (m *Manager) SubmitEvidence(id, party string, items []EvidenceItem) (*Dispute, bool, error) {
	d, err := m.Get(id)
	if err != nil {
		return nil, false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.Phase != PhaseEvidence {
		return nil, false, relayerr.New(relayerr.StateConflict, relayerr.CodeDisputeInvalidPhase, "dispute is not accepting evidence")
	}
	if party != d.Disputant && party != d.Respondent {
		return nil, false, relayerr.New(relayerr.AuthorizationFailure, relayerr.CodeDisputeNotParty, "not a party to this dispute")
	}
	if len(items) > MaxEvidenceItems {
		return nil, false, relayerr.InvalidMsg(fmt.Sprintf("at most %d evidence items allowed", MaxEvidenceItems))
	}
	for _, it := range items {
		if !ValidEvidenceKind(it.Kind) {
			return nil, false, relayerr.InvalidMsg("unknown evidence kind: " + it.Kind)
		}
		if len(it.Statement) > MaxEvidenceStatement {
			return nil, false, relayerr.InvalidMsg("evidence statement too long")
		}
	}

	d.Evidence[party] = items
	bothIn := d.Evidence[d.Disputant] != nil && d.Evidence[d.Respondent] != nil
	if bothIn {
		d.Phase = PhaseDeliberation
		d.VoteDeadline = time.Now().Add(VoteTTL)
	}
	return d, bothIn, nil
}

// ExpireEvidence forces deliberation once the evidence deadline passes even
// if one side never submitted.
func (m *Manager) ExpireEvidence(id string) (*Dispute, bool) {
	d, err := m.Get(id)
	if err != nil {
		return nil, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Phase != PhaseEvidence || time.Now().Before(d.EvidenceDeadline) {
		return d, false
	}
	d.Phase = PhaseDeliberation
	d.VoteDeadline = time.Now().Add(VoteTTL)
	return d, true
}

// Vote records one arbiter's vote; once all three have voted (or the
// deadline passes), the caller should call Resolve.
func (m *Manager) Vote(id, arbiter string, verdict Verdict) (*Dispute, bool, error) {
	d, err := m.Get(id)
	if err != nil {
		return nil, false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.Phase != PhaseDeliberation {
		return nil, false, relayerr.New(relayerr.StateConflict, relayerr.CodeDisputeInvalidPhase, "dispute is not in deliberation")
	}
	if !d.isArbiterLocked(arbiter) {
		return nil, false, relayerr.New(relayerr.AuthorizationFailure, relayerr.CodeDisputeNotArbiter, "not a panel member")
	}
	if verdict != VerdictDisputant && verdict != VerdictRespondent && verdict != VerdictMutual {
		return nil, false, relayerr.InvalidMsg("unknown verdict")
	}

	d.Votes[arbiter] = verdict
	allVoted := len(d.Votes) == 3
	return d, allVoted, nil
}

// Resolve tallies votes (majority; three-way tie -> mutual), pays the
// majority bonus, forfeits non-voters' stakes, and marks the dispute
// resolved. Safe to call once all voted or once the vote deadline passed.
// The returned bool is true only the first time a given dispute resolves;
// a later call (e.g. a concurrent sweep racing a completed vote) reports
// false and must not re-run settlement.
func (m *Manager) Resolve(id string) (*Dispute, Verdict, bool, error) {
	d, err := m.Get(id)
	if err != nil {
		return nil, "", false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.Phase == PhaseResolved {
		return d, d.FinalVerdict, false, nil
	}
	if d.Phase != PhaseDeliberation {
		return nil, "", false, relayerr.New(relayerr.StateConflict, relayerr.CodeDisputeInvalidPhase, "dispute is not in deliberation")
	}

	tally := map[Verdict]int{}
	for _, v := range d.Votes {
		tally[v]++
	}

	verdict := majorityVerdict(tally)

	for _, a := range d.Arbiters {
		v, voted := d.Votes[a]
		if !voted {
			continue // forfeit: non-voters' already-withheld stake is not returned
		}
		if v == verdict {
			m.rep.AdjustArbiterStake(a, ArbiterStake+MajorityBonus) // stake returned plus bonus
		} else {
			m.rep.AdjustArbiterStake(a, ArbiterStake) // stake returned, no bonus
		}
	}

	d.FinalVerdict = verdict
	d.Phase = PhaseResolved
	return d, verdict, true, nil
}

func majorityVerdict(tally map[Verdict]int) Verdict {
	best := VerdictMutual
	bestCount := -1
	tied := 0
	for _, v := range []Verdict{VerdictDisputant, VerdictRespondent, VerdictMutual} {
		if tally[v] > bestCount {
			best = v
			bestCount = tally[v]
			tied = 1
		} else if tally[v] == bestCount {
			tied++
		}
	}
	if tied >= 3 {
		return VerdictMutual
	}
	return best
}

// CanonicaliseEvidence produces the sorted-key JSON bytes whose SHA-256 is
// signed in the EVIDENCE wire message.
func CanonicaliseEvidence(items []EvidenceItem) ([]byte, error) {
	type canon struct {
		Kind      string `json:"kind"`
		Statement string `json:"statement"`
	}
	out := make([]canon, len(items))
	for i, it := range items {
		out[i] = canon{Kind: it.Kind, Statement: it.Statement}
	}
	return json.Marshal(out)
}
