package websocket

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/ocx/agentchat-relay/internal/court"
	"github.com/ocx/agentchat-relay/internal/identity"
	"github.com/ocx/agentchat-relay/internal/protocol"
	"github.com/ocx/agentchat-relay/internal/relayerr"
)

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (c *Conn) handleDisputeIntent(m protocol.DisputeIntentMsg) error {
	if err := c.verifySelf(identity.DisputeIntentString(m.ProposalID, m.Reason, m.Commitment), m.Signature); err != nil {
		return err
	}
	p, err := c.relay.proposals.Get(m.ProposalID)
	if err != nil {
		return err
	}
	if c.agent.ID != p.From && c.agent.ID != p.To {
		return relayerr.New(relayerr.AuthorizationFailure, relayerr.CodeNotProposalParty, "not a party to this proposal")
	}
	respondent := p.From
	if c.agent.ID == p.From {
		respondent = p.To
	}

	serverNonce, err := randomHex(16)
	if err != nil {
		return relayerr.InvalidMsg("failed to generate server nonce")
	}

	d, err := c.relay.court.OpenIntent(uuid.NewString(), m.ProposalID, c.agent.ID, respondent, m.Reason, m.Commitment, serverNonce)
	if err != nil {
		return err
	}
	c.relay.metrics.RecordDisputePhase(string(d.Phase))

	ack := protocol.DisputeIntentAckPayload{
		DisputeID:      d.ID,
		Commitment:     d.Commitment,
		RevealDeadline: d.RevealDeadline.UnixMilli(),
		ServerNonce:    serverNonce,
	}
	c.sendPayload(protocol.DisputeIntentAck, ack)
	c.relay.deliverToAgent(respondent, protocol.DisputeIntentAck, ack)
	return nil
}

func (c *Conn) handleDisputeReveal(m protocol.DisputeRevealMsg) error {
	if err := c.verifySelf(identity.DisputeRevealString(m.DisputeID, m.Nonce), m.Signature); err != nil {
		return err
	}
	d, err := c.relay.court.Reveal(m.DisputeID, m.Nonce)
	if err != nil {
		return err
	}
	c.relay.metrics.RecordDisputePhase(string(d.Phase))

	if d.Phase == court.PhaseFallback {
		payload := protocol.DisputeStatusPayload{DisputeID: d.ID}
		c.relay.deliverToAgent(d.Disputant, protocol.DisputeFallback, payload)
		c.relay.deliverToAgent(d.Respondent, protocol.DisputeFallback, payload)
		return nil
	}

	panel := protocol.PanelFormedPayload{
		Arbiters:    d.Arbiters,
		Seed:        d.Seed,
		ServerNonce: d.ServerNonce,
	}
	for _, a := range append([]string{d.Disputant, d.Respondent}, d.Arbiters...) {
		c.relay.deliverToAgent(a, protocol.PanelFormed, panel)
	}
	return nil
}

func (c *Conn) eligibleArbiterPool(disputantID, respondentID string) []string {
	pool := c.relay.sessions.Candidates(disputantID, respondentID)
	out := make([]string, 0, len(pool))
	for _, a := range pool {
		if c.relay.reputation.Eligible(a, court.MinEligibleRating, court.MinEligibleTxCount) {
			out = append(out, a)
		}
	}
	return out
}

func (c *Conn) handleArbiterAccept(m protocol.ArbiterAcceptMsg) error {
	if err := c.verifySelf(identity.ArbiterAcceptString(m.DisputeID), m.Signature); err != nil {
		return err
	}
	d, allAccepted, err := c.relay.court.ArbiterAccept(m.DisputeID, c.agent.ID)
	if err != nil {
		return err
	}
	if allAccepted {
		c.relay.metrics.RecordDisputePhase(string(d.Phase))
	}
	return nil
}

func (c *Conn) handleArbiterDecline(m protocol.ArbiterDeclineMsg) error {
	if err := c.verifySelf(identity.ArbiterDeclineString(m.DisputeID, m.Reason), m.Signature); err != nil {
		return err
	}
	d, err := c.relay.court.Get(m.DisputeID)
	if err != nil {
		return err
	}
	pool := c.eligibleArbiterPool(d.Disputant, d.Respondent)

	d, replacement, err := c.relay.court.ArbiterDecline(m.DisputeID, c.agent.ID, m.Reason, pool)
	if err != nil {
		return err
	}
	if replacement != "" {
		c.relay.deliverToAgent(replacement, protocol.ArbiterAssigned, protocol.ArbiterAssignedPayload{
			DisputeID: d.ID, IsReplacement: true,
		})
	}
	return nil
}

func (c *Conn) handleEvidence(m protocol.EvidenceMsg) error {
	items := make([]court.EvidenceItem, len(m.Items))
	for i, it := range m.Items {
		items[i] = court.EvidenceItem{Kind: it.Kind, Statement: it.Content}
	}
	canon, err := court.CanonicaliseEvidence(items)
	if err != nil {
		return relayerr.InvalidMsg("failed to canonicalise evidence")
	}
	hash := sha256.Sum256(canon)
	if err := c.verifySelf(identity.EvidenceString(m.DisputeID, hex.EncodeToString(hash[:])), m.Signature); err != nil {
		return err
	}

	d, bothIn, err := c.relay.court.SubmitEvidence(m.DisputeID, c.agent.ID, items)
	if err != nil {
		return err
	}
	c.sendPayload(protocol.EvidenceReceived, protocol.DisputeStatusPayload{DisputeID: m.DisputeID})

	if bothIn {
		payload := protocol.DisputeStatusPayload{DisputeID: m.DisputeID}
		for _, a := range append([]string{d.Disputant, d.Respondent}, d.Arbiters...) {
			c.relay.deliverToAgent(a, protocol.CaseReady, payload)
		}
	}
	return nil
}

func (c *Conn) handleArbiterVote(m protocol.ArbiterVoteMsg) error {
	if err := c.verifySelf(identity.VoteString(m.DisputeID, m.Verdict), m.Signature); err != nil {
		return err
	}
	_, allVoted, err := c.relay.court.Vote(m.DisputeID, c.agent.ID, court.Verdict(m.Verdict))
	if err != nil {
		return err
	}
	if !allVoted {
		return nil
	}
	return c.relay.resolveDispute(m.DisputeID)
}
