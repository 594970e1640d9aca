package websocket

import (
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/agentchat-relay/internal/identity"
	"github.com/ocx/agentchat-relay/internal/protocol"
	"github.com/ocx/agentchat-relay/internal/relayerr"
)

func (c *Conn) verifySelf(canonical, sigHex string) error {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return relayerr.InvalidSignature()
	}
	return identity.Verify(c.agent.Pubkey, canonical, sig)
}

func (c *Conn) handleProposal(m protocol.ProposalMsg) error {
	if err := c.verifySelf(identity.ProposalString(m.To, m.Task, m.Amount, m.Currency, m.PaymentCode, m.Expires), m.Signature); err != nil {
		return err
	}
	if _, ok := c.relay.sessions.Lookup(m.To); !ok {
		return relayerr.NotFoundf(relayerr.CodeAgentNotFound, "agent %s not found", m.To)
	}

	amount, err := strconv.Atoi(m.Amount)
	if err != nil {
		return relayerr.InvalidMsg("amount must be an integer", "amount")
	}

	var expiresAt *time.Time
	if m.Expires != "" {
		t, err := time.Parse(time.RFC3339, m.Expires)
		if err != nil {
			return relayerr.InvalidMsg("expires must be RFC3339", "expires")
		}
		expiresAt = &t
	}

	id := uuid.NewString()
	from, to := c.agent.ID, m.To
	c.relay.proposals.Create(id, from, to, m.Task, amount, m.Currency, m.PaymentCode, m.EloStake, expiresAt, func(pid string) {
		if _, ok := c.relay.proposals.Expire(pid); ok {
			c.relay.metrics.RecordProposalOutcome("expired")
			c.relay.deliverToAgent(from, protocol.ProposalExpired, protocol.ProposalStatusPayload{ProposalID: pid})
			c.relay.deliverToAgent(to, protocol.ProposalExpired, protocol.ProposalStatusPayload{ProposalID: pid})
		}
	})

	c.relay.metrics.RecordProposalOutcome("created")
	c.relay.deliverToAgent(m.To, protocol.ServerProposal, protocol.ProposalPayload{
		ProposalID:  id,
		From:        from,
		To:          to,
		Task:        m.Task,
		Amount:      m.Amount,
		Currency:    m.Currency,
		PaymentCode: m.PaymentCode,
		Expires:     m.Expires,
		EloStake:    m.EloStake,
	})
	return nil
}

func (c *Conn) handleAccept(m protocol.AcceptMsg) error {
	if err := c.verifySelf(identity.AcceptString(m.ProposalID, m.PaymentCode), m.Signature); err != nil {
		return err
	}
	p, err := c.relay.proposals.Accept(m.ProposalID, c.agent.ID)
	if err != nil {
		return err
	}
	c.relay.metrics.RecordProposalOutcome("accepted")
	c.relay.deliverToAgent(p.From, protocol.ServerAccept, protocol.ProposalStatusPayload{ProposalID: p.ID})
	c.relay.deliverToAgent(p.To, protocol.ServerAccept, protocol.ProposalStatusPayload{ProposalID: p.ID})
	return nil
}

func (c *Conn) handleReject(m protocol.RejectMsg) error {
	if err := c.verifySelf(identity.RejectString(m.ProposalID), m.Signature); err != nil {
		return err
	}
	p, err := c.relay.proposals.Reject(m.ProposalID, c.agent.ID)
	if err != nil {
		return err
	}
	c.relay.metrics.RecordProposalOutcome("rejected")
	c.relay.deliverToAgent(p.From, protocol.ServerReject, protocol.ProposalStatusPayload{ProposalID: p.ID})
	return nil
}

func (c *Conn) handleComplete(m protocol.CompleteMsg) error {
	if err := c.verifySelf(identity.CompleteString(m.ProposalID, m.Proof), m.Signature); err != nil {
		return err
	}
	result, err := c.relay.proposals.Complete(m.ProposalID, c.agent.ID)
	if err != nil {
		return err
	}
	c.relay.metrics.RecordProposalOutcome("completed")
	c.relay.metrics.RecordRatingDelta("completed", result.DeltaFrom)
	c.relay.metrics.RecordRatingDelta("completed", result.DeltaTo)

	payload := protocol.SettlementPayload{ProposalID: result.Proposal.ID, DeltaFrom: result.DeltaFrom, DeltaTo: result.DeltaTo}
	c.relay.deliverToAgent(result.Proposal.From, protocol.ServerComplete, payload)
	c.relay.deliverToAgent(result.Proposal.To, protocol.ServerComplete, payload)
	return nil
}

func (c *Conn) handleDispute(m protocol.DisputeMsg) error {
	if err := c.verifySelf(identity.DisputeString(m.ProposalID, m.Reason), m.Signature); err != nil {
		return err
	}
	result, err := c.relay.proposals.Dispute(m.ProposalID, c.agent.ID)
	if err != nil {
		return err
	}
	c.relay.metrics.RecordProposalOutcome("disputed")
	c.relay.metrics.RecordRatingDelta("disputed", result.DeltaFrom)
	c.relay.metrics.RecordRatingDelta("disputed", result.DeltaTo)

	payload := protocol.SettlementPayload{ProposalID: result.Proposal.ID, DeltaFrom: result.DeltaFrom, DeltaTo: result.DeltaTo}
	c.relay.deliverToAgent(result.Proposal.From, protocol.ServerDispute, payload)
	c.relay.deliverToAgent(result.Proposal.To, protocol.ServerDispute, payload)
	return nil
}
