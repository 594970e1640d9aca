package websocket

import (
	"context"
	"time"

	"github.com/ocx/agentchat-relay/internal/court"
	"github.com/ocx/agentchat-relay/internal/escrow"
	"github.com/ocx/agentchat-relay/internal/protocol"
)

// StartBackgroundLoops launches the relay's periodic sweeps: idle-channel
// prompts, dispute deadline expiry, stale pre-auth challenge cleanup, and
// floor-claim expiry, one ticker goroutine per sweep. All run until ctx is
// cancelled.
func (rl *Relay) StartBackgroundLoops(ctx context.Context) {
	go rl.idlePrompter.Run(ctx, rl.channels, rl.fireIdlePrompt)
	go rl.runSweep(ctx, 10*time.Second, rl.sweepChallenges)
	go rl.runSweep(ctx, 5*time.Second, rl.sweepClaims)
	go rl.runSweep(ctx, 5*time.Second, rl.sweepDisputes)
}

func (rl *Relay) runSweep(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (rl *Relay) fireIdlePrompt(name string) {
	ch, err := rl.channels.Get(name)
	if err != nil {
		return
	}
	for _, agentID := range ch.Members() {
		rl.deliverToAgent(agentID, protocol.IdlePrompt, protocol.IdlePromptPayload{Channel: name})
	}
}

func (rl *Relay) sweepChallenges() {
	rl.sessions.CleanupExpiredChallenges()
}

func (rl *Relay) sweepClaims() {
	for _, ch := range rl.channels.AllChannels() {
		ch.ExpireClaims()
	}
}

// sweepDisputes advances every in-flight dispute whose current deadline has
// passed: unanswered ARBITER_ACCEPT/DECLINE falls back, unsubmitted evidence
// is skipped, and a vote deadline that nobody completed is resolved with
// whatever votes were cast (Resolve tallies a partial ballot the same as a
// full one).
func (rl *Relay) sweepDisputes() {
	for _, id := range rl.court.ActiveIDs() {
		if d, changed := rl.court.ExpireArbiterResponse(id); changed {
			rl.metrics.RecordDisputePhase(string(d.Phase))
			if d.Phase == court.PhaseFallback {
				rl.broadcastFallback(d)
				continue
			}
		}
		if d, changed := rl.court.ExpireEvidence(id); changed {
			rl.metrics.RecordDisputePhase(string(d.Phase))
		}

		d, err := rl.court.Get(id)
		if err != nil || d.Phase != court.PhaseDeliberation {
			continue
		}
		if time.Now().Before(d.VoteDeadline) {
			continue
		}
		_ = rl.resolveDispute(id)
	}
}

func (rl *Relay) broadcastFallback(d *court.Dispute) {
	payload := protocol.DisputeStatusPayload{DisputeID: d.ID}
	rl.deliverToAgent(d.Disputant, protocol.DisputeFallback, payload)
	rl.deliverToAgent(d.Respondent, protocol.DisputeFallback, payload)
}

func amountFor(h *escrow.Hold, party string) int {
	if h.Party1 == party {
		return h.Amount1
	}
	if h.Party2 == party {
		return h.Amount2
	}
	return 0
}

// resolveDispute tallies the panel's verdict, settles ratings through the
// proposal manager, reconstructs the per-party escrow delta (the gate's
// settling calls retire the hold, so it must be read first via Peek), and
// fans the verdict out to both parties and the panel. A no-op if the
// dispute already resolved (e.g. a sweep racing a completed vote).
func (rl *Relay) resolveDispute(disputeID string) error {
	d, verdict, fresh, err := rl.court.Resolve(disputeID)
	if err != nil {
		return err
	}
	if !fresh {
		return nil
	}
	rl.metrics.RecordVerdict(string(verdict))
	rl.metrics.RecordDisputePhase(string(d.Phase))

	hold, haveHold := rl.escrowGate.Peek(d.ProposalID)

	var ratingChanges map[string]int
	escrowSettlement := map[string]int{}

	switch verdict {
	case court.VerdictMutual:
		result, serr := rl.proposals.MutualDispute(d.ProposalID)
		if serr != nil {
			return serr
		}
		ratingChanges = map[string]int{result.Proposal.From: result.DeltaFrom, result.Proposal.To: result.DeltaTo}
		if haveHold {
			escrowSettlement[hold.Party1] = -hold.Amount1
			escrowSettlement[hold.Party2] = -hold.Amount2
		}

	case court.VerdictDisputant:
		result, serr := rl.proposals.Dispute(d.ProposalID, d.Disputant)
		if serr != nil {
			return serr
		}
		ratingChanges = map[string]int{result.Proposal.From: result.DeltaFrom, result.Proposal.To: result.DeltaTo}
		if haveHold {
			loserAmt := amountFor(hold, d.Respondent)
			escrowSettlement[d.Respondent] = -loserAmt
			escrowSettlement[d.Disputant] = loserAmt
		}

	case court.VerdictRespondent:
		result, serr := rl.proposals.Dispute(d.ProposalID, d.Respondent)
		if serr != nil {
			return serr
		}
		ratingChanges = map[string]int{result.Proposal.From: result.DeltaFrom, result.Proposal.To: result.DeltaTo}
		if haveHold {
			loserAmt := amountFor(hold, d.Disputant)
			escrowSettlement[d.Disputant] = -loserAmt
			escrowSettlement[d.Respondent] = loserAmt
		}
	}

	votes := make(map[string]string, len(d.Votes))
	for arbiter, v := range d.Votes {
		votes[arbiter] = string(v)
	}

	payload := protocol.VerdictPayload{
		Verdict:          string(verdict),
		Votes:            votes,
		RatingChanges:    ratingChanges,
		EscrowSettlement: escrowSettlement,
	}
	for _, a := range append([]string{d.Disputant, d.Respondent}, d.Arbiters...) {
		rl.deliverToAgent(a, protocol.Verdict, payload)
	}
	return nil
}
