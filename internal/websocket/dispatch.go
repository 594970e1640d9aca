package websocket

import (
	"encoding/json"

	"github.com/ocx/agentchat-relay/internal/protocol"
	"github.com/ocx/agentchat-relay/internal/relayerr"
)

// dispatch decodes data into the concrete payload for kind and routes it to
// the owning handler. Every handler returns a *relayerr.Error (or nil); no
// handler panics on malformed input, non-exceptional
// failure policy.
func (c *Conn) dispatch(kind protocol.ClientType, data []byte) error {
	switch kind {
	case protocol.Identify:
		var m protocol.IdentifyMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad IDENTIFY payload")
		}
		return c.handleIdentify(m)

	case protocol.VerifyIdentity:
		var m protocol.VerifyIdentityMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad VERIFY_IDENTITY payload")
		}
		return c.handleVerifyIdentity(m)

	case protocol.Join:
		if err := c.requireAdmitted(); err != nil {
			return err
		}
		var m protocol.JoinMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad JOIN payload")
		}
		return c.handleJoin(m)

	case protocol.Leave:
		if err := c.requireAdmitted(); err != nil {
			return err
		}
		var m protocol.LeaveMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad LEAVE payload")
		}
		return c.handleLeave(m)

	case protocol.Msg:
		if err := c.requireAdmitted(); err != nil {
			return err
		}
		var m protocol.MsgMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad MSG payload")
		}
		return c.handleMsg(m)

	case protocol.ListChannels:
		if err := c.requireAdmitted(); err != nil {
			return err
		}
		return c.handleListChannels()

	case protocol.ListAgents:
		if err := c.requireAdmitted(); err != nil {
			return err
		}
		return c.handleListAgents()

	case protocol.CreateChannel:
		if err := c.requireAdmitted(); err != nil {
			return err
		}
		var m protocol.CreateChannelMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad CREATE_CHANNEL payload")
		}
		return c.handleCreateChannel(m)

	case protocol.Invite:
		if err := c.requireAdmitted(); err != nil {
			return err
		}
		var m protocol.InviteMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad INVITE payload")
		}
		return c.handleInvite(m)

	case protocol.SetNick:
		if err := c.requireAdmitted(); err != nil {
			return err
		}
		var m protocol.SetNickMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad SET_NICK payload")
		}
		return c.handleSetNick(m)

	case protocol.SetPresence:
		if err := c.requireAdmitted(); err != nil {
			return err
		}
		var m protocol.SetPresenceMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad SET_PRESENCE payload")
		}
		return c.handleSetPresence(m)

	case protocol.Ping:
		c.sendPayload(protocol.Pong, struct{}{})
		return nil

	case protocol.RespondingTo:
		if err := c.requireAdmitted(); err != nil {
			return err
		}
		var m protocol.RespondingToMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad RESPONDING_TO payload")
		}
		return c.handleRespondingTo(m)

	case protocol.RegisterSkills:
		if err := c.requireAdmitted(); err != nil {
			return err
		}
		var m protocol.RegisterSkillsMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad REGISTER_SKILLS payload")
		}
		return c.handleRegisterSkills(m)

	case protocol.SearchSkills:
		if err := c.requireAdmitted(); err != nil {
			return err
		}
		var m protocol.SearchSkillsMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad SEARCH_SKILLS payload")
		}
		return c.handleSearchSkills(m)

	case protocol.Proposal:
		if err := c.requireVerified(); err != nil {
			return err
		}
		var m protocol.ProposalMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad PROPOSAL payload")
		}
		return c.handleProposal(m)

	case protocol.Accept:
		if err := c.requireVerified(); err != nil {
			return err
		}
		var m protocol.AcceptMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad ACCEPT payload")
		}
		return c.handleAccept(m)

	case protocol.Reject:
		if err := c.requireVerified(); err != nil {
			return err
		}
		var m protocol.RejectMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad REJECT payload")
		}
		return c.handleReject(m)

	case protocol.Complete:
		if err := c.requireVerified(); err != nil {
			return err
		}
		var m protocol.CompleteMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad COMPLETE payload")
		}
		return c.handleComplete(m)

	case protocol.Dispute:
		if err := c.requireVerified(); err != nil {
			return err
		}
		var m protocol.DisputeMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad DISPUTE payload")
		}
		return c.handleDispute(m)

	case protocol.DisputeIntent:
		if err := c.requireVerified(); err != nil {
			return err
		}
		var m protocol.DisputeIntentMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad DISPUTE_INTENT payload")
		}
		return c.handleDisputeIntent(m)

	case protocol.DisputeReveal:
		if err := c.requireVerified(); err != nil {
			return err
		}
		var m protocol.DisputeRevealMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad DISPUTE_REVEAL payload")
		}
		return c.handleDisputeReveal(m)

	case protocol.Evidence:
		if err := c.requireVerified(); err != nil {
			return err
		}
		var m protocol.EvidenceMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad EVIDENCE payload")
		}
		return c.handleEvidence(m)

	case protocol.ArbiterAccept:
		if err := c.requireVerified(); err != nil {
			return err
		}
		var m protocol.ArbiterAcceptMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad ARBITER_ACCEPT payload")
		}
		return c.handleArbiterAccept(m)

	case protocol.ArbiterDecline:
		if err := c.requireVerified(); err != nil {
			return err
		}
		var m protocol.ArbiterDeclineMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad ARBITER_DECLINE payload")
		}
		return c.handleArbiterDecline(m)

	case protocol.ArbiterVote:
		if err := c.requireVerified(); err != nil {
			return err
		}
		var m protocol.ArbiterVoteMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad ARBITER_VOTE payload")
		}
		return c.handleArbiterVote(m)

	case protocol.AdminKick:
		var m protocol.AdminKickMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad ADMIN_KICK payload")
		}
		return c.handleAdminKick(m)

	case protocol.AdminBan:
		var m protocol.AdminBanMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad ADMIN_BAN payload")
		}
		return c.handleAdminBan(m)

	case protocol.AdminUnban:
		var m protocol.AdminUnbanMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad ADMIN_UNBAN payload")
		}
		return c.handleAdminUnban(m)

	case protocol.FileChunk:
		if err := c.requireAdmitted(); err != nil {
			return err
		}
		var m protocol.FileChunkMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return relayerr.InvalidMsg("bad FILE_CHUNK payload")
		}
		return c.handleFileChunk(m)

	default:
		return relayerr.InvalidMsg("unhandled message type: " + string(kind))
	}
}

func (c *Conn) requireAdmitted() error {
	if c.agent == nil {
		return relayerr.New(relayerr.AuthFailure, relayerr.CodeVerificationRequired, "connection is not admitted")
	}
	return nil
}

func (c *Conn) requireVerified() error {
	if c.agent == nil || !c.agent.Verified {
		return relayerr.New(relayerr.AuthFailure, relayerr.CodeVerificationRequired, "operation requires a verified identity")
	}
	return nil
}
