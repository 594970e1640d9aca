package websocket

import (
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/ocx/agentchat-relay/internal/identity"
	"github.com/ocx/agentchat-relay/internal/protocol"
	"github.com/ocx/agentchat-relay/internal/relayerr"
	"github.com/ocx/agentchat-relay/internal/session"
)

func (c *Conn) handleIdentify(m protocol.IdentifyMsg) error {
	if m.Pubkey == "" {
		agent, err := c.relay.sessions.AdmitEphemeral(c.sconn, m.Nick)
		if err != nil {
			return relayerr.InvalidMsg("failed to admit ephemeral identity")
		}
		c.agent = agent
		c.sendPayload(protocol.Welcome, protocol.WelcomePayload{AgentID: agent.ID, Verified: false})
		return nil
	}

	if c.relay.allowlist.Enabled() && !c.relay.allowlist.Allowed(m.Pubkey) {
		return relayerr.New(relayerr.AuthFailure, relayerr.CodeInvalidSignature, "pubkey is not allowlisted")
	}

	pubkey, err := identity.ParsePubkeyHex(m.Pubkey)
	if err != nil {
		return relayerr.InvalidMsg("malformed pubkey", "pubkey")
	}

	stableID := identity.StableID(pubkey)
	if c.relay.bans.Banned(stableID) {
		return relayerr.New(relayerr.AuthorizationFailure, relayerr.CodeInvalidSignature, "identity is banned")
	}

	pc, err := c.relay.sessions.BeginChallenge(c.sconn, pubkey, m.Nick)
	if err != nil {
		return relayerr.InvalidMsg("failed to begin challenge")
	}

	time.AfterFunc(c.relay.cfg.RateLimit.ChallengeTTL, func() {
		if c.relay.sessions.ExpireChallenge(pc.ChallengeID) {
			c.sendPayload(protocol.VerificationExpired, struct{}{})
		}
	})

	c.sendPayload(protocol.Challenge, protocol.ChallengePayload{
		Nonce:       pc.Nonce,
		ChallengeID: pc.ChallengeID,
		ExpiresAt:   pc.ExpiresAt.UnixMilli(),
	})
	return nil
}

func (c *Conn) handleVerifyIdentity(m protocol.VerifyIdentityMsg) error {
	sig, err := hex.DecodeString(m.Signature)
	if err != nil {
		c.sendPayload(protocol.VerificationFailed, struct{}{})
		return relayerr.InvalidSignature()
	}

	result, err := c.relay.sessions.VerifyIdentity(c.sconn, m.ChallengeID, sig, time.Now().UnixMilli())
	if err != nil {
		c.sendPayload(protocol.VerificationFailed, struct{}{})
		return relayerr.InvalidSignature()
	}

	c.agent = result.Agent
	if result.Displaced != nil {
		close(result.Displaced.Displaced)
		c.relay.metrics.RecordConnection("displaced")
	}

	c.sendPayload(protocol.Welcome, protocol.WelcomePayload{AgentID: result.Agent.ID, Verified: true})
	return nil
}

func (c *Conn) handleSetNick(m protocol.SetNickMsg) error {
	if strings.TrimSpace(m.Nick) == "" {
		return relayerr.InvalidMsg("nick must not be empty", "nick")
	}
	c.agent.SetNick(m.Nick)
	return nil
}

func (c *Conn) handleSetPresence(m protocol.SetPresenceMsg) error {
	p := session.Presence(m.Presence)
	switch p {
	case session.PresenceOnline, session.PresenceAway, session.PresenceBusy, session.PresenceOffline, session.PresenceListening:
	default:
		return relayerr.InvalidMsg("unknown presence value", "presence")
	}
	c.agent.SetPresence(p)
	for _, ch := range c.agent.JoinedChannels() {
		channel, err := c.relay.channels.Get(ch)
		if err != nil {
			continue
		}
		for _, other := range channel.OtherMembers(c.agent.ID) {
			c.relay.deliverToAgent(other, protocol.PresenceChanged, protocol.PresenceChangedPayload{
				Agent: c.agent.ID, Presence: string(p),
			})
		}
	}
	return nil
}

func (c *Conn) handleListAgents() error {
	c.sendPayload(protocol.Agents, protocol.AgentsPayload{Agents: c.relay.sessions.ListOnline()})
	return nil
}

// skillsMu guards the package-level skills index; small enough not to
// warrant its own subsystem package.
var (
	skillsMu    sync.RWMutex
	skillsIndex = make(map[string]map[string]bool) // skill -> set of agent ids
)

func (c *Conn) handleRegisterSkills(m protocol.RegisterSkillsMsg) error {
	skillsMu.Lock()
	for _, s := range m.Skills {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if skillsIndex[s] == nil {
			skillsIndex[s] = make(map[string]bool)
		}
		skillsIndex[s][c.agent.ID] = true
	}
	skillsMu.Unlock()
	c.sendPayload(protocol.SkillsRegistered, struct{}{})
	return nil
}

func (c *Conn) handleSearchSkills(m protocol.SearchSkillsMsg) error {
	query := strings.ToLower(strings.TrimSpace(m.Query))
	seen := make(map[string]bool)
	var results []string

	skillsMu.RLock()
	for skill, agents := range skillsIndex {
		if query == "" || strings.Contains(skill, query) {
			for agentID := range agents {
				if !seen[agentID] {
					seen[agentID] = true
					results = append(results, agentID)
				}
			}
		}
	}
	skillsMu.RUnlock()

	c.sendPayload(protocol.SearchResults, protocol.SearchResultsPayload{Results: results})
	return nil
}
