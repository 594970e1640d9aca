package websocket

import (
	"github.com/ocx/agentchat-relay/internal/admin"
	"github.com/ocx/agentchat-relay/internal/protocol"
	"github.com/ocx/agentchat-relay/internal/relayerr"
)

func (c *Conn) requireAdminKey(key string) error {
	if !admin.KeyMatches(c.relay.cfg.Admin.Key, key) {
		return relayerr.New(relayerr.AuthFailure, relayerr.CodeInvalidSignature, "admin key mismatch")
	}
	return nil
}

func (c *Conn) handleAdminKick(m protocol.AdminKickMsg) error {
	if err := c.requireAdminKey(m.Key); err != nil {
		return err
	}
	if err := c.relay.Kick(m.Agent); err != nil {
		return err.(*relayerr.Error)
	}
	c.sendPayload(protocol.AdminOK, protocol.AgentEventPayload{Agent: m.Agent})
	return nil
}

func (c *Conn) handleAdminBan(m protocol.AdminBanMsg) error {
	if err := c.requireAdminKey(m.Key); err != nil {
		return err
	}
	if err := c.relay.Ban(m.Agent); err != nil {
		return relayerr.InvalidMsg(err.Error())
	}
	c.sendPayload(protocol.AdminOK, protocol.AgentEventPayload{Agent: m.Agent})
	return nil
}

func (c *Conn) handleAdminUnban(m protocol.AdminUnbanMsg) error {
	if err := c.requireAdminKey(m.Key); err != nil {
		return err
	}
	if err := c.relay.Unban(m.Agent); err != nil {
		return relayerr.InvalidMsg(err.Error())
	}
	c.sendPayload(protocol.AdminOK, protocol.AgentEventPayload{Agent: m.Agent})
	return nil
}
