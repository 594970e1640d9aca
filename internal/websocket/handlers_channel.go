package websocket

import (
	"time"

	"github.com/google/uuid"

	"github.com/ocx/agentchat-relay/internal/channel"
	"github.com/ocx/agentchat-relay/internal/protocol"
	"github.com/ocx/agentchat-relay/internal/relayerr"
)

func (c *Conn) handleJoin(m protocol.JoinMsg) error {
	if !channel.ValidName(m.Channel) {
		return relayerr.InvalidMsg("invalid channel name", "channel")
	}

	ch := c.relay.channels.GetOrCreate(m.Channel, false)
	if !ch.Authorised(c.agent.ID) {
		return relayerr.New(relayerr.AuthorizationFailure, relayerr.CodeNotInvited, "channel requires an invite")
	}

	// Prior members must see AGENT_JOINED only after the replay snapshot is
	// taken, matching the ordering guarantee that replay precedes any live
	// broadcast begun after JOIN is acknowledged. Replay delivery happens
	// inside Join's callback, under the channel's lock, so a MSG from another
	// connection can't reach this member's queue before its own replay does.
	priorMembers := ch.OtherMembers(c.agent.ID)
	ch.Join(c.agent.ID, func(replay []channel.Buffered) {
		for _, b := range replay {
			c.sendPayload(protocol.ServerMsg, protocol.MsgPayload{
				From: b.From, To: b.To, Content: b.Content, TS: b.TS, Replay: true, MsgID: b.MsgID,
			})
		}
	})
	c.agent.JoinChannel(m.Channel)

	members := ch.Members()
	payload := protocol.JoinedPayload{Channel: m.Channel, Agents: members}
	c.sendPayload(protocol.Joined, payload)

	for _, other := range priorMembers {
		c.relay.deliverToAgent(other, protocol.AgentJoined, protocol.AgentEventPayload{
			Agent: c.agent.ID, Channel: m.Channel,
		})
	}
	return nil
}

func (c *Conn) handleLeave(m protocol.LeaveMsg) error {
	ch, err := c.relay.channels.Get(m.Channel)
	if err != nil {
		return err.(*relayerr.Error)
	}
	ch.Leave(c.agent.ID)
	c.agent.LeaveChannel(m.Channel)
	for _, other := range ch.OtherMembers(c.agent.ID) {
		c.relay.deliverToAgent(other, protocol.AgentLeft, protocol.AgentEventPayload{
			Agent: c.agent.ID, Channel: m.Channel,
		})
	}
	return nil
}

func (c *Conn) handleMsg(m protocol.MsgMsg) error {
	if err := protocol.ValidateContent(m.Content); err != nil {
		return relayerr.InvalidMsg("content exceeds maximum length", "content")
	}

	msgID := m.MsgID
	if msgID == "" {
		msgID = uuid.NewString()
	}
	ts := time.Now().UnixMilli()

	if channel.ValidName(m.To) {
		ch, err := c.relay.channels.Get(m.To)
		if err != nil {
			return err.(*relayerr.Error)
		}
		if !ch.IsMember(c.agent.ID) {
			return relayerr.New(relayerr.AuthorizationFailure, relayerr.CodeNotInvited, "not a member of this channel")
		}
		ch.AppendMessage(channel.Buffered{From: c.agent.ID, To: m.To, Content: m.Content, TS: ts, MsgID: msgID})
		c.relay.idlePrompter.NotifyActivity(m.To)

		payload := protocol.MsgPayload{From: c.agent.ID, To: m.To, Content: m.Content, TS: ts, MsgID: msgID}
		for _, other := range ch.OtherMembers(c.agent.ID) {
			c.relay.deliverToAgent(other, protocol.ServerMsg, payload)
		}
		c.relay.metrics.RecordMessage("MSG_channel")
		return nil
	}

	// Direct message: m.To names an agent id directly.
	if _, ok := c.relay.sessions.Lookup(m.To); !ok {
		return relayerr.NotFoundf(relayerr.CodeAgentNotFound, "agent %s not found", m.To)
	}
	payload := protocol.MsgPayload{From: c.agent.ID, To: m.To, Content: m.Content, TS: ts, MsgID: msgID}
	c.relay.deliverToAgent(m.To, protocol.ServerMsg, payload)
	c.relay.metrics.RecordMessage("MSG_dm")
	return nil
}

func (c *Conn) handleListChannels() error {
	c.sendPayload(protocol.Channels, protocol.ChannelsPayload{Channels: c.relay.channels.Names()})
	return nil
}

func (c *Conn) handleCreateChannel(m protocol.CreateChannelMsg) error {
	if !channel.ValidName(m.Channel) {
		return relayerr.InvalidMsg("invalid channel name", "channel")
	}
	ch := c.relay.channels.GetOrCreate(m.Channel, m.InviteOnly)
	if m.InviteOnly {
		ch.Invite(c.agent.ID)
	}
	return nil
}

func (c *Conn) handleInvite(m protocol.InviteMsg) error {
	ch, err := c.relay.channels.Get(m.Channel)
	if err != nil {
		return err.(*relayerr.Error)
	}
	if !ch.IsMember(c.agent.ID) {
		return relayerr.New(relayerr.AuthorizationFailure, relayerr.CodeNotInvited, "only members may invite")
	}
	ch.Invite(m.Agent)
	return nil
}

func (c *Conn) handleRespondingTo(m protocol.RespondingToMsg) error {
	ch, err := c.relay.channels.Get(m.Channel)
	if err != nil {
		return err.(*relayerr.Error)
	}
	result := ch.TryClaim(m.MsgID, c.agent.ID, m.StartedAt, c.relay.cfg.Channel.FloorTTL)
	if result.Yielded == c.agent.ID {
		c.sendPayload(protocol.Yield, protocol.YieldPayload{MsgID: m.MsgID, Winner: result.Winner})
	} else if result.Yielded != "" {
		c.relay.deliverToAgent(result.Yielded, protocol.Yield, protocol.YieldPayload{MsgID: m.MsgID, Winner: result.Winner})
	}
	return nil
}

func (c *Conn) handleFileChunk(m protocol.FileChunkMsg) error {
	if len(m.Data) > c.relay.cfg.Server.FileChunkBytes*2 { // base64 inflates size; generous ceiling
		return relayerr.InvalidMsg("file chunk exceeds configured size", "data")
	}
	if _, ok := c.relay.sessions.Lookup(m.To); !ok {
		return relayerr.NotFoundf(relayerr.CodeAgentNotFound, "agent %s not found", m.To)
	}
	c.relay.deliverToAgent(m.To, protocol.ServerFileChunk, m)
	return nil
}
