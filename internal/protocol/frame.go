// Package protocol implements the relay's JSON wire framing: message-type
// discrimination, frame/content size limits, and envelope encode/decode.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Size limits for inbound frames and message content.
const (
	FrameMaxBytes   = 256 * 1024
	ContentMaxChars = 4096
)

// ClientType is a client->server message type.
type ClientType string

const (
	Identify        ClientType = "IDENTIFY"
	VerifyIdentity  ClientType = "VERIFY_IDENTITY"
	Join            ClientType = "JOIN"
	Leave           ClientType = "LEAVE"
	Msg             ClientType = "MSG"
	ListChannels    ClientType = "LIST_CHANNELS"
	ListAgents      ClientType = "LIST_AGENTS"
	CreateChannel   ClientType = "CREATE_CHANNEL"
	Invite          ClientType = "INVITE"
	SetNick         ClientType = "SET_NICK"
	SetPresence     ClientType = "SET_PRESENCE"
	Ping            ClientType = "PING"
	RespondingTo    ClientType = "RESPONDING_TO"
	RegisterSkills  ClientType = "REGISTER_SKILLS"
	SearchSkills    ClientType = "SEARCH_SKILLS"
	Proposal        ClientType = "PROPOSAL"
	Accept          ClientType = "ACCEPT"
	Reject          ClientType = "REJECT"
	Complete        ClientType = "COMPLETE"
	Dispute         ClientType = "DISPUTE"
	DisputeIntent   ClientType = "DISPUTE_INTENT"
	DisputeReveal   ClientType = "DISPUTE_REVEAL"
	Evidence        ClientType = "EVIDENCE"
	ArbiterAccept   ClientType = "ARBITER_ACCEPT"
	ArbiterDecline  ClientType = "ARBITER_DECLINE"
	ArbiterVote     ClientType = "ARBITER_VOTE"
	AdminKick       ClientType = "ADMIN_KICK"
	AdminBan        ClientType = "ADMIN_BAN"
	AdminUnban      ClientType = "ADMIN_UNBAN"
	FileChunk       ClientType = "FILE_CHUNK"
)

var clientTypes = map[ClientType]bool{
	Identify: true, VerifyIdentity: true, Join: true, Leave: true, Msg: true,
	ListChannels: true, ListAgents: true, CreateChannel: true, Invite: true,
	SetNick: true, SetPresence: true, Ping: true, RespondingTo: true,
	RegisterSkills: true, SearchSkills: true, Proposal: true, Accept: true,
	Reject: true, Complete: true, Dispute: true, DisputeIntent: true,
	DisputeReveal: true, Evidence: true, ArbiterAccept: true, ArbiterDecline: true,
	ArbiterVote: true, AdminKick: true, AdminBan: true, AdminUnban: true,
	FileChunk: true,
}

// Known reports whether t is a recognised client->server message type.
func (t ClientType) Known() bool {
	return clientTypes[t]
}

// ServerType is a server->client message type.
type ServerType string

const (
	Welcome             ServerType = "WELCOME"
	Challenge           ServerType = "CHALLENGE"
	VerificationFailed  ServerType = "VERIFICATION_FAILED"
	VerificationExpired ServerType = "VERIFICATION_EXPIRED"
	ServerMsg           ServerType = "MSG"
	Joined              ServerType = "JOINED"
	AgentJoined         ServerType = "AGENT_JOINED"
	AgentLeft           ServerType = "AGENT_LEFT"
	Channels            ServerType = "CHANNELS"
	Agents              ServerType = "AGENTS"
	Pong                ServerType = "PONG"
	Yield               ServerType = "YIELD"
	SkillsRegistered    ServerType = "SKILLS_REGISTERED"
	SearchResults       ServerType = "SEARCH_RESULTS"
	ServerProposal      ServerType = "PROPOSAL"
	ServerAccept        ServerType = "ACCEPT"
	ServerReject        ServerType = "REJECT"
	ServerComplete      ServerType = "COMPLETE"
	ServerDispute       ServerType = "DISPUTE"
	DisputeIntentAck    ServerType = "DISPUTE_INTENT_ACK"
	DisputeRevealed     ServerType = "DISPUTE_REVEALED"
	PanelFormed         ServerType = "PANEL_FORMED"
	ArbiterAssigned     ServerType = "ARBITER_ASSIGNED"
	EvidenceReceived    ServerType = "EVIDENCE_RECEIVED"
	CaseReady           ServerType = "CASE_READY"
	Verdict             ServerType = "VERDICT"
	DisputeFallback     ServerType = "DISPUTE_FALLBACK"
	PresenceChanged     ServerType = "PRESENCE_CHANGED"
	ServerError         ServerType = "ERROR"
	ServerFileChunk     ServerType = "FILE_CHUNK"
	ProposalExpired     ServerType = "PROPOSAL_EXPIRED"
	AdminOK             ServerType = "ADMIN_OK"
	IdlePrompt          ServerType = "IDLE_PROMPT"
)

// Envelope is the tagged-union wrapper every wire message is framed in.
// Payload is decoded on demand into the concrete struct for Type: a plain
// pattern-match-on-kind dispatch, no open-class hierarchy.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"-"`
}

// rawEnvelope is used only to pull the discriminant out before re-decoding
// the full object into a concrete payload type.
type rawEnvelope struct {
	Type string `json:"type"`
}

// DecodeEnvelope validates frame size and extracts the message type from a
// raw inbound frame. It does not validate the payload shape — callers decode
// the full frame into the concrete type keyed by Type.
func DecodeEnvelope(data []byte) (ClientType, error) {
	if len(data) > FrameMaxBytes {
		return "", fmt.Errorf("frame exceeds %d bytes", FrameMaxBytes)
	}
	var re rawEnvelope
	if err := json.Unmarshal(data, &re); err != nil {
		return "", err
	}
	return ClientType(re.Type), nil
}

// Encode marshals a server->client payload, stamping its "type" field. v must
// be a struct (or map) without its own "type" key; Encode injects one.
func Encode(t ServerType, v interface{}) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	typeJSON, _ := json.Marshal(string(t))
	m["type"] = typeJSON
	return json.Marshal(m)
}

// ValidateContent enforces the 4096-char content ceiling.
func ValidateContent(content string) error {
	if len([]rune(content)) > ContentMaxChars {
		return fmt.Errorf("content exceeds %d characters", ContentMaxChars)
	}
	return nil
}
