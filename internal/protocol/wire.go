package protocol

// Concrete client->server payloads. Required-field validation happens
// before any handler runs a side effect.

type IdentifyMsg struct {
	Pubkey string `json:"pubkey,omitempty"`
	Nick   string `json:"nick,omitempty"`
}

type VerifyIdentityMsg struct {
	ChallengeID string `json:"challenge_id"`
	Signature   string `json:"signature"`
}

type JoinMsg struct {
	Channel string `json:"channel"`
}

type LeaveMsg struct {
	Channel string `json:"channel"`
}

type MsgMsg struct {
	To      string `json:"to"`
	Content string `json:"content"`
	MsgID   string `json:"msg_id,omitempty"`
}

type CreateChannelMsg struct {
	Channel    string `json:"channel"`
	InviteOnly bool   `json:"invite_only,omitempty"`
}

type InviteMsg struct {
	Channel string `json:"channel"`
	Agent   string `json:"agent"`
}

type SetNickMsg struct {
	Nick string `json:"nick"`
}

type SetPresenceMsg struct {
	Presence string `json:"presence"`
}

type RespondingToMsg struct {
	MsgID     string `json:"msg_id"`
	StartedAt int64  `json:"started_at"`
	Channel   string `json:"channel"`
}

type RegisterSkillsMsg struct {
	Skills []string `json:"skills"`
}

type SearchSkillsMsg struct {
	Query string `json:"query"`
}

type ProposalMsg struct {
	To          string `json:"to"`
	Task        string `json:"task"`
	Amount      string `json:"amount,omitempty"`
	Currency    string `json:"currency,omitempty"`
	PaymentCode string `json:"payment_code,omitempty"`
	Expires     string `json:"expires,omitempty"`
	EloStake    int    `json:"elo_stake,omitempty"`
	Signature   string `json:"signature"`
}

type AcceptMsg struct {
	ProposalID  string `json:"proposal_id"`
	PaymentCode string `json:"payment_code,omitempty"`
	EloStake    int    `json:"elo_stake,omitempty"`
	Signature   string `json:"signature"`
}

type RejectMsg struct {
	ProposalID string `json:"proposal_id"`
	Signature  string `json:"signature"`
}

type CompleteMsg struct {
	ProposalID string `json:"proposal_id"`
	Proof      string `json:"proof,omitempty"`
	Signature  string `json:"signature"`
}

type DisputeMsg struct {
	ProposalID string `json:"proposal_id"`
	Reason     string `json:"reason,omitempty"`
	Signature  string `json:"signature"`
}

type DisputeIntentMsg struct {
	ProposalID string `json:"proposal_id"`
	Reason     string `json:"reason,omitempty"`
	Commitment string `json:"commitment"`
	Signature  string `json:"signature"`
}

type DisputeRevealMsg struct {
	DisputeID string `json:"dispute_id"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

type EvidenceItem struct {
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

type EvidenceMsg struct {
	DisputeID string         `json:"dispute_id"`
	Items     []EvidenceItem `json:"items"`
	Statement string         `json:"statement,omitempty"`
	Signature string         `json:"signature"`
}

type ArbiterAcceptMsg struct {
	DisputeID string `json:"dispute_id"`
	Signature string `json:"signature"`
}

type ArbiterDeclineMsg struct {
	DisputeID string `json:"dispute_id"`
	Reason    string `json:"reason,omitempty"`
	Signature string `json:"signature"`
}

type ArbiterVoteMsg struct {
	DisputeID string `json:"dispute_id"`
	Verdict   string `json:"verdict"`
	Signature string `json:"signature"`
}

type AdminKickMsg struct {
	Agent string `json:"agent"`
	Key   string `json:"key"`
}

type AdminBanMsg struct {
	Agent string `json:"agent"`
	Key   string `json:"key"`
}

type AdminUnbanMsg struct {
	Agent string `json:"agent"`
	Key   string `json:"key"`
}

type FileChunkMsg struct {
	To      string `json:"to"`
	ChunkID string `json:"chunk_id"`
	Data    string `json:"data"`
	Final   bool   `json:"final,omitempty"`
}

// Concrete server->client payloads.

type WelcomePayload struct {
	AgentID  string `json:"agent_id"`
	Verified bool   `json:"verified"`
}

type ChallengePayload struct {
	Nonce       string `json:"nonce"`
	ChallengeID string `json:"challenge_id"`
	ExpiresAt   int64  `json:"expires_at"`
}

type MsgPayload struct {
	From     string `json:"from"`
	FromName string `json:"from_name,omitempty"`
	To       string `json:"to"`
	Content  string `json:"content"`
	TS       int64  `json:"ts"`
	Replay   bool   `json:"replay,omitempty"`
	MsgID    string `json:"msg_id"`
}

type JoinedPayload struct {
	Channel string   `json:"channel"`
	Agents  []string `json:"agents"`
}

type AgentEventPayload struct {
	Agent   string `json:"agent"`
	Channel string `json:"channel,omitempty"`
}

type ChannelsPayload struct {
	Channels []string `json:"channels"`
}

type AgentsPayload struct {
	Agents []string `json:"agents"`
}

type YieldPayload struct {
	MsgID  string `json:"msg_id"`
	Winner string `json:"winner"`
}

type SearchResultsPayload struct {
	Results []string `json:"results"`
}

type DisputeIntentAckPayload struct {
	DisputeID      string `json:"dispute_id"`
	Commitment     string `json:"commitment"`
	RevealDeadline int64  `json:"reveal_deadline"`
	ServerNonce    string `json:"server_nonce"`
}

type PanelFormedPayload struct {
	Arbiters         []string `json:"arbiters"`
	Seed             string   `json:"seed"`
	ServerNonce      string   `json:"server_nonce"`
	EvidenceDeadline int64    `json:"evidence_deadline"`
	VoteDeadline     int64    `json:"vote_deadline"`
}

type ArbiterAssignedPayload struct {
	DisputeID     string `json:"dispute_id"`
	IsReplacement bool   `json:"is_replacement,omitempty"`
}

type VerdictPayload struct {
	Verdict          string         `json:"verdict"`
	Votes            map[string]string `json:"votes"`
	RatingChanges    map[string]int    `json:"rating_changes"`
	EscrowSettlement map[string]int    `json:"escrow_settlement"`
}

type PresenceChangedPayload struct {
	Agent    string `json:"agent"`
	Presence string `json:"presence"`
}

type ProposalPayload struct {
	ProposalID  string `json:"proposal_id"`
	From        string `json:"from"`
	To          string `json:"to"`
	Task        string `json:"task"`
	Amount      string `json:"amount,omitempty"`
	Currency    string `json:"currency,omitempty"`
	PaymentCode string `json:"payment_code,omitempty"`
	Expires     string `json:"expires,omitempty"`
	EloStake    int    `json:"elo_stake,omitempty"`
}

type ProposalStatusPayload struct {
	ProposalID string `json:"proposal_id"`
}

type SettlementPayload struct {
	ProposalID string `json:"proposal_id"`
	DeltaFrom  int    `json:"delta_from"`
	DeltaTo    int    `json:"delta_to"`
}

type DisputeStatusPayload struct {
	DisputeID string `json:"dispute_id"`
}

type IdlePromptPayload struct {
	Channel string `json:"channel"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
