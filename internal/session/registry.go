// Package session implements the connection/admission state machine:
// pre-auth budgets, the pubkey challenge-response handshake, identity
// takeover, and the live-connection registry that guarantees at most one
// connection per agent.
package session

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/ocx/agentchat-relay/internal/identity"
)

// State is a connection's position in the admission state machine.
type State string

const (
	StateOpen      State = "OPEN"
	StatePreAuth   State = "PREAUTH"
	StateChallenged State = "CHALLENGED"
	StateAdmitted  State = "ADMITTED"
	StateVerified  State = "VERIFIED"
	StateClosing   State = "CLOSING"
	StateClosed    State = "CLOSED"
)

// Presence is an agent's reported availability.
type Presence string

const (
	PresenceOnline    Presence = "online"
	PresenceAway      Presence = "away"
	PresenceBusy      Presence = "busy"
	PresenceOffline   Presence = "offline"
	PresenceListening Presence = "listening"
)

// Agent is the process-wide subject a connection admits into the world.
type Agent struct {
	mu       sync.Mutex
	ID       string
	Pubkey   ed25519.PublicKey // nil for ephemeral agents
	Nick     string
	Verified bool
	Presence Presence
	Channels map[string]bool

	conn *Connection // back-reference, cleared on close; no cycle ownership
}

func newAgent(id string, pubkey ed25519.PublicKey, nick string, verified bool) *Agent {
	return &Agent{
		ID:       id,
		Pubkey:   pubkey,
		Nick:     nick,
		Verified: verified,
		Presence: PresenceOnline,
		Channels: make(map[string]bool),
	}
}

// attach attaches the agent to its live connection and detaches any
// prior one. Returns the previously-attached connection, if any, so the
// caller can close it (identity takeover).
func (a *Agent) attach(c *Connection) *Connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	prior := a.conn
	a.conn = c
	return prior
}

func (a *Agent) detach(c *Connection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == c {
		a.conn = nil
	}
}

// LiveConnection returns the agent's current connection, or nil if offline.
func (a *Agent) LiveConnection() *Connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}

func (a *Agent) SetNick(nick string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Nick = nick
}

func (a *Agent) SetPresence(p Presence) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Presence = p
}

func (a *Agent) GetPresence() Presence {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Presence
}

func (a *Agent) JoinChannel(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Channels[name] = true
}

func (a *Agent) LeaveChannel(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.Channels, name)
}

func (a *Agent) JoinedChannels() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.Channels))
	for c := range a.Channels {
		out = append(out, c)
	}
	return out
}

// PendingChallenge is the state held while a pubkey admission is in flight.
type PendingChallenge struct {
	ChallengeID string
	Nonce       string
	Pubkey      ed25519.PublicKey
	Nick        string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Connection is one-to-one with a transport socket.
type Connection struct {
	mu          sync.Mutex
	ID          string
	RemoteAddr  string
	State       State
	Agent       *Agent
	PreAuthSeen int
	pending     *PendingChallenge

	// Displaced is closed by the registry when this connection is kicked by
	// a later successful verification of the same identity, so the
	// websocket layer can send the displacement event and close the socket.
	Displaced chan struct{}
}

// NewConnection constructs a fresh pre-auth connection record.
func NewConnection(id, remoteAddr string) *Connection {
	return &Connection{
		ID:         id,
		RemoteAddr: remoteAddr,
		State:      StatePreAuth,
		Displaced:  make(chan struct{}),
	}
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.State = s
}

func (c *Connection) GetState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.State
}

// Registry is the live-connection/agent world: it enforces "an agent has at
// most one live connection" and owns the pending-challenge table. It does
// not own channel membership or proposals — those are separate subsystems.
type Registry struct {
	mu                 sync.RWMutex
	agents             map[string]*Agent             // stable/ephemeral id -> agent
	pendingByChallenge map[string]*PendingChallenge
	challengeTTL       time.Duration
}

func NewRegistry(challengeTTL time.Duration) *Registry {
	if challengeTTL <= 0 {
		challengeTTL = 30 * time.Second
	}
	return &Registry{
		agents:             make(map[string]*Agent),
		pendingByChallenge: make(map[string]*PendingChallenge),
		challengeTTL:       challengeTTL,
	}
}

// AdmitEphemeral handles IDENTIFY without a pubkey: the connection gets a
// random id and is admitted unverified, immediately.
func (r *Registry) AdmitEphemeral(conn *Connection, nick string) (*Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := identity.RandomEphemeralID()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral id: %w", err)
	}
	// Astronomically unlikely, but guard against collision with a live id.
	for r.agents[id] != nil {
		id, err = identity.RandomEphemeralID()
		if err != nil {
			return nil, err
		}
	}

	agent := newAgent(id, nil, nick, false)
	agent.attach(conn)
	r.agents[id] = agent

	conn.mu.Lock()
	conn.Agent = agent
	conn.State = StateAdmitted
	conn.mu.Unlock()

	return agent, nil
}

// BeginChallenge implements transition 2: IDENTIFY with a pubkey creates a
// pending challenge and moves the connection to CHALLENGED. No Agent is
// created yet.
func (r *Registry) BeginChallenge(conn *Connection, pubkey ed25519.PublicKey, nick string) (*PendingChallenge, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	challengeIDBytes := make([]byte, 16)
	if _, err := rand.Read(challengeIDBytes); err != nil {
		return nil, err
	}

	now := time.Now()
	pc := &PendingChallenge{
		ChallengeID: hex.EncodeToString(challengeIDBytes),
		Nonce:       hex.EncodeToString(nonce),
		Pubkey:      pubkey,
		Nick:        nick,
		CreatedAt:   now,
		ExpiresAt:   now.Add(r.challengeTTL),
	}

	r.mu.Lock()
	r.pendingByChallenge[pc.ChallengeID] = pc
	r.mu.Unlock()

	conn.mu.Lock()
	conn.pending = pc
	conn.State = StateChallenged
	conn.mu.Unlock()

	return pc, nil
}

// VerifyResult reports the outcome of a VERIFY_IDENTITY attempt.
type VerifyResult struct {
	Agent     *Agent
	Displaced *Connection // non-nil if a prior live connection was kicked
}

// VerifyIdentity implements transition 3: verifies the signature over the
// canonical auth string, computes the stable id, and on success either
// reuses the existing Agent record (displacing its prior connection) or
// creates a new one.
func (r *Registry) VerifyIdentity(conn *Connection, challengeID string, sig []byte, timestampMs int64) (*VerifyResult, error) {
	r.mu.Lock()
	pc, ok := r.pendingByChallenge[challengeID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no such challenge")
	}
	if time.Now().After(pc.ExpiresAt) {
		return nil, fmt.Errorf("challenge expired")
	}

	canonical := identity.AuthChallengeString(pc.Nonce, pc.ChallengeID, timestampMs)
	if err := identity.Verify(pc.Pubkey, canonical, sig); err != nil {
		return nil, err
	}

	stableID := identity.StableID(pc.Pubkey)

	r.mu.Lock()
	delete(r.pendingByChallenge, challengeID)
	agent, existed := r.agents[stableID]
	if !existed {
		agent = newAgent(stableID, pc.Pubkey, pc.Nick, true)
		r.agents[stableID] = agent
	} else {
		agent.mu.Lock()
		agent.Verified = true
		if pc.Nick != "" {
			agent.Nick = pc.Nick
		}
		agent.mu.Unlock()
	}
	r.mu.Unlock()

	prior := agent.attach(conn)

	conn.mu.Lock()
	conn.Agent = agent
	conn.pending = nil
	conn.State = StateVerified
	conn.mu.Unlock()

	return &VerifyResult{Agent: agent, Displaced: prior}, nil
}

// ExpireChallenge removes a challenge whose deadline timer fired without a
// successful verification (transition 4).
func (r *Registry) ExpireChallenge(challengeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pendingByChallenge[challengeID]; !ok {
		return false
	}
	delete(r.pendingByChallenge, challengeID)
	return true
}

// Close implements transition 5's registry bookkeeping: detach the agent
// from this connection. Channel membership cleanup and AGENT_LEFT broadcast
// are the channel subsystem's responsibility; the registry only guarantees
// the live-connection invariant.
func (r *Registry) Close(conn *Connection) {
	conn.mu.Lock()
	agent := conn.Agent
	conn.State = StateClosed
	conn.mu.Unlock()

	if agent != nil {
		agent.detach(conn)
	}
}

// Lookup finds a live agent by id.
func (r *Registry) Lookup(id string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// ListOnline returns ids of every agent with a live connection.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for id, a := range r.agents {
		if a.LiveConnection() != nil {
			out = append(out, id)
		}
	}
	return out
}

// Candidates returns every verified, live, non-away agent except excludeA
// and excludeB, satisfying court.EligibilityChecker. Rating/transaction
// thresholds are applied by the caller.
func (r *Registry) Candidates(excludeA, excludeB string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for id, a := range r.agents {
		if id == excludeA || id == excludeB {
			continue
		}
		if !a.Verified || a.LiveConnection() == nil {
			continue
		}
		if a.GetPresence() == PresenceAway {
			continue
		}
		out = append(out, id)
	}
	return out
}

// CleanupExpiredChallenges drops pending challenges past their deadline;
// intended to be called from a periodic ticker as a backstop alongside the
// per-challenge time.AfterFunc timer owned by the caller.
func (r *Registry) CleanupExpiredChallenges() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, pc := range r.pendingByChallenge {
		if now.After(pc.ExpiresAt) {
			delete(r.pendingByChallenge, id)
			removed++
		}
	}
	return removed
}
