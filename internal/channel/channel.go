// Package channel implements the named broadcast group: membership, the
// ring-buffer replay, floor control, and idle prompting. Per-channel
// membership is tracked alongside a bounded replay ring (a plain bounded
// slice, not a kernel ring buffer).
package channel

import (
	"regexp"
	"sort"
	"sync"
	"time"
)

var namePattern = regexp.MustCompile(`^#[A-Za-z0-9_-]{1,31}$`)

// ValidName reports whether name is a well-formed channel name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Buffered is one message retained in a channel's replay ring.
type Buffered struct {
	From    string
	To      string
	Content string
	TS      int64
	MsgID   string
}

// Claim is one active floor-control hold, keyed by msg_id.
type Claim struct {
	Holder    string
	StartedAt int64
	ExpiresAt time.Time
}

// Channel is a named broadcast group.
type Channel struct {
	mu         sync.Mutex
	Name       string
	InviteOnly bool
	members    map[string]time.Time // agent id -> join time
	invited    map[string]bool
	ring       []Buffered
	ringSize   int
	claims     map[string]*Claim // msg_id -> claim

	lastActivity time.Time
}

// NewChannel creates a channel with the given replay ring capacity.
func NewChannel(name string, inviteOnly bool, ringSize int) *Channel {
	if ringSize <= 0 {
		ringSize = 20
	}
	return &Channel{
		Name:         name,
		InviteOnly:   inviteOnly,
		members:      make(map[string]time.Time),
		invited:      make(map[string]bool),
		ring:         make([]Buffered, 0, ringSize),
		ringSize:     ringSize,
		claims:       make(map[string]*Claim),
		lastActivity: time.Now(),
	}
}

// Authorised reports whether agentID may JOIN: public channels admit anyone,
// invite-only channels require prior INVITE.
func (c *Channel) Authorised(agentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.InviteOnly {
		return true
	}
	return c.invited[agentID]
}

// Invite adds agentID to the invite set.
func (c *Channel) Invite(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invited[agentID] = true
}

// Join adds agentID to the member set and invokes deliverReplay, while still
// holding the channel lock, with a snapshot of the replay ring taken at this
// instant — a finite, non-restartable sequence, not a live cursor.
//
// deliverReplay runs under the same lock that AppendMessage and OtherMembers
// take, so a concurrent MSG on this channel cannot be broadcast to agentID
// until after its replay has been handed off: OtherMembers can only see
// agentID as a member once Join's critical section — membership registration
// and replay delivery together — has released the lock. This closes the
// window where a live message would otherwise reach a newly joined member
// ahead of its own replay. deliverReplay must not block or re-enter the
// channel.
func (c *Channel) Join(agentID string, deliverReplay func([]Buffered)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members[agentID] = time.Now()
	snapshot := make([]Buffered, len(c.ring))
	copy(snapshot, c.ring)
	deliverReplay(snapshot)
}

// Leave removes agentID from the member set and clears any claim it holds.
func (c *Channel) Leave(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.members, agentID)
	c.clearClaimsByHolderLocked(agentID)
}

// IsMember reports membership.
func (c *Channel) IsMember(agentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.members[agentID]
	return ok
}

// Members returns the member ids ordered by join time.
func (c *Channel) Members() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	type pair struct {
		id   string
		join time.Time
	}
	pairs := make([]pair, 0, len(c.members))
	for id, t := range c.members {
		pairs = append(pairs, pair{id, t})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].join.Before(pairs[j].join) })
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.id
	}
	return out
}

// OtherMembers returns every member except excludeID.
func (c *Channel) OtherMembers(excludeID string) []string {
	all := c.Members()
	out := make([]string, 0, len(all))
	for _, id := range all {
		if id != excludeID {
			out = append(out, id)
		}
	}
	return out
}

// AppendMessage appends a broadcast MSG to the ring buffer (FIFO, bounded at
// ringSize) and records activity for the idle prompter.
func (c *Channel) AppendMessage(b Buffered) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ring = append(c.ring, b)
	if len(c.ring) > c.ringSize {
		c.ring = c.ring[len(c.ring)-c.ringSize:]
	}
	c.lastActivity = time.Now()
	// A MSG from the claim holder clears their claim implicitly.
	c.clearClaimsByHolderLocked(b.From)
}

// Touch marks activity without buffering anything, e.g. for DMs relayed via
// the channel's presence in a RESPONDING_TO.
func (c *Channel) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
}

// IdleSince returns how long the channel has seen no activity.
func (c *Channel) IdleSince() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity)
}

// MemberCount returns the current member count (the idle prompter requires
// >= 2 before firing).
func (c *Channel) MemberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.members)
}

// ClaimResult is returned by TryClaim: either the caller's claim was
// accepted (Winner == agentID, Yielded == nil) or it lost to an existing
// claim (Yielded names the agent who must receive YIELD).
type ClaimResult struct {
	Winner  string
	Yielded string // non-empty: this agent's attempt lost and must be told who won
}

// TryClaim implements the floor-control tie-break: earlier started_at wins;
// equal timestamps broken by lexicographic agent id. TTL is applied lazily
// — an expired claim is treated as absent.
func (c *Channel) TryClaim(msgID, agentID string, startedAt int64, ttl time.Duration) ClaimResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.claims[msgID]
	if ok && time.Now().After(existing.ExpiresAt) {
		ok = false
	}

	if !ok {
		c.claims[msgID] = &Claim{Holder: agentID, StartedAt: startedAt, ExpiresAt: time.Now().Add(ttl)}
		return ClaimResult{Winner: agentID}
	}

	winner := existing.Holder
	winnerWins := existing.StartedAt < startedAt ||
		(existing.StartedAt == startedAt && existing.Holder < agentID)

	if winnerWins {
		return ClaimResult{Winner: winner, Yielded: agentID}
	}

	// The new claim wins; replace the held one.
	c.claims[msgID] = &Claim{Holder: agentID, StartedAt: startedAt, ExpiresAt: time.Now().Add(ttl)}
	return ClaimResult{Winner: agentID, Yielded: existing.Holder}
}

func (c *Channel) clearClaimsByHolderLocked(agentID string) {
	for msgID, claim := range c.claims {
		if claim.Holder == agentID {
			delete(c.claims, msgID)
		}
	}
}

// ExpireClaims drops any claim whose TTL has elapsed; called from a periodic
// sweep since each claim has no individual timer in this implementation.
func (c *Channel) ExpireClaims() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for msgID, claim := range c.claims {
		if now.After(claim.ExpiresAt) {
			delete(c.claims, msgID)
		}
	}
}
