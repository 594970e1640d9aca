package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("#general"))
	assert.True(t, ValidName("#a"))
	assert.False(t, ValidName("general"), "missing leading #")
	assert.False(t, ValidName("#"), "needs at least one name character")
	assert.False(t, ValidName("#has space"))
}

func TestAuthorised_PublicChannelAdmitsAnyone(t *testing.T) {
	c := NewChannel("#general", false, 10)
	assert.True(t, c.Authorised("anyone"))
}

func TestAuthorised_InviteOnlyRequiresInvite(t *testing.T) {
	c := NewChannel("#secret", true, 10)
	assert.False(t, c.Authorised("alice"))
	c.Invite("alice")
	assert.True(t, c.Authorised("alice"))
	assert.False(t, c.Authorised("bob"))
}

// joinNoop joins agentID without caring about the replay snapshot.
func joinNoop(c *Channel, agentID string) {
	c.Join(agentID, func([]Buffered) {})
}

// joinSnapshot joins agentID and returns the replay snapshot handed to the
// deliverReplay callback, for tests that assert on its contents.
func joinSnapshot(c *Channel, agentID string) []Buffered {
	var snapshot []Buffered
	c.Join(agentID, func(b []Buffered) { snapshot = b })
	return snapshot
}

func TestJoin_ReturnsReplaySnapshotAtJoinTime(t *testing.T) {
	c := NewChannel("#general", false, 10)
	c.AppendMessage(Buffered{From: "alice", Content: "hi", MsgID: "m1"})

	snapshot := joinSnapshot(c, "bob")
	assert.Len(t, snapshot, 1)

	// Further messages must not retroactively mutate the already-taken snapshot.
	c.AppendMessage(Buffered{From: "alice", Content: "again", MsgID: "m2"})
	assert.Len(t, snapshot, 1)
}

// TestJoin_DeliversReplayBeforeReleasingLock asserts the ordering guarantee
// the callback form exists for: deliverReplay runs, and completes, before
// Join returns, so no caller can observe the new member via OtherMembers
// until its replay has already been handed off.
func TestJoin_DeliversReplayBeforeReleasingLock(t *testing.T) {
	c := NewChannel("#general", false, 10)
	c.AppendMessage(Buffered{From: "alice", Content: "hi", MsgID: "m1"})

	delivered := false
	c.Join("bob", func(snapshot []Buffered) {
		delivered = true
		assert.Len(t, snapshot, 1)
	})
	assert.True(t, delivered, "deliverReplay must run synchronously inside Join")
}

func TestLeave_ClearsMembershipAndOwnedClaims(t *testing.T) {
	c := NewChannel("#general", false, 10)
	joinNoop(c, "alice")
	c.TryClaim("m1", "alice", 100, time.Minute)

	c.Leave("alice")
	assert.False(t, c.IsMember("alice"))

	// The floor should now be free for someone else.
	res := c.TryClaim("m1", "bob", 200, time.Minute)
	assert.Equal(t, "bob", res.Winner)
}

func TestMembers_OrderedByJoinTime(t *testing.T) {
	c := NewChannel("#general", false, 10)
	joinNoop(c, "alice")
	time.Sleep(time.Millisecond)
	joinNoop(c, "bob")
	assert.Equal(t, []string{"alice", "bob"}, c.Members())
}

func TestOtherMembers_ExcludesGivenID(t *testing.T) {
	c := NewChannel("#general", false, 10)
	joinNoop(c, "alice")
	joinNoop(c, "bob")
	assert.Equal(t, []string{"bob"}, c.OtherMembers("alice"))
}

func TestAppendMessage_RingIsBoundedFIFO(t *testing.T) {
	c := NewChannel("#general", false, 2)
	c.AppendMessage(Buffered{MsgID: "m1"})
	c.AppendMessage(Buffered{MsgID: "m2"})
	c.AppendMessage(Buffered{MsgID: "m3"})

	snapshot := joinSnapshot(c, "late-joiner")
	assert.Len(t, snapshot, 2)
	assert.Equal(t, "m2", snapshot[0].MsgID)
	assert.Equal(t, "m3", snapshot[1].MsgID)
}

func TestAppendMessage_FromClaimHolderClearsTheirClaim(t *testing.T) {
	c := NewChannel("#general", false, 10)
	c.TryClaim("m1", "alice", 100, time.Minute)
	c.AppendMessage(Buffered{From: "alice", MsgID: "m1"})

	res := c.TryClaim("m1", "bob", 200, time.Minute)
	assert.Equal(t, "bob", res.Winner, "alice's own message should release her claim")
}

func TestTryClaim_FirstCallerWinsOutright(t *testing.T) {
	c := NewChannel("#general", false, 10)
	res := c.TryClaim("m1", "alice", 100, time.Minute)
	assert.Equal(t, "alice", res.Winner)
	assert.Empty(t, res.Yielded)
}

func TestTryClaim_EarlierStartedAtWins(t *testing.T) {
	c := NewChannel("#general", false, 10)
	c.TryClaim("m1", "alice", 100, time.Minute)

	res := c.TryClaim("m1", "bob", 200, time.Minute)
	assert.Equal(t, "alice", res.Winner)
	assert.Equal(t, "bob", res.Yielded)
}

func TestTryClaim_TieBrokenByLexicographicAgentID(t *testing.T) {
	c := NewChannel("#general", false, 10)
	c.TryClaim("m1", "zeta", 100, time.Minute)

	res := c.TryClaim("m1", "alpha", 100, time.Minute)
	assert.Equal(t, "alpha", res.Winner, "equal timestamps should favor the lexicographically smaller id")
	assert.Equal(t, "zeta", res.Yielded)
}

func TestTryClaim_LaterStarterReplacesExpiredClaim(t *testing.T) {
	c := NewChannel("#general", false, 10)
	c.TryClaim("m1", "alice", 100, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	res := c.TryClaim("m1", "bob", 50, time.Minute)
	assert.Equal(t, "bob", res.Winner, "an expired claim must be treated as absent regardless of timestamp ordering")
}

func TestExpireClaims_DropsOnlyElapsedClaims(t *testing.T) {
	c := NewChannel("#general", false, 10)
	c.TryClaim("short", "alice", 1, time.Millisecond)
	c.TryClaim("long", "bob", 2, time.Hour)

	time.Sleep(5 * time.Millisecond)
	c.ExpireClaims()

	resShort := c.TryClaim("short", "carol", 3, time.Minute)
	assert.Equal(t, "carol", resShort.Winner)

	resLong := c.TryClaim("long", "carol", 1, time.Minute)
	assert.Equal(t, "bob", resLong.Winner, "the unexpired claim must survive the sweep")
}

func TestIdleSince_AndMemberCount(t *testing.T) {
	c := NewChannel("#general", false, 10)
	assert.Equal(t, 0, c.MemberCount())
	joinNoop(c, "alice")
	joinNoop(c, "bob")
	assert.Equal(t, 2, c.MemberCount())
	assert.Less(t, c.IdleSince(), time.Second)
}
