package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ocx/agentchat-relay/internal/escrow"
)

func TestAmountFor_ReturnsTheNamedParty(t *testing.T) {
	h := &escrow.Hold{Party1: "alice", Amount1: 30, Party2: "bob", Amount2: 70}
	assert.Equal(t, 30, amountFor(h, "alice"))
	assert.Equal(t, 70, amountFor(h, "bob"))
}

func TestAmountFor_ReturnsZeroForUnrelatedParty(t *testing.T) {
	h := &escrow.Hold{Party1: "alice", Amount1: 30, Party2: "bob", Amount2: 70}
	assert.Equal(t, 0, amountFor(h, "mallory"))
}
