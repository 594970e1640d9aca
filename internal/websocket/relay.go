// Package websocket hosts the relay's per-connection hub: the
// gorilla/websocket upgrade, read/write pumps, and message dispatch that
// wires the session, channel, proposal, and court subsystems together.
// Connections register/unregister against a client map guarded by one
// mutex, with per-agent routing across all four subsystems.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ocx/agentchat-relay/internal/admin"
	"github.com/ocx/agentchat-relay/internal/channel"
	"github.com/ocx/agentchat-relay/internal/config"
	"github.com/ocx/agentchat-relay/internal/court"
	"github.com/ocx/agentchat-relay/internal/escrow"
	"github.com/ocx/agentchat-relay/internal/events"
	"github.com/ocx/agentchat-relay/internal/metrics"
	"github.com/ocx/agentchat-relay/internal/proposal"
	"github.com/ocx/agentchat-relay/internal/ratelimit"
	"github.com/ocx/agentchat-relay/internal/relayerr"
	"github.com/ocx/agentchat-relay/internal/reputation"
	"github.com/ocx/agentchat-relay/internal/session"
)

// Relay is the top-level actor composing every subsystem. Cross-subsystem
// calls are plain synchronous method calls made while holding at most one
// subsystem's lock at a time; rating/escrow mutation always happens inside
// the proposal or court manager's own locked methods.
type Relay struct {
	cfg *config.Config
	log *slog.Logger

	sessions   *session.Registry
	channels   *channel.Manager
	proposals  *proposal.Manager
	court      *court.Manager
	reputation *reputation.Manager
	escrowGate *escrow.Gate
	allowlist  *admin.Allowlist
	bans       *admin.BanList
	bus        *events.EventBus
	metrics    *metrics.Metrics

	idlePrompter *channel.IdlePrompter

	connsMu sync.RWMutex
	conns   map[string]*Conn // connection id -> conn, for displacement/kick delivery
}

// NewRelay wires every subsystem from cfg, following the dependency order
// reputation -> escrow -> proposal -> court -> channel -> session.
func NewRelay(cfg *config.Config, log *slog.Logger) (*Relay, error) {
	store, err := reputation.NewStore(cfg.Ratings.Backend, cfg.Ratings.FilePath, cfg.Ratings.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("build ratings store: %w", err)
	}
	repMgr, err := reputation.NewManager(store)
	if err != nil {
		return nil, fmt.Errorf("load ratings: %w", err)
	}

	bus := events.NewEventBus()
	gate := escrow.NewGate()
	propMgr := proposal.NewManager(repMgr, gate, bus)

	sessions := session.NewRegistry(cfg.RateLimit.ChallengeTTL)
	courtMgr := court.NewManager(repMgr, propMgr, sessions)

	chanMgr := channel.NewManager(cfg.Channel.ReplayBufferSize)
	idler := channel.NewIdlePrompter(cfg.Channel.IdlePromptAfter, 15*time.Second)

	allowlist, err := admin.NewAllowlist(cfg.Allowlist.Enabled, cfg.Allowlist.Path)
	if err != nil {
		return nil, fmt.Errorf("load allowlist: %w", err)
	}
	bans, err := admin.NewBanList(cfg.Allowlist.Path + ".banned")
	if err != nil {
		return nil, fmt.Errorf("load ban list: %w", err)
	}

	rl := &Relay{
		cfg:          cfg,
		log:          log,
		sessions:     sessions,
		channels:     chanMgr,
		proposals:    propMgr,
		court:        courtMgr,
		reputation:   repMgr,
		escrowGate:   gate,
		allowlist:    allowlist,
		bans:         bans,
		bus:          bus,
		metrics:      metrics.New(),
		idlePrompter: idler,
		conns:        make(map[string]*Conn),
	}
	rl.bootstrapDefaultChannels()
	return rl, nil
}

// defaultChannels are created at boot so they exist before the first agent
// ever JOINs them, rather than springing into existence lazily on first use.
var defaultChannels = []string{"#general", "#discovery", "#bounties"}

func (rl *Relay) bootstrapDefaultChannels() {
	for _, name := range defaultChannels {
		rl.channels.GetOrCreate(name, false)
	}
}

// AttachRedisSink wires an optional Redis fan-out sink for escrow hooks, run
// until ctx is cancelled.
func (rl *Relay) AttachRedisSink(ctx context.Context, sink *escrow.RedisSink) {
	go sink.Attach(ctx, rl.bus)
}

func (rl *Relay) registerConn(c *Conn) {
	rl.connsMu.Lock()
	rl.conns[c.id] = c
	rl.connsMu.Unlock()
	rl.metrics.RecordConnection("admitted")
}

func (rl *Relay) unregisterConn(c *Conn) {
	rl.connsMu.Lock()
	delete(rl.conns, c.id)
	rl.connsMu.Unlock()
}

func (rl *Relay) findConnByAgent(agentID string) *Conn {
	rl.connsMu.RLock()
	defer rl.connsMu.RUnlock()
	for _, c := range rl.conns {
		if c.agent != nil && c.agent.ID == agentID {
			return c
		}
	}
	return nil
}

// Stats implements apisrv.World.
func (rl *Relay) Stats() map[string]interface{} {
	rl.connsMu.RLock()
	activeConns := len(rl.conns)
	rl.connsMu.RUnlock()

	return map[string]interface{}{
		"connections_active": activeConns,
		"agents_online":      len(rl.sessions.ListOnline()),
		"channels":           len(rl.channels.Names()),
	}
}

// Kick implements apisrv.World: closes the agent's live connection, if any.
func (rl *Relay) Kick(agentID string) error {
	agent, ok := rl.sessions.Lookup(agentID)
	if !ok {
		return relayerr.NotFoundf(relayerr.CodeAgentNotFound, "agent %s not found", agentID)
	}
	if c := agent.LiveConnection(); c != nil {
		if wc := rl.findConnByAgent(agentID); wc != nil {
			wc.closeWithReason("kicked")
		}
	}
	return nil
}

// Ban implements apisrv.World: persists the ban and kicks any live session.
func (rl *Relay) Ban(agentID string) error {
	if err := rl.bans.Ban(agentID); err != nil {
		return err
	}
	_ = rl.Kick(agentID)
	return nil
}

// Unban implements apisrv.World.
func (rl *Relay) Unban(agentID string) error {
	return rl.bans.Unban(agentID)
}

// rateLimiterFor builds a fresh per-connection limiter from configuration.
func (rl *Relay) rateLimiterFor() *ratelimit.Limiter {
	return ratelimit.NewLimiter(ratelimit.Config{
		PreAuthMessages:  rl.cfg.RateLimit.PreAuthMessages,
		PreAuthWindow:    rl.cfg.RateLimit.PreAuthWindow,
		PostAuthMessages: rl.cfg.RateLimit.PostAuthMessages,
		PostAuthWindow:   rl.cfg.RateLimit.PostAuthWindow,
		MsgPerSecond:     rl.cfg.RateLimit.MsgPerSecond,
		FileChunkPerSec:  rl.cfg.RateLimit.FileChunkPerSec,
	})
}
