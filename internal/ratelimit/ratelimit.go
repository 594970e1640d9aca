// Package ratelimit enforces the relay's three rate-limit classes per
// connection: a pre-auth flood guard, a post-auth global budget, and
// per-message-type budgets.
package ratelimit

import (
	"sync"
	"time"
)

// window is a fixed-duration sliding counter: a count and the time it
// started, reset once the window elapses.
type window struct {
	count       int
	windowStart time.Time
}

// Class is one rate-limited budget: at most Limit events per Window.
type Class struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	w      window
}

// NewClass creates a class allowing limit events per window duration.
func NewClass(limit int, per time.Duration) *Class {
	return &Class{limit: limit, window: per}
}

// Allow reports whether one more event is permitted right now, incrementing
// the counter as a side effect. A single mutex is enough here since a
// per-connection class sees no meaningful contention.
func (c *Class) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Sub(c.w.windowStart) > c.window {
		c.w = window{count: 1, windowStart: now}
		return true
	}
	c.w.count++
	return c.w.count <= c.limit
}

// Count returns the current window's event count, for diagnostics.
func (c *Class) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w.count
}

// Limiter bundles the three classes a connection is gated by. Per-type
// classes are created lazily per message type on first use.
type Limiter struct {
	PreAuth  *Class
	PostAuth *Class

	mu      sync.Mutex
	perType map[string]*Class
	newType func(kind string) *Class
}

// Config holds the enumerated rate-limit fields.
type Config struct {
	PreAuthMessages  int
	PreAuthWindow    time.Duration
	PostAuthMessages int
	PostAuthWindow   time.Duration
	MsgPerSecond     int
	FileChunkPerSec  int
}

// NewLimiter builds a per-connection limiter from config defaults.
func NewLimiter(cfg Config) *Limiter {
	l := &Limiter{
		PreAuth:  NewClass(cfg.PreAuthMessages, cfg.PreAuthWindow),
		PostAuth: NewClass(cfg.PostAuthMessages, cfg.PostAuthWindow),
		perType:  make(map[string]*Class),
	}
	msgPerSec := cfg.MsgPerSecond
	fileChunkPerSec := cfg.FileChunkPerSec
	l.newType = func(kind string) *Class {
		switch kind {
		case "MSG":
			return NewClass(msgPerSec, time.Second)
		case "FILE_CHUNK":
			return NewClass(fileChunkPerSec, time.Second)
		default:
			// Types with no documented per-type budget are unlimited here;
			// they still pass through PostAuth.
			return NewClass(1<<30, time.Second)
		}
	}
	return l
}

// AllowPerType checks (and consumes) the per-type budget for kind, creating
// its class on first use.
func (l *Limiter) AllowPerType(kind string) bool {
	l.mu.Lock()
	c, ok := l.perType[kind]
	if !ok {
		c = l.newType(kind)
		l.perType[kind] = c
	}
	l.mu.Unlock()
	return c.Allow()
}
