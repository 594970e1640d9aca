// Package admin implements the allowlist gate and the shared-secret admin
// operations (ADMIN_KICK, ADMIN_BAN, ADMIN_UNBAN), with the ban list and
// allowlist both persisted as atomically-written JSON files.
package admin

import (
	"crypto/subtle"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Allowlist gates IDENTIFY admission when enabled: only a listed pubkey (hex)
// or ephemeral nick may proceed.
type Allowlist struct {
	mu      sync.RWMutex
	enabled bool
	pubkeys map[string]bool
	path    string
}

// NewAllowlist loads path (a JSON array of hex pubkeys) if enabled.
func NewAllowlist(enabled bool, path string) (*Allowlist, error) {
	a := &Allowlist{enabled: enabled, pubkeys: make(map[string]bool), path: path}
	if !enabled || path == "" {
		return a, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return a, nil
	}
	if err != nil {
		return nil, err
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, err
	}
	for _, k := range keys {
		a.pubkeys[k] = true
	}
	return a, nil
}

// Allowed reports whether pubkeyHex may IDENTIFY. Always true when the
// allowlist is disabled.
func (a *Allowlist) Allowed(pubkeyHex string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.enabled {
		return true
	}
	return a.pubkeys[pubkeyHex]
}

// Enabled reports whether the allowlist gate is active.
func (a *Allowlist) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// BanList is the persistent set of banned agent/stable ids, checked at
// IDENTIFY/VERIFY_IDENTITY time and enforced immediately against any live
// connection on ADMIN_BAN.
type BanList struct {
	mu      sync.Mutex
	banned  map[string]bool
	path    string
}

// NewBanList loads path (a JSON array of banned ids), creating an empty one
// if it does not yet exist.
func NewBanList(path string) (*BanList, error) {
	b := &BanList{banned: make(map[string]bool), path: path}
	if path == "" {
		return b, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return b, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	for _, id := range ids {
		b.banned[id] = true
	}
	return b, nil
}

// Banned reports whether id is on the ban list.
func (b *BanList) Banned(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.banned[id]
}

// Ban adds id to the list and persists it atomically.
func (b *BanList) Ban(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.banned[id] = true
	return b.persistLocked()
}

// Unban removes id from the list and persists it atomically.
func (b *BanList) Unban(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.banned, id)
	return b.persistLocked()
}

func (b *BanList) persistLocked() error {
	if b.path == "" {
		return nil
	}
	ids := make([]string, 0, len(b.banned))
	for id := range b.banned {
		ids = append(ids, id)
	}
	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, ".banlist-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, b.path)
}

// KeyMatches compares an admin-supplied key against the configured shared
// secret in constant time.
func KeyMatches(configured, supplied string) bool {
	if configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(supplied)) == 1
}
