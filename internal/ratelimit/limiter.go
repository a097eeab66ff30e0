// Package ratelimit implements per-client sliding-window query limiting.
package ratelimit

import (
	"net"
	"sync"
	"time"
)

// Config holds sliding-window rate limiter configuration.
type Config struct {
	// MaxQPS is the maximum number of queries a single client may send
	// within Window. A MaxQPS of 0 denies every query.
	MaxQPS uint32

	// Window is the sliding window duration (original default: 1 second).
	Window time.Duration

	// CleanupInterval is how often stale client entries are purged.
	CleanupInterval time.Duration

	// ExemptNets lists CIDRs that bypass rate limiting entirely.
	ExemptNets []*net.IPNet
}

// DefaultConfig returns the original sliding-window defaults: 1-second
// window, 60-second cleanup sweep.
func DefaultConfig() Config {
	return Config{
		MaxQPS:          100,
		Window:          time.Second,
		CleanupInterval: 60 * time.Second,
	}
}

type clientState struct {
	queries []time.Time
}

// Limiter tracks recent query timestamps per client IP and rejects clients
// that exceed MaxQPS within the sliding window.
type Limiter struct {
	mu          sync.Mutex
	clients     map[string]*clientState
	cfg         Config
	lastCleanup time.Time
}

// NewLimiter creates a Limiter from cfg.
func NewLimiter(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 60 * time.Second
	}
	return &Limiter{
		clients:     make(map[string]*clientState),
		cfg:         cfg,
		lastCleanup: time.Now(),
	}
}

// Allow reports whether a query from ip should be permitted, recording the
// query against ip's window when it is.
func (l *Limiter) Allow(ip net.IP) bool {
	if l.isExempt(ip) {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastCleanup) > l.cfg.CleanupInterval {
		l.cleanupLocked()
		l.lastCleanup = time.Now()
	}

	key := ip.String()
	client, ok := l.clients[key]
	if !ok {
		client = &clientState{}
		l.clients[key] = client
	}

	now := time.Now()
	client.queries = pruneBefore(client.queries, now.Add(-l.cfg.Window))

	if uint32(len(client.queries)) >= l.cfg.MaxQPS {
		return false
	}

	client.queries = append(client.queries, now)
	return true
}

func (l *Limiter) isExempt(ip net.IP) bool {
	for _, n := range l.cfg.ExemptNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// cleanupLocked purges clients with no queries left inside the window. The
// caller must hold l.mu.
func (l *Limiter) cleanupLocked() {
	now := time.Now()
	cutoff := now.Add(-l.cfg.Window)
	for key, client := range l.clients {
		client.queries = pruneBefore(client.queries, cutoff)
		if len(client.queries) == 0 {
			delete(l.clients, key)
		}
	}
}

// TrackedClients reports how many client IPs currently have state, for
// tests and diagnostics.
func (l *Limiter) TrackedClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func pruneBefore(queries []time.Time, cutoff time.Time) []time.Time {
	kept := queries[:0]
	for _, ts := range queries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
