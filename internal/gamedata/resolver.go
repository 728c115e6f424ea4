package gamedata

import (
	"context"
	"errors"
	"sync"
	"time"

	"clanwatch/internal/reminder"
	logx "clanwatch/pkg/logx"
)

type ResolverConfig struct {
	// TTL bounds how long a fetched cycle (or a no-cycle answer) is reused.
	// Tens of seconds: long enough to collapse one tick's worth of lookups
	// for the same group, short enough that progress fields stay fresh.
	TTL time.Duration
}

type cacheKey struct {
	family reminder.EventFamily
	group  reminder.GroupRef
}

type cacheEntry struct {
	cycle   reminder.Cycle
	noCycle bool
	at      time.Time
}

// Resolver wraps the game-data client with a short-TTL cache keyed by
// (family, group). It is constructed once per process and passed by
// reference; there is no package-level instance.
type Resolver struct {
	client Client
	log    logx.Logger

	mu      sync.Mutex
	ttl     time.Duration
	entries map[cacheKey]cacheEntry

	now func() time.Time
}

func NewResolver(client Client, cfg ResolverConfig, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Resolver{
		client:  client,
		log:     log,
		ttl:     ttl,
		entries: map[cacheKey]cacheEntry{},
		now:     time.Now,
	}
}

// Apply updates the cache TTL at runtime.
func (r *Resolver) Apply(cfg ResolverConfig) {
	if cfg.TTL <= 0 {
		return
	}
	r.mu.Lock()
	r.ttl = cfg.TTL
	r.mu.Unlock()
}

// Resolve returns the live cycle for the group, ErrNoCycle when none is
// running, or ErrUnavailable when upstream failed. No-cycle answers are
// cached like hits; unavailability is never cached.
func (r *Resolver) Resolve(ctx context.Context, f reminder.EventFamily, g reminder.GroupRef) (reminder.Cycle, error) {
	key := cacheKey{family: f, group: g}
	now := r.now()

	r.mu.Lock()
	ttl := r.ttl
	if e, ok := r.entries[key]; ok && now.Sub(e.at) < ttl {
		r.mu.Unlock()
		if e.noCycle {
			return reminder.Cycle{}, ErrNoCycle
		}
		return e.cycle, nil
	}
	r.mu.Unlock()

	c, err := r.client.ActiveCycle(ctx, f, g)
	switch {
	case err == nil:
		if c.ID == "" {
			c.ID = reminder.CycleID(f, g, c.StartsAt)
		}
		r.put(key, cacheEntry{cycle: c, at: now})
		return c, nil
	case errors.Is(err, ErrNoCycle):
		r.put(key, cacheEntry{noCycle: true, at: now})
		return reminder.Cycle{}, ErrNoCycle
	case errors.Is(err, ErrUnavailable):
		return reminder.Cycle{}, err
	default:
		// Unclassified client errors count as unavailability, not absence.
		r.log.Debug("cycle fetch failed", logx.String("family", string(f)), logx.String("group", string(g)), logx.Err(err))
		return reminder.Cycle{}, errors.Join(ErrUnavailable, err)
	}
}

func (r *Resolver) put(key cacheKey, e cacheEntry) {
	r.mu.Lock()
	r.entries[key] = e

	// Opportunistic eviction keeps the map bounded without a sweeper goroutine.
	if len(r.entries) > 4096 {
		cutoff := e.at.Add(-r.ttl)
		for k, old := range r.entries {
			if old.at.Before(cutoff) {
				delete(r.entries, k)
			}
		}
	}
	r.mu.Unlock()
}
