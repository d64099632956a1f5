// Package directory resolves character identifiers to display names and
// voice parameters. Lookups go through an ordered chain of backend tiers
// (current API first, legacy API second) and land in an in-memory cache whose
// lifetime is tied to the session: it is flushed on disconnect, never by TTL.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxtale/voxtale/internal/backend"
	"github.com/voxtale/voxtale/internal/observe"
	"github.com/voxtale/voxtale/internal/resilience"
)

// Availability says whether a character currently accepts conversations.
type Availability int

const (
	Active Availability = iota
	Inactive
)

func (a Availability) String() string {
	if a == Inactive {
		return "inactive"
	}
	return "active"
}

// Profile describes one resolved character. VoiceID is empty when the
// profile came from the legacy tier, which does not carry voice parameters.
type Profile struct {
	CharacterID  int
	DisplayName  string
	VoiceID      string
	Availability Availability
}

// API is the subset of backend operations the directory uses.
type API interface {
	Character(ctx context.Context, characterID int) (backend.CharacterData, error)
	LegacyCharacter(ctx context.Context, characterID int) (backend.LegacyCharacterReply, error)
}

// Tier names, in resolution order.
const (
	TierCurrent = "current"
	TierLegacy  = "legacy"
)

// resolverFunc is one resolution strategy in the chain.
type resolverFunc func(ctx context.Context, characterID int) (Profile, error)

// Config configures a [Directory].
type Config struct {
	// API is the backend client used for lookups.
	API API

	// Metrics receives resolution latency. May be nil.
	Metrics *observe.Metrics

	// CircuitBreaker configures the per-tier breakers. Zero values use the
	// chain defaults.
	CircuitBreaker resilience.CircuitBreakerConfig
}

// Directory is the character resolution service.
//
// All methods are safe for concurrent use.
type Directory struct {
	chain   *resilience.Chain[resolverFunc]
	metrics *observe.Metrics

	mu    sync.RWMutex
	cache map[int]Profile
}

// New creates a [Directory] with the fixed current-then-legacy tier order.
func New(cfg Config) (*Directory, error) {
	if cfg.API == nil {
		return nil, fmt.Errorf("directory: an API client is required")
	}

	d := &Directory{
		metrics: cfg.Metrics,
		cache:   make(map[int]Profile),
	}

	d.chain = resilience.NewChain[resolverFunc](resilience.ChainConfig{
		CircuitBreaker: cfg.CircuitBreaker,
	})
	d.chain.Add(TierCurrent, func(ctx context.Context, characterID int) (Profile, error) {
		data, err := cfg.API.Character(ctx, characterID)
		if err != nil {
			return Profile{}, err
		}
		availability := Active
		if !data.Available {
			availability = Inactive
		}
		return Profile{
			CharacterID:  data.CharacterID,
			DisplayName:  data.Name,
			VoiceID:      data.VoiceID,
			Availability: availability,
		}, nil
	})
	d.chain.Add(TierLegacy, func(ctx context.Context, characterID int) (Profile, error) {
		reply, err := cfg.API.LegacyCharacter(ctx, characterID)
		if err != nil {
			return Profile{}, err
		}
		// The legacy endpoint knows nothing about voice ids or
		// availability; the profile carries only what came back.
		return Profile{
			CharacterID:  reply.CharacterID,
			DisplayName:  reply.CharacterName,
			Availability: Active,
		}, nil
	})

	return d, nil
}

// Resolve returns the profile for characterID, from cache when possible.
// On a miss the tiers are tried in order; both failing is a terminal error.
func (d *Directory) Resolve(ctx context.Context, characterID int) (Profile, error) {
	d.mu.RLock()
	cached, ok := d.cache[characterID]
	d.mu.RUnlock()
	if ok {
		return cached, nil
	}
	return d.resolveRemote(ctx, characterID)
}

// Refresh re-resolves characterID bypassing the cache, used when voice
// parameters may have changed server-side.
func (d *Directory) Refresh(ctx context.Context, characterID int) (Profile, error) {
	return d.resolveRemote(ctx, characterID)
}

func (d *Directory) resolveRemote(ctx context.Context, characterID int) (Profile, error) {
	start := time.Now()
	profile, tierName, err := resilience.ExecuteWithResult(d.chain, func(r resolverFunc) (Profile, error) {
		return r(ctx, characterID)
	})
	if err != nil {
		return Profile{}, fmt.Errorf("directory: resolve character %d: %w", characterID, err)
	}

	if d.metrics != nil {
		d.metrics.ResolveDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("tier", tierName)))
	}
	if tierName != TierCurrent {
		slog.Warn("character resolved via fallback tier",
			"character_id", characterID,
			"tier", tierName,
		)
	}

	d.store(profile)
	return profile, nil
}

// store merges a resolved profile into the cache. The name always wins; a
// voice id is only overwritten when the new profile actually carried one, so
// a legacy-tier result does not erase a previously known voice.
func (d *Directory) store(p Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.cache[p.CharacterID]; ok && p.VoiceID == "" {
		p.VoiceID = prev.VoiceID
	}
	d.cache[p.CharacterID] = p
}

// Cached returns the cached profile for characterID without any network
// traffic.
func (d *Directory) Cached(characterID int) (Profile, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.cache[characterID]
	return p, ok
}

// Reset flushes the cache. Wired to the session manager's clear hook.
func (d *Directory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.cache)
}

// TierOrder returns the resolution tier names in the order they are tried.
func (d *Directory) TierOrder() []string {
	return d.chain.Names()
}
