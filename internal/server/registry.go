package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playperu/stamprally/internal/app"
	"github.com/playperu/stamprally/internal/catalog"
	"github.com/playperu/stamprally/internal/metrics"
	"github.com/playperu/stamprally/internal/stamprally"
	"github.com/playperu/stamprally/internal/stamps"
	"github.com/playperu/stamprally/internal/unlock"
)

// Registry lazily opens one application context per player. Players idle
// past the TTL given to Evict or Run are dropped; their stamps reload from
// the backend on the next request and provisional unlocks relock.
type Registry struct {
	catalog *catalog.Catalog
	backend stamps.Backend
	opts    app.Options
	broker  *Broker
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	players map[string]*player
}

type player struct {
	app      *app.App
	lastSeen atomic.Int64 // unix nanoseconds
}

func (p *player) touch(t time.Time) { p.lastSeen.Store(t.UnixNano()) }

func NewRegistry(cat *catalog.Catalog, backend stamps.Backend, opts app.Options, broker *Broker, logger *slog.Logger) *Registry {
	return &Registry{
		catalog: cat,
		backend: backend,
		opts:    opts,
		broker:  broker,
		logger:  logger,
		now:     time.Now,
		players: make(map[string]*player),
	}
}

func (r *Registry) Get(ctx context.Context, playerID string) (*app.App, error) {
	r.mu.RLock()
	p, ok := r.players[playerID]
	r.mu.RUnlock()
	if ok {
		p.touch(r.now())
		return p.app, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock.
	if p, ok := r.players[playerID]; ok {
		p.touch(r.now())
		return p.app, nil
	}

	a, err := r.open(ctx, playerID)
	if err != nil {
		return nil, err
	}
	p = &player{app: a}
	p.touch(r.now())
	r.players[playerID] = p
	metrics.ActivePlayers.Inc()
	return a, nil
}

// Evict drops players not seen for longer than ttl and returns how many
// were dropped. A player with an open event stream is kept.
func (r *Registry) Evict(ttl time.Duration) int {
	cutoff := r.now().Add(-ttl).UnixNano()

	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	for id, p := range r.players {
		if p.lastSeen.Load() >= cutoff || r.broker.Subscribed(id) {
			continue
		}
		delete(r.players, id)
		metrics.ActivePlayers.Dec()
		n++
	}
	return n
}

// Run evicts idle players every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval, ttl time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Evict(ttl); n > 0 {
				r.logger.Info("evicted idle players", "count", n, "remaining", r.Len())
			}
		}
	}
}

func (r *Registry) open(ctx context.Context, playerID string) (*app.App, error) {
	logger := r.logger.With("player", playerID)

	store, err := stamps.Open(ctx, r.backend, playerID, logger)
	if err != nil {
		return nil, fmt.Errorf("opening stamps for %q: %w", playerID, err)
	}

	opts := r.opts
	opts.Notify = func(t unlock.Transition) {
		ev := Event{
			Type:   "state_changed",
			SpotID: t.SpotID,
			From:   t.From,
			To:     t.To,
		}
		if t.To == stamprally.StateStamped {
			ev.Type = "stamp_acquired"
		}
		r.broker.Publish(playerID, ev)
	}
	return app.New(r.catalog, store, opts, logger), nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}
