// Package profile is the public face of identd: an Engine that resolves
// utterances to identities and manages identity records, trust links and
// caches on top of the tiered store.
package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Siddhant-K-code/identd/pkg/cache"
	"github.com/Siddhant-K-code/identd/pkg/identity"
	"github.com/Siddhant-K-code/identd/pkg/resolver"
	"github.com/Siddhant-K-code/identd/pkg/scheduler"
	"github.com/Siddhant-K-code/identd/pkg/scoring"
	"github.com/Siddhant-K-code/identd/pkg/tier"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// SessionContext is passed through to the resolver.
type SessionContext = resolver.SessionContext

// Resolution is the detailed outcome of a resolve.
type Resolution = resolver.Result

// AnchorConfig describes the primary identity.
type AnchorConfig struct {
	ID       string
	SeedTone map[string]float64
}

// TrustConfig controls background trust decay.
type TrustConfig struct {
	DecayInterval time.Duration
	DecayRate     float64
	IdleAfter     time.Duration
}

// Config holds engine configuration.
type Config struct {
	Anchor    AnchorConfig
	Store     tier.Config
	Cache     cache.Config
	Resolver  resolver.Config
	Weights   scoring.Weights
	Scheduler scheduler.Config

	// RulesFile overrides the embedded rule table when set.
	RulesFile string

	// CleanupInterval is how often foreign entries and expired cache
	// entries are reclaimed. Zero disables the background job.
	CleanupInterval time.Duration

	Trust TrustConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Anchor:          AnchorConfig{ID: "anchor"},
		Store:           tier.DefaultConfig(),
		Cache:           cache.DefaultConfig(),
		Resolver:        resolver.DefaultConfig(),
		Weights:         scoring.DefaultWeights(),
		Scheduler:       scheduler.DefaultConfig(),
		CleanupInterval: time.Minute,
		Trust: TrustConfig{
			DecayInterval: 0,
			DecayRate:     0.05,
			IdleAfter:     30 * 24 * time.Hour,
		},
	}
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg      Config
	store    *tier.Store
	cache    *cache.Cache
	repo     *resolver.Repo
	scorer   *scoring.Scorer
	resolver *resolver.Resolver
	sched    *scheduler.Scheduler
	logger   *zap.Logger
	clock    func() time.Time
}

// Open opens the configured store and builds an engine on it.
func Open(ctx context.Context, cfg Config, logger *zap.Logger, reg prometheus.Registerer) (*Engine, error) {
	store, err := tier.Open(cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	e, err := New(ctx, store, cfg, logger, reg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return e, nil
}

// New builds an engine on an open store, bootstraps the anchor and starts
// the background jobs. The engine takes ownership of store.
func New(ctx context.Context, store *tier.Store, cfg Config, logger *zap.Logger, reg prometheus.Registerer) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("profile")

	rules, err := scoring.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	c, err := cache.New(cfg.Cache, logger, reg)
	if err != nil {
		return nil, fmt.Errorf("build cache: %w", err)
	}

	anchor, err := store.EnsureAnchor(ctx, identity.NormalizeID(cfg.Anchor.ID), cfg.Anchor.SeedTone)
	if err != nil {
		return nil, err
	}
	cfg.Anchor.ID = anchor.ID
	cfg.Resolver.AnchorID = anchor.ID

	repo := resolver.NewRepo(store, c, logger)
	scorer := scoring.NewScorer(rules, cfg.Weights)
	sched := scheduler.New(cfg.Scheduler, logger)

	e := &Engine{
		cfg:      cfg,
		store:    store,
		cache:    c,
		repo:     repo,
		scorer:   scorer,
		resolver: resolver.New(repo, scorer, sched, cfg.Resolver, logger, reg),
		sched:    sched,
		logger:   logger,
		clock:    time.Now,
	}

	sched.Every("cleanup", cfg.CleanupInterval, func(ctx context.Context) error {
		_, err := e.RunCleanup(ctx)
		return err
	})
	sched.Every("trust-decay", cfg.Trust.DecayInterval, func(ctx context.Context) error {
		_, err := e.DecayTrust(ctx, cfg.Trust.DecayRate, cfg.Trust.IdleAfter)
		return err
	})
	sched.Start()

	logger.Info("engine ready",
		zap.String("anchor", anchor.ID),
		zap.Int("foreign_capacity", store.Foreign().Capacity()),
		zap.Duration("foreign_max_age", store.Foreign().MaxAge()),
	)
	return e, nil
}

// SetClock replaces the time source of the engine and everything it owns.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
	e.resolver.SetClock(clock)
	e.cache.SetClock(clock)
	e.store.Foreign().SetClock(clock)
}

// AnchorID returns the id of the anchor identity.
func (e *Engine) AnchorID() string { return e.cfg.Anchor.ID }

// Scorer exposes the compiled scorer.
func (e *Engine) Scorer() *scoring.Scorer { return e.scorer }

// Wait blocks until pending background tasks (clustering) are done.
func (e *Engine) Wait() { e.sched.Wait() }

// Close stops background work and closes the store.
func (e *Engine) Close() error {
	e.sched.Stop()
	return e.store.Close()
}

// Resolve returns the identity id for utterance. It never fails.
func (e *Engine) Resolve(ctx context.Context, utterance string, sess SessionContext) string {
	return e.resolver.Resolve(ctx, utterance, sess)
}

// ResolveDetailed returns the id together with how it was decided.
func (e *Engine) ResolveDetailed(ctx context.Context, utterance string, sess SessionContext) Resolution {
	return e.resolver.ResolveDetailed(ctx, utterance, sess)
}

// GetIdentity returns a copy of the identity with the given id.
func (e *Engine) GetIdentity(ctx context.Context, id string) (*identity.Identity, error) {
	id, err := resolver.CleanID(id)
	if err != nil {
		return nil, err
	}
	return e.repo.Get(ctx, id)
}

// MutateIdentity applies patch to id atomically and reports whether
// anything changed. Cached views of id are invalidated before returning.
func (e *Engine) MutateIdentity(ctx context.Context, id string, patch identity.Patch) (bool, error) {
	id, err := resolver.CleanID(id)
	if err != nil {
		return false, err
	}
	if patch.Empty() {
		if _, err := e.repo.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}

	now := e.clock().UTC()
	rec, err := e.repo.Mutate(ctx, id, func(rec *identity.Identity) error {
		rec.Apply(patch, now)
		return nil
	})
	if err != nil {
		return false, err
	}
	if rec.Tier == identity.TierForeign {
		e.resolver.ScheduleCluster(id)
	}
	return true, nil
}

// Cache returns the engine cache so other layers can share its namespaces.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// GetCacheMetrics returns cache counters.
func (e *Engine) GetCacheMetrics() cache.Metrics { return e.cache.Metrics() }

// ClearCache empties one namespace, or all when ns is empty.
func (e *Engine) ClearCache(ns cache.Namespace) error { return e.cache.Clear(ns) }

// ListAll returns every identity of a tier, or of all tiers when t is empty,
// in lookup precedence order.
func (e *Engine) ListAll(ctx context.Context, t identity.Tier) ([]*identity.Identity, error) {
	tiers := []identity.Tier{identity.TierAnchor, identity.TierEcho, identity.TierStub, identity.TierForeign}
	if t != "" {
		if !t.Valid() {
			return nil, fmt.Errorf("unknown tier %q", t)
		}
		tiers = []identity.Tier{t}
	}
	var out []*identity.Identity
	for _, tt := range tiers {
		recs, err := e.store.ReadAll(ctx, tt)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

// CleanupReport summarizes one cleanup pass.
type CleanupReport struct {
	ForeignEvicted []string `json:"foreign_evicted"`
	CacheSwept     int      `json:"cache_swept"`
}

// RunCleanup evicts expired and excess foreign entries and sweeps expired
// cache entries.
func (e *Engine) RunCleanup(ctx context.Context) (*CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	evicted := e.store.Foreign().Cleanup(e.clock())
	e.repo.Invalidate(evicted...)
	report := &CleanupReport{
		ForeignEvicted: evicted,
		CacheSwept:     e.cache.Sweep(),
	}
	if len(evicted) > 0 || report.CacheSwept > 0 {
		e.logger.Debug("cleanup pass",
			zap.Int("foreign_evicted", len(evicted)),
			zap.Int("cache_swept", report.CacheSwept),
		)
	}
	return report, nil
}

func notFoundIsNil(err error) error {
	if errors.Is(err, identity.ErrNotFound) {
		return nil
	}
	return err
}
