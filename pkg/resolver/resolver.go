// Package resolver decides which identity an utterance belongs to.
//
// Resolution is a fixed pipeline of stages, each of which either settles
// the identity or passes on:
//
//	override -> lock -> anchor -> echo -> stub -> foreign
//
// The foreign stage always settles, creating a new visitor if nothing
// matches, and schedules a clustering check that may promote a group of
// similar visitors into a durable echo identity.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Siddhant-K-code/identd/pkg/cache"
	"github.com/Siddhant-K-code/identd/pkg/identity"
	"github.com/Siddhant-K-code/identd/pkg/scheduler"
	"github.com/Siddhant-K-code/identd/pkg/scoring"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Stage names the pipeline step that produced a result.
type Stage string

const (
	StageOverride Stage = "override"
	StageLock     Stage = "lock"
	StageAnchor   Stage = "anchor"
	StageEcho     Stage = "echo"
	StageStub     Stage = "stub"
	StageForeign  Stage = "foreign"
	StageFallback Stage = "fallback"
)

// SessionContext is what the conversation layer knows about the session.
type SessionContext struct {
	SessionID string `json:"session_id,omitempty"`
	Locked    bool   `json:"locked"`
	Identity  string `json:"identity,omitempty"`
}

// Result describes a resolution.
type Result struct {
	ID      string        `json:"id"`
	Tier    identity.Tier `json:"tier"`
	Stage   Stage         `json:"stage"`
	Score   float64       `json:"score"`
	Created bool          `json:"created,omitempty"`
}

// Thresholds are the minimum scores each stage accepts.
type Thresholds struct {
	Anchor  float64
	Echo    float64
	Foreign float64
	Cluster float64
}

// Config holds resolver configuration.
type Config struct {
	// AnchorID is returned whenever resolution fails.
	AnchorID string

	Thresholds Thresholds

	// Quorum is how many agreeing peers a foreign entry needs before its
	// cluster is promoted.
	Quorum int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		AnchorID: "anchor",
		Thresholds: Thresholds{
			Anchor:  0.55,
			Echo:    0.5,
			Foreign: 0.8,
			Cluster: 0.6,
		},
		Quorum: 2,
	}
}

// Resolver is safe for concurrent use.
type Resolver struct {
	repo      *Repo
	scorer    *scoring.Scorer
	sched     *scheduler.Scheduler
	clusterer *Clusterer
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer
	metrics   *metrics
	clock     func() time.Time
}

// New creates a resolver. With a nil scheduler clustering runs inline.
func New(repo *Repo, scorer *scoring.Scorer, sched *scheduler.Scheduler, cfg Config, logger *zap.Logger, reg prometheus.Registerer) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Quorum <= 0 {
		cfg.Quorum = DefaultConfig().Quorum
	}
	m := newMetrics(reg)
	r := &Resolver{
		repo:    repo,
		scorer:  scorer,
		sched:   sched,
		cfg:     cfg,
		logger:  logger.Named("resolver"),
		tracer:  otel.Tracer("github.com/Siddhant-K-code/identd/pkg/resolver"),
		metrics: m,
		clock:   time.Now,
	}
	r.clusterer = &Clusterer{
		repo:      repo,
		scorer:    scorer,
		threshold: cfg.Thresholds.Cluster,
		quorum:    cfg.Quorum,
		logger:    r.logger.Named("cluster"),
		metrics:   m,
	}
	return r
}

// SetClock replaces the time source.
func (r *Resolver) SetClock(clock func() time.Time) { r.clock = clock }

// Resolve returns the id the utterance belongs to. It never fails; on
// any error the anchor id is returned.
func (r *Resolver) Resolve(ctx context.Context, utterance string, sess SessionContext) string {
	return r.ResolveDetailed(ctx, utterance, sess).ID
}

// ResolveDetailed is Resolve with the deciding stage, tier and score.
func (r *Resolver) ResolveDetailed(ctx context.Context, utterance string, sess SessionContext) (res Result) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "resolver.resolve")
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("resolution panicked, falling back to anchor", zap.Any("panic", p))
			res = r.fallback()
		}
		span.SetAttributes(
			attribute.String("identd.stage", string(res.Stage)),
			attribute.String("identd.id", res.ID),
			attribute.Float64("identd.score", res.Score),
		)
		span.End()
		r.metrics.resolutions.WithLabelValues(string(res.Stage)).Inc()
		r.metrics.duration.Observe(time.Since(start).Seconds())
	}()

	res, err := r.resolve(ctx, utterance, sess)
	if err != nil {
		span.RecordError(err)
		r.logger.Warn("resolution failed, falling back to anchor", zap.Error(err))
		return r.fallback()
	}
	r.logger.Debug("resolved",
		zap.String("id", res.ID),
		zap.String("stage", string(res.Stage)),
		zap.Float64("score", res.Score),
	)
	return res
}

func (r *Resolver) fallback() Result {
	r.metrics.fallbacks.Inc()
	return Result{ID: r.cfg.AnchorID, Tier: identity.TierAnchor, Stage: StageFallback}
}

func (r *Resolver) resolve(ctx context.Context, utterance string, sess SessionContext) (Result, error) {
	input := strings.TrimSpace(utterance)
	now := r.clock().UTC()

	ov := r.scorer.Override(input)
	excluded := make(map[string]bool, len(ov.Negated))
	for _, id := range ov.Negated {
		excluded[identity.NormalizeID(id)] = true
	}

	if ov.Fired() {
		if res, ok, err := r.overrideStage(ctx, ov.ID, input, now, excluded); ok || err != nil {
			return res, err
		}
	}
	if res, ok := r.lockStage(ctx, sess, excluded); ok {
		return res, nil
	}
	if res, ok := r.anchorStage(ctx, input, excluded); ok {
		return res, nil
	}
	if res, ok, err := r.echoStage(ctx, input, excluded); ok || err != nil {
		return res, err
	}
	if res, ok := r.stubStage(ctx, input, excluded); ok {
		return res, nil
	}
	return r.foreignStage(ctx, input, now, excluded)
}

func (r *Resolver) overrideStage(ctx context.Context, rawID, input string, now time.Time, excluded map[string]bool) (Result, bool, error) {
	id, err := CleanID(rawID)
	if err != nil || excluded[id] {
		r.logger.Debug("ignoring unusable override", zap.String("id", rawID))
		return Result{}, false, nil
	}

	rec, err := r.repo.Get(ctx, id)
	switch {
	case err == nil:
		return Result{ID: rec.ID, Tier: rec.Tier, Stage: StageOverride, Score: 1}, true, nil
	case errors.Is(err, identity.ErrNotFound):
		rec := newForeign(id, input, now)
		if err := r.repo.Create(ctx, rec); err != nil {
			return Result{}, false, fmt.Errorf("create override target %s: %w", id, err)
		}
		r.logger.Info("override created foreign identity", zap.String("id", id))
		return Result{ID: id, Tier: identity.TierForeign, Stage: StageOverride, Score: 1, Created: true}, true, nil
	default:
		return Result{}, false, err
	}
}

func (r *Resolver) lockStage(ctx context.Context, sess SessionContext, excluded map[string]bool) (Result, bool) {
	if !sess.Locked || sess.Identity == "" {
		return Result{}, false
	}
	id := identity.NormalizeID(sess.Identity)
	if excluded[id] {
		return Result{}, false
	}
	rec, err := r.repo.Get(ctx, id)
	if err != nil {
		r.logger.Warn("session locked to unknown identity, ignoring lock",
			zap.String("session", sess.SessionID),
			zap.String("id", id),
			zap.Error(err),
		)
		return Result{}, false
	}
	return Result{ID: rec.ID, Tier: rec.Tier, Stage: StageLock, Score: 1}, true
}

func (r *Resolver) anchorStage(ctx context.Context, input string, excluded map[string]bool) (Result, bool) {
	if excluded[r.cfg.AnchorID] {
		return Result{}, false
	}
	anchor, err := r.repo.Get(ctx, r.cfg.AnchorID)
	if err != nil {
		r.logger.Warn("anchor unavailable", zap.String("id", r.cfg.AnchorID), zap.Error(err))
		return Result{}, false
	}

	fp := scoring.FingerprintOf(anchor)
	score := r.score(input, anchor)
	threshold := r.scorer.Threshold(input, fp, r.cfg.Thresholds.Anchor)
	if score >= threshold || r.scorer.SpecialHit(input, fp) {
		return Result{ID: anchor.ID, Tier: identity.TierAnchor, Stage: StageAnchor, Score: score}, true
	}
	return Result{}, false
}

func (r *Resolver) echoStage(ctx context.Context, input string, excluded map[string]bool) (Result, bool, error) {
	ids, err := r.repo.Store().List(ctx, identity.TierEcho)
	if err != nil {
		return Result{}, false, err
	}

	var cands []candidate
	for _, id := range ids {
		if excluded[id] {
			continue
		}
		rec, err := r.repo.Get(ctx, id)
		if err != nil {
			continue
		}
		score := r.score(input, rec)
		if score >= r.scorer.Threshold(input, scoring.FingerprintOf(rec), r.cfg.Thresholds.Echo) {
			cands = append(cands, candidate{rec: rec, score: score})
		}
	}
	best, ok := pickBest(cands)
	if !ok {
		return Result{}, false, nil
	}
	return Result{ID: best.rec.ID, Tier: identity.TierEcho, Stage: StageEcho, Score: best.score}, true, nil
}

func (r *Resolver) stubStage(ctx context.Context, input string, excluded map[string]bool) (Result, bool) {
	for _, name := range r.scorer.Names(input) {
		id, err := CleanID(name)
		if err != nil || excluded[id] {
			continue
		}
		rec, err := r.repo.Get(ctx, id)
		if err != nil || rec.Tier != identity.TierStub {
			continue
		}
		return Result{ID: rec.ID, Tier: identity.TierStub, Stage: StageStub, Score: 1}, true
	}
	return Result{}, false
}

func (r *Resolver) foreignStage(ctx context.Context, input string, now time.Time, excluded map[string]bool) (Result, error) {
	arena := r.repo.Store().Foreign()
	for _, id := range arena.Cleanup(now) {
		r.repo.Invalidate(id)
	}

	var cands []candidate
	for _, rec := range arena.Snapshot() {
		if excluded[rec.ID] {
			continue
		}
		if score := r.score(input, rec); score >= r.cfg.Thresholds.Foreign {
			cands = append(cands, candidate{rec: rec, score: score})
		}
	}

	if best, ok := pickBest(cands); ok {
		_, err := r.repo.Mutate(ctx, best.rec.ID, func(rec *identity.Identity) error {
			rec.Apply(interactionPatch(input), now)
			return nil
		})
		if err == nil {
			r.scheduleCluster(best.rec.ID)
			return Result{ID: best.rec.ID, Tier: identity.TierForeign, Stage: StageForeign, Score: best.score}, nil
		}
		if !errors.Is(err, identity.ErrNotFound) {
			return Result{}, err
		}
		// The match expired under us; treat the visitor as new.
	}

	id, err := r.newID(ctx, "visitor")
	if err != nil {
		return Result{}, err
	}
	rec := newForeign(id, input, now)
	if err := r.repo.Create(ctx, rec); err != nil {
		return Result{}, err
	}
	r.scheduleCluster(id)
	return Result{ID: id, Tier: identity.TierForeign, Stage: StageForeign, Created: true}, nil
}

// ScheduleCluster queues a clustering check for the foreign entry id.
func (r *Resolver) ScheduleCluster(id string) { r.scheduleCluster(id) }

func (r *Resolver) scheduleCluster(id string) {
	task := func(ctx context.Context) error {
		_, err := r.clusterer.Check(ctx, id)
		return err
	}
	if r.sched == nil {
		if err := task(context.Background()); err != nil {
			r.logger.Warn("clustering failed", zap.String("id", id), zap.Error(err))
		}
		return
	}
	if err := r.sched.Defer("cluster:"+id, task); err != nil {
		r.logger.Debug("clustering not scheduled", zap.String("id", id), zap.Error(err))
	}
}

func (r *Resolver) score(input string, rec *identity.Identity) float64 {
	return memoScore(r.repo.Cache(), r.scorer, input, rec)
}

func (r *Resolver) newID(ctx context.Context, prefix string) (string, error) {
	return uniqueID(ctx, r.repo, prefix)
}

// memoScore scores input against rec through the similarity cache. The key
// carries the fingerprint digest, so a fill racing a mutation of rec can
// never be served for the mutated record.
func memoScore(c *cache.Cache, s *scoring.Scorer, input string, rec *identity.Identity) float64 {
	fp := scoring.FingerprintOf(rec)
	key := cache.SimilarityKey(rec.ID, fp.Digest(), input)
	if v, ok := cache.GetAs[float64](c, key); ok {
		return v
	}
	score := s.Score(input, fp)
	c.Set(key, score)
	return score
}

// uniqueID returns prefix-<8 hex> not used by any tier.
func uniqueID(ctx context.Context, repo *Repo, prefix string) (string, error) {
	for attempt := 0; attempt < 8; attempt++ {
		id := prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		_, err := repo.Store().Lookup(ctx, id)
		if errors.Is(err, identity.ErrNotFound) {
			return id, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("could not allocate a free %s id", prefix)
}

func interactionPatch(input string) identity.Patch {
	return identity.Patch{
		AppendPatterns: []identity.Pattern{{Event: "utterance", Note: input}},
		BumpRecurrence: true,
		ToneSample:     input,
		VoiceSample:    input,
	}
}

func newForeign(id, input string, now time.Time) *identity.Identity {
	rec := identity.New(id, identity.TierForeign, now)
	rec.ToneBaseline = identity.ExtractTone(input)
	rec.VoiceHash = identity.VoiceHash(input)
	rec.AppendPattern(identity.Pattern{Event: "utterance", Note: input, At: now})
	rec.Touch(now)
	return rec
}

type candidate struct {
	rec   *identity.Identity
	score float64
}

// pickBest orders by score, then most recent lastSeen, then smallest id.
func pickBest(cands []candidate) (candidate, bool) {
	if len(cands) == 0 {
		return candidate{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if better(c, best) {
			best = c
		}
	}
	return best, true
}

func better(a, b candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if !a.rec.LastSeen.Equal(b.rec.LastSeen) {
		return a.rec.LastSeen.After(b.rec.LastSeen)
	}
	return a.rec.ID < b.rec.ID
}
