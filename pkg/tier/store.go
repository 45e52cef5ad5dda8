package tier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Siddhant-K-code/identd/pkg/identity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// lookupOrder is the precedence used when the tier of an id is unknown.
var lookupOrder = []identity.Tier{
	identity.TierAnchor,
	identity.TierEcho,
	identity.TierStub,
	identity.TierForeign,
}

// Store routes records to the durable backend or the foreign arena and
// enforces the tier rules: one tier per id, the anchor is never deleted,
// and foreign records only leave the arena through Promote.
type Store struct {
	durable Durable
	foreign *ForeignArena
	logger  *zap.Logger
	tracer  trace.Tracer
	onEvict func(id string)
}

// NewStore wraps an open durable backend.
func NewStore(durable Durable, cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		durable: durable,
		foreign: NewForeignArena(cfg.ForeignCapacity, cfg.ForeignMaxAge),
		logger:  logger.Named("tier"),
		tracer:  otel.Tracer("github.com/Siddhant-K-code/identd/pkg/tier"),
	}
}

// Open opens the configured backend and wraps it.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	d, err := OpenDurable(cfg)
	if err != nil {
		return nil, err
	}
	return NewStore(d, cfg, logger), nil
}

// OnEvict registers fn to be called with each foreign id evicted to make
// room for a new one.
func (s *Store) OnEvict(fn func(id string)) { s.onEvict = fn }

// Foreign exposes the in-memory arena.
func (s *Store) Foreign() *ForeignArena { return s.foreign }

// Close closes the durable backend.
func (s *Store) Close() error { return s.durable.Close() }

func (s *Store) startSpan(ctx context.Context, op string, t identity.Tier, id string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "tier."+op, trace.WithAttributes(
		attribute.String("identd.tier", string(t)),
		attribute.String("identd.id", id),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, identity.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Read fetches one record. Malformed durable records are logged and
// reported as not found.
func (s *Store) Read(ctx context.Context, t identity.Tier, id string) (rec *identity.Identity, err error) {
	ctx, span := s.startSpan(ctx, "read", t, id)
	defer func() { endSpan(span, err) }()

	return s.read(ctx, t, id)
}

func (s *Store) read(ctx context.Context, t identity.Tier, id string) (*identity.Identity, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown tier %q", t)
	}
	if t == identity.TierForeign {
		rec, ok := s.foreign.Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s/%s", identity.ErrNotFound, t, id)
		}
		return rec, nil
	}

	rec, err := s.durable.Read(ctx, t, id)
	if errors.Is(err, identity.ErrMalformedRecord) {
		s.logger.Warn("skipping malformed record",
			zap.String("tier", string(t)),
			zap.String("id", id),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", identity.ErrNotFound, err)
	}
	return rec, err
}

// Lookup finds id in the first tier that holds it, in the order
// anchor, echo, stub, foreign.
func (s *Store) Lookup(ctx context.Context, id string) (rec *identity.Identity, err error) {
	ctx, span := s.startSpan(ctx, "lookup", "", id)
	defer func() { endSpan(span, err) }()

	for _, t := range lookupOrder {
		rec, err := s.read(ctx, t, id)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, identity.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", identity.ErrNotFound, id)
}

// Write stores rec under its tier. A record whose id already lives in a
// different tier is rejected with ErrTierConflict.
func (s *Store) Write(ctx context.Context, rec *identity.Identity) (err error) {
	if rec == nil {
		return fmt.Errorf("%w: nil record", identity.ErrMalformedRecord)
	}
	ctx, span := s.startSpan(ctx, "write", rec.Tier, rec.ID)
	defer func() { endSpan(span, err) }()

	if err := rec.Validate(); err != nil {
		return err
	}
	if err := s.checkTierConflict(ctx, rec.Tier, rec.ID); err != nil {
		return err
	}
	return s.write(ctx, rec)
}

func (s *Store) write(ctx context.Context, rec *identity.Identity) error {
	if rec.Tier != identity.TierForeign {
		return s.durable.Write(ctx, rec)
	}
	evicted, err := s.foreign.Put(rec)
	if err != nil {
		return err
	}
	for _, id := range evicted {
		s.logger.Debug("foreign arena full, evicted oldest", zap.String("id", id))
		if s.onEvict != nil {
			s.onEvict(id)
		}
	}
	return nil
}

func (s *Store) checkTierConflict(ctx context.Context, t identity.Tier, id string) error {
	for _, other := range lookupOrder {
		if other == t {
			continue
		}
		_, err := s.read(ctx, other, id)
		if err == nil {
			return fmt.Errorf("%w: %s is %s, not %s", identity.ErrTierConflict, id, other, t)
		}
		if !errors.Is(err, identity.ErrNotFound) {
			return err
		}
	}
	return nil
}

// Delete removes a record. The anchor can never be deleted.
func (s *Store) Delete(ctx context.Context, t identity.Tier, id string) (err error) {
	ctx, span := s.startSpan(ctx, "delete", t, id)
	defer func() { endSpan(span, err) }()

	switch t {
	case identity.TierAnchor:
		return fmt.Errorf("%w: delete %s", identity.ErrPermissionDenied, id)
	case identity.TierForeign:
		if !s.foreign.Delete(id) {
			return fmt.Errorf("%w: %s/%s", identity.ErrNotFound, t, id)
		}
		return nil
	default:
		return s.durable.Delete(ctx, t, id)
	}
}

// List returns the ids stored in a tier, sorted.
func (s *Store) List(ctx context.Context, t identity.Tier) ([]string, error) {
	if t == identity.TierForeign {
		snap := s.foreign.Snapshot()
		ids := make([]string, 0, len(snap))
		for _, rec := range snap {
			ids = append(ids, rec.ID)
		}
		return ids, nil
	}
	return s.durable.List(ctx, t)
}

// ReadAll returns every readable record of a tier. Records that fail to
// decode are logged and skipped.
func (s *Store) ReadAll(ctx context.Context, t identity.Tier) ([]*identity.Identity, error) {
	if t == identity.TierForeign {
		return s.foreign.Snapshot(), nil
	}
	ids, err := s.durable.List(ctx, t)
	if err != nil {
		return nil, err
	}
	out := make([]*identity.Identity, 0, len(ids))
	for _, id := range ids {
		rec, err := s.read(ctx, t, id)
		if err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Promote persists echo and then removes the foreign entries it absorbed.
// Foreign ids that are already gone are ignored. If the echo write fails
// nothing is removed.
func (s *Store) Promote(ctx context.Context, echo *identity.Identity, foreignIDs []string) (err error) {
	if echo == nil {
		return fmt.Errorf("%w: nil record", identity.ErrMalformedRecord)
	}
	ctx, span := s.startSpan(ctx, "promote", identity.TierEcho, echo.ID)
	span.SetAttributes(attribute.Int("identd.absorbed", len(foreignIDs)))
	defer func() { endSpan(span, err) }()

	if echo.Tier != identity.TierEcho {
		return fmt.Errorf("%w: promotion target must be echo, got %s", identity.ErrTierConflict, echo.Tier)
	}
	if err := echo.Validate(); err != nil {
		return err
	}
	for _, t := range []identity.Tier{identity.TierAnchor, identity.TierStub} {
		if _, err := s.read(ctx, t, echo.ID); err == nil {
			return fmt.Errorf("%w: %s is %s", identity.ErrTierConflict, echo.ID, t)
		}
	}

	if err := s.durable.Write(ctx, echo); err != nil {
		return err
	}
	for _, id := range foreignIDs {
		if !s.foreign.Delete(id) {
			s.logger.Debug("promoted foreign entry already gone", zap.String("id", id))
		}
	}
	s.logger.Info("promoted foreign cluster",
		zap.String("echo", echo.ID),
		zap.Strings("absorbed", foreignIDs),
	)
	return nil
}

// Anchor returns the anchor record, if one exists.
func (s *Store) Anchor(ctx context.Context) (*identity.Identity, error) {
	ids, err := s.durable.List(ctx, identity.TierAnchor)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no anchor", identity.ErrNotFound)
	}
	return s.read(ctx, identity.TierAnchor, ids[0])
}

// EnsureAnchor returns the existing anchor or creates one with id and the
// given tone baseline. An existing anchor is kept even if its id differs.
func (s *Store) EnsureAnchor(ctx context.Context, id string, seedTone map[string]float64) (*identity.Identity, error) {
	existing, err := s.Anchor(ctx)
	if err == nil {
		if existing.ID != id {
			s.logger.Warn("configured anchor id differs from stored anchor",
				zap.String("configured", id),
				zap.String("stored", existing.ID),
			)
		}
		return existing, nil
	}
	if !errors.Is(err, identity.ErrNotFound) {
		return nil, err
	}

	if err := identity.ValidateID(id); err != nil {
		return nil, err
	}
	rec := identity.New(id, identity.TierAnchor, time.Now().UTC())
	for k, v := range seedTone {
		rec.ToneBaseline[k] = v
	}
	if err := s.Write(ctx, rec); err != nil {
		return nil, fmt.Errorf("bootstrap anchor: %w", err)
	}
	s.logger.Info("bootstrapped anchor identity", zap.String("id", id))
	return rec, nil
}
