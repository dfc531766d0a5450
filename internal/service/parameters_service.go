// Package service holds the configuration lifecycle of RFV parameters:
// defaults, two-phase save, delete, duplicate, listing and classification.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"
	"github.com/boddenberg/rfv-config-bfa-go/internal/infra/observability"
	"github.com/boddenberg/rfv-config-bfa-go/internal/infra/rfvapi"
	"github.com/boddenberg/rfv-config-bfa-go/internal/port"
	"github.com/boddenberg/rfv-config-bfa-go/internal/rfv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("service")

// CopySuffix is appended to the name of a duplicated configuration.
const CopySuffix = " (Cópia)"

const filiaisKey = "all"

// ParameterService orchestrates the lifecycle of RFV configurations.
type ParameterService struct {
	backend port.RFVBackend
	store   *ParameterStore
	pending port.Cache[domain.PendingSave]
	filiais port.Cache[[]domain.Filial]
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// Option customises a ParameterService.
type Option func(*ParameterService)

// WithClock overrides the clock used for "today".
func WithClock(now func() time.Time) Option {
	return func(s *ParameterService) { s.now = now }
}

// NewParameterService creates the lifecycle service.
func NewParameterService(
	backend port.RFVBackend,
	store *ParameterStore,
	pending port.Cache[domain.PendingSave],
	filiais port.Cache[[]domain.Filial],
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts ...Option,
) *ParameterService {
	s := &ParameterService{
		backend: backend,
		store:   store,
		pending: pending,
		filiais: filiais,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Defaults returns a pre-populated draft plus the suggested manual segments.
func (s *ParameterService) Defaults() *domain.ParameterDefaults {
	return &domain.ParameterDefaults{
		Draft:    rfv.NewDraft(s.now()),
		Segments: rfv.DefaultSegments(),
	}
}

// Validate is the first phase of a save. A structurally valid draft is parked
// under a token; a configuration of the same scope with an overlapping
// period is reported as a conflict to be confirmed at commit.
func (s *ParameterService) Validate(ctx context.Context, draft *domain.ParameterSet) (*domain.ValidationResult, error) {
	ctx, span := tracer.Start(ctx, "ParameterService.Validate")
	defer span.End()
	defer s.observe("validate", time.Now())

	if draft == nil {
		s.metrics.IncrValidation(observability.ValidationInvalid)
		return nil, &domain.ErrValidation{Field: "body", Message: "configuração ausente"}
	}
	draft = draft.Clone()
	draft.Name = strings.TrimSpace(draft.Name)
	if draft.Strategy == domain.StrategyAutomatic {
		draft.Segments = []domain.Segment{}
	}

	if err := rfv.Validate(draft); err != nil {
		s.metrics.IncrValidation(observability.ValidationInvalid)
		return nil, err
	}

	existing, err := s.existing(ctx)
	if err != nil {
		return nil, err
	}
	if !draft.IsNew() && find(existing, draft.ID) == nil {
		return nil, &domain.ErrNotFound{Resource: "rfv parameter", ID: strconv.Itoa(draft.ID)}
	}

	conflicts := findConflicts(existing, draft)
	ps := domain.PendingSave{Token: uuid.NewString(), Draft: draft}
	res := &domain.ValidationResult{Valid: true, Token: ps.Token, Message: "Configuração válida."}
	if len(conflicts) > 0 {
		for _, c := range conflicts {
			ps.ConflictIDs = append(ps.ConflictIDs, c.ID)
		}
		res.Conflict = &conflicts[0]
		res.Conflicts = conflicts
		res.Message = conflictMessage(conflicts)
		s.metrics.IncrValidation(observability.ValidationConflict)
	} else {
		s.metrics.IncrValidation(observability.ValidationValid)
	}
	s.pending.Set(ps.Token, ps)

	span.SetAttributes(
		attribute.Bool("rfv.conflict", ps.HasConflict()),
		attribute.Int("rfv.parameter.id", draft.ID),
	)
	s.logger.Info("rfv configuration validated",
		zap.String("token", ps.Token),
		zap.Int("id", draft.ID),
		zap.Ints("conflict_ids", ps.ConflictIDs),
	)
	return res, nil
}

// Commit is the second phase of a save. The conflict check runs again
// against a fresh listing. Only the conflicts shown at validation can be
// overwritten, and only with confirmOverwrite; any other conflict sends the
// caller back to validation. Once the draft is stored the pending save keeps
// its id, so a commit retried after a partial failure updates the same row.
func (s *ParameterService) Commit(ctx context.Context, token string, confirmOverwrite bool) (*domain.CommitResult, error) {
	ctx, span := tracer.Start(ctx, "ParameterService.Commit")
	defer span.End()
	defer s.observe("commit", time.Now())

	ps, ok := s.pending.Get(token)
	if !ok || ps.Draft == nil {
		return nil, &domain.ErrNotFound{Resource: "pending save", ID: token}
	}
	draft := ps.Draft

	fresh, err := s.reload(ctx)
	if err != nil {
		return nil, err
	}
	if !draft.IsNew() && find(fresh, draft.ID) == nil {
		s.pending.Delete(token)
		return nil, &domain.ErrNotFound{Resource: "rfv parameter", ID: strconv.Itoa(draft.ID)}
	}

	conflicts := findConflicts(fresh, draft)
	for _, c := range conflicts {
		if !ps.Confirmed(c.ID) {
			s.logger.Warn("rfv conflict appeared after validation",
				zap.String("token", token),
				zap.Int("conflict_id", c.ID),
			)
			return nil, &domain.ErrConflict{Message: staleConflictMessage(&c)}
		}
	}
	if len(conflicts) > 0 && !confirmOverwrite {
		return nil, &domain.ErrConflict{Message: conflictMessage(conflicts)}
	}

	isNew := draft.IsNew()
	created := isNew || ps.Persisted
	var saved *domain.ParameterSet
	if isNew {
		saved, err = s.backend.CreateParameter(ctx, draft)
	} else {
		saved, err = s.backend.UpdateParameter(ctx, draft.ID, draft)
	}
	if err != nil {
		return nil, s.externalErr(err)
	}
	if isNew {
		ps.Draft.ID = saved.ID
		ps.Persisted = true
		s.pending.Set(token, ps)
	}

	segments, err := s.replaceSegments(ctx, saved.ID, draft, isNew)
	if err != nil {
		s.store.Invalidate()
		return nil, s.externalErr(err)
	}
	saved.Segments = segments

	result := &domain.CommitResult{Config: saved, Created: created}
	retired := make([]*domain.ParameterSet, 0, len(conflicts))
	for i := range conflicts {
		r, err := s.retire(ctx, &conflicts[i], draft.EffectiveFrom)
		if err != nil {
			s.store.Invalidate()
			return nil, s.externalErr(err)
		}
		r.Segments = conflicts[i].Segments
		retired = append(retired, r)
		result.RetiredIDs = append(result.RetiredIDs, r.ID)
	}

	s.pending.Delete(token)
	s.store.Upsert(saved)
	for _, r := range retired {
		s.store.Upsert(r)
	}

	switch {
	case len(result.RetiredIDs) > 0:
		s.metrics.IncrCommit(observability.CommitOverwritten)
	case created:
		s.metrics.IncrCommit(observability.CommitCreated)
	default:
		s.metrics.IncrCommit(observability.CommitUpdated)
	}
	span.SetAttributes(attribute.Int("rfv.parameter.id", saved.ID), attribute.Bool("rfv.created", created))
	s.logger.Info("rfv configuration committed",
		zap.Int("id", saved.ID),
		zap.Bool("created", created),
		zap.Ints("retired", result.RetiredIDs),
	)
	return result, nil
}

// replaceSegments makes the stored segments of a configuration match the draft.
func (s *ParameterService) replaceSegments(ctx context.Context, id int, draft *domain.ParameterSet, created bool) ([]domain.Segment, error) {
	if !created {
		old, err := s.backend.ListSegments(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, seg := range old {
			if err := s.backend.DeleteSegment(ctx, seg.ID); err != nil {
				return nil, err
			}
		}
	}

	out := []domain.Segment{}
	if draft.Strategy != domain.StrategyManual {
		return out, nil
	}
	for _, seg := range draft.Segments {
		seg.ID = 0
		createdSeg, err := s.backend.CreateSegment(ctx, id, seg)
		if err != nil {
			return nil, err
		}
		out = append(out, *createdSeg)
	}
	return out, nil
}

// retire ends a conflicting configuration where the new one starts. When the
// new one starts earlier the old one gets an empty window and is never active.
func (s *ParameterService) retire(ctx context.Context, conflict *domain.ParameterSet, from domain.Date) (*domain.ParameterSet, error) {
	end := from
	if from.Before(conflict.EffectiveFrom) {
		end = conflict.EffectiveFrom
	}
	c := conflict.Clone()
	c.EffectiveTo = &end

	retired, err := s.backend.UpdateParameter(ctx, c.ID, c)
	if err != nil {
		return nil, err
	}
	s.logger.Info("rfv configuration retired",
		zap.Int("id", c.ID),
		zap.String("effective_to", end.String()),
	)
	return retired, nil
}

// Delete removes a configuration. A refusal caused by dependent records
// becomes ErrReferenced and leaves the list untouched.
func (s *ParameterService) Delete(ctx context.Context, id int) (*domain.DeleteResponse, error) {
	ctx, span := tracer.Start(ctx, "ParameterService.Delete")
	defer span.End()
	defer s.observe("delete", time.Now())
	span.SetAttributes(attribute.Int("rfv.parameter.id", id))

	if err := s.backend.DeleteParameter(ctx, id); err != nil {
		var apiErr *rfvapi.APIError
		if errors.As(err, &apiErr) && apiErr.IsForeignKeyViolation() {
			s.metrics.IncrDelete(observability.DeleteBlocked)
			s.logger.Info("rfv configuration delete blocked by dependents", zap.Int("id", id))
			return nil, &domain.ErrReferenced{Resource: "rfv parameter", ID: strconv.Itoa(id)}
		}
		s.metrics.IncrDelete(observability.DeleteFailed)
		return nil, s.externalErr(err)
	}

	s.store.Remove(id)
	s.metrics.IncrDelete(observability.DeleteDone)
	s.logger.Info("rfv configuration deleted", zap.Int("id", id))
	return &domain.DeleteResponse{ID: id, Message: "Configuração excluída com sucesso."}, nil
}

// ClearSegments removes every segment stored for a configuration, which is
// what keeps a manual configuration from being deleted. The configuration
// itself is left as is.
func (s *ParameterService) ClearSegments(ctx context.Context, id int) (*domain.ParameterSet, error) {
	ctx, span := tracer.Start(ctx, "ParameterService.ClearSegments")
	defer span.End()
	defer s.observe("clear_segments", time.Now())
	span.SetAttributes(attribute.Int("rfv.parameter.id", id))

	set, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	segments, err := s.backend.ListSegments(ctx, id)
	if err != nil {
		return nil, s.externalErr(err)
	}
	for _, seg := range segments {
		if err := s.backend.DeleteSegment(ctx, seg.ID); err != nil {
			s.store.Invalidate()
			return nil, s.externalErr(err)
		}
	}

	set.Segments = []domain.Segment{}
	s.store.Upsert(set)
	s.logger.Info("rfv configuration segments removed",
		zap.Int("id", id),
		zap.Int("removed", len(segments)),
	)
	return set, nil
}

// Duplicate returns an unsaved copy of a configuration effective from today.
func (s *ParameterService) Duplicate(ctx context.Context, id int) (*domain.ParameterSet, error) {
	ctx, span := tracer.Start(ctx, "ParameterService.Duplicate")
	defer span.End()

	src, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	c := src.Clone()
	c.ID = 0
	c.Name = src.Name + CopySuffix
	c.EffectiveFrom = domain.DateOf(s.now())
	c.EffectiveTo = nil
	for i := range c.Segments {
		c.Segments[i].ID = 0
	}
	return c, nil
}

// Get returns one configuration, reloading once when the cached list misses it.
func (s *ParameterService) Get(ctx context.Context, id int) (*domain.ParameterSet, error) {
	if p, ok := s.store.Get(id); ok {
		s.metrics.IncrCacheHit("parameters")
		return p, nil
	}
	s.metrics.IncrCacheMiss("parameters")

	list, err := s.reload(ctx)
	if err != nil {
		return nil, err
	}
	if p := find(list, id); p != nil {
		return p.Clone(), nil
	}
	return nil, &domain.ErrNotFound{Resource: "rfv parameter", ID: strconv.Itoa(id)}
}

// List returns the filtered configurations with statistics over the fetched list.
// Active and branch filters are pushed to the API; name and strategy are local.
func (s *ParameterService) List(ctx context.Context, f domain.ParameterFilter) (*domain.ParameterListing, error) {
	ctx, span := tracer.Start(ctx, "ParameterService.List")
	defer span.End()
	defer s.observe("list", time.Now())

	var (
		list    []domain.ParameterSet
		filiais []domain.Filial
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if f.IsServerSide() {
			list, err = s.backend.ListParameters(gctx, port.ParameterQuery{Active: f.Active, FilialID: f.FilialID})
			if err != nil {
				return s.externalErr(err)
			}
			return nil
		}
		list, err = s.existing(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		filiais, err = s.ListFiliais(gctx)
		if err != nil {
			// names are cosmetic; the listing still works without them
			s.logger.Warn("rfv listing without branch names", zap.Error(err))
			filiais = nil
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	names := make(map[int]string, len(filiais))
	for _, fl := range filiais {
		names[fl.ID] = fl.Name
	}

	now := s.now()
	return &domain.ParameterListing{
		Items: rfv.ApplyFilter(list, names, f, now),
		Stats: rfv.ComputeStats(list, now),
	}, nil
}

// ListFiliais returns the branch list, cached.
func (s *ParameterService) ListFiliais(ctx context.Context) ([]domain.Filial, error) {
	if cached, ok := s.filiais.Get(filiaisKey); ok {
		s.metrics.IncrCacheHit("filiais")
		return cached, nil
	}
	s.metrics.IncrCacheMiss("filiais")

	filiais, err := s.backend.ListFiliais(ctx)
	if err != nil {
		return nil, s.externalErr(err)
	}
	s.filiais.Set(filiaisKey, filiais)
	return filiais, nil
}

// Classify scores customers with a stored configuration.
func (s *ParameterService) Classify(ctx context.Context, id int, customers []domain.CustomerMetrics) (*domain.ClassificationResult, error) {
	ctx, span := tracer.Start(ctx, "ParameterService.Classify")
	defer span.End()
	defer s.observe("classify", time.Now())

	if len(customers) == 0 {
		return nil, &domain.ErrValidation{Field: "customers", Message: "informe ao menos um cliente"}
	}

	set, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	engine, err := rfv.NewEngine(set)
	if err != nil {
		return nil, err
	}

	res := engine.EvaluateAll(customers)
	s.metrics.AddClassifications(len(customers))
	span.SetAttributes(attribute.Int("rfv.customers", len(customers)))
	return res, nil
}

// existing returns the cached list, loading it on first use.
func (s *ParameterService) existing(ctx context.Context) ([]domain.ParameterSet, error) {
	if list, ok := s.store.Snapshot(); ok {
		s.metrics.IncrCacheHit("parameters")
		return list, nil
	}
	s.metrics.IncrCacheMiss("parameters")
	return s.reload(ctx)
}

// reload fetches the full list from the API and replaces the store.
func (s *ParameterService) reload(ctx context.Context) ([]domain.ParameterSet, error) {
	list, err := s.backend.ListParameters(ctx, port.ParameterQuery{})
	if err != nil {
		return nil, s.externalErr(err)
	}
	s.store.Replace(list)
	return list, nil
}

// externalErr counts transport failures and passes the error through.
func (s *ParameterService) externalErr(err error) error {
	var (
		ext     *domain.ErrExternalService
		open    *domain.ErrCircuitOpen
		timeout *domain.ErrTimeout
	)
	if errors.As(err, &ext) || errors.As(err, &open) || errors.As(err, &timeout) {
		s.metrics.IncrExternalError("rfvapi")
		s.logger.Error("rfv api call failed", zap.Error(err))
	}
	return err
}

func (s *ParameterService) observe(op string, start time.Time) {
	s.metrics.RecordRequestDuration(op, time.Since(start))
}

// findConflicts returns the other configurations of the same scope whose
// effective period overlaps the draft's.
func findConflicts(list []domain.ParameterSet, draft *domain.ParameterSet) []domain.ParameterSet {
	var out []domain.ParameterSet
	for i := range list {
		p := &list[i]
		if p.ID == draft.ID {
			continue
		}
		if draft.SameScope(p) && draft.Overlaps(p) {
			out = append(out, *p.Clone())
		}
	}
	return out
}

func find(list []domain.ParameterSet, id int) *domain.ParameterSet {
	for i := range list {
		if list[i].ID == id {
			return &list[i]
		}
	}
	return nil
}

func conflictMessage(conflicts []domain.ParameterSet) string {
	c := &conflicts[0]
	if len(conflicts) == 1 {
		return fmt.Sprintf("A configuração %q já está vigente para o mesmo escopo a partir de %s. Deseja sobrescrevê-la?",
			c.Name, c.EffectiveFrom)
	}
	return fmt.Sprintf("A configuração %q e outras %d já estão vigentes para o mesmo escopo. Deseja sobrescrevê-las?",
		c.Name, len(conflicts)-1)
}

func staleConflictMessage(c *domain.ParameterSet) string {
	return fmt.Sprintf("A configuração %q passou a conflitar com esta após a validação. Valide novamente antes de salvar.",
		c.Name)
}
