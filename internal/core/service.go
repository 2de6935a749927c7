package core

import (
	"context"

	"annocore/pkg/changes"
	"annocore/pkg/domain"

	"github.com/cockroachdb/errors"
)

// Service is the authoritative side of the change protocol. It applies
// changes to a persistent store and serves the read operations clients use
// to (re)load assemblies.
type Service struct {
	store domain.PersistentStore
	opts  options
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	return &Service{store: store, opts: buildOptions(opts)}
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// SubmitChange validates and applies c inside one store transaction.
func (s *Service) SubmitChange(ctx context.Context, c changes.Change) (res domain.Result, err error) {
	if c == nil {
		return domain.Result{}, errors.Wrap(domain.ErrMalformedChange, "nil change")
	}
	op := c.TypeName()
	ctx, span := s.opts.tracer.Start(ctx, "apply "+op)
	start := s.opts.clock.Now()
	defer func() {
		span.End(err)
		s.opts.metrics.Observe(ctx, "apply."+op, err == nil, s.opts.clock.Now().Sub(start))
	}()

	if err = c.Validate(); err == nil {
		res, err = c.ApplyToServer(ctx, s.store)
	}
	if err != nil {
		s.opts.logger.Warn("change rejected",
			"type", op, "assembly", c.AssemblyID(), "reason", string(domain.ReasonOf(err)), "error", err)
		return domain.Result{}, err
	}
	s.opts.logger.Info("change applied",
		"type", op, "assembly", c.AssemblyID(), "changed", c.ChangedIDs(), "checks", len(res.CheckResults))
	for _, w := range res.Warnings {
		s.opts.logger.Warn("validator warning", "assembly", c.AssemblyID(), "warning", w)
	}
	return res, nil
}

// SubmitSerialized decodes the wire form of a change and submits it.
func (s *Service) SubmitSerialized(ctx context.Context, raw []byte) (changes.Change, domain.Result, error) {
	c, err := changes.Decode(raw)
	if err != nil {
		s.opts.logger.Warn("undecodable change", "reason", string(domain.ReasonOf(err)), "error", err)
		return nil, domain.Result{}, err
	}
	res, err := s.SubmitChange(ctx, c)
	return c, res, err
}

// Feature returns a feature snapshot and the id of its assembly.
func (s *Service) Feature(id string) (domain.Feature, string, error) {
	f, assemblyID, ok := s.store.FindFeatureByID(id)
	if !ok {
		return domain.Feature{}, "", domain.FeatureNotFound(id)
	}
	return f, assemblyID, nil
}

// Assembly returns an assembly record.
func (s *Service) Assembly(id string) (domain.Assembly, error) {
	a, ok := s.store.GetAssembly(id)
	if !ok {
		return domain.Assembly{}, errors.Wrapf(domain.ErrAssemblyNotFound, "assembly %q", id)
	}
	return a, nil
}

// Assemblies lists every assembly ordered by name.
func (s *Service) Assemblies() []domain.Assembly {
	return s.store.ListAssemblies()
}

// Features returns the top-level features of an assembly.
func (s *Service) Features(assemblyID string) ([]domain.Feature, error) {
	return s.store.ListFeatures(assemblyID)
}

// CheckResults returns the check results of an assembly's last commit.
func (s *Service) CheckResults(assemblyID string) ([]domain.CheckResult, error) {
	return s.store.CheckResults(assemblyID)
}

// Snapshot returns a full copy of an assembly.
func (s *Service) Snapshot(assemblyID string) (domain.AssemblySnapshot, error) {
	return s.store.Snapshot(assemblyID)
}

// ChangeLog returns the committed change records of an assembly.
func (s *Service) ChangeLog(assemblyID string) []domain.ChangeRecord {
	return s.store.ChangeLog(assemblyID)
}
