// Package clientstore holds the optimistic, in-memory client copy of the
// assemblies a user is editing. Only changes (through Mutate) and
// reconciliation fetches (through Load) modify it.
package clientstore

import (
	"sort"
	"sync"

	"annocore/pkg/changes"
	"annocore/pkg/domain"

	"github.com/cockroachdb/errors"
)

var _ changes.ClientDataStore = (*Store)(nil)

type entry struct {
	assembly domain.Assembly
	refSeqs  map[string]domain.RefSeq
	tree     *domain.Tree
	checks   *domain.CheckResultSet
}

// Store is the client data store.
type Store struct {
	mu         sync.RWMutex
	assemblies map[string]*entry
}

// New returns an empty client store.
func New() *Store {
	return &Store{assemblies: make(map[string]*entry)}
}

type workspace struct {
	tree    *domain.Tree
	refSeqs map[string]domain.RefSeq
}

func (w workspace) Features() *domain.Tree { return w.tree }

func (w workspace) HasRefSeq(id string) bool {
	_, ok := w.refSeqs[id]
	return ok
}

// Mutate runs fn against a copy of the assembly's tree and swaps the copy in
// only when fn succeeds.
func (s *Store) Mutate(assemblyID string, fn func(changes.Workspace) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.assemblies[assemblyID]
	if !ok {
		return errors.Wrapf(domain.ErrAssemblyNotFound, "assembly %q is not loaded", assemblyID)
	}
	working := e.tree.Clone()
	if err := fn(workspace{tree: working, refSeqs: e.refSeqs}); err != nil {
		return err
	}
	e.tree = working
	return nil
}

// Load replaces the local copy of an assembly with an authoritative snapshot.
func (s *Store) Load(snapshot domain.AssemblySnapshot) error {
	tree, err := snapshot.Tree()
	if err != nil {
		return errors.Wrapf(err, "load assembly %q", snapshot.Assembly.ID)
	}
	refSeqs := make(map[string]domain.RefSeq, len(snapshot.RefSeqs))
	for _, rs := range snapshot.RefSeqs {
		refSeqs[rs.ID] = rs.Clone()
	}
	checks := domain.NewCheckResultSet()
	checks.Add(snapshot.CheckResults...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.assemblies[snapshot.Assembly.ID] = &entry{
		assembly: snapshot.Assembly,
		refSeqs:  refSeqs,
		tree:     tree,
		checks:   checks,
	}
	return nil
}

// Drop forgets an assembly.
func (s *Store) Drop(assemblyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assemblies, assemblyID)
}

// Has reports whether the assembly is loaded.
func (s *Store) Has(assemblyID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.assemblies[assemblyID]
	return ok
}

// Assemblies lists the loaded assemblies ordered by name.
func (s *Store) Assemblies() []domain.Assembly {
	s.mu.RLock()
	out := make([]domain.Assembly, 0, len(s.assemblies))
	for _, e := range s.assemblies {
		out = append(out, e.assembly)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FindFeatureByID searches every loaded assembly and returns the feature
// snapshot with its assembly id.
func (s *Store) FindFeatureByID(id string) (domain.Feature, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for assemblyID, e := range s.assemblies {
		if f, ok := e.tree.FindByID(id); ok {
			return f, assemblyID, true
		}
	}
	return domain.Feature{}, "", false
}

// Features returns the top-level feature snapshots of an assembly.
func (s *Store) Features(assemblyID string) ([]domain.Feature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.assemblies[assemblyID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrAssemblyNotFound, "assembly %q is not loaded", assemblyID)
	}
	return e.tree.Features(), nil
}

// Tree returns a copy of the assembly's feature tree.
func (s *Store) Tree(assemblyID string) (*domain.Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.assemblies[assemblyID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrAssemblyNotFound, "assembly %q is not loaded", assemblyID)
	}
	return e.tree.Clone(), nil
}

// SetCheckResults replaces the check results held for an assembly.
func (s *Store) SetCheckResults(assemblyID string, results []domain.CheckResult) {
	s.mu.RLock()
	e, ok := s.assemblies[assemblyID]
	s.mu.RUnlock()
	if ok {
		e.checks.Replace(results)
	}
}

// CheckResults lists the check results held for an assembly.
func (s *Store) CheckResults(assemblyID string) []domain.CheckResult {
	s.mu.RLock()
	e, ok := s.assemblies[assemblyID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return e.checks.List()
}
