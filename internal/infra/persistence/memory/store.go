// Package memory provides an in-memory implementation of the server data
// store used for tests, ephemeral environments, and as the working set of the
// SQL-backed stores.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"annocore/pkg/domain"

	"github.com/cockroachdb/errors"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Assembly aliases domain.Assembly.
	Assembly = domain.Assembly
	// Feature aliases domain.Feature.
	Feature = domain.Feature
	// Result aliases domain.Result summarizing validation.
	Result = domain.Result
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// Pipeline aliases domain.Pipeline used to produce check results.
	Pipeline = domain.Pipeline
)

// AssemblyState is the committed state of one assembly. Committed values are
// never mutated; transactions work on clones.
type AssemblyState struct {
	Assembly     Assembly             `json:"assembly"`
	RefSeqs      []domain.RefSeq      `json:"refSeqs"`
	Features     *domain.Tree         `json:"features"`
	CheckResults []domain.CheckResult `json:"checkResults"`
}

func (a *AssemblyState) clone() *AssemblyState {
	cp := &AssemblyState{
		Assembly:     a.Assembly,
		RefSeqs:      make([]domain.RefSeq, len(a.RefSeqs)),
		CheckResults: slices.Clone(a.CheckResults),
	}
	if a.Assembly.ExternalLocation != nil {
		loc := *a.Assembly.ExternalLocation
		cp.Assembly.ExternalLocation = &loc
	}
	for i, rs := range a.RefSeqs {
		cp.RefSeqs[i] = rs.Clone()
	}
	if a.Features != nil {
		cp.Features = a.Features.Clone()
	} else {
		cp.Features = domain.NewTree()
	}
	return cp
}

func (a *AssemblyState) snapshot() domain.AssemblySnapshot {
	cp := a.clone()
	features := cp.Features.Features()
	if features == nil {
		features = []Feature{}
	}
	return domain.AssemblySnapshot{
		Assembly:     cp.Assembly,
		RefSeqs:      cp.RefSeqs,
		Features:     features,
		CheckResults: cp.CheckResults,
	}
}

// Snapshot captures a point-in-time copy of the whole store.
type Snapshot struct {
	Assemblies map[string]*AssemblyState `json:"assemblies"`
	Files      map[string]domain.File    `json:"files"`
	ChangeLog  []domain.ChangeRecord     `json:"changeLog"`
}

// Commit describes what a successful transaction is about to make visible.
// State is nil when the assembly was deleted.
type Commit struct {
	AssemblyID string
	State      *AssemblyState
	Records    []domain.ChangeRecord
}

// CommitHook runs after validation and before a transaction becomes visible.
// A hook error aborts the commit.
type CommitHook func(ctx context.Context, c Commit) error

// FileHook runs before a file record becomes visible.
type FileHook func(ctx context.Context, f domain.File) error

type assemblyEntry struct {
	// writer serializes transactions on this assembly.
	writer sync.Mutex
	state  *AssemblyState
}

// Store provides an in-memory transactional store. Each assembly has its own
// writer lock; the store-level mutex only guards the indexes and is never
// held while user code runs.
type Store struct {
	mu         sync.RWMutex
	assemblies map[string]*assemblyEntry
	names      map[string]string
	features   map[string]string
	files      map[string]domain.File
	log        []domain.ChangeRecord

	pipeline   *Pipeline
	nowFn      func() time.Time
	commitHook CommitHook
	fileHook   FileHook
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for change records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithCommitHook installs the hook run before each commit.
func WithCommitHook(h CommitHook) Option {
	return func(s *Store) { s.commitHook = h }
}

// WithFileHook installs the hook run before each file registration.
func WithFileHook(h FileHook) Option {
	return func(s *Store) { s.fileHook = h }
}

// NewStore constructs an in-memory store running pipeline after every commit.
func NewStore(pipeline *Pipeline, opts ...Option) *Store {
	if pipeline == nil {
		pipeline = domain.NewPipeline()
	}
	s := &Store{
		assemblies: make(map[string]*assemblyEntry),
		names:      make(map[string]string),
		features:   make(map[string]string),
		files:      make(map[string]domain.File),
		pipeline:   pipeline,
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pipeline exposes the configured validation pipeline.
func (s *Store) Pipeline() *Pipeline { return s.pipeline }

// NowFunc returns the time provider used by the store.
func (s *Store) NowFunc() func() time.Time { return s.nowFn }

func (s *Store) entry(id string) *assemblyEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.assemblies[id]
	if !ok {
		e = &assemblyEntry{}
		s.assemblies[id] = e
	}
	return e
}

func (s *Store) committed(id string) (*AssemblyState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.assemblies[id]
	if !ok || e.state == nil {
		return nil, false
	}
	return e.state, true
}

// RunInTransaction executes fn against a working copy of one assembly. The
// copy becomes visible only when fn, the commit hook, and name registration
// all succeed. Check results are recomputed by the pipeline on every commit.
func (s *Store) RunInTransaction(ctx context.Context, assemblyID string, fn func(tx Transaction) error) (Result, error) {
	if assemblyID == "" {
		return Result{}, errors.Wrap(domain.ErrMalformedChange, "assembly id is required")
	}
	e := s.entry(assemblyID)
	e.writer.Lock()
	defer e.writer.Unlock()

	s.mu.RLock()
	base := e.state
	s.mu.RUnlock()

	tx := &transaction{store: s, id: assemblyID, now: s.nowFn()}
	if base != nil {
		tx.state = base.clone()
	}
	if err := fn(tx); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var result Result
	if tx.state != nil {
		view := domain.NewAssemblyView(tx.state.Assembly, tx.state.RefSeqs, tx.state.Features)
		res, err := s.pipeline.Run(ctx, view)
		if err != nil {
			return Result{}, err
		}
		result = res
		tx.state.CheckResults = res.CheckResults
	}

	for i := range tx.records {
		r := &tx.records[i]
		r.AssemblyID = assemblyID
		if r.At.IsZero() {
			r.At = tx.now
		}
		if r.ID == "" {
			r.ID = domain.NewChangeRecordID(r.At)
		}
	}

	var newName, oldName string
	if tx.state != nil {
		newName = tx.state.Assembly.Name
	}
	if base != nil {
		oldName = base.Assembly.Name
	}
	if err := s.reserveName(assemblyID, newName, oldName); err != nil {
		return Result{}, err
	}
	if s.commitHook != nil {
		if err := s.commitHook(ctx, Commit{AssemblyID: assemblyID, State: tx.state, Records: tx.records}); err != nil {
			s.releaseName(assemblyID, newName, oldName)
			return Result{}, errors.Wrap(err, "persist commit")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if base != nil {
		for _, id := range base.Features.IDs() {
			if s.features[id] == assemblyID {
				delete(s.features, id)
			}
		}
	}
	if oldName != "" && oldName != newName && s.names[oldName] == assemblyID {
		delete(s.names, oldName)
	}
	if tx.state != nil {
		for _, id := range tx.state.Features.IDs() {
			s.features[id] = assemblyID
		}
	}
	e.state = tx.state
	s.log = append(s.log, tx.records...)
	return result, nil
}

func (s *Store) reserveName(id, newName, oldName string) error {
	if newName == "" || newName == oldName {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, taken := s.names[newName]; taken && owner != id {
		return errors.Wrapf(domain.ErrAssemblyAlreadyExists, "assembly %q", newName)
	}
	s.names[newName] = id
	return nil
}

func (s *Store) releaseName(id, newName, oldName string) {
	if newName == "" || newName == oldName {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.names[newName] == id {
		delete(s.names, newName)
	}
}

// View runs fn against a read-only copy of a committed assembly.
func (s *Store) View(_ context.Context, assemblyID string, fn func(domain.AssemblyView) error) error {
	st, ok := s.committed(assemblyID)
	if !ok {
		return errors.Wrapf(domain.ErrAssemblyNotFound, "assembly %q", assemblyID)
	}
	cp := st.clone()
	return fn(domain.NewAssemblyView(cp.Assembly, cp.RefSeqs, cp.Features))
}

// FindFeatureByID returns the feature snapshot and the id of its assembly.
func (s *Store) FindFeatureByID(id string) (Feature, string, bool) {
	s.mu.RLock()
	assemblyID, ok := s.features[id]
	var st *AssemblyState
	if ok {
		if e := s.assemblies[assemblyID]; e != nil {
			st = e.state
		}
	}
	s.mu.RUnlock()
	if st == nil {
		return Feature{}, "", false
	}
	f, found := st.Features.FindByID(id)
	return f, assemblyID, found
}

// FindAssemblyByName looks an assembly up by its unique name.
func (s *Store) FindAssemblyByName(name string) (Assembly, bool) {
	s.mu.RLock()
	id, ok := s.names[name]
	s.mu.RUnlock()
	if !ok {
		return Assembly{}, false
	}
	return s.GetAssembly(id)
}

// GetAssembly returns a committed assembly record.
func (s *Store) GetAssembly(id string) (Assembly, bool) {
	st, ok := s.committed(id)
	if !ok {
		return Assembly{}, false
	}
	return st.clone().Assembly, true
}

// ListAssemblies returns every committed assembly ordered by name.
func (s *Store) ListAssemblies() []Assembly {
	s.mu.RLock()
	out := make([]Assembly, 0, len(s.assemblies))
	for _, e := range s.assemblies {
		if e.state != nil {
			out = append(out, e.state.Assembly)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListFeatures returns the top-level feature snapshots of an assembly.
func (s *Store) ListFeatures(assemblyID string) ([]Feature, error) {
	st, ok := s.committed(assemblyID)
	if !ok {
		return nil, errors.Wrapf(domain.ErrAssemblyNotFound, "assembly %q", assemblyID)
	}
	return st.Features.Features(), nil
}

// Snapshot returns a full copy of an assembly.
func (s *Store) Snapshot(assemblyID string) (domain.AssemblySnapshot, error) {
	st, ok := s.committed(assemblyID)
	if !ok {
		return domain.AssemblySnapshot{}, errors.Wrapf(domain.ErrAssemblyNotFound, "assembly %q", assemblyID)
	}
	return st.snapshot(), nil
}

// CheckResults returns the check results of the last commit on an assembly.
func (s *Store) CheckResults(assemblyID string) ([]domain.CheckResult, error) {
	st, ok := s.committed(assemblyID)
	if !ok {
		return nil, errors.Wrapf(domain.ErrAssemblyNotFound, "assembly %q", assemblyID)
	}
	return slices.Clone(st.CheckResults), nil
}

// PutFile registers an uploaded file record. File ids are immutable.
func (s *Store) PutFile(f domain.File) error {
	if f.ID == "" {
		return errors.Wrap(domain.ErrMalformedChange, "file id is required")
	}
	s.mu.RLock()
	_, exists := s.files[f.ID]
	s.mu.RUnlock()
	if exists {
		return errors.Newf("file %q already registered", f.ID)
	}
	if s.fileHook != nil {
		if err := s.fileHook(context.Background(), f); err != nil {
			return errors.Wrap(err, "persist file")
		}
	}
	f.RefSeqs = slices.Clone(f.RefSeqs)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[f.ID] = f
	return nil
}

// GetFile returns a registered file record.
func (s *Store) GetFile(id string) (domain.File, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	if !ok {
		return domain.File{}, false
	}
	f.RefSeqs = slices.Clone(f.RefSeqs)
	return f, true
}

// ChangeLog returns the committed change records of an assembly in commit
// order. An empty id returns the records of every assembly.
func (s *Store) ChangeLog(assemblyID string) []domain.ChangeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ChangeRecord
	for _, r := range s.log {
		if assemblyID == "" || r.AssemblyID == assemblyID {
			out = append(out, r)
		}
	}
	return out
}

// ExportState clones the whole store for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Assemblies: make(map[string]*AssemblyState, len(s.assemblies)),
		Files:      make(map[string]domain.File, len(s.files)),
		ChangeLog:  slices.Clone(s.log),
	}
	for id, e := range s.assemblies {
		if e.state != nil {
			snap.Assemblies[id] = e.state.clone()
		}
	}
	for id, f := range s.files {
		f.RefSeqs = slices.Clone(f.RefSeqs)
		snap.Files[id] = f
	}
	return snap
}

// ImportState replaces the store contents with the provided snapshot. It
// must not run concurrently with transactions.
func (s *Store) ImportState(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assemblies = make(map[string]*assemblyEntry, len(snap.Assemblies))
	s.names = make(map[string]string, len(snap.Assemblies))
	s.features = make(map[string]string)
	s.files = make(map[string]domain.File, len(snap.Files))
	s.log = slices.Clone(snap.ChangeLog)
	for id, st := range snap.Assemblies {
		if st == nil {
			continue
		}
		cp := st.clone()
		s.assemblies[id] = &assemblyEntry{state: cp}
		s.names[cp.Assembly.Name] = id
		for _, fid := range cp.Features.IDs() {
			s.features[fid] = id
		}
	}
	for id, f := range snap.Files {
		s.files[id] = f
	}
}
