package domain

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var checkResultNamespace = uuid.MustParse("5b0e6f0c-8f3e-4d4e-9d71-3c1c2a6b8e51")

// CheckResult is an advisory finding produced by a validator. It never blocks
// a change.
type CheckResult struct {
	ID      string   `json:"_id"`
	Name    string   `json:"name"`
	IDs     []string `json:"ids"`
	RefSeq  string   `json:"refSeq"`
	Start   int64    `json:"start"`
	End     int64    `json:"end"`
	Ignored bool     `json:"ignored,omitempty"`
	Message string   `json:"message"`
}

// NewCheckResultID derives a stable id so re-running a validator on the same
// state produces the same result ids.
func NewCheckResultID(name, refSeq string, start, end int64, ids []string) string {
	key := fmt.Sprintf("%s|%s|%d|%d|%s", name, refSeq, start, end, strings.Join(ids, ","))
	return uuid.NewSHA1(checkResultNamespace, []byte(key)).String()
}

// WithID fills in the derived id when missing.
func (c CheckResult) WithID() CheckResult {
	if c.ID == "" {
		c.ID = NewCheckResultID(c.Name, c.RefSeq, c.Start, c.End, c.IDs)
	}
	return c
}

// CheckResultSet is a concurrency-safe collection of check results keyed by id.
type CheckResultSet struct {
	mu      sync.RWMutex
	results map[string]CheckResult
}

// NewCheckResultSet returns an empty set.
func NewCheckResultSet() *CheckResultSet {
	return &CheckResultSet{results: make(map[string]CheckResult)}
}

// Add inserts or replaces results.
func (s *CheckResultSet) Add(results ...CheckResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range results {
		r = r.WithID()
		r.IDs = slices.Clone(r.IDs)
		s.results[r.ID] = r
	}
}

// Delete removes results by id.
func (s *CheckResultSet) Delete(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.results, id)
	}
}

// Clear removes every result.
func (s *CheckResultSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.results)
}

// Replace swaps the whole content of the set.
func (s *CheckResultSet) Replace(results []CheckResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.results)
	for _, r := range results {
		r = r.WithID()
		r.IDs = slices.Clone(r.IDs)
		s.results[r.ID] = r
	}
}

// Len reports the number of results held.
func (s *CheckResultSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// List returns the results sorted by refSeq, start and name.
func (s *CheckResultSet) List() []CheckResult {
	s.mu.RLock()
	out := make([]CheckResult, 0, len(s.results))
	for _, r := range s.results {
		r.IDs = slices.Clone(r.IDs)
		out = append(out, r)
	}
	s.mu.RUnlock()
	SortCheckResults(out)
	return out
}

// SortCheckResults orders results by refSeq, start, name, then id.
func SortCheckResults(results []CheckResult) {
	slices.SortFunc(results, func(a, b CheckResult) int {
		if c := strings.Compare(a.RefSeq, b.RefSeq); c != 0 {
			return c
		}
		if a.Start != b.Start {
			if a.Start < b.Start {
				return -1
			}
			return 1
		}
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
