package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Transaction exposes the operations a change may perform against one
// assembly within an atomic scope. All values returned are copies; mutations
// go through the methods or the working Tree, which is discarded unless the
// transaction commits.
type Transaction interface {
	AssemblyID() string
	Assembly() (Assembly, bool)
	// PutAssembly creates the assembly record for AssemblyID. Names are unique
	// across the store.
	PutAssembly(Assembly) error
	// DeleteAssembly drops the assembly with all refSeqs, features and check
	// results.
	DeleteAssembly() error
	FindAssemblyByName(name string) (Assembly, bool)
	RefSeqs() []RefSeq
	FindRefSeq(id string) (RefSeq, bool)
	PutRefSeq(RefSeq) error
	FindFile(id string) (File, bool)
	Features() *Tree
	RecordChange(ChangeRecord)
}

// AssemblyView provides read-only access to one assembly for validators.
type AssemblyView interface {
	Assembly() Assembly
	RefSeqs() []RefSeq
	FindRefSeq(id string) (RefSeq, bool)
	Features() []Feature
	// Sequence returns residues [start,stop) of a refSeq, or "" when the
	// sequence is not loaded.
	Sequence(refSeq string, start, stop int64) string
}

// PersistentStore is the server-side data store. Reads return copies;
// writes only happen inside RunInTransaction.
type PersistentStore interface {
	// RunInTransaction runs fn against a working copy of the assembly and
	// commits only when fn returns nil. Transactions on the same assembly are
	// serialized. assemblyID may name an assembly that does not exist yet.
	RunInTransaction(ctx context.Context, assemblyID string, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, assemblyID string, fn func(AssemblyView) error) error
	FindFeatureByID(id string) (Feature, string, bool)
	FindAssemblyByName(name string) (Assembly, bool)
	GetAssembly(id string) (Assembly, bool)
	ListAssemblies() []Assembly
	ListFeatures(assemblyID string) ([]Feature, error)
	Snapshot(assemblyID string) (AssemblySnapshot, error)
	CheckResults(assemblyID string) ([]CheckResult, error)
	PutFile(File) error
	GetFile(id string) (File, bool)
	ChangeLog(assemblyID string) []ChangeRecord
}

// ChangeRecord is one entry of an assembly's append-only change log.
type ChangeRecord struct {
	ID         string          `json:"_id"`
	AssemblyID string          `json:"assembly"`
	TypeName   string          `json:"typeName"`
	ChangedIDs []string        `json:"changedIds"`
	Payload    json.RawMessage `json:"payload"`
	At         time.Time       `json:"at"`
}

// NewChangeRecordID returns a lexically time-ordered record id.
func NewChangeRecordID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
}

type assemblyView struct {
	assembly Assembly
	refSeqs  []RefSeq
	tree     *Tree
}

// NewAssemblyView builds a read-only view. The caller must not mutate the
// arguments afterwards.
func NewAssemblyView(a Assembly, refSeqs []RefSeq, tree *Tree) AssemblyView {
	if tree == nil {
		tree = NewTree()
	}
	return assemblyView{assembly: a, refSeqs: refSeqs, tree: tree}
}

func (v assemblyView) Assembly() Assembly { return v.assembly }

func (v assemblyView) RefSeqs() []RefSeq {
	out := make([]RefSeq, len(v.refSeqs))
	for i, r := range v.refSeqs {
		out[i] = r.Clone()
	}
	return out
}

func (v assemblyView) FindRefSeq(id string) (RefSeq, bool) {
	for _, r := range v.refSeqs {
		if r.ID == id {
			return r.Clone(), true
		}
	}
	return RefSeq{}, false
}

func (v assemblyView) Features() []Feature { return v.tree.Features() }

func (v assemblyView) Sequence(refSeq string, start, stop int64) string {
	for _, r := range v.refSeqs {
		if r.ID == refSeq {
			return r.GetSequence(start, stop)
		}
	}
	return ""
}
