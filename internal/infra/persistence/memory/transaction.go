package memory

import (
	"slices"
	"time"

	"annocore/pkg/domain"

	"github.com/cockroachdb/errors"
)

// transaction is the working copy of one assembly. state is nil while the
// assembly does not exist.
type transaction struct {
	store   *Store
	id      string
	state   *AssemblyState
	records []domain.ChangeRecord
	now     time.Time
}

func (tx *transaction) AssemblyID() string { return tx.id }

func (tx *transaction) Assembly() (Assembly, bool) {
	if tx.state == nil {
		return Assembly{}, false
	}
	return tx.state.Assembly, true
}

func (tx *transaction) PutAssembly(a Assembly) error {
	if tx.state != nil {
		return errors.Wrapf(domain.ErrAssemblyAlreadyExists, "assembly id %q", tx.id)
	}
	if a.Name == "" {
		return errors.Wrap(domain.ErrMalformedChange, "assembly name is required")
	}
	a.ID = tx.id
	tx.state = &AssemblyState{Assembly: a, Features: domain.NewTree()}
	return nil
}

func (tx *transaction) DeleteAssembly() error {
	if tx.state == nil {
		return errors.Wrapf(domain.ErrAssemblyNotFound, "assembly %q", tx.id)
	}
	tx.state = nil
	return nil
}

// FindAssemblyByName sees committed assemblies plus the one being created in
// this transaction. Name uniqueness is rechecked at commit.
func (tx *transaction) FindAssemblyByName(name string) (Assembly, bool) {
	if tx.state != nil && tx.state.Assembly.Name == name {
		return tx.state.Assembly, true
	}
	a, ok := tx.store.FindAssemblyByName(name)
	if ok && a.ID == tx.id {
		// the committed copy of this assembly, which the transaction may have deleted
		return Assembly{}, false
	}
	return a, ok
}

func (tx *transaction) RefSeqs() []domain.RefSeq {
	if tx.state == nil {
		return nil
	}
	out := make([]domain.RefSeq, len(tx.state.RefSeqs))
	for i, rs := range tx.state.RefSeqs {
		out[i] = rs.Clone()
	}
	return out
}

func (tx *transaction) FindRefSeq(id string) (domain.RefSeq, bool) {
	if tx.state == nil {
		return domain.RefSeq{}, false
	}
	for _, rs := range tx.state.RefSeqs {
		if rs.ID == id {
			return rs.Clone(), true
		}
	}
	return domain.RefSeq{}, false
}

func (tx *transaction) PutRefSeq(rs domain.RefSeq) error {
	if tx.state == nil {
		return errors.Wrapf(domain.ErrAssemblyNotFound, "assembly %q", tx.id)
	}
	if rs.ID == "" {
		return errors.Wrap(domain.ErrMalformedChange, "refSeq id is required")
	}
	rs.Assembly = tx.id
	rs = rs.Clone()
	if i := slices.IndexFunc(tx.state.RefSeqs, func(r domain.RefSeq) bool { return r.ID == rs.ID }); i >= 0 {
		tx.state.RefSeqs[i] = rs
		return nil
	}
	tx.state.RefSeqs = append(tx.state.RefSeqs, rs)
	return nil
}

func (tx *transaction) FindFile(id string) (domain.File, bool) {
	return tx.store.GetFile(id)
}

// Features returns the working tree. A deleted or missing assembly yields an
// empty tree that is discarded at commit.
func (tx *transaction) Features() *domain.Tree {
	if tx.state == nil {
		return domain.NewTree()
	}
	return tx.state.Features
}

func (tx *transaction) RecordChange(r domain.ChangeRecord) {
	r.ChangedIDs = slices.Clone(r.ChangedIDs)
	tx.records = append(tx.records, r)
}
