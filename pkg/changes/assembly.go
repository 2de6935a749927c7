package changes

import (
	"context"
	"encoding/json"
	"fmt"

	"annocore/pkg/domain"

	"github.com/cockroachdb/errors"
)

const (
	TypeAddAssemblyFromFile     = "AddAssemblyFromFileChange"
	TypeAddAssemblyFromExternal = "AddAssemblyFromExternalChange"
	TypeDeleteAssembly          = "DeleteAssemblyChange"
)

// AddAssemblyFromFileChange creates an assembly backed by an uploaded file.
// AssemblyID is the id the new assembly will receive.
type AddAssemblyFromFileChange struct {
	assemblyKind
	Header
	AssemblyName string
	FileID       string
}

func NewAddAssemblyFromFileChange(assemblyID, assemblyName, fileID string) AddAssemblyFromFileChange {
	return AddAssemblyFromFileChange{
		Header:       Header{Assembly: assemblyID, Changed: []string{assemblyID}},
		AssemblyName: assemblyName,
		FileID:       fileID,
	}
}

func (AddAssemblyFromFileChange) TypeName() string { return TypeAddAssemblyFromFile }

type addFromFileItem struct {
	AssemblyName string `json:"assemblyName"`
	FileID       string `json:"fileId"`
}

func (c AddAssemblyFromFileChange) MarshalJSON() ([]byte, error) {
	return marshalChange(TypeAddAssemblyFromFile, c.Header, []addFromFileItem{{c.AssemblyName, c.FileID}})
}

func (c AddAssemblyFromFileChange) Notification() string {
	return fmt.Sprintf("Assembly %q added successfully.", c.AssemblyName)
}

func (c AddAssemblyFromFileChange) Inverse() Change { return NewDeleteAssemblyChange(c.Assembly) }

func (c AddAssemblyFromFileChange) Validate() error {
	if err := checkChanged(TypeAddAssemblyFromFile, c.Header, []string{c.Assembly}); err != nil {
		return err
	}
	if c.AssemblyName == "" || c.FileID == "" {
		return malformed("%s requires assemblyName and fileId", TypeAddAssemblyFromFile)
	}
	return nil
}

func (c AddAssemblyFromFileChange) ApplyToServer(ctx context.Context, store ServerDataStore) (domain.Result, error) {
	return store.RunInTransaction(ctx, c.Assembly, func(tx domain.Transaction) error {
		file, ok := tx.FindFile(c.FileID)
		if !ok {
			return errors.Wrapf(domain.ErrFileNotFound, "file %q", c.FileID)
		}
		if err := createAssembly(tx, domain.Assembly{
			ID:     c.Assembly,
			Name:   c.AssemblyName,
			FileID: file.ID,
			Status: domain.AssemblyStatusReady,
		}, file.RefSeqs); err != nil {
			return err
		}
		return recordChange(tx, c)
	})
}

// AddAssemblyFromExternalChange creates an assembly whose sequence is served
// from an indexed FASTA elsewhere. RefSeqs is the index supplied by the caller.
type AddAssemblyFromExternalChange struct {
	assemblyKind
	Header
	AssemblyName     string
	ExternalLocation domain.ExternalLocation
	RefSeqs          []domain.RefSeqSummary
}

func NewAddAssemblyFromExternalChange(assemblyID, assemblyName string, loc domain.ExternalLocation, refSeqs []domain.RefSeqSummary) AddAssemblyFromExternalChange {
	return AddAssemblyFromExternalChange{
		Header:           Header{Assembly: assemblyID, Changed: []string{assemblyID}},
		AssemblyName:     assemblyName,
		ExternalLocation: loc,
		RefSeqs:          refSeqs,
	}
}

func (AddAssemblyFromExternalChange) TypeName() string { return TypeAddAssemblyFromExternal }

type addFromExternalItem struct {
	AssemblyName     string                 `json:"assemblyName"`
	ExternalLocation domain.ExternalLocation `json:"externalLocation"`
	RefSeqs          []domain.RefSeqSummary  `json:"refSeqs"`
}

func (c AddAssemblyFromExternalChange) MarshalJSON() ([]byte, error) {
	return marshalChange(TypeAddAssemblyFromExternal, c.Header, []addFromExternalItem{{c.AssemblyName, c.ExternalLocation, c.RefSeqs}})
}

func (c AddAssemblyFromExternalChange) Notification() string {
	return fmt.Sprintf("Assembly %q added successfully.", c.AssemblyName)
}

func (c AddAssemblyFromExternalChange) Inverse() Change { return NewDeleteAssemblyChange(c.Assembly) }

func (c AddAssemblyFromExternalChange) Validate() error {
	if err := checkChanged(TypeAddAssemblyFromExternal, c.Header, []string{c.Assembly}); err != nil {
		return err
	}
	if c.AssemblyName == "" {
		return malformed("%s requires assemblyName", TypeAddAssemblyFromExternal)
	}
	if c.ExternalLocation.FA == "" || c.ExternalLocation.FAI == "" {
		return malformed("%s requires externalLocation.fa and externalLocation.fai", TypeAddAssemblyFromExternal)
	}
	if len(c.RefSeqs) == 0 {
		return malformed("%s requires at least one refSeq", TypeAddAssemblyFromExternal)
	}
	for _, rs := range c.RefSeqs {
		if err := rs.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c AddAssemblyFromExternalChange) ApplyToServer(ctx context.Context, store ServerDataStore) (domain.Result, error) {
	return store.RunInTransaction(ctx, c.Assembly, func(tx domain.Transaction) error {
		loc := c.ExternalLocation
		if err := createAssembly(tx, domain.Assembly{
			ID:               c.Assembly,
			Name:             c.AssemblyName,
			ExternalLocation: &loc,
			Status:           domain.AssemblyStatusReady,
		}, c.RefSeqs); err != nil {
			return err
		}
		return recordChange(tx, c)
	})
}

func createAssembly(tx domain.Transaction, a domain.Assembly, refSeqs []domain.RefSeqSummary) error {
	if _, exists := tx.Assembly(); exists {
		return errors.Wrapf(domain.ErrAssemblyAlreadyExists, "assembly id %q", a.ID)
	}
	if _, exists := tx.FindAssemblyByName(a.Name); exists {
		return errors.Wrapf(domain.ErrAssemblyAlreadyExists, "assembly %q", a.Name)
	}
	if err := tx.PutAssembly(a); err != nil {
		return err
	}
	for _, summary := range refSeqs {
		rs, err := summary.RefSeq(refSeqID(a.ID, summary.Name), a.ID)
		if err != nil {
			return err
		}
		if err := tx.PutRefSeq(rs); err != nil {
			return err
		}
	}
	return nil
}

// refSeqID is deterministic so the same assembly id and sequence name always
// map to the same refSeq id.
func refSeqID(assemblyID, name string) string {
	return assemblyID + ":" + name
}

// DeleteAssemblyChange removes an assembly with all of its data. Callers that
// want to replace an assembly submit this first.
type DeleteAssemblyChange struct {
	assemblyKind
	Header
}

func NewDeleteAssemblyChange(assemblyID string) DeleteAssemblyChange {
	return DeleteAssemblyChange{Header: Header{Assembly: assemblyID, Changed: []string{assemblyID}}}
}

func (DeleteAssemblyChange) TypeName() string { return TypeDeleteAssembly }

func (c DeleteAssemblyChange) MarshalJSON() ([]byte, error) {
	changed := c.Changed
	if changed == nil {
		changed = []string{}
	}
	return json.Marshal(struct {
		TypeName   string   `json:"typeName"`
		Assembly   string   `json:"assembly"`
		ChangedIDs []string `json:"changedIds"`
	}{TypeDeleteAssembly, c.Assembly, changed})
}

func (c DeleteAssemblyChange) Notification() string {
	return fmt.Sprintf("Assembly %q deleted.", c.Assembly)
}

// Inverse of a deletion is not reconstructible; assembly changes never enter
// the undo history.
func (c DeleteAssemblyChange) Inverse() Change { return c }

func (c DeleteAssemblyChange) Validate() error {
	return checkChanged(TypeDeleteAssembly, c.Header, []string{c.Assembly})
}

func (c DeleteAssemblyChange) ApplyToServer(ctx context.Context, store ServerDataStore) (domain.Result, error) {
	return store.RunInTransaction(ctx, c.Assembly, func(tx domain.Transaction) error {
		if _, ok := tx.Assembly(); !ok {
			return errors.Wrapf(domain.ErrAssemblyNotFound, "assembly %q", c.Assembly)
		}
		if err := tx.DeleteAssembly(); err != nil {
			return err
		}
		return recordChange(tx, c)
	})
}
