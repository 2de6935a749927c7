package domain

import (
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// AssemblyStatus tracks the lifecycle of an assembly record.
type AssemblyStatus string

const (
	AssemblyStatusReady   AssemblyStatus = "ready"
	AssemblyStatusPending AssemblyStatus = "pending"
)

// ExternalLocation points at an indexed FASTA hosted outside the store.
type ExternalLocation struct {
	FA  string `json:"fa"`
	FAI string `json:"fai"`
}

// Assembly is a named genome build that owns refSeqs and features.
type Assembly struct {
	ID               string            `json:"_id"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	FileID           string            `json:"fileId,omitempty"`
	ExternalLocation *ExternalLocation `json:"externalLocation,omitempty"`
	Status           AssemblyStatus    `json:"status,omitempty"`
}

// NewAssemblyID returns a fresh assembly identifier.
func NewAssemblyID() string { return uuid.NewString() }

// SequenceBlock is a contiguous stretch of residues [Start,Stop) of a refSeq.
type SequenceBlock struct {
	Start    int64  `json:"start"`
	Stop     int64  `json:"stop"`
	Sequence string `json:"sequence"`
}

// RefSeq is one reference sequence (chromosome, contig) of an assembly.
type RefSeq struct {
	ID          string          `json:"_id"`
	Name        string          `json:"name"`
	Assembly    string          `json:"assembly"`
	Length      int64           `json:"length"`
	Description string          `json:"description,omitempty"`
	Sequence    []SequenceBlock `json:"sequence,omitempty"`
}

// RefSeqSummary is the per-sequence index entry of an uploaded file or an
// external assembly. Sequence optionally carries residues the uploader has
// already extracted; they are stored with the refSeq when the assembly is
// created.
type RefSeqSummary struct {
	Name        string          `json:"name"`
	Length      int64           `json:"length"`
	Description string          `json:"description,omitempty"`
	Sequence    []SequenceBlock `json:"sequence,omitempty"`
}

// Validate checks that every sequence block lies inside [0,Length) and holds
// exactly as many residues as its range.
func (s RefSeqSummary) Validate() error {
	for i, b := range s.Sequence {
		if b.Start < 0 || b.Stop < b.Start || b.Stop > s.Length {
			return errors.Wrapf(ErrMalformedChange,
				"refSeq %q block %d [%d,%d) is outside [0,%d)", s.Name, i, b.Start, b.Stop, s.Length)
		}
		if int64(len(b.Sequence)) != b.Stop-b.Start {
			return errors.Wrapf(ErrMalformedChange,
				"refSeq %q block %d holds %d residues for [%d,%d)", s.Name, i, len(b.Sequence), b.Start, b.Stop)
		}
	}
	return nil
}

// RefSeq builds the stored refSeq for this entry, merging its sequence
// blocks.
func (s RefSeqSummary) RefSeq(id, assemblyID string) (RefSeq, error) {
	if err := s.Validate(); err != nil {
		return RefSeq{}, err
	}
	rs := RefSeq{ID: id, Name: s.Name, Assembly: assemblyID, Length: s.Length, Description: s.Description}
	for _, b := range s.Sequence {
		if err := rs.AddSequence(b); err != nil {
			return RefSeq{}, err
		}
	}
	return rs, nil
}

// AddSequence merges a block into the refSeq, coalescing overlapping and
// adjacent blocks so that the stored blocks never overlap.
func (r *RefSeq) AddSequence(block SequenceBlock) error {
	if int64(len(block.Sequence)) != block.Stop-block.Start {
		return errors.Wrapf(ErrMalformedChange,
			"sequence length %d does not match declared range [%d,%d)", len(block.Sequence), block.Start, block.Stop)
	}
	blocks := append(slices.Clone(r.Sequence), block)
	slices.SortStableFunc(blocks, func(a, b SequenceBlock) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})
	merged := make([]SequenceBlock, 0, len(blocks))
	for _, cur := range blocks {
		if len(merged) == 0 {
			merged = append(merged, cur)
			continue
		}
		last := &merged[len(merged)-1]
		if last.Stop < cur.Start {
			merged = append(merged, cur)
			continue
		}
		if cur.Stop > last.Stop {
			var sb strings.Builder
			sb.WriteString(last.Sequence)
			sb.WriteString(cur.Sequence[last.Stop-cur.Start:])
			last.Sequence = sb.String()
			last.Stop = cur.Stop
		}
	}
	r.Sequence = merged
	return nil
}

// GetSequence returns residues [start,stop) when a single stored block holds
// the whole range, otherwise "".
func (r RefSeq) GetSequence(start, stop int64) string {
	for _, b := range r.Sequence {
		if start >= b.Start && stop <= b.Stop && start <= stop {
			return b.Sequence[start-b.Start : stop-b.Start]
		}
	}
	return ""
}

// Clone returns a deep copy.
func (r RefSeq) Clone() RefSeq {
	r.Sequence = slices.Clone(r.Sequence)
	return r
}

// File is an uploaded sequence resource. The refSeq index is produced by the
// uploader; the core never parses the blob itself.
type File struct {
	ID       string          `json:"_id"`
	Name     string          `json:"name"`
	Checksum string          `json:"checksum"`
	Type     string          `json:"type"`
	BlobKey  string          `json:"blobKey"`
	Size     int64           `json:"size"`
	RefSeqs  []RefSeqSummary `json:"refSeqs"`
}

// AssemblySnapshot is a full copy of one assembly as held by a store. It is
// what clients fetch to (re)build their local copy.
type AssemblySnapshot struct {
	Assembly     Assembly      `json:"assembly"`
	RefSeqs      []RefSeq      `json:"refSeqs"`
	Features     []Feature     `json:"features"`
	CheckResults []CheckResult `json:"checkResults"`
}

// Tree rebuilds the feature tree of the snapshot.
func (s AssemblySnapshot) Tree() (*Tree, error) {
	tree := NewTree()
	for _, f := range s.Features {
		if err := tree.Insert("", f); err != nil {
			return nil, err
		}
	}
	return tree, nil
}
