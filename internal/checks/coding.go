package checks

import (
	"context"
	"fmt"
	"strings"

	"annocore/pkg/domain"
)

// codingSegments pairs every CDS child of an mRNA with its phased locations.
// Transcripts without CDS or exons yield nothing.
func codingSegments(mrna domain.Feature) []cdsSegments {
	locs, err := mrna.CDSLocations()
	if err != nil {
		return nil
	}
	var out []cdsSegments
	i := 0
	for _, child := range mrna.Children {
		if child.Type != domain.TypeCDS {
			continue
		}
		if len(locs[i]) > 0 {
			out = append(out, cdsSegments{cds: child, locs: locs[i]})
		}
		i++
	}
	return out
}

type cdsSegments struct {
	cds  domain.Feature
	locs []domain.CDSLocation
}

func (s cdsSegments) length() int64 {
	var n int64
	for _, l := range s.locs {
		n += l.Length()
	}
	return n
}

func mrnas(view domain.AssemblyView) []domain.Feature {
	var out []domain.Feature
	walk(view.Features(), func(f, _ *domain.Feature) {
		if f.Type == domain.TypeMRNA {
			out = append(out, *f)
		}
	})
	return out
}

// CDSLength flags coding sequences whose spliced length is not a multiple
// of three.
func CDSLength() domain.Validator { return cdsLength{} }

type cdsLength struct{}

func (cdsLength) Name() string { return NameCDSLength }

func (cdsLength) Validate(ctx context.Context, view domain.AssemblyView) ([]domain.CheckResult, error) {
	var out []domain.CheckResult
	for _, m := range mrnas(view) {
		for _, seg := range codingSegments(m) {
			n := seg.length()
			if n%3 == 0 {
				continue
			}
			out = append(out, domain.CheckResult{
				Name:    NameCDSLength,
				IDs:     []string{seg.cds.ID, m.ID},
				RefSeq:  m.RefSeq,
				Start:   seg.cds.Min,
				End:     seg.cds.Max,
				Message: fmt.Sprintf("CDS %s of %s has length %d, not a multiple of 3", seg.cds.ID, m.ID, n),
			})
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

var stopCodons = map[string]bool{"TAA": true, "TAG": true, "TGA": true}

const startCodon = "ATG"

// CodonCheck inspects the translated frame of every CDS whose sequence is
// loaded: missing start codon, missing stop codon and internal stop codons.
// Minus-strand transcripts are read from the reverse complement.
func CodonCheck() domain.Validator { return codonCheck{} }

type codonCheck struct{}

func (codonCheck) Name() string { return NameCodon }

func (codonCheck) Validate(ctx context.Context, view domain.AssemblyView) ([]domain.CheckResult, error) {
	var out []domain.CheckResult
	for _, m := range mrnas(view) {
		for _, seg := range codingSegments(m) {
			seq, ok := splice(view, m, seg.locs)
			if !ok || len(seq) < 3 {
				continue
			}
			out = append(out, inspectFrame(m, seg, seq)...)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// splice joins the coding segments in transcription order. It reports false
// when any part of the sequence is not loaded.
func splice(view domain.AssemblyView, m domain.Feature, locs []domain.CDSLocation) (string, bool) {
	var sb strings.Builder
	for _, l := range locs {
		part := view.Sequence(m.RefSeq, l.Min, l.Max)
		if int64(len(part)) != l.Length() {
			return "", false
		}
		if m.Strand == domain.StrandMinus {
			part = ReverseComplement(part)
		}
		sb.WriteString(strings.ToUpper(part))
	}
	return sb.String(), true
}

func inspectFrame(m domain.Feature, seg cdsSegments, seq string) []domain.CheckResult {
	var out []domain.CheckResult
	result := func(offset int64, msg string) domain.CheckResult {
		start, end := codonRange(m.Strand, seg.locs, offset)
		return domain.CheckResult{
			Name:    NameCodon,
			IDs:     []string{seg.cds.ID, m.ID},
			RefSeq:  m.RefSeq,
			Start:   start,
			End:     end,
			Message: msg,
		}
	}
	n := int64(len(seq))
	if seq[:3] != startCodon {
		out = append(out, result(0, fmt.Sprintf("CDS %s does not begin with a start codon (%s)", seg.cds.ID, seq[:3])))
	}
	last := n - n%3 - 3
	if last < 0 || !stopCodons[seq[last:last+3]] {
		out = append(out, result(max(last, 0), fmt.Sprintf("CDS %s does not end with a stop codon", seg.cds.ID)))
	}
	for off := int64(0); off+3 <= last; off += 3 {
		if codon := seq[off : off+3]; stopCodons[codon] {
			out = append(out, result(off, fmt.Sprintf("internal stop codon %s in CDS %s", codon, seg.cds.ID)))
		}
	}
	return out
}

// codonRange maps an offset of the spliced coding sequence back to a
// genomic interval of up to three bases within a single segment.
func codonRange(strand domain.Strand, locs []domain.CDSLocation, offset int64) (int64, int64) {
	for _, l := range locs {
		if offset >= l.Length() {
			offset -= l.Length()
			continue
		}
		if strand == domain.StrandMinus {
			end := l.Max - offset
			return max(end-3, l.Min), end
		}
		start := l.Min + offset
		return start, min(start+3, l.Max)
	}
	last := locs[len(locs)-1]
	return last.Min, last.Max
}

var complement = strings.NewReplacer(
	"A", "T", "T", "A", "C", "G", "G", "C",
	"a", "t", "t", "a", "c", "g", "g", "c",
	"N", "N", "n", "n",
)

// ReverseComplement returns the reverse complement of a DNA sequence.
// Characters other than ACGTN pass through unchanged.
func ReverseComplement(seq string) string {
	b := []byte(complement.Replace(seq))
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}
