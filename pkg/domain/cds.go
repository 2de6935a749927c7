package domain

import (
	"slices"

	"github.com/cockroachdb/errors"
)

// CDSLocation is one phased coding segment of a transcript.
type CDSLocation struct {
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
	Phase int   `json:"phase"`
}

// Length returns max - min.
func (l CDSLocation) Length() int64 { return l.Max - l.Min }

// CDSLocations computes the phased coding segments of an mRNA. One slice is
// returned per CDS child; each holds the CDS intersected with every exon
// child, in transcription order.
func (f Feature) CDSLocations() ([][]CDSLocation, error) {
	if f.Type != TypeMRNA {
		return nil, errors.Wrapf(ErrNotMRNA, "feature %q has type %q", f.ID, f.Type)
	}
	if len(f.Children) == 0 {
		return nil, errors.Wrapf(ErrNoCdsOrExons, "feature %q", f.ID)
	}
	var cdsChildren []Feature
	for _, child := range f.Children {
		if child.Type == TypeCDS {
			cdsChildren = append(cdsChildren, child)
		}
	}
	if len(cdsChildren) == 0 {
		return nil, errors.Wrapf(ErrNoCds, "feature %q", f.ID)
	}

	out := make([][]CDSLocation, 0, len(cdsChildren))
	for _, cds := range cdsChildren {
		var locs []CDSLocation
		for _, exon := range f.Children {
			if exon.Type != TypeExon {
				continue
			}
			if lo, hi, ok := intersect(cds.Min, cds.Max, exon.Min, exon.Max); ok {
				locs = append(locs, CDSLocation{Min: lo, Max: hi})
			}
		}
		slices.SortStableFunc(locs, func(a, b CDSLocation) int {
			switch {
			case a.Min < b.Min:
				return -1
			case a.Min > b.Min:
				return 1
			}
			return 0
		})
		if f.Strand == StrandMinus {
			slices.Reverse(locs)
		}
		phase := 0
		for i := range locs {
			locs[i].Phase = phase
			phase = nextPhase(locs[i].Length(), phase)
		}
		out = append(out, locs)
	}
	return out, nil
}

func nextPhase(length int64, phase int) int {
	return int((3 - ((length-int64(phase)+3)%3 + 3) % 3) % 3)
}

// intersect returns the overlap of [aMin,aMax) and [bMin,bMax). Ranges that
// only touch do not overlap.
func intersect(aMin, aMax, bMin, bMax int64) (int64, int64, bool) {
	if aMin >= bMax || bMin >= aMax {
		return 0, 0, false
	}
	return max(aMin, bMin), min(aMax, bMax), true
}
