package checks

import (
	"context"
	"fmt"

	"annocore/pkg/domain"
)

// ChildOutsideParent flags children that extend beyond their parent.
func ChildOutsideParent() domain.Validator { return childOutsideParent{} }

type childOutsideParent struct{}

func (childOutsideParent) Name() string { return NameChildOutsideParent }

func (childOutsideParent) Validate(ctx context.Context, view domain.AssemblyView) ([]domain.CheckResult, error) {
	var out []domain.CheckResult
	walk(view.Features(), func(f, parent *domain.Feature) {
		if parent == nil || (f.Min >= parent.Min && f.Max <= parent.Max) {
			return
		}
		out = append(out, domain.CheckResult{
			Name:   NameChildOutsideParent,
			IDs:    []string{f.ID},
			RefSeq: f.RefSeq,
			Start:  f.Min,
			End:    f.Max,
			Message: fmt.Sprintf("%s %s [%d,%d) extends outside parent %s [%d,%d)",
				f.Type, f.ID, f.Min, f.Max, parent.ID, parent.Min, parent.Max),
		})
	})
	return out, ctx.Err()
}

// ZeroLengthFeature flags features whose min equals their max.
func ZeroLengthFeature() domain.Validator { return zeroLengthFeature{} }

type zeroLengthFeature struct{}

func (zeroLengthFeature) Name() string { return NameZeroLengthFeature }

func (zeroLengthFeature) Validate(ctx context.Context, view domain.AssemblyView) ([]domain.CheckResult, error) {
	var out []domain.CheckResult
	walk(view.Features(), func(f, _ *domain.Feature) {
		if f.Length() != 0 {
			return
		}
		out = append(out, domain.CheckResult{
			Name:    NameZeroLengthFeature,
			IDs:     []string{f.ID},
			RefSeq:  f.RefSeq,
			Start:   f.Min,
			End:     f.Max,
			Message: fmt.Sprintf("%s %s has zero length", f.Type, f.ID),
		})
	})
	return out, ctx.Err()
}
