// Package checks holds the advisory validators run after every committed
// change. Their results are reported to clients and never block an edit.
package checks

import (
	"annocore/pkg/domain"
)

// Validator names, also used as CheckResult names.
const (
	NameChildOutsideParent = "ChildOutsideParent"
	NameZeroLengthFeature  = "ZeroLengthFeature"
	NameCDSLength          = "CDSLength"
	NameCodon              = "CodonCheck"
)

// Default returns the built-in validators in the order they run.
func Default() []domain.Validator {
	return []domain.Validator{
		ChildOutsideParent(),
		ZeroLengthFeature(),
		CDSLength(),
		CodonCheck(),
	}
}

// NewDefaultPipeline returns a pipeline with every built-in validator.
func NewDefaultPipeline() *domain.Pipeline {
	return domain.NewPipeline(Default()...)
}

// walk visits every feature in pre-order, passing its parent (nil at the top).
func walk(features []domain.Feature, fn func(f, parent *domain.Feature)) {
	var visit func(f, parent *domain.Feature)
	visit = func(f, parent *domain.Feature) {
		fn(f, parent)
		for i := range f.Children {
			visit(&f.Children[i], f)
		}
	}
	for i := range features {
		visit(&features[i], nil)
	}
}
