package domain

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Sentinel errors forming the change protocol failure taxonomy. Callers test
// with errors.Is; wrapped variants keep their sentinel via errors.Mark.
var (
	ErrFeatureNotFound           = errors.New("feature not found")
	ErrAssemblyNotFound          = errors.New("assembly not found")
	ErrRefSeqNotFound            = errors.New("reference sequence not found")
	ErrFileNotFound              = errors.New("file not found")
	ErrStaleChange               = errors.New("stale change")
	ErrInvalidRange              = errors.New("invalid range")
	ErrParentCoordinateViolation = errors.New("parent coordinate violation")
	ErrAssemblyAlreadyExists     = errors.New("assembly already exists")
	ErrDuplicateFeature          = errors.New("duplicate feature id")
	ErrUnknownChangeType         = errors.New("unknown change type")
	ErrMalformedChange           = errors.New("malformed change")
	ErrNotMRNA                   = errors.New("only mRNA features have CDS locations")
	ErrNoCdsOrExons              = errors.New("no CDS or exons in mRNA")
	ErrNoCds                     = errors.New("no CDS in mRNA")
	ErrUnknownOutcome            = errors.New("change outcome unknown")
	ErrReconcileRequired         = errors.New("reconcile required before editing")
)

// Reason is the stable, serialisable discriminator of a change failure.
type Reason string

// Failure reasons reported at the submission boundary.
const (
	ReasonNone                      Reason = ""
	ReasonFeatureNotFound           Reason = "FeatureNotFound"
	ReasonAssemblyNotFound          Reason = "AssemblyNotFound"
	ReasonRefSeqNotFound            Reason = "RefSeqNotFound"
	ReasonFileNotFound              Reason = "FileNotFound"
	ReasonStaleChange               Reason = "StaleChange"
	ReasonInvalidRange              Reason = "InvalidRange"
	ReasonParentCoordinateViolation Reason = "ParentCoordinateViolation"
	ReasonAssemblyAlreadyExists     Reason = "AssemblyAlreadyExists"
	ReasonDuplicateFeature          Reason = "DuplicateFeature"
	ReasonUnknownChangeType         Reason = "UnknownChangeType"
	ReasonMalformedChange           Reason = "MalformedChange"
	ReasonUnknownOutcome            Reason = "UnknownOutcome"
	ReasonReconcileRequired         Reason = "ReconcileRequired"
	ReasonInternal                  Reason = "Internal"
)

var reasonSentinels = []struct {
	reason   Reason
	sentinel error
}{
	{ReasonStaleChange, ErrStaleChange},
	{ReasonFeatureNotFound, ErrFeatureNotFound},
	{ReasonAssemblyNotFound, ErrAssemblyNotFound},
	{ReasonRefSeqNotFound, ErrRefSeqNotFound},
	{ReasonFileNotFound, ErrFileNotFound},
	{ReasonInvalidRange, ErrInvalidRange},
	{ReasonParentCoordinateViolation, ErrParentCoordinateViolation},
	{ReasonAssemblyAlreadyExists, ErrAssemblyAlreadyExists},
	{ReasonDuplicateFeature, ErrDuplicateFeature},
	{ReasonUnknownChangeType, ErrUnknownChangeType},
	{ReasonMalformedChange, ErrMalformedChange},
	{ReasonReconcileRequired, ErrReconcileRequired},
	{ReasonUnknownOutcome, ErrUnknownOutcome},
}

// ReasonOf classifies err into a Reason. Context deadline and cancellation
// map to ReasonUnknownOutcome because the remote side may still have applied
// the change.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	for _, rs := range reasonSentinels {
		if errors.Is(err, rs.sentinel) {
			return rs.reason
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ReasonUnknownOutcome
	}
	return ReasonInternal
}

// ErrorForReason rebuilds a typed error from a reason and message received
// across a transport boundary.
func ErrorForReason(reason Reason, message string) error {
	for _, rs := range reasonSentinels {
		if rs.reason == reason {
			return errors.Mark(errors.New(message), rs.sentinel)
		}
	}
	return errors.New(message)
}

// StaleChangeError reports that an asserted prior value no longer matches the
// stored state. Index is the zero-based position of the offending item within
// its batch.
type StaleChangeError struct {
	Index     int
	FeatureID string
	Field     string
	Expected  any
	Current   any
}

func (e *StaleChangeError) Error() string {
	return fmt.Sprintf("stale change at index %d: feature %q %s is %v, expected %v",
		e.Index, e.FeatureID, e.Field, e.Current, e.Expected)
}

// Is makes StaleChangeError match ErrStaleChange.
func (e *StaleChangeError) Is(target error) bool { return target == ErrStaleChange }

// StaleChange builds a marked StaleChangeError so both errors.Is(err,
// ErrStaleChange) and errors.As(err, **StaleChangeError) hold.
func StaleChange(index int, featureID, field string, expected, current any) error {
	return errors.Mark(&StaleChangeError{
		Index:     index,
		FeatureID: featureID,
		Field:     field,
		Expected:  expected,
		Current:   current,
	}, ErrStaleChange)
}

// FeatureNotFound builds a FeatureNotFound error naming the missing id.
func FeatureNotFound(id string) error {
	return errors.Wrapf(ErrFeatureNotFound, "feature %q", id)
}

// InvalidRange reports a min/max inversion.
func InvalidRange(id string, min, max int64) error {
	return errors.Wrapf(ErrInvalidRange, "feature %q: min %d is greater than max %d", id, min, max)
}
