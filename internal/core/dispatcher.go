package core

import (
	"context"

	"annocore/pkg/changes"
	"annocore/pkg/domain"
)

// Dispatcher carries a change to the authoritative store and fetches
// authoritative assembly state. Implementations that lose track of a change
// in flight (transport failure, timeout) must return an error that
// domain.ReasonOf classifies as ReasonUnknownOutcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, c changes.Change) (domain.Result, error)
	Fetch(ctx context.Context, assemblyID string) (domain.AssemblySnapshot, error)
}

// LocalDispatcher dispatches to an in-process Service.
type LocalDispatcher struct {
	svc *Service
}

var _ Dispatcher = (*LocalDispatcher)(nil)

// NewLocalDispatcher returns a dispatcher bound to svc.
func NewLocalDispatcher(svc *Service) *LocalDispatcher {
	return &LocalDispatcher{svc: svc}
}

// Dispatch applies c through the service.
func (d *LocalDispatcher) Dispatch(ctx context.Context, c changes.Change) (domain.Result, error) {
	if err := ctx.Err(); err != nil {
		return domain.Result{}, err
	}
	return d.svc.SubmitChange(ctx, c)
}

// Fetch returns the committed snapshot of an assembly.
func (d *LocalDispatcher) Fetch(ctx context.Context, assemblyID string) (domain.AssemblySnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.AssemblySnapshot{}, err
	}
	return d.svc.Snapshot(assemblyID)
}
