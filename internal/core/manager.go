package core

import (
	"context"
	"fmt"
	"sync"

	"annocore/internal/clientstore"
	"annocore/pkg/changes"
	"annocore/pkg/domain"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNothingToUndo is returned by Undo on an empty history.
	ErrNothingToUndo = errors.New("nothing to undo")
	// ErrNothingToRedo is returned by Redo on an empty redo stack.
	ErrNothingToRedo = errors.New("nothing to redo")
)

// ChangeError is the error type of every rejected submission.
type ChangeError struct {
	Reason   domain.Reason
	TypeName string
	Err      error
}

func (e *ChangeError) Error() string {
	if e.TypeName == "" {
		return fmt.Sprintf("change rejected (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("%s rejected (%s): %v", e.TypeName, e.Reason, e.Err)
}

func (e *ChangeError) Unwrap() error { return e.Err }

// Ack reports the outcome of a submission.
type Ack struct {
	State        changes.State        `json:"state"`
	TypeName     string               `json:"typeName"`
	AssemblyID   string               `json:"assembly"`
	ChangedIDs   []string             `json:"changedIds"`
	Notification string               `json:"notification,omitempty"`
	CheckResults []domain.CheckResult `json:"checkResults,omitempty"`
	Warnings     []string             `json:"warnings,omitempty"`
}

type historyMode int

const (
	historyRecord historyMode = iota
	historySkip
)

// Manager owns every mutation of a client store. Submissions for one
// assembly are processed one at a time in arrival order; different
// assemblies proceed in parallel. Feature changes are applied tentatively to
// the client, dispatched, then either kept or rolled back with their inverse.
type Manager struct {
	client     *clientstore.Store
	dispatcher Dispatcher
	opts       options

	mu        sync.Mutex
	queues    map[string]*sync.Mutex
	undo      []changes.Change
	redo      []changes.Change
	untrusted map[string]map[string]struct{}
}

// NewManager constructs a manager over client that sends changes through
// dispatcher.
func NewManager(client *clientstore.Store, dispatcher Dispatcher, opts ...Option) *Manager {
	return &Manager{
		client:     client,
		dispatcher: dispatcher,
		opts:       buildOptions(opts),
		queues:     make(map[string]*sync.Mutex),
		untrusted:  make(map[string]map[string]struct{}),
	}
}

// Client returns the managed client store.
func (m *Manager) Client() *clientstore.Store { return m.client }

// Submit runs c through the full lifecycle and records it in the undo
// history when it is a feature change.
func (m *Manager) Submit(ctx context.Context, c changes.Change) (Ack, error) {
	return m.submit(ctx, c, historyRecord)
}

// SubmitSerialized decodes the wire form of a change and submits it.
func (m *Manager) SubmitSerialized(ctx context.Context, raw []byte) (Ack, error) {
	c, err := changes.Decode(raw)
	if err != nil {
		return Ack{State: changes.StateRejected}, &ChangeError{Reason: domain.ReasonOf(err), Err: err}
	}
	return m.Submit(ctx, c)
}

func (m *Manager) submit(ctx context.Context, c changes.Change, mode historyMode) (ack Ack, err error) {
	if c == nil {
		err = errors.Wrap(domain.ErrMalformedChange, "nil change")
		return Ack{State: changes.StateRejected}, &ChangeError{Reason: domain.ReasonMalformedChange, Err: err}
	}
	op := c.TypeName()
	ack = Ack{
		State:      changes.StateConstructed,
		TypeName:   op,
		AssemblyID: c.AssemblyID(),
		ChangedIDs: c.ChangedIDs(),
	}
	ctx, span := m.opts.tracer.Start(ctx, "submit "+op)
	start := m.opts.clock.Now()
	defer func() {
		span.End(err)
		m.opts.metrics.Observe(ctx, "submit."+op, err == nil, m.opts.clock.Now().Sub(start))
	}()
	reject := func(cause error) (Ack, error) {
		ack.State = changes.StateRejected
		reason := domain.ReasonOf(cause)
		m.opts.logger.Warn("submission rejected",
			"type", op, "assembly", c.AssemblyID(), "reason", string(reason), "error", cause)
		return ack, &ChangeError{Reason: reason, TypeName: op, Err: cause}
	}

	if err := c.Validate(); err != nil {
		return reject(err)
	}

	queue := m.queue(c.AssemblyID())
	queue.Lock()
	defer queue.Unlock()

	if err := m.guard(c); err != nil {
		return reject(err)
	}
	ack.State = changes.StateValidating

	// Without a loaded client copy there is nothing to apply optimistically;
	// the change goes straight to the dispatcher.
	tentative := c.Kind() == changes.KindFeature && m.client.Has(c.AssemblyID())
	if tentative {
		if err := c.ApplyToClient(m.client); err != nil {
			return reject(err)
		}
	}
	undoToken := c.Inverse()

	dctx := ctx
	if m.opts.submitTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, m.opts.submitTimeout)
		defer cancel()
	}
	res, derr := m.dispatcher.Dispatch(dctx, c)
	if derr != nil {
		if tentative {
			m.rollback(c, undoToken)
		}
		if domain.ReasonOf(derr) == domain.ReasonUnknownOutcome {
			m.markUntrusted(c.AssemblyID(), c.ChangedIDs())
			derr = errors.Mark(derr, domain.ErrUnknownOutcome)
		}
		return reject(derr)
	}

	if c.Kind() == changes.KindAssembly {
		m.afterAssemblyChange(ctx, c)
	} else {
		m.client.SetCheckResults(c.AssemblyID(), res.CheckResults)
		if mode == historyRecord {
			m.record(c)
		}
	}
	ack.State = changes.StateApplied
	ack.Notification = c.Notification()
	ack.CheckResults = res.CheckResults
	ack.Warnings = res.Warnings
	m.opts.logger.Debug("submission applied", "type", op, "assembly", c.AssemblyID(), "changed", ack.ChangedIDs)
	return ack, nil
}

// rollback reverts a tentative client apply. If the inverse cannot be
// applied the client copy is no longer known to be right, so the ids become
// untrusted.
func (m *Manager) rollback(c, undoToken changes.Change) {
	if err := undoToken.ApplyToClient(m.client); err != nil {
		m.opts.logger.Error("client rollback failed", "type", c.TypeName(), "assembly", c.AssemblyID(), "error", err)
		m.markUntrusted(c.AssemblyID(), c.ChangedIDs())
	}
}

func (m *Manager) afterAssemblyChange(ctx context.Context, c changes.Change) {
	assemblyID := c.AssemblyID()
	if c.TypeName() == changes.TypeDeleteAssembly {
		m.client.Drop(assemblyID)
		m.forgetAssembly(assemblyID)
		return
	}
	if err := m.load(ctx, assemblyID); err != nil {
		m.opts.logger.Warn("assembly committed but not loaded", "assembly", assemblyID, "error", err)
		m.markUntrusted(assemblyID, []string{assemblyID})
	}
}

// guard refuses changes that touch ids left in doubt by an unknown outcome.
func (m *Manager) guard(c changes.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.untrusted[c.AssemblyID()]
	if len(ids) == 0 {
		return nil
	}
	if _, ok := ids[c.AssemblyID()]; ok {
		return errors.Wrapf(domain.ErrReconcileRequired, "assembly %q", c.AssemblyID())
	}
	for _, id := range c.ChangedIDs() {
		if _, ok := ids[id]; ok {
			return errors.Wrapf(domain.ErrReconcileRequired, "feature %q", id)
		}
	}
	return nil
}

func (m *Manager) markUntrusted(assemblyID string, ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.untrusted[assemblyID]
	if !ok {
		set = make(map[string]struct{})
		m.untrusted[assemblyID] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

// Untrusted reports whether id must be reconciled before it can be edited.
func (m *Manager) Untrusted(assemblyID, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.untrusted[assemblyID][id]
	return ok
}

func (m *Manager) queue(assemblyID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[assemblyID]
	if !ok {
		q = &sync.Mutex{}
		m.queues[assemblyID] = q
	}
	return q
}

// Open loads the authoritative copy of an assembly into the client store.
func (m *Manager) Open(ctx context.Context, assemblyID string) error {
	queue := m.queue(assemblyID)
	queue.Lock()
	defer queue.Unlock()
	return m.load(ctx, assemblyID)
}

func (m *Manager) load(ctx context.Context, assemblyID string) error {
	snap, err := m.dispatcher.Fetch(ctx, assemblyID)
	if err != nil {
		return errors.Wrapf(err, "fetch assembly %q", assemblyID)
	}
	return m.client.Load(snap)
}

// Reconcile refetches an assembly, replacing the client copy, clearing every
// untrusted id and dropping the assembly's undo and redo entries. An assembly
// the authoritative store no longer has is dropped from the client.
func (m *Manager) Reconcile(ctx context.Context, assemblyID string) error {
	queue := m.queue(assemblyID)
	queue.Lock()
	defer queue.Unlock()
	err := m.load(ctx, assemblyID)
	switch {
	case errors.Is(err, domain.ErrAssemblyNotFound):
		m.client.Drop(assemblyID)
	case err != nil:
		return err
	}
	m.forgetAssembly(assemblyID)
	m.opts.logger.Info("assembly reconciled", "assembly", assemblyID, "present", err == nil)
	return nil
}

func (m *Manager) forgetAssembly(assemblyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.untrusted, assemblyID)
	keep := func(stack []changes.Change) []changes.Change {
		out := stack[:0]
		for _, c := range stack {
			if c.AssemblyID() != assemblyID {
				out = append(out, c)
			}
		}
		return out
	}
	m.undo = keep(m.undo)
	m.redo = keep(m.redo)
}

func (m *Manager) record(c changes.Change) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.undo = append(m.undo, c)
	m.redo = nil
}

// Undo submits the inverse of the most recent change. On failure the change
// stays at the top of the history.
func (m *Manager) Undo(ctx context.Context) (Ack, error) {
	c, ok := pop(&m.mu, &m.undo)
	if !ok {
		return Ack{}, ErrNothingToUndo
	}
	ack, err := m.submit(ctx, c.Inverse(), historySkip)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.undo = append(m.undo, c)
		return ack, err
	}
	m.redo = append(m.redo, c)
	return ack, nil
}

// Redo resubmits the most recently undone change.
func (m *Manager) Redo(ctx context.Context) (Ack, error) {
	c, ok := pop(&m.mu, &m.redo)
	if !ok {
		return Ack{}, ErrNothingToRedo
	}
	ack, err := m.submit(ctx, c, historySkip)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.redo = append(m.redo, c)
		return ack, err
	}
	m.undo = append(m.undo, c)
	return ack, nil
}

// CanUndo reports whether Undo has an entry to revert.
func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo) > 0
}

// CanRedo reports whether Redo has an entry to reapply.
func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redo) > 0
}

func pop(mu *sync.Mutex, stack *[]changes.Change) (changes.Change, bool) {
	mu.Lock()
	defer mu.Unlock()
	n := len(*stack)
	if n == 0 {
		return nil, false
	}
	c := (*stack)[n-1]
	*stack = (*stack)[:n-1]
	return c, true
}
