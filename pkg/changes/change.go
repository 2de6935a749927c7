// Package changes defines the closed set of serialisable edit records that
// mutate annotation data. Every change knows how to apply itself to a client
// working copy or inside a server transaction, and how to produce its inverse.
package changes

import (
	"context"
	"encoding/json"
	"slices"

	"annocore/pkg/domain"

	"github.com/cockroachdb/errors"
)

// Kind separates feature edits, which enter the undo history, from
// assembly-level changes, which do not.
type Kind int

const (
	KindFeature Kind = iota
	KindAssembly
)

// Change is one atomic edit intent. Implementations are immutable values.
type Change interface {
	json.Marshaler
	TypeName() string
	AssemblyID() string
	ChangedIDs() []string
	Kind() Kind
	// Validate checks the change is well formed without looking at any
	// store: items are present and complete, and ChangedIDs agrees with them.
	Validate() error
	// Inverse returns the change that undoes this one: items reversed and
	// old/new values swapped.
	Inverse() Change
	// Notification is the message shown to a user after the change landed.
	Notification() string
	// ApplyToClient mutates the client copy without contacting any remote
	// collaborator. Either every item lands or none does.
	ApplyToClient(store ClientDataStore) error
	// ApplyToServer validates and applies every item inside one store
	// transaction scoped to AssemblyID.
	ApplyToServer(ctx context.Context, store ServerDataStore) (domain.Result, error)
}

// Workspace is the working copy of one assembly that a change mutates.
type Workspace interface {
	Features() *domain.Tree
	HasRefSeq(id string) bool
}

// ClientDataStore holds the optimistic client copy. Mutate runs fn against a
// working copy and swaps it in only when fn returns nil.
type ClientDataStore interface {
	Mutate(assemblyID string, fn func(Workspace) error) error
}

// ServerDataStore is the part of the authoritative store changes rely on.
type ServerDataStore interface {
	RunInTransaction(ctx context.Context, assemblyID string, fn func(domain.Transaction) error) (domain.Result, error)
}

// State tracks a submission through Constructed, Validating, then Applied or
// Rejected.
type State string

const (
	StateConstructed State = "constructed"
	StateValidating  State = "validating"
	StateApplied     State = "applied"
	StateRejected    State = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateApplied || s == StateRejected }

// Header carries the routing fields shared by every change.
type Header struct {
	Assembly string
	Changed  []string
}

// AssemblyID returns the owning assembly id.
func (h Header) AssemblyID() string { return h.Assembly }

// ChangedIDs returns the ids the change touches, in item order.
func (h Header) ChangedIDs() []string { return slices.Clone(h.Changed) }

func (h Header) reversed() Header {
	ids := slices.Clone(h.Changed)
	slices.Reverse(ids)
	return Header{Assembly: h.Assembly, Changed: ids}
}

type featureKind struct{}

func (featureKind) Kind() Kind           { return KindFeature }
func (featureKind) Notification() string { return "" }

type assemblyKind struct{}

func (assemblyKind) Kind() Kind { return KindAssembly }

// Assembly-level changes leave the client copy alone; the client refetches
// the assembly after they commit.
func (assemblyKind) ApplyToClient(ClientDataStore) error { return nil }

func reversedItems[T any](items []T) []T {
	out := slices.Clone(items)
	slices.Reverse(out)
	return out
}

type txWorkspace struct{ tx domain.Transaction }

func (w txWorkspace) Features() *domain.Tree { return w.tx.Features() }

func (w txWorkspace) HasRefSeq(id string) bool {
	_, ok := w.tx.FindRefSeq(id)
	return ok
}

// applyFeatureChange is the shared server path of every feature-level change.
func applyFeatureChange(ctx context.Context, store ServerDataStore, c Change, apply func(Workspace) error) (domain.Result, error) {
	return store.RunInTransaction(ctx, c.AssemblyID(), func(tx domain.Transaction) error {
		if _, ok := tx.Assembly(); !ok {
			return errors.Wrapf(domain.ErrAssemblyNotFound, "assembly %q", c.AssemblyID())
		}
		if err := apply(txWorkspace{tx: tx}); err != nil {
			return err
		}
		return recordChange(tx, c)
	})
}

func recordChange(tx domain.Transaction, c Change) error {
	payload, err := c.MarshalJSON()
	if err != nil {
		return errors.Wrap(err, "encode change record")
	}
	tx.RecordChange(domain.ChangeRecord{
		AssemblyID: c.AssemblyID(),
		TypeName:   c.TypeName(),
		ChangedIDs: c.ChangedIDs(),
		Payload:    payload,
	})
	return nil
}

// marshalChange writes the flat form for single-item changes and nests the
// items under "changes" otherwise.
func marshalChange[T any](typeName string, h Header, items []T) ([]byte, error) {
	obj := make(map[string]json.RawMessage)
	if len(items) == 1 {
		raw, err := json.Marshal(items[0])
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
	} else {
		raw, err := json.Marshal(items)
		if err != nil {
			return nil, err
		}
		obj["changes"] = raw
	}
	changed := h.Changed
	if changed == nil {
		changed = []string{}
	}
	for key, value := range map[string]any{
		"typeName":   typeName,
		"assembly":   h.Assembly,
		"changedIds": changed,
	} {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		obj[key] = raw
	}
	return json.Marshal(obj)
}

func requireItems(typeName string, n int) error {
	if n == 0 {
		return malformed("%s has no items", typeName)
	}
	return nil
}

func requireFeatureID(typeName string, index int, id string) error {
	if id == "" {
		return malformed("%s item %d has no featureId", typeName, index)
	}
	return nil
}

// checkChanged rejects a missing assembly and changed ids that disagree with
// the ids the items touch.
func checkChanged(typeName string, h Header, want []string) error {
	if h.Assembly == "" {
		return malformed("%s has no assembly", typeName)
	}
	if !slices.Equal(h.Changed, want) {
		return malformed("%s changedIds %q do not match its items %q", typeName, h.Changed, want)
	}
	return nil
}

func malformed(format string, args ...any) error {
	return errors.Wrapf(domain.ErrMalformedChange, format, args...)
}

func itemIDs[T any](items []T, id func(T) string) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = id(item)
	}
	return ids
}
