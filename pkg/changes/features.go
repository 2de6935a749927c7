package changes

import (
	"context"

	"annocore/pkg/domain"

	"github.com/cockroachdb/errors"
)

const (
	TypeAddFeature    = "AddFeatureChange"
	TypeDeleteFeature = "DeleteFeatureChange"
)

// AddFeatureItem adds a feature subtree, below ParentFeatureID when set or
// at the top level of its refSeq otherwise. Restore marks the re-add of a
// deleted snapshot, which skips the parent range check.
type AddFeatureItem struct {
	AddedFeature    domain.Feature `json:"addedFeature"`
	ParentFeatureID string         `json:"parentFeatureId,omitempty"`
	Restore         bool           `json:"restore,omitempty"`
}

// AddFeatureChange creates feature subtrees.
type AddFeatureChange struct {
	featureKind
	Header
	Items []AddFeatureItem
}

func NewAddFeatureChange(assemblyID string, items ...AddFeatureItem) AddFeatureChange {
	return AddFeatureChange{
		Header: Header{Assembly: assemblyID, Changed: itemIDs(items, func(i AddFeatureItem) string { return i.AddedFeature.ID })},
		Items:  items,
	}
}

func (AddFeatureChange) TypeName() string { return TypeAddFeature }

func (c AddFeatureChange) MarshalJSON() ([]byte, error) {
	return marshalChange(TypeAddFeature, c.Header, c.Items)
}

// Inverse deletes the added subtrees, carrying them as the expected snapshots.
func (c AddFeatureChange) Inverse() Change {
	items := make([]DeleteFeatureItem, 0, len(c.Items))
	for _, item := range reversedItems(c.Items) {
		items = append(items, DeleteFeatureItem{
			FeatureID:       item.AddedFeature.ID,
			ParentFeatureID: item.ParentFeatureID,
			DeletedFeature:  item.AddedFeature.Clone(),
		})
	}
	return DeleteFeatureChange{Header: c.reversed(), Items: items}
}

func (c AddFeatureChange) Validate() error {
	if err := requireItems(TypeAddFeature, len(c.Items)); err != nil {
		return err
	}
	if err := checkChanged(TypeAddFeature, c.Header, itemIDs(c.Items, func(i AddFeatureItem) string { return i.AddedFeature.ID })); err != nil {
		return err
	}
	for i, item := range c.Items {
		if err := requireFeatureID(TypeAddFeature, i, item.AddedFeature.ID); err != nil {
			return err
		}
		if err := item.AddedFeature.Validate(); err != nil {
			return errors.Wrapf(err, "%s item %d", TypeAddFeature, i)
		}
	}
	return nil
}

func (c AddFeatureChange) apply(ws Workspace) error {
	tree := ws.Features()
	for i, item := range c.Items {
		f := item.AddedFeature
		if item.ParentFeatureID == "" && !ws.HasRefSeq(f.RefSeq) {
			return errors.Wrapf(domain.ErrRefSeqNotFound, "item %d: refSeq %q", i, f.RefSeq)
		}
		insert := tree.Insert
		if item.Restore {
			insert = tree.Restore
		}
		if err := insert(item.ParentFeatureID, f); err != nil {
			return errors.Wrapf(err, "item %d", i)
		}
	}
	return nil
}

func (c AddFeatureChange) ApplyToClient(store ClientDataStore) error {
	return store.Mutate(c.Assembly, c.apply)
}

func (c AddFeatureChange) ApplyToServer(ctx context.Context, store ServerDataStore) (domain.Result, error) {
	return applyFeatureChange(ctx, store, c, c.apply)
}

// DeleteFeatureItem removes a feature and its subtree. DeletedFeature is the
// expected snapshot of the subtree; it is what the inverse re-adds.
type DeleteFeatureItem struct {
	FeatureID       string         `json:"featureId"`
	ParentFeatureID string         `json:"parentFeatureId,omitempty"`
	DeletedFeature  domain.Feature `json:"deletedFeature"`
}

// DeleteFeatureChange removes feature subtrees.
type DeleteFeatureChange struct {
	featureKind
	Header
	Items []DeleteFeatureItem
}

func NewDeleteFeatureChange(assemblyID string, items ...DeleteFeatureItem) DeleteFeatureChange {
	return DeleteFeatureChange{
		Header: Header{Assembly: assemblyID, Changed: itemIDs(items, func(i DeleteFeatureItem) string { return i.FeatureID })},
		Items:  items,
	}
}

func (DeleteFeatureChange) TypeName() string { return TypeDeleteFeature }

func (c DeleteFeatureChange) MarshalJSON() ([]byte, error) {
	return marshalChange(TypeDeleteFeature, c.Header, c.Items)
}

// Inverse re-adds the captured snapshots under their former parents.
func (c DeleteFeatureChange) Inverse() Change {
	items := make([]AddFeatureItem, 0, len(c.Items))
	for _, item := range reversedItems(c.Items) {
		items = append(items, AddFeatureItem{
			AddedFeature:    item.DeletedFeature.Clone(),
			ParentFeatureID: item.ParentFeatureID,
			Restore:         true,
		})
	}
	return AddFeatureChange{Header: c.reversed(), Items: items}
}

func (c DeleteFeatureChange) Validate() error {
	if err := requireItems(TypeDeleteFeature, len(c.Items)); err != nil {
		return err
	}
	if err := checkChanged(TypeDeleteFeature, c.Header, itemIDs(c.Items, func(i DeleteFeatureItem) string { return i.FeatureID })); err != nil {
		return err
	}
	for i, item := range c.Items {
		if err := requireFeatureID(TypeDeleteFeature, i, item.FeatureID); err != nil {
			return err
		}
		if item.DeletedFeature.ID != item.FeatureID {
			return malformed("%s item %d: deletedFeature snapshot is for %q, not %q",
				TypeDeleteFeature, i, item.DeletedFeature.ID, item.FeatureID)
		}
	}
	return nil
}

func (c DeleteFeatureChange) apply(ws Workspace) error {
	tree := ws.Features()
	for i, item := range c.Items {
		current, ok := tree.FindByID(item.FeatureID)
		if !ok {
			return domain.FeatureNotFound(item.FeatureID)
		}
		parent, _ := tree.Parent(item.FeatureID)
		if parent != item.ParentFeatureID {
			return domain.StaleChange(i, item.FeatureID, "parent", item.ParentFeatureID, parent)
		}
		if !current.Equal(item.DeletedFeature) {
			return domain.StaleChange(i, item.FeatureID, "subtree", item.DeletedFeature, current)
		}
		if _, _, err := tree.Remove(item.FeatureID); err != nil {
			return err
		}
	}
	return nil
}

func (c DeleteFeatureChange) ApplyToClient(store ClientDataStore) error {
	return store.Mutate(c.Assembly, c.apply)
}

func (c DeleteFeatureChange) ApplyToServer(ctx context.Context, store ServerDataStore) (domain.Result, error) {
	return applyFeatureChange(ctx, store, c, c.apply)
}
