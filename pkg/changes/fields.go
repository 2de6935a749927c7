package changes

import (
	"context"

	"annocore/pkg/domain"
)

const (
	TypeFeatureAttribute = "FeatureAttributeChange"
	TypeType             = "TypeChange"
	TypeStrand           = "StrandChange"
)

// FeatureAttributeItem replaces the whole attribute map of one feature.
type FeatureAttributeItem struct {
	FeatureID     string              `json:"featureId"`
	OldAttributes map[string][]string `json:"oldAttributes"`
	NewAttributes map[string][]string `json:"newAttributes"`
}

// FeatureAttributeChange replaces attribute maps.
type FeatureAttributeChange struct {
	featureKind
	Header
	Items []FeatureAttributeItem
}

func NewFeatureAttributeChange(assemblyID string, items ...FeatureAttributeItem) FeatureAttributeChange {
	return FeatureAttributeChange{Header: Header{Assembly: assemblyID, Changed: itemIDs(items, func(i FeatureAttributeItem) string { return i.FeatureID })}, Items: items}
}

func (FeatureAttributeChange) TypeName() string { return TypeFeatureAttribute }

func (c FeatureAttributeChange) MarshalJSON() ([]byte, error) {
	return marshalChange(TypeFeatureAttribute, c.Header, c.Items)
}

func (c FeatureAttributeChange) Inverse() Change {
	items := reversedItems(c.Items)
	for i := range items {
		items[i].OldAttributes, items[i].NewAttributes = items[i].NewAttributes, items[i].OldAttributes
	}
	return FeatureAttributeChange{Header: c.reversed(), Items: items}
}

func (c FeatureAttributeChange) Validate() error {
	if err := requireItems(TypeFeatureAttribute, len(c.Items)); err != nil {
		return err
	}
	if err := checkChanged(TypeFeatureAttribute, c.Header, itemIDs(c.Items, func(i FeatureAttributeItem) string { return i.FeatureID })); err != nil {
		return err
	}
	for i, item := range c.Items {
		if err := requireFeatureID(TypeFeatureAttribute, i, item.FeatureID); err != nil {
			return err
		}
	}
	return nil
}

func (c FeatureAttributeChange) apply(ws Workspace) error {
	tree := ws.Features()
	for i, item := range c.Items {
		f, ok := tree.Lookup(item.FeatureID)
		if !ok {
			return domain.FeatureNotFound(item.FeatureID)
		}
		if !domain.AttributesEqual(f.Attributes, item.OldAttributes) {
			return domain.StaleChange(i, item.FeatureID, "attributes", item.OldAttributes, f.Attributes)
		}
		if err := tree.SetAttributes(item.FeatureID, item.NewAttributes); err != nil {
			return err
		}
	}
	return nil
}

func (c FeatureAttributeChange) ApplyToClient(store ClientDataStore) error {
	return store.Mutate(c.Assembly, c.apply)
}

func (c FeatureAttributeChange) ApplyToServer(ctx context.Context, store ServerDataStore) (domain.Result, error) {
	return applyFeatureChange(ctx, store, c, c.apply)
}

// TypeItem changes the type of one feature.
type TypeItem struct {
	FeatureID string `json:"featureId"`
	OldType   string `json:"oldType"`
	NewType   string `json:"newType"`
}

// TypeChange changes feature types.
type TypeChange struct {
	featureKind
	Header
	Items []TypeItem
}

func NewTypeChange(assemblyID string, items ...TypeItem) TypeChange {
	return TypeChange{Header: Header{Assembly: assemblyID, Changed: itemIDs(items, func(i TypeItem) string { return i.FeatureID })}, Items: items}
}

func (TypeChange) TypeName() string { return TypeType }

func (c TypeChange) MarshalJSON() ([]byte, error) {
	return marshalChange(TypeType, c.Header, c.Items)
}

func (c TypeChange) Inverse() Change {
	items := reversedItems(c.Items)
	for i := range items {
		items[i].OldType, items[i].NewType = items[i].NewType, items[i].OldType
	}
	return TypeChange{Header: c.reversed(), Items: items}
}

func (c TypeChange) Validate() error {
	if err := requireItems(TypeType, len(c.Items)); err != nil {
		return err
	}
	if err := checkChanged(TypeType, c.Header, itemIDs(c.Items, func(i TypeItem) string { return i.FeatureID })); err != nil {
		return err
	}
	for i, item := range c.Items {
		if err := requireFeatureID(TypeType, i, item.FeatureID); err != nil {
			return err
		}
	}
	return nil
}

func (c TypeChange) apply(ws Workspace) error {
	tree := ws.Features()
	for i, item := range c.Items {
		f, ok := tree.Lookup(item.FeatureID)
		if !ok {
			return domain.FeatureNotFound(item.FeatureID)
		}
		if f.Type != item.OldType {
			return domain.StaleChange(i, item.FeatureID, "type", item.OldType, f.Type)
		}
		if err := tree.SetType(item.FeatureID, item.NewType); err != nil {
			return err
		}
	}
	return nil
}

func (c TypeChange) ApplyToClient(store ClientDataStore) error {
	return store.Mutate(c.Assembly, c.apply)
}

func (c TypeChange) ApplyToServer(ctx context.Context, store ServerDataStore) (domain.Result, error) {
	return applyFeatureChange(ctx, store, c, c.apply)
}

// StrandItem changes the strand of one feature.
type StrandItem struct {
	FeatureID string        `json:"featureId"`
	OldStrand domain.Strand `json:"oldStrand"`
	NewStrand domain.Strand `json:"newStrand"`
}

// StrandChange changes feature strands.
type StrandChange struct {
	featureKind
	Header
	Items []StrandItem
}

func NewStrandChange(assemblyID string, items ...StrandItem) StrandChange {
	return StrandChange{Header: Header{Assembly: assemblyID, Changed: itemIDs(items, func(i StrandItem) string { return i.FeatureID })}, Items: items}
}

func (StrandChange) TypeName() string { return TypeStrand }

func (c StrandChange) MarshalJSON() ([]byte, error) {
	return marshalChange(TypeStrand, c.Header, c.Items)
}

func (c StrandChange) Inverse() Change {
	items := reversedItems(c.Items)
	for i := range items {
		items[i].OldStrand, items[i].NewStrand = items[i].NewStrand, items[i].OldStrand
	}
	return StrandChange{Header: c.reversed(), Items: items}
}

func (c StrandChange) Validate() error {
	if err := requireItems(TypeStrand, len(c.Items)); err != nil {
		return err
	}
	if err := checkChanged(TypeStrand, c.Header, itemIDs(c.Items, func(i StrandItem) string { return i.FeatureID })); err != nil {
		return err
	}
	for i, item := range c.Items {
		if err := requireFeatureID(TypeStrand, i, item.FeatureID); err != nil {
			return err
		}
		if !item.OldStrand.Valid() || !item.NewStrand.Valid() {
			return malformed("%s item %d has an invalid strand", TypeStrand, i)
		}
	}
	return nil
}

func (c StrandChange) apply(ws Workspace) error {
	tree := ws.Features()
	for i, item := range c.Items {
		f, ok := tree.Lookup(item.FeatureID)
		if !ok {
			return domain.FeatureNotFound(item.FeatureID)
		}
		if f.Strand != item.OldStrand {
			return domain.StaleChange(i, item.FeatureID, "strand", item.OldStrand, f.Strand)
		}
		if err := tree.SetStrand(item.FeatureID, item.NewStrand); err != nil {
			return err
		}
	}
	return nil
}

func (c StrandChange) ApplyToClient(store ClientDataStore) error {
	return store.Mutate(c.Assembly, c.apply)
}

func (c StrandChange) ApplyToServer(ctx context.Context, store ServerDataStore) (domain.Result, error) {
	return applyFeatureChange(ctx, store, c, c.apply)
}
