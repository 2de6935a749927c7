package changes

import (
	"context"

	"annocore/pkg/domain"
)

const (
	TypeLocationStart = "LocationStartChange"
	TypeLocationEnd   = "LocationEndChange"
)

// LocationStartItem moves the lower boundary of one feature.
type LocationStartItem struct {
	FeatureID string `json:"featureId"`
	OldStart  int64  `json:"oldStart"`
	NewStart  int64  `json:"newStart"`
}

// LocationStartChange moves the lower boundary of one or more features.
type LocationStartChange struct {
	featureKind
	Header
	Items []LocationStartItem
}

// NewLocationStartChange builds a change whose changed ids follow item order.
func NewLocationStartChange(assemblyID string, items ...LocationStartItem) LocationStartChange {
	ids := itemIDs(items, func(i LocationStartItem) string { return i.FeatureID })
	return LocationStartChange{Header: Header{Assembly: assemblyID, Changed: ids}, Items: items}
}

func (LocationStartChange) TypeName() string { return TypeLocationStart }

func (c LocationStartChange) MarshalJSON() ([]byte, error) {
	return marshalChange(TypeLocationStart, c.Header, c.Items)
}

func (c LocationStartChange) Inverse() Change {
	items := reversedItems(c.Items)
	for i := range items {
		items[i].OldStart, items[i].NewStart = items[i].NewStart, items[i].OldStart
	}
	return LocationStartChange{Header: c.reversed(), Items: items}
}

func (c LocationStartChange) Validate() error {
	if err := requireItems(TypeLocationStart, len(c.Items)); err != nil {
		return err
	}
	if err := checkChanged(TypeLocationStart, c.Header, itemIDs(c.Items, func(i LocationStartItem) string { return i.FeatureID })); err != nil {
		return err
	}
	for i, item := range c.Items {
		if err := requireFeatureID(TypeLocationStart, i, item.FeatureID); err != nil {
			return err
		}
	}
	return nil
}

func (c LocationStartChange) apply(ws Workspace) error {
	tree := ws.Features()
	for i, item := range c.Items {
		f, ok := tree.Lookup(item.FeatureID)
		if !ok {
			return domain.FeatureNotFound(item.FeatureID)
		}
		if f.Min != item.OldStart {
			return domain.StaleChange(i, item.FeatureID, "min", item.OldStart, f.Min)
		}
		if err := tree.SetMin(item.FeatureID, item.NewStart); err != nil {
			return err
		}
	}
	return nil
}

func (c LocationStartChange) ApplyToClient(store ClientDataStore) error {
	return store.Mutate(c.Assembly, c.apply)
}

func (c LocationStartChange) ApplyToServer(ctx context.Context, store ServerDataStore) (domain.Result, error) {
	return applyFeatureChange(ctx, store, c, c.apply)
}

// LocationEndItem moves the upper boundary of one feature.
type LocationEndItem struct {
	FeatureID string `json:"featureId"`
	OldEnd    int64  `json:"oldEnd"`
	NewEnd    int64  `json:"newEnd"`
}

// LocationEndChange moves the upper boundary of one or more features.
type LocationEndChange struct {
	featureKind
	Header
	Items []LocationEndItem
}

// NewLocationEndChange builds a change whose changed ids follow item order.
func NewLocationEndChange(assemblyID string, items ...LocationEndItem) LocationEndChange {
	ids := itemIDs(items, func(i LocationEndItem) string { return i.FeatureID })
	return LocationEndChange{Header: Header{Assembly: assemblyID, Changed: ids}, Items: items}
}

func (LocationEndChange) TypeName() string { return TypeLocationEnd }

func (c LocationEndChange) MarshalJSON() ([]byte, error) {
	return marshalChange(TypeLocationEnd, c.Header, c.Items)
}

func (c LocationEndChange) Inverse() Change {
	items := reversedItems(c.Items)
	for i := range items {
		items[i].OldEnd, items[i].NewEnd = items[i].NewEnd, items[i].OldEnd
	}
	return LocationEndChange{Header: c.reversed(), Items: items}
}

func (c LocationEndChange) Validate() error {
	if err := requireItems(TypeLocationEnd, len(c.Items)); err != nil {
		return err
	}
	if err := checkChanged(TypeLocationEnd, c.Header, itemIDs(c.Items, func(i LocationEndItem) string { return i.FeatureID })); err != nil {
		return err
	}
	for i, item := range c.Items {
		if err := requireFeatureID(TypeLocationEnd, i, item.FeatureID); err != nil {
			return err
		}
	}
	return nil
}

func (c LocationEndChange) apply(ws Workspace) error {
	tree := ws.Features()
	for i, item := range c.Items {
		f, ok := tree.Lookup(item.FeatureID)
		if !ok {
			return domain.FeatureNotFound(item.FeatureID)
		}
		if f.Max != item.OldEnd {
			return domain.StaleChange(i, item.FeatureID, "max", item.OldEnd, f.Max)
		}
		if err := tree.SetMax(item.FeatureID, item.NewEnd); err != nil {
			return err
		}
	}
	return nil
}

func (c LocationEndChange) ApplyToClient(store ClientDataStore) error {
	return store.Mutate(c.Assembly, c.apply)
}

func (c LocationEndChange) ApplyToServer(ctx context.Context, store ServerDataStore) (domain.Result, error) {
	return applyFeatureChange(ctx, store, c, c.apply)
}
