package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Strand identifies the strand a feature is located on. The zero value means
// the strand is not set.
type Strand int8

// Supported strand values.
const (
	StrandUnset Strand = 0
	StrandPlus  Strand = 1
	StrandMinus Strand = -1
)

// Valid reports whether s is one of the supported values.
func (s Strand) Valid() bool {
	return s == StrandUnset || s == StrandPlus || s == StrandMinus
}

// Feature types with special meaning in the core.
const (
	TypeMRNA = "mRNA"
	TypeCDS  = "CDS"
	TypeExon = "exon"
)

// Feature is one annotated genomic interval and its nested children. Values
// of this type are snapshots: the authoritative copy lives inside a Tree.
// Coordinates are interbase (0-based, half-open).
type Feature struct {
	ID         string              `json:"_id"`
	RefSeq     string              `json:"refSeq"`
	Type       string              `json:"type"`
	Min        int64               `json:"min"`
	Max        int64               `json:"max"`
	Strand     Strand              `json:"strand,omitempty"`
	Attributes map[string][]string `json:"attributes,omitempty"`
	Children   Children            `json:"children,omitempty"`
}

// NewFeatureID returns a fresh process-wide unique feature identifier.
func NewFeatureID() string { return uuid.NewString() }

// Length returns max - min.
func (f Feature) Length() int64 { return f.Max - f.Min }

// IsLeaf reports whether the feature has no children.
func (f Feature) IsLeaf() bool { return len(f.Children) == 0 }

// SetMin moves the lower boundary, rejecting values that would invert the range.
func (f *Feature) SetMin(v int64) error {
	if v > f.Max {
		return InvalidRange(f.ID, v, f.Max)
	}
	f.Min = v
	return nil
}

// SetMax moves the upper boundary, rejecting values that would invert the range.
func (f *Feature) SetMax(v int64) error {
	if v < f.Min {
		return InvalidRange(f.ID, f.Min, v)
	}
	f.Max = v
	return nil
}

// AddChild inserts child or replaces the direct child with the same id, then
// re-sorts the children by ascending min.
func (f *Feature) AddChild(child Feature) {
	for i := range f.Children {
		if f.Children[i].ID == child.ID {
			f.Children[i] = child.Clone()
			f.Children.sort()
			return
		}
	}
	f.Children = append(f.Children, child.Clone())
	f.Children.sort()
}

// DeleteChild removes the direct child with the given id. Grandchildren are
// not searched.
func (f *Feature) DeleteChild(id string) bool {
	for i := range f.Children {
		if f.Children[i].ID == id {
			f.Children = slices.Delete(f.Children, i, i+1)
			return true
		}
	}
	return false
}

// FindByID returns the feature itself or the descendant with the given id.
func (f *Feature) FindByID(id string) (*Feature, bool) {
	if f.ID == id {
		return f, true
	}
	for i := range f.Children {
		if found, ok := f.Children[i].FindByID(id); ok {
			return found, true
		}
	}
	return nil, false
}

// HasDescendant reports whether id appears anywhere below f.
func (f Feature) HasDescendant(id string) bool {
	for _, child := range f.Children {
		if child.ID == id || child.HasDescendant(id) {
			return true
		}
	}
	return false
}

// MinWithChildren may be lower than Min because GFF3 does not require
// children to be contained within their parent.
func (f Feature) MinWithChildren() int64 {
	v := f.Min
	for _, child := range f.Children {
		v = min(v, child.MinWithChildren())
	}
	return v
}

// MaxWithChildren may be greater than Max for the same reason.
func (f Feature) MaxWithChildren() int64 {
	v := f.Max
	for _, child := range f.Children {
		v = max(v, child.MaxWithChildren())
	}
	return v
}

// IDs lists the ids of f and all of its descendants in pre-order.
func (f Feature) IDs() []string {
	out := []string{f.ID}
	for _, child := range f.Children {
		out = append(out, child.IDs()...)
	}
	return out
}

// Validate checks the structural invariants of a standalone snapshot.
func (f Feature) Validate() error {
	if f.ID == "" {
		return errors.Wrap(ErrMalformedChange, "feature id is required")
	}
	if f.Min > f.Max {
		return InvalidRange(f.ID, f.Min, f.Max)
	}
	if !f.Strand.Valid() {
		return errors.Wrapf(ErrMalformedChange, "feature %q has invalid strand %d", f.ID, f.Strand)
	}
	seen := make(map[string]struct{})
	for _, id := range f.IDs() {
		if _, dup := seen[id]; dup {
			return errors.Wrapf(ErrDuplicateFeature, "feature %q appears twice in subtree", id)
		}
		seen[id] = struct{}{}
	}
	for _, child := range f.Children {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy of the feature.
func (f Feature) Clone() Feature {
	cp := f
	cp.Attributes = cloneAttributes(f.Attributes)
	if f.Children != nil {
		cp.Children = make(Children, len(f.Children))
		for i, child := range f.Children {
			cp.Children[i] = child.Clone()
		}
	}
	return cp
}

// Equal reports structural equality of two snapshots, treating nil and empty
// attribute maps and child lists as equal.
func (f Feature) Equal(other Feature) bool {
	if f.ID != other.ID || f.RefSeq != other.RefSeq || f.Type != other.Type ||
		f.Min != other.Min || f.Max != other.Max || f.Strand != other.Strand {
		return false
	}
	if !AttributesEqual(f.Attributes, other.Attributes) {
		return false
	}
	if len(f.Children) != len(other.Children) {
		return false
	}
	for i := range f.Children {
		if !f.Children[i].Equal(other.Children[i]) {
			return false
		}
	}
	return true
}

// AttributesEqual compares two attribute maps by key and ordered values.
func AttributesEqual(a, b map[string][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !slices.Equal(av, bv) {
			return false
		}
	}
	return true
}

func cloneAttributes(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = slices.Clone(v)
	}
	return out
}

// Children is the ordered child list of a feature. It serialises as a JSON
// object keyed by child id in child order.
type Children []Feature

func (c Children) sort() {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Min != c[j].Min {
			return c[i].Min < c[j].Min
		}
		return c[i].ID < c[j].ID
	})
}

// MarshalJSON writes the children as an ordered object.
func (c Children) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, child := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(child.ID)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(child)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an id-keyed object, keeping key order and re-sorting by min.
func (c *Children) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*c = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("children: expected object, got %v", tok)
	}
	var out Children
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var child Feature
		if err := dec.Decode(&child); err != nil {
			return err
		}
		if child.ID == "" {
			child.ID = key
		}
		if child.ID != key {
			return fmt.Errorf("children: key %q does not match child id %q", key, child.ID)
		}
		out = append(out, child)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	out.sort()
	*c = out
	return nil
}

// AttributeKeys returns the attribute keys in sorted order.
func (f Feature) AttributeKeys() []string {
	return slices.Sorted(maps.Keys(f.Attributes))
}
