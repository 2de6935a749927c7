package domain

import (
	"encoding/json"
	"slices"
	"sort"

	"github.com/cockroachdb/errors"
)

// Tree holds every feature of one assembly. Nodes are stored flat by id with
// parent links kept in a separate map, so lookups are O(1) and no node holds
// a pointer to its parent. Callers only ever receive snapshot copies.
type Tree struct {
	nodes  map[string]*node
	parent map[string]string
	roots  map[string][]string
}

type node struct {
	feature  Feature
	children []string
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{
		nodes:  make(map[string]*node),
		parent: make(map[string]string),
		roots:  make(map[string][]string),
	}
}

// Len reports how many features the tree holds.
func (t *Tree) Len() int { return len(t.nodes) }

// Has reports whether id is present anywhere in the tree.
func (t *Tree) Has(id string) bool {
	_, ok := t.nodes[id]
	return ok
}

// FindByID returns a snapshot of the feature and its subtree.
func (t *Tree) FindByID(id string) (Feature, bool) {
	if _, ok := t.nodes[id]; !ok {
		return Feature{}, false
	}
	return t.snapshot(id), true
}

// IDs lists every feature id in the tree in no particular order.
func (t *Tree) IDs() []string {
	out := make([]string, 0, len(t.nodes))
	for id := range t.nodes {
		out = append(out, id)
	}
	return out
}

// Lookup returns a copy of the feature without its children.
func (t *Tree) Lookup(id string) (Feature, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return Feature{}, false
	}
	f := n.feature
	f.Attributes = cloneAttributes(n.feature.Attributes)
	return f, true
}

// Parent returns the parent id of a feature. Top-level features report "".
func (t *Tree) Parent(id string) (string, bool) {
	if _, ok := t.nodes[id]; !ok {
		return "", false
	}
	return t.parent[id], true
}

// Insert adds f and its subtree below parentID, or at the top level of its
// refSeq when parentID is empty. Child inserts must share the parent's refSeq
// and lie within the parent's range.
func (t *Tree) Insert(parentID string, f Feature) error {
	return t.add(parentID, f, true)
}

// Restore puts back a subtree captured by Remove. The child is not required
// to lie within the parent's range, since the tree may have held it outside
// the parent before removal. The refSeq must still match.
func (t *Tree) Restore(parentID string, f Feature) error {
	return t.add(parentID, f, false)
}

func (t *Tree) add(parentID string, f Feature, contained bool) error {
	if err := f.Validate(); err != nil {
		return err
	}
	for _, id := range f.IDs() {
		if t.Has(id) {
			return errors.Wrapf(ErrDuplicateFeature, "feature %q already exists", id)
		}
	}
	if parentID != "" {
		p, ok := t.nodes[parentID]
		if !ok {
			return FeatureNotFound(parentID)
		}
		if p.feature.RefSeq != f.RefSeq {
			return errors.Wrapf(ErrParentCoordinateViolation,
				"feature %q is on refSeq %q but parent %q is on %q", f.ID, f.RefSeq, p.feature.ID, p.feature.RefSeq)
		}
		if contained {
			if err := checkWithinParent(p.feature, f); err != nil {
				return err
			}
		}
	}
	t.insert(parentID, f)
	return nil
}

func checkWithinParent(parent, child Feature) error {
	if child.Min < parent.Min || child.Max > parent.Max {
		return errors.Wrapf(ErrParentCoordinateViolation,
			"feature %q [%d,%d) is outside parent %q [%d,%d)",
			child.ID, child.Min, child.Max, parent.ID, parent.Min, parent.Max)
	}
	return nil
}

func (t *Tree) insert(parentID string, f Feature) {
	children := f.Children
	f.Children = nil
	f.Attributes = cloneAttributes(f.Attributes)
	t.nodes[f.ID] = &node{feature: f}
	t.parent[f.ID] = parentID
	t.link(parentID, f.ID)
	for _, child := range children {
		t.insert(f.ID, child)
	}
}

// AddChild inserts child below parentID, replacing an existing direct child
// with the same id.
func (t *Tree) AddChild(parentID string, child Feature) error {
	p, ok := t.nodes[parentID]
	if !ok {
		return FeatureNotFound(parentID)
	}
	if slices.Contains(p.children, child.ID) {
		prev, _, err := t.Remove(child.ID)
		if err != nil {
			return err
		}
		if err := t.Insert(parentID, child); err != nil {
			t.insert(parentID, prev)
			return err
		}
		return nil
	}
	return t.Insert(parentID, child)
}

// DeleteChild removes a direct child of parentID together with its subtree.
func (t *Tree) DeleteChild(parentID, childID string) error {
	p, ok := t.nodes[parentID]
	if !ok {
		return FeatureNotFound(parentID)
	}
	if !slices.Contains(p.children, childID) {
		return errors.Wrapf(ErrFeatureNotFound, "feature %q is not a child of %q", childID, parentID)
	}
	_, _, err := t.Remove(childID)
	return err
}

// Remove detaches the subtree rooted at id and returns its snapshot together
// with the former parent id.
func (t *Tree) Remove(id string) (Feature, string, error) {
	if !t.Has(id) {
		return Feature{}, "", FeatureNotFound(id)
	}
	snap := t.snapshot(id)
	parentID := t.parent[id]
	t.unlink(parentID, id)
	t.drop(id)
	return snap, parentID, nil
}

func (t *Tree) drop(id string) {
	n := t.nodes[id]
	for _, child := range n.children {
		t.drop(child)
	}
	delete(t.nodes, id)
	delete(t.parent, id)
}

// SetMin moves the lower boundary of a feature.
func (t *Tree) SetMin(id string, v int64) error {
	n, ok := t.nodes[id]
	if !ok {
		return FeatureNotFound(id)
	}
	if err := n.feature.SetMin(v); err != nil {
		return err
	}
	t.resort(t.parent[id], n.feature.RefSeq)
	return nil
}

// SetMax moves the upper boundary of a feature.
func (t *Tree) SetMax(id string, v int64) error {
	n, ok := t.nodes[id]
	if !ok {
		return FeatureNotFound(id)
	}
	return n.feature.SetMax(v)
}

// SetType replaces the feature type.
func (t *Tree) SetType(id, typ string) error {
	n, ok := t.nodes[id]
	if !ok {
		return FeatureNotFound(id)
	}
	n.feature.Type = typ
	return nil
}

// SetStrand replaces the feature strand.
func (t *Tree) SetStrand(id string, s Strand) error {
	n, ok := t.nodes[id]
	if !ok {
		return FeatureNotFound(id)
	}
	if !s.Valid() {
		return errors.Wrapf(ErrMalformedChange, "invalid strand %d", s)
	}
	n.feature.Strand = s
	return nil
}

// SetAttributes replaces the whole attribute map of a feature.
func (t *Tree) SetAttributes(id string, attrs map[string][]string) error {
	n, ok := t.nodes[id]
	if !ok {
		return FeatureNotFound(id)
	}
	n.feature.Attributes = cloneAttributes(attrs)
	return nil
}

// CDSLocations computes the phased coding segments of the mRNA with the given id.
func (t *Tree) CDSLocations(id string) ([][]CDSLocation, error) {
	f, ok := t.FindByID(id)
	if !ok {
		return nil, FeatureNotFound(id)
	}
	return f.CDSLocations()
}

// TopLevel returns snapshots of the top-level features on one refSeq.
func (t *Tree) TopLevel(refSeq string) []Feature {
	ids := t.roots[refSeq]
	out := make([]Feature, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.snapshot(id))
	}
	return out
}

// Features returns snapshots of every top-level feature, grouped by refSeq
// in refSeq order.
func (t *Tree) Features() []Feature {
	refSeqs := make([]string, 0, len(t.roots))
	for rs := range t.roots {
		refSeqs = append(refSeqs, rs)
	}
	sort.Strings(refSeqs)
	var out []Feature
	for _, rs := range refSeqs {
		out = append(out, t.TopLevel(rs)...)
	}
	return out
}

// RemoveRefSeq drops every feature located on refSeq.
func (t *Tree) RemoveRefSeq(refSeq string) {
	for _, id := range slices.Clone(t.roots[refSeq]) {
		t.drop(id)
	}
	delete(t.roots, refSeq)
}

// Clone returns an independent deep copy of the tree.
func (t *Tree) Clone() *Tree {
	cp := &Tree{
		nodes:  make(map[string]*node, len(t.nodes)),
		parent: make(map[string]string, len(t.parent)),
		roots:  make(map[string][]string, len(t.roots)),
	}
	for id, n := range t.nodes {
		f := n.feature
		f.Attributes = cloneAttributes(n.feature.Attributes)
		cp.nodes[id] = &node{feature: f, children: slices.Clone(n.children)}
	}
	for id, p := range t.parent {
		cp.parent[id] = p
	}
	for rs, ids := range t.roots {
		cp.roots[rs] = slices.Clone(ids)
	}
	return cp
}

// MarshalJSON encodes the tree as its list of top-level feature snapshots.
func (t *Tree) MarshalJSON() ([]byte, error) {
	features := t.Features()
	if features == nil {
		features = []Feature{}
	}
	return json.Marshal(features)
}

// UnmarshalJSON rebuilds the tree from a list of top-level snapshots.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var features []Feature
	if err := json.Unmarshal(data, &features); err != nil {
		return err
	}
	fresh := NewTree()
	for _, f := range features {
		if err := fresh.Insert("", f); err != nil {
			return err
		}
	}
	*t = *fresh
	return nil
}

func (t *Tree) snapshot(id string) Feature {
	n := t.nodes[id]
	f := n.feature
	f.Attributes = cloneAttributes(n.feature.Attributes)
	if len(n.children) > 0 {
		f.Children = make(Children, 0, len(n.children))
		for _, child := range n.children {
			f.Children = append(f.Children, t.snapshot(child))
		}
	}
	return f
}

func (t *Tree) siblings(parentID, refSeq string) []string {
	if parentID == "" {
		return t.roots[refSeq]
	}
	return t.nodes[parentID].children
}

func (t *Tree) setSiblings(parentID, refSeq string, ids []string) {
	if parentID == "" {
		if len(ids) == 0 {
			delete(t.roots, refSeq)
			return
		}
		t.roots[refSeq] = ids
		return
	}
	t.nodes[parentID].children = ids
}

func (t *Tree) link(parentID, id string) {
	refSeq := t.nodes[id].feature.RefSeq
	t.setSiblings(parentID, refSeq, append(t.siblings(parentID, refSeq), id))
	t.resort(parentID, refSeq)
}

func (t *Tree) unlink(parentID, id string) {
	refSeq := t.nodes[id].feature.RefSeq
	ids := slices.DeleteFunc(slices.Clone(t.siblings(parentID, refSeq)), func(s string) bool { return s == id })
	t.setSiblings(parentID, refSeq, ids)
}

func (t *Tree) resort(parentID, refSeq string) {
	ids := t.siblings(parentID, refSeq)
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := t.nodes[ids[i]].feature, t.nodes[ids[j]].feature
		if a.Min != b.Min {
			return a.Min < b.Min
		}
		return a.ID < b.ID
	})
}
