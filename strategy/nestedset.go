package strategy

import (
	"context"
	"fmt"

	"github.com/ammiranda/treestore/models"
	"github.com/ammiranda/treestore/store"
)

// NestedSet stores every tree as [lft, rgt] intervals numbered from 1 within its
// tree_id, the id of the tree's root. A node's descendants are the rows of the
// same tree strictly inside its interval.
type NestedSet struct {
	base
}

// NewNestedSet creates the nested set strategy
func NewNestedSet(layout Layout, opts ...Option) *NestedSet {
	return &NestedSet{base: newBase(KindNestedSet, layout, opts)}
}

type interval struct {
	lft, rgt int64
}

func (s *NestedSet) requireBounds(op string, rec *record) error {
	if rec.treeID == "" || rec.lft <= 0 || rec.rgt <= rec.lft {
		return invariantf(op, rec.id(), "node has no nested set bounds")
	}
	return nil
}

// shift adds delta to column on the rows of treeID where column satisfies cond
func (s *NestedSet) shift(ctx context.Context, tx store.Tx, treeID, column string, cond store.Cond, delta int64) error {
	if delta == 0 {
		return nil
	}
	_, err := tx.Write(ctx, store.Update(s.layout.NodeTable,
		map[string]any{column: store.Increment(delta)},
		store.Eq(colTreeID, treeID), cond,
	))
	if err != nil {
		return fmt.Errorf("shift %s in tree %s: %w", column, treeID, err)
	}
	return nil
}

// openGap makes room for width positions starting at pos
func (s *NestedSet) openGap(ctx context.Context, tx store.Tx, treeID string, pos, width int64) error {
	if err := s.shift(ctx, tx, treeID, colRgt, store.Gte(colRgt, pos), width); err != nil {
		return err
	}
	return s.shift(ctx, tx, treeID, colLft, store.Gt(colLft, pos), width)
}

// closeGap removes the width positions ending at end
func (s *NestedSet) closeGap(ctx context.Context, tx store.Tx, treeID string, end, width int64) error {
	if err := s.shift(ctx, tx, treeID, colLft, store.Gt(colLft, end), -width); err != nil {
		return err
	}
	return s.shift(ctx, tx, treeID, colRgt, store.Gt(colRgt, end), -width)
}

func (s *NestedSet) within(rec *record) []store.Cond {
	return []store.Cond{
		store.Eq(colTreeID, rec.treeID),
		store.Gte(colLft, rec.lft),
		store.Lte(colRgt, rec.rgt),
	}
}

func (s *NestedSet) read(ctx context.Context, tx store.Tx, query store.Query) ([]*record, error) {
	rows, err := tx.Read(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read nested set: %w", err)
	}
	return decodeRecords(rows)
}

func (s *NestedSet) Attach(ctx context.Context, tx store.Tx, node *models.Node, parentID *models.NodeID) error {
	if err := s.Lock(ctx, tx); err != nil {
		return err
	}
	parent, err := s.checkAttach(ctx, tx, node, parentID)
	if err != nil {
		return err
	}
	row, err := nodeRow(node, parentID)
	if err != nil {
		return err
	}

	if parent == nil {
		row[colTreeID], row[colLft], row[colRgt] = string(node.ID), int64(1), int64(2)
	} else {
		if err := s.requireBounds("attach", parent); err != nil {
			return err
		}
		// append as the last child
		if err := s.openGap(ctx, tx, parent.treeID, parent.rgt, 2); err != nil {
			return err
		}
		row[colTreeID], row[colLft], row[colRgt] = parent.treeID, parent.rgt, parent.rgt+1
	}

	if _, err := tx.Write(ctx, store.Insert(s.layout.NodeTable, row)); err != nil {
		return fmt.Errorf("insert node %s: %w", node.ID, err)
	}
	s.logWrite("attach", node.ID, 1)
	return nil
}

func (s *NestedSet) DetachSubtree(ctx context.Context, tx store.Tx, id models.NodeID, mode CascadeMode) ([]models.NodeID, error) {
	if err := s.Lock(ctx, tx); err != nil {
		return nil, err
	}
	rec, err := s.load(ctx, tx, "detach", id)
	if err != nil {
		return nil, err
	}
	if err := s.requireBounds("detach", rec); err != nil {
		return nil, err
	}
	recs, err := s.read(ctx, tx, store.Select(s.layout.NodeTable, s.within(rec)...).OrderedBy(store.Asc(colLft)))
	if err != nil {
		return nil, err
	}

	if mode == SoftDelete {
		affected, err := s.markDeleted(ctx, tx, recs)
		if err != nil {
			return nil, err
		}
		s.logWrite("soft_delete", id, len(affected))
		return affected, nil
	}

	if _, err := tx.Write(ctx, store.Delete(s.layout.NodeTable, s.within(rec)...)); err != nil {
		return nil, fmt.Errorf("delete subtree of %s: %w", id, err)
	}
	if !rec.node.IsRoot() {
		if err := s.closeGap(ctx, tx, rec.treeID, rec.rgt, rec.rgt-rec.lft+1); err != nil {
			return nil, err
		}
	}
	ids := recordIDs(recs)
	s.logWrite("hard_delete", id, len(ids))
	return ids, nil
}

// Move parks the subtree in a tree of its own, closes the hole it left, opens a gap
// under the new parent and finally relabels the parked rows into that gap.
func (s *NestedSet) Move(ctx context.Context, tx store.Tx, id models.NodeID, newParentID *models.NodeID) error {
	if err := s.Lock(ctx, tx); err != nil {
		return err
	}
	node, parent, noop, err := s.checkMove(ctx, tx, id, newParentID)
	if err != nil || noop {
		return err
	}
	if err := s.requireBounds("move", node); err != nil {
		return err
	}
	if parent != nil {
		if err := s.requireBounds("move", parent); err != nil {
			return err
		}
		if parent.treeID == node.treeID && parent.lft > node.lft && parent.rgt < node.rgt {
			return models.NewTreeError("move", id, models.ErrCycleDetected)
		}
	}

	width := node.rgt - node.lft + 1
	parked := string(id)

	// 1. park the subtree at [1, width] under its own tree id
	offset := store.Increment(-(node.lft - 1))
	if parked != node.treeID || offset != 0 {
		_, err := tx.Write(ctx, store.Update(s.layout.NodeTable,
			map[string]any{colTreeID: parked, colLft: offset, colRgt: offset},
			s.within(node)...,
		))
		if err != nil {
			return fmt.Errorf("park subtree of %s: %w", id, err)
		}
	}

	// 2. close the hole in the old tree
	if !node.node.IsRoot() {
		if err := s.closeGap(ctx, tx, node.treeID, node.rgt, width); err != nil {
			return err
		}
	}

	// 3 and 4. open a gap at the end of the new parent and relabel into it
	if parent != nil {
		// the parent's bounds moved when the hole closed
		parent, err = s.load(ctx, tx, "move", parent.id())
		if err != nil {
			return err
		}
		if err := s.openGap(ctx, tx, parent.treeID, parent.rgt, width); err != nil {
			return err
		}
		shift := store.Increment(parent.rgt - 1)
		_, err := tx.Write(ctx, store.Update(s.layout.NodeTable,
			map[string]any{colTreeID: parent.treeID, colLft: shift, colRgt: shift},
			store.Eq(colTreeID, parked),
		))
		if err != nil {
			return fmt.Errorf("relabel subtree of %s: %w", id, err)
		}
	}

	if err := s.setParent(ctx, tx, id, newParentID); err != nil {
		return err
	}
	s.logWrite("move", id, int(width/2))
	return nil
}

func (s *NestedSet) AncestorsOf(ctx context.Context, tx store.Tx, id models.NodeID, includeDeleted bool) ([]*models.Node, error) {
	rec, err := s.loadVisible(ctx, tx, "ancestors", id, includeDeleted)
	if err != nil {
		return nil, err
	}
	if err := s.requireBounds("ancestors", rec); err != nil {
		return nil, err
	}
	recs, err := s.read(ctx, tx, store.Select(s.layout.NodeTable,
		store.Eq(colTreeID, rec.treeID),
		store.Lt(colLft, rec.lft),
		store.Gt(colRgt, rec.rgt),
	).OrderedBy(store.Desc(colLft)))
	if err != nil {
		return nil, err
	}
	return visible(recs, includeDeleted), nil
}

func (s *NestedSet) DescendantsOf(ctx context.Context, tx store.Tx, id models.NodeID, includeDeleted bool) ([]*models.Node, error) {
	rec, err := s.loadVisible(ctx, tx, "descendants", id, includeDeleted)
	if err != nil {
		return nil, err
	}
	if err := s.requireBounds("descendants", rec); err != nil {
		return nil, err
	}
	recs, err := s.read(ctx, tx, store.Select(s.layout.NodeTable,
		store.Eq(colTreeID, rec.treeID),
		store.Gt(colLft, rec.lft),
		store.Lt(colRgt, rec.rgt),
	).OrderedBy(store.Asc(colLft)))
	if err != nil {
		return nil, err
	}
	return visible(levelOrder(id, recs), includeDeleted), nil
}

// byPosition keeps siblings in their current order, unnumbered rows first
func byPosition(a, b *record) bool {
	if a.lft != b.lft {
		return a.lft < b.lft
	}
	return a.id() < b.id()
}

// expected numbers the tree containing id depth first
func (s *NestedSet) expected(ctx context.Context, tx store.Tx, op string, id models.NodeID) ([]*treeEntry, map[models.NodeID]interval, error) {
	root, err := s.treeRoot(ctx, tx, op, id)
	if err != nil {
		return nil, nil, err
	}
	entries, err := s.assemble(ctx, tx, op, root, byPosition)
	if err != nil {
		return nil, nil, err
	}

	bounds := make(map[models.NodeID]interval, len(entries))
	var counter int64
	var number func(e *treeEntry)
	number = func(e *treeEntry) {
		counter++
		lft := counter
		for _, c := range e.children {
			number(c)
		}
		counter++
		bounds[e.rec.id()] = interval{lft: lft, rgt: counter}
	}
	number(entries[0])
	return entries, bounds, nil
}

func (s *NestedSet) Rebuild(ctx context.Context, tx store.Tx, id models.NodeID) error {
	if err := s.Lock(ctx, tx); err != nil {
		return err
	}
	entries, bounds, err := s.expected(ctx, tx, "rebuild", id)
	if err != nil {
		return err
	}
	treeID := string(entries[0].rec.id())

	changed := 0
	for _, e := range entries {
		want := bounds[e.rec.id()]
		if e.rec.treeID == treeID && e.rec.lft == want.lft && e.rec.rgt == want.rgt {
			continue
		}
		_, err := tx.Write(ctx, store.Update(s.layout.NodeTable,
			map[string]any{colTreeID: treeID, colLft: want.lft, colRgt: want.rgt},
			store.Eq(colID, string(e.rec.id())),
		))
		if err != nil {
			return fmt.Errorf("renumber %s: %w", e.rec.id(), err)
		}
		changed++
	}
	s.logWrite("rebuild", entries[0].rec.id(), changed)
	return nil
}

func (s *NestedSet) Check(ctx context.Context, tx store.Tx, id models.NodeID) error {
	entries, bounds, err := s.expected(ctx, tx, "check", id)
	if err != nil {
		return err
	}
	rootID := entries[0].rec.id()

	for _, e := range entries {
		want := bounds[e.rec.id()]
		if e.rec.treeID != string(rootID) {
			return invariantf("check", rootID, "node %s is in tree %q", e.rec.id(), e.rec.treeID)
		}
		if e.rec.lft != want.lft || e.rec.rgt != want.rgt {
			return invariantf("check", rootID, "node %s has bounds [%d, %d], want [%d, %d]",
				e.rec.id(), e.rec.lft, e.rec.rgt, want.lft, want.rgt)
		}
	}

	members, err := s.read(ctx, tx, store.Select(s.layout.NodeTable, store.Eq(colTreeID, string(rootID))).Only(colID))
	if err != nil {
		return err
	}
	for _, m := range members {
		if _, ok := bounds[m.id()]; !ok {
			return invariantf("check", rootID, "node %s is numbered in the tree but not attached to it", m.id())
		}
	}
	return nil
}
