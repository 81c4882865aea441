package strategy

import (
	"context"
	"fmt"

	"github.com/ammiranda/treestore/models"
	"github.com/ammiranda/treestore/store"
)

// ClosureTable keeps one (ancestor, descendant, depth) row for every pair of nodes on
// the same root path, self pairs at depth 0 included.
type ClosureTable struct {
	base
}

// NewClosureTable creates the closure table strategy
func NewClosureTable(layout Layout, opts ...Option) *ClosureTable {
	s := &ClosureTable{base: newBase(KindClosure, layout, opts)}
	s.tables = append(s.tables, layout.ClosureTable)
	return s
}

type closureLink struct {
	ancestor   models.NodeID
	descendant models.NodeID
	depth      int64
}

func (l closureLink) row() store.Row {
	return store.Row{
		colAncestor:   string(l.ancestor),
		colDescendant: string(l.descendant),
		colDepth:      l.depth,
	}
}

func (s *ClosureTable) links(ctx context.Context, tx store.Tx, where ...store.Cond) ([]closureLink, error) {
	rows, err := tx.Read(ctx, store.Select(s.layout.ClosureTable, where...).OrderedBy(store.Asc(colDepth), store.Asc(colAncestor), store.Asc(colDescendant)))
	if err != nil {
		return nil, fmt.Errorf("read closure: %w", err)
	}
	links := make([]closureLink, 0, len(rows))
	for _, row := range rows {
		depth, err := store.Int64(row[colDepth])
		if err != nil {
			return nil, fmt.Errorf("closure depth: %w", err)
		}
		links = append(links, closureLink{
			ancestor:   models.NodeID(store.String(row[colAncestor])),
			descendant: models.NodeID(store.String(row[colDescendant])),
			depth:      depth,
		})
	}
	return links, nil
}

func (s *ClosureTable) insertLinks(ctx context.Context, tx store.Tx, links []closureLink) error {
	if len(links) == 0 {
		return nil
	}
	rows := make([]store.Row, len(links))
	for i, l := range links {
		rows[i] = l.row()
	}
	if _, err := tx.Write(ctx, store.Insert(s.layout.ClosureTable, rows...)); err != nil {
		return fmt.Errorf("insert closure: %w", err)
	}
	return nil
}

func (s *ClosureTable) Attach(ctx context.Context, tx store.Tx, node *models.Node, parentID *models.NodeID) error {
	if err := s.Lock(ctx, tx); err != nil {
		return err
	}
	parent, err := s.checkAttach(ctx, tx, node, parentID)
	if err != nil {
		return err
	}

	links := []closureLink{{ancestor: node.ID, descendant: node.ID}}
	if parent != nil {
		above, err := s.links(ctx, tx, store.Eq(colDescendant, string(parent.id())))
		if err != nil {
			return err
		}
		for _, l := range above {
			links = append(links, closureLink{ancestor: l.ancestor, descendant: node.ID, depth: l.depth + 1})
		}
	}

	row, err := nodeRow(node, parentID)
	if err != nil {
		return err
	}
	if _, err := tx.Write(ctx, store.Insert(s.layout.NodeTable, row)); err != nil {
		return fmt.Errorf("insert node %s: %w", node.ID, err)
	}
	if err := s.insertLinks(ctx, tx, links); err != nil {
		return err
	}
	s.logWrite("attach", node.ID, len(links))
	return nil
}

// subtreeLinks returns the closure rows below id, its self pair included
func (s *ClosureTable) subtreeLinks(ctx context.Context, tx store.Tx, id models.NodeID) ([]closureLink, error) {
	return s.links(ctx, tx, store.Eq(colAncestor, string(id)))
}

func (s *ClosureTable) DetachSubtree(ctx context.Context, tx store.Tx, id models.NodeID, mode CascadeMode) ([]models.NodeID, error) {
	if err := s.Lock(ctx, tx); err != nil {
		return nil, err
	}
	if _, err := s.load(ctx, tx, "detach", id); err != nil {
		return nil, err
	}
	below, err := s.subtreeLinks(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	ids := make([]models.NodeID, 0, len(below)+1)
	ids = append(ids, id)
	for _, l := range below {
		if l.descendant != id {
			ids = append(ids, l.descendant)
		}
	}

	if mode == SoftDelete {
		found, err := s.findMany(ctx, tx, ids)
		if err != nil {
			return nil, err
		}
		recs := make([]*record, 0, len(ids))
		for _, sid := range ids {
			if r, ok := found[sid]; ok {
				recs = append(recs, r)
			}
		}
		affected, err := s.markDeleted(ctx, tx, recs)
		if err != nil {
			return nil, err
		}
		s.logWrite("soft_delete", id, len(affected))
		return affected, nil
	}

	values := idValues(ids)
	if _, err := tx.Write(ctx, store.Delete(s.layout.ClosureTable, store.In(colDescendant, values), store.Gt(colDepth, 0))); err != nil {
		return nil, fmt.Errorf("delete closure: %w", err)
	}
	if _, err := tx.Write(ctx, store.Delete(s.layout.ClosureTable, store.In(colDescendant, values))); err != nil {
		return nil, fmt.Errorf("delete closure: %w", err)
	}
	if err := s.deleteNodes(ctx, tx, ids); err != nil {
		return nil, err
	}
	s.logWrite("hard_delete", id, len(ids))
	return ids, nil
}

func (s *ClosureTable) Move(ctx context.Context, tx store.Tx, id models.NodeID, newParentID *models.NodeID) error {
	if err := s.Lock(ctx, tx); err != nil {
		return err
	}
	_, parent, noop, err := s.checkMove(ctx, tx, id, newParentID)
	if err != nil || noop {
		return err
	}

	below, err := s.subtreeLinks(ctx, tx, id)
	if err != nil {
		return err
	}
	subtree := make([]models.NodeID, len(below))
	for i, l := range below {
		subtree[i] = l.descendant
		if parent != nil && l.descendant == parent.id() {
			return models.NewTreeError("move", id, models.ErrCycleDetected)
		}
	}

	above, err := s.links(ctx, tx, store.Eq(colDescendant, string(id)), store.Gt(colDepth, 0))
	if err != nil {
		return err
	}
	formerAncestors := make([]models.NodeID, len(above))
	for i, l := range above {
		formerAncestors[i] = l.ancestor
	}

	removed, err := tx.Write(ctx, store.Delete(s.layout.ClosureTable,
		store.In(colDescendant, idValues(subtree)),
		store.In(colAncestor, idValues(formerAncestors)),
	))
	if err != nil {
		return fmt.Errorf("delete closure: %w", err)
	}

	var added []closureLink
	if parent != nil {
		newAncestors, err := s.links(ctx, tx, store.Eq(colDescendant, string(parent.id())))
		if err != nil {
			return err
		}
		for _, a := range newAncestors {
			for _, d := range below {
				added = append(added, closureLink{ancestor: a.ancestor, descendant: d.descendant, depth: a.depth + d.depth + 1})
			}
		}
	}
	if err := s.insertLinks(ctx, tx, added); err != nil {
		return err
	}
	if err := s.setParent(ctx, tx, id, newParentID); err != nil {
		return err
	}
	s.logWrite("move", id, int(removed)+len(added))
	return nil
}

func (s *ClosureTable) AncestorsOf(ctx context.Context, tx store.Tx, id models.NodeID, includeDeleted bool) ([]*models.Node, error) {
	if _, err := s.loadVisible(ctx, tx, "ancestors", id, includeDeleted); err != nil {
		return nil, err
	}
	above, err := s.links(ctx, tx, store.Eq(colDescendant, string(id)), store.Gt(colDepth, 0))
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, tx, "ancestors", id, above, func(l closureLink) models.NodeID { return l.ancestor }, includeDeleted)
}

func (s *ClosureTable) DescendantsOf(ctx context.Context, tx store.Tx, id models.NodeID, includeDeleted bool) ([]*models.Node, error) {
	if _, err := s.loadVisible(ctx, tx, "descendants", id, includeDeleted); err != nil {
		return nil, err
	}
	below, err := s.links(ctx, tx, store.Eq(colAncestor, string(id)), store.Gt(colDepth, 0))
	if err != nil {
		return nil, err
	}
	nodes, err := s.resolve(ctx, tx, "descendants", id, below, func(l closureLink) models.NodeID { return l.descendant }, true)
	if err != nil {
		return nil, err
	}
	// links come ordered by depth; sort ids within each level the same way as everyone else
	recs := make([]*record, len(nodes))
	for i, n := range nodes {
		recs[i] = &record{node: n}
	}
	return visible(levelOrder(id, recs), includeDeleted), nil
}

// resolve loads the nodes named by links, keeping the link order
func (s *ClosureTable) resolve(ctx context.Context, tx store.Tx, op string, id models.NodeID, links []closureLink, pick func(closureLink) models.NodeID, includeDeleted bool) ([]*models.Node, error) {
	ids := make([]models.NodeID, len(links))
	for i, l := range links {
		ids[i] = pick(l)
	}
	found, err := s.findMany(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	recs := make([]*record, 0, len(ids))
	for _, nid := range ids {
		r, ok := found[nid]
		if !ok {
			return nil, invariantf(op, id, "closure row references missing node %s", nid)
		}
		recs = append(recs, r)
	}
	return visible(recs, includeDeleted), nil
}

// expected computes the closure rows of the tree from the parent references
func (s *ClosureTable) expected(ctx context.Context, tx store.Tx, op string, id models.NodeID) ([]*treeEntry, []closureLink, error) {
	root, err := s.treeRoot(ctx, tx, op, id)
	if err != nil {
		return nil, nil, err
	}
	entries, err := s.assemble(ctx, tx, op, root, byID)
	if err != nil {
		return nil, nil, err
	}
	var links []closureLink
	for _, e := range entries {
		links = append(links, closureLink{ancestor: e.rec.id(), descendant: e.rec.id()})
		for _, a := range e.ancestors() {
			links = append(links, closureLink{ancestor: a.rec.id(), descendant: e.rec.id(), depth: int64(e.depth - a.depth)})
		}
	}
	return entries, links, nil
}

func (s *ClosureTable) Rebuild(ctx context.Context, tx store.Tx, id models.NodeID) error {
	if err := s.Lock(ctx, tx); err != nil {
		return err
	}
	entries, links, err := s.expected(ctx, tx, "rebuild", id)
	if err != nil {
		return err
	}
	ids := make([]models.NodeID, len(entries))
	for i, e := range entries {
		ids[i] = e.rec.id()
	}
	values := idValues(ids)
	if _, err := tx.Write(ctx, store.Delete(s.layout.ClosureTable, store.In(colDescendant, values))); err != nil {
		return fmt.Errorf("delete closure: %w", err)
	}
	if _, err := tx.Write(ctx, store.Delete(s.layout.ClosureTable, store.In(colAncestor, values))); err != nil {
		return fmt.Errorf("delete closure: %w", err)
	}
	if err := s.insertLinks(ctx, tx, links); err != nil {
		return err
	}
	s.logWrite("rebuild", entries[0].rec.id(), len(links))
	return nil
}

func (s *ClosureTable) Check(ctx context.Context, tx store.Tx, id models.NodeID) error {
	entries, links, err := s.expected(ctx, tx, "check", id)
	if err != nil {
		return err
	}
	rootID := entries[0].rec.id()
	ids := make([]models.NodeID, len(entries))
	for i, e := range entries {
		ids[i] = e.rec.id()
	}

	want := make(map[[2]models.NodeID]int64, len(links))
	for _, l := range links {
		want[[2]models.NodeID{l.ancestor, l.descendant}] = l.depth
	}

	stored := make(map[[2]models.NodeID]int64)
	for _, column := range []string{colDescendant, colAncestor} {
		got, err := s.links(ctx, tx, store.In(column, idValues(ids)))
		if err != nil {
			return err
		}
		for _, l := range got {
			stored[[2]models.NodeID{l.ancestor, l.descendant}] = l.depth
		}
	}

	for pair, depth := range want {
		got, ok := stored[pair]
		if !ok {
			return invariantf("check", rootID, "missing closure row %s -> %s", pair[0], pair[1])
		}
		if got != depth {
			return invariantf("check", rootID, "closure row %s -> %s has depth %d, want %d", pair[0], pair[1], got, depth)
		}
	}
	for pair := range stored {
		if _, ok := want[pair]; !ok {
			return invariantf("check", rootID, "unexpected closure row %s -> %s", pair[0], pair[1])
		}
	}
	return nil
}
