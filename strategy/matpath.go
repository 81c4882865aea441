package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/ammiranda/treestore/models"
	"github.com/ammiranda/treestore/store"
)

// MaterializedPath stores the ancestor ids of every node, root first, each followed
// by the delimiter. Roots have the empty path, so the rows below a node are exactly
// the rows whose path starts with path+id+delimiter.
type MaterializedPath struct {
	base
}

// NewMaterializedPath creates the materialized path strategy
func NewMaterializedPath(layout Layout, opts ...Option) *MaterializedPath {
	return &MaterializedPath{base: newBase(KindMaterializedPath, layout, opts)}
}

// prefix is the path shared by everything below rec
func (s *MaterializedPath) prefix(rec *record) string {
	return rec.path + string(rec.id()) + s.layout.PathDelimiter
}

func (s *MaterializedPath) childPath(parent *record) string {
	if parent == nil {
		return ""
	}
	return s.prefix(parent)
}

// ancestorIDs decodes a path, root first
func (s *MaterializedPath) ancestorIDs(path string) []models.NodeID {
	if path == "" {
		return nil
	}
	parts := strings.Split(strings.TrimSuffix(path, s.layout.PathDelimiter), s.layout.PathDelimiter)
	ids := make([]models.NodeID, len(parts))
	for i, p := range parts {
		ids[i] = models.NodeID(p)
	}
	return ids
}

func (s *MaterializedPath) below(ctx context.Context, tx store.Tx, rec *record) ([]*record, error) {
	rows, err := tx.Read(ctx, store.Select(s.layout.NodeTable, store.HasPrefix(colPath, s.prefix(rec))).OrderedBy(store.Asc(colPath), store.Asc(colID)))
	if err != nil {
		return nil, fmt.Errorf("read subtree of %s: %w", rec.id(), err)
	}
	return decodeRecords(rows)
}

func (s *MaterializedPath) Attach(ctx context.Context, tx store.Tx, node *models.Node, parentID *models.NodeID) error {
	if err := s.Lock(ctx, tx); err != nil {
		return err
	}
	if node != nil && strings.Contains(string(node.ID), s.layout.PathDelimiter) {
		return models.NewTreeError("attach", node.ID, fmt.Errorf("%w: id contains path delimiter %q", models.ErrInvalidNode, s.layout.PathDelimiter))
	}
	parent, err := s.checkAttach(ctx, tx, node, parentID)
	if err != nil {
		return err
	}
	row, err := nodeRow(node, parentID)
	if err != nil {
		return err
	}
	row[colPath] = s.childPath(parent)
	if _, err := tx.Write(ctx, store.Insert(s.layout.NodeTable, row)); err != nil {
		return fmt.Errorf("insert node %s: %w", node.ID, err)
	}
	s.logWrite("attach", node.ID, 1)
	return nil
}

func (s *MaterializedPath) DetachSubtree(ctx context.Context, tx store.Tx, id models.NodeID, mode CascadeMode) ([]models.NodeID, error) {
	if err := s.Lock(ctx, tx); err != nil {
		return nil, err
	}
	rec, err := s.load(ctx, tx, "detach", id)
	if err != nil {
		return nil, err
	}
	descendants, err := s.below(ctx, tx, rec)
	if err != nil {
		return nil, err
	}
	all := append([]*record{rec}, descendants...)

	if mode == SoftDelete {
		affected, err := s.markDeleted(ctx, tx, all)
		if err != nil {
			return nil, err
		}
		s.logWrite("soft_delete", id, len(affected))
		return affected, nil
	}

	if _, err := tx.Write(ctx, store.Delete(s.layout.NodeTable, store.HasPrefix(colPath, s.prefix(rec)))); err != nil {
		return nil, fmt.Errorf("delete subtree of %s: %w", id, err)
	}
	if err := s.deleteNodes(ctx, tx, []models.NodeID{id}); err != nil {
		return nil, err
	}
	ids := recordIDs(all)
	s.logWrite("hard_delete", id, len(ids))
	return ids, nil
}

func (s *MaterializedPath) Move(ctx context.Context, tx store.Tx, id models.NodeID, newParentID *models.NodeID) error {
	if err := s.Lock(ctx, tx); err != nil {
		return err
	}
	node, parent, noop, err := s.checkMove(ctx, tx, id, newParentID)
	if err != nil || noop {
		return err
	}
	oldPrefix := s.prefix(node)
	if parent != nil && strings.HasPrefix(parent.path, oldPrefix) {
		return models.NewTreeError("move", id, models.ErrCycleDetected)
	}

	newPath := s.childPath(parent)
	newPrefix := newPath + string(id) + s.layout.PathDelimiter

	rewritten, err := tx.Write(ctx, store.Update(s.layout.NodeTable,
		map[string]any{colPath: store.PrefixReplace{Old: oldPrefix, New: newPrefix}},
		store.HasPrefix(colPath, oldPrefix),
	))
	if err != nil {
		return fmt.Errorf("rewrite paths below %s: %w", id, err)
	}
	_, err = tx.Write(ctx, store.Update(s.layout.NodeTable,
		map[string]any{colPath: newPath, colParentID: parentValue(newParentID)},
		store.Eq(colID, string(id)),
	))
	if err != nil {
		return fmt.Errorf("move %s: %w", id, err)
	}
	s.logWrite("move", id, int(rewritten)+1)
	return nil
}

func (s *MaterializedPath) AncestorsOf(ctx context.Context, tx store.Tx, id models.NodeID, includeDeleted bool) ([]*models.Node, error) {
	rec, err := s.loadVisible(ctx, tx, "ancestors", id, includeDeleted)
	if err != nil {
		return nil, err
	}
	ids := s.ancestorIDs(rec.path)
	found, err := s.findMany(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	chain := make([]*record, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		a, ok := found[ids[i]]
		if !ok {
			return nil, invariantf("ancestors", id, "path references missing node %s", ids[i])
		}
		chain = append(chain, a)
	}
	return visible(chain, includeDeleted), nil
}

func (s *MaterializedPath) DescendantsOf(ctx context.Context, tx store.Tx, id models.NodeID, includeDeleted bool) ([]*models.Node, error) {
	rec, err := s.loadVisible(ctx, tx, "descendants", id, includeDeleted)
	if err != nil {
		return nil, err
	}
	descendants, err := s.below(ctx, tx, rec)
	if err != nil {
		return nil, err
	}
	return visible(levelOrder(id, descendants), includeDeleted), nil
}

// expected derives the path of every node in the tree containing id
func (s *MaterializedPath) expected(ctx context.Context, tx store.Tx, op string, id models.NodeID) ([]*treeEntry, map[models.NodeID]string, error) {
	root, err := s.treeRoot(ctx, tx, op, id)
	if err != nil {
		return nil, nil, err
	}
	entries, err := s.assemble(ctx, tx, op, root, byID)
	if err != nil {
		return nil, nil, err
	}
	paths := make(map[models.NodeID]string, len(entries))
	for _, e := range entries {
		if e.parent == nil {
			paths[e.rec.id()] = ""
			continue
		}
		parentID := e.parent.rec.id()
		paths[e.rec.id()] = paths[parentID] + string(parentID) + s.layout.PathDelimiter
	}
	return entries, paths, nil
}

func (s *MaterializedPath) Rebuild(ctx context.Context, tx store.Tx, id models.NodeID) error {
	if err := s.Lock(ctx, tx); err != nil {
		return err
	}
	entries, paths, err := s.expected(ctx, tx, "rebuild", id)
	if err != nil {
		return err
	}
	changed := 0
	for _, e := range entries {
		want := paths[e.rec.id()]
		if e.rec.path == want {
			continue
		}
		_, err := tx.Write(ctx, store.Update(s.layout.NodeTable,
			map[string]any{colPath: want},
			store.Eq(colID, string(e.rec.id())),
		))
		if err != nil {
			return fmt.Errorf("rewrite path of %s: %w", e.rec.id(), err)
		}
		changed++
	}
	s.logWrite("rebuild", entries[0].rec.id(), changed)
	return nil
}

func (s *MaterializedPath) Check(ctx context.Context, tx store.Tx, id models.NodeID) error {
	entries, paths, err := s.expected(ctx, tx, "check", id)
	if err != nil {
		return err
	}
	root := entries[0].rec
	for _, e := range entries {
		if want := paths[e.rec.id()]; e.rec.path != want {
			return invariantf("check", root.id(), "node %s has path %q, want %q", e.rec.id(), e.rec.path, want)
		}
	}

	members, err := s.below(ctx, tx, root)
	if err != nil {
		return err
	}
	for _, m := range members {
		if _, ok := paths[m.id()]; !ok {
			return invariantf("check", root.id(), "node %s has a path into the tree but is not attached to it", m.id())
		}
	}
	return nil
}
