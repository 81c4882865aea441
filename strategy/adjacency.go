package strategy

import (
	"context"
	"fmt"

	"github.com/ammiranda/treestore/models"
	"github.com/ammiranda/treestore/store"
)

// AdjacencyList stores only the parent reference of each node. Ancestor reads walk
// the chain one hop per read; descendant reads expand level by level.
type AdjacencyList struct {
	base
}

// NewAdjacencyList creates the adjacency list strategy
func NewAdjacencyList(layout Layout, opts ...Option) *AdjacencyList {
	return &AdjacencyList{base: newBase(KindAdjacency, layout, opts)}
}

func (s *AdjacencyList) Attach(ctx context.Context, tx store.Tx, node *models.Node, parentID *models.NodeID) error {
	if err := s.Lock(ctx, tx); err != nil {
		return err
	}
	if _, err := s.checkAttach(ctx, tx, node, parentID); err != nil {
		return err
	}
	row, err := nodeRow(node, parentID)
	if err != nil {
		return err
	}
	if _, err := tx.Write(ctx, store.Insert(s.layout.NodeTable, row)); err != nil {
		return fmt.Errorf("insert node %s: %w", node.ID, err)
	}
	s.logWrite("attach", node.ID, 1)
	return nil
}

func (s *AdjacencyList) DetachSubtree(ctx context.Context, tx store.Tx, id models.NodeID, mode CascadeMode) ([]models.NodeID, error) {
	if err := s.Lock(ctx, tx); err != nil {
		return nil, err
	}
	rec, err := s.load(ctx, tx, "detach", id)
	if err != nil {
		return nil, err
	}
	descendants, err := s.subtree(ctx, tx, "detach", rec)
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

	ids := recordIDs(all)
	if err := s.deleteNodes(ctx, tx, ids); err != nil {
		return nil, err
	}
	s.logWrite("hard_delete", id, len(ids))
	return ids, nil
}

func (s *AdjacencyList) Move(ctx context.Context, tx store.Tx, id models.NodeID, newParentID *models.NodeID) error {
	if err := s.Lock(ctx, tx); err != nil {
		return err
	}
	_, parent, noop, err := s.checkMove(ctx, tx, id, newParentID)
	if err != nil || noop {
		return err
	}
	if parent != nil {
		// the new parent may not sit below the moving node
		chain, err := s.parentChain(ctx, tx, "move", parent)
		if err != nil {
			return err
		}
		for _, a := range chain {
			if a.id() == id {
				return models.NewTreeError("move", id, models.ErrCycleDetected)
			}
		}
	}
	if err := s.setParent(ctx, tx, id, newParentID); err != nil {
		return err
	}
	s.logWrite("move", id, 1)
	return nil
}

func (s *AdjacencyList) AncestorsOf(ctx context.Context, tx store.Tx, id models.NodeID, includeDeleted bool) ([]*models.Node, error) {
	rec, err := s.loadVisible(ctx, tx, "ancestors", id, includeDeleted)
	if err != nil {
		return nil, err
	}
	chain, err := s.parentChain(ctx, tx, "ancestors", rec)
	if err != nil {
		return nil, err
	}
	return visible(chain, includeDeleted), nil
}

func (s *AdjacencyList) DescendantsOf(ctx context.Context, tx store.Tx, id models.NodeID, includeDeleted bool) ([]*models.Node, error) {
	rec, err := s.loadVisible(ctx, tx, "descendants", id, includeDeleted)
	if err != nil {
		return nil, err
	}
	descendants, err := s.subtree(ctx, tx, "descendants", rec)
	if err != nil {
		return nil, err
	}
	return visible(levelOrder(id, descendants), includeDeleted), nil
}

// Rebuild has no auxiliary state to recompute. It still verifies that the
// parent references of the tree resolve to a root without cycles.
func (s *AdjacencyList) Rebuild(ctx context.Context, tx store.Tx, id models.NodeID) error {
	return s.Check(ctx, tx, id)
}

func (s *AdjacencyList) Check(ctx context.Context, tx store.Tx, id models.NodeID) error {
	root, err := s.treeRoot(ctx, tx, "check", id)
	if err != nil {
		return err
	}
	_, err = s.assemble(ctx, tx, "check", root, byID)
	return err
}
