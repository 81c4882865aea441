package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ammiranda/treestore/metrics"
	"github.com/ammiranda/treestore/models"
	"github.com/ammiranda/treestore/store"
	"github.com/ammiranda/treestore/strategy"
)

// TreeRepository binds one strategy to one store. It applies the soft-delete
// policy on top of the strategy: a soft delete marks the node and its live
// descendants with the same timestamp, and default reads hide every node that
// is marked or sits below a marked node.
type TreeRepository struct {
	store    store.Store
	strategy strategy.Strategy
	newID    func() models.NodeID
	now      func() time.Time
	logger   *slog.Logger
	metrics  metrics.Recorder
}

var _ Repository = (*TreeRepository)(nil)

// Option configures a TreeRepository
type Option func(*TreeRepository)

// WithIDGenerator sets how ids are generated for nodes inserted without one
func WithIDGenerator(gen func() models.NodeID) Option {
	return func(r *TreeRepository) { r.newID = gen }
}

// WithClock sets the clock used to time operations
func WithClock(now func() time.Time) Option {
	return func(r *TreeRepository) { r.now = now }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *TreeRepository) { r.logger = logger }
}

// WithMetrics sets the operation recorder
func WithMetrics(m metrics.Recorder) Option {
	return func(r *TreeRepository) { r.metrics = m }
}

// New creates a repository storing trees in s with the layout of st
func New(s store.Store, st strategy.Strategy, opts ...Option) *TreeRepository {
	r := &TreeRepository{
		store:    s,
		strategy: st,
		newID:    func() models.NodeID { return models.NodeID(uuid.NewString()) },
		now:      time.Now,
		logger:   slog.Default(),
		metrics:  metrics.Nop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("strategy", string(st.Kind()))
	return r
}

// Strategy returns the strategy the repository was built with
func (r *TreeRepository) Strategy() strategy.Strategy {
	return r.strategy
}

// track records the outcome of op and logs failures
func (r *TreeRepository) track(op string, id models.NodeID, started time.Time, err error) {
	r.metrics.Observe(string(r.strategy.Kind()), op, err, r.now().Sub(started))
	if err != nil {
		r.logger.Warn("tree operation failed", "op", op, "node", string(id), "error", err)
	}
}

func (r *TreeRepository) Insert(ctx context.Context, node *models.Node) (out *models.Node, err error) {
	started := r.now()
	if node == nil {
		err = models.NewTreeError("insert", "", models.ErrInvalidNode)
		r.track("insert", "", started, err)
		return nil, err
	}

	n := node.Clone()
	n.DeletedAt = nil
	if n.ID == "" {
		n.ID = r.newID()
	}
	defer func() { r.track("insert", n.ID, started, err) }()

	err = r.store.WithTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		return r.strategy.Attach(ctx, tx, n, n.ParentID)
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (r *TreeRepository) Move(ctx context.Context, id models.NodeID, newParentID *models.NodeID) (err error) {
	started := r.now()
	defer func() { r.track("move", id, started, err) }()

	return r.store.WithTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		return r.strategy.Move(ctx, tx, id, newParentID)
	})
}

func (r *TreeRepository) SoftDelete(ctx context.Context, id models.NodeID) (ids []models.NodeID, err error) {
	started := r.now()
	defer func() { r.track("soft_delete", id, started, err) }()

	return store.InTx(ctx, r.store, func(ctx context.Context, tx store.Tx) ([]models.NodeID, error) {
		if err := r.strategy.Lock(ctx, tx); err != nil {
			return nil, err
		}
		if _, _, err := r.visible(ctx, tx, "soft_delete", id); err != nil {
			return nil, err
		}
		return r.strategy.DetachSubtree(ctx, tx, id, strategy.SoftDelete)
	})
}

func (r *TreeRepository) Restore(ctx context.Context, id models.NodeID) (ids []models.NodeID, err error) {
	started := r.now()
	defer func() { r.track("restore", id, started, err) }()

	return store.InTx(ctx, r.store, func(ctx context.Context, tx store.Tx) ([]models.NodeID, error) {
		// the parent check must see the state the unmark writes against
		if err := r.strategy.Lock(ctx, tx); err != nil {
			return nil, err
		}
		node, err := r.strategy.Node(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if !node.IsDeleted() {
			return nil, nil
		}
		if node.ParentID != nil {
			if _, _, err := r.visible(ctx, tx, "restore", *node.ParentID); err != nil {
				return nil, models.NewTreeError("restore", id, models.ErrParentNotFound)
			}
		}

		descendants, err := r.strategy.DescendantsOf(ctx, tx, id, true)
		if err != nil {
			return nil, err
		}
		ids := []models.NodeID{id}
		for _, d := range descendants {
			// only what the same soft delete marked
			if d.DeletedAt != nil && d.DeletedAt.Equal(*node.DeletedAt) {
				ids = append(ids, d.ID)
			}
		}
		if _, err := r.strategy.Unmark(ctx, tx, ids); err != nil {
			return nil, err
		}
		return ids, nil
	})
}

func (r *TreeRepository) RemoveWithDescendants(ctx context.Context, id models.NodeID) (ids []models.NodeID, err error) {
	started := r.now()
	defer func() { r.track("remove", id, started, err) }()

	return store.InTx(ctx, r.store, func(ctx context.Context, tx store.Tx) ([]models.NodeID, error) {
		return r.strategy.DetachSubtree(ctx, tx, id, strategy.HardDelete)
	})
}

func (r *TreeRepository) FindByID(ctx context.Context, id models.NodeID, opts ...ReadOption) (node *models.Node, err error) {
	started := r.now()
	defer func() { r.track("find_by_id", id, started, err) }()
	o := collectReadOptions(opts)

	return store.InTx(ctx, r.store, func(ctx context.Context, tx store.Tx) (*models.Node, error) {
		if o.includeDeleted {
			return r.strategy.Node(ctx, tx, id)
		}
		node, _, err := r.visible(ctx, tx, "find_by_id", id)
		return node, err
	})
}

func (r *TreeRepository) FindAncestors(ctx context.Context, id models.NodeID, opts ...ReadOption) (ancestors []*models.Node, err error) {
	started := r.now()
	defer func() { r.track("find_ancestors", id, started, err) }()
	o := collectReadOptions(opts)

	return store.InTx(ctx, r.store, func(ctx context.Context, tx store.Tx) ([]*models.Node, error) {
		if o.includeDeleted {
			return r.strategy.AncestorsOf(ctx, tx, id, true)
		}
		_, ancestors, err := r.visible(ctx, tx, "find_ancestors", id)
		return ancestors, err
	})
}

func (r *TreeRepository) FindDescendants(ctx context.Context, id models.NodeID, opts ...ReadOption) (descendants []*models.Node, err error) {
	started := r.now()
	defer func() { r.track("find_descendants", id, started, err) }()
	o := collectReadOptions(opts)

	return store.InTx(ctx, r.store, func(ctx context.Context, tx store.Tx) ([]*models.Node, error) {
		return r.descendants(ctx, tx, "find_descendants", id, o)
	})
}

func (r *TreeRepository) CountDescendants(ctx context.Context, id models.NodeID, opts ...ReadOption) (count int, err error) {
	started := r.now()
	defer func() { r.track("count_descendants", id, started, err) }()
	o := collectReadOptions(opts)

	return store.InTx(ctx, r.store, func(ctx context.Context, tx store.Tx) (int, error) {
		descendants, err := r.descendants(ctx, tx, "count_descendants", id, o)
		return len(descendants), err
	})
}

func (r *TreeRepository) FindTree(ctx context.Context, rootID models.NodeID, opts ...ReadOption) (tree *models.TreeNode, err error) {
	started := r.now()
	defer func() { r.track("find_tree", rootID, started, err) }()
	o := collectReadOptions(opts)

	return store.InTx(ctx, r.store, func(ctx context.Context, tx store.Tx) (*models.TreeNode, error) {
		var root *models.Node
		var err error
		if o.includeDeleted {
			root, err = r.strategy.Node(ctx, tx, rootID)
		} else {
			root, _, err = r.visible(ctx, tx, "find_tree", rootID)
		}
		if err != nil {
			return nil, err
		}

		descendants, err := r.descendants(ctx, tx, "find_tree", rootID, readOptions{includeDeleted: true})
		if err != nil {
			return nil, err
		}
		if !o.includeDeleted {
			descendants = pruneDeleted(rootID, descendants)
		}
		return assemble(root, descendants), nil
	})
}

func (r *TreeRepository) FindRoots(ctx context.Context, opts ...ReadOption) (roots []*models.Node, err error) {
	started := r.now()
	defer func() { r.track("find_roots", "", started, err) }()
	o := collectReadOptions(opts)

	return store.InTx(ctx, r.store, func(ctx context.Context, tx store.Tx) ([]*models.Node, error) {
		// roots have no ancestors, their own marker decides
		return r.strategy.Roots(ctx, tx, o.includeDeleted)
	})
}

func (r *TreeRepository) Rebuild(ctx context.Context, id models.NodeID) (err error) {
	started := r.now()
	defer func() { r.track("rebuild", id, started, err) }()

	err = r.store.WithTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		return r.strategy.Rebuild(ctx, tx, id)
	})
	if err == nil {
		r.logger.Info("tree rebuilt", "node", string(id))
	}
	return err
}

func (r *TreeRepository) Check(ctx context.Context, id models.NodeID) (err error) {
	started := r.now()
	defer func() { r.track("check", id, started, err) }()

	return r.store.WithTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		return r.strategy.Check(ctx, tx, id)
	})
}

// visible returns id and its ancestors when neither id nor any ancestor is soft-deleted
func (r *TreeRepository) visible(ctx context.Context, tx store.Tx, op string, id models.NodeID) (*models.Node, []*models.Node, error) {
	node, err := r.strategy.Node(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	if node.IsDeleted() {
		return nil, nil, models.NewTreeError(op, id, models.ErrNodeNotFound)
	}
	ancestors, err := r.strategy.AncestorsOf(ctx, tx, id, true)
	if err != nil {
		return nil, nil, err
	}
	for _, a := range ancestors {
		if a.IsDeleted() {
			return nil, nil, models.NewTreeError(op, id, models.ErrNodeNotFound)
		}
	}
	return node, ancestors, nil
}

func (r *TreeRepository) descendants(ctx context.Context, tx store.Tx, op string, id models.NodeID, o readOptions) ([]*models.Node, error) {
	if o.includeDeleted {
		return r.strategy.DescendantsOf(ctx, tx, id, true)
	}
	if _, _, err := r.visible(ctx, tx, op, id); err != nil {
		return nil, err
	}
	descendants, err := r.strategy.DescendantsOf(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	return pruneDeleted(id, descendants), nil
}

// pruneDeleted drops deleted nodes and everything below them. descendants must be
// ordered so that parents come before their children.
func pruneDeleted(rootID models.NodeID, descendants []*models.Node) []*models.Node {
	hidden := make(map[models.NodeID]bool)
	kept := make([]*models.Node, 0, len(descendants))
	for _, d := range descendants {
		if d.IsDeleted() || (d.ParentID != nil && *d.ParentID != rootID && hidden[*d.ParentID]) {
			hidden[d.ID] = true
			continue
		}
		kept = append(kept, d)
	}
	return kept
}

// assemble nests descendants (parents first) under root
func assemble(root *models.Node, descendants []*models.Node) *models.TreeNode {
	tree := models.NewTreeNode(root)
	index := map[models.NodeID]*models.TreeNode{root.ID: tree}
	for _, d := range descendants {
		if d.ParentID == nil {
			continue
		}
		parent, ok := index[*d.ParentID]
		if !ok {
			continue
		}
		child := models.NewTreeNode(d)
		parent.AddChild(child)
		index[d.ID] = child
	}
	return tree
}
