package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ammiranda/treestore/models"
	"github.com/ammiranda/treestore/store"
)

// base carries what all strategies share: the layout, the clock, the logger and
// the parent-reference operations every layout relies on.
type base struct {
	kind   Kind
	layout Layout
	now    func() time.Time
	logger *slog.Logger
	// tables written by structural operations
	tables []string
}

func newBase(kind Kind, layout Layout, opts []Option) base {
	b := base{
		kind:   kind,
		layout: layout,
		now:    time.Now,
		logger: slog.Default(),
		tables: []string{layout.NodeTable},
	}
	for _, opt := range opts {
		opt(&b)
	}
	b.logger = b.logger.With("strategy", string(kind))
	return b
}

func (b *base) Kind() Kind {
	return b.kind
}

func (b *base) Layout() Layout {
	return b.layout
}

// Lock takes the write locks of every table the strategy writes
func (b *base) Lock(ctx context.Context, tx store.Tx) error {
	return tx.Lock(ctx, b.tables...)
}

func (b *base) logWrite(op string, id models.NodeID, affected int) {
	b.logger.Debug("structural write", "op", op, "node", string(id), "affected", affected)
}

// find returns the record of id, or nil when there is none
func (b *base) find(ctx context.Context, tx store.Tx, id models.NodeID) (*record, error) {
	rows, err := tx.Read(ctx, store.Select(b.layout.NodeTable, store.Eq(colID, string(id))))
	if err != nil {
		return nil, fmt.Errorf("read node %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return decodeRecord(rows[0])
}

// load is find for a node that has to exist
func (b *base) load(ctx context.Context, tx store.Tx, op string, id models.NodeID) (*record, error) {
	rec, err := b.find(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, models.NewTreeError(op, id, models.ErrNodeNotFound)
	}
	return rec, nil
}

// loadVisible is load for reads: soft-deleted nodes are missing unless includeDeleted
func (b *base) loadVisible(ctx context.Context, tx store.Tx, op string, id models.NodeID, includeDeleted bool) (*record, error) {
	rec, err := b.load(ctx, tx, op, id)
	if err != nil {
		return nil, err
	}
	if !includeDeleted && !rec.live() {
		return nil, models.NewTreeError(op, id, models.ErrNodeNotFound)
	}
	return rec, nil
}

// findMany returns the records of ids that exist, keyed by id
func (b *base) findMany(ctx context.Context, tx store.Tx, ids []models.NodeID) (map[models.NodeID]*record, error) {
	found := make(map[models.NodeID]*record, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	rows, err := tx.Read(ctx, store.Select(b.layout.NodeTable, store.In(colID, idValues(ids))))
	if err != nil {
		return nil, fmt.Errorf("read nodes: %w", err)
	}
	recs, err := decodeRecords(rows)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		found[r.id()] = r
	}
	return found, nil
}

// checkAttach validates an insert and returns the parent record (nil for a root)
func (b *base) checkAttach(ctx context.Context, tx store.Tx, node *models.Node, parentID *models.NodeID) (*record, error) {
	if node == nil || node.ID == "" {
		return nil, models.NewTreeError("attach", "", models.ErrInvalidNode)
	}
	existing, err := b.find(ctx, tx, node.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, models.NewTreeError("attach", node.ID, models.ErrNodeExists)
	}
	if parentID == nil {
		return nil, nil
	}
	parent, err := b.find(ctx, tx, *parentID)
	if err != nil {
		return nil, err
	}
	if parent == nil || !parent.live() {
		return nil, models.NewTreeError("attach", node.ID, fmt.Errorf("%w: %s", models.ErrParentNotFound, *parentID))
	}
	return parent, nil
}

// checkMove runs the validations shared by every strategy, in order. The subtree
// containment test is left to the caller. noop is set when the parent is unchanged.
func (b *base) checkMove(ctx context.Context, tx store.Tx, id models.NodeID, newParentID *models.NodeID) (node, parent *record, noop bool, err error) {
	node, err = b.find(ctx, tx, id)
	if err != nil {
		return nil, nil, false, err
	}
	if node == nil || !node.live() {
		return nil, nil, false, models.NewTreeError("move", id, models.ErrNodeNotFound)
	}
	if newParentID != nil && *newParentID == id {
		return nil, nil, false, models.NewTreeError("move", id, models.ErrCycleDetected)
	}
	if node.node.HasParent(newParentID) {
		return node, nil, true, nil
	}
	if newParentID == nil {
		return node, nil, false, nil
	}
	parent, err = b.find(ctx, tx, *newParentID)
	if err != nil {
		return nil, nil, false, err
	}
	if parent == nil || !parent.live() {
		return nil, nil, false, models.NewTreeError("move", id, fmt.Errorf("%w: %s", models.ErrParentNotFound, *newParentID))
	}
	return node, parent, false, nil
}

func (b *base) setParent(ctx context.Context, tx store.Tx, id models.NodeID, parentID *models.NodeID) error {
	_, err := tx.Write(ctx, store.Update(b.layout.NodeTable,
		map[string]any{colParentID: parentValue(parentID)},
		store.Eq(colID, string(id)),
	))
	if err != nil {
		return fmt.Errorf("update parent of %s: %w", id, err)
	}
	return nil
}

// children reads every row whose parent is in frontier
func (b *base) children(ctx context.Context, tx store.Tx, frontier []models.NodeID) ([]*record, error) {
	if len(frontier) == 0 {
		return nil, nil
	}
	rows, err := tx.Read(ctx, store.Select(b.layout.NodeTable, store.In(colParentID, idValues(frontier))))
	if err != nil {
		return nil, fmt.Errorf("read children: %w", err)
	}
	return decodeRecords(rows)
}

// subtree expands the descendants of rec level by level through the parent references
func (b *base) subtree(ctx context.Context, tx store.Tx, op string, rec *record) ([]*record, error) {
	seen := map[models.NodeID]bool{rec.id(): true}
	var result []*record
	frontier := []models.NodeID{rec.id()}
	for len(frontier) > 0 {
		level, err := b.children(ctx, tx, frontier)
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, child := range level {
			if seen[child.id()] {
				return nil, models.NewTreeError(op, rec.id(), fmt.Errorf("%w: %s reached twice", models.ErrInvariantViolation, child.id()))
			}
			seen[child.id()] = true
			result = append(result, child)
			frontier = append(frontier, child.id())
		}
	}
	return result, nil
}

// parentChain walks the parent references of rec, nearest first, one read per hop
func (b *base) parentChain(ctx context.Context, tx store.Tx, op string, rec *record) ([]*record, error) {
	seen := map[models.NodeID]bool{rec.id(): true}
	var chain []*record
	current := rec
	for current.node.ParentID != nil {
		parentID := *current.node.ParentID
		if seen[parentID] {
			return nil, models.NewTreeError(op, rec.id(), fmt.Errorf("%w: parent cycle through %s", models.ErrInvariantViolation, parentID))
		}
		seen[parentID] = true
		parent, err := b.find(ctx, tx, parentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, models.NewTreeError(op, rec.id(), fmt.Errorf("%w: dangling parent %s", models.ErrInvariantViolation, parentID))
		}
		chain = append(chain, parent)
		current = parent
	}
	return chain, nil
}

// treeRoot resolves id to the root of its tree through the parent references
func (b *base) treeRoot(ctx context.Context, tx store.Tx, op string, id models.NodeID) (*record, error) {
	rec, err := b.load(ctx, tx, op, id)
	if err != nil {
		return nil, err
	}
	chain, err := b.parentChain(ctx, tx, op, rec)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return rec, nil
	}
	return chain[len(chain)-1], nil
}

// treeEntry is a node of a tree assembled from parent references
type treeEntry struct {
	rec      *record
	parent   *treeEntry
	depth    int
	children []*treeEntry
}

// ancestors returns the entries above e, root first
func (e *treeEntry) ancestors() []*treeEntry {
	var chain []*treeEntry
	for p := e.parent; p != nil; p = p.parent {
		chain = append(chain, p)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// byID orders siblings by id
func byID(a, b *record) bool {
	return a.id() < b.id()
}

// assemble reads the whole tree under root and returns its entries in pre-order,
// siblings sorted with less
func (b *base) assemble(ctx context.Context, tx store.Tx, op string, root *record, less func(a, b *record) bool) ([]*treeEntry, error) {
	rootEntry := &treeEntry{rec: root}
	entries := map[models.NodeID]*treeEntry{root.id(): rootEntry}
	frontier := []models.NodeID{root.id()}
	for len(frontier) > 0 {
		level, err := b.children(ctx, tx, frontier)
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, child := range level {
			if _, dup := entries[child.id()]; dup {
				return nil, models.NewTreeError(op, root.id(), fmt.Errorf("%w: %s reached twice", models.ErrInvariantViolation, child.id()))
			}
			parent := entries[*child.node.ParentID]
			e := &treeEntry{rec: child, parent: parent, depth: parent.depth + 1}
			parent.children = append(parent.children, e)
			entries[child.id()] = e
			frontier = append(frontier, child.id())
		}
	}

	var order []*treeEntry
	var visit func(e *treeEntry)
	visit = func(e *treeEntry) {
		order = append(order, e)
		sort.SliceStable(e.children, func(i, j int) bool {
			return less(e.children[i].rec, e.children[j].rec)
		})
		for _, c := range e.children {
			visit(c)
		}
	}
	visit(rootEntry)
	return order, nil
}

// markDeleted stamps deleted_at on the live records and returns their ids
func (b *base) markDeleted(ctx context.Context, tx store.Tx, recs []*record) ([]models.NodeID, error) {
	var live []models.NodeID
	for _, r := range recs {
		if r.live() {
			live = append(live, r.id())
		}
	}
	if len(live) == 0 {
		return nil, nil
	}
	stamp := models.Timestamp(b.now())
	_, err := tx.Write(ctx, store.Update(b.layout.NodeTable,
		map[string]any{colDeletedAt: stamp},
		store.In(colID, idValues(live)),
		store.IsNull(colDeletedAt),
	))
	if err != nil {
		return nil, fmt.Errorf("soft delete: %w", err)
	}
	return live, nil
}

// deleteNodes removes node rows
func (b *base) deleteNodes(ctx context.Context, tx store.Tx, ids []models.NodeID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := tx.Write(ctx, store.Delete(b.layout.NodeTable, store.In(colID, idValues(ids)))); err != nil {
		return fmt.Errorf("delete nodes: %w", err)
	}
	return nil
}

// Roots returns the parentless nodes. Every layout keeps parent_id, so the query is shared.
func (b *base) Roots(ctx context.Context, tx store.Tx, includeDeleted bool) ([]*models.Node, error) {
	query := store.Select(b.layout.NodeTable, store.IsNull(colParentID)).OrderedBy(store.Asc(colID))
	if !includeDeleted {
		query.Where = append(query.Where, store.IsNull(colDeletedAt))
	}
	rows, err := tx.Read(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read roots: %w", err)
	}
	recs, err := decodeRecords(rows)
	if err != nil {
		return nil, err
	}
	return visible(recs, includeDeleted), nil
}

func (b *base) Node(ctx context.Context, tx store.Tx, id models.NodeID) (*models.Node, error) {
	rec, err := b.load(ctx, tx, "get", id)
	if err != nil {
		return nil, err
	}
	return rec.node, nil
}

func (b *base) Unmark(ctx context.Context, tx store.Tx, ids []models.NodeID) (int64, error) {
	if err := tx.Lock(ctx, b.layout.NodeTable); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := tx.Write(ctx, store.Update(b.layout.NodeTable,
		map[string]any{colDeletedAt: nil},
		store.In(colID, idValues(ids)),
		store.NotNull(colDeletedAt),
	))
	if err != nil {
		return 0, fmt.Errorf("restore: %w", err)
	}
	b.logger.Debug("structural write", "op", "restore", "affected", n)
	return n, nil
}

func invariantf(op string, id models.NodeID, format string, args ...any) error {
	return models.NewTreeError(op, id, fmt.Errorf("%w: %s", models.ErrInvariantViolation, fmt.Sprintf(format, args...)))
}
