// Package strategy implements the physical layouts a tree can be stored in.
//
// Every strategy keeps the parent reference of each node in the node table and
// maintains its own auxiliary state next to it: nothing for the adjacency list, an
// ancestor/descendant table for the closure table, bounds for the nested set and
// encoded ancestor paths for the materialized path. All of them operate through a
// store.Tx, so the caller decides the transaction scope.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ammiranda/treestore/models"
	"github.com/ammiranda/treestore/store"
)

// Kind names a storage strategy
type Kind string

const (
	KindAdjacency        Kind = "adjacency"
	KindClosure          Kind = "closure"
	KindNestedSet        Kind = "nested_set"
	KindMaterializedPath Kind = "materialized_path"
)

// Kinds lists every supported strategy
func Kinds() []Kind {
	return []Kind{KindAdjacency, KindClosure, KindNestedSet, KindMaterializedPath}
}

// ParseKind resolves a strategy name. Dashes and case are ignored.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown tree strategy %q", s)
}

// CascadeMode selects what DetachSubtree does to the subtree
type CascadeMode int

const (
	// HardDelete removes the rows and all auxiliary state
	HardDelete CascadeMode = iota
	// SoftDelete stamps deleted_at and leaves auxiliary state untouched
	SoftDelete
)

func (m CascadeMode) String() string {
	if m == SoftDelete {
		return "soft"
	}
	return "hard"
}

// Layout names the tables a strategy works on
type Layout struct {
	NodeTable     string
	ClosureTable  string
	PathDelimiter string
}

// DefaultLayout matches the bundled schema
func DefaultLayout() Layout {
	return Layout{
		NodeTable:     "tree_nodes",
		ClosureTable:  "tree_closure",
		PathDelimiter: "/",
	}
}

// Validate checks that the layout can be used to build statements
func (l Layout) Validate() error {
	if !store.ValidIdentifier(l.NodeTable) {
		return fmt.Errorf("invalid node table name %q", l.NodeTable)
	}
	if !store.ValidIdentifier(l.ClosureTable) {
		return fmt.Errorf("invalid closure table name %q", l.ClosureTable)
	}
	if l.NodeTable == l.ClosureTable {
		return fmt.Errorf("node and closure table are both %q", l.NodeTable)
	}
	if l.PathDelimiter == "" {
		return fmt.Errorf("path delimiter cannot be empty")
	}
	return nil
}

// Strategy maintains one physical tree layout. Implementations hold no tree state
// of their own: everything lives in the store reached through tx.
type Strategy interface {
	Kind() Kind
	Layout() Layout
	// Lock takes the write locks on every table the strategy writes. Callers that
	// read before a structural write call it first.
	Lock(ctx context.Context, tx store.Tx) error

	// Attach stores node under parentID (nil for a root)
	Attach(ctx context.Context, tx store.Tx, node *models.Node, parentID *models.NodeID) error
	// DetachSubtree hard- or soft-deletes id and its descendants and returns the affected ids
	DetachSubtree(ctx context.Context, tx store.Tx, id models.NodeID, mode CascadeMode) ([]models.NodeID, error)
	// Move reparents id under newParentID (nil makes it a root)
	Move(ctx context.Context, tx store.Tx, id models.NodeID, newParentID *models.NodeID) error

	// Node reads one node, soft-deleted or not
	Node(ctx context.Context, tx store.Tx, id models.NodeID) (*models.Node, error)
	// Unmark clears the soft-delete marker of ids and returns how many rows changed
	Unmark(ctx context.Context, tx store.Tx, ids []models.NodeID) (int64, error)

	// AncestorsOf returns the ancestors of id, nearest first
	AncestorsOf(ctx context.Context, tx store.Tx, id models.NodeID, includeDeleted bool) ([]*models.Node, error)
	// DescendantsOf returns the descendants of id ordered by depth, then id
	DescendantsOf(ctx context.Context, tx store.Tx, id models.NodeID, includeDeleted bool) ([]*models.Node, error)
	// Roots returns all nodes without a parent ordered by id
	Roots(ctx context.Context, tx store.Tx, includeDeleted bool) ([]*models.Node, error)

	// Rebuild recomputes the auxiliary state of the tree containing id from the parent references
	Rebuild(ctx context.Context, tx store.Tx, id models.NodeID) error
	// Check compares the auxiliary state of the tree containing id with what Rebuild would write
	Check(ctx context.Context, tx store.Tx, id models.NodeID) error
}

// Option configures a strategy
type Option func(*base)

// WithClock sets the source of soft-delete timestamps
func WithClock(now func() time.Time) Option {
	return func(b *base) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLogger sets the logger for structural writes
func WithLogger(logger *slog.Logger) Option {
	return func(b *base) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New builds the strategy of the given kind
func New(kind Kind, layout Layout, opts ...Option) (Strategy, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	switch kind {
	case KindAdjacency:
		return NewAdjacencyList(layout, opts...), nil
	case KindClosure:
		return NewClosureTable(layout, opts...), nil
	case KindNestedSet:
		return NewNestedSet(layout, opts...), nil
	case KindMaterializedPath:
		return NewMaterializedPath(layout, opts...), nil
	default:
		return nil, fmt.Errorf("unknown tree strategy %q", kind)
	}
}
