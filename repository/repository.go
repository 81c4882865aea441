package repository

import (
	"context"

	"github.com/ammiranda/treestore/models"
)

// Repository defines the tree operations offered to callers.
// Every method runs in exactly one store transaction.
type Repository interface {
	// Insert stores a new node.
	// Parameters:
	//   - ctx: Context for the operation
	//   - node: The node to store; an empty ID is replaced by a generated one
	// Returns:
	//   - The stored node
	//   - ErrInvalidNode, ErrNodeExists or ErrParentNotFound if the node cannot be stored
	Insert(ctx context.Context, node *models.Node) (*models.Node, error)

	// Move reparents a node together with its subtree.
	// Parameters:
	//   - ctx: Context for the operation
	//   - id: The node to move
	//   - newParentID: The new parent, nil to make the node a root
	// Returns:
	//   - ErrNodeNotFound, ErrParentNotFound or ErrCycleDetected; nothing is written then
	Move(ctx context.Context, id models.NodeID, newParentID *models.NodeID) error

	// SoftDelete marks a node and its live descendants as deleted.
	// Returns the ids that were marked.
	SoftDelete(ctx context.Context, id models.NodeID) ([]models.NodeID, error)

	// Restore reverses the SoftDelete that marked id.
	// Descendants deleted on their own before that stay deleted.
	// Returns the ids that were restored, or ErrParentNotFound when the parent is hidden.
	Restore(ctx context.Context, id models.NodeID) ([]models.NodeID, error)

	// RemoveWithDescendants permanently deletes a node and its subtree.
	// Returns the ids that were removed.
	RemoveWithDescendants(ctx context.Context, id models.NodeID) ([]models.NodeID, error)

	// FindByID returns one node.
	FindByID(ctx context.Context, id models.NodeID, opts ...ReadOption) (*models.Node, error)

	// FindTree assembles the subtree below rootID, children ordered by id.
	FindTree(ctx context.Context, rootID models.NodeID, opts ...ReadOption) (*models.TreeNode, error)

	// FindAncestors returns the ancestors of a node, nearest first.
	FindAncestors(ctx context.Context, id models.NodeID, opts ...ReadOption) ([]*models.Node, error)

	// FindDescendants returns the descendants of a node by depth, then id.
	FindDescendants(ctx context.Context, id models.NodeID, opts ...ReadOption) ([]*models.Node, error)

	// FindRoots returns every root ordered by id.
	FindRoots(ctx context.Context, opts ...ReadOption) ([]*models.Node, error)

	// CountDescendants counts what FindDescendants would return.
	CountDescendants(ctx context.Context, id models.NodeID, opts ...ReadOption) (int, error)

	// Rebuild recomputes the strategy's auxiliary state for the tree containing id.
	Rebuild(ctx context.Context, id models.NodeID) error

	// Check verifies the strategy's auxiliary state for the tree containing id.
	// Returns ErrInvariantViolation on any mismatch.
	Check(ctx context.Context, id models.NodeID) error
}

// Tree errors, matched with errors.Is
var (
	ErrNodeNotFound                 = models.ErrNodeNotFound
	ErrParentNotFound               = models.ErrParentNotFound
	ErrCycleDetected                = models.ErrCycleDetected
	ErrConcurrentStructuralConflict = models.ErrConcurrentStructuralConflict
	ErrInvariantViolation           = models.ErrInvariantViolation
	ErrInvalidNode                  = models.ErrInvalidNode
	ErrNodeExists                   = models.ErrNodeExists
)

type readOptions struct {
	includeDeleted bool
}

// ReadOption adjusts a read
type ReadOption func(*readOptions)

// IncludeDeleted makes reads return soft-deleted nodes and what lies below them
func IncludeDeleted() ReadOption {
	return func(o *readOptions) {
		o.includeDeleted = true
	}
}

// WithDeleted is IncludeDeleted when include is set, a no-op otherwise
func WithDeleted(include bool) ReadOption {
	return func(o *readOptions) {
		o.includeDeleted = o.includeDeleted || include
	}
}

func collectReadOptions(opts []ReadOption) readOptions {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
