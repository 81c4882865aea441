package models

import (
	"errors"
	"fmt"
)

// Tree errors. Strategies and the repository wrap these; match with errors.Is.
var (
	// ErrNodeNotFound is returned when a node does not exist (or is hidden by soft delete)
	ErrNodeNotFound = errors.New("node not found")
	// ErrParentNotFound is returned when a parent reference does not resolve to a live node
	ErrParentNotFound = errors.New("parent node not found")
	// ErrCycleDetected is returned when a move would make a node its own descendant
	ErrCycleDetected = errors.New("cycle detected")
	// ErrConcurrentStructuralConflict is returned when the store reports a write or lock conflict
	ErrConcurrentStructuralConflict = errors.New("concurrent structural conflict")
	// ErrInvariantViolation is returned when auxiliary state disagrees with the adjacency facts
	ErrInvariantViolation = errors.New("tree invariant violation")
	// ErrInvalidNode is returned when a node cannot be stored as given
	ErrInvalidNode = errors.New("invalid node")
	// ErrNodeExists is returned when inserting a node whose id is already taken
	ErrNodeExists = errors.New("node already exists")
)

// TreeError records the operation and node a tree error happened on
type TreeError struct {
	Op     string
	NodeID NodeID
	Err    error
}

func (e *TreeError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.NodeID, e.Err)
}

func (e *TreeError) Unwrap() error {
	return e.Err
}

// NewTreeError wraps err with the operation and node id
func NewTreeError(op string, id NodeID, err error) error {
	return &TreeError{Op: op, NodeID: id, Err: err}
}
