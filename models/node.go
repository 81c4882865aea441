package models

import (
	"time"
)

// NodeID is the opaque identity of a tree entity.
type NodeID string

// String returns the id as a plain string
func (id NodeID) String() string {
	return string(id)
}

// Ptr returns a pointer to a copy of id, handy for optional parent references
func (id NodeID) Ptr() *NodeID {
	return &id
}

// Node is a disposable snapshot of one hierarchical entity. Parents are referenced by
// identity, never by pointer; the store owns the canonical state.
type Node struct {
	ID        NodeID         `json:"id"`
	ParentID  *NodeID        `json:"parentId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	DeletedAt *time.Time     `json:"deletedAt,omitempty"`
}

// NewNode creates a node with the given id and payload
func NewNode(id NodeID, parentID *NodeID, payload map[string]any) *Node {
	return &Node{
		ID:       id,
		ParentID: parentID,
		Payload:  payload,
	}
}

// IsRoot reports whether the node has no parent
func (n *Node) IsRoot() bool {
	return n.ParentID == nil
}

// IsDeleted reports whether the node carries a soft-delete marker
func (n *Node) IsDeleted() bool {
	return n.DeletedAt != nil
}

// HasParent reports whether the node's parent is id. A nil id matches roots.
func (n *Node) HasParent(id *NodeID) bool {
	if n.ParentID == nil || id == nil {
		return n.ParentID == nil && id == nil
	}
	return *n.ParentID == *id
}

// Clone returns a deep copy of the node
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{ID: n.ID}
	if n.ParentID != nil {
		p := *n.ParentID
		c.ParentID = &p
	}
	if n.DeletedAt != nil {
		t := *n.DeletedAt
		c.DeletedAt = &t
	}
	if n.Payload != nil {
		c.Payload = make(map[string]any, len(n.Payload))
		for k, v := range n.Payload {
			c.Payload[k] = v
		}
	}
	return c
}

// IDs returns the ids of nodes, preserving order
func IDs(nodes []*Node) []NodeID {
	ids := make([]NodeID, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

// Timestamp normalizes t to the precision every supported store round-trips.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
