package models

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// CreateNodeRequest represents the request body for creating a node
type CreateNodeRequest struct {
	ID       string         `json:"id,omitempty" validate:"omitempty,min=1,max=64,printascii"`
	ParentID *string        `json:"parentId,omitempty" validate:"omitempty,min=1,max=64"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// MoveNodeRequest represents the request body for moving a node. A null parentId
// turns the node into a root.
type MoveNodeRequest struct {
	ParentID *string `json:"parentId" validate:"omitempty,min=1,max=64"`
}

// Validate validates the create node request
func (r *CreateNodeRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the move node request
func (r *MoveNodeRequest) Validate() error {
	return validate.Struct(r)
}

// Node converts the request into a node snapshot ready for insertion
func (r *CreateNodeRequest) Node() *Node {
	n := &Node{ID: NodeID(r.ID), Payload: r.Payload}
	if r.ParentID != nil {
		p := NodeID(*r.ParentID)
		n.ParentID = &p
	}
	return n
}

// Parent returns the requested parent id, nil for root
func (r *MoveNodeRequest) Parent() *NodeID {
	if r.ParentID == nil {
		return nil
	}
	p := NodeID(*r.ParentID)
	return &p
}
