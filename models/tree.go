package models

// TreeNode is a node together with its nested children, as assembled by FindTree
type TreeNode struct {
	Node
	Children []*TreeNode `json:"children"`
}

// NewTreeNode wraps a node snapshot with an empty child list
func NewTreeNode(n *Node) *TreeNode {
	return &TreeNode{
		Node:     *n.Clone(),
		Children: make([]*TreeNode, 0),
	}
}

// AddChild adds a child node to the current node
func (n *TreeNode) AddChild(child *TreeNode) {
	n.Children = append(n.Children, child)
}

// Size returns the number of nodes in the tree, the receiver included
func (n *TreeNode) Size() int {
	size := 1
	for _, c := range n.Children {
		size += c.Size()
	}
	return size
}

// Walk visits the tree depth-first, parents before children. Returning false from fn
// stops the descent into that node's children.
func (n *TreeNode) Walk(fn func(node *TreeNode, depth int) bool) {
	n.walk(fn, 0)
}

func (n *TreeNode) walk(fn func(node *TreeNode, depth int) bool, depth int) {
	if !fn(n, depth) {
		return
	}
	for _, c := range n.Children {
		c.walk(fn, depth+1)
	}
}
