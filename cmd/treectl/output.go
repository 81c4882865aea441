package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ammiranda/treestore/models"
)

// render writes v in the selected format. yaml output goes through json first so
// both formats use the same field names.
func (c *cli) render(v any) error {
	switch c.format {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		c.printf("%s\n", data)
		return nil
	case "yaml":
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		out, err := yaml.Marshal(generic)
		if err != nil {
			return err
		}
		c.printf("%s", out)
		return nil
	case "text":
		return c.renderText(v)
	default:
		return fmt.Errorf("unsupported format %q", c.format)
	}
}

// renderText prints ids only: one per line, trees indented by depth
func (c *cli) renderText(v any) error {
	switch v := v.(type) {
	case *models.TreeNode:
		v.Walk(func(n *models.TreeNode, depth int) bool {
			c.printf("%s%s%s\n", strings.Repeat("  ", depth), n.ID, deletedMark(&n.Node))
			return true
		})
	case []*models.Node:
		for i, id := range models.IDs(v) {
			c.printf("%s%s\n", id, deletedMark(v[i]))
		}
	case *models.Node:
		c.printf("%s%s\n", v.ID, deletedMark(v))
	default:
		return fmt.Errorf("text output is not supported for %T", v)
	}
	return nil
}

func deletedMark(n *models.Node) string {
	if n.IsDeleted() {
		return " (deleted)"
	}
	return ""
}

// prune drops everything below maxDepth; a negative maxDepth keeps the whole tree
func prune(tree *models.TreeNode, maxDepth int) {
	if maxDepth < 0 {
		return
	}
	tree.Walk(func(n *models.TreeNode, depth int) bool {
		if depth < maxDepth {
			return true
		}
		n.Children = make([]*models.TreeNode, 0)
		return false
	})
}
