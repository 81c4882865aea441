package strategy

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ammiranda/treestore/models"
	"github.com/ammiranda/treestore/store"
)

// node table columns
const (
	colID        = "id"
	colParentID  = "parent_id"
	colPayload   = "payload"
	colDeletedAt = "deleted_at"
	colTreeID    = "tree_id"
	colLft       = "lft"
	colRgt       = "rgt"
	colPath      = "path"
)

// closure table columns
const (
	colAncestor   = "ancestor_id"
	colDescendant = "descendant_id"
	colDepth      = "depth"
)

// record is a decoded node row with every strategy's auxiliary columns
type record struct {
	node   *models.Node
	treeID string
	lft    int64
	rgt    int64
	path   string
}

func (r *record) id() models.NodeID {
	return r.node.ID
}

func (r *record) live() bool {
	return r.node.DeletedAt == nil
}

// parentValue is the parent_id column value of the record
func (r *record) parentValue() any {
	return parentValue(r.node.ParentID)
}

func decodeRecord(row store.Row) (*record, error) {
	n := &models.Node{ID: models.NodeID(store.String(row[colID]))}
	if p := store.NullString(row[colParentID]); p != nil {
		parent := models.NodeID(*p)
		n.ParentID = &parent
	}

	payload, err := decodePayload(row[colPayload])
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", n.ID, err)
	}
	n.Payload = payload

	deletedAt, err := store.NullTime(row[colDeletedAt])
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", n.ID, err)
	}
	if deletedAt != nil {
		t := models.Timestamp(*deletedAt)
		n.DeletedAt = &t
	}

	lft, err := store.Int64(row[colLft])
	if err != nil {
		return nil, fmt.Errorf("node %s: lft: %w", n.ID, err)
	}
	rgt, err := store.Int64(row[colRgt])
	if err != nil {
		return nil, fmt.Errorf("node %s: rgt: %w", n.ID, err)
	}

	return &record{
		node:   n,
		treeID: store.String(row[colTreeID]),
		lft:    lft,
		rgt:    rgt,
		path:   store.String(row[colPath]),
	}, nil
}

func decodeRecords(rows []store.Row) ([]*record, error) {
	recs := make([]*record, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeRecord(row)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// nodeRow encodes a new, live node. Strategies fill in their own columns.
func nodeRow(n *models.Node, parentID *models.NodeID) (store.Row, error) {
	payload, err := encodePayload(n.Payload)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", n.ID, err)
	}
	return store.Row{
		colID:        string(n.ID),
		colParentID:  parentValue(parentID),
		colPayload:   payload,
		colDeletedAt: nil,
		colTreeID:    nil,
		colLft:       nil,
		colRgt:       nil,
		colPath:      nil,
	}, nil
}

func encodePayload(payload map[string]any) (string, error) {
	if len(payload) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(b), nil
}

func decodePayload(v any) (map[string]any, error) {
	raw := store.String(v)
	if raw == "" || raw == "{}" || raw == "null" {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

func parentValue(id *models.NodeID) any {
	if id == nil {
		return nil
	}
	return string(*id)
}

func idValues(ids []models.NodeID) []any {
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = string(id)
	}
	return values
}

func recordIDs(recs []*record) []models.NodeID {
	ids := make([]models.NodeID, len(recs))
	for i, r := range recs {
		ids[i] = r.id()
	}
	return ids
}

// visible converts records to nodes, dropping soft-deleted ones unless includeDeleted
func visible(recs []*record, includeDeleted bool) []*models.Node {
	nodes := make([]*models.Node, 0, len(recs))
	for _, r := range recs {
		if includeDeleted || r.live() {
			nodes = append(nodes, r.node)
		}
	}
	return nodes
}

// levelOrder sorts the descendants of rootID by depth below it, then by id.
// Depth is derived from the parent references, so every strategy orders alike.
func levelOrder(rootID models.NodeID, recs []*record) []*record {
	parents := make(map[models.NodeID]models.NodeID, len(recs))
	for _, r := range recs {
		if r.node.ParentID != nil {
			parents[r.id()] = *r.node.ParentID
		}
	}

	depths := make(map[models.NodeID]int, len(recs))
	var depth func(id models.NodeID, guard int) int
	depth = func(id models.NodeID, guard int) int {
		if id == rootID {
			return 0
		}
		if d, ok := depths[id]; ok {
			return d
		}
		parent, ok := parents[id]
		if !ok || guard > len(recs) {
			return len(recs) + 1
		}
		d := depth(parent, guard+1) + 1
		depths[id] = d
		return d
	}

	sorted := append([]*record(nil), recs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		di, dj := depth(sorted[i].id(), 0), depth(sorted[j].id(), 0)
		if di != dj {
			return di < dj
		}
		return sorted[i].id() < sorted[j].id()
	})
	return sorted
}
