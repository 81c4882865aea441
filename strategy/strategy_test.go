package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammiranda/treestore/models"
	"github.com/ammiranda/treestore/store"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t     *testing.T
	store *store.MemoryStore
	st    Strategy
}

func setupStrategy(t *testing.T, kind Kind) *fixture {
	st, err := New(kind, DefaultLayout(), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	// strict locking fails any write to a table the operation did not lock first
	return &fixture{t: t, store: store.NewMemoryStore(store.WithStrictLocking()), st: st}
}

func (f *fixture) do(fn func(ctx context.Context, tx store.Tx) error) error {
	return f.store.WithTransaction(context.Background(), fn)
}

func (f *fixture) attach(id string, parent string) error {
	var parentID *models.NodeID
	if parent != "" {
		parentID = models.NodeID(parent).Ptr()
	}
	return f.do(func(ctx context.Context, tx store.Tx) error {
		return f.st.Attach(ctx, tx, models.NewNode(models.NodeID(id), parentID, map[string]any{"label": id}), parentID)
	})
}

func (f *fixture) mustAttach(id, parent string) {
	require.NoError(f.t, f.attach(id, parent), "attach %s under %q", id, parent)
}

func (f *fixture) move(id, parent string) error {
	var parentID *models.NodeID
	if parent != "" {
		parentID = models.NodeID(parent).Ptr()
	}
	return f.do(func(ctx context.Context, tx store.Tx) error {
		return f.st.Move(ctx, tx, models.NodeID(id), parentID)
	})
}

func (f *fixture) detach(id string, mode CascadeMode) ([]models.NodeID, error) {
	var ids []models.NodeID
	err := f.do(func(ctx context.Context, tx store.Tx) error {
		var err error
		ids, err = f.st.DetachSubtree(ctx, tx, models.NodeID(id), mode)
		return err
	})
	return ids, err
}

func (f *fixture) ancestors(id string, includeDeleted bool) []string {
	var nodes []*models.Node
	require.NoError(f.t, f.do(func(ctx context.Context, tx store.Tx) error {
		var err error
		nodes, err = f.st.AncestorsOf(ctx, tx, models.NodeID(id), includeDeleted)
		return err
	}))
	return names(nodes)
}

func (f *fixture) descendants(id string, includeDeleted bool) []string {
	var nodes []*models.Node
	require.NoError(f.t, f.do(func(ctx context.Context, tx store.Tx) error {
		var err error
		nodes, err = f.st.DescendantsOf(ctx, tx, models.NodeID(id), includeDeleted)
		return err
	}))
	return names(nodes)
}

func (f *fixture) roots(includeDeleted bool) []string {
	var nodes []*models.Node
	require.NoError(f.t, f.do(func(ctx context.Context, tx store.Tx) error {
		var err error
		nodes, err = f.st.Roots(ctx, tx, includeDeleted)
		return err
	}))
	return names(nodes)
}

func (f *fixture) rebuild(id string) error {
	return f.do(func(ctx context.Context, tx store.Tx) error {
		return f.st.Rebuild(ctx, tx, models.NodeID(id))
	})
}

func (f *fixture) check(id string) error {
	return f.do(func(ctx context.Context, tx store.Tx) error {
		return f.st.Check(ctx, tx, models.NodeID(id))
	})
}

// scenario builds R{A{C}, B}
func (f *fixture) scenario() {
	f.mustAttach("R", "")
	f.mustAttach("A", "R")
	f.mustAttach("B", "R")
	f.mustAttach("C", "A")
}

func names(nodes []*models.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, string(n.ID))
	}
	return out
}

func forEachKind(t *testing.T, fn func(t *testing.T, f *fixture)) {
	for _, kind := range Kinds() {
		kind := kind
		t.Run(string(kind), func(t *testing.T) {
			fn(t, setupStrategy(t, kind))
		})
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("Nested-Set")
	assert.NoError(t, err)
	assert.Equal(t, KindNestedSet, k)

	_, err = ParseKind("btree")
	assert.Error(t, err)
}

func TestNewRejectsBadLayout(t *testing.T) {
	layout := DefaultLayout()
	layout.NodeTable = "nodes; DROP TABLE x"
	_, err := New(KindAdjacency, layout)
	assert.Error(t, err)

	layout = DefaultLayout()
	layout.PathDelimiter = ""
	_, err = New(KindMaterializedPath, layout)
	assert.Error(t, err)
}

func TestScenario(t *testing.T) {
	forEachKind(t, func(t *testing.T, f *fixture) {
		f.scenario()

		assert.Equal(t, []string{"A", "B", "C"}, f.descendants("R", false))
		assert.Equal(t, []string{"A", "R"}, f.ancestors("C", false))
		assert.Equal(t, []string{"R"}, f.roots(false))

		// A becomes a child of B
		require.NoError(t, f.move("A", "B"))
		assert.Equal(t, []string{"B", "A", "C"}, f.descendants("R", false))
		assert.Equal(t, []string{"A", "B", "R"}, f.ancestors("C", false))
		assert.Equal(t, []string{"A", "C"}, f.descendants("B", false))
		assert.NoError(t, f.check("R"))
	})
}

func TestMoveRejectsCycles(t *testing.T) {
	forEachKind(t, func(t *testing.T, f *fixture) {
		f.scenario()
		before := f.store.Rows(f.st.Layout().NodeTable)

		for _, target := range []string{"R", "A", "B", "C"} {
			err := f.move("R", target)
			assert.ErrorIs(t, err, models.ErrCycleDetected, "move R under %s", target)
		}
		assert.ErrorIs(t, f.move("A", "C"), models.ErrCycleDetected)

		// rejected moves leave no trace
		assert.Equal(t, before, f.store.Rows(f.st.Layout().NodeTable))
		assert.NoError(t, f.check("R"))
	})
}

func TestMoveValidation(t *testing.T) {
	forEachKind(t, func(t *testing.T, f *fixture) {
		f.scenario()

		assert.ErrorIs(t, f.move("missing", "R"), models.ErrNodeNotFound)
		assert.ErrorIs(t, f.move("A", "missing"), models.ErrParentNotFound)

		// same parent is a successful no-op
		assert.NoError(t, f.move("A", "R"))
		assert.Equal(t, []string{"A", "R"}, f.ancestors("C", false))

		_, err := f.detach("B", SoftDelete)
		require.NoError(t, err)
		assert.ErrorIs(t, f.move("A", "B"), models.ErrParentNotFound)
		assert.ErrorIs(t, f.move("B", ""), models.ErrNodeNotFound)
	})
}

func TestMoveToRootAndBack(t *testing.T) {
	forEachKind(t, func(t *testing.T, f *fixture) {
		f.scenario()
		f.mustAttach("D", "C")

		require.NoError(t, f.move("A", ""))
		assert.Equal(t, []string{"A", "R"}, f.roots(false))
		assert.Equal(t, []string{"B"}, f.descendants("R", false))
		assert.Equal(t, []string{"C", "D"}, f.descendants("A", false))
		assert.Equal(t, []string{"C", "A"}, f.ancestors("D", false))
		assert.NoError(t, f.check("R"))
		assert.NoError(t, f.check("A"))

		// and a whole tree under another one
		require.NoError(t, f.move("A", "B"))
		assert.Equal(t, []string{"R"}, f.roots(false))
		assert.Equal(t, []string{"C", "A", "B", "R"}, f.ancestors("D", false))
		assert.Equal(t, []string{"B", "A", "C", "D"}, f.descendants("R", false))
		assert.NoError(t, f.check("R"))

		// attaching after moves keeps working
		f.mustAttach("E", "A")
		assert.Equal(t, []string{"B", "A", "C", "E", "D"}, f.descendants("R", false))
		assert.NoError(t, f.check("E"))
	})
}

func TestAttachValidation(t *testing.T) {
	forEachKind(t, func(t *testing.T, f *fixture) {
		f.mustAttach("R", "")

		assert.ErrorIs(t, f.attach("", "R"), models.ErrInvalidNode)
		assert.ErrorIs(t, f.attach("R", ""), models.ErrNodeExists)
		assert.ErrorIs(t, f.attach("X", "missing"), models.ErrParentNotFound)

		f.mustAttach("A", "R")
		_, err := f.detach("A", SoftDelete)
		require.NoError(t, err)
		assert.ErrorIs(t, f.attach("X", "A"), models.ErrParentNotFound)
	})
}

func TestReadsOfMissingNodes(t *testing.T) {
	forEachKind(t, func(t *testing.T, f *fixture) {
		err := f.do(func(ctx context.Context, tx store.Tx) error {
			_, err := f.st.AncestorsOf(ctx, tx, "nope", false)
			return err
		})
		assert.ErrorIs(t, err, models.ErrNodeNotFound)

		err = f.do(func(ctx context.Context, tx store.Tx) error {
			_, err := f.st.DescendantsOf(ctx, tx, "nope", true)
			return err
		})
		assert.ErrorIs(t, err, models.ErrNodeNotFound)

		// empty collections are not errors
		assert.Empty(t, f.roots(true))
		f.mustAttach("R", "")
		assert.Empty(t, f.ancestors("R", false))
		assert.Empty(t, f.descendants("R", false))
	})
}

func TestSoftDetach(t *testing.T) {
	forEachKind(t, func(t *testing.T, f *fixture) {
		f.scenario()

		ids, err := f.detach("A", SoftDelete)
		require.NoError(t, err)
		assert.ElementsMatch(t, []models.NodeID{"A", "C"}, ids)

		// strategies only filter on each row's own marker
		assert.Equal(t, []string{"B"}, f.descendants("R", false))
		assert.Equal(t, []string{"A", "B", "C"}, f.descendants("R", true))
		assert.Equal(t, []string{"A", "R"}, f.ancestors("C", true))

		// auxiliary state is untouched
		assert.NoError(t, f.check("R"))

		// a second soft delete only stamps what is still live
		ids, err = f.detach("R", SoftDelete)
		require.NoError(t, err)
		assert.ElementsMatch(t, []models.NodeID{"R", "B"}, ids)
		assert.Empty(t, f.roots(false))
		assert.Equal(t, []string{"R"}, f.roots(true))
	})
}

func TestHardDetach(t *testing.T) {
	forEachKind(t, func(t *testing.T, f *fixture) {
		f.scenario()
		f.mustAttach("D", "B")

		ids, err := f.detach("A", HardDelete)
		require.NoError(t, err)
		assert.ElementsMatch(t, []models.NodeID{"A", "C"}, ids)

		assert.Equal(t, []string{"B", "D"}, f.descendants("R", true))
		assert.NoError(t, f.check("R"))

		_, err = f.detach("A", HardDelete)
		assert.ErrorIs(t, err, models.ErrNodeNotFound)

		// removing a whole tree
		ids, err = f.detach("R", HardDelete)
		require.NoError(t, err)
		assert.ElementsMatch(t, []models.NodeID{"R", "B", "D"}, ids)
		assert.Empty(t, f.store.Rows(f.st.Layout().NodeTable))
		assert.Empty(t, f.store.Rows(f.st.Layout().ClosureTable))
	})
}

func TestAncestorDescendantDuality(t *testing.T) {
	forEachKind(t, func(t *testing.T, f *fixture) {
		f.scenario()
		f.mustAttach("D", "C")
		f.mustAttach("E", "B")
		f.mustAttach("S", "")
		f.mustAttach("T", "S")
		require.NoError(t, f.move("C", "E"))
		require.NoError(t, f.move("B", "T"))

		all := []string{"R", "A", "B", "C", "D", "E", "S", "T"}
		for _, a := range all {
			desc := f.descendants(a, true)
			for _, b := range all {
				isDesc := contains(desc, b)
				isAnc := contains(f.ancestors(b, true), a)
				assert.Equal(t, isDesc, isAnc, "%s below %s", b, a)
			}
			// acyclicity
			assert.NotContains(t, f.ancestors(a, true), a)
		}
	})
}

func TestCrossStrategyEquivalence(t *testing.T) {
	type step struct {
		op     string
		id     string
		parent string
	}
	steps := []step{
		{"attach", "r1", ""}, {"attach", "a", "r1"}, {"attach", "b", "r1"}, {"attach", "c", "a"},
		{"attach", "d", "c"}, {"attach", "e", "b"}, {"attach", "r2", ""}, {"attach", "f", "r2"},
		{"move", "c", "e"}, {"move", "a", "f"}, {"attach", "g", "a"}, {"move", "b", ""},
		{"hard", "d", ""}, {"move", "f", "e"}, {"attach", "h", "f"}, {"hard", "a", ""},
	}

	type snapshot struct {
		roots       []string
		ancestors   map[string][]string
		descendants map[string][]string
	}
	var results []snapshot

	for _, kind := range Kinds() {
		f := setupStrategy(t, kind)
		for _, s := range steps {
			var err error
			switch s.op {
			case "attach":
				err = f.attach(s.id, s.parent)
			case "move":
				err = f.move(s.id, s.parent)
			case "hard":
				_, err = f.detach(s.id, HardDelete)
			}
			require.NoError(t, err, "%s: %s %s", kind, s.op, s.id)
		}

		snap := snapshot{roots: f.roots(true), ancestors: map[string][]string{}, descendants: map[string][]string{}}
		for _, id := range []string{"r1", "r2", "b", "c", "e", "f", "h"} {
			snap.ancestors[id] = f.ancestors(id, true)
			snap.descendants[id] = f.descendants(id, true)
		}
		for _, r := range snap.roots {
			assert.NoError(t, f.check(r), "%s: check %s", kind, r)
		}
		results = append(results, snap)
	}

	for i := 1; i < len(results); i++ {
		assert.Equal(t, results[0], results[i], "%s differs from %s", Kinds()[i], Kinds()[0])
	}
}

func TestRebuildIsIdempotent(t *testing.T) {
	forEachKind(t, func(t *testing.T, f *fixture) {
		f.scenario()
		f.mustAttach("D", "B")
		require.NoError(t, f.move("A", "B"))

		require.NoError(t, f.rebuild("C"))
		nodes := f.store.Rows(f.st.Layout().NodeTable)
		closure := f.store.Rows(f.st.Layout().ClosureTable)

		require.NoError(t, f.rebuild("R"))
		assert.Equal(t, nodes, f.store.Rows(f.st.Layout().NodeTable))
		assert.ElementsMatch(t, closure, f.store.Rows(f.st.Layout().ClosureTable))
		assert.NoError(t, f.check("R"))
	})
}

func TestRebuildDetectsParentCycle(t *testing.T) {
	forEachKind(t, func(t *testing.T, f *fixture) {
		f.scenario()

		// corrupt the parent references behind the strategy's back
		err := f.do(func(ctx context.Context, tx store.Tx) error {
			require.NoError(t, tx.Lock(ctx, f.st.Layout().NodeTable))
			_, err := tx.Write(ctx, store.Update(f.st.Layout().NodeTable,
				map[string]any{colParentID: "C"}, store.Eq(colID, "R")))
			return err
		})
		require.NoError(t, err)

		assert.ErrorIs(t, f.rebuild("A"), models.ErrInvariantViolation)
		assert.ErrorIs(t, f.check("A"), models.ErrInvariantViolation)
	})
}

func TestConflictRollsBack(t *testing.T) {
	forEachKind(t, func(t *testing.T, f *fixture) {
		f.scenario()
		before := f.store.Rows(f.st.Layout().NodeTable)

		conflict := errors.New("could not serialize access")
		f.store.FailNextWrite(1, conflict)
		err := f.move("A", "B")
		if f.st.Kind() == KindAdjacency {
			// a single write: nothing to skip past, the fault never fires
			assert.NoError(t, err)
			return
		}
		assert.ErrorIs(t, err, conflict)
		assert.Equal(t, before, f.store.Rows(f.st.Layout().NodeTable))
		assert.NoError(t, f.check("R"))
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestNodeAndUnmark(t *testing.T) {
	forEachKind(t, func(t *testing.T, f *fixture) {
		f.scenario()
		_, err := f.detach("A", SoftDelete)
		require.NoError(t, err)

		err = f.do(func(ctx context.Context, tx store.Tx) error {
			n, err := f.st.Node(ctx, tx, "C")
			require.NoError(t, err)
			require.NotNil(t, n.DeletedAt)
			assert.True(t, fixedNow.Equal(*n.DeletedAt))
			assert.Equal(t, map[string]any{"label": "C"}, n.Payload)

			changed, err := f.st.Unmark(ctx, tx, []models.NodeID{"A", "C", "B"})
			require.NoError(t, err)
			assert.Equal(t, int64(2), changed)

			_, err = f.st.Node(ctx, tx, "nope")
			assert.ErrorIs(t, err, models.ErrNodeNotFound)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B", "C"}, f.descendants("R", false))
	})
}
