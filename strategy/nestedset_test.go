package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammiranda/treestore/models"
	"github.com/ammiranda/treestore/store"
)

func boundsOf(t *testing.T, f *fixture) map[string][3]any {
	out := map[string][3]any{}
	for _, row := range f.store.Rows(f.st.Layout().NodeTable) {
		lft, err := store.Int64(row[colLft])
		require.NoError(t, err)
		rgt, err := store.Int64(row[colRgt])
		require.NoError(t, err)
		out[store.String(row[colID])] = [3]any{store.String(row[colTreeID]), lft, rgt}
	}
	return out
}

func TestNestedSetBounds(t *testing.T) {
	f := setupStrategy(t, KindNestedSet)
	f.scenario()

	assert.Equal(t, map[string][3]any{
		"R": {"R", int64(1), int64(8)},
		"A": {"R", int64(2), int64(5)},
		"C": {"R", int64(3), int64(4)},
		"B": {"R", int64(6), int64(7)},
	}, boundsOf(t, f))

	require.NoError(t, f.move("A", "B"))
	assert.Equal(t, map[string][3]any{
		"R": {"R", int64(1), int64(8)},
		"B": {"R", int64(2), int64(7)},
		"A": {"R", int64(3), int64(6)},
		"C": {"R", int64(4), int64(5)},
	}, boundsOf(t, f))

	// a subtree moved to root is renumbered from 1 under its own tree id
	require.NoError(t, f.move("A", ""))
	assert.Equal(t, map[string][3]any{
		"R": {"R", int64(1), int64(4)},
		"B": {"R", int64(2), int64(3)},
		"A": {"A", int64(1), int64(4)},
		"C": {"A", int64(2), int64(3)},
	}, boundsOf(t, f))
}

func TestNestedSetContainmentLaw(t *testing.T) {
	f := setupStrategy(t, KindNestedSet)
	f.scenario()
	f.mustAttach("D", "C")
	f.mustAttach("E", "B")
	f.mustAttach("F", "E")
	require.NoError(t, f.move("C", "F"))
	require.NoError(t, f.move("B", "A"))
	_, err := f.detach("D", HardDelete)
	require.NoError(t, err)
	f.mustAttach("G", "R")
	require.NoError(t, f.move("E", "G"))

	bounds := boundsOf(t, f)
	parents := map[string]string{}
	for _, row := range f.store.Rows(f.st.Layout().NodeTable) {
		parents[store.String(row[colID])] = store.String(row[colParentID])
	}
	isDescendant := func(b, a string) bool {
		for p := parents[b]; p != ""; p = parents[p] {
			if p == a {
				return true
			}
		}
		return false
	}

	for a, ab := range bounds {
		for b, bb := range bounds {
			contained := ab[0] == bb[0] && ab[1].(int64) < bb[1].(int64) && bb[2].(int64) < ab[2].(int64)
			assert.Equal(t, isDescendant(b, a), contained, "%s inside %s", b, a)
		}
	}
	assert.NoError(t, f.check("R"))
}

func TestNestedSetCheckDetectsCorruption(t *testing.T) {
	f := setupStrategy(t, KindNestedSet)
	f.scenario()

	err := f.do(func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.Lock(ctx, f.st.Layout().NodeTable))
		_, err := tx.Write(ctx, store.Update(f.st.Layout().NodeTable,
			map[string]any{colRgt: store.Increment(1)}, store.Eq(colID, "B")))
		return err
	})
	require.NoError(t, err)
	assert.ErrorIs(t, f.check("C"), models.ErrInvariantViolation)

	// rebuild repairs it
	require.NoError(t, f.rebuild("C"))
	assert.NoError(t, f.check("R"))
	assert.Equal(t, []string{"A", "B", "C"}, f.descendants("R", false))
}
