package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		dialect  Dialect
		query    Query
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "all columns",
			dialect:  SQLite{},
			query:    Select("tree_nodes", Eq("id", "A")),
			wantSQL:  `SELECT * FROM "tree_nodes" WHERE "id" = ?`,
			wantArgs: []any{"A"},
		},
		{
			name:     "postgres placeholders and ordering",
			dialect:  Postgres{},
			query:    Select("tree_nodes", Eq("tree_id", "R"), Gte("lft", int64(2))).OrderedBy(Asc("lft"), Desc("id")).Only("id", "lft"),
			wantSQL:  `SELECT "id", "lft" FROM "tree_nodes" WHERE "tree_id" = $1 AND "lft" >= $2 ORDER BY "lft", "id" DESC`,
			wantArgs: []any{"R", int64(2)},
		},
		{
			name:     "in and null checks",
			dialect:  Postgres{},
			query:    Select("tree_nodes", In("id", []any{"A", "B"}), IsNull("deleted_at"), NotNull("parent_id")),
			wantSQL:  `SELECT * FROM "tree_nodes" WHERE "id" IN ($1, $2) AND "deleted_at" IS NULL AND "parent_id" IS NOT NULL`,
			wantArgs: []any{"A", "B"},
		},
		{
			name:     "empty in matches nothing",
			dialect:  SQLite{},
			query:    Select("tree_nodes", In("id", nil)),
			wantSQL:  `SELECT * FROM "tree_nodes" WHERE 1 = 0`,
			wantArgs: nil,
		},
		{
			name:     "prefix on sqlite",
			dialect:  SQLite{},
			query:    Select("tree_nodes", HasPrefix("path", "R/Ä/")),
			wantSQL:  `SELECT * FROM "tree_nodes" WHERE substr("path", 1, ?) = ?`,
			wantArgs: []any{4, "R/Ä/"},
		},
		{
			name:     "prefix on postgres",
			dialect:  Postgres{},
			query:    Select("tree_nodes", HasPrefix("path", "R/")),
			wantSQL:  `SELECT * FROM "tree_nodes" WHERE substr("path", 1, $1) = CAST($2 AS TEXT)`,
			wantArgs: []any{2, "R/"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := BuildQuery(tt.dialect, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestBuildStatement(t *testing.T) {
	tests := []struct {
		name     string
		dialect  Dialect
		stmt     Statement
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "multi-row insert with sorted columns",
			dialect: Postgres{},
			stmt: Insert("tree_closure",
				Row{"descendant_id": "C", "ancestor_id": "C", "depth": 0},
				Row{"descendant_id": "C", "ancestor_id": "A", "depth": 1},
			),
			wantSQL:  `INSERT INTO "tree_closure" ("ancestor_id", "depth", "descendant_id") VALUES ($1, $2, $3), ($4, $5, $6)`,
			wantArgs: []any{"C", 0, "C", "A", 1, "C"},
		},
		{
			name:     "increment",
			dialect:  SQLite{},
			stmt:     Update("tree_nodes", map[string]any{"rgt": Increment(2)}, Eq("tree_id", "R"), Gte("rgt", int64(5))),
			wantSQL:  `UPDATE "tree_nodes" SET "rgt" = "rgt" + ? WHERE "tree_id" = ? AND "rgt" >= ?`,
			wantArgs: []any{int64(2), "R", int64(5)},
		},
		{
			name:    "prefix replace",
			dialect: Postgres{},
			stmt: Update("tree_nodes",
				map[string]any{"path": PrefixReplace{Old: "R/A/", New: "R/B/A/"}},
				HasPrefix("path", "R/A/"),
			),
			wantSQL: `UPDATE "tree_nodes" SET "path" = CASE WHEN substr("path", 1, $1) = CAST($2 AS TEXT) ` +
				`THEN CAST($3 AS TEXT) || substr("path", $4) ELSE "path" END WHERE substr("path", 1, $5) = CAST($6 AS TEXT)`,
			wantArgs: []any{4, "R/A/", "R/B/A/", 5, 4, "R/A/"},
		},
		{
			name:     "plain set",
			dialect:  SQLite{},
			stmt:     Update("tree_nodes", map[string]any{"parent_id": nil, "path": ""}, Eq("id", "A")),
			wantSQL:  `UPDATE "tree_nodes" SET "parent_id" = ?, "path" = ? WHERE "id" = ?`,
			wantArgs: []any{nil, "", "A"},
		},
		{
			name:     "delete",
			dialect:  Postgres{},
			stmt:     Delete("tree_closure", In("descendant_id", []any{"A"}), Gt("depth", 0)),
			wantSQL:  `DELETE FROM "tree_closure" WHERE "descendant_id" IN ($1) AND "depth" > $2`,
			wantArgs: []any{"A", 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := BuildStatement(tt.dialect, tt.stmt)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestBuildRejectsBadInput(t *testing.T) {
	_, _, err := BuildQuery(SQLite{}, Select(`nodes"; DROP TABLE x; --`))
	assert.Error(t, err)

	_, _, err = BuildQuery(SQLite{}, Select("tree_nodes", Eq("bad column", 1)))
	assert.Error(t, err)

	_, _, err = BuildStatement(SQLite{}, Insert("tree_nodes"))
	assert.Error(t, err)

	_, _, err = BuildStatement(SQLite{}, Insert("tree_nodes", Row{"id": "A"}, Row{"parent_id": "A"}))
	assert.Error(t, err)

	_, _, err = BuildStatement(SQLite{}, Update("tree_nodes", nil))
	assert.Error(t, err)

	_, _, err = BuildQuery(SQLite{}, Select("tree_nodes", Cond{Column: "id", Op: OpIn, Value: "A"}))
	assert.Error(t, err)
}

func TestDialects(t *testing.T) {
	assert.Equal(t, `LOCK TABLE "tree_nodes" IN SHARE ROW EXCLUSIVE MODE`, Postgres{}.LockTable("tree_nodes"))
	assert.Empty(t, SQLite{}.LockTable("tree_nodes"))
	assert.Equal(t, "$3", Postgres{}.Placeholder(3))
	assert.Equal(t, "?", SQLite{}.Placeholder(3))

	assert.True(t, ValidIdentifier("tree_nodes"))
	assert.False(t, ValidIdentifier("1nodes"))
	assert.False(t, ValidIdentifier(""))
}
