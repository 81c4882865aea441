package store

// Row is one record keyed by column name
type Row map[string]any

// Op is a comparison operator of a condition
type Op int

const (
	OpEq Op = iota
	OpNotEq
	OpIn
	OpGt
	OpGte
	OpLt
	OpLte
	OpIsNull
	OpNotNull
	// OpHasPrefix matches string columns starting with Value
	OpHasPrefix
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "="
	case OpNotEq:
		return "<>"
	case OpIn:
		return "IN"
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpIsNull:
		return "IS NULL"
	case OpNotNull:
		return "IS NOT NULL"
	case OpHasPrefix:
		return "HAS PREFIX"
	default:
		return "?"
	}
}

// Cond is a single predicate. All conditions of a query or statement are ANDed.
type Cond struct {
	Column string
	Op     Op
	Value  any
}

func Eq(column string, value any) Cond     { return Cond{Column: column, Op: OpEq, Value: value} }
func NotEq(column string, value any) Cond  { return Cond{Column: column, Op: OpNotEq, Value: value} }
func Gt(column string, value any) Cond     { return Cond{Column: column, Op: OpGt, Value: value} }
func Gte(column string, value any) Cond    { return Cond{Column: column, Op: OpGte, Value: value} }
func Lt(column string, value any) Cond     { return Cond{Column: column, Op: OpLt, Value: value} }
func Lte(column string, value any) Cond    { return Cond{Column: column, Op: OpLte, Value: value} }
func IsNull(column string) Cond            { return Cond{Column: column, Op: OpIsNull} }
func NotNull(column string) Cond           { return Cond{Column: column, Op: OpNotNull} }
func HasPrefix(column, prefix string) Cond { return Cond{Column: column, Op: OpHasPrefix, Value: prefix} }

// In matches rows whose column equals any of values. An empty list matches nothing.
func In(column string, values []any) Cond {
	return Cond{Column: column, Op: OpIn, Value: values}
}

// Order sorts query results by a column
type Order struct {
	Column string
	Desc   bool
}

func Asc(column string) Order  { return Order{Column: column} }
func Desc(column string) Order { return Order{Column: column, Desc: true} }

// Query is a parameterized read against one table
type Query struct {
	Table   string
	Columns []string // nil selects every column
	Where   []Cond
	OrderBy []Order
}

// Select starts a query on table
func Select(table string, where ...Cond) Query {
	return Query{Table: table, Where: where}
}

// OrderedBy returns a copy of q sorted by the given orders
func (q Query) OrderedBy(orders ...Order) Query {
	q.OrderBy = append(append([]Order(nil), q.OrderBy...), orders...)
	return q
}

// Only returns a copy of q restricted to the given columns
func (q Query) Only(columns ...string) Query {
	q.Columns = columns
	return q
}

// StatementKind is the kind of a write
type StatementKind int

const (
	KindInsert StatementKind = iota
	KindUpdate
	KindDelete
)

func (k StatementKind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Increment as a Set value adds n to the column
type Increment int64

// PrefixReplace as a Set value swaps the leading Old of a string column for New.
// Rows whose value does not start with Old are left as they are.
type PrefixReplace struct {
	Old string
	New string
}

// Statement is a parameterized write against one table
type Statement struct {
	Kind  StatementKind
	Table string
	Rows  []Row          // insert
	Set   map[string]any // update
	Where []Cond         // update, delete
}

// Insert builds a multi-row insert. Every row must carry the same columns.
func Insert(table string, rows ...Row) Statement {
	return Statement{Kind: KindInsert, Table: table, Rows: rows}
}

// Update builds a bulk update of every row matching where
func Update(table string, set map[string]any, where ...Cond) Statement {
	return Statement{Kind: KindUpdate, Table: table, Set: set, Where: where}
}

// Delete builds a bulk delete of every row matching where
func Delete(table string, where ...Cond) Statement {
	return Statement{Kind: KindDelete, Table: table, Where: where}
}
