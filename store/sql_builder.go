package store

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// sqlBuilder compiles queries and statements into SQL text and arguments
type sqlBuilder struct {
	dialect Dialect
	sb      strings.Builder
	args    []any
}

func newSQLBuilder(d Dialect) *sqlBuilder {
	return &sqlBuilder{dialect: d}
}

func (b *sqlBuilder) bind(v any) string {
	b.args = append(b.args, v)
	return b.dialect.Placeholder(len(b.args))
}

func (b *sqlBuilder) ident(name string) (string, error) {
	if !ValidIdentifier(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return quoteIdent(name), nil
}

// BuildQuery compiles q for dialect d
func BuildQuery(d Dialect, q Query) (string, []any, error) {
	b := newSQLBuilder(d)
	table, err := b.ident(q.Table)
	if err != nil {
		return "", nil, err
	}

	b.sb.WriteString("SELECT ")
	if len(q.Columns) == 0 {
		b.sb.WriteString("*")
	} else {
		for i, c := range q.Columns {
			col, err := b.ident(c)
			if err != nil {
				return "", nil, err
			}
			if i > 0 {
				b.sb.WriteString(", ")
			}
			b.sb.WriteString(col)
		}
	}
	b.sb.WriteString(" FROM ")
	b.sb.WriteString(table)

	if err := b.where(q.Where); err != nil {
		return "", nil, err
	}

	if len(q.OrderBy) > 0 {
		b.sb.WriteString(" ORDER BY ")
		for i, o := range q.OrderBy {
			col, err := b.ident(o.Column)
			if err != nil {
				return "", nil, err
			}
			if i > 0 {
				b.sb.WriteString(", ")
			}
			b.sb.WriteString(col)
			if o.Desc {
				b.sb.WriteString(" DESC")
			}
		}
	}
	return b.sb.String(), b.args, nil
}

// BuildStatement compiles s for dialect d
func BuildStatement(d Dialect, s Statement) (string, []any, error) {
	b := newSQLBuilder(d)
	table, err := b.ident(s.Table)
	if err != nil {
		return "", nil, err
	}

	switch s.Kind {
	case KindInsert:
		if len(s.Rows) == 0 {
			return "", nil, fmt.Errorf("insert into %s without rows", s.Table)
		}
		columns := sortedKeys(s.Rows[0])
		quoted := make([]string, len(columns))
		for i, c := range columns {
			if quoted[i], err = b.ident(c); err != nil {
				return "", nil, err
			}
		}
		fmt.Fprintf(&b.sb, "INSERT INTO %s (%s) VALUES ", table, strings.Join(quoted, ", "))
		for i, row := range s.Rows {
			if len(row) != len(columns) {
				return "", nil, fmt.Errorf("insert into %s: row %d has %d columns, want %d", s.Table, i, len(row), len(columns))
			}
			if i > 0 {
				b.sb.WriteString(", ")
			}
			b.sb.WriteString("(")
			for j, c := range columns {
				v, ok := row[c]
				if !ok {
					return "", nil, fmt.Errorf("insert into %s: row %d lacks column %s", s.Table, i, c)
				}
				if j > 0 {
					b.sb.WriteString(", ")
				}
				b.sb.WriteString(b.bind(v))
			}
			b.sb.WriteString(")")
		}

	case KindUpdate:
		if len(s.Set) == 0 {
			return "", nil, fmt.Errorf("update of %s without columns", s.Table)
		}
		fmt.Fprintf(&b.sb, "UPDATE %s SET ", table)
		for i, c := range sortedKeys(s.Set) {
			col, err := b.ident(c)
			if err != nil {
				return "", nil, err
			}
			if i > 0 {
				b.sb.WriteString(", ")
			}
			switch v := s.Set[c].(type) {
			case Increment:
				fmt.Fprintf(&b.sb, "%s = %s + %s", col, col, b.bind(int64(v)))
			case PrefixReplace:
				// substr is 1-based and counts characters
				n := utf8.RuneCountInString(v.Old)
				fmt.Fprintf(&b.sb, "%s = CASE WHEN substr(%s, 1, %s) = %s THEN %s || substr(%s, %s) ELSE %s END",
					col, col, b.bind(n), b.dialect.TextParam(b.bind(v.Old)),
					b.dialect.TextParam(b.bind(v.New)), col, b.bind(n+1), col)
			default:
				fmt.Fprintf(&b.sb, "%s = %s", col, b.bind(v))
			}
		}
		if err := b.where(s.Where); err != nil {
			return "", nil, err
		}

	case KindDelete:
		fmt.Fprintf(&b.sb, "DELETE FROM %s", table)
		if err := b.where(s.Where); err != nil {
			return "", nil, err
		}

	default:
		return "", nil, fmt.Errorf("unsupported statement kind %d", s.Kind)
	}
	return b.sb.String(), b.args, nil
}

func (b *sqlBuilder) where(conds []Cond) error {
	for i, c := range conds {
		if err := b.and(c, i == 0); err != nil {
			return err
		}
	}
	return nil
}

func (b *sqlBuilder) and(c Cond, first bool) error {
	if first {
		b.sb.WriteString(" WHERE ")
	} else {
		b.sb.WriteString(" AND ")
	}
	return b.cond(c)
}

func (b *sqlBuilder) cond(c Cond) error {
	col, err := b.ident(c.Column)
	if err != nil {
		return err
	}
	switch c.Op {
	case OpIsNull:
		fmt.Fprintf(&b.sb, "%s IS NULL", col)
	case OpNotNull:
		fmt.Fprintf(&b.sb, "%s IS NOT NULL", col)
	case OpIn:
		values, ok := c.Value.([]any)
		if !ok {
			return fmt.Errorf("IN on %s needs []any, got %T", c.Column, c.Value)
		}
		if len(values) == 0 {
			b.sb.WriteString("1 = 0")
			return nil
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = b.bind(v)
		}
		fmt.Fprintf(&b.sb, "%s IN (%s)", col, strings.Join(placeholders, ", "))
	case OpHasPrefix:
		// substr comparison stays case-sensitive and needs no LIKE escaping
		prefix := String(c.Value)
		n := b.bind(utf8.RuneCountInString(prefix))
		fmt.Fprintf(&b.sb, "substr(%s, 1, %s) = %s", col, n, b.dialect.TextParam(b.bind(prefix)))
	case OpEq, OpNotEq, OpGt, OpGte, OpLt, OpLte:
		fmt.Fprintf(&b.sb, "%s %s %s", col, c.Op, b.bind(c.Value))
	default:
		return fmt.Errorf("unsupported operator %d", c.Op)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
