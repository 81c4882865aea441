package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnlockedWrite is returned by a strict MemoryStore when a transaction writes to a
// table it has not locked.
var ErrUnlockedWrite = errors.New("write to unlocked table")

// MemoryStore implements Store in process memory. A transaction holds the store mutex
// from start to finish, so transactions are fully serialized, and a failed transaction
// restores the snapshot taken when it began.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string][]Row
	strict bool

	faultMu   sync.Mutex
	failAfter int
	failErr   error
	writes    int
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithStrictLocking makes every write fail unless its table was locked earlier in the
// same transaction.
func WithStrictLocking() MemoryOption {
	return func(m *MemoryStore) {
		m.strict = true
	}
}

// NewMemoryStore creates a new empty in-memory store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		tables: make(map[string][]Row),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FailNextWrite makes the write issued after skip further successful writes fail with
// err. Tests use it to simulate a store conflict halfway through a structural change.
func (m *MemoryStore) FailNextWrite(skip int, err error) {
	m.faultMu.Lock()
	defer m.faultMu.Unlock()
	m.failAfter = skip
	m.failErr = err
	m.writes = 0
}

// Rows returns a copy of every row of table, in insertion order
func (m *MemoryStore) Rows(table string) []Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyRows(m.tables[table])
}

// WithTransaction runs fn with exclusive access to the store
func (m *MemoryStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[string][]Row, len(m.tables))
	for name, rows := range m.tables {
		snapshot[name] = copyRows(rows)
	}

	tx := &memoryTx{store: m, locked: make(map[string]bool)}
	if err := fn(ctx, tx); err != nil {
		m.tables = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		m.tables = snapshot
		return err
	}
	return nil
}

// Close performs any necessary cleanup
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables = make(map[string][]Row)
	return nil
}

type memoryTx struct {
	store  *MemoryStore
	locked map[string]bool
}

func (tx *memoryTx) Lock(ctx context.Context, tables ...string) error {
	for _, t := range tables {
		tx.locked[t] = true
	}
	return ctx.Err()
}

func (tx *memoryTx) Read(ctx context.Context, q Query) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result []Row
	for _, row := range tx.store.tables[q.Table] {
		ok, err := matches(row, q.Where)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, project(row, q.Columns))
		}
	}

	if len(q.OrderBy) > 0 {
		var sortErr error
		sort.SliceStable(result, func(i, j int) bool {
			for _, o := range q.OrderBy {
				c, ok := compare(result[i][o.Column], result[j][o.Column])
				if !ok {
					sortErr = fmt.Errorf("cannot order by %s", o.Column)
					return false
				}
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
		if sortErr != nil {
			return nil, sortErr
		}
	}
	return result, nil
}

func (tx *memoryTx) Write(ctx context.Context, s Statement) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if tx.store.strict && !tx.locked[s.Table] {
		return 0, fmt.Errorf("%w: %s %s", ErrUnlockedWrite, s.Kind, s.Table)
	}
	if err := tx.store.injectedFault(); err != nil {
		return 0, err
	}

	switch s.Kind {
	case KindInsert:
		for _, row := range s.Rows {
			tx.store.tables[s.Table] = append(tx.store.tables[s.Table], copyRow(row))
		}
		return int64(len(s.Rows)), nil

	case KindUpdate:
		var affected int64
		for _, row := range tx.store.tables[s.Table] {
			ok, err := matches(row, s.Where)
			if err != nil {
				return 0, err
			}
			if !ok {
				continue
			}
			if err := apply(row, s.Set); err != nil {
				return 0, err
			}
			affected++
		}
		return affected, nil

	case KindDelete:
		rows := tx.store.tables[s.Table]
		kept := rows[:0:0]
		var affected int64
		for _, row := range rows {
			ok, err := matches(row, s.Where)
			if err != nil {
				return 0, err
			}
			if ok {
				affected++
				continue
			}
			kept = append(kept, row)
		}
		tx.store.tables[s.Table] = kept
		return affected, nil

	default:
		return 0, fmt.Errorf("unsupported statement kind %d", s.Kind)
	}
}

func (m *MemoryStore) injectedFault() error {
	m.faultMu.Lock()
	defer m.faultMu.Unlock()
	if m.failErr == nil {
		return nil
	}
	if m.writes < m.failAfter {
		m.writes++
		return nil
	}
	err := m.failErr
	m.failErr = nil
	return err
}

func matches(row Row, where []Cond) (bool, error) {
	for _, c := range where {
		ok, err := match(row[c.Column], c)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func match(v any, c Cond) (bool, error) {
	switch c.Op {
	case OpIsNull:
		return v == nil, nil
	case OpNotNull:
		return v != nil, nil
	case OpIn:
		values, ok := c.Value.([]any)
		if !ok {
			return false, fmt.Errorf("IN on %s needs []any, got %T", c.Column, c.Value)
		}
		for _, candidate := range values {
			if cmp, ok := compare(v, candidate); ok && cmp == 0 && v != nil {
				return true, nil
			}
		}
		return false, nil
	case OpHasPrefix:
		if v == nil {
			return false, nil
		}
		return strings.HasPrefix(String(v), String(c.Value)), nil
	}

	// SQL comparisons with NULL are never true
	if v == nil || c.Value == nil {
		return false, nil
	}
	cmp, ok := compare(v, c.Value)
	if !ok {
		return false, fmt.Errorf("cannot compare %s (%T) with %T", c.Column, v, c.Value)
	}
	switch c.Op {
	case OpEq:
		return cmp == 0, nil
	case OpNotEq:
		return cmp != 0, nil
	case OpGt:
		return cmp > 0, nil
	case OpGte:
		return cmp >= 0, nil
	case OpLt:
		return cmp < 0, nil
	case OpLte:
		return cmp <= 0, nil
	default:
		return false, fmt.Errorf("unsupported operator %s", c.Op)
	}
}

func apply(row Row, set map[string]any) error {
	// Increments and prefix rewrites read the pre-update row, as SQL does.
	before := copyRow(row)
	for column, value := range set {
		switch v := value.(type) {
		case Increment:
			current, err := Int64(before[column])
			if err != nil {
				return fmt.Errorf("increment %s: %w", column, err)
			}
			row[column] = current + int64(v)
		case PrefixReplace:
			current := String(before[column])
			if strings.HasPrefix(current, v.Old) {
				row[column] = v.New + current[len(v.Old):]
			}
		default:
			row[column] = value
		}
	}
	return nil
}

func project(row Row, columns []string) Row {
	if columns == nil {
		return copyRow(row)
	}
	out := make(Row, len(columns))
	for _, c := range columns {
		out[c] = row[c]
	}
	return out
}

func copyRow(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func copyRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = copyRow(r)
	}
	return out
}
