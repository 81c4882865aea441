package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"

	"github.com/ammiranda/treestore/models"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		conflict bool
	}{
		{"pq serialization failure", &pq.Error{Code: "40001"}, true},
		{"pq deadlock", fmt.Errorf("move: %w", &pq.Error{Code: "40P01"}), true},
		{"pq unique violation", &pq.Error{Code: "23505"}, false},
		{"pgx lock not available", &pgconn.PgError{Code: "55P03"}, true},
		{"pgx syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"sqlite locked", sqlite3.Error{Code: sqlite3.ErrLocked}, true},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.conflict, IsConflict(tt.err))
			classified := ClassifyError(tt.err)
			assert.Equal(t, tt.conflict, errors.Is(classified, models.ErrConcurrentStructuralConflict))
			assert.ErrorIs(t, classified, tt.err)
		})
	}

	assert.NoError(t, ClassifyError(nil))

	// already classified errors are not wrapped twice
	wrapped := ClassifyError(&pq.Error{Code: "40001"})
	assert.Same(t, wrapped, ClassifyError(wrapped))
}
