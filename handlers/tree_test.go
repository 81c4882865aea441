package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammiranda/treestore/cache"
	"github.com/ammiranda/treestore/metrics"
	"github.com/ammiranda/treestore/models"
	"github.com/ammiranda/treestore/repository"
	"github.com/ammiranda/treestore/store"
	"github.com/ammiranda/treestore/strategy"
)

type testServer struct {
	router *gin.Engine
	cache  *cache.MockCache
}

func setupTest(t *testing.T, kind strategy.Kind) *testServer {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := strategy.New(kind, strategy.DefaultLayout(), strategy.WithLogger(logger))
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	repo := repository.New(store.NewMemoryStore(), st,
		repository.WithLogger(logger),
		repository.WithMetrics(metrics.NewPrometheus(reg)),
	)

	mockCache := cache.NewMockCache()
	handler := NewTreeHandler(repo, mockCache, logger)
	return &testServer{
		router: NewRouter(handler, metrics.Handler(reg), logger),
		cache:  mockCache,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) create(t *testing.T, id, parent string) {
	req := models.CreateNodeRequest{ID: id, Payload: map[string]any{"label": id}}
	if parent != "" {
		req.ParentID = &parent
	}
	w := s.do(t, http.MethodPost, "/api/nodes", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func nodeIDs(nodes []models.Node) []models.NodeID {
	ids := make([]models.NodeID, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func TestCreateAndRead(t *testing.T) {
	for _, kind := range strategy.Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			s := setupTest(t, kind)
			s.create(t, "R", "")
			s.create(t, "A", "R")
			s.create(t, "B", "R")
			s.create(t, "C", "A")

			w := s.do(t, http.MethodGet, "/api/nodes/A", nil)
			assert.Equal(t, http.StatusOK, w.Code)
			node := decode[models.Node](t, w)
			assert.Equal(t, models.NodeID("A"), node.ID)
			assert.Equal(t, "A", node.Payload["label"])

			w = s.do(t, http.MethodGet, "/api/nodes/C/ancestors", nil)
			assert.Equal(t, []models.NodeID{"A", "R"}, nodeIDs(decode[[]models.Node](t, w)))

			w = s.do(t, http.MethodGet, "/api/nodes/R/descendants", nil)
			assert.Equal(t, []models.NodeID{"A", "B", "C"}, nodeIDs(decode[[]models.Node](t, w)))

			w = s.do(t, http.MethodGet, "/api/nodes/R/descendants/count", nil)
			assert.EqualValues(t, 3, decode[map[string]any](t, w)["count"])

			w = s.do(t, http.MethodGet, "/api/roots", nil)
			assert.Equal(t, []models.NodeID{"R"}, nodeIDs(decode[[]models.Node](t, w)))

			w = s.do(t, http.MethodGet, "/api/nodes/R/check", nil)
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

func TestCreateGeneratesID(t *testing.T) {
	s := setupTest(t, strategy.KindClosure)
	w := s.do(t, http.MethodPost, "/api/nodes", models.CreateNodeRequest{})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, decode[models.Node](t, w).ID)
}

func TestTreeIsCachedUntilMutation(t *testing.T) {
	s := setupTest(t, strategy.KindNestedSet)
	s.create(t, "R", "")
	s.create(t, "A", "R")

	// First request should miss cache
	w1 := s.do(t, http.MethodGet, "/api/nodes/R/tree", nil)
	require.Equal(t, http.StatusOK, w1.Code)
	tree := decode[models.TreeNode](t, w1)
	assert.Equal(t, 2, tree.Size())

	// Second request should hit cache
	w2 := s.do(t, http.MethodGet, "/api/nodes/R/tree", nil)
	assert.Equal(t, w1.Body.String(), w2.Body.String())
	assert.Equal(t, 1, s.cache.HitCount())

	// Creating a node should invalidate cache
	s.create(t, "B", "R")
	w3 := s.do(t, http.MethodGet, "/api/nodes/R/tree", nil)
	tree3 := decode[models.TreeNode](t, w3)
	assert.Equal(t, 3, tree3.Size())
	assert.Equal(t, 1, s.cache.HitCount())

	_, _, invalidate, _, _ := s.cache.GetCallCounts()
	assert.Equal(t, 3, invalidate)
}

func TestMoveNode(t *testing.T) {
	s := setupTest(t, strategy.KindMaterializedPath)
	s.create(t, "R", "")
	s.create(t, "A", "R")
	s.create(t, "B", "R")
	s.create(t, "C", "A")

	w := s.do(t, http.MethodPut, "/api/nodes/A/parent", map[string]any{"parentId": "B"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(t, http.MethodGet, "/api/nodes/C/ancestors", nil)
	assert.Equal(t, []models.NodeID{"A", "B", "R"}, nodeIDs(decode[[]models.Node](t, w)))

	w = s.do(t, http.MethodPut, "/api/nodes/R/parent", map[string]any{"parentId": "C"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPut, "/api/nodes/A/parent", map[string]any{"parentId": nil})
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/roots", nil)
	assert.Equal(t, []models.NodeID{"A", "R"}, nodeIDs(decode[[]models.Node](t, w)))

	w = s.do(t, http.MethodPut, "/api/nodes/A/parent", map[string]any{"parentId": "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteAndRestore(t *testing.T) {
	s := setupTest(t, strategy.KindAdjacency)
	s.create(t, "R", "")
	s.create(t, "A", "R")
	s.create(t, "B", "R")
	s.create(t, "C", "A")

	w := s.do(t, http.MethodDelete, "/api/nodes/A", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.ElementsMatch(t, []any{"A", "C"}, decode[map[string]any](t, w)["deleted"])

	w = s.do(t, http.MethodGet, "/api/nodes/R/descendants", nil)
	assert.Equal(t, []models.NodeID{"B"}, nodeIDs(decode[[]models.Node](t, w)))
	w = s.do(t, http.MethodGet, "/api/nodes/R/descendants?includeDeleted=true", nil)
	assert.Equal(t, []models.NodeID{"A", "B", "C"}, nodeIDs(decode[[]models.Node](t, w)))
	w = s.do(t, http.MethodGet, "/api/nodes/C", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/nodes/A/restore", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/nodes/R/descendants/count", nil)
	assert.EqualValues(t, 3, decode[map[string]any](t, w)["count"])

	w = s.do(t, http.MethodDelete, "/api/nodes/A?hard=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.ElementsMatch(t, []any{"A", "C"}, decode[map[string]any](t, w)["removed"])
	w = s.do(t, http.MethodGet, "/api/nodes/C?includeDeleted=true", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/nodes/R/rebuild", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBadRequests(t *testing.T) {
	s := setupTest(t, strategy.KindAdjacency)
	s.create(t, "R", "")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"duplicate id", http.MethodPost, "/api/nodes", models.CreateNodeRequest{ID: "R"}, http.StatusConflict},
		{"unknown parent", http.MethodPost, "/api/nodes", map[string]any{"id": "X", "parentId": "nope"}, http.StatusNotFound},
		{"id fails validation", http.MethodPost, "/api/nodes", map[string]any{"id": "tab\tid"}, http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/api/nodes", "not an object", http.StatusBadRequest},
		{"bad includeDeleted", http.MethodGet, "/api/nodes/R?includeDeleted=maybe", nil, http.StatusBadRequest},
		{"bad hard flag", http.MethodDelete, "/api/nodes/R?hard=maybe", nil, http.StatusBadRequest},
		{"missing node", http.MethodGet, "/api/nodes/missing/tree", nil, http.StatusNotFound},
		{"restore needs visible parent", http.MethodPost, "/api/nodes/missing/restore", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{models.NewTreeError("find", "A", models.ErrNodeNotFound), http.StatusNotFound},
		{models.ErrParentNotFound, http.StatusNotFound},
		{models.ErrInvalidNode, http.StatusBadRequest},
		{models.ErrCycleDetected, http.StatusConflict},
		{models.ErrNodeExists, http.StatusConflict},
		{fmt.Errorf("%w: deadlock", models.ErrConcurrentStructuralConflict), http.StatusConflict},
		{models.ErrInvariantViolation, http.StatusInternalServerError},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupTest(t, strategy.KindClosure)
	s.create(t, "R", "")

	w := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `treestore_operations_total{op="insert",outcome="ok",strategy="closure"} 1`)

	w = s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
