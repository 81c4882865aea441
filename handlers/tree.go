package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ammiranda/treestore/cache"
	"github.com/ammiranda/treestore/models"
	"github.com/ammiranda/treestore/repository"
)

// TreeHandler handles tree-related HTTP requests
type TreeHandler struct {
	repo   repository.Repository
	cache  cache.CacheProvider
	logger *slog.Logger
}

// NewTreeHandler creates a new TreeHandler instance. A nil cache disables caching.
func NewTreeHandler(repo repository.Repository, c cache.CacheProvider, logger *slog.Logger) *TreeHandler {
	if c == nil {
		c = cache.NopCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TreeHandler{
		repo:   repo,
		cache:  c,
		logger: logger,
	}
}

// RegisterRoutes mounts the tree API on r
func (h *TreeHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/roots", h.GetRoots)
	r.POST("/nodes", h.CreateNode)

	nodes := r.Group("/nodes/:id")
	{
		nodes.GET("", h.GetNode)
		nodes.GET("/tree", h.GetTree)
		nodes.GET("/ancestors", h.GetAncestors)
		nodes.GET("/descendants", h.GetDescendants)
		nodes.GET("/descendants/count", h.CountDescendants)
		nodes.PUT("/parent", h.MoveNode)
		nodes.DELETE("", h.DeleteNode)
		nodes.POST("/restore", h.RestoreNode)
		nodes.POST("/rebuild", h.RebuildTree)
		nodes.GET("/check", h.CheckTree)
	}
}

// statusFor maps tree errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNodeNotFound), errors.Is(err, models.ErrParentNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidNode):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrCycleDetected),
		errors.Is(err, models.ErrNodeExists),
		errors.Is(err, models.ErrConcurrentStructuralConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *TreeHandler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// includeDeleted parses the includeDeleted query parameter. ok is false when the
// request was already answered with 400.
func includeDeleted(c *gin.Context) (include, ok bool) {
	raw := c.Query("includeDeleted")
	if raw == "" {
		return false, true
	}
	include, err := strconv.ParseBool(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "includeDeleted must be a boolean"})
		return false, false
	}
	return include, true
}

func nodeID(c *gin.Context) models.NodeID {
	return models.NodeID(c.Param("id"))
}

// GetRoots returns every root node
func (h *TreeHandler) GetRoots(c *gin.Context) {
	include, ok := includeDeleted(c)
	if !ok {
		return
	}
	roots, err := h.repo.FindRoots(c.Request.Context(), repository.WithDeleted(include))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, roots)
}

// CreateNode creates a new node in the tree
func (h *TreeHandler) CreateNode(c *gin.Context) {
	var req models.CreateNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Validate the request
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	node, err := h.repo.Insert(c.Request.Context(), req.Node())
	if err != nil {
		h.fail(c, err)
		return
	}

	// Invalidate cache since we modified the tree
	h.cache.InvalidateCache(c.Request.Context())

	c.JSON(http.StatusCreated, node)
}

// GetNode returns a single node
func (h *TreeHandler) GetNode(c *gin.Context) {
	include, ok := includeDeleted(c)
	if !ok {
		return
	}
	node, err := h.repo.FindByID(c.Request.Context(), nodeID(c), repository.WithDeleted(include))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

// GetTree returns the nested subtree rooted at a node, served from cache when possible
func (h *TreeHandler) GetTree(c *gin.Context) {
	include, ok := includeDeleted(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	key := cache.Key{RootID: nodeID(c), IncludeDeleted: include}

	// Try to get from cache first
	if tree, found := h.cache.GetTree(ctx, key); found {
		c.JSON(http.StatusOK, tree)
		return
	}

	tree, err := h.repo.FindTree(ctx, key.RootID, repository.WithDeleted(include))
	if err != nil {
		h.fail(c, err)
		return
	}

	// Store in cache
	h.cache.SetTree(ctx, key, tree)

	c.JSON(http.StatusOK, tree)
}

// GetAncestors returns the ancestors of a node, nearest first
func (h *TreeHandler) GetAncestors(c *gin.Context) {
	include, ok := includeDeleted(c)
	if !ok {
		return
	}
	ancestors, err := h.repo.FindAncestors(c.Request.Context(), nodeID(c), repository.WithDeleted(include))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ancestors)
}

// GetDescendants returns the descendants of a node
func (h *TreeHandler) GetDescendants(c *gin.Context) {
	include, ok := includeDeleted(c)
	if !ok {
		return
	}
	descendants, err := h.repo.FindDescendants(c.Request.Context(), nodeID(c), repository.WithDeleted(include))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, descendants)
}

// CountDescendants returns the number of descendants of a node
func (h *TreeHandler) CountDescendants(c *gin.Context) {
	include, ok := includeDeleted(c)
	if !ok {
		return
	}
	count, err := h.repo.CountDescendants(c.Request.Context(), nodeID(c), repository.WithDeleted(include))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": nodeID(c), "count": count})
}

// MoveNode reparents a node; a null parentId makes it a root
func (h *TreeHandler) MoveNode(c *gin.Context) {
	var req models.MoveNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := h.repo.Move(ctx, nodeID(c), req.Parent()); err != nil {
		h.fail(c, err)
		return
	}
	h.cache.InvalidateCache(ctx)

	c.JSON(http.StatusOK, gin.H{"id": nodeID(c), "parentId": req.ParentID})
}

// DeleteNode soft deletes a node and its subtree, or removes them with hard=true
func (h *TreeHandler) DeleteNode(c *gin.Context) {
	hard := false
	if raw := c.Query("hard"); raw != "" {
		var err error
		if hard, err = strconv.ParseBool(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hard must be a boolean"})
			return
		}
	}

	ctx := c.Request.Context()
	var ids []models.NodeID
	var err error
	if hard {
		ids, err = h.repo.RemoveWithDescendants(ctx, nodeID(c))
	} else {
		ids, err = h.repo.SoftDelete(ctx, nodeID(c))
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	h.cache.InvalidateCache(ctx)

	if hard {
		c.JSON(http.StatusOK, gin.H{"removed": ids})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": ids})
}

// RestoreNode reverses a soft delete
func (h *TreeHandler) RestoreNode(c *gin.Context) {
	ctx := c.Request.Context()
	ids, err := h.repo.Restore(ctx, nodeID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.cache.InvalidateCache(ctx)

	c.JSON(http.StatusOK, gin.H{"restored": ids})
}

// RebuildTree recomputes the auxiliary state of the tree containing a node
func (h *TreeHandler) RebuildTree(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.repo.Rebuild(ctx, nodeID(c)); err != nil {
		h.fail(c, err)
		return
	}
	h.cache.InvalidateCache(ctx)

	c.JSON(http.StatusOK, gin.H{"id": nodeID(c), "status": "rebuilt"})
}

// CheckTree verifies the auxiliary state of the tree containing a node
func (h *TreeHandler) CheckTree(c *gin.Context) {
	if err := h.repo.Check(c.Request.Context(), nodeID(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": nodeID(c), "status": "consistent"})
}
