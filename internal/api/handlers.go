// Package api wires the gin HTTP router to the data-plane components:
// the replication endpoint, the distributed index's inter-node RPC, the
// search surface, a thin ingest endpoint for integration tests, bulk-ingest
// work-queue control, and cluster membership management.
package api

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bookcluster/internal/bookerr"
	"bookcluster/internal/cluster"
	"bookcluster/internal/datalake"
	"bookcluster/internal/index"
	"bookcluster/internal/indexing"
	"bookcluster/internal/search"
	"bookcluster/internal/workqueue"
)

// Handler holds every dependency a route needs, injected from cmd/server.
type Handler struct {
	datalake   *datalake.Partition
	membership *cluster.Membership
	index      *index.Cluster
	indexer    *indexing.Engine
	search     *search.Engine
	queue      *workqueue.Queue
	selfID     string
	logger     *slog.Logger
}

// NewHandler creates a Handler. queue may be nil (bulk endpoints 404 if so).
func NewHandler(
	dl *datalake.Partition,
	m *cluster.Membership,
	idx *index.Cluster,
	eng *indexing.Engine,
	se *search.Engine,
	q *workqueue.Queue,
	selfID string,
	logger *slog.Logger,
) *Handler {
	return &Handler{datalake: dl, membership: m, index: idx, indexer: eng, search: se, queue: q, selfID: selfID, logger: logger}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/stats", h.NodeStats)

	r.POST("/ingest", h.Ingest)
	r.GET("/search", h.Search)

	clusterGroup := r.Group("/cluster")
	clusterGroup.POST("/join", h.Join)
	clusterGroup.POST("/leave", h.Leave)
	clusterGroup.GET("/nodes", h.ListNodes)

	bulk := r.Group("/bulk")
	bulk.POST("/start", h.BulkStart)
	bulk.POST("/workers/start", h.BulkStartWorkers)
	bulk.POST("/workers/stop", h.BulkStopWorkers)
	bulk.GET("/status", h.BulkStatus)

	internal := r.Group("/internal")
	internal.POST("/replicate", h.InternalReplicate)
	internal.POST("/index/get-all", h.InternalIndexGetAll)
	internal.POST("/index/put-all", h.InternalIndexPutAll)
	internal.POST("/index/push-backup", h.InternalIndexPushBackup)
}

// Health reports this node's identity and cluster view, for load balancer
// readiness probes.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"node":   h.selfID,
		"status": "ok",
		"nodes":  len(h.membership.All()),
	})
}

// NodeStats reports this node's datalake and index counters plus the
// indexing engine's acked-with-error count, the observability surface for
// admin tools and the CLI's stats command.
func (h *Handler) NodeStats(c *gin.Context) {
	dlStats, err := h.datalake.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	idxStats := h.index.Stats()
	out := gin.H{
		"node": h.selfID,
		"datalake": gin.H{
			"bookCount":  dlStats.BookCount,
			"totalBytes": dlStats.TotalBytes,
		},
		"index": gin.H{
			"totalDocuments":    idxStats.TotalDocuments,
			"totalTerms":        idxStats.TotalTerms,
			"duplicatesSkipped": idxStats.DuplicatesSkipped,
		},
	}
	if h.indexer != nil {
		out["indexingErrors"] = h.indexer.ErrorCount()
	}
	c.JSON(http.StatusOK, out)
}

// ─── Ingest / search (thin integration surface) ──────────────────────────

// Ingest handles POST /ingest. Body: {"bookId": int, "raw": base64}.
// Deliberately minimal: it exists so the ingest → replicate → publish →
// index → search pipeline is exercisable end-to-end over HTTP, not as the
// production intake surface (that's DocumentSource's job, wired by a bulk
// job or an external caller who already has the bytes).
func (h *Handler) Ingest(c *gin.Context) {
	var body struct {
		BookID int64  `json:"bookId" binding:"required"`
		Raw    string `json:"raw" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	raw, err := base64.StdEncoding.DecodeString(body.Raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "raw must be base64: " + err.Error()})
		return
	}

	result := h.datalake.Ingest(body.BookID, raw)
	if result.Status == datalake.StatusError {
		c.JSON(http.StatusInternalServerError, gin.H{"error": result.Err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          result.Status,
		"path":            result.Path,
		"replicasWritten": result.ReplicasWritten,
	})
}

// Search handles GET /search?q=...&mode=AND|OR&limit=10&author=&language=&year=.
func (h *Handler) Search(c *gin.Context) {
	q := c.Query("q")
	mode := search.ParseMode(c.Query("mode"))
	limit := 10
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	filters := search.Filters{
		Author:   c.Query("author"),
		Language: c.Query("language"),
		Year:     search.ParseYear(c.Query("year")),
	}

	results, err := h.search.Search(c.Request.Context(), q, mode, limit, filters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// ─── Cluster membership handlers ──────────────────────────────────────────

// Join handles POST /cluster/join. Body: {"id": "...", "address": "..."}.
func (h *Handler) Join(c *gin.Context) {
	var node cluster.Node
	if err := c.ShouldBindJSON(&node); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.membership.Join(node); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"joined": node.ID})
}

// Leave handles POST /cluster/leave. Body: {"id": "..."}.
func (h *Handler) Leave(c *gin.Context) {
	var body struct {
		ID string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.membership.Leave(body.ID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"left": body.ID})
}

// ListNodes handles GET /cluster/nodes.
func (h *Handler) ListNodes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"nodes": h.membership.All()})
}

// ─── Bulk-ingest work-queue control ──────────────────────────────────

// BulkStart handles POST /bulk/start. Body: {"n": int}.
func (h *Handler) BulkStart(c *gin.Context) {
	if h.queue == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "work queue not configured on this node"})
		return
	}
	var body struct {
		N int `json:"n" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.queue.Start(c.Request.Context(), body.N); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"started": body.N})
}

// BulkStartWorkers handles POST /bulk/workers/start. Body: {"poolSize": int}.
func (h *Handler) BulkStartWorkers(c *gin.Context) {
	if h.queue == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "work queue not configured on this node"})
		return
	}
	var body struct {
		PoolSize int `json:"poolSize" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.queue.StartWorkers(c.Request.Context(), body.PoolSize)
	c.JSON(http.StatusOK, gin.H{"workers": body.PoolSize})
}

// BulkStopWorkers handles POST /bulk/workers/stop.
func (h *Handler) BulkStopWorkers(c *gin.Context) {
	if h.queue == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "work queue not configured on this node"})
		return
	}
	if err := h.queue.StopWorkers(c.Request.Context()); err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// BulkStatus handles GET /bulk/status.
func (h *Handler) BulkStatus(c *gin.Context) {
	if h.queue == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "work queue not configured on this node"})
		return
	}
	c.JSON(http.StatusOK, h.queue.Status())
}

// ─── Internal (peer-to-peer) handlers ─────────────────────────────────────

// replicateRequest is the wire shape peers exchange on /internal/replicate.
type replicateRequest struct {
	BookID        int64  `json:"bookId" binding:"required"`
	SourceNodeID  string `json:"sourceNodeId"`
	RelativePath  string `json:"relativePath" binding:"required"`
	RawContent    string `json:"rawContent" binding:"required"`
	HeaderContent string `json:"headerContent"`
	BodyContent   string `json:"bodyContent"`
	ContentHash   string `json:"contentHash" binding:"required"`
}

// replicateResponse is the per-peer reply to a replicate request.
type replicateResponse struct {
	Success bool   `json:"success"`
	NodeID  string `json:"nodeId"`
	BookID  int64  `json:"bookId"`
	Message string `json:"message"`
}

// InternalReplicate handles POST /internal/replicate: a peer pushing a
// freshly-ingested book's bytes to this node. A hash mismatch is reported
// as success=false in the body, not an HTTP error status — the sender
// counts it as a failed replica, it is not a malformed request.
func (h *Handler) InternalReplicate(c *gin.Context) {
	var req replicateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	raw, err := base64.StdEncoding.DecodeString(req.RawContent)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rawContent must be base64"})
		return
	}
	header, _ := base64.StdEncoding.DecodeString(req.HeaderContent)
	body, _ := base64.StdEncoding.DecodeString(req.BodyContent)

	err = h.datalake.ReceiveReplica(req.BookID, req.RelativePath, raw, header, body, req.ContentHash)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, bookerr.ErrHashMismatch) {
			msg = "Hash mismatch: " + msg
		}
		c.JSON(http.StatusOK, replicateResponse{
			Success: false, NodeID: h.selfID, BookID: req.BookID, Message: msg,
		})
		return
	}
	c.JSON(http.StatusOK, replicateResponse{
		Success: true, NodeID: h.selfID, BookID: req.BookID, Message: "ok",
	})
}

// InternalIndexGetAll handles POST /internal/index/get-all, the batched
// cross-node term lookup RPC.
func (h *Handler) InternalIndexGetAll(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.index.ServeGetAll(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", resp)
}

// InternalIndexPutAll handles POST /internal/index/put-all: a write batch
// forwarded here because the ring names this node primary for its terms.
func (h *Handler) InternalIndexPutAll(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.index.ServePutAll(c.Request.Context(), body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", resp)
}

// InternalIndexPushBackup handles POST /internal/index/push-backup: a batch
// of synchronous backup-replica writes from the terms' primary.
func (h *Handler) InternalIndexPushBackup(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.index.ServePushBackup(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", resp)
}
