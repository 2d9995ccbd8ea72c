package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"go.uber.org/zap"

	"lumen/backend/internal/research"
	"lumen/backend/internal/store"
)

type researchRequest struct {
	Query    string          `json:"query"`
	Schema   research.Schema `json:"schema,omitempty"`
	MaxDepth int             `json:"maxDepth,omitempty"`
}

type multiRequest struct {
	Query    string                     `json:"query"`
	Schemas  map[string]research.Schema `json:"schemas,omitempty"`
	MaxDepth int                        `json:"maxDepth,omitempty"`
}

type pipelineRequest struct {
	Query    string `json:"query"`
	Topics   int    `json:"topics,omitempty"`
	MaxDepth int    `json:"maxDepth,omitempty"`
}

type treeStats struct {
	TotalNodes      int                     `json:"totalNodes"`
	MaxDepthReached int                     `json:"maxDepthReached"`
	UniqueQueries   int                     `json:"uniqueQueries,omitempty"`
	ByStatus        map[research.Status]int `json:"byStatus"`
	ElapsedMS       int64                   `json:"elapsedMs"`
}

type researchResponse struct {
	Run   *store.Run     `json:"run,omitempty"`
	Tree  *research.Node `json:"tree"`
	Stats treeStats      `json:"stats"`
}

type multiResponse struct {
	Run *store.Run `json:"run,omitempty"`
	research.MultiSchemaResult
	Stats treeStats `json:"stats"`
}

type pipelineResponse struct {
	Run *store.Run `json:"run,omitempty"`
	research.PipelineResult
	Stats treeStats `json:"stats"`
}

func statsFor(engine *research.Engine, startedAt time.Time, roots ...*research.Node) treeStats {
	stats := treeStats{
		UniqueQueries: engine.VisitedCount(),
		ByStatus:      map[research.Status]int{},
		ElapsedMS:     time.Since(startedAt).Milliseconds(),
	}
	for _, root := range roots {
		stats.TotalNodes += research.CountNodes(root)
		if depth := research.MaxDepthReached(root); depth > stats.MaxDepthReached {
			stats.MaxDepthReached = depth
		}
		for status, count := range research.CountByStatus(root) {
			stats.ByStatus[status] += count
		}
	}
	return stats
}

func validateQuery(query string, maxDepth int) (string, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return "", errors.New("query is required")
	}
	if maxDepth < 0 || maxDepth > maxDepthCeiling {
		return "", errors.Errorf("maxDepth must be between 1 and %d", maxDepthCeiling)
	}
	return trimmed, nil
}

func (h Handler) Research(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	query, err := validateQuery(req.Query, req.MaxDepth)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if !h.lumenAvailable() {
		writeError(w, http.StatusServiceUnavailable, "lumen_unavailable", "query service token is not configured")
		return
	}

	logger := h.requestLogger(r)
	ctx, cancel := h.researchContext(r.Context())
	defer cancel()

	startedAt := time.Now()
	engine := h.newEngine(logger, req.MaxDepth, nil)
	tree := engine.Research(ctx, query, req.Schema)
	stats := statsFor(engine, startedAt, tree)

	logger.Info("research completed",
		zap.Int("nodes", stats.TotalNodes),
		zap.Int("max_depth", stats.MaxDepthReached),
		zap.Int("failed", stats.ByStatus[research.StatusFailed]),
		zap.Int64("elapsed_ms", stats.ElapsedMS),
	)

	run := h.saveRun(r.Context(), logger, store.KindResearch, query, stats.TotalNodes, stats.MaxDepthReached, tree)
	writeJSON(w, http.StatusOK, researchResponse{Run: run, Tree: tree, Stats: stats})
}

func (h Handler) ResearchMulti(w http.ResponseWriter, r *http.Request) {
	var req multiRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	query, err := validateQuery(req.Query, req.MaxDepth)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	schemas := req.Schemas
	if len(schemas) == 0 {
		schemas = research.DefaultViewSchemas()
	}
	for name := range schemas {
		if strings.TrimSpace(name) == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "schema names must not be blank")
			return
		}
	}
	if !h.lumenAvailable() {
		writeError(w, http.StatusServiceUnavailable, "lumen_unavailable", "query service token is not configured")
		return
	}

	logger := h.requestLogger(r)
	ctx, cancel := h.researchContext(r.Context())
	defer cancel()

	startedAt := time.Now()
	engine := h.newEngine(logger, req.MaxDepth, nil)
	result := engine.ResearchWithParallelSchemas(ctx, query, schemas)
	stats := statsFor(engine, startedAt, result.Tree)

	run := h.saveRun(r.Context(), logger, store.KindMulti, query, result.TotalNodes, result.MaxDepthReached, result)
	writeJSON(w, http.StatusOK, multiResponse{Run: run, MultiSchemaResult: result, Stats: stats})
}

func (h Handler) ResearchPipeline(w http.ResponseWriter, r *http.Request) {
	var req pipelineRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	query, err := validateQuery(req.Query, req.MaxDepth)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Topics < 0 || req.Topics > maxPipelineTopics {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("topics must be between 1 and %d", maxPipelineTopics))
		return
	}
	if !h.lumenAvailable() {
		writeError(w, http.StatusServiceUnavailable, "lumen_unavailable", "query service token is not configured")
		return
	}

	logger := h.requestLogger(r)
	ctx, cancel := h.researchContext(r.Context())
	defer cancel()

	startedAt := time.Now()
	engine := h.newEngine(logger, req.MaxDepth, nil)
	result := engine.Pipeline(ctx, query, req.Topics)
	roots := append([]*research.Node{result.Overview}, result.DeepDives...)
	stats := statsFor(engine, startedAt, roots...)
	// the visited set is cleared between deep dives
	stats.UniqueQueries = 0

	run := h.saveRun(r.Context(), logger, store.KindPipeline, query, stats.TotalNodes, stats.MaxDepthReached, result)
	writeJSON(w, http.StatusOK, pipelineResponse{Run: run, PipelineResult: result, Stats: stats})
}
