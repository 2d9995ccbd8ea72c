package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"go.uber.org/zap"

	"lumen/backend/internal/research"
	"lumen/backend/internal/store"
)

func progressEventData(progress research.Progress) map[string]any {
	event := map[string]any{
		"type":  "progress",
		"kind":  progress.Kind,
		"depth": progress.Depth,
	}
	if query := strings.TrimSpace(progress.Query); query != "" {
		event["query"] = query
	}
	if progress.Status != "" {
		event["status"] = progress.Status
	}
	if progress.Gaps > 0 {
		event["gaps"] = progress.Gaps
	}
	if progress.Branch > 0 {
		event["branch"] = progress.Branch
	}
	if progress.Schema != "" {
		event["schema"] = progress.Schema
	}
	if detail := strings.TrimSpace(progress.Detail); detail != "" {
		event["detail"] = detail
	}
	return event
}

// ResearchStream runs one traversal and reports every node as a server-sent
// event, finishing with the stored result.
func (h Handler) ResearchStream(w http.ResponseWriter, r *http.Request) {
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
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming is not supported")
		return
	}

	logger := h.requestLogger(r)
	ctx, cancel := h.researchContext(r.Context())
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	engine := h.newEngine(logger, req.MaxDepth, func(progress research.Progress) {
		_ = writeSSEEvent(w, progressEventData(progress))
		flusher.Flush()
	})

	_ = writeSSEEvent(w, map[string]any{
		"type":     "metadata",
		"query":    query,
		"maxDepth": engine.Config().MaxDepth,
		"model":    engine.Config().Model,
	})
	flusher.Flush()

	startedAt := time.Now()
	tree := engine.Research(ctx, query, req.Schema)
	stats := statsFor(engine, startedAt, tree)

	if err := ctx.Err(); err != nil {
		message := "research request canceled"
		if errors.Is(err, context.DeadlineExceeded) {
			message = "research timed out after " + h.cfg.ResearchTimeout.String()
		}
		_ = writeSSEEvent(w, map[string]any{"type": "warning", "message": message})
	}

	run := h.saveRun(r.Context(), logger, store.KindResearch, query, stats.TotalNodes, stats.MaxDepthReached, tree)
	_ = writeSSEEvent(w, map[string]any{
		"type":  "result",
		"run":   run,
		"tree":  tree,
		"stats": stats,
	})
	_ = writeSSEEvent(w, map[string]any{"type": "done"})
	flusher.Flush()

	logger.Info("research stream completed",
		zap.Int("nodes", stats.TotalNodes),
		zap.Int64("elapsed_ms", stats.ElapsedMS),
	)
}
