package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"lumen/backend/internal/store"
)

func (h Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		h.requestLogger(r).Error("list research runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "db_error", "failed to read research runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "research run not found")
		return
	}
	if err != nil {
		h.requestLogger(r).Error("get research run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "db_error", "failed to read research run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (h Handler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	logger := h.requestLogger(r)

	err := h.runs.DeleteRun(r.Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "research run not found")
		return
	}
	if err != nil {
		logger.Error("delete research run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "db_error", "failed to delete research run")
		return
	}

	if h.exporter != nil {
		if err := h.exporter.Remove(r.Context(), runID); err != nil {
			logger.Warn("remove exported research run failed", zap.String("run_id", runID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
