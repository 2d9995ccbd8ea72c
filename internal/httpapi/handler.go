package httpapi

import (
	"context"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"lumen/backend/internal/config"
	"lumen/backend/internal/research"
	"lumen/backend/internal/store"
)

const (
	maxRequestBodyBytes = 1 << 20
	maxDepthCeiling     = 6
	maxPipelineTopics   = 5
)

type Handler struct {
	cfg      config.Config
	logger   *zap.Logger
	querier  research.Querier
	runs     store.Store
	exporter *store.Exporter
}

// NewHandler wires the research endpoints. exporter may be nil when no
// object storage is configured.
func NewHandler(cfg config.Config, logger *zap.Logger, querier research.Querier, runs store.Store, exporter *store.Exporter) Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Handler{cfg: cfg, logger: logger, querier: querier, runs: runs, exporter: exporter}
}

func (h Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h Handler) lumenAvailable() bool {
	return h.querier != nil && strings.TrimSpace(h.cfg.LumenToken) != ""
}

func (h Handler) requestLogger(r *http.Request) *zap.Logger {
	if id := chimw.GetReqID(r.Context()); id != "" {
		return h.logger.With(zap.String("request_id", id))
	}
	return h.logger
}

// newEngine builds a fresh engine per request so concurrent requests never
// share a visited set.
func (h Handler) newEngine(logger *zap.Logger, maxDepth int, progress func(research.Progress)) *research.Engine {
	cfg := research.Config{
		MaxDepth:            h.cfg.ResearchMaxDepth,
		InterRequestDelay:   h.cfg.ResearchDelay,
		MaxBranchesPerNode:  h.cfg.ResearchMaxBranches,
		Model:               h.cfg.LumenModel,
		Temperature:         h.cfg.LumenTemperature,
		MaxTokens:           h.cfg.LumenMaxTokens,
		ForwardOutputSchema: h.cfg.ForwardOutputSchema,
		SchemaConcurrency:   h.cfg.ResearchSchemaConcurrency,
	}
	if maxDepth > 0 {
		cfg.MaxDepth = maxDepth
	}
	opts := []research.Option{research.WithLogger(logger)}
	if progress != nil {
		opts = append(opts, research.WithProgress(progress))
	}
	return research.NewEngine(h.querier, cfg, opts...)
}

func (h Handler) researchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.cfg.ResearchTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.cfg.ResearchTimeout)
}

// saveRun stores a finished result and mirrors it to object storage. Storage
// failures are logged; the caller still returns the result.
func (h Handler) saveRun(ctx context.Context, logger *zap.Logger, kind store.RunKind, query string, totalNodes, maxDepth int, result any) *store.Run {
	run, err := h.runs.SaveRun(ctx, kind, query, totalNodes, maxDepth, result)
	if err != nil {
		logger.Error("store research run failed", zap.String("kind", string(kind)), zap.Error(err))
		return nil
	}
	if h.exporter != nil {
		objectPath, err := h.exporter.Export(ctx, run)
		if err != nil {
			logger.Warn("export research run failed", zap.String("run_id", run.ID), zap.String("backend", h.exporter.Backend()), zap.Error(err))
		} else {
			logger.Info("research run exported", zap.String("run_id", run.ID), zap.String("object", objectPath))
		}
	}
	run.Result = nil
	return &run
}
