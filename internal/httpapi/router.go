package httpapi

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"lumen/backend/internal/config"
	"lumen/backend/internal/research"
	"lumen/backend/internal/store"
)

func NewRouter(cfg config.Config, logger *zap.Logger, db *sql.DB, querier research.Querier, exporter *store.Exporter) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := NewHandler(cfg, logger, querier, store.NewStore(db), exporter)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Type", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)

	r.Route("/v1/research", func(rr chi.Router) {
		rr.Post("/", h.Research)
		rr.Post("/stream", h.ResearchStream)
		rr.Post("/multi", h.ResearchMulti)
		rr.Post("/pipeline", h.ResearchPipeline)
		rr.Get("/runs", h.ListRuns)
		rr.Get("/runs/{runID}", h.GetRun)
		rr.Delete("/runs/{runID}", h.DeleteRun)
	})

	return r
}
