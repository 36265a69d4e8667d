package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/docsplit/internal/chunker"
	"github.com/dgallion1/docsplit/internal/config"
	"github.com/dgallion1/docsplit/internal/extract"
	"github.com/dgallion1/docsplit/internal/pipeline"
)

// Server is the HTTP API server for docsplit.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	extractor    pipeline.RuleExtractor
	llm          *extract.Client
	log          *slog.Logger
	cfg          *config.Config
	chunkCfg     chunker.Config
}

// NewServer creates and configures the HTTP server. llm is only used for
// the stats endpoint and may be nil.
func NewServer(orch *pipeline.Orchestrator, ex pipeline.RuleExtractor, llm *extract.Client, log *slog.Logger, cfg *config.Config, chunkCfg chunker.Config) *Server {
	s := &Server{
		orchestrator: orch,
		extractor:    ex,
		llm:          llm,
		log:          log,
		cfg:          cfg,
		chunkCfg:     chunkCfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/chunk", s.handleChunk)
		r.Post("/api/rules", s.handleRules)
		r.Post("/api/pipeline", s.handlePipeline)
		r.Get("/api/jobs/{jobID}", s.handleJobStatus)
		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
