package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/finsight-ai/internal/analysis"
	"github.com/wolfman30/finsight-ai/internal/finnum"
	httpmiddleware "github.com/wolfman30/finsight-ai/internal/http/middleware"
	"github.com/wolfman30/finsight-ai/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger          *logging.Logger
	AnalysisHandler *analysis.Handler
	NumbersHandler  *finnum.Handler
	MetricsHandler  http.Handler

	CORSAllowedOrigins []string

	// RateLimiter guards the /api routes. Nil disables limiting.
	RateLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	r.Get("/health", health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api", func(api chi.Router) {
		if cfg.RateLimiter != nil {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}
		if cfg.AnalysisHandler != nil {
			api.Post("/analyze", cfg.AnalysisHandler.Analyze)
			api.Post("/chat", cfg.AnalysisHandler.Chat)
		}
		if cfg.NumbersHandler != nil {
			api.Post("/numbers/parse", cfg.NumbersHandler.Parse)
		}
	})

	return r
}

func health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
