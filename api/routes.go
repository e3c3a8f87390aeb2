package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// NewRouter builds the chi router with the standard middleware stack.
func NewRouter(s *Server) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	RegisterRoutes(r, s)
	return r
}

// RegisterRoutes wires up the API endpoints on the given router.
func RegisterRoutes(r chi.Router, s *Server) {
	r.Get("/api/health", s.handleHealth)
	r.Route("/api/models", func(r chi.Router) {
		r.Get("/", s.handleListModels)
		r.Delete("/", s.handleDeleteModels)
		r.Get("/{model}/{version}", s.handleShowVersion)
	})
	r.Get("/api/records", s.handleRecords)
	r.Post("/api/organize", s.handleOrganize)
	r.Method(http.MethodGet, "/metrics", s.cfg.Metrics.Handler())
}

// requestLogger logs one line per request through logrus.
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"elapsed":    time.Since(start),
			}).Info("request")
		})
	}
}
