// Package server assembles the chi.Router HTTP surface spec.md §6
// describes and wraps it in a graceful-shutdown-capable http.Server.
// Grounded on aristath-sentinel's internal/server/server.go: same
// middleware stack (Recoverer, RequestID, RealIP, Timeout, cors.Handler),
// same Start/Shutdown shape.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"csa-margin-engine/pkg/api/calculations"
	"csa-margin-engine/pkg/api/documents"
	"csa-margin-engine/pkg/api/exportsapi"
	"csa-margin-engine/pkg/api/jobsapi"
	"csa-margin-engine/pkg/core/logx"
)

var log = logx.New("api.server")

// Handlers bundles every route-registering handler package the server
// mounts.
type Handlers struct {
	Documents    *documents.Handlers
	Jobs         *jobsapi.Handlers
	Calculations *calculations.Handlers
	Exports      *exportsapi.Handlers
}

// Server is the CSA margin engine's HTTP surface.
type Server struct {
	router *chi.Mux
	server *http.Server
}

// New builds a Server listening on port, serving h's routes.
func New(port int, h Handlers) *Server {
	s := &Server{router: chi.NewRouter()}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Get("/health", handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		h.Documents.RegisterRoutes(r)
		h.Jobs.RegisterRoutes(r)
		h.Calculations.RegisterRoutes(r)
		h.Exports.RegisterRoutes(r)
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	log.Infof("listening on %s", s.server.Addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Infof("shutting down")
	return s.server.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Infof("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}
