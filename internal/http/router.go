package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"docrag/internal/handlers"
	"docrag/internal/service"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	DocumentService service.DocumentService
	VectorStore     handlers.CollectionChecker
	Database        handlers.Pinger
	CollectionName  string
	MaxUploadBytes  int64
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	// Add chi middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggerMiddleware)
	r.Use(RequestLogger)

	// Add CORS middleware
	r.Use(CORS)
	r.Use(Identity)

	documentHandler := handlers.NewDocumentHandler(deps.DocumentService, deps.MaxUploadBytes)
	askHandler := handlers.NewAskHandler(deps.DocumentService)
	healthHandler := handlers.NewHealthHandler(deps.VectorStore, deps.Database, deps.CollectionName)

	// Register API routes
	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/health", healthHandler)

		r.Group(func(r chi.Router) {
			r.Use(RequireIdentity)

			r.Route("/documents", func(r chi.Router) {
				r.Post("/", documentHandler.Upload)
				r.Get("/", documentHandler.List)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", documentHandler.Get)
					r.Patch("/", documentHandler.Update)
					r.Delete("/", documentHandler.Delete)
					r.Get("/status", documentHandler.Status)
					r.Post("/reindex", documentHandler.Reindex)
				})
			})
			r.Post("/search", askHandler.Search)
			r.Post("/ask", askHandler.Ask)
			r.Get("/stats", documentHandler.Stats)
		})
	})

	return r
}
