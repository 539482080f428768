// It defines the API server, sets up the routes (endpoints)
// using chi, and links them to the handler functions.

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pdellaert/fbw-installer/internal/core"
	"github.com/pdellaert/fbw-installer/internal/store"
)

// Server holds the dependencies for our API.
type Server struct {
	app   *core.App
	store *store.Store
}

// Store returns the store instance.
func (s *Server) Store() *store.Store {
	return s.store
}

// NewServer creates a new Server instance.
func NewServer(app *core.App) *Server {
	return &Server{
		app:   app,
		store: app.Store(),
	}
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)    // Logs requests to the console
	r.Use(middleware.Recoverer) // Recovers from panics

	// WebSocket route; registered outside the timeout middleware.
	r.Get("/ws/plugins", func(w http.ResponseWriter, r *http.Request) {
		s.app.WsHub().ServeWs(w, r)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Minute))

		r.Route("/api", func(r chi.Router) {
			r.Get("/version", s.handleGetVersion)

			r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
				if err := s.store.Ping(); err != nil {
					RespondWithError(w, http.StatusServiceUnavailable, "Database connection failed")
					return
				}
				RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			})

			// Plugin Routes
			r.Get("/plugins", s.handleListPlugins)
			r.Post("/plugins/install", s.handleInstallPlugin)
			r.Post("/plugins/fetch", s.handleFetchPlugin)
			r.Get("/plugins/updates", s.handleCheckUpdates)
			r.Get("/plugins/history", s.handleListInstallHistory)
			r.Post("/plugins/reload", s.handleReloadPlugins)
			r.Get("/plugins/{pluginID}", s.handleGetPlugin)
			r.Delete("/plugins/{pluginID}", s.handleDeletePlugin)
			r.Post("/plugins/{pluginID}/load", s.handleLoadPlugin)
			r.Post("/plugins/{pluginID}/unload", s.handleUnloadPlugin)

			// Configuration Routes
			r.Get("/configuration/publishers", s.handleListPublishers)

			// Job Routes
			r.Get("/jobs/status", s.handleGetJobsStatus)
			r.Post("/jobs/run", s.handleRunJob)
		})
	})

	return r
}
