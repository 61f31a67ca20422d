package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mirageproxy/mirage/internal/api/middleware"
	"github.com/mirageproxy/mirage/internal/storage"
)

// NewRouter wires the handler into a chi router. The health endpoint
// and the static artifact files are served without authentication;
// everything else requires the bearer API key.
func NewRouter(h *Handler, apiKey, artifactDir string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/v1/health", h.Health)

	fileServer := http.StripPrefix(storage.URLPathPrefix, http.FileServer(http.Dir(artifactDir)))
	r.Handle(storage.URLPathPrefix+"/*", fileServer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(apiKey))

		r.Post("/v1/images/generations", h.GenerateImage)
		r.Post("/v1/videos/generations", h.GenerateVideo)
		r.Post("/v2/videos/generations", h.CreateVideoTask)
		r.Get("/v2/videos/generations/{id}", h.GetVideoTask)
		r.Post("/v1/cleanup", h.Cleanup)
	})

	return r
}
