package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *Server) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Device table (read-only, public)
	r.Route("/keyboards", func(r chi.Router) {
		r.Get("/", s.HandleListKeyboards)
		r.Get("/{addr}", s.HandleGetKeyboard)
	})
	r.Get("/status", s.HandleStatus)

	// Live event stream
	r.Get("/events/ws", s.HandleEventsWS)

	// Mutating routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Put("/selection", s.HandleSetSelection)
		r.Post("/reset", s.HandleReset)
	})
}
