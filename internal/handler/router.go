package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// SetupRouter настраивает маршруты диагностического API.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Get("/ping", h.Ping)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Post("/scan", h.TriggerScan)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
