package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/coopdesk-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса coopdesk.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/members/search", h.SearchMember)
		r.Post("/issue", h.IssueToken)

		r.Post("/scan", h.Scan)
		r.Post("/scan/retry", h.RetryScan)
		r.Post("/scan/reset", h.ResetScan)
		r.Get("/scan/state", h.ScanState)

		r.Get("/report", h.Report)

		r.Get("/operator", h.GetOperator)
		r.Put("/operator", h.SetOperator)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
