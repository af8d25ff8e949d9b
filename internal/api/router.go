package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", apiHandler.HealthHandler)
		r.Get("/catalog", apiHandler.CatalogHandler)

		// Open unless JWT_SECRET is set.
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Post("/diagnose", apiHandler.DiagnoseHandler)
			r.Post("/cleanup", apiHandler.CleanupHandler)

			r.Get("/users/{userID}/diagnoses", apiHandler.ListDiagnosesHandler)
			r.Get("/diagnoses/{diagnosisID}", apiHandler.GetDiagnosisHandler)
			r.Get("/diagnoses/{diagnosisID}/report", apiHandler.ReportHandler)
		})
	})

	return r
}
