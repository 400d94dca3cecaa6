package api

import (
	"context"
	"net/http"

	"caseflow/internal/auth"
	"caseflow/internal/model"
	"caseflow/internal/service"
	"caseflow/internal/storage"
	"caseflow/internal/ws"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ReferenceQueries lists the shared reference data
type ReferenceQueries interface {
	ListDepartments(ctx context.Context) ([]model.Department, error)
	ListLabels(ctx context.Context) ([]model.Label, error)
	ListTemplates(ctx context.Context) ([]model.Template, error)
	ListCompanies(ctx context.Context) ([]model.Company, error)
}

type Dependencies struct {
	Cases     *service.CaseService
	Reference ReferenceQueries
	Files     storage.Storage
	Hub       *ws.Hub
	Auth      *auth.JWTConfig
	Log       *zap.Logger
}

func Routes(d Dependencies) http.Handler {
	r := chi.NewRouter()

	// Add request logging middleware
	r.Use(RequestLogger(d.Log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// The WebSocket endpoint authenticates itself so browsers can pass a token query parameter
	r.Get("/ws", d.wsHandler)

	r.Group(func(r chi.Router) {
		r.Use(d.Auth.Middleware)

		r.Get("/files/*", d.serveFile)

		r.Route("/v1", func(r chi.Router) {
			// Case endpoints
			r.Get("/cases", d.listCases)
			r.Post("/cases", d.createCase)
			r.Get("/cases/{id}", d.getCase)
			r.Patch("/cases/{id}", d.updateCase)
			r.Delete("/cases/{id}", d.deleteCase)
			r.Post("/cases/{id}/restore", d.restoreCase)
			r.Post("/cases/{id}/advance", d.advanceCase)
			r.Post("/cases/{id}/revert", d.revertCase)
			r.Put("/cases/{id}/checklist/{dept}", d.setChecklistEntry)
			r.Post("/cases/{id}/documents", d.uploadDocument)
			r.Post("/cases/{id}/comments", d.addComment)
			r.Delete("/documents/{id}", d.deleteDocument)
			r.Get("/trash", d.listTrash)

			// Reference endpoints
			r.Get("/departments", d.listDepartments)
			r.Get("/labels", d.listLabels)
			r.Get("/templates", d.listTemplates)
			r.Get("/companies", d.listCompanies)

			// Notification endpoints
			r.Get("/notifications", d.listNotifications)
			r.Post("/notifications/{id}/read", d.markNotificationRead)
		})
	})

	return r
}
