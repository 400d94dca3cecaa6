package api

import (
	"net/http"

	"caseflow/internal/auth"

	"github.com/go-chi/chi/v5"
)

func (d Dependencies) listDepartments(w http.ResponseWriter, r *http.Request) {
	items, err := d.Reference.ListDepartments(r.Context())
	writeList(w, d, items, err)
}

func (d Dependencies) listLabels(w http.ResponseWriter, r *http.Request) {
	items, err := d.Reference.ListLabels(r.Context())
	writeList(w, d, items, err)
}

func (d Dependencies) listTemplates(w http.ResponseWriter, r *http.Request) {
	items, err := d.Reference.ListTemplates(r.Context())
	writeList(w, d, items, err)
}

func (d Dependencies) listCompanies(w http.ResponseWriter, r *http.Request) {
	items, err := d.Reference.ListCompanies(r.Context())
	writeList(w, d, items, err)
}

// writeList encodes an empty listing as [] rather than null
func writeList[T any](w http.ResponseWriter, d Dependencies, items []T, err error) {
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (d Dependencies) listNotifications(w http.ResponseWriter, r *http.Request) {
	items, err := d.Cases.ListNotifications(r.Context(), auth.GetActorID(r.Context()))
	writeList(w, d, items, err)
}

func (d Dependencies) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := d.Cases.MarkNotificationRead(r.Context(), auth.GetActorID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
