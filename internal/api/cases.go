package api

import (
	"encoding/json"
	"net/http"

	"caseflow/internal/auth"
	"caseflow/internal/backend"
	"caseflow/internal/model"

	"github.com/go-chi/chi/v5"
)

func (d Dependencies) listCases(w http.ResponseWriter, r *http.Request) {
	cases, err := d.Cases.ListCases(r.Context())
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	if cases == nil {
		cases = []model.Case{}
	}
	writeJSON(w, http.StatusOK, cases)
}

func (d Dependencies) getCase(w http.ResponseWriter, r *http.Request) {
	c, err := d.Cases.GetCase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (d Dependencies) createCase(w http.ResponseWriter, r *http.Request) {
	var in backend.CreateCaseInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		WriteError(w, http.StatusBadRequest, backend.CodeInvalid, "Invalid request body", d.Log)
		return
	}

	c, err := d.Cases.CreateCase(r.Context(), auth.GetActorID(r.Context()), in)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (d Dependencies) updateCase(w http.ResponseWriter, r *http.Request) {
	var fields backend.CaseUpdate
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		WriteError(w, http.StatusBadRequest, backend.CodeInvalid, "Invalid request body", d.Log)
		return
	}

	c, err := d.Cases.UpdateCase(r.Context(), auth.GetActorID(r.Context()), chi.URLParam(r, "id"), fields)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (d Dependencies) deleteCase(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if err := d.Cases.DeleteCase(r.Context(), auth.GetActorID(r.Context()), chi.URLParam(r, "id"), reason); err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d Dependencies) restoreCase(w http.ResponseWriter, r *http.Request) {
	c, err := d.Cases.RestoreCase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (d Dependencies) advanceCase(w http.ResponseWriter, r *http.Request) {
	c, err := d.Cases.AdvanceCase(r.Context(), auth.GetActorID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (d Dependencies) revertCase(w http.ResponseWriter, r *http.Request) {
	c, err := d.Cases.RevertCase(r.Context(), auth.GetActorID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type checklistRequest struct {
	Completed bool `json:"completed"`
}

func (d Dependencies) setChecklistEntry(w http.ResponseWriter, r *http.Request) {
	dept, err := model.ParseDepartmentID(chi.URLParam(r, "dept"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, backend.CodeInvalid, err.Error(), d.Log)
		return
	}
	var req checklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, backend.CodeInvalid, "Invalid request body", d.Log)
		return
	}

	c, err := d.Cases.SetChecklistEntry(r.Context(), auth.GetActorID(r.Context()), chi.URLParam(r, "id"), dept, req.Completed)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (d Dependencies) listTrash(w http.ResponseWriter, r *http.Request) {
	trash, err := d.Cases.ListTrash(r.Context())
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	if trash == nil {
		trash = []model.TrashedCase{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":         trash,
		"retentionDays": int(d.Cases.Retention().Hours() / 24),
	})
}

type commentRequest struct {
	Body     string  `json:"body"`
	ParentID *string `json:"parentId,omitempty"`
}

func (d Dependencies) addComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, backend.CodeInvalid, "Invalid request body", d.Log)
		return
	}

	c, err := d.Cases.AddComment(r.Context(), auth.GetActorID(r.Context()), chi.URLParam(r, "id"), req.Body, req.ParentID)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}
