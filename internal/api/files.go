package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"

	"caseflow/internal/auth"
	"caseflow/internal/backend"
	"caseflow/internal/model"
	"caseflow/internal/storage"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxMemory = 8 << 20

func (d Dependencies) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		WriteError(w, http.StatusBadRequest, backend.CodeInvalid, "Invalid multipart form", d.Log)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, backend.CodeInvalid, "file field required", d.Log)
		return
	}
	defer file.Close()

	dept, err := model.ParseDepartmentID(r.FormValue("departmentId"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, backend.CodeInvalid, err.Error(), d.Log)
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	doc, err := d.Cases.UploadDocument(r.Context(), auth.GetActorID(r.Context()), chi.URLParam(r, "id"), backend.Upload{
		DepartmentID: dept,
		QuestionID:   r.FormValue("questionId"),
		Requirement:  r.FormValue("requirement"),
		Name:         header.Filename,
		MIME:         contentType,
		Size:         header.Size,
		Body:         file,
	})
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (d Dependencies) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := d.Cases.DeleteDocument(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d Dependencies) serveFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	if d.Files == nil || name == "" {
		WriteError(w, http.StatusNotFound, backend.CodeNotFound, "File not found", d.Log)
		return
	}

	rc, err := d.Files.Get(r.Context(), name)
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, storage.ErrInvalidName) {
		WriteError(w, http.StatusNotFound, backend.CodeNotFound, "File not found", d.Log)
		return
	}
	if err != nil {
		d.Log.Error("Failed to open file", zap.String("name", name), zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "storage_error", "Failed to read file", d.Log)
		return
	}
	defer rc.Close()

	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("Content-Disposition", `inline; filename="`+strings.ReplaceAll(path.Base(name), `"`, "")+`"`)
	if _, err := io.Copy(w, rc); err != nil {
		d.Log.Debug("File copy interrupted", zap.String("name", name), zap.Error(err))
	}
}
