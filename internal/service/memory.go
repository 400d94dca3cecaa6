package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"caseflow/internal/db"
	"caseflow/internal/model"
)

// MemoryRepository is a process-local Repository with the same optimistic
// versioning as the Postgres queries. It backs `serve --memory` and tests.
type MemoryRepository struct {
	mu            sync.Mutex
	cases         map[string]model.Case
	versions      map[string]int64
	deleted       map[string]model.TrashedCase
	docs          []model.Document
	comments      []model.Comment
	departments   []model.Department
	labels        []model.Label
	templates     map[string]model.Template
	companies     []model.Company
	notifications []model.Notification
	now           func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		cases:     make(map[string]model.Case),
		versions:  make(map[string]int64),
		deleted:   make(map[string]model.TrashedCase),
		templates: make(map[string]model.Template),
		now:       time.Now,
	}
}

// SetDepartments replaces the department listing
func (r *MemoryRepository) SetDepartments(depts ...model.Department) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.departments = append([]model.Department(nil), depts...)
}

// Seed loads reference data
func (r *MemoryRepository) Seed(labels []model.Label, templates []model.Template, companies []model.Company) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labels = append(r.labels, labels...)
	for _, t := range templates {
		r.templates[t.ID] = t
	}
	r.companies = append(r.companies, companies...)
}

func (r *MemoryRepository) InsertCase(ctx context.Context, c model.Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.Documents = nil
	c.Comments = nil
	c.AttachmentCounts = nil
	r.cases[c.ID] = c.Clone()
	r.versions[c.ID] = 1
	return nil
}

func (r *MemoryRepository) GetCase(ctx context.Context, id string) (model.Case, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return model.Case{}, 0, db.ErrNotFound
	}
	return c.Clone(), r.versions[id], nil
}

func (r *MemoryRepository) ListCases(ctx context.Context) ([]model.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Case, 0, len(r.cases))
	for _, c := range r.cases {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepository) UpdateCase(ctx context.Context, c model.Case, version int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cases[c.ID]; !ok || r.versions[c.ID] != version {
		return 0, db.ErrConflict
	}
	c.Documents = nil
	c.Comments = nil
	c.AttachmentCounts = nil
	r.cases[c.ID] = c.Clone()
	r.versions[c.ID]++
	return r.versions[c.ID], nil
}

func (r *MemoryRepository) SoftDeleteCase(ctx context.Context, id, reason string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return time.Time{}, db.ErrNotFound
	}
	at := r.now().UTC()
	delete(r.cases, id)
	r.deleted[id] = model.TrashedCase{Case: c, DeletedAt: at, Reason: reason}
	return at, nil
}

func (r *MemoryRepository) RestoreCase(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.deleted[id]
	if !ok {
		return db.ErrNotFound
	}
	delete(r.deleted, id)
	r.cases[id] = t.Case
	r.versions[id]++
	return nil
}

func (r *MemoryRepository) ListTrash(ctx context.Context) ([]model.TrashedCase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.TrashedCase, 0, len(r.deleted))
	for _, t := range r.deleted {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeletedAt.After(out[j].DeletedAt) })
	return out, nil
}

// PurgeCase drops a trashed case deleted before the cutoff
func (r *MemoryRepository) PurgeCase(ctx context.Context, id string, deletedBefore time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.deleted[id]
	if !ok || !t.DeletedAt.Before(deletedBefore) {
		return false, nil
	}
	delete(r.deleted, id)
	delete(r.versions, id)
	return true, nil
}

func (r *MemoryRepository) ListDocuments(ctx context.Context, caseIDs []string) (map[string][]model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[string]bool, len(caseIDs))
	for _, id := range caseIDs {
		want[id] = true
	}
	out := make(map[string][]model.Document)
	for _, d := range r.docs {
		if want[d.CaseID] {
			out[d.CaseID] = append(out[d.CaseID], d)
		}
	}
	return out, nil
}

func (r *MemoryRepository) InsertDocument(ctx context.Context, d model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, d)
	return nil
}

func (r *MemoryRepository) DeleteDocument(ctx context.Context, id string) (model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, d := range r.docs {
		if d.ID == id {
			r.docs = append(r.docs[:i], r.docs[i+1:]...)
			return d, nil
		}
	}
	return model.Document{}, db.ErrNotFound
}

func (r *MemoryRepository) ListComments(ctx context.Context, caseIDs []string) (map[string][]model.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[string]bool, len(caseIDs))
	for _, id := range caseIDs {
		want[id] = true
	}
	out := make(map[string][]model.Comment)
	for _, c := range r.comments {
		if want[c.CaseID] {
			out[c.CaseID] = append(out[c.CaseID], c)
		}
	}
	return out, nil
}

func (r *MemoryRepository) InsertComment(ctx context.Context, c model.Comment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.comments = append(r.comments, c)
	return nil
}

func (r *MemoryRepository) ListDepartments(ctx context.Context) ([]model.Department, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Department(nil), r.departments...), nil
}

func (r *MemoryRepository) ListLabels(ctx context.Context) ([]model.Label, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Label(nil), r.labels...), nil
}

func (r *MemoryRepository) ListTemplates(ctx context.Context) ([]model.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRepository) GetTemplate(ctx context.Context, id string) (model.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok {
		return model.Template{}, db.ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepository) ListCompanies(ctx context.Context) ([]model.Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Company(nil), r.companies...), nil
}

func (r *MemoryRepository) ListNotifications(ctx context.Context, actorID string, limit int) ([]model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Notification
	for i := len(r.notifications) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if n := r.notifications[i]; n.ActorID == actorID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *MemoryRepository) InsertNotification(ctx context.Context, n model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
	return nil
}

func (r *MemoryRepository) MarkNotificationRead(ctx context.Context, id, actorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.notifications {
		if n.ID == id && n.ActorID == actorID {
			r.notifications[i].Read = true
			return nil
		}
	}
	return db.ErrNotFound
}
