package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"caseflow/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the row changed since it was read
	ErrConflict = errors.New("version conflict")
)

// Queries wraps database queries
type Queries struct {
	*pgxpool.Pool
}

// NewQueries creates a new Queries instance
func NewQueries(pool *pgxpool.Pool) *Queries {
	return &Queries{Pool: pool}
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

const caseColumns = `id, title, company_id, template_id, status, priority, flow, current_index,
	independent, progress, questions, answers, checklist, labels, history, created_by,
	created_at, finished_at, version`

func scanCase(row pgx.Row) (model.Case, int64, error) {
	var (
		c       model.Case
		version int64
	)
	err := row.Scan(
		&c.ID, &c.Title, &c.CompanyID, &c.TemplateID, &c.Status, &c.Priority, &c.Flow, &c.CurrentIndex,
		&c.Independent, &c.Progress, &c.Questions, &c.Answers, &c.Checklist, &c.Labels, &c.History, &c.CreatedBy,
		&c.CreatedAt, &c.FinishedAt, &version,
	)
	return c, version, err
}

// Case queries
func (q *Queries) InsertCase(ctx context.Context, c model.Case) error {
	_, err := q.Pool.Exec(ctx,
		`INSERT INTO cases (
			id, title, company_id, template_id, status, priority, flow, current_index,
			independent, progress, questions, answers, checklist, labels, history, created_by,
			created_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		c.ID, c.Title, c.CompanyID, c.TemplateID, c.Status, c.Priority, c.Flow, c.CurrentIndex,
		c.Independent, c.Progress, jsonOrEmpty(c.Questions), jsonOrEmpty(c.Answers), jsonOrEmpty(c.Checklist),
		jsonOrEmpty(c.Labels), jsonOrEmpty(c.History), c.CreatedBy,
		c.CreatedAt, c.FinishedAt,
	)
	return err
}

// GetCase returns a live case and its row version
func (q *Queries) GetCase(ctx context.Context, id string) (model.Case, int64, error) {
	c, version, err := scanCase(q.Pool.QueryRow(ctx,
		"SELECT "+caseColumns+" FROM cases WHERE id = $1 AND deleted_at IS NULL",
		id,
	))
	return c, version, notFound(err)
}

// ListCases returns every live case without documents or comments
func (q *Queries) ListCases(ctx context.Context) ([]model.Case, error) {
	rows, err := q.Pool.Query(ctx,
		"SELECT "+caseColumns+" FROM cases WHERE deleted_at IS NULL ORDER BY created_at, id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []model.Case
	for rows.Next() {
		c, _, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// UpdateCase writes c if the row is still at version and returns the new
// version. ErrConflict means someone else wrote first.
func (q *Queries) UpdateCase(ctx context.Context, c model.Case, version int64) (int64, error) {
	var next int64
	err := q.Pool.QueryRow(ctx,
		`UPDATE cases SET
			title = $3, status = $4, priority = $5, current_index = $6, progress = $7,
			answers = $8, checklist = $9, labels = $10, history = $11, finished_at = $12,
			updated_at = NOW(), version = version + 1
		WHERE id = $1 AND version = $2 AND deleted_at IS NULL
		RETURNING version`,
		c.ID, version,
		c.Title, c.Status, c.Priority, c.CurrentIndex, c.Progress,
		jsonOrEmpty(c.Answers), jsonOrEmpty(c.Checklist), jsonOrEmpty(c.Labels), jsonOrEmpty(c.History), c.FinishedAt,
	).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrConflict
	}
	return next, err
}

// SoftDeleteCase moves a case to the trash
func (q *Queries) SoftDeleteCase(ctx context.Context, id, reason string) (time.Time, error) {
	var at time.Time
	err := q.Pool.QueryRow(ctx,
		`UPDATE cases SET deleted_at = NOW(), delete_reason = $2, updated_at = NOW(), version = version + 1
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING deleted_at`,
		id, reason,
	).Scan(&at)
	return at, notFound(err)
}

func (q *Queries) RestoreCase(ctx context.Context, id string) error {
	result, err := q.Pool.Exec(ctx,
		`UPDATE cases SET deleted_at = NULL, delete_reason = '', updated_at = NOW(), version = version + 1
		WHERE id = $1 AND deleted_at IS NOT NULL`,
		id,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *Queries) ListTrash(ctx context.Context) ([]model.TrashedCase, error) {
	rows, err := q.Pool.Query(ctx,
		"SELECT "+caseColumns+", deleted_at, delete_reason FROM cases WHERE deleted_at IS NOT NULL ORDER BY deleted_at DESC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TrashedCase
	for rows.Next() {
		var (
			t       model.TrashedCase
			version int64
		)
		c := &t.Case
		err := rows.Scan(
			&c.ID, &c.Title, &c.CompanyID, &c.TemplateID, &c.Status, &c.Priority, &c.Flow, &c.CurrentIndex,
			&c.Independent, &c.Progress, &c.Questions, &c.Answers, &c.Checklist, &c.Labels, &c.History, &c.CreatedBy,
			&c.CreatedAt, &c.FinishedAt, &version, &t.DeletedAt, &t.Reason,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PurgeCase removes a trashed case deleted before the cutoff. It reports
// false when the case was restored or is too recent.
func (q *Queries) PurgeCase(ctx context.Context, id string, deletedBefore time.Time) (bool, error) {
	result, err := q.Pool.Exec(ctx,
		"DELETE FROM cases WHERE id = $1 AND deleted_at IS NOT NULL AND deleted_at <= $2",
		id, deletedBefore,
	)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// Document queries
func (q *Queries) ListDocuments(ctx context.Context, caseIDs []string) (map[string][]model.Document, error) {
	rows, err := q.Pool.Query(ctx,
		`SELECT id, case_id, department_id, question_id, requirement, name, url, size, mime, uploaded_by, uploaded_at
		FROM documents WHERE case_id = ANY($1) ORDER BY uploaded_at, id`,
		caseIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]model.Document)
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(
			&d.ID, &d.CaseID, &d.DepartmentID, &d.QuestionID, &d.Requirement, &d.Name, &d.URL, &d.Size, &d.MIME,
			&d.UploadedBy, &d.UploadedAt,
		); err != nil {
			return nil, err
		}
		out[d.CaseID] = append(out[d.CaseID], d)
	}
	return out, rows.Err()
}

func (q *Queries) InsertDocument(ctx context.Context, d model.Document) error {
	_, err := q.Pool.Exec(ctx,
		`INSERT INTO documents (id, case_id, department_id, question_id, requirement, name, url, size, mime, uploaded_by, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, NOW()))`,
		d.ID, d.CaseID, int64(d.DepartmentID), d.QuestionID, d.Requirement, d.Name, d.URL, d.Size, d.MIME, d.UploadedBy, d.UploadedAt,
	)
	return err
}

// DeleteDocument removes a document and returns the deleted row
func (q *Queries) DeleteDocument(ctx context.Context, id string) (model.Document, error) {
	var d model.Document
	err := q.Pool.QueryRow(ctx,
		`DELETE FROM documents WHERE id = $1
		RETURNING id, case_id, department_id, question_id, requirement, name, url, size, mime, uploaded_by, uploaded_at`,
		id,
	).Scan(
		&d.ID, &d.CaseID, &d.DepartmentID, &d.QuestionID, &d.Requirement, &d.Name, &d.URL, &d.Size, &d.MIME,
		&d.UploadedBy, &d.UploadedAt,
	)
	return d, notFound(err)
}

// Comment queries
func (q *Queries) ListComments(ctx context.Context, caseIDs []string) (map[string][]model.Comment, error) {
	rows, err := q.Pool.Query(ctx,
		"SELECT id, case_id, parent_id, author_id, body, created_at FROM comments WHERE case_id = ANY($1) ORDER BY created_at, id",
		caseIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]model.Comment)
	for rows.Next() {
		var c model.Comment
		if err := rows.Scan(&c.ID, &c.CaseID, &c.ParentID, &c.AuthorID, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		out[c.CaseID] = append(out[c.CaseID], c)
	}
	return out, rows.Err()
}

func (q *Queries) InsertComment(ctx context.Context, c model.Comment) error {
	_, err := q.Pool.Exec(ctx,
		"INSERT INTO comments (id, case_id, parent_id, author_id, body, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		c.ID, c.CaseID, c.ParentID, c.AuthorID, c.Body, c.CreatedAt,
	)
	return err
}

// Reference data queries
func (q *Queries) ListDepartments(ctx context.Context) ([]model.Department, error) {
	rows, err := q.Pool.Query(ctx,
		"SELECT id, name, position, required_documents, color FROM departments ORDER BY position, id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Department
	for rows.Next() {
		var d model.Department
		if err := rows.Scan(&d.ID, &d.Name, &d.Position, &d.RequiredDocuments, &d.Color); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (q *Queries) ListLabels(ctx context.Context) ([]model.Label, error) {
	rows, err := q.Pool.Query(ctx, "SELECT id, name, color FROM labels ORDER BY name")
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Label, error) {
		var l model.Label
		err := row.Scan(&l.ID, &l.Name, &l.Color)
		return l, err
	})
}

func (q *Queries) ListTemplates(ctx context.Context) ([]model.Template, error) {
	rows, err := q.Pool.Query(ctx, "SELECT id, name, flow, independent, questions FROM templates ORDER BY name")
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Template, error) {
		var t model.Template
		err := row.Scan(&t.ID, &t.Name, &t.Flow, &t.Independent, &t.Questions)
		return t, err
	})
}

func (q *Queries) GetTemplate(ctx context.Context, id string) (model.Template, error) {
	var t model.Template
	err := q.Pool.QueryRow(ctx,
		"SELECT id, name, flow, independent, questions FROM templates WHERE id = $1",
		id,
	).Scan(&t.ID, &t.Name, &t.Flow, &t.Independent, &t.Questions)
	return t, notFound(err)
}

func (q *Queries) ListCompanies(ctx context.Context) ([]model.Company, error) {
	rows, err := q.Pool.Query(ctx, "SELECT id, name FROM companies ORDER BY name")
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Company, error) {
		var c model.Company
		err := row.Scan(&c.ID, &c.Name)
		return c, err
	})
}

// Notification queries
func (q *Queries) ListNotifications(ctx context.Context, actorID string, limit int) ([]model.Notification, error) {
	rows, err := q.Pool.Query(ctx,
		`SELECT id, actor_id, kind, text, case_id, read, created_at
		FROM notifications WHERE actor_id = $1 ORDER BY created_at DESC LIMIT $2`,
		actorID, limit,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Notification, error) {
		var n model.Notification
		err := row.Scan(&n.ID, &n.ActorID, &n.Kind, &n.Text, &n.CaseID, &n.Read, &n.CreatedAt)
		return n, err
	})
}

func (q *Queries) InsertNotification(ctx context.Context, n model.Notification) error {
	_, err := q.Pool.Exec(ctx,
		"INSERT INTO notifications (id, actor_id, kind, text, case_id, read, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		n.ID, n.ActorID, n.Kind, n.Text, n.CaseID, n.Read, n.CreatedAt,
	)
	return err
}

func (q *Queries) MarkNotificationRead(ctx context.Context, id, actorID string) error {
	result, err := q.Pool.Exec(ctx,
		"UPDATE notifications SET read = TRUE WHERE id = $1 AND actor_id = $2",
		id, actorID,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

// jsonOrEmpty keeps NOT NULL jsonb columns from receiving SQL NULL for nil
// maps and slices
func jsonOrEmpty(v any) any {
	switch x := v.(type) {
	case map[model.DepartmentID][]model.Question:
		if x == nil {
			return map[string]any{}
		}
	case map[model.DepartmentID]map[string]any:
		if x == nil {
			return map[string]any{}
		}
	case map[model.DepartmentID]model.ChecklistEntry:
		if x == nil {
			return map[string]any{}
		}
	case []string:
		if x == nil {
			return []string{}
		}
	case []model.Transition:
		if x == nil {
			return []model.Transition{}
		}
	}
	return v
}
