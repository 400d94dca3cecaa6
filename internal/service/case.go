package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"caseflow/internal/backend"
	"caseflow/internal/db"
	"caseflow/internal/model"
	"caseflow/internal/schema"
	"caseflow/internal/storage"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// DefaultRetention is how long a trashed case can be restored
const DefaultRetention = 15 * 24 * time.Hour

// Repository is the persistence the case service needs
type Repository interface {
	InsertCase(ctx context.Context, c model.Case) error
	GetCase(ctx context.Context, id string) (model.Case, int64, error)
	ListCases(ctx context.Context) ([]model.Case, error)
	UpdateCase(ctx context.Context, c model.Case, version int64) (int64, error)
	SoftDeleteCase(ctx context.Context, id, reason string) (time.Time, error)
	RestoreCase(ctx context.Context, id string) error
	ListTrash(ctx context.Context) ([]model.TrashedCase, error)

	ListDocuments(ctx context.Context, caseIDs []string) (map[string][]model.Document, error)
	InsertDocument(ctx context.Context, d model.Document) error
	DeleteDocument(ctx context.Context, id string) (model.Document, error)
	ListComments(ctx context.Context, caseIDs []string) (map[string][]model.Comment, error)
	InsertComment(ctx context.Context, c model.Comment) error

	ListDepartments(ctx context.Context) ([]model.Department, error)
	GetTemplate(ctx context.Context, id string) (model.Template, error)
	ListNotifications(ctx context.Context, actorID string, limit int) ([]model.Notification, error)
	InsertNotification(ctx context.Context, n model.Notification) error
	MarkNotificationRead(ctx context.Context, id, actorID string) error
}

// EventBus publishes row changes to push subscribers
type EventBus interface {
	PublishChange(ctx context.Context, table string, eventType backend.EventType, row interface{}, filter string) error
}

// CaseService is the authoritative side of every case mutation. It re-runs
// the department gate before any transition it accepts.
type CaseService struct {
	repo      Repository
	answers   *schema.Compiler
	bus       EventBus
	jobClient JobClient
	files     storage.Storage
	policy    *storage.FilePolicy
	retention time.Duration
	log       *zap.Logger
	now       func() time.Time
}

func NewCaseService(repo Repository, answers *schema.Compiler, bus EventBus, log *zap.Logger) *CaseService {
	return &CaseService{
		repo:      repo,
		answers:   answers,
		bus:       bus,
		retention: DefaultRetention,
		log:       log,
		now:       time.Now,
	}
}

// SetJobClient sets the job client for scheduling trash purges
func (s *CaseService) SetJobClient(client JobClient) {
	s.jobClient = client
}

// SetStorage sets the attachment store and its upload policy
func (s *CaseService) SetStorage(files storage.Storage, policy *storage.FilePolicy) {
	s.files = files
	s.policy = policy
}

// SetRetention overrides how long deleted cases stay restorable
func (s *CaseService) SetRetention(d time.Duration) {
	if d > 0 {
		s.retention = d
	}
}

func rejected(code, format string, args ...interface{}) *backend.Error {
	return &backend.Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// load fetches a live case with its documents and comments
func (s *CaseService) load(ctx context.Context, id string) (model.Case, int64, error) {
	c, version, err := s.repo.GetCase(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return model.Case{}, 0, rejected(backend.CodeNotFound, "Case %s not found", id)
	}
	if err != nil {
		return model.Case{}, 0, fmt.Errorf("failed to get case: %w", err)
	}
	cases := []model.Case{c}
	if err := s.attachDetail(ctx, cases); err != nil {
		return model.Case{}, 0, err
	}
	return cases[0], version, nil
}

func (s *CaseService) attachDetail(ctx context.Context, cases []model.Case) error {
	if len(cases) == 0 {
		return nil
	}
	ids := make([]string, len(cases))
	for i, c := range cases {
		ids[i] = c.ID
	}
	docs, err := s.repo.ListDocuments(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	comments, err := s.repo.ListComments(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to list comments: %w", err)
	}
	for i := range cases {
		cases[i].Documents = docs[cases[i].ID]
		cases[i].Comments = comments[cases[i].ID]
		cases[i].AttachmentCounts = countAttachments(cases[i].Documents)
	}
	return nil
}

func countAttachments(docs []model.Document) map[model.DepartmentID]model.AttachmentCount {
	if len(docs) == 0 {
		return nil
	}
	out := make(map[model.DepartmentID]model.AttachmentCount)
	for _, d := range docs {
		ac := out[d.DepartmentID]
		ac.Total++
		if d.QuestionID != "" {
			if ac.ByQuestion == nil {
				ac.ByQuestion = make(map[string]int)
			}
			ac.ByQuestion[d.QuestionID]++
		}
		if d.Requirement != "" {
			if ac.ByRequirement == nil {
				ac.ByRequirement = make(map[string]int)
			}
			ac.ByRequirement[d.Requirement]++
		}
		out[d.DepartmentID] = ac
	}
	return out
}

// save writes c at version, translating a lost race into a rejection
func (s *CaseService) save(ctx context.Context, c model.Case, version int64) error {
	_, err := s.repo.UpdateCase(ctx, c, version)
	if errors.Is(err, db.ErrConflict) {
		return rejected(backend.CodeConflict, "Case was modified by someone else, reload and try again")
	}
	if err != nil {
		return fmt.Errorf("failed to update case: %w", err)
	}
	return nil
}

func (s *CaseService) publish(ctx context.Context, table string, eventType backend.EventType, row interface{}, filter string) {
	if s.bus == nil {
		return
	}
	if err := s.bus.PublishChange(ctx, table, eventType, row, filter); err != nil {
		s.log.Warn("Failed to publish change", zap.String("table", table), zap.Error(err))
	}
}

// ListCases returns every live case with its detail
func (s *CaseService) ListCases(ctx context.Context) ([]model.Case, error) {
	cases, err := s.repo.ListCases(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	if err := s.attachDetail(ctx, cases); err != nil {
		return nil, err
	}
	return cases, nil
}

func (s *CaseService) GetCase(ctx context.Context, id string) (model.Case, error) {
	c, _, err := s.load(ctx, id)
	return c, err
}

// CreateCase starts a case in its first department. A template fills in the
// flow and questionnaire when the input leaves them empty.
func (s *CaseService) CreateCase(ctx context.Context, actorID string, in backend.CreateCaseInput) (model.Case, error) {
	if in.TemplateID != "" && len(in.Flow) == 0 {
		tpl, err := s.repo.GetTemplate(ctx, in.TemplateID)
		if errors.Is(err, db.ErrNotFound) {
			return model.Case{}, rejected(backend.CodeInvalid, "Template %s not found", in.TemplateID)
		}
		if err != nil {
			return model.Case{}, fmt.Errorf("failed to get template: %w", err)
		}
		in.Flow = tpl.Flow
		in.Independent = tpl.Independent
		if in.Questions == nil {
			in.Questions = tpl.Questions
		}
	}
	if len(in.Flow) == 0 {
		return model.Case{}, rejected(backend.CodeInvalid, "A case needs at least one department")
	}
	seen := make(map[model.DepartmentID]bool, len(in.Flow))
	for _, d := range in.Flow {
		if seen[d] {
			return model.Case{}, rejected(backend.CodeInvalid, "Department %s appears twice in the flow", d)
		}
		seen[d] = true
	}
	if in.Priority == "" {
		in.Priority = model.PriorityMedium
	}

	c := model.Case{
		ID:          ulid.Make().String(),
		Title:       in.Title,
		CompanyID:   in.CompanyID,
		TemplateID:  in.TemplateID,
		Status:      model.StatusInProgress,
		Priority:    in.Priority,
		Flow:        in.Flow,
		Independent: in.Independent,
		Questions:   in.Questions,
		Labels:      in.Labels,
		CreatedBy:   actorID,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.InsertCase(ctx, c); err != nil {
		return model.Case{}, fmt.Errorf("failed to create case: %w", err)
	}

	s.publish(ctx, "cases", backend.EventInsert, c, "")
	s.log.Info("Case created", zap.String("case_id", c.ID), zap.String("actor_id", actorID))
	return c, nil
}

// UpdateCase applies a partial update. Answers are format checked and
// merged per department. A status change to finished is gated like an
// explicit finalize.
func (s *CaseService) UpdateCase(ctx context.Context, actorID, id string, f backend.CaseUpdate) (model.Case, error) {
	c, version, err := s.load(ctx, id)
	if err != nil {
		return model.Case{}, err
	}
	since := len(c.History)
	if c.Status.Terminal() && (f.Answers != nil || f.Status != nil) {
		return model.Case{}, rejected(backend.CodeConflict, "Case is %s", c.Status)
	}

	if f.Title != nil {
		c.Title = *f.Title
	}
	if f.Priority != nil {
		c.Priority = *f.Priority
	}
	if f.Labels != nil {
		c.Labels = *f.Labels
	}
	for dept, answers := range f.Answers {
		if c.FlowIndex(dept) < 0 {
			return model.Case{}, rejected(backend.CodeInvalid, "Department %s is not part of this case", dept)
		}
		if err := s.answers.ValidateAnswers(ctx, dept, c.Questions[dept], answers); err != nil {
			return model.Case{}, rejected(backend.CodeInvalid, "%s", err.Error())
		}
		if c.Answers == nil {
			c.Answers = make(map[model.DepartmentID]map[string]any)
		}
		merged := make(map[string]any, len(c.Answers[dept])+len(answers))
		for k, v := range c.Answers[dept] {
			merged[k] = v
		}
		for k, v := range answers {
			merged[k] = v
		}
		c.Answers[dept] = merged
	}
	if f.Status != nil && *f.Status != c.Status {
		if err := s.changeStatus(ctx, actorID, &c, *f.Status); err != nil {
			return model.Case{}, err
		}
	}

	if err := s.save(ctx, c, version); err != nil {
		return model.Case{}, err
	}
	s.publish(ctx, "cases", backend.EventUpdate, c, "")
	s.publishHistory(ctx, c, since)
	return c, nil
}

func (s *CaseService) changeStatus(ctx context.Context, actorID string, c *model.Case, to model.CaseStatus) error {
	switch to {
	case model.StatusFinished:
		return s.finish(ctx, actorID, c)
	case model.StatusPaused:
		if c.Status != model.StatusInProgress {
			return rejected(backend.CodeConflict, "Only cases in progress can be paused")
		}
	case model.StatusInProgress:
		if c.Status != model.StatusPaused && c.Status != model.StatusDraft {
			return rejected(backend.CodeConflict, "Case cannot resume from %s", c.Status)
		}
	case model.StatusCancelled:
	default:
		return rejected(backend.CodeInvalid, "Unknown status %q", to)
	}
	c.Status = to
	return nil
}

// DeleteCase moves a case to the trash and schedules its purge
func (s *CaseService) DeleteCase(ctx context.Context, actorID, id, reason string) error {
	deletedAt, err := s.repo.SoftDeleteCase(ctx, id, reason)
	if errors.Is(err, db.ErrNotFound) {
		return rejected(backend.CodeNotFound, "Case %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to delete case: %w", err)
	}

	if s.jobClient != nil {
		if err := s.jobClient.SchedulePurge(id, deletedAt.Add(s.retention)); err != nil {
			s.log.Warn("Failed to schedule purge", zap.String("case_id", id), zap.Error(err))
		}
	}
	s.publish(ctx, "cases", backend.EventDelete, map[string]string{"id": id}, "")
	s.log.Info("Case moved to trash",
		zap.String("case_id", id),
		zap.String("actor_id", actorID),
		zap.String("reason", reason),
	)
	return nil
}

// RestoreCase brings a trashed case back
func (s *CaseService) RestoreCase(ctx context.Context, id string) (model.Case, error) {
	err := s.repo.RestoreCase(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return model.Case{}, rejected(backend.CodeNotFound, "Case %s is not in the trash", id)
	}
	if err != nil {
		return model.Case{}, fmt.Errorf("failed to restore case: %w", err)
	}
	c, _, err := s.load(ctx, id)
	if err != nil {
		return model.Case{}, err
	}
	s.publish(ctx, "cases", backend.EventInsert, c, "")
	return c, nil
}

// ListTrash returns trashed cases still inside the retention window
func (s *CaseService) ListTrash(ctx context.Context) ([]model.TrashedCase, error) {
	trash, err := s.repo.ListTrash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list trash: %w", err)
	}
	return trash, nil
}

// Retention reports the trash retention window
func (s *CaseService) Retention() time.Duration {
	return s.retention
}
