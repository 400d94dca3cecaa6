package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"caseflow/internal/backend"
	"caseflow/internal/db"
	"caseflow/internal/model"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const notificationLimit = 100

// objectName keeps uploads of one case together; the ulid keeps names unique
func objectName(caseID, docID, fileName string) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if base == "." || base == "/" {
		base = "file"
	}
	return path.Join(caseID, docID+"-"+base)
}

// UploadDocument stores a file and attaches it to a department of the case
func (s *CaseService) UploadDocument(ctx context.Context, actorID, caseID string, up backend.Upload) (model.Document, error) {
	if s.files == nil {
		return model.Document{}, errors.New("attachment storage not configured")
	}
	c, _, err := s.load(ctx, caseID)
	if err != nil {
		return model.Document{}, err
	}
	if c.FlowIndex(up.DepartmentID) < 0 {
		return model.Document{}, rejected(backend.CodeInvalid, "Department %s is not part of this case", up.DepartmentID)
	}
	if err := s.policy.ValidateFile(up.Name, up.MIME, up.Size); err != nil {
		return model.Document{}, rejected(backend.CodeInvalid, "%s", err.Error())
	}

	body := up.Body
	if max := s.policy.MaxBytes(); max > 0 {
		body = io.LimitReader(body, max+1)
	}
	now := s.now().UTC()
	doc := model.Document{
		ID:           ulid.Make().String(),
		CaseID:       caseID,
		DepartmentID: up.DepartmentID,
		QuestionID:   up.QuestionID,
		Requirement:  up.Requirement,
		Name:         up.Name,
		MIME:         up.MIME,
		UploadedBy:   actorID,
		UploadedAt:   &now,
	}
	name := objectName(caseID, doc.ID, up.Name)
	n, err := s.files.Put(ctx, name, body)
	if err != nil {
		return model.Document{}, fmt.Errorf("failed to store file: %w", err)
	}
	if max := s.policy.MaxBytes(); max > 0 && n > max {
		_ = s.files.Delete(ctx, name)
		return model.Document{}, rejected(backend.CodeInvalid, "File %s exceeds the upload limit", up.Name)
	}
	doc.Size = n
	doc.URL = s.files.URL(name)

	if err := s.repo.InsertDocument(ctx, doc); err != nil {
		_ = s.files.Delete(ctx, name)
		return model.Document{}, fmt.Errorf("failed to save document: %w", err)
	}

	s.publish(ctx, "documents", backend.EventInsert, doc, "")
	s.log.Info("Document uploaded",
		zap.String("case_id", caseID),
		zap.String("document_id", doc.ID),
		zap.Int64("size", n),
	)
	return doc, nil
}

// DeleteDocument removes a document row and its stored file
func (s *CaseService) DeleteDocument(ctx context.Context, id string) error {
	doc, err := s.repo.DeleteDocument(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return rejected(backend.CodeNotFound, "Document %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if s.files != nil {
		if err := s.files.Delete(ctx, objectName(doc.CaseID, doc.ID, doc.Name)); err != nil {
			s.log.Warn("Failed to delete stored file", zap.String("document_id", id), zap.Error(err))
		}
	}
	s.publish(ctx, "documents", backend.EventDelete, map[string]string{"id": id, "caseId": doc.CaseID}, "")
	return nil
}

// AddComment posts a comment and notifies the case creator
func (s *CaseService) AddComment(ctx context.Context, actorID, caseID, body string, parentID *string) (model.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return model.Comment{}, rejected(backend.CodeInvalid, "Comment cannot be empty")
	}
	c, _, err := s.load(ctx, caseID)
	if err != nil {
		return model.Comment{}, err
	}
	comment := model.Comment{
		ID:        ulid.Make().String(),
		CaseID:    caseID,
		ParentID:  parentID,
		AuthorID:  actorID,
		Body:      body,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.InsertComment(ctx, comment); err != nil {
		return model.Comment{}, fmt.Errorf("failed to save comment: %w", err)
	}
	s.publish(ctx, "comments", backend.EventInsert, comment, "")

	if c.CreatedBy != "" && c.CreatedBy != actorID {
		s.notify(ctx, c.CreatedBy, "comment.added", fmt.Sprintf("New comment on %s", c.Title), caseID)
	}
	return comment, nil
}

func (s *CaseService) notify(ctx context.Context, actorID, kind, text, caseID string) {
	n := model.Notification{
		ID:        ulid.Make().String(),
		ActorID:   actorID,
		Kind:      kind,
		Text:      text,
		CaseID:    caseID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.InsertNotification(ctx, n); err != nil {
		s.log.Warn("Failed to save notification", zap.String("actor_id", actorID), zap.Error(err))
		return
	}
	s.publish(ctx, "notifications", backend.EventInsert, n, actorID)
}

// ListNotifications returns the actor's most recent inbox items
func (s *CaseService) ListNotifications(ctx context.Context, actorID string) ([]model.Notification, error) {
	items, err := s.repo.ListNotifications(ctx, actorID, notificationLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return items, nil
}

func (s *CaseService) MarkNotificationRead(ctx context.Context, actorID, id string) error {
	err := s.repo.MarkNotificationRead(ctx, id, actorID)
	if errors.Is(err, db.ErrNotFound) {
		return rejected(backend.CodeNotFound, "Notification %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	s.publish(ctx, "notifications", backend.EventUpdate, map[string]interface{}{"id": id, "read": true}, actorID)
	return nil
}
