// Package backend defines the collaborator interfaces the client core
// consumes, and an HTTP + WebSocket client implementing them.
package backend

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"caseflow/internal/model"
)

// Error is a structured rejection returned by the backend. Its message is
// surfaced to users verbatim.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// Common rejection codes
const (
	CodeConflict     = "conflict"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeRequirements = "requirements_unmet"
	CodeInvalid      = "invalid_request"
)

// CreateCaseInput describes a new case
type CreateCaseInput struct {
	Title       string                                  `json:"title"`
	CompanyID   string                                  `json:"companyId,omitempty"`
	TemplateID  string                                  `json:"templateId,omitempty"`
	Priority    model.Priority                          `json:"priority"`
	Flow        []model.DepartmentID                    `json:"flow"`
	Independent bool                                    `json:"independent"`
	Questions   map[model.DepartmentID][]model.Question `json:"questions,omitempty"`
	Labels      []string                                `json:"labels,omitempty"`
}

// CaseUpdate carries the fields of a partial update; nil fields are untouched
type CaseUpdate struct {
	Title      *string                               `json:"title,omitempty"`
	Status     *model.CaseStatus                     `json:"status,omitempty"`
	Priority   *model.Priority                       `json:"priority,omitempty"`
	Progress   *int                                  `json:"progress,omitempty"`
	FinishedAt *time.Time                            `json:"finishedAt,omitempty"`
	Answers    map[model.DepartmentID]map[string]any `json:"answers,omitempty"`
	Labels     *[]string                             `json:"labels,omitempty"`
}

// Mutations is the backend mutation interface
type Mutations interface {
	CreateCase(ctx context.Context, in CreateCaseInput) (model.Case, error)
	UpdateCase(ctx context.Context, id string, fields CaseUpdate) (model.Case, error)
	DeleteCase(ctx context.Context, id, reason string) error
	RestoreCase(ctx context.Context, id string) (model.Case, error)
	AdvanceCase(ctx context.Context, id string) (model.Case, error)
	RevertCase(ctx context.Context, id string) (model.Case, error)
	SetChecklistEntry(ctx context.Context, caseID string, dept model.DepartmentID, completed bool) (model.Case, error)
}

// Queries is the backend query interface; every call returns a full snapshot
type Queries interface {
	ListCases(ctx context.Context) ([]model.Case, error)
	GetCase(ctx context.Context, id string) (model.Case, error)
	ListDepartments(ctx context.Context) ([]model.Department, error)
	ListLabels(ctx context.Context) ([]model.Label, error)
	ListTemplates(ctx context.Context) ([]model.Template, error)
	ListCompanies(ctx context.Context) ([]model.Company, error)
	ListNotifications(ctx context.Context, actorID string) ([]model.Notification, error)
}

// Upload describes a file to attach to a case
type Upload struct {
	DepartmentID model.DepartmentID
	QuestionID   string
	Requirement  string
	Name         string
	MIME         string
	Size         int64
	Body         io.Reader
}

// Attachments is the blob store for case documents
type Attachments interface {
	Upload(ctx context.Context, caseID string, up Upload) (model.Document, error)
	Delete(ctx context.Context, documentID string) error
}

// Session supplies the current actor
type Session interface {
	Actor() model.Actor
}

// StaticSession is a Session with a fixed actor
type StaticSession model.Actor

func (s StaticSession) Actor() model.Actor { return model.Actor(s) }

// EventType is the kind of row change carried by a push event
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Event is one row change pushed by the backend
type Event struct {
	Table string          `json:"table"`
	Type  EventType       `json:"eventType"`
	Row   json.RawMessage `json:"row,omitempty"`
}

// RowID extracts the "id" column of the row, if any
func (e Event) RowID() string {
	var row struct {
		ID json.RawMessage `json:"id"`
	}
	if len(e.Row) == 0 || json.Unmarshal(e.Row, &row) != nil || len(row.ID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(row.ID, &s); err == nil {
		return s
	}
	return string(row.ID)
}

// ChannelStatus reports the health of a push stream
type ChannelStatus string

const (
	StatusSubscribed   ChannelStatus = "subscribed"
	StatusChannelError ChannelStatus = "channel_error"
	StatusTimedOut     ChannelStatus = "timed_out"
	StatusClosed       ChannelStatus = "closed"
)

// Topic selects the tables a stream follows. Filter narrows rows, e.g. to
// one actor's notifications.
type Topic struct {
	Tables []string
	Filter string
}

// Channels returns the push channel names for the topic
func (t Topic) Channels() []string {
	out := make([]string, len(t.Tables))
	for i, table := range t.Tables {
		out[i] = ChannelName(table, t.Filter)
	}
	return out
}

// ChannelName joins a table and optional filter the way the hub names channels
func ChannelName(table, filter string) string {
	if filter == "" {
		return table
	}
	return table + ":" + filter
}

// Stream is an open push subscription
type Stream interface {
	Events() <-chan Event
	Status() <-chan ChannelStatus
	Close() error
}

// Subscriber opens push subscriptions
type Subscriber interface {
	Subscribe(ctx context.Context, topic Topic) (Stream, error)
}
