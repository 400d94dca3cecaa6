package model

import (
	"time"
)

// CaseStatus represents case lifecycle status
type CaseStatus string

const (
	StatusDraft      CaseStatus = "draft"
	StatusInProgress CaseStatus = "in_progress"
	StatusFinished   CaseStatus = "finished"
	StatusPaused     CaseStatus = "paused"
	StatusCancelled  CaseStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed
func (s CaseStatus) Terminal() bool {
	return s == StatusFinished || s == StatusCancelled
}

// Priority represents case priority
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// RecordState tags local-only records that the backend has not confirmed yet
type RecordState string

const (
	RecordConfirmed RecordState = ""
	RecordPending   RecordState = "pending"
)

// Document is an attachment owned by one department of a case
type Document struct {
	ID           string       `json:"id"`
	CaseID       string       `json:"caseId"`
	DepartmentID DepartmentID `json:"departmentId"`
	QuestionID   string       `json:"questionId,omitempty"`
	Requirement  string       `json:"requirement,omitempty"`
	Name         string       `json:"name"`
	URL          string       `json:"url,omitempty"`
	Size         int64        `json:"size"`
	MIME         string       `json:"mime,omitempty"`
	UploadedBy   string       `json:"uploadedBy,omitempty"`
	UploadedAt   *time.Time   `json:"uploadedAt,omitempty"`
	State        RecordState  `json:"state,omitempty"`
}

// AttachmentCount is the server-side count of attachments in a department,
// including those hidden from the current viewer
type AttachmentCount struct {
	Total         int            `json:"total"`
	ByQuestion    map[string]int `json:"byQuestion,omitempty"`
	ByRequirement map[string]int `json:"byRequirement,omitempty"`
}

// ChecklistEntry tracks completion of one department in independent mode
type ChecklistEntry struct {
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// TransitionKind names a flow transition
type TransitionKind string

const (
	TransitionAdvance  TransitionKind = "advance"
	TransitionRevert   TransitionKind = "revert"
	TransitionComplete TransitionKind = "complete"
	TransitionFinish   TransitionKind = "finish"
)

// Transition is one entry in a case's flow history
type Transition struct {
	Kind    TransitionKind `json:"kind"`
	From    DepartmentID   `json:"from,omitempty"`
	To      DepartmentID   `json:"to,omitempty"`
	ActorID string         `json:"actorId,omitempty"`
	At      time.Time      `json:"at"`
}

// Comment belongs to a case; ParentID produces two-level threads
type Comment struct {
	ID        string    `json:"id"`
	CaseID    string    `json:"caseId"`
	ParentID  *string   `json:"parentId,omitempty"`
	AuthorID  string    `json:"authorId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Case is a unit of work moving through departments
type Case struct {
	ID               string                           `json:"id"`
	Title            string                           `json:"title"`
	CompanyID        string                           `json:"companyId,omitempty"`
	TemplateID       string                           `json:"templateId,omitempty"`
	Status           CaseStatus                       `json:"status"`
	Priority         Priority                         `json:"priority"`
	Flow             []DepartmentID                   `json:"flow"`
	CurrentIndex     int                              `json:"currentIndex"`
	Independent      bool                             `json:"independent"`
	Progress         int                              `json:"progress"`
	Questions        map[DepartmentID][]Question      `json:"questions,omitempty"`
	Answers          map[DepartmentID]map[string]any  `json:"answers,omitempty"`
	Documents        []Document                       `json:"documents,omitempty"`
	AttachmentCounts map[DepartmentID]AttachmentCount `json:"attachmentCounts,omitempty"`
	Checklist        map[DepartmentID]ChecklistEntry  `json:"checklist,omitempty"`
	Labels           []string                         `json:"labels,omitempty"`
	Comments         []Comment                        `json:"comments,omitempty"`
	History          []Transition                     `json:"history,omitempty"`
	CreatedBy        string                           `json:"createdBy,omitempty"`
	CreatedAt        time.Time                        `json:"createdAt"`
	FinishedAt       *time.Time                       `json:"finishedAt,omitempty"`
	State            RecordState                      `json:"state,omitempty"`
}

// CurrentDepartment returns the department at the current pointer
func (c *Case) CurrentDepartment() (DepartmentID, bool) {
	if c.CurrentIndex < 0 || c.CurrentIndex >= len(c.Flow) {
		return 0, false
	}
	return c.Flow[c.CurrentIndex], true
}

// FlowIndex returns the position of dept in the flow, or -1
func (c *Case) FlowIndex(dept DepartmentID) int {
	for i, d := range c.Flow {
		if d == dept {
			return i
		}
	}
	return -1
}

// IsLastDepartment reports whether the pointer is on the last flow entry
func (c *Case) IsLastDepartment() bool {
	return c.CurrentIndex == len(c.Flow)-1
}

// DepartmentComplete reports the checklist state of dept
func (c *Case) DepartmentComplete(dept DepartmentID) bool {
	return c.Checklist[dept].Completed
}

// AllDepartmentsComplete reports whether every flow department is checked off
func (c *Case) AllDepartmentsComplete() bool {
	for _, d := range c.Flow {
		if !c.DepartmentComplete(d) {
			return false
		}
	}
	return len(c.Flow) > 0
}

// DocumentsFor returns the documents attached to dept
func (c *Case) DocumentsFor(dept DepartmentID) []Document {
	var docs []Document
	for _, d := range c.Documents {
		if d.DepartmentID == dept {
			docs = append(docs, d)
		}
	}
	return docs
}

// ComputeProgress derives the percentage shown on case cards
func (c *Case) ComputeProgress() int {
	if c.Status == StatusFinished {
		return 100
	}
	n := len(c.Flow)
	if n == 0 {
		return 0
	}
	if c.Independent {
		done := 0
		for _, d := range c.Flow {
			if c.DepartmentComplete(d) {
				done++
			}
		}
		return done * 100 / n
	}
	return c.CurrentIndex * 100 / n
}

// HasDetail reports which locally-known sub-details are populated
func (c *Case) HasDetail() bool {
	return len(c.Questions) > 0 || len(c.Answers) > 0 || len(c.Documents) > 0
}

// Clone returns a deep copy so store readers never share maps with writers
func (c Case) Clone() Case {
	out := c
	out.Flow = append([]DepartmentID(nil), c.Flow...)
	if c.Questions != nil {
		out.Questions = make(map[DepartmentID][]Question, len(c.Questions))
		for k, v := range c.Questions {
			qs := make([]Question, len(v))
			for i, q := range v {
				qs[i] = q.Clone()
			}
			out.Questions[k] = qs
		}
	}
	if c.Answers != nil {
		out.Answers = make(map[DepartmentID]map[string]any, len(c.Answers))
		for k, v := range c.Answers {
			m := make(map[string]any, len(v))
			for qk, qv := range v {
				m[qk] = qv
			}
			out.Answers[k] = m
		}
	}
	out.Documents = append([]Document(nil), c.Documents...)
	if c.AttachmentCounts != nil {
		out.AttachmentCounts = make(map[DepartmentID]AttachmentCount, len(c.AttachmentCounts))
		for k, v := range c.AttachmentCounts {
			out.AttachmentCounts[k] = v
		}
	}
	if c.Checklist != nil {
		out.Checklist = make(map[DepartmentID]ChecklistEntry, len(c.Checklist))
		for k, v := range c.Checklist {
			out.Checklist[k] = v
		}
	}
	out.Labels = append([]string(nil), c.Labels...)
	out.Comments = append([]Comment(nil), c.Comments...)
	out.History = append([]Transition(nil), c.History...)
	return out
}

// Department is a named stage independent of any single case
type Department struct {
	ID                DepartmentID `json:"id"`
	Name              string       `json:"name"`
	Position          int          `json:"position"`
	RequiredDocuments []string     `json:"requiredDocuments,omitempty"`
	Color             string       `json:"color,omitempty"`
}

// Label can be applied to cases
type Label struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Template is a reusable flow + questionnaire preset
type Template struct {
	ID          string                      `json:"id"`
	Name        string                      `json:"name"`
	Flow        []DepartmentID              `json:"flow"`
	Independent bool                        `json:"independent"`
	Questions   map[DepartmentID][]Question `json:"questions,omitempty"`
}

// Company is reference data attached to cases
type Company struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Notification is an inbox item for one actor
type Notification struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actorId"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	CaseID    string    `json:"caseId,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
	// Local notices are never persisted by the backend
	Local bool `json:"-"`
}

// Actor is the authenticated user of a session
type Actor struct {
	ID            string        `json:"id"`
	Role          string        `json:"role"`
	DepartmentID  *DepartmentID `json:"departmentId,omitempty"`
	AlertsEnabled bool          `json:"alertsEnabled"`
}

// TrashedCase is a soft-deleted case awaiting restore or purge
type TrashedCase struct {
	Case      Case      `json:"case"`
	DeletedAt time.Time `json:"deletedAt"`
	Reason    string    `json:"reason,omitempty"`
}
