package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"caseflow/internal/model"

	"go.uber.org/zap"
)

// Client talks to the reference backend over REST. It implements Mutations,
// Queries and Attachments; Subscriber is in push.go.
type Client struct {
	baseURL string
	token   string
	actorID string
	http    *http.Client
	log     *zap.Logger
	// subscribeTimeout bounds the wait for every channel ack
	subscribeTimeout time.Duration
}

type Option func(*Client)

// WithToken authenticates every request with a bearer token
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithActorID sends the development actor header when no token is set
func WithActorID(id string) Option {
	return func(c *Client) { c.actorID = id }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

func WithSubscribeTimeout(d time.Duration) Option {
	return func(c *Client) { c.subscribeTimeout = d }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:          strings.TrimSuffix(baseURL, "/"),
		http:             &http.Client{Timeout: 30 * time.Second},
		log:              zap.NewNop(),
		subscribeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type errorEnvelope struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	} else if c.actorID != "" {
		h.Set("X-Actor-ID", c.actorID)
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	c.authorize(req.Header)
	return req, nil
}

// do sends a JSON request and decodes the JSON reply into out. Client errors
// carrying the error envelope come back as *Error.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var env errorEnvelope
	if resp.StatusCode < 500 && json.Unmarshal(data, &env) == nil && env.Message != "" {
		code := env.Code
		if code == "" {
			code = env.Error
		}
		return &Error{Code: code, Message: env.Message}
	}
	return fmt.Errorf("backend returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
}

func (c *Client) CreateCase(ctx context.Context, in CreateCaseInput) (model.Case, error) {
	var out model.Case
	err := c.do(ctx, http.MethodPost, "/v1/cases", in, &out)
	return out, err
}

func (c *Client) UpdateCase(ctx context.Context, id string, fields CaseUpdate) (model.Case, error) {
	var out model.Case
	err := c.do(ctx, http.MethodPatch, "/v1/cases/"+url.PathEscape(id), fields, &out)
	return out, err
}

func (c *Client) DeleteCase(ctx context.Context, id, reason string) error {
	path := "/v1/cases/" + url.PathEscape(id)
	if reason != "" {
		path += "?reason=" + url.QueryEscape(reason)
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) RestoreCase(ctx context.Context, id string) (model.Case, error) {
	var out model.Case
	err := c.do(ctx, http.MethodPost, "/v1/cases/"+url.PathEscape(id)+"/restore", nil, &out)
	return out, err
}

func (c *Client) AdvanceCase(ctx context.Context, id string) (model.Case, error) {
	var out model.Case
	err := c.do(ctx, http.MethodPost, "/v1/cases/"+url.PathEscape(id)+"/advance", nil, &out)
	return out, err
}

func (c *Client) RevertCase(ctx context.Context, id string) (model.Case, error) {
	var out model.Case
	err := c.do(ctx, http.MethodPost, "/v1/cases/"+url.PathEscape(id)+"/revert", nil, &out)
	return out, err
}

func (c *Client) SetChecklistEntry(ctx context.Context, caseID string, dept model.DepartmentID, completed bool) (model.Case, error) {
	var out model.Case
	path := fmt.Sprintf("/v1/cases/%s/checklist/%s", url.PathEscape(caseID), dept)
	err := c.do(ctx, http.MethodPut, path, map[string]bool{"completed": completed}, &out)
	return out, err
}

// AddComment posts a comment; parentID makes it a reply
func (c *Client) AddComment(ctx context.Context, caseID, body string, parentID *string) (model.Comment, error) {
	var out model.Comment
	in := map[string]interface{}{"body": body}
	if parentID != nil {
		in["parentId"] = *parentID
	}
	err := c.do(ctx, http.MethodPost, "/v1/cases/"+url.PathEscape(caseID)+"/comments", in, &out)
	return out, err
}

func (c *Client) ListCases(ctx context.Context) ([]model.Case, error) {
	var out []model.Case
	err := c.do(ctx, http.MethodGet, "/v1/cases", nil, &out)
	return out, err
}

func (c *Client) GetCase(ctx context.Context, id string) (model.Case, error) {
	var out model.Case
	err := c.do(ctx, http.MethodGet, "/v1/cases/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) ListDepartments(ctx context.Context) ([]model.Department, error) {
	var out []model.Department
	err := c.do(ctx, http.MethodGet, "/v1/departments", nil, &out)
	return out, err
}

func (c *Client) ListLabels(ctx context.Context) ([]model.Label, error) {
	var out []model.Label
	err := c.do(ctx, http.MethodGet, "/v1/labels", nil, &out)
	return out, err
}

func (c *Client) ListTemplates(ctx context.Context) ([]model.Template, error) {
	var out []model.Template
	err := c.do(ctx, http.MethodGet, "/v1/templates", nil, &out)
	return out, err
}

func (c *Client) ListCompanies(ctx context.Context) ([]model.Company, error) {
	var out []model.Company
	err := c.do(ctx, http.MethodGet, "/v1/companies", nil, &out)
	return out, err
}

// ListNotifications returns the inbox of the authenticated actor. The
// backend derives the actor from the credentials, so actorID only guards
// against a session mismatch.
func (c *Client) ListNotifications(ctx context.Context, actorID string) ([]model.Notification, error) {
	if c.token == "" && c.actorID != "" && actorID != "" && actorID != c.actorID {
		return nil, fmt.Errorf("client is authenticated as %s, not %s", c.actorID, actorID)
	}
	var out []model.Notification
	err := c.do(ctx, http.MethodGet, "/v1/notifications", nil, &out)
	return out, err
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

// ListTrash returns trashed cases and the retention window in days
func (c *Client) ListTrash(ctx context.Context) ([]model.TrashedCase, int, error) {
	var out struct {
		Items         []model.TrashedCase `json:"items"`
		RetentionDays int                 `json:"retentionDays"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/trash", nil, &out)
	return out.Items, out.RetentionDays, err
}

// Upload streams up as a multipart form
func (c *Client) Upload(ctx context.Context, caseID string, up Upload) (model.Document, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUpload(mw, up))
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/cases/"+url.PathEscape(caseID)+"/documents", pr)
	if err != nil {
		pr.Close()
		return model.Document{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out model.Document
	err = c.send(req, &out)
	pr.Close()
	return out, err
}

func writeUpload(mw *multipart.Writer, up Upload) error {
	fields := [][2]string{
		{"departmentId", up.DepartmentID.String()},
		{"questionId", up.QuestionID},
		{"requirement", up.Requirement},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}

	h := make(map[string][]string)
	h["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename=%q`, up.Name)}
	mime := up.MIME
	if mime == "" {
		mime = "application/octet-stream"
	}
	h["Content-Type"] = []string{mime}
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, up.Body); err != nil {
		return err
	}
	return mw.Close()
}

func (c *Client) Delete(ctx context.Context, documentID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/documents/"+url.PathEscape(documentID), nil, nil)
}
