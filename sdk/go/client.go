package darsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal console HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
	// LastWarning holds the X-Persist-Warning of the most recent response.
	LastWarning string
}

// New creates a client with sane defaults. baseURL includes the API prefix,
// e.g. http://127.0.0.1:8080/v1.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// User is an account without credentials.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Capabilities mirrors the role capability record.
type Capabilities struct {
	ViewDashboard  bool     `json:"canViewDashboard"`
	ManageProjects bool     `json:"canManageProjects"`
	Delete         bool     `json:"canDelete"`
	ReviewFinance  bool     `json:"canReviewFinance"`
	ReviewPR       bool     `json:"canReviewPR"`
	ManageUsers    bool     `json:"canManageUsers"`
	SubmitTypes    []string `json:"canSubmitTypes"`
	Inbox          string   `json:"inbox"`
	LandingView    string   `json:"landingView"`
}

type Session struct {
	Token        string       `json:"token,omitempty"`
	ExpiresAt    string       `json:"expiresAt,omitempty"`
	User         User         `json:"user"`
	Capabilities Capabilities `json:"capabilities"`
}

type Comment struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Author    string `json:"author"`
	Timestamp string `json:"timestamp"`
}

// Task represents the API task model (partial).
type Task struct {
	ID          string    `json:"id"`
	Project     string    `json:"project"`
	Description string    `json:"description"`
	Reviewer    string    `json:"reviewer"`
	Requester   string    `json:"requester"`
	Notes       string    `json:"notes"`
	Location    string    `json:"location"`
	Status      string    `json:"status"`
	Date        string    `json:"date"`
	Comments    []Comment `json:"comments,omitempty"`
}

// Project represents the API project model (partial).
type Project struct {
	Name           string `json:"name"`
	Location       string `json:"location"`
	Tasks          []Task `json:"tasks"`
	TotalTasks     int    `json:"totalTasks"`
	CompletedTasks int    `json:"completedTasks"`
	Progress       int    `json:"progress"`
	IsPinned       bool   `json:"isPinned"`
}

type HistoryEntry struct {
	Action    string `json:"action"`
	By        string `json:"by"`
	Role      string `json:"role"`
	Timestamp string `json:"timestamp"`
	Notes     string `json:"notes,omitempty"`
}

// Request represents a service request (partial).
type Request struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Type            string         `json:"type"`
	ProjectName     string         `json:"projectName"`
	SubmittedBy     string         `json:"submittedBy"`
	SubmitterID     string         `json:"submitterId,omitempty"`
	Status          string         `json:"status"`
	Date            string         `json:"date"`
	History         []HistoryEntry `json:"history"`
	Comments        []Comment      `json:"comments,omitempty"`
	RejectionReason string         `json:"rejectionReason,omitempty"`
	FinanceNotes    string         `json:"financeNotes,omitempty"`
}

// NewRequest is the submission body. Empty fields are omitted.
type NewRequest struct {
	Type                string `json:"type,omitempty"`
	ProjectName         string `json:"projectName"`
	Details             string `json:"details,omitempty"`
	ServiceSubType      string `json:"serviceSubType,omitempty"`
	OtherServiceDetails string `json:"otherServiceDetails,omitempty"`
	Authority           string `json:"authority,omitempty"`
	ClientName          string `json:"clientName,omitempty"`
	IDNumber            string `json:"idNumber,omitempty"`
	PlotNumber          string `json:"plotNumber,omitempty"`
	DeedNumber          string `json:"deedNumber,omitempty"`
	MobileNumber        string `json:"mobileNumber,omitempty"`
	Bank                string `json:"bank,omitempty"`
	PropertyValue       string `json:"propertyValue,omitempty"`
}

type RequestDetail struct {
	Request            Request  `json:"request"`
	AllowedTransitions []string `json:"allowedTransitions"`
}

type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

type ImportReport struct {
	Created []Request  `json:"created"`
	Skipped []RowError `json:"skipped"`
}

// Event represents a journal entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	Collection string `json:"collection"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges credentials for a token and keeps it on the client.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	body := map[string]any{"email": email, "password": password}
	var resp Session
	if err := c.do(ctx, http.MethodPost, "auth/login", body, &resp); err != nil {
		return resp, err
	}
	c.BearerToken = resp.Token
	return resp, nil
}

func (c *Client) Me(ctx context.Context) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

func (c *Client) ListProjects(ctx context.Context, location, search string) ([]Project, error) {
	q := url.Values{}
	if location != "" {
		q.Set("location", location)
	}
	if search != "" {
		q.Set("q", search)
	}
	var resp []Project
	err := c.do(ctx, http.MethodGet, withQuery("projects", q), nil, &resp)
	return resp, err
}

func (c *Client) GetProject(ctx context.Context, name string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(name), nil, &resp)
	return resp, err
}

func (c *Client) CreateProject(ctx context.Context, name, location string) (Project, error) {
	body := map[string]any{"name": name}
	if location != "" {
		body["location"] = location
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp, err
}

func (c *Client) TogglePin(ctx context.Context, name string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects/"+url.PathEscape(name)+"/pin", nil, &resp)
	return resp, err
}

// AddTask adds a task; status may be empty for the in-progress default.
func (c *Client) AddTask(ctx context.Context, project, description, status string) (Task, error) {
	body := map[string]any{"description": description}
	if status != "" {
		body["status"] = status
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "projects/"+url.PathEscape(project)+"/tasks", body, &resp)
	return resp, err
}

func (c *Client) CreateRequest(ctx context.Context, r NewRequest) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, "requests", r, &resp)
	return resp, err
}

// ListRequests returns the caller's inbox, optionally filtered by status.
func (c *Client) ListRequests(ctx context.Context, status string) ([]Request, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	var resp []Request
	err := c.do(ctx, http.MethodGet, withQuery("requests", q), nil, &resp)
	return resp, err
}

func (c *Client) GetRequest(ctx context.Context, id string) (RequestDetail, error) {
	var resp RequestDetail
	err := c.do(ctx, http.MethodGet, "requests/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) TransitionRequest(ctx context.Context, id, status, note string) (Request, error) {
	body := map[string]any{"status": status}
	if note != "" {
		body["note"] = note
	}
	var resp Request
	err := c.do(ctx, http.MethodPost, "requests/"+url.PathEscape(id)+"/transitions", body, &resp)
	return resp, err
}

func (c *Client) CommentRequest(ctx context.Context, id, text string) (Comment, error) {
	var resp Comment
	err := c.do(ctx, http.MethodPost, "requests/"+url.PathEscape(id)+"/comments", map[string]any{"text": text}, &resp)
	return resp, err
}

func (c *Client) ImportRequests(ctx context.Context, rows []map[string]string) (ImportReport, error) {
	var resp ImportReport
	err := c.do(ctx, http.MethodPost, "requests/import", map[string]any{"rows": rows}, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.LastWarning = resp.Header.Get("X-Persist-Warning")
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
