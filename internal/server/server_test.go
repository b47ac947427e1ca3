package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/config"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/db"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/domain"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/engine"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/migrate"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	srv, cleanup, _ := newTestServerWithStore(t, nil)
	return srv, cleanup
}

// flakyStore fails every save while fail is set.
type flakyStore struct {
	engine.Store
	mu   sync.Mutex
	fail bool
}

func (f *flakyStore) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *flakyStore) Save(ctx context.Context, key string, payload []byte) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.Store.Save(ctx, key, payload)
}

func newTestServerWithStore(t *testing.T, wrap func(engine.Store) engine.Store) (*testServer, func(), *engine.Engine) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := repo.New(conn)
	var engineStore engine.Store = store
	if wrap != nil {
		engineStore = wrap(store)
	}
	logger := log.New(io.Discard)
	e := engine.New(engineStore, config.Default(), logger)
	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		Events:   store,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, TokenTTL: time.Hour, Logger: logger},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }, e
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func login(t *testing.T, srv *testServer, email string) map[string]string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/login", map[string]any{
		"email":    email,
		"password": "123",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login %s: %d %s", email, res.StatusCode, string(data))
	}
	var out LoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + out.Token}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestHealthIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
}

func TestLoginAndMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/login", map[string]any{
		"email":    "admin@dar.sa",
		"password": "wrong",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_credentials" {
		t.Fatalf("unexpected code %s", code)
	}

	headers := login(t, srv, "finance@dar.sa")
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	var me SessionResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.User.Role != domain.RoleFinance || !me.Capabilities.ReviewFinance || me.Capabilities.ViewDashboard {
		t.Fatalf("unexpected session %+v", me)
	}
	if strings.Contains(string(data), "passwordHash") {
		t.Fatalf("credentials leaked: %s", string(data))
	}
}

func TestConveyanceFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := login(t, srv, "admin@dar.sa")
	conv := login(t, srv, "conveyance@dar.sa")
	finance := login(t, srv, "finance@dar.sa")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"name":     "Jawan",
		"location": "الرياض",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests", map[string]any{
		"projectName": "Jawan",
		"clientName":  "Ahmed",
		"deedNumber":  "4410",
	}, conv)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create request: %d %s", res.StatusCode, string(data))
	}
	var created domain.ServiceRequest
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if created.Status != domain.StatusPendingFinance {
		t.Fatalf("expected pending_finance, got %s", created.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/requests/"+created.ID, nil, finance)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get request: %d %s", res.StatusCode, string(data))
	}
	var detail RequestDetailResponse
	_ = json.Unmarshal(data, &detail)
	if len(detail.AllowedTransitions) != 2 {
		t.Fatalf("expected finance to have two moves, got %v", detail.AllowedTransitions)
	}

	// PR staff cannot approve before finance.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests/"+created.ID+"/transitions", map[string]any{
		"status": "completed",
	}, admin)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests/"+created.ID+"/transitions", map[string]any{
		"status": "new",
		"note":   "paid",
	}, finance)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("finance approve: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests/"+created.ID+"/transitions", map[string]any{
		"status": "completed",
	}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/projects/Jawan", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get project: %d %s", res.StatusCode, string(data))
	}
	var p domain.Project
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if len(p.Tasks) != 1 || p.Tasks[0].ID != "req-"+created.ID || p.Progress != 100 {
		t.Fatalf("unexpected project after completion: %+v", p)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?entity_kind=request&limit=2", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected a full page with cursor, got %+v", page)
	}
	if page.Items[0].Type != "request.transitioned" {
		t.Fatalf("expected newest event first, got %s", page.Items[0].Type)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := login(t, srv, "admin@dar.sa")
	tech := login(t, srv, "tech@dar.sa")

	cases := []struct {
		name    string
		method  string
		path    string
		body    any
		headers map[string]string
		status  int
		code    string
	}{
		{"missing project", http.MethodGet, "/v1/projects/" + url.PathEscape("No Such"), nil, admin, http.StatusNotFound, "not_found"},
		{"tech cannot list projects", http.MethodGet, "/v1/projects", nil, tech, http.StatusForbidden, "forbidden"},
		{"unknown project for request", http.MethodPost, "/v1/requests", map[string]any{"projectName": "Nope", "serviceSubType": "x"}, tech, http.StatusNotFound, "not_found"},
		{"blank project name", http.MethodPost, "/v1/projects", map[string]any{"name": "  "}, admin, http.StatusBadRequest, "bad_request"},
		{"unknown status", http.MethodPost, "/v1/requests/x/transitions", map[string]any{"status": "approved"}, admin, http.StatusBadRequest, "bad_request"},
		{"only admin manages users", http.MethodGet, "/v1/users", nil, tech, http.StatusForbidden, "forbidden"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, data := doJSON(t, client, tc.method, srv.URL+tc.path, tc.body, tc.headers)
			if res.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d %s", tc.status, res.StatusCode, string(data))
			}
			if code := errorCode(t, data); code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, code)
			}
		})
	}
}

func TestDeletedUserLosesAccess(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := login(t, srv, "admin@dar.sa")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/users", map[string]any{
		"name":     "Sara",
		"email":    "sara@dar.sa",
		"password": "123",
		"role":     "TECHNICAL",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create user: %d %s", res.StatusCode, string(data))
	}
	var u domain.User
	_ = json.Unmarshal(data, &u)
	sara := login(t, srv, "sara@dar.sa")

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/users/"+u.ID, nil, admin)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete user: %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, sara)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after deletion, got %d", res.StatusCode)
	}
}

func TestTaskRoutes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := login(t, srv, "admin@dar.sa")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{"name": "Saraya"}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/Saraya/tasks", map[string]any{
		"description": "water meters",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add task: %d %s", res.StatusCode, string(data))
	}
	var task domain.Task
	_ = json.Unmarshal(data, &task)
	if task.Status != domain.TaskInProgress {
		t.Fatalf("expected default status, got %s", task.Status)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/projects/Saraya/tasks/"+task.ID, map[string]any{
		"status": domain.TaskDone,
	}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update task: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/Saraya/pin", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pin: %d %s", res.StatusCode, string(data))
	}
	var p domain.Project
	_ = json.Unmarshal(data, &p)
	if !p.IsPinned || p.Progress != 100 {
		t.Fatalf("unexpected project %+v", p)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/import", map[string]any{
		"rows": []map[string]string{
			{"project": "Saraya", "description": "fencing"},
			{"project": "", "description": ""},
		},
	}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("import: %d %s", res.StatusCode, string(data))
	}
	var report engine.TaskImportReport
	_ = json.Unmarshal(data, &report)
	if len(report.Created) != 1 || len(report.Skipped) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/projects/Saraya/tasks/"+task.ID, nil, login(t, srv, "officer@dar.sa"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("officer delete should be forbidden, got %d %s", res.StatusCode, string(data))
	}
}

func TestEventsNeedDashboardAccess(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for _, email := range []string{"tech@dar.sa", "conveyance@dar.sa", "finance@dar.sa"} {
		res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/events", nil, login(t, srv, email))
		if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
			t.Fatalf("%s reading events: %d %s", email, res.StatusCode, string(data))
		}
	}
	for _, email := range []string{"admin@dar.sa", "manager@dar.sa", "officer@dar.sa"} {
		res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/events", nil, login(t, srv, email))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s reading events: %d %s", email, res.StatusCode, string(data))
		}
	}
}

func TestPersistWarningHeader(t *testing.T) {
	flaky := &flakyStore{}
	srv, cleanup, _ := newTestServerWithStore(t, func(s engine.Store) engine.Store {
		flaky.Store = s
		return flaky
	})
	defer cleanup()
	client := srv.Client()
	admin := login(t, srv, "admin@dar.sa")

	flaky.setFail(true)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{"name": "Saraya", "location": "جدة"}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create with failing store: %d %s", res.StatusCode, string(data))
	}
	if w := res.Header.Get("X-Persist-Warning"); !strings.Contains(w, "disk full") {
		t.Fatalf("expected persist warning, got %q", w)
	}

	flaky.setFail(false)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/Saraya/pin", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pin: %d %s", res.StatusCode, string(data))
	}
	if w := res.Header.Get("X-Persist-Warning"); w != "" {
		t.Fatalf("clean save must not carry a warning, got %q", w)
	}
}
