package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/config"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/domain"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/engine/auth"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/events"
)

// Collection keys. They match the keys written by the browser console so an
// exported local store can be imported unchanged.
const (
	KeyUsers    = "dar_users_v3"
	KeyProjects = "dar_projects_v3"
	KeyRequests = "dar_requests_v3"
)

// Store persists one JSON document per collection key. Load returns an error
// matching domain.ErrNotFound when nothing was saved under key.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, payload []byte) error
}

// Engine owns the three collections and is their only writer. Every exported
// operation runs under one lock and saves the collections it touched.
type Engine struct {
	Store  Store
	Config *config.Config
	Log    *log.Logger
	Now    func() time.Time
	NewID  func() string

	mu         sync.Mutex
	users      []domain.User
	projects   []domain.Project
	requests   []domain.ServiceRequest
	persistErr error
	loadFailed map[string]error
}

func New(store Store, cfg *config.Config, logger *log.Logger) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		Store:  store,
		Config: cfg,
		Log:    logger,
		Now:    time.Now,
		NewID:  func() string { return uuid.New().String() },
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) timestamp() string { return e.now().UTC().Format(time.RFC3339) }
func (e *Engine) today() string     { return e.now().UTC().Format("2006-01-02") }

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.New().String()
}

// Load reads every collection. Missing collections fall back to their
// defaults and the seed roster is installed when no users were ever stored.
// A collection that exists but cannot be read also falls back in memory, but
// is never saved back until a later Load reads it cleanly.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.users, e.projects, e.requests = nil, nil, nil
	e.loadFailed = map[string]error{}
	seeded := false
	usersFound := e.loadKey(ctx, KeyUsers, &e.users)
	if !usersFound {
		users, err := e.seedUsers()
		if err != nil {
			return err
		}
		e.users = users
		seeded = e.loadFailed[KeyUsers] == nil
	}
	if !e.loadKey(ctx, KeyProjects, &e.projects) {
		e.projects = nil
	}
	if !e.loadKey(ctx, KeyRequests, &e.requests) {
		e.requests = nil
	}

	if e.users == nil {
		e.users = []domain.User{}
	}
	if e.projects == nil {
		e.projects = []domain.Project{}
	}
	if e.requests == nil {
		e.requests = []domain.ServiceRequest{}
	}
	for i := range e.projects {
		if e.projects[i].Tasks == nil {
			e.projects[i].Tasks = []domain.Task{}
		}
		e.projects[i].Recompute()
	}
	for i := range e.requests {
		e.requests[i].Status = domain.NormalizeStatus(e.requests[i].Status)
		if e.requests[i].History == nil {
			e.requests[i].History = []domain.HistoryEntry{}
		}
	}
	if seeded {
		e.persist(ctx, events.Action{Type: "users.seeded", EntityKind: "user", ActorID: "system"}, KeyUsers)
	}
	e.Log.Debug("collections loaded", "users", len(e.users), "projects", len(e.projects), "requests", len(e.requests))
	return nil
}

// loadKey decodes key into dst and reports whether stored data was used.
// Failures other than a missing key are recorded in loadFailed.
func (e *Engine) loadKey(ctx context.Context, key string, dst any) bool {
	data, err := e.Store.Load(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false
		}
		e.loadFailed[key] = domain.PersistenceError{Op: "load", Key: key, Err: err}
		e.Log.Warn("load failed, using defaults", "key", key, "err", err)
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		e.loadFailed[key] = domain.PersistenceError{Op: "load", Key: key, Err: err}
		e.Log.Warn("stored collection unreadable, using defaults", "key", key, "err", err)
		return false
	}
	return true
}

func (e *Engine) seedUsers() ([]domain.User, error) {
	out := make([]domain.User, 0, len(e.Config.Seed.Users))
	for i, s := range e.Config.Seed.Users {
		hash, err := auth.HashPassword(s.Password)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.User{
			ID:           fmt.Sprint(i + 1),
			Name:         s.Name,
			Email:        s.Email,
			Role:         domain.Role(s.Role),
			PasswordHash: hash,
		})
	}
	return out, nil
}

// ErrLoadFailed marks saves refused because the stored collection could not
// be read at load time.
var ErrLoadFailed = errors.New("stored collection could not be read; not overwriting it")

type saveReportKey struct{}

// SaveReport collects the save failures of the operations run with its
// context.
type SaveReport struct {
	mu  sync.Mutex
	err error
}

// WithSaveReport returns a context that records save failures into the
// returned report.
func WithSaveReport(ctx context.Context) (context.Context, *SaveReport) {
	r := &SaveReport{}
	return context.WithValue(ctx, saveReportKey{}, r), r
}

// SaveReportFrom returns the report attached to ctx, if any.
func SaveReportFrom(ctx context.Context) (*SaveReport, bool) {
	r, ok := ctx.Value(saveReportKey{}).(*SaveReport)
	return r, ok
}

// Err returns the last save failure recorded for the context.
func (r *SaveReport) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *SaveReport) set(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// persist saves the named collections. Failures are logged and remembered
// but never undo the in-memory mutation. Collections that failed to load are
// not written.
func (e *Engine) persist(ctx context.Context, action events.Action, keys ...string) {
	ctx = events.WithAction(ctx, action)
	report, _ := SaveReportFrom(ctx)
	for _, key := range keys {
		var err error
		if e.loadFailed[key] != nil {
			err = ErrLoadFailed
		} else {
			var v any
			switch key {
			case KeyUsers:
				v = e.users
			case KeyProjects:
				v = e.projects
			case KeyRequests:
				v = e.requests
			}
			var data []byte
			data, err = json.Marshal(v)
			if err == nil {
				err = e.Store.Save(ctx, key, data)
			}
		}
		if err != nil {
			perr := domain.PersistenceError{Op: "save", Key: key, Err: err}
			e.persistErr = perr
			if report != nil {
				report.set(perr)
			}
			e.Log.Warn("persist failed", "key", key, "action", action.Type, "err", err)
		}
	}
}

// PersistError returns the most recent save failure and clears it. Callers
// sharing the engine across goroutines use WithSaveReport instead.
func (e *Engine) PersistError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.persistErr
	e.persistErr = nil
	return err
}

// actor re-reads the acting user so deleted accounts and role changes take
// effect immediately.
func (e *Engine) actor(u domain.User) (domain.User, auth.Capabilities, error) {
	for _, known := range e.users {
		if known.ID == u.ID {
			return known, auth.For(known.Role), nil
		}
	}
	return domain.User{}, auth.Capabilities{}, domain.ErrInvalidCredentials
}

func forbid(actor domain.User, action string) error {
	return auth.ForbiddenError{Action: action, Role: actor.Role}
}

func (e *Engine) projectIndex(name string) int {
	for i, p := range e.projects {
		if p.Name == name {
			return i
		}
	}
	return -1
}

func (e *Engine) requestIndex(id string) int {
	for i, r := range e.requests {
		if r.ID == id {
			return i
		}
	}
	return -1
}
