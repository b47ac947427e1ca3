package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/domain"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/events"
)

// ProjectFilter narrows ListProjects. Empty fields match everything.
type ProjectFilter struct {
	Location string
	Search   string
}

// ListProjects returns matching projects, pinned ones first, each group in
// stored order.
func (e *Engine) ListProjects(ctx context.Context, actor domain.User, f ProjectFilter) ([]domain.Project, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	actor, caps, err := e.actor(actor)
	if err != nil {
		return nil, err
	}
	if !caps.ViewDashboard {
		return nil, forbid(actor, "view projects")
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := []domain.Project{}
	for _, p := range e.projects {
		if f.Location != "" && p.Location != f.Location {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].IsPinned && !out[j].IsPinned })
	return out, nil
}

// GetProject returns one project. A non-empty status keeps only tasks in it;
// the counters always describe the whole project.
func (e *Engine) GetProject(ctx context.Context, actor domain.User, name, status string) (domain.Project, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	actor, caps, err := e.actor(actor)
	if err != nil {
		return domain.Project{}, err
	}
	if !caps.ViewDashboard {
		return domain.Project{}, forbid(actor, "view projects")
	}
	i := e.projectIndex(name)
	if i < 0 {
		return domain.Project{}, domain.NotFoundError{Kind: "project", ID: name}
	}
	p := e.projects[i].Clone()
	if status != "" {
		kept := []domain.Task{}
		for _, t := range p.Tasks {
			if t.Status == status {
				kept = append(kept, t)
			}
		}
		p.Tasks = kept
	}
	return p, nil
}

type NewProject struct {
	Name     string
	Location string
	ImageURL string
	Details  *domain.ProjectDetails
}

func (e *Engine) CreateProject(ctx context.Context, actor domain.User, in NewProject) (domain.Project, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	actor, caps, err := e.actor(actor)
	if err != nil {
		return domain.Project{}, err
	}
	if !caps.ManageProjects {
		return domain.Project{}, forbid(actor, "create projects")
	}
	p, err := e.newProject(in)
	if err != nil {
		return domain.Project{}, err
	}
	e.projects = append([]domain.Project{p}, e.projects...)
	e.persist(ctx, events.Action{Type: "project.created", EntityKind: "project", EntityID: p.Name, ActorID: actor.Email,
		Payload: events.EventPayload{"location": p.Location}}, KeyProjects)
	return p.Clone(), nil
}

func (e *Engine) newProject(in NewProject) (domain.Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Project{}, domain.ValidationError{Field: "name", Reason: "required"}
	}
	if e.projectIndex(name) >= 0 {
		return domain.Project{}, domain.ValidationError{Field: "name", Reason: "project " + name + " already exists"}
	}
	location := strings.TrimSpace(in.Location)
	if location == "" && len(e.Config.Locations) > 0 {
		location = e.Config.Locations[0]
	}
	p := domain.Project{Name: name, Location: location, Tasks: []domain.Task{}, ImageURL: in.ImageURL, Details: in.Details}
	p.Recompute()
	return p, nil
}

// ProjectPatch carries optional project attribute changes.
type ProjectPatch struct {
	Location *string
	ImageURL *string
	Details  *domain.ProjectDetails
}

func (e *Engine) UpdateProject(ctx context.Context, actor domain.User, name string, patch ProjectPatch) (domain.Project, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	actor, caps, err := e.actor(actor)
	if err != nil {
		return domain.Project{}, err
	}
	if !caps.ManageProjects {
		return domain.Project{}, forbid(actor, "edit projects")
	}
	i := e.projectIndex(name)
	if i < 0 {
		return domain.Project{}, domain.NotFoundError{Kind: "project", ID: name}
	}
	p := &e.projects[i]
	if patch.Location != nil {
		if strings.TrimSpace(*patch.Location) == "" {
			return domain.Project{}, domain.ValidationError{Field: "location", Reason: "must not be empty"}
		}
		p.Location = *patch.Location
	}
	if patch.ImageURL != nil {
		p.ImageURL = *patch.ImageURL
	}
	if patch.Details != nil {
		d := *patch.Details
		p.Details = &d
	}
	e.persist(ctx, events.Action{Type: "project.updated", EntityKind: "project", EntityID: name, ActorID: actor.Email}, KeyProjects)
	return p.Clone(), nil
}

// DeleteProject removes the project and its tasks. Requests naming it keep
// their reference.
func (e *Engine) DeleteProject(ctx context.Context, actor domain.User, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	actor, caps, err := e.actor(actor)
	if err != nil {
		return err
	}
	if !caps.Delete {
		return forbid(actor, "delete projects")
	}
	i := e.projectIndex(name)
	if i < 0 {
		return domain.NotFoundError{Kind: "project", ID: name}
	}
	removed := len(e.projects[i].Tasks)
	e.projects = append(e.projects[:i], e.projects[i+1:]...)
	e.persist(ctx, events.Action{Type: "project.deleted", EntityKind: "project", EntityID: name, ActorID: actor.Email,
		Payload: events.EventPayload{"tasks": removed}}, KeyProjects)
	return nil
}

func (e *Engine) TogglePin(ctx context.Context, actor domain.User, name string) (domain.Project, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	actor, caps, err := e.actor(actor)
	if err != nil {
		return domain.Project{}, err
	}
	if !caps.ViewDashboard {
		return domain.Project{}, forbid(actor, "pin projects")
	}
	i := e.projectIndex(name)
	if i < 0 {
		return domain.Project{}, domain.NotFoundError{Kind: "project", ID: name}
	}
	e.projects[i].IsPinned = !e.projects[i].IsPinned
	e.persist(ctx, events.Action{Type: "project.pinned", EntityKind: "project", EntityID: name, ActorID: actor.Email,
		Payload: events.EventPayload{"pinned": e.projects[i].IsPinned}}, KeyProjects)
	return e.projects[i].Clone(), nil
}
