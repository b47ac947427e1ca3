package engine

import (
	"context"
	"strings"

	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/domain"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/events"
)

// TaskDraft holds the fields of a new task. Empty Status means in progress,
// empty Date means today and empty Location inherits the project location.
type TaskDraft struct {
	Description string
	Reviewer    string
	Requester   string
	Notes       string
	Location    string
	Status      string
	Date        string
}

// TaskPatch is merged into an existing task. Nil fields are left alone.
type TaskPatch struct {
	Description *string
	Reviewer    *string
	Requester   *string
	Notes       *string
	Location    *string
	Status      *string
	Date        *string
}

func validTaskStatus(s string) bool {
	return s == domain.TaskInProgress || s == domain.TaskDone
}

func (e *Engine) AddTask(ctx context.Context, actor domain.User, project string, d TaskDraft) (domain.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	actor, caps, err := e.actor(actor)
	if err != nil {
		return domain.Task{}, err
	}
	if !caps.ManageProjects {
		return domain.Task{}, forbid(actor, "add tasks")
	}
	i := e.projectIndex(project)
	if i < 0 {
		return domain.Task{}, domain.NotFoundError{Kind: "project", ID: project}
	}
	t, err := e.draftTask(e.projects[i], actor, d)
	if err != nil {
		return domain.Task{}, err
	}
	e.prependTask(i, t)
	e.persist(ctx, events.Action{Type: "task.created", EntityKind: "task", EntityID: t.ID, ActorID: actor.Email,
		Payload: events.EventPayload{"project": project, "status": t.Status}}, KeyProjects)
	return t.Clone(), nil
}

func (e *Engine) draftTask(p domain.Project, actor domain.User, d TaskDraft) (domain.Task, error) {
	if strings.TrimSpace(d.Description) == "" {
		return domain.Task{}, domain.ValidationError{Field: "description", Reason: "required"}
	}
	t := domain.Task{
		ID:          e.newID(),
		Project:     p.Name,
		Description: d.Description,
		Reviewer:    d.Reviewer,
		Requester:   d.Requester,
		Notes:       d.Notes,
		Location:    d.Location,
		Status:      d.Status,
		Date:        d.Date,
	}
	if t.Requester == "" {
		t.Requester = actor.Name
	}
	if t.Location == "" {
		t.Location = p.Location
	}
	if t.Status == "" {
		t.Status = domain.TaskInProgress
	}
	if !validTaskStatus(t.Status) {
		return domain.Task{}, domain.ValidationError{Field: "status", Reason: "unknown task status " + t.Status}
	}
	if t.Date == "" {
		t.Date = e.today()
	}
	return t, nil
}

// prependTask inserts t at the head of project i and refreshes its counters.
func (e *Engine) prependTask(i int, t domain.Task) {
	p := &e.projects[i]
	p.Tasks = append([]domain.Task{t}, p.Tasks...)
	p.Recompute()
}

func (e *Engine) UpdateTask(ctx context.Context, actor domain.User, project, taskID string, patch TaskPatch) (domain.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	actor, caps, err := e.actor(actor)
	if err != nil {
		return domain.Task{}, err
	}
	if !caps.ManageProjects {
		return domain.Task{}, forbid(actor, "edit tasks")
	}
	pi := e.projectIndex(project)
	if pi < 0 {
		return domain.Task{}, domain.NotFoundError{Kind: "project", ID: project}
	}
	p := &e.projects[pi]
	ti := p.TaskIndex(taskID)
	if ti < 0 {
		return domain.Task{}, domain.NotFoundError{Kind: "task", ID: taskID}
	}
	next := p.Tasks[ti]
	apply := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	apply(&next.Description, patch.Description)
	apply(&next.Reviewer, patch.Reviewer)
	apply(&next.Requester, patch.Requester)
	apply(&next.Notes, patch.Notes)
	apply(&next.Location, patch.Location)
	apply(&next.Status, patch.Status)
	apply(&next.Date, patch.Date)
	if strings.TrimSpace(next.Description) == "" {
		return domain.Task{}, domain.ValidationError{Field: "description", Reason: "required"}
	}
	if !validTaskStatus(next.Status) {
		return domain.Task{}, domain.ValidationError{Field: "status", Reason: "unknown task status " + next.Status}
	}
	from := p.Tasks[ti].Status
	p.Tasks[ti] = next
	p.Recompute()
	e.persist(ctx, events.Action{Type: "task.updated", EntityKind: "task", EntityID: taskID, ActorID: actor.Email,
		Payload: events.EventPayload{"project": project, "from": from, "to": next.Status}}, KeyProjects)
	return next.Clone(), nil
}

func (e *Engine) DeleteTask(ctx context.Context, actor domain.User, project, taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	actor, caps, err := e.actor(actor)
	if err != nil {
		return err
	}
	if !caps.Delete {
		return forbid(actor, "delete tasks")
	}
	pi := e.projectIndex(project)
	if pi < 0 {
		return domain.NotFoundError{Kind: "project", ID: project}
	}
	p := &e.projects[pi]
	ti := p.TaskIndex(taskID)
	if ti < 0 {
		return domain.NotFoundError{Kind: "task", ID: taskID}
	}
	p.Tasks = append(p.Tasks[:ti], p.Tasks[ti+1:]...)
	p.Recompute()
	e.persist(ctx, events.Action{Type: "task.deleted", EntityKind: "task", EntityID: taskID, ActorID: actor.Email,
		Payload: events.EventPayload{"project": project}}, KeyProjects)
	return nil
}

// AddTaskComment appends a comment. Status and counters are untouched.
func (e *Engine) AddTaskComment(ctx context.Context, actor domain.User, project, taskID, text string) (domain.Comment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	actor, _, err := e.actor(actor)
	if err != nil {
		return domain.Comment{}, err
	}
	pi := e.projectIndex(project)
	if pi < 0 {
		return domain.Comment{}, domain.NotFoundError{Kind: "project", ID: project}
	}
	p := &e.projects[pi]
	ti := p.TaskIndex(taskID)
	if ti < 0 {
		return domain.Comment{}, domain.NotFoundError{Kind: "task", ID: taskID}
	}
	c, err := e.newComment(actor, text)
	if err != nil {
		return domain.Comment{}, err
	}
	p.Tasks[ti].Comments = append(p.Tasks[ti].Comments, c)
	e.persist(ctx, events.Action{Type: "task.commented", EntityKind: "task", EntityID: taskID, ActorID: actor.Email}, KeyProjects)
	return c, nil
}

func (e *Engine) newComment(actor domain.User, text string) (domain.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Comment{}, domain.ValidationError{Field: "text", Reason: "comment is empty"}
	}
	return domain.Comment{
		ID:         e.newID(),
		Text:       text,
		Author:     actor.Name,
		AuthorRole: actor.Role,
		Timestamp:  e.timestamp(),
	}, nil
}
