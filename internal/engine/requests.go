package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/domain"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/engine/auth"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/events"
)

// OtherService is the technical subtype whose name comes from OtherServiceDetails.
const OtherService = "أخرى"

// RequestDraft is the submitter-provided part of a service request. An empty
// Type is conveyance for CONVEYANCE staff and technical for everyone else.
type RequestDraft struct {
	Type        domain.RequestType
	ProjectName string
	Details     string

	ServiceSubType      string
	OtherServiceDetails string
	Authority           string

	ClientName    string
	IDNumber      string
	PlotNumber    string
	DeedNumber    string
	MobileNumber  string
	Bank          string
	PropertyValue string
}

func (e *Engine) CreateRequest(ctx context.Context, actor domain.User, d RequestDraft) (domain.ServiceRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	actor, caps, err := e.actor(actor)
	if err != nil {
		return domain.ServiceRequest{}, err
	}
	r, err := e.draftRequest(actor, caps, d)
	if err != nil {
		return domain.ServiceRequest{}, err
	}
	e.requests = append([]domain.ServiceRequest{r}, e.requests...)
	e.persist(ctx, events.Action{Type: "request.created", EntityKind: "request", EntityID: r.ID, ActorID: actor.Email,
		Payload: events.EventPayload{"type": r.Type, "status": r.Status, "project": r.ProjectName}}, KeyRequests)
	return r.Clone(), nil
}

func (e *Engine) draftRequest(actor domain.User, caps auth.Capabilities, d RequestDraft) (domain.ServiceRequest, error) {
	if d.Type == "" {
		d.Type = domain.RequestTechnical
		if actor.Role == domain.RoleConveyance {
			d.Type = domain.RequestConveyance
		}
	}
	if !d.Type.Valid() {
		return domain.ServiceRequest{}, domain.ValidationError{Field: "type", Reason: "unknown request type " + string(d.Type)}
	}
	if !caps.CanSubmit(d.Type) {
		return domain.ServiceRequest{}, forbid(actor, "submit "+string(d.Type)+" requests")
	}
	project := strings.TrimSpace(d.ProjectName)
	if project == "" {
		return domain.ServiceRequest{}, domain.ValidationError{Field: "projectName", Reason: "a project must be selected"}
	}
	if e.projectIndex(project) < 0 {
		return domain.ServiceRequest{}, domain.NotFoundError{Kind: "project", ID: project}
	}
	var name string
	switch d.Type {
	case domain.RequestConveyance:
		if strings.TrimSpace(d.ClientName) == "" {
			return domain.ServiceRequest{}, domain.ValidationError{Field: "clientName", Reason: "required for conveyance requests"}
		}
		name = "إفراغ: " + strings.TrimSpace(d.ClientName)
	default:
		name = strings.TrimSpace(d.ServiceSubType)
		if name == OtherService && strings.TrimSpace(d.OtherServiceDetails) != "" {
			name = strings.TrimSpace(d.OtherServiceDetails)
		}
		if name == "" {
			return domain.ServiceRequest{}, domain.ValidationError{Field: "serviceSubType", Reason: "required for technical requests"}
		}
	}
	ts := e.timestamp()
	return domain.ServiceRequest{
		ID:                  e.newID(),
		Name:                name,
		Type:                d.Type,
		ProjectName:         project,
		Details:             d.Details,
		SubmittedBy:         actor.Name,
		SubmitterID:         actor.ID,
		Role:                actor.Role,
		Status:              initialStatus(d.Type, caps),
		Date:                e.today(),
		History:             []domain.HistoryEntry{{Action: domain.ActionCreated, By: actor.Name, Role: actor.Role, Timestamp: ts}},
		ServiceSubType:      d.ServiceSubType,
		OtherServiceDetails: d.OtherServiceDetails,
		Authority:           d.Authority,
		ClientName:          d.ClientName,
		IDNumber:            d.IDNumber,
		PlotNumber:          d.PlotNumber,
		DeedNumber:          d.DeedNumber,
		MobileNumber:        d.MobileNumber,
		Bank:                d.Bank,
		PropertyValue:       d.PropertyValue,
	}, nil
}

// TransitionRequest moves a request along the workflow table. Completing a
// request records one done task on its project when the project still exists.
func (e *Engine) TransitionRequest(ctx context.Context, actor domain.User, id string, to domain.RequestStatus, note string) (domain.ServiceRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	actor, _, err := e.actor(actor)
	if err != nil {
		return domain.ServiceRequest{}, err
	}
	if !to.Valid() {
		return domain.ServiceRequest{}, domain.ValidationError{Field: "status", Reason: "unknown status " + string(to)}
	}
	i := e.requestIndex(id)
	if i < 0 {
		return domain.ServiceRequest{}, domain.NotFoundError{Kind: "request", ID: id}
	}
	r := &e.requests[i]
	from := r.Status
	if !canTransition(*r, actor.Role, to) {
		return domain.ServiceRequest{}, forbid(actor, fmt.Sprintf("move %s request from %s to %s", r.Type, from, to))
	}
	r.Status = to
	r.History = append(r.History, domain.HistoryEntry{
		Action:    domain.StatusAction(to),
		By:        actor.Name,
		Role:      actor.Role,
		Timestamp: e.timestamp(),
		Notes:     note,
	})
	if note != "" {
		if from == domain.StatusPendingFinance {
			r.FinanceNotes = note
		}
		if to == domain.StatusRejected {
			r.RejectionReason = note
		}
	}
	keys := []string{KeyRequests}
	if to == domain.StatusCompleted && e.completeIntoProject(*r) {
		keys = append(keys, KeyProjects)
	}
	e.persist(ctx, events.Action{Type: "request.transitioned", EntityKind: "request", EntityID: id, ActorID: actor.Email,
		Payload: events.EventPayload{"from": from, "to": to}}, keys...)
	return r.Clone(), nil
}

// completeIntoProject prepends the done task for r and reports whether the
// project changed. A missing project is skipped.
func (e *Engine) completeIntoProject(r domain.ServiceRequest) bool {
	pi := e.projectIndex(r.ProjectName)
	if pi < 0 {
		e.Log.Debug("completed request names no project", "request", r.ID, "project", r.ProjectName)
		return false
	}
	taskID := "req-" + r.ID
	if e.projects[pi].TaskIndex(taskID) >= 0 {
		return false
	}
	reviewer := e.Config.Workflow.ConveyanceReviewer
	if r.Type == domain.RequestTechnical {
		reviewer = e.Config.Workflow.TechnicalReviewer
		if r.Authority != "" {
			reviewer = r.Authority
		}
	}
	e.prependTask(pi, domain.Task{
		ID:          taskID,
		Project:     r.ProjectName,
		Description: r.Name,
		Reviewer:    reviewer,
		Requester:   r.SubmittedBy,
		Notes:       r.Details,
		Location:    e.projects[pi].Location,
		Status:      domain.TaskDone,
		Date:        e.today(),
	})
	return true
}

// AddRequestComment appends a comment. The status never changes.
func (e *Engine) AddRequestComment(ctx context.Context, actor domain.User, id, text string) (domain.Comment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	actor, _, err := e.actor(actor)
	if err != nil {
		return domain.Comment{}, err
	}
	i := e.requestIndex(id)
	if i < 0 {
		return domain.Comment{}, domain.NotFoundError{Kind: "request", ID: id}
	}
	c, err := e.newComment(actor, text)
	if err != nil {
		return domain.Comment{}, err
	}
	e.requests[i].Comments = append(e.requests[i].Comments, c)
	e.persist(ctx, events.Action{Type: "request.commented", EntityKind: "request", EntityID: id, ActorID: actor.Email}, KeyRequests)
	return c, nil
}

// RequestFilter narrows ListRequests. Empty fields match everything.
type RequestFilter struct {
	Status  domain.RequestStatus
	Type    domain.RequestType
	Project string
}

// ListRequests returns the requests in the actor's inbox, newest first.
func (e *Engine) ListRequests(ctx context.Context, actor domain.User, f RequestFilter) ([]domain.ServiceRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	actor, caps, err := e.actor(actor)
	if err != nil {
		return nil, err
	}
	out := []domain.ServiceRequest{}
	for _, r := range e.requests {
		if !caps.Sees(actor, r) {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.Type != "" && r.Type != f.Type {
			continue
		}
		if f.Project != "" && r.ProjectName != f.Project {
			continue
		}
		out = append(out, r.Clone())
	}
	return out, nil
}

// GetRequest returns one request with the transitions open to the actor.
func (e *Engine) GetRequest(ctx context.Context, actor domain.User, id string) (domain.ServiceRequest, []domain.RequestStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	actor, caps, err := e.actor(actor)
	if err != nil {
		return domain.ServiceRequest{}, nil, err
	}
	i := e.requestIndex(id)
	if i < 0 {
		return domain.ServiceRequest{}, nil, domain.NotFoundError{Kind: "request", ID: id}
	}
	r := e.requests[i]
	if !caps.Sees(actor, r) && !caps.ReviewPR {
		return domain.ServiceRequest{}, nil, forbid(actor, "view this request")
	}
	return r.Clone(), AllowedTransitions(r, actor.Role), nil
}
