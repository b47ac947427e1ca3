package server

import (
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/domain"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/engine"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/engine/auth"
)

// Request payloads

type LoginRequest struct {
	Email    string `json:"email" format:"email" example:"admin@dar.sa"`
	Password string `json:"password" minLength:"1"`
}

type CreateProjectRequest struct {
	Name     string                 `json:"name" minLength:"1"`
	Location string                 `json:"location,omitempty"`
	ImageURL string                 `json:"imageUrl,omitempty"`
	Details  *domain.ProjectDetails `json:"details,omitempty"`
}

type UpdateProjectRequest struct {
	Location *string                `json:"location,omitempty"`
	ImageURL *string                `json:"imageUrl,omitempty"`
	Details  *domain.ProjectDetails `json:"details,omitempty"`
}

type CreateTaskRequest struct {
	Description string `json:"description" minLength:"1"`
	Reviewer    string `json:"reviewer,omitempty"`
	Requester   string `json:"requester,omitempty"`
	Notes       string `json:"notes,omitempty"`
	Location    string `json:"location,omitempty"`
	Status      string `json:"status,omitempty" enum:"متابعة,منجز"`
	Date        string `json:"date,omitempty" format:"date"`
}

type UpdateTaskRequest struct {
	Description *string `json:"description,omitempty"`
	Reviewer    *string `json:"reviewer,omitempty"`
	Requester   *string `json:"requester,omitempty"`
	Notes       *string `json:"notes,omitempty"`
	Location    *string `json:"location,omitempty"`
	Status      *string `json:"status,omitempty" enum:"متابعة,منجز"`
	Date        *string `json:"date,omitempty" format:"date"`
}

type CommentRequest struct {
	Text string `json:"text" minLength:"1"`
}

type CreateServiceRequest struct {
	Type        domain.RequestType `json:"type,omitempty" enum:"technical,conveyance"`
	ProjectName string             `json:"projectName"`
	Details     string             `json:"details,omitempty"`

	ServiceSubType      string `json:"serviceSubType,omitempty"`
	OtherServiceDetails string `json:"otherServiceDetails,omitempty"`
	Authority           string `json:"authority,omitempty"`

	ClientName    string `json:"clientName,omitempty"`
	IDNumber      string `json:"idNumber,omitempty"`
	PlotNumber    string `json:"plotNumber,omitempty"`
	DeedNumber    string `json:"deedNumber,omitempty"`
	MobileNumber  string `json:"mobileNumber,omitempty"`
	Bank          string `json:"bank,omitempty"`
	PropertyValue string `json:"propertyValue,omitempty"`
}

type TransitionRequest struct {
	Status domain.RequestStatus `json:"status" enum:"new,pending_finance,pending_pr,revision,completed,rejected"`
	Note   string               `json:"note,omitempty"`
}

type ImportRowsRequest struct {
	Rows []map[string]string `json:"rows"`
}

type CreateUserRequest struct {
	Name     string      `json:"name" minLength:"1"`
	Email    string      `json:"email" format:"email"`
	Role     domain.Role `json:"role,omitempty" enum:"ADMIN,PR_MANAGER,PR_OFFICER,FINANCE,TECHNICAL,CONVEYANCE"`
	Password string      `json:"password" minLength:"1"`
}

type SetRoleRequest struct {
	Role domain.Role `json:"role" enum:"ADMIN,PR_MANAGER,PR_OFFICER,FINANCE,TECHNICAL,CONVEYANCE"`
}

// Response payloads

type SessionResponse struct {
	User         domain.User       `json:"user"`
	Capabilities auth.Capabilities `json:"capabilities"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt" format:"date-time"`
	SessionResponse
}

type RequestDetailResponse struct {
	Request            domain.ServiceRequest  `json:"request"`
	AllowedTransitions []domain.RequestStatus `json:"allowedTransitions"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func (r CreateServiceRequest) draft() engine.RequestDraft {
	return engine.RequestDraft{
		Type:                r.Type,
		ProjectName:         r.ProjectName,
		Details:             r.Details,
		ServiceSubType:      r.ServiceSubType,
		OtherServiceDetails: r.OtherServiceDetails,
		Authority:           r.Authority,
		ClientName:          r.ClientName,
		IDNumber:            r.IDNumber,
		PlotNumber:          r.PlotNumber,
		DeedNumber:          r.DeedNumber,
		MobileNumber:        r.MobileNumber,
		Bank:                r.Bank,
		PropertyValue:       r.PropertyValue,
	}
}

func (r CreateTaskRequest) draft() engine.TaskDraft {
	return engine.TaskDraft{
		Description: r.Description,
		Reviewer:    r.Reviewer,
		Requester:   r.Requester,
		Notes:       r.Notes,
		Location:    r.Location,
		Status:      r.Status,
		Date:        r.Date,
	}
}

func (r UpdateTaskRequest) patch() engine.TaskPatch {
	return engine.TaskPatch{
		Description: r.Description,
		Reviewer:    r.Reviewer,
		Requester:   r.Requester,
		Notes:       r.Notes,
		Location:    r.Location,
		Status:      r.Status,
		Date:        r.Date,
	}
}

func rawRows(rows []map[string]string) []engine.RawRow {
	out := make([]engine.RawRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, engine.RawRow(r))
	}
	return out
}
